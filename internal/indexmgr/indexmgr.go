// Package indexmgr implements the collection-scoped index registry of
// spec.md §4.3: named B-tree indexes kept in sync with store mutations
// through on_insert/on_update/on_delete hooks, plus a TTL sweeper.
//
// Grounded on the teacher's internal/docdb/index.go for the
// registry-of-shards idiom (generalized here to a registry of named
// btree.Tree instances) and internal/docdb/healer.go for the
// ticker-goroutine shape, repurposed from "heal corrupt documents" to
// "sweep TTL-expired documents".
package indexmgr

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kartikbazzad/docdb/internal/btree"
	"github.com/kartikbazzad/docdb/internal/document"
	"github.com/kartikbazzad/docdb/internal/errors"
	"github.com/kartikbazzad/docdb/internal/logger"
)

// Definition describes how an index derives its key(s) from a document
// and how it should enforce uniqueness/sparseness/TTL semantics.
type Definition struct {
	Name    string
	Fields  []string // compound key field order; the query planner uses the index only when every field is bound by equality
	Unique  bool
	Sparse  bool // documents missing every field are excluded rather than indexed under a null key
	TTL     *TTLOptions
	Order   int
}

// TTLOptions enables expiry on a single-field index: documents with a
// qualifying timestamp field older than Expire are swept and deleted.
type TTLOptions struct {
	Field  string
	Expire time.Duration
}

type index struct {
	def  Definition
	tree *btree.Tree
}

// collectionIndexes is the set of indexes registered on one collection.
type collectionIndexes struct {
	mu      sync.RWMutex
	indexes map[string]*index
}

// Deleter describes a TTL-aware delete target. Nothing in this package
// uses it: the TTL sweeper deletes through the callback its caller
// supplies, and store.Store does not implement it (its Delete takes only a
// collection and a document id).
type Deleter interface {
	Delete(collection, docID, field string, expire time.Duration) error
}

// Manager owns every collection's index set.
type Manager struct {
	mu          sync.RWMutex
	collections map[string]*collectionIndexes
	log         *logger.Logger

	sweepInterval time.Duration
	stopCh        chan struct{}
	sweepFn       func(collection, docID string) error

	catalog *CatalogStore // optional; persists definitions across restarts
}

// SetCatalogStore attaches the definition-persistence layer; subsequent
// CreateIndex/DropIndex calls keep its on-disk state in sync.
func (m *Manager) SetCatalogStore(store *CatalogStore) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalog = store
}

func (m *Manager) persist(collection string) {
	m.mu.RLock()
	store := m.catalog
	m.mu.RUnlock()
	if store == nil {
		return
	}
	if err := store.Save(collection, m.Indexes(collection)); err != nil {
		m.log.Warn("failed to persist index catalog for %q: %v", collection, err)
	}
}

func New(sweepInterval time.Duration, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	return &Manager{
		collections:   make(map[string]*collectionIndexes),
		log:           log.With(logger.F("component", "indexmgr")),
		sweepInterval: sweepInterval,
		stopCh:        make(chan struct{}),
	}
}

// OnExpire registers the callback invoked with (collection, docID) for
// every document the TTL sweeper finds past its expiry. The caller
// (typically the transaction coordinator, running a system transaction)
// performs the actual delete so it goes through the normal WAL/lock path.
func (m *Manager) OnExpire(fn func(collection, docID string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepFn = fn
}

func (m *Manager) getOrCreateCollection(name string) *collectionIndexes {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[name]
	if !ok {
		c = &collectionIndexes{indexes: make(map[string]*index)}
		m.collections[name] = c
	}
	return c
}

// CreateIndex registers a new index on collection, per def.
func (m *Manager) CreateIndex(collection string, def Definition) error {
	if def.Order < 3 {
		def.Order = 16
	}
	c := m.getOrCreateCollection(collection)

	c.mu.Lock()
	if _, exists := c.indexes[def.Name]; exists {
		c.mu.Unlock()
		return errors.New(errors.CodeValidationError, fmt.Sprintf("index %q already exists on collection %q", def.Name, collection))
	}
	c.indexes[def.Name] = &index{def: def, tree: btree.New(def.Order, def.Unique)}
	c.mu.Unlock()

	m.persist(collection)
	return nil
}

// DropIndex removes a previously registered index.
func (m *Manager) DropIndex(collection, name string) error {
	c := m.getOrCreateCollection(collection)
	c.mu.Lock()
	if _, ok := c.indexes[name]; !ok {
		c.mu.Unlock()
		return errors.NotFound(fmt.Sprintf("index %q", name))
	}
	delete(c.indexes, name)
	c.mu.Unlock()

	m.persist(collection)
	return nil
}

// Indexes returns the index definitions registered on collection, used by
// the query planner for access-path selection.
func (m *Manager) Indexes(collection string) []Definition {
	c := m.getOrCreateCollection(collection)
	c.mu.RLock()
	defer c.mu.RUnlock()

	defs := make([]Definition, 0, len(c.indexes))
	for _, idx := range c.indexes {
		defs = append(defs, idx.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Tree returns the underlying B-tree for an index, for the query
// executor's index-range scan path.
func (m *Manager) Tree(collection, indexName string) (*btree.Tree, Definition, bool) {
	c := m.getOrCreateCollection(collection)
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.indexes[indexName]
	if !ok {
		return nil, Definition{}, false
	}
	return idx.tree, idx.def, true
}

// keyFor builds a compound key for def out of doc's data, returning
// ok=false when a sparse index's document is missing every indexed field.
// Fields are field_paths (spec.md §3): dotted segments resolve through
// nested objects via document.LookupPath, same as the query predicate
// evaluator.
func keyFor(def Definition, doc *document.Document) (btree.Key, bool) {
	values := make(map[string]interface{}, len(def.Fields))
	anyPresent := false
	for _, f := range def.Fields {
		if v, ok := document.LookupPath(doc.Data, f); ok {
			anyPresent = true
			values[f] = v
		}
	}
	if def.Sparse && !anyPresent {
		return nil, false
	}
	return buildKey(def.Fields, values), true
}

// buildKey is the shared key-encoding used both when indexing a document
// (keyFor, missing fields encoded as a null sentinel) and when the query
// executor probes an index with a fully-bound equality tuple
// (BuildEqualityKey, which requires every field present).
func buildKey(fields []string, values map[string]interface{}) btree.Key {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if v, ok := values[f]; ok {
			parts = append(parts, fmt.Sprintf("%v", v))
		} else {
			parts = append(parts, "\x00null\x00")
		}
	}
	return btree.Key(fmt.Sprintf("%v", parts))
}

// BuildEqualityKey builds the probe key an index lookup uses when every one
// of def's fields has a bound equality value, for the query executor's
// index-selection path (spec.md §4.7 step 1). Returns ok=false if any field
// is missing from values.
func BuildEqualityKey(def Definition, values map[string]interface{}) (btree.Key, bool) {
	for _, f := range def.Fields {
		if _, ok := values[f]; !ok {
			return nil, false
		}
	}
	return buildKey(def.Fields, values), true
}

// OnInsert updates every index registered on collection for a newly
// inserted document.
func (m *Manager) OnInsert(collection string, doc *document.Document) error {
	c := m.getOrCreateCollection(collection)
	c.mu.RLock()
	indexes := make([]*index, 0, len(c.indexes))
	for _, idx := range c.indexes {
		indexes = append(indexes, idx)
	}
	c.mu.RUnlock()

	applied := make([]*index, 0, len(indexes))
	for _, idx := range indexes {
		key, ok := keyFor(idx.def, doc)
		if !ok {
			continue
		}
		if err := idx.tree.Insert(key, doc.ID); err != nil {
			for _, done := range applied {
				if k, ok := keyFor(done.def, doc); ok {
					done.tree.Delete(k, doc.ID)
				}
			}
			if err == btree.ErrDuplicateKey {
				return errors.DuplicateKey(fmt.Sprintf("index %q", idx.def.Name))
			}
			return err
		}
		applied = append(applied, idx)
	}
	return nil
}

// OnUpdate removes before's key entries and inserts after's, for every
// registered index, whether or not its indexed fields changed.
func (m *Manager) OnUpdate(collection string, before, after *document.Document) error {
	if err := m.OnDelete(collection, before); err != nil {
		return err
	}
	return m.OnInsert(collection, after)
}

// OnDelete removes doc's entries from every registered index.
func (m *Manager) OnDelete(collection string, doc *document.Document) error {
	c := m.getOrCreateCollection(collection)
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, idx := range c.indexes {
		key, ok := keyFor(idx.def, doc)
		if !ok {
			continue
		}
		if err := idx.tree.Delete(key, doc.ID); err != nil && err != btree.ErrNotFound {
			return err
		}
	}
	return nil
}

// Start launches the TTL sweeper goroutine.
func (m *Manager) Start(ctx context.Context, scanner func(collection string) []*document.Document) {
	go m.sweepLoop(ctx, scanner)
}

func (m *Manager) Stop() {
	close(m.stopCh)
}

func (m *Manager) sweepLoop(ctx context.Context, scanner func(collection string) []*document.Document) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweepOnce(scanner)
		}
	}
}

func (m *Manager) sweepOnce(scanner func(collection string) []*document.Document) {
	m.mu.RLock()
	fn := m.sweepFn
	collNames := make([]string, 0, len(m.collections))
	for name := range m.collections {
		collNames = append(collNames, name)
	}
	m.mu.RUnlock()

	if fn == nil {
		return
	}

	for _, coll := range collNames {
		c := m.getOrCreateCollection(coll)
		c.mu.RLock()
		var ttlIdx *index
		for _, idx := range c.indexes {
			if idx.def.TTL != nil {
				ttlIdx = idx
				break
			}
		}
		c.mu.RUnlock()
		if ttlIdx == nil {
			continue
		}

		now := time.Now()
		for _, doc := range scanner(coll) {
			raw, ok := doc.Data[ttlIdx.def.TTL.Field]
			if !ok {
				continue
			}
			ts, ok := parseTimestamp(raw)
			if !ok {
				continue
			}
			if now.Sub(ts) < ttlIdx.def.TTL.Expire {
				continue
			}
			if err := fn(coll, doc.ID); err != nil {
				m.log.Warn("ttl sweep: failed to expire %s/%s: %v", coll, doc.ID, err)
			}
		}
	}
}

func parseTimestamp(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		ts, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return ts, true
	case float64:
		return time.Unix(int64(t), 0), true
	default:
		return time.Time{}, false
	}
}
