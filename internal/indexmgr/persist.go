package indexmgr

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// CatalogStore persists index definitions (names, fields, flags — never
// B-tree contents) to a per-collection file, so a restart can recreate
// empty index structures from disk and then repopulate them by scanning
// the document store, per spec.md §9's explicit optional index-persistence
// note. Grounded on the teacher's internal/catalog/catalog.go Catalog: an
// append-only-then-compact durability shape, simplified here to an
// overwrite-on-change file since the whole definition set (unlike
// catalog.go's unbounded database list) is small enough to rewrite in one
// shot on every Create/Drop.
type CatalogStore struct {
	mu       sync.Mutex
	dataPath string
}

func NewCatalogStore(dataPath string) *CatalogStore {
	return &CatalogStore{dataPath: dataPath}
}

func (c *CatalogStore) path(collection string) string {
	return filepath.Join(c.dataPath, collection, "_indexes.json")
}

// Save overwrites the persisted definition set for collection.
func (c *CatalogStore) Save(collection string, defs []Definition) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dir := filepath.Join(c.dataPath, collection)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(defs, "", "  ")
	if err != nil {
		return err
	}

	tmp := c.path(collection) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.path(collection))
}

// Load reads a collection's persisted index definitions, returning an
// empty slice (not an error) if no catalog file exists yet.
func (c *CatalogStore) Load(collection string) ([]Definition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path(collection))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var defs []Definition
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, err
	}
	return defs, nil
}

// Rebuild loads every collection's persisted definitions and recreates the
// (empty) index structures on m; the caller is responsible for the
// subsequent document scan that repopulates entries (cmd/docdb does it
// with store.Scan and OnInsert).
func (m *Manager) Rebuild(store *CatalogStore, collections []string) error {
	for _, coll := range collections {
		defs, err := store.Load(coll)
		if err != nil {
			return err
		}
		for _, def := range defs {
			if err := m.CreateIndex(coll, def); err != nil {
				return err
			}
		}
	}
	return nil
}
