package query

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/kartikbazzad/docdb/internal/btree"
	"github.com/kartikbazzad/docdb/internal/document"
	"github.com/kartikbazzad/docdb/internal/indexmgr"
	"github.com/kartikbazzad/docdb/internal/logger"
	"github.com/kartikbazzad/docdb/internal/txn"
)

// Scanner is the subset of store.Store the executor needs to produce a
// collection-scan access path, kept as an interface so this package never
// imports store directly.
type Scanner interface {
	Scan(collection string, fn func(*document.Document) bool) error
}

// Engine selects an access path per spec.md §4.7's executor steps (index
// selection, row production, residual filter, sort, skip/limit, project)
// and runs it against one collection.
type Engine struct {
	store Scanner
	idx   *indexmgr.Manager
	coord *txn.Coordinator
	log   *logger.Logger
}

// NewEngine wires coord into the executor so Find can honor spec.md §2's
// "queries bypass WAL but still pass through the lock manager" rule: coord
// may be nil in tests that exercise row production without a transaction.
func NewEngine(store Scanner, idx *indexmgr.Manager, coord *txn.Coordinator, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Default()
	}
	return &Engine{store: store, idx: idx, coord: coord, log: log.With(logger.F("component", "query"))}
}

// selectIndex implements step 1: prefer the compound index whose every
// field has a bound top-level equality conjunct, choosing the one covering
// the most fields (the most selective exact match) when several qualify.
func (e *Engine) selectIndex(collection string, filter *Predicate) (indexmgr.Definition, map[string]interface{}, bool) {
	equalities := collectEqualities(filter)
	if len(equalities) == 0 {
		return indexmgr.Definition{}, nil, false
	}

	best := indexmgr.Definition{}
	found := false
	for _, def := range e.idx.Indexes(collection) {
		if len(def.Fields) == 0 {
			continue
		}
		covered := true
		for _, f := range def.Fields {
			if _, ok := equalities[f]; !ok {
				covered = false
				break
			}
		}
		if covered && (!found || len(def.Fields) > len(best.Fields)) {
			best = def
			found = true
		}
	}
	return best, equalities, found
}

// collectEqualities walks filter's top-level $and conjuncts and returns the
// set of fields bound to an exact $eq value.
func collectEqualities(filter *Predicate) map[string]interface{} {
	out := map[string]interface{}{}
	var walk func(p *Predicate)
	walk = func(p *Predicate) {
		if p == nil {
			return
		}
		if p.Op == OpAnd {
			for _, c := range p.Children {
				walk(c)
			}
			return
		}
		if p.Op == OpEq && p.Field != "" {
			out[p.Field] = p.Value
		}
	}
	walk(filter)
	return out
}

// Find executes q against collection, returning rows already sorted/
// skipped/limited/projected per spec.md §4.7 steps 4-6. tx, when non-nil,
// is the transaction (implicit or caller-supplied) the router opened
// around this query; Find uses it to take the same per-document Shared
// locks Coordinator.Read takes for GET, plus a collection range lock when
// tx's isolation is Serializable, per spec.md §2/§4.6.
func (e *Engine) Find(ctx context.Context, tx *txn.Tx, collection string, q Query) ([]Row, error) {
	if e.coord != nil && tx != nil {
		if err := e.coord.LockRange(tx, collection); err != nil {
			return nil, err
		}
	}

	docs, err := e.produceCandidates(collection, q.Filter)
	if err != nil {
		return nil, err
	}

	// Residual filter: re-apply the full predicate, since an index probe
	// only narrows by the equality fields the index covers and may admit documents
	// the remaining conjuncts exclude.
	filtered := make([]*document.Document, 0, len(docs))
	for _, d := range docs {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		ok, err := q.Filter.Match(d)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if e.coord != nil && tx != nil {
			if err := e.coord.LockRead(tx, collection, d.ID); err != nil {
				return nil, err
			}
		}
		filtered = append(filtered, d)
	}

	if len(q.Sort) > 0 {
		sortDocuments(filtered, q.Sort)
	} else {
		sort.Slice(filtered, func(i, j int) bool { return filtered[i].ID < filtered[j].ID })
	}

	if q.Skip > 0 {
		if q.Skip >= len(filtered) {
			filtered = nil
		} else {
			filtered = filtered[q.Skip:]
		}
	}
	if q.Limit > 0 && len(filtered) > q.Limit {
		filtered = filtered[:q.Limit]
	}

	rows := make([]Row, 0, len(filtered))
	for _, d := range filtered {
		projected, err := project(d, q.Projection)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(projected)
		if err != nil {
			return nil, err
		}
		rows = append(rows, Row{DocID: d.ID, Payload: payload})
	}
	return rows, nil
}

// produceCandidates implements steps 1-2: pick an index if equality
// conjuncts bind every one of its fields, else fall back to a full
// collection scan.
func (e *Engine) produceCandidates(collection string, filter *Predicate) ([]*document.Document, error) {
	if e.idx != nil {
		if def, equalities, ok := e.selectIndex(collection, filter); ok {
			if key, ok := indexmgr.BuildEqualityKey(def, equalities); ok {
				if tree, _, ok := e.idx.Tree(collection, def.Name); ok {
					return e.fetchByIndex(collection, tree, key)
				}
			}
		}
	}

	var docs []*document.Document
	err := e.store.Scan(collection, func(d *document.Document) bool {
		docs = append(docs, d)
		return true
	})
	return docs, err
}

func (e *Engine) fetchByIndex(collection string, tree *btree.Tree, key btree.Key) ([]*document.Document, error) {
	ids := tree.Search(key)
	if len(ids) == 0 {
		return nil, nil
	}
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	docs := make([]*document.Document, 0, len(ids))
	err := e.store.Scan(collection, func(d *document.Document) bool {
		if wanted[d.ID] {
			docs = append(docs, d)
		}
		return true
	})
	return docs, err
}

func sortDocuments(docs []*document.Document, specs []OrderSpec) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, s := range specs {
			lv, _ := document.LookupPath(docs[i].Data, s.Field)
			rv, _ := document.LookupPath(docs[j].Data, s.Field)
			cmp := compareOrdered(lv, rv)
			if cmp == 0 {
				continue
			}
			if s.Asc {
				return cmp < 0
			}
			return cmp > 0
		}
		return docs[i].ID < docs[j].ID
	})
}

// project builds a fresh document tree per spec.md §4.7's projection-purity
// requirement: stored documents are never mutated, and the result shares no
// mutable subtree with them.
func project(d *document.Document, p *Projection) (map[string]interface{}, error) {
	clone, err := d.Clone()
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{}
	for k, v := range clone.Data {
		out[k] = v
	}
	out["_id"] = clone.ID

	if p == nil {
		return out, nil
	}
	if len(p.Include) > 0 {
		projected := map[string]interface{}{}
		for k := range p.Include {
			if v, ok := out[k]; ok {
				projected[k] = v
			}
		}
		if !p.DropID {
			projected["_id"] = out["_id"]
		}
		return projected, nil
	}
	if len(p.Exclude) > 0 {
		for k := range p.Exclude {
			delete(out, k)
		}
	}
	return out, nil
}
