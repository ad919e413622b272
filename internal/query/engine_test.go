package query

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/kartikbazzad/docdb/internal/document"
	"github.com/kartikbazzad/docdb/internal/indexmgr"
)

// fakeStore is a minimal Scanner backed by an in-memory slice, for exercising
// the executor without pulling in the full store package.
type fakeStore struct {
	docs map[string][]*document.Document
}

func (f *fakeStore) Scan(collection string, fn func(*document.Document) bool) error {
	for _, d := range f.docs[collection] {
		if !fn(d) {
			break
		}
	}
	return nil
}

func newFakeStore(docs ...*document.Document) *fakeStore {
	return &fakeStore{docs: map[string][]*document.Document{"orders": docs}}
}

func TestFindCollectionScanFilterSortLimit(t *testing.T) {
	docs := []*document.Document{
		document.New("a1", map[string]interface{}{"qty": 3.0, "status": "open"}),
		document.New("a2", map[string]interface{}{"qty": 1.0, "status": "open"}),
		document.New("a3", map[string]interface{}{"qty": 2.0, "status": "closed"}),
	}
	st := newFakeStore(docs...)
	idx := indexmgr.New(0, nil)
	e := NewEngine(st, idx, nil, nil)

	filter := mustParse(t, map[string]interface{}{"status": "open"})
	q := Query{Filter: filter, Sort: []OrderSpec{{Field: "qty", Asc: true}}}

	rows, err := e.Find(context.Background(), nil, "orders", q)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].DocID != "a2" || rows[1].DocID != "a1" {
		t.Fatalf("expected ascending qty order a2,a1, got %s,%s", rows[0].DocID, rows[1].DocID)
	}
}

func TestFindUsesIndexForEqualityFilter(t *testing.T) {
	docs := []*document.Document{
		document.New("a1", map[string]interface{}{"sku": "X"}),
		document.New("a2", map[string]interface{}{"sku": "Y"}),
	}
	st := newFakeStore(docs...)
	idx := indexmgr.New(0, nil)
	idx.CreateIndex("orders", indexmgr.Definition{Name: "by_sku", Fields: []string{"sku"}, Order: 4})
	idx.OnInsert("orders", docs[0])
	idx.OnInsert("orders", docs[1])

	e := NewEngine(st, idx, nil, nil)
	filter := mustParse(t, map[string]interface{}{"sku": "Y"})
	rows, err := e.Find(context.Background(), nil, "orders", Query{Filter: filter})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].DocID != "a2" {
		t.Fatalf("expected single row a2, got %+v", rows)
	}
}

func TestFindProjectionExcludesField(t *testing.T) {
	docs := []*document.Document{
		document.New("a1", map[string]interface{}{"qty": 1.0, "secret": "hidden"}),
	}
	st := newFakeStore(docs...)
	idx := indexmgr.New(0, nil)
	e := NewEngine(st, idx, nil, nil)

	filter := mustParse(t, map[string]interface{}{})
	q := Query{Filter: filter, Projection: &Projection{Exclude: map[string]bool{"secret": true}}}
	rows, err := e.Find(context.Background(), nil, "orders", q)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(rows[0].Payload, &out); err != nil {
		t.Fatal(err)
	}
	if _, ok := out["secret"]; ok {
		t.Fatal("expected secret field to be excluded from projection")
	}
	if out["qty"] != 1.0 {
		t.Fatalf("expected qty preserved, got %v", out)
	}
}
