package indexmgr

import (
	"testing"
	"time"

	"github.com/kartikbazzad/docdb/internal/document"
	"github.com/kartikbazzad/docdb/internal/errors"
)

func TestCreateIndexAndLookup(t *testing.T) {
	m := New(time.Hour, nil)
	if err := m.CreateIndex("orders", Definition{Name: "by_sku", Fields: []string{"sku"}, Order: 4}); err != nil {
		t.Fatal(err)
	}

	doc := document.New("a1", map[string]interface{}{"sku": "SKU-1"})
	if err := m.OnInsert("orders", doc); err != nil {
		t.Fatal(err)
	}

	tree, _, ok := m.Tree("orders", "by_sku")
	if !ok {
		t.Fatal("expected index tree")
	}
	if tree.Count() != 1 {
		t.Fatalf("expected 1 entry, got %d", tree.Count())
	}
}

func TestUniqueIndexRejectsDuplicate(t *testing.T) {
	m := New(time.Hour, nil)
	m.CreateIndex("orders", Definition{Name: "by_sku", Fields: []string{"sku"}, Unique: true, Order: 4})

	m.OnInsert("orders", document.New("a1", map[string]interface{}{"sku": "SKU-1"}))
	err := m.OnInsert("orders", document.New("a2", map[string]interface{}{"sku": "SKU-1"}))
	if err == nil {
		t.Fatal("expected duplicate key error")
	}
	var e *errors.Error
	if !errors.As(err, &e) || e.Code != errors.CodeDuplicateKey {
		t.Fatalf("expected CodeDuplicateKey, got %v", err)
	}
}

func TestSparseIndexSkipsMissingField(t *testing.T) {
	m := New(time.Hour, nil)
	m.CreateIndex("orders", Definition{Name: "by_sku", Fields: []string{"sku"}, Sparse: true, Order: 4})

	m.OnInsert("orders", document.New("a1", map[string]interface{}{"other": "x"}))
	tree, _, _ := m.Tree("orders", "by_sku")
	if tree.Count() != 0 {
		t.Fatalf("expected sparse index to skip doc missing field, got count %d", tree.Count())
	}
}

func TestOnUpdateMovesKey(t *testing.T) {
	m := New(time.Hour, nil)
	m.CreateIndex("orders", Definition{Name: "by_sku", Fields: []string{"sku"}, Order: 4})

	before := document.New("a1", map[string]interface{}{"sku": "OLD"})
	m.OnInsert("orders", before)

	after := document.New("a1", map[string]interface{}{"sku": "NEW"})
	if err := m.OnUpdate("orders", before, after); err != nil {
		t.Fatal(err)
	}

	tree, _, _ := m.Tree("orders", "by_sku")
	if tree.Count() != 1 {
		t.Fatalf("expected 1 entry after update, got %d", tree.Count())
	}
}

func TestOnDeleteRemovesKey(t *testing.T) {
	m := New(time.Hour, nil)
	m.CreateIndex("orders", Definition{Name: "by_sku", Fields: []string{"sku"}, Order: 4})

	doc := document.New("a1", map[string]interface{}{"sku": "X"})
	m.OnInsert("orders", doc)
	if err := m.OnDelete("orders", doc); err != nil {
		t.Fatal(err)
	}
	tree, _, _ := m.Tree("orders", "by_sku")
	if tree.Count() != 0 {
		t.Fatalf("expected empty index after delete, got %d", tree.Count())
	}
}
