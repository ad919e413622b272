package store

import (
	"testing"
	"time"

	"github.com/kartikbazzad/docdb/internal/document"
	"github.com/kartikbazzad/docdb/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(Options{DataPath: dir, NumShards: 4, WriteWorkers: 2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestInsertGetDelete(t *testing.T) {
	s := newTestStore(t)
	if err := s.EnsureCollection("orders"); err != nil {
		t.Fatal(err)
	}

	doc := document.New("a1", map[string]interface{}{"qty": 3.0})
	if err := s.Insert("orders", doc); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get("orders", "a1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Data["qty"] != 3.0 {
		t.Fatalf("unexpected data: %v", got.Data)
	}

	if err := s.Delete("orders", "a1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get("orders", "a1"); err != errors.ErrDocNotFound {
		t.Fatalf("expected ErrDocNotFound, got %v", err)
	}
}

func TestInsertDuplicateRejected(t *testing.T) {
	s := newTestStore(t)
	s.EnsureCollection("orders")
	doc := document.New("a1", map[string]interface{}{"qty": 1.0})
	if err := s.Insert("orders", doc); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert("orders", document.New("a1", map[string]interface{}{"qty": 2.0})); err != errors.ErrDocExists {
		t.Fatalf("expected ErrDocExists, got %v", err)
	}
}

func TestPersistenceSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(Options{DataPath: dir, NumShards: 4, WriteWorkers: 2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	s1.EnsureCollection("orders")
	s1.Insert("orders", document.New("a1", map[string]interface{}{"qty": 5.0}))
	s1.Close()

	s2, err := Open(Options{DataPath: dir, NumShards: 4, WriteWorkers: 2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	if err := s2.LoadAll("orders"); err != nil {
		t.Fatal(err)
	}
	got, err := s2.Get("orders", "a1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Data["qty"] != 5.0 {
		t.Fatalf("unexpected reloaded data: %v", got.Data)
	}
}

func TestPersistAsync(t *testing.T) {
	s := newTestStore(t)
	s.EnsureCollection("orders")
	doc := document.New("a1", map[string]interface{}{"qty": 1.0})

	sh := func() chan error {
		ch := make(chan error, 1)
		s.PersistAsync("orders", doc, func(err error) { ch <- err })
		return ch
	}()

	select {
	case err := <-sh:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for async persist")
	}
}

func TestScan(t *testing.T) {
	s := newTestStore(t)
	s.EnsureCollection("orders")
	for i := 0; i < 10; i++ {
		s.Insert("orders", document.New(string(rune('a'+i)), map[string]interface{}{"i": float64(i)}))
	}

	count := 0
	s.Scan("orders", func(d *document.Document) bool {
		count++
		return true
	})
	if count != 10 {
		t.Fatalf("expected 10 scanned docs, got %d", count)
	}
}

func TestDropCollection(t *testing.T) {
	s := newTestStore(t)
	s.EnsureCollection("orders")
	s.Insert("orders", document.New("a1", map[string]interface{}{}))
	if err := s.DropCollection("orders"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get("orders", "a1"); err != errors.ErrCollectionNotFound {
		t.Fatalf("expected ErrCollectionNotFound, got %v", err)
	}
}
