package btree

import (
	"fmt"
	"math/rand"
	"testing"
)

func keyOf(n int) Key {
	return Key(fmt.Sprintf("%08d", n))
}

func TestInsertSearch(t *testing.T) {
	tr := New(4, false)
	for i := 0; i < 200; i++ {
		if err := tr.Insert(keyOf(i), fmt.Sprintf("doc-%d", i)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	for i := 0; i < 200; i++ {
		ids := tr.Search(keyOf(i))
		if len(ids) != 1 || ids[0] != fmt.Sprintf("doc-%d", i) {
			t.Fatalf("search %d: got %v", i, ids)
		}
	}
}

func TestUniqueDuplicateRejected(t *testing.T) {
	tr := New(4, true)
	if err := tr.Insert(keyOf(1), "a"); err != nil {
		t.Fatal(err)
	}
	if err := tr.Insert(keyOf(1), "b"); err != ErrDuplicateKey {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestNonUniqueMultipleDocsPerKey(t *testing.T) {
	tr := New(4, false)
	tr.Insert(keyOf(1), "a")
	tr.Insert(keyOf(1), "b")
	tr.Insert(keyOf(1), "c")
	ids := tr.Search(keyOf(1))
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %v", ids)
	}
}

func TestRangeScanOrdered(t *testing.T) {
	tr := New(5, false)
	n := 500
	perm := rand.New(rand.NewSource(1)).Perm(n)
	for _, i := range perm {
		tr.Insert(keyOf(i), fmt.Sprintf("doc-%d", i))
	}
	res := tr.RangeScan(keyOf(100), keyOf(200))
	if len(res) != 101 {
		t.Fatalf("expected 101 entries, got %d", len(res))
	}
	for i, e := range res {
		want := keyOf(100 + i)
		if compareKeys(e.Key, want) != 0 {
			t.Fatalf("out of order at %d: got %s want %s", i, e.Key, want)
		}
	}
}

// TestInsertDeleteEmpties exercises the boundary property from spec.md §8:
// an order-3 tree populated with 10,000 random keys and drained in reverse
// insertion order ends up empty with height 0, verifying real borrow/merge
// rebalancing rather than lazy deletion.
func TestInsertDeleteEmpties(t *testing.T) {
	const n = 10000
	tr := New(3, true)

	rng := rand.New(rand.NewSource(42))
	keys := rng.Perm(n)
	for _, k := range keys {
		if err := tr.Insert(keyOf(k), fmt.Sprintf("doc-%d", k)); err != nil {
			t.Fatalf("insert %d: %v", k, err)
		}
	}
	if got := tr.Count(); got != n {
		t.Fatalf("expected %d entries after insert, got %d", n, got)
	}

	for i := len(keys) - 1; i >= 0; i-- {
		k := keys[i]
		if err := tr.Delete(keyOf(k), fmt.Sprintf("doc-%d", k)); err != nil {
			t.Fatalf("delete %d: %v", k, err)
		}
	}

	if got := tr.Count(); got != 0 {
		t.Fatalf("expected tree empty, got %d entries", got)
	}
	if h := tr.Height(); h != 0 {
		t.Fatalf("expected height 0 on empty tree, got %d", h)
	}
}

func TestDeleteNotFound(t *testing.T) {
	tr := New(4, false)
	tr.Insert(keyOf(1), "a")
	if err := tr.Delete(keyOf(2), "a"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := tr.Delete(keyOf(1), "b"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRandomInsertDeleteMixed(t *testing.T) {
	tr := New(4, false)
	rng := rand.New(rand.NewSource(7))
	present := map[int]bool{}

	for round := 0; round < 5000; round++ {
		k := rng.Intn(300)
		if present[k] {
			if err := tr.Delete(keyOf(k), "x"); err != nil {
				t.Fatalf("delete %d: %v", k, err)
			}
			present[k] = false
		} else {
			if err := tr.Insert(keyOf(k), "x"); err != nil {
				t.Fatalf("insert %d: %v", k, err)
			}
			present[k] = true
		}
	}

	want := 0
	for _, v := range present {
		if v {
			want++
		}
	}
	if got := tr.Count(); got != want {
		t.Fatalf("count mismatch: got %d want %d", got, want)
	}
}
