package txn

import (
	"context"
	"testing"
	"time"

	"github.com/kartikbazzad/docdb/internal/config"
	"github.com/kartikbazzad/docdb/internal/document"
	"github.com/kartikbazzad/docdb/internal/errors"
	"github.com/kartikbazzad/docdb/internal/indexmgr"
	"github.com/kartikbazzad/docdb/internal/lockmgr"
	"github.com/kartikbazzad/docdb/internal/store"
	"github.com/kartikbazzad/docdb/internal/wal"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *store.Store) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(store.Options{DataPath: dir + "/data", NumShards: 4, WriteWorkers: 2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(st.Close)
	st.EnsureCollection("orders")

	w, err := wal.Open(config.WALConfig{
		Dir:                 dir + "/wal",
		MaxSegmentSizeBytes: 1 << 20,
		Fsync:               config.FsyncConfig{Mode: config.FsyncAlways, IntervalMS: 10, MaxBatchSize: 10},
		Checkpoint:          config.CheckpointConfig{IntervalRecords: 1000},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Close() })

	idx := indexmgr.New(time.Hour, nil)

	lm := lockmgr.New(50*time.Millisecond, nil)
	lm.Start(context.Background())
	t.Cleanup(lm.Stop)

	c := New(lm, w, st, idx, ReadCommitted, time.Second, time.Minute, nil)
	return c, st
}

func TestInsertCommitVisible(t *testing.T) {
	c, st := newTestCoordinator(t)

	tx := c.Begin(ReadCommitted)
	doc := document.New("a1", map[string]interface{}{"qty": 1.0})
	if err := c.Insert(tx, "orders", doc); err != nil {
		t.Fatal(err)
	}
	if err := c.Commit(tx); err != nil {
		t.Fatal(err)
	}

	got, err := st.Get("orders", "a1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Data["qty"] != 1.0 {
		t.Fatalf("unexpected data: %v", got.Data)
	}
	if tx.State() != Committed {
		t.Fatalf("expected Committed, got %v", tx.State())
	}
}

func TestRollbackUndoesInsert(t *testing.T) {
	c, st := newTestCoordinator(t)

	tx := c.Begin(ReadCommitted)
	doc := document.New("a1", map[string]interface{}{"qty": 1.0})
	if err := c.Insert(tx, "orders", doc); err != nil {
		t.Fatal(err)
	}
	if err := c.Rollback(tx); err != nil {
		t.Fatal(err)
	}

	if _, err := st.Get("orders", "a1"); err != errors.ErrDocNotFound {
		t.Fatalf("expected doc to be rolled back, got %v", err)
	}
	if tx.State() != RolledBack {
		t.Fatalf("expected RolledBack, got %v", tx.State())
	}
}

func TestSavepointRollbackToPartial(t *testing.T) {
	c, st := newTestCoordinator(t)

	tx := c.Begin(ReadCommitted)
	c.Insert(tx, "orders", document.New("a1", map[string]interface{}{"v": 1.0}))
	sp := c.Savepoint(tx)
	c.Insert(tx, "orders", document.New("a2", map[string]interface{}{"v": 2.0}))

	if err := c.RollbackTo(tx, sp); err != nil {
		t.Fatal(err)
	}
	if tx.State() != Active {
		t.Fatalf("expected tx to remain Active after partial rollback, got %v", tx.State())
	}

	if _, err := st.Get("orders", "a1"); err != nil {
		t.Fatalf("expected a1 to survive savepoint rollback, got %v", err)
	}
	if _, err := st.Get("orders", "a2"); err != errors.ErrDocNotFound {
		t.Fatalf("expected a2 to be undone, got %v", err)
	}

	if err := c.Commit(tx); err != nil {
		t.Fatal(err)
	}
}

func TestExclusiveLockBlocksConcurrentWriter(t *testing.T) {
	c, _ := newTestCoordinator(t)

	tx1 := c.Begin(ReadCommitted)
	c.Insert(tx1, "orders", document.New("a1", map[string]interface{}{"v": 1.0}))

	tx2 := c.Begin(ReadCommitted)
	done := make(chan error, 1)
	go func() {
		done <- c.Update(tx2, "orders", document.New("a1", map[string]interface{}{"v": 2.0}))
	}()

	select {
	case <-done:
		t.Fatal("expected tx2 to block on tx1's exclusive lock")
	case <-time.After(50 * time.Millisecond):
	}

	c.Commit(tx1)
	if err := <-done; err != nil {
		t.Fatalf("expected tx2's update to succeed once tx1 released its lock, got %v", err)
	}
	c.Commit(tx2)
}
