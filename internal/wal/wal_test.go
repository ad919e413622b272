package wal

import (
	"testing"

	"github.com/kartikbazzad/docdb/internal/config"
)

func testWALConfig(dir string) config.WALConfig {
	return config.WALConfig{
		Dir:                 dir,
		MaxSegmentSizeBytes: 4096,
		Fsync: config.FsyncConfig{
			Mode:         config.FsyncAlways,
			IntervalMS:   10,
			MaxBatchSize: 10,
		},
		Checkpoint: config.CheckpointConfig{
			IntervalRecords: 100,
			AutoCreate:      true,
			TrimAfter:       true,
		},
	}
}

func TestAppendAndRecover(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(testWALConfig(dir), nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := w.Append(&Record{Kind: KindBegin, TxID: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Append(&Record{Kind: KindInsert, TxID: 1, Body: Body{Collection: "orders", DocID: "a", AfterImage: []byte(`{"x":1}`)}}); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Append(&Record{Kind: KindCommit, TxID: 1}); err != nil {
		t.Fatal(err)
	}

	// Uncommitted transaction: must not be replayed.
	if _, err := w.Append(&Record{Kind: KindBegin, TxID: 2}); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Append(&Record{Kind: KindInsert, TxID: 2, Body: Body{Collection: "orders", DocID: "b", AfterImage: []byte(`{"x":2}`)}}); err != nil {
		t.Fatal(err)
	}

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	applied := map[string]bool{}
	applier := &fakeApplier{
		insert: func(coll, id string, after []byte) error {
			applied[coll+"/"+id] = true
			return nil
		},
	}

	result, err := Recover(dir, false, applier, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !applied["orders/a"] {
		t.Fatal("expected committed insert to be replayed")
	}
	if applied["orders/b"] {
		t.Fatal("expected uncommitted insert to be skipped")
	}
	if result.RecordsApplied != 1 {
		t.Fatalf("expected 1 applied record, got %d", result.RecordsApplied)
	}
}

func TestSegmentRotation(t *testing.T) {
	dir := t.TempDir()
	cfg := testWALConfig(dir)
	cfg.MaxSegmentSizeBytes = 200 // force rotation quickly
	w, err := Open(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	for i := 0; i < 50; i++ {
		if _, err := w.Append(&Record{Kind: KindInsert, TxID: uint64(i), Body: Body{Collection: "c", DocID: "d", AfterImage: []byte(`{"a":1}`)}}); err != nil {
			t.Fatal(err)
		}
	}

	segs, err := listSegments(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) < 2 {
		t.Fatalf("expected multiple segments after rotation, got %d", len(segs))
	}
}

type fakeApplier struct {
	insert func(coll, id string, after []byte) error
	update func(coll, id string, after []byte) error
	delete func(coll, id string) error
}

func (f *fakeApplier) ApplyInsert(coll, id string, after []byte) error {
	if f.insert != nil {
		return f.insert(coll, id, after)
	}
	return nil
}
func (f *fakeApplier) ApplyUpdate(coll, id string, after []byte) error {
	if f.update != nil {
		return f.update(coll, id, after)
	}
	return nil
}
func (f *fakeApplier) ApplyDelete(coll, id string) error {
	if f.delete != nil {
		return f.delete(coll, id)
	}
	return nil
}
