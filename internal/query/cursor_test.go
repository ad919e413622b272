package query

import (
	"testing"
	"time"
)

func TestCursorBatchPagination(t *testing.T) {
	m := NewCursorManager(time.Hour, nil)
	rows := make([]Row, 0, 10)
	for i := 0; i < 10; i++ {
		rows = append(rows, Row{DocID: string(rune('a' + i))})
	}
	c := m.Open(rows, nil)

	first, err := m.GetNextBatch(c.ID, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 4 {
		t.Fatalf("expected batch of 4, got %d", len(first))
	}

	second, err := m.GetNextBatch(c.ID, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 6 {
		t.Fatalf("expected remaining 6, got %d", len(second))
	}

	if _, err := m.GetNextBatch(c.ID, 1); err == nil {
		t.Fatal("expected cursor to be gone after exhaustion")
	}
}

func TestCursorIdleSweep(t *testing.T) {
	m := NewCursorManager(20*time.Millisecond, nil)
	m.Start(5 * time.Millisecond)
	defer m.Stop()

	c := m.Open([]Row{{DocID: "a"}}, nil)
	time.Sleep(60 * time.Millisecond)

	if _, err := m.Get(c.ID); err == nil {
		t.Fatal("expected cursor to be swept after idle timeout")
	}
}

func TestCursorCloseAllOwnedBy(t *testing.T) {
	m := NewCursorManager(time.Hour, nil)
	tx := uint64(7)
	c := m.Open([]Row{{DocID: "a"}}, &tx)
	m.CloseAllOwnedBy(7)
	if _, err := m.Get(c.ID); err == nil {
		t.Fatal("expected owned cursor to be closed")
	}
}
