package query

import (
	"sync"
	"time"

	"github.com/kartikbazzad/docdb/internal/errors"
	"github.com/kartikbazzad/docdb/internal/logger"
)

// Cursor is a server-side iteration handle over a query's result stream,
// per spec.md §4.7: "(id, remaining_source, created_at, last_touched_at,
// owner_tx?)". A transaction-scoped cursor is released when its owning
// transaction ends, independent of idle timeout.
type Cursor struct {
	ID             string
	CreatedAt      time.Time
	LastTouchedAt  time.Time
	OwnerTx        *uint64
	remainingRows  []Row
}

// GetNextBatch advances the cursor up to n documents, refreshing
// LastTouchedAt for the idle sweeper.
func (c *Cursor) GetNextBatch(n int) []Row {
	c.LastTouchedAt = time.Now()
	if n <= 0 || n > len(c.remainingRows) {
		n = len(c.remainingRows)
	}
	batch := c.remainingRows[:n]
	c.remainingRows = c.remainingRows[n:]
	return batch
}

// Exhausted reports whether the cursor has no more rows to serve.
func (c *Cursor) Exhausted() bool { return len(c.remainingRows) == 0 }

// CursorManager registers open cursors and expires them after an idle
// interval, grounded on the teacher's ticker-driven sweep idiom
// (internal/docdb/healing.go's periodic maintenance loop) repurposed here
// from corruption repair to idle-cursor eviction.
type CursorManager struct {
	mu          sync.Mutex
	cursors     map[string]*Cursor
	idleTimeout time.Duration
	stopCh      chan struct{}
	log         *logger.Logger
	nextID      uint64
}

func NewCursorManager(idleTimeout time.Duration, log *logger.Logger) *CursorManager {
	if log == nil {
		log = logger.Default()
	}
	return &CursorManager{
		cursors:     make(map[string]*Cursor),
		idleTimeout: idleTimeout,
		stopCh:      make(chan struct{}),
		log:         log.With(logger.F("component", "cursor")),
	}
}

// Open registers rows as a new cursor and returns it. ownerTx is nil for a
// cursor not scoped to any transaction.
func (m *CursorManager) Open(rows []Row, ownerTx *uint64) *Cursor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	now := time.Now()
	c := &Cursor{
		ID:            cursorIDFor(m.nextID),
		CreatedAt:     now,
		LastTouchedAt: now,
		OwnerTx:       ownerTx,
		remainingRows: rows,
	}
	m.cursors[c.ID] = c
	return c
}

// Get looks up a cursor by ID, returning errors.CursorNotFound if it has
// expired or never existed.
func (m *CursorManager) Get(id string) (*Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cursors[id]
	if !ok {
		return nil, errors.CursorNotFound(id)
	}
	return c, nil
}

// GetNextBatch is the cursor-manager-level convenience wrapping Cursor's
// method, removing the cursor from the registry once exhausted.
func (m *CursorManager) GetNextBatch(id string, n int) ([]Row, error) {
	m.mu.Lock()
	c, ok := m.cursors[id]
	if !ok {
		m.mu.Unlock()
		return nil, errors.CursorNotFound(id)
	}
	batch := c.GetNextBatch(n)
	exhausted := c.Exhausted()
	if exhausted {
		delete(m.cursors, id)
	}
	m.mu.Unlock()
	return batch, nil
}

// Close releases a cursor before it exhausts or idles out (e.g. client
// disconnect, owning transaction ended).
func (m *CursorManager) Close(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cursors, id)
}

// CloseAllOwnedBy releases every cursor scoped to txID, called when that
// transaction commits or rolls back.
func (m *CursorManager) CloseAllOwnedBy(txID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.cursors {
		if c.OwnerTx != nil && *c.OwnerTx == txID {
			delete(m.cursors, id)
		}
	}
}

// Start launches the idle-cursor sweeper.
func (m *CursorManager) Start(interval time.Duration) {
	go m.sweepLoop(interval)
}

func (m *CursorManager) Stop() { close(m.stopCh) }

func (m *CursorManager) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

func (m *CursorManager) sweepOnce() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for id, c := range m.cursors {
		if now.Sub(c.LastTouchedAt) > m.idleTimeout {
			delete(m.cursors, id)
			m.log.Debug("cursor %s released after idle timeout", id)
		}
	}
}

func cursorIDFor(n uint64) string {
	const hex = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hex[n&0xf]
		n >>= 4
	}
	return string(buf)
}
