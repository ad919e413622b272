// Package lockmgr implements the resource-keyed lock manager described in
// spec.md §4.4: shared/exclusive locks, FIFO wait queues, a wait-for graph
// with periodic deadlock detection, and caller-supplied acquire deadlines.
//
// The teacher and the rest of the retrieval pack have no lock-manager
// precedent, so this is grounded on the concurrency idiom used throughout
// the teacher instead: sync.Mutex-protected maps plus channel-based
// condition signaling (internal/docdb/worker_pool.go, internal/catalog),
// generalized into a resource table, and the ticker-goroutine shape of
// internal/docdb/healer.go, repurposed here for the deadlock-sweep
// goroutine.
package lockmgr

import (
	"context"
	"sync"
	"time"

	"github.com/kartikbazzad/docdb/internal/errors"
	"github.com/kartikbazzad/docdb/internal/logger"
)

// Mode is a lock mode: shared or exclusive.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) compatible(other Mode) bool {
	return m == Shared && other == Shared
}

// TxID identifies the transaction requesting a lock. Per spec.md §4.4's
// deadlock-victim rule ("choose... the youngest transaction... highest
// tx_id"), callers must hand out TxIDs in increasing allocation order.
type TxID uint64

// ResourceID names a lockable resource: a collection, a single document,
// or an index key range, per spec.md §4.4/§5.
type ResourceID string

type waiter struct {
	tx      TxID
	mode    Mode
	granted chan struct{}
	done    bool // set once granted or removed, guarded by the resource's mutex
}

type holder struct {
	tx   TxID
	mode Mode
}

type resourceLock struct {
	mu      sync.Mutex
	holders []holder
	queue   []*waiter
}

// Manager is the lock table plus its deadlock detector.
type Manager struct {
	mu        sync.Mutex
	resources map[ResourceID]*resourceLock

	// waitsFor[tx] is the set of transactions tx is currently blocked on.
	waitsFor map[TxID]map[TxID]bool
	// heldLocks[tx] tracks every resource tx currently holds, for
	// ReleaseAll and for counting held locks when breaking victim ties.
	heldLocks map[TxID]map[ResourceID]Mode

	sweepInterval time.Duration
	stopCh        chan struct{}
	stopped       bool
	log           *logger.Logger

	onVictim func(TxID) // invoked with the sweep's mutex released
}

// New creates a Manager with the given deadlock-sweep interval.
func New(sweepInterval time.Duration, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	m := &Manager{
		resources:     make(map[ResourceID]*resourceLock),
		waitsFor:      make(map[TxID]map[TxID]bool),
		heldLocks:     make(map[TxID]map[ResourceID]Mode),
		sweepInterval: sweepInterval,
		stopCh:        make(chan struct{}),
		log:           log.With(logger.F("component", "lockmgr")),
	}
	return m
}

// OnVictim registers a callback invoked when the deadlock sweep selects tx
// as a victim. The transaction coordinator uses this to drive its own
// RollingBack transition; the lock manager itself only releases locks.
func (m *Manager) OnVictim(fn func(TxID)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onVictim = fn
}

// Start launches the periodic deadlock-detection sweep goroutine.
func (m *Manager) Start(ctx context.Context) {
	go m.sweepLoop(ctx)
}

func (m *Manager) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.detectAndResolve()
		}
	}
}

// Stop halts the sweep goroutine.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	close(m.stopCh)
}

func (m *Manager) resourceFor(id ResourceID) *resourceLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[id]
	if !ok {
		r = &resourceLock{}
		m.resources[id] = r
	}
	return r
}

// Acquire blocks until tx holds mode on resource, the deadline in ctx
// elapses (returning a LockTimeout error), ctx is cancelled (returning
// ctx.Err()), or tx is chosen as a deadlock victim (returning a Deadlock
// error). An upgrade request (tx already holds Shared, requests Exclusive)
// is granted immediately when tx is the sole holder.
func (m *Manager) Acquire(ctx context.Context, tx TxID, resource ResourceID, mode Mode) error {
	r := m.resourceFor(resource)

	r.mu.Lock()
	if m.tryGrantLocked(r, tx, mode) {
		r.mu.Unlock()
		m.recordHeld(tx, resource, mode)
		return nil
	}

	w := &waiter{tx: tx, mode: mode, granted: make(chan struct{})}
	r.queue = append(r.queue, w)
	r.mu.Unlock()

	m.addWaitEdges(tx, r)

	select {
	case <-w.granted:
		m.recordHeld(tx, resource, mode)
		return nil
	case <-ctx.Done():
		m.removeWaiter(r, w)
		m.clearWaitEdges(tx)
		if ctx.Err() == context.DeadlineExceeded {
			return errors.LockTimeout(string(resource))
		}
		return ctx.Err()
	}
}

// tryGrantLocked attempts to grant mode to tx on r assuming r.mu is held.
// Honors FIFO: a request may only jump the queue for a same-tx upgrade
// when tx is the only holder; otherwise, if the queue is non-empty, a new
// request must wait behind it to avoid starving an earlier waiter.
func (m *Manager) tryGrantLocked(r *resourceLock, tx TxID, mode Mode) bool {
	for i, h := range r.holders {
		if h.tx == tx {
			if h.mode == Exclusive || h.mode == mode {
				return true
			}
			// Upgrade S -> X: granted atomically iff tx is the sole holder.
			if len(r.holders) == 1 {
				r.holders[i].mode = Exclusive
				return true
			}
			return false
		}
	}

	if len(r.queue) > 0 {
		return false
	}
	for _, h := range r.holders {
		if !h.mode.compatible(mode) {
			return false
		}
	}
	r.holders = append(r.holders, holder{tx: tx, mode: mode})
	return true
}

func (m *Manager) removeWaiter(r *resourceLock, w *waiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w.done {
		return
	}
	for i, q := range r.queue {
		if q == w {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			break
		}
	}
	w.done = true
}

func (m *Manager) recordHeld(tx TxID, resource ResourceID, mode Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.heldLocks[tx] == nil {
		m.heldLocks[tx] = make(map[ResourceID]Mode)
	}
	m.heldLocks[tx][resource] = mode
	delete(m.waitsFor, tx)
}

// addWaitEdges records, for the deadlock graph, that tx is blocked on every
// transaction currently holding a conflicting lock on r.
func (m *Manager) addWaitEdges(tx TxID, r *resourceLock) {
	r.mu.Lock()
	blockers := make([]TxID, 0, len(r.holders))
	for _, h := range r.holders {
		if h.tx != tx {
			blockers = append(blockers, h.tx)
		}
	}
	r.mu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.waitsFor[tx] == nil {
		m.waitsFor[tx] = make(map[TxID]bool)
	}
	for _, b := range blockers {
		m.waitsFor[tx][b] = true
	}
}

func (m *Manager) clearWaitEdges(tx TxID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.waitsFor, tx)
}

// Release drops tx's lock on resource and grants the next compatible
// waiters in FIFO order.
func (m *Manager) Release(tx TxID, resource ResourceID) {
	r := m.resourceFor(resource)
	m.releaseFrom(r, tx)

	m.mu.Lock()
	if locks, ok := m.heldLocks[tx]; ok {
		delete(locks, resource)
		if len(locks) == 0 {
			delete(m.heldLocks, tx)
		}
	}
	m.mu.Unlock()
}

// ReleaseAll drops every lock tx holds, per spec.md §4.6's commit/rollback
// lock-release step.
func (m *Manager) ReleaseAll(tx TxID) {
	m.mu.Lock()
	held := m.heldLocks[tx]
	resources := make([]ResourceID, 0, len(held))
	for res := range held {
		resources = append(resources, res)
	}
	delete(m.heldLocks, tx)
	delete(m.waitsFor, tx)
	m.mu.Unlock()

	for _, res := range resources {
		r := m.resourceFor(res)
		m.releaseFrom(r, tx)
	}
}

func (m *Manager) releaseFrom(r *resourceLock, tx TxID) {
	r.mu.Lock()
	for i, h := range r.holders {
		if h.tx == tx {
			r.holders = append(r.holders[:i], r.holders[i+1:]...)
			break
		}
	}
	m.grantWaitersLocked(r)
	r.mu.Unlock()
}

// grantWaitersLocked walks the FIFO queue from the head, granting every
// waiter compatible with the current holder set (and with each other, for
// a run of compatible Shared requests), stopping at the first conflict so
// no later waiter can pass an earlier one of conflicting mode.
func (m *Manager) grantWaitersLocked(r *resourceLock) {
	for len(r.queue) > 0 {
		w := r.queue[0]
		if w.done {
			r.queue = r.queue[1:]
			continue
		}
		ok := true
		for _, h := range r.holders {
			if h.tx == w.tx {
				continue
			}
			if !h.mode.compatible(w.mode) {
				ok = false
			}
		}
		if !ok {
			break
		}
		r.holders = append(r.holders, holder{tx: w.tx, mode: w.mode})
		w.done = true
		r.queue = r.queue[1:]
		close(w.granted)
	}
}

// detectAndResolve runs one cycle-detection sweep over the wait-for graph,
// aborting the youngest transaction in each cycle found.
func (m *Manager) detectAndResolve() {
	m.mu.Lock()
	graph := make(map[TxID]map[TxID]bool, len(m.waitsFor))
	for tx, edges := range m.waitsFor {
		cp := make(map[TxID]bool, len(edges))
		for e := range edges {
			cp[e] = true
		}
		graph[tx] = cp
	}
	held := make(map[TxID]int, len(m.heldLocks))
	for tx, locks := range m.heldLocks {
		held[tx] = len(locks)
	}
	onVictim := m.onVictim
	m.mu.Unlock()

	cycle := findCycle(graph)
	if cycle == nil {
		return
	}

	victim := pickVictim(cycle, held)
	m.log.Warn("deadlock detected, aborting tx %d (cycle size %d)", victim, len(cycle))
	m.ReleaseAll(victim)
	if onVictim != nil {
		onVictim(victim)
	}
}

// findCycle does a DFS over the wait-for graph and returns the first cycle
// found, or nil if the graph is acyclic.
func findCycle(graph map[TxID]map[TxID]bool) []TxID {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[TxID]int)
	var path []TxID
	var found []TxID

	var visit func(tx TxID) bool
	visit = func(tx TxID) bool {
		color[tx] = gray
		path = append(path, tx)
		for next := range graph[tx] {
			switch color[next] {
			case white:
				if visit(next) {
					return true
				}
			case gray:
				for i, p := range path {
					if p == next {
						found = append([]TxID{}, path[i:]...)
						return true
					}
				}
			}
		}
		path = path[:len(path)-1]
		color[tx] = black
		return false
	}

	for tx := range graph {
		if color[tx] == white {
			if visit(tx) {
				return found
			}
		}
	}
	return nil
}

// pickVictim chooses the youngest transaction id in the cycle, breaking
// ties by fewest held locks, per spec.md §4.4.
func pickVictim(cycle []TxID, held map[TxID]int) TxID {
	victim := cycle[0]
	for _, tx := range cycle[1:] {
		switch {
		case tx > victim:
			victim = tx
		case tx == victim && held[tx] < held[victim]:
			victim = tx
		}
	}
	return victim
}
