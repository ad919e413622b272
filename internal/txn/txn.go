// Package txn implements the transaction coordinator of spec.md §4.6:
// binds the lock manager and WAL into ACID transactions under a
// configurable isolation level, with savepoints and a timeout sweeper.
//
// Grounded on the teacher's internal/docdb/transaction.go
// (TransactionManager, Tx, begin/commit/rollback lifecycle) for shape, but
// the concurrency-control mechanism is replaced end to end: the teacher's
// MVCC snapshot design is exactly what spec.md's Non-goals rule out, so
// this coordinator drives commit visibility with lockmgr acquisitions
// instead of snapshot versions.
package txn

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kartikbazzad/docdb/internal/document"
	"github.com/kartikbazzad/docdb/internal/errors"
	"github.com/kartikbazzad/docdb/internal/indexmgr"
	"github.com/kartikbazzad/docdb/internal/lockmgr"
	"github.com/kartikbazzad/docdb/internal/logger"
	"github.com/kartikbazzad/docdb/internal/store"
	"github.com/kartikbazzad/docdb/internal/wal"
)

// Isolation selects the lock-acquisition policy at operation time, per
// spec.md §4.6's isolation table.
type Isolation int

const (
	ReadUncommitted Isolation = iota
	ReadCommitted
	RepeatableRead
	Serializable
)

func ParseIsolation(s string) Isolation {
	switch s {
	case "read_uncommitted":
		return ReadUncommitted
	case "repeatable_read":
		return RepeatableRead
	case "serializable":
		return Serializable
	default:
		return ReadCommitted
	}
}

// State is a transaction's position in the state machine of spec.md §4.6:
//
//	(none) -> Active -> Preparing -> Committed (terminal)
//	Active -> RollingBack -> RolledBack (terminal) / Aborted (terminal)
type State int

const (
	Active State = iota
	Preparing
	Committed
	RollingBack
	RolledBack
	Aborted
	Failed
)

// op is a single pending mutation, recording the before/after image
// needed to reverse it on rollback.
type op struct {
	kind    wal.Kind
	coll    string
	docID   string
	before  *document.Document
	after   *document.Document
	lockKey lockmgr.ResourceID
}

// Savepoint captures a watermark to roll back to, per spec.md §4.6:
// "(next_op_index, held_lock_count)".
type Savepoint struct {
	opIndex   int
	lockCount int
}

// Tx is a single transaction's coordinator-side state.
type Tx struct {
	ID        lockmgr.TxID
	Isolation Isolation
	StartedAt time.Time
	Timeout   time.Duration

	mu    sync.Mutex
	state State
	ops   []op
	locks []lockmgr.ResourceID // acquired exclusive/range locks released on finish
	held  []heldRead           // shared locks held under RepeatableRead/Serializable
}

type heldRead struct {
	resource lockmgr.ResourceID
}

func (tx *Tx) State() State {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

// Coordinator binds the lock manager, WAL, store, and index manager into
// transactional operations.
type Coordinator struct {
	locks *lockmgr.Manager
	log   *wal.WAL
	store *store.Store
	idx   *indexmgr.Manager

	defaultIsolation Isolation
	lockTimeout      time.Duration
	defaultTimeout   time.Duration

	mu      sync.Mutex
	nextID  atomic.Uint64
	active  map[lockmgr.TxID]*Tx
	logger  *logger.Logger
	stopCh  chan struct{}
}

// New creates a Coordinator bound to the given subsystems.
func New(locks *lockmgr.Manager, walLog *wal.WAL, st *store.Store, idx *indexmgr.Manager, defaultIsolation Isolation, lockTimeout, defaultTimeout time.Duration, log *logger.Logger) *Coordinator {
	if log == nil {
		log = logger.Default()
	}
	c := &Coordinator{
		locks:            locks,
		log:              walLog,
		store:            st,
		idx:              idx,
		defaultIsolation: defaultIsolation,
		lockTimeout:      lockTimeout,
		defaultTimeout:   defaultTimeout,
		active:           make(map[lockmgr.TxID]*Tx),
		logger:           log.With(logger.F("component", "txn")),
		stopCh:           make(chan struct{}),
	}
	locks.OnVictim(c.handleDeadlockVictim)
	return c
}

// Begin starts a new transaction at the given isolation (or the
// coordinator default, if isolation < 0).
func (c *Coordinator) Begin(isolation Isolation) *Tx {
	id := lockmgr.TxID(c.nextID.Add(1))
	if isolation < ReadUncommitted || isolation > Serializable {
		isolation = c.defaultIsolation
	}

	tx := &Tx{
		ID:        id,
		Isolation: isolation,
		StartedAt: time.Now(),
		Timeout:   c.defaultTimeout,
		state:     Active,
	}

	c.mu.Lock()
	c.active[id] = tx
	c.mu.Unlock()

	c.log.Append(&wal.Record{Kind: wal.KindBegin, TxID: uint64(id)})
	return tx
}

func (c *Coordinator) lockTimeoutCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.lockTimeout)
}

// Lookup returns the active transaction addressed by id, for callers (the
// command router) that track a transaction only by the numeric ID a BEGIN
// response returned.
func (c *Coordinator) Lookup(id uint64) (*Tx, error) {
	c.mu.Lock()
	tx, ok := c.active[lockmgr.TxID(id)]
	c.mu.Unlock()
	if !ok {
		return nil, errors.Validation("no active transaction with that id")
	}
	return tx, nil
}

// Read acquires the appropriate lock for tx's isolation level and returns
// the document, per spec.md §4.6's isolation table: ReadUncommitted takes
// no lock, ReadCommitted releases its Shared lock immediately, and
// RepeatableRead/Serializable hold it until commit.
func (c *Coordinator) Read(tx *Tx, coll, docID string) (*document.Document, error) {
	if err := c.LockRead(tx, coll, docID); err != nil {
		return nil, err
	}

	doc, err := c.store.Get(coll, docID)
	if err != nil {
		return nil, err
	}
	return doc.Clone()
}

// LockRead acquires a single document's Shared lock per tx's isolation
// level, per spec.md §4.6's isolation table: ReadUncommitted takes no
// lock, ReadCommitted releases its Shared lock immediately, and
// RepeatableRead/Serializable hold it until commit. Exported so the query
// engine can apply the same per-document locking policy to FIND/FIND_ONE/
// AGGREGATE row production (spec.md §2: "Queries bypass WAL but still
// pass through the lock manager at the configured isolation level").
func (c *Coordinator) LockRead(tx *Tx, coll, docID string) error {
	tx.mu.Lock()
	if tx.state != Active {
		tx.mu.Unlock()
		return errors.New(errors.CodeTransactionConflict, "transaction is not active")
	}
	tx.mu.Unlock()

	if tx.Isolation == ReadUncommitted {
		return nil
	}

	resource := lockmgr.ResourceID("doc:" + coll + ":" + docID)
	ctx, cancel := c.lockTimeoutCtx()
	err := c.locks.Acquire(ctx, tx.ID, resource, lockmgr.Shared)
	cancel()
	if err != nil {
		return err
	}
	if tx.Isolation == ReadCommitted {
		c.locks.Release(tx.ID, resource)
	} else {
		tx.mu.Lock()
		tx.held = append(tx.held, heldRead{resource: resource})
		tx.mu.Unlock()
	}
	return nil
}

// rangeResource names the lock-manager resource guarding an entire
// collection's key range, coarser than the per-document "doc:" resource:
// this engine's B-tree has no sub-range lock granularity, so phantom
// protection locks the whole collection rather than the specific scanned
// range, per the Open Question recorded in DESIGN.md.
func rangeResource(coll string) lockmgr.ResourceID {
	return lockmgr.ResourceID("range:" + coll)
}

// LockRange acquires the collection-wide range lock Serializable reads
// need for phantom protection (spec.md §4.6's isolation table: "range S
// on index range until commit"), held until commit. A no-op below
// Serializable, which is what differentiates it from RepeatableRead:
// RepeatableRead only locks the documents it actually read, so another
// transaction's INSERT (which takes this same resource Exclusive, see
// Coordinator.Insert) can still proceed and introduce a phantom row a
// repeated query would then observe.
func (c *Coordinator) LockRange(tx *Tx, coll string) error {
	tx.mu.Lock()
	if tx.state != Active {
		tx.mu.Unlock()
		return errors.New(errors.CodeTransactionConflict, "transaction is not active")
	}
	tx.mu.Unlock()

	if tx.Isolation != Serializable {
		return nil
	}

	resource := rangeResource(coll)
	ctx, cancel := c.lockTimeoutCtx()
	err := c.locks.Acquire(ctx, tx.ID, resource, lockmgr.Shared)
	cancel()
	if err != nil {
		return err
	}
	tx.mu.Lock()
	tx.held = append(tx.held, heldRead{resource: resource})
	tx.mu.Unlock()
	return nil
}

// Insert stages an insert: acquires the document's exclusive lock,
// applies the mutation to the store immediately (spec.md §4.6's Commit
// step assumes in-memory mutations are already in place for Active
// transactions), records the op for rollback, and WAL-logs it.
func (c *Coordinator) Insert(tx *Tx, coll string, doc *document.Document) error {
	// A new row is a potential phantom for any other transaction holding
	// coll's Shared range lock (LockRange, Serializable-only); acquiring
	// it Exclusive here blocks the insert until those readers commit.
	if err := c.acquireExclusive(tx, rangeResource(coll)); err != nil {
		return err
	}

	resource := lockmgr.ResourceID("doc:" + coll + ":" + doc.ID)
	if err := c.acquireExclusive(tx, resource); err != nil {
		return err
	}

	if err := c.store.Insert(coll, doc); err != nil {
		return err
	}
	if err := c.idx.OnInsert(coll, doc); err != nil {
		c.store.Delete(coll, doc.ID)
		return err
	}

	after, _ := doc.Clone()
	afterJSON, _ := marshalDoc(after)
	lsn, err := c.log.Append(&wal.Record{
		Kind:  wal.KindInsert,
		TxID:  uint64(tx.ID),
		Body:  wal.Body{Collection: coll, DocID: doc.ID, AfterImage: afterJSON},
	})
	if err != nil {
		return err
	}
	_ = lsn

	c.pushOp(tx, op{kind: wal.KindInsert, coll: coll, docID: doc.ID, after: after, lockKey: resource})
	return nil
}

// Update stages a replace-style update, capturing the before image for
// rollback.
func (c *Coordinator) Update(tx *Tx, coll string, doc *document.Document) error {
	resource := lockmgr.ResourceID("doc:" + coll + ":" + doc.ID)
	if err := c.acquireExclusive(tx, resource); err != nil {
		return err
	}

	before, err := c.store.Get(coll, doc.ID)
	if err != nil {
		return err
	}
	beforeClone, _ := before.Clone()

	if err := c.store.Replace(coll, doc); err != nil {
		return err
	}
	if err := c.idx.OnUpdate(coll, beforeClone, doc); err != nil {
		c.store.Replace(coll, beforeClone)
		return err
	}

	after, _ := doc.Clone()
	beforeJSON, _ := marshalDoc(beforeClone)
	afterJSON, _ := marshalDoc(after)
	if _, err := c.log.Append(&wal.Record{
		Kind: wal.KindUpdate,
		TxID: uint64(tx.ID),
		Body: wal.Body{Collection: coll, DocID: doc.ID, BeforeImage: beforeJSON, AfterImage: afterJSON},
	}); err != nil {
		return err
	}

	c.pushOp(tx, op{kind: wal.KindUpdate, coll: coll, docID: doc.ID, before: beforeClone, after: after, lockKey: resource})
	return nil
}

// Delete stages a delete, capturing the before image for rollback.
func (c *Coordinator) Delete(tx *Tx, coll, docID string) error {
	resource := lockmgr.ResourceID("doc:" + coll + ":" + docID)
	if err := c.acquireExclusive(tx, resource); err != nil {
		return err
	}

	before, err := c.store.Get(coll, docID)
	if err != nil {
		return err
	}
	beforeClone, _ := before.Clone()

	if err := c.store.Delete(coll, docID); err != nil {
		return err
	}
	if err := c.idx.OnDelete(coll, beforeClone); err != nil {
		c.store.Insert(coll, beforeClone)
		return err
	}

	beforeJSON, _ := marshalDoc(beforeClone)
	if _, err := c.log.Append(&wal.Record{
		Kind: wal.KindDelete,
		TxID: uint64(tx.ID),
		Body: wal.Body{Collection: coll, DocID: docID, BeforeImage: beforeJSON},
	}); err != nil {
		return err
	}

	c.pushOp(tx, op{kind: wal.KindDelete, coll: coll, docID: docID, before: beforeClone, lockKey: resource})
	return nil
}

func (c *Coordinator) acquireExclusive(tx *Tx, resource lockmgr.ResourceID) error {
	tx.mu.Lock()
	if tx.state != Active {
		tx.mu.Unlock()
		return errors.New(errors.CodeTransactionConflict, "transaction is not active")
	}
	tx.mu.Unlock()

	ctx, cancel := c.lockTimeoutCtx()
	defer cancel()
	if err := c.locks.Acquire(ctx, tx.ID, resource, lockmgr.Exclusive); err != nil {
		return err
	}
	tx.mu.Lock()
	tx.locks = append(tx.locks, resource)
	tx.mu.Unlock()
	return nil
}

func (c *Coordinator) pushOp(tx *Tx, o op) {
	tx.mu.Lock()
	tx.ops = append(tx.ops, o)
	tx.mu.Unlock()
}

// Savepoint captures a rollback watermark at the transaction's current
// progress.
func (c *Coordinator) Savepoint(tx *Tx) Savepoint {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return Savepoint{opIndex: len(tx.ops), lockCount: len(tx.locks)}
}

// RollbackTo reverts ops recorded after sp, releasing locks acquired
// after sp, leaving the transaction Active per spec.md §4.6.
func (c *Coordinator) RollbackTo(tx *Tx, sp Savepoint) error {
	tx.mu.Lock()
	if tx.state != Active {
		tx.mu.Unlock()
		return errors.New(errors.CodeTransactionConflict, "transaction is not active")
	}
	toUndo := append([]op{}, tx.ops[sp.opIndex:]...)
	tx.ops = tx.ops[:sp.opIndex]
	toRelease := append([]lockmgr.ResourceID{}, tx.locks[sp.lockCount:]...)
	tx.locks = tx.locks[:sp.lockCount]
	tx.mu.Unlock()

	if err := c.undoOps(toUndo); err != nil {
		return err
	}
	for _, res := range toRelease {
		c.locks.Release(tx.ID, res)
	}
	return nil
}

// undoOps reverts ops in reverse order: re-insert for deletes, restore
// prior contents for updates, delete for inserts.
func (c *Coordinator) undoOps(ops []op) error {
	for i := len(ops) - 1; i >= 0; i-- {
		o := ops[i]
		switch o.kind {
		case wal.KindInsert:
			if err := c.idx.OnDelete(o.coll, o.after); err != nil {
				return err
			}
			if err := c.store.Delete(o.coll, o.docID); err != nil && err != errors.ErrDocNotFound {
				return err
			}
		case wal.KindUpdate:
			if err := c.idx.OnUpdate(o.coll, o.after, o.before); err != nil {
				return err
			}
			if err := c.store.Replace(o.coll, o.before); err != nil {
				return err
			}
		case wal.KindDelete:
			if err := c.idx.OnInsert(o.coll, o.before); err != nil {
				return err
			}
			if err := c.store.Insert(o.coll, o.before); err != nil {
				return err
			}
		}
	}
	return nil
}

// Commit runs the two-phase-style commit of spec.md §4.6: append and
// fsync a commit record (Preparing), then mark Committed and release
// locks. On a WAL append failure, rolls back instead.
func (c *Coordinator) Commit(tx *Tx) error {
	tx.mu.Lock()
	if tx.state != Active {
		tx.mu.Unlock()
		return errors.New(errors.CodeTransactionConflict, "transaction is not active")
	}
	tx.state = Preparing
	tx.mu.Unlock()

	if _, err := c.log.Append(&wal.Record{Kind: wal.KindCommit, TxID: uint64(tx.ID)}); err != nil {
		tx.mu.Lock()
		tx.state = RollingBack
		tx.mu.Unlock()
		c.rollbackInternal(tx, Failed)
		return errors.Wrap(errors.CodeInternal, "commit record failed to become durable", err)
	}

	tx.mu.Lock()
	tx.state = Committed
	tx.mu.Unlock()

	c.releaseAndForget(tx)
	return nil
}

// Rollback reverts every pending op in reverse order and releases all
// locks, per spec.md §4.6.
func (c *Coordinator) Rollback(tx *Tx) error {
	tx.mu.Lock()
	if tx.state != Active {
		tx.mu.Unlock()
		return errors.New(errors.CodeTransactionConflict, "transaction is not active")
	}
	tx.state = RollingBack
	tx.mu.Unlock()

	return c.rollbackInternal(tx, RolledBack)
}

func (c *Coordinator) rollbackInternal(tx *Tx, final State) error {
	tx.mu.Lock()
	ops := append([]op{}, tx.ops...)
	tx.ops = nil
	tx.mu.Unlock()

	if err := c.undoOps(ops); err != nil {
		c.logger.Error("rollback of tx %d failed partway: %v", tx.ID, err)
	}

	c.log.Append(&wal.Record{Kind: wal.KindRollback, TxID: uint64(tx.ID)})

	tx.mu.Lock()
	tx.state = final
	tx.mu.Unlock()

	c.releaseAndForget(tx)
	return nil
}

func (c *Coordinator) releaseAndForget(tx *Tx) {
	c.locks.ReleaseAll(tx.ID)
	c.mu.Lock()
	delete(c.active, tx.ID)
	c.mu.Unlock()
}

// handleDeadlockVictim is invoked by the lock manager when tx is chosen
// as a deadlock victim; it transitions the transaction to Aborted via the
// rollback path.
func (c *Coordinator) handleDeadlockVictim(id lockmgr.TxID) {
	c.mu.Lock()
	tx, ok := c.active[id]
	c.mu.Unlock()
	if !ok {
		return
	}

	tx.mu.Lock()
	if tx.state != Active {
		tx.mu.Unlock()
		return
	}
	tx.state = RollingBack
	tx.mu.Unlock()

	c.rollbackInternal(tx, Aborted)
}

// StartTimeoutSweeper launches the coordinator-owned goroutine that
// aborts transactions whose started_at + timeout has elapsed.
func (c *Coordinator) StartTimeoutSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.sweepTimeouts()
			}
		}
	}()
}

func (c *Coordinator) Stop() {
	close(c.stopCh)
}

func (c *Coordinator) sweepTimeouts() {
	now := time.Now()
	c.mu.Lock()
	var expired []*Tx
	for _, tx := range c.active {
		tx.mu.Lock()
		if tx.state == Active && tx.Timeout > 0 && now.Sub(tx.StartedAt) > tx.Timeout {
			expired = append(expired, tx)
		}
		tx.mu.Unlock()
	}
	c.mu.Unlock()

	for _, tx := range expired {
		tx.mu.Lock()
		if tx.state == Active {
			tx.state = RollingBack
			tx.mu.Unlock()
			c.logger.Warn("aborting tx %d on timeout (started %s ago)", tx.ID, now.Sub(tx.StartedAt))
			c.rollbackInternal(tx, RolledBack)
		} else {
			tx.mu.Unlock()
		}
	}
}

func marshalDoc(doc *document.Document) ([]byte, error) {
	return doc.MarshalJSON()
}
