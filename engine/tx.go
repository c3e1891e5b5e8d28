package engine

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rdfkit/quadgo/rdf"
)

// TxStatus is the lifecycle state of a transaction.
type TxStatus int32

const (
	TxActive TxStatus = iota
	TxCommitted
	TxRolledBack
	TxTimedOut
)

// String returns the status name.
func (s TxStatus) String() string {
	switch s {
	case TxActive:
		return "Active"
	case TxCommitted:
		return "Committed"
	case TxRolledBack:
		return "RolledBack"
	case TxTimedOut:
		return "TimedOut"
	default:
		return "Unknown"
	}
}

// OpKind discriminates logged operations.
type OpKind int

const (
	OpAdd OpKind = iota
	OpRemove
)

// String returns the operation kind name.
func (k OpKind) String() string {
	if k == OpRemove {
		return "Remove"
	}
	return "Add"
}

// Operation is one logged entry of a transaction: the kind, the quads
// that actually changed the store (the effective delta, so inverse replay
// is exact even when the caller issued no-op duplicates), and when it was
// applied.
type Operation struct {
	Kind  OpKind
	Quads []rdf.Quad
	At    time.Time
}

// invert returns the inverse operation kind.
func (k OpKind) invert() OpKind {
	if k == OpAdd {
		return OpRemove
	}
	return OpAdd
}

// Tx is a single transaction: an ordered operation log plus lifecycle
// bookkeeping. All fields are guarded by the TxManager lock.
type Tx struct {
	ID        uint64
	StartedAt time.Time
	Ops       []Operation
	Status    TxStatus

	// snapshotSize records the store size at begin. It is a lightweight
	// snapshot marker used to validate rollback consistency, not a data
	// copy.
	snapshotSize int

	timer *time.Timer
}

// TxCounters holds counts of transactions by terminal status.
type TxCounters struct {
	Committed  uint64
	RolledBack uint64
	TimedOut   uint64
}

// TxManager coordinates transactions against a Store. At most one
// transaction is the implicit "current" target for operations issued
// without an explicit id; operations with an explicit id route to that
// transaction regardless of which is current. This models single-writer
// ingestion, not a general multi-writer store.
type TxManager struct {
	mu      sync.Mutex
	store   *Store
	txs     map[uint64]*Tx
	current uint64 // 0 = none
	nextID  uint64
	closed  bool

	committed  atomic.Uint64
	rolledBack atomic.Uint64
	timedOut   atomic.Uint64

	observer Observer
	logger   *slog.Logger
}

// NewTxManager creates a transaction manager over the store. A nil
// observer defaults to NoopObserver; a nil logger discards logs.
func NewTxManager(store *Store, observer Observer, logger *slog.Logger) *TxManager {
	if observer == nil {
		observer = NoopObserver{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &TxManager{
		store:    store,
		txs:      make(map[uint64]*Tx),
		observer: observer,
		logger:   logger,
	}
}

// Begin starts a transaction and makes it the current one. If timeout is
// positive, a timer forces rollback with status TimedOut unless Commit or
// Rollback is called first; this prevents a stalled caller from holding
// the transaction slot forever. Begin never blocks.
func (tm *TxManager) Begin(timeout time.Duration) (uint64, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.closed {
		return 0, ErrClosed
	}

	tm.nextID++
	id := tm.nextID
	tx := &Tx{
		ID:           id,
		StartedAt:    time.Now(),
		Status:       TxActive,
		snapshotSize: tm.store.Len(),
	}
	if timeout > 0 {
		tx.timer = time.AfterFunc(timeout, func() { tm.forceTimeout(id) })
	}
	tm.txs[id] = tx
	tm.current = id

	tm.logger.Debug("transaction begun",
		slog.Uint64("tx", id),
		slog.Duration("timeout", timeout),
	)
	return id, nil
}

// Current returns the id of the current transaction, if any.
func (tm *TxManager) Current() (uint64, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.current, tm.current != 0
}

// Add applies quads through the transaction with the given id, or through
// the current transaction when id is zero. With id zero and no current
// transaction the quads are applied directly, outside any log.
func (tm *TxManager) Add(id uint64, quads []rdf.Quad) error {
	return tm.apply(id, OpAdd, quads)
}

// Remove is the removal counterpart of Add.
func (tm *TxManager) Remove(id uint64, quads []rdf.Quad) error {
	return tm.apply(id, OpRemove, quads)
}

func (tm *TxManager) apply(id uint64, kind OpKind, quads []rdf.Quad) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.closed {
		return ErrClosed
	}

	var tx *Tx
	if id == 0 {
		if tm.current != 0 {
			tx = tm.txs[tm.current]
		}
	} else {
		t, ok := tm.txs[id]
		if !ok || t.Status != TxActive {
			return ErrTxNotFound
		}
		tx = t
	}

	// Apply-then-undo: mutate the indexes immediately so mid-transaction
	// reads observe the transaction's own writes, and log the effective
	// delta for inverse replay.
	var delta []rdf.Quad
	if kind == OpAdd {
		delta = tm.store.ApplyAdd(quads)
	} else {
		delta = tm.store.ApplyRemove(quads)
	}
	tm.observer.OnApply(kind, len(quads), len(delta))

	if tx != nil && len(delta) > 0 {
		tx.Ops = append(tx.Ops, Operation{Kind: kind, Quads: delta, At: time.Now()})
	}
	return nil
}

// Commit marks the transaction committed. Its operations are already
// applied, so no index mutation occurs.
func (tm *TxManager) Commit(id uint64) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tx, ok := tm.txs[id]
	if !ok || tx.Status != TxActive {
		return ErrTxNotFound
	}

	tx.Status = TxCommitted
	tm.committed.Add(1)
	tm.finalize(tx)

	tm.observer.OnCommit(id, len(tx.Ops), time.Since(tx.StartedAt))
	tm.logger.Debug("transaction committed",
		slog.Uint64("tx", id),
		slog.Int("ops", len(tx.Ops)),
	)
	return nil
}

// Rollback replays the transaction's operation log inverted, in reverse
// chronological order, and marks it rolled back.
func (tm *TxManager) Rollback(id uint64) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tx, ok := tm.txs[id]
	if !ok || tx.Status != TxActive {
		return ErrTxNotFound
	}

	tm.undo(tx)
	tx.Status = TxRolledBack
	tm.rolledBack.Add(1)
	tm.finalize(tx)

	tm.observer.OnRollback(id, len(tx.Ops))
	tm.logger.Debug("transaction rolled back",
		slog.Uint64("tx", id),
		slog.Int("ops", len(tx.Ops)),
	)
	return nil
}

// forceTimeout is the timer callback: an Active transaction that neither
// committed nor rolled back is wound back and marked TimedOut.
func (tm *TxManager) forceTimeout(id uint64) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tx, ok := tm.txs[id]
	if !ok || tx.Status != TxActive {
		return // Raced with commit/rollback.
	}

	tm.undo(tx)
	tx.Status = TxTimedOut
	tm.timedOut.Add(1)
	tm.finalize(tx)

	tm.observer.OnTimeout(id, len(tx.Ops))
	tm.logger.Warn("transaction timed out, forced rollback",
		slog.Uint64("tx", id),
		slog.Int("ops", len(tx.Ops)),
	)
}

// undo replays the operation log inverted in strict reverse order, so
// keys touched more than once unwind correctly. Bloom filter state is
// intentionally not reversed: the filter is append-only, and stale
// positives after a rollback are harmless.
func (tm *TxManager) undo(tx *Tx) {
	for i := len(tx.Ops) - 1; i >= 0; i-- {
		op := tx.Ops[i]
		if op.Kind.invert() == OpAdd {
			tm.store.ApplyAdd(op.Quads)
		} else {
			tm.store.ApplyRemove(op.Quads)
		}
	}

	// With interleaved explicit-id transactions the sizes can legitimately
	// drift; across transactions the only guarantee is last-writer-wins.
	if got := tm.store.Len(); got != tx.snapshotSize {
		tm.logger.Warn("rollback snapshot mismatch",
			slog.Uint64("tx", tx.ID),
			slog.Int("want", tx.snapshotSize),
			slog.Int("got", got),
		)
	}
}

// finalize stops the timer, releases the current slot and removes the
// terminal transaction from the table. Caller holds the lock.
func (tm *TxManager) finalize(tx *Tx) {
	if tx.timer != nil {
		tx.timer.Stop()
		tx.timer = nil
	}
	if tm.current == tx.ID {
		tm.current = 0
	}
	delete(tm.txs, tx.ID)
}

// ActiveCount returns the number of non-terminal transactions.
func (tm *TxManager) ActiveCount() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return len(tm.txs)
}

// Counters returns counts of transactions by terminal status.
func (tm *TxManager) Counters() TxCounters {
	return TxCounters{
		Committed:  tm.committed.Load(),
		RolledBack: tm.rolledBack.Load(),
		TimedOut:   tm.timedOut.Load(),
	}
}

// Close rolls back every still-active transaction and rejects further
// operations. Idempotent.
func (tm *TxManager) Close() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.closed {
		return nil
	}
	tm.closed = true

	for _, tx := range tm.txs {
		if tx.Status != TxActive {
			continue
		}
		tm.undo(tx)
		tx.Status = TxRolledBack
		tm.rolledBack.Add(1)
		tm.finalize(tx)
		tm.observer.OnRollback(tx.ID, len(tx.Ops))
	}
	return nil
}
