package quadgo

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rdfkit/quadgo/batch"
	"github.com/rdfkit/quadgo/engine"
	"github.com/rdfkit/quadgo/ingest"
	"github.com/rdfkit/quadgo/monitor"
	"github.com/rdfkit/quadgo/rdf"
	"github.com/rdfkit/quadgo/resource"
	"github.com/rdfkit/quadgo/snapshot"
)

// DB is the quad store facade. It owns the indexed store, the
// transaction manager, the batch executor, the resource controller and
// the metrics monitor, and exposes the operational surface on top of
// them. All methods are safe for concurrent use unless noted.
type DB struct {
	opts options

	store *engine.Store
	txs   *engine.TxManager
	exec  *batch.Executor
	mon   *monitor.Monitor
	rc    *resource.Controller

	logger  *Logger
	metrics MetricsCollector

	closed atomic.Bool
}

// New creates a DB with the given options.
func New(optFns ...Option) (*DB, error) {
	opts := applyOptions(optFns)

	store := engine.NewStore(opts.bloomCapacity, opts.logger.Logger)
	txs := engine.NewTxManager(store, opts.observer, opts.logger.Logger)

	limits := opts.resourceLimits
	if limits.MaxBackgroundWorkers == 0 && opts.workerCount > 0 {
		limits.MaxBackgroundWorkers = int64(opts.workerCount)
	}
	rc := resource.NewController(limits)

	exec, err := batch.NewExecutor(batch.Options{
		Workers:         opts.workerCount,
		DispatchTimeout: opts.dispatchTimeout,
		Decoder:         opts.decoder,
		Codec:           opts.codec,
		Controller:      rc,
	})
	if err != nil {
		return nil, fmt.Errorf("batch executor: %w", err)
	}

	db := &DB{
		opts:    opts,
		store:   store,
		txs:     txs,
		exec:    exec,
		rc:      rc,
		logger:  opts.logger,
		metrics: opts.metricsCollector,
	}
	db.mon = monitor.New(dbSource{db}, opts.monitorInterval, opts.logger.Logger)
	db.mon.Start()

	opts.logger.Info("quadgo opened",
		"bloom_capacity", opts.bloomCapacity,
		"workers", opts.workerCount,
		"tx_default_timeout", opts.txDefaultTimeout,
	)
	return db, nil
}

// BeginTransaction starts a transaction and makes it the target for
// operations issued with a zero transaction id. A zero timeout uses the
// configured default; the transaction is force-rolled-back when the
// timeout expires before Commit or Rollback.
func (db *DB) BeginTransaction(timeout time.Duration) (uint64, error) {
	if db.closed.Load() {
		return 0, ErrClosed
	}
	if timeout < 0 {
		return 0, ErrInvalidTimeout
	}
	if timeout == 0 {
		timeout = db.opts.txDefaultTimeout
	}
	id, err := db.txs.Begin(timeout)
	return id, translateError(err)
}

// CommitTransaction makes the transaction's effects permanent and
// discards its undo log.
func (db *DB) CommitTransaction(id uint64) error {
	if db.closed.Load() {
		return ErrClosed
	}
	return translateError(db.txs.Commit(id))
}

// RollbackTransaction undoes the transaction's operations in reverse
// order and discards it.
func (db *DB) RollbackTransaction(id uint64) error {
	if db.closed.Load() {
		return ErrClosed
	}
	return translateError(db.txs.Rollback(id))
}

// AddQuads indexes quads. A non-zero txID routes through that
// transaction's undo log; zero routes through the current transaction,
// or applies directly when none is active. Duplicates are absorbed.
func (db *DB) AddQuads(txID uint64, quads []rdf.Quad) error {
	start := time.Now()
	err := db.write(txID, quads, db.txs.Add)
	db.metrics.RecordAdd(len(quads), time.Since(start), err)
	return err
}

// RemoveQuads deletes quads, with the same transaction routing as
// AddQuads. Removing an absent quad is a no-op.
func (db *DB) RemoveQuads(txID uint64, quads []rdf.Quad) error {
	start := time.Now()
	err := db.write(txID, quads, db.txs.Remove)
	db.metrics.RecordRemove(len(quads), time.Since(start), err)
	return err
}

func (db *DB) write(txID uint64, quads []rdf.Quad, apply func(uint64, []rdf.Quad) error) error {
	if db.closed.Load() {
		return ErrClosed
	}
	if len(quads) == 0 {
		return nil
	}
	return translateError(apply(txID, quads))
}

// QueryOptions bounds a pattern query result set.
type QueryOptions struct {
	// Limit caps the number of results. Zero means unlimited.
	Limit int

	// Offset skips that many matches before collecting results.
	Offset int
}

// QueryPattern returns all stored quads matching the pattern, in the
// key order of the index chosen for the scan. Unbound pattern fields
// act as wildcards; a fully unbound pattern enumerates the store.
func (db *DB) QueryPattern(p rdf.Pattern, opts QueryOptions) ([]rdf.Quad, error) {
	start := time.Now()
	if db.closed.Load() {
		db.metrics.RecordQuery(0, time.Since(start), ErrClosed)
		return nil, ErrClosed
	}
	if opts.Limit < 0 || opts.Offset < 0 {
		err := &ErrInvalidQueryRange{Limit: opts.Limit, Offset: opts.Offset}
		db.metrics.RecordQuery(0, time.Since(start), err)
		return nil, err
	}
	results := db.store.Query(p, opts.Limit, opts.Offset)
	db.metrics.RecordQuery(len(results), time.Since(start), nil)
	return results, nil
}

// ExportAll returns a full, unordered snapshot of the store contents.
// The slice is a copy and safe to retain.
func (db *DB) ExportAll() ([]rdf.Quad, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	return db.store.ExportAll(), nil
}

// WriteSnapshot serializes the full store to w using the configured
// codec and the given compression. IO is paced by the resource
// controller's throughput limit, if one is configured.
func (db *DB) WriteSnapshot(ctx context.Context, w io.Writer, comp snapshot.Compression) error {
	if db.closed.Load() {
		return ErrClosed
	}
	quads := db.store.ExportAll()
	lw := resource.NewLimitedWriter(ctx, w, db.rc)
	if err := snapshot.Write(lw, quads, db.opts.codec, comp); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	db.logger.Info("snapshot written", "quads", len(quads), "compression", comp.String())
	return nil
}

// LoadSnapshot reads a snapshot from r and adds its quads through the
// zero-id add path, so an active transaction captures them in its undo
// log. It returns the number of quads read.
func (db *DB) LoadSnapshot(ctx context.Context, r io.Reader) (int, error) {
	if db.closed.Load() {
		return 0, ErrClosed
	}
	quads, err := snapshot.Read(resource.NewLimitedReader(ctx, r, db.rc))
	if err != nil {
		return 0, fmt.Errorf("read snapshot: %w", err)
	}
	if err := db.AddQuads(0, quads); err != nil {
		return 0, err
	}
	db.logger.Info("snapshot loaded", "quads", len(quads))
	return len(quads), nil
}

// OpenPipeline creates a streaming ingestion pipeline feeding this
// store. Decoded quads land through the zero-id add path, so an active
// transaction at flush time captures them in its undo log. The caller
// owns the pipeline and must Finalize or Close it.
func (db *DB) OpenPipeline() (*ingest.Pipeline, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	if db.opts.decoder == nil {
		return nil, fmt.Errorf("quadgo: no decoder configured, use WithDecoder")
	}
	p, err := ingest.NewPipeline(db.opts.decoder, pipelineTarget{db}, ingest.Options{
		HighWatermark: db.opts.ingestHighWatermark,
		Cooldown:      db.opts.ingestCooldown,
		Controller:    db.rc,
		Logger:        db.logger.Logger,
	})
	if err != nil {
		return nil, translateError(err)
	}
	return p, nil
}

// ProcessBatch runs one kind of work over all items on the worker pool
// (or inline when no pool is configured). Item failures are reported
// per-result; the returned error covers batch-level failures only.
func (db *DB) ProcessBatch(ctx context.Context, items []batch.Item, kind batch.Kind) ([]batch.Result, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	start := time.Now()
	results, err := db.exec.Process(ctx, items, kind)
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	db.metrics.RecordBatch(len(items), failed, time.Since(start))
	return results, translateError(err)
}

// Stats is a point-in-time view of store, transaction and monitor state.
type Stats struct {
	StoredQuads    int
	TotalProcessed uint64

	SPOEntries int
	POSEntries int
	OSPEntries int

	// BloomCount is the number of keys in the existence filter. Each
	// stored quad contributes one key per index permutation, so this is
	// three per quad, not a quad count.
	BloomCount             uint64
	BloomFalsePositiveRate float64

	ActiveTx int
	Tx       engine.TxCounters

	MemoryReserved int64

	// Monitor holds the most recent interval sample. Zero until the
	// first sampling tick fires.
	Monitor monitor.Sample
}

// Stats returns current statistics. It is read-only and safe to call
// concurrently with writes.
func (db *DB) Stats() Stats {
	spo, pos, osp := db.store.EntryCounts()
	bloomCount, fpr := db.store.FilterStats()
	return Stats{
		StoredQuads:            db.store.Len(),
		TotalProcessed:         db.store.Processed(),
		SPOEntries:             spo,
		POSEntries:             pos,
		OSPEntries:             osp,
		BloomCount:             bloomCount,
		BloomFalsePositiveRate: fpr,
		ActiveTx:               db.txs.ActiveCount(),
		Tx:                     db.txs.Counters(),
		MemoryReserved:         db.rc.MemoryUsage(),
		Monitor:                db.mon.Snapshot(),
	}
}

// Len returns the number of stored quads.
func (db *DB) Len() int {
	return db.store.Len()
}

// Close rolls back all active transactions, stops the monitor, drains
// the worker pool, clears the indexes and rejects further operations.
// Idempotent.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	db.mon.Stop()
	err := db.txs.Close()
	db.exec.Close()
	released := db.store.Len()
	db.store.Clear()
	db.logger.Info("quadgo closed", "released_quads", released)
	return translateError(err)
}

// pipelineTarget adapts the zero-id add path to the ingestion pipeline's
// Target interface, so pipeline flushes hit the same metrics and routing
// as direct writes.
type pipelineTarget struct{ db *DB }

func (t pipelineTarget) Add(txID uint64, quads []rdf.Quad) error {
	return t.db.AddQuads(txID, quads)
}

// dbSource exposes the read-only counters the monitor samples without
// widening the DB API.
type dbSource struct{ db *DB }

func (s dbSource) Processed() uint64                { return s.db.store.Processed() }
func (s dbSource) Len() int                         { return s.db.store.Len() }
func (s dbSource) EntryCounts() (spo, pos, osp int) { return s.db.store.EntryCounts() }
func (s dbSource) TxCounters() engine.TxCounters    { return s.db.txs.Counters() }
func (s dbSource) ActiveTx() int                    { return s.db.txs.ActiveCount() }
