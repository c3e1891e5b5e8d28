// Package monitor samples engine throughput, memory and index statistics
// on a fixed interval. It is strictly read-only with respect to the
// engine and safe to sample concurrently with any other operation.
package monitor

import (
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rdfkit/quadgo/engine"
)

// Source exposes the read-only counters the monitor samples. The facade
// implements it; nothing here can mutate engine state.
type Source interface {
	// Processed returns total quads routed through apply paths.
	Processed() uint64

	// Len returns the current quad count.
	Len() int

	// EntryCounts returns per-index bucket counts.
	EntryCounts() (spo, pos, osp int)

	// TxCounters returns transaction counts by terminal status.
	TxCounters() engine.TxCounters

	// ActiveTx returns the number of non-terminal transactions.
	ActiveTx() int
}

// Sample is one interval observation.
type Sample struct {
	At time.Time

	// TotalProcessed is the cumulative quad count at sampling time;
	// Delta is the increment since the previous sample and QuadsPerSec
	// the resulting instantaneous throughput.
	TotalProcessed uint64
	Delta          uint64
	QuadsPerSec    float64

	StoredQuads   int
	HeapAllocByte uint64

	SPOEntries int
	POSEntries int
	OSPEntries int

	ActiveTx int
	Tx       engine.TxCounters
}

// Monitor periodically samples a Source.
type Monitor struct {
	source   Source
	interval time.Duration
	logger   *slog.Logger

	latest atomic.Pointer[Sample]

	lastProcessed uint64
	lastAt        time.Time

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started atomic.Bool
	stopped atomic.Bool
}

// New creates a monitor. Interval must be positive; a nil logger
// disables per-sample logging.
func New(source Source, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Monitor{
		source:   source,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sampling loop. Calling Start twice is a no-op.
func (m *Monitor) Start() {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	m.lastAt = time.Now()
	m.lastProcessed = m.source.Processed()

	m.wg.Add(1)
	go m.run()
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sample()
		case <-m.stopCh:
			return
		}
	}
}

// sample takes one observation and publishes it.
func (m *Monitor) sample() {
	now := time.Now()
	total := m.source.Processed()
	delta := total - m.lastProcessed
	elapsed := now.Sub(m.lastAt).Seconds()

	var qps float64
	if elapsed > 0 {
		qps = float64(delta) / elapsed
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	spo, pos, osp := m.source.EntryCounts()

	s := &Sample{
		At:             now,
		TotalProcessed: total,
		Delta:          delta,
		QuadsPerSec:    qps,
		StoredQuads:    m.source.Len(),
		HeapAllocByte:  mem.HeapAlloc,
		SPOEntries:     spo,
		POSEntries:     pos,
		OSPEntries:     osp,
		ActiveTx:       m.source.ActiveTx(),
		Tx:             m.source.TxCounters(),
	}
	m.latest.Store(s)
	m.lastProcessed = total
	m.lastAt = now

	m.logger.Debug("metrics sample",
		slog.Uint64("total", s.TotalProcessed),
		slog.Float64("quads_per_sec", s.QuadsPerSec),
		slog.Int("stored", s.StoredQuads),
		slog.Uint64("heap_alloc", s.HeapAllocByte),
		slog.Int("active_tx", s.ActiveTx),
	)
}

// Snapshot returns the most recent sample, or a zero Sample before the
// first interval elapses. Safe for concurrent use.
func (m *Monitor) Snapshot() Sample {
	if s := m.latest.Load(); s != nil {
		return *s
	}
	return Sample{}
}

// Stop halts sampling. Idempotent.
func (m *Monitor) Stop() {
	if !m.started.Load() || !m.stopped.CompareAndSwap(false, true) {
		return
	}
	close(m.stopCh)
	m.wg.Wait()
}
