package quadgo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    addCounter     prometheus.Counter
//	    queryHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordAdd(count int, duration time.Duration, err error) {
//	    p.addCounter.Add(float64(count))
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordAdd is called after each add operation.
	// count is the number of quads submitted, duration is the total
	// time taken, err is nil if successful.
	RecordAdd(count int, duration time.Duration, err error)

	// RecordRemove is called after each remove operation.
	RecordRemove(count int, duration time.Duration, err error)

	// RecordQuery is called after each pattern query.
	// results is the number of quads returned.
	RecordQuery(results int, duration time.Duration, err error)

	// RecordBatch is called after each parallel batch run.
	// count is the number of items attempted, failed is the number that
	// produced an error, duration is the total time taken.
	RecordBatch(count, failed int, duration time.Duration)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAdd(int, time.Duration, error)    {}
func (NoopMetricsCollector) RecordRemove(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordQuery(int, time.Duration, error)  {}
func (NoopMetricsCollector) RecordBatch(int, int, time.Duration)    {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AddCount         atomic.Int64
	AddQuads         atomic.Int64
	AddErrors        atomic.Int64
	AddTotalNanos    atomic.Int64
	RemoveCount      atomic.Int64
	RemoveQuads      atomic.Int64
	RemoveErrors     atomic.Int64
	RemoveTotalNanos atomic.Int64
	QueryCount       atomic.Int64
	QueryResults     atomic.Int64
	QueryErrors      atomic.Int64
	QueryTotalNanos  atomic.Int64
	BatchCount       atomic.Int64
	BatchItems       atomic.Int64
	BatchFailed      atomic.Int64
}

// RecordAdd implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAdd(count int, duration time.Duration, err error) {
	b.AddCount.Add(1)
	b.AddQuads.Add(int64(count))
	b.AddTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.AddErrors.Add(1)
	}
}

// RecordRemove implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRemove(count int, duration time.Duration, err error) {
	b.RemoveCount.Add(1)
	b.RemoveQuads.Add(int64(count))
	b.RemoveTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.RemoveErrors.Add(1)
	}
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(results int, duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryResults.Add(int64(results))
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// RecordBatch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBatch(count, failed int, duration time.Duration) {
	b.BatchCount.Add(1)
	b.BatchItems.Add(int64(count))
	b.BatchFailed.Add(int64(failed))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		AddCount:       b.AddCount.Load(),
		AddQuads:       b.AddQuads.Load(),
		AddErrors:      b.AddErrors.Load(),
		AddAvgNanos:    avgNanos(b.AddTotalNanos.Load(), b.AddCount.Load()),
		RemoveCount:    b.RemoveCount.Load(),
		RemoveQuads:    b.RemoveQuads.Load(),
		RemoveErrors:   b.RemoveErrors.Load(),
		RemoveAvgNanos: avgNanos(b.RemoveTotalNanos.Load(), b.RemoveCount.Load()),
		QueryCount:     b.QueryCount.Load(),
		QueryResults:   b.QueryResults.Load(),
		QueryErrors:    b.QueryErrors.Load(),
		QueryAvgNanos:  avgNanos(b.QueryTotalNanos.Load(), b.QueryCount.Load()),
		BatchCount:     b.BatchCount.Load(),
		BatchItems:     b.BatchItems.Load(),
		BatchFailed:    b.BatchFailed.Load(),
	}
}

func avgNanos(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a point-in-time snapshot of BasicMetricsCollector.
type BasicMetricsStats struct {
	AddCount       int64
	AddQuads       int64
	AddErrors      int64
	AddAvgNanos    int64
	RemoveCount    int64
	RemoveQuads    int64
	RemoveErrors   int64
	RemoveAvgNanos int64
	QueryCount     int64
	QueryResults   int64
	QueryErrors    int64
	QueryAvgNanos  int64
	BatchCount     int64
	BatchItems     int64
	BatchFailed    int64
}
