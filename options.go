package quadgo

import (
	"log/slog"
	"time"

	"github.com/rdfkit/quadgo/batch"
	"github.com/rdfkit/quadgo/codec"
	"github.com/rdfkit/quadgo/engine"
	"github.com/rdfkit/quadgo/resource"
)

type options struct {
	codec               codec.Codec
	logger              *Logger
	metricsCollector    MetricsCollector
	observer            engine.Observer
	decoder             batch.Decoder
	bloomCapacity       int
	workerCount         int
	dispatchTimeout     time.Duration
	ingestHighWatermark int
	ingestCooldown      time.Duration
	txDefaultTimeout    time.Duration
	monitorInterval     time.Duration
	resourceLimits      resource.Config
}

// Option configures DB constructor behavior.
//
// Options exist to avoid exploding the API surface with configuration
// variants; everything has a working default.
type Option func(*options)

// WithCodec configures the codec used for snapshot and serialize-batch
// encoding.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := quadgo.NewJSONLogger(slog.LevelInfo)
//	db, _ := quadgo.New(quadgo.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &quadgo.BasicMetricsCollector{}
//	db, _ := quadgo.New(quadgo.WithMetricsCollector(metrics))
//	// ... use db ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithObserver registers a transaction lifecycle observer. The observer
// is invoked synchronously from apply/commit/rollback paths and must be
// cheap.
func WithObserver(obs engine.Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

// WithDecoder configures the parser used by ingestion pipelines and
// parse batches. Required before calling OpenPipeline or running a
// KindParse batch.
func WithDecoder(d batch.Decoder) Option {
	return func(o *options) {
		o.decoder = d
	}
}

// WithBloomCapacity sizes the membership filter for the expected number
// of distinct quads. Defaults to 100k. Undersizing raises the false
// positive rate and with it the number of wasted index probes; it never
// affects correctness.
func WithBloomCapacity(n int) Option {
	return func(o *options) {
		o.bloomCapacity = n
	}
}

// WithWorkerCount sets the parallel batch worker pool size.
// Zero (the default) runs batches sequentially on the caller.
func WithWorkerCount(n int) Option {
	return func(o *options) {
		o.workerCount = n
	}
}

// WithDispatchTimeout bounds how long one batch chunk may wait for a
// worker plus run. A timed-out chunk yields ErrDispatchTimeout results
// without failing the whole batch.
func WithDispatchTimeout(d time.Duration) Option {
	return func(o *options) {
		o.dispatchTimeout = d
	}
}

// WithIngestHighWatermark sets the buffered-quad count above which
// pipeline writes block until a flush drains the buffer.
func WithIngestHighWatermark(n int) Option {
	return func(o *options) {
		o.ingestHighWatermark = n
	}
}

// WithIngestCooldown sets the minimum spacing between backpressure
// releases, damping resume/suspend oscillation under a fast producer.
func WithIngestCooldown(d time.Duration) Option {
	return func(o *options) {
		o.ingestCooldown = d
	}
}

// WithTxDefaultTimeout sets the rollback deadline applied when
// BeginTransaction is called with a zero timeout. Defaults to 30s.
func WithTxDefaultTimeout(d time.Duration) Option {
	return func(o *options) {
		o.txDefaultTimeout = d
	}
}

// WithMonitorInterval sets the metrics sampling interval. Defaults to 1s.
func WithMonitorInterval(d time.Duration) Option {
	return func(o *options) {
		o.monitorInterval = d
	}
}

// WithResourceLimits caps buffered-quad memory, background dispatches
// and snapshot IO throughput. The zero Config tracks usage without
// enforcing limits.
func WithResourceLimits(cfg resource.Config) Option {
	return func(o *options) {
		o.resourceLimits = cfg
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		codec:            codec.Default,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		observer:         engine.NoopObserver{},
		bloomCapacity:    100_000,
		txDefaultTimeout: 30 * time.Second,
		monitorInterval:  time.Second,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.observer == nil {
		o.observer = engine.NoopObserver{}
	}
	if o.bloomCapacity <= 0 {
		o.bloomCapacity = 100_000
	}
	if o.txDefaultTimeout <= 0 {
		o.txDefaultTimeout = 30 * time.Second
	}
	return o
}
