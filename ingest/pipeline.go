package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/rdfkit/quadgo/rdf"
	"github.com/rdfkit/quadgo/resource"
)

// Decoder is the external parser collaborator: it turns one raw chunk
// into quads. A decode error is fatal to that chunk only.
type Decoder interface {
	Decode(chunk []byte) ([]rdf.Quad, error)
}

// Target is where decoded quads land: the transaction manager's add path.
// A zero id routes to the current transaction, or directly to the indexes
// when none is active.
type Target interface {
	Add(txID uint64, quads []rdf.Quad) error
}

// DecodeError reports a malformed chunk. The pipeline continues with the
// next chunk.
type DecodeError struct {
	Chunk int // 0-based chunk ordinal
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("ingest: decode chunk %d: %v", e.Chunk, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ErrPipelineClosed is returned by Write/Finalize after Close.
var ErrPipelineClosed = errors.New("ingest: pipeline closed")

// Options configures a Pipeline.
type Options struct {
	// HighWatermark is the buffered-quad count above which Write blocks.
	// Defaults to 10000.
	HighWatermark int

	// Cooldown is the minimum spacing between backpressure releases.
	// Defaults to 100ms.
	Cooldown time.Duration

	// Controller accounts buffered-quad memory. Nil disables accounting.
	Controller *resource.Controller

	// Logger for per-chunk failures. Nil discards.
	Logger *slog.Logger
}

// Stats is a snapshot of pipeline progress, emitted by Finalize and
// available at any time through Pipeline.Stats.
type Stats struct {
	Chunks       uint64
	Bytes        uint64
	Quads        uint64
	DecodeErrors uint64
	Suspensions  uint64
}

// Pipeline is the streaming transform. One pipeline serves one upstream
// source; Write is not safe for concurrent use, matching the
// single-source streaming model.
type Pipeline struct {
	decoder Decoder
	target  Target
	opts    Options

	mu       sync.Mutex
	cond     *sync.Cond
	buffer   []rdf.Quad
	bufMem   int64
	flushing bool
	applyErr error

	flushCh chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool

	resume *rate.Limiter

	chunks       atomic.Uint64
	bytes        atomic.Uint64
	quads        atomic.Uint64
	decodeErrors atomic.Uint64
	suspensions  atomic.Uint64

	logger *slog.Logger
}

// NewPipeline creates and starts a pipeline. decoder and target are
// required.
func NewPipeline(decoder Decoder, target Target, opts Options) (*Pipeline, error) {
	if decoder == nil {
		return nil, errors.New("ingest: decoder is required")
	}
	if target == nil {
		return nil, errors.New("ingest: target is required")
	}
	if opts.HighWatermark < 0 {
		return nil, fmt.Errorf("ingest: invalid high watermark %d", opts.HighWatermark)
	}
	if opts.HighWatermark == 0 {
		opts.HighWatermark = 10000
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 100 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	p := &Pipeline{
		decoder: decoder,
		target:  target,
		opts:    opts,
		flushCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		resume:  rate.NewLimiter(rate.Every(opts.Cooldown), 1),
		logger:  opts.Logger,
	}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(1)
	go p.runFlushWorker()

	return p, nil
}

// Write decodes one chunk and buffers its quads. It blocks while the
// pipeline is over its high watermark; that suspension is the
// backpressure signal. A decode error fails only this chunk.
func (p *Pipeline) Write(ctx context.Context, chunk []byte) error {
	if p.closed.Load() {
		return ErrPipelineClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ord := int(p.chunks.Add(1)) - 1
	p.bytes.Add(uint64(len(chunk)))

	quads, err := p.decoder.Decode(chunk)
	if err != nil {
		p.decodeErrors.Add(1)
		derr := &DecodeError{Chunk: ord, Err: err}
		p.logger.Warn("chunk decode failed",
			slog.Int("chunk", ord),
			slog.Any("error", err),
		)
		return derr
	}
	if len(quads) == 0 {
		return nil
	}
	p.quads.Add(uint64(len(quads)))

	mem := int64(len(chunk))
	if mem == 0 {
		mem = int64(len(quads))
	}
	if err := p.opts.Controller.AcquireMemory(ctx, mem); err != nil {
		return err
	}

	p.mu.Lock()
	p.buffer = append(p.buffer, quads...)
	p.bufMem += mem
	size := len(p.buffer)
	if err := p.applyErr; err != nil {
		p.applyErr = nil
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()

	p.signalFlush()

	if size >= p.opts.HighWatermark {
		p.suspensions.Add(1)
		if err := p.awaitDrain(ctx); err != nil {
			return err
		}
		// Pace resumption: under bursty input the buffer can drain and
		// refill rapidly; the limiter spaces releases by the cooldown.
		if err := p.resume.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// awaitDrain blocks until the buffer is below the high watermark.
func (p *Pipeline) awaitDrain(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)

	// cond has no context support; poke the waiter on cancellation.
	go func() {
		select {
		case <-ctx.Done():
			p.cond.Broadcast()
		case <-done:
		}
	}()

	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.buffer) >= p.opts.HighWatermark {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.closed.Load() {
			return ErrPipelineClosed
		}
		p.cond.Wait()
	}
	return nil
}

func (p *Pipeline) signalFlush() {
	select {
	case p.flushCh <- struct{}{}:
	default:
	}
}

// runFlushWorker drains the buffer to the target. It is the only
// goroutine applying pipeline quads, preserving the single-writer model.
func (p *Pipeline) runFlushWorker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.flushCh:
			p.flush()
		case <-p.stopCh:
			p.flush()
			return
		}
	}
}

// flush swaps out the buffer and applies it.
func (p *Pipeline) flush() {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	batch := p.buffer
	mem := p.bufMem
	p.buffer = nil
	p.bufMem = 0
	p.flushing = true
	// The drain condition holds as soon as the buffer is swapped out;
	// wake backpressured writers now rather than after the apply, which
	// may be arbitrarily slow.
	p.cond.Broadcast()
	p.mu.Unlock()

	err := p.target.Add(0, batch)
	p.opts.Controller.ReleaseMemory(mem)

	p.mu.Lock()
	p.flushing = false
	if err != nil {
		p.applyErr = err
		p.logger.Error("flush apply failed", slog.Any("error", err))
	}
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Finalize flushes remaining buffered quads and returns final stats. The
// pipeline stays usable; call Close to stop the worker.
func (p *Pipeline) Finalize(ctx context.Context) (Stats, error) {
	if p.closed.Load() {
		return Stats{}, ErrPipelineClosed
	}

	p.signalFlush()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.cond.Broadcast()
		case <-done:
		}
	}()

	p.mu.Lock()
	for len(p.buffer) > 0 || p.flushing {
		if err := ctx.Err(); err != nil {
			p.mu.Unlock()
			return p.Stats(), err
		}
		p.cond.Wait()
	}
	err := p.applyErr
	p.applyErr = nil
	p.mu.Unlock()

	stats := p.Stats()
	p.logger.Info("pipeline finalized",
		slog.Uint64("chunks", stats.Chunks),
		slog.Uint64("quads", stats.Quads),
		slog.Uint64("decode_errors", stats.DecodeErrors),
	)
	return stats, err
}

// Stats returns a consistent snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Chunks:       p.chunks.Load(),
		Bytes:        p.bytes.Load(),
		Quads:        p.quads.Load(),
		DecodeErrors: p.decodeErrors.Load(),
		Suspensions:  p.suspensions.Load(),
	}
}

// Close stops the flush worker after a final drain. Idempotent.
func (p *Pipeline) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(p.stopCh)
	p.wg.Wait()
	p.cond.Broadcast()
	return nil
}
