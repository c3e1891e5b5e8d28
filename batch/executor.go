// Package batch executes large, already-materialized workloads (parse,
// hash, serialize) across a fixed worker pool.
//
// Workers never touch shared index or transaction state: each work item
// is owned exclusively by its chunk for the duration of dispatch, and
// results return to the caller, which applies them on the single-writer
// context. With zero workers configured the same operations run
// sequentially in-process; callers observe identical results either way,
// only different latency.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rdfkit/quadgo/codec"
	"github.com/rdfkit/quadgo/rdf"
	"github.com/rdfkit/quadgo/resource"
)

// Kind selects the operation applied to every item of a batch.
type Kind int

const (
	KindParse Kind = iota
	KindHash
	KindSerialize
)

// String returns the operation name.
func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse"
	case KindHash:
		return "hash"
	case KindSerialize:
		return "serialize"
	default:
		return "unknown"
	}
}

// Item is one unit of work. Payload feeds parse; Quad feeds hash and
// serialize. Items are never shared mutably across workers.
type Item struct {
	Payload []byte
	Quad    rdf.Quad
}

// Result is the outcome for the item at the same position in the input.
// Exactly one of Quads/Hash/Bytes is populated on success, matching the
// operation kind; Err is set per-item when its chunk failed.
type Result struct {
	Quads []rdf.Quad
	Hash  uint64
	Bytes []byte
	Err   error
}

var (
	// ErrPoolClosed is returned when submitting to a closed pool.
	ErrPoolClosed = errors.New("batch: worker pool closed")

	// ErrDispatchTimeout marks the results of a chunk whose dispatch
	// exceeded the execution timeout. Other in-flight chunks are not
	// cancelled.
	ErrDispatchTimeout = errors.New("batch: dispatch timeout")
)

// Decoder parses raw payloads into quads (same collaborator contract as
// the ingestion pipeline).
type Decoder interface {
	Decode(chunk []byte) ([]rdf.Quad, error)
}

// Options configures an Executor.
type Options struct {
	// Workers is the pool size. Zero disables the pool and runs batches
	// sequentially. Negative is a configuration error.
	Workers int

	// DispatchTimeout bounds one chunk dispatch. Zero defaults to 30s.
	// Ignored on the sequential path.
	DispatchTimeout time.Duration

	// Decoder is required for parse batches.
	Decoder Decoder

	// Codec is used by serialize batches. Nil falls back to codec.Default.
	Codec codec.Codec

	// Controller caps concurrent chunk dispatches through its background
	// worker slots. Nil disables the cap.
	Controller *resource.Controller
}

// Executor splits batches into contiguous chunks, one per worker, and
// joins the results preserving input order.
type Executor struct {
	pool    *WorkerPool
	timeout time.Duration
	decoder Decoder
	codec   codec.Codec
	rc      *resource.Controller
}

// NewExecutor validates the options and creates the executor. Invalid
// pool sizing is fatal at construction, per the engine's
// configuration-error policy.
func NewExecutor(opts Options) (*Executor, error) {
	if opts.Workers < 0 {
		return nil, fmt.Errorf("batch: invalid worker count %d", opts.Workers)
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 30 * time.Second
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}

	e := &Executor{
		timeout: opts.DispatchTimeout,
		decoder: opts.Decoder,
		codec:   opts.Codec,
		rc:      opts.Controller,
	}
	if opts.Workers > 0 {
		e.pool = NewWorkerPool(opts.Workers)
	}
	return e, nil
}

// Process runs the operation over all items and returns one Result per
// item, in input order. Per-chunk failures (including dispatch timeouts)
// are reported in the affected Results, not as a batch error; the
// returned error covers batch-level failures only (cancelled context,
// closed pool, missing collaborator).
func (e *Executor) Process(ctx context.Context, items []Item, kind Kind) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if kind == KindParse && e.decoder == nil {
		return nil, errors.New("batch: parse requires a decoder")
	}
	if len(items) == 0 {
		return nil, nil
	}

	if e.pool == nil {
		out := make([]Result, len(items))
		e.runChunk(kind, items, out)
		return out, nil
	}
	return e.processParallel(ctx, items, kind)
}

func (e *Executor) processParallel(ctx context.Context, items []Item, kind Kind) ([]Result, error) {
	workers := e.pool.Size()
	chunkSize := (len(items) + workers - 1) / workers

	out := make([]Result, len(items))

	// Each chunk computes into a private slice delivered through its own
	// future channel. On timeout the future is abandoned: the worker
	// still finishes and returns to the pool, but its results are
	// discarded. The errgroup only joins waiters; chunk failures land in
	// out, never here.
	var g errgroup.Group
	for start := 0; start < len(items); start += chunkSize {
		end := min(start+chunkSize, len(items))
		chunk := items[start:end]
		region := out[start:end]

		// The background slot bounds concurrent dispatches independently
		// of the pool size; acquisition blocks the submitting caller, not
		// a worker.
		if err := e.rc.AcquireBackground(ctx); err != nil {
			return nil, err
		}

		future := make(chan []Result, 1)
		if err := e.pool.Submit(ctx, func() {
			defer e.rc.ReleaseBackground()
			res := make([]Result, len(chunk))
			e.runChunk(kind, chunk, res)
			future <- res
		}); err != nil {
			e.rc.ReleaseBackground()
			return nil, err
		}

		g.Go(func() error {
			timer := time.NewTimer(e.timeout)
			defer timer.Stop()

			select {
			case res := <-future:
				copy(region, res)
			case <-timer.C:
				for i := range region {
					region[i] = Result{Err: ErrDispatchTimeout}
				}
			case <-ctx.Done():
				for i := range region {
					region[i] = Result{Err: ctx.Err()}
				}
			}
			return nil
		})
	}

	_ = g.Wait() // waiters never error; failures are per-result
	return out, nil
}

// runChunk executes the operation over one chunk. It is a pure function
// of the chunk: no shared state is read or written.
func (e *Executor) runChunk(kind Kind, chunk []Item, res []Result) {
	for i, item := range chunk {
		res[i] = e.runItem(kind, item)
	}
}

func (e *Executor) runItem(kind Kind, item Item) Result {
	switch kind {
	case KindParse:
		quads, err := e.decoder.Decode(item.Payload)
		if err != nil {
			return Result{Err: err}
		}
		return Result{Quads: quads}
	case KindHash:
		return Result{Hash: item.Quad.Hash()}
	case KindSerialize:
		b, err := e.codec.Marshal(item.Quad)
		if err != nil {
			return Result{Err: err}
		}
		return Result{Bytes: b}
	default:
		return Result{Err: fmt.Errorf("batch: unknown operation kind %d", kind)}
	}
}

// Close drains and stops the worker pool. Safe on a sequential executor.
func (e *Executor) Close() {
	if e.pool != nil {
		e.pool.Close()
	}
}
