package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdfkit/quadgo/rdf"
)

// lineDecoder decodes "s p o" per line; a line reading "bad" fails the
// chunk.
type lineDecoder struct{}

func (lineDecoder) Decode(chunk []byte) ([]rdf.Quad, error) {
	var quads []rdf.Quad
	for _, line := range bytes.Split(chunk, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		fields := bytes.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed line %q", line)
		}
		quads = append(quads, rdf.NewQuad(
			rdf.NewNamedNode(string(fields[0])),
			rdf.NewNamedNode(string(fields[1])),
			rdf.NewLiteral(string(fields[2])),
		))
	}
	return quads, nil
}

// memTarget collects applied quads.
type memTarget struct {
	mu    sync.Mutex
	quads []rdf.Quad
	err   error
	slow  time.Duration
}

func (m *memTarget) Add(txID uint64, quads []rdf.Quad) error {
	if m.slow > 0 {
		time.Sleep(m.slow)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.quads = append(m.quads, quads...)
	return nil
}

func (m *memTarget) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.quads)
}

func TestPipeline_DecodeAndApply(t *testing.T) {
	target := &memTarget{}
	p, err := NewPipeline(lineDecoder{}, target, Options{})
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.Write(ctx, []byte("ex:s1 ex:p o1\nex:s2 ex:p o2")))
	require.NoError(t, p.Write(ctx, []byte("ex:s3 ex:p o3")))

	stats, err := p.Finalize(ctx)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), stats.Chunks)
	assert.Equal(t, uint64(3), stats.Quads)
	assert.Equal(t, uint64(0), stats.DecodeErrors)
	assert.Equal(t, 3, target.len())
}

func TestPipeline_DecodeErrorIsChunkScoped(t *testing.T) {
	target := &memTarget{}
	p, err := NewPipeline(lineDecoder{}, target, Options{})
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.Write(ctx, []byte("ex:s1 ex:p o1")))

	err = p.Write(ctx, []byte("bad"))
	var derr *DecodeError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, 1, derr.Chunk)

	// Pipeline continues with the next chunk.
	require.NoError(t, p.Write(ctx, []byte("ex:s2 ex:p o2")))

	stats, err := p.Finalize(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.DecodeErrors)
	assert.Equal(t, uint64(2), stats.Quads)
	assert.Equal(t, 2, target.len())
}

func TestPipeline_BackpressureEngagesAboveWatermark(t *testing.T) {
	// A slow target keeps the buffer full, so a burst of writes must
	// suspend at least once.
	target := &memTarget{slow: 20 * time.Millisecond}
	p, err := NewPipeline(lineDecoder{}, target, Options{
		HighWatermark: 2,
		Cooldown:      time.Millisecond,
	})
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Write(ctx, fmt.Appendf(nil, "ex:s%d ex:p o\nex:s%db ex:p o", i, i)))
	}

	stats, err := p.Finalize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, target.len())
	assert.NotZero(t, stats.Suspensions, "burst past the watermark must suspend the writer")
}

func TestPipeline_BackpressureRespectsContext(t *testing.T) {
	block := make(chan struct{})
	target := &blockingTarget{release: block}
	p, err := NewPipeline(lineDecoder{}, target, Options{HighWatermark: 1})
	require.NoError(t, err)
	defer func() {
		close(block)
		p.Close()
	}()

	ctx := context.Background()
	require.NoError(t, p.Write(ctx, []byte("ex:s0 ex:p o\nex:s1 ex:p o")))

	// The worker is stuck in the target; the buffer cannot drain, so a
	// watermark-crossing write must give up with the context.
	cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err = p.Write(cctx, []byte("ex:s2 ex:p o\nex:s3 ex:p o"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPipeline_DrainReleasesWritersDuringApply(t *testing.T) {
	block := make(chan struct{})
	target := &blockingTarget{release: block}
	p, err := NewPipeline(lineDecoder{}, target, Options{HighWatermark: 1})
	require.NoError(t, err)
	defer func() {
		close(block)
		p.Close()
	}()

	// The write crosses the watermark and suspends. The worker swaps
	// the buffer out before handing it to the target, so the drain
	// condition holds while the apply is still in flight and the
	// writer must come back without waiting on the blocked target.
	done := make(chan error, 1)
	go func() {
		done <- p.Write(context.Background(), []byte("ex:s0 ex:p o\nex:s1 ex:p o"))
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("writer still suspended while the apply is in flight")
	}
}

type blockingTarget struct {
	release chan struct{}
}

func (b *blockingTarget) Add(txID uint64, quads []rdf.Quad) error {
	<-b.release
	return nil
}

func TestPipeline_ApplyErrorSurfacesOnFinalize(t *testing.T) {
	target := &memTarget{err: errors.New("index unavailable")}
	p, err := NewPipeline(lineDecoder{}, target, Options{})
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.Write(ctx, []byte("ex:s ex:p o")))

	_, err = p.Finalize(ctx)
	assert.ErrorContains(t, err, "index unavailable")
}

func TestPipeline_ClosedRejectsWrites(t *testing.T) {
	p, err := NewPipeline(lineDecoder{}, &memTarget{}, Options{})
	require.NoError(t, err)
	require.NoError(t, p.Close())

	assert.ErrorIs(t, p.Write(context.Background(), []byte("ex:s ex:p o")), ErrPipelineClosed)
	_, err = p.Finalize(context.Background())
	assert.ErrorIs(t, err, ErrPipelineClosed)
	require.NoError(t, p.Close())
}

func TestPipeline_ConstructorValidation(t *testing.T) {
	_, err := NewPipeline(nil, &memTarget{}, Options{})
	assert.Error(t, err)

	_, err = NewPipeline(lineDecoder{}, nil, Options{})
	assert.Error(t, err)

	_, err = NewPipeline(lineDecoder{}, &memTarget{}, Options{HighWatermark: -1})
	assert.Error(t, err)
}
