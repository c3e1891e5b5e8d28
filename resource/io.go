package resource

import (
	"context"
	"io"
)

// LimitedWriter throttles writes through the controller's IO limiter.
// Snapshot export wraps its destination in one when a limit is set.
type LimitedWriter struct {
	ctx context.Context
	w   io.Writer
	rc  *Controller
}

// NewLimitedWriter wraps w. ctx bounds the time spent waiting on the
// limiter.
func NewLimitedWriter(ctx context.Context, w io.Writer, rc *Controller) *LimitedWriter {
	return &LimitedWriter{ctx: ctx, w: w, rc: rc}
}

func (lw *LimitedWriter) Write(p []byte) (int, error) {
	if err := lw.rc.AcquireIO(lw.ctx, len(p)); err != nil {
		return 0, err
	}
	return lw.w.Write(p)
}

// LimitedReader throttles reads through the controller's IO limiter.
type LimitedReader struct {
	ctx context.Context
	r   io.Reader
	rc  *Controller
}

// NewLimitedReader wraps r.
func NewLimitedReader(ctx context.Context, r io.Reader, rc *Controller) *LimitedReader {
	return &LimitedReader{ctx: ctx, r: r, rc: rc}
}

func (lr *LimitedReader) Read(p []byte) (int, error) {
	// The read size is unknown up front; reserving the buffer size keeps
	// the limiter conservative.
	if err := lr.rc.AcquireIO(lr.ctx, len(p)); err != nil {
		return 0, err
	}
	return lr.r.Read(p)
}
