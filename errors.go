package quadgo

import (
	"errors"
	"fmt"

	"github.com/rdfkit/quadgo/batch"
	"github.com/rdfkit/quadgo/engine"
	"github.com/rdfkit/quadgo/ingest"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("quadgo: database closed")

	// ErrTxNotFound is returned when a transaction id does not name an
	// active transaction (it may have committed, rolled back or timed out).
	ErrTxNotFound = errors.New("quadgo: transaction not found")

	// ErrInvalidTimeout is returned when a negative transaction timeout
	// is requested.
	ErrInvalidTimeout = errors.New("quadgo: timeout must not be negative")
)

// ErrInvalidQueryRange indicates a negative limit or offset.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrInvalidQueryRange struct {
	Limit  int
	Offset int
	cause  error
}

func (e *ErrInvalidQueryRange) Error() string {
	return fmt.Sprintf("invalid query range: limit %d, offset %d", e.Limit, e.Offset)
}

func (e *ErrInvalidQueryRange) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, engine.ErrTxNotFound) {
		return fmt.Errorf("%w: %w", ErrTxNotFound, err)
	}

	// Closed-state unification across subsystems.
	if errors.Is(err, engine.ErrClosed) ||
		errors.Is(err, ingest.ErrPipelineClosed) ||
		errors.Is(err, batch.ErrPoolClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	return err
}
