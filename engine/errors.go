package engine

import "errors"

var (
	// ErrTxNotFound is returned by commit/rollback/add/remove for an
	// unknown or already-terminal transaction id.
	ErrTxNotFound = errors.New("transaction not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("engine closed")
)
