package engine

import "time"

// Observer receives transaction lifecycle notifications. It replaces the
// event-bus style of notification with an injected callback interface so
// callers can assert on observed events without listener registration
// races.
//
// Callbacks are invoked synchronously on the mutating goroutine and must
// be cheap and non-blocking.
type Observer interface {
	// OnApply is called after operations are applied to the indexes.
	// delta is the number of quads that actually changed the store.
	OnApply(kind OpKind, requested, delta int)

	// OnCommit is called when a transaction commits. ops is the length
	// of its operation log.
	OnCommit(id uint64, ops int, lifetime time.Duration)

	// OnRollback is called after a caller-requested rollback completes.
	OnRollback(id uint64, ops int)

	// OnTimeout is called after a timeout-driven forced rollback.
	// Timeouts surface as events, not errors: they are driven by an
	// internal timer rather than caller action.
	OnTimeout(id uint64, ops int)
}

// NoopObserver is the default Observer; it discards all notifications.
type NoopObserver struct{}

func (NoopObserver) OnApply(OpKind, int, int)            {}
func (NoopObserver) OnCommit(uint64, int, time.Duration) {}
func (NoopObserver) OnRollback(uint64, int)              {}
func (NoopObserver) OnTimeout(uint64, int)               {}
