// Package engine contains the single-writer core of quadgo: the quad
// store, which owns the triple index manager exclusively, and the
// transaction manager, which buffers add/remove operations per
// transaction and supports commit, rollback and timeout-driven forced
// rollback.
//
// Transactions follow an apply-then-undo design: operations are applied
// to the indexes the moment they are issued and logged with their
// effective delta. Commit only flips status; rollback replays the
// logged deltas inverted, in reverse chronological order. Reads issued
// mid-transaction therefore always see the transaction's own writes.
package engine
