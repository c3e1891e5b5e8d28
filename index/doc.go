// Package index implements the triple index manager: three permutation
// indexes (SPO, POS, OSP) over composite term keys, with pattern-driven
// index selection, prefix range scans and a Bloom-filter existence
// pre-check.
//
// Each index maps the composite key of its two leading terms to a posting
// list (a roaring bitmap of dense quad IDs); a shared dictionary resolves
// IDs back to quads. A quad present in the store appears in exactly one
// bucket of each of the three indexes; the manager adds and removes the
// three entries together.
//
// The manager is not safe for concurrent use on its own. All mutation is
// funneled through the single-writer engine core, which owns the lock.
package index
