package index

import (
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/rdfkit/quadgo/internal/bloom"
	"github.com/rdfkit/quadgo/rdf"
)

// Order identifies one of the three permutation indexes.
type Order int

// Index declaration order. Ties in index selection are broken in this
// order.
const (
	SPO Order = iota
	POS
	OSP
)

// String returns the name of the index order.
func (o Order) String() string {
	switch o {
	case SPO:
		return "SPO"
	case POS:
		return "POS"
	case OSP:
		return "OSP"
	default:
		return "Unknown"
	}
}

// leading returns the two leading terms of a quad for this order.
func (o Order) leading(q rdf.Quad) (rdf.Term, rdf.Term) {
	switch o {
	case POS:
		return q.Predicate, q.Object
	case OSP:
		return q.Object, q.Subject
	default:
		return q.Subject, q.Predicate
	}
}

// boundLeading returns the bound leading terms of a pattern for this
// order. second is only meaningful when first is non-nil.
func (o Order) boundLeading(p rdf.Pattern) (first, second *rdf.Term) {
	switch o {
	case POS:
		return p.Predicate, p.Object
	case OSP:
		return p.Object, p.Subject
	default:
		return p.Subject, p.Predicate
	}
}

// permIndex is a single permutation index: composite two-term key to
// posting list of quad IDs.
type permIndex struct {
	order   Order
	buckets map[string]*roaring.Bitmap
}

func newPermIndex(order Order) *permIndex {
	return &permIndex{
		order:   order,
		buckets: make(map[string]*roaring.Bitmap),
	}
}

func (pi *permIndex) key(q rdf.Quad) string {
	a, b := pi.order.leading(q)
	return rdf.JoinKey(a.Key(), b.Key())
}

func (pi *permIndex) add(q rdf.Quad, id uint32) {
	k := pi.key(q)
	bm, ok := pi.buckets[k]
	if !ok {
		bm = roaring.New()
		pi.buckets[k] = bm
	}
	bm.Add(id)
}

// remove deletes the posting for id and reports whether it was present.
func (pi *permIndex) remove(q rdf.Quad, id uint32) bool {
	k := pi.key(q)
	bm, ok := pi.buckets[k]
	if !ok || !bm.Contains(id) {
		return false
	}
	bm.Remove(id)
	if bm.IsEmpty() {
		delete(pi.buckets, k)
	}
	return true
}

// Manager owns the three permutation indexes, the quad dictionary and the
// Bloom filter. No other component holds a mutable reference to any of
// them.
type Manager struct {
	perms  [3]*permIndex
	filter *bloom.Filter

	quads  map[uint32]rdf.Quad
	byKey  map[string]uint32
	nextID uint32
	freed  []uint32

	logger *slog.Logger
}

// NewManager creates an empty manager. bloomCapacity sizes the existence
// filter (elements at ~1% false positive rate). A nil logger disables
// invariant-violation logging.
func NewManager(bloomCapacity int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		perms: [3]*permIndex{
			newPermIndex(SPO),
			newPermIndex(POS),
			newPermIndex(OSP),
		},
		filter: bloom.NewForCapacity(bloomCapacity),
		quads:  make(map[uint32]rdf.Quad),
		byKey:  make(map[string]uint32),
		logger: logger,
	}
}

// Len returns the number of quads in the store.
func (m *Manager) Len() int { return len(m.quads) }

// EntryCounts returns the bucket count of each permutation index.
func (m *Manager) EntryCounts() (spo, pos, osp int) {
	return len(m.perms[SPO].buckets), len(m.perms[POS].buckets), len(m.perms[OSP].buckets)
}

// FilterStats reports the Bloom filter's added-key count and estimated
// false positive rate.
func (m *Manager) FilterStats() (count uint64, fpr float64) {
	return m.filter.Count(), m.filter.EstimatedFalsePositiveRate()
}

// Add inserts a quad into all three indexes and the Bloom filter. Adding
// a structurally duplicate quad is a successful no-op; the return value
// reports whether the store changed.
func (m *Manager) Add(q rdf.Quad) bool {
	fullKey := q.Key()
	if _, exists := m.byKey[fullKey]; exists {
		return false
	}

	id := m.allocID()
	m.quads[id] = q
	m.byKey[fullKey] = id
	for _, pi := range m.perms {
		pi.add(q, id)
		m.filter.Add(pi.key(q))
	}
	return true
}

// Remove deletes a quad from all three indexes. Removing an absent quad
// is a successful no-op. The Bloom filter is append-only and is not
// touched; stale positives are expected and harmless.
func (m *Manager) Remove(q rdf.Quad) bool {
	fullKey := q.Key()
	id, exists := m.byKey[fullKey]
	if !exists {
		return false
	}

	for _, pi := range m.perms {
		if !pi.remove(q, id) {
			// A quad known to the dictionary must have an entry in
			// every permutation index. Log and repair rather than
			// silently ignoring desynchronization.
			m.logger.Error("index invariant violation: missing posting on remove",
				slog.String("index", pi.order.String()),
				slog.String("quad", q.String()),
			)
		}
	}

	delete(m.quads, id)
	delete(m.byKey, fullKey)
	m.freed = append(m.freed, id)
	return true
}

// Contains reports whether the exact quad is present.
func (m *Manager) Contains(q rdf.Quad) bool {
	_, ok := m.byKey[q.Key()]
	return ok
}

// ExportAll returns a full, unordered snapshot of the current contents.
func (m *Manager) ExportAll() []rdf.Quad {
	out := make([]rdf.Quad, 0, len(m.quads))
	for _, q := range m.quads {
		out = append(out, q)
	}
	return out
}

// Clear drops all quads, postings and the Bloom filter state.
func (m *Manager) Clear() {
	for i := range m.perms {
		m.perms[i] = newPermIndex(Order(i))
	}
	m.filter.Clear()
	m.quads = make(map[uint32]rdf.Quad)
	m.byKey = make(map[string]uint32)
	m.nextID = 0
	m.freed = nil
}

func (m *Manager) allocID() uint32 {
	if n := len(m.freed); n > 0 {
		id := m.freed[n-1]
		m.freed = m.freed[:n-1]
		return id
	}
	id := m.nextID
	m.nextID++
	return id
}

// Query returns quads matching the pattern, paginated over the logical
// union of all matching buckets. Unmatched patterns return an empty
// slice, never an error. limit <= 0 means unlimited.
func (m *Manager) Query(p rdf.Pattern, limit, offset int) []rdf.Quad {
	order, first, second := Select(p)

	// Bloom pre-check: only derivable when both leading terms of the
	// chosen index are bound. A negative is proof of absence.
	if first != nil && second != nil {
		if !m.filter.MayContain(rdf.JoinKey(first.Key(), second.Key())) {
			return nil
		}
	}

	pi := m.perms[order]

	var ids []uint32
	switch {
	case first != nil && second != nil:
		if bm, ok := pi.buckets[rdf.JoinKey(first.Key(), second.Key())]; ok {
			ids = bm.ToArray()
		}
	case first != nil:
		ids = pi.prefixScan(first.Key() + rdf.TermSep)
	default:
		ids = pi.prefixScan("")
	}

	if len(ids) == 0 {
		return nil
	}

	// Residual filtering covers the positions the index does not pin
	// down (third term, graph). Offset/limit apply to the filtered
	// logical union, not per bucket.
	var out []rdf.Quad
	skipped := 0
	for _, id := range ids {
		q := m.quads[id]
		if !p.Matches(q) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, q)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// prefixScan concatenates the posting lists of all buckets whose key
// begins with prefix, in sorted key order so pagination cursors are
// stable. An empty prefix enumerates every bucket (full scan).
func (pi *permIndex) prefixScan(prefix string) []uint32 {
	keys := make([]string, 0, len(pi.buckets))
	for k := range pi.buckets {
		if prefix == "" || strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var ids []uint32
	for _, k := range keys {
		ids = append(ids, pi.buckets[k].ToArray()...)
	}
	return ids
}

// Select chooses the permutation index with the most bound leading terms
// for the pattern. Ties break in declaration order (SPO, POS, OSP); a
// pattern with no usable binding falls back to an SPO full scan.
//
// The heuristic is purely "most bound terms wins" and does not consult
// key cardinality.
func Select(p rdf.Pattern) (order Order, first, second *rdf.Term) {
	best := SPO
	bestBound := -1
	for _, o := range []Order{SPO, POS, OSP} {
		f, s := o.boundLeading(p)
		bound := 0
		if f != nil {
			bound++
			if s != nil {
				bound++
			}
		}
		if bound > bestBound {
			best = o
			bestBound = bound
		}
	}
	f, s := best.boundLeading(p)
	if f == nil {
		return best, nil, nil
	}
	return best, f, s
}
