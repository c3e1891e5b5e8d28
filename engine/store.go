package engine

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rdfkit/quadgo/index"
	"github.com/rdfkit/quadgo/rdf"
)

// Store is the single-writer quad store. It owns the triple index
// manager exclusively; every mutation in the system passes through
// ApplyAdd/ApplyRemove under one lock.
type Store struct {
	mu  sync.RWMutex
	idx *index.Manager

	processed atomic.Uint64 // quads applied since construction (adds + removes)
}

// NewStore creates a store around a fresh index manager. bloomCapacity
// sizes the existence filter.
func NewStore(bloomCapacity int, logger *slog.Logger) *Store {
	return &Store{
		idx: index.NewManager(bloomCapacity, logger),
	}
}

// ApplyAdd inserts the quads and returns the subset that actually
// changed the store. Duplicates are successful no-ops and do not appear
// in the delta.
func (s *Store) ApplyAdd(quads []rdf.Quad) []rdf.Quad {
	s.mu.Lock()
	defer s.mu.Unlock()

	var delta []rdf.Quad
	for _, q := range quads {
		if s.idx.Add(q) {
			delta = append(delta, q)
		}
	}
	s.processed.Add(uint64(len(quads)))
	return delta
}

// ApplyRemove deletes the quads and returns the subset that was actually
// present.
func (s *Store) ApplyRemove(quads []rdf.Quad) []rdf.Quad {
	s.mu.Lock()
	defer s.mu.Unlock()

	var delta []rdf.Quad
	for _, q := range quads {
		if s.idx.Remove(q) {
			delta = append(delta, q)
		}
	}
	s.processed.Add(uint64(len(quads)))
	return delta
}

// Query runs a pattern query. Reads always observe the current applied
// state, including the writes of an in-flight transaction.
func (s *Store) Query(p rdf.Pattern, limit, offset int) []rdf.Quad {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx.Query(p, limit, offset)
}

// ExportAll returns a full, unordered snapshot of the store contents.
func (s *Store) ExportAll() []rdf.Quad {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx.ExportAll()
}

// Len returns the number of quads currently stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx.Len()
}

// Processed returns the total quads routed through apply paths since
// construction, including no-ops.
func (s *Store) Processed() uint64 {
	return s.processed.Load()
}

// EntryCounts returns the per-index bucket counts.
func (s *Store) EntryCounts() (spo, pos, osp int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx.EntryCounts()
}

// FilterStats reports Bloom filter key count and estimated false
// positive rate.
func (s *Store) FilterStats() (count uint64, fpr float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx.FilterStats()
}

// Clear drops all indexed state. Used by shutdown.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idx.Clear()
}
