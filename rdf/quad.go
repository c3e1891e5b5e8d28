package rdf

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

// TermSep separates encoded terms inside a composite key. It sorts below
// every printable byte, so composite keys remain prefix-ordered, and a
// single-term prefix followed by TermSep never collides with a longer
// term sharing the same leading bytes.
const TermSep = "\x1f"

// Quad is the atomic unit of stored data: subject, predicate, object and
// the graph the statement belongs to.
type Quad struct {
	Subject   Term `json:"subject"`
	Predicate Term `json:"predicate"`
	Object    Term `json:"object"`
	Graph     Term `json:"graph"`
}

// NewQuad constructs a quad in the default graph.
func NewQuad(s, p, o Term) Quad {
	return Quad{Subject: s, Predicate: p, Object: o, Graph: DefaultGraph()}
}

// NewQuadInGraph constructs a quad in an explicit graph.
func NewQuadInGraph(s, p, o, g Term) Quad {
	return Quad{Subject: s, Predicate: p, Object: o, Graph: g}
}

// Equal reports structural equality over all four positions.
func (q Quad) Equal(o Quad) bool {
	return q.Subject.Equal(o.Subject) &&
		q.Predicate.Equal(o.Predicate) &&
		q.Object.Equal(o.Object) &&
		q.Graph.Equal(o.Graph)
}

// Key returns the full composite key covering all four terms.
func (q Quad) Key() string {
	return JoinKey(q.Subject.Key(), q.Predicate.Key(), q.Object.Key(), q.Graph.Key())
}

// Hash returns a 64-bit hash of the quad's composite key.
func (q Quad) Hash() uint64 {
	return xxhash.Sum64String(q.Key())
}

// String renders the quad in an N-Quads-like form.
func (q Quad) String() string {
	parts := []string{q.Subject.String(), q.Predicate.String(), q.Object.String()}
	if !q.Graph.IsDefaultGraph() {
		parts = append(parts, q.Graph.String())
	}
	return strings.Join(parts, " ") + " ."
}

// JoinKey concatenates encoded term keys into a composite key.
func JoinKey(keys ...string) string {
	return strings.Join(keys, TermSep)
}

// Pattern is a partially-bound quad. Nil positions match anything.
type Pattern struct {
	Subject   *Term
	Predicate *Term
	Object    *Term
	Graph     *Term
}

// Bind is a convenience for taking the address of a term in pattern
// literals.
func Bind(t Term) *Term { return &t }

// Matches reports whether the quad satisfies every bound position.
func (p Pattern) Matches(q Quad) bool {
	if p.Subject != nil && !p.Subject.Equal(q.Subject) {
		return false
	}
	if p.Predicate != nil && !p.Predicate.Equal(q.Predicate) {
		return false
	}
	if p.Object != nil && !p.Object.Equal(q.Object) {
		return false
	}
	if p.Graph != nil && !p.Graph.Equal(q.Graph) {
		return false
	}
	return true
}

// IsEmpty reports whether no position is bound (full scan).
func (p Pattern) IsEmpty() bool {
	return p.Subject == nil && p.Predicate == nil && p.Object == nil && p.Graph == nil
}
