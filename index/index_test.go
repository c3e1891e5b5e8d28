package index

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdfkit/quadgo/rdf"
)

func quad(s, p, o string) rdf.Quad {
	return rdf.NewQuad(rdf.NewNamedNode(s), rdf.NewNamedNode(p), rdf.NewLiteral(o))
}

func TestManager_AddRemoveRoundTrip(t *testing.T) {
	m := NewManager(100, nil)
	q := quad("ex:s", "ex:p", "o")

	require.True(t, m.Add(q))
	assert.Equal(t, 1, m.Len())
	assert.True(t, m.Contains(q))

	require.True(t, m.Remove(q))
	assert.Equal(t, 0, m.Len())
	assert.False(t, m.Contains(q))

	// All three indexes back to their pre-add content.
	spo, pos, osp := m.EntryCounts()
	assert.Zero(t, spo)
	assert.Zero(t, pos)
	assert.Zero(t, osp)
}

func TestManager_DuplicateAndAbsentAreNoOps(t *testing.T) {
	m := NewManager(100, nil)
	q := quad("ex:s", "ex:p", "o")

	assert.True(t, m.Add(q))
	assert.False(t, m.Add(q), "duplicate add reports zero delta")
	assert.Equal(t, 1, m.Len())

	assert.True(t, m.Remove(q))
	assert.False(t, m.Remove(q), "absent remove reports zero delta")
}

func TestManager_QueryScenario(t *testing.T) {
	m := NewManager(100, nil)
	q1 := quad("ex:s1", "ex:p", "o1")
	q2 := quad("ex:s2", "ex:p", "o2")
	m.Add(q1)
	m.Add(q2)

	byPred := m.Query(rdf.Pattern{Predicate: rdf.Bind(rdf.NewNamedNode("ex:p"))}, 0, 0)
	assert.Len(t, byPred, 2)

	bySubjPred := m.Query(rdf.Pattern{
		Subject:   rdf.Bind(rdf.NewNamedNode("ex:s1")),
		Predicate: rdf.Bind(rdf.NewNamedNode("ex:p")),
	}, 0, 0)
	require.Len(t, bySubjPred, 1)
	assert.True(t, q1.Equal(bySubjPred[0]))
}

func TestManager_IndexAgreement(t *testing.T) {
	m := NewManager(100, nil)
	q := quad("ex:s", "ex:p", "o")
	m.Add(q)
	m.Add(quad("ex:s", "ex:p2", "o2"))
	m.Add(quad("ex:s3", "ex:p", "o"))

	s, p, o := rdf.NewNamedNode("ex:s"), rdf.NewNamedNode("ex:p"), rdf.NewLiteral("o")

	viaSPO := m.Query(rdf.Pattern{Subject: rdf.Bind(s), Predicate: rdf.Bind(p)}, 0, 0)
	viaPOS := m.Query(rdf.Pattern{Predicate: rdf.Bind(p), Object: rdf.Bind(o)}, 0, 0)
	viaOSP := m.Query(rdf.Pattern{Object: rdf.Bind(o), Subject: rdf.Bind(s)}, 0, 0)

	require.Len(t, viaSPO, 1)
	require.Len(t, viaPOS, 2)
	require.Len(t, viaOSP, 1)
	assert.True(t, viaSPO[0].Equal(q))
	assert.True(t, viaOSP[0].Equal(q))
	assert.Contains(t, viaPOS, q)
}

func TestManager_UnmatchedPatternReturnsEmpty(t *testing.T) {
	m := NewManager(100, nil)
	m.Add(quad("ex:s", "ex:p", "o"))

	got := m.Query(rdf.Pattern{Subject: rdf.Bind(rdf.NewNamedNode("ex:absent"))}, 0, 0)
	assert.Empty(t, got)
}

func TestManager_PrefixScanPagination(t *testing.T) {
	m := NewManager(1000, nil)
	// One subject, many predicates: an SPO query bound on subject only
	// spans many buckets; offset/limit apply over the logical union.
	for i := 0; i < 10; i++ {
		m.Add(quad("ex:s", fmt.Sprintf("ex:p%02d", i), fmt.Sprintf("o%d", i)))
	}

	pat := rdf.Pattern{Subject: rdf.Bind(rdf.NewNamedNode("ex:s"))}

	all := m.Query(pat, 0, 0)
	require.Len(t, all, 10)

	var paged []rdf.Quad
	for off := 0; off < 10; off += 3 {
		paged = append(paged, m.Query(pat, 3, off)...)
	}
	assert.Equal(t, all, paged, "pagination over the union must tile the full result")
}

func TestManager_PrefixIsTermExact(t *testing.T) {
	m := NewManager(100, nil)
	m.Add(quad("ex:s", "ex:p", "o"))
	m.Add(quad("ex:s2", "ex:p", "o")) // "ex:s" is a byte prefix of "ex:s2"

	got := m.Query(rdf.Pattern{Subject: rdf.Bind(rdf.NewNamedNode("ex:s"))}, 0, 0)
	require.Len(t, got, 1, "term-boundary separator must prevent sibling-term bleed")
}

func TestManager_GraphResidualFilter(t *testing.T) {
	m := NewManager(100, nil)
	s, p, o := rdf.NewNamedNode("ex:s"), rdf.NewNamedNode("ex:p"), rdf.NewLiteral("o")
	g := rdf.NewNamedNode("ex:g")
	m.Add(rdf.NewQuad(s, p, o))
	m.Add(rdf.NewQuadInGraph(s, p, o, g))

	assert.Equal(t, 2, m.Len())

	def := m.Query(rdf.Pattern{Subject: rdf.Bind(s), Graph: rdf.Bind(rdf.DefaultGraph())}, 0, 0)
	require.Len(t, def, 1)
	assert.True(t, def[0].Graph.IsDefaultGraph())
}

func TestSelect(t *testing.T) {
	s := rdf.Bind(rdf.NewNamedNode("s"))
	p := rdf.Bind(rdf.NewNamedNode("p"))
	o := rdf.Bind(rdf.NewLiteral("o"))

	tests := []struct {
		name    string
		pattern rdf.Pattern
		want    Order
	}{
		{"subject+predicate", rdf.Pattern{Subject: s, Predicate: p}, SPO},
		{"predicate+object", rdf.Pattern{Predicate: p, Object: o}, POS},
		{"object+subject", rdf.Pattern{Object: o, Subject: s}, OSP},
		{"fully bound prefers SPO", rdf.Pattern{Subject: s, Predicate: p, Object: o}, SPO},
		{"subject only", rdf.Pattern{Subject: s}, SPO},
		{"predicate only", rdf.Pattern{Predicate: p}, POS},
		{"object only", rdf.Pattern{Object: o}, OSP},
		{"nothing bound", rdf.Pattern{}, SPO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, _ := Select(tt.pattern)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestManager_ExportAllAndClear(t *testing.T) {
	m := NewManager(100, nil)
	m.Add(quad("ex:s1", "ex:p", "o1"))
	m.Add(quad("ex:s2", "ex:p", "o2"))

	snap := m.ExportAll()
	assert.Len(t, snap, 2)

	m.Clear()
	assert.Equal(t, 0, m.Len())
	assert.Empty(t, m.Query(rdf.Pattern{}, 0, 0))

	count, _ := m.FilterStats()
	assert.Zero(t, count)
}

func TestManager_BloomShortCircuit(t *testing.T) {
	m := NewManager(1000, nil)
	m.Add(quad("ex:s", "ex:p", "o"))

	// A pattern whose derived key was never added is rejected by the
	// filter without index work; the observable behavior is simply an
	// empty result.
	got := m.Query(rdf.Pattern{
		Subject:   rdf.Bind(rdf.NewNamedNode("ex:never")),
		Predicate: rdf.Bind(rdf.NewNamedNode("ex:seen")),
	}, 0, 0)
	assert.Empty(t, got)

	// Removal never clears filter bits, so a re-add stays queryable and
	// a removed quad's key still passes the filter (and is then rejected
	// by the index itself).
	q := quad("ex:s", "ex:p", "o")
	m.Remove(q)
	assert.Empty(t, m.Query(rdf.Pattern{
		Subject:   rdf.Bind(rdf.NewNamedNode("ex:s")),
		Predicate: rdf.Bind(rdf.NewNamedNode("ex:p")),
	}, 0, 0))
	m.Add(q)
	assert.Len(t, m.Query(rdf.Pattern{
		Subject:   rdf.Bind(rdf.NewNamedNode("ex:s")),
		Predicate: rdf.Bind(rdf.NewNamedNode("ex:p")),
	}, 0, 0), 1)
}
