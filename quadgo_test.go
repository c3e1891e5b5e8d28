package quadgo

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdfkit/quadgo/batch"
	"github.com/rdfkit/quadgo/ingest"
	"github.com/rdfkit/quadgo/rdf"
	"github.com/rdfkit/quadgo/snapshot"
)

// lineDecoder parses "subject predicate object" lines. Blank lines are
// skipped; anything else with fewer than three fields is an error.
type lineDecoder struct{}

func (lineDecoder) Decode(chunk []byte) ([]rdf.Quad, error) {
	var quads []rdf.Quad
	for _, line := range strings.Split(string(chunk), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, errors.New("short line: " + line)
		}
		quads = append(quads, rdf.NewQuad(
			rdf.NewNamedNode(fields[0]),
			rdf.NewNamedNode(fields[1]),
			rdf.NewNamedNode(fields[2]),
		))
	}
	return quads, nil
}

func testQuad(s, p, o string) rdf.Quad {
	return rdf.NewQuad(rdf.NewNamedNode(s), rdf.NewNamedNode(p), rdf.NewNamedNode(o))
}

func TestNewAndClose(t *testing.T) {
	db, err := New()
	require.NoError(t, err)

	require.NoError(t, db.Close())
	require.NoError(t, db.Close(), "close should be idempotent")

	_, err = db.BeginTransaction(0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, db.AddQuads(0, []rdf.Quad{testQuad("s", "p", "o")}), ErrClosed)
	_, err = db.QueryPattern(rdf.Pattern{}, QueryOptions{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAddQueryRemove(t *testing.T) {
	db, err := New()
	require.NoError(t, err)
	defer db.Close()

	quads := []rdf.Quad{
		testQuad("ex:alice", "ex:knows", "ex:bob"),
		testQuad("ex:alice", "ex:knows", "ex:carol"),
		testQuad("ex:bob", "ex:knows", "ex:carol"),
	}
	require.NoError(t, db.AddQuads(0, quads))
	assert.Equal(t, 3, db.Len())

	// Duplicate adds are absorbed.
	require.NoError(t, db.AddQuads(0, quads[:1]))
	assert.Equal(t, 3, db.Len())

	results, err := db.QueryPattern(rdf.Pattern{
		Subject: rdf.Bind(rdf.NewNamedNode("ex:alice")),
	}, QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = db.QueryPattern(rdf.Pattern{
		Object: rdf.Bind(rdf.NewNamedNode("ex:carol")),
	}, QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	require.NoError(t, db.RemoveQuads(0, quads[:1]))
	assert.Equal(t, 2, db.Len())

	// Removing an absent quad is a no-op.
	require.NoError(t, db.RemoveQuads(0, quads[:1]))
	assert.Equal(t, 2, db.Len())
}

func TestQueryPagination(t *testing.T) {
	db, err := New()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.AddQuads(0, []rdf.Quad{
		testQuad("ex:a", "ex:p", "ex:1"),
		testQuad("ex:b", "ex:p", "ex:2"),
		testQuad("ex:c", "ex:p", "ex:3"),
		testQuad("ex:d", "ex:p", "ex:4"),
	}))

	page, err := db.QueryPattern(rdf.Pattern{}, QueryOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)

	rest, err := db.QueryPattern(rdf.Pattern{}, QueryOptions{Limit: 0, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, rest, 2)

	_, err = db.QueryPattern(rdf.Pattern{}, QueryOptions{Limit: -1})
	var rangeErr *ErrInvalidQueryRange
	assert.ErrorAs(t, err, &rangeErr)
}

func TestTransactionCommit(t *testing.T) {
	db, err := New()
	require.NoError(t, err)
	defer db.Close()

	txID, err := db.BeginTransaction(time.Minute)
	require.NoError(t, err)
	require.NotZero(t, txID)

	require.NoError(t, db.AddQuads(txID, []rdf.Quad{testQuad("s", "p", "o")}))
	assert.Equal(t, 1, db.Len(), "operations apply immediately")

	require.NoError(t, db.CommitTransaction(txID))
	assert.Equal(t, 1, db.Len())

	assert.ErrorIs(t, db.CommitTransaction(txID), ErrTxNotFound)
	assert.Equal(t, uint64(1), db.Stats().Tx.Committed)
}

func TestTransactionRollback(t *testing.T) {
	db, err := New()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.AddQuads(0, []rdf.Quad{testQuad("keep", "p", "o")}))

	txID, err := db.BeginTransaction(time.Minute)
	require.NoError(t, err)

	require.NoError(t, db.AddQuads(txID, []rdf.Quad{testQuad("s1", "p", "o")}))
	require.NoError(t, db.RemoveQuads(txID, []rdf.Quad{testQuad("keep", "p", "o")}))
	// Duplicate of a pre-existing quad inside the transaction must not
	// be deleted by the rollback.
	require.NoError(t, db.AddQuads(txID, []rdf.Quad{testQuad("s1", "p", "o")}))

	require.NoError(t, db.RollbackTransaction(txID))

	all, err := db.ExportAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Equal(testQuad("keep", "p", "o")))
	assert.Equal(t, uint64(1), db.Stats().Tx.RolledBack)
}

func TestTransactionTimeout(t *testing.T) {
	db, err := New(WithTxDefaultTimeout(30 * time.Millisecond))
	require.NoError(t, err)
	defer db.Close()

	txID, err := db.BeginTransaction(0)
	require.NoError(t, err)
	require.NoError(t, db.AddQuads(txID, []rdf.Quad{testQuad("s", "p", "o")}))

	require.Eventually(t, func() bool {
		return db.Stats().Tx.TimedOut == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, db.Len(), "timed-out transaction must be undone")
	assert.ErrorIs(t, db.CommitTransaction(txID), ErrTxNotFound)
}

func TestBeginTransactionValidation(t *testing.T) {
	db, err := New()
	require.NoError(t, err)
	defer db.Close()

	_, err = db.BeginTransaction(-time.Second)
	assert.ErrorIs(t, err, ErrInvalidTimeout)
}

func TestCurrentTransactionRouting(t *testing.T) {
	db, err := New()
	require.NoError(t, err)
	defer db.Close()

	txID, err := db.BeginTransaction(time.Minute)
	require.NoError(t, err)

	// Zero id routes to the current transaction.
	require.NoError(t, db.AddQuads(0, []rdf.Quad{testQuad("s", "p", "o")}))
	require.NoError(t, db.RollbackTransaction(txID))
	assert.Equal(t, 0, db.Len())
}

func TestSnapshotRoundTrip(t *testing.T) {
	src, err := New()
	require.NoError(t, err)
	defer src.Close()

	quads := []rdf.Quad{
		testQuad("ex:a", "ex:p", "ex:1"),
		testQuad("ex:b", "ex:p", "ex:2"),
	}
	require.NoError(t, src.AddQuads(0, quads))

	var buf bytes.Buffer
	require.NoError(t, src.WriteSnapshot(context.Background(), &buf, snapshot.CompressionZSTD))

	dst, err := New()
	require.NoError(t, err)
	defer dst.Close()

	n, err := dst.LoadSnapshot(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	want, err := src.ExportAll()
	require.NoError(t, err)
	got, err := dst.ExportAll()
	require.NoError(t, err)
	assert.ElementsMatch(t, want, got)
}

func TestPipelineIngest(t *testing.T) {
	db, err := New(
		WithDecoder(lineDecoder{}),
		WithIngestHighWatermark(100),
		WithIngestCooldown(time.Millisecond),
	)
	require.NoError(t, err)
	defer db.Close()

	p, err := db.OpenPipeline()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, p.Write(ctx, []byte("ex:a ex:p ex:1\nex:b ex:p ex:2")))

	// A malformed chunk is reported but does not poison the pipeline.
	var decodeErr *ingest.DecodeError
	require.ErrorAs(t, p.Write(ctx, []byte("bogus")), &decodeErr)

	require.NoError(t, p.Write(ctx, []byte("ex:c ex:p ex:3")))

	stats, err := p.Finalize(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), stats.Chunks)
	assert.Equal(t, uint64(3), stats.Quads)
	assert.Equal(t, uint64(1), stats.DecodeErrors)

	assert.Equal(t, 3, db.Len())
}

func TestOpenPipelineRequiresDecoder(t *testing.T) {
	db, err := New()
	require.NoError(t, err)
	defer db.Close()

	_, err = db.OpenPipeline()
	require.Error(t, err)
}

func TestProcessBatch(t *testing.T) {
	db, err := New(WithDecoder(lineDecoder{}), WithWorkerCount(4))
	require.NoError(t, err)
	defer db.Close()

	items := []batch.Item{
		{Payload: []byte("ex:a ex:p ex:1")},
		{Payload: []byte("bogus")},
		{Payload: []byte("ex:b ex:p ex:2\nex:c ex:p ex:3")},
	}
	results, err := db.ProcessBatch(context.Background(), items, batch.KindParse)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Len(t, results[0].Quads, 1)
	assert.Error(t, results[1].Err)
	assert.Len(t, results[2].Quads, 2)
}

func TestStats(t *testing.T) {
	db, err := New()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.AddQuads(0, []rdf.Quad{
		testQuad("ex:a", "ex:p", "ex:1"),
		testQuad("ex:b", "ex:q", "ex:2"),
	}))

	stats := db.Stats()
	assert.Equal(t, 2, stats.StoredQuads)
	assert.Equal(t, uint64(2), stats.TotalProcessed)
	assert.Equal(t, 2, stats.SPOEntries)
	assert.Equal(t, 2, stats.POSEntries)
	assert.Equal(t, 2, stats.OSPEntries)
	// One filter key per quad per index permutation.
	assert.Equal(t, uint64(6), stats.BloomCount)
	assert.Zero(t, stats.ActiveTx)
}

func TestMetricsCollector(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	db, err := New(WithMetricsCollector(metrics))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.AddQuads(0, []rdf.Quad{testQuad("s", "p", "o")}))
	_, err = db.QueryPattern(rdf.Pattern{}, QueryOptions{})
	require.NoError(t, err)
	require.NoError(t, db.RemoveQuads(0, []rdf.Quad{testQuad("s", "p", "o")}))

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.AddCount)
	assert.Equal(t, int64(1), stats.AddQuads)
	assert.Equal(t, int64(1), stats.QueryCount)
	assert.Equal(t, int64(1), stats.QueryResults)
	assert.Equal(t, int64(1), stats.RemoveCount)
	assert.Zero(t, stats.AddErrors)

	// Remove durations accumulate like add and query durations do.
	direct := &BasicMetricsCollector{}
	direct.RecordRemove(2, 10*time.Millisecond, nil)
	direct.RecordRemove(1, 20*time.Millisecond, nil)
	assert.Equal(t, int64(15*time.Millisecond), direct.GetStats().RemoveAvgNanos)
}
