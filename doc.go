// Package quadgo is an embedded, in-memory RDF quad store for streaming
// ingestion workloads.
//
// Quads are indexed in three composite permutations (SPO, POS, OSP) so
// that any partially bound pattern resolves through a prefix scan over
// the best-fitting permutation. A Bloom filter in front of the indexes
// short-circuits lookups for quads that were never stored.
//
// Writes are transactional: operations within a transaction apply
// immediately and are undone in reverse order on rollback or timeout.
// Streaming input goes through an ingestion pipeline with
// high-watermark backpressure, and CPU-heavy chunk work (parsing,
// hashing, serialization) can be fanned out over a worker pool.
//
// Basic usage:
//
//	db, err := quadgo.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	txID, _ := db.BeginTransaction(0)
//	_ = db.AddQuads(txID, []rdf.Quad{
//	    rdf.NewQuad(rdf.NewNamedNode("ex:alice"), rdf.NewNamedNode("ex:knows"), rdf.NewNamedNode("ex:bob")),
//	})
//	_ = db.CommitTransaction(txID)
//
//	results, _ := db.QueryPattern(rdf.Pattern{
//	    Subject: rdf.Bind(rdf.NewNamedNode("ex:alice")),
//	}, quadgo.QueryOptions{})
package quadgo
