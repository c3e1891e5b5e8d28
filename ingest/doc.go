// Package ingest implements the streaming ingestion pipeline: raw chunks
// are decoded into quads by an external parser collaborator and fed
// through the transaction manager's add path.
//
// The pipeline is a cooperative transform. Decoding is chunk-synchronous;
// applied work happens on a single background flush worker so the indexes
// stay single-writer. Write blocks only when the buffer of decoded but
// not-yet-applied quads exceeds the high watermark, which is the
// backpressure signal to the upstream source. Resumption is paced by a
// fixed cooldown window rather than raw buffer drain, so bursty input
// does not oscillate the pipeline between suspended and running.
package ingest
