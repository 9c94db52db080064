// Package batch groups tasks into small batches, to reduce the number of
// round trips. Batcher accumulates jobs behind a mutex and a single flush
// timer, flushing on whichever of MaxSize or FlushInterval is reached
// first; RunBatcher (run_batcher.go) specializes it to coalesce historical
// Run inserts from a single execute-worker process into small Postgres
// batch writes, per spec.md §4.5 and the "Batched Run persistence"
// addition in SPEC_FULL.md.
package batch
