// Package dmap implements the distributed associative containers of the
// k-mer index: a single-value map, a multimap, a reduction map and a
// counting map, all sharded across ranks by a prefix hash of a canonical
// key transform.
//
// Every key-value pair is owned by exactly one rank: the one selected by
// folding the high bits of the distribution hash of the transformed key
// into [0, P). All batched operations follow the same pattern: locally
// deduplicate or pre-reduce the batch, bucket it by owner rank, exchange it
// with a collective all-to-all, and apply it on the owner. Query operations
// route their results back with the reverse exchange, using the per-source
// result sizes as send counts.
//
// The local containers are not thread-safe: a rank's container is only
// mutated by the goroutine driving the collective operation (or, in the
// streaming build path, by the communication layer's single dispatch
// worker).
//
// Predicated variants evaluate their predicate on the owner rank, never
// against remote state.
package dmap
