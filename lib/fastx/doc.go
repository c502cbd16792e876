// Package fastx provides the sequencing-read collaborators of the index:
// a FASTA/FASTQ record parser over a byte slice, the block partitioner that
// aligns per-rank file slices to record boundaries, a sampling k-mer count
// estimator used for the reservation heuristic, and the Phred quality
// scorer that aggregates one quality value per k-mer window.
//
// The parser is zero-copy for FASTQ: sequence and quality slices reference
// the underlying file bytes. A new parser instance is created per file
// block; there is no cross-block state.
package fastx
