// Package cmd implements the command-line interface for the kmerind
// distributed k-mer index. It provides a hierarchical command structure for
// building an index over a FASTQ/FASTA file and for benchmarking the
// communication layer.
//
// The package is organized into several subpackages:
//
//   - index: Commands for building a count/position/position-quality index
//     and reporting its load distribution
//   - perf: In-process performance measurement of the communication layer
//   - util: Shared utilities for command-line processing and configuration
//     (internal use)
//
// See kmerind -help for a list of all commands.
package cmd
