// Package index provides the three k-mer index flavors on top of the
// distributed maps: CountIndex (k-mer to occurrence count), PositionIndex
// (k-mer to read position, multi-valued) and PositionQualityIndex (k-mer to
// position plus aggregated Phred quality).
//
// Each index owns a distributed map of the matching variant and wires the
// parser, k-mer generator and quality scorer to it. Build reads this rank's
// block of the input file, reserves the local container from the sampled
// k-mer count estimate and inserts collectively; the two position indexes
// then refresh the key-multiplicity estimate. BuildStream pushes the same tuples through the
// asynchronous communication layer instead, with a per-index receive
// callback performing the local inserts.
package index
