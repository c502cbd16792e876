// Package kmer provides the packed k-mer key type and its collaborators:
// the alphabets (2-bit DNA, 3-bit DNA with N, 4-bit IUPAC), the rolling
// k-mer generator, the canonical key transforms that merge a k-mer with its
// reverse complement, and the hash functions used for rank assignment and
// local storage.
//
// A k-mer is packed into a single 64-bit word, most recent base in the low
// bits, which caps k at 64/bits-per-symbol (32 for plain DNA). The prefix
// hash used for rank assignment takes the high bits of the avalanche output
// so that the ownership function stays well-distributed even when the low
// bits feed the local table.
package kmer
