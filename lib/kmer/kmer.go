package kmer

import (
	"fmt"
)

// Kmer is a k-mer packed into a single 64-bit word, most recent base in the
// low bits. It is a plain value type; the alphabet and k live in the
// Generator that produced it.
type Kmer struct {
	Word uint64
	K    uint8
}

// Generator produces packed k-mers from raw sequence bytes for one fixed
// (k, alphabet) pair.
type Generator struct {
	alphabet *Alphabet
	k        int
	mask     uint64
}

// NewGenerator creates a generator for k-mers of length k over the given
// alphabet.
func NewGenerator(k int, a *Alphabet) (*Generator, error) {
	if a == nil {
		return nil, fmt.Errorf("alphabet required")
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if k > a.MaxK() {
		return nil, fmt.Errorf("k %d exceeds maximum %d for alphabet %s", k, a.MaxK(), a.Name)
	}

	var mask uint64
	shift := uint(k) * uint(a.Bits)
	if shift >= 64 {
		mask = ^uint64(0)
	} else {
		mask = (uint64(1) << shift) - 1
	}
	return &Generator{alphabet: a, k: k, mask: mask}, nil
}

// K returns the configured k-mer length.
func (g *Generator) K() int {
	return g.k
}

// Alphabet returns the configured alphabet.
func (g *Generator) Alphabet() *Alphabet {
	return g.alphabet
}

// Each calls fn for every k-mer of seq together with its start offset.
// A symbol outside the alphabet breaks the rolling window; k-mers resume
// k valid symbols later. A sequence shorter than k produces nothing.
func (g *Generator) Each(seq []byte, fn func(km Kmer, pos int)) {
	var word uint64
	run := 0

	for i := 0; i < len(seq); i++ {
		code, ok := g.alphabet.Encode(seq[i])
		if !ok {
			run = 0
			word = 0
			continue
		}
		word = (word<<uint(g.alphabet.Bits) | uint64(code)) & g.mask
		run++
		if run >= g.k {
			fn(Kmer{Word: word, K: uint8(g.k)}, i-g.k+1)
		}
	}
}

// Kmers returns all k-mers of seq in order.
func (g *Generator) Kmers(seq []byte) []Kmer {
	var out []Kmer
	g.Each(seq, func(km Kmer, _ int) {
		out = append(out, km)
	})
	return out
}

// FromString packs a string of exactly k symbols.
func (g *Generator) FromString(s string) (Kmer, error) {
	if len(s) != g.k {
		return Kmer{}, fmt.Errorf("expected %d symbols, got %d", g.k, len(s))
	}
	var word uint64
	for i := 0; i < len(s); i++ {
		code, ok := g.alphabet.Encode(s[i])
		if !ok {
			return Kmer{}, fmt.Errorf("symbol %q not in alphabet %s", s[i], g.alphabet.Name)
		}
		word = word<<uint(g.alphabet.Bits) | uint64(code)
	}
	return Kmer{Word: word, K: uint8(g.k)}, nil
}

// String unpacks a k-mer back into its symbol string.
func (g *Generator) String(km Kmer) string {
	bits := uint(g.alphabet.Bits)
	codeMask := uint64(1)<<bits - 1

	out := make([]byte, g.k)
	word := km.Word
	for i := g.k - 1; i >= 0; i-- {
		out[i] = g.alphabet.Decode(uint8(word & codeMask))
		word >>= bits
	}
	return string(out)
}

// ReverseComplement returns the reverse complement of km.
func (g *Generator) ReverseComplement(km Kmer) Kmer {
	bits := uint(g.alphabet.Bits)
	codeMask := uint64(1)<<bits - 1

	var out uint64
	word := km.Word
	for i := 0; i < g.k; i++ {
		code := uint8(word & codeMask)
		word >>= bits
		out = out<<bits | uint64(g.alphabet.Complement(code))
	}
	return Kmer{Word: out, K: km.K}
}
