package kmer

import (
	"fmt"
)

// A Transform preprocesses a key before hashing and equality, merging
// multiple representations of the same k-mer (a k-mer and its reverse
// complement) into one canonical key. For any two keys with equal transform
// results, both the rank hash and the local hash agree, because both are
// computed on the transformed key.
type Transform func(Kmer) Kmer

// IdentityTransform keeps keys as they are; forward and reverse-complement
// occurrences stay distinct.
func IdentityTransform() Transform {
	return func(km Kmer) Kmer {
		return km
	}
}

// LexCanonical maps a k-mer and its reverse complement to whichever of the
// two has the smaller packed word, i.e. the lexicographically smaller
// sequence.
func (g *Generator) LexCanonical() Transform {
	return func(km Kmer) Kmer {
		rc := g.ReverseComplement(km)
		if rc.Word < km.Word {
			return rc
		}
		return km
	}
}

// XORCanonical combines a k-mer and its reverse complement by XOR of their
// packed words. Cheaper than the lexicographic form but not invertible:
// the canonical key can no longer be decoded back into a sequence.
func (g *Generator) XORCanonical() Transform {
	return func(km Kmer) Kmer {
		rc := g.ReverseComplement(km)
		return Kmer{Word: km.Word ^ rc.Word, K: km.K}
	}
}

// TransformByName resolves a configuration string to a transform.
func TransformByName(name string, g *Generator) (Transform, error) {
	switch name {
	case "identity":
		return IdentityTransform(), nil
	case "lex":
		return g.LexCanonical(), nil
	case "xor":
		return g.XORCanonical(), nil
	default:
		return nil, fmt.Errorf("unknown key transform %q (expected one of: identity, lex, xor)", name)
	}
}
