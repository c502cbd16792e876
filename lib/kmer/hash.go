package kmer

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-farm"
	"github.com/spaolacci/murmur3"
)

// HashFunc hashes a (transformed) k-mer to 64 bits.
type HashFunc func(Kmer) uint64

// IdentityHash returns the packed word itself. Fast, but the high bits of
// small packed words are all zero, so it is a poor rank hash.
func IdentityHash() HashFunc {
	return func(km Kmer) uint64 {
		return km.Word
	}
}

// StdHash hashes the packed word with xxhash.
func StdHash() HashFunc {
	return func(km Kmer) uint64 {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], km.Word)
		return xxhash.Sum64(b[:])
	}
}

// FarmHash hashes the packed word with farmhash.
func FarmHash() HashFunc {
	return func(km Kmer) uint64 {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], km.Word)
		return farm.Hash64(b[:])
	}
}

// MurmurHash hashes the packed word with seeded murmur3.
func MurmurHash(seed uint32) HashFunc {
	return func(km Kmer) uint64 {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], km.Word)
		h, _ := murmur3.Sum128WithSeed(b[:], seed)
		return h
	}
}

// HashByName resolves a configuration string to a hash function.
func HashByName(name string) (HashFunc, error) {
	switch name {
	case "identity":
		return IdentityHash(), nil
	case "std":
		return StdHash(), nil
	case "farm":
		return FarmHash(), nil
	case "murmur":
		return MurmurHash(42), nil
	default:
		return nil, fmt.Errorf("unknown hash %q (expected one of: identity, std, farm, murmur)", name)
	}
}
