package index

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/patflick/kmerind/lib/codec"
	"github.com/patflick/kmerind/lib/dmap"
	"github.com/patflick/kmerind/lib/kmer"
)

// Options selects the key policies of an index.
type Options struct {
	// K is the k-mer length
	K int
	// Alphabet is one of: dna, dna5, dna16
	Alphabet string
	// Transform is one of: identity, lex, xor
	Transform string
	// DistHash and LocalHash are each one of: identity, std, farm, murmur
	DistHash  string
	LocalHash string
	// StreamTag is the communication layer tag used by BuildStream
	StreamTag uint32
	// StreamBatch is the number of tuples per streamed message
	StreamBatch int
}

// DefaultOptions returns the usual index configuration: canonical 21-mers
// over plain DNA, farm hash for rank assignment, xxhash locally.
func DefaultOptions() *Options {
	return &Options{
		K:           21,
		Alphabet:    "dna",
		Transform:   "lex",
		DistHash:    "farm",
		LocalHash:   "std",
		StreamTag:   10,
		StreamBatch: 512,
	}
}

func (o *Options) String() string {
	return fmt.Sprintf("Options{K: %d, Alphabet: %s, Transform: %s, DistHash: %s, LocalHash: %s}",
		o.K, o.Alphabet, o.Transform, o.DistHash, o.LocalHash)
}

// resolve turns the configuration strings into a generator and the dmap
// key policies.
func (o *Options) resolve() (*kmer.Generator, *policies, error) {
	alphabet, err := kmer.AlphabetByName(o.Alphabet)
	if err != nil {
		return nil, nil, err
	}
	gen, err := kmer.NewGenerator(o.K, alphabet)
	if err != nil {
		return nil, nil, err
	}
	trans, err := kmer.TransformByName(o.Transform, gen)
	if err != nil {
		return nil, nil, err
	}
	distHash, err := kmer.HashByName(o.DistHash)
	if err != nil {
		return nil, nil, err
	}
	localHash, err := kmer.HashByName(o.LocalHash)
	if err != nil {
		return nil, nil, err
	}

	return gen, &policies{
		transform: func(km kmer.Kmer) kmer.Kmer { return trans(km) },
		distHash:  func(km kmer.Kmer) uint64 { return distHash(km) },
		localHash: func(km kmer.Kmer) uint64 { return localHash(km) },
	}, nil
}

// policies carries the resolved key functions
type policies struct {
	transform func(kmer.Kmer) kmer.Kmer
	distHash  func(kmer.Kmer) uint64
	localHash func(kmer.Kmer) uint64
}

// mapOptions instantiates the dmap options for a value type with the
// resolved policies and a fixed-width pair codec.
func mapOptions[V any](p *policies, pairCodec codec.ICodec[dmap.Pair[kmer.Kmer, V]]) *dmap.Options[kmer.Kmer, V] {
	opts := dmap.DefaultOptions[kmer.Kmer, V]()
	opts.Transform = p.transform
	opts.DistHash = p.distHash
	opts.LocalHash = p.localHash
	opts.KeyCodec = kmerCodec()
	opts.PairCodec = pairCodec
	opts.CountCodec = keyCountCodec()
	return opts
}

// --------------------------------------------------------------------------
// Fixed-Width Codecs
// --------------------------------------------------------------------------

const kmerWidth = 9 // word u64 + k u8

func putKmer(b []byte, km kmer.Kmer) {
	binary.BigEndian.PutUint64(b[0:8], km.Word)
	b[8] = km.K
}

func getKmer(b []byte) kmer.Kmer {
	return kmer.Kmer{Word: binary.BigEndian.Uint64(b[0:8]), K: b[8]}
}

// kmerCodec serializes bare keys.
func kmerCodec() codec.ICodec[kmer.Kmer] {
	return codec.NewBinaryCodec[kmer.Kmer](kmerWidth, putKmer, getKmer)
}

// keyCountCodec serializes count results.
func keyCountCodec() codec.ICodec[dmap.KeyCount[kmer.Kmer]] {
	return codec.NewBinaryCodec[dmap.KeyCount[kmer.Kmer]](kmerWidth+8,
		func(b []byte, kc dmap.KeyCount[kmer.Kmer]) {
			putKmer(b[0:kmerWidth], kc.Key)
			binary.BigEndian.PutUint64(b[kmerWidth:], kc.Count)
		},
		func(b []byte) dmap.KeyCount[kmer.Kmer] {
			return dmap.KeyCount[kmer.Kmer]{
				Key:   getKmer(b[0:kmerWidth]),
				Count: binary.BigEndian.Uint64(b[kmerWidth:]),
			}
		})
}

// countPairCodec serializes (k-mer, counter) pairs.
func countPairCodec() codec.ICodec[dmap.Pair[kmer.Kmer, uint64]] {
	return codec.NewBinaryCodec[dmap.Pair[kmer.Kmer, uint64]](kmerWidth+8,
		func(b []byte, p dmap.Pair[kmer.Kmer, uint64]) {
			putKmer(b[0:kmerWidth], p.Key)
			binary.BigEndian.PutUint64(b[kmerWidth:], p.Value)
		},
		func(b []byte) dmap.Pair[kmer.Kmer, uint64] {
			return dmap.Pair[kmer.Kmer, uint64]{
				Key:   getKmer(b[0:kmerWidth]),
				Value: binary.BigEndian.Uint64(b[kmerWidth:]),
			}
		})
}

// posPairCodec serializes (k-mer, read position) pairs.
func posPairCodec() codec.ICodec[dmap.Pair[kmer.Kmer, ReadPos]] {
	return codec.NewBinaryCodec[dmap.Pair[kmer.Kmer, ReadPos]](kmerWidth+12,
		func(b []byte, p dmap.Pair[kmer.Kmer, ReadPos]) {
			putKmer(b[0:kmerWidth], p.Key)
			binary.BigEndian.PutUint64(b[kmerWidth:kmerWidth+8], p.Value.ReadID)
			binary.BigEndian.PutUint32(b[kmerWidth+8:], p.Value.Offset)
		},
		func(b []byte) dmap.Pair[kmer.Kmer, ReadPos] {
			return dmap.Pair[kmer.Kmer, ReadPos]{
				Key: getKmer(b[0:kmerWidth]),
				Value: ReadPos{
					ReadID: binary.BigEndian.Uint64(b[kmerWidth : kmerWidth+8]),
					Offset: binary.BigEndian.Uint32(b[kmerWidth+8:]),
				},
			}
		})
}

// posQualPairCodec serializes (k-mer, position+quality) pairs.
func posQualPairCodec() codec.ICodec[dmap.Pair[kmer.Kmer, PosQual]] {
	return codec.NewBinaryCodec[dmap.Pair[kmer.Kmer, PosQual]](kmerWidth+16,
		func(b []byte, p dmap.Pair[kmer.Kmer, PosQual]) {
			putKmer(b[0:kmerWidth], p.Key)
			binary.BigEndian.PutUint64(b[kmerWidth:kmerWidth+8], p.Value.Pos.ReadID)
			binary.BigEndian.PutUint32(b[kmerWidth+8:kmerWidth+12], p.Value.Pos.Offset)
			binary.BigEndian.PutUint32(b[kmerWidth+12:], math.Float32bits(p.Value.Qual))
		},
		func(b []byte) dmap.Pair[kmer.Kmer, PosQual] {
			return dmap.Pair[kmer.Kmer, PosQual]{
				Key: getKmer(b[0:kmerWidth]),
				Value: PosQual{
					Pos: ReadPos{
						ReadID: binary.BigEndian.Uint64(b[kmerWidth : kmerWidth+8]),
						Offset: binary.BigEndian.Uint32(b[kmerWidth+8 : kmerWidth+12]),
					},
					Qual: math.Float32frombits(binary.BigEndian.Uint32(b[kmerWidth+12:])),
				},
			}
		})
}
