package dmap

import (
	"github.com/lni/dragonboat/v4/logger"
	"github.com/patflick/kmerind/lib/codec"
	"github.com/patflick/kmerind/lib/comm"
)

var log = logger.GetLogger("dmap")

// --------------------------------------------------------------------------
// Shared Types
// --------------------------------------------------------------------------

// Pair is one key-value record of a batch or a query result.
type Pair[K comparable, V any] struct {
	Key   K
	Value V
}

// KeyCount is one record of a Count result: a distinct query key and the
// number of stored occurrences on its owner (possibly zero).
type KeyCount[K comparable] struct {
	Key   K
	Count uint64
}

// KeyPredicate filters query keys on the owner rank.
type KeyPredicate[K comparable] func(K) bool

// PairPredicate filters stored or intermediate pairs on the owner rank.
type PairPredicate[K comparable, V any] func(K, V) bool

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options bundles the key policies of a distributed map.
//
// The invariant the caller must uphold: if Transform(a) == Transform(b),
// then DistHash and LocalHash agree on a and b. This holds trivially here
// because both hashes are always applied to the transformed key.
type Options[K comparable, V any] struct {
	// Transform canonicalizes a key before hashing and equality
	Transform func(K) K
	// DistHash assigns owners; its high bits are folded into [0, P)
	DistHash func(K) uint64
	// LocalHash feeds the local container; its low bits select the bucket
	LocalHash func(K) uint64

	// codecs for the exchange payloads (default: gob)
	KeyCodec   codec.ICodec[K]
	PairCodec  codec.ICodec[Pair[K, V]]
	CountCodec codec.ICodec[KeyCount[K]]

	// Capacity is the initial local reservation
	Capacity int
}

// DefaultOptions returns options with identity transform and gob codecs.
// The two hash functions have no sensible default and must be provided.
func DefaultOptions[K comparable, V any]() *Options[K, V] {
	return &Options[K, V]{
		Transform:  func(k K) K { return k },
		KeyCodec:   codec.NewGobCodec[K](),
		PairCodec:  codec.NewGobCodec[Pair[K, V]](),
		CountCodec: codec.NewGobCodec[KeyCount[K]](),
	}
}

// validate fills defaults and rejects unusable options.
func (o *Options[K, V]) validate() error {
	if o.DistHash == nil || o.LocalHash == nil {
		return comm.NewError(comm.RetCInvalidArgument, "distribution and local hash functions are required")
	}
	if o.Transform == nil {
		o.Transform = func(k K) K { return k }
	}
	if o.KeyCodec == nil {
		o.KeyCodec = codec.NewGobCodec[K]()
	}
	if o.PairCodec == nil {
		o.PairCodec = codec.NewGobCodec[Pair[K, V]]()
	}
	if o.CountCodec == nil {
		o.CountCodec = codec.NewGobCodec[KeyCount[K]]()
	}
	return nil
}

// --------------------------------------------------------------------------
// Map Base
// --------------------------------------------------------------------------

// ceilLog2 returns the number of bits needed to address n values.
func ceilLog2(n int) uint {
	bits := uint(0)
	for v := n - 1; v > 0; v >>= 1 {
		bits++
	}
	return bits
}

// PrefixRank builds the key-to-rank function: the top ceil(log2 P) bits of
// the hash, folded into [0, P). Using the high bits keeps the rank
// assignment independent from a local table that consumes the low bits of
// the same hash. The argument is expected to be the transformed key.
func PrefixRank[K any](hash func(K) uint64, numRanks int) func(K) int {
	if numRanks <= 1 {
		return func(K) int { return 0 }
	}
	shift := 64 - ceilLog2(numRanks)
	return func(k K) int {
		return int((hash(k) >> shift) % uint64(numRanks))
	}
}

// mapBase carries the machinery shared by all four variants: the transport,
// the key-to-rank fold, the local container and the multiplicity cache.
type mapBase[K comparable, V any] struct {
	transport comm.ITransport
	opts      Options[K, V]

	tbl    *table[K, V]
	rankOf func(K) int

	keyMultiplicity int
}

func newMapBase[K comparable, V any](t comm.ITransport, opts *Options[K, V]) (*mapBase[K, V], error) {
	if opts == nil {
		return nil, comm.NewError(comm.RetCInvalidArgument, "options are required")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	b := &mapBase[K, V]{
		transport:       t,
		opts:            *opts,
		keyMultiplicity: 1,
	}

	// local-storage hash and equality both work on the transformed key
	b.tbl = newTable[K, V](opts.LocalHash, opts.Transform, opts.Capacity)

	// key-to-rank: high bits of the distribution hash, folded into [0, P)
	fold := PrefixRank(opts.DistHash, t.Size())
	trans := opts.Transform
	b.rankOf = func(k K) int {
		return fold(trans(k))
	}
	return b, nil
}

// Owner returns the rank owning key k.
func (b *mapBase[K, V]) Owner(k K) int {
	return b.rankOf(k)
}

// LocalSize returns the number of pairs stored on this rank.
func (b *mapBase[K, V]) LocalSize() int {
	return b.tbl.len()
}

// Keys returns the distinct keys stored on this rank.
func (b *mapBase[K, V]) Keys() []K {
	return b.tbl.distinctKeys()
}

// Multiplicity returns the cached average number of stored values per
// distinct key.
func (b *mapBase[K, V]) Multiplicity() int {
	return b.keyMultiplicity
}

// Reserve sizes the local container for n pairs on every rank and then
// synchronizes, so that no rank starts inserting into an unreserved peer.
func (b *mapBase[K, V]) Reserve(n int) error {
	log.Debugf("rank %d: reserving %d slots", b.transport.Rank(), n)
	b.tbl.reserve(n)
	if b.transport.Size() > 1 {
		return b.transport.Barrier()
	}
	return nil
}

// --------------------------------------------------------------------------
// Unique-Key Reduction
// --------------------------------------------------------------------------

// uniqueKeys deduplicates a query batch with a temporary table, keeping the
// first occurrence of every equality class. A sort-based dedup would not
// scale with the repeat count, hence the hash-based one.
func (b *mapBase[K, V]) uniqueKeys(keys []K) []K {
	if len(keys) == 0 {
		return keys
	}
	temp := newTable[K, struct{}](b.opts.LocalHash, b.opts.Transform, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if temp.insertFirst(k, struct{}{}) {
			out = append(out, k)
		}
	}
	return out
}

// uniquePairs deduplicates an insert batch, keeping the first pair of every
// equality class (single-map semantics).
func (b *mapBase[K, V]) uniquePairs(pairs []Pair[K, V]) []Pair[K, V] {
	if len(pairs) == 0 {
		return pairs
	}
	temp := newTable[K, struct{}](b.opts.LocalHash, b.opts.Transform, len(pairs))
	out := pairs[:0]
	for _, p := range pairs {
		if temp.insertFirst(p.Key, struct{}{}) {
			out = append(out, p)
		}
	}
	return out
}

// reducePairs pre-reduces an insert batch: values of equal keys fold left
// via op starting from the zero value, preserving batch order per key.
func (b *mapBase[K, V]) reducePairs(pairs []Pair[K, V], op func(V, V) V) []Pair[K, V] {
	if len(pairs) == 0 {
		return pairs
	}
	temp := newTable[K, V](b.opts.LocalHash, b.opts.Transform, len(pairs))
	for _, p := range pairs {
		temp.reduce(p.Key, p.Value, op)
	}
	out := make([]Pair[K, V], 0, temp.len())
	temp.each(func(k K, v V) {
		out = append(out, Pair[K, V]{Key: k, Value: v})
	})
	return out
}

// --------------------------------------------------------------------------
// Exchange Helpers
// --------------------------------------------------------------------------

// exchangeKeys routes a deduplicated query batch to the owner ranks.
// Returns the received keys grouped by source and the per-source counts.
func (b *mapBase[K, V]) exchangeKeys(keys []K) ([]K, []int, error) {
	bucketed, counts := comm.Bucket(keys, b.transport.Size(), func(k K) int { return b.rankOf(k) })
	return comm.Exchange(b.transport, b.opts.KeyCodec, bucketed, counts)
}

// exchangePairs routes an insert batch to the owner ranks.
func (b *mapBase[K, V]) exchangePairs(pairs []Pair[K, V]) ([]Pair[K, V], error) {
	bucketed, counts := comm.Bucket(pairs, b.transport.Size(), func(p Pair[K, V]) int { return b.rankOf(p.Key) })
	recv, _, err := comm.Exchange(b.transport, b.opts.PairCodec, bucketed, counts)
	return recv, err
}

// returnPairs sends per-source result segments back to their sources.
func (b *mapBase[K, V]) returnPairs(results []Pair[K, V], perSrc []int) ([]Pair[K, V], error) {
	out, _, err := comm.Exchange(b.transport, b.opts.PairCodec, results, perSrc)
	return out, err
}

// returnCounts sends per-source count segments back to their sources.
func (b *mapBase[K, V]) returnCounts(results []KeyCount[K], perSrc []int) ([]KeyCount[K], error) {
	out, _, err := comm.Exchange(b.transport, b.opts.CountCodec, results, perSrc)
	return out, err
}

// --------------------------------------------------------------------------
// Shared Query Implementations
// --------------------------------------------------------------------------

// countImpl answers Count for any variant via the localCount hook, which
// maps a stored key to its reported count.
// A nil key slice with a predicate counts over all local distinct keys.
func (b *mapBase[K, V]) countImpl(keys []K, pred KeyPredicate[K], localCount func(K) uint64) ([]KeyCount[K], error) {
	if keys == nil && pred != nil {
		out := b.localCounts(b.tbl.distinctKeys(), pred, localCount)
		if b.transport.Size() > 1 {
			if err := b.transport.Barrier(); err != nil {
				return out, err
			}
		}
		return out, nil
	}

	keys = b.uniqueKeys(keys)

	if b.transport.Size() <= 1 {
		return b.localCounts(keys, pred, localCount), nil
	}

	recv, perSrc, err := b.exchangeKeys(keys)
	if err != nil {
		return nil, err
	}

	results := make([]KeyCount[K], 0, len(recv))
	resCounts := make([]int, len(perSrc))
	pos := 0
	for src, n := range perSrc {
		before := len(results)
		results = append(results, b.localCounts(recv[pos:pos+n], pred, localCount)...)
		resCounts[src] = len(results) - before
		pos += n
	}
	return b.returnCounts(results, resCounts)
}

// localCounts evaluates one source's count queries against the local table.
func (b *mapBase[K, V]) localCounts(keys []K, pred KeyPredicate[K], localCount func(K) uint64) []KeyCount[K] {
	out := make([]KeyCount[K], 0, len(keys))
	for _, k := range keys {
		if pred != nil && !pred(k) {
			continue
		}
		out = append(out, KeyCount[K]{Key: k, Count: localCount(k)})
	}
	return out
}

// eraseImpl answers Erase for any variant. The returned count is the number
// of pairs removed on this rank as the owner, after the exchange.
func (b *mapBase[K, V]) eraseImpl(keys []K, pred PairPredicate[K, V]) (int, error) {
	// nil query: evaluate the predicate over all local pairs
	if keys == nil && pred != nil {
		removed := b.tbl.deleteIf(func(k K, v V) bool { return pred(k, v) })
		if b.transport.Size() > 1 {
			if err := b.transport.Barrier(); err != nil {
				return removed, err
			}
		}
		return removed, nil
	}

	keys = b.uniqueKeys(keys)
	if b.transport.Size() > 1 {
		recv, _, err := b.exchangeKeys(keys)
		if err != nil {
			return 0, err
		}
		keys = recv
	}

	removed := 0
	for _, k := range keys {
		if pred == nil {
			removed += b.tbl.delete(k)
			continue
		}
		// predicated erase: only matching pairs of the key are removed
		removed += b.tbl.deleteKeyIf(k, func(sk K, v V) bool { return pred(sk, v) })
	}
	return removed, nil
}
