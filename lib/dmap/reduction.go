package dmap

import (
	"github.com/patflick/kmerind/lib/comm"
)

// ReduceOp merges an incoming value into the stored one. The left argument
// is the stored value, the right one the incoming value; the operation is
// not assumed associative or commutative.
type ReduceOp[V any] func(stored, incoming V) V

// ReductionMap is the distributed reduction map: inserting a key whose
// value is already present replaces the stored value v0 with op(v0, v).
// An absent key starts from the zero value: the first insert stores
// op(zero, v).
//
// Within a batch, the values of a key fold left in batch order before the
// exchange; the batch result then merges into the stored value as one
// incoming value. Batches from different ranks merge in the owner's
// arrival order, which is deterministic for a fixed configuration but not
// specified across configurations.
type ReductionMap[K comparable, V any] struct {
	*mapBase[K, V]
	op ReduceOp[V]
}

// NewReductionMap creates a distributed reduction map with the given
// reduction operation.
func NewReductionMap[K comparable, V any](t comm.ITransport, opts *Options[K, V], op ReduceOp[V]) (*ReductionMap[K, V], error) {
	if op == nil {
		return nil, comm.NewError(comm.RetCInvalidArgument, "reduction operation is required")
	}
	base, err := newMapBase(t, opts)
	if err != nil {
		return nil, err
	}
	return &ReductionMap[K, V]{mapBase: base, op: op}, nil
}

// --------------------------------------------------------------------------
// Mutation
// --------------------------------------------------------------------------

// Insert pre-reduces the batch per key, routes it to the owner ranks and
// merges it into the stored values there.
func (m *ReductionMap[K, V]) Insert(pairs []Pair[K, V]) error {
	return m.InsertIf(pairs, nil)
}

// InsertIf is Insert with a predicate evaluated on the owner rank before
// each local merge.
func (m *ReductionMap[K, V]) InsertIf(pairs []Pair[K, V], pred PairPredicate[K, V]) error {
	pairs = m.reducePairs(pairs, m.op)

	if m.transport.Size() > 1 {
		recv, err := m.exchangePairs(pairs)
		if err != nil {
			return err
		}
		pairs = recv
	}

	m.localInsert(pairs, pred)
	return nil
}

// LocalInsert merges a batch that already arrived on its owner rank.
// Must only be called from a single goroutine.
func (m *ReductionMap[K, V]) LocalInsert(pairs []Pair[K, V]) {
	m.localInsert(pairs, nil)
}

func (m *ReductionMap[K, V]) localInsert(pairs []Pair[K, V], pred PairPredicate[K, V]) {
	for _, p := range pairs {
		if pred != nil && !pred(p.Key, p.Value) {
			continue
		}
		m.tbl.reduce(p.Key, p.Value, m.op)
	}
}

// --------------------------------------------------------------------------
// Queries
// --------------------------------------------------------------------------

// Find returns the reduced (key, value) pair for every distinct query key
// present in the map.
func (m *ReductionMap[K, V]) Find(keys []K) ([]Pair[K, V], error) {
	return m.FindIf(keys, nil)
}

// FindIf is Find with a predicate filtering result pairs on the owner.
func (m *ReductionMap[K, V]) FindIf(keys []K, pred PairPredicate[K, V]) ([]Pair[K, V], error) {
	// a reduction map stores one value per key, so the single-map query
	// path applies unchanged
	single := Map[K, V]{mapBase: m.mapBase}
	return single.FindIf(keys, pred)
}

// Count returns (key, n) for every distinct query key; n is 0 or 1.
func (m *ReductionMap[K, V]) Count(keys []K) ([]KeyCount[K], error) {
	return m.CountIf(keys, nil)
}

// CountIf is Count with a predicate filtering query keys on the owner.
func (m *ReductionMap[K, V]) CountIf(keys []K, pred KeyPredicate[K]) ([]KeyCount[K], error) {
	return m.countImpl(keys, pred, func(k K) uint64 {
		return uint64(m.tbl.countKey(k))
	})
}

// Erase removes the query keys from their owners. Returns the number of
// pairs removed on this rank.
func (m *ReductionMap[K, V]) Erase(keys []K) (int, error) {
	return m.eraseImpl(keys, nil)
}

// EraseIf is Erase with a predicate evaluated against the stored pairs on
// the owner. A nil key slice applies the predicate to all local pairs.
func (m *ReductionMap[K, V]) EraseIf(keys []K, pred PairPredicate[K, V]) (int, error) {
	return m.eraseImpl(keys, pred)
}

// --------------------------------------------------------------------------
// Counting Map
// --------------------------------------------------------------------------

// CountingMap is the reduction map specialized to occurrence counting:
// values are integral, the reduction is addition, and Insert accepts plain
// keys which are locally reduced to (key, count) pairs before the exchange.
type CountingMap[K comparable] struct {
	*ReductionMap[K, uint64]
}

// NewCountingMap creates a distributed counting map over the transport.
func NewCountingMap[K comparable](t comm.ITransport, opts *Options[K, uint64]) (*CountingMap[K], error) {
	inner, err := NewReductionMap(t, opts, func(stored, incoming uint64) uint64 {
		return stored + incoming
	})
	if err != nil {
		return nil, err
	}
	return &CountingMap[K]{ReductionMap: inner}, nil
}

// Insert counts the keys of the batch locally and merges the (key, count)
// pairs into the owners' counters.
func (m *CountingMap[K]) Insert(keys []K) error {
	pairs := make([]Pair[K, uint64], len(keys))
	for i, k := range keys {
		pairs[i] = Pair[K, uint64]{Key: k, Value: 1}
	}
	return m.ReductionMap.Insert(pairs)
}

// Count returns (key, stored count) for every distinct query key; absent
// keys report zero.
func (m *CountingMap[K]) Count(keys []K) ([]KeyCount[K], error) {
	return m.CountIf(keys, nil)
}

// CountIf is Count with a predicate filtering query keys on the owner.
func (m *CountingMap[K]) CountIf(keys []K, pred KeyPredicate[K]) ([]KeyCount[K], error) {
	return m.countImpl(keys, pred, func(k K) uint64 {
		v, _ := m.tbl.get(k)
		return v
	})
}
