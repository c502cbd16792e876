package dmap

import (
	"github.com/patflick/kmerind/lib/comm"
)

// Map is the distributed single-value map: the first insert of a key wins,
// within a batch and across batches.
//
// Batch slices passed to the operations may be reordered and truncated in
// place.
type Map[K comparable, V any] struct {
	*mapBase[K, V]
}

// NewMap creates a distributed single-value map over the transport.
func NewMap[K comparable, V any](t comm.ITransport, opts *Options[K, V]) (*Map[K, V], error) {
	base, err := newMapBase(t, opts)
	if err != nil {
		return nil, err
	}
	return &Map[K, V]{mapBase: base}, nil
}

// --------------------------------------------------------------------------
// Mutation
// --------------------------------------------------------------------------

// Insert routes the batch to the owner ranks and inserts it there.
// Duplicate keys within the batch are deduplicated (first occurrence wins)
// before transmission; keys already stored keep their value.
func (m *Map[K, V]) Insert(pairs []Pair[K, V]) error {
	return m.InsertIf(pairs, nil)
}

// InsertIf is Insert with a predicate evaluated on the owner rank before
// each local insert.
func (m *Map[K, V]) InsertIf(pairs []Pair[K, V], pred PairPredicate[K, V]) error {
	pairs = m.uniquePairs(pairs)

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

// LocalInsert applies a batch that already arrived on its owner rank.
// Must only be called from a single goroutine (the dispatch worker of the
// streaming build path).
func (m *Map[K, V]) LocalInsert(pairs []Pair[K, V]) {
	m.localInsert(pairs, nil)
}

func (m *Map[K, V]) localInsert(pairs []Pair[K, V], pred PairPredicate[K, V]) {
	for _, p := range pairs {
		if pred != nil && !pred(p.Key, p.Value) {
			continue
		}
		m.tbl.insertFirst(p.Key, p.Value)
	}
}

// --------------------------------------------------------------------------
// Queries
// --------------------------------------------------------------------------

// Find returns one (key, value) pair for every distinct query key that
// exists in the map.
func (m *Map[K, V]) Find(keys []K) ([]Pair[K, V], error) {
	return m.FindIf(keys, nil)
}

// FindIf is Find with a predicate filtering result pairs on the owner.
// A nil key slice with a predicate scans all local distinct keys.
func (m *Map[K, V]) FindIf(keys []K, pred PairPredicate[K, V]) ([]Pair[K, V], error) {
	if keys == nil && pred != nil {
		out := m.localFind(m.tbl.distinctKeys(), pred)
		if m.transport.Size() > 1 {
			if err := m.transport.Barrier(); err != nil {
				return out, err
			}
		}
		return out, nil
	}

	keys = m.uniqueKeys(keys)

	if m.transport.Size() <= 1 {
		return m.localFind(keys, pred), nil
	}

	recv, perSrc, err := m.exchangeKeys(keys)
	if err != nil {
		return nil, err
	}

	results := make([]Pair[K, V], 0, len(recv))
	resCounts := make([]int, len(perSrc))
	pos := 0
	for src, n := range perSrc {
		before := len(results)
		results = append(results, m.localFind(recv[pos:pos+n], pred)...)
		resCounts[src] = len(results) - before
		pos += n
	}
	return m.returnPairs(results, resCounts)
}

func (m *Map[K, V]) localFind(keys []K, pred PairPredicate[K, V]) []Pair[K, V] {
	out := make([]Pair[K, V], 0, len(keys))
	for _, k := range keys {
		v, ok := m.tbl.get(k)
		if !ok {
			continue
		}
		if pred != nil && !pred(k, v) {
			continue
		}
		out = append(out, Pair[K, V]{Key: k, Value: v})
	}
	return out
}

// Count returns (key, n) for every distinct query key; n is 0 or 1.
func (m *Map[K, V]) Count(keys []K) ([]KeyCount[K], error) {
	return m.CountIf(keys, nil)
}

// CountIf is Count with a predicate filtering query keys on the owner.
func (m *Map[K, V]) CountIf(keys []K, pred KeyPredicate[K]) ([]KeyCount[K], error) {
	return m.countImpl(keys, pred, func(k K) uint64 {
		return uint64(m.tbl.countKey(k))
	})
}

// Erase removes the query keys from their owners. Returns the number of
// pairs removed on this rank.
func (m *Map[K, V]) Erase(keys []K) (int, error) {
	return m.eraseImpl(keys, nil)
}

// EraseIf is Erase with a predicate evaluated against the stored pairs on
// the owner. A nil key slice applies the predicate to all local pairs.
func (m *Map[K, V]) EraseIf(keys []K, pred PairPredicate[K, V]) (int, error) {
	return m.eraseImpl(keys, pred)
}
