package dmap

import (
	"github.com/patflick/kmerind/lib/comm"
)

// MultiMap is the distributed multimap: every occurrence of a key is
// stored, Find returns the full bag and Count the multiplicity.
type MultiMap[K comparable, V any] struct {
	*mapBase[K, V]
}

// NewMultiMap creates a distributed multimap over the transport.
func NewMultiMap[K comparable, V any](t comm.ITransport, opts *Options[K, V]) (*MultiMap[K, V], error) {
	base, err := newMapBase(t, opts)
	if err != nil {
		return nil, err
	}
	return &MultiMap[K, V]{mapBase: base}, nil
}

// --------------------------------------------------------------------------
// Mutation
// --------------------------------------------------------------------------

// Insert routes the batch to the owner ranks and stores every occurrence.
func (m *MultiMap[K, V]) Insert(pairs []Pair[K, V]) error {
	return m.InsertIf(pairs, nil)
}

// InsertIf is Insert with a predicate evaluated on the owner rank.
func (m *MultiMap[K, V]) InsertIf(pairs []Pair[K, V], pred PairPredicate[K, V]) error {
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
// Must only be called from a single goroutine.
func (m *MultiMap[K, V]) LocalInsert(pairs []Pair[K, V]) {
	m.localInsert(pairs, nil)
}

func (m *MultiMap[K, V]) localInsert(pairs []Pair[K, V], pred PairPredicate[K, V]) {
	for _, p := range pairs {
		if pred != nil && !pred(p.Key, p.Value) {
			continue
		}
		m.tbl.insertAppend(p.Key, p.Value)
	}
}

// --------------------------------------------------------------------------
// Queries
// --------------------------------------------------------------------------

// Find returns one (key, value) pair per stored occurrence of every
// distinct query key.
func (m *MultiMap[K, V]) Find(keys []K) ([]Pair[K, V], error) {
	return m.FindIf(keys, nil)
}

// FindIf is Find with a predicate filtering the intermediate result pairs
// on the owner. A nil key slice with a predicate scans all local keys.
func (m *MultiMap[K, V]) FindIf(keys []K, pred PairPredicate[K, V]) ([]Pair[K, V], error) {
	if keys == nil && pred != nil {
		out := m.appendFound(nil, m.tbl.distinctKeys(), pred)
		if m.transport.Size() > 1 {
			if err := m.transport.Barrier(); err != nil {
				return out, err
			}
		}
		return out, nil
	}

	keys = m.uniqueKeys(keys)

	if m.transport.Size() <= 1 {
		return m.localFind(keys, pred, len(keys)*m.keyMultiplicity), nil
	}

	recv, perSrc, err := m.exchangeKeys(keys)
	if err != nil {
		return nil, err
	}

	// the multiplicity estimate sizes the result buffer
	results := make([]Pair[K, V], 0, len(recv)*m.keyMultiplicity)
	resCounts := make([]int, len(perSrc))
	pos := 0
	for src, n := range perSrc {
		before := len(results)
		results = m.appendFound(results, recv[pos:pos+n], pred)
		resCounts[src] = len(results) - before
		pos += n
	}
	return m.returnPairs(results, resCounts)
}

func (m *MultiMap[K, V]) localFind(keys []K, pred PairPredicate[K, V], capacity int) []Pair[K, V] {
	return m.appendFound(make([]Pair[K, V], 0, capacity), keys, pred)
}

func (m *MultiMap[K, V]) appendFound(out []Pair[K, V], keys []K, pred PairPredicate[K, V]) []Pair[K, V] {
	for _, k := range keys {
		m.tbl.getAll(k, func(v V) {
			if pred != nil && !pred(k, v) {
				return
			}
			out = append(out, Pair[K, V]{Key: k, Value: v})
		})
	}
	return out
}

// Count returns (key, multiplicity) for every distinct query key.
func (m *MultiMap[K, V]) Count(keys []K) ([]KeyCount[K], error) {
	return m.CountIf(keys, nil)
}

// CountIf is Count with a predicate filtering query keys on the owner.
func (m *MultiMap[K, V]) CountIf(keys []K, pred KeyPredicate[K]) ([]KeyCount[K], error) {
	return m.countImpl(keys, pred, func(k K) uint64 {
		return uint64(m.tbl.countKey(k))
	})
}

// Erase removes all occurrences of the query keys from their owners.
// Returns the number of pairs removed on this rank.
func (m *MultiMap[K, V]) Erase(keys []K) (int, error) {
	return m.eraseImpl(keys, nil)
}

// EraseIf is Erase with a predicate evaluated against the stored pairs on
// the owner. A nil key slice applies the predicate to all local pairs.
func (m *MultiMap[K, V]) EraseIf(keys []K, pred PairPredicate[K, V]) (int, error) {
	return m.eraseImpl(keys, pred)
}

// --------------------------------------------------------------------------
// Key Multiplicity
// --------------------------------------------------------------------------

// UpdateMultiplicity recomputes the key-multiplicity estimate by counting
// the distinct keys in the local container. The estimate sizes the receive
// buffer during Find.
func (m *MultiMap[K, V]) UpdateMultiplicity() int {
	size := m.tbl.len()
	if size == 0 {
		m.keyMultiplicity = 1
		return m.keyMultiplicity
	}

	distinct := len(m.tbl.distinctKeys())
	m.keyMultiplicity = (size+distinct-1)/distinct + 1
	return m.keyMultiplicity
}
