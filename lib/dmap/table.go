package dmap

// entry is one stored pair. The transformed key and its hash are cached so
// that lookups never re-apply the transform to stored keys.
type entry[K comparable, V any] struct {
	key   K // original key as first inserted
	tkey  K // transformed key, basis of hashing and equality
	hash  uint64
	value V
}

// table is the local hash container: buckets of entries chained in slices,
// hashed by the configured local hash of the transformed key. Two keys are
// equal iff their transformed keys are equal.
//
// Thread-safety: none. The distributed map guarantees single-writer access.
type table[K comparable, V any] struct {
	trans func(K) K
	hash  func(K) uint64

	buckets [][]entry[K, V]
	count   int
}

// growFactor is the average chain length that triggers a rehash.
const growFactor = 4

// minBuckets is the initial bucket count.
const minBuckets = 16

func newTable[K comparable, V any](hash func(K) uint64, trans func(K) K, capacity int) *table[K, V] {
	n := minBuckets
	for n*growFactor < capacity {
		n <<= 1
	}
	return &table[K, V]{
		trans:   trans,
		hash:    hash,
		buckets: make([][]entry[K, V], n),
	}
}

// locate prepares the lookup of k: transformed key, hash, bucket index.
func (t *table[K, V]) locate(k K) (K, uint64, int) {
	tk := t.trans(k)
	h := t.hash(tk)
	return tk, h, int(h & uint64(len(t.buckets)-1))
}

// maybeGrow doubles the bucket array when chains get long.
func (t *table[K, V]) maybeGrow() {
	if t.count < growFactor*len(t.buckets) {
		return
	}
	old := t.buckets
	t.buckets = make([][]entry[K, V], len(old)*2)
	for _, bucket := range old {
		for _, e := range bucket {
			idx := int(e.hash & uint64(len(t.buckets)-1))
			t.buckets[idx] = append(t.buckets[idx], e)
		}
	}
}

// reserve sizes the bucket array for n entries.
func (t *table[K, V]) reserve(n int) {
	want := minBuckets
	for want*growFactor < n {
		want <<= 1
	}
	if want <= len(t.buckets) {
		return
	}
	old := t.buckets
	t.buckets = make([][]entry[K, V], want)
	for _, bucket := range old {
		for _, e := range bucket {
			idx := int(e.hash & uint64(len(t.buckets)-1))
			t.buckets[idx] = append(t.buckets[idx], e)
		}
	}
}

// insertFirst inserts (k, v) unless an equal key is already present.
// Returns true if the pair was inserted.
func (t *table[K, V]) insertFirst(k K, v V) bool {
	tk, h, idx := t.locate(k)
	for _, e := range t.buckets[idx] {
		if e.hash == h && e.tkey == tk {
			return false
		}
	}
	t.buckets[idx] = append(t.buckets[idx], entry[K, V]{key: k, tkey: tk, hash: h, value: v})
	t.count++
	t.maybeGrow()
	return true
}

// insertAppend always inserts (k, v), keeping earlier occurrences.
func (t *table[K, V]) insertAppend(k K, v V) {
	tk, h, idx := t.locate(k)
	t.buckets[idx] = append(t.buckets[idx], entry[K, V]{key: k, tkey: tk, hash: h, value: v})
	t.count++
	t.maybeGrow()
}

// reduce merges v into the stored value of k via op, starting from the zero
// value when k is absent: stored = op(stored-or-zero, v).
func (t *table[K, V]) reduce(k K, v V, op func(V, V) V) {
	tk, h, idx := t.locate(k)
	bucket := t.buckets[idx]
	for i := range bucket {
		if bucket[i].hash == h && bucket[i].tkey == tk {
			bucket[i].value = op(bucket[i].value, v)
			return
		}
	}
	var zero V
	t.buckets[idx] = append(t.buckets[idx], entry[K, V]{key: k, tkey: tk, hash: h, value: op(zero, v)})
	t.count++
	t.maybeGrow()
}

// get returns the first stored value for k.
func (t *table[K, V]) get(k K) (V, bool) {
	tk, h, idx := t.locate(k)
	for _, e := range t.buckets[idx] {
		if e.hash == h && e.tkey == tk {
			return e.value, true
		}
	}
	var zero V
	return zero, false
}

// getAll calls fn for every stored value of k, in insertion order.
func (t *table[K, V]) getAll(k K, fn func(V)) int {
	tk, h, idx := t.locate(k)
	n := 0
	for _, e := range t.buckets[idx] {
		if e.hash == h && e.tkey == tk {
			fn(e.value)
			n++
		}
	}
	return n
}

// countKey returns the number of stored pairs for k.
func (t *table[K, V]) countKey(k K) int {
	tk, h, idx := t.locate(k)
	n := 0
	for _, e := range t.buckets[idx] {
		if e.hash == h && e.tkey == tk {
			n++
		}
	}
	return n
}

// delete removes every stored pair for k and returns how many were removed.
func (t *table[K, V]) delete(k K) int {
	tk, h, idx := t.locate(k)
	bucket := t.buckets[idx]
	kept := bucket[:0]
	removed := 0
	for _, e := range bucket {
		if e.hash == h && e.tkey == tk {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	t.buckets[idx] = kept
	t.count -= removed
	return removed
}

// deleteKeyIf removes the stored pairs of k matching pred.
func (t *table[K, V]) deleteKeyIf(k K, pred func(K, V) bool) int {
	tk, h, idx := t.locate(k)
	bucket := t.buckets[idx]
	kept := bucket[:0]
	removed := 0
	for _, e := range bucket {
		if e.hash == h && e.tkey == tk && pred(e.key, e.value) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	t.buckets[idx] = kept
	t.count -= removed
	return removed
}

// deleteIf removes every stored pair matching pred and returns the count.
func (t *table[K, V]) deleteIf(pred func(K, V) bool) int {
	removed := 0
	for idx, bucket := range t.buckets {
		kept := bucket[:0]
		for _, e := range bucket {
			if pred(e.key, e.value) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		t.buckets[idx] = kept
	}
	t.count -= removed
	return removed
}

// len returns the number of stored pairs.
func (t *table[K, V]) len() int {
	return t.count
}

// each calls fn for every stored pair.
func (t *table[K, V]) each(fn func(K, V)) {
	for _, bucket := range t.buckets {
		for _, e := range bucket {
			fn(e.key, e.value)
		}
	}
}

// distinctKeys returns the stored keys, one per equality class, in the
// original representation of the first occurrence.
func (t *table[K, V]) distinctKeys() []K {
	seen := newTable[K, struct{}](t.hash, t.trans, t.count)
	var out []K
	for _, bucket := range t.buckets {
		for _, e := range bucket {
			if seen.insertFirst(e.key, struct{}{}) {
				out = append(out, e.key)
			}
		}
	}
	return out
}
