package dmap

import (
	"testing"
)

func ident(k uint64) uint64 { return k }
func noTrans(k uint64) uint64 { return k }

// TestTableInsertFirst verifies first-wins semantics
func TestTableInsertFirst(t *testing.T) {
	tbl := newTable[uint64, string](ident, noTrans, 0)

	if !tbl.insertFirst(1, "a") {
		t.Fatalf("first insert should succeed")
	}
	if tbl.insertFirst(1, "b") {
		t.Errorf("second insert of same key should be rejected")
	}
	if v, ok := tbl.get(1); !ok || v != "a" {
		t.Errorf("expected (a, true), got (%s, %v)", v, ok)
	}
	if tbl.len() != 1 {
		t.Errorf("expected len 1, got %d", tbl.len())
	}
}

// TestTableAppend verifies multimap semantics and bag retrieval
func TestTableAppend(t *testing.T) {
	tbl := newTable[uint64, int](ident, noTrans, 0)

	tbl.insertAppend(7, 10)
	tbl.insertAppend(7, 20)
	tbl.insertAppend(8, 30)

	if tbl.countKey(7) != 2 {
		t.Errorf("expected count 2, got %d", tbl.countKey(7))
	}

	var vals []int
	tbl.getAll(7, func(v int) { vals = append(vals, v) })
	if len(vals) != 2 || vals[0] != 10 || vals[1] != 20 {
		t.Errorf("expected [10 20] in insertion order, got %v", vals)
	}
}

// TestTableReduceFromZero verifies the zero-initialization convention
func TestTableReduceFromZero(t *testing.T) {
	tbl := newTable[uint64, int](ident, noTrans, 0)
	op := func(stored, incoming int) int { return 2*stored + incoming }

	tbl.reduce(5, 1, op) // 2*0+1 = 1
	tbl.reduce(5, 2, op) // 2*1+2 = 4
	tbl.reduce(5, 3, op) // 2*4+3 = 11

	// left-fold from zero: op(op(op(0,1),2),3)
	want := 2*(2*(2*0+1)+2) + 3
	if v, _ := tbl.get(5); v != want {
		t.Errorf("expected %d, got %d", want, v)
	}
}

// TestTableDelete verifies removal counts
func TestTableDelete(t *testing.T) {
	tbl := newTable[uint64, int](ident, noTrans, 0)
	tbl.insertAppend(1, 10)
	tbl.insertAppend(1, 11)
	tbl.insertAppend(2, 20)

	if n := tbl.delete(1); n != 2 {
		t.Errorf("expected 2 removed, got %d", n)
	}
	if tbl.len() != 1 {
		t.Errorf("expected len 1, got %d", tbl.len())
	}
	if n := tbl.delete(99); n != 0 {
		t.Errorf("expected 0 removed for absent key, got %d", n)
	}
}

// TestTableTransformEquality verifies equality is taken after the transform
func TestTableTransformEquality(t *testing.T) {
	// merge each even/odd pair: 2n and 2n+1 are the same key
	trans := func(k uint64) uint64 { return k &^ 1 }
	tbl := newTable[uint64, string](ident, trans, 0)

	tbl.insertFirst(4, "even")
	if tbl.insertFirst(5, "odd") {
		t.Errorf("5 should collide with 4 under the transform")
	}
	if v, ok := tbl.get(5); !ok || v != "even" {
		t.Errorf("lookup via the twin key failed: (%s, %v)", v, ok)
	}

	keys := tbl.distinctKeys()
	if len(keys) != 1 || keys[0] != 4 {
		t.Errorf("expected original key 4 kept, got %v", keys)
	}
}

// TestTableGrowth fills the table well past the initial bucket count
func TestTableGrowth(t *testing.T) {
	tbl := newTable[uint64, uint64](func(k uint64) uint64 {
		// cheap mixing so buckets spread
		k ^= k >> 33
		k *= 0xff51afd7ed558ccd
		return k ^ k>>33
	}, noTrans, 0)

	const n = 100000
	for i := uint64(0); i < n; i++ {
		tbl.insertFirst(i, i*2)
	}
	if tbl.len() != n {
		t.Fatalf("expected %d entries, got %d", n, tbl.len())
	}
	for i := uint64(0); i < n; i += 997 {
		if v, ok := tbl.get(i); !ok || v != i*2 {
			t.Fatalf("lookup of %d failed after growth", i)
		}
	}
}
