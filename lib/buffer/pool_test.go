package buffer

import (
	"github.com/patflick/kmerind/lib/concurrent"
	"sync"
	"testing"
)

// drain pops all currently queued descriptors
func drain(q *concurrent.Queue[SendDescriptor]) []SendDescriptor {
	var out []SendDescriptor
	for {
		d, ok := q.TryPop()
		if !ok {
			return out
		}
		out = append(out, d)
	}
}

// TestPoolRotation verifies that filling the front buffer hands it to the
// send queue and appends continue into a fresh buffer
func TestPoolRotation(t *testing.T) {
	out := concurrent.NewQueue[SendDescriptor](0)
	m, err := NewMessageBuffers(2, 8, out)
	if err != nil {
		t.Fatalf("NewMessageBuffers failed: %v", err)
	}

	// 3 appends of 4 bytes into an 8-byte buffer: third triggers a rotation
	for i := 0; i < 3; i++ {
		if !m.Append(1, 0, []byte("abcd")) {
			t.Fatalf("append %d failed", i)
		}
	}

	descs := drain(out)
	if len(descs) != 1 {
		t.Fatalf("expected 1 rotated buffer, got %d", len(descs))
	}
	d := descs[0]
	if d.IsEOS() || d.Tag != 1 || d.Dst != 0 {
		t.Errorf("unexpected descriptor %+v", d)
	}
	if got := string(d.Buf.Bytes()); got != "abcdabcd" {
		t.Errorf("unexpected rotated content %q", got)
	}
}

// TestPoolOversizedAppend verifies that a payload larger than a whole buffer
// is rejected
func TestPoolOversizedAppend(t *testing.T) {
	out := concurrent.NewQueue[SendDescriptor](0)
	m, _ := NewMessageBuffers(1, 4, out)

	if m.Append(0, 0, []byte("12345")) {
		t.Errorf("oversized append should fail")
	}
}

// TestPoolFlushTag verifies that flushing enqueues all partial buffers of
// the tag plus one end-of-stream marker per destination
func TestPoolFlushTag(t *testing.T) {
	const numRanks = 3
	out := concurrent.NewQueue[SendDescriptor](0)
	m, _ := NewMessageBuffers(numRanks, 64, out)

	m.Append(7, 0, []byte("to-zero"))
	m.Append(7, 2, []byte("to-two"))
	m.Append(9, 1, []byte("other-tag")) // must not be flushed

	if !m.FlushTag(7) {
		t.Fatalf("flush failed")
	}

	descs := drain(out)

	var payloads, eos int
	for _, d := range descs {
		if d.Tag != 7 {
			t.Errorf("descriptor for wrong tag %d", d.Tag)
		}
		if d.IsEOS() {
			eos++
		} else {
			payloads++
		}
	}
	if payloads != 2 {
		t.Errorf("expected 2 payload buffers, got %d", payloads)
	}
	if eos != numRanks {
		t.Errorf("expected %d end-of-stream markers, got %d", numRanks, eos)
	}
}

// TestPoolConcurrentAppend hammers one slot from many goroutines and checks
// that no byte is lost across rotations
func TestPoolConcurrentAppend(t *testing.T) {
	const numProducers = 8
	const itemsPerProducer = 1000

	out := concurrent.NewQueue[SendDescriptor](0)
	m, _ := NewMessageBuffers(1, 64, out)

	var wg sync.WaitGroup
	for p := 0; p < numProducers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				if !m.Append(0, 0, []byte("xxxxxxxx")) {
					t.Errorf("append failed")
					return
				}
			}
		}()
	}
	wg.Wait()

	if !m.FlushTag(0) {
		t.Fatalf("flush failed")
	}

	total := 0
	for _, d := range drain(out) {
		if !d.IsEOS() {
			total += d.Buf.Size()
		}
	}
	want := numProducers * itemsPerProducer * 8
	if total != want {
		t.Errorf("expected %d bytes across buffers, got %d", want, total)
	}
}
