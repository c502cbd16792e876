package buffer

import (
	"fmt"
	"github.com/patflick/kmerind/lib/concurrent"
	"github.com/puzpuzpuz/xsync/v3"
	"sync"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Send Descriptor
// --------------------------------------------------------------------------

// SendDescriptor names a blocked buffer that is ready to be sent to Dst
// under Tag. A nil Buf is the end-of-stream sentinel for (Tag, Dst).
type SendDescriptor struct {
	Buf *Buffer
	Tag uint32
	Dst int
}

// IsEOS returns whether the descriptor is an end-of-stream sentinel.
func (d SendDescriptor) IsEOS() bool {
	return d.Buf == nil
}

// --------------------------------------------------------------------------
// Per-Tag Per-Destination Buffer Pool
// --------------------------------------------------------------------------

// slot holds the front buffer of one (tag, destination) pair.
// Appends are lock-free; rotations are serialized by the mutex so that full
// buffers enter the send queue in fill order.
type slot struct {
	cur atomic.Pointer[Buffer]
	mu  sync.Mutex
}

// MessageBuffers batches outgoing payloads per (tag, destination).
//
// Each slot holds the current front buffer. Producers append into it; the
// producer that hits a full front swaps in a fresh buffer, quiesces the old
// one and hands it to the send queue. Slots are created lazily on first
// append.
type MessageBuffers struct {
	numRanks    int
	bufCapacity int

	slots *xsync.MapOf[uint64, *slot]
	out   *concurrent.Queue[SendDescriptor]
}

// NewMessageBuffers creates a pool feeding the given send queue.
// bufCapacity is the size of each per-destination buffer.
func NewMessageBuffers(numRanks, bufCapacity int, out *concurrent.Queue[SendDescriptor]) (*MessageBuffers, error) {
	if numRanks <= 0 {
		return nil, fmt.Errorf("number of ranks must be positive, got %d", numRanks)
	}
	if bufCapacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &MessageBuffers{
		numRanks:    numRanks,
		bufCapacity: bufCapacity,
		slots:       xsync.NewMapOf[uint64, *slot](),
		out:         out,
	}, nil
}

// slotKey packs (tag, dst) into a single map key
func slotKey(tag uint32, dst int) uint64 {
	return uint64(tag)<<32 | uint64(uint32(dst))
}

// takeBuffer allocates a fresh front buffer. Sent buffers are never
// recycled: they stay blocked so that a producer holding a stale pointer
// can never append into a buffer that has moved on, and the garbage
// collector reclaims them.
func (m *MessageBuffers) takeBuffer() *Buffer {
	b, _ := NewBuffer(m.bufCapacity)
	return b
}

// slot returns the slot for (tag, dst), creating it lazily
func (m *MessageBuffers) slot(tag uint32, dst int) *slot {
	s, _ := m.slots.LoadOrCompute(slotKey(tag, dst), func() *slot {
		s := &slot{}
		s.cur.Store(m.takeBuffer())
		return s
	})
	return s
}

// rotate swaps a fresh buffer into the slot and enqueues the old front if it
// holds any bytes. Caller must hold s.mu. Returns false if the send queue
// rejected the buffer.
func (m *MessageBuffers) rotate(s *slot, tag uint32, dst int) bool {
	cur := s.cur.Load()
	s.cur.Store(m.takeBuffer())
	cur.Quiesce()

	if cur.Size() == 0 {
		return true
	}
	return m.out.Push(SendDescriptor{Buf: cur, Tag: tag, Dst: dst})
}

// Append adds p to the front buffer of (tag, dst). When the front is full,
// the caller rotates the slot, enqueues the full buffer for sending
// (blocking if the send queue is at capacity) and retries.
//
// Returns false if p can never fit (larger than a whole buffer) or if the
// send queue rejects the full buffer (push disabled).
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (m *MessageBuffers) Append(tag uint32, dst int, p []byte) bool {
	if len(p) > m.bufCapacity {
		return false
	}

	s := m.slot(tag, dst)
	for {
		if s.cur.Load().Append(p) {
			return true
		}

		// front is full: rotate under the slot lock
		s.mu.Lock()
		// another producer may have rotated while we waited
		if s.cur.Load().Append(p) {
			s.mu.Unlock()
			return true
		}
		ok := m.rotate(s, tag, dst)
		s.mu.Unlock()
		if !ok {
			return false
		}
	}
}

// FlushTag force-rotates every non-empty buffer of the tag into the send
// queue, then appends one end-of-stream sentinel per destination.
//
// Returns false if the send queue rejects a descriptor.
func (m *MessageBuffers) FlushTag(tag uint32) bool {
	ok := true

	m.slots.Range(func(key uint64, s *slot) bool {
		if uint32(key>>32) != tag {
			return true
		}
		dst := int(uint32(key))

		s.mu.Lock()
		pushed := m.rotate(s, tag, dst)
		s.mu.Unlock()
		if !pushed {
			ok = false
			return false
		}
		return true
	})
	if !ok {
		return false
	}

	// one end-of-stream marker per destination, self included
	for dst := 0; dst < m.numRanks; dst++ {
		if !m.out.Push(SendDescriptor{Tag: tag, Dst: dst}) {
			return false
		}
	}
	return true
}
