package buffer

import (
	"errors"
	"runtime"
	"sync/atomic"
)

// ErrInvalidCapacity is returned by NewBuffer for a non-positive capacity.
var ErrInvalidCapacity = errors.New("buffer capacity must be positive")

// Buffer is a fixed-capacity byte buffer supporting concurrent appends.
//
// An append reserves its region by fetch-adding the size counter; if the
// reservation would overrun the capacity it reverses the add and fails.
// On success the bytes are copied into the reserved region.
//
// Reading the contents (Bytes) is only valid after Block + Quiesce, when no
// append can be in flight anymore.
type Buffer struct {
	data    []byte
	size    atomic.Int64
	blocked atomic.Bool
	pending atomic.Int32 // appends currently copying
}

// NewBuffer creates an unblocked buffer with the given capacity.
func NewBuffer(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &Buffer{data: make([]byte, capacity)}, nil
}

// Append copies p into the buffer.
// Returns false if the buffer is blocked or p does not fit in the remaining
// space. The buffer is unchanged on failure.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (b *Buffer) Append(p []byte) bool {
	if b.blocked.Load() {
		return false
	}

	n := int64(len(p))

	b.pending.Add(1)
	// re-check after announcing the append: Quiesce stores the flag before it
	// reads pending, so either it sees us here or we see the flag
	if b.blocked.Load() {
		b.pending.Add(-1)
		return false
	}
	end := b.size.Add(n)
	if end > int64(len(b.data)) {
		b.size.Add(-n)
		b.pending.Add(-1)
		return false
	}

	copy(b.data[end-n:end], p)
	b.pending.Add(-1)
	return true
}

// Size returns the number of bytes appended so far.
func (b *Buffer) Size() int {
	s := b.size.Load()
	// a failed reservation may transiently overshoot before it is reversed
	if s > int64(len(b.data)) {
		s = int64(len(b.data))
	}
	return int(s)
}

// Capacity returns the fixed capacity.
func (b *Buffer) Capacity() int {
	return len(b.data)
}

// Block prevents further successful appends until Unblock.
func (b *Buffer) Block() {
	b.blocked.Store(true)
}

// Unblock re-allows appends.
func (b *Buffer) Unblock() {
	b.blocked.Store(false)
}

// IsBlocked returns whether the buffer is blocked.
func (b *Buffer) IsBlocked() bool {
	return b.blocked.Load()
}

// Quiesce blocks the buffer and waits until every in-flight append has
// finished copying. After Quiesce returns, Bytes is safe to read.
func (b *Buffer) Quiesce() {
	b.blocked.Store(true)
	for b.pending.Load() > 0 {
		runtime.Gosched()
	}
}

// Bytes returns the filled region of the buffer.
// Only valid after Quiesce (or when no appender is active).
func (b *Buffer) Bytes() []byte {
	return b.data[:b.Size()]
}

// Clear resets the size to zero and unblocks the buffer.
func (b *Buffer) Clear() {
	b.size.Store(0)
	b.blocked.Store(false)
}

// TransferTo moves the contents of b into dst and resets b to empty.
// Returns false if dst cannot hold the bytes. b must be quiesced.
func (b *Buffer) TransferTo(dst *Buffer) bool {
	if !dst.Append(b.Bytes()) {
		return false
	}
	b.Clear()
	return true
}
