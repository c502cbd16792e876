package local

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/patflick/kmerind/lib/comm"
)

// inboxCapacity bounds the per-rank mailbox. Senders block when a receiver
// falls this far behind.
const inboxCapacity = 1024

// --------------------------------------------------------------------------
// Reusable Barrier
// --------------------------------------------------------------------------

// barrier is a generation-counted reusable barrier.
type barrier struct {
	mu    sync.Mutex
	cond  *sync.Cond
	size  int
	count int
	gen   int
}

func newBarrier(size int) *barrier {
	b := &barrier{size: size}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *barrier) await() {
	b.mu.Lock()
	gen := b.gen
	b.count++
	if b.count == b.size {
		b.count = 0
		b.gen++
		b.cond.Broadcast()
	} else {
		for gen == b.gen {
			b.cond.Wait()
		}
	}
	b.mu.Unlock()
}

// --------------------------------------------------------------------------
// Mesh
// --------------------------------------------------------------------------

// mesh is the state shared by all endpoints of one NewMesh call.
type mesh struct {
	size    int
	inboxes []chan comm.Message

	// collective exchange area, guarded by the barrier protocol
	slots [][][]byte
	bar   *barrier

	closedCount atomic.Int32
}

// endpoint is the per-rank view of the mesh, implementing comm.ITransport.
type endpoint struct {
	m      *mesh
	rank   int
	closed atomic.Bool
}

// NewMesh creates an in-process transport mesh of p ranks.
// The returned slice holds one transport per rank.
func NewMesh(p int) ([]comm.ITransport, error) {
	if p <= 0 {
		return nil, fmt.Errorf("mesh size must be positive, got %d", p)
	}

	m := &mesh{
		size:    p,
		inboxes: make([]chan comm.Message, p),
		slots:   make([][][]byte, p),
		bar:     newBarrier(p),
	}
	for i := range m.inboxes {
		m.inboxes[i] = make(chan comm.Message, inboxCapacity)
	}

	out := make([]comm.ITransport, p)
	for i := 0; i < p; i++ {
		out[i] = &endpoint{m: m, rank: i}
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see comm.ITransport)
// --------------------------------------------------------------------------

func (e *endpoint) Rank() int {
	return e.rank
}

func (e *endpoint) Size() int {
	return e.m.size
}

func (e *endpoint) Send(dst int, data []byte) error {
	if e.closed.Load() {
		return fmt.Errorf("send on closed transport (rank %d)", e.rank)
	}
	if dst < 0 || dst >= e.m.size {
		return fmt.Errorf("destination rank %d out of range", dst)
	}

	// copy: the caller may reuse the slice after Send returns
	cp := make([]byte, len(data))
	copy(cp, data)

	e.m.inboxes[dst] <- comm.Message{Src: e.rank, Data: cp}
	return nil
}

func (e *endpoint) Recv() (comm.Message, bool) {
	msg, ok := <-e.m.inboxes[e.rank]
	return msg, ok
}

func (e *endpoint) Alltoallv(send [][]byte) ([][]byte, error) {
	if e.closed.Load() {
		return nil, fmt.Errorf("collective on closed transport (rank %d)", e.rank)
	}
	if len(send) != e.m.size {
		return nil, fmt.Errorf("expected %d send slices, got %d", e.m.size, len(send))
	}

	m := e.m
	m.bar.await() // previous round fully read
	m.slots[e.rank] = send
	m.bar.await() // all rows written

	recv := make([][]byte, m.size)
	for src := 0; src < m.size; src++ {
		recv[src] = m.slots[src][e.rank]
	}
	m.bar.await() // all rows read before anyone starts the next round
	return recv, nil
}

func (e *endpoint) Barrier() error {
	if e.closed.Load() {
		return fmt.Errorf("barrier on closed transport (rank %d)", e.rank)
	}
	e.m.bar.await()
	return nil
}

// Close marks this rank closed. Once every rank has closed, the mailboxes
// are closed so that pending Recv calls drain and return false.
func (e *endpoint) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if e.m.closedCount.Add(1) == int32(e.m.size) {
		for _, ch := range e.m.inboxes {
			close(ch)
		}
	}
	return nil
}
