package comm

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/patflick/kmerind/lib/buffer"
	"github.com/patflick/kmerind/lib/concurrent"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("comm")

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

var (
	metricMsgsSent       = metrics.GetOrCreateCounter(`kmerind_comm_messages_sent_total`)
	metricBytesSent      = metrics.GetOrCreateCounter(`kmerind_comm_bytes_sent_total`)
	metricMsgsReceived   = metrics.GetOrCreateCounter(`kmerind_comm_messages_received_total`)
	metricMsgsDispatched = metrics.GetOrCreateCounter(`kmerind_comm_messages_dispatched_total`)
	metricTagFlushes     = metrics.GetOrCreateCounter(`kmerind_comm_tag_flushes_total`)
)

// --------------------------------------------------------------------------
// Wire Format
// --------------------------------------------------------------------------

// Frames on the wire carry a 5-byte header (tag, flags) followed by zero or
// more length-prefixed application messages. An end-of-stream frame has the
// EOS flag set and an empty body.
const (
	frameHeaderSize = 5
	flagEOS         = 1 << 0
)

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// CommLayerOptions configures the communication layer.
type CommLayerOptions struct {
	// QueueCapacity bounds the outbound send queue; producers that fill it
	// block (backpressure). 0 means unbounded.
	QueueCapacity int
	// BufferCapacity is the size of each per-(tag, destination) batch buffer.
	BufferCapacity int
	// DispatchWorkers is the number of goroutines running receive callbacks.
	// Per-tag FIFO delivery is only guaranteed with a single worker.
	DispatchWorkers int
}

// DefaultCommLayerOptions returns the default communication layer options.
func DefaultCommLayerOptions() *CommLayerOptions {
	return &CommLayerOptions{
		QueueCapacity:   1024,
		BufferCapacity:  64 * 1024,
		DispatchWorkers: 1,
	}
}

// --------------------------------------------------------------------------
// Per-Tag State
// --------------------------------------------------------------------------

// ReceiveCallback is invoked by a dispatch worker for every application
// message received under the registered tag.
type ReceiveCallback func(src int, msg []byte)

// tagState tracks one tag on this rank: the registered callback, the
// end-of-stream accounting on the receive side, and the closed flag on the
// send side.
type tagState struct {
	mu   sync.Mutex
	cond *sync.Cond

	callback   ReceiveCallback
	registered bool

	remaining int // peers whose end-of-stream has not arrived yet
	pending   int // received messages not yet dispatched

	closed bool // closed for application sends (Flush was called)

	// sendMu serializes application sends against Flush so that no append
	// can land in a buffer after its end-of-stream marker was emitted
	sendMu sync.RWMutex
}

func newTagState(numRanks int) *tagState {
	st := &tagState{remaining: numRanks}
	st.cond = sync.NewCond(&st.mu)
	return st
}

// drained reports whether the tag can be retired. Caller must hold st.mu.
func (st *tagState) drained() bool {
	return st.remaining == 0 && st.pending == 0
}

// --------------------------------------------------------------------------
// Communication Layer
// --------------------------------------------------------------------------

// dispatchItem is one application message waiting for its callback.
type dispatchItem struct {
	tag  uint32
	src  int
	data []byte
	st   *tagState
}

// CommLayer is the asynchronous message broker on top of an ITransport.
//
// Application threads call SendMessage / Flush / Finish; one comm worker
// drives the transport sends, one recv worker drains the transport, and
// DispatchWorkers goroutines run the registered callbacks.
type CommLayer struct {
	transport ITransport
	opts      CommLayerOptions

	sendQ     *concurrent.Queue[buffer.SendDescriptor]
	dispatchQ *concurrent.Queue[dispatchItem]
	buffers   *buffer.MessageBuffers
	tags      *xsync.MapOf[uint32, *tagState]

	poisoned atomic.Bool

	commWG sync.WaitGroup
	recvWG sync.WaitGroup
	dispWG sync.WaitGroup
}

// NewCommLayer creates a communication layer over the given transport.
// InitCommunication must be called before any send or receive.
func NewCommLayer(t ITransport, opts *CommLayerOptions) (*CommLayer, error) {
	if opts == nil {
		opts = DefaultCommLayerOptions()
	}
	if opts.BufferCapacity <= frameHeaderSize {
		return nil, NewError(RetCInvalidArgument, "buffer capacity too small")
	}
	if opts.DispatchWorkers <= 0 {
		return nil, NewError(RetCInvalidArgument, "need at least one dispatch worker")
	}

	sendQ := concurrent.NewQueue[buffer.SendDescriptor](opts.QueueCapacity)
	bufs, err := buffer.NewMessageBuffers(t.Size(), opts.BufferCapacity, sendQ)
	if err != nil {
		return nil, NewError(RetCInvalidArgument, err.Error())
	}

	return &CommLayer{
		transport: t,
		opts:      *opts,
		sendQ:     sendQ,
		dispatchQ: concurrent.NewQueue[dispatchItem](0),
		buffers:   bufs,
		tags:      xsync.NewMapOf[uint32, *tagState](),
	}, nil
}

// CommRank returns the rank of this process.
func (c *CommLayer) CommRank() int {
	return c.transport.Rank()
}

// CommSize returns the number of participating processes.
func (c *CommLayer) CommSize() int {
	return c.transport.Size()
}

// tagState returns the state for tag, creating it lazily.
func (c *CommLayer) tagState(tag uint32) *tagState {
	st, _ := c.tags.LoadOrCompute(tag, func() *tagState {
		return newTagState(c.transport.Size())
	})
	return st
}

// --------------------------------------------------------------------------
// Application API
// --------------------------------------------------------------------------

// InitCommunication starts the comm, recv and dispatch workers.
func (c *CommLayer) InitCommunication() {
	c.commWG.Add(1)
	go c.commWorker()

	c.recvWG.Add(1)
	go c.recvWorker()

	for i := 0; i < c.opts.DispatchWorkers; i++ {
		c.dispWG.Add(1)
		go c.dispatchWorker()
	}
}

// AddReceiveCallback registers fn to be invoked for every message received
// under tag. Registering a tag twice is a warned no-op.
func (c *CommLayer) AddReceiveCallback(tag uint32, fn ReceiveCallback) error {
	st := c.tagState(tag)

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.registered {
		log.Warningf("callback for tag %d already registered, ignoring", tag)
		return NewError(RetCTagRegistered, "tag already registered")
	}
	st.registered = true
	st.callback = fn
	// a dispatch worker may already be parked on an early message
	st.cond.Broadcast()
	return nil
}

// SendMessage batches msg for delivery to dstRank under tag. The message is
// transmitted when its batch buffer fills up or the tag is flushed.
//
// Blocks when the send queue is at capacity. Fails with RetCTagClosed after
// Flush(tag), with RetCCapacityExhausted if msg cannot fit a batch buffer,
// and with RetCTransportFatal once the layer is poisoned.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (c *CommLayer) SendMessage(msg []byte, dstRank int, tag uint32) error {
	if c.poisoned.Load() {
		return NewError(RetCTransportFatal, "communication layer is poisoned")
	}
	if dstRank < 0 || dstRank >= c.transport.Size() {
		return NewError(RetCInvalidArgument, "destination rank out of range")
	}

	st := c.tagState(tag)
	st.sendMu.RLock()
	defer st.sendMu.RUnlock()

	st.mu.Lock()
	closed := st.closed
	st.mu.Unlock()
	if closed {
		return NewError(RetCTagClosed, "tag already flushed")
	}

	// length-prefixed record so that the receiver can restore message
	// boundaries from a concatenated batch
	rec := make([]byte, 4+len(msg))
	binary.BigEndian.PutUint32(rec[0:4], uint32(len(msg)))
	copy(rec[4:], msg)

	if len(rec) > c.opts.BufferCapacity {
		return NewError(RetCCapacityExhausted, "message larger than batch buffer")
	}
	if !c.buffers.Append(tag, dstRank, rec) {
		return NewError(RetCTransportFatal, "send queue rejected buffer")
	}
	return nil
}

// Flush closes tag for further application sends, hands every partial batch
// buffer of the tag to the send queue and emits one end-of-stream marker
// per destination.
func (c *CommLayer) Flush(tag uint32) error {
	if c.poisoned.Load() {
		return NewError(RetCTransportFatal, "communication layer is poisoned")
	}

	st := c.tagState(tag)
	st.sendMu.Lock()
	defer st.sendMu.Unlock()

	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return NewError(RetCTagClosed, "tag already flushed")
	}
	st.closed = true
	st.mu.Unlock()

	metricTagFlushes.Inc()
	if !c.buffers.FlushTag(tag) {
		return NewError(RetCTransportFatal, "send queue rejected flush")
	}
	return nil
}

// Finish blocks until every peer's end-of-stream marker for tag arrived and
// every received payload of the tag was dispatched, then retires the tag.
func (c *CommLayer) Finish(tag uint32) error {
	st := c.tagState(tag)

	st.mu.Lock()
	for !st.drained() {
		if c.poisoned.Load() {
			st.mu.Unlock()
			return NewError(RetCTransportFatal, "communication layer is poisoned")
		}
		st.cond.Wait()
	}
	st.mu.Unlock()

	// retire the registration; the tag id may be reused afterwards
	c.tags.Delete(tag)
	return nil
}

// FinishCommunication stops the workers. Must only be called after every
// open tag was finished on all ranks.
func (c *CommLayer) FinishCommunication() error {
	// stop accepting sends; the comm worker drains the queue and exits
	c.sendQ.DisablePush()
	c.commWG.Wait()

	// all frames of all ranks are on the wire before anyone closes
	if err := c.transport.Barrier(); err != nil {
		c.poison(err)
	}
	if err := c.transport.Close(); err != nil {
		c.poison(err)
	}
	c.recvWG.Wait()

	c.dispatchQ.DisablePush()
	c.dispWG.Wait()

	if c.poisoned.Load() {
		return NewError(RetCTransportFatal, "communication layer is poisoned")
	}
	return nil
}

// --------------------------------------------------------------------------
// Workers
// --------------------------------------------------------------------------

// commWorker pops send descriptors and drives the transport. Messages to
// self are short-circuited onto the dispatch path without touching the
// transport.
func (c *CommLayer) commWorker() {
	defer c.commWG.Done()

	for {
		d, ok := c.sendQ.Pop()
		if !ok {
			return
		}

		frame := c.encodeFrame(d)
		metricMsgsSent.Inc()
		metricBytesSent.Add(len(frame))

		if d.Dst == c.transport.Rank() {
			c.deliver(d.Dst, frame)
			continue
		}
		if err := c.transport.Send(d.Dst, frame); err != nil {
			c.poison(err)
			return
		}
	}
}

// encodeFrame builds the wire frame for a send descriptor.
func (c *CommLayer) encodeFrame(d buffer.SendDescriptor) []byte {
	if d.IsEOS() {
		frame := make([]byte, frameHeaderSize)
		binary.BigEndian.PutUint32(frame[0:4], d.Tag)
		frame[4] = flagEOS
		return frame
	}

	body := d.Buf.Bytes()
	frame := make([]byte, frameHeaderSize+len(body))
	binary.BigEndian.PutUint32(frame[0:4], d.Tag)
	copy(frame[frameHeaderSize:], body)
	return frame
}

// recvWorker drains the transport and routes frames to the tag accounting
// and the dispatch queue.
func (c *CommLayer) recvWorker() {
	defer c.recvWG.Done()

	for {
		msg, ok := c.transport.Recv()
		if !ok {
			return
		}
		c.deliver(msg.Src, msg.Data)
	}
}

// deliver processes one frame: an end-of-stream marker decrements the
// remaining-senders count of its tag, a payload frame is split back into
// application messages which are enqueued for dispatch.
func (c *CommLayer) deliver(src int, frame []byte) {
	if len(frame) < frameHeaderSize {
		c.poison(NewError(RetCTransportFatal, "short frame"))
		return
	}
	tag := binary.BigEndian.Uint32(frame[0:4])
	flags := frame[4]
	st := c.tagState(tag)

	if flags&flagEOS != 0 {
		st.mu.Lock()
		st.remaining--
		if st.drained() {
			st.cond.Broadcast()
		}
		st.mu.Unlock()
		return
	}

	// split the batch into length-prefixed messages
	body := frame[frameHeaderSize:]
	var items []dispatchItem
	for pos := 0; pos < len(body); {
		if pos+4 > len(body) {
			c.poison(NewError(RetCTransportFatal, "truncated message header"))
			return
		}
		n := int(binary.BigEndian.Uint32(body[pos : pos+4]))
		pos += 4
		if pos+n > len(body) {
			c.poison(NewError(RetCTransportFatal, "truncated message body"))
			return
		}
		items = append(items, dispatchItem{tag: tag, src: src, data: body[pos : pos+n], st: st})
		pos += n
	}

	// account before enqueueing: a dispatch worker may run a callback and
	// decrement pending the moment an item becomes visible
	metricMsgsReceived.Add(len(items))
	st.mu.Lock()
	st.pending += len(items)
	st.mu.Unlock()

	for _, it := range items {
		c.dispatchQ.Push(it)
	}
}

// dispatchWorker pops received messages and runs the registered callback.
func (c *CommLayer) dispatchWorker() {
	defer c.dispWG.Done()

	for {
		it, ok := c.dispatchQ.Pop()
		if !ok {
			return
		}

		// a peer may race its sends ahead of our registration; park until
		// the callback shows up rather than dropping the message
		it.st.mu.Lock()
		for !it.st.registered && !c.poisoned.Load() {
			it.st.cond.Wait()
		}
		cb := it.st.callback
		it.st.mu.Unlock()

		if cb != nil {
			cb(it.src, it.data)
		} else {
			log.Errorf("no callback registered for tag %d, dropping message from rank %d", it.tag, it.src)
		}
		metricMsgsDispatched.Inc()

		it.st.mu.Lock()
		it.st.pending--
		if it.st.drained() {
			it.st.cond.Broadcast()
		}
		it.st.mu.Unlock()
	}
}

// --------------------------------------------------------------------------
// Failure Handling
// --------------------------------------------------------------------------

// poison marks the layer as failed, throws away all pending work and wakes
// every waiter. There is no recovery path.
func (c *CommLayer) poison(err error) {
	if !c.poisoned.CompareAndSwap(false, true) {
		return
	}
	log.Errorf("transport failure, poisoning communication layer: %v", err)

	c.sendQ.DisablePush()
	for {
		if _, ok := c.sendQ.TryPop(); !ok {
			break
		}
	}
	c.dispatchQ.DisablePush()
	for {
		if _, ok := c.dispatchQ.TryPop(); !ok {
			break
		}
	}

	c.tags.Range(func(_ uint32, st *tagState) bool {
		st.mu.Lock()
		st.cond.Broadcast()
		st.mu.Unlock()
		return true
	})
}
