package tcp

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/patflick/kmerind/lib/comm"
	"github.com/patflick/kmerind/lib/concurrent"
)

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// Config describes one rank of a TCP mesh.
type Config struct {
	// Rank of this process; Members[Rank] must be our listen endpoint
	Rank int
	// Members maps rank to "host:port"
	Members []string

	// socket tuning
	TCPNoDelay      bool
	WriteBufferSize int
	ReadBufferSize  int
	// DialTimeout bounds the whole mesh setup (peers may start late)
	DialTimeout time.Duration
}

// DefaultConfig returns a config with the usual socket tuning; Rank and
// Members must still be filled in.
func DefaultConfig() *Config {
	return &Config{
		TCPNoDelay:      true,
		WriteBufferSize: 512 * 1024,
		ReadBufferSize:  512 * 1024,
		DialTimeout:     30 * time.Second,
	}
}

// frame kinds on the wire
const (
	kindData byte = iota
	kindColl
)

// --------------------------------------------------------------------------
// Transport
// --------------------------------------------------------------------------

// collRound collects the per-source slices of one sequenced collective.
type collRound struct {
	slots   [][]byte
	arrived int
}

type transportImpl struct {
	cfg  Config
	size int

	listener net.Listener
	sendMu   []sync.Mutex // serializes writers per outgoing connection
	sendConn []net.Conn   // outgoing connection per peer (nil for self)

	dataQ *concurrent.Queue[comm.Message]

	// collective state: all ranks issue collectives in the same order, so a
	// local sequence number identifies the round
	collMu   sync.Mutex
	collCond *sync.Cond
	collSeq  uint32
	rounds   map[uint32]*collRound

	recvWG   sync.WaitGroup
	closeOne sync.Once
	closeErr error
}

// NewTCPTransport listens on Members[Rank], connects to every peer and
// returns once the full mesh is up.
func NewTCPTransport(cfg *Config) (comm.ITransport, error) {
	if cfg == nil || len(cfg.Members) == 0 {
		return nil, fmt.Errorf("mesh members required")
	}
	if cfg.Rank < 0 || cfg.Rank >= len(cfg.Members) {
		return nil, fmt.Errorf("rank %d out of range for %d members", cfg.Rank, len(cfg.Members))
	}

	t := &transportImpl{
		cfg:      *cfg,
		size:     len(cfg.Members),
		sendMu:   make([]sync.Mutex, len(cfg.Members)),
		sendConn: make([]net.Conn, len(cfg.Members)),
		dataQ:    concurrent.NewQueue[comm.Message](0),
		rounds:   make(map[uint32]*collRound),
	}
	t.collCond = sync.NewCond(&t.collMu)

	listener, err := net.Listen("tcp", cfg.Members[cfg.Rank])
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %v", cfg.Members[cfg.Rank], err)
	}
	t.listener = listener

	// accept one incoming connection per peer in the background
	acceptErr := make(chan error, 1)
	go func() {
		for i := 0; i < t.size-1; i++ {
			conn, err := listener.Accept()
			if err != nil {
				acceptErr <- err
				return
			}
			if err := t.setupIncoming(conn); err != nil {
				acceptErr <- err
				return
			}
		}
		acceptErr <- nil
	}()

	// dial every peer, retrying until the deadline (peers may start late)
	deadline := time.Now().Add(cfg.DialTimeout)
	for peer := 0; peer < t.size; peer++ {
		if peer == cfg.Rank {
			continue
		}
		conn, err := t.dial(cfg.Members[peer], deadline)
		if err != nil {
			_ = t.Close()
			return nil, err
		}
		t.tune(conn)
		// handshake: announce our rank
		var hello [4]byte
		binary.BigEndian.PutUint32(hello[:], uint32(cfg.Rank))
		if _, err := conn.Write(hello[:]); err != nil {
			_ = t.Close()
			return nil, err
		}
		t.sendConn[peer] = conn
	}

	if t.size > 1 {
		if err := <-acceptErr; err != nil {
			_ = t.Close()
			return nil, err
		}
	}
	return t, nil
}

// dial retries until the peer's listener is up or the deadline passes
func (t *transportImpl) dial(addr string, deadline time.Time) (net.Conn, error) {
	for {
		conn, err := net.DialTimeout("tcp", addr, time.Until(deadline))
		if err == nil {
			return conn, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("failed to dial %s: %v", addr, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// tune applies the configured socket options
func (t *transportImpl) tune(conn net.Conn) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tcpConn.SetNoDelay(t.cfg.TCPNoDelay)
	if t.cfg.WriteBufferSize > 0 {
		_ = tcpConn.SetWriteBuffer(t.cfg.WriteBufferSize)
	}
	if t.cfg.ReadBufferSize > 0 {
		_ = tcpConn.SetReadBuffer(t.cfg.ReadBufferSize)
	}
}

// setupIncoming reads the peer handshake and starts the receive loop
func (t *transportImpl) setupIncoming(conn net.Conn) error {
	t.tune(conn)

	var hello [4]byte
	if _, err := io.ReadFull(conn, hello[:]); err != nil {
		return fmt.Errorf("handshake failed: %v", err)
	}
	src := int(binary.BigEndian.Uint32(hello[:]))
	if src < 0 || src >= t.size {
		return fmt.Errorf("handshake announced invalid rank %d", src)
	}

	t.recvWG.Add(1)
	go t.recvLoop(src, conn)
	return nil
}

// recvLoop reads frames from one peer connection until it closes
func (t *transportImpl) recvLoop(src int, conn net.Conn) {
	defer t.recvWG.Done()

	var header [5]byte // length u32 + kind u8
	for {
		if _, err := io.ReadFull(conn, header[:]); err != nil {
			// peer closed; remaining data messages already queued
			return
		}
		length := binary.BigEndian.Uint32(header[0:4])
		kind := header[4]

		payload := make([]byte, length)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return
		}

		switch kind {
		case kindData:
			t.dataQ.Push(comm.Message{Src: src, Data: payload})
		case kindColl:
			if len(payload) < 4 {
				return
			}
			seq := binary.BigEndian.Uint32(payload[0:4])
			t.collArrive(src, seq, payload[4:])
		}
	}
}

// writeFrame sends one frame over the peer connection
func (t *transportImpl) writeFrame(dst int, kind byte, payload []byte) error {
	conn := t.sendConn[dst]
	if conn == nil {
		return fmt.Errorf("no connection to rank %d", dst)
	}

	frame := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(payload)))
	frame[4] = kind
	copy(frame[5:], payload)

	t.sendMu[dst].Lock()
	defer t.sendMu[dst].Unlock()
	_, err := conn.Write(frame)
	return err
}

// collArrive records one peer's contribution to a sequenced collective
func (t *transportImpl) collArrive(src int, seq uint32, data []byte) {
	t.collMu.Lock()
	r := t.round(seq)
	r.slots[src] = data
	r.arrived++
	t.collCond.Broadcast()
	t.collMu.Unlock()
}

// round returns the state of collective seq. Caller must hold collMu.
func (t *transportImpl) round(seq uint32) *collRound {
	r, ok := t.rounds[seq]
	if !ok {
		r = &collRound{slots: make([][]byte, t.size)}
		t.rounds[seq] = r
	}
	return r
}

// --------------------------------------------------------------------------
// Interface Methods (docu see comm.ITransport)
// --------------------------------------------------------------------------

func (t *transportImpl) Rank() int {
	return t.cfg.Rank
}

func (t *transportImpl) Size() int {
	return t.size
}

func (t *transportImpl) Send(dst int, data []byte) error {
	if dst < 0 || dst >= t.size {
		return fmt.Errorf("destination rank %d out of range", dst)
	}
	if dst == t.cfg.Rank {
		cp := make([]byte, len(data))
		copy(cp, data)
		t.dataQ.Push(comm.Message{Src: dst, Data: cp})
		return nil
	}
	return t.writeFrame(dst, kindData, data)
}

func (t *transportImpl) Recv() (comm.Message, bool) {
	return t.dataQ.Pop()
}

func (t *transportImpl) Alltoallv(send [][]byte) ([][]byte, error) {
	if len(send) != t.size {
		return nil, fmt.Errorf("expected %d send slices, got %d", t.size, len(send))
	}

	t.collMu.Lock()
	seq := t.collSeq
	t.collSeq++
	t.collMu.Unlock()

	// ship our slices; the sequence number identifies the round on the peer
	for dst := 0; dst < t.size; dst++ {
		if dst == t.cfg.Rank {
			t.collArrive(dst, seq, send[dst])
			continue
		}
		payload := make([]byte, 4+len(send[dst]))
		binary.BigEndian.PutUint32(payload[0:4], seq)
		copy(payload[4:], send[dst])
		if err := t.writeFrame(dst, kindColl, payload); err != nil {
			return nil, err
		}
	}

	// wait for the reciprocal slices
	t.collMu.Lock()
	r := t.round(seq)
	for r.arrived < t.size {
		t.collCond.Wait()
	}
	delete(t.rounds, seq)
	t.collMu.Unlock()

	return r.slots, nil
}

func (t *transportImpl) Barrier() error {
	// a barrier is an all-to-all of empty slices
	_, err := t.Alltoallv(make([][]byte, t.size))
	return err
}

func (t *transportImpl) Close() error {
	t.closeOne.Do(func() {
		if t.listener != nil {
			t.closeErr = t.listener.Close()
		}
		for _, conn := range t.sendConn {
			if conn != nil {
				_ = conn.Close()
			}
		}
		// receive loops exit on their closed connections, then Recv drains
		go func() {
			t.recvWG.Wait()
			t.dataQ.DisablePush()
		}()
	})
	return t.closeErr
}
