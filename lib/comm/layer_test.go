package comm_test

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/patflick/kmerind/lib/codec"
	"github.com/patflick/kmerind/lib/comm"
	"github.com/patflick/kmerind/lib/comm/local"
)

// runRanks executes fn once per rank on its own goroutine and waits for all
// of them, failing the test if any rank does not finish in time
func runRanks(t *testing.T, p int, fn func(rank int, transport comm.ITransport)) {
	t.Helper()

	transports, err := local.NewMesh(p)
	if err != nil {
		t.Fatalf("NewMesh failed: %v", err)
	}

	var wg sync.WaitGroup
	for rank := 0; rank < p; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			fn(rank, transports[rank])
		}(rank)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(60 * time.Second):
		t.Fatalf("ranks did not terminate")
	}
}

// TestExchange verifies the bucket + all-to-all pipeline end to end
func TestExchange(t *testing.T) {
	const p = 4
	c := codec.NewGobCodec[int]()

	runRanks(t, p, func(rank int, tr comm.ITransport) {
		// every rank contributes the values [0, 100); value v belongs to
		// rank v % p
		var items []int
		for v := 0; v < 100; v++ {
			items = append(items, v)
		}

		bucketed, counts := comm.Bucket(items, p, func(v int) int { return v % p })
		recv, recvCounts, err := comm.Exchange(tr, c, bucketed, counts)
		if err != nil {
			t.Errorf("rank %d: exchange failed: %v", rank, err)
			return
		}

		// each peer sent us its 25 values with v % p == rank
		for src, n := range recvCounts {
			if n != 25 {
				t.Errorf("rank %d: expected 25 records from rank %d, got %d", rank, src, n)
			}
		}
		for _, v := range recv {
			if v%p != rank {
				t.Errorf("rank %d: received record %d owned by rank %d", rank, v, v%p)
			}
		}
	})
}

// TestCommLayerRoundTrip sends a handful of messages between two ranks and
// verifies delivery and termination
func TestCommLayerRoundTrip(t *testing.T) {
	const p = 2
	const tag = 1

	runRanks(t, p, func(rank int, tr comm.ITransport) {
		layer, err := comm.NewCommLayer(tr, nil)
		if err != nil {
			t.Errorf("NewCommLayer failed: %v", err)
			return
		}

		var got atomic.Int64
		if err := layer.AddReceiveCallback(tag, func(src int, msg []byte) {
			got.Add(1)
		}); err != nil {
			t.Errorf("AddReceiveCallback failed: %v", err)
			return
		}
		layer.InitCommunication()

		for i := 0; i < 100; i++ {
			dst := i % p
			if err := layer.SendMessage([]byte(fmt.Sprintf("msg-%d", i)), dst, tag); err != nil {
				t.Errorf("rank %d: send failed: %v", rank, err)
				return
			}
		}

		if err := layer.Flush(tag); err != nil {
			t.Errorf("rank %d: flush failed: %v", rank, err)
			return
		}
		if err := layer.Finish(tag); err != nil {
			t.Errorf("rank %d: finish failed: %v", rank, err)
			return
		}
		if err := layer.FinishCommunication(); err != nil {
			t.Errorf("rank %d: finish communication failed: %v", rank, err)
			return
		}

		// both ranks sent 50 messages to each rank
		if got.Load() != 100 {
			t.Errorf("rank %d: expected 100 messages, got %d", rank, got.Load())
		}
	})
}

// TestCommLayerSendAfterFlush verifies the closed-tag error
func TestCommLayerSendAfterFlush(t *testing.T) {
	runRanks(t, 1, func(rank int, tr comm.ITransport) {
		layer, _ := comm.NewCommLayer(tr, nil)
		_ = layer.AddReceiveCallback(3, func(int, []byte) {})
		layer.InitCommunication()

		_ = layer.SendMessage([]byte("x"), 0, 3)
		if err := layer.Flush(3); err != nil {
			t.Errorf("flush failed: %v", err)
		}

		err := layer.SendMessage([]byte("y"), 0, 3)
		var commErr *comm.Error
		if err == nil {
			t.Errorf("send after flush should fail")
		} else if !errors.As(err, &commErr) || commErr.Code != comm.RetCTagClosed {
			t.Errorf("expected RetCTagClosed, got %v", err)
		}

		_ = layer.Finish(3)
		_ = layer.FinishCommunication()
	})
}

// TestCommLayerDuplicateRegistration verifies the warned no-op
func TestCommLayerDuplicateRegistration(t *testing.T) {
	runRanks(t, 1, func(rank int, tr comm.ITransport) {
		layer, _ := comm.NewCommLayer(tr, nil)
		if err := layer.AddReceiveCallback(5, func(int, []byte) {}); err != nil {
			t.Errorf("first registration failed: %v", err)
		}
		if err := layer.AddReceiveCallback(5, func(int, []byte) {}); err == nil {
			t.Errorf("second registration should be rejected")
		}

		layer.InitCommunication()
		_ = layer.Flush(5)
		_ = layer.Finish(5)
		_ = layer.FinishCommunication()
	})
}

// TestCommLayerFIFO verifies per-(src, dst, tag) delivery order
func TestCommLayerFIFO(t *testing.T) {
	const p = 2
	const tag = 2
	const numMessages = 2000

	runRanks(t, p, func(rank int, tr comm.ITransport) {
		layer, _ := comm.NewCommLayer(tr, nil)

		// record the sequence numbers per source in arrival order
		var mu sync.Mutex
		seqs := make(map[int][]uint32)
		_ = layer.AddReceiveCallback(tag, func(src int, msg []byte) {
			mu.Lock()
			seqs[src] = append(seqs[src], binary.BigEndian.Uint32(msg))
			mu.Unlock()
		})
		layer.InitCommunication()

		other := 1 - rank
		for i := 0; i < numMessages; i++ {
			var msg [4]byte
			binary.BigEndian.PutUint32(msg[:], uint32(i))
			if err := layer.SendMessage(msg[:], other, tag); err != nil {
				t.Errorf("send failed: %v", err)
				return
			}
		}
		_ = layer.Flush(tag)
		_ = layer.Finish(tag)
		_ = layer.FinishCommunication()

		mu.Lock()
		defer mu.Unlock()
		got := seqs[other]
		if len(got) != numMessages {
			t.Errorf("rank %d: expected %d messages from %d, got %d", rank, numMessages, other, len(got))
			return
		}
		for i, s := range got {
			if s != uint32(i) {
				t.Errorf("rank %d: FIFO violated at position %d: got %d", rank, i, s)
				return
			}
		}
	})
}

// TestCommLayerTerminationUnderBackpressure floods a tiny send queue and
// verifies that flush/finish still terminate with no message lost
func TestCommLayerTerminationUnderBackpressure(t *testing.T) {
	const p = 2
	const tag = 7
	const numMessages = 10000

	var total atomic.Int64

	runRanks(t, p, func(rank int, tr comm.ITransport) {
		layer, err := comm.NewCommLayer(tr, &comm.CommLayerOptions{
			QueueCapacity:   4,
			BufferCapacity:  256,
			DispatchWorkers: 1,
		})
		if err != nil {
			t.Errorf("NewCommLayer failed: %v", err)
			return
		}

		_ = layer.AddReceiveCallback(tag, func(src int, msg []byte) {
			total.Add(1)
		})
		layer.InitCommunication()

		for i := 0; i < numMessages; i++ {
			if err := layer.SendMessage([]byte("payload"), i%p, tag); err != nil {
				t.Errorf("rank %d: send %d failed: %v", rank, i, err)
				return
			}
		}
		if err := layer.Flush(tag); err != nil {
			t.Errorf("rank %d: flush failed: %v", rank, err)
			return
		}
		if err := layer.Finish(tag); err != nil {
			t.Errorf("rank %d: finish failed: %v", rank, err)
			return
		}
		_ = layer.FinishCommunication()
	})

	if total.Load() != p*numMessages {
		t.Errorf("expected %d callback invocations across ranks, got %d", p*numMessages, total.Load())
	}
}
