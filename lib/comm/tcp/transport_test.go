package tcp

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/patflick/kmerind/lib/comm"
)

// freeAddrs reserves n loopback addresses for the test mesh
func freeAddrs(t *testing.T, n int) []string {
	t.Helper()
	addrs := make([]string, n)
	listeners := make([]net.Listener, n)
	for i := 0; i < n; i++ {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("failed to reserve port: %v", err)
		}
		listeners[i] = l
		addrs[i] = l.Addr().String()
	}
	for _, l := range listeners {
		_ = l.Close()
	}
	return addrs
}

// startMesh brings up a full TCP mesh on the loopback interface
func startMesh(t *testing.T, addrs []string) []comm.ITransport {
	t.Helper()

	transports := make([]comm.ITransport, len(addrs))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for rank := range addrs {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			cfg := DefaultConfig()
			cfg.Rank = rank
			cfg.Members = addrs
			cfg.DialTimeout = 10 * time.Second

			tr, err := NewTCPTransport(cfg)
			mu.Lock()
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("rank %d: %v", rank, err)
			}
			transports[rank] = tr
			mu.Unlock()
		}(rank)
	}
	wg.Wait()

	if firstErr != nil {
		t.Fatalf("mesh setup failed: %v", firstErr)
	}
	return transports
}

// TestTCPSendRecv verifies framed point-to-point delivery over sockets
func TestTCPSendRecv(t *testing.T) {
	transports := startMesh(t, freeAddrs(t, 2))
	defer func() {
		for _, tr := range transports {
			_ = tr.Close()
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			if err := transports[0].Send(1, []byte{byte(i), 0xAB}); err != nil {
				t.Errorf("send failed: %v", err)
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			msg, ok := transports[1].Recv()
			if !ok {
				t.Errorf("recv %d failed", i)
				return
			}
			if msg.Src != 0 || msg.Data[0] != byte(i) || msg.Data[1] != 0xAB {
				t.Errorf("bad message %d: src %d data %v", i, msg.Src, msg.Data)
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatalf("transfer did not terminate")
	}
}

// TestTCPAlltoallv verifies the sequenced collective over the socket mesh
func TestTCPAlltoallv(t *testing.T) {
	const p = 3
	transports := startMesh(t, freeAddrs(t, p))
	defer func() {
		for _, tr := range transports {
			_ = tr.Close()
		}
	}()

	var wg sync.WaitGroup
	for rank := 0; rank < p; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			for round := 0; round < 5; round++ {
				send := make([][]byte, p)
				for dst := 0; dst < p; dst++ {
					send[dst] = []byte(fmt.Sprintf("r%d-d%d-n%d", rank, dst, round))
				}
				recv, err := transports[rank].Alltoallv(send)
				if err != nil {
					t.Errorf("rank %d: alltoallv failed: %v", rank, err)
					return
				}
				for src := 0; src < p; src++ {
					want := fmt.Sprintf("r%d-d%d-n%d", src, rank, round)
					if string(recv[src]) != want {
						t.Errorf("rank %d: expected %q from %d, got %q", rank, want, src, recv[src])
						return
					}
				}
				if err := transports[rank].Barrier(); err != nil {
					t.Errorf("rank %d: barrier failed: %v", rank, err)
					return
				}
			}
		}(rank)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatalf("collective rounds did not terminate")
	}
}
