package hub

import (
	"testing"
	"time"

	"github.com/kstaniek/go-mcp25xx/internal/can"
)

func frame(id uint32, n int) can.Frame {
	f, err := can.NewExtended(id, make([]byte, n))
	if err != nil {
		panic(err)
	}
	return f
}

func TestBroadcastDropDoesNotBlock(t *testing.T) {
	h := New()
	cl := NewClient(4)
	h.Add(cl)
	defer h.Remove(cl)

	start := time.Now()
	for i := 0; i < 1000; i++ {
		h.Broadcast(frame(0x123, 8))
	}
	if el := time.Since(start); el > time.Second {
		t.Fatalf("Broadcast took too long: %s", el)
	}
	if len(cl.Out) != cap(cl.Out) {
		t.Fatalf("expected full buffer, len=%d cap=%d", len(cl.Out), cap(cl.Out))
	}
	select {
	case <-cl.Closed:
		t.Fatal("drop policy closed the client")
	default:
	}
}

func TestBroadcastDropKeepsOthersFlowing(t *testing.T) {
	h := New()
	slow, fast := NewClient(1), NewClient(16)
	h.Add(slow)
	h.Add(fast)
	defer h.Remove(slow)
	defer h.Remove(fast)

	for i := 0; i < 10; i++ {
		h.Broadcast(frame(0x2, 1))
	}
	if len(fast.Out) != 10 {
		t.Fatalf("fast client got %d frames", len(fast.Out))
	}
	if len(slow.Out) != 1 {
		t.Fatalf("slow client queued %d", len(slow.Out))
	}
}

func TestBroadcastKickClosesSlowClient(t *testing.T) {
	h := New()
	h.Policy = PolicyKick
	cl := NewClient(1)
	h.Add(cl)
	h.Broadcast(frame(1, 0))
	h.Broadcast(frame(2, 0))
	select {
	case <-cl.Closed:
	default:
		t.Fatal("client not kicked")
	}
	h.Remove(cl)
	h.Remove(cl)
	if h.Count() != 0 {
		t.Fatalf("count = %d", h.Count())
	}
}

func TestBroadcastSkipsFDForClassicClients(t *testing.T) {
	h := New()
	classic, fd := NewClient(4), NewClient(4)
	classic.ClassicOnly = true
	h.Add(classic)
	h.Add(fd)
	h.Broadcast(frame(0x10, 64))
	h.Broadcast(frame(0x11, 8))
	if len(classic.Out) != 1 || len(fd.Out) != 2 {
		t.Fatalf("classic=%d fd=%d", len(classic.Out), len(fd.Out))
	}
	if got := <-classic.Out; got.Len() != 8 {
		t.Fatalf("classic client got %d-byte frame", got.Len())
	}
}
