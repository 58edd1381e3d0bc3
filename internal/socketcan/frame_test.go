package socketcan

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-mcp25xx/internal/can"
	"github.com/kstaniek/go-mcp25xx/internal/transport"
)

func TestMarshalClassic(t *testing.T) {
	fr, _ := can.NewStandard(0x123, []byte{1, 2, 3})
	var buf [canfdMTU]byte
	b := marshal(buf[:], fr)
	if len(b) != canMTU || b[4] != 3 || !bytes.Equal(b[8:11], []byte{1, 2, 3}) {
		t.Fatalf("can_frame % X", b)
	}
	var got can.Frame
	if err := unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got.CANID != 0x123 || got.Len() != 3 {
		t.Fatalf("got %v", got)
	}
}

func TestMarshalFD(t *testing.T) {
	fr, _ := can.NewExtended(0x1ABCDE, bytes.Repeat([]byte{0x5A}, 48))
	fr.ESI = true
	var buf [canfdMTU]byte
	b := marshal(buf[:], fr)
	if len(b) != canfdMTU || b[4] != 48 || b[5] != fdBRS|fdESI {
		t.Fatalf("canfd_frame header % X", b[:8])
	}
	var got can.Frame
	if err := unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got.CANID != fr.CANID || got.Len() != 48 || !got.ESI || !bytes.Equal(got.Payload(), fr.Payload()) {
		t.Fatalf("got %v", got)
	}
}

func TestUnmarshalRejects(t *testing.T) {
	var fr can.Frame
	if err := unmarshal(make([]byte, 10), &fr); err == nil {
		t.Fatal("short read accepted")
	}
	b := make([]byte, canfdMTU)
	b[4] = 13
	if err := unmarshal(b, &fr); err == nil {
		t.Fatal("invalid fd length accepted")
	}
	c := make([]byte, canMTU)
	c[4] = 15
	if err := unmarshal(c, &fr); err != nil || fr.Len() != 8 {
		t.Fatalf("classic dlc not clamped: %v len=%d", err, fr.Len())
	}
}

type fakeDev struct {
	mu      sync.Mutex
	written []can.Frame
	block   chan struct{}
	err     error
}

func (f *fakeDev) ReadFrame(*can.Frame) error { return errors.New("not used") }
func (f *fakeDev) Close() error               { return nil }
func (f *fakeDev) WriteFrame(fr can.Frame) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, fr)
	return f.err
}

func TestTXWriterOverflow(t *testing.T) {
	dev := &fakeDev{block: make(chan struct{})}
	w := NewTXWriter(context.Background(), dev, 1)
	defer w.Close()
	defer close(dev.block)
	fr, _ := can.NewStandard(1, nil)
	var overflow bool
	for i := 0; i < 5; i++ {
		if err := w.SendFrame(fr); errors.Is(err, transport.ErrTxOverflow) {
			overflow = true
			break
		}
	}
	if !overflow {
		t.Fatal("no overflow with a stalled device")
	}
}

func TestTXWriterWrites(t *testing.T) {
	dev := &fakeDev{}
	w := NewTXWriter(context.Background(), dev, 4)
	defer w.Close()
	fr, _ := can.NewStandard(7, []byte{9})
	if err := w.SendFrame(fr); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(time.Second)
	for {
		dev.mu.Lock()
		n := len(dev.written)
		dev.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("frame not written")
		}
		time.Sleep(time.Millisecond)
	}
}
