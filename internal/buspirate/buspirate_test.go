package buspirate

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-mcp25xx/internal/spi"
	"github.com/kstaniek/go-mcp25xx/internal/spi/spitest"
)

// fakePirate answers the binary protocol and forwards write-then-read to an
// SPI device. Each Write carries exactly one command.
type fakePirate struct {
	mu      sync.Mutex
	dev     spi.Conn
	out     bytes.Buffer
	mode    string // "term", "bbio", "spi"
	ignore  int    // resets swallowed before answering BBIO1
	cmds    []byte
	lastW   []byte
	closed  bool
	nackCmd byte
}

func newFakePirate(dev spi.Conn) *fakePirate { return &fakePirate{dev: dev, mode: "term"} }

func (f *fakePirate) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(p) == 0 {
		return 0, nil
	}
	c := p[0]
	f.cmds = append(f.cmds, c)
	switch {
	case c == cmdReset && f.mode != "spi":
		if f.ignore > 0 {
			f.ignore--
			return len(p), nil
		}
		f.mode = "bbio"
		f.out.WriteString("BBIO1")
	case f.mode == "bbio" && c == cmdSPI:
		f.mode = "spi"
		f.out.WriteString("SPI1")
	case f.mode == "spi" && c == cmdWriteRead:
		wl := int(p[1])<<8 | int(p[2])
		rl := int(p[3])<<8 | int(p[4])
		w := append([]byte(nil), p[5:5+wl]...)
		f.lastW = w
		r := make([]byte, rl)
		var rr []byte
		if rl > 0 {
			rr = r
		}
		if err := f.dev.Tx(w, rr); err != nil {
			f.out.WriteByte(0x00)
			return len(p), nil
		}
		f.out.WriteByte(0x01)
		f.out.Write(r)
	case f.mode == "spi" && c == cmdReset:
		f.mode = "bbio"
		f.out.WriteString("BBIO1")
	case f.mode == "spi":
		if c == f.nackCmd {
			f.out.WriteByte(0x00)
		} else {
			f.out.WriteByte(0x01)
		}
	}
	return len(p), nil
}

// Read returns at most 3 bytes at a time to exercise partial reads; an empty
// buffer behaves like a serial read timeout.
func (f *fakePirate) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(p) > 3 {
		p = p[:3]
	}
	return f.out.Read(p)
}

func (f *fakePirate) Close() error { f.closed = true; return nil }

// Read on an empty bytes.Buffer returns io.EOF; the real port returns 0, nil.
type timeoutPort struct{ *fakePirate }

func (t timeoutPort) Read(p []byte) (int, error) {
	n, _ := t.fakePirate.Read(p)
	return n, nil
}

func TestNewEntersSPIMode(t *testing.T) {
	fp := newFakePirate(spitest.NewClassicChip())
	fp.ignore = 3
	c, err := New(timeoutPort{fp}, DefaultOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if fp.mode != "spi" {
		t.Fatalf("mode = %s", fp.mode)
	}
	// 4 resets, SPI, speed, config, peripherals
	want := []byte{0x00, 0x00, 0x00, 0x00, 0x01, 0x63, 0x8A, 0x49}
	if !bytes.Equal(fp.cmds, want) {
		t.Fatalf("cmds = % X want % X", fp.cmds, want)
	}
	if err := c.Close(); err != nil || !fp.closed {
		t.Fatalf("close err=%v closed=%v", err, fp.closed)
	}
}

func TestNewNoBinaryMode(t *testing.T) {
	fp := newFakePirate(nil)
	fp.ignore = maxBBIOTries
	if _, err := New(timeoutPort{fp}, DefaultOptions()); !errors.Is(err, ErrNoBinaryMode) {
		t.Fatalf("err = %v", err)
	}
}

func TestNewCommandRejected(t *testing.T) {
	fp := newFakePirate(nil)
	fp.nackCmd = cmdConfig | 0x0A
	if _, err := New(timeoutPort{fp}, DefaultOptions()); !errors.Is(err, ErrCommand) {
		t.Fatalf("err = %v", err)
	}
}

func TestTxRegisterRoundTrip(t *testing.T) {
	chip := spitest.NewClassicChip()
	fp := newFakePirate(chip)
	c, err := New(timeoutPort{fp}, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	p := spi.New(c, spi.MCP2515)
	if err := p.Write(0x28, []byte{0x05, 0xF1, 0x41}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !bytes.Equal(fp.lastW, []byte{0x02, 0x28, 0x05, 0xF1, 0x41}) {
		t.Fatalf("wire = % X", fp.lastW)
	}
	got := make([]byte, 3)
	if err := p.Read(0x28, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte{0x05, 0xF1, 0x41}) {
		t.Fatalf("read back % X", got)
	}
}

func TestTxDeviceErrorStatus(t *testing.T) {
	chip := spitest.NewClassicChip()
	fp := newFakePirate(chip)
	c, err := New(timeoutPort{fp}, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	chip.FailNext(errors.New("boom"))
	if err := c.Tx([]byte{0x03, 0x0E}, make([]byte, 1)); !errors.Is(err, ErrCommand) {
		t.Fatalf("err = %v", err)
	}
}

func TestTxTooLong(t *testing.T) {
	c := &Conn{p: timeoutPort{newFakePirate(nil)}}
	if err := c.Tx(make([]byte, maxTransfer+1), nil); !errors.Is(err, ErrTooLong) {
		t.Fatalf("err = %v", err)
	}
}

func TestReadTimeout(t *testing.T) {
	c := &Conn{p: timeoutPort{newFakePirate(nil)}}
	if err := c.readFull(make([]byte, 1)); !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v", err)
	}
}

func TestOpenUsesPortHook(t *testing.T) {
	fp := newFakePirate(spitest.NewClassicChip())
	old := openPort
	defer func() { openPort = old }()
	var gotName string
	var gotBaud int
	openPort = func(name string, baud int, _ time.Duration) (Port, error) {
		gotName, gotBaud = name, baud
		return timeoutPort{fp}, nil
	}
	c, err := Open("/dev/ttyUSB0", DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if gotName != "/dev/ttyUSB0" || gotBaud != 115200 {
		t.Fatalf("opened %s@%d", gotName, gotBaud)
	}
}

func TestOpenClosesPortOnFailure(t *testing.T) {
	fp := newFakePirate(nil)
	fp.ignore = maxBBIOTries
	old := openPort
	defer func() { openPort = old }()
	openPort = func(string, int, time.Duration) (Port, error) { return timeoutPort{fp}, nil }
	if _, err := Open("x", DefaultOptions()); err == nil {
		t.Fatal("expected error")
	}
	if !fp.closed {
		t.Fatal("port left open")
	}
}

func TestParseSpeed(t *testing.T) {
	if s, err := ParseSpeed("8M"); err != nil || s != Speed8M {
		t.Fatalf("8M -> %v %v", s, err)
	}
	if _, err := ParseSpeed("3M"); err == nil {
		t.Fatal("expected error")
	}
}
