package spi_test

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/kstaniek/go-mcp25xx/internal/spi"
	"github.com/kstaniek/go-mcp25xx/internal/spi/spitest"
)

// recConn records raw transactions and serves canned read data.
type recConn struct {
	mu    sync.Mutex
	w     [][]byte
	reply []byte
	err   error
}

func (c *recConn) Tx(w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.w = append(c.w, append([]byte(nil), w...))
	copy(r, c.reply)
	return c.err
}

func TestFDHeaderEncoding(t *testing.T) {
	c := &recConn{}
	p := spi.New(c, spi.MCP251XFD)
	if err := p.Write(0xE0C, []byte{1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := p.ReadRegister(0x05C); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := p.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	want := [][]byte{{0x2E, 0x0C, 0x01}, {0x30, 0x5C}, {0x00, 0x00}}
	for i, w := range want {
		if !bytes.Equal(c.w[i], w) {
			t.Fatalf("txn %d = % X want % X", i, c.w[i], w)
		}
	}
}

func TestClassicEncoding(t *testing.T) {
	c := &recConn{reply: []byte{0x5A}}
	p := spi.New(c, spi.MCP2515)
	v, err := p.ReadRegister(0x0E)
	if err != nil || v != 0x5A {
		t.Fatalf("read: %x %v", v, err)
	}
	_ = p.WriteRegister(0x2B, 0x03)
	_ = p.ModifyRegister(0x0F, 0xE0, 0x40)
	_ = p.RequestToSend(0x04)
	_ = p.ReadRxBuffer(1, false, make([]byte, 13))
	_ = p.LoadTxBuffer(2, true, []byte{9})
	_ = p.Reset()
	want := [][]byte{
		{0x03, 0x0E},
		{0x02, 0x2B, 0x03},
		{0x05, 0x0F, 0xE0, 0x40},
		{0x84},
		{0x94},
		{0x45, 9},
		{0xC0},
	}
	if len(c.w) != len(want) {
		t.Fatalf("got %d txns want %d", len(c.w), len(want))
	}
	for i, w := range want {
		if !bytes.Equal(c.w[i], w) {
			t.Fatalf("txn %d = % X want % X", i, c.w[i], w)
		}
	}
}

func TestWriteMaskedFDByteSpan(t *testing.T) {
	chip := spitest.NewFDChip()
	p := spi.New(chip, spi.MCP251XFD)
	chip.ResetLog()
	// bits 8..9 live in byte 1: one single-byte write at addr+1
	if err := p.WriteMasked(0x05C, 0x0300, 0x0300); err != nil {
		t.Fatalf("write masked: %v", err)
	}
	log := chip.Log()
	if len(log) != 1 || log[0].Addr != 0x05D || !bytes.Equal(log[0].Data, []byte{0x03}) {
		t.Fatalf("unexpected txns %+v", log)
	}
}

func TestModifyRegisterKeepsOtherBits(t *testing.T) {
	chip := spitest.NewFDChip()
	p := spi.New(chip, spi.MCP251XFD)
	chip.SetReg32(0x01C, 0xAAAA_5555)
	if err := p.ModifyRegister(0x01C, 0x00FF_0000, 0x0012_0000); err != nil {
		t.Fatalf("modify: %v", err)
	}
	if got := chip.Reg32(0x01C); got != 0xAA12_5555 {
		t.Fatalf("got 0x%08X", got)
	}
}

func TestRAMValidation(t *testing.T) {
	c := &recConn{}
	p := spi.New(c, spi.MCP251XFD)
	if err := p.WriteRAM(2, make([]byte, 4)); !errors.Is(err, spi.ErrMisaligned) {
		t.Fatalf("expected ErrMisaligned, got %v", err)
	}
	if err := p.ReadRAM(0, make([]byte, 3)); !errors.Is(err, spi.ErrMisaligned) {
		t.Fatalf("expected ErrMisaligned, got %v", err)
	}
	if err := p.WriteRAM(2044, make([]byte, 8)); !errors.Is(err, spi.ErrRAMRange) {
		t.Fatalf("expected ErrRAMRange, got %v", err)
	}
	if len(c.w) != 0 {
		t.Fatalf("validation failures must not reach the bus, got %d txns", len(c.w))
	}
	if err := p.WriteRAM(2040, make([]byte, 8)); err != nil {
		t.Fatalf("last word write: %v", err)
	}
	if c.w[0][0] != 0x2B || c.w[0][1] != 0xF8 {
		t.Fatalf("ram address not offset by 0x400: % X", c.w[0][:2])
	}
}

func TestUnsupportedInstructions(t *testing.T) {
	c := &recConn{}
	fd := spi.New(c, spi.MCP251XFD)
	if err := fd.RequestToSend(1); !errors.Is(err, spi.ErrUnsupported) {
		t.Fatalf("rts on fd: %v", err)
	}
	old := spi.New(c, spi.MCP2510)
	if _, err := old.RxStatus(); !errors.Is(err, spi.ErrUnsupported) {
		t.Fatalf("rx status on 2510: %v", err)
	}
	if err := old.ReadRAM(0, make([]byte, 4)); !errors.Is(err, spi.ErrUnsupported) {
		t.Fatalf("ram on classic: %v", err)
	}
	if len(c.w) != 0 {
		t.Fatalf("unsupported calls reached the bus")
	}
}

func TestTransportErrorWrapped(t *testing.T) {
	boom := errors.New("boom")
	p := spi.New(&recConn{err: boom}, spi.MCP251XFD)
	if _, err := p.ReadRegister(0); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
}

func TestCRC16CheckValue(t *testing.T) {
	if got := spi.CRC16([]byte("123456789")); got != 0xAEE7 {
		t.Fatalf("crc16 check value 0x%04X", got)
	}
	if spi.CRC16([]byte("1234"), []byte("56789")) != 0xAEE7 {
		t.Fatalf("crc16 not incremental over parts")
	}
}

func TestCRCRoundTrip(t *testing.T) {
	chip := spitest.NewFDChip()
	p := spi.New(chip, spi.MCP251XFD, spi.WithCRC(true))
	if err := p.WriteRegister(0x004, 0x003E_0F0F); err != nil {
		t.Fatalf("write crc: %v", err)
	}
	v, err := p.ReadRegister(0x004)
	if err != nil || v != 0x003E_0F0F {
		t.Fatalf("read crc: 0x%08X %v", v, err)
	}
	if chip.CRCErrors != 0 {
		t.Fatalf("chip rejected %d writes", chip.CRCErrors)
	}
	for _, txn := range chip.Log() {
		if txn.Cmd != 0xA && txn.Cmd != 0xB {
			t.Fatalf("plain instruction 0x%X used in crc mode", txn.Cmd)
		}
	}
	if err := p.WriteSafe(0xE04, []byte{0x03}); err != nil || chip.Bytes(0xE04, 1)[0] != 0x03 {
		t.Fatalf("write safe: %v", err)
	}
}

func TestCRCLengthField(t *testing.T) {
	c := &recConn{}
	p := spi.New(c, spi.MCP251XFD, spi.WithCRC(true))
	if err := p.WriteRAM(0x40, make([]byte, 72)); err != nil {
		t.Fatal(err)
	}
	if err := p.Write(0x004, make([]byte, 4)); err != nil {
		t.Fatal(err)
	}
	if n := c.w[0][2]; n != 18 {
		t.Fatalf("ram length field %d, want words", n)
	}
	if n := c.w[1][2]; n != 4 {
		t.Fatalf("register length field %d, want bytes", n)
	}
	if err := p.ReadCRC(spi.RAMStart, make([]byte, 6)); !errors.Is(err, spi.ErrMisaligned) {
		t.Fatalf("unaligned ram crc read: %v", err)
	}

	chip := spitest.NewFDChip()
	p = spi.New(chip, spi.MCP251XFD, spi.WithCRC(true))
	obj := make([]byte, 1020)
	for i := range obj {
		obj[i] = byte(i)
	}
	if err := p.WriteRAM(0x100, obj); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(obj))
	if err := p.ReadRAM(0x100, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, obj) || chip.CRCErrors != 0 {
		t.Fatalf("ram round trip mismatch, crc errors %d", chip.CRCErrors)
	}
}

func TestReadCRCMismatch(t *testing.T) {
	c := &recConn{reply: []byte{1, 2, 3, 4, 0, 0}}
	p := spi.New(c, spi.MCP251XFD)
	if err := p.ReadCRC(0x000, make([]byte, 4)); !errors.Is(err, spi.ErrCRC) {
		t.Fatalf("expected ErrCRC, got %v", err)
	}
}

func TestConcurrentModifyIsSerialized(t *testing.T) {
	chip := spitest.NewFDChip()
	p := spi.New(chip, spi.MCP251XFD)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(bit uint) {
			defer wg.Done()
			_ = p.ModifyRegister(0x01C, 1<<(16+bit), 1<<(16+bit))
		}(uint(i))
	}
	wg.Wait()
	if got := chip.Reg32(0x01C) >> 16 & 0xFF; got != 0xFF {
		t.Fatalf("lost update: 0x%02X", got)
	}
}
