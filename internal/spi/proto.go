// Package spi implements the register and message-RAM access protocol of the
// controller family over a chip-select framed SPI transport.
package spi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/kstaniek/go-mcp25xx/internal/metrics"
)

// Conn is one SPI device. Tx runs a single chip-select framed transaction:
// w is clocked out, then len(r) bytes are clocked in. r may be nil.
type Conn interface {
	Tx(w, r []byte) error
}

var (
	ErrMisaligned  = errors.New("spi: ram access not 4-byte aligned")
	ErrRAMRange    = errors.New("spi: ram access out of range")
	ErrAddress     = errors.New("spi: address out of range")
	ErrUnsupported = errors.New("spi: instruction not supported by variant")
	ErrCRC         = errors.New("spi: crc mismatch")
)

// Message RAM of the FD controller.
const (
	RAMStart = 0x400
	RAMSize  = 2048
)

// FD instruction nibbles.
const (
	fdReset     = 0x0
	fdWrite     = 0x2
	fdRead      = 0x3
	fdWriteCRC  = 0xA
	fdReadCRC   = 0xB
	fdWriteSafe = 0xC
)

// Classic instruction bytes.
const (
	clReset      = 0xC0
	clRead       = 0x03
	clWrite      = 0x02
	clBitModify  = 0x05
	clRTS        = 0x80
	clReadStatus = 0xA0
	clRxStatus   = 0xB0
	clReadRxBuf  = 0x90
	clLoadTxBuf  = 0x40
)

// Proto serializes register and RAM access for one chip. Every method holds
// the bus for its whole duration, including both halves of a modify.
type Proto struct {
	mu  sync.Mutex
	c   Conn
	v   Variant
	crc bool
}

type Option func(*Proto)

// WithCRC routes FD register reads and writes through the CRC-protected
// instructions.
func WithCRC(on bool) Option { return func(p *Proto) { p.crc = on } }

// New wraps c using the wire protocol of variant v.
func New(c Conn, v Variant, opts ...Option) *Proto {
	p := &Proto{c: c, v: v}
	for _, o := range opts {
		o(p)
	}
	if !v.Has(InstrCRC) {
		p.crc = false
	}
	return p
}

// Variant returns the chip variant this protocol speaks.
func (p *Proto) Variant() Variant { return p.v }

func (p *Proto) tx(op string, w, r []byte) error {
	metrics.IncSPITransfer()
	if err := p.c.Tx(w, r); err != nil {
		metrics.IncError(metrics.ErrSPI)
		return fmt.Errorf("spi %s: %w", op, err)
	}
	return nil
}

func (p *Proto) fdHeader(cmd byte, addr uint16) [2]byte {
	return [2]byte{cmd<<4 | byte(addr>>8)&0x0F, byte(addr)}
}

func (p *Proto) checkAddr(addr uint16, n int) error {
	if int(addr)+n-1 > int(p.v.maxAddr()) {
		return fmt.Errorf("%w: 0x%X+%d", ErrAddress, addr, n)
	}
	return nil
}

// Reset issues the RESET instruction. On the FD chip it is a two-byte
// command with address zero.
func (p *Proto) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.v.FD {
		h := p.fdHeader(fdReset, 0)
		return p.tx("reset", h[:], nil)
	}
	return p.tx("reset", []byte{clReset}, nil)
}

// Read reads len(buf) bytes starting at addr.
func (p *Proto) Read(addr uint16, buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.read(addr, buf)
}

// Write writes data starting at addr.
func (p *Proto) Write(addr uint16, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.write(addr, data)
}

func (p *Proto) read(addr uint16, buf []byte) error {
	if err := p.checkAddr(addr, len(buf)); err != nil {
		return err
	}
	if p.v.FD {
		if p.crc {
			return p.readCRC(addr, buf)
		}
		h := p.fdHeader(fdRead, addr)
		return p.tx("read", h[:], buf)
	}
	return p.tx("read", []byte{clRead, byte(addr)}, buf)
}

func (p *Proto) write(addr uint16, data []byte) error {
	if err := p.checkAddr(addr, len(data)); err != nil {
		return err
	}
	w := make([]byte, 0, 3+len(data)+2)
	if p.v.FD {
		if p.crc {
			return p.writeCRC(addr, data)
		}
		h := p.fdHeader(fdWrite, addr)
		w = append(w, h[:]...)
	} else {
		w = append(w, clWrite, byte(addr))
	}
	w = append(w, data...)
	return p.tx("write", w, nil)
}

// ReadRegister reads one register (4 bytes little-endian on FD, 1 byte on
// classic).
func (p *Proto) ReadRegister(addr uint16) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readReg(addr)
}

func (p *Proto) readReg(addr uint16) (uint32, error) {
	if !p.v.FD {
		var b [1]byte
		if err := p.read(addr, b[:]); err != nil {
			return 0, err
		}
		return uint32(b[0]), nil
	}
	var b [4]byte
	if err := p.read(addr, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// WriteRegister writes one register.
func (p *Proto) WriteRegister(addr uint16, v uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.v.FD {
		return p.write(addr, []byte{byte(v)})
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return p.write(addr, b[:])
}

// WriteMasked writes the part of v selected by mask. The FD chip has no
// bit-level write, so every byte mask touches is written in full from v.
// Classic chips use BIT MODIFY.
func (p *Proto) WriteMasked(addr uint16, v, mask uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeMasked(addr, v, mask)
}

func (p *Proto) writeMasked(addr uint16, v, mask uint32) error {
	if mask == 0 {
		return nil
	}
	if !p.v.FD {
		return p.bitModify(addr, byte(mask), byte(v))
	}
	lo, hi := byteSpan(mask)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return p.write(addr+uint16(lo), b[lo:hi+1])
}

// byteSpan returns the first and last byte index covered by mask.
func byteSpan(mask uint32) (lo, hi int) {
	lo, hi = -1, 0
	for i := 0; i < 4; i++ {
		if mask&(0xFF<<(8*i)) != 0 {
			if lo < 0 {
				lo = i
			}
			hi = i
		}
	}
	return lo, hi
}

// ModifyRegister replaces the bits selected by mask with those of v.
func (p *Proto) ModifyRegister(addr uint16, mask, v uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.v.FD {
		return p.bitModify(addr, byte(mask), byte(v))
	}
	old, err := p.readReg(addr)
	if err != nil {
		return err
	}
	return p.writeMasked(addr, old&^mask|v&mask, mask)
}

// BitModify changes the bits in mask of a classic register in one
// transaction.
func (p *Proto) BitModify(addr uint16, mask, v byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bitModify(addr, mask, v)
}

func (p *Proto) bitModify(addr uint16, mask, v byte) error {
	if !p.v.Has(InstrBitModify) {
		return fmt.Errorf("%w: bit modify on %s", ErrUnsupported, p.v.Name)
	}
	if err := p.checkAddr(addr, 1); err != nil {
		return err
	}
	return p.tx("bit_modify", []byte{clBitModify, byte(addr), mask, v}, nil)
}

func (p *Proto) checkRAM(off uint16, n int) error {
	if !p.v.FD {
		return fmt.Errorf("%w: message ram on %s", ErrUnsupported, p.v.Name)
	}
	if off%4 != 0 || n%4 != 0 {
		return fmt.Errorf("%w: offset 0x%X len %d", ErrMisaligned, off, n)
	}
	if int(off)+n > RAMSize {
		return fmt.Errorf("%w: offset 0x%X len %d", ErrRAMRange, off, n)
	}
	return nil
}

// ReadRAM reads message RAM at the given offset from RAMStart. Offset and
// length must be multiples of four.
func (p *Proto) ReadRAM(off uint16, buf []byte) error {
	if err := p.checkRAM(off, len(buf)); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.read(RAMStart+off, buf)
}

// WriteRAM writes message RAM at the given offset from RAMStart.
func (p *Proto) WriteRAM(off uint16, data []byte) error {
	if err := p.checkRAM(off, len(data)); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.write(RAMStart+off, data)
}

// crcLen encodes the length field of READ_CRC and WRITE_CRC. Message RAM
// counts 32-bit words, registers count bytes.
func crcLen(addr uint16, n int) (byte, error) {
	if addr >= RAMStart && addr < RAMStart+RAMSize {
		if n%4 != 0 {
			return 0, fmt.Errorf("%w: crc access of %d bytes at 0x%03X", ErrMisaligned, n, addr)
		}
		n /= 4
	}
	if n > 0xFF {
		return 0, fmt.Errorf("%w: crc access of %d units at 0x%03X", ErrAddress, n, addr)
	}
	return byte(n), nil
}

func (p *Proto) readCRC(addr uint16, buf []byte) error {
	n, err := crcLen(addr, len(buf))
	if err != nil {
		return err
	}
	h := p.fdHeader(fdReadCRC, addr)
	w := []byte{h[0], h[1], n}
	r := make([]byte, len(buf)+2)
	if err := p.tx("read_crc", w, r); err != nil {
		return err
	}
	got := binary.BigEndian.Uint16(r[len(buf):])
	if want := CRC16(w, r[:len(buf)]); got != want {
		metrics.IncError(metrics.ErrSPICRC)
		return fmt.Errorf("%w: read 0x%03X got 0x%04X want 0x%04X", ErrCRC, addr, got, want)
	}
	copy(buf, r)
	return nil
}

func (p *Proto) writeCRC(addr uint16, data []byte) error {
	n, err := crcLen(addr, len(data))
	if err != nil {
		return err
	}
	h := p.fdHeader(fdWriteCRC, addr)
	w := make([]byte, 0, 3+len(data)+2)
	w = append(w, h[0], h[1], n)
	w = append(w, data...)
	w = binary.BigEndian.AppendUint16(w, CRC16(w))
	return p.tx("write_crc", w, nil)
}

// ReadCRC reads with a checksum over command, length and data.
func (p *Proto) ReadCRC(addr uint16, buf []byte) error {
	if !p.v.Has(InstrCRC) {
		return fmt.Errorf("%w: read crc on %s", ErrUnsupported, p.v.Name)
	}
	if err := p.checkAddr(addr, len(buf)); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readCRC(addr, buf)
}

// WriteCRC writes with a trailing checksum the chip verifies.
func (p *Proto) WriteCRC(addr uint16, data []byte) error {
	if !p.v.Has(InstrCRC) {
		return fmt.Errorf("%w: write crc on %s", ErrUnsupported, p.v.Name)
	}
	if err := p.checkAddr(addr, len(data)); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeCRC(addr, data)
}

// WriteSafe writes a single register; the chip discards it unless the
// trailing checksum matches.
func (p *Proto) WriteSafe(addr uint16, data []byte) error {
	if !p.v.Has(InstrWriteSafe) {
		return fmt.Errorf("%w: write safe on %s", ErrUnsupported, p.v.Name)
	}
	if len(data) == 0 || len(data) > 4 {
		return fmt.Errorf("%w: write safe of %d bytes", ErrAddress, len(data))
	}
	if err := p.checkAddr(addr, len(data)); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.fdHeader(fdWriteSafe, addr)
	w := append([]byte{h[0], h[1]}, data...)
	w = binary.BigEndian.AppendUint16(w, CRC16(w))
	return p.tx("write_safe", w, nil)
}

// RequestToSend starts transmission of the classic TX buffers in mask
// (bit n = TXBn).
func (p *Proto) RequestToSend(mask uint8) error {
	if !p.v.Has(InstrRTS) {
		return fmt.Errorf("%w: rts on %s", ErrUnsupported, p.v.Name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tx("rts", []byte{clRTS | mask&0x07}, nil)
}

func (p *Proto) status(op string, instr Instr, cmd byte) (uint8, error) {
	if !p.v.Has(instr) {
		return 0, fmt.Errorf("%w: %s on %s", ErrUnsupported, op, p.v.Name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var b [1]byte
	if err := p.tx(op, []byte{cmd}, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadStatus returns the quick status byte (RX flags, TX request and flags).
func (p *Proto) ReadStatus() (uint8, error) {
	return p.status("read_status", InstrReadStatus, clReadStatus)
}

// RxStatus returns the receive status byte (filter match, frame type).
func (p *Proto) RxStatus() (uint8, error) {
	return p.status("rx_status", InstrRxStatus, clRxStatus)
}

// ReadRxBuffer reads receive buffer n (0 or 1) starting at its ID bytes, or
// at the data bytes when dataOnly is set. The chip clears the matching
// receive flag when chip select is released.
func (p *Proto) ReadRxBuffer(n int, dataOnly bool, buf []byte) error {
	if !p.v.Has(InstrBufferIO) {
		return fmt.Errorf("%w: read rx buffer on %s", ErrUnsupported, p.v.Name)
	}
	if n < 0 || n > 1 {
		return fmt.Errorf("%w: rx buffer %d", ErrAddress, n)
	}
	cmd := byte(clReadRxBuf | n<<2)
	if dataOnly {
		cmd |= 1 << 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tx("read_rx_buffer", []byte{cmd}, buf)
}

// LoadTxBuffer loads TX buffer n (0..2) starting at its ID bytes, or at
// the data bytes when dataOnly is set.
func (p *Proto) LoadTxBuffer(n int, dataOnly bool, data []byte) error {
	if !p.v.Has(InstrBufferIO) {
		return fmt.Errorf("%w: load tx buffer on %s", ErrUnsupported, p.v.Name)
	}
	if n < 0 || n > 2 {
		return fmt.Errorf("%w: tx buffer %d", ErrAddress, n)
	}
	cmd := byte(clLoadTxBuf | n<<1)
	if dataOnly {
		cmd |= 1
	}
	w := append([]byte{cmd}, data...)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tx("load_tx_buffer", w, nil)
}
