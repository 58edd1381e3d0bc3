// Package spitest provides in-memory chip models that implement spi.Conn.
package spitest

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/kstaniek/go-mcp25xx/internal/spi"
)

// Txn is one recorded transaction.
type Txn struct {
	Cmd   byte
	Addr  uint16
	Data  []byte // bytes written after the header (no CRC trailer)
	NRead int
}

// FDChip models the FD controller's address space and instruction decoder.
// It is not a CAN engine: it stores what is written, mirrors REQOP into
// OPMOD, clears the self-clearing FIFO bits and advances user addresses on
// UINC. Tests stage received objects and flags directly in memory.
type FDChip struct {
	mu   sync.Mutex
	mem  [0x1000]byte
	log  []Txn
	fail error

	// CRCErrors counts rejected WRITE_CRC / WRITE_SAFE transactions.
	CRCErrors int
	// OnWrite, if set, runs after a plain or CRC write lands in memory.
	OnWrite func(c *FDChip, addr uint16, data []byte)
}

const (
	regCON     = 0x000
	regFIFOCON = 0x05C
	regTEFCON  = 0x040
	regTEFUA   = 0x048
	regTXQCON  = 0x050

	conReset = 0x0498_0760
)

// NewFDChip returns a chip in its reset state.
func NewFDChip() *FDChip {
	c := &FDChip{}
	c.reset()
	return c
}

func (c *FDChip) reset() {
	c.mem = [0x1000]byte{}
	binary.LittleEndian.PutUint32(c.mem[regCON:], conReset)
	for m := 1; m <= 31; m++ {
		// FIFOCON reset value: FSIZE 0, PLSIZE 0, TXEN 0, TXAT unlimited.
		binary.LittleEndian.PutUint32(c.mem[fifoAddr(m):], 0x0060_0000)
	}
}

func fifoAddr(m int) uint16 { return regFIFOCON + uint16(m-1)*0x0C }

// FailNext makes the next transaction return err.
func (c *FDChip) FailNext(err error) { c.mu.Lock(); c.fail = err; c.mu.Unlock() }

// Tx implements spi.Conn.
func (c *FDChip) Tx(w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		err := c.fail
		c.fail = nil
		return err
	}
	if len(w) < 2 {
		return errors.New("spitest: short command")
	}
	cmd := w[0] >> 4
	addr := uint16(w[0]&0x0F)<<8 | uint16(w[1])
	switch cmd {
	case 0x0:
		c.reset()
		c.record(cmd, addr, nil, 0)
	case 0x3:
		copy(r, c.mem[addr:])
		c.record(cmd, addr, nil, len(r))
	case 0x2:
		c.store(addr, w[2:])
		c.record(cmd, addr, w[2:], 0)
	case 0xB:
		n := crcBytes(addr, w[2])
		copy(r[:n], c.mem[addr:])
		binary.BigEndian.PutUint16(r[n:], spi.CRC16(w[:3], r[:n]))
		c.record(cmd, addr, nil, n)
	case 0xA:
		n := crcBytes(addr, w[2])
		body := w[:3+n]
		if binary.BigEndian.Uint16(w[3+n:]) != spi.CRC16(body) {
			c.CRCErrors++
		} else {
			c.store(addr, w[3:3+n])
		}
		c.record(cmd, addr, w[3:3+n], 0)
	case 0xC:
		body := w[:len(w)-2]
		if binary.BigEndian.Uint16(w[len(w)-2:]) != spi.CRC16(body) {
			c.CRCErrors++
		} else {
			c.store(addr, w[2:len(w)-2])
		}
		c.record(cmd, addr, w[2:len(w)-2], 0)
	default:
		return errors.New("spitest: unknown instruction")
	}
	return nil
}

// crcBytes decodes the CRC instruction length field, which counts words
// inside message RAM.
func crcBytes(addr uint16, n byte) int {
	if addr >= spi.RAMStart && addr < spi.RAMStart+spi.RAMSize {
		return int(n) * 4
	}
	return int(n)
}

func (c *FDChip) record(cmd byte, addr uint16, data []byte, nread int) {
	c.log = append(c.log, Txn{Cmd: cmd, Addr: addr, Data: append([]byte(nil), data...), NRead: nread})
}

func (c *FDChip) store(addr uint16, data []byte) {
	copy(c.mem[addr:], data)
	c.sideEffects(addr, len(data))
	if c.OnWrite != nil {
		c.OnWrite(c, addr, data)
	}
}

func (c *FDChip) sideEffects(addr uint16, n int) {
	touches := func(reg uint16, byteIdx int) bool {
		a := reg + uint16(byteIdx)
		return a >= addr && a < addr+uint16(n)
	}
	if touches(regCON, 3) {
		con := c.u32(regCON)
		reqop := (con >> 24) & 0x7
		con = con&^(0x7<<21) | reqop<<21
		con &^= 1 << 27 // ABAT completes at once
		c.put32(regCON, con)
	}
	for m := 0; m <= 31; m++ {
		reg := uint16(regTXQCON)
		if m > 0 {
			reg = fifoAddr(m)
		}
		if touches(reg, 1) {
			con := c.u32(reg)
			if con&(1<<8) != 0 {
				c.advance(reg+8, con)
			}
			con &^= 1<<8 | 1<<9 | 1<<10
			c.put32(reg, con)
		}
	}
	if touches(regTEFCON, 1) {
		con := c.u32(regTEFCON)
		if con&(1<<8) != 0 {
			size := uint32(8)
			if con&(1<<5) != 0 {
				size = 12
			}
			c.put32(regTEFUA, c.u32(regTEFUA)+size)
		}
		con &^= 1<<8 | 1<<10
		c.put32(regTEFCON, con)
	}
}

func (c *FDChip) advance(uaReg uint16, con uint32) {
	pl := [8]uint32{8, 12, 16, 20, 24, 32, 48, 64}[(con>>29)&0x7]
	size := 8 + pl
	if con&(1<<7) == 0 && con&(1<<5) != 0 {
		size += 4
	}
	c.put32(uaReg, c.u32(uaReg)+size)
}

func (c *FDChip) u32(a uint16) uint32      { return binary.LittleEndian.Uint32(c.mem[a:]) }
func (c *FDChip) put32(a uint16, v uint32) { binary.LittleEndian.PutUint32(c.mem[a:], v) }

// Reg32 returns the register at addr.
func (c *FDChip) Reg32(addr uint16) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.u32(addr)
}

// SetReg32 stores a register without side effects.
func (c *FDChip) SetReg32(addr uint16, v uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put32(addr, v)
}

// Bytes returns a copy of n bytes at addr.
func (c *FDChip) Bytes(addr uint16, n int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.mem[addr:int(addr)+n]...)
}

// SetBytes stores raw bytes without side effects.
func (c *FDChip) SetBytes(addr uint16, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	copy(c.mem[addr:], b)
}

// Log returns the recorded transactions.
func (c *FDChip) Log() []Txn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Txn(nil), c.log...)
}

// ResetLog clears the transaction log.
func (c *FDChip) ResetLog() { c.mu.Lock(); c.log = nil; c.mu.Unlock() }

// WritesIn returns the writes that touched [lo, hi).
func (c *FDChip) WritesIn(lo, hi uint16) []Txn {
	var out []Txn
	for _, t := range c.Log() {
		if (t.Cmd == 0x2 || t.Cmd == 0xA || t.Cmd == 0xC) && t.Addr < hi && t.Addr+uint16(len(t.Data)) > lo {
			out = append(out, t)
		}
	}
	return out
}
