package spitest

import (
	"errors"
	"sync"
)

// ClassicChip models the 8-bit register file and instruction set of the
// classic 3 TX / 2 RX controller.
type ClassicChip struct {
	mu   sync.Mutex
	mem  [0x80]byte
	log  []Txn
	fail error

	// NoBufferIO makes READ RX BUFFER, LOAD TX BUFFER and RX STATUS fail,
	// like the oldest variant.
	NoBufferIO bool
}

const (
	clCANSTAT  = 0x0E
	clCANCTRL  = 0x0F
	clCANINTF  = 0x2C
	clTXB0CTRL = 0x30
	clRXB0SIDH = 0x61
	clRXB1SIDH = 0x71
)

// NewClassicChip returns a chip in configuration mode.
func NewClassicChip() *ClassicChip {
	c := &ClassicChip{}
	c.reset()
	return c
}

func (c *ClassicChip) reset() {
	c.mem = [0x80]byte{}
	c.mem[clCANSTAT] = 0x80
	for i := 0; i < 8; i++ {
		c.mem[i*0x10+clCANCTRL] = 0x87
		c.mem[i*0x10+clCANSTAT] = 0x80
	}
}

// FailNext makes the next transaction return err.
func (c *ClassicChip) FailNext(err error) { c.mu.Lock(); c.fail = err; c.mu.Unlock() }

// Tx implements spi.Conn.
func (c *ClassicChip) Tx(w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		err := c.fail
		c.fail = nil
		return err
	}
	if len(w) == 0 {
		return errors.New("spitest: empty command")
	}
	op := w[0]
	switch {
	case op == 0xC0:
		c.reset()
		c.record(op, 0, nil, 0)
	case op == 0x03:
		a := w[1]
		for i := range r {
			r[i] = c.mem[(int(a)+i)&0x7F]
		}
		c.record(op, uint16(a), nil, len(r))
	case op == 0x02:
		a := w[1]
		for i, b := range w[2:] {
			c.set(byte(int(a)+i)&0x7F, b)
		}
		c.record(op, uint16(a), w[2:], 0)
	case op == 0x05:
		a, mask, v := w[1], w[2], w[3]
		c.set(a&0x7F, c.mem[a&0x7F]&^mask|v&mask)
		c.record(op, uint16(a), w[2:4], 0)
	case op&0xF8 == 0x80:
		for n := 0; n < 3; n++ {
			if op&(1<<n) != 0 {
				c.mem[clTXB0CTRL+n*0x10] |= 1 << 3
			}
		}
		c.record(op, 0, nil, 0)
	case op == 0xA0:
		if len(r) > 0 {
			r[0] = c.status()
		}
		c.record(op, 0, nil, len(r))
	case op == 0xB0:
		if c.NoBufferIO {
			return errors.New("spitest: rx status unsupported")
		}
		if len(r) > 0 {
			r[0] = c.mem[clCANINTF] & 0x03 << 6
		}
		c.record(op, 0, nil, len(r))
	case op&0xF9 == 0x90:
		if c.NoBufferIO {
			return errors.New("spitest: read rx buffer unsupported")
		}
		n := int(op>>2) & 1
		start := clRXB0SIDH + n*0x10
		if op&0x02 != 0 {
			start += 5
		}
		for i := range r {
			r[i] = c.mem[(start+i)&0x7F]
		}
		c.mem[clCANINTF] &^= 1 << n
		c.record(op, uint16(start), nil, len(r))
	case op&0xF8 == 0x40:
		if c.NoBufferIO {
			return errors.New("spitest: load tx buffer unsupported")
		}
		n := int(op>>1) & 3
		start := clTXB0CTRL + 1 + n*0x10
		if op&0x01 != 0 {
			start += 5
		}
		for i, b := range w[1:] {
			c.mem[(start+i)&0x7F] = b
		}
		c.record(op, uint16(start), w[1:], 0)
	default:
		return errors.New("spitest: unknown instruction")
	}
	return nil
}

func (c *ClassicChip) set(a, v byte) {
	c.mem[a] = v
	if a&0x0F == clCANCTRL {
		// mode request takes effect at once; CANSTAT mirrors in every bank
		for i := 0; i < 8; i++ {
			c.mem[i*0x10+clCANCTRL] = v
			c.mem[i*0x10+clCANSTAT] = c.mem[i*0x10+clCANSTAT]&0x1F | v&0xE0
		}
	}
}

func (c *ClassicChip) status() byte {
	intf := c.mem[clCANINTF]
	s := intf & 0x03
	for n := 0; n < 3; n++ {
		if c.mem[clTXB0CTRL+n*0x10]&(1<<3) != 0 {
			s |= 1 << (2 + 2*n)
		}
		if intf&(1<<(2+n)) != 0 {
			s |= 1 << (3 + 2*n)
		}
	}
	return s
}

func (c *ClassicChip) record(op byte, addr uint16, data []byte, nread int) {
	c.log = append(c.log, Txn{Cmd: op, Addr: addr, Data: append([]byte(nil), data...), NRead: nread})
}

// Reg returns the register at addr.
func (c *ClassicChip) Reg(addr byte) byte { c.mu.Lock(); defer c.mu.Unlock(); return c.mem[addr&0x7F] }

// SetReg stores a register without side effects.
func (c *ClassicChip) SetReg(addr, v byte) { c.mu.Lock(); c.mem[addr&0x7F] = v; c.mu.Unlock() }

// SetBytes stores raw bytes at addr.
func (c *ClassicChip) SetBytes(addr byte, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, v := range b {
		c.mem[(int(addr)+i)&0x7F] = v
	}
}

// Bytes returns n bytes at addr.
func (c *ClassicChip) Bytes(addr byte, n int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, n)
	for i := range out {
		out[i] = c.mem[(int(addr)+i)&0x7F]
	}
	return out
}

// Log returns the recorded transactions.
func (c *ClassicChip) Log() []Txn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Txn(nil), c.log...)
}

// ResetLog clears the transaction log.
func (c *ClassicChip) ResetLog() { c.mu.Lock(); c.log = nil; c.mu.Unlock() }
