package mcp251xfd

import (
	"fmt"
)

// FIFOConfig describes one message FIFO. Priority and Retransmit apply to
// transmit FIFOs, RxTimestamp to receive FIFOs.
type FIFOConfig struct {
	Depth       int
	Payload     PayloadSize
	Transmit    bool
	Priority    uint8
	Retransmit  Retransmit
	RxTimestamp bool
}

// ObjectSize is the RAM footprint of one message object of this FIFO.
func (c FIFOConfig) ObjectSize() int {
	n := 8 + c.Payload.Bytes()
	if !c.Transmit && c.RxTimestamp {
		n += 4
	}
	return n
}

// RAMSize is the RAM footprint of the whole FIFO.
func (c FIFOConfig) RAMSize() int { return c.Depth * c.ObjectSize() }

// Validate checks the ranges of every field.
func (c FIFOConfig) Validate() error {
	switch {
	case c.Depth < 1 || c.Depth > 32:
		return fmt.Errorf("%w: depth %d not in [1,32]", ErrInvalidFIFOConfig, c.Depth)
	case c.Payload > Payload64:
		return fmt.Errorf("%w: payload size class %d", ErrInvalidFIFOConfig, c.Payload)
	case c.Priority > 31:
		return fmt.Errorf("%w: priority %d not in [0,31]", ErrInvalidFIFOConfig, c.Priority)
	case c.Retransmit == 2 || c.Retransmit > RetransmitUnlimited:
		return fmt.Errorf("%w: retransmit mode %d", ErrInvalidFIFOConfig, c.Retransmit)
	}
	return nil
}

func (c FIFOConfig) control() FIFOCON {
	con := FIFOCON(0).
		WithDepth(c.Depth).
		WithPayloadSize(c.Payload).
		WithTransmit(c.Transmit).
		WithReset(true)
	if c.Transmit {
		return con.WithPriority(c.Priority).WithRetransmit(c.Retransmit)
	}
	return con.WithRxTimestamp(c.RxTimestamp).WithNotEmptyIRQ(true)
}

// ConfigureFIFO programs FIFO m (1..31) and resets it. Depth and payload
// size only take effect in configuration mode.
func (d *Device) ConfigureFIFO(m int, cfg FIFOConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	reg, err := fifoCON(m)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := reg.Write(d.p, cfg.control()); err != nil {
		return err
	}
	d.log.Debug("fifo_configured",
		"fifo", m,
		"depth", cfg.Depth,
		"payload", cfg.Payload.Bytes(),
		"tx", cfg.Transmit,
		"priority", cfg.Priority,
		"timestamp", cfg.RxTimestamp,
	)
	return nil
}

// FIFO reads back the configuration of FIFO m.
func (d *Device) FIFO(m int) (FIFOConfig, error) {
	reg, err := fifoCON(m)
	if err != nil {
		return FIFOConfig{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	con, err := reg.Read(d.p)
	if err != nil {
		return FIFOConfig{}, err
	}
	return FIFOConfig{
		Depth:       con.Depth(),
		Payload:     con.PayloadSize(),
		Transmit:    con.Transmit(),
		Priority:    con.Priority(),
		Retransmit:  con.Retransmit(),
		RxTimestamp: con.RxTimestamp(),
	}, nil
}
