// Package mcp251xfd drives the MCP2517FD/MCP2518FD CAN FD controller over
// SPI: configuration, FIFO and filter setup, and frame transmit/receive
// through the chip's message RAM.
//
// The driver keeps no copy of chip state. Every operation reads what it
// needs from the chip, so FIFO addresses and flags are always current.
// A Device is safe for use by several goroutines; operations that span
// more than one SPI transaction do not interleave.
package mcp251xfd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-mcp25xx/internal/bittiming"
	"github.com/kstaniek/go-mcp25xx/internal/can"
	"github.com/kstaniek/go-mcp25xx/internal/logging"
	"github.com/kstaniek/go-mcp25xx/internal/spi"
)

var (
	// ErrFIFOFull is returned by Transmit when the FIFO has no free slot.
	ErrFIFOFull = fmt.Errorf("mcp251xfd: fifo full: %w", can.ErrWouldBlock)
	// ErrNoFrame is returned by Receive when no FIFO holds a frame.
	ErrNoFrame = fmt.Errorf("mcp251xfd: no frame: %w", can.ErrWouldBlock)
	// ErrBusError reports a CAN bus error interrupt; the flag is already
	// cleared when the caller sees it.
	ErrBusError = errors.New("mcp251xfd: bus error")
	// ErrInvalidFIFOConfig is returned for out-of-range FIFO settings.
	ErrInvalidFIFOConfig = errors.New("mcp251xfd: invalid fifo config")
	// ErrPayloadTooLarge is returned when a frame does not fit the FIFO's
	// payload size.
	ErrPayloadTooLarge = errors.New("mcp251xfd: payload exceeds fifo payload size")
	// ErrNotTransmit is returned when transmitting on a receive FIFO.
	ErrNotTransmit = errors.New("mcp251xfd: fifo not configured for transmit")
	// ErrNoInterrupt is returned by ReceiveWait without an interrupt line.
	ErrNoInterrupt = errors.New("mcp251xfd: no interrupt line configured")
)

// Interrupt is the chip's active-low interrupt output.
type Interrupt interface {
	// WaitLow blocks until the line is low or ctx is done.
	WaitLow(ctx context.Context) error
}

// Device is one controller.
type Device struct {
	mu  sync.Mutex
	p   *spi.Proto
	irq Interrupt
	log *slog.Logger

	crc bool
}

type Option func(*Device)

func WithInterrupt(l Interrupt) Option { return func(d *Device) { d.irq = l } }

func WithLogger(l *slog.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.log = l
		}
	}
}

// WithCRC uses the CRC-protected SPI instructions for register access.
func WithCRC(on bool) Option { return func(d *Device) { d.crc = on } }

// New returns a driver for the controller behind c.
func New(c spi.Conn, opts ...Option) *Device {
	d := &Device{log: logging.Component("mcp251xfd")}
	for _, o := range opts {
		o(d)
	}
	d.p = spi.New(c, spi.MCP251XFD, spi.WithCRC(d.crc))
	return d
}

// Proto exposes the register protocol for diagnostics.
func (d *Device) Proto() *spi.Proto { return d.p }

// Config is the controller-wide configuration applied by Configure.
type Config struct {
	Clock   bittiming.Clock
	Nominal bittiming.Rate
	Data    bittiming.Rate

	ECC                    bool
	ISOCRC                 bool
	TxQueue                bool
	RestrictRetransmission bool
	BitRateSwitchDisable   bool

	TxEventFIFO      bool
	TxEventDepth     int
	TxEventTimestamp bool

	// TimeBase starts the counter used for RX and TEF timestamps. It ticks
	// every TimeBasePrescaler+1 system clocks.
	TimeBase          bool
	TimeBasePrescaler uint16
}

// DefaultConfig is 40 MHz, 500 kbit/s nominal, 2 Mbit/s data, ECC and ISO
// CRC on.
func DefaultConfig() Config {
	return Config{
		Clock:   bittiming.Clock40MHz,
		Nominal: bittiming.Rate500k,
		Data:    bittiming.Rate2M,
		ECC:     true,
		ISOCRC:  true,
	}
}

const (
	conResetValue = CON(0x0498_0760)
	ramChunk      = 64
)

// Configure resets the chip and applies cfg. Bit timing is resolved before
// any bus traffic, so an unsupported rate leaves the chip untouched. The
// chip is left in configuration mode; call SetMode to go on the bus.
func (d *Device) Configure(cfg Config) error {
	t, err := bittiming.Resolve(cfg.Clock, cfg.Nominal, cfg.Data)
	if err != nil {
		return err
	}
	if cfg.TxEventFIFO && (cfg.TxEventDepth < 1 || cfg.TxEventDepth > 32) {
		return fmt.Errorf("%w: tef depth %d", ErrInvalidFIFOConfig, cfg.TxEventDepth)
	}
	if cfg.TimeBasePrescaler > tsconPrescale {
		return fmt.Errorf("time base prescaler %d out of range", cfg.TimeBasePrescaler)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.p.Reset(); err != nil {
		return err
	}
	var ecc uint32
	if cfg.ECC {
		ecc = eccEnable
	}
	if err := regECCCON.Write(d.p, ecc); err != nil {
		return err
	}
	// Initialize RAM so ECC does not flag uninitialised words.
	zero := make([]byte, ramChunk)
	for off := 0; off < spi.RAMSize; off += ramChunk {
		if err := d.p.WriteRAM(uint16(off), zero); err != nil {
			return err
		}
	}
	con := conResetValue.
		WithRequestedMode(ModeConfiguration).
		WithISOCRC(cfg.ISOCRC).
		WithTxQueue(cfg.TxQueue).
		WithTxEventFIFO(cfg.TxEventFIFO).
		WithRestrictRetx(cfg.RestrictRetransmission).
		WithBRSDisabled(cfg.BitRateSwitchDisable)
	if err := regCON.Write(d.p, con); err != nil {
		return err
	}
	if err := regNBTCFG.Write(d.p, makeNBTCFG(t)); err != nil {
		return err
	}
	if err := regDBTCFG.Write(d.p, makeDBTCFG(t)); err != nil {
		return err
	}
	if err := regTDC.Write(d.p, makeTDC(t)); err != nil {
		return err
	}
	if cfg.TxEventFIFO {
		if err := regTEFCON.Write(d.p, makeTEFCON(cfg.TxEventDepth, cfg.TxEventTimestamp)); err != nil {
			return err
		}
	}
	if cfg.TimeBase {
		if err := regTSCON.Write(d.p, tsconTBCEN|uint32(cfg.TimeBasePrescaler)); err != nil {
			return err
		}
	}
	// The TEF is drained by polling ReadTransmitEvent, so TEFIE stays off
	// and a pending transmit event never holds the INT line low.
	ie := INT(0).WithEnable(intRXIF, true).WithEnable(intCERRIF, true)
	if err := regINT.Write(d.p, ie); err != nil {
		return err
	}
	d.log.Debug("chip_configured",
		"clock", cfg.Clock.String(),
		"nominal", cfg.Nominal.String(),
		"data", cfg.Data.String(),
		"tdc", t.TDCMode.String(),
		"ecc", cfg.ECC,
		"iso_crc", cfg.ISOCRC,
		"tef", cfg.TxEventFIFO,
		"txq", cfg.TxQueue,
		"time_base", cfg.TimeBase,
	)
	return nil
}

// SetMode requests an operating mode. The chip switches once the bus is
// idle; use Mode or WaitMode to observe the change.
func (d *Device) SetMode(m Mode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := regCON.Modify(d.p, conREQOPMask, CON(0).WithRequestedMode(m)); err != nil {
		return err
	}
	d.log.Debug("mode_requested", "mode", m.String())
	return nil
}

// Mode returns the current operating mode.
func (d *Device) Mode() (Mode, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	con, err := regCON.Read(d.p)
	if err != nil {
		return 0, err
	}
	return con.OpMode(), nil
}

// WaitMode polls Mode every interval until it equals m or ctx is done.
func (d *Device) WaitMode(ctx context.Context, m Mode, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		cur, err := d.Mode()
		if err != nil {
			return err
		}
		if cur == m {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait mode %s (at %s): %w", m, cur, ctx.Err())
		case <-t.C:
		}
	}
}
