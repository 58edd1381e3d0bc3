// Package mcp2515 drives the classic CAN controllers with three transmit
// and two receive buffers (MCP2515, MCP25625, MCP2510).
package mcp2515

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
	"github.com/kstaniek/go-mcp25xx/internal/metrics"
	"github.com/kstaniek/go-mcp25xx/internal/spi"
)

var (
	// ErrTxBusy is returned when all three transmit buffers are pending.
	// Pending frames are never replaced.
	ErrTxBusy = fmt.Errorf("mcp2515: all tx buffers busy: %w", can.ErrWouldBlock)
	// ErrNoFrame is returned by Receive when both receive buffers are empty.
	ErrNoFrame     = fmt.Errorf("mcp2515: no frame: %w", can.ErrWouldBlock)
	ErrNoInterrupt = errors.New("mcp2515: no interrupt line configured")
)

// resetDelay covers oscillator start-up after RESET.
const resetDelay = 2 * time.Millisecond

var sleepFn = time.Sleep // test hook

// Interrupt is the chip's active-low interrupt output.
type Interrupt interface {
	WaitLow(ctx context.Context) error
}

// Device is one classic controller.
type Device struct {
	mu  sync.Mutex
	p   *spi.Proto
	irq Interrupt
	log *slog.Logger
	v   spi.Variant
}

type Option func(*Device)

// WithVariant selects the chip variant (default MCP2515). FD variants are
// ignored.
func WithVariant(v spi.Variant) Option {
	return func(d *Device) {
		if !v.FD {
			d.v = v
		}
	}
}

func WithInterrupt(l Interrupt) Option { return func(d *Device) { d.irq = l } }

func WithLogger(l *slog.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.log = l
		}
	}
}

func New(c spi.Conn, opts ...Option) *Device {
	d := &Device{v: spi.MCP2515, log: logging.Component("mcp2515")}
	for _, o := range opts {
		o(d)
	}
	d.p = spi.New(c, d.v)
	return d
}

// Variant returns the configured chip variant.
func (d *Device) Variant() spi.Variant { return d.v }

// Config is the classic controller configuration.
type Config struct {
	Clock bittiming.Clock
	Rate  bittiming.Rate
}

func DefaultConfig() Config {
	return Config{Clock: bittiming.Clock16MHz, Rate: bittiming.Rate500k}
}

// Configure resets the chip, sets the bit rate, enables RXB0 rollover with
// all-accepting masks and enables both receive interrupts. The chip stays
// in configuration mode.
func (d *Device) Configure(cfg Config) error {
	cnf, err := bittiming.ResolveClassic(cfg.Clock, cfg.Rate)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.p.Reset(); err != nil {
		return err
	}
	sleepFn(resetDelay)
	if err := d.p.Write(addrCNF3, cnf.Bytes()); err != nil {
		return err
	}
	if err := regRXB0CTRL.Modify(d.p, rxbRXM|rxbBUKT, rxbBUKT); err != nil {
		return err
	}
	zero := make([]byte, 4)
	for n := 0; n < 2; n++ {
		a, _ := maskAddr(n)
		if err := d.p.Write(a, zero); err != nil {
			return err
		}
	}
	if err := regCANINTE.Modify(d.p, intRX0|intRX1, intRX0|intRX1); err != nil {
		return err
	}
	d.log.Debug("chip_configured", "variant", d.v.Name, "clock", cfg.Clock.String(), "rate", cfg.Rate.String())
	return nil
}

// SetMode requests an operating mode.
func (d *Device) SetMode(m Mode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return regCANCTRL.Modify(d.p, modeMask, uint8(m)<<modeShift)
}

// Mode returns the current operating mode from CANSTAT.
func (d *Device) Mode() (Mode, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := regCANSTAT.Read(d.p)
	if err != nil {
		return 0, err
	}
	return Mode(v >> modeShift), nil
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

// ConfigureFilter sets acceptance filter n (0..5). Filters 0-1 belong to
// RXB0, the rest to RXB1. Only valid in configuration mode.
func (d *Device) ConfigureFilter(n int, id uint32, extended bool) error {
	a, err := filterAddr(n)
	if err != nil {
		return err
	}
	b := make([]byte, 4)
	encodeID(b, id, extended)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.p.Write(a, b)
}

// ConfigureMask sets acceptance mask n (0..1).
func (d *Device) ConfigureMask(n int, id uint32, extended bool) error {
	a, err := maskAddr(n)
	if err != nil {
		return err
	}
	b := make([]byte, 4)
	encodeID(b, id, extended)
	b[1] &^= sidlEXIDE
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.p.Write(a, b)
}

// Transmit loads fr into the first free transmit buffer (TXB0, TXB1, TXB2)
// and requests transmission. With all three pending it returns ErrTxBusy.
func (d *Device) Transmit(fr can.Frame) error {
	img, err := encodeFrame(fr)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	st, err := d.p.ReadStatus()
	if err != nil {
		return err
	}
	n := -1
	for i := 0; i < 3; i++ {
		if !Status(st).TxRequest(i) {
			n = i
			break
		}
	}
	if n < 0 {
		metrics.IncFIFOFull()
		return ErrTxBusy
	}
	if d.v.Has(spi.InstrBufferIO) {
		err = d.p.LoadTxBuffer(n, false, img)
	} else {
		ctl, _ := txCtrl(n)
		err = d.p.Write(ctl.Addr+1, img)
	}
	if err != nil {
		metrics.IncError(metrics.ErrChipWrite)
		return err
	}
	if d.v.Has(spi.InstrRTS) {
		err = d.p.RequestToSend(1 << n)
	} else {
		ctl, _ := txCtrl(n)
		err = ctl.Modify(d.p, txbTXREQ, txbTXREQ)
	}
	if err != nil {
		metrics.IncError(metrics.ErrChipWrite)
		return err
	}
	metrics.IncChipTx()
	return nil
}

// Receive reads RXB0, or RXB1 when RXB0 is empty. ErrNoFrame means both
// are empty.
func (d *Device) Receive() (can.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, err := d.p.ReadStatus()
	if err != nil {
		return can.Frame{}, err
	}
	switch {
	case Status(st).RX0IF():
		return d.readRx(0)
	case Status(st).RX1IF():
		return d.readRx(1)
	}
	return can.Frame{}, ErrNoFrame
}

func (d *Device) readRx(n int) (can.Frame, error) {
	buf := make([]byte, bufLen)
	if d.v.Has(spi.InstrBufferIO) {
		if err := d.p.ReadRxBuffer(n, false, buf); err != nil {
			metrics.IncError(metrics.ErrChipRead)
			return can.Frame{}, err
		}
	} else {
		a, _ := rxSIDH(n)
		if err := d.p.Read(a, buf); err != nil {
			metrics.IncError(metrics.ErrChipRead)
			return can.Frame{}, err
		}
		// No READ RX BUFFER: the flag must be cleared explicitly.
		if err := regCANINTF.Modify(d.p, 1<<n, 0); err != nil {
			return can.Frame{}, err
		}
	}
	metrics.IncChipRx()
	return decodeFrame(buf), nil
}

// ReceiveWait blocks on the interrupt line until a frame is available or
// ctx is done.
func (d *Device) ReceiveWait(ctx context.Context) (can.Frame, error) {
	if d.irq == nil {
		return can.Frame{}, ErrNoInterrupt
	}
	for {
		fr, err := d.Receive()
		if !errors.Is(err, ErrNoFrame) {
			return fr, err
		}
		if err := d.irq.WaitLow(ctx); err != nil {
			return can.Frame{}, err
		}
	}
}

// ErrorState is the fault-confinement state from TEC/REC/EFLG.
type ErrorState struct {
	REC, TEC   uint8
	Warning    bool
	RxPassive  bool
	TxPassive  bool
	BusOff     bool
	RxOverflow bool
}

// ErrorCounters reads the error counters and flags. Receive overflow
// flags are cleared.
func (d *Device) ErrorCounters() (ErrorState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tec, err := regTEC.Read(d.p)
	if err != nil {
		return ErrorState{}, err
	}
	rec, err := regREC.Read(d.p)
	if err != nil {
		return ErrorState{}, err
	}
	fl, err := regEFLG.Read(d.p)
	if err != nil {
		return ErrorState{}, err
	}
	st := ErrorState{
		REC:        rec,
		TEC:        tec,
		Warning:    fl&eflgEWARN != 0,
		RxPassive:  fl&eflgRXEP != 0,
		TxPassive:  fl&eflgTXEP != 0,
		BusOff:     fl&eflgTXBO != 0,
		RxOverflow: fl&(eflgRX0OV|eflgRX1OV) != 0,
	}
	if st.RxOverflow {
		if err := regEFLG.Modify(d.p, eflgRX0OV|eflgRX1OV, 0); err != nil {
			return st, err
		}
		metrics.IncError(metrics.ErrChipOverflow)
	}
	metrics.SetErrorCounters(rec, tec)
	return st, nil
}

// ClearErrorInterrupt clears ERRIF in CANINTF.
func (d *Device) ClearErrorInterrupt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return regCANINTF.Modify(d.p, intERR, 0)
}
