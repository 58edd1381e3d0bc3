package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kstaniek/go-mcp25xx/internal/bittiming"
	"github.com/kstaniek/go-mcp25xx/internal/can"
	"github.com/kstaniek/go-mcp25xx/internal/layout"
	"github.com/kstaniek/go-mcp25xx/internal/mcp2515"
	"github.com/kstaniek/go-mcp25xx/internal/mcp251xfd"
	"github.com/kstaniek/go-mcp25xx/internal/spi"
)

// chip is what the gateway needs from either controller family.
type chip interface {
	Transmit(can.Frame) error
	Receive() (can.Frame, error)
	ReceiveWait(ctx context.Context) (can.Frame, error)
	// Counters samples the error counters and updates the gauges.
	Counters() (rec, tec uint8, busOff bool, err error)
}

// diagnoser is implemented by chips that expose more than the error
// counters. The error sampler calls it on every tick.
type diagnoser interface {
	Diagnose(l *slog.Logger) error
}

// tefMaxDepth bounds one drain to a full transmit event FIFO.
const tefMaxDepth = 32

type fdChip struct {
	d        *mcp251xfd.Device
	fifo     int
	tef      bool // transmit event FIFO enabled; drained on Diagnose
	timeBase bool

	overflow uint32 // RXOVIF bitmap last reported
}

func (c *fdChip) Transmit(fr can.Frame) error { return c.d.Transmit(c.fifo, fr) }
func (c *fdChip) Receive() (can.Frame, error) { return c.d.Receive() }
func (c *fdChip) ReceiveWait(ctx context.Context) (can.Frame, error) {
	return c.d.ReceiveWait(ctx)
}

func (c *fdChip) Counters() (uint8, uint8, bool, error) {
	st, err := c.d.ErrorCounters()
	return st.REC, st.TEC, st.BusOff, err
}

// Diagnose reports newly overflowed receive FIFOs and drains the transmit
// event FIFO. RAM ECC errors are logged and cleared by BusDiagnostics.
func (c *fdChip) Diagnose(l *slog.Logger) error {
	g, err := c.d.BusDiagnostics()
	if err != nil {
		return err
	}
	if g.RxOverflow != c.overflow {
		if fresh := g.RxOverflow &^ c.overflow; fresh != 0 {
			l.Warn("rx_fifo_overflow", "fifos", fmt.Sprintf("0x%08X", g.RxOverflow), "new", fmt.Sprintf("0x%08X", fresh))
		}
		c.overflow = g.RxOverflow
	}
	attrs := []any{
		"nominal_rx_errors", g.NominalRx,
		"nominal_tx_errors", g.NominalTx,
		"data_rx_errors", g.DataRx,
		"data_tx_errors", g.DataTx,
		"tx_pending", fmt.Sprintf("0x%08X", g.TxPending),
	}
	if c.timeBase {
		tb, err := c.d.TimeBase()
		if err != nil {
			return err
		}
		attrs = append(attrs, "time_base", tb)
	}
	l.Debug("bus_diagnostics", attrs...)
	if !c.tef {
		return nil
	}
	n := 0
	var last mcp251xfd.TEFObject
	for n < tefMaxDepth {
		ev, err := c.d.ReadTransmitEvent()
		if errors.Is(err, mcp251xfd.ErrNoFrame) {
			break
		}
		if err != nil {
			return err
		}
		n++
		last = ev
	}
	if n > 0 {
		l.Debug("tx_events", "count", n, "last_seq", last.Seq, "last_timestamp", last.Timestamp)
	}
	return nil
}

type classicChip struct{ d *mcp2515.Device }

func (c *classicChip) Transmit(fr can.Frame) error { return c.d.Transmit(fr) }
func (c *classicChip) Receive() (can.Frame, error) { return c.d.Receive() }
func (c *classicChip) ReceiveWait(ctx context.Context) (can.Frame, error) {
	return c.d.ReceiveWait(ctx)
}

func (c *classicChip) Counters() (uint8, uint8, bool, error) {
	st, err := c.d.ErrorCounters()
	return st.REC, st.TEC, st.BusOff, err
}

// loadLayout reads the layout file, or returns the built-in layout.
func loadLayout(path string) (*layout.Layout, error) {
	if path == "" {
		return layout.Default(), nil
	}
	return layout.Load(path)
}

// setupChip configures the controller behind conn and puts it on the bus.
// irq may be nil.
func setupChip(ctx context.Context, cfg *appConfig, conn spi.Conn, irq mcp251xfd.Interrupt, l *slog.Logger) (chip, error) {
	clock, err := bittiming.ParseClock(cfg.clockOrDefault())
	if err != nil {
		return nil, err
	}
	nominal, err := bittiming.ParseRate(cfg.nominal)
	if err != nil {
		return nil, err
	}
	if !cfg.fd() {
		return setupClassic(ctx, cfg, conn, irq, clock, nominal, l)
	}
	data, err := bittiming.ParseRate(cfg.data)
	if err != nil {
		return nil, err
	}
	lay, err := loadLayout(cfg.layoutFile)
	if err != nil {
		return nil, err
	}
	fifo := cfg.txFIFO
	if fifo == 0 {
		fifo = lay.TxFIFO()
	}
	if fifo == 0 {
		return nil, fmt.Errorf("layout has no transmit fifo")
	}
	opts := []mcp251xfd.Option{mcp251xfd.WithCRC(cfg.spiCRC), mcp251xfd.WithLogger(l.With("component", "mcp251xfd"))}
	if irq != nil {
		opts = append(opts, mcp251xfd.WithInterrupt(irq))
	}
	d := mcp251xfd.New(conn, opts...)
	dc := mcp251xfd.DefaultConfig()
	dc.Clock, dc.Nominal, dc.Data = clock, nominal, data
	dc.ECC, dc.ISOCRC = cfg.ecc, cfg.isoCRC
	lay.Tune(&dc)
	if err := d.Configure(dc); err != nil {
		return nil, fmt.Errorf("configure: %w", err)
	}
	if err := lay.Apply(d); err != nil {
		return nil, err
	}
	if err := d.SetMode(mcp251xfd.ModeNormal); err != nil {
		return nil, err
	}
	wctx, cancel := context.WithTimeout(ctx, modeTimeout)
	defer cancel()
	if err := d.WaitMode(wctx, mcp251xfd.ModeNormal, modePollEvery); err != nil {
		return nil, err
	}
	if dev, rev, err := d.DeviceID(); err == nil {
		l.Info("chip_ready", "chip", cfg.chip, "dev", dev, "rev", rev, "tx_fifo", fifo,
			"nominal", nominal.String(), "data", data.String(), "ram_bytes", lay.RAMBytes())
	}
	return &fdChip{d: d, fifo: fifo, tef: dc.TxEventFIFO, timeBase: dc.TimeBase}, nil
}

func setupClassic(ctx context.Context, cfg *appConfig, conn spi.Conn, irq mcp251xfd.Interrupt, clock bittiming.Clock, rate bittiming.Rate, l *slog.Logger) (chip, error) {
	v, _ := spi.VariantByName(cfg.chip)
	opts := []mcp2515.Option{mcp2515.WithVariant(v), mcp2515.WithLogger(l.With("component", "mcp2515"))}
	if irq != nil {
		opts = append(opts, mcp2515.WithInterrupt(irq))
	}
	d := mcp2515.New(conn, opts...)
	if err := d.Configure(mcp2515.Config{Clock: clock, Rate: rate}); err != nil {
		return nil, fmt.Errorf("configure: %w", err)
	}
	if err := d.SetMode(mcp2515.ModeNormal); err != nil {
		return nil, err
	}
	wctx, cancel := context.WithTimeout(ctx, modeTimeout)
	defer cancel()
	if err := d.WaitMode(wctx, mcp2515.ModeNormal, modePollEvery); err != nil {
		return nil, err
	}
	l.Info("chip_ready", "chip", v.Name, "clock", clock.String(), "rate", rate.String())
	return &classicChip{d: d}, nil
}
