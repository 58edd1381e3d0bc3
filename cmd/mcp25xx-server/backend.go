package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-mcp25xx/internal/buspirate"
	"github.com/kstaniek/go-mcp25xx/internal/can"
	"github.com/kstaniek/go-mcp25xx/internal/gpio"
	"github.com/kstaniek/go-mcp25xx/internal/hub"
	"github.com/kstaniek/go-mcp25xx/internal/mcp251xfd"
	"github.com/kstaniek/go-mcp25xx/internal/metrics"
	"github.com/kstaniek/go-mcp25xx/internal/spi"
	"github.com/kstaniek/go-mcp25xx/internal/spidev"
	"github.com/kstaniek/go-mcp25xx/internal/transport"
)

// conn is an SPI transport that must be released on shutdown.
type conn interface {
	spi.Conn
	io.Closer
}

// irqLine is the interrupt input; *gpio.Line satisfies it.
type irqLine interface {
	WaitLow(ctx context.Context) error
	Close() error
}

var errIRQ = errors.New("irq wait failed")

// irqWait tags interrupt line failures so the RX loop can count them.
type irqWait struct{ line irqLine }

func (w irqWait) WaitLow(ctx context.Context) error {
	err := w.line.WaitLow(ctx)
	if err == nil || ctx.Err() != nil {
		return err
	}
	return fmt.Errorf("%w: %w", errIRQ, err)
}

// Hooks for tests.
var (
	sleepFn    = time.Sleep
	openSPIDev = func(path string, o spidev.Options) (conn, error) { return spidev.Open(path, o) }
	openPirate = func(name string, o buspirate.Options) (conn, error) { return buspirate.Open(name, o) }
	openIRQ    = func(chip string, offset int) (irqLine, error) { return gpio.Open(chip, offset) }
)

func openConn(cfg *appConfig, l *slog.Logger) (conn, error) {
	switch cfg.transport {
	case "spidev":
		o := spidev.DefaultOptions()
		o.SpeedHz = uint32(cfg.spiSpeed)
		o.Mode = uint8(cfg.spiMode)
		c, err := openSPIDev(cfg.spiDev, o)
		if err != nil {
			return nil, fmt.Errorf("open spidev: %w", err)
		}
		l.Info("spi_open", "transport", cfg.transport, "device", cfg.spiDev, "speed_hz", cfg.spiSpeed, "mode", cfg.spiMode)
		return c, nil
	case "buspirate":
		o := buspirate.DefaultOptions()
		o.Baud = cfg.baud
		o.Speed, _ = buspirate.ParseSpeed(cfg.bpSpeed)
		c, err := openPirate(cfg.serialDev, o)
		if err != nil {
			return nil, fmt.Errorf("open bus pirate: %w", err)
		}
		l.Info("spi_open", "transport", cfg.transport, "device", cfg.serialDev, "baud", cfg.baud, "speed", cfg.bpSpeed)
		return c, nil
	default:
		return nil, fmt.Errorf("unknown transport %q (use spidev|buspirate)", cfg.transport)
	}
}

// backend is the configured chip with its RX loop and TX queue.
type backend struct {
	chip  chip
	tx    *transport.AsyncTx
	close func()
}

// initBackend opens the transport and interrupt line, configures the chip
// and starts the RX loop, which broadcasts to h and mirror (may be nil).
// It returns an error instead of exiting so the caller can shut down
// cleanly.
func initBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, mirror transport.FrameSink, l *slog.Logger, wg *sync.WaitGroup) (*backend, error) {
	c, err := openConn(cfg, l)
	if err != nil {
		return nil, err
	}
	var (
		irq  mcp251xfd.Interrupt
		line irqLine
	)
	if cfg.irqGPIO >= 0 {
		line, err = openIRQ(cfg.gpioChip, cfg.irqGPIO)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("open irq %s:%d: %w", cfg.gpioChip, cfg.irqGPIO, err)
		}
		irq = irqWait{line}
		l.Info("irq_open", "chip", cfg.gpioChip, "offset", cfg.irqGPIO)
	}
	release := func() {
		if line != nil {
			_ = line.Close()
		}
		_ = c.Close()
	}
	ch, err := setupChip(ctx, cfg, c, irq, l)
	if err != nil {
		release()
		return nil, err
	}
	return startBackend(ctx, cfg, ch, irq != nil, h, mirror, l, wg, release), nil
}

// startBackend starts the TX queue and the RX loop for a configured chip.
// release runs on close after the TX worker has stopped.
func startBackend(ctx context.Context, cfg *appConfig, ch chip, useIRQ bool, h *hub.Hub, mirror transport.FrameSink, l *slog.Logger, wg *sync.WaitGroup, release func()) *backend {
	hooks := transport.Hooks{
		OnError: func(err error) {
			if !errors.Is(err, can.ErrWouldBlock) && !errors.Is(err, context.Canceled) {
				metrics.IncError(metrics.ErrChipWrite)
				l.Warn("chip_tx_error", "error", err)
			}
		},
		OnDrop: func() error {
			metrics.IncError(metrics.ErrChipOverflow)
			return transport.ErrTxOverflow
		},
	}
	retry := transport.DefaultRetry
	retry.Limit = cfg.txRetryLimit
	tx := transport.NewAsyncTx(ctx, txQueueSize, ch.Transmit, hooks, transport.WithRetry(retry))

	wg.Add(1)
	go func() {
		defer wg.Done()
		rxLoop(ctx, ch, useIRQ, cfg.pollEvery, h, mirror, l)
	}()
	return &backend{
		chip: ch,
		tx:   tx,
		close: func() {
			tx.Close()
			release()
		},
	}
}

// SendFrame queues fr for the chip.
func (b *backend) SendFrame(fr can.Frame) error { return b.tx.SendFrame(fr) }

// rxLoop moves received frames to the hub and the mirror until ctx is
// done. With useIRQ it sleeps on the interrupt line, otherwise it polls
// every pollEvery while the chip is empty.
func rxLoop(ctx context.Context, ch chip, useIRQ bool, pollEvery time.Duration, h *hub.Hub, mirror transport.FrameSink, l *slog.Logger) {
	defer l.Info("chip_rx_end")
	backoff := rxBackoffMin
	for {
		if ctx.Err() != nil {
			return
		}
		var (
			fr  can.Frame
			err error
		)
		if useIRQ {
			fr, err = ch.ReceiveWait(ctx)
		} else {
			fr, err = ch.Receive()
		}
		switch {
		case err == nil:
			h.Broadcast(fr)
			if mirror != nil {
				_ = mirror.SendFrame(fr)
			}
			backoff = rxBackoffMin
		case errors.Is(err, can.ErrWouldBlock):
			sleepFn(pollEvery)
		case errors.Is(err, mcp251xfd.ErrBusError):
			// Counted and logged by the driver; the flag is already cleared.
			backoff = rxBackoffMin
		default:
			if ctx.Err() != nil {
				return
			}
			// SPI failures are counted by the protocol layer.
			if errors.Is(err, errIRQ) {
				metrics.IncError(metrics.ErrIRQ)
			}
			l.Warn("chip_rx_error", "error", err, "backoff", backoff)
			sleepFn(backoff)
			backoff = min(backoff*2, rxBackoffMax)
		}
	}
}
