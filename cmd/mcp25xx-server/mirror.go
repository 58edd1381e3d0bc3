package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-mcp25xx/internal/can"
	"github.com/kstaniek/go-mcp25xx/internal/metrics"
	"github.com/kstaniek/go-mcp25xx/internal/socketcan"
	"github.com/kstaniek/go-mcp25xx/internal/transport"
)

// openSocketCANDevice is a hook for tests.
var openSocketCANDevice = func(iface string, fd bool) (socketcan.Dev, error) { return socketcan.Open(iface, fd) }

// vcanMirror bridges the bus to a local SocketCAN interface. Frames
// received by the chip are written to the interface; frames written to the
// interface by local applications are sent to the chip.
type vcanMirror struct {
	dev socketcan.Dev
	tw  *socketcan.TXWriter
	fd  bool
	l   *slog.Logger
}

func openMirror(ctx context.Context, cfg *appConfig, l *slog.Logger) (*vcanMirror, error) {
	dev, err := openSocketCANDevice(cfg.vcanIf, cfg.vcanFD)
	if err != nil {
		return nil, fmt.Errorf("socketcan open %s: %w", cfg.vcanIf, err)
	}
	l.Info("socketcan_open", "if", cfg.vcanIf, "fd", cfg.vcanFD)
	return &vcanMirror{
		dev: dev,
		tw:  socketcan.NewTXWriter(ctx, dev, vcanQueueSize),
		fd:  cfg.vcanFD,
		l:   l,
	}, nil
}

// SendFrame queues fr for the interface. FD frames are skipped when the
// socket carries classic frames only.
func (m *vcanMirror) SendFrame(fr can.Frame) error {
	if fr.IsFD() && !m.fd {
		return nil
	}
	return m.tw.SendFrame(fr)
}

// run reads frames from the interface and hands them to send until ctx is
// done.
func (m *vcanMirror) run(ctx context.Context, send func(can.Frame) error, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer m.l.Info("socketcan_rx_end")
		backoff := rxBackoffMin
		for {
			if ctx.Err() != nil {
				return
			}
			var fr can.Frame
			err := m.dev.ReadFrame(&fr)
			if errors.Is(err, socketcan.ErrReadTimeout) {
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				metrics.IncError(metrics.ErrSocketCANRead)
				m.l.Warn("socketcan_read_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff = min(backoff*2, rxBackoffMax)
				continue
			}
			metrics.IncSocketCANRx()
			backoff = rxBackoffMin
			if err := send(fr); err != nil && !errors.Is(err, transport.ErrTxOverflow) {
				m.l.Debug("socketcan_forward_error", "error", err)
			}
		}
	}()
}

func (m *vcanMirror) Close() {
	m.tw.Close()
	_ = m.dev.Close()
}
