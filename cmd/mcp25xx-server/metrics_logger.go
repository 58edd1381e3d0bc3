package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-mcp25xx/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"spi_transfers", snap.SPITransfers,
					"chip_rx", snap.ChipRx,
					"chip_tx", snap.ChipTx,
					"fifo_full", snap.FIFOFull,
					"bus_errors", snap.BusErrors,
					"rec", snap.REC,
					"tec", snap.TEC,
					"tx_retries", snap.TxRetries,
					"tx_dropped", snap.TxDropped,
					"socketcan_rx", snap.SocketCANRx,
					"socketcan_tx", snap.SocketCANTx,
					"tcp_rx", snap.TCPRx,
					"tcp_tx", snap.TCPTx,
					"hub_drops", snap.HubDrops,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// startErrorSampler reads the chip's error counters every interval, which
// keeps the REC/TEC gauges current, and logs bus-off transitions. Chips
// with extended diagnostics are sampled in the same tick.
func startErrorSampler(ctx context.Context, interval time.Duration, ch chip, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		busOff := false
		for {
			select {
			case <-t.C:
				rec, tec, off, err := ch.Counters()
				if err != nil {
					l.Debug("error_counters_failed", "error", err)
					continue
				}
				if off != busOff {
					busOff = off
					if off {
						l.Warn("bus_off", "rec", rec, "tec", tec)
					} else {
						l.Info("bus_off_recovered", "rec", rec, "tec", tec)
					}
				}
				if dg, ok := ch.(diagnoser); ok {
					if err := dg.Diagnose(l); err != nil {
						l.Debug("diagnostics_failed", "error", err)
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
