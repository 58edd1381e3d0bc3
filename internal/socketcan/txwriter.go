package socketcan

import (
	"context"

	"github.com/kstaniek/go-mcp25xx/internal/can"
	"github.com/kstaniek/go-mcp25xx/internal/metrics"
	"github.com/kstaniek/go-mcp25xx/internal/transport"
)

// Dev is implemented by *Device and by fakes in tests.
type Dev interface {
	ReadFrame(*can.Frame) error
	WriteFrame(can.Frame) error
	Close() error
}

// TXWriter funnels mirror writes through one goroutine. A full queue
// returns transport.ErrTxOverflow.
type TXWriter struct{ base *transport.AsyncTx }

func NewTXWriter(parent context.Context, dev Dev, buf int) *TXWriter {
	hooks := transport.Hooks{
		OnError: func(error) { metrics.IncError(metrics.ErrSocketCANWrite) },
		OnAfter: metrics.IncSocketCANTx,
		OnDrop: func() error {
			metrics.IncError(metrics.ErrSocketCANOver)
			return transport.ErrTxOverflow
		},
	}
	return &TXWriter{base: transport.NewAsyncTx(parent, buf, dev.WriteFrame, hooks)}
}

func (w *TXWriter) SendFrame(fr can.Frame) error { return w.base.SendFrame(fr) }

func (w *TXWriter) Close() { w.base.Close() }
