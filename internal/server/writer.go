package server

import (
	"context"
	"fmt"
	"time"

	"github.com/kstaniek/go-mcp25xx/internal/can"
	"github.com/kstaniek/go-mcp25xx/internal/metrics"
	"github.com/kstaniek/go-mcp25xx/internal/transport"
)

// writeLoop streams hub frames to the client. Frames are packed into one
// cannelloni packet until batchSize is reached or flushInterval passes.
func (s *Server) writeLoop(ctx context.Context, ss *session) {
	defer ss.close()
	enc, ok := s.codec.(transport.FrameBatchEncoder)
	if !ok {
		ss.log.Error("client_write_error", "error", s.fail(ErrConnWrite, fmt.Errorf("codec %T cannot encode", s.codec)))
		return
	}
	batch := make([]can.Frame, 0, s.cfg.batchSize)
	flush := func() bool {
		if len(batch) == 0 {
			return true
		}
		_, err := enc.EncodeTo(ss.conn, batch)
		n := len(batch)
		batch = batch[:0]
		if err != nil {
			ss.log.Debug("client_write_error", "error", s.fail(ErrConnWrite, err))
			return false
		}
		metrics.AddTCPTx(n)
		return true
	}

	tick := time.NewTicker(s.cfg.flushInterval)
	defer tick.Stop()
	for {
		select {
		case fr := <-ss.client.Out:
			batch = append(batch, fr)
			if len(batch) < s.cfg.batchSize {
				continue
			}
		case <-tick.C:
		case <-ss.client.Closed:
			flush()
			return
		case <-ctx.Done():
			flush()
			return
		}
		if !flush() {
			return
		}
	}
}
