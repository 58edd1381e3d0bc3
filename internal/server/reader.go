package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/kstaniek/go-mcp25xx/internal/can"
	"github.com/kstaniek/go-mcp25xx/internal/metrics"
	"github.com/kstaniek/go-mcp25xx/internal/transport"
)

// decodeBurst is the most frames taken from one cannelloni packet per read.
const decodeBurst = 16

// readLoop decodes client frames and forwards them to the bus. An idle
// read deadline only re-arms the loop; any other read error ends the
// session.
func (s *Server) readLoop(ctx context.Context, ss *session) {
	defer ss.close()
	multi, _ := s.codec.(transport.MultiFrameDecoder)
	onFrame := func(fr can.Frame) { s.forward(ss, fr) }
	for ctx.Err() == nil {
		_ = ss.conn.SetReadDeadline(time.Now().Add(s.cfg.readDeadline))
		var err error
		if multi != nil {
			_, err = multi.DecodeN(ss.conn, decodeBurst, onFrame)
		} else {
			var fr can.Frame
			if fr, err = s.codec.Decode(ss.conn); err == nil {
				onFrame(fr)
			}
		}
		if err == nil {
			continue
		}
		var ne net.Error
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), ctx.Err() != nil:
			return
		case errors.As(err, &ne) && ne.Timeout():
			continue
		default:
			ss.log.Debug("client_read_error", "error", s.fail(ErrConnRead, err))
			return
		}
	}
}

// forward hands fr to the bus. A full transmit queue drops the frame
// without failing the session.
func (s *Server) forward(ss *session, fr can.Frame) {
	if s.cfg.filter != nil && !s.cfg.filter(&fr) {
		return
	}
	metrics.IncTCPRx()
	if s.send == nil {
		return
	}
	err := s.send(fr)
	if err == nil {
		return
	}
	id := fmt.Sprintf("0x%X", fr.ID())
	if errors.Is(err, transport.ErrTxOverflow) {
		s.stats.backendOverflow.Add(1)
		ss.log.Debug("backend_overflow_drop", "can_id", id, "len", fr.Len())
		return
	}
	s.stats.backendErrors.Add(1)
	ss.log.Error("backend_tx_error", "error", s.fail(ErrBackendTx, err), "can_id", id)
}
