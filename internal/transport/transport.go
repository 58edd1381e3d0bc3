// Package transport holds the frame plumbing shared by the TCP server and
// the controller and SocketCAN sinks.
package transport

import (
	"errors"
	"io"

	"github.com/kstaniek/go-mcp25xx/internal/can"
	"github.com/kstaniek/go-mcp25xx/internal/cnl"
)

// ErrTxOverflow is returned by sinks whose transmit queue is full.
var ErrTxOverflow = errors.New("tx queue overflow")

// FrameDecoder decodes a single CAN frame from a stream.
type FrameDecoder interface {
	Decode(r io.Reader) (can.Frame, error)
}

// MultiFrameDecoder drains several frames from a stream.
type MultiFrameDecoder interface {
	DecodeN(r io.Reader, max int, onFrame func(can.Frame)) (int, error)
}

// FrameBatchEncoder encodes batches to bytes or straight to a writer.
type FrameBatchEncoder interface {
	Encode([]can.Frame) []byte
	EncodeTo(w io.Writer, frames []can.Frame) (int, error)
}

// FrameSink accepts frames for transmission.
type FrameSink interface {
	SendFrame(can.Frame) error
}

var (
	_ FrameDecoder      = (*cnl.Codec)(nil)
	_ MultiFrameDecoder = (*cnl.Codec)(nil)
	_ FrameBatchEncoder = (*cnl.Codec)(nil)
	_ FrameSink         = (*AsyncTx)(nil)
)
