// Package cnl implements the cannelloni TCP framing used by the gateway,
// including its CAN FD extension.
package cnl

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/kstaniek/go-mcp25xx/internal/can"
	"github.com/kstaniek/go-mcp25xx/internal/metrics"
)

// Length byte and FD flags byte.
const (
	lenFD    = 0x80
	lenMask  = 0x7F
	flagBRS  = 0x01
	flagESI  = 0x02
	maxFrame = 4 + 1 + 1 + can.MaxPayload
)

// Codec encodes and decodes cannelloni frames. Stateless; safe for
// concurrent use.
type Codec struct{}

var (
	// ErrInvalidLength is returned for a length no frame type can carry.
	ErrInvalidLength = errors.New("cannelloni: invalid length")
	// ErrTruncatedFrame is returned when the reader ends mid-frame.
	ErrTruncatedFrame = errors.New("cannelloni: truncated frame")
)

// Encode packs frames into one buffer.
func (c *Codec) Encode(frames []can.Frame) []byte {
	if len(frames) == 0 {
		return nil
	}
	var buf bytes.Buffer
	buf.Grow(len(frames) * (4 + 1 + 8))
	_, _ = c.EncodeTo(&buf, frames)
	return buf.Bytes()
}

// EncodeTo writes frames to w and returns the bytes written. A frame is a
// big-endian can_id, a length byte, for FD frames a flags byte, then the
// payload. FD frames carry 0x80 in the length byte.
func (c *Codec) EncodeTo(w io.Writer, frames []can.Frame) (int, error) {
	var total int
	var b [maxFrame]byte
	for _, f := range frames {
		binary.BigEndian.PutUint32(b[:4], f.CANID)
		n := f.Len()
		b[4] = byte(n)
		hdr := 5
		if f.IsFD() {
			b[4] |= lenFD
			b[5] = flagBRS
			if f.ESI {
				b[5] |= flagESI
			}
			hdr = 6
		}
		copy(b[hdr:], f.Payload())
		m, err := w.Write(b[:hdr+n])
		total += m
		if err != nil {
			return total, fmt.Errorf("cannelloni encode: %w", err)
		}
	}
	return total, nil
}

// Decode reads exactly one frame from r. It returns io.EOF at a clean frame
// boundary.
func (c *Codec) Decode(r io.Reader) (can.Frame, error) {
	var f can.Frame
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:4]); err != nil {
		return f, err
	}
	f.CANID = binary.BigEndian.Uint32(hdr[:4])
	if _, err := io.ReadFull(r, hdr[4:5]); err != nil {
		return f, truncated(err)
	}
	ln := int(hdr[4] & lenMask)
	fd := hdr[4]&lenFD != 0
	if fd {
		var fl [1]byte
		if _, err := io.ReadFull(r, fl[:]); err != nil {
			return f, truncated(err)
		}
		f.ESI = fl[0]&flagESI != 0
	}
	dlc, err := can.BestFit(ln)
	if err != nil || dlc.Bytes() != ln || (!fd && ln > 8) {
		metrics.IncMalformed()
		return f, fmt.Errorf("cannelloni decode: %w (%d)", ErrInvalidLength, ln)
	}
	f.DLC = dlc
	if ln > 0 {
		if _, err := io.ReadFull(r, f.Data[:ln]); err != nil {
			return f, truncated(err)
		}
	}
	return f, nil
}

func truncated(err error) error {
	metrics.IncMalformed()
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return fmt.Errorf("cannelloni decode: %w", ErrTruncatedFrame)
	}
	return fmt.Errorf("cannelloni decode: %w", err)
}

// DecodeN decodes up to max frames (or until an error when max <= 0),
// calling onFrame for each. It returns the count and the terminal error,
// which may be io.EOF.
func (c *Codec) DecodeN(r io.Reader, max int, onFrame func(can.Frame)) (int, error) {
	var n int
	for max <= 0 || n < max {
		fr, err := c.Decode(r)
		if err != nil {
			return n, err
		}
		onFrame(fr)
		n++
	}
	return n, nil
}
