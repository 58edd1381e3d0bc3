// Package socketcan mirrors the controller's traffic onto a Linux CAN
// interface (typically vcan) through a raw socket.
package socketcan

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kstaniek/go-mcp25xx/internal/can"
)

// struct can_frame / struct canfd_frame sizes.
const (
	canMTU   = 16
	canfdMTU = 72

	fdBRS = 0x01
	fdESI = 0x02
)

var (
	ErrUnsupported = errors.New("socketcan: only supported on linux")
	ErrFDDisabled  = errors.New("socketcan: fd frames disabled on this socket")
	// ErrReadTimeout is returned by ReadFrame when nothing arrived within
	// the receive timeout; callers use it to check for shutdown.
	ErrReadTimeout = errors.New("socketcan: read timeout")
)

// marshal lays fr out as can_frame, or canfd_frame for FD payloads. The
// kernel uses host byte order for can_id.
func marshal(buf []byte, fr can.Frame) []byte {
	n := canMTU
	if fr.IsFD() {
		n = canfdMTU
	}
	b := buf[:n]
	clear(b)
	binary.NativeEndian.PutUint32(b[0:4], fr.CANID)
	b[4] = byte(fr.Len())
	if fr.IsFD() {
		b[5] = fdBRS
		if fr.ESI {
			b[5] |= fdESI
		}
	}
	copy(b[8:], fr.Payload())
	return b
}

// unmarshal parses a can_frame (16 bytes) or canfd_frame (72 bytes).
func unmarshal(b []byte, fr *can.Frame) error {
	*fr = can.Frame{}
	switch len(b) {
	case canMTU:
		fr.DLC = can.ClassicDLC(b[4])
	case canfdMTU:
		dlc, err := can.BestFit(int(b[4]))
		if err != nil || dlc.Bytes() != int(b[4]) {
			return fmt.Errorf("socketcan: invalid fd length %d", b[4])
		}
		fr.DLC = dlc
		fr.ESI = b[5]&fdESI != 0
	default:
		return fmt.Errorf("socketcan: short read: %d", len(b))
	}
	fr.CANID = binary.NativeEndian.Uint32(b[0:4])
	copy(fr.Data[:], b[8:8+fr.Len()])
	return nil
}
