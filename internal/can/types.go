package can

import (
	"errors"
	"fmt"
)

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// SeqMask bounds the transmit sequence number carried in the message object.
const SeqMask = 0x7FFFFF

var (
	// ErrWouldBlock reports a controller condition that clears on its own
	// (queue full, nothing received). Callers decide whether to retry.
	ErrWouldBlock = errors.New("can: would block")
	// ErrInvalidID is returned for identifiers outside the 11/29-bit range.
	ErrInvalidID = errors.New("can: invalid identifier")
	// ErrNotClassic is returned when an FD frame reaches a classic-only path.
	ErrNotClassic = errors.New("can: frame exceeds classic payload")
)

// Frame is a CAN / CAN FD frame holder used across the driver and gateway.
// CANID carries EFF/RTR flags in its upper bits like SocketCAN. DLC is the
// length code; only the first DLC.Bytes() bytes of Data are valid.
//
// Seq is used only on transmit. ESI, FilterHit and Timestamp are filled on
// receive.
type Frame struct {
	CANID     uint32
	DLC       DLC
	Data      [64]byte
	Seq       uint32
	ESI       bool
	FilterHit uint8
	Timestamp uint32
}

// New builds a frame with the smallest DLC that holds data. Bytes between
// len(data) and the DLC size stay zero.
func New(canID uint32, data []byte) (Frame, error) {
	dlc, err := BestFit(len(data))
	if err != nil {
		return Frame{}, err
	}
	f := Frame{CANID: canID, DLC: dlc}
	copy(f.Data[:], data)
	return f, nil
}

// NewStandard builds a frame with an 11-bit identifier.
func NewStandard(id uint16, data []byte) (Frame, error) {
	if id > CAN_SFF_MASK {
		return Frame{}, fmt.Errorf("%w: 0x%X", ErrInvalidID, id)
	}
	return New(uint32(id), data)
}

// NewExtended builds a frame with a 29-bit identifier.
func NewExtended(id uint32, data []byte) (Frame, error) {
	if id > CAN_EFF_MASK {
		return Frame{}, fmt.Errorf("%w: 0x%X", ErrInvalidID, id)
	}
	return New(id|CAN_EFF_FLAG, data)
}

// ID returns the identifier without flag bits.
func (f Frame) ID() uint32 {
	if f.Extended() {
		return f.CANID & CAN_EFF_MASK
	}
	return f.CANID & CAN_SFF_MASK
}

func (f Frame) Extended() bool { return f.CANID&CAN_EFF_FLAG != 0 }
func (f Frame) Remote() bool   { return f.CANID&CAN_RTR_FLAG != 0 }

// IsFD reports whether the payload needs a CAN FD frame.
func (f Frame) IsFD() bool { return f.DLC.Bytes() > 8 }

// Len is the payload length in bytes.
func (f Frame) Len() int { return f.DLC.Bytes() }

// Payload returns the valid part of Data.
func (f Frame) Payload() []byte { return f.Data[:f.DLC.Bytes()] }

// WithSeq returns a copy carrying the (masked) transmit sequence number.
func (f Frame) WithSeq(seq uint32) Frame {
	f.Seq = seq & SeqMask
	return f
}

func (f Frame) String() string {
	if f.Extended() {
		return fmt.Sprintf("%08X#%X", f.ID(), f.Payload())
	}
	return fmt.Sprintf("%03X#%X", f.ID(), f.Payload())
}
