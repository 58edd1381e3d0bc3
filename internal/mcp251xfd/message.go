package mcp251xfd

import (
	"encoding/binary"

	"github.com/kstaniek/go-mcp25xx/internal/can"
	"github.com/kstaniek/go-mcp25xx/internal/regs"
)

// Message object header bit positions (word 1).
const (
	hdrDLCShift = 0
	hdrIDE      = 4
	hdrRTR      = 5
	hdrBRS      = 6
	hdrFDF      = 7
	hdrESI      = 8
	hdrSEQShift = 9
	hdrFILShift = 11
)

// splitID splits a 29-bit identifier into the 11-bit SID field (low bits)
// and the 18-bit EID continuation (high bits).
func splitID(id uint32) (sid, eid uint32) {
	return id & 0x7FF, (id >> 11) & 0x3FFFF
}

func joinID(sid, eid uint32) uint32 { return eid<<11 | sid&0x7FF }

func idWord(sid, eid uint32) uint32 {
	return regs.SetField(regs.SetField(0, 0, 11, sid), 11, 18, eid)
}

// TxHeader is the two-word header of a transmit message object.
type TxHeader struct {
	T0 uint32
	T1 uint32
}

func (h TxHeader) SID() uint32  { return regs.Field(h.T0, 0, 11) }
func (h TxHeader) EID() uint32  { return regs.Field(h.T0, 11, 18) }
func (h TxHeader) DLC() can.DLC { return can.DLC(regs.Field(h.T1, hdrDLCShift, 4)) }
func (h TxHeader) IDE() bool    { return regs.Bit(h.T1, hdrIDE) }
func (h TxHeader) RTR() bool    { return regs.Bit(h.T1, hdrRTR) }
func (h TxHeader) BRS() bool    { return regs.Bit(h.T1, hdrBRS) }
func (h TxHeader) FDF() bool    { return regs.Bit(h.T1, hdrFDF) }
func (h TxHeader) ESI() bool    { return regs.Bit(h.T1, hdrESI) }
func (h TxHeader) Seq() uint32  { return regs.Field(h.T1, hdrSEQShift, 23) }

// AppendTo appends the little-endian wire form.
func (h TxHeader) AppendTo(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, h.T0)
	return binary.LittleEndian.AppendUint32(b, h.T1)
}

// RxHeader is the header of a receive message object; Timestamp is valid
// only when the FIFO stores timestamps.
type RxHeader struct {
	R0        uint32
	R1        uint32
	Timestamp uint32
}

func (h RxHeader) SID() uint32      { return regs.Field(h.R0, 0, 11) }
func (h RxHeader) EID() uint32      { return regs.Field(h.R0, 11, 18) }
func (h RxHeader) DLC() can.DLC     { return can.DLC(regs.Field(h.R1, hdrDLCShift, 4)) }
func (h RxHeader) IDE() bool        { return regs.Bit(h.R1, hdrIDE) }
func (h RxHeader) RTR() bool        { return regs.Bit(h.R1, hdrRTR) }
func (h RxHeader) BRS() bool        { return regs.Bit(h.R1, hdrBRS) }
func (h RxHeader) FDF() bool        { return regs.Bit(h.R1, hdrFDF) }
func (h RxHeader) ESI() bool        { return regs.Bit(h.R1, hdrESI) }
func (h RxHeader) FilterHit() uint8 { return uint8(regs.Field(h.R1, hdrFILShift, 5)) }

// ParseRxHeader decodes 8 header bytes, or 12 when a timestamp follows.
func ParseRxHeader(b []byte) RxHeader {
	h := RxHeader{R0: binary.LittleEndian.Uint32(b[0:4]), R1: binary.LittleEndian.Uint32(b[4:8])}
	if len(b) >= 12 {
		h.Timestamp = binary.LittleEndian.Uint32(b[8:12])
	}
	return h
}

// EncodeTx builds the transmit header for fr and returns it with the
// payload. The identifier-extension flag follows the frame's EFF flag;
// FDF and BRS are set together exactly when the payload exceeds 8 bytes.
// RTR is only honoured for classic-length frames.
func EncodeTx(fr can.Frame) (TxHeader, []byte) {
	var sid, eid uint32
	if fr.Extended() {
		sid, eid = splitID(fr.ID())
	} else {
		sid = fr.ID()
	}
	fd := fr.IsFD()
	t1 := regs.SetField(0, hdrDLCShift, 4, uint32(fr.DLC&0xF))
	t1 = regs.SetBit(t1, hdrIDE, fr.Extended())
	t1 = regs.SetBit(t1, hdrRTR, fr.Remote() && !fd)
	t1 = regs.SetBit(t1, hdrBRS, fd)
	t1 = regs.SetBit(t1, hdrFDF, fd)
	t1 = regs.SetBit(t1, hdrESI, fr.ESI)
	t1 = regs.SetField(t1, hdrSEQShift, 23, fr.Seq)
	return TxHeader{T0: idWord(sid, eid), T1: t1}, fr.Payload()
}

// DecodeRx builds a frame from a receive header and the object payload.
// The frame is extended when IDE is set or the EID field is non-zero;
// otherwise the SID alone is the standard identifier.
func DecodeRx(h RxHeader, payload []byte) can.Frame {
	var fr can.Frame
	if h.IDE() || h.EID() != 0 {
		fr.CANID = joinID(h.SID(), h.EID()) | can.CAN_EFF_FLAG
	} else {
		fr.CANID = h.SID()
	}
	if h.RTR() && !h.FDF() {
		fr.CANID |= can.CAN_RTR_FLAG
	}
	fr.DLC = h.DLC()
	if !h.FDF() && fr.DLC.Bytes() > 8 {
		fr.DLC = 8
	}
	copy(fr.Data[:fr.DLC.Bytes()], payload)
	fr.ESI = h.ESI()
	fr.FilterHit = h.FilterHit()
	fr.Timestamp = h.Timestamp
	return fr
}

// paddedLen rounds n up to the 4-byte RAM word size.
func paddedLen(n int) int { return (n + 3) &^ 3 }

// TEFObject is a transmit event: the header of a sent frame plus its
// sequence number and optional timestamp.
type TEFObject struct {
	CANID     uint32
	DLC       can.DLC
	Seq       uint32
	Timestamp uint32
}

func decodeTEF(b []byte) TEFObject {
	h := TxHeader{T0: binary.LittleEndian.Uint32(b[0:4]), T1: binary.LittleEndian.Uint32(b[4:8])}
	ev := TEFObject{DLC: h.DLC(), Seq: h.Seq()}
	if h.IDE() || h.EID() != 0 {
		ev.CANID = joinID(h.SID(), h.EID()) | can.CAN_EFF_FLAG
	} else {
		ev.CANID = h.SID()
	}
	if len(b) >= 12 {
		ev.Timestamp = binary.LittleEndian.Uint32(b[8:12])
	}
	return ev
}
