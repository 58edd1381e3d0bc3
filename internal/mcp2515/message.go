package mcp2515

import (
	"github.com/kstaniek/go-mcp25xx/internal/can"
)

// bufLen is SIDH, SIDL, EID8, EID0, DLC and eight data bytes.
const bufLen = 13

// encodeID fills SIDH..EID0. Extended identifiers put their top 11 bits
// in SIDH/SIDL and the remaining 18 in SIDL[1:0], EID8 and EID0.
func encodeID(dst []byte, id uint32, extended bool) {
	if extended {
		dst[0] = byte(id >> 21)
		dst[1] = byte((id>>13)&0xE0) | sidlEXIDE | byte((id>>16)&0x03)
		dst[2] = byte(id >> 8)
		dst[3] = byte(id)
		return
	}
	dst[0] = byte(id >> 3)
	dst[1] = byte(id << 5)
	dst[2] = 0
	dst[3] = 0
}

func decodeID(b []byte) (id uint32, extended bool) {
	if b[1]&sidlEXIDE != 0 {
		id = uint32(b[0])<<21 | uint32(b[1]&0xE0)<<13 | uint32(b[1]&0x03)<<16 | uint32(b[2])<<8 | uint32(b[3])
		return id, true
	}
	return uint32(b[0])<<3 | uint32(b[1])>>5, false
}

// encodeFrame returns the transmit buffer image from SIDH through the last
// data byte.
func encodeFrame(fr can.Frame) ([]byte, error) {
	if fr.IsFD() {
		return nil, can.ErrNotClassic
	}
	n := fr.Len()
	b := make([]byte, 5+n)
	encodeID(b, fr.ID(), fr.Extended())
	b[4] = byte(fr.DLC)
	if fr.Remote() {
		b[4] |= dlcRTR
	}
	copy(b[5:], fr.Payload())
	return b, nil
}

// decodeFrame parses a receive buffer image. The DLC is clamped to 8.
func decodeFrame(b []byte) can.Frame {
	id, ext := decodeID(b)
	var fr can.Frame
	fr.CANID = id
	if ext {
		fr.CANID |= can.CAN_EFF_FLAG
		if b[4]&dlcRTR != 0 {
			fr.CANID |= can.CAN_RTR_FLAG
		}
	} else if b[1]&sidlSRR != 0 {
		fr.CANID |= can.CAN_RTR_FLAG
	}
	fr.DLC = can.ClassicDLC(b[4] & 0x0F)
	copy(fr.Data[:fr.DLC.Bytes()], b[5:])
	return fr
}
