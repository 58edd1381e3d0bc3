package mcp2515

import "github.com/kstaniek/go-mcp25xx/internal/regs"

const (
	addrRXF0     = 0x00
	addrCANSTAT  = 0x0E
	addrCANCTRL  = 0x0F
	addrTEC      = 0x1C
	addrREC      = 0x1D
	addrRXM0     = 0x20
	addrCNF3     = 0x28
	addrCANINTE  = 0x2B
	addrCANINTF  = 0x2C
	addrEFLG     = 0x2D
	addrTXB0CTRL = 0x30
	addrRXB0CTRL = 0x60
	addrRXB0SIDH = 0x61

	bufStride = 0x10
)

var (
	regCANSTAT  = regs.RO[uint8]{Addr: addrCANSTAT}
	regCANCTRL  = regs.Mod[uint8]{Addr: addrCANCTRL}
	regTEC      = regs.RO[uint8]{Addr: addrTEC}
	regREC      = regs.RO[uint8]{Addr: addrREC}
	regCANINTE  = regs.Mod[uint8]{Addr: addrCANINTE}
	regCANINTF  = regs.Mod[uint8]{Addr: addrCANINTF}
	regEFLG     = regs.Mod[uint8]{Addr: addrEFLG}
	regRXB0CTRL = regs.Mod[uint8]{Addr: addrRXB0CTRL}
)

func txCtrl(n int) (regs.Mod[uint8], error) {
	a, err := regs.Index(addrTXB0CTRL, bufStride, n, 0, 2)
	return regs.Mod[uint8]{Addr: a}, err
}

func rxSIDH(n int) (uint16, error) { return regs.Index(addrRXB0SIDH, bufStride, n, 0, 1) }

// filterAddr returns RXFnSIDH; filters 0-2 and 3-5 live in different banks.
func filterAddr(n int) (uint16, error) {
	if _, err := regs.Index(addrRXF0, 4, n, 0, 5); err != nil {
		return 0, err
	}
	return addrRXF0 + uint16(n/3)*bufStride + uint16(n%3)*4, nil
}

func maskAddr(n int) (uint16, error) { return regs.Index(addrRXM0, 4, n, 0, 1) }

// Mode is the REQOP/OPMOD encoding of CANCTRL/CANSTAT bits 7:5.
type Mode uint8

const (
	ModeNormal        Mode = 0
	ModeSleep         Mode = 1
	ModeLoopback      Mode = 2
	ModeListenOnly    Mode = 3
	ModeConfiguration Mode = 4
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeSleep:
		return "sleep"
	case ModeLoopback:
		return "loopback"
	case ModeListenOnly:
		return "listen_only"
	case ModeConfiguration:
		return "configuration"
	}
	return "unknown"
}

// ParseMode accepts the names produced by Mode.String.
func ParseMode(s string) (Mode, bool) {
	for m := ModeNormal; m <= ModeConfiguration; m++ {
		if m.String() == s {
			return m, true
		}
	}
	return 0, false
}

const (
	modeShift = 5
	modeMask  = 0xE0

	// RXB0CTRL
	rxbRXM  = 0x60
	rxbBUKT = 0x04

	// CANINTE / CANINTF
	intRX0 = 0x01
	intRX1 = 0x02
	intERR = 0x20

	txbTXREQ = 0x08

	// SIDL
	sidlSRR   = 0x10
	sidlEXIDE = 0x08

	dlcRTR = 0x40
)

// Status is the READ STATUS response.
type Status uint8

func (s Status) RX0IF() bool          { return s&0x01 != 0 }
func (s Status) RX1IF() bool          { return s&0x02 != 0 }
func (s Status) TxRequest(n int) bool { return s&(1<<(2+2*n)) != 0 }
func (s Status) TxDone(n int) bool    { return s&(1<<(3+2*n)) != 0 }

// EFLG bits.
const (
	eflgEWARN = 0x01
	eflgRXEP  = 0x08
	eflgTXEP  = 0x10
	eflgTXBO  = 0x20
	eflgRX0OV = 0x40
	eflgRX1OV = 0x80
)
