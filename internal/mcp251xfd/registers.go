package mcp251xfd

import (
	"github.com/kstaniek/go-mcp25xx/internal/bittiming"
	"github.com/kstaniek/go-mcp25xx/internal/regs"
)

// Register addresses.
const (
	addrCON     = 0x000
	addrNBTCFG  = 0x004
	addrDBTCFG  = 0x008
	addrTDC     = 0x00C
	addrTBC     = 0x010
	addrTSCON   = 0x014
	addrVEC     = 0x018
	addrINT     = 0x01C
	addrRXIF    = 0x020
	addrTXIF    = 0x024
	addrRXOVIF  = 0x028
	addrTXATIF  = 0x02C
	addrTXREQ   = 0x030
	addrTREC    = 0x034
	addrBDIAG0  = 0x038
	addrBDIAG1  = 0x03C
	addrTEFCON  = 0x040
	addrTEFSTA  = 0x044
	addrTEFUA   = 0x048
	addrTXQCON  = 0x050
	addrTXQSTA  = 0x054
	addrTXQUA   = 0x058
	addrFIFOCON = 0x05C
	addrFLTCON  = 0x1D0
	addrFLTOBJ  = 0x1F0
	addrOSC     = 0xE00
	addrIOCON   = 0xE04
	addrCRC     = 0xE08
	addrECCCON  = 0xE0C
	addrECCSTAT = 0xE10
	addrDEVID   = 0xE14

	fifoStride   = 0x0C
	filterStride = 8
)

var (
	regCON     = regs.Mod[CON]{Addr: addrCON}
	regNBTCFG  = regs.RW[NBTCFG]{Addr: addrNBTCFG}
	regDBTCFG  = regs.RW[DBTCFG]{Addr: addrDBTCFG}
	regTDC     = regs.RW[TDC]{Addr: addrTDC}
	regTBC     = regs.RO[uint32]{Addr: addrTBC}
	regTSCON   = regs.RW[uint32]{Addr: addrTSCON}
	regINT     = regs.Mod[INT]{Addr: addrINT}
	regRXIF    = regs.RO[uint32]{Addr: addrRXIF}
	regRXOVIF  = regs.RO[uint32]{Addr: addrRXOVIF}
	regTXREQ   = regs.RO[uint32]{Addr: addrTXREQ}
	regTREC    = regs.RO[TREC]{Addr: addrTREC}
	regBDIAG0  = regs.Mod[BDIAG0]{Addr: addrBDIAG0}
	regBDIAG1  = regs.Mod[BDIAG1]{Addr: addrBDIAG1}
	regTEFCON  = regs.Mod[TEFCON]{Addr: addrTEFCON}
	regTEFSTA  = regs.Mod[FIFOSTA]{Addr: addrTEFSTA}
	regTEFUA   = regs.RO[uint32]{Addr: addrTEFUA}
	regECCCON  = regs.Mod[uint32]{Addr: addrECCCON}
	regECCSTAT = regs.Mod[uint32]{Addr: addrECCSTAT}
	regDEVID   = regs.RO[uint32]{Addr: addrDEVID}
)

func fifoBase(m int) (uint16, error) { return regs.Index(addrFIFOCON, fifoStride, m, 1, 31) }

func fifoCON(m int) (regs.Mod[FIFOCON], error) {
	a, err := fifoBase(m)
	return regs.Mod[FIFOCON]{Addr: a}, err
}

func fifoSTA(m int) (regs.Mod[FIFOSTA], error) {
	a, err := fifoBase(m)
	return regs.Mod[FIFOSTA]{Addr: a + 4}, err
}

func fifoUA(m int) (regs.RO[uint32], error) {
	a, err := fifoBase(m)
	return regs.RO[uint32]{Addr: a + 8}, err
}

func filterObj(n int) (regs.RW[FLTOBJ], error) {
	a, err := regs.Index(addrFLTOBJ, filterStride, n, 0, 31)
	return regs.RW[FLTOBJ]{Addr: a}, err
}

func filterMask(n int) (regs.RW[MASK], error) {
	a, err := regs.Index(addrFLTOBJ, filterStride, n, 0, 31)
	return regs.RW[MASK]{Addr: a + 4}, err
}

// filterCtl returns the address of filter n's byte inside FLTCON0..7.
func filterCtl(n int) (uint16, error) { return regs.Index(addrFLTCON, 1, n, 0, 31) }

// Mode is a controller operating mode (REQOP/OPMOD encoding).
type Mode uint8

const (
	ModeNormal           Mode = 0
	ModeSleep            Mode = 1
	ModeInternalLoopback Mode = 2
	ModeListenOnly       Mode = 3
	ModeConfiguration    Mode = 4
	ModeExternalLoopback Mode = 5
	ModeClassic          Mode = 6
	ModeRestricted       Mode = 7
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeSleep:
		return "sleep"
	case ModeInternalLoopback:
		return "internal_loopback"
	case ModeListenOnly:
		return "listen_only"
	case ModeConfiguration:
		return "configuration"
	case ModeExternalLoopback:
		return "external_loopback"
	case ModeClassic:
		return "classic"
	default:
		return "restricted"
	}
}

// ParseMode accepts the names produced by Mode.String.
func ParseMode(s string) (Mode, bool) {
	for m := ModeNormal; m <= ModeRestricted; m++ {
		if m.String() == s {
			return m, true
		}
	}
	return 0, false
}

// CON is CiCON.
type CON uint32

const (
	conDNCNTShift = 0
	conISOCRCEN   = 5
	conPXEDIS     = 6
	conWAKFIL     = 8
	conBUSY       = 11
	conBRSDIS     = 12
	conRTXAT      = 16
	conESIGM      = 17
	conSERR2LOM   = 18
	conSTEF       = 19
	conTXQEN      = 20
	conOPMODShift = 21
	conREQOPShift = 24
	conABAT       = 27
	conTXBWSShift = 28

	conREQOPMask = 0x7 << conREQOPShift
)

func (c CON) OpMode() Mode        { return Mode(regs.Field(uint32(c), conOPMODShift, 3)) }
func (c CON) RequestedMode() Mode { return Mode(regs.Field(uint32(c), conREQOPShift, 3)) }
func (c CON) Busy() bool          { return regs.Bit(uint32(c), conBUSY) }
func (c CON) ISOCRC() bool        { return regs.Bit(uint32(c), conISOCRCEN) }
func (c CON) TxEventFIFO() bool   { return regs.Bit(uint32(c), conSTEF) }
func (c CON) TxQueue() bool       { return regs.Bit(uint32(c), conTXQEN) }
func (c CON) RestrictRetx() bool  { return regs.Bit(uint32(c), conRTXAT) }

func (c CON) with(bit uint, on bool) CON { return CON(regs.SetBit(uint32(c), bit, on)) }

func (c CON) WithISOCRC(on bool) CON            { return c.with(conISOCRCEN, on) }
func (c CON) WithProtocolException(on bool) CON { return c.with(conPXEDIS, !on) }
func (c CON) WithWakeFilter(on bool) CON        { return c.with(conWAKFIL, on) }
func (c CON) WithBRSDisabled(on bool) CON       { return c.with(conBRSDIS, on) }
func (c CON) WithRestrictRetx(on bool) CON      { return c.with(conRTXAT, on) }
func (c CON) WithESIGateway(on bool) CON        { return c.with(conESIGM, on) }
func (c CON) WithTxEventFIFO(on bool) CON       { return c.with(conSTEF, on) }
func (c CON) WithTxQueue(on bool) CON           { return c.with(conTXQEN, on) }
func (c CON) WithAbortAll(on bool) CON          { return c.with(conABAT, on) }

func (c CON) WithRequestedMode(m Mode) CON {
	return CON(regs.SetField(uint32(c), conREQOPShift, 3, uint32(m)))
}

func (c CON) WithDeviceNetCount(n uint8) CON {
	return CON(regs.SetField(uint32(c), conDNCNTShift, 5, uint32(n)))
}

// NBTCFG is CiNBTCFG (nominal bit timing).
type NBTCFG uint32

func makeNBTCFG(t bittiming.Timing) NBTCFG {
	v := regs.SetField(0, 24, 8, uint32(t.NominalBRP))
	v = regs.SetField(v, 16, 8, uint32(t.NominalTSEG1))
	v = regs.SetField(v, 8, 7, uint32(t.NominalTSEG2))
	v = regs.SetField(v, 0, 7, uint32(t.NominalSJW))
	return NBTCFG(v)
}

func (r NBTCFG) BRP() uint8   { return uint8(regs.Field(uint32(r), 24, 8)) }
func (r NBTCFG) TSEG1() uint8 { return uint8(regs.Field(uint32(r), 16, 8)) }
func (r NBTCFG) TSEG2() uint8 { return uint8(regs.Field(uint32(r), 8, 7)) }
func (r NBTCFG) SJW() uint8   { return uint8(regs.Field(uint32(r), 0, 7)) }

// DBTCFG is CiDBTCFG (data bit timing).
type DBTCFG uint32

func makeDBTCFG(t bittiming.Timing) DBTCFG {
	v := regs.SetField(0, 24, 8, uint32(t.DataBRP))
	v = regs.SetField(v, 16, 5, uint32(t.DataTSEG1))
	v = regs.SetField(v, 8, 4, uint32(t.DataTSEG2))
	v = regs.SetField(v, 0, 4, uint32(t.DataSJW))
	return DBTCFG(v)
}

func (r DBTCFG) BRP() uint8   { return uint8(regs.Field(uint32(r), 24, 8)) }
func (r DBTCFG) TSEG1() uint8 { return uint8(regs.Field(uint32(r), 16, 5)) }
func (r DBTCFG) TSEG2() uint8 { return uint8(regs.Field(uint32(r), 8, 4)) }
func (r DBTCFG) SJW() uint8   { return uint8(regs.Field(uint32(r), 0, 4)) }

// TDC is CiTDC.
type TDC uint32

func makeTDC(t bittiming.Timing) TDC {
	v := regs.SetField(0, 16, 2, uint32(t.TDCMode))
	v = regs.SetField(v, 8, 7, uint32(t.TDCOffset))
	v = regs.SetField(v, 0, 6, uint32(t.TDCValue))
	return TDC(v)
}

func (r TDC) Mode() bittiming.TDCMode { return bittiming.TDCMode(regs.Field(uint32(r), 16, 2)) }
func (r TDC) Offset() uint8           { return uint8(regs.Field(uint32(r), 8, 7)) }
func (r TDC) Value() uint8            { return uint8(regs.Field(uint32(r), 0, 6)) }

// INT is CiINT: flags in the low half, enables in the high half.
type INT uint32

const (
	intTXIF     = 0
	intRXIF     = 1
	intTBCIF    = 2
	intMODIF    = 3
	intTEFIF    = 4
	intECCIF    = 8
	intSPICRCIF = 9
	intTXATIF   = 10
	intRXOVIF   = 11
	intSERRIF   = 12
	intCERRIF   = 13
	intWAKIF    = 14
	intIVMIF    = 15

	intEnableShift = 16
)

func (r INT) TxPending() bool   { return regs.Bit(uint32(r), intTXIF) }
func (r INT) RxPending() bool   { return regs.Bit(uint32(r), intRXIF) }
func (r INT) TEFPending() bool  { return regs.Bit(uint32(r), intTEFIF) }
func (r INT) BusError() bool    { return regs.Bit(uint32(r), intCERRIF) }
func (r INT) RxOverflow() bool  { return regs.Bit(uint32(r), intRXOVIF) }
func (r INT) SystemError() bool { return regs.Bit(uint32(r), intSERRIF) }
func (r INT) InvalidMsg() bool  { return regs.Bit(uint32(r), intIVMIF) }
func (r INT) ModeChanged() bool { return regs.Bit(uint32(r), intMODIF) }

func (r INT) WithEnable(flag uint, on bool) INT {
	return INT(regs.SetBit(uint32(r), intEnableShift+flag, on))
}

// PayloadSize is the per-object payload class of a FIFO.
type PayloadSize uint8

const (
	Payload8 PayloadSize = iota
	Payload12
	Payload16
	Payload20
	Payload24
	Payload32
	Payload48
	Payload64
)

var payloadBytes = [8]int{8, 12, 16, 20, 24, 32, 48, 64}

// Bytes returns the payload capacity per object.
func (p PayloadSize) Bytes() int { return payloadBytes[p&7] }

// PayloadSizeFor returns the smallest class holding n bytes.
func PayloadSizeFor(n int) (PayloadSize, bool) {
	for i, b := range payloadBytes {
		if n <= b {
			return PayloadSize(i), true
		}
	}
	return 0, false
}

// Retransmit is the TXAT setting.
type Retransmit uint8

const (
	RetransmitDisabled  Retransmit = 0
	RetransmitThree     Retransmit = 1
	RetransmitUnlimited Retransmit = 3
)

// FIFOCON is CiFIFOCONm (and CiTXQCON, which shares the layout).
type FIFOCON uint32

const (
	fifoTFNRFNIE  = 0
	fifoTFHRFHIE  = 1
	fifoTFERFFIE  = 2
	fifoRXOVIE    = 3
	fifoTXATIE    = 4
	fifoRXTSEN    = 5
	fifoRTREN     = 6
	fifoTXEN      = 7
	fifoUINC      = 8
	fifoTXREQ     = 9
	fifoFRESET    = 10
	fifoTXPRShift = 16
	fifoTXATShift = 21
	fifoFSZShift  = 24
	fifoPLSShift  = 29
)

func (r FIFOCON) Transmit() bool           { return regs.Bit(uint32(r), fifoTXEN) }
func (r FIFOCON) RxTimestamp() bool        { return regs.Bit(uint32(r), fifoRXTSEN) }
func (r FIFOCON) Depth() int               { return int(regs.Field(uint32(r), fifoFSZShift, 5)) + 1 }
func (r FIFOCON) PayloadSize() PayloadSize { return PayloadSize(regs.Field(uint32(r), fifoPLSShift, 3)) }
func (r FIFOCON) Priority() uint8          { return uint8(regs.Field(uint32(r), fifoTXPRShift, 5)) }
func (r FIFOCON) Retransmit() Retransmit   { return Retransmit(regs.Field(uint32(r), fifoTXATShift, 2)) }

func (r FIFOCON) with(bit uint, on bool) FIFOCON { return FIFOCON(regs.SetBit(uint32(r), bit, on)) }

func (r FIFOCON) WithTransmit(on bool) FIFOCON    { return r.with(fifoTXEN, on) }
func (r FIFOCON) WithRxTimestamp(on bool) FIFOCON { return r.with(fifoRXTSEN, on) }
func (r FIFOCON) WithNotEmptyIRQ(on bool) FIFOCON { return r.with(fifoTFNRFNIE, on) }
func (r FIFOCON) WithOverflowIRQ(on bool) FIFOCON { return r.with(fifoRXOVIE, on) }
func (r FIFOCON) WithRemoteReply(on bool) FIFOCON { return r.with(fifoRTREN, on) }
func (r FIFOCON) WithReset(on bool) FIFOCON       { return r.with(fifoFRESET, on) }

func (r FIFOCON) WithDepth(n int) FIFOCON {
	return FIFOCON(regs.SetField(uint32(r), fifoFSZShift, 5, uint32(n-1)))
}

func (r FIFOCON) WithPayloadSize(p PayloadSize) FIFOCON {
	return FIFOCON(regs.SetField(uint32(r), fifoPLSShift, 3, uint32(p)))
}

func (r FIFOCON) WithPriority(p uint8) FIFOCON {
	return FIFOCON(regs.SetField(uint32(r), fifoTXPRShift, 5, uint32(p)))
}

func (r FIFOCON) WithRetransmit(a Retransmit) FIFOCON {
	return FIFOCON(regs.SetField(uint32(r), fifoTXATShift, 2, uint32(a)))
}

// Byte 1 of FIFOCON holds the self-clearing UINC/TXREQ/FRESET bits; the
// driver writes only that byte to avoid touching the configuration.
const (
	fifoCtlByte    = 1
	fifoCtlUINC    = 1 << (fifoUINC - 8)
	fifoCtlTXREQ   = 1 << (fifoTXREQ - 8)
	fifoUINCMask   = 1 << fifoUINC
	fifoUINCTXMask = 1<<fifoUINC | 1<<fifoTXREQ
)

// FIFOSTA is CiFIFOSTAm (and CiTEFSTA / CiTXQSTA for the low flags).
type FIFOSTA uint32

func (r FIFOSTA) NotFullNotEmpty() bool   { return regs.Bit(uint32(r), 0) }
func (r FIFOSTA) HalfFull() bool          { return regs.Bit(uint32(r), 1) }
func (r FIFOSTA) FullEmpty() bool         { return regs.Bit(uint32(r), 2) }
func (r FIFOSTA) Overflow() bool          { return regs.Bit(uint32(r), 3) }
func (r FIFOSTA) AttemptsExhausted() bool { return regs.Bit(uint32(r), 4) }
func (r FIFOSTA) TxError() bool           { return regs.Bit(uint32(r), 5) }
func (r FIFOSTA) LostArbitration() bool   { return regs.Bit(uint32(r), 6) }
func (r FIFOSTA) Aborted() bool           { return regs.Bit(uint32(r), 7) }
func (r FIFOSTA) Index() int              { return int(regs.Field(uint32(r), 8, 5)) }

// FLTOBJ is CiFLTOBJn.
type FLTOBJ uint32

// MASK is CiMASKn.
type MASK uint32

const (
	fltSID11 = 29
	fltEXIDE = 30 // EXIDE in FLTOBJ, MIDE in MASK
)

// FLTCON byte layout.
const (
	fltconEnable  = 1 << 7
	fltconPtrMask = 0x1F
)

// TEFCON is CiTEFCON.
type TEFCON uint32

func (r TEFCON) Timestamp() bool { return regs.Bit(uint32(r), 5) }
func (r TEFCON) Depth() int      { return int(regs.Field(uint32(r), 24, 5)) + 1 }

func makeTEFCON(depth int, timestamp bool) TEFCON {
	v := regs.SetField(0, 24, 5, uint32(depth-1))
	return TEFCON(regs.SetBit(v, 5, timestamp))
}

// TREC is CiTREC.
type TREC uint32

func (r TREC) REC() uint8         { return uint8(regs.Field(uint32(r), 0, 8)) }
func (r TREC) TEC() uint8         { return uint8(regs.Field(uint32(r), 8, 8)) }
func (r TREC) ErrorWarning() bool { return regs.Bit(uint32(r), 16) }
func (r TREC) RxWarning() bool    { return regs.Bit(uint32(r), 17) }
func (r TREC) TxWarning() bool    { return regs.Bit(uint32(r), 18) }
func (r TREC) RxPassive() bool    { return regs.Bit(uint32(r), 19) }
func (r TREC) TxPassive() bool    { return regs.Bit(uint32(r), 20) }
func (r TREC) BusOff() bool       { return regs.Bit(uint32(r), 21) }

// BDIAG0 is CiBDIAG0: nominal/data receive and transmit error counts.
type BDIAG0 uint32

func (r BDIAG0) NominalRx() uint8 { return uint8(regs.Field(uint32(r), 0, 8)) }
func (r BDIAG0) NominalTx() uint8 { return uint8(regs.Field(uint32(r), 8, 8)) }
func (r BDIAG0) DataRx() uint8    { return uint8(regs.Field(uint32(r), 16, 8)) }
func (r BDIAG0) DataTx() uint8    { return uint8(regs.Field(uint32(r), 24, 8)) }

// BDIAG1 is CiBDIAG1: error-free message counter and error kind flags.
type BDIAG1 uint32

func (r BDIAG1) ErrorFreeCount() uint16 { return uint16(regs.Field(uint32(r), 0, 16)) }
func (r BDIAG1) Flags() uint16          { return uint16(regs.Field(uint32(r), 16, 16)) }

// ECCCON and ECCSTAT bits.
const (
	eccEnable   = 1 << 0
	eccSECIF    = 1 << 1
	eccDEDIF    = 1 << 2
	eccAddrMask = 0xFFF
)

// TSCON bits.
const (
	tsconTBCEN    = 1 << 16
	tsconPrescale = 0x3FF
)
