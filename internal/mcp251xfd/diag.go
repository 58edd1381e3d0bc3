package mcp251xfd

import (
	"github.com/kstaniek/go-mcp25xx/internal/metrics"
)

// ErrorState is the fault-confinement state from CiTREC.
type ErrorState struct {
	REC, TEC  uint8
	Warning   bool
	RxPassive bool
	TxPassive bool
	BusOff    bool
}

// ErrorCounters reads the receive/transmit error counters and updates the
// exported gauges.
func (d *Device) ErrorCounters() (ErrorState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, err := regTREC.Read(d.p)
	if err != nil {
		return ErrorState{}, err
	}
	metrics.SetErrorCounters(r.REC(), r.TEC())
	return ErrorState{
		REC:       r.REC(),
		TEC:       r.TEC(),
		Warning:   r.ErrorWarning(),
		RxPassive: r.RxPassive(),
		TxPassive: r.TxPassive(),
		BusOff:    r.BusOff(),
	}, nil
}

// Diagnostics holds the CiBDIAG0/1 counters plus the FIFO overflow,
// pending transmit and RAM ECC state.
type Diagnostics struct {
	NominalRx, NominalTx uint8
	DataRx, DataTx       uint8
	ErrorFree            uint16
	Flags                uint16

	// RxOverflow and TxPending are FIFO bitmaps (bit m is FIFO m).
	RxOverflow uint32
	TxPending  uint32

	ECCSingle bool // corrected single-bit error
	ECCDouble bool // uncorrectable error
	ECCAddr   uint16
}

// BusDiagnostics reads the diagnostic registers. Latched ECC flags are
// cleared once read.
func (d *Device) BusDiagnostics() (Diagnostics, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var (
		b0       BDIAG0
		b1       BDIAG1
		ov, pend uint32
		ecc      uint32
		err      error
	)
	read := func(fn func() error) {
		if err == nil {
			err = fn()
		}
	}
	read(func() (e error) { b0, e = regBDIAG0.Read(d.p); return })
	read(func() (e error) { b1, e = regBDIAG1.Read(d.p); return })
	read(func() (e error) { ov, e = regRXOVIF.Read(d.p); return })
	read(func() (e error) { pend, e = regTXREQ.Read(d.p); return })
	read(func() (e error) { ecc, e = regECCSTAT.Read(d.p); return })
	if err != nil {
		return Diagnostics{}, err
	}
	g := Diagnostics{
		NominalRx:  b0.NominalRx(),
		NominalTx:  b0.NominalTx(),
		DataRx:     b0.DataRx(),
		DataTx:     b0.DataTx(),
		ErrorFree:  b1.ErrorFreeCount(),
		Flags:      b1.Flags(),
		RxOverflow: ov,
		TxPending:  pend,
		ECCSingle:  ecc&eccSECIF != 0,
		ECCDouble:  ecc&eccDEDIF != 0,
		ECCAddr:    uint16(ecc>>16) & eccAddrMask,
	}
	if g.ECCSingle || g.ECCDouble {
		d.log.Warn("ram_ecc_error", "addr", g.ECCAddr, "double", g.ECCDouble)
		if err := regECCSTAT.Modify(d.p, eccSECIF|eccDEDIF, 0); err != nil {
			return g, err
		}
	}
	return g, nil
}

// TimeBase returns the free-running time base counter. It only advances
// when Config.TimeBase is set.
func (d *Device) TimeBase() (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return regTBC.Read(d.p)
}

// AbortAll requests abort of all pending transmissions.
func (d *Device) AbortAll() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return regCON.Modify(d.p, 1<<conABAT, CON(0).WithAbortAll(true))
}

// ClearInterrupts clears every clearable interrupt flag and keeps the
// enables.
func (d *Device) ClearInterrupts() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return regINT.WriteMasked(d.p, 0, 0xFFFF)
}

// DeviceID returns the silicon ID and revision from DEVID.
func (d *Device) DeviceID() (dev, rev uint8, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := regDEVID.Read(d.p)
	if err != nil {
		return 0, 0, err
	}
	return uint8(v>>4) & 0xF, uint8(v) & 0xF, nil
}
