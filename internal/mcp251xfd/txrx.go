package mcp251xfd

import (
	"context"
	"errors"
	"fmt"
	"math/bits"

	"github.com/kstaniek/go-mcp25xx/internal/can"
	"github.com/kstaniek/go-mcp25xx/internal/metrics"
)

// Transmit queues fr in transmit FIFO m and requests transmission. A full
// FIFO yields ErrFIFOFull before anything is written to RAM.
func (d *Device) Transmit(m int, fr can.Frame) error {
	con, err := fifoCON(m)
	if err != nil {
		return err
	}
	sta, _ := fifoSTA(m)
	ua, _ := fifoUA(m)

	d.mu.Lock()
	defer d.mu.Unlock()
	c, err := con.Read(d.p)
	if err != nil {
		return err
	}
	if !c.Transmit() {
		return fmt.Errorf("%w: fifo %d", ErrNotTransmit, m)
	}
	if fr.Len() > c.PayloadSize().Bytes() {
		return fmt.Errorf("%w: %d > %d on fifo %d", ErrPayloadTooLarge, fr.Len(), c.PayloadSize().Bytes(), m)
	}
	s, err := sta.Read(d.p)
	if err != nil {
		return err
	}
	if !s.NotFullNotEmpty() {
		metrics.IncFIFOFull()
		return ErrFIFOFull
	}
	addr, err := ua.Read(d.p)
	if err != nil {
		return err
	}
	h, payload := EncodeTx(fr)
	obj := make([]byte, 0, 8+paddedLen(len(payload)))
	obj = h.AppendTo(obj)
	obj = append(obj, payload...)
	obj = append(obj, make([]byte, paddedLen(len(payload))-len(payload))...)
	if err := d.p.WriteRAM(uint16(addr), obj); err != nil {
		metrics.IncError(metrics.ErrChipWrite)
		return err
	}
	if err := con.WriteMasked(d.p, fifoUINCTXMask, fifoUINCTXMask); err != nil {
		metrics.IncError(metrics.ErrChipWrite)
		return err
	}
	metrics.IncChipTx()
	return nil
}

// Receive returns the next received frame. A pending bus error takes
// priority: its flag is cleared and ErrBusError is returned. ErrNoFrame
// means nothing is waiting.
//
// Receive FIFOs are scanned in ascending index order.
func (d *Device) Receive() (can.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	in, err := regINT.Read(d.p)
	if err != nil {
		return can.Frame{}, err
	}
	if in.BusError() {
		cleared := in &^ (1 << intCERRIF)
		if err := regINT.WriteMasked(d.p, cleared, 0xFF00); err != nil {
			return can.Frame{}, err
		}
		metrics.IncBusError()
		d.log.Warn("bus_error")
		return can.Frame{}, ErrBusError
	}
	if !in.RxPending() {
		return can.Frame{}, ErrNoFrame
	}
	rxif, err := regRXIF.Read(d.p)
	if err != nil {
		return can.Frame{}, err
	}
	rxif &^= 1 // bit 0 is the transmit queue
	if rxif == 0 {
		return can.Frame{}, ErrNoFrame
	}
	return d.receiveFrom(bits.TrailingZeros32(rxif))
}

func (d *Device) receiveFrom(m int) (can.Frame, error) {
	con, err := fifoCON(m)
	if err != nil {
		return can.Frame{}, err
	}
	ua, _ := fifoUA(m)
	c, err := con.Read(d.p)
	if err != nil {
		return can.Frame{}, err
	}
	addr, err := ua.Read(d.p)
	if err != nil {
		return can.Frame{}, err
	}
	hlen := 8
	if c.RxTimestamp() {
		hlen = 12
	}
	hb := make([]byte, hlen)
	if err := d.p.ReadRAM(uint16(addr), hb); err != nil {
		metrics.IncError(metrics.ErrChipRead)
		return can.Frame{}, err
	}
	h := ParseRxHeader(hb)
	n := h.DLC().Bytes()
	if !h.FDF() && n > 8 {
		n = 8
	}
	if lim := c.PayloadSize().Bytes(); n > lim {
		n = lim
	}
	var payload []byte
	if n > 0 {
		payload = make([]byte, paddedLen(n))
		if err := d.p.ReadRAM(uint16(addr)+uint16(hlen), payload); err != nil {
			metrics.IncError(metrics.ErrChipRead)
			return can.Frame{}, err
		}
	}
	fr := DecodeRx(h, payload)
	if err := con.WriteMasked(d.p, fifoUINCMask, fifoUINCMask); err != nil {
		return can.Frame{}, err
	}
	metrics.IncChipRx()
	return fr, nil
}

// ReceiveWait blocks on the interrupt line until a frame or a bus error is
// available, or ctx is done.
func (d *Device) ReceiveWait(ctx context.Context) (can.Frame, error) {
	if d.irq == nil {
		return can.Frame{}, ErrNoInterrupt
	}
	for {
		fr, err := d.Receive()
		if !errors.Is(err, ErrNoFrame) {
			return fr, err
		}
		if err := d.irq.WaitLow(ctx); err != nil {
			return can.Frame{}, err
		}
	}
}

// ReadTransmitEvent pops one object from the transmit event FIFO, or
// returns ErrNoFrame when it is empty.
func (d *Device) ReadTransmitEvent() (TEFObject, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	con, err := regTEFCON.Read(d.p)
	if err != nil {
		return TEFObject{}, err
	}
	sta, err := regTEFSTA.Read(d.p)
	if err != nil {
		return TEFObject{}, err
	}
	if !sta.NotFullNotEmpty() {
		return TEFObject{}, ErrNoFrame
	}
	addr, err := regTEFUA.Read(d.p)
	if err != nil {
		return TEFObject{}, err
	}
	b := make([]byte, 8)
	if con.Timestamp() {
		b = make([]byte, 12)
	}
	if err := d.p.ReadRAM(uint16(addr), b); err != nil {
		return TEFObject{}, err
	}
	if err := regTEFCON.WriteMasked(d.p, fifoUINCMask, fifoUINCMask); err != nil {
		return TEFObject{}, err
	}
	return decodeTEF(b), nil
}
