package mcp251xfd

import (
	"fmt"

	"github.com/kstaniek/go-mcp25xx/internal/can"
	"github.com/kstaniek/go-mcp25xx/internal/regs"
)

// Filter is an acceptance filter object. ID is a standard or extended
// identifier without flags; Extended makes the filter match only extended
// frames (and only standard frames when clear, if the mask asks for it).
type Filter struct {
	ID       uint32
	Extended bool
}

// Mask selects which identifier bits the filter compares. MatchIDType
// additionally compares the identifier type against Filter.Extended.
type Mask struct {
	ID          uint32
	MatchIDType bool
}

// AcceptAll is the zero mask: every frame matches.
var AcceptAll = Mask{}

func filterWord(id uint32, extended bool, typeBit bool) uint32 {
	var sid, eid uint32
	if extended {
		sid, eid = splitID(id & can.CAN_EFF_MASK)
	} else {
		sid = id & can.CAN_SFF_MASK
	}
	return regs.SetBit(idWord(sid, eid), fltEXIDE, typeBit)
}

// ConfigureFilter programs filter n (0..31) to deliver matches into FIFO
// fifo. The filter is disabled while its object and mask are rewritten.
func (d *Device) ConfigureFilter(n int, f Filter, m Mask, fifo int) error {
	ctl, err := filterCtl(n)
	if err != nil {
		return err
	}
	obj, err := filterObj(n)
	if err != nil {
		return err
	}
	mask, err := filterMask(n)
	if err != nil {
		return err
	}
	if fifo < 1 || fifo > 31 {
		return fmt.Errorf("%w: filter target fifo %d", regs.ErrIndexRange, fifo)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.p.Write(ctl, []byte{0}); err != nil {
		return err
	}
	if err := obj.Write(d.p, FLTOBJ(filterWord(f.ID, f.Extended, f.Extended))); err != nil {
		return err
	}
	if err := mask.Write(d.p, MASK(filterWord(m.ID, f.Extended, m.MatchIDType))); err != nil {
		return err
	}
	if err := d.p.Write(ctl, []byte{fltconEnable | byte(fifo)&fltconPtrMask}); err != nil {
		return err
	}
	d.log.Debug("filter_configured", "filter", n, "id", fmt.Sprintf("0x%X", f.ID), "mask", fmt.Sprintf("0x%X", m.ID), "fifo", fifo)
	return nil
}

// DisableFilter clears the enable bit of filter n.
func (d *Device) DisableFilter(n int) error {
	ctl, err := filterCtl(n)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.p.Write(ctl, []byte{0})
}
