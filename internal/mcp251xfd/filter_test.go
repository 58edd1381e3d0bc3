package mcp251xfd

import (
	"errors"
	"testing"

	"github.com/kstaniek/go-mcp25xx/internal/regs"
)

func TestConfigureFilter(t *testing.T) {
	d, chip := newTestDevice(t)
	err := d.ConfigureFilter(5, Filter{ID: 0x1ABCDE, Extended: true}, Mask{ID: 0x1FFFFFFF, MatchIDType: true}, 2)
	if err != nil {
		t.Fatal(err)
	}
	ctl := uint16(addrFLTCON + 5)
	w := chip.WritesIn(ctl, ctl+1)
	if len(w) != 2 || w[0].Data[0] != 0 || w[1].Data[0] != fltconEnable|2 {
		t.Fatalf("control writes %+v", w)
	}
	obj := chip.Reg32(addrFLTOBJ + 5*filterStride)
	if obj&0x1FFFFFFF != 0x1ABCDE || obj&(1<<fltEXIDE) == 0 {
		t.Fatalf("fltobj 0x%08X", obj)
	}
	mask := chip.Reg32(addrFLTOBJ + 5*filterStride + 4)
	if mask != 0x1FFFFFFF|1<<fltEXIDE {
		t.Fatalf("mask 0x%08X", mask)
	}
	// The filter is disabled before the object is rewritten.
	log := chip.Log()
	if log[0].Addr != ctl || log[len(log)-1].Addr != ctl {
		t.Fatalf("order %+v", log)
	}
}

func TestConfigureFilterStandard(t *testing.T) {
	d, chip := newTestDevice(t)
	if err := d.ConfigureFilter(0, Filter{ID: 0x123}, AcceptAll, 1); err != nil {
		t.Fatal(err)
	}
	if got := chip.Reg32(addrFLTOBJ); got != 0x123 {
		t.Fatalf("fltobj 0x%08X", got)
	}
	if got := chip.Reg32(addrFLTOBJ + 4); got != 0 {
		t.Fatalf("mask 0x%08X", got)
	}
	if err := d.DisableFilter(0); err != nil {
		t.Fatal(err)
	}
	if b := chip.Bytes(addrFLTCON, 1)[0]; b != 0 {
		t.Fatalf("fltcon 0x%02X", b)
	}
}

func TestConfigureFilterRange(t *testing.T) {
	d, chip := newTestDevice(t)
	cases := []struct{ n, fifo int }{{-1, 1}, {32, 1}, {0, 0}, {0, 32}}
	for _, c := range cases {
		if err := d.ConfigureFilter(c.n, Filter{}, AcceptAll, c.fifo); !errors.Is(err, regs.ErrIndexRange) {
			t.Fatalf("%+v: err=%v", c, err)
		}
	}
	if n := len(chip.Log()); n != 0 {
		t.Fatalf("unexpected %d transactions", n)
	}
}
