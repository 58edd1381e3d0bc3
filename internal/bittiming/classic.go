package bittiming

import (
	"fmt"
	"sort"
)

// CNF holds the three configuration registers of the classic controller.
type CNF struct {
	CNF1 uint8
	CNF2 uint8
	CNF3 uint8
}

// Bytes returns the registers in address order (CNF3 at 0x28, CNF2, CNF1)
// for a single sequential write.
func (c CNF) Bytes() []byte { return []byte{c.CNF3, c.CNF2, c.CNF1} }

var classicTable = map[Clock]map[Rate]CNF{
	Clock16MHz: {
		Rate1M:   {0x00, 0xD0, 0x82},
		Rate500k: {0x00, 0xF0, 0x86},
		Rate250k: {0x41, 0xF1, 0x85},
		Rate125k: {0x03, 0xF0, 0x86},
	},
	Clock8MHz: {
		Rate1M:   {0x00, 0x80, 0x80},
		Rate500k: {0x00, 0x90, 0x82},
		Rate250k: {0x00, 0xB1, 0x85},
		Rate125k: {0x01, 0xB1, 0x85},
	},
}

// ResolveClassic returns CNF1..3 for the classic controller.
func ResolveClassic(clock Clock, rate Rate) (CNF, error) {
	c, ok := classicTable[clock][rate]
	if !ok {
		return CNF{}, fmt.Errorf("%w: clock %s rate %s", ErrUnsupported, clock, rate)
	}
	return c, nil
}

// SupportedClassic lists the (clock, rate) pairs ResolveClassic accepts.
// Data is always zero.
func SupportedClassic() []Combination {
	var out []Combination
	for clock, rates := range classicTable {
		for rate := range rates {
			out = append(out, Combination{Clock: clock, Nominal: rate})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Clock != out[j].Clock {
			return out[i].Clock < out[j].Clock
		}
		return out[i].Nominal < out[j].Nominal
	})
	return out
}
