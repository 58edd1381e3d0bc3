// Package bittiming maps (oscillator, nominal rate, data rate) to the
// controller's precomputed bit-timing register values.
//
// The tables are fixed lookups. Anything not listed is unsupported and is
// reported as an error rather than approximated.
package bittiming

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrUnsupported is returned for clock/rate combinations missing from the tables.
var ErrUnsupported = errors.New("bittiming: unsupported combination")

// Clock is an oscillator frequency in Hz.
type Clock uint32

// Rate is a bit rate in bit/s.
type Rate uint32

const (
	Clock8MHz  Clock = 8_000_000
	Clock16MHz Clock = 16_000_000
	Clock20MHz Clock = 20_000_000
	Clock40MHz Clock = 40_000_000
)

const (
	Rate125k Rate = 125_000
	Rate250k Rate = 250_000
	Rate500k Rate = 500_000
	Rate833k Rate = 833_333
	Rate1M   Rate = 1_000_000
	Rate1M5  Rate = 1_500_000
	Rate2M   Rate = 2_000_000
	Rate3M   Rate = 3_000_000
	Rate4M   Rate = 4_000_000
	Rate5M   Rate = 5_000_000
	Rate6M7  Rate = 6_666_666
	Rate8M   Rate = 8_000_000
	Rate10M  Rate = 10_000_000
)

// TDCMode selects transmitter delay compensation.
type TDCMode uint8

const (
	TDCDisabled TDCMode = 0
	TDCManual   TDCMode = 1
	TDCAuto     TDCMode = 2
)

func (m TDCMode) String() string {
	switch m {
	case TDCDisabled:
		return "disabled"
	case TDCManual:
		return "manual"
	default:
		return "auto"
	}
}

// Timing holds register-ready values (already minus one where the chip
// expects that).
type Timing struct {
	NominalBRP   uint8
	NominalTSEG1 uint8
	NominalTSEG2 uint8
	NominalSJW   uint8
	DataBRP      uint8
	DataTSEG1    uint8
	DataTSEG2    uint8
	DataSJW      uint8
	TDCOffset    uint8
	TDCValue     uint8
	TDCMode      TDCMode
}

type key struct {
	clock   Clock
	nominal Rate
	data    Rate
}

type phase struct{ brp, tseg1, tseg2, sjw uint8 }

type dataPhase struct {
	phase
	tdco, tdcv uint8
	manual     bool
}

var nominalTable = map[Clock]map[Rate]phase{
	Clock40MHz: {
		Rate125k: {0, 254, 63, 63},
		Rate250k: {0, 126, 31, 31},
		Rate500k: {0, 62, 15, 15},
		Rate1M:   {0, 30, 7, 7},
	},
	Clock20MHz: {
		Rate125k: {0, 126, 31, 31},
		Rate250k: {0, 62, 15, 15},
		Rate500k: {0, 30, 7, 7},
		Rate1M:   {0, 14, 3, 3},
	},
}

var dataTable = map[key]dataPhase{
	{Clock40MHz, Rate500k, Rate1M}:   {phase{0, 30, 7, 7}, 31, 0, false},
	{Clock40MHz, Rate500k, Rate2M}:   {phase{0, 14, 3, 3}, 15, 0, false},
	{Clock40MHz, Rate500k, Rate3M}:   {phase{0, 8, 2, 2}, 9, 0, false},
	{Clock40MHz, Rate500k, Rate4M}:   {phase{0, 6, 1, 1}, 7, 0, false},
	{Clock40MHz, Rate500k, Rate5M}:   {phase{0, 4, 1, 1}, 5, 0, false},
	{Clock40MHz, Rate500k, Rate6M7}:  {phase{0, 3, 0, 0}, 4, 0, false},
	{Clock40MHz, Rate500k, Rate8M}:   {phase{0, 2, 0, 0}, 3, 1, false},
	{Clock40MHz, Rate500k, Rate10M}:  {phase{0, 1, 0, 0}, 2, 0, false},
	{Clock40MHz, Rate1M, Rate4M}:     {phase{0, 6, 1, 1}, 7, 0, false},
	{Clock40MHz, Rate1M, Rate8M}:     {phase{0, 2, 0, 0}, 3, 1, false},
	{Clock40MHz, Rate250k, Rate500k}: {phase{1, 30, 7, 7}, 31, 0, true},
	{Clock40MHz, Rate250k, Rate833k}: {phase{1, 17, 4, 4}, 18, 0, true},
	{Clock40MHz, Rate250k, Rate1M}:   {phase{0, 30, 7, 7}, 31, 0, false},
	{Clock40MHz, Rate250k, Rate1M5}:  {phase{0, 18, 5, 5}, 19, 0, false},
	{Clock40MHz, Rate250k, Rate2M}:   {phase{0, 14, 3, 3}, 15, 0, false},
	{Clock40MHz, Rate250k, Rate3M}:   {phase{0, 8, 2, 2}, 9, 0, false},
	{Clock40MHz, Rate250k, Rate4M}:   {phase{0, 6, 1, 1}, 7, 0, false},
	{Clock40MHz, Rate125k, Rate500k}: {phase{1, 30, 7, 7}, 31, 0, true},

	{Clock20MHz, Rate500k, Rate1M}:   {phase{0, 14, 3, 3}, 15, 0, false},
	{Clock20MHz, Rate500k, Rate2M}:   {phase{0, 6, 1, 1}, 7, 0, false},
	{Clock20MHz, Rate500k, Rate4M}:   {phase{0, 2, 0, 0}, 3, 0, false},
	{Clock20MHz, Rate500k, Rate5M}:   {phase{0, 1, 0, 0}, 2, 0, false},
	{Clock20MHz, Rate1M, Rate4M}:     {phase{0, 2, 0, 0}, 3, 0, false},
	{Clock20MHz, Rate250k, Rate500k}: {phase{0, 30, 7, 7}, 31, 0, true},
	{Clock20MHz, Rate250k, Rate833k}: {phase{0, 17, 4, 4}, 18, 0, true},
	{Clock20MHz, Rate250k, Rate1M}:   {phase{0, 14, 3, 3}, 15, 0, false},
	{Clock20MHz, Rate250k, Rate1M5}:  {phase{0, 8, 2, 2}, 9, 0, false},
	{Clock20MHz, Rate250k, Rate2M}:   {phase{0, 6, 1, 1}, 7, 0, false},
	{Clock20MHz, Rate250k, Rate4M}:   {phase{0, 2, 0, 0}, 3, 0, false},
	{Clock20MHz, Rate125k, Rate500k}: {phase{0, 30, 7, 7}, 31, 0, true},
}

// Resolve returns the register values for the given combination. It is a
// pure lookup and never touches hardware.
func Resolve(clock Clock, nominal, data Rate) (Timing, error) {
	n, ok := nominalTable[clock][nominal]
	if !ok {
		return Timing{}, fmt.Errorf("%w: clock %s nominal %s", ErrUnsupported, clock, nominal)
	}
	d, ok := dataTable[key{clock, nominal, data}]
	if !ok {
		return Timing{}, fmt.Errorf("%w: clock %s nominal %s data %s", ErrUnsupported, clock, nominal, data)
	}
	t := Timing{
		NominalBRP: n.brp, NominalTSEG1: n.tseg1, NominalTSEG2: n.tseg2, NominalSJW: n.sjw,
		DataBRP: d.brp, DataTSEG1: d.tseg1, DataTSEG2: d.tseg2, DataSJW: d.sjw,
		TDCOffset: d.tdco, TDCValue: d.tdcv, TDCMode: TDCAuto,
	}
	if d.manual {
		t.TDCMode = TDCManual
	}
	return t, nil
}

// Combination is one supported (clock, nominal, data) triple.
type Combination struct {
	Clock   Clock
	Nominal Rate
	Data    Rate
}

// Supported lists every combination Resolve accepts, ordered by clock,
// nominal and data rate.
func Supported() []Combination {
	out := make([]Combination, 0, len(dataTable))
	for k := range dataTable {
		out = append(out, Combination{k.clock, k.nominal, k.data})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Clock != b.Clock {
			return a.Clock < b.Clock
		}
		if a.Nominal != b.Nominal {
			return a.Nominal < b.Nominal
		}
		return a.Data < b.Data
	})
	return out
}

func (c Clock) String() string {
	return strconv.FormatFloat(float64(c)/1e6, 'f', -1, 64) + "MHz"
}

func (r Rate) String() string {
	switch {
	case r == Rate833k:
		return "833k"
	case r == Rate6M7:
		return "6.7M"
	case r >= 1_000_000:
		return strconv.FormatFloat(float64(r)/1e6, 'f', -1, 64) + "M"
	default:
		return strconv.FormatFloat(float64(r)/1e3, 'f', -1, 64) + "k"
	}
}

// ParseRate accepts "500k", "2M", "1.5M", "6.7M", "833k" or a plain number.
func ParseRate(s string) (Rate, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "833k", "833.3k", "833333":
		return Rate833k, nil
	case "6.7m", "6.67m", "6666666":
		return Rate6M7, nil
	}
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "k"):
		mult, s = 1e3, strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "m"):
		mult, s = 1e6, strings.TrimSuffix(s, "m")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid rate %q", s)
	}
	return Rate(f * mult), nil
}

// ParseClock accepts "40MHz", "40M", "20mhz" or a plain number in Hz.
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimSuffix(s, "hz")
	mult := 1.0
	if strings.HasSuffix(s, "m") {
		mult, s = 1e6, strings.TrimSuffix(s, "m")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return Clock(f * mult), nil
}
