// Package layout loads the FIFO and acceptance filter layout of the FD
// controller from YAML and applies it to a device.
package layout

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/kstaniek/go-mcp25xx/internal/mcp251xfd"
	"github.com/kstaniek/go-mcp25xx/internal/spi"
)

var ErrInvalid = errors.New("layout: invalid")

// Layout is the message RAM plan of one controller.
type Layout struct {
	TxEvent *TxEvent `yaml:"tx_event,omitempty"`
	FIFOs   []FIFO   `yaml:"fifos"`
	Filters []Filter `yaml:"filters"`
}

// TxEvent enables the transmit event FIFO.
type TxEvent struct {
	Depth     int  `yaml:"depth"`
	Timestamp bool `yaml:"timestamp,omitempty"`
}

// FIFO is one message FIFO. Payload is in bytes (8, 12, 16, 20, 24, 32, 48
// or 64). Retransmit is "disabled", "three" or "unlimited".
type FIFO struct {
	Index      int    `yaml:"index"`
	Depth      int    `yaml:"depth"`
	Payload    int    `yaml:"payload"`
	Transmit   bool   `yaml:"transmit,omitempty"`
	Priority   uint8  `yaml:"priority,omitempty"`
	Retransmit string `yaml:"retransmit,omitempty"`
	Timestamp  bool   `yaml:"timestamp,omitempty"`
}

// Filter routes matching frames into a receive FIFO. Mask bits set to 1
// are compared; a zero mask accepts everything.
type Filter struct {
	Index       int    `yaml:"index"`
	ID          uint32 `yaml:"id"`
	Extended    bool   `yaml:"extended,omitempty"`
	Mask        uint32 `yaml:"mask"`
	MatchIDType bool   `yaml:"match_id_type,omitempty"`
	FIFO        int    `yaml:"fifo"`
}

// Default is FIFO1 transmit and FIFO2 receive, both 64-byte payloads, with
// filter 0 accepting everything into FIFO2.
func Default() *Layout {
	return &Layout{
		FIFOs: []FIFO{
			{Index: 1, Depth: 8, Payload: 64, Transmit: true, Retransmit: "unlimited"},
			{Index: 2, Depth: 16, Payload: 64},
		},
		Filters: []Filter{{Index: 0, FIFO: 2}},
	}
}

// Load reads and validates a layout file.
func Load(path string) (*Layout, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layout: %w", err)
	}
	return Parse(b)
}

// Parse decodes and validates a YAML layout. Unknown keys are rejected.
func Parse(b []byte) (*Layout, error) {
	var l Layout
	if err := yaml.UnmarshalStrict(b, &l); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &l, nil
}

// Marshal renders the layout as YAML.
func (l *Layout) Marshal() ([]byte, error) { return yaml.Marshal(l) }

func retransmit(s string) (mcp251xfd.Retransmit, error) {
	switch s {
	case "", "unlimited":
		return mcp251xfd.RetransmitUnlimited, nil
	case "three":
		return mcp251xfd.RetransmitThree, nil
	case "disabled":
		return mcp251xfd.RetransmitDisabled, nil
	}
	return 0, fmt.Errorf("%w: retransmit %q", ErrInvalid, s)
}

// FIFOConfig converts f to the driver's configuration.
func (f FIFO) FIFOConfig() (mcp251xfd.FIFOConfig, error) {
	ps, ok := mcp251xfd.PayloadSizeFor(f.Payload)
	if !ok || ps.Bytes() != f.Payload {
		return mcp251xfd.FIFOConfig{}, fmt.Errorf("%w: fifo %d payload %d", ErrInvalid, f.Index, f.Payload)
	}
	cfg := mcp251xfd.FIFOConfig{
		Depth:       f.Depth,
		Payload:     ps,
		Transmit:    f.Transmit,
		RxTimestamp: f.Timestamp && !f.Transmit,
	}
	if f.Transmit {
		rt, err := retransmit(f.Retransmit)
		if err != nil {
			return cfg, err
		}
		cfg.Priority = f.Priority
		cfg.Retransmit = rt
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("fifo %d: %w", f.Index, err)
	}
	return cfg, nil
}

// gapObject is the RAM an unconfigured FIFO keeps at its reset size: one
// object with an 8-byte payload.
const gapObject = 16

// RAMBytes is the message RAM the layout occupies, including the transmit
// event FIFO. FIFOs are placed in index order, so every unconfigured index
// below the highest one in use still takes one reset-size object.
func (l *Layout) RAMBytes() int {
	n := 0
	if l.TxEvent != nil {
		obj := 8
		if l.TxEvent.Timestamp {
			obj = 12
		}
		n += l.TxEvent.Depth * obj
	}
	used := map[int]bool{}
	top := 0
	for _, f := range l.FIFOs {
		if cfg, err := f.FIFOConfig(); err == nil {
			n += cfg.RAMSize()
		}
		used[f.Index] = true
		top = max(top, f.Index)
	}
	for i := 1; i < top; i++ {
		if !used[i] {
			n += gapObject
		}
	}
	return n
}

// Validate checks index ranges and uniqueness, filter targets and the RAM
// budget.
func (l *Layout) Validate() error {
	if len(l.FIFOs) == 0 {
		return fmt.Errorf("%w: no fifos", ErrInvalid)
	}
	if te := l.TxEvent; te != nil && (te.Depth < 1 || te.Depth > 32) {
		return fmt.Errorf("%w: tx event depth %d not in [1,32]", ErrInvalid, te.Depth)
	}
	rx := map[int]bool{}
	seen := map[int]bool{}
	for _, f := range l.FIFOs {
		if f.Index < 1 || f.Index > 31 {
			return fmt.Errorf("%w: fifo index %d not in [1,31]", ErrInvalid, f.Index)
		}
		if seen[f.Index] {
			return fmt.Errorf("%w: fifo %d defined twice", ErrInvalid, f.Index)
		}
		seen[f.Index] = true
		if _, err := f.FIFOConfig(); err != nil {
			return err
		}
		if !f.Transmit {
			rx[f.Index] = true
		}
	}
	flt := map[int]bool{}
	for _, f := range l.Filters {
		if f.Index < 0 || f.Index > 31 {
			return fmt.Errorf("%w: filter index %d not in [0,31]", ErrInvalid, f.Index)
		}
		if flt[f.Index] {
			return fmt.Errorf("%w: filter %d defined twice", ErrInvalid, f.Index)
		}
		flt[f.Index] = true
		if !rx[f.FIFO] {
			return fmt.Errorf("%w: filter %d targets fifo %d which is not a receive fifo", ErrInvalid, f.Index, f.FIFO)
		}
	}
	if n := l.RAMBytes(); n > spi.RAMSize {
		return fmt.Errorf("%w: %d bytes of message ram needed, %d available", ErrInvalid, n, spi.RAMSize)
	}
	return nil
}

// TxFIFO returns the lowest transmit FIFO index, or 0 when there is none.
func (l *Layout) TxFIFO() int {
	best := 0
	for _, f := range l.FIFOs {
		if f.Transmit && (best == 0 || f.Index < best) {
			best = f.Index
		}
	}
	return best
}

// Tune copies the transmit event FIFO settings into cfg and starts the
// time base when any FIFO records timestamps.
func (l *Layout) Tune(cfg *mcp251xfd.Config) {
	for _, f := range l.FIFOs {
		if f.Timestamp && !f.Transmit {
			cfg.TimeBase = true
		}
	}
	if l.TxEvent == nil {
		cfg.TxEventFIFO = false
		return
	}
	cfg.TxEventFIFO = true
	cfg.TxEventDepth = l.TxEvent.Depth
	cfg.TxEventTimestamp = l.TxEvent.Timestamp
	if cfg.TxEventTimestamp {
		cfg.TimeBase = true
	}
}

// Target is the part of the FD driver a layout is applied to.
type Target interface {
	ConfigureFIFO(m int, cfg mcp251xfd.FIFOConfig) error
	ConfigureFilter(n int, f mcp251xfd.Filter, m mcp251xfd.Mask, fifo int) error
}

// Apply programs every FIFO, then every filter. The device must be in
// configuration mode.
func (l *Layout) Apply(d Target) error {
	for _, f := range l.FIFOs {
		cfg, err := f.FIFOConfig()
		if err != nil {
			return err
		}
		if err := d.ConfigureFIFO(f.Index, cfg); err != nil {
			return fmt.Errorf("configure fifo %d: %w", f.Index, err)
		}
	}
	for _, f := range l.Filters {
		flt := mcp251xfd.Filter{ID: f.ID, Extended: f.Extended}
		m := mcp251xfd.Mask{ID: f.Mask, MatchIDType: f.MatchIDType}
		if err := d.ConfigureFilter(f.Index, flt, m, f.FIFO); err != nil {
			return fmt.Errorf("configure filter %d: %w", f.Index, err)
		}
	}
	return nil
}
