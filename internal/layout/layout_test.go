package layout

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kstaniek/go-mcp25xx/internal/mcp251xfd"
)

const sample = `
tx_event:
  depth: 4
  timestamp: true
fifos:
  - index: 3
    depth: 4
    payload: 8
    transmit: true
    priority: 7
    retransmit: three
  - index: 1
    depth: 2
    payload: 64
    transmit: true
  - index: 5
    depth: 32
    payload: 12
    timestamp: true
filters:
  - index: 0
    id: 0x123
    mask: 0x7FF
    fifo: 5
  - index: 1
    id: 0x1ABCDE
    extended: true
    mask: 0x1FFFFFFF
    match_id_type: true
    fifo: 5
`

type recorder struct {
	fifos   map[int]mcp251xfd.FIFOConfig
	filters []int
	fail    error
}

func (r *recorder) ConfigureFIFO(m int, cfg mcp251xfd.FIFOConfig) error {
	if r.fail != nil {
		return r.fail
	}
	if r.fifos == nil {
		r.fifos = map[int]mcp251xfd.FIFOConfig{}
	}
	r.fifos[m] = cfg
	return nil
}

func (r *recorder) ConfigureFilter(n int, f mcp251xfd.Filter, m mcp251xfd.Mask, fifo int) error {
	r.filters = append(r.filters, n)
	return nil
}

func TestParseSample(t *testing.T) {
	l, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if l.TxFIFO() != 1 {
		t.Fatalf("TxFIFO = %d", l.TxFIFO())
	}
	// TEF 4*12, FIFO3 4*16, FIFO1 2*72, FIFO5 32*(8+12+4), FIFO2 and FIFO4 at reset size
	if got, want := l.RAMBytes(), 48+64+144+768+2*16; got != want {
		t.Fatalf("RAMBytes = %d want %d", got, want)
	}
	cfg := mcp251xfd.DefaultConfig()
	l.Tune(&cfg)
	if !cfg.TxEventFIFO || cfg.TxEventDepth != 4 || !cfg.TxEventTimestamp || !cfg.TimeBase {
		t.Fatalf("tuned config %+v", cfg)
	}
	var r recorder
	if err := l.Apply(&r); err != nil {
		t.Fatal(err)
	}
	f3 := r.fifos[3]
	if !f3.Transmit || f3.Priority != 7 || f3.Retransmit != mcp251xfd.RetransmitThree || f3.Payload != mcp251xfd.Payload8 {
		t.Fatalf("fifo 3 = %+v", f3)
	}
	if r.fifos[1].Retransmit != mcp251xfd.RetransmitUnlimited {
		t.Fatalf("fifo 1 retransmit default = %v", r.fifos[1].Retransmit)
	}
	f5 := r.fifos[5]
	if f5.Transmit || !f5.RxTimestamp || f5.Payload != mcp251xfd.Payload12 || f5.Depth != 32 {
		t.Fatalf("fifo 5 = %+v", f5)
	}
	if len(r.filters) != 2 {
		t.Fatalf("filters = %v", r.filters)
	}
}

func TestDefaultIsValid(t *testing.T) {
	l := Default()
	if err := l.Validate(); err != nil {
		t.Fatal(err)
	}
	if l.TxFIFO() != 1 {
		t.Fatalf("TxFIFO = %d", l.TxFIFO())
	}
	cfg := mcp251xfd.DefaultConfig()
	cfg.TxEventFIFO = true
	l.Tune(&cfg)
	if cfg.TxEventFIFO {
		t.Fatal("default layout should disable the tx event fifo")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"no fifos":      "fifos: []\n",
		"bad payload":   "fifos:\n  - {index: 1, depth: 1, payload: 10}\n",
		"bad depth":     "fifos:\n  - {index: 1, depth: 33, payload: 8}\n",
		"index zero":    "fifos:\n  - {index: 0, depth: 1, payload: 8}\n",
		"duplicate":     "fifos:\n  - {index: 1, depth: 1, payload: 8}\n  - {index: 1, depth: 1, payload: 8}\n",
		"tx target":     "fifos:\n  - {index: 1, depth: 1, payload: 8, transmit: true}\nfilters:\n  - {index: 0, fifo: 1}\n",
		"filter range":  "fifos:\n  - {index: 1, depth: 1, payload: 8}\nfilters:\n  - {index: 32, fifo: 1}\n",
		"retransmit":    "fifos:\n  - {index: 1, depth: 1, payload: 8, transmit: true, retransmit: twice}\n",
		"unknown key":   "fifos:\n  - {index: 1, depth: 1, payload: 8, colour: red}\n",
		"tef depth":     "tx_event: {depth: 0}\nfifos:\n  - {index: 1, depth: 1, payload: 8}\n",
		"ram overflow":  "fifos:\n  - {index: 1, depth: 32, payload: 64}\n",
		"priority >31":  "fifos:\n  - {index: 1, depth: 1, payload: 8, transmit: true, priority: 40}\n",
		"not yaml list": "fifos: 3\n",
	}
	for name, y := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(y))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrInvalid) && !errors.Is(err, mcp251xfd.ErrInvalidFIFOConfig) {
				t.Fatalf("unexpected error class: %v", err)
			}
		})
	}
}

func TestRAMBudgetBoundary(t *testing.T) {
	// 28*72 = 2016 fits; adding a 4-deep 8-byte fifo (64) does not.
	l := &Layout{FIFOs: []FIFO{{Index: 1, Depth: 28, Payload: 64}}}
	if err := l.Validate(); err != nil {
		t.Fatal(err)
	}
	l.FIFOs = append(l.FIFOs, FIFO{Index: 2, Depth: 4, Payload: 8, Transmit: true})
	if err := l.Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v", err)
	}
}

func TestRAMBudgetCountsIndexGaps(t *testing.T) {
	// FIFO 4 follows reset-size FIFOs 2 and 3: 2016+16+2*16 = 2064.
	l := &Layout{FIFOs: []FIFO{
		{Index: 1, Depth: 28, Payload: 64},
		{Index: 4, Depth: 1, Payload: 8, Transmit: true},
	}}
	if got := l.RAMBytes(); got != 2064 {
		t.Fatalf("RAMBytes = %d", got)
	}
	if err := l.Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v", err)
	}
	l.FIFOs[1].Index = 2
	if err := l.Validate(); err != nil {
		t.Fatalf("contiguous layout: %v", err)
	}
}

func TestLoadAndMarshal(t *testing.T) {
	p := filepath.Join(t.TempDir(), "layout.yaml")
	b, err := Default().Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, b, 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v\n%s", err, b)
	}
	if len(l.FIFOs) != 2 || len(l.Filters) != 1 || l.Filters[0].FIFO != 2 {
		t.Fatalf("loaded %+v", l)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing file err = %v", err)
	}
}

func TestApplyStopsOnError(t *testing.T) {
	r := &recorder{fail: errors.New("bus down")}
	if err := Default().Apply(r); err == nil {
		t.Fatal("expected error")
	}
	if len(r.filters) != 0 {
		t.Fatal("filters configured after fifo failure")
	}
}
