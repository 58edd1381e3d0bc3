package bittiming

import (
	"errors"
	"testing"
)

func TestResolveKnownRows(t *testing.T) {
	cases := []struct {
		clock   Clock
		nominal Rate
		data    Rate
		want    Timing
	}{
		{Clock40MHz, Rate500k, Rate2M, Timing{0, 62, 15, 15, 0, 14, 3, 3, 15, 0, TDCAuto}},
		{Clock40MHz, Rate1M, Rate8M, Timing{0, 30, 7, 7, 0, 2, 0, 0, 3, 1, TDCAuto}},
		{Clock40MHz, Rate250k, Rate833k, Timing{0, 126, 31, 31, 1, 17, 4, 4, 18, 0, TDCManual}},
		{Clock40MHz, Rate125k, Rate500k, Timing{0, 254, 63, 63, 1, 30, 7, 7, 31, 0, TDCManual}},
		{Clock20MHz, Rate1M, Rate4M, Timing{0, 14, 3, 3, 0, 2, 0, 0, 3, 0, TDCAuto}},
		{Clock20MHz, Rate250k, Rate1M5, Timing{0, 62, 15, 15, 0, 8, 2, 2, 9, 0, TDCAuto}},
	}
	for _, c := range cases {
		got, err := Resolve(c.clock, c.nominal, c.data)
		if err != nil {
			t.Fatalf("Resolve(%s,%s,%s): %v", c.clock, c.nominal, c.data, err)
		}
		if got != c.want {
			t.Fatalf("Resolve(%s,%s,%s)=%+v want %+v", c.clock, c.nominal, c.data, got, c.want)
		}
	}
}

func TestResolveTotalOverTable(t *testing.T) {
	all := Supported()
	if len(all) != len(dataTable) {
		t.Fatalf("Supported returned %d of %d", len(all), len(dataTable))
	}
	for _, c := range all {
		a, err := Resolve(c.Clock, c.Nominal, c.Data)
		if err != nil {
			t.Fatalf("%+v: %v", c, err)
		}
		b, _ := Resolve(c.Clock, c.Nominal, c.Data)
		if a != b {
			t.Fatalf("%+v: not deterministic", c)
		}
	}
}

func TestResolveUnsupported(t *testing.T) {
	cases := []Combination{
		{Clock40MHz, Rate1M, Rate2M},
		{Clock20MHz, Rate500k, Rate8M},
		{Clock16MHz, Rate500k, Rate2M},
		{Clock40MHz, 100_000, Rate1M},
	}
	for _, c := range cases {
		got, err := Resolve(c.Clock, c.Nominal, c.Data)
		if !errors.Is(err, ErrUnsupported) {
			t.Fatalf("%+v: expected ErrUnsupported, got %v", c, err)
		}
		if got != (Timing{}) {
			t.Fatalf("%+v: expected zero timing on error", c)
		}
	}
}

func TestResolveClassic(t *testing.T) {
	c, err := ResolveClassic(Clock16MHz, Rate250k)
	if err != nil || c != (CNF{0x41, 0xF1, 0x85}) {
		t.Fatalf("16MHz/250k: %+v %v", c, err)
	}
	if b := c.Bytes(); b[0] != 0x85 || b[2] != 0x41 {
		t.Fatalf("bytes not in register order: % X", b)
	}
	if _, err := ResolveClassic(Clock40MHz, Rate500k); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestParseRate(t *testing.T) {
	cases := map[string]Rate{
		"500k": Rate500k, "2M": Rate2M, "1.5M": Rate1M5, "6.7M": Rate6M7,
		"833k": Rate833k, "125000": Rate125k, " 10m ": Rate10M,
	}
	for in, want := range cases {
		got, err := ParseRate(in)
		if err != nil || got != want {
			t.Fatalf("ParseRate(%q)=%d,%v want %d", in, got, err, want)
		}
	}
	if _, err := ParseRate("fast"); err == nil {
		t.Fatalf("expected error")
	}
	if c, err := ParseClock("40MHz"); err != nil || c != Clock40MHz {
		t.Fatalf("ParseClock: %d %v", c, err)
	}
}

func TestSupportedClassic(t *testing.T) {
	got := SupportedClassic()
	if len(got) != 8 {
		t.Fatalf("%d pairs", len(got))
	}
	if got[0].Clock != Clock8MHz || got[0].Nominal != Rate125k || got[7].Clock != Clock16MHz || got[7].Nominal != Rate1M {
		t.Fatalf("order %v ... %v", got[0], got[7])
	}
	for _, c := range got {
		if _, err := ResolveClassic(c.Clock, c.Nominal); err != nil {
			t.Errorf("%v: %v", c, err)
		}
	}
}
