package main

import (
	"context"
	"slices"
	"testing"
)

func TestListenPort(t *testing.T) {
	for addr, want := range map[string]int{"[::]:20000": 20000, "127.0.0.1:4242": 4242, ":1": 1} {
		if got, err := listenPort(addr); err != nil || got != want {
			t.Fatalf("%s: got %d err %v", addr, got, err)
		}
	}
	if _, err := listenPort("nonsense"); err == nil {
		t.Fatal("expected error")
	}
}

func TestMDNSMeta(t *testing.T) {
	meta := mdnsMeta(baseConfig("mcp251xfd"))
	for _, want := range []string{"chip=mcp251xfd", "transport=spidev", "bitrate=500k", "data_bitrate=2M", "fd=1"} {
		if !slices.Contains(meta, want) {
			t.Fatalf("missing %q in %v", want, meta)
		}
	}
	if slices.Contains(mdnsMeta(baseConfig("mcp2515")), "fd=1") {
		t.Fatal("classic chip advertised as fd")
	}
}

func TestStartMDNSDisabled(t *testing.T) {
	cleanup, err := startMDNS(context.Background(), &appConfig{}, 20000)
	if err != nil {
		t.Fatal(err)
	}
	cleanup()
}
