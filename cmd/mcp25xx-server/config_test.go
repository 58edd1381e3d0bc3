package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestConfigValidate_OK(t *testing.T) {
	for _, chip := range []string{"mcp251xfd", "mcp2515", "mcp25625", "mcp2510"} {
		if err := baseConfig(chip).validate(); err != nil {
			t.Fatalf("%s: expected ok got %v", chip, err)
		}
	}
	c := baseConfig("mcp2515")
	c.transport = "buspirate"
	c.baud = 115200
	c.bpSpeed = "2.6M"
	if err := c.validate(); err != nil {
		t.Fatalf("buspirate: %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		chip string
		mod  func(*appConfig)
	}{
		{"badChip", "mcp251xfd", func(c *appConfig) { c.chip = "sja1000" }},
		{"badTransport", "mcp251xfd", func(c *appConfig) { c.transport = "i2c" }},
		{"badSPISpeed", "mcp251xfd", func(c *appConfig) { c.spiSpeed = 0 }},
		{"badSPIMode", "mcp251xfd", func(c *appConfig) { c.spiMode = 4 }},
		{"badBaud", "mcp2515", func(c *appConfig) { c.transport = "buspirate"; c.bpSpeed = "1M"; c.baud = 0 }},
		{"badBPSpeed", "mcp2515", func(c *appConfig) { c.transport = "buspirate"; c.baud = 115200; c.bpSpeed = "3M" }},
		{"badClock", "mcp251xfd", func(c *appConfig) { c.clock = "fast" }},
		{"unsupportedFDRate", "mcp251xfd", func(c *appConfig) { c.data = "7M" }},
		{"unsupportedClassicClock", "mcp2515", func(c *appConfig) { c.clock = "40MHz" }},
		{"badTxFIFO", "mcp251xfd", func(c *appConfig) { c.txFIFO = 32 }},
		{"badIRQ", "mcp251xfd", func(c *appConfig) { c.irqGPIO = -2 }},
		{"badPoll", "mcp251xfd", func(c *appConfig) { c.pollEvery = 0 }},
		{"badRetry", "mcp251xfd", func(c *appConfig) { c.txRetryLimit = -1 }},
		{"badFormat", "mcp251xfd", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", "mcp251xfd", func(c *appConfig) { c.logLevel = "nope" }},
		{"badPolicy", "mcp251xfd", func(c *appConfig) { c.hubPolicy = "x" }},
		{"badHubBuf", "mcp251xfd", func(c *appConfig) { c.hubBuffer = 0 }},
		{"badHandshakeTO", "mcp251xfd", func(c *appConfig) { c.handshakeTO = 0 }},
		{"badClientReadTO", "mcp251xfd", func(c *appConfig) { c.clientReadTO = 0 }},
		{"badMaxClients", "mcp251xfd", func(c *appConfig) { c.maxClients = -1 }},
	}
	for _, tc := range tests {
		c := baseConfig(tc.chip)
		tc.mod(c)
		if err := c.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestPollIntervalIgnoredWithIRQ(t *testing.T) {
	c := baseConfig("mcp251xfd")
	c.irqGPIO = 25
	c.pollEvery = 0
	if err := c.validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
}

func TestClockDefaultsPerFamily(t *testing.T) {
	if got := baseConfig("mcp251xfd").clockOrDefault(); got != "40MHz" {
		t.Fatalf("fd clock %s", got)
	}
	if got := baseConfig("mcp2515").clockOrDefault(); got != "16MHz" {
		t.Fatalf("classic clock %s", got)
	}
	c := baseConfig("mcp2515")
	c.clock = "8MHz"
	if got := c.clockOrDefault(); got != "8MHz" {
		t.Fatalf("explicit clock %s", got)
	}
}

func TestPrintBitrates(t *testing.T) {
	var buf bytes.Buffer
	printBitrates(&buf)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if !strings.HasPrefix(lines[0], "CHIP") {
		t.Fatalf("header %q", lines[0])
	}
	var fd, classic int
	for _, l := range lines[1:] {
		switch strings.Fields(l)[0] {
		case "fd":
			fd++
		case "classic":
			classic++
		}
	}
	if fd == 0 || classic != 8 {
		t.Fatalf("fd rows %d, classic rows %d", fd, classic)
	}
	if !strings.Contains(buf.String(), "40MHz") {
		t.Fatalf("no 40MHz row:\n%s", buf.String())
	}
}
