// Package spidev implements spi.Conn on the Linux spidev character device.
package spidev

import "errors"

var ErrUnsupported = errors.New("spidev: only supported on linux")

// Options are the per-device SPI settings. Mode is the SPI mode (0..3).
type Options struct {
	SpeedHz     uint32
	Mode        uint8
	BitsPerWord uint8
}

// DefaultOptions is mode 0 at 10 MHz, within the FD controller's limit
// for a 40 MHz oscillator.
func DefaultOptions() Options { return Options{SpeedHz: 10_000_000, BitsPerWord: 8} }
