//go:build linux

package spidev

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-mcp25xx/internal/logging"
)

// Linux spidev ioctl requests (magic 'k').
const (
	iocWrMode        = 0x40016B01
	iocWrBitsPerWord = 0x40016B03
	iocWrMaxSpeedHz  = 0x40046B04
)

// iocMessage returns SPI_IOC_MESSAGE(n).
func iocMessage(n int) uintptr {
	return uintptr(0x40006B00 | (n*xferSize)<<16)
}

// xfer mirrors struct spi_ioc_transfer.
type xfer struct {
	txBuf       uint64
	rxBuf       uint64
	len         uint32
	speedHz     uint32
	delayUsecs  uint16
	bitsPerWord uint8
	csChange    uint8
	txNbits     uint8
	rxNbits     uint8
	wordDelay   uint8
	pad         uint8
}

const xferSize = 32

// ioctlFn is replaced in tests.
var ioctlFn = func(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, e := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if e != 0 {
		return e
	}
	return nil
}

var openFn = func(path string) (int, error) { return unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0) }

// Device is an open /dev/spidevB.C node.
type Device struct {
	mu   sync.Mutex
	fd   int
	opts Options
}

// Open opens path and applies mode, word size and clock.
func Open(path string, o Options) (*Device, error) {
	if o.BitsPerWord == 0 {
		o.BitsPerWord = 8
	}
	fd, err := openFn(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	d := &Device{fd: fd, opts: o}
	mode := o.Mode
	bits := o.BitsPerWord
	speed := o.SpeedHz
	for _, s := range []struct {
		name string
		req  uintptr
		arg  unsafe.Pointer
	}{
		{"mode", iocWrMode, unsafe.Pointer(&mode)},
		{"bits_per_word", iocWrBitsPerWord, unsafe.Pointer(&bits)},
		{"max_speed_hz", iocWrMaxSpeedHz, unsafe.Pointer(&speed)},
	} {
		if err := ioctlFn(fd, s.req, s.arg); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("spidev %s: set %s: %w", path, s.name, err)
		}
	}
	logging.L().Info("spidev_open", "path", path, "speed_hz", o.SpeedHz, "mode", o.Mode)
	return d, nil
}

// Tx implements spi.Conn as one message of up to two transfers, so chip
// select stays asserted between the command and the read phase.
func (d *Device) Tx(w, r []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var xs [2]xfer
	n := 0
	if len(w) > 0 {
		xs[n] = d.transfer(len(w))
		xs[n].txBuf = uint64(uintptr(unsafe.Pointer(&w[0])))
		n++
	}
	if len(r) > 0 {
		xs[n] = d.transfer(len(r))
		xs[n].rxBuf = uint64(uintptr(unsafe.Pointer(&r[0])))
		n++
	}
	if n == 0 {
		return nil
	}
	err := ioctlFn(d.fd, iocMessage(n), unsafe.Pointer(&xs[0]))
	runtime.KeepAlive(w)
	runtime.KeepAlive(r)
	if err != nil {
		return fmt.Errorf("spidev transfer: %w", err)
	}
	return nil
}

func (d *Device) transfer(n int) xfer {
	return xfer{len: uint32(n), speedHz: d.opts.SpeedHz, bitsPerWord: d.opts.BitsPerWord}
}

// Close closes the device node.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return unix.Close(d.fd)
}
