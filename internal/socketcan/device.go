//go:build linux

package socketcan

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-mcp25xx/internal/can"
)

// readTimeout bounds a blocking ReadFrame.
const readTimeout = 250 * time.Millisecond

type Device struct {
	fd     int
	fdMode bool
}

// Open binds a raw CAN socket to iface. With fdFrames the socket also
// carries CAN FD frames; the interface must have the FD MTU then.
func Open(iface string, fdFrames bool) (*Device, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	on := 0
	if fdFrames {
		on = 1
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, on); err != nil {
		if fdFrames || err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("set CAN_RAW_FD_FRAMES=%d: %w", on, err)
		}
	}
	tv := unix.NsecToTimeval(readTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("set SO_RCVTIMEO: %w", err)
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	return &Device{fd: fd, fdMode: fdFrames}, nil
}

func (d *Device) Close() error { return unix.Close(d.fd) }

// ReadFrame reads one classic or FD frame.
func (d *Device) ReadFrame(fr *can.Frame) error {
	var buf [canfdMTU]byte
	n, err := unix.Read(d.fd, buf[:])
	if err == unix.EAGAIN || err == unix.EINTR {
		return ErrReadTimeout
	}
	if err != nil {
		return err
	}
	return unmarshal(buf[:n], fr)
}

// WriteFrame writes fr; FD frames need a socket opened with fdFrames.
func (d *Device) WriteFrame(fr can.Frame) error {
	if fr.IsFD() && !d.fdMode {
		return ErrFDDisabled
	}
	var buf [canfdMTU]byte
	_, err := unix.Write(d.fd, marshal(buf[:], fr))
	return err
}
