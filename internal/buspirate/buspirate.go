// Package buspirate implements spi.Conn on a Bus Pirate in binary SPI mode,
// reached through a serial port.
package buspirate

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/kstaniek/go-mcp25xx/internal/logging"
)

var (
	ErrNoBinaryMode = errors.New("buspirate: no binary mode response")
	ErrNoSPIMode    = errors.New("buspirate: no spi mode response")
	ErrCommand      = errors.New("buspirate: command rejected")
	ErrTooLong      = errors.New("buspirate: transfer exceeds 4096 bytes")
	ErrTimeout      = errors.New("buspirate: read timeout")
)

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// openPort is replaced in tests.
var openPort = func(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}

// Speed is the SPI clock selector of the binary SPI mode.
type Speed uint8

const (
	Speed30k Speed = iota
	Speed125k
	Speed250k
	Speed1M
	Speed2M6
	Speed2M6b
	Speed4M
	Speed8M
)

// ParseSpeed accepts 30k, 125k, 250k, 1M, 2.6M, 4M and 8M.
func ParseSpeed(s string) (Speed, error) {
	switch s {
	case "30k":
		return Speed30k, nil
	case "125k":
		return Speed125k, nil
	case "250k":
		return Speed250k, nil
	case "1M":
		return Speed1M, nil
	case "2.6M":
		return Speed2M6, nil
	case "4M":
		return Speed4M, nil
	case "8M":
		return Speed8M, nil
	}
	return 0, fmt.Errorf("buspirate: unknown speed %q", s)
}

// Options configures the SPI engine.
type Options struct {
	Baud        int
	ReadTimeout time.Duration
	Speed       Speed
	// Config is the low nibble of the "SPI config" command: 3.3V output,
	// idle clock polarity, output edge and sample phase.
	Config uint8
	// Power turns on the supply pins.
	Power bool
}

// DefaultOptions suits the controller family: SPI mode 0, 1 MHz, 3.3V
// push-pull, power on.
func DefaultOptions() Options {
	return Options{Baud: 115200, ReadTimeout: 100 * time.Millisecond, Speed: Speed1M, Config: 0x0A, Power: true}
}

const (
	cmdReset       = 0x00
	cmdSPI         = 0x01
	cmdWriteRead   = 0x04
	cmdPeripherals = 0x40
	cmdSpeed       = 0x60
	cmdConfig      = 0x80
	cmdHardReset   = 0x0F

	maxTransfer  = 4096
	maxBBIOTries = 20
	maxIdleReads = 10
)

// Conn is one Bus Pirate in binary SPI mode.
type Conn struct {
	mu sync.Mutex
	p  Port
}

// Open opens the serial port and switches the Bus Pirate to binary SPI.
func Open(name string, o Options) (*Conn, error) {
	p, err := openPort(name, o.Baud, o.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	c, err := New(p, o)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	logging.L().Info("buspirate_open", "port", name, "baud", o.Baud, "speed", int(o.Speed))
	return c, nil
}

// New drives an already open port into binary SPI mode.
func New(p Port, o Options) (*Conn, error) {
	c := &Conn{p: p}
	if err := c.enterBinary(); err != nil {
		return nil, err
	}
	if err := c.expect([]byte{cmdSPI}, "SPI1", ErrNoSPIMode); err != nil {
		return nil, err
	}
	if err := c.command(cmdSpeed | byte(o.Speed)&0x07); err != nil {
		return nil, err
	}
	if err := c.command(cmdConfig | o.Config&0x0F); err != nil {
		return nil, err
	}
	var per byte = 0x01 // CS high (idle)
	if o.Power {
		per |= 0x08
	}
	if err := c.command(cmdPeripherals | per); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Conn) enterBinary() error {
	for i := 0; i < maxBBIOTries; i++ {
		if err := c.expect([]byte{cmdReset}, "BBIO1", ErrNoBinaryMode); err == nil {
			return nil
		}
	}
	return ErrNoBinaryMode
}

func (c *Conn) expect(cmd []byte, reply string, sentinel error) error {
	if _, err := c.p.Write(cmd); err != nil {
		return err
	}
	b := make([]byte, len(reply))
	if err := c.readFull(b); err != nil {
		return fmt.Errorf("%w: %v", sentinel, err)
	}
	if string(b) != reply {
		return fmt.Errorf("%w: got %q", sentinel, b)
	}
	return nil
}

func (c *Conn) command(b byte) error {
	if _, err := c.p.Write([]byte{b}); err != nil {
		return err
	}
	var ack [1]byte
	if err := c.readFull(ack[:]); err != nil {
		return err
	}
	if ack[0] != 0x01 {
		return fmt.Errorf("%w: 0x%02X -> 0x%02X", ErrCommand, b, ack[0])
	}
	return nil
}

// readFull reads len(b) bytes. The port returns no data on a read timeout;
// too many empty reads in a row give up.
func (c *Conn) readFull(b []byte) error {
	idle := 0
	for n := 0; n < len(b); {
		m, err := c.p.Read(b[n:])
		if err != nil {
			return err
		}
		if m == 0 {
			idle++
			if idle >= maxIdleReads {
				return ErrTimeout
			}
			continue
		}
		idle = 0
		n += m
	}
	return nil
}

// Tx implements spi.Conn with the write-then-read command; chip select is
// asserted for the whole transaction.
func (c *Conn) Tx(w, r []byte) error {
	if len(w) > maxTransfer || len(r) > maxTransfer {
		return ErrTooLong
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := make([]byte, 0, 5+len(w))
	msg = append(msg, cmdWriteRead,
		byte(len(w)>>8), byte(len(w)),
		byte(len(r)>>8), byte(len(r)))
	msg = append(msg, w...)
	if _, err := c.p.Write(msg); err != nil {
		return err
	}
	var ack [1]byte
	if err := c.readFull(ack[:]); err != nil {
		return err
	}
	if ack[0] != 0x01 {
		return fmt.Errorf("%w: write-then-read status 0x%02X", ErrCommand, ack[0])
	}
	if len(r) == 0 {
		return nil
	}
	return c.readFull(r)
}

// Close leaves binary mode and closes the port.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = c.p.Write([]byte{cmdReset, cmdHardReset})
	return c.p.Close()
}
