//go:build linux

package gpio

import (
	"context"
	"fmt"

	"github.com/warthog618/go-gpiocdev"

	"github.com/kstaniek/go-mcp25xx/internal/logging"
)

const consumer = "mcp25xx-irq"

// handle is the part of a requested line the package uses.
type handle interface {
	Value() (int, error)
	Close() error
}

// requestLine is replaced in tests.
var requestLine = func(chip string, offset int, onEdge func(gpiocdev.LineEvent)) (handle, error) {
	return gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsInput,
		gpiocdev.WithConsumer(consumer),
		gpiocdev.WithFallingEdge,
		gpiocdev.WithEventHandler(onEdge),
	)
}

// Line is one requested input with falling-edge notification.
type Line struct {
	chip   string
	offset int
	h      handle
	edge   chan struct{}
}

// Open requests offset on chip as an input with falling-edge events. An
// empty chip selects DefaultChip.
func Open(chip string, offset int) (*Line, error) {
	if chip == "" {
		chip = DefaultChip
	}
	l := &Line{chip: chip, offset: offset, edge: make(chan struct{}, 1)}
	h, err := requestLine(chip, offset, l.onEdge)
	if err != nil {
		return nil, fmt.Errorf("gpio %s:%d request: %w", chip, offset, err)
	}
	l.h = h
	logging.L().Debug("gpio_open", "chip", chip, "offset", offset)
	return l, nil
}

func (l *Line) onEdge(gpiocdev.LineEvent) {
	select {
	case l.edge <- struct{}{}:
	default:
	}
}

// Low reports whether the line currently reads 0.
func (l *Line) Low() (bool, error) {
	v, err := l.h.Value()
	if err != nil {
		return false, err
	}
	return v == 0, nil
}

// WaitLow returns as soon as the line is low. Otherwise it waits for the
// next falling edge or for ctx to end.
func (l *Line) WaitLow(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		low, err := l.Low()
		if err != nil {
			return fmt.Errorf("gpio %s:%d read: %w", l.chip, l.offset, err)
		}
		if low {
			return nil
		}
		select {
		case <-l.edge:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close releases the line request.
func (l *Line) Close() error { return l.h.Close() }
