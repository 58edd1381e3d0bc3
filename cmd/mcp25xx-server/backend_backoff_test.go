package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-mcp25xx/internal/can"
	"github.com/kstaniek/go-mcp25xx/internal/hub"
	"github.com/kstaniek/go-mcp25xx/internal/spi"
)

// failingChip fails every receive with a transport error.
type failingChip struct{ fakeChip }

func (f *failingChip) Receive() (can.Frame, error) {
	return can.Frame{}, fmt.Errorf("%w: read: %w", spi.ErrCRC, errors.New("bad wire"))
}

func TestRxLoopBackoffProgression(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen []time.Duration
	prev := sleepFn
	sleepFn = func(d time.Duration) {
		mu.Lock()
		if len(seen) < 8 {
			seen = append(seen, d)
			if len(seen) == 8 {
				cancel()
			}
		}
		mu.Unlock()
	}
	defer func() { sleepFn = prev }()

	rxLoop(ctx, &failingChip{}, false, time.Millisecond, hub.New(), nil, testLogger())

	if len(seen) != 8 {
		t.Fatalf("expected 8 backoff samples, got %d", len(seen))
	}
	if seen[0] != rxBackoffMin {
		t.Fatalf("expected first backoff %v got %v", rxBackoffMin, seen[0])
	}
	prevD := time.Duration(0)
	for i, d := range seen {
		if d < prevD {
			t.Fatalf("backoff decreased at %d: prev=%v cur=%v", i, prevD, d)
		}
		if d > rxBackoffMax {
			t.Fatalf("backoff exceeded max at %d: %v > %v", i, d, rxBackoffMax)
		}
		prevD = d
	}
	if seen[len(seen)-1] != rxBackoffMax {
		t.Fatalf("backoff never reached max: %v", seen)
	}
}

func TestRxLoopPollsWhenEmpty(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var n int
	prev := sleepFn
	sleepFn = func(d time.Duration) {
		if d != 3*time.Millisecond {
			t.Errorf("slept %v, want poll interval", d)
		}
		if n++; n == 3 {
			cancel()
		}
	}
	defer func() { sleepFn = prev }()
	rxLoop(ctx, &fakeChip{}, false, 3*time.Millisecond, hub.New(), nil, testLogger())
	if n != 3 {
		t.Fatalf("polled %d times", n)
	}
}
