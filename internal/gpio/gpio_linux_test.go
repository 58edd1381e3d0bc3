//go:build linux

package gpio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// fakeLine stands in for a requested line; set drives the level and fires
// the edge handler on a falling transition.
type fakeLine struct {
	mu     sync.Mutex
	value  int
	err    error
	closed bool
	onEdge func(gpiocdev.LineEvent)
}

func (f *fakeLine) Value() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

func (f *fakeLine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeLine) set(v int) {
	f.mu.Lock()
	falling := f.value == 1 && v == 0
	f.value = v
	f.mu.Unlock()
	if falling {
		f.onEdge(gpiocdev.LineEvent{Type: gpiocdev.LineEventFallingEdge})
	}
}

func withFakeLine(t *testing.T, value int) (*fakeLine, *string, *int) {
	t.Helper()
	f := &fakeLine{value: value}
	var chip string
	var offset int
	old := requestLine
	requestLine = func(c string, o int, onEdge func(gpiocdev.LineEvent)) (handle, error) {
		chip, offset = c, o
		f.onEdge = onEdge
		return f, nil
	}
	t.Cleanup(func() { requestLine = old })
	return f, &chip, &offset
}

func TestOpenDefaultsChip(t *testing.T) {
	f, chip, offset := withFakeLine(t, 1)
	l, err := Open("", 17)
	if err != nil {
		t.Fatal(err)
	}
	if *chip != DefaultChip || *offset != 17 {
		t.Fatalf("requested %s:%d", *chip, *offset)
	}
	if err := l.Close(); err != nil || !f.closed {
		t.Fatalf("close: %v closed=%v", err, f.closed)
	}
}

func TestOpenRequestError(t *testing.T) {
	old := requestLine
	requestLine = func(string, int, func(gpiocdev.LineEvent)) (handle, error) {
		return nil, errors.New("device or resource busy")
	}
	defer func() { requestLine = old }()
	if _, err := Open("gpiochip1", 5); err == nil {
		t.Fatal("expected error")
	}
}

func TestWaitLowImmediate(t *testing.T) {
	withFakeLine(t, 0)
	l, err := Open("", 4)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	if err := l.WaitLow(context.Background()); err != nil {
		t.Fatalf("WaitLow: %v", err)
	}
}

func TestWaitLowWakesOnFallingEdge(t *testing.T) {
	f, _, _ := withFakeLine(t, 1)
	l, err := Open("", 4)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	done := make(chan error, 1)
	go func() { done <- l.WaitLow(context.Background()) }()
	time.Sleep(10 * time.Millisecond)
	f.set(0)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitLow: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitLow did not wake on the edge")
	}
}

func TestWaitLowCancelled(t *testing.T) {
	f, _, _ := withFakeLine(t, 1)
	l, err := Open("", 4)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.WaitLow(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	// An edge seen while nobody waited must not break the next wait.
	f.set(0)
	f.set(1)
	f.set(0)
	if err := l.WaitLow(context.Background()); err != nil {
		t.Fatalf("second WaitLow: %v", err)
	}
}

func TestWaitLowReadError(t *testing.T) {
	f, _, _ := withFakeLine(t, 1)
	l, err := Open("", 4)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	boom := errors.New("boom")
	f.mu.Lock()
	f.err = boom
	f.mu.Unlock()
	if err := l.WaitLow(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}
