package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-mcp25xx/internal/can"
	"github.com/kstaniek/go-mcp25xx/internal/metrics"
)

var ErrAsyncTxClosed = errors.New("async tx closed")

// AsyncTx funnels frame writes to one device through a single goroutine.
// SendFrame never blocks: with the queue full it returns the OnDrop error.
//
// A send that fails with can.ErrWouldBlock (controller queue full) is
// retried with exponential backoff according to Retry; other errors go to
// OnError at once. Frames still queued when Close is called are discarded.
type AsyncTx struct {
	mu     sync.Mutex
	ch     chan can.Frame
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(can.Frame) error
	hooks  Hooks
	retry  Retry
	closed atomic.Bool
}

// Hooks let each sink keep its own metrics and logging.
type Hooks struct {
	// OnError is called when a frame is given up on.
	OnError func(error)
	// OnAfter is called after a successful send.
	OnAfter func()
	// OnDrop is called when the queue is full; its error is returned from
	// SendFrame. Nil means silent best effort.
	OnDrop func() error
}

// Retry bounds the backoff for frames the controller cannot take yet.
// Limit 0 disables retrying.
type Retry struct {
	Limit int
	Min   time.Duration
	Max   time.Duration
}

// DefaultRetry waits 200µs, doubling up to 20ms, for at most 50 attempts.
var DefaultRetry = Retry{Limit: 50, Min: 200 * time.Microsecond, Max: 20 * time.Millisecond}

func (r Retry) delay(attempt int) time.Duration {
	d := r.Min
	for i := 0; i < attempt && d < r.Max; i++ {
		d *= 2
	}
	return min(d, r.Max)
}

type Option func(*AsyncTx)

func WithRetry(r Retry) Option { return func(a *AsyncTx) { a.retry = r } }

// NewAsyncTx starts the worker with a queue of size buf.
func NewAsyncTx(parent context.Context, buf int, send func(can.Frame) error, hooks Hooks, opts ...Option) *AsyncTx {
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncTx{
		ch:     make(chan can.Frame, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	for _, o := range opts {
		o(a)
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncTx) loop() {
	defer a.wg.Done()
	for {
		select {
		case fr, ok := <-a.ch:
			if !ok {
				return
			}
			if err := a.deliver(fr); err != nil {
				if a.hooks.OnError != nil {
					a.hooks.OnError(err)
				}
				continue
			}
			if a.hooks.OnAfter != nil {
				a.hooks.OnAfter()
			}
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *AsyncTx) deliver(fr can.Frame) error {
	for attempt := 0; ; attempt++ {
		err := a.send(fr)
		if err == nil || !errors.Is(err, can.ErrWouldBlock) {
			return err
		}
		if attempt >= a.retry.Limit {
			metrics.IncTxDropped()
			return err
		}
		metrics.IncTxRetry()
		t := time.NewTimer(a.retry.delay(attempt))
		select {
		case <-a.ctx.Done():
			t.Stop()
			return a.ctx.Err()
		case <-t.C:
		}
	}
}

// SendFrame queues fr for transmission.
func (a *AsyncTx) SendFrame(fr can.Frame) error {
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	select {
	case a.ch <- fr:
		return nil
	default:
		if a.hooks.OnDrop != nil {
			return a.hooks.OnDrop()
		}
		return nil
	}
}

// Close stops the worker and waits for it to exit.
func (a *AsyncTx) Close() {
	if a.closed.Swap(true) {
		return
	}
	a.cancel()
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
}
