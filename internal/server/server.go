// Package server exposes the CAN bus to cannelloni peers over TCP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/kstaniek/go-mcp25xx/internal/can"
	"github.com/kstaniek/go-mcp25xx/internal/hub"
	"github.com/kstaniek/go-mcp25xx/internal/logging"
	"github.com/kstaniek/go-mcp25xx/internal/transport"
)

// SendFunc transmits a frame on the CAN bus.
type SendFunc func(can.Frame) error

const (
	defaultFlushInterval    = 5 * time.Millisecond
	defaultBatchSize        = 64
	defaultReadDeadline     = 60 * time.Second
	defaultHandshakeTimeout = 3 * time.Second
	defaultClientBuffer     = 512

	acceptBackoffMin = 5 * time.Millisecond
	acceptBackoffMax = time.Second
	keepAlivePeriod  = 30 * time.Second
)

type settings struct {
	addr             string
	flushInterval    time.Duration
	batchSize        int
	readDeadline     time.Duration
	handshakeTimeout time.Duration
	maxClients       int
	classicOnly      bool
	filter           func(*can.Frame) bool
}

// Server accepts cannelloni clients. Frames a client sends go to the
// SendFunc; hub broadcasts are streamed back to every client.
type Server struct {
	hub    *hub.Hub
	codec  transport.FrameDecoder
	send   SendFunc
	logger *slog.Logger
	cfg    settings

	mu       sync.Mutex
	ln       net.Listener
	stop     context.CancelFunc
	sessions map[*session]struct{}
	nextID   uint64

	ready     chan struct{}
	readyOnce sync.Once
	errs      chan error
	errMu     sync.Mutex
	lastErr   error

	wg    sync.WaitGroup
	stats counters
}

type ServerOption func(*Server)

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		logger: logging.L(),
		cfg: settings{
			addr:             ":0",
			flushInterval:    defaultFlushInterval,
			batchSize:        defaultBatchSize,
			readDeadline:     defaultReadDeadline,
			handshakeTimeout: defaultHandshakeTimeout,
		},
		sessions: make(map[*session]struct{}),
		ready:    make(chan struct{}),
		errs:     make(chan error, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func WithHub(h *hub.Hub) ServerOption                 { return func(s *Server) { s.hub = h } }
func WithCodec(c transport.FrameDecoder) ServerOption { return func(s *Server) { s.codec = c } }
func WithSend(fn SendFunc) ServerOption               { return func(s *Server) { s.send = fn } }

func WithListenAddr(a string) ServerOption {
	return func(s *Server) {
		if a != "" {
			s.cfg.addr = a
		}
	}
}

// WithFrameFilter drops client frames for which fn returns false before
// they reach the bus.
func WithFrameFilter(fn func(*can.Frame) bool) ServerOption {
	return func(s *Server) { s.cfg.filter = fn }
}

func WithFlushInterval(d time.Duration) ServerOption {
	return func(s *Server) { s.cfg.flushInterval = positive(d, s.cfg.flushInterval) }
}

func WithBatchSize(n int) ServerOption {
	return func(s *Server) { s.cfg.batchSize = positive(n, s.cfg.batchSize) }
}

func WithReadDeadline(d time.Duration) ServerOption {
	return func(s *Server) { s.cfg.readDeadline = positive(d, s.cfg.readDeadline) }
}

func WithHandshakeTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.cfg.handshakeTimeout = positive(d, s.cfg.handshakeTimeout) }
}

// WithMaxClients caps concurrent clients; 0 means no limit.
func WithMaxClients(n int) ServerOption {
	return func(s *Server) { s.cfg.maxClients = positive(n, 0) }
}

// WithClassicOnly keeps FD frames away from clients, for peers whose
// cannelloni build predates the FD extension.
func WithClassicOnly(on bool) ServerOption { return func(s *Server) { s.cfg.classicOnly = on } }

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func positive[T int | time.Duration](v, def T) T {
	if v > 0 {
		return v
	}
	return def
}

// Addr is the listen address; after Ready it holds the bound port.
func (s *Server) Addr() string { s.mu.Lock(); defer s.mu.Unlock(); return s.cfg.addr }

// SetListenAddr changes the address used by the next Serve.
func (s *Server) SetListenAddr(a string) { s.mu.Lock(); s.cfg.addr = a; s.mu.Unlock() }

func (s *Server) Ready() <-chan struct{} { return s.ready }
func (s *Server) Errors() <-chan error   { return s.errs }

// Serve listens and accepts clients until ctx is done or Shutdown is
// called. Each client is handled on its own goroutines, so a slow
// handshake does not hold up the accept loop.
func (s *Server) Serve(ctx context.Context) error {
	addr := s.Addr()
	if addr == "" {
		addr = ":0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return s.fail(ErrListen, err)
	}
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	s.mu.Lock()
	s.cfg.addr = ln.Addr().String()
	s.ln, s.stop = ln, stop
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })
	s.logger.Info("tcp_listen", "addr", ln.Addr().String())
	context.AfterFunc(ctx, func() { _ = ln.Close() })

	backoff := time.Duration(0)
	for {
		c, err := ln.Accept()
		if err == nil {
			backoff = 0
			s.stats.accepted.Add(1)
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.serveConn(ctx, c)
			}()
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		var ne net.Error
		if !errors.As(err, &ne) || errors.Is(err, net.ErrClosed) {
			return s.fail(ErrAccept, err)
		}
		backoff = min(max(backoff*2, acceptBackoffMin), acceptBackoffMax)
		s.logger.Warn("tcp_accept_retry", "error", err, "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		}
	}
}

// Shutdown stops accepting, closes every client and waits for their
// goroutines or ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stop != nil {
		s.stop()
	}
	if s.ln != nil {
		_ = s.ln.Close()
		s.ln = nil
	}
	for ss := range s.sessions {
		ss.close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
		s.logger.Info("shutdown_summary", s.Stats().attrs()...)
		return nil
	case <-ctx.Done():
		return errors.Join(ErrContext, ctx.Err())
	}
}
