package server

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/kstaniek/go-mcp25xx/internal/cnl"
	"github.com/kstaniek/go-mcp25xx/internal/hub"
	"github.com/kstaniek/go-mcp25xx/internal/metrics"
)

// session is one connected cannelloni client.
type session struct {
	id     uint64
	conn   net.Conn
	client *hub.Client
	log    *slog.Logger

	closeOnce sync.Once
}

func (ss *session) close() {
	ss.closeOnce.Do(func() {
		_ = ss.conn.Close()
		ss.client.Close()
	})
}

// serveConn runs the hello exchange, admits the client and blocks until
// both of its loops have ended.
func (s *Server) serveConn(ctx context.Context, c net.Conn) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.mu.Unlock()
	log := s.logger.With("conn_id", id, "remote", c.RemoteAddr().String())
	if tcp, ok := c.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(keepAlivePeriod)
	}

	if err := cnl.Handshake(ctx, c, s.cfg.handshakeTimeout); err != nil {
		s.stats.handshakeFail.Add(1)
		log.Warn("handshake_failed", "error", s.fail(ErrHandshake, err))
		_ = c.Close()
		return
	}
	ss, ok := s.admit(ctx, id, c, log)
	if !ok {
		_ = c.Close()
		return
	}
	log.Info("client_connected")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.writeLoop(ctx, ss) }()
	go func() { defer wg.Done(); s.readLoop(ctx, ss) }()
	wg.Wait()

	s.drop(ss)
	s.stats.disconnected.Add(1)
	log.Info("client_disconnected")
}

// admit registers the client with the hub unless the server is full or
// shutting down.
func (s *Server) admit(ctx context.Context, id uint64, c net.Conn, log *slog.Logger) (*session, bool) {
	if limit := s.cfg.maxClients; limit > 0 && s.hub != nil && s.hub.Count() >= limit {
		s.stats.rejected.Add(1)
		metrics.IncHubReject()
		log.Warn("client_reject_max", "max_clients", limit)
		return nil, false
	}
	buf := defaultClientBuffer
	if s.hub != nil && s.hub.OutBufSize > 0 {
		buf = s.hub.OutBufSize
	}
	cl := hub.NewClient(buf)
	cl.ClassicOnly = s.cfg.classicOnly
	ss := &session{id: id, conn: c, client: cl, log: log}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return nil, false
	}
	s.sessions[ss] = struct{}{}
	if s.hub != nil {
		s.hub.Add(cl)
	}
	s.stats.connected.Add(1)
	return ss, true
}

func (s *Server) drop(ss *session) {
	ss.close()
	if s.hub != nil {
		s.hub.Remove(ss.client)
	}
	s.mu.Lock()
	delete(s.sessions, ss)
	s.mu.Unlock()
}
