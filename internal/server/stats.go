package server

import "sync/atomic"

// Stats counts connection events since the server was created.
type Stats struct {
	Accepted        uint64
	HandshakeFail   uint64
	Rejected        uint64
	Connected       uint64
	Disconnected    uint64
	BackendOverflow uint64
	BackendErrors   uint64
}

type counters struct {
	accepted        atomic.Uint64
	handshakeFail   atomic.Uint64
	rejected        atomic.Uint64
	connected       atomic.Uint64
	disconnected    atomic.Uint64
	backendOverflow atomic.Uint64
	backendErrors   atomic.Uint64
}

func (s *Server) Stats() Stats {
	c := &s.stats
	return Stats{
		Accepted:        c.accepted.Load(),
		HandshakeFail:   c.handshakeFail.Load(),
		Rejected:        c.rejected.Load(),
		Connected:       c.connected.Load(),
		Disconnected:    c.disconnected.Load(),
		BackendOverflow: c.backendOverflow.Load(),
		BackendErrors:   c.backendErrors.Load(),
	}
}

func (st Stats) attrs() []any {
	return []any{
		"accepted", st.Accepted,
		"handshake_fail", st.HandshakeFail,
		"rejected", st.Rejected,
		"connected", st.Connected,
		"disconnected", st.Disconnected,
		"backend_overflow", st.BackendOverflow,
		"backend_errors", st.BackendErrors,
	}
}
