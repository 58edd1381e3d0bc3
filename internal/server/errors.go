package server

import (
	"errors"
	"fmt"

	"github.com/kstaniek/go-mcp25xx/internal/metrics"
)

// Sentinel errors for classification with errors.Is.
var (
	ErrListen    = errors.New("listen")
	ErrAccept    = errors.New("accept")
	ErrHandshake = errors.New("handshake")
	ErrConnRead  = errors.New("conn_read")
	ErrConnWrite = errors.New("conn_write")
	ErrBackendTx = errors.New("backend_tx")
	ErrContext   = errors.New("context_cancelled")
)

var errLabels = []struct {
	kind  error
	label string
}{
	{ErrListen, metrics.ErrTCPRead},
	{ErrAccept, metrics.ErrTCPRead},
	{ErrConnRead, metrics.ErrTCPRead},
	{ErrConnWrite, metrics.ErrTCPWrite},
	{ErrHandshake, metrics.ErrHandshake},
	{ErrBackendTx, metrics.ErrChipWrite},
	{ErrContext, "context"},
}

// mapErrToMetric returns the metrics label of the first sentinel err wraps.
func mapErrToMetric(err error) string {
	for _, e := range errLabels {
		if errors.Is(err, e.kind) {
			return e.label
		}
	}
	return "other"
}

// fail wraps cause in kind, counts it and records it as the last error.
func (s *Server) fail(kind, cause error) error {
	err := fmt.Errorf("%w: %w", kind, cause)
	metrics.IncError(mapErrToMetric(err))
	s.errMu.Lock()
	s.lastErr = err
	s.errMu.Unlock()
	select {
	case s.errs <- err:
	default:
	}
	return err
}

// LastError is the most recent error recorded by the server.
func (s *Server) LastError() error { s.errMu.Lock(); defer s.errMu.Unlock(); return s.lastErr }
