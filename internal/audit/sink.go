package audit

import (
	"io"

	"github.com/rs/zerolog"
)

// Fact statuses emitted by the gateway
const (
	StatusAuthOK       = "AUTH_OK"
	StatusAuthFailed   = "AUTH_FAILED"
	StatusIPBlocked    = "IP_BLOCKED"
	StatusStart        = "START"
	StatusSuccess      = "SUCCESS"
	StatusBackendError = "BACKEND_ERROR"
	StatusError        = "ERROR"
)

// Sink writes structured request facts as one JSON line each
type Sink struct {
	logger  zerolog.Logger
	enabled bool
}

// NewSink creates a sink writing to w. A disabled sink drops every fact.
func NewSink(w io.Writer, enabled bool) *Sink {
	return &Sink{
		logger:  zerolog.New(w).With().Timestamp().Logger(),
		enabled: enabled,
	}
}

// Nop returns a sink that records nothing
func Nop() *Sink {
	return &Sink{logger: zerolog.Nop()}
}

// Enabled reports whether facts are being recorded
func (s *Sink) Enabled() bool {
	return s != nil && s.enabled
}

// Record emits a fact for a request from ip against endpoint
func (s *Sink) Record(ip, endpoint, status string, details map[string]any) {
	if !s.Enabled() {
		return
	}
	if details == nil {
		details = map[string]any{}
	}
	s.logger.Log().
		Str("ip", ip).
		Str("endpoint", endpoint).
		Str("status", status).
		Interface("details", details).
		Msg("REQUEST")
}
