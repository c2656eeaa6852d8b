// Package handlers provides the sample packet handlers described in
// spec.md §1 as "demonstrate the interface but are not part of the
// specification." They are direct ports of
// _examples/original_source/examples/proxy.rs's NoopHandler,
// PacketLoggingHandler, and AvocadoHandler.
package handlers

import (
	"log/slog"
	"strings"

	"github.com/wireproxy/mysqlwire/internal/wire"
)

// Passthrough forwards every packet unchanged. It exists to exercise the
// Handler interface and as a baseline for benchmarking, mirroring the
// original's NoopHandler.
type Passthrough struct{}

func (Passthrough) HandleRequest(p wire.Packet) wire.Action  { return wire.Forward() }
func (Passthrough) HandleResponse(p wire.Packet) wire.Action { return wire.Forward() }

// QueryLogger forwards every packet, logging the SQL text of every
// ComQuery request. Mirrors the original's PacketLoggingHandler.
type QueryLogger struct {
	Log *slog.Logger
}

// NewQueryLogger returns a QueryLogger writing to log, or slog.Default()
// if log is nil.
func NewQueryLogger(log *slog.Logger) *QueryLogger {
	if log == nil {
		log = slog.Default()
	}
	return &QueryLogger{Log: log}
}

func (h *QueryLogger) HandleRequest(p wire.Packet) wire.Action {
	if code, err := wire.ClassifyCommand(p); err == nil && code == wire.ComQuery {
		h.Log.Info("query", "sql", string(p.Payload()[1:]))
	}
	return wire.Forward()
}

func (h *QueryLogger) HandleResponse(p wire.Packet) wire.Action { return wire.Forward() }

// QueryRejector forwards every packet except ComQuery requests whose SQL
// text contains Substring, which it rejects with a synthesized error
// packet. Mirrors the original's AvocadoHandler (scenario S3 in
// spec.md §8); the default substring is literally "avocado" for fidelity
// to that scenario, but is configurable for reuse as a real query filter.
type QueryRejector struct {
	Substring string
	Log       *slog.Logger
}

// NewQueryRejector returns a QueryRejector rejecting queries containing
// substring (default "avocado" if empty), logging to log (or
// slog.Default() if nil).
func NewQueryRejector(substring string, log *slog.Logger) *QueryRejector {
	if substring == "" {
		substring = "avocado"
	}
	if log == nil {
		log = slog.Default()
	}
	return &QueryRejector{Substring: substring, Log: log}
}

func (h *QueryRejector) HandleRequest(p wire.Packet) wire.Action {
	code, err := wire.ClassifyCommand(p)
	if err != nil || code != wire.ComQuery {
		return wire.Forward()
	}
	sql := string(p.Payload()[1:])
	h.Log.Info("query", "sql", sql)
	if strings.Contains(sql, h.Substring) {
		return wire.Error(1064, "12345", "Proxy rejecting any "+h.Substring+"-related queries")
	}
	return wire.Forward()
}

func (h *QueryRejector) HandleResponse(p wire.Packet) wire.Action { return wire.Forward() }
