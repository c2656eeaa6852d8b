// Package proxy implements the bidirectional pipe that couples a MySQL
// client connection to a backend server connection through a
// wire.Handler, per spec.md §4.2-§4.4.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/wireproxy/mysqlwire/internal/wire"
)

// Metrics is the subset of internal/metrics.Collector the pipe reports
// to. Kept as an interface so the pipe package doesn't import metrics
// directly and can be tested without a real collector.
type Metrics interface {
	PacketForwarded(direction string, action string)
	BytesTransferred(direction string, n int)
	HalfClose(side string)
	PipeError(kind string)
	PipeOpened()
	PipeClosed()
}

// Config tunes the pipe's backpressure behavior (spec.md §5/§9). Zero
// values fall back to DefaultHighWaterMark/DefaultLowWaterMark.
type Config struct {
	HighWaterMark int
	LowWaterMark  int
}

// Default water marks, per SPEC_FULL.md: 4 MiB high, 1 MiB low.
const (
	DefaultHighWaterMark = 4 << 20
	DefaultLowWaterMark  = 1 << 20
)

// resolveConfig fills in zero-valued water marks with their defaults.
// Shared by NewPipe and Server's live config source so both apply the
// same defaulting rule.
func resolveConfig(cfg Config) Config {
	if cfg.HighWaterMark <= 0 {
		cfg.HighWaterMark = DefaultHighWaterMark
	}
	if cfg.LowWaterMark <= 0 {
		cfg.LowWaterMark = DefaultLowWaterMark
	}
	return cfg
}

// TransportError wraps any I/O failure from a read or write that is not
// an orderly half-close (spec.md §7). It is fatal to the pipe.
type TransportError struct {
	Side string // "client" or "server"
	Op   string // "read" or "write"
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("proxy: %s %s: %v", e.Side, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// halfCloser is implemented by *net.TCPConn and *net.UnixConn; the pipe
// uses it to shut down one direction of a connection without closing the
// whole socket (spec.md §4.4 step 2/5, §9).
type halfCloser interface {
	CloseWrite() error
}

// Pipe couples one client/server connection pair through a single
// wire.Handler (spec.md §3 "Pipe"). Construct with NewPipe and drive to
// completion with Run; a Pipe is used once.
type Pipe struct {
	client  net.Conn
	server  net.Conn
	handler wire.Handler
	cfg     Config
	// cfgSource, if set, is consulted instead of cfg on every backpressure
	// check, so a Pipe started by proxy.Server picks up a live config
	// reload (SPEC_FULL.md "Hot reload": water marks apply to active
	// pipes, not just newly accepted connections) without restarting.
	cfgSource func() Config
	metrics   Metrics
	log       *slog.Logger
}

// NewPipe constructs a pipe over an already-connected client/server pair
// and a handler instance dedicated to this pipe (spec.md §3 "Handler").
// cfg is a one-time snapshot; use WithConfigSource for a pipe whose water
// marks should track a live, externally-reloaded Config.
func NewPipe(client, server net.Conn, handler wire.Handler, cfg Config, m Metrics, log *slog.Logger) *Pipe {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = noopMetrics{}
	}
	return &Pipe{client: client, server: server, handler: handler, cfg: resolveConfig(cfg), metrics: m, log: log}
}

// WithConfigSource makes the pipe read its backpressure configuration from
// source on every check instead of the static snapshot passed to NewPipe.
// Returns p for chaining.
func (p *Pipe) WithConfigSource(source func() Config) *Pipe {
	p.cfgSource = source
	return p
}

// currentConfig returns the pipe's live config if a source is set,
// otherwise its fixed snapshot.
func (p *Pipe) currentConfig() Config {
	if p.cfgSource != nil {
		return p.cfgSource()
	}
	return p.cfg
}

// chunk is one delivery from a read pump to the orchestrator: either data
// read from the socket, or a terminal error (spec.md §7).
type chunk struct {
	data []byte
	err  error
}

// writeReq is one delivery from the orchestrator to a write pump.
type writeReq struct {
	data []byte
}

// Run drives the pipe to completion: it couples the client and server
// connections until both sides have read cleanly to EOF, or a
// TransportError occurs on either side. It blocks until the pipe
// terminates or ctx is canceled.
//
// The orchestration goroutine below is the sole owner of all pipe state
// (both Readers, both Writers, gating flags) — exactly spec.md §5's "no
// synchronization primitives required within a pipe." The read/write pump
// goroutines exist only to turn blocking socket calls into channel
// events; a pump parked in conn.Read/Write is the Go-native equivalent of
// "the task must arrange to be awoken by an I/O readiness event" (spec.md
// §9) without spinning — the Go runtime's netpoller parks and wakes the
// goroutine for us.
func (p *Pipe) Run(ctx context.Context) error {
	p.metrics.PipeOpened()
	defer p.metrics.PipeClosed()
	defer p.client.Close()
	defer p.server.Close()

	clientChunks := make(chan chunk)
	serverChunks := make(chan chunk)
	clientWriteIn := make(chan writeReq)
	serverWriteIn := make(chan writeReq)
	clientWriteAck := make(chan error, 1)
	serverWriteAck := make(chan error, 1)

	go readPump(p.client, clientChunks)
	go readPump(p.server, serverChunks)
	go writePump(p.client, clientWriteIn, clientWriteAck)
	go writePump(p.server, serverWriteIn, serverWriteAck)
	defer close(clientWriteIn)
	defer close(serverWriteIn)

	// Once Run returns (terminally or on ctx cancellation) the conn.Close
	// defers above unblock any pump still parked in conn.Read, which then
	// tries to deliver its terminal-error chunk. Nothing reads clientChunks
	// / serverChunks after the orchestrator below returns, so without a
	// drain the pump would send on an unbuffered channel forever. These
	// goroutines exist only to receive and discard that straggling send so
	// readPump can close its channel and exit.
	defer drainChunks(clientChunks)
	defer drainChunks(serverChunks)

	o := &orchestrator{
		pipe:           p,
		clientReader:   NewReader(),
		serverReader:   NewReader(),
		clientWriter:   NewWriter(),
		serverWriter:   NewWriter(),
		clientChunks:   clientChunks,
		serverChunks:   serverChunks,
		clientWriteIn:  clientWriteIn,
		serverWriteIn:  serverWriteIn,
		clientWriteAck: clientWriteAck,
		serverWriteAck: serverWriteAck,
	}
	return o.run(ctx)
}

// readPump blocks on conn.Read in a loop, forwarding every successful
// read and a single terminal error to out. It never writes to out
// concurrently with itself, so packet order within one direction is
// preserved end to end (spec.md §4.4 "Ordering guarantees").
func readPump(conn net.Conn, out chan<- chunk) {
	defer close(out)
	buf := make([]byte, 32*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			out <- chunk{data: data}
		}
		if err != nil {
			out <- chunk{err: err}
			return
		}
	}
}

// writePump accepts whole write requests and drains each fully to conn,
// handling partial writes internally, acking the result back to the
// orchestrator (spec.md §4.3).
func writePump(conn net.Conn, in <-chan writeReq, ack chan<- error) {
	for req := range in {
		_, err := conn.Write(req.data)
		ack <- err
	}
}

// drainChunks spawns a goroutine that discards every remaining value from
// ch until its producer closes it, so a read pump blocked sending its
// final chunk after the orchestrator has stopped listening can still
// deliver it and return.
func drainChunks(ch <-chan chunk) {
	go func() {
		for range ch {
		}
	}()
}

// noopMetrics discards everything; used when NewPipe is given a nil Metrics.
type noopMetrics struct{}

func (noopMetrics) PacketForwarded(string, string) {}
func (noopMetrics) BytesTransferred(string, int)   {}
func (noopMetrics) HalfClose(string)               {}
func (noopMetrics) PipeError(string)               {}
func (noopMetrics) PipeOpened()                    {}
func (noopMetrics) PipeClosed()                    {}

// halfCloseWrite shuts down the write side of conn without closing the
// read side, so any in-flight response traffic in the other direction can
// still be serviced (spec.md §4.4 "Shutdown ordering"). Connections that
// don't support a half-close (e.g. in tests, net.Pipe) are left alone;
// the pipe still terminates correctly once both reads end.
func halfCloseWrite(conn net.Conn) {
	if hc, ok := conn.(halfCloser); ok {
		_ = hc.CloseWrite()
	}
}

// isOrderlyClose reports whether err represents a clean, expected
// end-of-stream rather than a genuine transport failure (spec.md §7
// "ConnectionClosed" vs "TransportError").
func isOrderlyClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	return false
}
