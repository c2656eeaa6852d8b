package proxy

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/wireproxy/mysqlwire/internal/wire"
)

// HandlerFactory builds a fresh wire.Handler for a new pipe. Spec.md §3:
// "the spec gives one handler instance per pipe" — a handler may be
// stateful across calls on a single pipe but must not be shared between
// pipes unless the factory itself arranges shared state behind its own
// synchronization (spec.md §9 "Handler statefulness").
type HandlerFactory func() wire.Handler

// settings is an immutable point-in-time view of the mutable fields a
// config reload can change. Stored in atomic.Value for lock-free reads on
// the accept-connection hot path, mirroring the teacher's
// internal/router.Router snapshot/atomic.Value pattern.
type settings struct {
	cfg     Config
	handler HandlerFactory
}

// Server is the listening socket that accepts client connections and
// dials the upstream MySQL server, delivering a connected pair plus a
// handler instance to a Pipe. Spec.md §1 calls this an "external
// collaborator, not respecified" by the core — its only obligation toward
// the core is exactly that delivery.
type Server struct {
	upstream string
	metrics  Metrics
	log      *slog.Logger

	snap atomic.Value // holds *settings
	wmu  sync.Mutex   // serializes Reload calls (rare)

	ln net.Listener
	wg sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	active atomic.Int64
}

// NewServer constructs a Server dialing upstream for every accepted
// client connection and running handler() as the pipe's handler.
func NewServer(upstream string, handler HandlerFactory, cfg Config, m Metrics, log *slog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		upstream: upstream,
		metrics:  m,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.snap.Store(&settings{cfg: resolveConfig(cfg), handler: handler})
	return s
}

// Reload atomically swaps the handler factory and backpressure water
// marks. New connections pick up both immediately; already-open pipes
// pick up the new water marks on their next backpressure check (they were
// constructed with WithConfigSource(s.currentConfig)) but keep the handler
// instance they started with, per spec.md §3's one-handler-per-pipe
// invariant — swapping a stateful handler out from under an in-flight
// pipe would corrupt whatever state it was tracking.
func (s *Server) Reload(cfg Config, handler HandlerFactory) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.snap.Store(&settings{cfg: resolveConfig(cfg), handler: handler})
}

// loadSettings returns the current settings snapshot (lock-free read).
func (s *Server) loadSettings() *settings {
	return s.snap.Load().(*settings)
}

// currentConfig returns the live backpressure config, resolved against
// defaults. Passed to Pipe.WithConfigSource so active pipes observe a
// Reload without restarting.
func (s *Server) currentConfig() Config {
	return s.loadSettings().cfg
}

// Listen starts accepting client connections on addr. It returns once the
// listener is bound; connection handling happens on background
// goroutines until Stop is called.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("proxy: listening on %s: %w", addr, err)
	}
	s.ln = ln
	log.Printf("[proxy] listening on %s, forwarding to %s", addr, s.upstream)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()
	return nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				log.Printf("[proxy] accept error: %v", err)
				continue
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) handleConnection(client net.Conn) {
	defer client.Close()

	server, err := net.Dial("tcp", s.upstream)
	if err != nil {
		log.Printf("[proxy] dialing upstream %s: %v", s.upstream, err)
		return
	}
	defer server.Close()

	s.active.Add(1)
	defer s.active.Add(-1)

	st := s.loadSettings()
	pipe := NewPipe(client, server, st.handler(), st.cfg, s.metrics, s.log).WithConfigSource(s.currentConfig)
	if err := pipe.Run(s.ctx); err != nil && s.ctx.Err() == nil {
		log.Printf("[proxy] pipe error: %v", err)
	}
}

// ActivePipes reports the number of currently active client/server
// pipes, for the admin API's /stats endpoint.
func (s *Server) ActivePipes() int {
	return int(s.active.Load())
}

// Stop closes the listener and waits for every in-flight pipe to
// terminate.
func (s *Server) Stop() {
	s.cancel()
	if s.ln != nil {
		s.ln.Close()
	}
	s.wg.Wait()
	log.Printf("[proxy] server stopped")
}
