// Package api implements the admin HTTP surface: health, metrics, and
// stats, trimmed down from the teacher's tenant-CRUD REST API to the
// three endpoints SPEC_FULL.md's ambient stack calls for, with
// X-API-Key auth upgraded from plaintext comparison to bcrypt.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/wireproxy/mysqlwire/internal/metrics"
)

// PipeCounter reports the number of currently active pipes for /stats.
type PipeCounter interface {
	ActivePipes() int
}

// Server is the admin REST API and metrics server.
type Server struct {
	metrics    *metrics.Collector
	pipes      PipeCounter
	httpServer *http.Server
	startTime  time.Time
	keyHash    []byte // bcrypt hash of the configured API key; nil disables auth
}

// NewServer creates a new admin API server. If apiKey is empty, the
// server serves every endpoint unauthenticated — suitable for local
// development.
func NewServer(m *metrics.Collector, pipes PipeCounter, apiKey string) (*Server, error) {
	s := &Server{
		metrics:   m,
		pipes:     pipes,
		startTime: time.Now(),
	}
	if apiKey != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("api: hashing admin key: %w", err)
		}
		s.keyHash = hash
	}
	return s, nil
}

// routes builds the router Start installs. Split out so tests can drive
// handlers with httptest without binding a real socket.
func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.authMiddleware)

	r.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	r.HandleFunc("/stats", s.statsHandler).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})).Methods("GET")
	return r
}

// Start starts the HTTP admin server listening on addr.
func (s *Server) Start(addr string) error {
	r := s.routes()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Printf("[api] admin API listening on %s", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the admin server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// authMiddleware rejects requests missing a valid X-API-Key header,
// unless no key was configured. /healthz stays open regardless, so
// load balancers don't need credentials to probe liveness.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.keyHash == nil || r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" || bcrypt.CompareHashAndPassword(s.keyHash, []byte(key)) != nil {
			writeError(w, http.StatusUnauthorized, "missing or invalid X-API-Key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	active := 0
	if s.pipes != nil {
		active = s.pipes.ActivePipes()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
		"active_pipes":   active,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
