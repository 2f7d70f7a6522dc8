// Package server exposes conversation sessions over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Divas-Gupta30/helix/helix-agent/internal/agent"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/logger"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/memory"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/metrics"
)

// EngineFactory builds the engine for a new session. Every session gets its
// own memory; engines never share one.
type EngineFactory func(sessionID string) (*agent.Engine, error)

// ArchiveReader reads archived turns back for a session.
type ArchiveReader interface {
	Recent(ctx context.Context, sessionID string, limit int) ([]memory.Turn, error)
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// ErrTooManySessions is returned when the session registry is full.
var ErrTooManySessions = errors.New("too many open sessions")

// Config configures a Server. MaxSessions caps open sessions and
// SessionIdleTTL closes sessions unused for that long; zero disables either.
type Config struct {
	ListenAddr      string
	ShutdownTimeout time.Duration
	MaxSessions     int
	SessionIdleTTL  time.Duration
}

type session struct {
	engine   *agent.Engine
	lastUsed time.Time
}

// Server routes HTTP requests to per-session engines.
type Server struct {
	config  Config
	factory EngineFactory
	router  *mux.Router

	mu       sync.Mutex
	sessions map[string]*session
	now      func() time.Time

	archive  ArchiveReader
	checks   map[string]HealthCheck
	recorder *metrics.Recorder
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records request metrics in r and serves g on /metrics.
func WithMetrics(r *metrics.Recorder, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.recorder = r
		s.gatherer = g
	}
}

// WithArchive enables GET /sessions/{id}/archive.
func WithArchive(a ArchiveReader) Option {
	return func(s *Server) {
		s.archive = a
	}
}

// WithHealthCheck adds a named dependency check to /health.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) {
		s.checks[name] = check
	}
}

// New returns a Server creating sessions with factory.
func New(cfg Config, factory EngineFactory, opts ...Option) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	s := &Server{
		config:   cfg,
		factory:  factory,
		sessions: make(map[string]*session),
		now:      time.Now,
		checks:   make(map[string]HealthCheck),
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)

	r.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/answer", s.handleAnswer).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/history", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/archive", s.handleArchive).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such route", "")
	})
	return r
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.config.SessionIdleTTL > 0 {
		go s.sweepIdle(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", s.config.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed to start: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	s.logger.Info("server exited")
	return nil
}

func (s *Server) createSession() (string, error) {
	s.mu.Lock()
	s.evictIdleLocked()
	full := s.config.MaxSessions > 0 && len(s.sessions) >= s.config.MaxSessions
	s.mu.Unlock()
	if full {
		return "", ErrTooManySessions
	}

	id := uuid.NewString()
	engine, err := s.factory(id)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.config.MaxSessions > 0 && len(s.sessions) >= s.config.MaxSessions {
		s.mu.Unlock()
		return "", ErrTooManySessions
	}
	s.sessions[id] = &session{engine: engine, lastUsed: s.now()}
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.SessionOpened()
	}
	return id, nil
}

// session looks id up and marks it used. An expired session is closed and
// reported missing.
func (s *Server) session(id string) (*agent.Engine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	now := s.now()
	if s.expired(sess, now) {
		s.closeLocked(id, "idle")
		return nil, false
	}
	sess.lastUsed = now
	return sess.engine, true
}

func (s *Server) deleteSession(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false
	}
	s.closeLocked(id, "deleted")
	return true
}

func (s *Server) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) expired(sess *session, now time.Time) bool {
	return s.config.SessionIdleTTL > 0 && now.Sub(sess.lastUsed) >= s.config.SessionIdleTTL
}

// evictIdleLocked must be called with s.mu held.
func (s *Server) evictIdleLocked() {
	now := s.now()
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			s.closeLocked(id, "idle")
		}
	}
}

// closeLocked must be called with s.mu held.
func (s *Server) closeLocked(id, reason string) {
	delete(s.sessions, id)
	if s.recorder != nil {
		s.recorder.SessionClosed()
	}
	s.logger.Info("session closed", "session", id, "reason", reason)
}

// sweepIdle closes idle sessions nobody touches again, until ctx is done.
func (s *Server) sweepIdle(ctx context.Context) {
	interval := s.config.SessionIdleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.mu.Lock()
			s.evictIdleLocked()
			s.mu.Unlock()
		}
	}
}
