package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"altfade/internal/regime"
	"altfade/internal/walkforward"
)

// SignalSource is what the read-only API serves: the current signal product
// and the out-of-sample regime timeline. The walk-forward orchestrator sits
// behind this in production.
type SignalSource interface {
	SignalAsOf(date time.Time) (*walkforward.Signal, error)
	Timeline() regime.Timeline
}

// Config holds the server parameters.
type Config struct {
	Addr         string        `yaml:"addr" json:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
}

// DefaultConfig returns the default server parameters, local-only.
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:8093",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server is the read-only HTTP surface: health, signal, regime timeline and
// Prometheus metrics. It never mutates run state.
type Server struct {
	router  *mux.Router
	server  *http.Server
	source  SignalSource
	metrics *Metrics
}

// NewServer wires the routes.
func NewServer(cfg Config, source SignalSource, metrics *Metrics) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		source:  source,
		metrics: metrics,
	}
	s.router.Use(s.requestLogMiddleware)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/signal", s.handleSignal).Methods(http.MethodGet)
	s.router.HandleFunc("/regime", s.handleRegime).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		start := time.Now()
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
		log.Debug().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
