// Package api exposes the operational HTTP interface for a crawl run.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mapsight/places-crawler/internal/metrics"
	"github.com/mapsight/places-crawler/internal/scrape"
)

// CounterSource reports the run's current counters.
type CounterSource interface {
	Counters() scrape.RunCounters
}

// Server serves liveness, metrics, and run-status endpoints alongside a
// crawl.
type Server struct {
	router   chi.Router
	counters CounterSource
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(counters CounterSource, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{counters: counters, logger: logger}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/status", s.status)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	if s.counters == nil {
		s.writeJSON(w, http.StatusOK, scrape.RunCounters{})
		return
	}
	s.writeJSON(w, http.StatusOK, s.counters.Counters())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("response write failed", zap.Error(err))
	}
}
