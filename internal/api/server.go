// Package api exposes the operator-facing HTTP surface: health, catalog
// aggregates, camera lookup, and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gearshed/camsync/internal/catalog"
)

// Pinger verifies store connectivity for readiness probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires the read-only HTTP handlers to the catalog store.
type Server struct {
	router chi.Router
	store  catalog.Store
	pinger Pinger
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes. gatherer feeds
// the /metrics endpoint.
func NewServer(store catalog.Store, pinger Pinger, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		store:  store,
		pinger: pinger,
		logger: logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/stats", s.stats)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1/cameras/{camera_id}", func(r chi.Router) {
		r.Get("/", s.getCamera)
		r.Get("/attributions", s.getAttributions)
	})

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

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, "store unreachable")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.AggregateStats(r.Context())
	if err != nil {
		s.logger.Error("stats query failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) getCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "camera_id")
	rec, err := s.store.Lookup(r.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "camera not found")
			return
		}
		s.logger.Error("camera lookup failed", zap.String("camera_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) getAttributions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "camera_id")
	attrs, err := s.store.AttributionsForCamera(r.Context(), id)
	if err != nil {
		s.logger.Error("attribution query failed", zap.String("camera_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "attributions unavailable")
		return
	}
	if attrs == nil {
		attrs = []catalog.ImageAttributionRecord{}
	}
	s.writeJSON(w, http.StatusOK, attrs)
}
