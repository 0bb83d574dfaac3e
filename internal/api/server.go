// Package api provides the coordinator's HTTP surface: node registration
// and claiming, chunk claim/complete, and Prometheus metrics, mirroring
// this corpus's chi-router-plus-middleware-stack convention.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/legacy3/wowlab-sub001/internal/domain"
)

// Server is the coordinator's HTTP API server.
type Server struct {
	jobs           domain.JobStore
	nodes          domain.NodeStore
	metricsEnabled bool
}

// NewServer creates a coordinator API server backed by the given stores.
func NewServer(jobs domain.JobStore, nodes domain.NodeStore) *Server {
	return &Server{jobs: jobs, nodes: nodes}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(tracingMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/node", func(r chi.Router) {
		r.Post("/register", s.handleNodeRegister)
		r.With(requireNodeSignature).Post("/set_online", s.handleNodeSetOnline)
		r.With(requireNodeSignature).Post("/claim_status", s.handleNodeClaimStatus)
		r.Route("/chunks", func(r chi.Router) {
			r.With(requireNodeSignature).Post("/claim", s.handleClaimChunks)
			r.With(requireNodeSignature).Post("/complete", s.handleCompleteChunk)
		})
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
