// Package api serves restq over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/SirClappington/restq/internal/dispatch"
	"github.com/SirClappington/restq/internal/metrics"
	"github.com/SirClappington/restq/internal/realm"
)

// DefaultMaxBodyBytes caps request bodies when WithMaxBodyBytes is not used.
const DefaultMaxBodyBytes = 4096

type Server struct {
	reg     *realm.Registry
	disp    *dispatch.Dispatcher
	metrics *metrics.Metrics
	ready   func(context.Context) error
	maxBody int64
	log     *zap.Logger
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics records request and lease metrics and serves them on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithReadiness sets the probe behind /readyz.
func WithReadiness(check func(context.Context) error) Option {
	return func(s *Server) { s.ready = check }
}

func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

func New(reg *realm.Registry, disp *dispatch.Dispatcher, opts ...Option) *Server {
	s := &Server{
		reg:     reg,
		disp:    disp,
		ready:   func(context.Context) error { return nil },
		maxBody: DefaultMaxBodyBytes,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router with every restq route mounted.
func (s *Server) Handler() http.Handler {
	rtr := chi.NewRouter()
	rtr.Use(middleware.RequestID)
	rtr.Use(s.instrument)
	rtr.Use(middleware.Recoverer)

	rtr.Get("/", s.registryStatus)
	rtr.Get("/healthz", s.healthz)
	rtr.Get("/readyz", s.readyz)
	if s.metrics != nil {
		rtr.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	rtr.Route("/jobs", func(jobs chi.Router) {
		jobs.Get("/", s.pullAcross)
		jobs.Post("/", s.bulkAdd)
		jobs.Delete("/", s.bulkRemove)
	})

	rtr.Route("/{realm}", func(rr chi.Router) {
		rr.Delete("/", s.deleteRealm)
		rr.Get("/status", s.realmStatus)
		rr.Post("/config", s.updateConfig)

		rr.Get("/job", s.pull)
		rr.Put("/job/{job}", s.addJob)
		rr.Get("/job/{job}", s.getJob)
		rr.Delete("/job/{job}", s.removeJob)
		rr.Get("/job/{job}/from_q/{from}/to_q/{to}", s.moveJob)

		rr.Get("/tag/{tag}", s.taggedJobs)
		rr.Delete("/tag/{tag}", s.removeTaggedJobs)
		rr.Get("/tag/{tag}/status", s.tagStatus)

		rr.Get("/queues/{queue}/clear", s.clearQueue)
	})

	return rtr
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.ready(r.Context()); err != nil {
		s.log.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
