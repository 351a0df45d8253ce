// Package http serves the alert API: risk reports, subscriber registration,
// manual refresh, and the health, readiness, and metrics endpoints.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/couchcryptid/disaster-alert-service/internal/domain"
	"github.com/couchcryptid/disaster-alert-service/internal/monitor"
)

const serviceName = "Disaster Alert System"

// Monitor is the workflow behind the API.
type Monitor interface {
	Assess(ctx context.Context, name, scenario string) (monitor.Report, error)
	TriggerRefresh()
	MonitoredPlaces() []string
	CheckReadiness(ctx context.Context) error
}

// SubscriberRegistry stores alert subscriptions.
type SubscriberRegistry interface {
	Register(ctx context.Context, sub domain.Subscriber) (domain.Subscriber, error)
	Delete(ctx context.Context, id string) error
}

// Server exposes the API over HTTP.
type Server struct {
	httpServer  *http.Server
	monitor     Monitor
	subscribers SubscriberRegistry
	validate    *validator.Validate
	clock       clockwork.Clock
	logger      *slog.Logger
}

// NewServer builds the router. allowedOrigins configures CORS; "*" allows any.
func NewServer(addr string, allowedOrigins []string, m Monitor, subs SubscriberRegistry, clock clockwork.Clock, logger *slog.Logger) *Server {
	s := &Server{
		monitor:     m,
		subscribers: subs,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		clock:       clock,
		logger:      logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(corsMiddleware(allowedOrigins))

	r.Get("/", s.handleRoot)
	r.Head("/", s.handleRoot)
	r.Get("/weather", s.handleWeather)
	r.Get("/refresh", s.handleRefresh)
	r.Route("/subscribers", func(r chi.Router) {
		r.Post("/", s.handleRegister)
		r.Delete("/{id}", s.handleUnsubscribe)
	})

	r.Get("/healthz", sharedobs.LivenessHandler())
	r.Get("/readyz", sharedobs.ReadinessHandler(m))
	r.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type rootResponse struct {
	Status         string    `json:"status"`
	Service        string    `json:"service"`
	StoreConnected bool      `json:"store_connected"`
	Timestamp      time.Time `json:"timestamp"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	sharedobs.WriteJSON(w, http.StatusOK, rootResponse{
		Status:         "healthy",
		Service:        serviceName,
		StoreConnected: s.monitor.CheckReadiness(ctx) == nil,
		Timestamp:      s.clock.Now().UTC(),
	})
}
