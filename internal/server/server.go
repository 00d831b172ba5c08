// Package server exposes the carrier engine over HTTP: quoting, label
// booking, tracking, pickups, operator status, and per-carrier webhook
// receipt.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/enviora/carrier/internal/auth"
	"github.com/enviora/carrier/internal/breaker"
	"github.com/enviora/carrier/internal/events"
	"github.com/enviora/carrier/internal/fallback"
	"github.com/enviora/carrier/internal/quote"
	"github.com/enviora/carrier/internal/ratelimit"
	"github.com/enviora/carrier/internal/storage"
	"github.com/enviora/carrier/internal/telemetry"
	"github.com/enviora/carrier/internal/vault"
	"github.com/enviora/carrier/internal/webhook"
	"github.com/enviora/carrier/pkg/carrier"
)

// Config holds server configuration.
type Config struct {
	Port int
}

// Deps are the engine components the HTTP surface delegates to.
type Deps struct {
	Registry   *carrier.Registry
	Aggregator *quote.Aggregator
	Quotes     *quote.Store
	Selector   *fallback.Selector
	Pipeline   *webhook.Pipeline
	Breaker    *breaker.Breaker
	Limiter    *ratelimit.Limiter
	Vault      *vault.Vault
	Env        carrier.Environment
	Shipments  storage.ShipmentStore
	Tracking   storage.TrackingEventStore
	Events     events.Publisher
	Verifier   *auth.Verifier
}

// Server is the HTTP server for the carrier integration service.
type Server struct {
	port    int
	deps    Deps
	logger  *otelzap.Logger
	metrics *telemetry.Metrics
}

// New creates a new server instance.
func New(cfg Config, deps Deps, logger *otelzap.Logger, metrics *telemetry.Metrics) *Server {
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	return &Server{
		port:    cfg.Port,
		deps:    deps,
		logger:  logger,
		metrics: metrics,
	}
}

// Router builds the HTTP routing table. Webhooks, health, and metrics stay
// outside the bearer-token gate: carriers and infrastructure cannot present
// our operator tokens.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/webhooks/{carrier}", s.handleWebhook)

	r.Group(func(r chi.Router) {
		r.Use(s.deps.Verifier.Middleware)

		r.Post("/quotes", s.handleQuotes)
		r.Post("/labels", s.handleCreateLabel)
		r.Get("/tracking/{trackingNumber}", s.handleTracking)
		r.Post("/shipments/{trackingNumber}/cancel", s.handleCancel)
		r.Post("/pickups", s.handlePickup)
		r.Get("/carriers/status", s.handleCarrierStatus)

		r.Put("/credentials/{carrier}", s.handlePutCredentials)
		r.Post("/credentials/{carrier}/rotate", s.handleRotateCredentials)
		r.Get("/credentials/expiring", s.handleExpiringCredentials)
	})

	return r
}

// Run starts the HTTP server and blocks until context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", zap.Int("port", s.port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
