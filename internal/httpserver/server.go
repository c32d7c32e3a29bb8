// Package httpserver exposes the payment core over HTTP.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/buhogo/payd/internal/circuitbreaker"
	"github.com/buhogo/payd/internal/config"
	"github.com/buhogo/payd/internal/logger"
	"github.com/buhogo/payd/internal/payments"
	"github.com/buhogo/payd/internal/watcher"
)

var serverStartTime = time.Now()

// Reconciler is the watcher surface the HTTP layer needs.
type Reconciler interface {
	ReconcileOnce(ctx context.Context, key string) (watcher.Result, error)
}

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg         *config.Config
	coordinator *payments.Coordinator
	reconciler  Reconciler
	breakers    *circuitbreaker.Manager
	logger      zerolog.Logger
}

// New builds the HTTP server with a configured router.
func New(cfg *config.Config, coordinator *payments.Coordinator, reconciler Reconciler, breakers *circuitbreaker.Manager, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:         cfg,
			coordinator: coordinator,
			reconciler:  reconciler,
			breakers:    breakers,
			logger:      appLogger,
		},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	s.configureRouter(router, appLogger)
	return s
}

func (s *Server) configureRouter(router chi.Router, appLogger zerolog.Logger) {
	cfg := s.cfg

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(logger.Middleware(appLogger))
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	if cfg.RateLimit.Enabled {
		router.Use(httprate.LimitByIP(cfg.RateLimit.RequestLimit, cfg.RateLimit.Window.Duration))
	}

	prefix := cfg.Server.RoutePrefix

	// Lightweight endpoints with a short timeout.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get(prefix+"/healthz", s.health)
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).Handle(prefix+"/metrics", promhttp.Handler())
	})

	// Payment endpoints. The submit bound plus slack keeps the handler
	// from timing out before the coordinator resolves.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.Wallet.PayTimeout.Duration + 10*time.Second))
		r.Post(prefix+"/v1/payments", s.submitPayment)
		r.Get(prefix+"/v1/payments", s.listPayments)
		r.Get(prefix+"/v1/payments/{key}", s.getPayment)
		r.Delete(prefix+"/v1/payments/{key}", s.abandonPayment)
		r.Post(prefix+"/v1/payments/{key}/reconcile", s.reconcilePayment)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
