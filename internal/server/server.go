package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/relayhook/relayhook/internal/confirm"
	"github.com/relayhook/relayhook/internal/handler"
	"github.com/relayhook/relayhook/internal/ingress"
	"github.com/relayhook/relayhook/internal/observability"
	"github.com/relayhook/relayhook/internal/server/middleware"
)

// Config wires every dependency New needs to build the HTTP server.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	AdminToken      string
	CORSOrigins     []string
	RateLimitRPS    int
	RateLimitWindow time.Duration
	Redis           *redis.Client
	Registry        prometheus.Gatherer
	Metrics         *observability.Metrics

	Ingress      *ingress.Handler
	Confirmation *confirm.Handler
	Health       *handler.HealthHandler
	Logger       *slog.Logger
}

// New builds the HTTP server mounting the full inbound-email surface:
// public ingress endpoints rate-limited by caller IP, and an
// admin-token-gated read/confirmation surface.
func New(cfg Config) *http.Server {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	if cfg.Metrics != nil {
		r.Use(middleware.MetricsMiddleware(cfg.Metrics))
	}
	r.Use(middleware.TracingMiddleware())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Amz-Sns-Rawdelivery"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", cfg.Health.Healthz)
	r.Get("/readyz", cfg.Health.Readyz)
	if cfg.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	ingressLimitMw := middleware.IPRateLimit(cfg.Redis, cfg.RateLimitRPS, cfg.RateLimitWindow)

	// Public, unauthenticated ingress: the upstream notification provider
	// and, on the legacy path, a long-retired direct-delivery integration.
	r.With(ingressLimitMw).Post("/email/inbound", cfg.Ingress.LegacyInbound)
	r.With(ingressLimitMw).Post("/email/inbound/s3", cfg.Ingress.Inbound)
	r.With(ingressLimitMw).Post("/email/inbound/delivery-confirmation", cfg.Confirmation.Confirm)

	// Admin-token-gated read and operator surface.
	r.Group(func(r chi.Router) {
		r.Use(middleware.AdminAuth(cfg.AdminToken))

		r.Get("/email/inbound", cfg.Ingress.List)
		r.Get("/email/inbound/undelivered", cfg.Ingress.Undelivered)
		r.Get("/email/inbound/s3-unprocessed", cfg.Ingress.S3Unprocessed)
		r.Get("/email/inbound/{id}", cfg.Ingress.Get)
		r.Post("/email/inbound/{id}/reparse", cfg.Ingress.Reparse)
	})

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}
