package handler

import (
	"context"
	"net/http"

	"github.com/boddenberg/recurring-income-bfa/internal/infra/observability"
	"github.com/boddenberg/recurring-income-bfa/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Pinger reports whether a data backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options carries the router settings that do not belong to the service.
type Options struct {
	// Backend is the name reported by /healthz for the data backend.
	Backend string
	// Pinger checks the data backend. Nil skips the check.
	Pinger         Pinger
	AllowedOrigins []string
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svc *service.Predictions, opts Options, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger, metrics))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(opts.Backend, opts.Pinger))
	r.Get("/readyz", readyzHandler(opts.Pinger, logger))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- Routes consumed by the existing browser client ---
	r.Get("/users", listUsersHandler(svc, logger))
	r.Get("/predictions/{email}", userPredictionsHandler(svc, "GET /predictions/{email}", logger))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Get("/users", listUsersHandler(svc, logger))
		r.Get("/users/{email}/predictions", userPredictionsHandler(svc, "GET /v1/users/{email}/predictions", logger))
		r.Get("/users/{email}/report", reportHandler(svc, logger))
		r.Post("/predictions/detect", detectHandler(svc, logger))
		r.Get("/metrics/detector", detectorMetricsHandler(metrics))
	})

	return r
}
