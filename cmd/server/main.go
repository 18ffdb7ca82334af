package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/recurring-income-bfa/internal/config"
	"github.com/boddenberg/recurring-income-bfa/internal/domain"
	"github.com/boddenberg/recurring-income-bfa/internal/handler"
	"github.com/boddenberg/recurring-income-bfa/internal/infra/cache"
	"github.com/boddenberg/recurring-income-bfa/internal/infra/client"
	"github.com/boddenberg/recurring-income-bfa/internal/infra/observability"
	"github.com/boddenberg/recurring-income-bfa/internal/infra/resilience"
	"github.com/boddenberg/recurring-income-bfa/internal/infra/sqlite"
	"github.com/boddenberg/recurring-income-bfa/internal/infra/supabase"
	"github.com/boddenberg/recurring-income-bfa/internal/port"
	"github.com/boddenberg/recurring-income-bfa/internal/recurrence"
	"github.com/boddenberg/recurring-income-bfa/internal/service"

	"go.uber.org/zap"
)

// backend bundles the data sources selected by DATA_BACKEND.
type backend struct {
	transactions port.TransactionsFetcher
	users        port.UserDirectory
	pinger       handler.Pinger
	close        func() error
}

// singleSource serves users and transactions from one backend.
func singleSource(b port.Backend, pinger handler.Pinger, closeFn func() error) *backend {
	return &backend{transactions: b, users: b, pinger: pinger, close: closeFn}
}

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("data_backend", cfg.DataBackend),
		zap.Int("buffer_days", cfg.BufferDays),
		zap.String("date_layout", cfg.DateLayout),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Int("max_concurrency", cfg.MaxConcurrency),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "recurring-income-bfa")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Cache ---
	predictionCache := cache.New[[]domain.RecurringSource](cfg.CacheTTL)
	defer predictionCache.Close()

	// --- Data backend ---
	be, err := openBackend(cfg, logger)
	if err != nil {
		logger.Fatal("failed to open data backend", zap.String("backend", cfg.DataBackend), zap.Error(err))
	}
	defer func() {
		if err := be.close(); err != nil {
			logger.Warn("closing data backend", zap.Error(err))
		}
	}()

	// --- Services ---
	predictionsSvc := service.NewPredictions(
		be.transactions,
		be.users,
		predictionCache,
		metrics,
		logger,
		service.Options{
			Detector: recurrence.Config{
				ToleranceDays: cfg.BufferDays,
				DateLayout:    cfg.DateLayout,
			},
			MaxConcurrency: cfg.MaxConcurrency,
			Redactor:       observability.NewEmailRedactor(cfg.LogEmailKey),
			FlightTimeout:  time.Duration(cfg.MaxRetries+1) * cfg.HTTPTimeout,
		},
	)

	// --- Router ---
	router := handler.NewRouter(predictionsSvc, handler.Options{
		Backend:        cfg.DataBackend,
		Pinger:         be.pinger,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	}, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
		return
	}

	logger.Info("server stopped")
}

func openBackend(cfg *config.Config, logger *zap.Logger) (*backend, error) {
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	noop := func() error { return nil }

	switch cfg.DataBackend {
	case config.BackendSupabase:
		logger.Info("using Supabase as data backend", zap.String("supabase_url", cfg.SupabaseURL))
		sb := supabase.NewClient(
			httpClient,
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			resilience.NewCircuitBreaker("supabase"),
			resilienceCfg,
			logger,
		)
		return singleSource(sb, sb, noop), nil

	case config.BackendHTTP:
		logger.Info("using HTTP API clients as data backend",
			zap.String("users_api", cfg.UsersAPIURL),
			zap.String("transactions_api", cfg.TransactionsAPIURL),
		)
		return &backend{
			transactions: client.NewTransactionsClient(httpClient, cfg.TransactionsAPIURL, resilience.NewCircuitBreaker("transactions-api"), resilienceCfg),
			users:        client.NewUsersClient(httpClient, cfg.UsersAPIURL, resilience.NewCircuitBreaker("users-api"), resilienceCfg),
			close:        noop,
		}, nil

	case config.BackendSQLite:
		store, err := sqlite.Open(cfg.SQLiteDBPath, logger)
		if err != nil {
			return nil, err
		}
		return singleSource(store, store, store.Close), nil
	}
	return nil, fmt.Errorf("unknown data backend %q", cfg.DataBackend)
}
