// Package service provides the business logic layer (use cases).
package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/boddenberg/recurring-income-bfa/internal/domain"
	"github.com/boddenberg/recurring-income-bfa/internal/infra/observability"
	"github.com/boddenberg/recurring-income-bfa/internal/infra/resilience"
	"github.com/boddenberg/recurring-income-bfa/internal/port"
	"github.com/boddenberg/recurring-income-bfa/internal/recurrence"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("service/predictions")

// Options configures the Predictions service.
type Options struct {
	Detector       recurrence.Config
	MaxConcurrency int
	Redactor       *observability.EmailRedactor

	// FlightTimeout bounds a shared per-user fetch, which runs detached
	// from the caller that started it.
	FlightTimeout time.Duration
}

const defaultFlightTimeout = 30 * time.Second

// Predictions orchestrates the data backends and the recurrence detector.
type Predictions struct {
	transactions port.TransactionsFetcher
	users        port.UserDirectory
	cache        port.Cache[[]domain.RecurringSource]
	metrics      *observability.Metrics
	logger       *zap.Logger

	detector recurrence.Config
	bulkhead *resilience.Bulkhead
	redactor *observability.EmailRedactor
	group    singleflight.Group
	flight   time.Duration
	now      func() time.Time
}

// NewPredictions creates the predictions service with all dependencies injected.
func NewPredictions(
	transactions port.TransactionsFetcher,
	users port.UserDirectory,
	cache port.Cache[[]domain.RecurringSource],
	metrics *observability.Metrics,
	logger *zap.Logger,
	opts Options,
) *Predictions {
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 50
	}
	if opts.Redactor == nil {
		opts.Redactor = observability.NewEmailRedactor("")
	}
	if opts.FlightTimeout <= 0 {
		opts.FlightTimeout = defaultFlightTimeout
	}
	return &Predictions{
		transactions: transactions,
		users:        users,
		cache:        cache,
		metrics:      metrics,
		logger:       logger,
		detector:     opts.Detector,
		bulkhead:     resilience.NewBulkhead(opts.MaxConcurrency),
		redactor:     opts.Redactor,
		flight:       opts.FlightTimeout,
		now:          time.Now,
	}
}

// DefaultTolerance returns the configured tolerance in days.
func (p *Predictions) DefaultTolerance() int {
	return p.detector.ToleranceDays
}

// ListUsers returns the user directory.
func (p *Predictions) ListUsers(ctx context.Context) ([]domain.User, error) {
	ctx, span := tracer.Start(ctx, "Predictions.ListUsers")
	defer span.End()

	users, err := p.users.ListUsers(ctx)
	if err != nil {
		p.logger.Error("failed to list users", zap.Error(err))
		p.metrics.IncrExternalError("users")
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// Detect runs the detector over caller-supplied transactions. A nil tolerance
// uses the configured default.
func (p *Predictions) Detect(ctx context.Context, txs []domain.Transaction, tolerance *int) ([]domain.RecurringSource, error) {
	ctx, span := tracer.Start(ctx, "Predictions.Detect")
	defer span.End()
	span.SetAttributes(attribute.Int("transactions.count", len(txs)))

	if err := p.bulkhead.Acquire(ctx); err != nil {
		return nil, err
	}
	defer p.bulkhead.Release()

	start := time.Now()
	defer func() { p.metrics.RecordRequestDuration("detect", time.Since(start)) }()

	cfg := p.config(tolerance)
	analysis, err := recurrence.Analyze(txs, cfg)
	if err != nil {
		p.metrics.IncrDetectionFailure()
		p.logger.Warn("detection rejected input", zap.Error(err))
		return nil, err
	}

	reasons := make([]string, len(analysis.Rejections))
	for i, r := range analysis.Rejections {
		reasons[i] = r.Reason
	}
	p.metrics.RecordDetection(len(analysis.Predictions), reasons)

	p.logger.Debug("detection finished",
		zap.Int("transactions", len(txs)),
		zap.Int("tolerance_days", cfg.ToleranceDays),
		zap.Int("predictions", len(analysis.Predictions)),
		zap.Int("rejected", len(analysis.Rejections)),
	)
	span.SetAttributes(attribute.Int("predictions.count", len(analysis.Predictions)))
	return analysis.Predictions, nil
}

// PredictForUser fetches a user's transactions and returns their recurring
// income sources. Results are cached per (email, tolerance); concurrent
// misses for the same key share one fetch.
func (p *Predictions) PredictForUser(ctx context.Context, email string, tolerance *int) ([]domain.RecurringSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "Predictions.PredictForUser")
	defer span.End()

	cfg := p.config(tolerance)
	if cfg.ToleranceDays < 0 {
		return nil, &domain.ErrValidation{Field: "toleranceDays", Message: "must be non-negative"}
	}
	span.SetAttributes(attribute.Int("tolerance.days", cfg.ToleranceDays))

	key := email + "|" + strconv.Itoa(cfg.ToleranceDays)
	if cached, ok := p.cache.Get(key); ok {
		p.metrics.IncrCacheHit("predictions")
		return cached, nil
	}
	p.metrics.IncrCacheMiss("predictions")

	ch := p.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.flight)
		defer cancel()

		txs, err := p.transactions.GetTransactions(fctx, email)
		if err != nil {
			p.logger.Error("failed to fetch transactions", p.redactor.Field(email), zap.Error(err))
			p.metrics.IncrExternalError("transactions")
			return nil, fmt.Errorf("transactions fetch: %w", err)
		}

		predictions, err := p.Detect(fctx, txs, &cfg.ToleranceDays)
		if err != nil {
			return nil, fmt.Errorf("detect for user: %w", err)
		}
		p.cache.Set(key, predictions)
		return predictions, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]domain.RecurringSource), nil
	}
}

// Report fetches the user and their predictions concurrently.
func (p *Predictions) Report(ctx context.Context, email string, tolerance *int) (*domain.PredictionReport, error) {
	ctx, span := tracer.Start(ctx, "Predictions.Report")
	defer span.End()

	start := time.Now()
	defer func() { p.metrics.RecordRequestDuration("report", time.Since(start)) }()

	var (
		user        *domain.User
		predictions []domain.RecurringSource
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		u, err := p.users.GetUser(gCtx, email)
		if err != nil {
			p.logger.Error("failed to fetch user", p.redactor.Field(email), zap.Error(err))
			p.metrics.IncrExternalError("users")
			return fmt.Errorf("user fetch: %w", err)
		}
		user = u
		return nil
	})

	g.Go(func() error {
		ps, err := p.PredictForUser(gCtx, email, tolerance)
		if err != nil {
			return err
		}
		predictions = ps
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &domain.PredictionReport{
		ID:            uuid.NewString(),
		User:          user,
		ToleranceDays: p.config(tolerance).ToleranceDays,
		Predictions:   predictions,
		GeneratedAt:   p.now().UTC(),
	}, nil
}

func (p *Predictions) config(tolerance *int) recurrence.Config {
	cfg := p.detector
	if tolerance != nil {
		cfg.ToleranceDays = *tolerance
	}
	return cfg
}
