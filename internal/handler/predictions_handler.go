package handler

import (
	"encoding/json"
	"net/http"

	"github.com/boddenberg/recurring-income-bfa/internal/domain"
	"github.com/boddenberg/recurring-income-bfa/internal/infra/observability"
	"github.com/boddenberg/recurring-income-bfa/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// maxDetectBody caps POST /v1/predictions/detect payloads.
const maxDetectBody = 4 << 20

// ============================================================
// Users: GET /users, GET /v1/users
// ============================================================

func listUsersHandler(svc *service.Predictions, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /users")
		defer span.End()

		users, err := svc.ListUsers(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if users == nil {
			users = []domain.User{}
		}
		span.SetAttributes(attribute.Int("users.count", len(users)))
		writeJSON(w, http.StatusOK, users)
	}
}

// ============================================================
// Predictions: GET /predictions/{email}, GET /v1/users/{email}/predictions
// ============================================================

func userPredictionsHandler(svc *service.Predictions, route string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), route)
		defer span.End()

		email, err := emailParam(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		tolerance, err := parseTolerance(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		predictions, err := svc.PredictForUser(ctx, email, tolerance)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.Int("predictions.count", len(predictions)))
		writeJSON(w, http.StatusOK, predictions)
	}
}

// ============================================================
// Report: GET /v1/users/{email}/report
// ============================================================

func reportHandler(svc *service.Predictions, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/users/{email}/report")
		defer span.End()

		email, err := emailParam(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		tolerance, err := parseTolerance(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		report, err := svc.Report(ctx, email, tolerance)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("report.id", report.ID))
		writeJSON(w, http.StatusOK, report)
	}
}

// ============================================================
// Ad-hoc detection: POST /v1/predictions/detect
// ============================================================

func detectHandler(svc *service.Predictions, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/predictions/detect")
		defer span.End()

		var req domain.DetectRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDetectBody)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		// The body wins over the query string.
		tolerance := req.ToleranceDays
		if tolerance == nil {
			t, err := parseTolerance(r)
			if err != nil {
				handleServiceError(w, err, logger)
				return
			}
			tolerance = t
		} else if *tolerance < 0 {
			handleServiceError(w, &domain.ErrValidation{Field: "toleranceDays", Message: "must be non-negative"}, logger)
			return
		}

		txs, err := req.DomainTransactions()
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		predictions, err := svc.Detect(ctx, txs, tolerance)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, predictions)
	}
}

// ============================================================
// Metrics: GET /v1/metrics/detector
// ============================================================

func detectorMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.Snapshot())
	}
}
