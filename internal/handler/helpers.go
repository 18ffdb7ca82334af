package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/boddenberg/recurring-income-bfa/internal/domain"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// emailParam reads the {email} URL parameter, undoing percent-encoding
// done by clients that escape '@'.
func emailParam(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "email")
	email, err := url.PathUnescape(raw)
	if err != nil {
		return "", &domain.ErrValidation{Field: "email", Message: "invalid escaping"}
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return "", &domain.ErrValidation{Field: "email", Message: "is required"}
	}
	return email, nil
}

// parseTolerance reads ?toleranceDays. A missing value returns nil so the
// service default applies.
func parseTolerance(r *http.Request) (*int, error) {
	v := r.URL.Query().Get("toleranceDays")
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, &domain.ErrValidation{Field: "toleranceDays", Message: "must be an integer"}
	}
	if n < 0 {
		return nil, &domain.ErrValidation{Field: "toleranceDays", Message: "must be non-negative"}
	}
	return &n, nil
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var circuitOpen *domain.ErrCircuitOpen
	var timeout *domain.ErrTimeout
	var validation *domain.ErrValidation
	var malformed *domain.ErrMalformedInput
	var external *domain.ErrExternalService

	switch {
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &timeout), errors.Is(err, context.DeadlineExceeded):
		logger.Error("request timeout", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &malformed):
		logger.Warn("malformed transaction",
			zap.Int("index", malformed.Index),
			zap.String("field", malformed.Field),
			zap.String("reason", malformed.Reason),
		)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &external):
		logger.Error("data backend failure", zap.String("service", external.Service), zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream "+external.Service+" unavailable")
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
