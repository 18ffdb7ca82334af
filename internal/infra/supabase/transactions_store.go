package supabase

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/boddenberg/recurring-income-bfa/internal/domain"
	"github.com/boddenberg/recurring-income-bfa/internal/infra/resilience"

	"go.opentelemetry.io/otel/attribute"
)

// supabaseTransaction maps user_transactions columns.
type supabaseTransaction struct {
	ID     string  `json:"id"`
	Email  string  `json:"email"`
	Name   string  `json:"name"`
	Date   string  `json:"date"`
	Amount float64 `json:"amount"`
}

// GetTransactions fetches a user's transactions in insertion order (the seq
// identity column), which is the order the detector groups sources in. A user
// that exists but has no rows gets an empty slice; an unknown user is
// *domain.ErrNotFound.
func (c *Client) GetTransactions(ctx context.Context, email string) ([]domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetTransactions")
	defer span.End()

	var transactions []domain.Transaction

	err := resilience.Execute(ctx, c.cb, c.cfg, func() error {
		path := fmt.Sprintf("user_transactions?select=id,email,name,date,amount&email=eq.%s&order=seq.asc", url.QueryEscape(email))
		body, err := c.doRequest(ctx, http.MethodGet, path)
		if err != nil {
			return err
		}

		rows, err := decodeRows[supabaseTransaction](body)
		if err != nil {
			return resilience.Permanent(fmt.Errorf("failed to decode transactions: %w", err))
		}

		transactions = make([]domain.Transaction, 0, len(rows))
		for _, r := range rows {
			transactions = append(transactions, domain.Transaction{
				ID:     r.ID,
				Email:  r.Email,
				Name:   r.Name,
				Date:   r.Date,
				Amount: r.Amount,
			})
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr("supabase/transactions", err)
	}

	if len(transactions) == 0 {
		if _, err := c.GetUser(ctx, email); err != nil {
			return nil, err
		}
	}

	span.SetAttributes(attribute.Int("transactions.count", len(transactions)))
	return transactions, nil
}

// wrapErr keeps not-found, open-breaker and timeout errors as they are. A
// deadline or transport timeout becomes *domain.ErrTimeout; anything else is
// an external service failure.
func wrapErr(service string, err error) error {
	var notFound *domain.ErrNotFound
	var open *domain.ErrCircuitOpen
	var timeout *domain.ErrTimeout
	if errors.As(err, &notFound) || errors.As(err, &open) || errors.As(err, &timeout) {
		return err
	}
	if isTimeout(err) {
		return &domain.ErrTimeout{Operation: service, Err: err}
	}
	return &domain.ErrExternalService{Service: service, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
