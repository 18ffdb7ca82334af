package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/boddenberg/recurring-income-bfa/internal/domain"
	"github.com/boddenberg/recurring-income-bfa/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
)

// TransactionsClient fetches raw transaction documents from the Transactions API.
type TransactionsClient struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
}

// NewTransactionsClient creates a new TransactionsClient.
func NewTransactionsClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *TransactionsClient {
	return &TransactionsClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		cb:         cb,
		cfg:        cfg,
	}
}

// transactionDocument is the API payload: one document per user.
type transactionDocument struct {
	Email        string               `json:"email"`
	Transactions []domain.Transaction `json:"transactions"`
}

// GetTransactions fetches a user's transactions with retry, circuit breaker, and tracing.
func (c *TransactionsClient) GetTransactions(ctx context.Context, email string) ([]domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "TransactionsClient.GetTransactions")
	defer span.End()

	var doc transactionDocument

	err := resilience.Execute(ctx, c.cb, c.cfg, func() error {
		endpoint := fmt.Sprintf("%s/v1/users/%s/transactions", c.baseURL, url.PathEscape(email))
		status, err := getJSON(ctx, c.httpClient, endpoint, &doc)
		if err != nil {
			return err
		}
		if status == http.StatusNotFound {
			return resilience.Permanent(&domain.ErrNotFound{Resource: "transactions", ID: email})
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr("transactions", err)
	}

	span.SetAttributes(attribute.Int("transactions.count", len(doc.Transactions)))
	if doc.Transactions == nil {
		return []domain.Transaction{}, nil
	}
	return doc.Transactions, nil
}
