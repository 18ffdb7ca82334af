// Package client implements the data ports against plain JSON HTTP APIs.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/boddenberg/recurring-income-bfa/internal/domain"
	"github.com/boddenberg/recurring-income-bfa/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("client")

// UsersClient reads the user directory from the Users API.
type UsersClient struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
}

// NewUsersClient creates a new UsersClient.
func NewUsersClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *UsersClient {
	return &UsersClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		cb:         cb,
		cfg:        cfg,
	}
}

// ListUsers fetches every known user.
func (c *UsersClient) ListUsers(ctx context.Context) ([]domain.User, error) {
	ctx, span := tracer.Start(ctx, "UsersClient.ListUsers")
	defer span.End()

	var users []domain.User
	err := resilience.Execute(ctx, c.cb, c.cfg, func() error {
		users = nil
		status, err := getJSON(ctx, c.httpClient, c.baseURL+"/v1/users", &users)
		if err != nil {
			return err
		}
		if status == http.StatusNotFound {
			users = nil
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr("users", err)
	}
	if users == nil {
		users = []domain.User{}
	}
	return users, nil
}

// GetUser fetches a single user by email.
func (c *UsersClient) GetUser(ctx context.Context, email string) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "UsersClient.GetUser")
	defer span.End()

	var user domain.User
	err := resilience.Execute(ctx, c.cb, c.cfg, func() error {
		endpoint := fmt.Sprintf("%s/v1/users/%s", c.baseURL, url.PathEscape(email))
		status, err := getJSON(ctx, c.httpClient, endpoint, &user)
		if err != nil {
			return err
		}
		if status == http.StatusNotFound {
			return resilience.Permanent(&domain.ErrNotFound{Resource: "user", ID: email})
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr("users", err)
	}
	return &user, nil
}

// getJSON performs a GET and decodes a 200 body into out. A 404 is returned
// as a status with no error; any other non-200 status is an error.
func getJSON(ctx context.Context, httpClient *http.Client, endpoint string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, resilience.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return resp.StatusCode, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return resp.StatusCode, resilience.Permanent(fmt.Errorf("API returned status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return resp.StatusCode, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, resilience.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return resp.StatusCode, nil
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
