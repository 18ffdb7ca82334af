package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/boddenberg/recurring-income-bfa/internal/domain"
	"github.com/boddenberg/recurring-income-bfa/internal/infra/resilience"

	"go.opentelemetry.io/otel/attribute"
)

// supabaseUser maps the users table columns to our domain.
type supabaseUser struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (u supabaseUser) toDomain() domain.User {
	return domain.User{Email: u.Email, FirstName: u.FirstName, LastName: u.LastName}
}

// ListUsers returns the whole user directory.
func (c *Client) ListUsers(ctx context.Context) ([]domain.User, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListUsers")
	defer span.End()

	var users []domain.User
	err := resilience.Execute(ctx, c.cb, c.cfg, func() error {
		body, err := c.doRequest(ctx, http.MethodGet, "users?select=email,first_name,last_name&order=last_name.asc,first_name.asc")
		if err != nil {
			return err
		}
		rows, err := decodeRows[supabaseUser](body)
		if err != nil {
			return resilience.Permanent(fmt.Errorf("failed to decode users: %w", err))
		}
		users = make([]domain.User, 0, len(rows))
		for _, r := range rows {
			users = append(users, r.toDomain())
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr("supabase/users", err)
	}

	span.SetAttributes(attribute.Int("users.count", len(users)))
	return users, nil
}

// GetUser returns a single user by email.
func (c *Client) GetUser(ctx context.Context, email string) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetUser")
	defer span.End()

	var user *domain.User
	err := resilience.Execute(ctx, c.cb, c.cfg, func() error {
		path := fmt.Sprintf("users?select=email,first_name,last_name&email=eq.%s&limit=1", url.QueryEscape(email))
		body, err := c.doRequest(ctx, http.MethodGet, path)
		if err != nil {
			return err
		}
		rows, err := decodeRows[supabaseUser](body)
		if err != nil {
			return resilience.Permanent(fmt.Errorf("failed to decode user: %w", err))
		}
		if len(rows) == 0 {
			return resilience.Permanent(&domain.ErrNotFound{Resource: "user", ID: email})
		}
		u := rows[0].toDomain()
		user = &u
		return nil
	})
	if err != nil {
		return nil, wrapErr("supabase/users", err)
	}
	return user, nil
}

// decodeRows decodes a PostgREST array response; a nil body is an empty result.
func decodeRows[T any](body []byte) ([]T, error) {
	if len(body) == 0 {
		return nil, nil
	}
	var rows []T
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
