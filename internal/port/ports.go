// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the service layer
// from the concrete data backends.
package port

import (
	"context"

	"github.com/boddenberg/recurring-income-bfa/internal/domain"
)

// TransactionsFetcher retrieves a user's raw transaction history.
// It returns *domain.ErrNotFound when the user has no transaction document.
type TransactionsFetcher interface {
	GetTransactions(ctx context.Context, email string) ([]domain.Transaction, error)
}

// UserDirectory exposes the set of known users.
type UserDirectory interface {
	ListUsers(ctx context.Context) ([]domain.User, error)
	GetUser(ctx context.Context, email string) (*domain.User, error)
}

// Backend is a data source able to serve both users and transactions.
type Backend interface {
	TransactionsFetcher
	UserDirectory
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
