// Package sqlite is a local, file-backed store for users and their
// transaction documents.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/boddenberg/recurring-income-bfa/internal/domain"
	"github.com/boddenberg/recurring-income-bfa/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

var tracer = otel.Tracer("sqlite")

var _ port.Backend = (*Store)(nil)

// Store implements port.Backend on SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open creates the database file if needed, applies migrations and returns a
// ready store.
func Open(dbPath string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("sqlite store ready", zap.String("path", dbPath))
	return &Store{db: db, logger: logger}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks the database connection, used by /healthz.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ListUsers returns every user ordered by last then first name.
func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	ctx, span := tracer.Start(ctx, "SQLite.ListUsers")
	defer span.End()

	rows, err := s.db.QueryContext(ctx,
		`SELECT email, first_name, last_name FROM users ORDER BY last_name, first_name, email`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.Email, &u.FirstName, &u.LastName); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// GetUser returns one user by email.
func (s *Store) GetUser(ctx context.Context, email string) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "SQLite.GetUser")
	defer span.End()

	var u domain.User
	err := s.db.QueryRowContext(ctx,
		`SELECT email, first_name, last_name FROM users WHERE email = ?`, email,
	).Scan(&u.Email, &u.FirstName, &u.LastName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "user", ID: email}
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetTransactions returns a user's transactions in insertion order.
func (s *Store) GetTransactions(ctx context.Context, email string) ([]domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "SQLite.GetTransactions")
	defer span.End()

	if _, err := s.GetUser(ctx, email); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, name, date, amount FROM transactions WHERE email = ? ORDER BY rowid`, email)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	txs := []domain.Transaction{}
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.Email, &t.Name, &t.Date, &t.Amount); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}

	span.SetAttributes(attribute.Int("transactions.count", len(txs)))
	return txs, nil
}

// UpsertUser inserts a user or updates their display name.
func (s *Store) UpsertUser(ctx context.Context, u domain.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (email, first_name, last_name) VALUES (?, ?, ?)
		 ON CONFLICT(email) DO UPDATE SET first_name = excluded.first_name, last_name = excluded.last_name`,
		u.Email, u.FirstName, u.LastName)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.Email, err)
	}
	return nil
}

// ReplaceTransactions swaps a user's whole transaction document for txs in a
// single database transaction. Missing IDs are generated.
func (s *Store) ReplaceTransactions(ctx context.Context, email string, txs []domain.Transaction) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM transactions WHERE email = ?`, email); err != nil {
		return fmt.Errorf("clear transactions: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO transactions (id, email, name, date, amount) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range txs {
		id := t.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err = stmt.ExecContext(ctx, id, email, t.Name, t.Date, t.Amount); err != nil {
			return fmt.Errorf("insert transaction %q: %w", t.Name, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.logger.Debug("transactions replaced", zap.Int("count", len(txs)))
	return nil
}
