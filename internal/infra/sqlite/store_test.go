package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/boddenberg/recurring-income-bfa/internal/domain"
	"github.com/boddenberg/recurring-income-bfa/internal/infra/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "nested", "income.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_UsersRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	require.NoError(t, store.UpsertUser(ctx, domain.User{Email: "b@example.com", FirstName: "Bea", LastName: "Zed"}))
	require.NoError(t, store.UpsertUser(ctx, domain.User{Email: "a@example.com", FirstName: "Al", LastName: "Ace"}))
	require.NoError(t, store.UpsertUser(ctx, domain.User{Email: "b@example.com", FirstName: "Beatrice", LastName: "Zed"}))

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "a@example.com", users[0].Email)
	assert.Equal(t, "Beatrice", users[1].FirstName)

	u, err := store.GetUser(ctx, "b@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Beatrice Zed", u.DisplayName())
}

func TestStore_GetUserNotFound(t *testing.T) {
	_, err := openStore(t).GetUser(context.Background(), "ghost@example.com")

	var notFound *domain.ErrNotFound
	require.ErrorAs(t, err, &notFound)
}

func TestStore_TransactionsKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	require.NoError(t, store.UpsertUser(ctx, domain.User{Email: "jane@example.com"}))

	in := []domain.Transaction{
		{Name: "Acme", Date: "2024-03-02", Amount: 1000},
		{ID: "fixed-id", Name: "Acme", Date: "2024-01-01", Amount: 1000},
		{Name: "Grocer", Date: "2024-01-05", Amount: -42.5},
	}
	require.NoError(t, store.ReplaceTransactions(ctx, "jane@example.com", in))

	got, err := store.GetTransactions(ctx, "jane@example.com")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "2024-03-02", got[0].Date)
	assert.Equal(t, "fixed-id", got[1].ID)
	assert.NotEmpty(t, got[0].ID)
	assert.Equal(t, -42.5, got[2].Amount)
	assert.Equal(t, "jane@example.com", got[2].Email)
}

func TestStore_ReplaceTransactionsOverwrites(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	require.NoError(t, store.UpsertUser(ctx, domain.User{Email: "jane@example.com"}))

	require.NoError(t, store.ReplaceTransactions(ctx, "jane@example.com", []domain.Transaction{
		{Name: "Old", Date: "2023-01-01", Amount: 1},
	}))
	require.NoError(t, store.ReplaceTransactions(ctx, "jane@example.com", []domain.Transaction{
		{Name: "New", Date: "2024-01-01", Amount: 2},
	}))

	got, err := store.GetTransactions(ctx, "jane@example.com")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "New", got[0].Name)
}

func TestStore_TransactionsForUnknownUser(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	_, err := store.GetTransactions(ctx, "ghost@example.com")
	var notFound *domain.ErrNotFound
	require.ErrorAs(t, err, &notFound)

	err = store.ReplaceTransactions(ctx, "ghost@example.com", []domain.Transaction{{Name: "X", Date: "2024-01-01", Amount: 1}})
	assert.Error(t, err, "foreign key must reject orphan transactions")
}

func TestStore_KnownUserWithoutTransactions(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	require.NoError(t, store.UpsertUser(ctx, domain.User{Email: "new@example.com"}))

	got, err := store.GetTransactions(ctx, "new@example.com")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "income.db")

	first, err := sqlite.Open(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, first.UpsertUser(ctx, domain.User{Email: "jane@example.com"}))
	require.NoError(t, first.Close())

	second, err := sqlite.Open(path, zap.NewNop())
	require.NoError(t, err)
	defer second.Close()

	users, err := second.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.NoError(t, second.Ping(ctx))
}
