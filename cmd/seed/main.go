// Command seed loads a YAML fixture of users and transactions into the
// SQLite store used by the sqlite data backend.
//
//	seed -file fixtures/sample.yaml [-db ./data/income.db]
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/boddenberg/recurring-income-bfa/internal/config"
	"github.com/boddenberg/recurring-income-bfa/internal/fixtures"
	"github.com/boddenberg/recurring-income-bfa/internal/infra/observability"
	"github.com/boddenberg/recurring-income-bfa/internal/infra/sqlite"

	"go.uber.org/zap"
)

func main() {
	_ = config.LoadDotEnv(".env")
	cfg := config.Load()

	file := flag.String("file", "fixtures/sample.yaml", "YAML fixture to load")
	dbPath := flag.String("db", cfg.SQLiteDBPath, "SQLite database path")
	flag.Parse()

	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	if err := run(*file, *dbPath, observability.NewEmailRedactor(cfg.LogEmailKey), logger); err != nil {
		logger.Error("seed failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(file, dbPath string, redactor *observability.EmailRedactor, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	f, err := fixtures.Load(file)
	if err != nil {
		return err
	}

	store, err := sqlite.Open(dbPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	total := 0
	for _, u := range f.Users {
		if err := store.UpsertUser(ctx, u.User()); err != nil {
			return err
		}
		txs := u.DomainTransactions()
		if err := store.ReplaceTransactions(ctx, u.Email, txs); err != nil {
			return err
		}
		total += len(txs)
		logger.Debug("user seeded", redactor.Field(u.Email), zap.Int("transactions", len(txs)))
	}

	logger.Info("seed complete",
		zap.String("file", file),
		zap.String("db", dbPath),
		zap.Int("users", len(f.Users)),
		zap.Int("transactions", total),
	)
	return nil
}
