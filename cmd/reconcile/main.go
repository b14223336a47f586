// Command reconcile replays the wallet ledger against stored balances and
// exits 2 when any balance has drifted.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hmos/marketplace/internal/config"
	"github.com/hmos/marketplace/internal/ledger"
	"github.com/hmos/marketplace/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.App.LogLevel})))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.URL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	report, err := ledger.NewService(repository.NewStore(pool)).Reconcile(ctx)
	if err != nil {
		slog.Error("Reconcile failed", "error", err)
		os.Exit(1)
	}
	for _, m := range report.Mismatches {
		slog.Warn("balance drift",
			"user_id", m.UserID,
			"balance_type", m.BalanceType,
			"stored", m.Stored.StringFixed(2),
			"replayed", m.Replayed.StringFixed(2))
	}
	slog.Info("Reconcile finished", "wallets", report.Wallets, "entries", report.Entries, "mismatches", len(report.Mismatches))
	if !report.OK() {
		os.Exit(2)
	}
}
