package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/cors"

	"github.com/hmos/marketplace/internal/auth"
	"github.com/hmos/marketplace/internal/config"
	"github.com/hmos/marketplace/internal/dashboard"
	"github.com/hmos/marketplace/internal/handlers"
	"github.com/hmos/marketplace/internal/jobs"
	"github.com/hmos/marketplace/internal/ledger"
	"github.com/hmos/marketplace/internal/notify"
	"github.com/hmos/marketplace/internal/repository"
	"github.com/hmos/marketplace/internal/router"
	"github.com/hmos/marketplace/internal/services"
	"github.com/hmos/marketplace/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.App.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DB.URL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Run cmd/migrator against a running database first", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	st := repository.NewStore(pool)
	notes := repository.NewNotificationRepo(pool)

	var cache wallet.BalanceCache = wallet.NopCache{}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("Redis unreachable, balance cache disabled", "addr", cfg.Redis.Addr, "error", err)
		} else {
			cache = wallet.NewRedisCache(rdb, cfg.Redis.TTL)
			slog.Info("Balance cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.TTL)
		}
	}

	// River workers always run so queued deliveries drain even when the
	// sink is switched away from river.
	workers := river.NewWorkers()
	river.AddWorker(workers, notify.NewDeliverWorker(notes))
	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	sink, closeSink := newSink(cfg.Notify, riverClient)
	defer closeSink()
	notifier := notify.NewNotifier(sink)

	led := ledger.NewService(st)
	wallets := wallet.NewService(st, led, cache, cfg.Ledger.Currency)
	escrowSvc := services.NewEscrowService(st, wallets, notifier, cfg.Ledger.CommissionRate)
	paymentSvc := services.NewPaymentService(st, wallets, notifier)
	jobsSvc := jobs.NewService(st, escrowSvc, notifier)
	tokens := auth.NewService(cfg.App.JWTSecret)

	api := router.New(router.Deps{
		Tokens:    tokens,
		Dashboard: dashboard.NewHandler(wallets, led, notes, logger),
		Escrows:   handlers.NewEscrowHandler(escrowSvc, logger),
		Jobs:      jobs.NewHandler(jobsSvc, logger),
		Payments:  handlers.NewPaymentHandler(paymentSvc, logger),
		Admin:     handlers.NewAdminHandler(services.NewDisputeService(escrowSvc), paymentSvc, led, logger),
		Health:    pool.Ping,
		Logger:    logger,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.App.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}).Handler(api)

	srv := &http.Server{
		Addr:    "0.0.0.0:" + cfg.App.Port,
		Handler: corsHandler,
	}
	slog.Info("Starting HTTP server", "addr", srv.Addr, "notify_sink", cfg.Notify.Sink)
	if err := run(ctx, srv, riverClient, cfg.App.ShutdownTimeout); err != nil {
		slog.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

// backgroundWorker is the part of the River client the server lifecycle uses.
type backgroundWorker interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// run starts workers and srv, blocks until ctx is done or srv fails, then
// shuts both down within timeout. Workers get their own context: cancelling
// the one passed to Start aborts running jobs, and Stop should let them finish.
func run(ctx context.Context, srv *http.Server, workers backgroundWorker, timeout time.Duration) error {
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	if err := workers.Start(workerCtx); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
		slog.Error("HTTP server failed", "error", err)
	}
	slog.Info("Shutting down", "timeout", timeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown", "error", err)
	}
	if err := workers.Stop(shutdownCtx); err != nil {
		slog.Error("River shutdown", "error", err)
	}
	return err
}

// newSink picks the notification transport. The returned func releases it.
func newSink(cfg *config.NotifyConfig, rc *river.Client[pgx.Tx]) (notify.Sink, func()) {
	switch cfg.Sink {
	case "kafka":
		w := notify.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		return notify.NewKafkaSink(w), func() {
			if err := w.Close(); err != nil {
				slog.Error("Kafka writer close", "error", err)
			}
		}
	case "log":
		return notify.LogSink{}, func() {}
	default:
		insert := func(ctx context.Context, args notify.DeliverArgs) error {
			_, err := rc.Insert(ctx, args, nil)
			return err
		}
		return notify.NewRiverSink(insert), func() {}
	}
}
