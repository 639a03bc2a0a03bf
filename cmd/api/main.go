package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/playoffchallenge/backend/internal/config"
	"github.com/playoffchallenge/backend/internal/handlers"
	"github.com/playoffchallenge/backend/internal/ledger"
	"github.com/playoffchallenge/backend/internal/lifecycle"
	"github.com/playoffchallenge/backend/internal/metrics"
	"github.com/playoffchallenge/backend/internal/middleware"
	"github.com/playoffchallenge/backend/internal/payments"
	"github.com/playoffchallenge/backend/internal/router"
	"github.com/playoffchallenge/backend/internal/settlement"
	"github.com/playoffchallenge/backend/internal/workers"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL (connection refused or invalid). Ensure Postgres is running, e.g. make dev-up or docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed. If the error is 'connection refused', start PostgreSQL first (e.g. make dev-up)", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	metrics.Register()

	// Ledger
	ledgerRepo := ledger.NewRepository(pool)
	ledgerSvc := ledger.NewService(ledgerRepo)

	// Lifecycle: settlement enqueue func is set after the River client is
	// created (breaks init cycle)
	var insertMu sync.Mutex
	var insertFn lifecycle.EnqueueSettlementTxFunc
	enqueueSettlement := func(ctx context.Context, tx pgx.Tx, contestID uuid.UUID) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, tx, contestID)
	}

	lifecycleRepo := lifecycle.NewRepository(pool)
	lifecycleSvc := lifecycle.NewService(lifecycleRepo, enqueueSettlement, logger)

	// Settlement
	settlementRepo := settlement.NewRepository(pool)
	settlementSvc := settlement.NewService(settlementRepo, ledgerSvc, logger)

	// Payments
	processorClient := payments.NewHTTPProcessorClient(cfg.ProcessorURL)
	paymentsRepo := payments.NewRepository(pool)
	paymentsSvc := payments.NewService(paymentsRepo, processorClient, ledgerSvc, logger)

	// Workers: settlement on contest completion, reconciliation on a schedule
	riverWorkers := river.NewWorkers()
	river.AddWorker(riverWorkers, workers.NewSettleContestWorker(settlementSvc, logger))
	river.AddWorker(riverWorkers, workers.NewReconcileWorker(lifecycleSvc, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: riverWorkers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(cfg.ReconcileInterval),
				func() (river.JobArgs, *river.InsertOpts) {
					return workers.ReconcileArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, contestID uuid.UUID) error {
		_, err := riverClient.InsertTx(ctx, tx, workers.SettleContestArgs{ContestID: contestID}, nil)
		return err
	}
	insertMu.Unlock()

	// Handlers
	contestHandler := &handlers.ContestHandler{Contests: lifecycleRepo, Ledger: ledgerSvc, Logger: logger}
	paymentHandler := &handlers.PaymentHandler{Payments: paymentsSvc, Logger: logger}
	webhookHandler := &handlers.WebhookHandler{Payments: paymentsSvc, Secret: []byte(cfg.ProcessorWebhookSecret), Logger: logger}
	adminHandler := &handlers.AdminHandler{
		Contests:   lifecycleRepo,
		Lifecycle:  lifecycleSvc,
		Settlement: settlementSvc,
		Logger:     logger,
	}

	apiRouter := router.New(router.Config{
		Contests:  contestHandler,
		Payments:  paymentHandler,
		Webhooks:  webhookHandler,
		Admin:     adminHandler,
		JWTSecret: []byte(cfg.JWTSecret),
		AdminKey:  cfg.AdminAPIKey,
		Limiter:   middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute),
	})

	mux := http.NewServeMux()
	mux.Handle("/api/", apiRouter)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Admin-Key"},
		AllowCredentials: true,
	}).Handler(mux)

	// Start River client (processes jobs)
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	serverAddr := "0.0.0.0:" + cfg.Port
	slog.Info("Starting HTTP server", "addr", serverAddr)
	if err := http.ListenAndServe(serverAddr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
