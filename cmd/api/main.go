package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/stakeladder/backend/internal/auth"
	"github.com/stakeladder/backend/internal/chain"
	"github.com/stakeladder/backend/internal/config"
	"github.com/stakeladder/backend/internal/database"
	"github.com/stakeladder/backend/internal/handlers"
	"github.com/stakeladder/backend/internal/jobs"
	"github.com/stakeladder/backend/internal/ledger"
	"github.com/stakeladder/backend/internal/metrics"
	"github.com/stakeladder/backend/internal/notify"
	"github.com/stakeladder/backend/internal/payout"
	"github.com/stakeladder/backend/internal/repository"
	"github.com/stakeladder/backend/internal/router"
	"github.com/stakeladder/backend/internal/services"
	"github.com/stakeladder/backend/internal/wallet"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	if err := database.Migrate(cfg.DatabaseURL, logger); err != nil {
		slog.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	// Ledger store
	users := repository.NewUserRepo(pool)
	wallets := repository.NewWalletRepo(pool)
	activationRepo := repository.NewActivationRepo(pool)
	deposits := repository.NewDepositRepo(pool)
	withdrawals := repository.NewWithdrawalRepo(pool)
	fundings := repository.NewFundingRepo(pool)
	ledgerRepo := ledger.NewRepository(pool)

	// Notifications are delivered by a River worker.
	var mailer notify.Mailer = notify.LogMailer{Logger: logger}
	if cfg.SMTP.Enabled() {
		mailer = &notify.SMTPMailer{Addr: cfg.SMTP.Addr, Username: cfg.SMTP.Username, Password: cfg.SMTP.Password, From: cfg.SMTP.From}
	}
	workers := river.NewWorkers()
	river.AddWorker(workers, notify.NewNotificationWorker(users, mailer, logger))

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
	notifier := notify.NewRiverNotifier(riverClient, logger)

	// Compensation engines
	guard := services.NewCapGuard(users, activationRepo, ledgerRepo, logger)
	rebates := services.NewRebateEngine(activationRepo, wallets, ledgerRepo, guard, cfg.Location, logger)
	rebates.Threshold = cfg.Rebate.Threshold
	rebates.Payout = cfg.Rebate.Payout
	commission := services.NewCommissionEngine(users, wallets, ledgerRepo, guard, rebates, logger)
	activationSvc := services.NewActivationService(pool, users, wallets, activationRepo, guard, commission, logger)

	walletSvc := wallet.NewService(pool, users, wallets, activationRepo, ledgerRepo, deposits, withdrawals, fundings, wallet.Fees{
		Deposit:       cfg.Deposits.Fees,
		Withdrawal:    cfg.Withdrawal.Fees,
		MinWithdrawal: cfg.Withdrawal.MinAmount,
	}, logger)

	// Background workers outlive the signal context; Stop cancels them.
	bg := context.WithoutCancel(ctx)
	accrual := jobs.NewReturnAccrual(pool, users, activationRepo, wallets, ledgerRepo, guard, walletSvc, cfg.Location, logger)
	accrual.Rate = cfg.Accrual.Rate
	accrual.MinAge = cfg.Accrual.MinAge
	if err := accrual.Start(bg, cfg.Accrual.Schedule); err != nil {
		slog.Error("Failed to schedule return accrual", "error", err)
		os.Exit(1)
	}

	verifier := chain.NewClient(cfg.Verifier.URL, cfg.Verifier.Timeout, cfg.Verifier.RPS, cfg.Deposits.MinConfirmations)
	depositVerifier := jobs.NewDepositVerifier(pool, deposits, wallets, verifier, notifier, cfg.Deposits.Addresses, logger)
	depositVerifier.BatchSize = cfg.Deposits.BatchSize
	loops := []*jobs.Loop{jobs.NewLoop(jobs.DepositVerifierWorker, cfg.Deposits.Interval, depositVerifier.Tick, logger)}

	provider, err := payout.NewClient(cfg.Provider.URL, cfg.Provider.Secret, cfg.Provider.Timeout)
	if err != nil {
		slog.Warn("Withdrawal settlement disabled", "error", err)
	} else {
		settler, err := jobs.NewWithdrawalSettler(pool, withdrawals, users, wallets, provider, notifier, cfg.Withdrawal.MinAge, logger)
		if err != nil {
			slog.Error("Failed to create withdrawal settler", "error", err)
			os.Exit(1)
		}
		settler.InitiateBatch = cfg.Withdrawal.InitiateBatch
		settler.CompleteBatch = cfg.Withdrawal.CompleteBatch
		loops = append(loops, jobs.NewLoop(jobs.WithdrawalSettlerWorker, cfg.Withdrawal.Interval, settler.Tick, logger))
	}
	for _, l := range loops {
		if err := l.Start(bg); err != nil {
			slog.Error("Failed to start worker", "worker", l.Name(), "error", err)
			os.Exit(1)
		}
	}

	// HTTP
	apiV1Router := router.New(auth.NewService(cfg.JWTSecret), cfg.AdminKeyHash,
		handlers.NewAccountHandler(activationSvc, walletSvc, logger),
		handlers.NewAdminHandler(walletSvc, accrual, logger))

	mux := http.NewServeMux()
	mux.Handle("/api/", apiV1Router)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, `{"status":"unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(metrics.InstrumentHandler(mux))

	// Start River client (processes notification jobs)
	if err := riverClient.Start(bg); err != nil {
		slog.Error("Failed to start River client", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("Starting HTTP server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown", "error", err)
	}
	for _, l := range loops {
		if err := l.Stop(shutdownCtx); err != nil {
			slog.Error("Worker stop", "worker", l.Name(), "error", err)
		}
	}
	if err := accrual.Stop(shutdownCtx); err != nil {
		slog.Error("Accrual stop", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("River client stop", "error", err)
	}
}
