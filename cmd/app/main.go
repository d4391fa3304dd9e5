// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"prompt-market-payments/internal/config"
	"prompt-market-payments/internal/domain/ports/repository"
	pg "prompt-market-payments/internal/infra/db/postgres"
	"prompt-market-payments/internal/infra/logging"
	"prompt-market-payments/internal/infra/metrics"
	"prompt-market-payments/internal/infra/payment"
	red "prompt-market-payments/internal/infra/redis"
	"prompt-market-payments/internal/infra/sched"
	"prompt-market-payments/internal/infra/web"
	"prompt-market-payments/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, sandbox defaults)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}

	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pool.Close()

	// ---- Redis (optional: plan cache + verify lock) ----
	var locker usecase.Locker
	planRepo := repository.PlanRepository(pg.NewPlanRepo(pool))
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connect failed")
		}
		defer redisClient.Close()
		planRepo = pg.NewPlanRepoCacheDecorator(planRepo, redisClient)
		locker = red.NewLocker(redisClient)
	} else {
		logger.Warn().Msg("redis.url not set; plan cache and verify lock disabled")
	}

	// ---- Repositories ----
	txnRepo := pg.NewTransactionRepo(pool)
	subRepo := pg.NewSubscriptionRepo(pool)
	eventRepo := pg.NewWebhookEventRepo(pool)
	tm := pg.NewTxManager(pool)

	// ---- Gateway ----
	gateway, err := payment.NewPayPalGateway(cfg.PayPal.ClientID, cfg.PayPal.Secret, cfg.PayPal.Sandbox)
	if err != nil {
		logger.Fatal().Err(err).Msg("paypal gateway init failed")
	}

	// ---- Use cases ----
	subUC := usecase.NewSubscriptionUseCase(subRepo, planRepo, tm, logger)
	recoveryUC := usecase.NewRecoveryUseCase(txnRepo, subRepo, subUC, logger)
	verifyUC := usecase.NewVerificationUseCase(txnRepo, subUC, recoveryUC, gateway, locker, logger)
	checkoutUC := usecase.NewCheckoutUseCase(txnRepo, planRepo, gateway, logger)
	webhookUC := usecase.NewWebhookUseCase(txnRepo, eventRepo, subUC, logger)
	sweepUC := usecase.NewSweepUseCase(txnRepo, subUC, gateway, logger)
	statsUC := usecase.NewStatsUseCase(txnRepo, subRepo)

	// ---- HTTP server ----
	auth := web.NewAuthManager(cfg.Admin.JWTSecret, cfg.Admin.SessionTTL)
	srv := web.NewServer(checkoutUC, verifyUC, webhookUC, recoveryUC, sweepUC, statsUC, auth, cfg.Sweep.Batch, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	// ---- Sweep workers ----
	fast := sched.NewCaptureSweepWorker(sweepUC, cfg.Sweep.FastInterval, cfg.Sweep.FastMaxAge, cfg.Sweep.Batch, "fast", logger)
	go func() { _ = fast.Run(ctx) }()
	slow := sched.NewCleanupWorker(sweepUC, recoveryUC, cfg.Sweep.SlowInterval, cfg.Sweep.SlowMaxAge, cfg.Sweep.Batch, logger)
	go func() { _ = slow.Run(ctx) }()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown error")
	}
}
