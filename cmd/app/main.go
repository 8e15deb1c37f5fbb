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

	"farm-subscription-backend/internal/config"
	"farm-subscription-backend/internal/domain/ports/adapter"
	"farm-subscription-backend/internal/infra/adapters/notify"
	payAdapters "farm-subscription-backend/internal/infra/adapters/payment"
	"farm-subscription-backend/internal/infra/api"
	pg "farm-subscription-backend/internal/infra/db/postgres"
	"farm-subscription-backend/internal/infra/logging"
	"farm-subscription-backend/internal/infra/metrics"
	red "farm-subscription-backend/internal/infra/redis"
	"farm-subscription-backend/internal/infra/sched"
	"farm-subscription-backend/internal/infra/web"
	"farm-subscription-backend/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "developer mode (console logs, noop adapters when unconfigured)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	rateLimiter := red.NewRateLimiter(redisClient)

	// ---- Repositories ----
	userRepo := pg.NewUserRepo(pool)
	planRepo := pg.NewPlanRepo(pool)
	subRepo := pg.NewSubscriptionRepo(pool)
	payRepo := pg.NewPaymentRepo(pool)
	txManager := pg.NewTxManager(pool)

	// ---- Payment gateway ----
	var gateway adapter.PaymentGateway
	if cfg.Gateway.KeyID != "" && cfg.Gateway.KeySecret != "" {
		gateway, err = payAdapters.NewRazorpayGateway(cfg.Gateway.KeyID, cfg.Gateway.KeySecret, cfg.Gateway.BaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("payment gateway")
		}
	} else if cfg.Runtime.Dev {
		logger.Warn().Msg("gateway credentials missing; using in-memory gateway (dev only)")
		gateway = payAdapters.NewNoopPaymentGateway()
	} else {
		logger.Fatal().Msg("gateway.key_id and gateway.key_secret are required")
	}

	// ---- Notification sink ----
	var sink adapter.NotificationSink
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != 0 {
		sink, err = notify.NewTelegramNotifier(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram notifier")
		}
	} else {
		sink = notify.NewNoopNotifier()
	}

	// ---- Use cases ----
	fraudUC := usecase.NewFraudUseCase(payRepo, userRepo, cfg.Fraud, logger)
	subUC := usecase.NewSubscriptionUseCase(subRepo, planRepo, txManager, sink, cfg.Subscription, logger)
	orderUC := usecase.NewOrderUseCase(payRepo, planRepo, fraudUC, gateway, txManager, cfg.Subscription, cfg.Gateway.Currency, logger)
	verifyUC := usecase.NewVerificationUseCase(
		payRepo, subRepo, planRepo, subUC, gateway, txManager, sink,
		cfg.Gateway.KeySecret, cfg.Gateway.WebhookSecret, logger,
	)

	// ---- Public API ----
	apiSrv := api.NewServer(orderUC, verifyUC, subUC, fraudUC, userRepo, rateLimiter, cfg.Auth, cfg.Fraud, logger)
	public := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiSrv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", public.Addr).Msg("public API listening")
		if err := public.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("public server error")
		}
	}()

	// ---- Admin API + metrics ----
	adminSrv := web.NewServer(verifyUC, subUC, payRepo, subRepo, cfg.Auth.AdminAPIKey, logger)
	adminMux := http.NewServeMux()
	adminSrv.RegisterRoutes(adminMux)
	admin := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.AdminPort),
		Handler:           adminMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", admin.Addr).Msg("admin API listening")
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("admin server error")
		}
	}()

	// ---- Background workers ----
	reconciler := sched.NewActivationReconciler(cfg.Scheduler.ReconcileInterval, verifyUC, logger)
	go func() { _ = reconciler.Run(ctx) }()

	staleWorker := sched.NewStaleOrderWorker(
		cfg.Scheduler.StaleOrderInterval, cfg.Scheduler.StaleOrderAfter,
		payRepo, gateway, verifyUC, logger,
	)
	go func() { _ = staleWorker.Run(ctx) }()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = public.Shutdown(shutdownCtx)
	_ = admin.Shutdown(shutdownCtx)
}
