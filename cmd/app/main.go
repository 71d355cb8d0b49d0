package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"mpesa-payment-core/internal/config"
	"mpesa-payment-core/internal/domain/ports/repository"
	pg "mpesa-payment-core/internal/infra/db/postgres"
	"mpesa-payment-core/internal/infra/logging"
	"mpesa-payment-core/internal/infra/memory"
	"mpesa-payment-core/internal/infra/metrics"
	"mpesa-payment-core/internal/infra/payment"
	red "mpesa-payment-core/internal/infra/redis"
	"mpesa-payment-core/internal/infra/sched"
	"mpesa-payment-core/internal/infra/security"
	"mpesa-payment-core/internal/infra/web"
	"mpesa-payment-core/internal/infra/worker"
	"mpesa-payment-core/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, relaxed redaction)")
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
	pool, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Session store (Redis, or in-memory in dev without Redis) ----
	var sessionStore repository.SessionPaymentStore
	if cfg.Redis.URL == "" {
		logger.Warn().Msg("no redis configured; session payment state is in-memory and lost on restart")
		sessionStore = memory.NewSessionStore()
	} else {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		sessionStore = red.NewSessionStore(redisClient)
	}

	// ---- Encryption ----
	encSvc, err := security.NewEncryptionService(cfg.Security.EncryptionSecret, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("encryption")
	}

	// ---- Payment gateway ----
	gateway, err := payment.NewDarajaGateway(ctx, cfg.Daraja, encSvc, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("daraja gateway")
	}

	// ---- Repositories ----
	txManager := pg.NewTxManager(pool)
	transactionRepo := pg.NewTransactionRepo(pool)
	subscriptionRepo := pg.NewSubscriptionRepo(pool)
	orgRepo := pg.NewOrgSubscriptionRepo(pool)

	// ---- Use cases ----
	authority := usecase.NewSubscriptionAuthority(subscriptionRepo, orgRepo, logger)
	pollPolicy := usecase.NewSleepPolicy(cfg.Verify.PollDelay)
	flowUC := usecase.NewPaymentFlowUseCase(transactionRepo, authority, gateway, txManager, encSvc, pollPolicy, logger)
	guardUC := usecase.NewSessionGuardUseCase(sessionStore, flowUC, logger)

	// ---- Reconciler ----
	if cfg.Reconciler.Enabled {
		wp := worker.NewPool(4, logger)
		wp.Start(ctx)
		defer wp.Stop()
		reconciler := sched.NewPaymentReconciler(flowUC, transactionRepo, wp, cfg.Reconciler.Interval, cfg.Reconciler.StaleAfter, logger)
		go reconciler.Start(ctx)
	}

	// ---- HTTP server ----
	auth := web.NewAuthManager(cfg.Security.APISecret, cfg.Security.TokenTTL)
	srv := web.NewServer(flowUC, guardUC, auth, cfg.HTTP, cfg.Verify, logger)
	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Start(ctx) }()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
		logger.Info().Msg("shutdown requested")
		cancel()
		<-serverErr
	case err := <-serverErr:
		if err != nil {
			logger.Fatal().Err(err).Msg("http server")
		}
	}
}
