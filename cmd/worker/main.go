package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/escrowhub/backend/internal/bch"
	"github.com/escrowhub/backend/internal/config"
	"github.com/escrowhub/backend/internal/db"
	"github.com/escrowhub/backend/internal/effects"
	"github.com/escrowhub/backend/internal/events"
	"github.com/escrowhub/backend/internal/keyvault"
	"github.com/escrowhub/backend/internal/monitor"
	"github.com/escrowhub/backend/internal/repositories"
	"github.com/escrowhub/backend/internal/services"
	"github.com/escrowhub/backend/internal/statemachine"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repos
	escrowRepo := repositories.NewEscrowRepo(pool)
	walletRepo := repositories.NewWalletRepo(pool)
	disputeRepo := repositories.NewDisputeRepo(pool)
	txRepo := repositories.NewTransactionRepo(pool)
	outboxRepo := repositories.NewOutboxRepo(pool)

	// Services
	publisher := events.NewRedisPublisher(rdb, log)
	engine := statemachine.NewEngine(statemachine.NewPostgresStore(pool), log)

	chain := bch.NewClient(bch.Config{
		Network:   bch.Network(cfg.Network),
		Providers: buildProviders(cfg),
	}, log)
	builder := bch.NewBuilder(chain)
	fundingMonitor := monitor.New(chain, log)

	vault, err := keyvault.New(cfg.EncryptionSecret, cfg.Network)
	if err != nil {
		log.Fatal("failed to initialize key vault", zap.Error(err))
	}

	walletService := services.NewWalletService(walletRepo, vault, chain, cfg.Network, log)
	escrowService := services.NewEscrowService(escrowRepo, txRepo, disputeRepo, walletService, engine, chain, builder, fundingMonitor, vault, publisher, cfg, log)

	notifier := services.NewNotifyClient(cfg.NotifierURL, log)
	advisor := services.NewAdvisorClient(cfg.AdvisorURL, log)
	runner := effects.NewRunner(outboxRepo, notifier, advisor, cfg.OutboxBatchSize, cfg.OutboxMaxAttempts, cfg.OutboxPollInterval, log)

	log.Info("worker started", zap.String("network", cfg.Network))

	// Outbox drain runs on its own tighter loop.
	go runner.Run(ctx)

	// Run jobs on tickers
	expiryTicker := time.NewTicker(5 * time.Minute)
	reconcileTicker := time.NewTicker(1 * time.Minute)
	defer expiryTicker.Stop()
	defer reconcileTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-expiryTicker.C:
			runExpiry(ctx, escrowService, log)
		case <-reconcileTicker.C:
			runReconcile(ctx, escrowService, log)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func runExpiry(ctx context.Context, escrowService *services.EscrowService, log *zap.Logger) {
	n, err := escrowService.ExpireStale(ctx)
	if err != nil {
		log.Error("expiry sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("expired stale escrows", zap.Int("count", n))
	}
}

func runReconcile(ctx context.Context, escrowService *services.EscrowService, log *zap.Logger) {
	if err := escrowService.ReconcileFunding(ctx); err != nil {
		log.Error("funding reconciliation failed", zap.Error(err))
	}
}

func buildProviders(cfg *config.Config) []bch.Provider {
	var providers []bch.Provider
	network := bch.Network(cfg.Network)
	for i, url := range cfg.ProviderURLs {
		providers = append(providers, bch.NewRESTProvider(fmt.Sprintf("rest-%d", i), url, network))
	}
	for i, url := range cfg.InsightURLs {
		providers = append(providers, bch.NewInsightProvider(fmt.Sprintf("insight-%d", i), url, network))
	}
	return providers
}
