package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/escrowhub/backend/internal/bch"
	"github.com/escrowhub/backend/internal/config"
	"github.com/escrowhub/backend/internal/db"
	"github.com/escrowhub/backend/internal/events"
	apphttp "github.com/escrowhub/backend/internal/http"
	"github.com/escrowhub/backend/internal/http/handlers"
	"github.com/escrowhub/backend/internal/keyvault"
	"github.com/escrowhub/backend/internal/monitor"
	"github.com/escrowhub/backend/internal/repositories"
	"github.com/escrowhub/backend/internal/services"
	"github.com/escrowhub/backend/internal/statemachine"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	userRepo := repositories.NewUserRepo(pool)
	escrowRepo := repositories.NewEscrowRepo(pool)
	walletRepo := repositories.NewWalletRepo(pool)
	disputeRepo := repositories.NewDisputeRepo(pool)
	txRepo := repositories.NewTransactionRepo(pool)
	webhookRepo := repositories.NewWebhookRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// State machine over the shared transition tables
	engine := statemachine.NewEngine(statemachine.NewPostgresStore(pool), log)

	// Settlement network
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

	// Services
	walletService := services.NewWalletService(walletRepo, vault, chain, cfg.Network, log)
	escrowService := services.NewEscrowService(escrowRepo, txRepo, disputeRepo, walletService, engine, chain, builder, fundingMonitor, vault, publisher, cfg, log)
	advisorClient := services.NewAdvisorClient(cfg.AdvisorURL, log)
	disputeService := services.NewDisputeService(disputeRepo, escrowRepo, escrowService, advisorClient, log)
	webhookService := services.NewWebhookService(escrowRepo, webhookRepo, txRepo, escrowService, cfg, log)

	// Handlers
	authHandler := handlers.NewAuthHandler(userRepo, cfg, log)
	escrowHandler := handlers.NewEscrowHandler(escrowService, log)
	disputeHandler := handlers.NewDisputeHandler(disputeService, log)
	walletHandler := handlers.NewWalletHandler(walletService, log)
	webhookHandler := handlers.NewWebhookHandler(webhookService, cfg, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, authHandler, escrowHandler, disputeHandler, walletHandler, webhookHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr), zap.String("network", cfg.Network))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

// buildProviders preserves configuration order: REST providers first, then
// insight-style ones. Failover walks the list in this order.
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
