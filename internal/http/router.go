package http

import (
	"time"

	"github.com/escrowhub/backend/internal/config"
	"github.com/escrowhub/backend/internal/http/handlers"
	"github.com/escrowhub/backend/internal/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	escrowHandler *handlers.EscrowHandler,
	disputeHandler *handlers.DisputeHandler,
	walletHandler *handlers.WalletHandler,
	webhookHandler *handlers.WebhookHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Webhook ingestion: authenticated by HMAC signature, not JWT.
	api.Post("/webhooks/deposit", webhookHandler.Deposit)

	// Auth (public)
	api.Post("/auth/register", authHandler.Register)

	// Rate-limited endpoints
	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// User
	protected.Get("/me", authHandler.Me)

	// Custodial wallet
	protected.Get("/me/wallet", walletHandler.GetWallet)
	protected.Get("/me/wallet/balance", walletHandler.GetBalance)
	protected.Get("/me/wallet/history", walletHandler.GetHistory)

	// Escrows
	protected.Post("/escrows", escrowHandler.Create)
	protected.Get("/escrows", escrowHandler.List)
	protected.Get("/escrows/:publicId", escrowHandler.Get)
	protected.Get("/escrows/:publicId/payment", escrowHandler.PaymentInfo)
	protected.Post("/escrows/:publicId/fund", escrowHandler.Fund)
	protected.Post("/escrows/:publicId/start", escrowHandler.StartWork)
	protected.Post("/escrows/:publicId/submit", escrowHandler.Submit)
	protected.Post("/escrows/:publicId/verify", escrowHandler.Verify)
	protected.Post("/escrows/:publicId/release", escrowHandler.Release)
	protected.Post("/escrows/:publicId/refund", escrowHandler.Refund)
	protected.Post("/escrows/:publicId/cancel", escrowHandler.Cancel)
	protected.Get("/escrows/:publicId/transitions", escrowHandler.Transitions)
	protected.Get("/escrows/:publicId/ledger", escrowHandler.Ledger)

	// Disputes
	protected.Post("/escrows/:escrowId/disputes", disputeHandler.Open)
	protected.Get("/disputes/:id", disputeHandler.Get)
	protected.Post("/disputes/:id/evidence", disputeHandler.AddEvidence)
	protected.Post("/disputes/:id/concede", disputeHandler.Concede)

	// Arbitration (admin only)
	admin := protected.Group("", middleware.AdminMiddleware())
	admin.Post("/disputes/:id/resolve", disputeHandler.Resolve)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
