package handlers

import (
	"encoding/json"

	"github.com/escrowhub/backend/internal/config"
	"github.com/escrowhub/backend/internal/http/dto"
	"github.com/escrowhub/backend/internal/services"
	"github.com/escrowhub/backend/internal/webhook"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// WebhookHandler receives deposit notifications from the settlement-network
// watcher. Signature and freshness are checked against the raw body before
// anything is parsed; processing itself is idempotent, so the sender may
// retry freely.
type WebhookHandler struct {
	webhookService *services.WebhookService
	cfg            *config.Config
	log            *zap.Logger
}

func NewWebhookHandler(webhookService *services.WebhookService, cfg *config.Config, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{webhookService: webhookService, cfg: cfg, log: log}
}

func (h *WebhookHandler) Deposit(c *fiber.Ctx) error {
	if h.cfg.WebhookSecret == "" {
		// Our misconfiguration, not the sender's: a 4xx would stop retries
		// for good.
		h.log.Error("webhook secret not configured")
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "webhook ingestion not configured"})
	}

	rawBody := c.Body()
	signature := c.Get("X-Webhook-Signature")
	if err := webhook.VerifySignature(rawBody, signature, h.cfg.WebhookSecret); err != nil {
		h.log.Warn("webhook signature rejected", zap.String("ip", c.IP()), zap.Error(err))
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "invalid signature"})
	}

	var req dto.DepositWebhookRequest
	if err := json.Unmarshal(rawBody, &req); err != nil {
		return respondBadRequest(c, "invalid request body")
	}
	if req.Address == "" || req.TxHash == "" || req.Amount == "" {
		return respondBadRequest(c, "address, tx_hash and amount are required")
	}
	// A stale or future-dated timestamp is an authentication failure, same
	// class as a bad signature: it defeats replayed captures.
	if err := webhook.CheckFreshness(req.Timestamp, h.cfg.WebhookMaxAge); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	res, err := h.webhookService.Process(c.Context(), webhook.Payload{
		Address:       req.Address,
		TxHash:        req.TxHash,
		AmountBCH:     req.Amount,
		Confirmations: req.Confirmations,
		Timestamp:     req.Timestamp,
	})
	if err != nil {
		return respondError(c, err)
	}

	message := "processed"
	if res.Duplicate {
		message = "duplicate delivery, already processed"
	}
	return c.JSON(dto.WebhookAckResponse{
		Message:       message,
		EventID:       res.EventID,
		EscrowID:      res.EscrowID,
		Status:        string(res.Status),
		Confirmations: res.Confirmations,
	})
}
