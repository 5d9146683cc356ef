package handlers

import (
	"github.com/escrowhub/backend/internal/bch"
	"github.com/escrowhub/backend/internal/http/dto"
	"github.com/escrowhub/backend/internal/middleware"
	"github.com/escrowhub/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type WalletHandler struct {
	walletService *services.WalletService
	log           *zap.Logger
}

func NewWalletHandler(walletService *services.WalletService, log *zap.Logger) *WalletHandler {
	return &WalletHandler{walletService: walletService, log: log}
}

// GetWallet returns the caller's custodial deposit address, provisioning the
// wallet on first call.
func (h *WalletHandler) GetWallet(c *fiber.Ctx) error {
	w, err := h.walletService.EnsureWallet(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.WalletResponse{
		Address: w.Address,
		Network: w.Network,
	}})
}

func (h *WalletHandler) GetBalance(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	w, err := h.walletService.EnsureWallet(c.Context(), userID)
	if err != nil {
		return respondError(c, err)
	}
	balance, err := h.walletService.Balance(c.Context(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.WalletResponse{
		Address:         w.Address,
		Network:         w.Network,
		ConfirmedBCH:    bch.FromSatoshis(balance.ConfirmedSats),
		UnconfirmedBCH:  bch.FromSatoshis(balance.UnconfirmedSats),
		ConfirmedSats:   balance.ConfirmedSats,
		UnconfirmedSats: balance.UnconfirmedSats,
	}})
}

func (h *WalletHandler) GetHistory(c *fiber.Ctx) error {
	history, err := h.walletService.History(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: history})
}
