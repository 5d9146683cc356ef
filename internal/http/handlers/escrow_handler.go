package handlers

import (
	"strconv"

	"github.com/escrowhub/backend/internal/bch"
	"github.com/escrowhub/backend/internal/http/dto"
	"github.com/escrowhub/backend/internal/middleware"
	"github.com/escrowhub/backend/internal/models"
	"github.com/escrowhub/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type EscrowHandler struct {
	escrowService *services.EscrowService
	log           *zap.Logger
}

func NewEscrowHandler(escrowService *services.EscrowService, log *zap.Logger) *EscrowHandler {
	return &EscrowHandler{escrowService: escrowService, log: log}
}

func (h *EscrowHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return respondBadRequest(c, "invalid request body")
	}

	sellerID, err := uuid.Parse(req.SellerID)
	if err != nil {
		return respondBadRequest(c, "invalid seller_id")
	}
	amountSats, err := bch.ToSatoshis(req.AmountBCH)
	if err != nil {
		return respondBadRequest(c, "invalid amount_bch")
	}

	buyerID := middleware.GetUserID(c)
	esc, err := h.escrowService.CreateEscrow(c.Context(), buyerID, sellerID, amountSats, req.Description)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: esc})
}

func (h *EscrowHandler) Get(c *fiber.Ctx) error {
	esc, err := h.escrowService.GetByPublicID(c.Context(), c.Params("publicId"), middleware.GetUserID(c), middleware.GetIsAdmin(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: esc})
}

// PaymentInfo tells the buyer where and how much to deposit when paying the
// escrow from an external wallet.
func (h *EscrowHandler) PaymentInfo(c *fiber.Ctx) error {
	esc, err := h.escrowService.GetByPublicID(c.Context(), c.Params("publicId"), middleware.GetUserID(c), middleware.GetIsAdmin(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.PaymentInfoResponse{
		Address:    esc.WalletAddress,
		AmountBCH:  bch.FromSatoshis(esc.AmountSats),
		AmountSats: esc.AmountSats,
		Status:     string(esc.Status),
		ExpiresAt:  esc.ExpiresAt,
	}})
}

func (h *EscrowHandler) List(c *fiber.Ctx) error {
	limit, offset := 20, 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}
	var status *models.EscrowStatus
	if v := c.Query("status"); v != "" {
		s := models.EscrowStatus(v)
		status = &s
	}

	escrows, err := h.escrowService.List(c.Context(), middleware.GetUserID(c), status, limit, offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: escrows})
}

// Fund moves the amount from the caller's custodial wallet into the escrow
// wallet. Can answer 202 when the broadcast went out but the deposit was not
// yet observed.
func (h *EscrowHandler) Fund(c *fiber.Ctx) error {
	id, err := h.resolveID(c)
	if err != nil {
		return respondError(c, err)
	}
	esc, fundErr := h.escrowService.FundFromWallet(c.Context(), id, middleware.GetUserID(c))
	if fundErr != nil {
		if esc != nil {
			// Broadcast happened; report the pending state instead of failing.
			return c.Status(fiber.StatusAccepted).JSON(dto.SuccessResponse{OK: true, Data: esc})
		}
		return respondError(c, fundErr)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: esc})
}

func (h *EscrowHandler) StartWork(c *fiber.Ctx) error {
	return h.simpleAction(c, func(id, actor uuid.UUID) (*models.Escrow, error) {
		return h.escrowService.StartWork(c.Context(), id, actor)
	})
}

func (h *EscrowHandler) Submit(c *fiber.Ctx) error {
	var req dto.SubmitWorkRequest
	if err := c.BodyParser(&req); err != nil {
		return respondBadRequest(c, "invalid request body")
	}
	return h.simpleAction(c, func(id, actor uuid.UUID) (*models.Escrow, error) {
		return h.escrowService.Submit(c.Context(), id, actor, req.Submission)
	})
}

func (h *EscrowHandler) Verify(c *fiber.Ctx) error {
	return h.simpleAction(c, func(id, actor uuid.UUID) (*models.Escrow, error) {
		return h.escrowService.Verify(c.Context(), id, actor)
	})
}

func (h *EscrowHandler) Release(c *fiber.Ctx) error {
	return h.simpleAction(c, func(id, actor uuid.UUID) (*models.Escrow, error) {
		return h.escrowService.Release(c.Context(), id, actor)
	})
}

func (h *EscrowHandler) Refund(c *fiber.Ctx) error {
	return h.simpleAction(c, func(id, actor uuid.UUID) (*models.Escrow, error) {
		return h.escrowService.Refund(c.Context(), id, actor)
	})
}

func (h *EscrowHandler) Cancel(c *fiber.Ctx) error {
	return h.simpleAction(c, func(id, actor uuid.UUID) (*models.Escrow, error) {
		return h.escrowService.Cancel(c.Context(), id, actor)
	})
}

// Transitions exposes the append-only audit trail.
func (h *EscrowHandler) Transitions(c *fiber.Ctx) error {
	id, err := h.resolveID(c)
	if err != nil {
		return respondError(c, err)
	}
	walk, err := h.escrowService.Transitions(c.Context(), id, middleware.GetUserID(c), middleware.GetIsAdmin(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: walk})
}

// Ledger exposes the recorded on-chain movements of the escrow wallet.
func (h *EscrowHandler) Ledger(c *fiber.Ctx) error {
	id, err := h.resolveID(c)
	if err != nil {
		return respondError(c, err)
	}
	rows, err := h.escrowService.Ledger(c.Context(), id, middleware.GetUserID(c), middleware.GetIsAdmin(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: rows})
}

func (h *EscrowHandler) simpleAction(c *fiber.Ctx, fn func(id, actor uuid.UUID) (*models.Escrow, error)) error {
	id, err := h.resolveID(c)
	if err != nil {
		return respondError(c, err)
	}
	esc, err := fn(id, middleware.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: esc})
}

// resolveID accepts either the internal UUID or the public handle.
func (h *EscrowHandler) resolveID(c *fiber.Ctx) (uuid.UUID, error) {
	param := c.Params("publicId")
	if id, err := uuid.Parse(param); err == nil {
		return id, nil
	}
	esc, err := h.escrowService.GetByPublicID(c.Context(), param, middleware.GetUserID(c), middleware.GetIsAdmin(c))
	if err != nil {
		return uuid.Nil, err
	}
	return esc.ID, nil
}
