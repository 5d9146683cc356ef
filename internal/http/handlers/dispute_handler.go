package handlers

import (
	"github.com/escrowhub/backend/internal/http/dto"
	"github.com/escrowhub/backend/internal/middleware"
	"github.com/escrowhub/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type DisputeHandler struct {
	disputeService *services.DisputeService
	log            *zap.Logger
}

func NewDisputeHandler(disputeService *services.DisputeService, log *zap.Logger) *DisputeHandler {
	return &DisputeHandler{disputeService: disputeService, log: log}
}

func (h *DisputeHandler) Open(c *fiber.Ctx) error {
	escrowID, err := uuid.Parse(c.Params("escrowId"))
	if err != nil {
		return respondBadRequest(c, "invalid escrow id")
	}
	var req dto.OpenDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return respondBadRequest(c, "invalid request body")
	}

	d, err := h.disputeService.Open(c.Context(), escrowID, middleware.GetUserID(c), req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: d})
}

func (h *DisputeHandler) Get(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return respondBadRequest(c, "invalid dispute id")
	}
	d, err := h.disputeService.Get(c.Context(), id, middleware.GetUserID(c), middleware.GetIsAdmin(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: d})
}

func (h *DisputeHandler) AddEvidence(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return respondBadRequest(c, "invalid dispute id")
	}
	var req dto.AddEvidenceRequest
	if err := c.BodyParser(&req); err != nil {
		return respondBadRequest(c, "invalid request body")
	}

	ev, err := h.disputeService.AddEvidence(c.Context(), id, middleware.GetUserID(c), req.Content)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: ev})
}

// Concede resolves the dispute in the other party's favor.
func (h *DisputeHandler) Concede(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return respondBadRequest(c, "invalid dispute id")
	}
	esc, err := h.disputeService.Concede(c.Context(), id, middleware.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: esc})
}

// Resolve is the arbitrator ruling. Admin-only route.
func (h *DisputeHandler) Resolve(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return respondBadRequest(c, "invalid dispute id")
	}
	var req dto.ResolveDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return respondBadRequest(c, "invalid request body")
	}

	esc, err := h.disputeService.Resolve(c.Context(), id, middleware.GetUserID(c), req.Action, req.Resolution)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: esc})
}
