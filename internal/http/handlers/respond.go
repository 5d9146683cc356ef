package handlers

import (
	"github.com/escrowhub/backend/internal/apperrors"
	"github.com/escrowhub/backend/internal/http/dto"
	"github.com/escrowhub/backend/internal/middleware"
	"github.com/gofiber/fiber/v2"
)

// respondError maps a service error onto its HTTP status and sanitized body.
func respondError(c *fiber.Ctx, err error) error {
	e := apperrors.Sanitize(err)
	reqID, _ := c.Locals(middleware.CtxRequestID).(string)
	return c.Status(e.Status).JSON(dto.ErrorResponse{
		Error:     e.Message,
		Code:      e.Code,
		RequestID: reqID,
	})
}

func respondBadRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: msg, Code: apperrors.CodeValidation})
}
