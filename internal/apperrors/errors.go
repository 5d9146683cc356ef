// Package apperrors defines the stable error kinds surfaced by the escrow
// core. Each kind carries a fixed HTTP status class; only Code and Message
// cross the trust boundary to callers, full context stays in the logs.
package apperrors

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

const (
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeForbidden              = "FORBIDDEN"
	CodeEscrowNotFound         = "ESCROW_NOT_FOUND"
	CodeDisputeNotFound        = "DISPUTE_NOT_FOUND"
	CodeWalletNotFound         = "WALLET_NOT_FOUND"
	CodeInvalidStateTransition = "INVALID_STATE_TRANSITION"
	CodeInsufficientFunds      = "INSUFFICIENT_FUNDS"
	CodePaymentFailed          = "PAYMENT_FAILED"
	CodeTransactionTimeout     = "TRANSACTION_TIMEOUT"
	CodeDisputeAlreadyExists   = "DISPUTE_ALREADY_EXISTS"
	CodeDatabaseUpdateFailed   = "DATABASE_UPDATE_FAILED"
	CodeSettlementUnavailable  = "SETTLEMENT_UNAVAILABLE"
	CodeValidation             = "VALIDATION_ERROR"
)

type Error struct {
	Code    string `json:"code"`
	Status  int    `json:"-"`
	Message string `json:"message"`
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// Is makes two *Error values match on Code, so sentinels below work with
// errors.Is even after Wrap/WithMessage.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// Wrap returns a copy of e carrying err as the cause.
func (e *Error) Wrap(err error) *Error {
	return &Error{Code: e.Code, Status: e.Status, Message: e.Message, err: err}
}

// WithMessage returns a copy of e with a caller-facing message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	return &Error{Code: e.Code, Status: e.Status, Message: fmt.Sprintf(format, args...), err: e.err}
}

var (
	ErrUnauthorized           = &Error{Code: CodeUnauthorized, Status: fiber.StatusUnauthorized, Message: "authentication required"}
	ErrForbidden              = &Error{Code: CodeForbidden, Status: fiber.StatusForbidden, Message: "not allowed for this actor"}
	ErrEscrowNotFound         = &Error{Code: CodeEscrowNotFound, Status: fiber.StatusNotFound, Message: "escrow not found"}
	ErrDisputeNotFound        = &Error{Code: CodeDisputeNotFound, Status: fiber.StatusNotFound, Message: "dispute not found"}
	ErrWalletNotFound         = &Error{Code: CodeWalletNotFound, Status: fiber.StatusNotFound, Message: "wallet not found"}
	ErrInvalidStateTransition = &Error{Code: CodeInvalidStateTransition, Status: fiber.StatusConflict, Message: "state transition not allowed"}
	ErrInsufficientFunds      = &Error{Code: CodeInsufficientFunds, Status: fiber.StatusBadRequest, Message: "insufficient funds"}
	ErrPaymentFailed          = &Error{Code: CodePaymentFailed, Status: fiber.StatusBadGateway, Message: "settlement transaction failed"}
	ErrTransactionTimeout     = &Error{Code: CodeTransactionTimeout, Status: fiber.StatusAccepted, Message: "transaction not yet observed, will reconcile in background"}
	ErrDisputeAlreadyExists   = &Error{Code: CodeDisputeAlreadyExists, Status: fiber.StatusConflict, Message: "an open dispute exists for this escrow"}
	ErrSettlementUnavailable  = &Error{Code: CodeSettlementUnavailable, Status: fiber.StatusBadGateway, Message: "settlement network unavailable"}
	ErrValidation             = &Error{Code: CodeValidation, Status: fiber.StatusBadRequest, Message: "invalid request"}

	// ErrDatabaseUpdateFailed is the one error that must never be retried
	// automatically: it means a broadcast succeeded but the record of it did
	// not commit. It escalates to an operator with the transaction hash.
	ErrDatabaseUpdateFailed = &Error{Code: CodeDatabaseUpdateFailed, Status: fiber.StatusInternalServerError, Message: "broadcast succeeded but recording it failed, operator reconciliation required"}
)

// InsufficientFunds builds the detailed required-vs-available variant.
func InsufficientFunds(requiredSats, availableSats int64) *Error {
	return ErrInsufficientFunds.WithMessage("insufficient funds: required %d sats, available %d sats", requiredSats, availableSats)
}

// DatabaseUpdateFailed carries the broadcast hash for manual reconciliation.
func DatabaseUpdateFailed(txHash string, err error) *Error {
	return ErrDatabaseUpdateFailed.WithMessage("broadcast %s succeeded but persisting it failed, manual reconciliation required", txHash).Wrap(err)
}

// StatusOf returns the HTTP status for err, defaulting to 500.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return fiber.StatusInternalServerError
}

// Sanitize returns the externally visible form of err. Unknown errors map to
// a generic internal error so internals never leak across the boundary.
func Sanitize(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return &Error{Code: e.Code, Status: e.Status, Message: e.Message}
	}
	return &Error{Code: "INTERNAL", Status: fiber.StatusInternalServerError, Message: "internal error"}
}
