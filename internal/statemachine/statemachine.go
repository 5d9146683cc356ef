// Package statemachine is the single authority allowed to mutate an escrow's
// status. Every accepted change is validated against the transition table,
// applied as a compare-and-set inside one database transaction, and recorded
// in the append-only state_transitions audit log. Side effects never run
// here: they are written to the effects outbox in the same transaction and
// drained later by the worker.
package statemachine

import (
	"context"

	"github.com/escrowhub/backend/internal/apperrors"
	"github.com/escrowhub/backend/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EffectSpec is one post-commit side effect to enqueue with a transition.
type EffectSpec struct {
	Kind    string
	Payload map[string]any
}

// DisputeUpdate joins a dispute status change to the same atomic unit as the
// escrow transition it causes.
type DisputeUpdate struct {
	DisputeID  uuid.UUID
	Status     string
	Resolution string
	ResolvedBy *uuid.UUID
}

// Commit is one atomic unit of state change: the guarded status write plus
// everything that must land or fail together with it.
type Commit struct {
	EscrowID uuid.UUID
	To       models.EscrowStatus
	Actor    *uuid.UUID // nil for system
	Meta     map[string]any

	// Optional attachments, all written in the same transaction.
	TxHash     *string             // settlement transaction hash
	Ledger     *models.Transaction // ledger row for an observed movement
	Submission *string             // submission content stored on submit
	Dispute    *DisputeUpdate
	Effects    []EffectSpec
}

// Store persists escrows and applies commits atomically. Apply re-reads the
// current status under a row lock, re-validates the edge, and either commits
// everything or nothing.
type Store interface {
	GetEscrow(ctx context.Context, id uuid.UUID) (*models.Escrow, error)
	Apply(ctx context.Context, c Commit) (*models.Escrow, error)
	Transitions(ctx context.Context, escrowID uuid.UUID) ([]models.StateTransition, error)
}

type Engine struct {
	store Store
	log   *zap.Logger
}

func NewEngine(store Store, log *zap.Logger) *Engine {
	return &Engine{store: store, log: log}
}

func (e *Engine) Store() Store { return e.store }

// Validate reports whether the edge from -> to is declared.
func Validate(from, to models.EscrowStatus) error {
	if !models.IsValidEscrowTransition(from, to) {
		return apperrors.ErrInvalidStateTransition.WithMessage("cannot transition escrow from %s to %s", from, to)
	}
	return nil
}

// Transition performs a plain guarded transition with no attachments.
func (e *Engine) Transition(ctx context.Context, escrowID uuid.UUID, to models.EscrowStatus, actor *uuid.UUID, meta map[string]any) (*models.Escrow, error) {
	return e.Commit(ctx, Commit{EscrowID: escrowID, To: to, Actor: actor, Meta: meta})
}

// Commit applies c. The store holds the real guarantee (validation under the
// row lock); the engine adds logging and a cheap pre-check so obviously
// illegal requests never open a transaction.
func (e *Engine) Commit(ctx context.Context, c Commit) (*models.Escrow, error) {
	esc, err := e.store.GetEscrow(ctx, c.EscrowID)
	if err != nil {
		return nil, err
	}
	if err := Validate(esc.Status, c.To); err != nil {
		return nil, err
	}

	updated, err := e.store.Apply(ctx, c)
	if err != nil {
		return nil, err
	}

	e.log.Info("escrow transition",
		zap.String("escrow_id", c.EscrowID.String()),
		zap.String("from", string(esc.Status)),
		zap.String("to", string(c.To)),
		zap.Int("effects", len(c.Effects)),
	)
	return updated, nil
}

// Transitions returns the escrow's audit walk, oldest first.
func (e *Engine) Transitions(ctx context.Context, escrowID uuid.UUID) ([]models.StateTransition, error) {
	return e.store.Transitions(ctx, escrowID)
}

// stampColumn maps a target state to the timestamp field it sets. Terminal
// states additionally stamp completed_at.
func stampColumn(to models.EscrowStatus) string {
	switch to {
	case models.EscrowStatusFunded:
		return "funded_at"
	case models.EscrowStatusSubmitted:
		return "submitted_at"
	case models.EscrowStatusVerified:
		return "verified_at"
	case models.EscrowStatusReleased:
		return "released_at"
	case models.EscrowStatusDisputed:
		return "disputed_at"
	}
	return ""
}
