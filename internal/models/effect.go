package models

import (
	"time"

	"github.com/google/uuid"
)

// Effect kinds drained by the outbox worker.
const (
	EffectNotify     = "notify"
	EffectAdvisory   = "advisory"
	EffectReputation = "reputation"
	EffectPublish    = "publish"
)

const (
	EffectStatusPending = "pending"
	EffectStatusDone    = "done"
	EffectStatusFailed  = "failed"
)

// Effect is one post-commit side effect, written in the same transaction as
// the state change that caused it and executed later by the worker. Failures
// are retried; they never revert the committed transition.
type Effect struct {
	ID          uuid.UUID      `json:"id"`
	EscrowID    uuid.UUID      `json:"escrow_id"`
	Kind        string         `json:"kind"`
	Payload     map[string]any `json:"payload"`
	Status      string         `json:"status"`
	Attempts    int            `json:"attempts"`
	LastError   *string        `json:"last_error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
}
