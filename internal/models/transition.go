package models

import (
	"time"

	"github.com/google/uuid"
)

// StateTransition is one accepted escrow state change. Append-only, never
// mutated or deleted — the sole record of how an escrow got where it is.
// ActorID is nil for system-initiated transitions.
type StateTransition struct {
	ID         uuid.UUID      `json:"id"`
	EscrowID   uuid.UUID      `json:"escrow_id"`
	FromStatus EscrowStatus   `json:"from_status"`
	ToStatus   EscrowStatus   `json:"to_status"`
	ActorID    *uuid.UUID     `json:"actor_id,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
