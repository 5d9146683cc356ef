package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	DisputeStatusOpen        = "open"
	DisputeStatusUnderReview = "under_review"
	DisputeStatusResolved    = "resolved"
	DisputeStatusClosed      = "closed"
)

// Dispute resolution actions. A resolution always triggers exactly one
// release or refund through the settlement orchestrator.
const (
	DisputeActionRelease = "release"
	DisputeActionRefund  = "refund"
)

type Dispute struct {
	ID         uuid.UUID  `json:"id"`
	EscrowID   uuid.UUID  `json:"escrow_id"`
	RaisedBy   uuid.UUID  `json:"raised_by"`
	Status     string     `json:"status"`
	Reason     string     `json:"reason"`
	Resolution *string    `json:"resolution,omitempty"`
	ResolvedBy *uuid.UUID `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`

	Evidence []DisputeEvidence `json:"evidence,omitempty"`
}

func (d *Dispute) IsOpen() bool {
	return d.Status == DisputeStatusOpen || d.Status == DisputeStatusUnderReview
}

type DisputeEvidence struct {
	ID          uuid.UUID `json:"id"`
	DisputeID   uuid.UUID `json:"dispute_id"`
	SubmittedBy uuid.UUID `json:"submitted_by"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}
