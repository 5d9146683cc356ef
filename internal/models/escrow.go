package models

import (
	"time"

	"github.com/google/uuid"
)

// EscrowStatus is the lifecycle state of an escrow. Only the state machine
// engine may write it.
type EscrowStatus string

const (
	EscrowStatusCreated           EscrowStatus = "created"
	EscrowStatusAwaitingFunding   EscrowStatus = "awaiting_funding"
	EscrowStatusFundingInProgress EscrowStatus = "funding_in_progress"
	EscrowStatusFunded            EscrowStatus = "funded"
	EscrowStatusInProgress        EscrowStatus = "in_progress"
	EscrowStatusSubmitted         EscrowStatus = "submitted"
	EscrowStatusVerified          EscrowStatus = "verified"
	EscrowStatusReleased          EscrowStatus = "released"
	EscrowStatusDisputed          EscrowStatus = "disputed"
	EscrowStatusRefunded          EscrowStatus = "refunded"
	EscrowStatusCancelled         EscrowStatus = "cancelled"
	EscrowStatusExpired           EscrowStatus = "expired"

	// EscrowStatusPending is the historical name for awaiting_funding, kept
	// for older clients that still send it.
	EscrowStatusPending = EscrowStatusAwaitingFunding
)

// Valid state transitions: from -> []to
var ValidEscrowTransitions = map[EscrowStatus][]EscrowStatus{
	EscrowStatusCreated:           {EscrowStatusAwaitingFunding},
	EscrowStatusAwaitingFunding:   {EscrowStatusFundingInProgress, EscrowStatusCancelled, EscrowStatusExpired},
	EscrowStatusFundingInProgress: {EscrowStatusFunded, EscrowStatusAwaitingFunding},
	EscrowStatusFunded:            {EscrowStatusInProgress, EscrowStatusDisputed},
	EscrowStatusInProgress:        {EscrowStatusSubmitted, EscrowStatusExpired, EscrowStatusDisputed},
	EscrowStatusSubmitted:         {EscrowStatusVerified, EscrowStatusDisputed},
	EscrowStatusVerified:          {EscrowStatusReleased},
	EscrowStatusDisputed:          {EscrowStatusRefunded, EscrowStatusReleased},
	EscrowStatusReleased:          {},
	EscrowStatusRefunded:          {},
	EscrowStatusCancelled:         {},
	EscrowStatusExpired:           {},
}

func IsValidEscrowTransition(from, to EscrowStatus) bool {
	allowed, ok := ValidEscrowTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is defined from s.
func (s EscrowStatus) IsTerminal() bool {
	allowed, ok := ValidEscrowTransitions[s]
	return ok && len(allowed) == 0
}

type Escrow struct {
	ID          uuid.UUID    `json:"id"`
	PublicID    string       `json:"public_id"` // human-readable, e.g. ESC-7F3K2M
	BuyerID     uuid.UUID    `json:"buyer_id"`
	SellerID    uuid.UUID    `json:"seller_id"`
	AmountSats  int64        `json:"amount_sats"`
	Description string       `json:"description"`
	Status      EscrowStatus `json:"status"`

	// Ephemeral custodial wallet, one per escrow.
	WalletAddress string `json:"wallet_address"`
	EncryptedKey  string `json:"-"`

	LastTxHash *string `json:"last_tx_hash,omitempty"`

	FundedAt    *time.Time `json:"funded_at,omitempty"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
	ReleasedAt  *time.Time `json:"released_at,omitempty"`
	DisputedAt  *time.Time `json:"disputed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`

	Submission *string `json:"submission,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
