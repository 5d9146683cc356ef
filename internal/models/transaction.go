package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	TxDirectionInbound  = "inbound"
	TxDirectionOutbound = "outbound"
)

// Transaction is one observed on-chain movement tied to an escrow.
// Rows are append-only; only the confirmation count is updated in place.
// At most one row exists per settlement-network transaction id.
type Transaction struct {
	ID            uuid.UUID `json:"id"`
	EscrowID      uuid.UUID `json:"escrow_id"`
	TxID          string    `json:"txid"`
	AmountSats    int64     `json:"amount_sats"`
	Confirmations int       `json:"confirmations"`
	Direction     string    `json:"direction"` // inbound / outbound
	CreatedAt     time.Time `json:"created_at"`
}
