package models

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEvent is the dedup record for one settlement-network notification.
// It is written before business-logic processing so that a redelivery is
// detected even if processing later fails.
type WebhookEvent struct {
	EventID       string     `json:"event_id"` // deterministic, from (address, txid, timestamp)
	Address       string     `json:"address"`
	TxHash        string     `json:"tx_hash"`
	AmountSats    int64      `json:"amount_sats"`
	Confirmations int        `json:"confirmations"`
	EscrowID      *uuid.UUID `json:"escrow_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
