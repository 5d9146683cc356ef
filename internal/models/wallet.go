package models

import (
	"time"

	"github.com/google/uuid"
)

// UserWallet is a user's permanent custodial wallet. The platform holds the
// key; the decrypted form exists only in memory while signing.
type UserWallet struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	Address      string    `json:"address"`
	PublicKey    string    `json:"public_key"` // hex, compressed
	EncryptedKey string    `json:"-"`
	Network      string    `json:"network"` // mainnet/testnet
	CreatedAt    time.Time `json:"created_at"`
}
