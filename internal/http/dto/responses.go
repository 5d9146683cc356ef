package dto

import "time"

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type AuthResponse struct {
	Token string `json:"token"`
	User  any    `json:"user"`
}

type WalletResponse struct {
	Address         string `json:"address"`
	Network         string `json:"network"`
	ConfirmedBCH    string `json:"confirmed_bch,omitempty"`
	UnconfirmedBCH  string `json:"unconfirmed_bch,omitempty"`
	ConfirmedSats   int64  `json:"confirmed_sats"`
	UnconfirmedSats int64  `json:"unconfirmed_sats"`
}

// PaymentInfoResponse is what a buyer needs to fund an escrow from an
// external wallet.
type PaymentInfoResponse struct {
	Address    string    `json:"address"`
	AmountBCH  string    `json:"amount_bch"`
	AmountSats int64     `json:"amount_sats"`
	Status     string    `json:"status"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// WebhookAckResponse acknowledges a deposit notification. Duplicate
// deliveries get the same shape with a "duplicate" message.
type WebhookAckResponse struct {
	Message       string `json:"message"`
	EventID       string `json:"eventId"`
	EscrowID      string `json:"escrowId,omitempty"`
	Status        string `json:"status,omitempty"`
	Confirmations int    `json:"confirmations"`
}
