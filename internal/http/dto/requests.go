package dto

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type CreateEscrowRequest struct {
	SellerID    string `json:"seller_id"`
	AmountBCH   string `json:"amount_bch"` // decimal string, e.g. "0.0005"
	Description string `json:"description"`
}

type SubmitWorkRequest struct {
	Submission string `json:"submission"`
}

type OpenDisputeRequest struct {
	Reason string `json:"reason"`
}

type AddEvidenceRequest struct {
	Content string `json:"content"`
}

type ResolveDisputeRequest struct {
	Action     string `json:"action"` // release / refund
	Resolution string `json:"resolution,omitempty"`
}

// DepositWebhookRequest is the notification the settlement-network watcher
// POSTs when it sees a transaction on a monitored address.
type DepositWebhookRequest struct {
	Address       string `json:"address"`
	TxHash        string `json:"tx_hash"`
	Amount        string `json:"amount"` // BCH decimal string
	Confirmations int    `json:"confirmations"`
	Timestamp     int64  `json:"timestamp"` // unix seconds
}
