package events

import "context"

// Event types
const (
	EventEscrowStatusChanged = "escrow_status_changed"
	EventFundingDetected     = "funding_detected"
	EventDisputeOpened       = "dispute_opened"
	EventSettlementRecorded  = "settlement_recorded"
)

// StreamEscrow is the channel WebSocket subscribers listen on.
const StreamEscrow = "escrow_events"

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// EscrowStatus builds the standard status-change event payload.
func EscrowStatus(escrowID, from, to string) Event {
	return Event{
		Type: EventEscrowStatusChanged,
		Payload: map[string]any{
			"escrow_id": escrowID,
			"from":      from,
			"to":        to,
		},
	}
}
