package repositories

import (
	"context"

	"github.com/escrowhub/backend/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WebhookRepo persists processed webhook event ids. Insert-before-process:
// the event row goes in first, and a conflict on event_id means the event was
// already handled, so the caller acknowledges without reprocessing.
type WebhookRepo struct {
	pool *pgxpool.Pool
}

func NewWebhookRepo(pool *pgxpool.Pool) *WebhookRepo {
	return &WebhookRepo{pool: pool}
}

// Record inserts the event and reports whether it was seen for the first
// time. false means a duplicate delivery.
func (r *WebhookRepo) Record(ctx context.Context, ev *models.WebhookEvent) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO webhook_events (event_id, address, tx_hash, amount_sats, confirmations, escrow_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING
	`, ev.EventID, ev.Address, ev.TxHash, ev.AmountSats, ev.Confirmations, ev.EscrowID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *WebhookRepo) Seen(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM webhook_events WHERE event_id = $1)
	`, eventID).Scan(&exists)
	return exists, err
}
