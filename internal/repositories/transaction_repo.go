package repositories

import (
	"context"
	"errors"

	"github.com/escrowhub/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TransactionRepo reads the settlement ledger. Ledger rows for settlement
// operations are written by the state machine store inside the transition
// transaction; Upsert here covers observed inbound deposits only.
type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

func (r *TransactionRepo) GetByTxID(ctx context.Context, txID string) (*models.Transaction, error) {
	var t models.Transaction
	err := r.pool.QueryRow(ctx, `
		SELECT id, escrow_id, txid, amount_sats, confirmations, direction, created_at
		FROM transactions WHERE txid = $1
	`, txID).Scan(&t.ID, &t.EscrowID, &t.TxID, &t.AmountSats, &t.Confirmations, &t.Direction, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TransactionRepo) ListByEscrow(ctx context.Context, escrowID uuid.UUID) ([]models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, escrow_id, txid, amount_sats, confirmations, direction, created_at
		FROM transactions WHERE escrow_id = $1 ORDER BY created_at ASC
	`, escrowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.EscrowID, &t.TxID, &t.AmountSats, &t.Confirmations, &t.Direction, &t.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// Upsert records a tx as seen, keyed by txid. Re-observing the same tx only
// bumps confirmations, so repeated webhook deliveries never duplicate rows.
func (r *TransactionRepo) Upsert(ctx context.Context, t *models.Transaction) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO transactions (escrow_id, txid, amount_sats, confirmations, direction)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (txid) DO UPDATE SET confirmations = GREATEST(transactions.confirmations, EXCLUDED.confirmations)
		RETURNING id, created_at
	`, t.EscrowID, t.TxID, t.AmountSats, t.Confirmations, t.Direction).Scan(&t.ID, &t.CreatedAt)
}
