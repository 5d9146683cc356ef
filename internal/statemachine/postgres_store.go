package statemachine

import (
	"context"
	"errors"
	"fmt"

	"github.com/escrowhub/backend/internal/apperrors"
	"github.com/escrowhub/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const escrowColumns = `
	id, public_id, buyer_id, seller_id, amount_sats, description, status,
	wallet_address, encrypted_key, last_tx_hash,
	funded_at, submitted_at, verified_at, released_at, disputed_at, completed_at,
	expires_at, submission, created_at, updated_at`

func scanEscrow(row pgx.Row) (*models.Escrow, error) {
	var e models.Escrow
	err := row.Scan(
		&e.ID, &e.PublicID, &e.BuyerID, &e.SellerID, &e.AmountSats, &e.Description, &e.Status,
		&e.WalletAddress, &e.EncryptedKey, &e.LastTxHash,
		&e.FundedAt, &e.SubmittedAt, &e.VerifiedAt, &e.ReleasedAt, &e.DisputedAt, &e.CompletedAt,
		&e.ExpiresAt, &e.Submission, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) GetEscrow(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	e, err := scanEscrow(s.pool.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrEscrowNotFound
	}
	return e, err
}

// Apply runs the whole commit in one transaction: the current status is
// re-read under a row lock, the edge re-validated, and the status update is
// additionally predicated on that status so a lost update cannot slip
// through.
func (s *PostgresStore) Apply(ctx context.Context, c Commit) (*models.Escrow, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var current models.EscrowStatus
	err = tx.QueryRow(ctx, `SELECT status FROM escrows WHERE id = $1 FOR UPDATE`, c.EscrowID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrEscrowNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := Validate(current, c.To); err != nil {
		return nil, err
	}

	set := `status = $3, updated_at = now()`
	if col := stampColumn(c.To); col != "" {
		set += `, ` + col + ` = now()`
	}
	if c.To.IsTerminal() {
		set += `, completed_at = now()`
	}
	args := []any{c.EscrowID, current, c.To}
	if c.TxHash != nil {
		args = append(args, *c.TxHash)
		set += fmt.Sprintf(`, last_tx_hash = $%d`, len(args))
	}
	if c.Submission != nil {
		args = append(args, *c.Submission)
		set += fmt.Sprintf(`, submission = $%d`, len(args))
	}

	tag, err := tx.Exec(ctx, `UPDATE escrows SET `+set+` WHERE id = $1 AND status = $2`, args...)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		// Row lock should make this unreachable, but the predicate is the
		// final guard against a lost update.
		return nil, apperrors.ErrInvalidStateTransition.WithMessage("escrow status changed concurrently")
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO state_transitions (escrow_id, from_status, to_status, actor_id, meta)
		VALUES ($1, $2, $3, $4, $5)
	`, c.EscrowID, current, c.To, c.Actor, c.Meta)
	if err != nil {
		return nil, err
	}

	if c.Ledger != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO transactions (escrow_id, txid, amount_sats, confirmations, direction)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (txid) DO UPDATE SET confirmations = EXCLUDED.confirmations
		`, c.Ledger.EscrowID, c.Ledger.TxID, c.Ledger.AmountSats, c.Ledger.Confirmations, c.Ledger.Direction)
		if err != nil {
			return nil, err
		}
	}

	if c.Dispute != nil {
		_, err = tx.Exec(ctx, `
			UPDATE disputes
			SET status = $2, resolution = $3, resolved_by = $4, resolved_at = now()
			WHERE id = $1
		`, c.Dispute.DisputeID, c.Dispute.Status, c.Dispute.Resolution, c.Dispute.ResolvedBy)
		if err != nil {
			return nil, err
		}
	}

	for _, eff := range c.Effects {
		_, err = tx.Exec(ctx, `
			INSERT INTO effects_outbox (escrow_id, kind, payload, status)
			VALUES ($1, $2, $3, 'pending')
		`, c.EscrowID, eff.Kind, eff.Payload)
		if err != nil {
			return nil, err
		}
	}

	updated, err := scanEscrow(tx.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, c.EscrowID))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *PostgresStore) Transitions(ctx context.Context, escrowID uuid.UUID) ([]models.StateTransition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, escrow_id, from_status, to_status, actor_id, meta, created_at
		FROM state_transitions
		WHERE escrow_id = $1
		ORDER BY created_at ASC, id ASC
	`, escrowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transitions []models.StateTransition
	for rows.Next() {
		var t models.StateTransition
		if err := rows.Scan(&t.ID, &t.EscrowID, &t.FromStatus, &t.ToStatus, &t.ActorID, &t.Meta, &t.CreatedAt); err != nil {
			return nil, err
		}
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}
