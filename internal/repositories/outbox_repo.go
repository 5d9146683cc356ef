package repositories

import (
	"context"

	"github.com/escrowhub/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OutboxRepo drains the effects outbox. Claiming bumps the attempt counter
// in the same statement, with FOR UPDATE SKIP LOCKED in the subselect so
// concurrent worker instances never grab the same row.
type OutboxRepo struct {
	pool *pgxpool.Pool
}

func NewOutboxRepo(pool *pgxpool.Pool) *OutboxRepo {
	return &OutboxRepo{pool: pool}
}

func (r *OutboxRepo) ClaimPending(ctx context.Context, limit int, maxAttempts int) ([]models.Effect, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		UPDATE effects_outbox SET attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM effects_outbox
			WHERE status = $1 AND attempts < $2
			ORDER BY created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, escrow_id, kind, payload, status, attempts, last_error, created_at, processed_at
	`, models.EffectStatusPending, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var effects []models.Effect
	for rows.Next() {
		var e models.Effect
		if err := rows.Scan(&e.ID, &e.EscrowID, &e.Kind, &e.Payload, &e.Status, &e.Attempts, &e.LastError, &e.CreatedAt, &e.ProcessedAt); err != nil {
			return nil, err
		}
		effects = append(effects, e)
	}
	return effects, rows.Err()
}

func (r *OutboxRepo) MarkDone(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE effects_outbox
		SET status = $1, last_error = NULL, processed_at = NOW()
		WHERE id = $2
	`, models.EffectStatusDone, id)
	return err
}

// MarkFailed records the cause. Once attempts reach maxAttempts the row
// flips to failed and stops being claimed, staying visible for operators.
func (r *OutboxRepo) MarkFailed(ctx context.Context, id uuid.UUID, cause string, maxAttempts int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE effects_outbox
		SET last_error = $1,
		    status = CASE WHEN attempts >= $2 THEN $3 ELSE status END
		WHERE id = $4
	`, cause, maxAttempts, models.EffectStatusFailed, id)
	return err
}
