package repositories

import (
	"context"
	"errors"

	"github.com/escrowhub/backend/internal/apperrors"
	"github.com/escrowhub/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DisputeRepo struct {
	pool *pgxpool.Pool
}

func NewDisputeRepo(pool *pgxpool.Pool) *DisputeRepo {
	return &DisputeRepo{pool: pool}
}

func (r *DisputeRepo) Create(ctx context.Context, d *models.Dispute) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO disputes (escrow_id, raised_by, reason, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, d.EscrowID, d.RaisedBy, d.Reason, d.Status).Scan(&d.ID, &d.CreatedAt)
}

func (r *DisputeRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return scanDisputeRow(r.pool.QueryRow(ctx, `
		SELECT `+disputeColumns+` FROM disputes WHERE id = $1
	`, id))
}

// GetOpenByEscrow returns the active dispute for an escrow, or
// ErrDisputeNotFound when none is open.
func (r *DisputeRepo) GetOpenByEscrow(ctx context.Context, escrowID uuid.UUID) (*models.Dispute, error) {
	return scanDisputeRow(r.pool.QueryRow(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE escrow_id = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC LIMIT 1
	`, escrowID, models.DisputeStatusOpen, models.DisputeStatusUnderReview))
}

func (r *DisputeRepo) MarkUnderReview(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE disputes SET status = $1
		WHERE id = $2 AND status = $3
	`, models.DisputeStatusUnderReview, id, models.DisputeStatusOpen)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrDisputeNotFound.WithMessage("dispute is not open")
	}
	return nil
}

func (r *DisputeRepo) AddEvidence(ctx context.Context, ev *models.DisputeEvidence) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO dispute_evidence (dispute_id, submitted_by, content)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, ev.DisputeID, ev.SubmittedBy, ev.Content).Scan(&ev.ID, &ev.CreatedAt)
}

func (r *DisputeRepo) ListEvidence(ctx context.Context, disputeID uuid.UUID) ([]models.DisputeEvidence, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, dispute_id, submitted_by, content, created_at
		FROM dispute_evidence WHERE dispute_id = $1 ORDER BY created_at ASC
	`, disputeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evs []models.DisputeEvidence
	for rows.Next() {
		var ev models.DisputeEvidence
		if err := rows.Scan(&ev.ID, &ev.DisputeID, &ev.SubmittedBy, &ev.Content, &ev.CreatedAt); err != nil {
			return nil, err
		}
		evs = append(evs, ev)
	}
	return evs, rows.Err()
}

const disputeColumns = `
	id, escrow_id, raised_by, reason, status, resolution, resolved_by, resolved_at, created_at`

func scanDisputeRow(row pgx.Row) (*models.Dispute, error) {
	var d models.Dispute
	err := row.Scan(&d.ID, &d.EscrowID, &d.RaisedBy, &d.Reason, &d.Status, &d.Resolution, &d.ResolvedBy, &d.ResolvedAt, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrDisputeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}
