package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/escrowhub/backend/internal/apperrors"
	"github.com/escrowhub/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EscrowRepo creates and reads escrows. Status is never written here: every
// status change goes through the state machine engine.
type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

const escrowColumns = `
	id, public_id, buyer_id, seller_id, amount_sats, description, status,
	wallet_address, encrypted_key, last_tx_hash,
	funded_at, submitted_at, verified_at, released_at, disputed_at, completed_at,
	expires_at, submission, created_at, updated_at`

func scanEscrowRow(row pgx.Row) (*models.Escrow, error) {
	var e models.Escrow
	err := row.Scan(
		&e.ID, &e.PublicID, &e.BuyerID, &e.SellerID, &e.AmountSats, &e.Description, &e.Status,
		&e.WalletAddress, &e.EncryptedKey, &e.LastTxHash,
		&e.FundedAt, &e.SubmittedAt, &e.VerifiedAt, &e.ReleasedAt, &e.DisputedAt, &e.CompletedAt,
		&e.ExpiresAt, &e.Submission, &e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrEscrowNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EscrowRepo) Create(ctx context.Context, e *models.Escrow) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO escrows (
			public_id, buyer_id, seller_id, amount_sats, description, status,
			wallet_address, encrypted_key, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`, e.PublicID, e.BuyerID, e.SellerID, e.AmountSats, e.Description, e.Status,
		e.WalletAddress, e.EncryptedKey, e.ExpiresAt,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

func (r *EscrowRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	return scanEscrowRow(r.pool.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id))
}

func (r *EscrowRepo) GetByPublicID(ctx context.Context, publicID string) (*models.Escrow, error) {
	return scanEscrowRow(r.pool.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE public_id = $1`, publicID))
}

// GetByWalletAddress finds the escrow tracking addr, used by webhook
// ingestion to match inbound deposits.
func (r *EscrowRepo) GetByWalletAddress(ctx context.Context, addr string) (*models.Escrow, error) {
	return scanEscrowRow(r.pool.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE wallet_address = $1`, addr))
}

type EscrowFilter struct {
	UserID *uuid.UUID // matches buyer or seller
	Status *models.EscrowStatus
	Limit  int
	Offset int
}

func (r *EscrowRepo) List(ctx context.Context, f EscrowFilter) ([]models.Escrow, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	query := `SELECT ` + escrowColumns + ` FROM escrows WHERE 1=1`
	args := []any{}
	if f.UserID != nil {
		args = append(args, *f.UserID)
		query += fmt.Sprintf(` AND (buyer_id = $%d OR seller_id = $%d)`, len(args), len(args))
	}
	if f.Status != nil {
		args = append(args, *f.Status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEscrows(rows)
}

// ListInStatus returns escrows currently in status, oldest first, for the
// worker's reconciliation and sweep passes.
func (r *EscrowRepo) ListInStatus(ctx context.Context, status models.EscrowStatus, limit int) ([]models.Escrow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+escrowColumns+` FROM escrows
		WHERE status = $1
		ORDER BY updated_at ASC LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEscrows(rows)
}

// ListExpired returns non-terminal escrows whose expiry has passed.
func (r *EscrowRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Escrow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+escrowColumns+` FROM escrows
		WHERE expires_at < $1 AND status IN ($2, $3)
		ORDER BY expires_at ASC LIMIT $4
	`, now, models.EscrowStatusAwaitingFunding, models.EscrowStatusInProgress, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEscrows(rows)
}

func collectEscrows(rows pgx.Rows) ([]models.Escrow, error) {
	var escrows []models.Escrow
	for rows.Next() {
		e, err := scanEscrowRow(rows)
		if err != nil {
			return nil, err
		}
		escrows = append(escrows, *e)
	}
	return escrows, rows.Err()
}
