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

// WalletRepo stores custodial per-user wallets. One wallet per user per
// network, provisioned lazily on first use.
type WalletRepo struct {
	pool *pgxpool.Pool
}

func NewWalletRepo(pool *pgxpool.Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

func (r *WalletRepo) Create(ctx context.Context, w *models.UserWallet) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO user_wallets (user_id, address, public_key, encrypted_key, network)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, w.UserID, w.Address, w.PublicKey, w.EncryptedKey, w.Network).Scan(&w.ID, &w.CreatedAt)
}

func (r *WalletRepo) GetByUserID(ctx context.Context, userID uuid.UUID, network string) (*models.UserWallet, error) {
	return scanWalletRow(r.pool.QueryRow(ctx, `
		SELECT id, user_id, address, public_key, encrypted_key, network, created_at
		FROM user_wallets WHERE user_id = $1 AND network = $2
	`, userID, network))
}

func (r *WalletRepo) GetByAddress(ctx context.Context, address string) (*models.UserWallet, error) {
	return scanWalletRow(r.pool.QueryRow(ctx, `
		SELECT id, user_id, address, public_key, encrypted_key, network, created_at
		FROM user_wallets WHERE address = $1
	`, address))
}

func scanWalletRow(row pgx.Row) (*models.UserWallet, error) {
	var w models.UserWallet
	err := row.Scan(&w.ID, &w.UserID, &w.Address, &w.PublicKey, &w.EncryptedKey, &w.Network, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}
