package services

import (
	"context"
	"errors"

	"github.com/escrowhub/backend/internal/apperrors"
	"github.com/escrowhub/backend/internal/bch"
	"github.com/escrowhub/backend/internal/keyvault"
	"github.com/escrowhub/backend/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WalletService manages custodial per-user wallets: one keypair per user per
// network, generated in the vault and stored encrypted. Users deposit to
// their wallet address and the platform spends from it on their behalf.
type WalletService struct {
	wallets WalletStore
	vault   *keyvault.Vault
	client  bch.Service
	network string
	log     *zap.Logger
}

func NewWalletService(wallets WalletStore, vault *keyvault.Vault, client bch.Service, network string, log *zap.Logger) *WalletService {
	return &WalletService{wallets: wallets, vault: vault, client: client, network: network, log: log}
}

// EnsureWallet returns the user's wallet, provisioning one on first use.
func (s *WalletService) EnsureWallet(ctx context.Context, userID uuid.UUID) (*models.UserWallet, error) {
	w, err := s.wallets.GetByUserID(ctx, userID, s.network)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, apperrors.ErrWalletNotFound) {
		return nil, err
	}

	gen, err := s.vault.GenerateWallet()
	if err != nil {
		return nil, err
	}
	encrypted, err := s.vault.Encrypt(gen.PrivateKey)
	if err != nil {
		return nil, err
	}

	w = &models.UserWallet{
		UserID:       userID,
		Address:      gen.Address,
		PublicKey:    gen.PublicKey,
		EncryptedKey: encrypted,
		Network:      s.network,
	}
	if err := s.wallets.Create(ctx, w); err != nil {
		return nil, err
	}
	s.log.Info("provisioned custodial wallet",
		zap.String("user_id", userID.String()),
		zap.String("address", w.Address),
	)
	return w, nil
}

// Balance queries the settlement network for the user's wallet balance.
func (s *WalletService) Balance(ctx context.Context, userID uuid.UUID) (*bch.Balance, error) {
	w, err := s.EnsureWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.client.Balance(ctx, w.Address)
}

// History lists the on-chain movements of the user's wallet.
func (s *WalletService) History(ctx context.Context, userID uuid.UUID) ([]bch.TxRecord, error) {
	w, err := s.EnsureWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.client.History(ctx, w.Address)
}
