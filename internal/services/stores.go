package services

import (
	"context"
	"time"

	"github.com/escrowhub/backend/internal/models"
	"github.com/escrowhub/backend/internal/monitor"
	"github.com/escrowhub/backend/internal/repositories"
	"github.com/google/uuid"
)

// Narrow store surfaces the services consume. The pgx repositories satisfy
// them in production; tests swap in in-memory fakes.

type EscrowStore interface {
	Create(ctx context.Context, e *models.Escrow) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error)
	GetByPublicID(ctx context.Context, publicID string) (*models.Escrow, error)
	GetByWalletAddress(ctx context.Context, addr string) (*models.Escrow, error)
	List(ctx context.Context, f repositories.EscrowFilter) ([]models.Escrow, error)
	ListInStatus(ctx context.Context, status models.EscrowStatus, limit int) ([]models.Escrow, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Escrow, error)
}

type WalletStore interface {
	Create(ctx context.Context, w *models.UserWallet) error
	GetByUserID(ctx context.Context, userID uuid.UUID, network string) (*models.UserWallet, error)
	GetByAddress(ctx context.Context, address string) (*models.UserWallet, error)
}

type DisputeStore interface {
	Create(ctx context.Context, d *models.Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	GetOpenByEscrow(ctx context.Context, escrowID uuid.UUID) (*models.Dispute, error)
	MarkUnderReview(ctx context.Context, id uuid.UUID) error
	AddEvidence(ctx context.Context, ev *models.DisputeEvidence) error
	ListEvidence(ctx context.Context, disputeID uuid.UUID) ([]models.DisputeEvidence, error)
}

type WebhookStore interface {
	Record(ctx context.Context, ev *models.WebhookEvent) (bool, error)
}

type LedgerStore interface {
	Upsert(ctx context.Context, t *models.Transaction) error
	ListByEscrow(ctx context.Context, escrowID uuid.UUID) ([]models.Transaction, error)
}

// TxBuilder assembles and signs a spend of the funds held at fromAddress.
type TxBuilder interface {
	Build(ctx context.Context, fromAddress, toAddress string, amountSats int64, privKeyHex string) (string, error)
}

// FundingWaiter blocks until a deposit is observed or the wait expires.
type FundingWaiter interface {
	WaitForFunding(ctx context.Context, address, expectedTxID string, expectedAmountSats int64, maxWait, pollInterval time.Duration) (*monitor.Result, error)
}
