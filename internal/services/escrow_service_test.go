package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/escrowhub/backend/internal/apperrors"
	"github.com/escrowhub/backend/internal/models"
	"github.com/escrowhub/backend/internal/statemachine"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestCreateEscrowProvisionsWalletAndAwaitsFunding(t *testing.T) {
	env := newTestEnv(t)
	buyer, seller := uuid.New(), uuid.New()

	esc, err := env.escrowSvc.CreateEscrow(context.Background(), buyer, seller, 50_000, "logo design")
	require.NoError(t, err)

	require.Equal(t, models.EscrowStatusAwaitingFunding, esc.Status)
	require.NotEmpty(t, esc.WalletAddress)
	require.NotEmpty(t, esc.EncryptedKey)
	require.Regexp(t, `^ESC-[2-9A-Z]{6}$`, esc.PublicID)

	// Key round-trips through the vault.
	priv, err := env.vault.Decrypt(esc.EncryptedKey)
	require.NoError(t, err)
	require.NotEmpty(t, priv)

	walk, err := env.escrowSvc.Transitions(context.Background(), esc.ID, buyer, false)
	require.NoError(t, err)
	require.Len(t, walk, 1)
	require.Equal(t, models.EscrowStatusCreated, walk[0].FromStatus)
	require.Equal(t, models.EscrowStatusAwaitingFunding, walk[0].ToStatus)
}

func TestCreateEscrowRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t)
	u := uuid.New()

	_, err := env.escrowSvc.CreateEscrow(context.Background(), u, u, 50_000, "self-deal")
	require.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = env.escrowSvc.CreateEscrow(context.Background(), uuid.New(), uuid.New(), 100, "dust")
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestFundFromWalletHappyPath(t *testing.T) {
	env := newTestEnv(t)
	buyer, seller := uuid.New(), uuid.New()

	esc, err := env.escrowSvc.CreateEscrow(context.Background(), buyer, seller, 50_000, "deliverable")
	require.NoError(t, err)

	funded, err := env.escrowSvc.FundFromWallet(context.Background(), esc.ID, buyer)
	require.NoError(t, err)
	require.Equal(t, models.EscrowStatusFunded, funded.Status)
	require.NotNil(t, funded.LastTxHash)
	require.NotNil(t, funded.FundedAt)

	// One broadcast, one inbound ledger row keyed by its hash.
	require.Equal(t, 1, env.chain.broadcastCount())
	row := env.mem.LedgerRow(*funded.LastTxHash)
	require.NotNil(t, row)
	require.Equal(t, models.TxDirectionInbound, row.Direction)
	require.Equal(t, int64(50_000), row.AmountSats)

	// Audit walk: created -> awaiting_funding -> funding_in_progress -> funded.
	walk, err := env.escrowSvc.Transitions(context.Background(), esc.ID, buyer, false)
	require.NoError(t, err)
	require.Len(t, walk, 3)
	require.Equal(t, models.EscrowStatusFunded, walk[2].ToStatus)
}

func TestFundFromWalletRequiresBuyer(t *testing.T) {
	env := newTestEnv(t)
	buyer, seller := uuid.New(), uuid.New()
	esc, err := env.escrowSvc.CreateEscrow(context.Background(), buyer, seller, 50_000, "d")
	require.NoError(t, err)

	_, err = env.escrowSvc.FundFromWallet(context.Background(), esc.ID, seller)
	require.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestFundFromWalletTimeoutLeavesFundingInProgress(t *testing.T) {
	env := newTestEnv(t)
	env.waiter.err = apperrors.ErrTransactionTimeout
	buyer, seller := uuid.New(), uuid.New()
	esc, err := env.escrowSvc.CreateEscrow(context.Background(), buyer, seller, 50_000, "d")
	require.NoError(t, err)

	_, err = env.escrowSvc.FundFromWallet(context.Background(), esc.ID, buyer)
	require.ErrorIs(t, err, apperrors.ErrTransactionTimeout)

	cur, err := env.escrows.GetByID(context.Background(), esc.ID)
	require.NoError(t, err)
	require.Equal(t, models.EscrowStatusFundingInProgress, cur.Status)
	require.NotNil(t, cur.LastTxHash)
}

func TestReconcileFundingPicksUpLandedDeposit(t *testing.T) {
	env := newTestEnv(t)
	env.waiter.err = apperrors.ErrTransactionTimeout
	buyer, seller := uuid.New(), uuid.New()
	esc, err := env.escrowSvc.CreateEscrow(context.Background(), buyer, seller, 50_000, "d")
	require.NoError(t, err)
	_, err = env.escrowSvc.FundFromWallet(context.Background(), esc.ID, buyer)
	require.ErrorIs(t, err, apperrors.ErrTransactionTimeout)

	// Deposit lands after the monitor gave up.
	env.chain.setBalance(esc.WalletAddress, 50_000)
	require.NoError(t, env.escrowSvc.ReconcileFunding(context.Background()))

	cur, err := env.escrows.GetByID(context.Background(), esc.ID)
	require.NoError(t, err)
	require.Equal(t, models.EscrowStatusFunded, cur.Status)
}

func TestReconcileFundingDetectsExternalDeposit(t *testing.T) {
	env := newTestEnv(t)
	buyer, seller := uuid.New(), uuid.New()
	esc, err := env.escrowSvc.CreateEscrow(context.Background(), buyer, seller, 50_000, "d")
	require.NoError(t, err)

	// Buyer paid the deposit address directly, no webhook ever arrived.
	env.chain.setBalance(esc.WalletAddress, 50_000)
	require.NoError(t, env.escrowSvc.ReconcileFunding(context.Background()))

	cur, err := env.escrows.GetByID(context.Background(), esc.ID)
	require.NoError(t, err)
	require.Equal(t, models.EscrowStatusFunded, cur.Status)

	walk, err := env.escrowSvc.Transitions(context.Background(), esc.ID, buyer, false)
	require.NoError(t, err)
	require.Len(t, walk, 3)
	require.Equal(t, models.EscrowStatusFundingInProgress, walk[1].ToStatus)
}

func TestFullLifecycleToRelease(t *testing.T) {
	env := newTestEnv(t)
	buyer, seller := uuid.New(), uuid.New()
	esc := env.fundedEscrow(t, buyer, seller, 50_000)

	_, err := env.escrowSvc.StartWork(context.Background(), esc.ID, seller)
	require.NoError(t, err)
	submitted, err := env.escrowSvc.Submit(context.Background(), esc.ID, seller, "https://example.com/delivery.zip")
	require.NoError(t, err)
	require.NotNil(t, submitted.Submission)
	_, err = env.escrowSvc.Verify(context.Background(), esc.ID, buyer)
	require.NoError(t, err)

	released, err := env.escrowSvc.Release(context.Background(), esc.ID, buyer)
	require.NoError(t, err)
	require.Equal(t, models.EscrowStatusReleased, released.Status)
	require.NotNil(t, released.ReleasedAt)
	require.NotNil(t, released.CompletedAt)

	// Outbound ledger row carries the payout minus the fee buffer.
	row := env.mem.LedgerRow(*released.LastTxHash)
	require.NotNil(t, row)
	require.Equal(t, models.TxDirectionOutbound, row.Direction)
	require.Equal(t, int64(50_000-1000), row.AmountSats)

	// The seller got a custodial wallet provisioned as payout destination.
	w, err := env.wallets.GetByUserID(context.Background(), seller, "testnet")
	require.NoError(t, err)
	require.NotEmpty(t, w.Address)
}

func TestReleaseAutoAdvancesWithoutSideEffects(t *testing.T) {
	env := newTestEnv(t)
	buyer, seller := uuid.New(), uuid.New()
	esc := env.fundedEscrow(t, buyer, seller, 50_000)

	before := len(env.mem.Effects())
	released, err := env.escrowSvc.Release(context.Background(), esc.ID, buyer)
	require.NoError(t, err)
	require.Equal(t, models.EscrowStatusReleased, released.Status)

	// Audit trail records every skipped intermediate state.
	walk, err := env.escrowSvc.Transitions(context.Background(), esc.ID, buyer, false)
	require.NoError(t, err)
	var tail []models.EscrowStatus
	for _, tr := range walk[len(walk)-4:] {
		tail = append(tail, tr.ToStatus)
	}
	require.Equal(t, []models.EscrowStatus{
		models.EscrowStatusInProgress,
		models.EscrowStatusSubmitted,
		models.EscrowStatusVerified,
		models.EscrowStatusReleased,
	}, tail)

	// Only the terminal commit enqueued effects, none for skipped states.
	added := env.mem.Effects()[before:]
	require.NotEmpty(t, added)
	for _, eff := range added {
		switch eff.Kind {
		case models.EffectNotify:
			require.Equal(t, "escrow_released", eff.Payload["kind"])
		case models.EffectReputation:
			require.Equal(t, "released", eff.Payload["outcome"])
		default:
			t.Fatalf("unexpected effect kind %s from auto-advance", eff.Kind)
		}
	}
}

func TestReleaseAuthorization(t *testing.T) {
	env := newTestEnv(t)
	buyer, seller := uuid.New(), uuid.New()
	esc := env.fundedEscrow(t, buyer, seller, 50_000)

	_, err := env.escrowSvc.Release(context.Background(), esc.ID, seller)
	require.ErrorIs(t, err, apperrors.ErrForbidden)
	_, err = env.escrowSvc.Release(context.Background(), esc.ID, uuid.New())
	require.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestRefundBySellerFromFunded(t *testing.T) {
	env := newTestEnv(t)
	buyer, seller := uuid.New(), uuid.New()
	esc := env.fundedEscrow(t, buyer, seller, 50_000)

	refunded, err := env.escrowSvc.Refund(context.Background(), esc.ID, seller)
	require.NoError(t, err)
	require.Equal(t, models.EscrowStatusRefunded, refunded.Status)

	// Refund path goes through DISPUTED per the transition table.
	walk, err := env.escrowSvc.Transitions(context.Background(), esc.ID, seller, false)
	require.NoError(t, err)
	last := walk[len(walk)-1]
	require.Equal(t, models.EscrowStatusDisputed, last.FromStatus)
	require.Equal(t, models.EscrowStatusRefunded, last.ToStatus)

	row := env.mem.LedgerRow(*refunded.LastTxHash)
	require.NotNil(t, row)
	require.Equal(t, models.TxDirectionOutbound, row.Direction)
}

func TestRefundByBuyerOnlyAfterExpiry(t *testing.T) {
	env := newTestEnv(t)
	buyer, seller := uuid.New(), uuid.New()
	esc := env.fundedEscrow(t, buyer, seller, 50_000)

	_, err := env.escrowSvc.Refund(context.Background(), esc.ID, buyer)
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	// Recreate with an already-passed expiry.
	env2 := newTestEnv(t)
	env2.cfg.EscrowExpiry = -time.Hour
	esc2 := env2.fundedEscrow(t, buyer, seller, 50_000)

	refunded, err := env2.escrowSvc.Refund(context.Background(), esc2.ID, buyer)
	require.NoError(t, err)
	require.Equal(t, models.EscrowStatusRefunded, refunded.Status)
}

func TestReleaseBlockedWhenDisputeCheckFails(t *testing.T) {
	env := newTestEnv(t)
	buyer, seller := uuid.New(), uuid.New()
	esc := env.fundedEscrow(t, buyer, seller, 50_000)

	// The open-dispute guard must treat a store failure as a failure, not
	// as "no dispute": funds may not move on an unanswered question.
	dbErr := errors.New("db connection reset")
	env.escrowSvc.disputes = &faultyDisputeStore{DisputeStore: env.disputes, err: dbErr}

	broadcastsBefore := env.chain.broadcastCount()
	_, err := env.escrowSvc.Release(context.Background(), esc.ID, buyer)
	require.ErrorIs(t, err, dbErr)

	cur, err := env.escrows.GetByID(context.Background(), esc.ID)
	require.NoError(t, err)
	require.Equal(t, models.EscrowStatusFunded, cur.Status)
	require.Equal(t, broadcastsBefore, env.chain.broadcastCount())
}

func TestReleaseInsufficientFunds(t *testing.T) {
	env := newTestEnv(t)
	buyer, seller := uuid.New(), uuid.New()
	esc := env.fundedEscrow(t, buyer, seller, 50_000)
	env.chain.setBalance(esc.WalletAddress, 500) // below the fee buffer

	_, err := env.escrowSvc.Release(context.Background(), esc.ID, buyer)
	require.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
	require.Equal(t, 1, env.chain.broadcastCount()) // only the funding broadcast
}

func TestReleasePersistFailureIsDatabaseUpdateFailed(t *testing.T) {
	dbErr := errors.New("connection reset")
	env := newTestEnvWithStore(t, func(s statemachine.Store) statemachine.Store {
		return &failOnStore{Store: s, failOn: models.EscrowStatusReleased, err: dbErr}
	})
	buyer, seller := uuid.New(), uuid.New()
	esc := env.fundedEscrow(t, buyer, seller, 50_000)

	broadcastsBefore := env.chain.broadcastCount()
	_, err := env.escrowSvc.Release(context.Background(), esc.ID, buyer)
	require.ErrorIs(t, err, apperrors.ErrDatabaseUpdateFailed)
	require.ErrorIs(t, err, dbErr)

	// Exactly one broadcast happened and was not retried.
	require.Equal(t, broadcastsBefore+1, env.chain.broadcastCount())

	// The error message carries the hash for operator reconciliation.
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Contains(t, appErr.Message, "tx-")
}

func TestCancelUnfundedEscrow(t *testing.T) {
	env := newTestEnv(t)
	buyer, seller := uuid.New(), uuid.New()
	esc, err := env.escrowSvc.CreateEscrow(context.Background(), buyer, seller, 50_000, "d")
	require.NoError(t, err)

	_, err = env.escrowSvc.Cancel(context.Background(), esc.ID, uuid.New())
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	cancelled, err := env.escrowSvc.Cancel(context.Background(), esc.ID, seller)
	require.NoError(t, err)
	require.Equal(t, models.EscrowStatusCancelled, cancelled.Status)

	// Funded escrows cannot be cancelled.
	esc2 := env.fundedEscrow(t, buyer, seller, 50_000)
	_, err = env.escrowSvc.Cancel(context.Background(), esc2.ID, buyer)
	require.ErrorIs(t, err, apperrors.ErrInvalidStateTransition)
}

func TestExpireStaleSweepsOnlyUnfunded(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.EscrowExpiry = -time.Hour
	buyer, seller := uuid.New(), uuid.New()

	unfunded, err := env.escrowSvc.CreateEscrow(context.Background(), buyer, seller, 50_000, "stale")
	require.NoError(t, err)
	funded := env.fundedEscrow(t, buyer, seller, 60_000)
	_, err = env.escrowSvc.StartWork(context.Background(), funded.ID, seller)
	require.NoError(t, err)

	n, err := env.escrowSvc.ExpireStale(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	cur, err := env.escrows.GetByID(context.Background(), unfunded.ID)
	require.NoError(t, err)
	require.Equal(t, models.EscrowStatusExpired, cur.Status)

	// The funded escrow keeps its state; expiry only unlocks the buyer refund.
	cur, err = env.escrows.GetByID(context.Background(), funded.ID)
	require.NoError(t, err)
	require.Equal(t, models.EscrowStatusInProgress, cur.Status)
}

func TestGetByPublicIDAuthorization(t *testing.T) {
	env := newTestEnv(t)
	buyer, seller := uuid.New(), uuid.New()
	esc, err := env.escrowSvc.CreateEscrow(context.Background(), buyer, seller, 50_000, "d")
	require.NoError(t, err)

	got, err := env.escrowSvc.GetByPublicID(context.Background(), esc.PublicID, buyer, false)
	require.NoError(t, err)
	require.Equal(t, esc.ID, got.ID)

	_, err = env.escrowSvc.GetByPublicID(context.Background(), esc.PublicID, uuid.New(), false)
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	// Admins see everything.
	_, err = env.escrowSvc.GetByPublicID(context.Background(), esc.PublicID, uuid.New(), true)
	require.NoError(t, err)

	_, err = env.escrowSvc.GetByPublicID(context.Background(), "ESC-ZZZZZZ", buyer, false)
	require.ErrorIs(t, err, apperrors.ErrEscrowNotFound)
}
