package services

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/escrowhub/backend/internal/apperrors"
	"github.com/escrowhub/backend/internal/bch"
	"github.com/escrowhub/backend/internal/config"
	"github.com/escrowhub/backend/internal/events"
	"github.com/escrowhub/backend/internal/keyvault"
	"github.com/escrowhub/backend/internal/models"
	"github.com/escrowhub/backend/internal/repositories"
	"github.com/escrowhub/backend/internal/statemachine"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EscrowService is the settlement orchestrator: it composes the key vault,
// transaction builder, settlement client, and state machine engine into the
// fund / release / refund workflows. The ordering rule for anything that
// moves money is broadcast first, then persist hash + transition + ledger in
// one transaction; a persistence failure after a successful broadcast is
// surfaced as DatabaseUpdateFailed and never retried automatically.
type EscrowService struct {
	escrows   EscrowStore
	ledger    LedgerStore
	disputes  DisputeStore
	walletSvc *WalletService
	engine    *statemachine.Engine
	client    bch.Service
	builder   TxBuilder
	funding   FundingWaiter
	vault     *keyvault.Vault
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger
}

func NewEscrowService(
	escrows EscrowStore,
	ledger LedgerStore,
	disputes DisputeStore,
	walletSvc *WalletService,
	engine *statemachine.Engine,
	client bch.Service,
	builder TxBuilder,
	funding FundingWaiter,
	vault *keyvault.Vault,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *EscrowService {
	return &EscrowService{
		escrows:   escrows,
		ledger:    ledger,
		disputes:  disputes,
		walletSvc: walletSvc,
		engine:    engine,
		client:    client,
		builder:   builder,
		funding:   funding,
		vault:     vault,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
	}
}

// CreateEscrow provisions a fresh single-use deposit wallet in the vault and
// opens the escrow in AWAITING_FUNDING.
func (s *EscrowService) CreateEscrow(ctx context.Context, buyerID, sellerID uuid.UUID, amountSats int64, description string) (*models.Escrow, error) {
	if buyerID == sellerID {
		return nil, apperrors.ErrValidation.WithMessage("buyer and seller must differ")
	}
	if amountSats < bch.DustThresholdSats {
		return nil, apperrors.ErrValidation.WithMessage("amount %d sats is below the dust threshold", amountSats)
	}

	w, err := s.vault.GenerateWallet()
	if err != nil {
		return nil, err
	}
	encrypted, err := s.vault.Encrypt(w.PrivateKey)
	if err != nil {
		return nil, err
	}

	esc := &models.Escrow{
		PublicID:      newPublicID(),
		BuyerID:       buyerID,
		SellerID:      sellerID,
		AmountSats:    amountSats,
		Description:   description,
		Status:        models.EscrowStatusCreated,
		WalletAddress: w.Address,
		EncryptedKey:  encrypted,
		ExpiresAt:     time.Now().Add(s.cfg.EscrowExpiry),
	}
	if err := s.escrows.Create(ctx, esc); err != nil {
		return nil, err
	}

	esc, err = s.engine.Commit(ctx, statemachine.Commit{
		EscrowID: esc.ID,
		To:       models.EscrowStatusAwaitingFunding,
		Actor:    &buyerID,
		Effects: []statemachine.EffectSpec{
			{Kind: models.EffectNotify, Payload: map[string]any{
				"kind":      "escrow_created",
				"escrow_id": esc.ID.String(),
				"address":   esc.WalletAddress,
			}},
		},
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.EscrowStatus(esc.ID.String(), string(models.EscrowStatusCreated), string(esc.Status)))
	s.log.Info("escrow created",
		zap.String("escrow_id", esc.ID.String()),
		zap.String("public_id", esc.PublicID),
		zap.Int64("amount_sats", esc.AmountSats),
	)
	return esc, nil
}

func (s *EscrowService) GetByPublicID(ctx context.Context, publicID string, requester uuid.UUID, isAdmin bool) (*models.Escrow, error) {
	esc, err := s.escrows.GetByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && !isParty(esc, requester) {
		return nil, apperrors.ErrForbidden
	}
	return esc, nil
}

func (s *EscrowService) GetByID(ctx context.Context, id uuid.UUID, requester uuid.UUID, isAdmin bool) (*models.Escrow, error) {
	esc, err := s.escrows.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isAdmin && !isParty(esc, requester) {
		return nil, apperrors.ErrForbidden
	}
	return esc, nil
}

// List returns the requester's escrows, newest first.
func (s *EscrowService) List(ctx context.Context, requester uuid.UUID, status *models.EscrowStatus, limit, offset int) ([]models.Escrow, error) {
	return s.escrows.List(ctx, repositories.EscrowFilter{
		UserID: &requester,
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
}

// Transitions returns the escrow's audit trail.
func (s *EscrowService) Transitions(ctx context.Context, id uuid.UUID, requester uuid.UUID, isAdmin bool) ([]models.StateTransition, error) {
	if _, err := s.GetByID(ctx, id, requester, isAdmin); err != nil {
		return nil, err
	}
	return s.engine.Transitions(ctx, id)
}

// Ledger returns the recorded on-chain movements of the escrow wallet.
func (s *EscrowService) Ledger(ctx context.Context, id uuid.UUID, requester uuid.UUID, isAdmin bool) ([]models.Transaction, error) {
	if _, err := s.GetByID(ctx, id, requester, isAdmin); err != nil {
		return nil, err
	}
	return s.ledger.ListByEscrow(ctx, id)
}

// FundFromWallet moves the escrow amount from the buyer's custodial wallet
// into the escrow wallet, then waits for the deposit to be observed.
func (s *EscrowService) FundFromWallet(ctx context.Context, escrowID, buyerID uuid.UUID) (*models.Escrow, error) {
	esc, err := s.escrows.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if esc.BuyerID != buyerID {
		return nil, apperrors.ErrForbidden.WithMessage("only the buyer can fund the escrow")
	}
	if esc.Status != models.EscrowStatusAwaitingFunding {
		return nil, apperrors.ErrInvalidStateTransition.WithMessage("escrow is %s, funding requires %s", esc.Status, models.EscrowStatusAwaitingFunding)
	}

	wallet, err := s.walletSvc.EnsureWallet(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	privKey, err := s.vault.Decrypt(wallet.EncryptedKey)
	if err != nil {
		return nil, err
	}

	rawTx, err := s.builder.Build(ctx, wallet.Address, esc.WalletAddress, esc.AmountSats, privKey)
	if err != nil {
		return nil, err
	}
	txHash, err := s.client.Broadcast(ctx, rawTx)
	if err != nil {
		return nil, apperrors.ErrPaymentFailed.Wrap(err)
	}

	// Broadcast succeeded: the hash, the transition, and the ledger row must
	// land together or the whole write must fail loudly.
	esc, err = s.engine.Commit(ctx, statemachine.Commit{
		EscrowID: escrowID,
		To:       models.EscrowStatusFundingInProgress,
		Actor:    &buyerID,
		TxHash:   &txHash,
		Ledger: &models.Transaction{
			EscrowID:   escrowID,
			TxID:       txHash,
			AmountSats: esc.AmountSats,
			Direction:  models.TxDirectionInbound,
		},
	})
	if err != nil {
		return nil, apperrors.DatabaseUpdateFailed(txHash, err)
	}

	res, err := s.funding.WaitForFunding(ctx, esc.WalletAddress, txHash, esc.AmountSats, s.cfg.FundingMaxWait, s.cfg.FundingPollInterval)
	if err != nil {
		// Not observed in time. The transition stays at FUNDING_IN_PROGRESS
		// and the worker's reconciliation pass picks it up.
		return esc, err
	}

	return s.markFunded(ctx, esc, res.TxID, res.Confirmations, &buyerID)
}

// markFunded drives FUNDING_IN_PROGRESS (or AWAITING_FUNDING, for external
// deposits) to FUNDED, recording the observed deposit.
func (s *EscrowService) markFunded(ctx context.Context, esc *models.Escrow, txID string, confirmations int, actor *uuid.UUID) (*models.Escrow, error) {
	if esc.Status == models.EscrowStatusAwaitingFunding {
		var err error
		esc, err = s.engine.Commit(ctx, statemachine.Commit{
			EscrowID: esc.ID,
			To:       models.EscrowStatusFundingInProgress,
			Actor:    actor,
			Meta:     map[string]any{"auto": true},
		})
		if err != nil {
			return nil, err
		}
	}

	// Reconciliation can confirm funding by balance alone, with no deposit
	// txid to record.
	var ledger *models.Transaction
	if txID != "" {
		ledger = &models.Transaction{
			EscrowID:      esc.ID,
			TxID:          txID,
			AmountSats:    esc.AmountSats,
			Confirmations: confirmations,
			Direction:     models.TxDirectionInbound,
		}
	}

	updated, err := s.engine.Commit(ctx, statemachine.Commit{
		EscrowID: esc.ID,
		To:       models.EscrowStatusFunded,
		Actor:    actor,
		Ledger:   ledger,
		Effects: []statemachine.EffectSpec{
			{Kind: models.EffectNotify, Payload: map[string]any{
				"kind":      "escrow_funded",
				"escrow_id": esc.ID.String(),
				"txid":      txID,
			}},
		},
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.EscrowStatus(esc.ID.String(), string(esc.Status), string(updated.Status)))
	return updated, nil
}

// StartWork marks the seller as having started on the deliverable.
func (s *EscrowService) StartWork(ctx context.Context, escrowID, sellerID uuid.UUID) (*models.Escrow, error) {
	esc, err := s.escrows.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if esc.SellerID != sellerID {
		return nil, apperrors.ErrForbidden.WithMessage("only the seller can start work")
	}
	return s.transition(ctx, escrowID, models.EscrowStatusInProgress, &sellerID, nil)
}

// Submit stores the seller's deliverable and moves the escrow to SUBMITTED.
func (s *EscrowService) Submit(ctx context.Context, escrowID, sellerID uuid.UUID, submission string) (*models.Escrow, error) {
	esc, err := s.escrows.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if esc.SellerID != sellerID {
		return nil, apperrors.ErrForbidden.WithMessage("only the seller can submit")
	}
	if submission == "" {
		return nil, apperrors.ErrValidation.WithMessage("submission must not be empty")
	}

	updated, err := s.engine.Commit(ctx, statemachine.Commit{
		EscrowID:   escrowID,
		To:         models.EscrowStatusSubmitted,
		Actor:      &sellerID,
		Submission: &submission,
		Effects: []statemachine.EffectSpec{
			{Kind: models.EffectNotify, Payload: map[string]any{
				"kind":      "work_submitted",
				"escrow_id": escrowID.String(),
				"user_id":   esc.BuyerID.String(),
			}},
		},
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.EscrowStatus(escrowID.String(), string(esc.Status), string(updated.Status)))
	return updated, nil
}

// Verify is the buyer accepting the submitted work.
func (s *EscrowService) Verify(ctx context.Context, escrowID, buyerID uuid.UUID) (*models.Escrow, error) {
	esc, err := s.escrows.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if esc.BuyerID != buyerID {
		return nil, apperrors.ErrForbidden.WithMessage("only the buyer can verify")
	}
	return s.transition(ctx, escrowID, models.EscrowStatusVerified, &buyerID, []statemachine.EffectSpec{
		{Kind: models.EffectNotify, Payload: map[string]any{
			"kind":      "work_verified",
			"escrow_id": escrowID.String(),
			"user_id":   esc.SellerID.String(),
		}},
	})
}

// Cancel aborts an unfunded escrow. Either party may cancel.
func (s *EscrowService) Cancel(ctx context.Context, escrowID, actorID uuid.UUID) (*models.Escrow, error) {
	esc, err := s.escrows.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if !isParty(esc, actorID) {
		return nil, apperrors.ErrForbidden
	}
	return s.transition(ctx, escrowID, models.EscrowStatusCancelled, &actorID, []statemachine.EffectSpec{
		{Kind: models.EffectNotify, Payload: map[string]any{
			"kind":      "escrow_cancelled",
			"escrow_id": escrowID.String(),
		}},
	})
}

// Release pays the escrow balance out to the seller. Public entry point:
// only the buyer may release. Dispute resolution calls ReleaseInternal.
func (s *EscrowService) Release(ctx context.Context, escrowID, actorID uuid.UUID) (*models.Escrow, error) {
	esc, err := s.escrows.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if esc.BuyerID != actorID {
		return nil, apperrors.ErrForbidden.WithMessage("only the buyer can release the escrow")
	}
	return s.settle(ctx, esc, models.EscrowStatusReleased, &actorID, nil)
}

// Refund pays the escrow balance back to the buyer. Public entry point: the
// seller may refund at any time, the buyer only once the escrow expired.
func (s *EscrowService) Refund(ctx context.Context, escrowID, actorID uuid.UUID) (*models.Escrow, error) {
	esc, err := s.escrows.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	switch actorID {
	case esc.SellerID:
	case esc.BuyerID:
		if time.Now().Before(esc.ExpiresAt) {
			return nil, apperrors.ErrForbidden.WithMessage("buyer can refund only after the escrow expires")
		}
	default:
		return nil, apperrors.ErrForbidden
	}
	return s.settle(ctx, esc, models.EscrowStatusRefunded, &actorID, nil)
}

// ReleaseInternal and RefundInternal are the dispute-layer entry points:
// authorization happened there, and the dispute update commits atomically
// with the terminal transition.
func (s *EscrowService) ReleaseInternal(ctx context.Context, escrowID uuid.UUID, actor *uuid.UUID, dispute *statemachine.DisputeUpdate) (*models.Escrow, error) {
	esc, err := s.escrows.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, esc, models.EscrowStatusReleased, actor, dispute)
}

func (s *EscrowService) RefundInternal(ctx context.Context, escrowID uuid.UUID, actor *uuid.UUID, dispute *statemachine.DisputeUpdate) (*models.Escrow, error) {
	esc, err := s.escrows.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, esc, models.EscrowStatusRefunded, actor, dispute)
}

// settle runs the shared release/refund workflow: auto-advance toward the
// precondition state, compute the payout, broadcast, then commit the terminal
// transition with the hash and ledger row in one transaction.
func (s *EscrowService) settle(ctx context.Context, esc *models.Escrow, terminal models.EscrowStatus, actor *uuid.UUID, dispute *statemachine.DisputeUpdate) (*models.Escrow, error) {
	if dispute == nil {
		if open, err := s.disputes.GetOpenByEscrow(ctx, esc.ID); err == nil && open.IsOpen() {
			return nil, apperrors.ErrDisputeAlreadyExists
		} else if err != nil && !errors.Is(err, apperrors.ErrDisputeNotFound) {
			return nil, err
		}
	}

	esc, err := s.advance(ctx, esc, terminal, actor)
	if err != nil {
		return nil, err
	}

	balance, err := s.client.Balance(ctx, esc.WalletAddress)
	if err != nil {
		return nil, err
	}
	sendAmount := balance.TotalSats() - s.cfg.FeeBufferSats
	if sendAmount <= 0 {
		return nil, apperrors.InsufficientFunds(s.cfg.FeeBufferSats+1, balance.TotalSats())
	}

	recipient := esc.SellerID
	if terminal == models.EscrowStatusRefunded {
		recipient = esc.BuyerID
	}
	dest, err := s.walletSvc.EnsureWallet(ctx, recipient)
	if err != nil {
		return nil, err
	}

	privKey, err := s.vault.Decrypt(esc.EncryptedKey)
	if err != nil {
		return nil, err
	}
	rawTx, err := s.builder.Build(ctx, esc.WalletAddress, dest.Address, sendAmount, privKey)
	if err != nil {
		return nil, err
	}
	txHash, err := s.client.Broadcast(ctx, rawTx)
	if err != nil {
		return nil, apperrors.ErrPaymentFailed.Wrap(err)
	}

	updated, err := s.engine.Commit(ctx, statemachine.Commit{
		EscrowID: esc.ID,
		To:       terminal,
		Actor:    actor,
		TxHash:   &txHash,
		Ledger: &models.Transaction{
			EscrowID:   esc.ID,
			TxID:       txHash,
			AmountSats: sendAmount,
			Direction:  models.TxDirectionOutbound,
		},
		Dispute: dispute,
		Effects: []statemachine.EffectSpec{
			{Kind: models.EffectNotify, Payload: map[string]any{
				"kind":      "escrow_" + string(terminal),
				"escrow_id": esc.ID.String(),
				"user_id":   recipient.String(),
				"txid":      txHash,
			}},
			{Kind: models.EffectReputation, Payload: map[string]any{
				"escrow_id": esc.ID.String(),
				"outcome":   string(terminal),
			}},
		},
	})
	if err != nil {
		return nil, apperrors.DatabaseUpdateFailed(txHash, err)
	}

	s.publish(ctx, events.EscrowStatus(esc.ID.String(), string(esc.Status), string(terminal)))
	s.log.Info("escrow settled",
		zap.String("escrow_id", esc.ID.String()),
		zap.String("terminal", string(terminal)),
		zap.String("txid", txHash),
		zap.Int64("amount_sats", sendAmount),
	)
	return updated, nil
}

// advance walks the escrow through any intermediate states still missing
// before the terminal transition, so short-circuit call paths like a dispute
// concession from FUNDED remain legal. Skipped states are recorded in the
// audit log but enqueue no side effects.
func (s *EscrowService) advance(ctx context.Context, esc *models.Escrow, terminal models.EscrowStatus, actor *uuid.UUID) (*models.Escrow, error) {
	var path []models.EscrowStatus
	switch terminal {
	case models.EscrowStatusReleased:
		path = []models.EscrowStatus{models.EscrowStatusInProgress, models.EscrowStatusSubmitted, models.EscrowStatusVerified}
	case models.EscrowStatusRefunded:
		path = []models.EscrowStatus{models.EscrowStatusDisputed}
	}

	// Already at (or past) a state from which the terminal edge exists.
	if models.IsValidEscrowTransition(esc.Status, terminal) {
		return esc, nil
	}

	for _, step := range path {
		if !models.IsValidEscrowTransition(esc.Status, step) {
			continue
		}
		updated, err := s.engine.Commit(ctx, statemachine.Commit{
			EscrowID: esc.ID,
			To:       step,
			Actor:    actor,
			Meta:     map[string]any{"auto": true},
		})
		if err != nil {
			return nil, err
		}
		esc = updated
		if models.IsValidEscrowTransition(esc.Status, terminal) {
			return esc, nil
		}
	}

	if !models.IsValidEscrowTransition(esc.Status, terminal) {
		return nil, apperrors.ErrInvalidStateTransition.WithMessage("cannot reach %s from %s", terminal, esc.Status)
	}
	return esc, nil
}

// ExpireStale sweeps unfunded escrows past their expiry. Funded escrows past
// expiry are left alone: expiry there only unlocks the buyer's refund.
func (s *EscrowService) ExpireStale(ctx context.Context) (int, error) {
	stale, err := s.escrows.ListExpired(ctx, time.Now(), 100)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, esc := range stale {
		if esc.Status != models.EscrowStatusAwaitingFunding {
			continue
		}
		if _, err := s.transition(ctx, esc.ID, models.EscrowStatusExpired, nil, []statemachine.EffectSpec{
			{Kind: models.EffectNotify, Payload: map[string]any{
				"kind":      "escrow_expired",
				"escrow_id": esc.ID.String(),
			}},
		}); err != nil {
			s.log.Warn("failed to expire escrow", zap.String("escrow_id", esc.ID.String()), zap.Error(err))
			continue
		}
		expired++
	}
	return expired, nil
}

// ReconcileFunding re-checks escrows stuck in FUNDING_IN_PROGRESS (the
// funding monitor timed out but the deposit may have landed since) and
// AWAITING_FUNDING escrows that may have been funded externally without a
// webhook delivery.
func (s *EscrowService) ReconcileFunding(ctx context.Context) error {
	pending, err := s.escrows.ListInStatus(ctx, models.EscrowStatusFundingInProgress, 100)
	if err != nil {
		return err
	}
	waiting, err := s.escrows.ListInStatus(ctx, models.EscrowStatusAwaitingFunding, 100)
	if err != nil {
		return err
	}
	pending = append(pending, waiting...)
	for _, esc := range pending {
		balance, err := s.client.Balance(ctx, esc.WalletAddress)
		if err != nil {
			s.log.Warn("reconciliation balance check failed", zap.String("escrow_id", esc.ID.String()), zap.Error(err))
			continue
		}
		if balance.TotalSats() < esc.AmountSats {
			continue
		}
		txID := ""
		if esc.LastTxHash != nil {
			txID = *esc.LastTxHash
		}
		e := esc
		if _, err := s.markFunded(ctx, &e, txID, 0, nil); err != nil {
			s.log.Warn("reconciliation transition failed", zap.String("escrow_id", esc.ID.String()), zap.Error(err))
		}
	}
	return nil
}

func (s *EscrowService) transition(ctx context.Context, escrowID uuid.UUID, to models.EscrowStatus, actor *uuid.UUID, effects []statemachine.EffectSpec) (*models.Escrow, error) {
	updated, err := s.engine.Commit(ctx, statemachine.Commit{
		EscrowID: escrowID,
		To:       to,
		Actor:    actor,
		Effects:  effects,
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.EscrowStatus(escrowID.String(), "", string(to)))
	return updated, nil
}

func (s *EscrowService) publish(ctx context.Context, ev events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, events.StreamEscrow, ev); err != nil {
		s.log.Warn("event publish failed", zap.String("type", ev.Type), zap.Error(err))
	}
}

func isParty(esc *models.Escrow, userID uuid.UUID) bool {
	return esc.BuyerID == userID || esc.SellerID == userID
}

// newPublicID mints a short human-readable escrow handle like ESC-7F3K2M.
func newPublicID() string {
	sum := sha256.Sum256([]byte(uuid.NewString()))
	const alphabet = "23456789ABCDEFGHJKMNPQRSTVWXYZ"
	id := make([]byte, 6)
	for i := range id {
		id[i] = alphabet[int(sum[i])%len(alphabet)]
	}
	return fmt.Sprintf("ESC-%s", id)
}
