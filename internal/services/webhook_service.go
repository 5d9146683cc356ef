package services

import (
	"context"
	"errors"

	"github.com/escrowhub/backend/internal/apperrors"
	"github.com/escrowhub/backend/internal/bch"
	"github.com/escrowhub/backend/internal/config"
	"github.com/escrowhub/backend/internal/models"
	"github.com/escrowhub/backend/internal/webhook"
	"go.uber.org/zap"
)

// WebhookService processes verified deposit notifications. Idempotency is
// insert-before-process: the event id goes into the store first, and a
// duplicate delivery is acknowledged without touching the escrow again.
type WebhookService struct {
	escrows EscrowStore
	events  WebhookStore
	ledger  LedgerStore
	escrow  *EscrowService
	cfg     *config.Config
	log     *zap.Logger
}

func NewWebhookService(escrows EscrowStore, eventStore WebhookStore, ledger LedgerStore, escrow *EscrowService, cfg *config.Config, log *zap.Logger) *WebhookService {
	return &WebhookService{escrows: escrows, events: eventStore, ledger: ledger, escrow: escrow, cfg: cfg, log: log}
}

// IngestResult is the acknowledgement returned to the webhook sender.
type IngestResult struct {
	EventID       string
	Duplicate     bool
	EscrowID      string
	Status        models.EscrowStatus
	Confirmations int
}

// Process handles one verified payload. The caller has already checked the
// signature and freshness; everything here is idempotent.
func (s *WebhookService) Process(ctx context.Context, p webhook.Payload) (*IngestResult, error) {
	amountSats, err := bch.ToSatoshis(p.AmountBCH)
	if err != nil {
		return nil, apperrors.ErrValidation.WithMessage("invalid amount: %v", err)
	}

	eventID := webhook.EventID(p.Address, p.TxHash, p.Timestamp)
	res := &IngestResult{EventID: eventID, Confirmations: p.Confirmations}

	esc, err := s.escrows.GetByWalletAddress(ctx, p.Address)
	if err != nil {
		if errors.Is(err, apperrors.ErrEscrowNotFound) {
			// Not one of ours. Record the event id so replays stay cheap.
			_, recErr := s.events.Record(ctx, &models.WebhookEvent{
				EventID: eventID, Address: p.Address, TxHash: p.TxHash,
				AmountSats: amountSats, Confirmations: p.Confirmations,
			})
			if recErr != nil {
				return nil, recErr
			}
			return res, nil
		}
		return nil, err
	}
	res.EscrowID = esc.ID.String()
	res.Status = esc.Status

	fresh, err := s.events.Record(ctx, &models.WebhookEvent{
		EventID: eventID, Address: p.Address, TxHash: p.TxHash,
		AmountSats: amountSats, Confirmations: p.Confirmations, EscrowID: &esc.ID,
	})
	if err != nil {
		return nil, err
	}
	if !fresh {
		res.Duplicate = true
		return res, nil
	}

	// Record the observed movement regardless of whether it advances state.
	if err := s.ledger.Upsert(ctx, &models.Transaction{
		EscrowID:      esc.ID,
		TxID:          p.TxHash,
		AmountSats:    amountSats,
		Confirmations: p.Confirmations,
		Direction:     models.TxDirectionInbound,
	}); err != nil {
		return nil, err
	}

	fundable := esc.Status == models.EscrowStatusAwaitingFunding || esc.Status == models.EscrowStatusFundingInProgress
	if !fundable {
		s.log.Info("deposit on settled escrow recorded",
			zap.String("escrow_id", esc.ID.String()),
			zap.String("txid", p.TxHash),
		)
		return res, nil
	}
	if p.Confirmations < s.cfg.MinConfirmations {
		s.log.Info("deposit below confirmation threshold",
			zap.String("escrow_id", esc.ID.String()),
			zap.Int("confirmations", p.Confirmations),
			zap.Int("required", s.cfg.MinConfirmations),
		)
		return res, nil
	}
	if amountSats < esc.AmountSats {
		s.log.Warn("partial deposit, not advancing",
			zap.String("escrow_id", esc.ID.String()),
			zap.Int64("amount_sats", amountSats),
			zap.Int64("expected_sats", esc.AmountSats),
		)
		return res, nil
	}

	updated, err := s.escrow.markFunded(ctx, esc, p.TxHash, p.Confirmations, nil)
	if err != nil {
		return nil, err
	}
	res.Status = updated.Status
	return res, nil
}
