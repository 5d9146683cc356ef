package services

import (
	"context"
	"errors"

	"github.com/escrowhub/backend/internal/apperrors"
	"github.com/escrowhub/backend/internal/models"
	"github.com/escrowhub/backend/internal/statemachine"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DisputeService owns the dispute lifecycle. Resolutions and concessions
// hand off to the settlement orchestrator's internal entry points so the
// dispute update and the terminal payout commit atomically.
type DisputeService struct {
	disputes DisputeStore
	escrows  EscrowStore
	escrow   *EscrowService
	advisor  *AdvisorClient
	log      *zap.Logger
}

func NewDisputeService(disputes DisputeStore, escrows EscrowStore, escrow *EscrowService, advisor *AdvisorClient, log *zap.Logger) *DisputeService {
	return &DisputeService{disputes: disputes, escrows: escrows, escrow: escrow, advisor: advisor, log: log}
}

// Open raises a dispute on a funded escrow. One open dispute per escrow.
func (s *DisputeService) Open(ctx context.Context, escrowID, raisedBy uuid.UUID, reason string) (*models.Dispute, error) {
	esc, err := s.escrows.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if !isParty(esc, raisedBy) {
		return nil, apperrors.ErrForbidden
	}
	if reason == "" {
		return nil, apperrors.ErrValidation.WithMessage("dispute reason must not be empty")
	}
	if err := statemachine.Validate(esc.Status, models.EscrowStatusDisputed); err != nil {
		return nil, err
	}
	if open, err := s.disputes.GetOpenByEscrow(ctx, escrowID); err == nil && open.IsOpen() {
		return nil, apperrors.ErrDisputeAlreadyExists
	} else if err != nil && !errors.Is(err, apperrors.ErrDisputeNotFound) {
		return nil, err
	}

	d := &models.Dispute{
		EscrowID: escrowID,
		RaisedBy: raisedBy,
		Reason:   reason,
		Status:   models.DisputeStatusOpen,
	}
	if err := s.disputes.Create(ctx, d); err != nil {
		return nil, err
	}

	if _, err := s.escrow.transition(ctx, escrowID, models.EscrowStatusDisputed, &raisedBy, []statemachine.EffectSpec{
		{Kind: models.EffectNotify, Payload: map[string]any{
			"kind":       "dispute_opened",
			"escrow_id":  escrowID.String(),
			"dispute_id": d.ID.String(),
		}},
		{Kind: models.EffectAdvisory, Payload: map[string]any{
			"escrow_id":  escrowID.String(),
			"dispute_id": d.ID.String(),
			"reason":     reason,
		}},
	}); err != nil {
		return nil, err
	}

	s.log.Info("dispute opened",
		zap.String("escrow_id", escrowID.String()),
		zap.String("dispute_id", d.ID.String()),
	)
	return d, nil
}

func (s *DisputeService) Get(ctx context.Context, disputeID, requester uuid.UUID, isAdmin bool) (*models.Dispute, error) {
	d, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	esc, err := s.escrows.GetByID(ctx, d.EscrowID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && !isParty(esc, requester) {
		return nil, apperrors.ErrForbidden
	}
	d.Evidence, err = s.disputes.ListEvidence(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// AddEvidence appends an evidence entry. Parties only, open disputes only.
func (s *DisputeService) AddEvidence(ctx context.Context, disputeID, submittedBy uuid.UUID, content string) (*models.DisputeEvidence, error) {
	d, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !d.IsOpen() {
		return nil, apperrors.ErrValidation.WithMessage("dispute is %s, evidence is closed", d.Status)
	}
	esc, err := s.escrows.GetByID(ctx, d.EscrowID)
	if err != nil {
		return nil, err
	}
	if !isParty(esc, submittedBy) {
		return nil, apperrors.ErrForbidden
	}
	if content == "" {
		return nil, apperrors.ErrValidation.WithMessage("evidence must not be empty")
	}

	ev := &models.DisputeEvidence{
		DisputeID:   disputeID,
		SubmittedBy: submittedBy,
		Content:     content,
	}
	if err := s.disputes.AddEvidence(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Concede resolves the dispute in the other party's favor: a conceding buyer
// releases, a conceding seller refunds.
func (s *DisputeService) Concede(ctx context.Context, disputeID, actorID uuid.UUID) (*models.Escrow, error) {
	d, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !d.IsOpen() {
		return nil, apperrors.ErrValidation.WithMessage("dispute is already %s", d.Status)
	}
	esc, err := s.escrows.GetByID(ctx, d.EscrowID)
	if err != nil {
		return nil, err
	}

	var action string
	switch actorID {
	case esc.BuyerID:
		action = models.DisputeActionRelease
	case esc.SellerID:
		action = models.DisputeActionRefund
	default:
		return nil, apperrors.ErrForbidden
	}
	return s.execute(ctx, d, action, "conceded by "+roleOf(esc, actorID), actorID)
}

// Resolve is the arbitrator ruling: the action is chosen instead of inferred.
func (s *DisputeService) Resolve(ctx context.Context, disputeID, adminID uuid.UUID, action, resolution string) (*models.Escrow, error) {
	d, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !d.IsOpen() {
		return nil, apperrors.ErrValidation.WithMessage("dispute is already %s", d.Status)
	}
	if action != models.DisputeActionRelease && action != models.DisputeActionRefund {
		return nil, apperrors.ErrValidation.WithMessage("action must be %s or %s", models.DisputeActionRelease, models.DisputeActionRefund)
	}
	if resolution == "" {
		resolution = "resolved by arbitrator"
	}

	// Taking the case is recorded before the payout runs: if settlement
	// fails mid-flight the dispute shows as under review, not untouched.
	if d.Status == models.DisputeStatusOpen {
		if err := s.disputes.MarkUnderReview(ctx, d.ID); err != nil {
			return nil, err
		}
	}
	return s.execute(ctx, d, action, resolution, adminID)
}

func (s *DisputeService) execute(ctx context.Context, d *models.Dispute, action, resolution string, resolvedBy uuid.UUID) (*models.Escrow, error) {
	update := &statemachine.DisputeUpdate{
		DisputeID:  d.ID,
		Status:     models.DisputeStatusResolved,
		Resolution: resolution,
		ResolvedBy: &resolvedBy,
	}

	var (
		esc *models.Escrow
		err error
	)
	if action == models.DisputeActionRelease {
		esc, err = s.escrow.ReleaseInternal(ctx, d.EscrowID, &resolvedBy, update)
	} else {
		esc, err = s.escrow.RefundInternal(ctx, d.EscrowID, &resolvedBy, update)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("dispute resolved",
		zap.String("dispute_id", d.ID.String()),
		zap.String("action", action),
		zap.String("escrow_status", string(esc.Status)),
	)
	return esc, nil
}

func roleOf(esc *models.Escrow, userID uuid.UUID) string {
	if esc.BuyerID == userID {
		return "buyer"
	}
	return "seller"
}
