// Package effects drains the transactional outbox: side effects enqueued by
// the state machine are executed here, after their transition committed.
// Execution is at-least-once with bounded retries; a failing effect never
// touches escrow state.
package effects

import (
	"context"
	"fmt"
	"time"

	"github.com/escrowhub/backend/internal/models"
	"github.com/escrowhub/backend/internal/services"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Outbox is the claim/ack surface the runner drains.
type Outbox interface {
	ClaimPending(ctx context.Context, limit int, maxAttempts int) ([]models.Effect, error)
	MarkDone(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause string, maxAttempts int) error
}

type Runner struct {
	outbox      Outbox
	notifier    *services.NotifyClient
	advisor     *services.AdvisorClient
	batchSize   int
	maxAttempts int
	interval    time.Duration
	log         *zap.Logger
}

func NewRunner(outbox Outbox, notifier *services.NotifyClient, advisor *services.AdvisorClient, batchSize, maxAttempts int, interval time.Duration, log *zap.Logger) *Runner {
	if batchSize <= 0 {
		batchSize = 50
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Runner{
		outbox:      outbox,
		notifier:    notifier,
		advisor:     advisor,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		interval:    interval,
		log:         log,
	}
}

// Run drains the outbox until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.DrainOnce(ctx); err != nil {
				r.log.Error("outbox drain failed", zap.Error(err))
			} else if n > 0 {
				r.log.Debug("outbox drained", zap.Int("effects", n))
			}
		}
	}
}

// DrainOnce claims one batch and executes it, returning the number of
// effects processed.
func (r *Runner) DrainOnce(ctx context.Context) (int, error) {
	batch, err := r.outbox.ClaimPending(ctx, r.batchSize, r.maxAttempts)
	if err != nil {
		return 0, err
	}
	for _, eff := range batch {
		if err := r.execute(ctx, eff); err != nil {
			r.log.Warn("effect failed",
				zap.String("effect_id", eff.ID.String()),
				zap.String("kind", eff.Kind),
				zap.Int("attempts", eff.Attempts),
				zap.Error(err),
			)
			if markErr := r.outbox.MarkFailed(ctx, eff.ID, err.Error(), r.maxAttempts); markErr != nil {
				r.log.Error("failed to record effect failure", zap.Error(markErr))
			}
			continue
		}
		if err := r.outbox.MarkDone(ctx, eff.ID); err != nil {
			r.log.Error("failed to ack effect", zap.String("effect_id", eff.ID.String()), zap.Error(err))
		}
	}
	return len(batch), nil
}

func (r *Runner) execute(ctx context.Context, eff models.Effect) error {
	switch eff.Kind {
	case models.EffectNotify:
		kind, _ := eff.Payload["kind"].(string)
		userID, _ := eff.Payload["user_id"].(string)
		return r.notifier.Send(ctx, services.Notification{
			UserID:   userID,
			EscrowID: eff.EscrowID.String(),
			Kind:     kind,
			Data:     eff.Payload,
		})
	case models.EffectAdvisory:
		disputeID, _ := eff.Payload["dispute_id"].(string)
		reason, _ := eff.Payload["reason"].(string)
		return r.advisor.RequestAdvisory(ctx, services.AdvisoryRequest{
			EscrowID:  eff.EscrowID.String(),
			DisputeID: disputeID,
			Reason:    reason,
			Context:   eff.Payload,
		})
	case models.EffectReputation:
		// Reputation scoring is recorded for a downstream consumer; nothing
		// to call yet.
		r.log.Info("reputation effect recorded",
			zap.String("escrow_id", eff.EscrowID.String()),
			zap.Any("payload", eff.Payload),
		)
		return nil
	case models.EffectPublish:
		// Publish effects are best-effort duplicates of the live pubsub
		// stream; dropping them here is acceptable.
		return nil
	default:
		return fmt.Errorf("unknown effect kind %q", eff.Kind)
	}
}
