package statemachine

import (
	"context"
	"sync"
	"time"

	"github.com/escrowhub/backend/internal/apperrors"
	"github.com/escrowhub/backend/internal/models"
	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and local development. The
// mutex gives the same all-or-nothing semantics as the database transaction.
type MemoryStore struct {
	mu          sync.Mutex
	escrows     map[uuid.UUID]*models.Escrow
	transitions []models.StateTransition
	effects     []models.Effect
	ledger      map[string]*models.Transaction // by txid
	disputes    map[uuid.UUID]*models.Dispute
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		escrows:  make(map[uuid.UUID]*models.Escrow),
		ledger:   make(map[string]*models.Transaction),
		disputes: make(map[uuid.UUID]*models.Dispute),
	}
}

// Put seeds or replaces an escrow.
func (s *MemoryStore) Put(e *models.Escrow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.escrows[e.ID] = &cp
}

// PutDispute seeds a dispute.
func (s *MemoryStore) PutDispute(d *models.Dispute) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.disputes[d.ID] = &cp
}

func (s *MemoryStore) GetEscrow(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.escrows[id]
	if !ok {
		return nil, apperrors.ErrEscrowNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) GetDispute(id uuid.UUID) *models.Dispute {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.disputes[id]
	if !ok {
		return nil
	}
	cp := *d
	return &cp
}

func (s *MemoryStore) Apply(ctx context.Context, c Commit) (*models.Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.escrows[c.EscrowID]
	if !ok {
		return nil, apperrors.ErrEscrowNotFound
	}
	if err := Validate(e.Status, c.To); err != nil {
		return nil, err
	}

	now := time.Now()
	from := e.Status
	e.Status = c.To
	e.UpdatedAt = now
	switch c.To {
	case models.EscrowStatusFunded:
		e.FundedAt = &now
	case models.EscrowStatusSubmitted:
		e.SubmittedAt = &now
	case models.EscrowStatusVerified:
		e.VerifiedAt = &now
	case models.EscrowStatusReleased:
		e.ReleasedAt = &now
	case models.EscrowStatusDisputed:
		e.DisputedAt = &now
	}
	if c.To.IsTerminal() {
		e.CompletedAt = &now
	}
	if c.TxHash != nil {
		h := *c.TxHash
		e.LastTxHash = &h
	}
	if c.Submission != nil {
		sub := *c.Submission
		e.Submission = &sub
	}

	s.transitions = append(s.transitions, models.StateTransition{
		ID:         uuid.New(),
		EscrowID:   c.EscrowID,
		FromStatus: from,
		ToStatus:   c.To,
		ActorID:    c.Actor,
		Meta:       c.Meta,
		CreatedAt:  now,
	})

	if c.Ledger != nil {
		if existing, ok := s.ledger[c.Ledger.TxID]; ok {
			existing.Confirmations = c.Ledger.Confirmations
		} else {
			cp := *c.Ledger
			cp.ID = uuid.New()
			cp.CreatedAt = now
			s.ledger[cp.TxID] = &cp
		}
	}

	if c.Dispute != nil {
		if d, ok := s.disputes[c.Dispute.DisputeID]; ok {
			d.Status = c.Dispute.Status
			res := c.Dispute.Resolution
			d.Resolution = &res
			d.ResolvedBy = c.Dispute.ResolvedBy
			d.ResolvedAt = &now
		}
	}

	for _, eff := range c.Effects {
		s.effects = append(s.effects, models.Effect{
			ID:        uuid.New(),
			EscrowID:  c.EscrowID,
			Kind:      eff.Kind,
			Payload:   eff.Payload,
			Status:    models.EffectStatusPending,
			CreatedAt: now,
		})
	}

	cp := *e
	return &cp, nil
}

func (s *MemoryStore) Transitions(ctx context.Context, escrowID uuid.UUID) ([]models.StateTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StateTransition
	for _, t := range s.transitions {
		if t.EscrowID == escrowID {
			out = append(out, t)
		}
	}
	return out, nil
}

// Effects returns all enqueued outbox rows, for assertions.
func (s *MemoryStore) Effects() []models.Effect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Effect(nil), s.effects...)
}

// LedgerRow returns the transaction recorded for txid, or nil.
func (s *MemoryStore) LedgerRow(txid string) *models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.ledger[txid]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

// LedgerCount returns the number of distinct ledger rows.
func (s *MemoryStore) LedgerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ledger)
}
