package statemachine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/escrowhub/backend/internal/apperrors"
	"github.com/escrowhub/backend/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestEscrow(status models.EscrowStatus) *models.Escrow {
	return &models.Escrow{
		ID:            uuid.New(),
		PublicID:      "ESC-TEST01",
		BuyerID:       uuid.New(),
		SellerID:      uuid.New(),
		AmountSats:    1_000_000,
		Status:        status,
		WalletAddress: "1TestEscrowWalletAddr",
		ExpiresAt:     time.Now().Add(14 * 24 * time.Hour),
		CreatedAt:     time.Now(),
	}
}

func newEngine(t *testing.T) (*Engine, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewEngine(store, zap.NewNop()), store
}

func TestTransitionHappyWalk(t *testing.T) {
	eng, store := newEngine(t)
	esc := newTestEscrow(models.EscrowStatusCreated)
	store.Put(esc)
	ctx := context.Background()

	walk := []models.EscrowStatus{
		models.EscrowStatusAwaitingFunding,
		models.EscrowStatusFundingInProgress,
		models.EscrowStatusFunded,
		models.EscrowStatusInProgress,
		models.EscrowStatusSubmitted,
		models.EscrowStatusVerified,
		models.EscrowStatusReleased,
	}
	for _, to := range walk {
		updated, err := eng.Transition(ctx, esc.ID, to, nil, nil)
		require.NoError(t, err, "transition to %s", to)
		assert.Equal(t, to, updated.Status)
	}

	// The audit log forms exactly the walk that was taken.
	transitions, err := eng.Transitions(ctx, esc.ID)
	require.NoError(t, err)
	require.Len(t, transitions, len(walk))
	from := models.EscrowStatusCreated
	for i, tr := range transitions {
		assert.Equal(t, from, tr.FromStatus)
		assert.Equal(t, walk[i], tr.ToStatus)
		assert.True(t, models.IsValidEscrowTransition(tr.FromStatus, tr.ToStatus),
			"audit row %s->%s must be a declared edge", tr.FromStatus, tr.ToStatus)
		from = tr.ToStatus
	}
}

func TestTransitionRejectedLeavesStateUntouched(t *testing.T) {
	eng, store := newEngine(t)
	esc := newTestEscrow(models.EscrowStatusFunded)
	store.Put(esc)
	ctx := context.Background()

	_, err := eng.Transition(ctx, esc.ID, models.EscrowStatusReleased, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidStateTransition))

	current, err := store.GetEscrow(ctx, esc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusFunded, current.Status, "rejected transition must not change status")

	transitions, _ := eng.Transitions(ctx, esc.ID)
	assert.Empty(t, transitions, "rejected transition must not write an audit row")
}

func TestTransitionFromTerminalRejected(t *testing.T) {
	eng, store := newEngine(t)
	esc := newTestEscrow(models.EscrowStatusReleased)
	store.Put(esc)

	for _, to := range []models.EscrowStatus{
		models.EscrowStatusRefunded, models.EscrowStatusAwaitingFunding, models.EscrowStatusDisputed,
	} {
		_, err := eng.Transition(context.Background(), esc.ID, to, nil, nil)
		assert.ErrorIs(t, err, apperrors.ErrInvalidStateTransition, "released -> %s", to)
	}
}

func TestTransitionUnknownEscrow(t *testing.T) {
	eng, _ := newEngine(t)
	_, err := eng.Transition(context.Background(), uuid.New(), models.EscrowStatusAwaitingFunding, nil, nil)
	assert.ErrorIs(t, err, apperrors.ErrEscrowNotFound)
}

func TestTransitionStampsTimestamps(t *testing.T) {
	eng, store := newEngine(t)
	esc := newTestEscrow(models.EscrowStatusFundingInProgress)
	store.Put(esc)
	ctx := context.Background()

	updated, err := eng.Transition(ctx, esc.ID, models.EscrowStatusFunded, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, updated.FundedAt)
	assert.Nil(t, updated.CompletedAt)
}

func TestTerminalTransitionStampsCompletedAt(t *testing.T) {
	eng, store := newEngine(t)
	esc := newTestEscrow(models.EscrowStatusDisputed)
	store.Put(esc)

	updated, err := eng.Transition(context.Background(), esc.ID, models.EscrowStatusRefunded, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, updated.CompletedAt)
}

func TestCommitWithAttachments(t *testing.T) {
	eng, store := newEngine(t)
	esc := newTestEscrow(models.EscrowStatusAwaitingFunding)
	store.Put(esc)
	ctx := context.Background()

	txHash := "abc123"
	actor := esc.BuyerID
	updated, err := eng.Commit(ctx, Commit{
		EscrowID: esc.ID,
		To:       models.EscrowStatusFundingInProgress,
		Actor:    &actor,
		Meta:     map[string]any{"txid": txHash},
		TxHash:   &txHash,
		Ledger: &models.Transaction{
			EscrowID:   esc.ID,
			TxID:       txHash,
			AmountSats: esc.AmountSats,
			Direction:  models.TxDirectionInbound,
		},
		Effects: []EffectSpec{{Kind: models.EffectNotify, Payload: map[string]any{"type": "funding_started"}}},
	})
	require.NoError(t, err)

	require.NotNil(t, updated.LastTxHash)
	assert.Equal(t, txHash, *updated.LastTxHash)

	row := store.LedgerRow(txHash)
	require.NotNil(t, row, "ledger row must land with the transition")
	assert.Equal(t, models.TxDirectionInbound, row.Direction)

	effects := store.Effects()
	require.Len(t, effects, 1)
	assert.Equal(t, models.EffectNotify, effects[0].Kind)
	assert.Equal(t, models.EffectStatusPending, effects[0].Status)
}

func TestLedgerRowUniquePerTxID(t *testing.T) {
	eng, store := newEngine(t)
	esc := newTestEscrow(models.EscrowStatusAwaitingFunding)
	store.Put(esc)
	ctx := context.Background()

	ledger := func(conf int) *models.Transaction {
		return &models.Transaction{EscrowID: esc.ID, TxID: "dup-tx", AmountSats: 100, Confirmations: conf, Direction: models.TxDirectionInbound}
	}

	_, err := eng.Commit(ctx, Commit{EscrowID: esc.ID, To: models.EscrowStatusFundingInProgress, Ledger: ledger(0)})
	require.NoError(t, err)
	_, err = eng.Commit(ctx, Commit{EscrowID: esc.ID, To: models.EscrowStatusFunded, Ledger: ledger(3)})
	require.NoError(t, err)

	assert.Equal(t, 1, store.LedgerCount(), "same txid must not create a second row")
	assert.Equal(t, 3, store.LedgerRow("dup-tx").Confirmations, "confirmations update in place")
}

func TestConcurrentTransitionsOnlyOneWins(t *testing.T) {
	eng, store := newEngine(t)
	esc := newTestEscrow(models.EscrowStatusFunded)
	store.Put(esc)
	ctx := context.Background()

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = eng.Transition(ctx, esc.ID, models.EscrowStatusInProgress, nil, nil)
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, apperrors.ErrInvalidStateTransition)
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent transition may commit")

	transitions, _ := eng.Transitions(ctx, esc.ID)
	assert.Len(t, transitions, 1)
}

func TestValidateMatchesTable(t *testing.T) {
	assert.NoError(t, Validate(models.EscrowStatusCreated, models.EscrowStatusAwaitingFunding))
	assert.Error(t, Validate(models.EscrowStatusCreated, models.EscrowStatusReleased))
}
