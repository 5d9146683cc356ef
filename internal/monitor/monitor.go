// Package monitor watches an escrow wallet until an expected deposit shows
// up. A timeout here is advisory, not proof the transfer failed: the caller
// leaves the escrow parked for the background reconciliation pass.
package monitor

import (
	"context"
	"time"

	"github.com/escrowhub/backend/internal/apperrors"
	"github.com/escrowhub/backend/internal/bch"
	"go.uber.org/zap"
)

const (
	DefaultMaxWait      = 2 * time.Minute
	DefaultPollInterval = 5 * time.Second
)

// Client is the slice of the settlement client the monitor needs.
type Client interface {
	History(ctx context.Context, address string) ([]bch.TxRecord, error)
	Balance(ctx context.Context, address string) (*bch.Balance, error)
}

// Result describes how funding was confirmed.
type Result struct {
	TxID          string
	Confirmations int
	// ByBalance is set when the expected transaction never showed up in
	// history but the address balance already covers the expected amount
	// (providers can lag on indexing new transactions).
	ByBalance bool
}

type Monitor struct {
	client Client
	log    *zap.Logger
}

func New(client Client, log *zap.Logger) *Monitor {
	return &Monitor{client: client, log: log}
}

// WaitForFunding polls until expectedTxID appears in the address history, or
// the address balance reaches expectedAmountSats, or maxWait elapses.
func (m *Monitor) WaitForFunding(ctx context.Context, address, expectedTxID string, expectedAmountSats int64, maxWait, pollInterval time.Duration) (*Result, error) {
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	deadline := time.Now().Add(maxWait)
	for {
		if res := m.check(ctx, address, expectedTxID, expectedAmountSats); res != nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if time.Now().After(deadline) {
			m.log.Info("funding monitor timed out",
				zap.String("address", address),
				zap.String("expected_txid", expectedTxID),
				zap.Duration("max_wait", maxWait),
			)
			return nil, apperrors.ErrTransactionTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (m *Monitor) check(ctx context.Context, address, expectedTxID string, expectedAmountSats int64) *Result {
	history, err := m.client.History(ctx, address)
	if err != nil {
		m.log.Warn("funding monitor: history check failed", zap.String("address", address), zap.Error(err))
	} else if expectedTxID != "" {
		for _, tx := range history {
			if tx.TxID == expectedTxID {
				return &Result{TxID: tx.TxID, Confirmations: tx.Confirmations}
			}
		}
	}

	if expectedAmountSats > 0 {
		bal, err := m.client.Balance(ctx, address)
		if err != nil {
			m.log.Warn("funding monitor: balance check failed", zap.String("address", address), zap.Error(err))
		} else if bal.TotalSats() >= expectedAmountSats {
			// No txid is attached here: the newest history entry is not
			// necessarily the deposit, and a guessed txid would be recorded
			// in the ledger as fact.
			return &Result{ByBalance: true}
		}
	}
	return nil
}
