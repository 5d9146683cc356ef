// Package bch talks to the settlement network through an ordered list of
// interchangeable remote query providers with automatic failover.
package bch

import (
	"context"
	"errors"

	"github.com/escrowhub/backend/internal/apperrors"
	"go.uber.org/zap"
)

type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

type Balance struct {
	ConfirmedSats   int64 `json:"confirmed_sats"`
	UnconfirmedSats int64 `json:"unconfirmed_sats"`
}

func (b Balance) TotalSats() int64 { return b.ConfirmedSats + b.UnconfirmedSats }

type TxRecord struct {
	TxID          string `json:"txid"`
	Confirmations int    `json:"confirmations"`
	ValueSats     int64  `json:"value_sats"`
	BlockHeight   *int64 `json:"block_height,omitempty"`
}

type UTXO struct {
	TxHash    string `json:"tx_hash"`
	Index     uint32 `json:"index"`
	ValueSats int64  `json:"value_sats"`
	Height    int64  `json:"height"`
}

// Provider is one remote ledger-query service. Not every provider supports
// every network.
type Provider interface {
	Name() string
	Supports(network Network) bool
	Balance(ctx context.Context, address string) (*Balance, error)
	History(ctx context.Context, address string) ([]TxRecord, error)
	UTXOs(ctx context.Context, address string) ([]UTXO, error)
	Broadcast(ctx context.Context, rawTxHex string) (string, error)
}

// Service is the client surface the rest of the system consumes.
type Service interface {
	Balance(ctx context.Context, address string) (*Balance, error)
	History(ctx context.Context, address string) ([]TxRecord, error)
	UTXOs(ctx context.Context, address string) ([]UTXO, error)
	Broadcast(ctx context.Context, rawTxHex string) (string, error)
}

// Config is the explicit, injected provider configuration: ordered provider
// list plus network flag. There is no package-level default.
type Config struct {
	Network   Network
	Providers []Provider
}

type Client struct {
	network   Network
	providers []Provider
	log       *zap.Logger
}

// NewClient filters cfg.Providers down to those supporting cfg.Network,
// preserving order.
func NewClient(cfg Config, log *zap.Logger) *Client {
	var supported []Provider
	for _, p := range cfg.Providers {
		if p.Supports(cfg.Network) {
			supported = append(supported, p)
		}
	}
	return &Client{network: cfg.Network, providers: supported, log: log}
}

func (c *Client) Network() Network { return c.network }

func (c *Client) Balance(ctx context.Context, address string) (*Balance, error) {
	return withFallback(ctx, c, "balance", func(p Provider) (*Balance, error) {
		return p.Balance(ctx, address)
	})
}

func (c *Client) History(ctx context.Context, address string) ([]TxRecord, error) {
	return withFallback(ctx, c, "history", func(p Provider) ([]TxRecord, error) {
		return p.History(ctx, address)
	})
}

func (c *Client) UTXOs(ctx context.Context, address string) ([]UTXO, error) {
	return withFallback(ctx, c, "utxos", func(p Provider) ([]UTXO, error) {
		return p.UTXOs(ctx, address)
	})
}

func (c *Client) Broadcast(ctx context.Context, rawTxHex string) (string, error) {
	return withFallback(ctx, c, "broadcast", func(p Provider) (string, error) {
		return p.Broadcast(ctx, rawTxHex)
	})
}

// withFallback tries providers in configured order and returns the first
// success. Individual failures are logged and skipped; only when every
// provider has failed does the caller see an error, aggregated and named
// after the operation.
func withFallback[T any](ctx context.Context, c *Client, op string, fn func(Provider) (T, error)) (T, error) {
	var zero T
	if len(c.providers) == 0 {
		return zero, apperrors.ErrSettlementUnavailable.WithMessage("no settlement providers configured for network %s", c.network)
	}

	var errs []error
	for _, p := range c.providers {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		res, err := fn(p)
		if err == nil {
			return res, nil
		}
		c.log.Warn("settlement provider failed",
			zap.String("provider", p.Name()),
			zap.String("op", op),
			zap.Error(err),
		)
		errs = append(errs, err)
	}

	return zero, apperrors.ErrSettlementUnavailable.
		WithMessage("all settlement providers failed for %s", op).
		Wrap(errors.Join(errs...))
}
