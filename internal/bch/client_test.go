package bch

import (
	"context"
	"errors"
	"testing"

	"github.com/escrowhub/backend/internal/apperrors"
	"go.uber.org/zap"
)

type stubProvider struct {
	name     string
	networks []Network

	balance *Balance
	history []TxRecord
	utxos   []UTXO
	txid    string
	err     error

	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Supports(n Network) bool {
	for _, sn := range s.networks {
		if sn == n {
			return true
		}
	}
	return false
}

func (s *stubProvider) Balance(ctx context.Context, address string) (*Balance, error) {
	s.calls++
	return s.balance, s.err
}

func (s *stubProvider) History(ctx context.Context, address string) ([]TxRecord, error) {
	s.calls++
	return s.history, s.err
}

func (s *stubProvider) UTXOs(ctx context.Context, address string) ([]UTXO, error) {
	s.calls++
	return s.utxos, s.err
}

func (s *stubProvider) Broadcast(ctx context.Context, rawTxHex string) (string, error) {
	s.calls++
	return s.txid, s.err
}

func mainnetStub(name string) *stubProvider {
	return &stubProvider{name: name, networks: []Network{NetworkMainnet}}
}

func TestFallbackSkipsFailedProvider(t *testing.T) {
	broken := mainnetStub("broken")
	broken.err = errors.New("502 bad gateway")
	healthy := mainnetStub("healthy")
	healthy.balance = &Balance{ConfirmedSats: 5000}

	c := NewClient(Config{Network: NetworkMainnet, Providers: []Provider{broken, healthy}}, zap.NewNop())

	bal, err := c.Balance(context.Background(), "1BoatSLRHtKNngkdXEeobR76b53LETtpyT")
	if err != nil {
		t.Fatalf("expected fallback success, got %v", err)
	}
	if bal.ConfirmedSats != 5000 {
		t.Errorf("balance = %d, want 5000", bal.ConfirmedSats)
	}
	if broken.calls != 1 || healthy.calls != 1 {
		t.Errorf("call counts: broken=%d healthy=%d, want 1/1", broken.calls, healthy.calls)
	}
}

func TestFallbackPreservesOrder(t *testing.T) {
	first := mainnetStub("first")
	first.txid = "aa"
	second := mainnetStub("second")
	second.txid = "bb"

	c := NewClient(Config{Network: NetworkMainnet, Providers: []Provider{first, second}}, zap.NewNop())

	txid, err := c.Broadcast(context.Background(), "deadbeef")
	if err != nil {
		t.Fatal(err)
	}
	if txid != "aa" {
		t.Errorf("txid = %s, want the first provider's result", txid)
	}
	if second.calls != 0 {
		t.Error("second provider must not be tried when the first succeeds")
	}
}

func TestAllProvidersFailingAggregates(t *testing.T) {
	p1 := mainnetStub("one")
	p1.err = errors.New("timeout")
	p2 := mainnetStub("two")
	p2.err = errors.New("500 internal")

	c := NewClient(Config{Network: NetworkMainnet, Providers: []Provider{p1, p2}}, zap.NewNop())

	_, err := c.Balance(context.Background(), "addr")
	if err == nil {
		t.Fatal("expected aggregated failure")
	}
	if !errors.Is(err, apperrors.ErrSettlementUnavailable) {
		t.Errorf("expected settlement-unavailable kind, got %v", err)
	}
	if !errors.Is(err, p1.err) || !errors.Is(err, p2.err) {
		t.Error("aggregated error must carry every provider failure")
	}
}

func TestNetworkFilter(t *testing.T) {
	mainnetOnly := mainnetStub("mainnet-only")
	mainnetOnly.err = errors.New("should never be called")
	both := &stubProvider{name: "both", networks: []Network{NetworkMainnet, NetworkTestnet}}
	both.balance = &Balance{ConfirmedSats: 1}

	c := NewClient(Config{Network: NetworkTestnet, Providers: []Provider{mainnetOnly, both}}, zap.NewNop())

	if _, err := c.Balance(context.Background(), "addr"); err != nil {
		t.Fatal(err)
	}
	if mainnetOnly.calls != 0 {
		t.Error("provider not supporting the network must be filtered out")
	}
}

func TestNoProvidersForNetwork(t *testing.T) {
	c := NewClient(Config{Network: NetworkTestnet, Providers: []Provider{mainnetStub("m")}}, zap.NewNop())

	_, err := c.Balance(context.Background(), "addr")
	if !errors.Is(err, apperrors.ErrSettlementUnavailable) {
		t.Fatalf("expected settlement-unavailable, got %v", err)
	}
}
