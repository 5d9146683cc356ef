package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/escrowhub/backend/internal/apperrors"
	"github.com/escrowhub/backend/internal/bch"
	"github.com/escrowhub/backend/internal/config"
	"github.com/escrowhub/backend/internal/keyvault"
	"github.com/escrowhub/backend/internal/models"
	"github.com/escrowhub/backend/internal/monitor"
	"github.com/escrowhub/backend/internal/repositories"
	"github.com/escrowhub/backend/internal/statemachine"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const testVaultSecret = "0123456789abcdef0123456789abcdef"

// fakeEscrowStore fronts the state machine's in-memory store with the lookup
// indexes the repositories provide in production.
type fakeEscrowStore struct {
	mem      *statemachine.MemoryStore
	mu       sync.Mutex
	byPublic map[string]uuid.UUID
	byAddr   map[string]uuid.UUID
	all      []uuid.UUID
}

func newFakeEscrowStore(mem *statemachine.MemoryStore) *fakeEscrowStore {
	return &fakeEscrowStore{
		mem:      mem,
		byPublic: make(map[string]uuid.UUID),
		byAddr:   make(map[string]uuid.UUID),
	}
}

func (f *fakeEscrowStore) Create(ctx context.Context, e *models.Escrow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	f.mem.Put(e)
	f.byPublic[e.PublicID] = e.ID
	f.byAddr[e.WalletAddress] = e.ID
	f.all = append(f.all, e.ID)
	return nil
}

func (f *fakeEscrowStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	return f.mem.GetEscrow(ctx, id)
}

func (f *fakeEscrowStore) GetByPublicID(ctx context.Context, publicID string) (*models.Escrow, error) {
	f.mu.Lock()
	id, ok := f.byPublic[publicID]
	f.mu.Unlock()
	if !ok {
		return nil, apperrors.ErrEscrowNotFound
	}
	return f.mem.GetEscrow(ctx, id)
}

func (f *fakeEscrowStore) GetByWalletAddress(ctx context.Context, addr string) (*models.Escrow, error) {
	f.mu.Lock()
	id, ok := f.byAddr[addr]
	f.mu.Unlock()
	if !ok {
		return nil, apperrors.ErrEscrowNotFound
	}
	return f.mem.GetEscrow(ctx, id)
}

func (f *fakeEscrowStore) List(ctx context.Context, filter repositories.EscrowFilter) ([]models.Escrow, error) {
	f.mu.Lock()
	ids := append([]uuid.UUID(nil), f.all...)
	f.mu.Unlock()

	var out []models.Escrow
	for _, id := range ids {
		e, err := f.mem.GetEscrow(ctx, id)
		if err != nil {
			continue
		}
		if filter.UserID != nil && e.BuyerID != *filter.UserID && e.SellerID != *filter.UserID {
			continue
		}
		if filter.Status != nil && e.Status != *filter.Status {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

func (f *fakeEscrowStore) ListInStatus(ctx context.Context, status models.EscrowStatus, limit int) ([]models.Escrow, error) {
	return f.List(ctx, repositories.EscrowFilter{Status: &status})
}

func (f *fakeEscrowStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Escrow, error) {
	f.mu.Lock()
	ids := append([]uuid.UUID(nil), f.all...)
	f.mu.Unlock()

	var out []models.Escrow
	for _, id := range ids {
		e, err := f.mem.GetEscrow(ctx, id)
		if err != nil {
			continue
		}
		if !e.ExpiresAt.Before(now) {
			continue
		}
		if e.Status == models.EscrowStatusAwaitingFunding || e.Status == models.EscrowStatusInProgress {
			out = append(out, *e)
		}
	}
	return out, nil
}

type fakeWalletStore struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]*models.UserWallet
}

func newFakeWalletStore() *fakeWalletStore {
	return &fakeWalletStore{wallets: make(map[uuid.UUID]*models.UserWallet)}
}

func (f *fakeWalletStore) Create(ctx context.Context, w *models.UserWallet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.ID = uuid.New()
	w.CreatedAt = time.Now()
	cp := *w
	f.wallets[w.UserID] = &cp
	return nil
}

func (f *fakeWalletStore) GetByUserID(ctx context.Context, userID uuid.UUID, network string) (*models.UserWallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[userID]
	if !ok {
		return nil, apperrors.ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (f *fakeWalletStore) GetByAddress(ctx context.Context, address string) (*models.UserWallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.wallets {
		if w.Address == address {
			cp := *w
			return &cp, nil
		}
	}
	return nil, apperrors.ErrWalletNotFound
}

type fakeDisputeStore struct {
	mu       sync.Mutex
	disputes map[uuid.UUID]*models.Dispute
	evidence map[uuid.UUID][]models.DisputeEvidence
	mem      *statemachine.MemoryStore
}

func newFakeDisputeStore(mem *statemachine.MemoryStore) *fakeDisputeStore {
	return &fakeDisputeStore{
		disputes: make(map[uuid.UUID]*models.Dispute),
		evidence: make(map[uuid.UUID][]models.DisputeEvidence),
		mem:      mem,
	}
}

func (f *fakeDisputeStore) Create(ctx context.Context, d *models.Dispute) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	cp := *d
	f.disputes[d.ID] = &cp
	// Seed the engine store too so dispute updates inside commits land.
	f.mem.PutDispute(&cp)
	return nil
}

func (f *fakeDisputeStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	if d := f.mem.GetDispute(id); d != nil {
		return d, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.disputes[id]
	if !ok {
		return nil, apperrors.ErrDisputeNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDisputeStore) GetOpenByEscrow(ctx context.Context, escrowID uuid.UUID) (*models.Dispute, error) {
	f.mu.Lock()
	ids := make([]uuid.UUID, 0, len(f.disputes))
	for id := range f.disputes {
		ids = append(ids, id)
	}
	f.mu.Unlock()

	for _, id := range ids {
		d, err := f.GetByID(ctx, id)
		if err != nil {
			continue
		}
		if d.EscrowID == escrowID && d.IsOpen() {
			return d, nil
		}
	}
	return nil, apperrors.ErrDisputeNotFound
}

// faultyDisputeStore simulates a dispute store whose lookups fail outright.
type faultyDisputeStore struct {
	DisputeStore
	err error
}

func (f *faultyDisputeStore) GetOpenByEscrow(ctx context.Context, escrowID uuid.UUID) (*models.Dispute, error) {
	return nil, f.err
}

func (f *fakeDisputeStore) MarkUnderReview(ctx context.Context, id uuid.UUID) error {
	d, err := f.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if d.Status != models.DisputeStatusOpen {
		return apperrors.ErrDisputeNotFound.WithMessage("dispute is not open")
	}
	d.Status = models.DisputeStatusUnderReview
	f.mem.PutDispute(d)
	return nil
}

func (f *fakeDisputeStore) AddEvidence(ctx context.Context, ev *models.DisputeEvidence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev.ID = uuid.New()
	ev.CreatedAt = time.Now()
	f.evidence[ev.DisputeID] = append(f.evidence[ev.DisputeID], *ev)
	return nil
}

func (f *fakeDisputeStore) ListEvidence(ctx context.Context, disputeID uuid.UUID) ([]models.DisputeEvidence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.DisputeEvidence(nil), f.evidence[disputeID]...), nil
}

type fakeWebhookStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeWebhookStore() *fakeWebhookStore {
	return &fakeWebhookStore{seen: make(map[string]bool)}
}

func (f *fakeWebhookStore) Record(ctx context.Context, ev *models.WebhookEvent) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen[ev.EventID] {
		return false, nil
	}
	f.seen[ev.EventID] = true
	return true, nil
}

type fakeLedgerStore struct {
	mu   sync.Mutex
	rows map[string]*models.Transaction
}

func newFakeLedgerStore() *fakeLedgerStore {
	return &fakeLedgerStore{rows: make(map[string]*models.Transaction)}
}

func (f *fakeLedgerStore) Upsert(ctx context.Context, t *models.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.rows[t.TxID]; ok {
		if t.Confirmations > existing.Confirmations {
			existing.Confirmations = t.Confirmations
		}
		return nil
	}
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	cp := *t
	f.rows[t.TxID] = &cp
	return nil
}

func (f *fakeLedgerStore) ListByEscrow(ctx context.Context, escrowID uuid.UUID) ([]models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Transaction
	for _, t := range f.rows {
		if t.EscrowID == escrowID {
			out = append(out, *t)
		}
	}
	return out, nil
}

// stubSettlement implements bch.Service with scripted balances and broadcasts.
type stubSettlement struct {
	mu         sync.Mutex
	balances   map[string]int64
	history    map[string][]bch.TxRecord
	broadcasts []string
	nextTxID   int
	broadcastErr error
}

func newStubSettlement() *stubSettlement {
	return &stubSettlement{
		balances: make(map[string]int64),
		history:  make(map[string][]bch.TxRecord),
	}
}

func (s *stubSettlement) setBalance(address string, sats int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[address] = sats
}

func (s *stubSettlement) Balance(ctx context.Context, address string) (*bch.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &bch.Balance{ConfirmedSats: s.balances[address]}, nil
}

func (s *stubSettlement) History(ctx context.Context, address string) ([]bch.TxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history[address], nil
}

func (s *stubSettlement) UTXOs(ctx context.Context, address string) ([]bch.UTXO, error) {
	return nil, nil
}

func (s *stubSettlement) Broadcast(ctx context.Context, rawTxHex string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broadcastErr != nil {
		return "", s.broadcastErr
	}
	s.nextTxID++
	txid := fmt.Sprintf("tx-%04d", s.nextTxID)
	s.broadcasts = append(s.broadcasts, txid)
	return txid, nil
}

func (s *stubSettlement) broadcastCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.broadcasts)
}

type stubBuilder struct {
	err error
}

func (b *stubBuilder) Build(ctx context.Context, fromAddress, toAddress string, amountSats int64, privKeyHex string) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	return fmt.Sprintf("raw:%s->%s:%d", fromAddress, toAddress, amountSats), nil
}

type stubWaiter struct {
	result *monitor.Result
	err    error
}

func (w *stubWaiter) WaitForFunding(ctx context.Context, address, expectedTxID string, expectedAmountSats int64, maxWait, pollInterval time.Duration) (*monitor.Result, error) {
	if w.err != nil {
		return nil, w.err
	}
	if w.result != nil {
		return w.result, nil
	}
	return &monitor.Result{TxID: expectedTxID, Confirmations: 1}, nil
}

// failOnStore wraps a statemachine store and fails Apply for one target
// status, simulating a database failure after a successful broadcast.
type failOnStore struct {
	statemachine.Store
	failOn models.EscrowStatus
	err    error
}

func (s *failOnStore) Apply(ctx context.Context, c statemachine.Commit) (*models.Escrow, error) {
	if c.To == s.failOn {
		return nil, s.err
	}
	return s.Store.Apply(ctx, c)
}

// testEnv wires the full service stack over in-memory stores and stubs.
type testEnv struct {
	mem      *statemachine.MemoryStore
	escrows  *fakeEscrowStore
	wallets  *fakeWalletStore
	disputes *fakeDisputeStore
	webhooks *fakeWebhookStore
	ledger   *fakeLedgerStore
	chain    *stubSettlement
	builder  *stubBuilder
	waiter   *stubWaiter
	vault    *keyvault.Vault
	cfg      *config.Config

	walletSvc  *WalletService
	escrowSvc  *EscrowService
	disputeSvc *DisputeService
	webhookSvc *WebhookService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, nil)
}

func newTestEnvWithStore(t *testing.T, wrap func(statemachine.Store) statemachine.Store) *testEnv {
	t.Helper()

	vault, err := keyvault.New(testVaultSecret, "testnet")
	if err != nil {
		t.Fatalf("keyvault: %v", err)
	}

	env := &testEnv{
		mem:      statemachine.NewMemoryStore(),
		wallets:  newFakeWalletStore(),
		webhooks: newFakeWebhookStore(),
		ledger:   newFakeLedgerStore(),
		chain:    newStubSettlement(),
		builder:  &stubBuilder{},
		waiter:   &stubWaiter{},
		vault:    vault,
		cfg: &config.Config{
			Network:             "testnet",
			MinConfirmations:    1,
			FeeBufferSats:       1000,
			FundingMaxWait:      time.Second,
			FundingPollInterval: time.Millisecond,
			EscrowExpiry:        72 * time.Hour,
		},
	}
	env.escrows = newFakeEscrowStore(env.mem)
	env.disputes = newFakeDisputeStore(env.mem)

	var store statemachine.Store = env.mem
	if wrap != nil {
		store = wrap(env.mem)
	}
	log := zap.NewNop()
	engine := statemachine.NewEngine(store, log)

	env.walletSvc = NewWalletService(env.wallets, vault, env.chain, "testnet", log)
	env.escrowSvc = NewEscrowService(env.escrows, env.ledger, env.disputes, env.walletSvc, engine, env.chain, env.builder, env.waiter, vault, nil, env.cfg, log)
	env.disputeSvc = NewDisputeService(env.disputes, env.escrows, env.escrowSvc, NewAdvisorClient("", log), log)
	env.webhookSvc = NewWebhookService(env.escrows, env.webhooks, env.ledger, env.escrowSvc, env.cfg, log)
	return env
}

// fundedEscrow creates an escrow and drives it to FUNDED via the custodial
// funding path.
func (env *testEnv) fundedEscrow(t *testing.T, buyer, seller uuid.UUID, amountSats int64) *models.Escrow {
	t.Helper()
	esc, err := env.escrowSvc.CreateEscrow(context.Background(), buyer, seller, amountSats, "test deliverable")
	if err != nil {
		t.Fatalf("CreateEscrow: %v", err)
	}
	esc, err = env.escrowSvc.FundFromWallet(context.Background(), esc.ID, buyer)
	if err != nil {
		t.Fatalf("FundFromWallet: %v", err)
	}
	env.chain.setBalance(esc.WalletAddress, amountSats)
	return esc
}
