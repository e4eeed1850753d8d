package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory implementation of Store. Each account carries
// its own mutex; transfers lock both accounts in ID order, so transfers over
// disjoint pairs never contend.
type MemoryStore struct {
	mu       sync.RWMutex // guards accounts and owners
	accounts map[uuid.UUID]*memAccount
	owners   map[string]uuid.UUID

	txMu sync.RWMutex
	txs  []domain.Transaction

	intentMu sync.Mutex
	intents  []*domain.OfflineIntent
}

type memAccount struct {
	mu  sync.Mutex
	acc domain.Account
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[uuid.UUID]*memAccount),
		owners:   make(map[string]uuid.UUID),
	}
}

func (m *MemoryStore) Close() error                   { return nil }
func (m *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (m *MemoryStore) CreateAccount(ctx context.Context, owner string, opening decimal.Decimal) (*domain.Account, error) {
	if opening.IsNegative() {
		return nil, &domain.ValidationError{Field: "opening balance", Err: domain.ErrInvalidAmount}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.owners[owner]; exists {
		return nil, domain.ErrDuplicateOwner
	}
	acc := domain.Account{ID: uuid.New(), Owner: owner, Balance: opening, CreatedAt: time.Now().UTC()}
	m.accounts[acc.ID] = &memAccount{acc: acc}
	m.owners[owner] = acc.ID
	return &acc, nil
}

func (m *MemoryStore) lookup(id uuid.UUID) (*memAccount, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	return a, ok
}

func (m *MemoryStore) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	a, ok := m.lookup(id)
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	acc := a.acc
	return &acc, nil
}

func (m *MemoryStore) GetAccountByOwner(ctx context.Context, owner string) (*domain.Account, error) {
	m.mu.RLock()
	id, ok := m.owners[owner]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return m.GetAccount(ctx, id)
}

func (m *MemoryStore) GetBalance(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	acc, err := m.GetAccount(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return acc.Balance, nil
}

func (m *MemoryStore) Transfer(ctx context.Context, p TransferParams) (*domain.Transaction, error) {
	if err := p.normalize(); err != nil {
		return nil, err
	}
	sender, ok := m.lookup(p.SenderID)
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	receiver, ok := m.lookup(p.ReceiverID)
	if !ok {
		return nil, domain.ErrReceiverNotFound
	}

	// Lock in order to avoid deadlocks
	first, second := sender, receiver
	if lo, _ := lockOrder(p.SenderID, p.ReceiverID); lo != p.SenderID {
		first, second = receiver, sender
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	if sender.acc.Balance.LessThan(p.Amount) {
		return nil, domain.ErrInsufficientFunds
	}
	sender.acc.Balance = sender.acc.Balance.Sub(p.Amount)
	receiver.acc.Balance = receiver.acc.Balance.Add(p.Amount)

	rec := p.record()
	m.txMu.Lock()
	m.txs = append(m.txs, *rec)
	m.txMu.Unlock()
	return rec, nil
}

func (m *MemoryStore) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	m.txMu.RLock()
	defer m.txMu.RUnlock()
	for _, t := range m.txs {
		if t.ID == id {
			return &t, nil
		}
	}
	return nil, domain.ErrTransferNotFound
}

func (m *MemoryStore) ListTransactions(ctx context.Context, q domain.ListQuery) (*domain.TransactionPage, error) {
	m.txMu.RLock()
	var matched []domain.Transaction
	// Walk backwards so equal timestamps keep newest-first insertion order.
	for i := len(m.txs) - 1; i >= 0; i-- {
		t := m.txs[i]
		if t.SenderID != q.AccountID && t.ReceiverID != q.AccountID {
			continue
		}
		if q.Status != "" && t.Status != q.Status {
			continue
		}
		if q.Kind != "" && t.Kind != q.Kind {
			continue
		}
		matched = append(matched, t)
	}
	m.txMu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := q.Offset()
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := start + q.PerPage
	if end > total {
		end = total
	}
	return domain.NewTransactionPage(q, matched[start:end], total), nil
}

func (m *MemoryStore) EnqueueIntent(ctx context.Context, intent *domain.OfflineIntent) error {
	if _, ok := m.lookup(intent.SenderID); !ok {
		return domain.ErrAccountNotFound
	}
	if _, ok := m.lookup(intent.ReceiverID); !ok {
		return domain.ErrReceiverNotFound
	}
	newIntent(intent)
	stored := *intent

	m.intentMu.Lock()
	defer m.intentMu.Unlock()
	m.intents = append(m.intents, &stored)
	return nil
}

func (m *MemoryStore) findIntent(id uuid.UUID) (int, *domain.OfflineIntent) {
	for i, in := range m.intents {
		if in.ID == id {
			return i, in
		}
	}
	return -1, nil
}

func (m *MemoryStore) GetIntent(ctx context.Context, id uuid.UUID) (*domain.OfflineIntent, error) {
	m.intentMu.Lock()
	defer m.intentMu.Unlock()
	_, in := m.findIntent(id)
	if in == nil {
		return nil, domain.ErrIntentNotFound
	}
	out := *in
	return &out, nil
}

func (m *MemoryStore) ListIntents(ctx context.Context, sender uuid.UUID, status domain.IntentStatus) ([]domain.OfflineIntent, error) {
	m.intentMu.Lock()
	defer m.intentMu.Unlock()
	var out []domain.OfflineIntent
	for _, in := range m.intents {
		if in.SenderID == sender && (status == "" || in.Status == status) {
			out = append(out, *in)
		}
	}
	return out, nil
}

func (m *MemoryStore) ClaimIntent(ctx context.Context, id uuid.UUID) (bool, error) {
	m.intentMu.Lock()
	defer m.intentMu.Unlock()
	_, in := m.findIntent(id)
	if in == nil || in.Status != domain.IntentQueued {
		return false, nil
	}
	in.Status = domain.IntentProcessing
	return true, nil
}

func (m *MemoryStore) DeleteIntent(ctx context.Context, id uuid.UUID) error {
	m.intentMu.Lock()
	defer m.intentMu.Unlock()
	i, in := m.findIntent(id)
	if in == nil {
		return domain.ErrIntentNotFound
	}
	m.intents = append(m.intents[:i], m.intents[i+1:]...)
	return nil
}

func (m *MemoryStore) FailIntent(ctx context.Context, id uuid.UUID, reason string) error {
	m.intentMu.Lock()
	defer m.intentMu.Unlock()
	_, in := m.findIntent(id)
	if in == nil {
		return domain.ErrIntentNotFound
	}
	in.Status = domain.IntentFailed
	in.FailureReason = reason
	return nil
}

// Compile-time check: ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
