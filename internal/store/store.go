package store

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/shopspring/decimal"
)

// Ledger is durable keyed storage for accounts, balances and transaction records.
type Ledger interface {
	CreateAccount(ctx context.Context, owner string, opening decimal.Decimal) (*domain.Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetAccountByOwner(ctx context.Context, owner string) (*domain.Account, error)
	GetBalance(ctx context.Context, id uuid.UUID) (decimal.Decimal, error)

	// Transfer debits the sender, credits the receiver and appends a completed
	// record as one unit of work. It re-checks the sender balance under lock and
	// returns domain.ErrInsufficientFunds without mutating anything if it fails.
	Transfer(ctx context.Context, p TransferParams) (*domain.Transaction, error)

	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, q domain.ListQuery) (*domain.TransactionPage, error)
	Ping(ctx context.Context) error
}

// IntentStore persists offline payment intents until they are replayed.
type IntentStore interface {
	EnqueueIntent(ctx context.Context, intent *domain.OfflineIntent) error
	GetIntent(ctx context.Context, id uuid.UUID) (*domain.OfflineIntent, error)
	// ListIntents returns the sender's intents with the given status in submission order.
	// An empty status matches every intent.
	ListIntents(ctx context.Context, sender uuid.UUID, status domain.IntentStatus) ([]domain.OfflineIntent, error)
	// ClaimIntent moves a queued intent to processing. It reports false if
	// another drain already claimed it.
	ClaimIntent(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteIntent(ctx context.Context, id uuid.UUID) error
	FailIntent(ctx context.Context, id uuid.UUID, reason string) error
}

// Store is a complete backend: ledger plus offline queue.
type Store interface {
	Ledger
	IntentStore
	Close() error
}

// TransferParams describes one committed money movement.
type TransferParams struct {
	ID          uuid.UUID
	SenderID    uuid.UUID
	ReceiverID  uuid.UUID
	Amount      decimal.Decimal
	Kind        domain.TransactionKind
	Description string
	CreatedAt   time.Time
}

// normalize fills defaults and validates the parameters every backend relies on.
func (p *TransferParams) normalize() error {
	if err := domain.ValidateAmount(p.Amount); err != nil {
		return err
	}
	if p.SenderID == p.ReceiverID {
		return &domain.ValidationError{Field: "receiver", Err: domain.ErrSelfTransfer}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Kind == "" {
		p.Kind = domain.KindTransfer
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return nil
}

func (p TransferParams) record() *domain.Transaction {
	return &domain.Transaction{
		ID:          p.ID,
		SenderID:    p.SenderID,
		ReceiverID:  p.ReceiverID,
		Amount:      p.Amount,
		Status:      domain.StatusCompleted,
		Kind:        p.Kind,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
	}
}

// lockOrder returns the two account IDs in the order their locks must be taken.
func lockOrder(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(a[:], b[:]) > 0 {
		return b, a
	}
	return a, b
}

func newIntent(intent *domain.OfflineIntent) {
	if intent.ID == uuid.Nil {
		intent.ID = uuid.New()
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now()
	}
	intent.CreatedAt = intent.CreatedAt.UTC()
	intent.Status = domain.IntentQueued
	intent.FailureReason = ""
}
