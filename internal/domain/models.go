package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionStatus is the lifecycle state of a ledger record.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
)

func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// TransactionKind records where a money movement originated.
type TransactionKind string

const (
	KindTransfer    TransactionKind = "transfer"
	KindQRPayment   TransactionKind = "qr_payment"
	KindOfflineSync TransactionKind = "offline_sync"
)

func (k TransactionKind) Valid() bool {
	switch k {
	case KindTransfer, KindQRPayment, KindOfflineSync:
		return true
	}
	return false
}

// IntentStatus is the queue state of an offline payment intent.
type IntentStatus string

const (
	IntentQueued     IntentStatus = "queued"
	IntentProcessing IntentStatus = "processing"
	IntentFailed     IntentStatus = "failed"
)

// AmountScale is the number of fractional digits a ledger amount may carry.
const AmountScale = 2

// Account represents a party's wallet balance in the ledger.
type Account struct {
	ID        uuid.UUID       `json:"id"`
	Owner     string          `json:"owner"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

// Transaction is the immutable ledger record of one debit/credit pair.
type Transaction struct {
	ID          uuid.UUID         `json:"id"`
	SenderID    uuid.UUID         `json:"sender_id"`
	ReceiverID  uuid.UUID         `json:"receiver_id"`
	Amount      decimal.Decimal   `json:"amount"`
	Status      TransactionStatus `json:"status"`
	Kind        TransactionKind   `json:"kind"`
	Description string            `json:"description"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Direction reports whether the record is "sent" or "received" from the
// point of view of the given account.
func (t Transaction) Direction(account uuid.UUID) string {
	if t.SenderID == account {
		return "sent"
	}
	return "received"
}

// OfflineIntent is a payment captured without connectivity, waiting to be
// replayed through the transfer engine.
type OfflineIntent struct {
	ID            uuid.UUID       `json:"id"`
	SenderID      uuid.UUID       `json:"sender_id"`
	ReceiverID    uuid.UUID       `json:"receiver_id"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
	Reference     string          `json:"reference,omitempty"`
	Status        IntentStatus    `json:"status"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ListQuery selects a page of an account's transactions, newest first.
type ListQuery struct {
	AccountID uuid.UUID
	Status    TransactionStatus
	Kind      TransactionKind
	Page      int
	PerPage   int
}

// Offset returns the number of rows skipped before the page starts.
func (q ListQuery) Offset() int {
	return (q.Page - 1) * q.PerPage
}

// TransactionPage is one page of a listing plus the totals needed to page through it.
type TransactionPage struct {
	Transactions []Transaction `json:"transactions"`
	Total        int           `json:"total"`
	Page         int           `json:"page"`
	PerPage      int           `json:"per_page"`
	TotalPages   int           `json:"total_pages"`
}

// NewTransactionPage fills in the paging totals for a result set.
func NewTransactionPage(q ListQuery, txs []Transaction, total int) *TransactionPage {
	if txs == nil {
		txs = []Transaction{}
	}
	pages := 0
	if q.PerPage > 0 {
		pages = (total + q.PerPage - 1) / q.PerPage
	}
	return &TransactionPage{
		Transactions: txs,
		Total:        total,
		Page:         q.Page,
		PerPage:      q.PerPage,
		TotalPages:   pages,
	}
}
