package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/events"
	"github.com/punchamoorthee/walletops/internal/fraud"
	"github.com/punchamoorthee/walletops/internal/paymentref"
	"github.com/punchamoorthee/walletops/internal/store"
	"github.com/shopspring/decimal"
)

var (
	transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_transfers_total",
		Help: "Transfer attempts by origin and outcome",
	}, []string{"kind", "outcome"})

	fraudScoringDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_fraud_scoring_duration_seconds",
		Help:    "Latency of fraud gate evaluation",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"kind"})
)

const publishTimeout = 2 * time.Second

// Intent is a proposed money movement before validation.
type Intent struct {
	SenderID    uuid.UUID
	ReceiverID  uuid.UUID
	Amount      decimal.Decimal
	Kind        domain.TransactionKind
	Description string
	// Timestamp overrides the record time. Offline replays pass the capture time.
	Timestamp time.Time
}

// Result is a committed transfer and the fraud verdict it passed with.
type Result struct {
	Transaction *domain.Transaction `json:"transaction"`
	Verdict     fraud.Verdict       `json:"fraud_check"`
}

// TransferService runs every money movement through validation, the fraud gate
// and the store's atomic transfer. Direct transfers, QR payments and offline
// replays all share Execute.
type TransferService struct {
	ledger    store.Ledger
	gate      *fraud.Gate
	publisher events.Publisher
	Decoder   paymentref.Decoder
}

func NewTransferService(ledger store.Ledger, gate *fraud.Gate, publisher events.Publisher) *TransferService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &TransferService{
		ledger:    ledger,
		gate:      gate,
		publisher: publisher,
		Decoder:   paymentref.Codec{},
	}
}

// Execute validates, scores and commits one transfer. Nothing is mutated unless
// it returns a nil error.
func (s *TransferService) Execute(ctx context.Context, in Intent) (*Result, error) {
	if in.Kind == "" {
		in.Kind = domain.KindTransfer
	}
	res, err := s.execute(ctx, in)
	transfersTotal.WithLabelValues(string(in.Kind), outcome(err)).Inc()
	return res, err
}

func (s *TransferService) execute(ctx context.Context, in Intent) (*Result, error) {
	// 1. Validate
	if err := domain.ValidateAmount(in.Amount); err != nil {
		return nil, err
	}
	if in.SenderID == in.ReceiverID {
		return nil, &domain.ValidationError{Field: "receiver", Err: domain.ErrSelfTransfer}
	}

	sender, err := s.ledger.GetAccount(ctx, in.SenderID)
	if err != nil {
		return nil, fmt.Errorf("load sender: %w", err)
	}
	receiver, err := s.ledger.GetAccount(ctx, in.ReceiverID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, domain.ErrReceiverNotFound
		}
		return nil, fmt.Errorf("load receiver: %w", err)
	}
	if sender.Balance.LessThan(in.Amount) {
		return nil, domain.ErrInsufficientFunds
	}

	// 2. Score. No store lock is held here.
	at := in.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	verdict, err := s.score(ctx, in.Kind, fraud.Features{
		Amount:          in.Amount,
		SenderBalance:   sender.Balance,
		ReceiverBalance: receiver.Balance,
		Kind:            in.Kind,
		At:              at,
	})
	if err != nil {
		return nil, err
	}

	// 3. Last point at which the caller may walk away.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 4. Commit. Once started it runs to completion regardless of the caller.
	commitCtx := context.WithoutCancel(ctx)
	tx, err := s.ledger.Transfer(commitCtx, store.TransferParams{
		SenderID:    in.SenderID,
		ReceiverID:  in.ReceiverID,
		Amount:      in.Amount,
		Kind:        in.Kind,
		Description: in.Description,
		CreatedAt:   in.Timestamp,
	})
	if err != nil {
		return nil, err
	}

	s.publish(commitCtx, tx)
	return &Result{Transaction: tx, Verdict: verdict}, nil
}

func (s *TransferService) score(ctx context.Context, kind domain.TransactionKind, f fraud.Features) (fraud.Verdict, error) {
	timer := prometheus.NewTimer(fraudScoringDuration.WithLabelValues(string(kind)))
	defer timer.ObserveDuration()

	verdict, rejected, err := s.gate.Evaluate(ctx, f)
	if err != nil {
		log.Printf("[engine] fraud scorer failed (%v); continuing with neutral verdict", err)
		return fraud.Neutral, nil
	}
	if rejected {
		log.Printf("[engine] %s blocked by fraud gate: %s (confidence %.2f)", kind, verdict.Reason, verdict.Confidence)
		return verdict, &domain.FraudRejectedError{Reason: verdict.Reason, Confidence: verdict.Confidence}
	}
	return verdict, nil
}

func (s *TransferService) publish(ctx context.Context, tx *domain.Transaction) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := s.publisher.PublishTransactionCompleted(ctx, events.NewTransactionCompleted(tx)); err != nil {
		log.Printf("[events] transaction %s committed but not published: %v", tx.ID, err)
	}
}

// Pay settles a scanned payment reference from the payer's wallet.
func (s *TransferService) Pay(ctx context.Context, payer uuid.UUID, reference, description string) (*Result, error) {
	ref, err := s.Decoder.Decode(reference)
	if err != nil {
		if domain.IsValidation(err) {
			return nil, err
		}
		return nil, &domain.ValidationError{Field: "payment_reference", Err: err}
	}
	if description == "" {
		description = ref.Description
	}
	return s.Execute(ctx, Intent{
		SenderID:    payer,
		ReceiverID:  ref.AccountID,
		Amount:      ref.Amount,
		Kind:        domain.KindQRPayment,
		Description: description,
	})
}

// IssueReference creates a payment code that pays the given account.
func (s *TransferService) IssueReference(ctx context.Context, account uuid.UUID, amount decimal.Decimal, description string) (string, error) {
	if _, err := s.ledger.GetAccount(ctx, account); err != nil {
		return "", err
	}
	return paymentref.Codec{}.Encode(paymentref.Reference{
		AccountID:   account,
		Amount:      amount,
		Description: description,
	})
}

func outcome(err error) string {
	var fraudErr *domain.FraudRejectedError
	switch {
	case err == nil:
		return "committed"
	case errors.As(err, &fraudErr):
		return "rejected"
	case domain.IsValidation(err):
		return "invalid"
	case errors.Is(err, domain.ErrAccountNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "abandoned"
	default:
		return "failed"
	}
}
