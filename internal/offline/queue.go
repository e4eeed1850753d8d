// Package offline holds payments captured without connectivity and replays
// them through the transfer engine once the payer is back online.
package offline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/paymentref"
	"github.com/punchamoorthee/walletops/internal/service"
	"github.com/punchamoorthee/walletops/internal/store"
	"github.com/shopspring/decimal"
)

var offlineIntentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ledger_offline_intents_total",
	Help: "Offline intents by lifecycle outcome",
}, []string{"outcome"})

// maxAttempts bounds replays of an intent that lost a commit race.
const maxAttempts = 3

// FailurePolicy decides what happens to an intent the engine refused.
type FailurePolicy string

const (
	// PolicyRemove deletes failed intents after reporting them.
	PolicyRemove FailurePolicy = "remove"
	// PolicyRetain keeps failed intents, marked failed with the reason, for inspection.
	PolicyRetain FailurePolicy = "retain"
)

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(s); p {
	case "":
		return PolicyRemove, nil
	case PolicyRemove, PolicyRetain:
		return p, nil
	}
	return "", fmt.Errorf("unknown offline failure policy %q", s)
}

// Executor is the transfer engine as seen by the queue.
type Executor interface {
	Execute(ctx context.Context, in service.Intent) (*service.Result, error)
}

// EnqueueRequest is a payment captured offline. Either ReceiverID and Amount
// are set, or Reference carries a scanned payment code that supplies them.
type EnqueueRequest struct {
	SenderID    uuid.UUID
	ReceiverID  uuid.UUID
	Amount      decimal.Decimal
	Description string
	Reference   string
	Timestamp   time.Time
}

type SyncedIntent struct {
	IntentID    uuid.UUID           `json:"intent_id"`
	Transaction *domain.Transaction `json:"transaction"`
}

type FailedIntent struct {
	IntentID uuid.UUID `json:"intent_id"`
	Reason   string    `json:"reason"`
	Err      error     `json:"-"`
}

// DrainResult partitions the outcome of one drain.
type DrainResult struct {
	Synced []SyncedIntent `json:"synced"`
	Failed []FailedIntent `json:"failed"`
}

type Queue struct {
	intents store.IntentStore
	ledger  store.Ledger
	engine  Executor
	policy  FailurePolicy
	Decoder paymentref.Decoder

	muMap map[uuid.UUID]*sync.Mutex
	mapMu sync.Mutex
}

func NewQueue(intents store.IntentStore, ledger store.Ledger, engine Executor, policy FailurePolicy) *Queue {
	if policy == "" {
		policy = PolicyRemove
	}
	return &Queue{
		intents: intents,
		ledger:  ledger,
		engine:  engine,
		policy:  policy,
		Decoder: paymentref.Codec{},
		muMap:   make(map[uuid.UUID]*sync.Mutex),
	}
}

func (q *Queue) senderLock(sender uuid.UUID) *sync.Mutex {
	q.mapMu.Lock()
	defer q.mapMu.Unlock()

	mu, ok := q.muMap[sender]
	if !ok {
		mu = &sync.Mutex{}
		q.muMap[sender] = mu
	}
	return mu
}

// Enqueue validates and stores an offline payment. Balances are not checked:
// the payer's funds are only consulted when the intent is drained.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (*domain.OfflineIntent, error) {
	if req.ReceiverID == uuid.Nil && req.Reference != "" {
		ref, err := q.Decoder.Decode(req.Reference)
		if err != nil {
			if domain.IsValidation(err) {
				return nil, err
			}
			return nil, &domain.ValidationError{Field: "payment_reference", Err: err}
		}
		req.ReceiverID = ref.AccountID
		req.Amount = ref.Amount
		if req.Description == "" {
			req.Description = ref.Description
		}
	}

	if err := domain.ValidateAmount(req.Amount); err != nil {
		return nil, err
	}
	if req.SenderID == req.ReceiverID {
		return nil, &domain.ValidationError{Field: "receiver", Err: domain.ErrSelfTransfer}
	}
	if _, err := q.ledger.GetAccount(ctx, req.ReceiverID); err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, domain.ErrReceiverNotFound
		}
		return nil, err
	}

	intent := &domain.OfflineIntent{
		SenderID:    req.SenderID,
		ReceiverID:  req.ReceiverID,
		Amount:      req.Amount,
		Description: req.Description,
		Reference:   req.Reference,
		CreatedAt:   req.Timestamp,
	}
	if err := q.intents.EnqueueIntent(ctx, intent); err != nil {
		return nil, fmt.Errorf("enqueue offline intent: %w", err)
	}
	offlineIntentsTotal.WithLabelValues("enqueued").Inc()
	return intent, nil
}

// List returns the sender's pending and failed intents in submission order.
func (q *Queue) List(ctx context.Context, sender uuid.UUID) ([]domain.OfflineIntent, error) {
	intents, err := q.intents.ListIntents(ctx, sender, "")
	if err != nil {
		return nil, err
	}
	if intents == nil {
		intents = []domain.OfflineIntent{}
	}
	return intents, nil
}

// Drain replays every queued intent of the sender, oldest first. Each intent
// succeeds or fails on its own. If ctx ends between intents the remaining ones
// stay queued and the partial result is returned with ctx's error.
func (q *Queue) Drain(ctx context.Context, sender uuid.UUID) (*DrainResult, error) {
	mu := q.senderLock(sender)
	mu.Lock()
	defer mu.Unlock()

	queued, err := q.intents.ListIntents(ctx, sender, domain.IntentQueued)
	if err != nil {
		return nil, fmt.Errorf("list offline intents: %w", err)
	}

	result := &DrainResult{Synced: []SyncedIntent{}, Failed: []FailedIntent{}}
	for _, intent := range queued {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		claimed, err := q.intents.ClaimIntent(ctx, intent.ID)
		if err != nil {
			return result, fmt.Errorf("claim intent %s: %w", intent.ID, err)
		}
		if !claimed {
			continue
		}
		// A claimed intent is always resolved, even if the caller leaves.
		q.replay(context.WithoutCancel(ctx), intent, result)
	}

	if len(queued) > 0 {
		log.Printf("[offline] drained sender %s: %d synced, %d failed", sender, len(result.Synced), len(result.Failed))
	}
	return result, nil
}

func (q *Queue) replay(ctx context.Context, intent domain.OfflineIntent, result *DrainResult) {
	var (
		res *service.Result
		err error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err = q.engine.Execute(ctx, service.Intent{
			SenderID:    intent.SenderID,
			ReceiverID:  intent.ReceiverID,
			Amount:      intent.Amount,
			Kind:        domain.KindOfflineSync,
			Description: intent.Description,
			Timestamp:   intent.CreatedAt,
		})
		if err == nil || !errors.Is(err, domain.ErrConflict) {
			break
		}
	}

	if err == nil {
		if derr := q.intents.DeleteIntent(ctx, intent.ID); derr != nil {
			log.Printf("[offline] intent %s synced as %s but not removed: %v", intent.ID, res.Transaction.ID, derr)
		}
		offlineIntentsTotal.WithLabelValues("synced").Inc()
		result.Synced = append(result.Synced, SyncedIntent{IntentID: intent.ID, Transaction: res.Transaction})
		return
	}

	reason := err.Error()
	var rerr error
	if q.policy == PolicyRetain {
		rerr = q.intents.FailIntent(ctx, intent.ID, reason)
	} else {
		rerr = q.intents.DeleteIntent(ctx, intent.ID)
	}
	if rerr != nil {
		log.Printf("[offline] intent %s failed (%s) and could not be resolved: %v", intent.ID, reason, rerr)
	}
	offlineIntentsTotal.WithLabelValues("failed").Inc()
	result.Failed = append(result.Failed, FailedIntent{IntentID: intent.ID, Reason: reason, Err: err})
}
