// Package events publishes ledger events to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

const DefaultTopic = "transaction_completed"

// TransactionCompleted is emitted once per committed ledger record.
type TransactionCompleted struct {
	TransactionID string                 `json:"transaction_id"`
	FromAccount   string                 `json:"from_account"`
	ToAccount     string                 `json:"to_account"`
	Amount        decimal.Decimal        `json:"amount"`
	Kind          domain.TransactionKind `json:"kind"`
	OccurredAt    time.Time              `json:"occurred_at"`
}

// NewTransactionCompleted builds the event for a committed record.
func NewTransactionCompleted(tx *domain.Transaction) TransactionCompleted {
	return TransactionCompleted{
		TransactionID: tx.ID.String(),
		FromAccount:   tx.SenderID.String(),
		ToAccount:     tx.ReceiverID.String(),
		Amount:        tx.Amount,
		Kind:          tx.Kind,
		OccurredAt:    tx.CreatedAt,
	}
}

type Publisher interface {
	PublishTransactionCompleted(ctx context.Context, ev TransactionCompleted) error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishTransactionCompleted(context.Context, TransactionCompleted) error {
	return nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic keyed by sender account, so
// one account's events stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
}

var (
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = NopPublisher{}
)

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *KafkaPublisher) PublishTransactionCompleted(ctx context.Context, ev TransactionCompleted) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.FromAccount),
		Value: data,
		Time:  ev.OccurredAt,
	}); err != nil {
		return fmt.Errorf("publish %s: %w", ev.TransactionID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
