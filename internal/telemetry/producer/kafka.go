package producer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"atm-terminal/backend/internal/domain"
)

// Message is the JSON value written for each audit event.
type Message struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Source    string    `json:"source"`
}

// messageWriter is the subset of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer implements Producer using segmentio/kafka-go.
type KafkaProducer struct {
	writer messageWriter
	topic  string
	source string
}

// NewKafkaProducer creates a producer that writes audit events to topic.
// It returns nil when brokers or topic is empty; a nil *KafkaProducer is a valid no-op.
func NewKafkaProducer(brokers []string, topic, source string) *KafkaProducer {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaProducer{writer: writer, topic: topic, source: source}
}

// Emit serializes ev as JSON keyed by account id, so one account's events stay ordered in a partition.
func (p *KafkaProducer) Emit(ctx context.Context, ev *domain.Event) error {
	if p == nil || p.writer == nil || ev == nil {
		return nil
	}
	payload, err := json.Marshal(Message{
		ID:        ev.ID,
		AccountID: ev.AccountID,
		Timestamp: ev.Timestamp.UTC(),
		Message:   ev.Message,
		Source:    p.source,
	})
	if err != nil {
		return err
	}
	var key []byte
	if ev.AccountID != "" {
		key = []byte(ev.AccountID)
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.writer.WriteMessages(writeCtx, kafka.Message{Key: key, Value: payload})
}

// Close closes the Kafka writer. Safe to call on a nil producer.
func (p *KafkaProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
