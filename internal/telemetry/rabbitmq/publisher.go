// Package rabbitmq mirrors audit events to a RabbitMQ topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"atm-terminal/backend/internal/domain"
	"atm-terminal/backend/internal/telemetry/producer"
)

// DefaultExchange is used when no exchange name is configured.
const DefaultExchange = "atm.audit"

const routingKey = "audit.event"

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends one persistent JSON message per audit event.
type Publisher struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
	source   string
}

func checkURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("rabbitmq: URL scheme must be amqp:// or amqps://")
	}
	return clean, nil
}

// Dial connects to amqpURL and declares exchange as a durable topic exchange.
// It returns nil and no error when amqpURL is empty.
func Dial(amqpURL, exchange, source string) (*Publisher, error) {
	if strings.TrimSpace(amqpURL) == "" {
		return nil, nil
	}
	clean, err := checkURL(amqpURL)
	if err != nil {
		return nil, err
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.DialConfig(clean, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq declare exchange %q: %w", exchange, err)
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange, source: source}, nil
}

// Emit publishes ev. A nil Publisher is a no-op.
func (p *Publisher) Emit(ctx context.Context, ev *domain.Event) error {
	if p == nil || p.ch == nil || ev == nil {
		return nil
	}
	body, err := json.Marshal(producer.Message{
		ID:        ev.ID,
		AccountID: ev.AccountID,
		Timestamp: ev.Timestamp.UTC(),
		Message:   ev.Message,
		Source:    p.source,
	})
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Timestamp:    ev.Timestamp.UTC(),
		Body:         body,
	})
}

// Close closes the channel and connection. Safe on a nil Publisher.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
