package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/spbu-ds-practicum-2025/wallet-ledger/internal/domain"
)

// ErrUnavailable is returned while the circuit breaker rejects publishes.
var ErrUnavailable = errors.New("event broker unavailable")

// DefaultExchange is the topic exchange ledger events are published to.
const DefaultExchange = "wallet.ledger"

// Config holds RabbitMQ publisher settings.
type Config struct {
	URL      string
	Exchange string

	// BreakerFailures consecutive failures open the breaker for BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// channel is the subset of *amqp.Channel the publisher needs.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQPublisher publishes domain events to a topic exchange.
// Routing keys have the form "ledger.<event type>", e.g. "ledger.transaction.created".
type RabbitMQPublisher struct {
	conn     *amqp.Connection
	channel  channel
	exchange string
	breaker  *gobreaker.CircuitBreaker
	log      zerolog.Logger
}

// NewRabbitMQPublisher connects to RabbitMQ and declares the exchange.
func NewRabbitMQPublisher(cfg Config, log zerolog.Logger) (*RabbitMQPublisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	exchange := exchangeName(cfg)
	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	log.Info().Str("exchange", exchange).Msg("rabbitmq publisher initialized")

	p := newPublisher(ch, cfg, log)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, cfg Config, log zerolog.Logger) *RabbitMQPublisher {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "rabbitmq-publisher",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}

	return &RabbitMQPublisher{
		channel:  ch,
		exchange: exchangeName(cfg),
		breaker:  gobreaker.NewCircuitBreaker(settings),
		log:      log,
	}
}

func exchangeName(cfg Config) string {
	if cfg.Exchange == "" {
		return DefaultExchange
	}
	return cfg.Exchange
}

// RoutingKey returns the routing key events of type t are published with.
func RoutingKey(t domain.EventType) string {
	return "ledger." + string(t)
}

// Publish implements domain.EventPublisher.
func (p *RabbitMQPublisher) Publish(ctx context.Context, event domain.Event) error {
	msg, err := buildPublishing(event)
	if err != nil {
		return err
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.channel.PublishWithContext(ctx,
			p.exchange,             // exchange
			RoutingKey(event.Type), // routing key
			false,                  // mandatory
			false,                  // immediate
			msg,
		)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.log.Debug().Str("event_id", event.ID.String()).Str("event_type", string(event.Type)).Msg("event published")
	return nil
}

// Close closes the RabbitMQ channel and connection.
func (p *RabbitMQPublisher) Close() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.log.Warn().Err(err).Msg("error closing channel")
		}
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// message is the JSON body of a published event.
type message struct {
	EventID       string `json:"eventId"`
	EventType     string `json:"eventType"`
	OccurredAt    string `json:"occurredAt"`
	TransactionID string `json:"transactionId,omitempty"`
	RecurringID   string `json:"recurringId,omitempty"`
	SenderID      string `json:"senderId"`
	ReceiverID    string `json:"receiverId"`
	Amount        string `json:"amount"`
	State         string `json:"state,omitempty"`
	Category      string `json:"category,omitempty"`
}

func buildPublishing(event domain.Event) (amqp.Publishing, error) {
	m := message{
		EventID:    event.ID.String(),
		EventType:  string(event.Type),
		OccurredAt: event.OccurredAt.UTC().Format(time.RFC3339Nano),
		SenderID:   event.SenderID.String(),
		ReceiverID: event.ReceiverID.String(),
		Amount:     event.Amount,
		State:      string(event.State),
		Category:   event.Category,
	}
	if event.TransactionID != uuid.Nil {
		m.TransactionID = event.TransactionID.String()
	}
	if event.RecurringID != uuid.Nil {
		m.RecurringID = event.RecurringID.String()
	}

	body, err := json.Marshal(m)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal event: %w", err)
	}

	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    m.EventID,
		Timestamp:    event.OccurredAt,
		Type:         m.EventType,
		Body:         body,
	}, nil
}
