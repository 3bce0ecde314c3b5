package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names a domain event.
type EventType string

const (
	EventTransactionCreated   EventType = "transaction.created"
	EventTransactionConfirmed EventType = "transaction.confirmed"
	EventTransactionDeclined  EventType = "transaction.declined"
	EventTransactionAccepted  EventType = "transaction.accepted"
	EventTransactionRejected  EventType = "transaction.rejected"
	EventDeposited            EventType = "transaction.deposited"
	EventWithdrawn            EventType = "transaction.withdrawn"
	EventRecurringFired       EventType = "recurring.fired"
	EventRecurringFailed      EventType = "recurring.failed"
)

// Event is emitted after a state change has been committed.
type Event struct {
	ID            uuid.UUID
	Type          EventType
	OccurredAt    time.Time
	TransactionID uuid.UUID // uuid.Nil for recurring.failed
	RecurringID   uuid.UUID // uuid.Nil unless produced by the scheduler
	SenderID      uuid.UUID
	ReceiverID    uuid.UUID
	Amount        string
	State         State
	Category      string
}

// EventPublisher publishes domain events to external systems (e.g. RabbitMQ).
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// transactionEvent builds the event describing tx after a change of type t.
func transactionEvent(t EventType, tx *Transaction, now time.Time) Event {
	return Event{
		ID:            uuid.New(),
		Type:          t,
		OccurredAt:    now,
		TransactionID: tx.ID,
		SenderID:      tx.SenderID,
		ReceiverID:    tx.ReceiverID,
		Amount:        tx.Amount.StringFixed(2),
		State:         tx.State,
		Category:      tx.Category,
	}
}
