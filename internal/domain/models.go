package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account represents a wallet account in the system.
// Balances are mutated only through the account repository's conditional
// debit/credit primitives, never by writing a computed value back.
type Account struct {
	ID        uuid.UUID       // Unique identifier of the account
	Balance   decimal.Decimal // Current account balance
	IsAdmin   bool            // Admin accounts cannot send money
	IsBlocked bool            // Blocked accounts cannot send money
	CreatedAt time.Time       // Timestamp when the account was created
	UpdatedAt time.Time       // Timestamp of the last account update
}

// CanSend reports whether the account is allowed to originate a transfer.
func (a *Account) CanSend() error {
	if a.IsAdmin {
		return ErrAdminSender
	}
	if a.IsBlocked {
		return ErrBlockedSender
	}
	return nil
}

// Kind tags what a transaction row represents.
type Kind string

const (
	KindTransfer   Kind = "transfer"
	KindDeposit    Kind = "deposit"
	KindWithdrawal Kind = "withdrawal"
	KindRecurring  Kind = "recurring"
)

// Valid reports whether k is a known transaction kind.
func (k Kind) Valid() bool {
	switch k {
	case KindTransfer, KindDeposit, KindWithdrawal, KindRecurring:
		return true
	}
	return false
}

const (
	// CategoryATM marks deposits and withdrawals (self-transfers).
	CategoryATM = "atm"
	// CategoryRecurring marks rows produced by a recurring fire.
	CategoryRecurring = "recurring"
	// CategoryOther is used when a transfer is created without a category.
	CategoryOther = "other"
)

// Transaction is a single row of the transaction log.
type Transaction struct {
	ID         uuid.UUID       // Unique identifier of the transaction
	SenderID   uuid.UUID       // Account debited when the transaction was created
	ReceiverID uuid.UUID       // Account credited on settlement
	Amount     decimal.Decimal // Always positive
	Kind       Kind            // transfer, deposit, withdrawal or recurring
	Category   string          // User-facing label, "atm" for deposits and withdrawals
	State      State           // Combined sender/receiver settlement state
	CreatedAt  time.Time       // Timestamp when the transaction was created
	UpdatedAt  time.Time       // Timestamp of the last state change
}

// IsATM reports whether the row is a deposit or withdrawal.
func (t *Transaction) IsATM() bool {
	return t.Category == CategoryATM
}

// InFlight reports whether the amount has left the sender but has not
// reached the receiver yet.
func (t *Transaction) InFlight() bool {
	return t.State == StatePending || t.State == StateAwaitingAcceptance
}

// NewTransfer creates an interactive transfer in the pending state.
func NewTransfer(senderID, receiverID uuid.UUID, amount decimal.Decimal, category string, now time.Time) *Transaction {
	if category == "" {
		category = CategoryOther
	}
	return &Transaction{
		ID:         uuid.New(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Amount:     amount,
		Kind:       KindTransfer,
		Category:   category,
		State:      StatePending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// NewATMTransaction creates an auto-settled self-transfer for a deposit or withdrawal.
func NewATMTransaction(accountID uuid.UUID, amount decimal.Decimal, kind Kind, now time.Time) *Transaction {
	return &Transaction{
		ID:         uuid.New(),
		SenderID:   accountID,
		ReceiverID: accountID,
		Amount:     amount,
		Kind:       kind,
		Category:   CategoryATM,
		State:      StateAccepted,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// NewRecurringFireTransaction creates the settled row written by a recurring fire.
func NewRecurringFireTransaction(rt *RecurringTransaction, now time.Time) *Transaction {
	return &Transaction{
		ID:         uuid.New(),
		SenderID:   rt.SenderID,
		ReceiverID: rt.ReceiverID,
		Amount:     rt.Amount,
		Kind:       KindRecurring,
		Category:   CategoryRecurring,
		State:      StateAccepted,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// BalanceSnapshot is returned by deposits and withdrawals.
type BalanceSnapshot struct {
	AccountID     uuid.UUID
	OldBalance    decimal.Decimal
	NewBalance    decimal.Decimal
	TransactionID uuid.UUID
}

// Cadence is the recurrence interval of a recurring transaction.
type Cadence string

const (
	CadenceMinutely Cadence = "minutely"
	CadenceDaily    Cadence = "daily"
	CadenceWeekly   Cadence = "weekly"
	CadenceMonthly  Cadence = "monthly"
)

// Interval returns the time between two fires.
// A month is four weeks, matching how existing schedules were computed.
func (c Cadence) Interval() (time.Duration, error) {
	switch c {
	case CadenceMinutely:
		return time.Minute, nil
	case CadenceDaily:
		return 24 * time.Hour, nil
	case CadenceWeekly:
		return 7 * 24 * time.Hour, nil
	case CadenceMonthly:
		return 4 * 7 * 24 * time.Hour, nil
	default:
		return 0, ErrInvalidCadence
	}
}

// Next returns the fire time following from.
func (c Cadence) Next(from time.Time) (time.Time, error) {
	d, err := c.Interval()
	if err != nil {
		return time.Time{}, err
	}
	return from.Add(d), nil
}

// RecurringStatus is the lifecycle status of a recurring definition.
type RecurringStatus string

const (
	// RecurringStatusApproved definitions fire on schedule.
	RecurringStatusApproved RecurringStatus = "approved"
	// RecurringStatusPaused definitions are kept but never fire.
	RecurringStatusPaused RecurringStatus = "paused"
	// RecurringStatusFailed definitions stopped after a fire found insufficient funds.
	RecurringStatusFailed RecurringStatus = "failed"
)

// RecurringTransaction is a transfer definition re-executed on a cadence.
type RecurringTransaction struct {
	ID          uuid.UUID
	SenderID    uuid.UUID
	ReceiverID  uuid.UUID
	Amount      decimal.Decimal
	Cadence     Cadence
	Status      RecurringStatus
	NextRunTime time.Time
	LastRunAt   *time.Time // nil until the first successful fire
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Due reports whether the definition should fire at now.
func (r *RecurringTransaction) Due(now time.Time) bool {
	return r.Status == RecurringStatusApproved && !now.Before(r.NextRunTime)
}

// RecurringUpdate carries the rewritable fields of a recurring definition.
// Zero values keep the stored receiver, amount and cadence.
type RecurringUpdate struct {
	ReceiverID uuid.UUID
	Amount     decimal.Decimal
	Cadence    Cadence
	Status     RecurringStatus // empty sets the definition approved
}
