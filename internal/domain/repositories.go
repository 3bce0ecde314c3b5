package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountRepository defines the interface for account data access operations.
// This follows the Repository pattern to abstract data persistence logic.
type AccountRepository interface {
	// GetByID retrieves an account by its unique identifier.
	// Returns ErrAccountNotFound if the account doesn't exist.
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)

	// Debit subtracts amount from the balance in a single conditional write
	// and returns the new balance. Returns ErrInsufficientFunds when the
	// balance is lower than amount and ErrAccountNotFound when the account
	// doesn't exist. The balance is left unchanged on error.
	Debit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)

	// Credit adds amount to the balance in a single write and returns the new balance.
	Credit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
}

// Role selects which party column a conditional transition is keyed on.
type Role int

const (
	// RoleAny matches regardless of sender or receiver (privileged paths).
	RoleAny Role = iota
	RoleSender
	RoleReceiver
)

// Guard is the optimistic precondition of a state transition: the row must
// still be in From and, unless Role is RoleAny, the actor must occupy Role.
type Guard struct {
	From    State
	Role    Role
	ActorID uuid.UUID
}

// Matches reports whether t satisfies the guard.
func (g Guard) Matches(t *Transaction) bool {
	if t.State != g.From {
		return false
	}
	switch g.Role {
	case RoleSender:
		return t.SenderID == g.ActorID
	case RoleReceiver:
		return t.ReceiverID == g.ActorID
	}
	return true
}

// TransactionRepository defines the interface for transaction log access.
type TransactionRepository interface {
	// Create appends a new transaction row.
	Create(ctx context.Context, tx *Transaction) error

	// GetByID retrieves a transaction by its unique identifier.
	// Returns ErrTransactionNotFound if it doesn't exist.
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)

	// Transition moves the transaction to state to in a single conditional
	// write keyed by id and guard. Returns ErrTransactionNotFound when no row
	// matches, which callers must not distinguish from a missing row.
	Transition(ctx context.Context, id uuid.UUID, guard Guard, to State) (*Transaction, error)

	// UpdateCategory relabels a transfer owned by senderID.
	// Returns ErrTransactionNotFound for any other row.
	UpdateCategory(ctx context.Context, id, senderID uuid.UUID, category string) (*Transaction, error)

	// Find returns the transactions matching q, sorted and limited as requested.
	Find(ctx context.Context, q StoreQuery) ([]*Transaction, error)
}

// RecurringRepository defines the interface for recurring definition access.
type RecurringRepository interface {
	// Create inserts a new recurring definition.
	Create(ctx context.Context, rt *RecurringTransaction) error

	// GetByID returns ErrRecurringNotFound if the definition doesn't exist.
	GetByID(ctx context.Context, id uuid.UUID) (*RecurringTransaction, error)

	// ListBySender returns definitions owned by senderID, newest first.
	ListBySender(ctx context.Context, senderID uuid.UUID) ([]*RecurringTransaction, error)

	// ListApproved returns every definition that is expected to fire.
	ListApproved(ctx context.Context) ([]*RecurringTransaction, error)

	// Update rewrites receiver, amount, cadence, status and next run time of a
	// definition still owned by rt.SenderID. Returns ErrRecurringNotFound otherwise.
	Update(ctx context.Context, rt *RecurringTransaction) error

	// ClaimFire advances next_run_time from expected to next and records
	// firedAt, only if the definition is approved and its next_run_time still
	// equals expected. Returns false when another fire got there first.
	ClaimFire(ctx context.Context, id uuid.UUID, expected, next, firedAt time.Time) (bool, error)

	// MarkFailed sets the status to failed, only if the definition is still
	// approved and its next_run_time equals expected. Returns false otherwise.
	MarkFailed(ctx context.Context, id uuid.UUID, expected time.Time) (bool, error)

	// Delete removes a definition owned by senderID and reports whether a row was removed.
	Delete(ctx context.Context, id, senderID uuid.UUID) (bool, error)
}

// TransactionManager defines the interface for managing database transactions.
// This abstraction allows the service layer to work with transactions
// without being coupled to a specific database implementation.
type TransactionManager interface {
	// WithTransaction executes the given function within a database transaction.
	// If the function returns an error, the transaction is rolled back.
	// Otherwise, the transaction is committed.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
