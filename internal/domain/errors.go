package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the services wraps exactly one of
// these, so callers can map them with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrConflict          = errors.New("conflict")
)

var (
	// ErrAccountNotFound is returned when an account doesn't exist
	ErrAccountNotFound = fmt.Errorf("account %w", ErrNotFound)

	// ErrTransactionNotFound is returned when no transaction matches the id,
	// the caller's role and the required prior state
	ErrTransactionNotFound = fmt.Errorf("transaction %w", ErrNotFound)

	// ErrRecurringNotFound is returned when a recurring definition doesn't exist
	ErrRecurringNotFound = fmt.Errorf("recurring transaction %w", ErrNotFound)

	// ErrAdminSender is returned when an admin account tries to move money
	ErrAdminSender = fmt.Errorf("%w: admin accounts cannot send money", ErrForbidden)

	// ErrAdminWallet is returned when a deposit or withdrawal targets an admin account
	ErrAdminWallet = fmt.Errorf("%w: admin accounts have no wallet", ErrForbidden)

	// ErrBlockedSender is returned when a blocked account tries to move money
	ErrBlockedSender = fmt.Errorf("%w: account is blocked", ErrForbidden)

	// ErrNotAdmin is returned when a privileged operation is called by a regular account
	ErrNotAdmin = fmt.Errorf("%w: admin privileges required", ErrForbidden)

	// ErrInvalidAmount is returned when the amount is not positive
	ErrInvalidAmount = fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)

	// ErrSameAccount is returned when sender and receiver are the same
	ErrSameAccount = fmt.Errorf("%w: sender and receiver must be different accounts", ErrInvalidArgument)

	// ErrInvalidDecision is returned for an unrecognized confirm/accept decision
	ErrInvalidDecision = fmt.Errorf("%w: unrecognized decision", ErrInvalidArgument)

	// ErrInvalidCadence is returned for an unrecognized recurring_time
	ErrInvalidCadence = fmt.Errorf("%w: unrecognized recurring time", ErrInvalidArgument)

	// ErrInvalidCategory is returned when a category is empty or too long
	ErrInvalidCategory = fmt.Errorf("%w: invalid category", ErrInvalidArgument)

	// ErrAccountExists is returned when an account id is already taken
	ErrAccountExists = fmt.Errorf("account already exists: %w", ErrConflict)

	// ErrNotSettleable is returned when an admin tries to deny a transaction
	// that is not waiting for the receiver
	ErrNotSettleable = fmt.Errorf("%w: transaction is not awaiting acceptance", ErrConflict)
)
