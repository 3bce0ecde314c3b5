package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/spbu-ds-practicum-2025/wallet-ledger/internal/domain"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// AccountRepository implements domain.AccountRepository using PostgreSQL.
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{
		pool: pool,
	}
}

// GetByID retrieves an account by its unique identifier.
func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `
		SELECT id, balance, is_admin, is_blocked, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`

	var account domain.Account
	err := conn(ctx, r.pool).QueryRow(ctx, query, id).Scan(
		&account.ID,
		&account.Balance,
		&account.IsAdmin,
		&account.IsBlocked,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return &account, nil
}

// Create inserts a new account. Used by provisioning and tests.
func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, balance, is_admin, is_blocked, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	err := conn(ctx, r.pool).QueryRow(ctx, query,
		account.ID,
		account.Balance,
		account.IsAdmin,
		account.IsBlocked,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrAccountExists
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// Debit decrements the balance only if it covers amount.
// The check and the write are one statement, so concurrent debits cannot
// overdraw the account.
func (r *AccountRepository) Debit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	query := `
		UPDATE accounts
		SET balance = balance - $2,
		    updated_at = NOW()
		WHERE id = $1 AND balance >= $2
		RETURNING balance
	`

	var balance decimal.Decimal
	err := conn(ctx, r.pool).QueryRow(ctx, query, id, amount).Scan(&balance)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("failed to debit account: %w", err)
		}
		// Zero rows: either the account is missing or the balance is too low.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return decimal.Zero, getErr
		}
		return decimal.Zero, domain.ErrInsufficientFunds
	}

	return balance, nil
}

// Credit increments the balance.
func (r *AccountRepository) Credit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	query := `
		UPDATE accounts
		SET balance = balance + $2,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING balance
	`

	var balance decimal.Decimal
	err := conn(ctx, r.pool).QueryRow(ctx, query, id, amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, domain.ErrAccountNotFound
		}
		return decimal.Zero, fmt.Errorf("failed to credit account: %w", err)
	}

	return balance, nil
}
