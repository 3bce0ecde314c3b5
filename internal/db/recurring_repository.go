package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spbu-ds-practicum-2025/wallet-ledger/internal/domain"
)

const recurringColumns = `id, sender_id, receiver_id, amount, recurring_time, status, next_run_time, last_run_at, created_at, updated_at`

// RecurringRepository implements domain.RecurringRepository using PostgreSQL.
type RecurringRepository struct {
	pool *pgxpool.Pool
}

// NewRecurringRepository creates a new RecurringRepository.
func NewRecurringRepository(pool *pgxpool.Pool) *RecurringRepository {
	return &RecurringRepository{
		pool: pool,
	}
}

// Create persists a new recurring definition.
func (r *RecurringRepository) Create(ctx context.Context, rt *domain.RecurringTransaction) error {
	query := `
		INSERT INTO recurring_transactions (` + recurringColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := conn(ctx, r.pool).Exec(ctx, query,
		rt.ID,
		rt.SenderID,
		rt.ReceiverID,
		rt.Amount,
		string(rt.Cadence),
		string(rt.Status),
		rt.NextRunTime,
		rt.LastRunAt,
		rt.CreatedAt,
		rt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create recurring transaction: %w", err)
	}

	return nil
}

// GetByID retrieves a recurring definition by its unique identifier.
func (r *RecurringRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.RecurringTransaction, error) {
	query := `SELECT ` + recurringColumns + ` FROM recurring_transactions WHERE id = $1`

	rt, err := scanRecurring(conn(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRecurringNotFound
		}
		return nil, fmt.Errorf("failed to get recurring transaction: %w", err)
	}

	return rt, nil
}

// ListBySender returns the definitions owned by senderID, newest first.
func (r *RecurringRepository) ListBySender(ctx context.Context, senderID uuid.UUID) ([]*domain.RecurringTransaction, error) {
	query := `
		SELECT ` + recurringColumns + `
		FROM recurring_transactions
		WHERE sender_id = $1
		ORDER BY created_at DESC, id
	`
	return r.list(ctx, query, senderID)
}

// ListApproved returns every approved definition.
func (r *RecurringRepository) ListApproved(ctx context.Context) ([]*domain.RecurringTransaction, error) {
	query := `
		SELECT ` + recurringColumns + `
		FROM recurring_transactions
		WHERE status = $1
		ORDER BY next_run_time
	`
	return r.list(ctx, query, string(domain.RecurringStatusApproved))
}

func (r *RecurringRepository) list(ctx context.Context, query string, args ...any) ([]*domain.RecurringTransaction, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recurring transactions: %w", err)
	}
	defer rows.Close()

	defs := make([]*domain.RecurringTransaction, 0)
	for rows.Next() {
		rt, err := scanRecurring(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recurring transaction: %w", err)
		}
		defs = append(defs, rt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recurring transactions: %w", err)
	}

	return defs, nil
}

// Update rewrites the mutable fields of a definition still owned by rt.SenderID.
func (r *RecurringRepository) Update(ctx context.Context, rt *domain.RecurringTransaction) error {
	query := `
		UPDATE recurring_transactions
		SET receiver_id = $3,
		    amount = $4,
		    recurring_time = $5,
		    status = $6,
		    next_run_time = $7,
		    updated_at = $8
		WHERE id = $1 AND sender_id = $2
	`

	result, err := conn(ctx, r.pool).Exec(ctx, query,
		rt.ID,
		rt.SenderID,
		rt.ReceiverID,
		rt.Amount,
		string(rt.Cadence),
		string(rt.Status),
		rt.NextRunTime,
		rt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update recurring transaction: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.ErrRecurringNotFound
	}

	return nil
}

// ClaimFire advances next_run_time from expected to next. Only one of any
// number of concurrent callers with the same expected value succeeds.
func (r *RecurringRepository) ClaimFire(ctx context.Context, id uuid.UUID, expected, next, firedAt time.Time) (bool, error) {
	query := `
		UPDATE recurring_transactions
		SET next_run_time = $3,
		    last_run_at = $4,
		    updated_at = $4
		WHERE id = $1 AND next_run_time = $2 AND status = 'approved'
	`

	result, err := conn(ctx, r.pool).Exec(ctx, query, id, expected, next, firedAt)
	if err != nil {
		return false, fmt.Errorf("failed to claim recurring fire: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// MarkFailed sets the status of a definition to failed. Like ClaimFire it
// only matches an approved row whose next_run_time still equals expected, so
// a stale fire cannot fail a job that another fire or an update moved on.
func (r *RecurringRepository) MarkFailed(ctx context.Context, id uuid.UUID, expected time.Time) (bool, error) {
	query := `
		UPDATE recurring_transactions
		SET status = 'failed',
		    updated_at = NOW()
		WHERE id = $1 AND next_run_time = $2 AND status = 'approved'
	`

	result, err := conn(ctx, r.pool).Exec(ctx, query, id, expected)
	if err != nil {
		return false, fmt.Errorf("failed to mark recurring transaction failed: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// Delete removes a definition owned by senderID.
func (r *RecurringRepository) Delete(ctx context.Context, id, senderID uuid.UUID) (bool, error) {
	query := `DELETE FROM recurring_transactions WHERE id = $1 AND sender_id = $2`

	result, err := conn(ctx, r.pool).Exec(ctx, query, id, senderID)
	if err != nil {
		return false, fmt.Errorf("failed to delete recurring transaction: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

func scanRecurring(row pgx.Row) (*domain.RecurringTransaction, error) {
	var (
		rt      domain.RecurringTransaction
		cadence string
		status  string
	)
	err := row.Scan(
		&rt.ID,
		&rt.SenderID,
		&rt.ReceiverID,
		&rt.Amount,
		&cadence,
		&status,
		&rt.NextRunTime,
		&rt.LastRunAt,
		&rt.CreatedAt,
		&rt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rt.Cadence = domain.Cadence(cadence)
	rt.Status = domain.RecurringStatus(status)
	return &rt, nil
}
