package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spbu-ds-practicum-2025/wallet-ledger/internal/domain"
)

const transactionColumns = `id, sender_id, receiver_id, amount, kind, category, status, acceptation, created_at, updated_at`

// TransactionRepository implements domain.TransactionRepository using PostgreSQL.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository creates a new TransactionRepository.
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{
		pool: pool,
	}
}

// Create persists a new transaction record.
func (r *TransactionRepository) Create(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	status, acceptation := tx.State.Columns()
	_, err := conn(ctx, r.pool).Exec(ctx, query,
		tx.ID,
		tx.SenderID,
		tx.ReceiverID,
		tx.Amount,
		string(tx.Kind),
		tx.Category,
		status,
		acceptation,
		tx.CreatedAt,
		tx.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	return nil
}

// GetByID retrieves a transaction by its unique identifier.
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	tx, err := scanTransaction(conn(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	return tx, nil
}

// Transition moves a transaction to state to if it is still in guard.From
// and, for sender or receiver guards, the actor occupies that role.
func (r *TransactionRepository) Transition(ctx context.Context, id uuid.UUID, guard domain.Guard, to domain.State) (*domain.Transaction, error) {
	fromStatus, fromAcceptation := guard.From.Columns()
	toStatus, toAcceptation := to.Columns()

	query := `
		UPDATE transactions
		SET status = $2,
		    acceptation = $3,
		    updated_at = NOW()
		WHERE id = $1 AND status = $4 AND acceptation = $5`
	args := []any{id, toStatus, toAcceptation, fromStatus, fromAcceptation}

	switch guard.Role {
	case domain.RoleSender:
		query += ` AND sender_id = $6`
		args = append(args, guard.ActorID)
	case domain.RoleReceiver:
		query += ` AND receiver_id = $6`
		args = append(args, guard.ActorID)
	}
	query += ` RETURNING ` + transactionColumns

	tx, err := scanTransaction(conn(ctx, r.pool).QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to update transaction state: %w", err)
	}

	return tx, nil
}

// UpdateCategory relabels a transfer sent by senderID. Cash and recurring
// rows keep their category.
func (r *TransactionRepository) UpdateCategory(ctx context.Context, id, senderID uuid.UUID, category string) (*domain.Transaction, error) {
	query := `
		UPDATE transactions
		SET category = $3,
		    updated_at = NOW()
		WHERE id = $1 AND sender_id = $2 AND kind = 'transfer'
		RETURNING ` + transactionColumns

	tx, err := scanTransaction(conn(ctx, r.pool).QueryRow(ctx, query, id, senderID, category))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to update transaction category: %w", err)
	}

	return tx, nil
}

// Find returns the transactions matching q.
func (r *TransactionRepository) Find(ctx context.Context, q domain.StoreQuery) ([]*domain.Transaction, error) {
	query, args := buildFindQuery(q)

	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]*domain.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}

	return txs, nil
}

// buildFindQuery renders q as SQL. Column names come from fixed strings only;
// every value is passed as a parameter.
func buildFindQuery(q domain.StoreQuery) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.SenderID != uuid.Nil {
		where = append(where, "sender_id = "+arg(q.SenderID))
	}
	if q.ReceiverID != uuid.Nil {
		where = append(where, "receiver_id = "+arg(q.ReceiverID))
	}
	if len(q.States) > 0 {
		var alts []string
		for _, s := range q.States {
			status, acceptation := s.Columns()
			alts = append(alts, fmt.Sprintf("(status = %s AND acceptation = %s)", arg(status), arg(acceptation)))
		}
		where = append(where, "("+strings.Join(alts, " OR ")+")")
	}
	if len(q.Kinds) > 0 {
		kinds := make([]string, 0, len(q.Kinds))
		for _, k := range q.Kinds {
			kinds = append(kinds, string(k))
		}
		where = append(where, "kind = ANY("+arg(kinds)+")")
	}
	if !q.From.IsZero() {
		where = append(where, "created_at >= "+arg(q.From))
	}
	if !q.To.IsZero() {
		where = append(where, "created_at <= "+arg(q.To))
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + transactionColumns + " FROM transactions")
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}

	column := "created_at"
	if q.SortBy == domain.SortByAmount {
		column = "amount"
	}
	direction := "DESC"
	if q.Order == domain.OrderAsc {
		direction = "ASC"
	}
	fmt.Fprintf(&sb, " ORDER BY %s %s, id %s", column, direction, direction)

	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + arg(q.Limit))
	}
	if q.Offset > 0 {
		sb.WriteString(" OFFSET " + arg(q.Offset))
	}

	return sb.String(), args
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		tx          domain.Transaction
		kind        string
		status      string
		acceptation string
	)
	err := row.Scan(
		&tx.ID,
		&tx.SenderID,
		&tx.ReceiverID,
		&tx.Amount,
		&kind,
		&tx.Category,
		&status,
		&acceptation,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.Kind = domain.Kind(kind)
	tx.State, err = domain.StateFromColumns(status, acceptation)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}
