package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// LedgerService handles the business logic for money movements and the
// confirmation workflow. It coordinates between repositories and ensures
// transactional consistency.
type LedgerService struct {
	accounts     AccountRepository
	transactions TransactionRepository
	txManager    TransactionManager
	opts         options
}

// NewLedgerService creates a new instance of LedgerService.
func NewLedgerService(
	accounts AccountRepository,
	transactions TransactionRepository,
	txManager TransactionManager,
	opts ...Option,
) *LedgerService {
	return &LedgerService{
		accounts:     accounts,
		transactions: transactions,
		txManager:    txManager,
		opts:         buildOptions(opts),
	}
}

func creditSender(t *Transaction) uuid.UUID   { return t.SenderID }
func creditReceiver(t *Transaction) uuid.UUID { return t.ReceiverID }

// Transfer debits the sender and records a pending transfer to the receiver.
//
// The amount is held against the sender immediately and reaches the receiver
// only once the sender confirms and the receiver accepts. The operation runs
// in a single database transaction:
// 1. Load and authorize the sender
// 2. Check the receiver exists
// 3. Debit the sender with a conditional decrement
// 4. Append the pending transaction row
func (s *LedgerService) Transfer(
	ctx context.Context,
	senderID uuid.UUID,
	receiverID uuid.UUID,
	amount decimal.Decimal,
	category string,
) (tx *Transaction, err error) {
	ctx, span := s.opts.startSpan(ctx, "ledger.Transfer",
		attribute.String("ledger.sender_id", senderID.String()),
		attribute.String("ledger.receiver_id", receiverID.String()),
		attribute.String("ledger.amount", amount.String()),
	)
	defer func() { endSpan(span, err) }()

	if err := ValidateAmount(amount); err != nil {
		return nil, err
	}
	if senderID == receiverID {
		return nil, ErrSameAccount
	}

	category = strings.TrimSpace(category)
	if category == "" {
		category = s.opts.defaultCategory
	} else if err := ValidateCategory(category); err != nil {
		return nil, err
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		sender, err := s.accounts.GetByID(txCtx, senderID)
		if err != nil {
			return err
		}
		if err := sender.CanSend(); err != nil {
			return err
		}
		if _, err := s.accounts.GetByID(txCtx, receiverID); err != nil {
			return err
		}

		if _, err := s.accounts.Debit(txCtx, senderID, amount); err != nil {
			return err
		}

		tx = NewTransfer(senderID, receiverID, amount, category, s.opts.now())
		if err := s.transactions.Create(txCtx, tx); err != nil {
			return fmt.Errorf("failed to create transaction record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.opts.logger.Info().
		Str("transaction_id", tx.ID.String()).
		Str("sender_id", senderID.String()).
		Str("receiver_id", receiverID.String()).
		Str("amount", amount.String()).
		Msg("transfer created")
	s.opts.publish(ctx, transactionEvent(EventTransactionCreated, tx, s.opts.now()))

	return tx, nil
}

// Deposit credits the account and records a settled ATM self-transfer.
func (s *LedgerService) Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (snap *BalanceSnapshot, err error) {
	ctx, span := s.opts.startSpan(ctx, "ledger.Deposit",
		attribute.String("ledger.account_id", userID.String()),
		attribute.String("ledger.amount", amount.String()),
	)
	defer func() { endSpan(span, err) }()

	return s.atm(ctx, userID, amount, KindDeposit)
}

// Withdraw debits the account and records a settled ATM self-transfer.
// Returns ErrInsufficientFunds when the balance is lower than amount.
func (s *LedgerService) Withdraw(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (snap *BalanceSnapshot, err error) {
	ctx, span := s.opts.startSpan(ctx, "ledger.Withdraw",
		attribute.String("ledger.account_id", userID.String()),
		attribute.String("ledger.amount", amount.String()),
	)
	defer func() { endSpan(span, err) }()

	return s.atm(ctx, userID, amount, KindWithdrawal)
}

func (s *LedgerService) atm(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, kind Kind) (*BalanceSnapshot, error) {
	if err := ValidateAmount(amount); err != nil {
		return nil, err
	}

	var snap *BalanceSnapshot
	var tx *Transaction
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		account, err := s.accounts.GetByID(txCtx, userID)
		if err != nil {
			return err
		}
		if account.IsAdmin {
			return ErrAdminWallet
		}

		var newBalance, oldBalance decimal.Decimal
		if kind == KindDeposit {
			newBalance, err = s.accounts.Credit(txCtx, userID, amount)
			oldBalance = newBalance.Sub(amount)
		} else {
			newBalance, err = s.accounts.Debit(txCtx, userID, amount)
			oldBalance = newBalance.Add(amount)
		}
		if err != nil {
			return err
		}

		tx = NewATMTransaction(userID, amount, kind, s.opts.now())
		if err := s.transactions.Create(txCtx, tx); err != nil {
			return fmt.Errorf("failed to create transaction record: %w", err)
		}

		snap = &BalanceSnapshot{
			AccountID:     userID,
			OldBalance:    oldBalance,
			NewBalance:    newBalance,
			TransactionID: tx.ID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	eventType := EventDeposited
	if kind == KindWithdrawal {
		eventType = EventWithdrawn
	}
	s.opts.logger.Info().
		Str("transaction_id", tx.ID.String()).
		Str("account_id", userID.String()).
		Str("kind", string(kind)).
		Str("amount", amount.String()).
		Msg("atm transaction recorded")
	s.opts.publish(ctx, transactionEvent(eventType, tx, s.opts.now()))

	return snap, nil
}

// ConfirmOrDecline applies the sender's decision to a pending transfer.
// Confirming leaves balances untouched; denying refunds the sender.
// Returns ErrTransactionNotFound unless the transaction exists, belongs to
// senderID and is still pending.
func (s *LedgerService) ConfirmOrDecline(
	ctx context.Context,
	txID uuid.UUID,
	senderID uuid.UUID,
	decision SenderDecision,
) (tx *Transaction, err error) {
	ctx, span := s.opts.startSpan(ctx, "ledger.ConfirmOrDecline",
		attribute.String("ledger.transaction_id", txID.String()),
		attribute.String("ledger.decision", string(decision)),
	)
	defer func() { endSpan(span, err) }()

	guard := Guard{From: StatePending, Role: RoleSender, ActorID: senderID}

	var eventType EventType
	switch decision {
	case DecisionConfirm:
		tx, err = s.settle(ctx, txID, guard, StateAwaitingAcceptance, nil)
		eventType = EventTransactionConfirmed
	case DecisionDeny:
		tx, err = s.settle(ctx, txID, guard, StateDeclined, creditSender)
		eventType = EventTransactionDeclined
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}
	if err != nil {
		return nil, err
	}

	s.opts.logger.Info().
		Str("transaction_id", tx.ID.String()).
		Str("state", string(tx.State)).
		Msg("sender decision applied")
	s.opts.publish(ctx, transactionEvent(eventType, tx, s.opts.now()))

	return tx, nil
}

// AcceptOrDecline applies the receiver's decision to a confirmed transfer.
// Accepting credits the receiver, declining refunds the sender and
// DecisionPending returns the transaction unchanged.
// Returns ErrTransactionNotFound unless the transaction exists, is addressed
// to receiverID and awaits acceptance.
func (s *LedgerService) AcceptOrDecline(
	ctx context.Context,
	txID uuid.UUID,
	receiverID uuid.UUID,
	decision ReceiverDecision,
) (tx *Transaction, err error) {
	ctx, span := s.opts.startSpan(ctx, "ledger.AcceptOrDecline",
		attribute.String("ledger.transaction_id", txID.String()),
		attribute.String("ledger.decision", string(decision)),
	)
	defer func() { endSpan(span, err) }()

	guard := Guard{From: StateAwaitingAcceptance, Role: RoleReceiver, ActorID: receiverID}

	var eventType EventType
	switch decision {
	case DecisionPending:
		tx, err = s.transactions.GetByID(ctx, txID)
		if err != nil {
			return nil, err
		}
		if !guard.Matches(tx) {
			return nil, ErrTransactionNotFound
		}
		return tx, nil
	case DecisionAccept:
		tx, err = s.settle(ctx, txID, guard, StateAccepted, creditReceiver)
		eventType = EventTransactionAccepted
	case DecisionDecline:
		tx, err = s.settle(ctx, txID, guard, StateRejected, creditSender)
		eventType = EventTransactionRejected
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}
	if err != nil {
		return nil, err
	}

	s.opts.logger.Info().
		Str("transaction_id", tx.ID.String()).
		Str("state", string(tx.State)).
		Msg("receiver decision applied")
	s.opts.publish(ctx, transactionEvent(eventType, tx, s.opts.now()))

	return tx, nil
}

// DenyAsAdmin rejects a transfer that awaits acceptance and refunds the
// sender. Denying an already rejected transfer succeeds without a second
// refund; any other state yields ErrNotSettleable.
func (s *LedgerService) DenyAsAdmin(ctx context.Context, txID, adminID uuid.UUID) (tx *Transaction, err error) {
	ctx, span := s.opts.startSpan(ctx, "ledger.DenyAsAdmin",
		attribute.String("ledger.transaction_id", txID.String()),
		attribute.String("ledger.admin_id", adminID.String()),
	)
	defer func() { endSpan(span, err) }()

	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}

	// The second pass only runs after losing a race; by then the row is terminal.
	for attempt := 0; attempt < 2; attempt++ {
		current, err := s.transactions.GetByID(ctx, txID)
		if err != nil {
			return nil, err
		}

		switch current.State {
		case StateRejected:
			return current, nil
		case StateAwaitingAcceptance:
			guard := Guard{From: StateAwaitingAcceptance, Role: RoleAny}
			tx, err = s.settle(ctx, txID, guard, StateRejected, creditSender)
			if errors.Is(err, ErrTransactionNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}

			s.opts.logger.Info().
				Str("transaction_id", tx.ID.String()).
				Str("admin_id", adminID.String()).
				Msg("transfer denied by admin")
			s.opts.publish(ctx, transactionEvent(EventTransactionRejected, tx, s.opts.now()))
			return tx, nil
		default:
			return nil, ErrNotSettleable
		}
	}
	return nil, ErrNotSettleable
}

// EditCategory relabels a transfer. Only the sender may do so. ATM and
// recurring rows are reported as not found.
func (s *LedgerService) EditCategory(ctx context.Context, txID uuid.UUID, category string, callerID uuid.UUID) (*Transaction, error) {
	category = strings.TrimSpace(category)
	if err := ValidateCategory(category); err != nil {
		return nil, err
	}
	return s.transactions.UpdateCategory(ctx, txID, callerID, category)
}

// GetBalance retrieves the account of userID with its current balance.
func (s *LedgerService) GetBalance(ctx context.Context, userID uuid.UUID) (*Account, error) {
	account, err := s.accounts.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// GetTransaction returns a transaction visible to callerID as sender or receiver.
func (s *LedgerService) GetTransaction(ctx context.Context, txID, callerID uuid.UUID) (*Transaction, error) {
	tx, err := s.transactions.GetByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.SenderID != callerID && tx.ReceiverID != callerID {
		return nil, ErrTransactionNotFound
	}
	return tx, nil
}

// ListForUser returns one page of the transactions userID sent or received,
// honoring only the sort order and page of q.
func (s *LedgerService) ListForUser(ctx context.Context, userID uuid.UUID, q Query) ([]*Transaction, error) {
	return s.Filter(ctx, userID, Query{SortBy: q.SortBy, Order: q.Order, Page: q.Page})
}

// Filter returns one page of the transactions userID sent or received that
// match q.
//
// Both sides are scanned separately and merged by id, so a self-transfer is
// listed once.
func (s *LedgerService) Filter(ctx context.Context, userID uuid.UUID, q Query) (txs []*Transaction, err error) {
	ctx, span := s.opts.startSpan(ctx, "ledger.Filter",
		attribute.String("ledger.account_id", userID.String()),
		attribute.Int("ledger.page", q.Page),
	)
	defer func() { endSpan(span, err) }()

	if err := q.Validate(); err != nil {
		return nil, err
	}

	var sent, received []*Transaction
	if q.Direction != DirectionIncoming {
		side := q.storeFilter()
		side.SenderID = userID
		if sent, err = s.transactions.Find(ctx, side); err != nil {
			return nil, fmt.Errorf("failed to list sent transactions: %w", err)
		}
	}
	if q.Direction != DirectionOutgoing {
		side := q.storeFilter()
		side.ReceiverID = userID
		if received, err = s.transactions.Find(ctx, side); err != nil {
			return nil, fmt.Errorf("failed to list received transactions: %w", err)
		}
	}

	merged := MergeByID(sent, received)
	matched := make([]*Transaction, 0, len(merged))
	for _, t := range merged {
		if q.matchesForUser(t, userID) {
			matched = append(matched, t)
		}
	}

	SortTransactions(matched, q.SortBy, q.Order)
	return Paginate(matched, q.Offset(s.opts.pageSize), s.opts.pageSize), nil
}

// PagedAdminListing returns one page of all transactions matching q.
// Direction and CounterpartyID are ignored.
func (s *LedgerService) PagedAdminListing(ctx context.Context, adminID uuid.UUID, q Query) (txs []*Transaction, err error) {
	ctx, span := s.opts.startSpan(ctx, "ledger.PagedAdminListing",
		attribute.String("ledger.admin_id", adminID.String()),
		attribute.Int("ledger.page", q.Page),
	)
	defer func() { endSpan(span, err) }()

	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	sq := q.storeFilter()
	sq.Limit = s.opts.pageSize
	sq.Offset = q.Offset(s.opts.pageSize)

	txs, err = s.transactions.Find(ctx, sq)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}

func (s *LedgerService) requireAdmin(ctx context.Context, id uuid.UUID) error {
	account, err := s.accounts.GetByID(ctx, id)
	if errors.Is(err, ErrAccountNotFound) {
		return ErrNotAdmin
	}
	if err != nil {
		return fmt.Errorf("failed to get account: %w", err)
	}
	if !account.IsAdmin {
		return ErrNotAdmin
	}
	return nil
}

// settle applies a guarded state transition and, when beneficiary is set,
// credits the amount to the account it picks, in one database transaction.
// The conditional transition runs first so that the credit happens at most
// once per transaction id.
func (s *LedgerService) settle(
	ctx context.Context,
	txID uuid.UUID,
	guard Guard,
	to State,
	beneficiary func(*Transaction) uuid.UUID,
) (*Transaction, error) {
	if !guard.From.CanTransition(to) {
		return nil, fmt.Errorf("%w: %s cannot move to %s", ErrConflict, guard.From, to)
	}

	var updated *Transaction
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		t, err := s.transactions.Transition(txCtx, txID, guard, to)
		if err != nil {
			return err
		}
		if beneficiary != nil {
			if _, err := s.accounts.Credit(txCtx, beneficiary(t), t.Amount); err != nil {
				return fmt.Errorf("failed to credit account: %w", err)
			}
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
