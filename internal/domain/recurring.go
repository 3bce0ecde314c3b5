package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// Timer runs one-shot callbacks keyed by job name.
// Scheduling a key that is already pending replaces the pending callback.
type Timer interface {
	ScheduleAt(key string, at time.Time, fn func(ctx context.Context))
	Cancel(key string) bool
	Get(key string) (time.Time, bool)
}

// FireLocker takes a short lived lock around a recurring fire.
type FireLocker interface {
	TryLock(ctx context.Context, key string) (unlock func(context.Context) error, acquired bool, err error)
}

// JobKey is the timer key of a recurring definition.
func JobKey(id uuid.UUID) string {
	return "recurring:" + id.String()
}

func fireLockKey(id uuid.UUID) string {
	return "ledger:recurring:" + id.String()
}

// RecurringService maintains recurring transfer definitions and fires them
// through the timer. Fires settle immediately: the sender is debited and the
// receiver credited without a confirmation step.
type RecurringService struct {
	accounts     AccountRepository
	transactions TransactionRepository
	recurring    RecurringRepository
	txManager    TransactionManager
	timer        Timer
	opts         options
}

// NewRecurringService creates a new instance of RecurringService.
func NewRecurringService(
	accounts AccountRepository,
	transactions TransactionRepository,
	recurring RecurringRepository,
	txManager TransactionManager,
	timer Timer,
	opts ...Option,
) *RecurringService {
	return &RecurringService{
		accounts:     accounts,
		transactions: transactions,
		recurring:    recurring,
		txManager:    txManager,
		timer:        timer,
		opts:         buildOptions(opts),
	}
}

// now is truncated to the precision of the store so that a next_run_time
// read back compares equal to the value that was written.
func (s *RecurringService) now() time.Time {
	return s.opts.now().Truncate(time.Microsecond)
}

// Create inserts an approved definition due immediately and schedules its first fire.
func (s *RecurringService) Create(
	ctx context.Context,
	senderID uuid.UUID,
	receiverID uuid.UUID,
	amount decimal.Decimal,
	cadence Cadence,
) (id uuid.UUID, err error) {
	ctx, span := s.opts.startSpan(ctx, "recurring.Create",
		attribute.String("ledger.sender_id", senderID.String()),
		attribute.String("ledger.receiver_id", receiverID.String()),
		attribute.String("ledger.cadence", string(cadence)),
	)
	defer func() { endSpan(span, err) }()

	if err := ValidateAmount(amount); err != nil {
		return uuid.Nil, err
	}
	if _, err := cadence.Interval(); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidCadence, cadence)
	}
	if senderID == receiverID {
		return uuid.Nil, ErrSameAccount
	}

	sender, err := s.accounts.GetByID(ctx, senderID)
	if err != nil {
		return uuid.Nil, err
	}
	if err := sender.CanSend(); err != nil {
		return uuid.Nil, err
	}
	if _, err := s.accounts.GetByID(ctx, receiverID); err != nil {
		return uuid.Nil, err
	}

	now := s.now()
	rt := &RecurringTransaction{
		ID:          uuid.New(),
		SenderID:    senderID,
		ReceiverID:  receiverID,
		Amount:      amount,
		Cadence:     cadence,
		Status:      RecurringStatusApproved,
		NextRunTime: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.recurring.Create(ctx, rt); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create recurring transaction: %w", err)
	}

	s.schedule(rt.ID, rt.NextRunTime)
	s.opts.logger.Info().
		Str("recurring_id", rt.ID.String()).
		Str("sender_id", senderID.String()).
		Str("receiver_id", receiverID.String()).
		Str("amount", amount.String()).
		Str("recurring_time", string(cadence)).
		Msg("recurring transaction created")

	return rt.ID, nil
}

// Process runs one fire of the definition id. Outcomes that end the job
// (missing definition, invalid cadence, insufficient funds) are logged and
// reported as success because no caller waits for them.
func (s *RecurringService) Process(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := s.opts.startSpan(ctx, "recurring.Process",
		attribute.String("ledger.recurring_id", id.String()),
	)
	defer func() { endSpan(span, err) }()

	log := s.opts.logger.With().Str("recurring_id", id.String()).Logger()

	if s.opts.locker != nil {
		unlock, acquired, err := s.opts.locker.TryLock(ctx, fireLockKey(id))
		switch {
		case err != nil:
			// The conditional claim on next_run_time still prevents a double fire.
			log.Warn().Err(err).Msg("fire lock unavailable, relying on claim")
		case !acquired:
			log.Debug().Msg("fire already running elsewhere")
			return nil
		default:
			defer func() {
				if err := unlock(context.WithoutCancel(ctx)); err != nil {
					log.Warn().Err(err).Msg("failed to release fire lock")
				}
			}()
		}
	}

	return s.fire(ctx, id, log)
}

func (s *RecurringService) fire(ctx context.Context, id uuid.UUID, log zerolog.Logger) error {
	rt, err := s.recurring.GetByID(ctx, id)
	if errors.Is(err, ErrRecurringNotFound) {
		log.Info().Msg("recurring transaction no longer exists")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load recurring transaction: %w", err)
	}

	if rt.Status != RecurringStatusApproved {
		log.Debug().Str("status", string(rt.Status)).Msg("recurring transaction is not approved")
		return nil
	}

	now := s.now()
	if !rt.Due(now) {
		// Early retries land here when the fire itself committed before failing.
		log.Debug().Time("next_run_time", rt.NextRunTime).Msg("fire is not due yet")
		s.schedule(id, rt.NextRunTime)
		return nil
	}

	next, err := rt.Cadence.Next(now)
	if err != nil {
		log.Error().Err(err).Str("recurring_time", string(rt.Cadence)).Msg("invalid recurring time, job stopped")
		return nil
	}

	sender, err := s.accounts.GetByID(ctx, rt.SenderID)
	if errors.Is(err, ErrAccountNotFound) {
		log.Warn().Str("sender_id", rt.SenderID.String()).Msg("sender no longer exists")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load sender: %w", err)
	}
	if _, err := s.accounts.GetByID(ctx, rt.ReceiverID); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			log.Warn().Str("receiver_id", rt.ReceiverID.String()).Msg("receiver no longer exists")
			return nil
		}
		return fmt.Errorf("failed to load receiver: %w", err)
	}

	if sender.Balance.LessThan(rt.Amount) {
		return s.fail(ctx, rt, log)
	}

	var tx *Transaction
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		claimed, err := s.recurring.ClaimFire(txCtx, rt.ID, rt.NextRunTime, next, now)
		if err != nil {
			return fmt.Errorf("failed to claim fire: %w", err)
		}
		if !claimed {
			return nil
		}

		if _, err := s.accounts.Debit(txCtx, rt.SenderID, rt.Amount); err != nil {
			return err
		}
		if _, err := s.accounts.Credit(txCtx, rt.ReceiverID, rt.Amount); err != nil {
			return fmt.Errorf("failed to credit receiver: %w", err)
		}

		tx = NewRecurringFireTransaction(rt, now)
		if err := s.transactions.Create(txCtx, tx); err != nil {
			return fmt.Errorf("failed to create transaction record: %w", err)
		}
		return nil
	})
	if errors.Is(err, ErrInsufficientFunds) {
		// The balance dropped between the check and the debit; nothing was written.
		return s.fail(ctx, rt, log)
	}
	if err != nil {
		return err
	}
	if tx == nil {
		log.Debug().Msg("fire claimed by another worker")
		return nil
	}

	log.Info().
		Str("transaction_id", tx.ID.String()).
		Str("amount", rt.Amount.String()).
		Time("next_run_time", next).
		Msg("recurring transaction fired")

	event := transactionEvent(EventRecurringFired, tx, now)
	event.RecurringID = rt.ID
	s.opts.publish(ctx, event)

	// Update or Delete may have run while this fire was in flight.
	current, err := s.recurring.GetByID(ctx, id)
	if errors.Is(err, ErrRecurringNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to reload recurring transaction: %w", err)
	}
	if current.Status == RecurringStatusApproved && current.NextRunTime.Equal(next) {
		s.schedule(id, next)
	}
	return nil
}

func (s *RecurringService) fail(ctx context.Context, rt *RecurringTransaction, log zerolog.Logger) error {
	failed, err := s.recurring.MarkFailed(ctx, rt.ID, rt.NextRunTime)
	if err != nil {
		return fmt.Errorf("failed to mark recurring transaction failed: %w", err)
	}
	if !failed {
		// Another fire or an update moved the definition on since it was read.
		log.Debug().Time("next_run_time", rt.NextRunTime).Msg("stale fire, definition left as is")
		return nil
	}

	log.Warn().
		Str("sender_id", rt.SenderID.String()).
		Str("amount", rt.Amount.String()).
		Msg("insufficient funds, recurring transaction failed")

	s.opts.publish(ctx, Event{
		ID:          uuid.New(),
		Type:        EventRecurringFailed,
		OccurredAt:  s.opts.now(),
		RecurringID: rt.ID,
		SenderID:    rt.SenderID,
		ReceiverID:  rt.ReceiverID,
		Amount:      rt.Amount.StringFixed(2),
	})
	return nil
}

// Update rewrites a definition owned by userID and reschedules it from now.
// It reports false when the definition doesn't exist or belongs to someone else.
func (s *RecurringService) Update(ctx context.Context, id, userID uuid.UUID, upd RecurringUpdate) (updated bool, err error) {
	ctx, span := s.opts.startSpan(ctx, "recurring.Update",
		attribute.String("ledger.recurring_id", id.String()),
	)
	defer func() { endSpan(span, err) }()

	rt, err := s.recurring.GetByID(ctx, id)
	if errors.Is(err, ErrRecurringNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load recurring transaction: %w", err)
	}
	if rt.SenderID != userID {
		return false, nil
	}

	if upd.ReceiverID != uuid.Nil {
		rt.ReceiverID = upd.ReceiverID
	}
	if !upd.Amount.IsZero() {
		rt.Amount = upd.Amount
	}
	if upd.Cadence != "" {
		rt.Cadence = upd.Cadence
	}
	if rt.Status, err = ParseRecurringStatus(string(upd.Status)); err != nil {
		return false, err
	}

	if err := ValidateAmount(rt.Amount); err != nil {
		return false, err
	}
	interval, err := rt.Cadence.Interval()
	if err != nil {
		return false, fmt.Errorf("%w: %q", ErrInvalidCadence, rt.Cadence)
	}
	if rt.ReceiverID == rt.SenderID {
		return false, ErrSameAccount
	}
	if _, err := s.accounts.GetByID(ctx, rt.ReceiverID); err != nil {
		return false, err
	}

	now := s.now()
	rt.NextRunTime = now.Add(interval)
	rt.UpdatedAt = now
	if err := s.recurring.Update(ctx, rt); err != nil {
		if errors.Is(err, ErrRecurringNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to update recurring transaction: %w", err)
	}

	// The pending fire is only touched once the row is written.
	if rt.Status == RecurringStatusApproved {
		s.schedule(rt.ID, rt.NextRunTime)
	} else {
		s.timer.Cancel(JobKey(id))
	}

	s.opts.logger.Info().
		Str("recurring_id", id.String()).
		Str("status", string(rt.Status)).
		Time("next_run_time", rt.NextRunTime).
		Msg("recurring transaction updated")
	return true, nil
}

// Delete cancels the pending fire and removes a definition owned by userID.
// It reports false when the definition doesn't exist or belongs to someone else.
func (s *RecurringService) Delete(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	rt, err := s.recurring.GetByID(ctx, id)
	if errors.Is(err, ErrRecurringNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load recurring transaction: %w", err)
	}
	if rt.SenderID != userID {
		return false, nil
	}

	s.timer.Cancel(JobKey(id))

	deleted, err := s.recurring.Delete(ctx, id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete recurring transaction: %w", err)
	}
	if deleted {
		s.opts.logger.Info().Str("recurring_id", id.String()).Msg("recurring transaction deleted")
	}
	return deleted, nil
}

// ListForSender returns the definitions owned by senderID, newest first.
func (s *RecurringService) ListForSender(ctx context.Context, senderID uuid.UUID) ([]*RecurringTransaction, error) {
	return s.recurring.ListBySender(ctx, senderID)
}

// NextFire reports when the definition is scheduled to fire in this process.
func (s *RecurringService) NextFire(id uuid.UUID) (time.Time, bool) {
	return s.timer.Get(JobKey(id))
}

// Recover schedules every approved definition. Overdue definitions fire
// immediately. It returns the number of scheduled jobs.
func (s *RecurringService) Recover(ctx context.Context) (int, error) {
	defs, err := s.recurring.ListApproved(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list recurring transactions: %w", err)
	}

	now := s.now()
	for _, rt := range defs {
		at := rt.NextRunTime
		if at.Before(now) {
			at = now
		}
		s.schedule(rt.ID, at)
	}

	s.opts.logger.Info().Int("jobs", len(defs)).Msg("recurring transactions recovered")
	return len(defs), nil
}

func (s *RecurringService) schedule(id uuid.UUID, at time.Time) {
	s.scheduleAttempt(id, at, nil)
}

// scheduleAttempt installs the fire of id at at. When the fire fails with an
// error it is retried after the next interval of retry, until a fire succeeds
// or something else schedules the job.
func (s *RecurringService) scheduleAttempt(id uuid.UUID, at time.Time, retry backoff.BackOff) {
	key := JobKey(id)
	s.timer.ScheduleAt(key, at, func(ctx context.Context) {
		err := s.Process(ctx, id)
		if err == nil {
			return
		}

		log := s.opts.logger.With().Str("recurring_id", id.String()).Logger()
		if _, pending := s.timer.Get(key); pending {
			log.Error().Err(err).Msg("recurring fire failed")
			return
		}

		if retry == nil {
			retry = s.opts.retryBackOff()
		}
		wait := retry.NextBackOff()
		if wait == backoff.Stop {
			log.Error().Err(err).Msg("recurring fire failed, no retries left until restart")
			return
		}

		log.Error().Err(err).Dur("retry_in", wait).Msg("recurring fire failed, retrying")
		s.scheduleAttempt(id, s.now().Add(wait), retry)
	})
}
