package domain_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/spbu-ds-practicum-2025/wallet-ledger/internal/domain"
)

// memStore is an in-memory implementation of the repositories. WithTransaction
// snapshots the whole store and restores it when fn fails.
type memStore struct {
	mu        sync.Mutex
	accounts  map[uuid.UUID]domain.Account
	txs       map[uuid.UUID]domain.Transaction
	recurring map[uuid.UUID]domain.RecurringTransaction
	findErr   error
}

func newMemStore() *memStore {
	return &memStore{
		accounts:  make(map[uuid.UUID]domain.Account),
		txs:       make(map[uuid.UUID]domain.Transaction),
		recurring: make(map[uuid.UUID]domain.RecurringTransaction),
	}
}

func (m *memStore) addAccount(t *testing.T, balance string, admin, blocked bool) uuid.UUID {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.accounts[id] = domain.Account{
		ID:        id,
		Balance:   decimal.RequireFromString(balance),
		IsAdmin:   admin,
		IsBlocked: blocked,
	}
	return id
}

func (m *memStore) balance(id uuid.UUID) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id].Balance
}

func (m *memStore) transaction(id uuid.UUID) (domain.Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[id]
	return tx, ok
}

func (m *memStore) transactionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.txs)
}

func (m *memStore) putRecurring(rt domain.RecurringTransaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recurring[rt.ID] = rt
}

func (m *memStore) recurringRow(id uuid.UUID) (domain.RecurringTransaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.recurring[id]
	return rt, ok
}

// inFlight sums the amounts debited from senders but not yet credited.
func (m *memStore) inFlight() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, tx := range m.txs {
		if tx.InFlight() {
			total = total.Add(tx.Amount)
		}
	}
	return total
}

func (m *memStore) totalBalance() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, a := range m.accounts {
		total = total.Add(a.Balance)
	}
	return total
}

// WithTransaction implements domain.TransactionManager.
func (m *memStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	accounts := copyMap(m.accounts)
	txs := copyMap(m.txs)
	recurring := copyMap(m.recurring)
	m.mu.Unlock()

	if err := fn(ctx); err != nil {
		m.mu.Lock()
		m.accounts, m.txs, m.recurring = accounts, txs, recurring
		m.mu.Unlock()
		return err
	}
	return nil
}

func copyMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

type memAccounts struct{ *memStore }

func (r memAccounts) GetByID(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return &a, nil
}

func (r memAccounts) Debit(_ context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return decimal.Zero, domain.ErrAccountNotFound
	}
	if a.Balance.LessThan(amount) {
		return decimal.Zero, domain.ErrInsufficientFunds
	}
	a.Balance = a.Balance.Sub(amount)
	r.accounts[id] = a
	return a.Balance, nil
}

func (r memAccounts) Credit(_ context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return decimal.Zero, domain.ErrAccountNotFound
	}
	a.Balance = a.Balance.Add(amount)
	r.accounts[id] = a
	return a.Balance, nil
}

type memTransactions struct{ *memStore }

func (r memTransactions) Create(_ context.Context, tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs[tx.ID] = *tx
	return nil
}

func (r memTransactions) GetByID(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return &tx, nil
}

func (r memTransactions) Transition(_ context.Context, id uuid.UUID, guard domain.Guard, to domain.State) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[id]
	if !ok || !guard.Matches(&tx) {
		return nil, domain.ErrTransactionNotFound
	}
	tx.State = to
	r.txs[id] = tx
	return &tx, nil
}

func (r memTransactions) UpdateCategory(_ context.Context, id, senderID uuid.UUID, category string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[id]
	if !ok || tx.SenderID != senderID || tx.Kind != domain.KindTransfer {
		return nil, domain.ErrTransactionNotFound
	}
	tx.Category = category
	r.txs[id] = tx
	return &tx, nil
}

func (r memTransactions) Find(_ context.Context, q domain.StoreQuery) ([]*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	var out []*domain.Transaction
	for _, tx := range r.txs {
		if q.Matches(&tx) {
			tx := tx
			out = append(out, &tx)
		}
	}
	domain.SortTransactions(out, q.SortBy, q.Order)
	return domain.Paginate(out, q.Offset, q.Limit), nil
}

type memRecurring struct{ *memStore }

func (r memRecurring) Create(_ context.Context, rt *domain.RecurringTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recurring[rt.ID] = *rt
	return nil
}

func (r memRecurring) GetByID(_ context.Context, id uuid.UUID) (*domain.RecurringTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.recurring[id]
	if !ok {
		return nil, domain.ErrRecurringNotFound
	}
	return &rt, nil
}

func (r memRecurring) ListBySender(_ context.Context, senderID uuid.UUID) ([]*domain.RecurringTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.RecurringTransaction
	for _, rt := range r.recurring {
		if rt.SenderID == senderID {
			rt := rt
			out = append(out, &rt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r memRecurring) ListApproved(_ context.Context) ([]*domain.RecurringTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.RecurringTransaction
	for _, rt := range r.recurring {
		if rt.Status == domain.RecurringStatusApproved {
			rt := rt
			out = append(out, &rt)
		}
	}
	return out, nil
}

func (r memRecurring) Update(_ context.Context, rt *domain.RecurringTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.recurring[rt.ID]
	if !ok || current.SenderID != rt.SenderID {
		return domain.ErrRecurringNotFound
	}
	r.recurring[rt.ID] = *rt
	return nil
}

func (r memRecurring) ClaimFire(_ context.Context, id uuid.UUID, expected, next, firedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.recurring[id]
	if !ok || rt.Status != domain.RecurringStatusApproved || !rt.NextRunTime.Equal(expected) {
		return false, nil
	}
	rt.NextRunTime = next
	rt.LastRunAt = &firedAt
	r.recurring[id] = rt
	return true, nil
}

func (r memRecurring) MarkFailed(_ context.Context, id uuid.UUID, expected time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.recurring[id]
	if !ok || rt.Status != domain.RecurringStatusApproved || !rt.NextRunTime.Equal(expected) {
		return false, nil
	}
	rt.Status = domain.RecurringStatusFailed
	r.recurring[id] = rt
	return true, nil
}

func (r memRecurring) Delete(_ context.Context, id, senderID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.recurring[id]
	if !ok || rt.SenderID != senderID {
		return false, nil
	}
	delete(r.recurring, id)
	return true, nil
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu        sync.Mutex
	events    []domain.Event
	err       error
	onPublish func(domain.Event)
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.Event) error {
	p.mu.Lock()
	p.events = append(p.events, event)
	hook := p.onPublish
	p.mu.Unlock()
	if hook != nil {
		hook(event)
	}
	return p.err
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type timerEntry struct {
	at time.Time
	fn func(ctx context.Context)
}

// manualTimer records scheduled callbacks; tests run them with fire.
type manualTimer struct {
	mu   sync.Mutex
	jobs map[string]timerEntry
}

func newManualTimer() *manualTimer {
	return &manualTimer{jobs: make(map[string]timerEntry)}
}

func (m *manualTimer) ScheduleAt(key string, at time.Time, fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[key] = timerEntry{at: at, fn: fn}
}

func (m *manualTimer) Cancel(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.jobs[key]
	delete(m.jobs, key)
	return ok
}

func (m *manualTimer) Get(key string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[key]
	return e.at, ok
}

// fire removes the pending job and runs it, as a real timer would.
func (m *manualTimer) fire(t *testing.T, key string) {
	t.Helper()
	m.mu.Lock()
	e, ok := m.jobs[key]
	delete(m.jobs, key)
	m.mu.Unlock()
	if !ok {
		t.Fatalf("no job scheduled for %s", key)
	}
	e.fn(context.Background())
}

// callback returns the pending job without removing it.
func (m *manualTimer) callback(t *testing.T, key string) func(ctx context.Context) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[key]
	if !ok {
		t.Fatalf("no job scheduled for %s", key)
	}
	return e.fn
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubLocker struct {
	acquired bool
	err      error
	unlocked int
}

func (l *stubLocker) TryLock(_ context.Context, _ string) (func(context.Context) error, bool, error) {
	if l.err != nil || !l.acquired {
		return nil, false, l.err
	}
	return func(context.Context) error {
		l.unlocked++
		return nil
	}, true, nil
}

var errBoom = errors.New("boom")
