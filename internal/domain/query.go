package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// SortField selects the column transactions are ordered by.
type SortField string

const (
	SortByCreatedAt SortField = "created_at"
	SortByAmount    SortField = "amount"
)

// SortOrder is ascending or descending.
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// Direction restricts a user's listing to money going in or out.
type Direction string

const (
	DirectionAny      Direction = ""
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Query describes a transaction listing request.
type Query struct {
	SortBy SortField
	Order  SortOrder

	States []State
	Kinds  []Kind

	// From and To bound created_at inclusively; zero values leave the side open.
	From time.Time
	To   time.Time

	// SenderID and ReceiverID restrict the parties (uuid.Nil matches anyone).
	SenderID   uuid.UUID
	ReceiverID uuid.UUID

	// Direction and CounterpartyID are relative to the user whose
	// transactions are listed and are ignored by admin listings.
	Direction      Direction
	CounterpartyID uuid.UUID

	// Page is 1-based; values below 1 select the first page.
	Page int
}

// Validate checks the enumerations and normalizes defaults.
func (q *Query) Validate() error {
	switch q.SortBy {
	case "":
		q.SortBy = SortByCreatedAt
	case SortByCreatedAt, SortByAmount:
	default:
		return fmt.Errorf("%w: cannot sort by %q", ErrInvalidArgument, q.SortBy)
	}

	switch q.Order {
	case "":
		q.Order = OrderDesc
	case OrderAsc, OrderDesc:
	default:
		return fmt.Errorf("%w: unknown order %q", ErrInvalidArgument, q.Order)
	}

	switch q.Direction {
	case DirectionAny, DirectionIncoming, DirectionOutgoing:
	default:
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidArgument, q.Direction)
	}

	for _, s := range q.States {
		if !s.Valid() {
			return fmt.Errorf("%w: unknown state %q", ErrInvalidArgument, s)
		}
	}
	for _, k := range q.Kinds {
		if !k.Valid() {
			return fmt.Errorf("%w: unknown kind %q", ErrInvalidArgument, k)
		}
	}

	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return fmt.Errorf("%w: date range ends before it starts", ErrInvalidArgument)
	}

	if q.Page < 1 {
		q.Page = 1
	}
	return nil
}

// Offset returns the number of rows skipped before the page.
func (q Query) Offset(pageSize int) int {
	page := q.Page
	if page < 1 {
		page = 1
	}
	return (page - 1) * pageSize
}

// StoreQuery is the part of a listing the transaction store evaluates.
type StoreQuery struct {
	SenderID   uuid.UUID // uuid.Nil matches any sender
	ReceiverID uuid.UUID // uuid.Nil matches any receiver
	States     []State
	Kinds      []Kind
	From       time.Time
	To         time.Time
	SortBy     SortField
	Order      SortOrder
	Limit      int // 0 means no limit
	Offset     int
}

// Matches reports whether t passes the store filters.
func (q StoreQuery) Matches(t *Transaction) bool {
	if q.SenderID != uuid.Nil && t.SenderID != q.SenderID {
		return false
	}
	if q.ReceiverID != uuid.Nil && t.ReceiverID != q.ReceiverID {
		return false
	}
	if len(q.States) > 0 && !containsState(q.States, t.State) {
		return false
	}
	if len(q.Kinds) > 0 && !containsKind(q.Kinds, t.Kind) {
		return false
	}
	if !q.From.IsZero() && t.CreatedAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && t.CreatedAt.After(q.To) {
		return false
	}
	return true
}

// storeFilter copies the filters of q that the store can evaluate on one side.
func (q Query) storeFilter() StoreQuery {
	return StoreQuery{
		SenderID:   q.SenderID,
		ReceiverID: q.ReceiverID,
		States:     q.States,
		Kinds:      q.Kinds,
		From:       q.From,
		To:         q.To,
		SortBy:     q.SortBy,
		Order:      q.Order,
	}
}

// matchesForUser applies the filters that depend on who is looking.
func (q Query) matchesForUser(t *Transaction, userID uuid.UUID) bool {
	if !q.storeFilter().Matches(t) {
		return false
	}

	incoming := t.ReceiverID == userID
	outgoing := t.SenderID == userID
	switch q.Direction {
	case DirectionIncoming:
		if !incoming {
			return false
		}
	case DirectionOutgoing:
		if !outgoing {
			return false
		}
	}

	if q.CounterpartyID != uuid.Nil {
		other := t.ReceiverID
		if incoming {
			other = t.SenderID
		}
		if other != q.CounterpartyID {
			return false
		}
	}
	return true
}

// MergeByID concatenates transaction lists keeping the first occurrence of
// every id. Self-transfers show up on both the sent and received side.
func MergeByID(lists ...[]*Transaction) []*Transaction {
	seen := make(map[uuid.UUID]struct{})
	var merged []*Transaction
	for _, list := range lists {
		for _, t := range list {
			if _, dup := seen[t.ID]; dup {
				continue
			}
			seen[t.ID] = struct{}{}
			merged = append(merged, t)
		}
	}
	return merged
}

// SortTransactions orders txs in place. Ties are broken by id so that
// paging is stable.
func SortTransactions(txs []*Transaction, field SortField, order SortOrder) {
	sort.SliceStable(txs, func(i, j int) bool {
		a, b := txs[i], txs[j]
		var cmp int
		switch field {
		case SortByAmount:
			cmp = a.Amount.Cmp(b.Amount)
		default:
			cmp = a.CreatedAt.Compare(b.CreatedAt)
		}
		if cmp == 0 {
			cmp = compareIDs(a.ID, b.ID)
		}
		if order == OrderAsc {
			return cmp < 0
		}
		return cmp > 0
	})
}

// Paginate returns the slice of txs for the given offset and limit.
func Paginate(txs []*Transaction, offset, limit int) []*Transaction {
	if offset >= len(txs) {
		return []*Transaction{}
	}
	end := len(txs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return txs[offset:end]
}

func compareIDs(a, b uuid.UUID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func containsState(states []State, s State) bool {
	for _, v := range states {
		if v == s {
			return true
		}
	}
	return false
}

func containsKind(kinds []Kind, k Kind) bool {
	for _, v := range kinds {
		if v == k {
			return true
		}
	}
	return false
}
