package domain

import "fmt"

// State is the combined settlement state of a transaction.
//
// The persisted layout keeps two columns, status (sender side) and
// acceptation (receiver side). State folds them into one value so that
// combinations such as status=pending with acceptation=accepted cannot be
// represented.
type State string

const (
	// StatePending: debited from the sender, waiting for the sender to confirm.
	StatePending State = "pending"
	// StateDeclined: the sender denied the transfer and was refunded.
	StateDeclined State = "declined"
	// StateAwaitingAcceptance: confirmed by the sender, waiting for the receiver.
	StateAwaitingAcceptance State = "awaiting_acceptance"
	// StateAccepted: credited to the receiver. Settled.
	StateAccepted State = "accepted"
	// StateRejected: declined by the receiver or an admin, sender refunded.
	StateRejected State = "rejected"
)

// Persisted status column values.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusDeclined  = "declined"
)

// Persisted acceptation column values.
const (
	AcceptationPending  = "pending"
	AcceptationAccepted = "accepted"
	AcceptationDeclined = "declined"
)

var transitions = map[State][]State{
	StatePending:            {StateAwaitingAcceptance, StateDeclined},
	StateAwaitingAcceptance: {StateAccepted, StateRejected},
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateDeclined, StateAwaitingAcceptance, StateAccepted, StateRejected:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether the workflow allows moving from s to to.
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Columns projects the state onto the persisted (status, acceptation) pair.
func (s State) Columns() (status, acceptation string) {
	switch s {
	case StatePending:
		return StatusPending, AcceptationPending
	case StateDeclined:
		return StatusDeclined, AcceptationPending
	case StateAwaitingAcceptance:
		return StatusConfirmed, AcceptationPending
	case StateAccepted:
		return StatusConfirmed, AcceptationAccepted
	case StateRejected:
		return StatusConfirmed, AcceptationDeclined
	}
	return "", ""
}

// StateFromColumns rebuilds a State from the persisted pair.
// Acceptation is ignored unless the status is confirmed.
func StateFromColumns(status, acceptation string) (State, error) {
	switch status {
	case StatusPending:
		return StatePending, nil
	case StatusDeclined:
		return StateDeclined, nil
	case StatusConfirmed:
		switch acceptation {
		case AcceptationPending:
			return StateAwaitingAcceptance, nil
		case AcceptationAccepted:
			return StateAccepted, nil
		case AcceptationDeclined:
			return StateRejected, nil
		}
	}
	return "", fmt.Errorf("invalid transaction state: status=%q acceptation=%q", status, acceptation)
}

// ParseState parses a state name as accepted by query filters.
func ParseState(v string) (State, error) {
	s := State(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown state %q", ErrInvalidArgument, v)
	}
	return s, nil
}

// SenderDecision is the sender's answer to a pending transfer.
type SenderDecision string

const (
	DecisionConfirm SenderDecision = "confirm"
	DecisionDeny    SenderDecision = "deny"
)

// ParseSenderDecision validates a sender decision.
func ParseSenderDecision(v string) (SenderDecision, error) {
	switch d := SenderDecision(v); d {
	case DecisionConfirm, DecisionDeny:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDecision, v)
}

// ReceiverDecision is the receiver's answer to a confirmed transfer.
type ReceiverDecision string

const (
	DecisionAccept  ReceiverDecision = "accept"
	DecisionDecline ReceiverDecision = "decline"
	// DecisionPending leaves the transfer untouched.
	DecisionPending ReceiverDecision = "pending"
)

// ParseReceiverDecision validates a receiver decision.
func ParseReceiverDecision(v string) (ReceiverDecision, error) {
	switch d := ReceiverDecision(v); d {
	case DecisionAccept, DecisionDecline, DecisionPending:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDecision, v)
}
