package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spbu-ds-practicum-2025/wallet-ledger/internal/domain"
)

func TestStateColumns(t *testing.T) {
	states := []domain.State{
		domain.StatePending,
		domain.StateDeclined,
		domain.StateAwaitingAcceptance,
		domain.StateAccepted,
		domain.StateRejected,
	}
	for _, s := range states {
		status, acceptation := s.Columns()
		got, err := domain.StateFromColumns(status, acceptation)
		require.NoError(t, err, s)
		assert.Equal(t, s, got)
	}
}

func TestStateFromColumns_IllegalPairs(t *testing.T) {
	tests := []struct {
		status, acceptation string
	}{
		{domain.StatusConfirmed, "maybe"},
		{"settled", domain.AcceptationAccepted},
		{"", ""},
	}
	for _, tt := range tests {
		_, err := domain.StateFromColumns(tt.status, tt.acceptation)
		assert.Error(t, err, "%s/%s", tt.status, tt.acceptation)
	}

	// Acceptation carries no meaning before the sender confirmed.
	s, err := domain.StateFromColumns(domain.StatusPending, domain.AcceptationAccepted)
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, s)
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, domain.StatePending.CanTransition(domain.StateAwaitingAcceptance))
	assert.True(t, domain.StatePending.CanTransition(domain.StateDeclined))
	assert.False(t, domain.StatePending.CanTransition(domain.StateAccepted))
	assert.True(t, domain.StateAwaitingAcceptance.CanTransition(domain.StateAccepted))
	assert.True(t, domain.StateAwaitingAcceptance.CanTransition(domain.StateRejected))
	assert.False(t, domain.StateAwaitingAcceptance.CanTransition(domain.StatePending))

	for _, s := range []domain.State{domain.StateDeclined, domain.StateAccepted, domain.StateRejected} {
		assert.True(t, s.Terminal(), s)
		assert.False(t, s.CanTransition(domain.StatePending), s)
	}
	assert.False(t, domain.StatePending.Terminal())
	assert.False(t, domain.StateAwaitingAcceptance.Terminal())
}

func TestParseDecisions(t *testing.T) {
	d, err := domain.ParseSenderDecision("deny")
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionDeny, d)

	_, err = domain.ParseSenderDecision("accept")
	assert.ErrorIs(t, err, domain.ErrInvalidDecision)

	r, err := domain.ParseReceiverDecision("pending")
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionPending, r)

	_, err = domain.ParseReceiverDecision("confirm")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = domain.ParseState("awaiting_acceptance")
	assert.NoError(t, err)
	_, err = domain.ParseState("confirmed")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
