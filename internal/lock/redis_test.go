package lock

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redsync/redsync/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLocker(t *testing.T, expiry time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := newRedisLocker(client, expiry, zerolog.Nop())
	t.Cleanup(func() { l.Close() })
	return l, mr
}

func TestTryLock(t *testing.T) {
	l, _ := setupLocker(t, 0)
	ctx := context.Background()

	unlock, acquired, err := l.TryLock(ctx, "ledger:recurring:a")
	require.NoError(t, err)
	require.True(t, acquired)

	_, acquired, err = l.TryLock(ctx, "ledger:recurring:a")
	require.NoError(t, err)
	assert.False(t, acquired, "second holder must not acquire")

	// Different keys are independent.
	unlockB, acquired, err := l.TryLock(ctx, "ledger:recurring:b")
	require.NoError(t, err)
	assert.True(t, acquired)
	require.NoError(t, unlockB(ctx))

	require.NoError(t, unlock(ctx))

	unlock, acquired, err = l.TryLock(ctx, "ledger:recurring:a")
	require.NoError(t, err)
	assert.True(t, acquired, "released key can be taken again")
	require.NoError(t, unlock(ctx))
}

func TestTryLock_Expiry(t *testing.T) {
	l, mr := setupLocker(t, 2*time.Second)
	ctx := context.Background()

	unlock, acquired, err := l.TryLock(ctx, "ledger:recurring:c")
	require.NoError(t, err)
	require.True(t, acquired)
	assert.True(t, mr.Exists("ledger:recurring:c"))

	mr.FastForward(3 * time.Second)

	_, acquired, err = l.TryLock(ctx, "ledger:recurring:c")
	require.NoError(t, err)
	assert.True(t, acquired, "expired lock is free")

	assert.Error(t, unlock(ctx), "stale holder cannot release someone else's lock")
}

func TestNewRedisLocker_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedisLocker(ctx, Config{Addr: "127.0.0.1:1"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestIsContention(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "retries exhausted", err: redsync.ErrFailed, want: true},
		{name: "taken on quorum", err: &redsync.ErrTaken{Nodes: []int{0}}, want: true},
		{name: "taken on node", err: &redsync.ErrNodeTaken{Node: 0}, want: true},
		{name: "wrapped", err: fmt.Errorf("lock: %w", &redsync.ErrTaken{Nodes: []int{0, 1}}), want: true},
		{name: "redis error", err: &redsync.RedisError{Node: 0, Err: errors.New("connection refused")}},
		{name: "same text, untyped", err: errors.New("lock already taken, locked nodes: [0]")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isContention(tt.err))
		})
	}
}
