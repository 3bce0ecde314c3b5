package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(context.Background(), zerolog.Nop())
	t.Cleanup(func() { _ = r.Stop(context.Background()) })
	return r
}

func TestScheduleAt(t *testing.T) {
	r := newTestRegistry(t)
	fired := make(chan struct{}, 1)

	at := time.Now().Add(20 * time.Millisecond)
	r.ScheduleAt("a", at, func(context.Context) { fired <- struct{}{} })

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.True(t, got.Equal(at))

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}

	assert.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)
	_, ok = r.Get("a")
	assert.False(t, ok)
}

func TestScheduleAt_PastRunsImmediately(t *testing.T) {
	r := newTestRegistry(t)
	fired := make(chan struct{}, 1)

	r.ScheduleAt("a", time.Now().Add(-time.Hour), func(context.Context) { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("overdue job did not run")
	}
}

func TestScheduleAt_Replaces(t *testing.T) {
	r := newTestRegistry(t)
	var first, second atomic.Int32
	done := make(chan struct{}, 1)

	r.ScheduleAt("a", time.Now().Add(30*time.Millisecond), func(context.Context) { first.Add(1) })
	r.ScheduleAt("a", time.Now().Add(60*time.Millisecond), func(context.Context) {
		second.Add(1)
		done <- struct{}{}
	})
	assert.Equal(t, 1, r.Len())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("replacement job did not run")
	}
	assert.Equal(t, int32(0), first.Load())
	assert.Equal(t, int32(1), second.Load())
}

func TestCancel(t *testing.T) {
	r := newTestRegistry(t)
	var fired atomic.Bool

	r.ScheduleAt("a", time.Now().Add(30*time.Millisecond), func(context.Context) { fired.Store(true) })
	assert.True(t, r.Cancel("a"))
	assert.False(t, r.Cancel("a"))
	assert.False(t, r.Cancel("missing"))

	time.Sleep(80 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestJobCanReschedule(t *testing.T) {
	r := newTestRegistry(t)
	var runs atomic.Int32
	done := make(chan struct{})

	var job func(context.Context)
	job = func(context.Context) {
		if runs.Add(1) == 3 {
			close(done)
			return
		}
		r.ScheduleAt("tick", time.Now().Add(5*time.Millisecond), job)
	}
	r.ScheduleAt("tick", time.Now(), job)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("chained jobs did not complete")
	}
	assert.Equal(t, int32(3), runs.Load())
}

func TestJobPanicIsContained(t *testing.T) {
	r := newTestRegistry(t)
	fired := make(chan struct{}, 1)

	r.ScheduleAt("bad", time.Now(), func(context.Context) { panic("boom") })
	r.ScheduleAt("good", time.Now().Add(20*time.Millisecond), func(context.Context) { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("job after panic did not run")
	}
}

func TestStop(t *testing.T) {
	type ctxKey struct{}
	base := context.WithValue(context.Background(), ctxKey{}, "base")
	r := NewRegistry(base, zerolog.Nop())

	started := make(chan struct{})
	release := make(chan struct{})
	var sawBase atomic.Bool
	var finished atomic.Bool
	r.ScheduleAt("running", time.Now(), func(ctx context.Context) {
		sawBase.Store(ctx.Value(ctxKey{}) == "base")
		close(started)
		<-release
		finished.Store(true)
	})
	var pendingFired atomic.Bool
	r.ScheduleAt("pending", time.Now().Add(time.Hour), func(context.Context) { pendingFired.Store(true) })

	<-started

	// Stop times out while a job is still running.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, r.Stop(ctx))

	close(release)
	require.NoError(t, r.Stop(context.Background()))
	assert.True(t, finished.Load())
	assert.True(t, sawBase.Load())
	assert.Equal(t, 0, r.Len())

	r.ScheduleAt("late", time.Now(), func(context.Context) { pendingFired.Store(true) })
	assert.Equal(t, 0, r.Len())
	time.Sleep(20 * time.Millisecond)
	assert.False(t, pendingFired.Load())
}
