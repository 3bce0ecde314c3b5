// Package scheduler runs keyed one-shot jobs in process.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Registry is an in-memory implementation of domain.Timer.
// Each key holds at most one pending job; scheduling an existing key replaces it.
// Jobs run on their own goroutine with the registry's base context.
type Registry struct {
	base context.Context
	log  zerolog.Logger

	mu     sync.Mutex
	jobs   map[string]*job
	closed bool
	wg     sync.WaitGroup
}

type job struct {
	at    time.Time
	timer *time.Timer
}

// NewRegistry creates a registry whose jobs receive base as their context.
func NewRegistry(base context.Context, log zerolog.Logger) *Registry {
	return &Registry{
		base: base,
		log:  log,
		jobs: make(map[string]*job),
	}
}

// ScheduleAt runs fn at at, or immediately if at has passed.
func (r *Registry) ScheduleAt(key string, at time.Time, fn func(ctx context.Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		r.log.Warn().Str("job", key).Msg("scheduler stopped, job dropped")
		return
	}

	if old, ok := r.jobs[key]; ok {
		old.timer.Stop()
	}

	j := &job{at: at}
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	j.timer = time.AfterFunc(delay, func() { r.run(key, j, fn) })
	r.jobs[key] = j
}

func (r *Registry) run(key string, j *job, fn func(ctx context.Context)) {
	r.mu.Lock()
	if r.closed || r.jobs[key] != j {
		// Replaced or cancelled after the timer fired.
		r.mu.Unlock()
		return
	}
	delete(r.jobs, key)
	r.wg.Add(1)
	r.mu.Unlock()

	defer r.wg.Done()
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Str("job", key).Interface("panic", p).Msg("job panicked")
		}
	}()

	fn(r.base)
}

// Cancel removes the pending job for key and reports whether there was one.
// A job that has already started is not interrupted.
func (r *Registry) Cancel(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[key]
	if !ok {
		return false
	}
	j.timer.Stop()
	delete(r.jobs, key)
	return true
}

// Get returns the run time of the pending job for key.
func (r *Registry) Get(key string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[key]
	if !ok {
		return time.Time{}, false
	}
	return j.at, true
}

// Len returns the number of pending jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Stop drops every pending job and waits for running ones to return.
// Jobs scheduled after Stop are ignored.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	for key, j := range r.jobs {
		j.timer.Stop()
		delete(r.jobs, key)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running jobs: %w", ctx.Err())
	}
}
