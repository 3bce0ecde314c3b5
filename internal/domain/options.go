package domain

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// DefaultPageSize is the number of transactions returned per page.
const DefaultPageSize = 10

const tracerName = "github.com/spbu-ds-practicum-2025/wallet-ledger/internal/domain"

// Option configures LedgerService and RecurringService.
type Option func(*options)

type options struct {
	logger          zerolog.Logger
	tracer          trace.Tracer
	now             func() time.Time
	publisher       EventPublisher
	pageSize        int
	defaultCategory string
	locker          FireLocker
	retryBackOff    func() backoff.BackOff
}

func defaultOptions() options {
	return options{
		logger:          zerolog.Nop(),
		tracer:          noop.NewTracerProvider().Tracer(tracerName),
		now:             time.Now,
		pageSize:        DefaultPageSize,
		defaultCategory: CategoryOther,
		retryBackOff:    defaultRetryBackOff,
	}
}

// defaultRetryBackOff retries a failed fire indefinitely, at most every five minutes.
func defaultRetryBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 5 * time.Minute
	b.MaxElapsedTime = 0
	return b
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTracerProvider creates the service tracer from tp.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithPublisher sets the publisher that receives events after commit.
// Without it no events are emitted.
func WithPublisher(p EventPublisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithPageSize sets the listing page size. Non-positive values are ignored.
func WithPageSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// WithDefaultCategory sets the category given to transfers created without one.
func WithDefaultCategory(c string) Option {
	return func(o *options) {
		if c != "" {
			o.defaultCategory = c
		}
	}
}

// WithFireLocker fences recurring fires with a distributed lock.
func WithFireLocker(l FireLocker) Option {
	return func(o *options) { o.locker = l }
}

// WithRetryBackOff sets the policy used to retry a recurring fire that
// failed with a store or broker error. A fresh policy is taken for every
// run of consecutive failures.
func WithRetryBackOff(newBackOff func() backoff.BackOff) Option {
	return func(o *options) {
		if newBackOff != nil {
			o.retryBackOff = newBackOff
		}
	}
}

// publish sends the event and logs failures. The state change it describes
// has already been committed, so the error is not returned.
func (o *options) publish(ctx context.Context, event Event) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.Publish(ctx, event); err != nil {
		o.logger.Warn().Err(err).
			Str("event_type", string(event.Type)).
			Str("event_id", event.ID.String()).
			Msg("failed to publish event")
	}
}

func (o *options) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
