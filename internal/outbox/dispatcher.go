package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/garvit124/AutoPO/internal/clock"
)

// Store persists tasks. ClaimDue leases due pending tasks by pushing their
// next attempt past the lease, so a crashed dispatcher's tasks become due again.
type Store interface {
	Enqueue(ctx context.Context, task Task) error
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]Task, error)
	MarkDone(ctx context.Context, id string, at time.Time) error
	MarkRetry(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id string, attempts int, lastErr string, at time.Time) error
}

// Handler delivers one task. Wrap an error with backoff.Permanent to stop retries.
type Handler interface {
	Handle(ctx context.Context, task Task) error
}

type HandlerFunc func(ctx context.Context, task Task) error

func (f HandlerFunc) Handle(ctx context.Context, task Task) error {
	return f(ctx, task)
}

type DispatchResult struct {
	Processed int
	Succeeded int
	Retried   int
	Failed    int
}

type Dispatcher struct {
	store        Store
	handler      Handler
	clock        clock.Clock
	logger       *zap.Logger
	tracer       trace.Tracer
	batchSize    int
	maxAttempts  int
	lease        time.Duration
	pollInterval time.Duration
	initialDelay time.Duration
	maxDelay     time.Duration
}

const (
	defaultBatchSize    = 20
	defaultMaxAttempts  = 5
	defaultLease        = time.Minute
	defaultPollInterval = 2 * time.Second
	defaultInitialDelay = 5 * time.Second
	defaultMaxDelay     = 10 * time.Minute
)

type DispatcherOption func(*Dispatcher)

func WithBatchSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

func WithMaxAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

func WithLease(lease time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if lease > 0 {
			d.lease = lease
		}
	}
}

func WithPollInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.pollInterval = interval
		}
	}
}

// WithRetryDelays sets the first retry delay and the cap for the exponential schedule.
func WithRetryDelays(initial, ceiling time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if initial > 0 {
			d.initialDelay = initial
		}
		if ceiling > 0 {
			d.maxDelay = ceiling
		}
	}
}

func WithLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithTracer(tracer trace.Tracer) DispatcherOption {
	return func(d *Dispatcher) {
		if tracer != nil {
			d.tracer = tracer
		}
	}
}

func NewDispatcher(store Store, handler Handler, clk clock.Clock, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:        store,
		handler:      handler,
		clock:        clk,
		logger:       zap.NewNop(),
		tracer:       noop.NewTracerProvider().Tracer("outbox"),
		batchSize:    defaultBatchSize,
		maxAttempts:  defaultMaxAttempts,
		lease:        defaultLease,
		pollInterval: defaultPollInterval,
		initialDelay: defaultInitialDelay,
		maxDelay:     defaultMaxDelay,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run polls for due tasks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := d.DispatchPending(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("outbox dispatch failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchPending claims one batch of due tasks and handles each of them.
func (d *Dispatcher) DispatchPending(ctx context.Context) (DispatchResult, error) {
	ctx, span := d.tracer.Start(ctx, "outbox.dispatch")
	defer span.End()

	var result DispatchResult
	tasks, err := d.store.ClaimDue(ctx, d.clock.Now(), d.lease, d.batchSize)
	if err != nil {
		span.RecordError(err)
		return result, err
	}

	for _, task := range tasks {
		result.Processed++
		switch err := d.dispatch(ctx, task); {
		case err == nil:
			result.Succeeded++
		case errors.Is(err, errRetryScheduled):
			result.Retried++
		case errors.Is(err, errGaveUp):
			result.Failed++
		default:
			span.RecordError(err)
			return result, err
		}
	}

	span.SetAttributes(
		attribute.Int("outbox.processed", result.Processed),
		attribute.Int("outbox.failed", result.Failed),
	)
	return result, nil
}

var (
	errRetryScheduled = errors.New("retry scheduled")
	errGaveUp         = errors.New("task failed")
)

func (d *Dispatcher) dispatch(ctx context.Context, task Task) error {
	logger := d.logger.With(
		zap.String("task_id", task.ID),
		zap.String("order_id", task.OrderID),
		zap.String("kind", string(task.Kind)),
	)

	handleErr := d.handler.Handle(ctx, task)
	now := d.clock.Now()
	if handleErr == nil {
		if err := d.store.MarkDone(ctx, task.ID, now); err != nil {
			return err
		}
		logger.Info("outbox task delivered")
		return nil
	}

	attempts := task.Attempts + 1
	var permanent *backoff.PermanentError
	if errors.As(handleErr, &permanent) || attempts >= d.maxAttempts {
		if err := d.store.MarkFailed(ctx, task.ID, attempts, handleErr.Error(), now); err != nil {
			return err
		}
		logger.Error("outbox task failed", zap.Int("attempts", attempts), zap.Error(handleErr))
		return errGaveUp
	}

	next := now.Add(d.retryDelay(attempts))
	if err := d.store.MarkRetry(ctx, task.ID, attempts, next, handleErr.Error()); err != nil {
		return err
	}
	logger.Warn("outbox task will be retried",
		zap.Int("attempts", attempts),
		zap.Time("next_attempt_at", next),
		zap.Error(handleErr),
	)
	return errRetryScheduled
}

// retryDelay returns the delay before retry number attempts (1-based).
func (d *Dispatcher) retryDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(d.initialDelay),
		backoff.WithMaxInterval(d.maxDelay),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)
	delay := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
