package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rzbill/maestro/internal/lifecycle"
	"github.com/rzbill/maestro/internal/workitem"
	"github.com/rzbill/maestro/internal/workqueue"
	logpkg "github.com/rzbill/maestro/pkg/log"
)

// DefaultPollInterval is how long a loop sleeps after finding its queue empty.
const DefaultPollInterval = time.Second

// ErrHandlerPanic wraps a panic recovered from a processor.
var ErrHandlerPanic = errors.New("consumer: handler panicked")

// Queue is the part of a durable queue a loop needs.
type Queue interface {
	Name() string
	// Receive returns nil, nil when no message is visible.
	Receive(ctx context.Context) (*workqueue.Message, error)
	Delete(ctx context.Context, msg *workqueue.Message) error
}

// Gate admits units of work. *lifecycle.Manager implements it.
type Gate interface {
	BeginScope(ctx context.Context) (*lifecycle.Scope, error)
}

// Dispatcher turns payloads into work items and runs them.
// *workitem.Registry implements it.
type Dispatcher interface {
	Decode(payload []byte) (workitem.Item, error)
	Dispatch(ctx context.Context, it workitem.Item) error
}

// Outcome is the result of one loop iteration.
type Outcome string

const (
	OutcomeEmpty        Outcome = "empty"
	OutcomeReceiveError Outcome = "receive_error"
	OutcomePoison       Outcome = "poison"
	OutcomeCancelled    Outcome = "cancelled"
	OutcomeDecodeError  Outcome = "decode_error"
	OutcomeFailure      Outcome = "failure"
	OutcomeSuccess      Outcome = "success"
)

// Option configures a Loop.
type Option func(*Loop)

// WithPollInterval sets the empty-queue sleep.
func WithPollInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.poll = d
		}
	}
}

// WithPoisonPolicy replaces the default dequeue-count rule.
func WithPoisonPolicy(p *PoisonPolicy) Option {
	return func(l *Loop) {
		if p != nil {
			l.poison = p
		}
	}
}

// WithMetrics sets the outcome sink.
func WithMetrics(m Metrics) Option {
	return func(l *Loop) {
		if m != nil {
			l.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(lg logpkg.Logger) Option {
	return func(l *Loop) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// WithSlot tags the loop's log lines with its slot number within a pool.
func WithSlot(n int) Option {
	return func(l *Loop) { l.slot = n }
}

// Loop consumes one queue: poll, evict poison, admit through the gate,
// process, acknowledge, release.
type Loop struct {
	queue      Queue
	gate       Gate
	dispatcher Dispatcher
	poll       time.Duration
	poison     *PoisonPolicy
	metrics    Metrics
	logger     logpkg.Logger
	slot       int
	now        func() time.Time
}

// NewLoop builds a loop over q. Every message goes through gate before it
// reaches d.
func NewLoop(q Queue, gate Gate, d Dispatcher, opts ...Option) *Loop {
	l := &Loop{
		queue:      q,
		gate:       gate,
		dispatcher: d,
		poll:       DefaultPollInterval,
		poison:     MustPoisonPolicy(""),
		metrics:    NoopMetrics{},
		logger:     logpkg.NewNopLogger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(logpkg.Component("consumer"), logpkg.Str("queue", q.Name()), logpkg.Int("slot", l.slot))
	return l
}

// Run loops until ctx is cancelled, then returns nil. Processing failures
// never end the loop.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Debug("consumer loop started")
	defer l.logger.Debug("consumer loop stopped")
	for {
		if ctx.Err() != nil {
			return nil
		}
		switch l.Step(ctx) {
		case OutcomeCancelled:
			return nil
		case OutcomeEmpty, OutcomeReceiveError:
			if !sleep(ctx, l.poll) {
				return nil
			}
		}
	}
}

// Step runs a single iteration and reports what happened.
func (l *Loop) Step(ctx context.Context) Outcome {
	msg, err := l.queue.Receive(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return OutcomeCancelled
		}
		l.logger.Warn("receive failed", logpkg.Err(err))
		l.metrics.ObserveOutcome(l.queue.Name(), "", OutcomeReceiveError, 0)
		return OutcomeReceiveError
	}
	if msg == nil {
		return OutcomeEmpty
	}
	ml := l.logger.With(
		logpkg.Str("message_id", msg.ID.String()),
		logpkg.Int("dequeue_count", msg.DequeueCount),
	)

	if l.poison.IsPoison(l.queue.Name(), msg, l.now()) {
		if err := l.queue.Delete(ctx, msg); err != nil {
			ml.Error("failed to evict poison message", logpkg.Err(err), logpkg.Str("policy", l.poison.String()))
		} else {
			ml.Error("evicted poison message", logpkg.Str("policy", l.poison.String()), logpkg.Int("size", len(msg.Payload)))
		}
		l.metrics.ObserveOutcome(l.queue.Name(), "", OutcomePoison, 0)
		return OutcomePoison
	}

	scope, err := l.gate.BeginScope(ctx)
	if err != nil {
		// the message becomes visible again after its timeout
		ml.Debug("admission cancelled", logpkg.Err(err))
		return OutcomeCancelled
	}
	defer scope.Release()

	start := l.now()
	item, err := l.dispatcher.Decode(msg.Payload)
	if err != nil {
		ml.Error("failed to decode work item, leaving for redelivery", logpkg.Err(err))
		l.metrics.ObserveOutcome(l.queue.Name(), "", OutcomeDecodeError, l.now().Sub(start))
		return OutcomeDecodeError
	}
	ml = ml.With(logpkg.Str("work_item_type", item.Type))

	if err := l.dispatch(ctx, item); err != nil {
		ml.Error("work item failed, leaving for redelivery", logpkg.Err(err))
		l.metrics.ObserveOutcome(l.queue.Name(), item.Type, OutcomeFailure, l.now().Sub(start))
		return OutcomeFailure
	}
	elapsed := l.now().Sub(start)

	// acknowledge even if ctx was cancelled while the handler finished
	if err := l.queue.Delete(context.WithoutCancel(ctx), msg); err != nil {
		ml.Warn("processed but could not delete; message will be redelivered", logpkg.Err(err))
	}
	l.metrics.ObserveOutcome(l.queue.Name(), item.Type, OutcomeSuccess, elapsed)
	ml.Debug("work item processed", logpkg.Dur("elapsed", elapsed))
	return OutcomeSuccess
}

func (l *Loop) dispatch(ctx context.Context, it workitem.Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return l.dispatcher.Dispatch(ctx, it)
}

// sleep waits for d or until ctx ends. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
