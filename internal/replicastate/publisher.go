package replicastate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rzbill/maestro/internal/lifecycle"
	"github.com/rzbill/maestro/internal/statestore"
	logpkg "github.com/rzbill/maestro/pkg/log"
)

const (
	// DefaultPrefix is the store key prefix for replica entries.
	DefaultPrefix = "replicas/"
	// DefaultPublishInterval is how often an unchanged state is rewritten.
	DefaultPublishInterval = 30 * time.Second
	// DefaultWriteTimeout bounds a single store write.
	DefaultWriteTimeout = 5 * time.Second

	transitionBuffer = 64
)

// Entry is what a replica publishes about itself.
type Entry struct {
	Replica   string          `json:"replica"`
	State     lifecycle.State `json:"state"`
	InFlight  int             `json:"inFlight"`
	Since     time.Time       `json:"since"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Source supplies the state to publish. *lifecycle.Manager implements it.
type Source interface {
	Snapshot() lifecycle.Snapshot
}

// Metrics observes publish attempts.
type Metrics interface {
	ObservePublish(err error)
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(p *Publisher) { p.prefix = prefix }
}

// WithInterval sets the periodic republish interval. Zero disables it.
func WithInterval(d time.Duration) Option {
	return func(p *Publisher) { p.interval = d }
}

// WithWriteTimeout bounds each store write.
func WithWriteTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.writeTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logpkg.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics sets the publish observer.
func WithMetrics(m Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

// WithClock overrides time.Now for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		if now != nil {
			p.now = now
		}
	}
}

// Publisher mirrors a replica's lifecycle state into a shared store.
//
// Notify is registered as a lifecycle observer. It queues the new state and
// Run writes each one in transition order, so Working, Stopping, Stopped are
// all visible in the store even when they happen back to back. If the queue
// is full the transition is replaced by a request to publish the current
// snapshot, which only loses intermediate states. Store failures are logged
// and never feed back into the lifecycle.
type Publisher struct {
	store        statestore.Store
	source       Source
	replica      string
	prefix       string
	interval     time.Duration
	writeTimeout time.Duration
	logger       logpkg.Logger
	metrics      Metrics
	now          func() time.Time
	transitions  chan lifecycle.State
	notify       chan struct{}
}

// NewPublisher returns a publisher writing source's state for replica.
func NewPublisher(store statestore.Store, source Source, replica string, opts ...Option) *Publisher {
	p := &Publisher{
		store:        store,
		source:       source,
		replica:      replica,
		prefix:       DefaultPrefix,
		interval:     DefaultPublishInterval,
		writeTimeout: DefaultWriteTimeout,
		logger:       logpkg.NewNopLogger(),
		now:          time.Now,
		transitions:  make(chan lifecycle.State, transitionBuffer),
		notify:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(logpkg.Component("replicastate"), logpkg.Str("replica", replica))
	return p
}

// Key returns the store key this publisher writes.
func (p *Publisher) Key() string { return p.prefix + p.replica }

// Notify queues the new state for publishing. It never blocks and has the
// lifecycle.Observer signature.
func (p *Publisher) Notify(_, to lifecycle.State) {
	select {
	case p.transitions <- to:
		return
	default:
	}
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Publish writes the current snapshot.
func (p *Publisher) Publish(ctx context.Context) error {
	return p.publish(ctx, p.source.Snapshot())
}

// publishTransition writes state as the replica's state. In-flight count and
// Since still come from the current snapshot.
func (p *Publisher) publishTransition(ctx context.Context, state lifecycle.State) error {
	snap := p.source.Snapshot()
	snap.State = state
	return p.publish(ctx, snap)
}

func (p *Publisher) publish(ctx context.Context, snap lifecycle.Snapshot) error {
	entry := Entry{
		Replica:   p.replica,
		State:     snap.State,
		InFlight:  snap.InFlight,
		Since:     snap.Since,
		UpdatedAt: p.now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()
	err = p.store.Set(wctx, p.Key(), data)
	if p.metrics != nil {
		p.metrics.ObservePublish(err)
	}
	if err != nil {
		return fmt.Errorf("publish replica state: %w", err)
	}
	return nil
}

// Run publishes once, then on every notification and interval tick until
// ctx ends. A final publish runs after cancellation so the store holds the
// state the replica exited in.
func (p *Publisher) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if p.interval > 0 {
		t := time.NewTicker(p.interval)
		defer t.Stop()
		tick = t.C
	}
	p.publishLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			p.publishLogged(context.WithoutCancel(ctx))
			return nil
		case to := <-p.transitions:
			p.logPublish(p.publishTransition(ctx, to))
		case <-p.notify:
			// queued transitions are older than the current snapshot
			p.drainTransitions()
			p.publishLogged(ctx)
		case <-tick:
			p.publishLogged(ctx)
		}
	}
}

func (p *Publisher) drainTransitions() {
	for {
		select {
		case <-p.transitions:
		default:
			return
		}
	}
}

func (p *Publisher) publishLogged(ctx context.Context) {
	p.logPublish(p.Publish(ctx))
}

func (p *Publisher) logPublish(err error) {
	if err != nil {
		p.logger.Warn("failed to publish replica state", logpkg.Err(err))
		return
	}
	p.logger.Debug("published replica state")
}
