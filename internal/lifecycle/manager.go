package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logpkg "github.com/rzbill/maestro/pkg/log"
)

var (
	// ErrCancelled is returned by BeginScope when the caller's context ends
	// before the scope is admitted.
	ErrCancelled = errors.New("lifecycle: scope admission cancelled")
	// ErrNotInitializing is returned by InitializationFinished outside Initializing.
	ErrNotInitializing = errors.New("lifecycle: not initializing")
)

// Observer is told about every transition, in order. It runs while the
// manager lock is held and must neither block nor call back into the manager.
type Observer func(from, to State)

// Snapshot is a consistent view of the manager at one instant.
type Snapshot struct {
	State    State     `json:"state"`
	InFlight int       `json:"inFlight"`
	Since    time.Time `json:"since"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for transition events.
func WithLogger(l logpkg.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithObserver registers an observer at construction time.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observers = append(m.observers, o)
		}
	}
}

// WithInitialState starts the manager in Stopped instead of Initializing.
// Any other state is ignored.
func WithInitialState(s State) Option {
	return func(m *Manager) {
		if s == Initializing || s == Stopped {
			m.state = s
		}
	}
}

// Manager owns the lifecycle state, the admission gate and the in-flight
// counter of one process. All three only change under mu.
type Manager struct {
	mu        sync.Mutex
	state     State
	inFlight  int
	since     time.Time
	gate      chan struct{} // closed while the gate is open
	changed   chan struct{} // closed and replaced on every transition
	observers []Observer
	logger    logpkg.Logger
}

// NewManager returns a manager in Initializing with the gate closed.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		state:   Initializing,
		since:   time.Now(),
		gate:    make(chan struct{}),
		changed: make(chan struct{}),
		logger:  logpkg.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(logpkg.Component("lifecycle"))
	return m
}

// AddObserver registers o for subsequent transitions.
func (m *Manager) AddObserver(o Observer) {
	if o == nil {
		return
	}
	m.mu.Lock()
	m.observers = append(m.observers, o)
	m.mu.Unlock()
}

// InitializationFinished moves Initializing to Working and opens the gate.
func (m *Manager) InitializationFinished() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Initializing {
		return fmt.Errorf("%w: state is %s", ErrNotInitializing, m.state)
	}
	m.transitionLocked(Working)
	return nil
}

// Start opens the gate from Stopped, or cancels a pending drain from
// Stopping. It is a no-op in Working and has no effect while Initializing.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case Stopped, Stopping:
		m.transitionLocked(Working)
	case Initializing:
		m.logger.Debug("start ignored while initializing")
	}
}

// RequestDrain closes the gate. With nothing in flight the manager goes
// straight to Stopped; otherwise it waits in Stopping for the last scope.
// It is a no-op outside Working.
func (m *Manager) RequestDrain() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Working {
		return
	}
	if m.inFlight == 0 {
		m.transitionLocked(Stopped)
		return
	}
	m.transitionLocked(Stopping)
}

// BeginScope blocks until the gate is open, then admits one unit of work.
// If ctx ends first the error wraps both ErrCancelled and ctx.Err() and
// nothing is admitted. Waiters are not served in any particular order.
func (m *Manager) BeginScope(ctx context.Context) (*Scope, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		m.mu.Lock()
		if m.state == Working {
			m.inFlight++
			m.mu.Unlock()
			return &Scope{m: m}, nil
		}
		gate := m.gate
		m.mu.Unlock()

		select {
		case <-gate:
			// opened; the gate may close again before we reacquire the lock
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// InFlight returns the number of admitted, unreleased scopes.
func (m *Manager) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

// Snapshot returns state, in-flight count and the time of the last transition.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{State: m.state, InFlight: m.inFlight, Since: m.since}
}

// WaitForState blocks until the manager is in target or ctx ends.
func (m *Manager) WaitForState(ctx context.Context, target State) error {
	for {
		m.mu.Lock()
		state, changed := m.state, m.changed
		m.mu.Unlock()
		if state == target {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Manager) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight == 0 {
		// unreachable while Scope.Release is exactly-once
		m.logger.Error("scope released with nothing in flight")
		return
	}
	m.inFlight--
	if m.inFlight == 0 && m.state == Stopping {
		m.transitionLocked(Stopped)
	}
}

// transitionLocked moves to `to`, keeping the gate consistent with the
// state. Caller holds mu.
func (m *Manager) transitionLocked(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.since = time.Now()

	switch {
	case to == Working:
		close(m.gate)
	case from == Working:
		m.gate = make(chan struct{})
	}

	close(m.changed)
	m.changed = make(chan struct{})

	m.logger.Info("lifecycle transition",
		logpkg.Str("from", from.String()),
		logpkg.Str("to", to.String()),
		logpkg.Int("in_flight", m.inFlight),
	)
	for _, o := range m.observers {
		o(from, to)
	}
}
