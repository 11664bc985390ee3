package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorking(t *testing.T) *Manager {
	t.Helper()
	m := NewManager()
	require.NoError(t, m.InitializationFinished())
	require.Equal(t, Working, m.State())
	return m
}

func gateOpen(m *Manager) bool {
	m.mu.Lock()
	gate := m.gate
	m.mu.Unlock()
	select {
	case <-gate:
		return true
	default:
		return false
	}
}

func TestInitializationFinished(t *testing.T) {
	m := NewManager()
	require.Equal(t, Initializing, m.State())
	require.False(t, gateOpen(m))

	require.NoError(t, m.InitializationFinished())
	assert.Equal(t, Working, m.State())
	assert.True(t, gateOpen(m))

	err := m.InitializationFinished()
	require.ErrorIs(t, err, ErrNotInitializing)
	assert.Equal(t, Working, m.State())
}

func TestDrainWithNothingInFlightStopsImmediately(t *testing.T) {
	var seen []State
	m := NewManager(WithObserver(func(_, to State) { seen = append(seen, to) }))
	require.NoError(t, m.InitializationFinished())

	m.RequestDrain()
	assert.Equal(t, Stopped, m.State())
	assert.False(t, gateOpen(m))
	assert.Equal(t, []State{Working, Stopped}, seen, "Stopping must not be observed")
}

func TestDrainWaitsForLastScope(t *testing.T) {
	m := newWorking(t)
	scope, err := m.BeginScope(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, m.InFlight())

	m.RequestDrain()
	assert.Equal(t, Stopping, m.State())
	assert.False(t, gateOpen(m))

	scope.Release()
	assert.Equal(t, Stopped, m.State())
	assert.Equal(t, 0, m.InFlight())
}

func TestStartReleasesAllBlockedWaiters(t *testing.T) {
	m := newWorking(t)
	m.RequestDrain()
	require.Equal(t, Stopped, m.State())

	const n = 3
	scopes := make(chan *Scope, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := m.BeginScope(context.Background())
			if err == nil {
				scopes <- s
			}
		}()
	}

	// give the waiters time to block; none may be admitted while Stopped
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, m.InFlight())
	require.Len(t, scopes, 0)

	m.Start()
	wg.Wait()
	assert.Equal(t, n, m.InFlight())
	assert.Len(t, scopes, n)
}

func TestStartCancelsPendingDrain(t *testing.T) {
	m := newWorking(t)
	scope, err := m.BeginScope(context.Background())
	require.NoError(t, err)

	m.RequestDrain()
	require.Equal(t, Stopping, m.State())

	m.Start()
	require.Equal(t, Working, m.State())
	require.True(t, gateOpen(m))

	scope.Release()
	assert.Equal(t, Working, m.State())
	assert.Equal(t, 0, m.InFlight())
}

func TestBeginScopeCancelledWhileBlocked(t *testing.T) {
	m := NewManager()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := m.BeginScope(ctx)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrCancelled)
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatalf("BeginScope did not return after cancellation")
	}
	assert.Equal(t, 0, m.InFlight())
}

func TestCancellingOneWaiterLeavesOthersBlocked(t *testing.T) {
	m := NewManager()
	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()

	errA := make(chan error, 1)
	admittedB := make(chan *Scope, 1)
	go func() {
		_, err := m.BeginScope(ctxA)
		errA <- err
	}()
	go func() {
		s, err := m.BeginScope(context.Background())
		if err == nil {
			admittedB <- s
		}
	}()
	time.Sleep(20 * time.Millisecond)
	cancelA()
	require.ErrorIs(t, <-errA, ErrCancelled)

	select {
	case <-admittedB:
		t.Fatalf("second waiter admitted while gate closed")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, m.InitializationFinished())
	select {
	case s := <-admittedB:
		s.Release()
	case <-time.After(time.Second):
		t.Fatalf("second waiter not admitted after gate opened")
	}
}

func TestBeginScopeWithDoneContextAdmitsNothing(t *testing.T) {
	m := newWorking(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.BeginScope(ctx)
	require.True(t, errors.Is(err, ErrCancelled))
	assert.Equal(t, 0, m.InFlight())
}

func TestReleaseIsExactlyOnce(t *testing.T) {
	m := newWorking(t)
	a, err := m.BeginScope(context.Background())
	require.NoError(t, err)
	b, err := m.BeginScope(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, m.InFlight())

	a.Release()
	a.Release()
	a.Release()
	assert.Equal(t, 1, m.InFlight())

	b.Release()
	assert.Equal(t, 0, m.InFlight())

	var nilScope *Scope
	nilScope.Release()
}

func TestStartAndDrainAreIdempotent(t *testing.T) {
	var transitions int
	m := NewManager(WithObserver(func(_, _ State) { transitions++ }))
	require.NoError(t, m.InitializationFinished())
	require.Equal(t, 1, transitions)

	m.Start()
	m.Start()
	assert.Equal(t, 1, transitions)
	assert.Equal(t, Working, m.State())

	m.RequestDrain()
	m.RequestDrain()
	assert.Equal(t, 2, transitions)
	assert.Equal(t, Stopped, m.State())

	m.Start()
	m.Start()
	assert.Equal(t, 3, transitions)
	assert.Equal(t, Working, m.State())
}

func TestStartIgnoredWhileInitializing(t *testing.T) {
	m := NewManager()
	m.Start()
	m.RequestDrain()
	assert.Equal(t, Initializing, m.State())
	assert.False(t, gateOpen(m))
}

func TestWithInitialStateStopped(t *testing.T) {
	m := NewManager(WithInitialState(Stopped))
	require.Equal(t, Stopped, m.State())
	require.ErrorIs(t, m.InitializationFinished(), ErrNotInitializing)
	m.Start()
	assert.Equal(t, Working, m.State())

	ignored := NewManager(WithInitialState(Working))
	assert.Equal(t, Initializing, ignored.State())
}

func TestWaitForState(t *testing.T) {
	m := newWorking(t)
	scope, err := m.BeginScope(context.Background())
	require.NoError(t, err)
	m.RequestDrain()

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- m.WaitForState(ctx, Stopped)
	}()

	time.Sleep(20 * time.Millisecond)
	scope.Release()
	require.NoError(t, <-done)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, m.WaitForState(ctx, Working), context.DeadlineExceeded)
}

func TestAddObserverSeesTransitionsInOrder(t *testing.T) {
	m := NewManager()
	type tr struct{ from, to State }
	var got []tr
	m.AddObserver(func(from, to State) { got = append(got, tr{from, to}) })

	require.NoError(t, m.InitializationFinished())
	s, err := m.BeginScope(context.Background())
	require.NoError(t, err)
	m.RequestDrain()
	s.Release()
	m.Start()

	want := []tr{
		{Initializing, Working},
		{Working, Stopping},
		{Stopping, Stopped},
		{Stopped, Working},
	}
	assert.Equal(t, want, got)
}

func TestSnapshot(t *testing.T) {
	m := newWorking(t)
	before := m.Snapshot()
	s, err := m.BeginScope(context.Background())
	require.NoError(t, err)
	defer s.Release()

	snap := m.Snapshot()
	assert.Equal(t, Working, snap.State)
	assert.Equal(t, 1, snap.InFlight)
	assert.Equal(t, before.Since, snap.Since, "admission is not a transition")
}

func TestStateText(t *testing.T) {
	for _, s := range []State{Initializing, Working, Stopping, Stopped} {
		b, err := s.MarshalText()
		require.NoError(t, err)
		var back State
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, s, back)
	}
	_, err := State(42).MarshalText()
	assert.Error(t, err)
	_, err = ParseState("running")
	assert.Error(t, err)
}
