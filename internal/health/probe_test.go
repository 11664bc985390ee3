package health

import (
	"context"
	"errors"
	"testing"

	"github.com/rzbill/maestro/internal/lifecycle"
	"github.com/rzbill/maestro/internal/replicastate"
	"github.com/rzbill/maestro/internal/statestore"
)

type brokenStore struct{ statestore.Store }

func (brokenStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func TestProbeFollowsPublishedState(t *testing.T) {
	store := statestore.NewMemory()
	m := lifecycle.NewManager()
	pub := replicastate.NewPublisher(store, m, "r1")
	probe := NewProbe(replicastate.NewReader(store, ""), "r1")
	ctx := context.Background()

	if st := probe.Check(ctx); st.Healthy || st.State != lifecycle.Initializing || st.Err != nil {
		t.Fatalf("unpublished replica should be initializing and unhealthy: %+v", st)
	}

	steps := []struct {
		do      func()
		state   lifecycle.State
		healthy bool
	}{
		{func() {}, lifecycle.Initializing, false},
		{func() { _ = m.InitializationFinished() }, lifecycle.Working, true},
		{m.RequestDrain, lifecycle.Stopped, true},
		{m.Start, lifecycle.Working, true},
	}
	for _, s := range steps {
		s.do()
		if err := pub.Publish(ctx); err != nil {
			t.Fatalf("publish: %v", err)
		}
		st := probe.Check(ctx)
		if st.State != s.state || st.Healthy != s.healthy {
			t.Fatalf("state %s: got %+v", s.state, st)
		}
	}
}

func TestProbeStoreError(t *testing.T) {
	probe := NewProbe(replicastate.NewReader(brokenStore{}, ""), "r1")
	st := probe.Check(context.Background())
	if st.Healthy || st.Err == nil {
		t.Fatalf("store error must be unhealthy with error: %+v", st)
	}
}
