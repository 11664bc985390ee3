package replicastate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rzbill/maestro/internal/lifecycle"
	"github.com/rzbill/maestro/internal/statestore"
)

// ErrNotFound is returned when a replica has never published.
var ErrNotFound = errors.New("replicastate: replica not found")

// Reader reads entries published by any replica.
type Reader struct {
	store  statestore.Store
	prefix string
}

// NewReader reads entries under prefix; empty means DefaultPrefix.
func NewReader(store statestore.Store, prefix string) *Reader {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Reader{store: store, prefix: prefix}
}

// Get returns the entry for replica.
func (r *Reader) Get(ctx context.Context, replica string) (Entry, error) {
	data, err := r.store.Get(ctx, r.prefix+replica)
	if errors.Is(err, statestore.ErrNotFound) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, replica)
	}
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("decode replica %s: %w", replica, err)
	}
	return e, nil
}

// List returns every readable entry ordered by replica name. Entries that
// fail to decode are skipped.
func (r *Reader) List(ctx context.Context) ([]Entry, error) {
	raw, err := r.store.List(ctx, r.prefix)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(raw))
	for k, v := range raw {
		var e Entry
		if err := json.Unmarshal(v, &e); err != nil {
			continue
		}
		if e.Replica == "" {
			e.Replica = strings.TrimPrefix(k, r.prefix)
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Replica < out[j].Replica })
	return out, nil
}

// Summary aggregates the fleet.
type Summary struct {
	// State is the most active state reported by a fresh replica:
	// Working, then Stopping, then Initializing, then Stopped.
	State    lifecycle.State `json:"state"`
	Replicas int             `json:"replicas"`
	Counts   map[string]int  `json:"counts"`
	// Stale lists replicas whose entry is older than the stale threshold.
	// They are counted but do not influence State.
	Stale      []string `json:"stale,omitempty"`
	AllStopped bool     `json:"allStopped"`
}

var precedence = []lifecycle.State{lifecycle.Working, lifecycle.Stopping, lifecycle.Initializing}

// Summarize aggregates entries as of now. staleAfter <= 0 disables staleness.
// An empty fleet summarizes as Stopped.
func Summarize(entries []Entry, now time.Time, staleAfter time.Duration) Summary {
	s := Summary{State: lifecycle.Stopped, Replicas: len(entries), Counts: make(map[string]int)}
	fresh := make(map[lifecycle.State]bool)
	allStopped := true
	for _, e := range entries {
		s.Counts[e.State.String()]++
		if e.State != lifecycle.Stopped {
			allStopped = false
		}
		if staleAfter > 0 && now.Sub(e.UpdatedAt) > staleAfter {
			s.Stale = append(s.Stale, e.Replica)
			continue
		}
		fresh[e.State] = true
	}
	for _, st := range precedence {
		if fresh[st] {
			s.State = st
			break
		}
	}
	s.AllStopped = allStopped
	return s
}
