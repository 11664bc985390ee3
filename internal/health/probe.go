// Package health turns a replica's published lifecycle state into a
// readiness answer for orchestrators.
package health

import (
	"context"
	"errors"

	"github.com/rzbill/maestro/internal/lifecycle"
	"github.com/rzbill/maestro/internal/replicastate"
)

// Status is the outcome of a probe.
type Status struct {
	Healthy bool            `json:"healthy"`
	State   lifecycle.State `json:"state"`
	// Err is set when the state could not be read.
	Err error `json:"-"`
}

// Probe reads the entry the local replica published. It only observes and
// never drives transitions.
type Probe struct {
	reader  *replicastate.Reader
	replica string
}

// NewProbe returns a probe for replica.
func NewProbe(reader *replicastate.Reader, replica string) *Probe {
	return &Probe{reader: reader, replica: replica}
}

// Check reports unhealthy while the replica is Initializing and healthy in
// every other state. A replica that has not published yet counts as
// Initializing; a store error is unhealthy.
func (p *Probe) Check(ctx context.Context) Status {
	e, err := p.reader.Get(ctx, p.replica)
	switch {
	case errors.Is(err, replicastate.ErrNotFound):
		return Status{State: lifecycle.Initializing}
	case err != nil:
		return Status{State: lifecycle.Initializing, Err: err}
	}
	return Status{Healthy: e.State != lifecycle.Initializing, State: e.State}
}
