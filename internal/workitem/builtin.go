package workitem

import (
	"context"
	"fmt"
	"time"

	logpkg "github.com/rzbill/maestro/pkg/log"
)

// Built-in work-item types.
const (
	TypePing  = "ping"
	TypeSleep = "sleep"
)

// PingData is the payload of a ping item.
type PingData struct {
	Message string `json:"message"`
}

// SleepData is the payload of a sleep item. Duration uses time.ParseDuration syntax.
type SleepData struct {
	Duration string `json:"duration"`
}

// RegisterBuiltins registers the ping and sleep processors. Ping logs its
// message; sleep holds its scope for the given duration, which makes drains
// observable from the CLI.
func RegisterBuiltins(r *Registry, logger logpkg.Logger) error {
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	l := logger.With(logpkg.Component("builtin"))
	if err := r.Register(TypePing, Typed(func(_ context.Context, d PingData) error {
		l.Info("ping", logpkg.Str("message", d.Message))
		return nil
	})); err != nil {
		return err
	}
	return r.Register(TypeSleep, Typed(func(ctx context.Context, d SleepData) error {
		dur, err := time.ParseDuration(d.Duration)
		if err != nil {
			return fmt.Errorf("sleep: %w", err)
		}
		t := time.NewTimer(dur)
		defer t.Stop()
		select {
		case <-t.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))
}
