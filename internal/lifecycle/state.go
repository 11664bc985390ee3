package lifecycle

import (
	"fmt"
	"strings"
)

// State is the processor lifecycle state of one replica.
type State int32

const (
	// Initializing is the starting state; no work is admitted until a
	// prerequisite completes and InitializationFinished is called.
	Initializing State = iota
	// Working admits new scopes.
	Working
	// Stopping refuses new scopes while admitted ones finish.
	Stopping
	// Stopped refuses new scopes and has nothing in flight.
	Stopped
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "Initializing"
	case Working:
		return "Working"
	case Stopping:
		return "Stopping"
	case Stopped:
		return "Stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ParseState parses a state name case-insensitively.
func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "initializing":
		return Initializing, nil
	case "working":
		return Working, nil
	case "stopping":
		return Stopping, nil
	case "stopped":
		return Stopped, nil
	default:
		return 0, fmt.Errorf("lifecycle: unknown state %q", s)
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	switch s {
	case Initializing, Working, Stopping, Stopped:
		return []byte(s.String()), nil
	default:
		return nil, fmt.Errorf("lifecycle: cannot marshal %s", s)
	}
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	v, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
