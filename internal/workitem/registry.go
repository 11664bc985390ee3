package workitem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	logpkg "github.com/rzbill/maestro/pkg/log"
)

var (
	// ErrUnknownType is returned by Dispatch when no processor handles the item's type.
	ErrUnknownType = errors.New("workitem: no processor registered for type")
	// ErrMalformed is returned by Decode for payloads that are not a valid envelope.
	ErrMalformed = errors.New("workitem: malformed envelope")
)

// Item is the envelope every queued payload is wrapped in:
//
//	{"type": "ping", "id": "optional", "data": {...}}
type Item struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// New builds an Item of the given type with data marshalled as JSON.
func New(typ string, data any) (Item, error) {
	it := Item{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Item{}, fmt.Errorf("workitem: marshal %s: %w", typ, err)
		}
		it.Data = raw
	}
	return it, nil
}

// Encode serializes an Item for the queue.
func Encode(it Item) ([]byte, error) {
	if strings.TrimSpace(it.Type) == "" {
		return nil, fmt.Errorf("%w: empty type", ErrMalformed)
	}
	return json.Marshal(it)
}

// Processor handles one work-item type.
type Processor interface {
	Process(ctx context.Context, it Item) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, it Item) error

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, it Item) error { return f(ctx, it) }

// ContextProvider is implemented by processors that want extra fields on the
// log lines written around their items.
type ContextProvider interface {
	LoggingContext(it Item) []logpkg.Field
}

// Typed returns a Processor that decodes Item.Data into T before calling fn.
func Typed[T any](fn func(ctx context.Context, data T) error) Processor {
	return ProcessorFunc(func(ctx context.Context, it Item) error {
		var v T
		if len(it.Data) > 0 {
			if err := json.Unmarshal(it.Data, &v); err != nil {
				return fmt.Errorf("%w: %s data: %v", ErrMalformed, it.Type, err)
			}
		}
		return fn(ctx, v)
	})
}

// Registry routes items to processors by type.
type Registry struct {
	mu     sync.RWMutex
	procs  map[string]Processor
	logger logpkg.Logger
}

// NewRegistry returns an empty registry. A nil logger discards output.
func NewRegistry(logger logpkg.Logger) *Registry {
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	return &Registry{procs: map[string]Processor{}, logger: logger.With(logpkg.Component("workitem"))}
}

// Register binds typ to p. Registering a type twice is an error.
func (r *Registry) Register(typ string, p Processor) error {
	if strings.TrimSpace(typ) == "" || p == nil {
		return errors.New("workitem: register needs a type and a processor")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.procs[typ]; dup {
		return fmt.Errorf("workitem: type %q already registered", typ)
	}
	r.procs[typ] = p
	return nil
}

// MustRegister is Register that panics on error. Used during wiring.
func (r *Registry) MustRegister(typ string, p Processor) {
	if err := r.Register(typ, p); err != nil {
		panic(err)
	}
}

// Types lists the registered types in order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.procs))
	for t := range r.procs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Decode parses a queue payload into an Item.
func (r *Registry) Decode(payload []byte) (Item, error) {
	var it Item
	if err := json.Unmarshal(payload, &it); err != nil {
		return Item{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(it.Type) == "" {
		return Item{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return it, nil
}

// Dispatch runs the processor registered for it.Type.
func (r *Registry) Dispatch(ctx context.Context, it Item) error {
	r.mu.RLock()
	p, ok := r.procs[it.Type]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, it.Type)
	}

	fields := []logpkg.Field{logpkg.Str("work_item_type", it.Type)}
	if it.ID != "" {
		fields = append(fields, logpkg.Str("work_item_id", it.ID))
	}
	if cp, ok := p.(ContextProvider); ok {
		fields = append(fields, cp.LoggingContext(it)...)
	}
	l := r.logger.With(fields...)
	l.Debug("processing work item")
	if err := p.Process(ctx, it); err != nil {
		return fmt.Errorf("workitem %s: %w", it.Type, err)
	}
	l.Debug("processed work item")
	return nil
}
