package consumer

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/rzbill/maestro/internal/workqueue"
)

// DefaultMaxDequeueCount is the dequeue count above which a message is poison.
const DefaultMaxDequeueCount = 5

// DefaultPoisonExpr is the poison rule used when none is configured.
var DefaultPoisonExpr = fmt.Sprintf("dequeue_count > %d", DefaultMaxDequeueCount)

// PoisonPolicy decides whether a received message is evicted instead of
// processed. It is a CEL expression over:
//
//	dequeue_count  int     times the message has been received, this one included
//	size           int     payload size in bytes
//	age_ms         int     time since enqueue
//	queue          string  queue name
//	message_id     string  hex message ID
type PoisonPolicy struct {
	expr string
	prog cel.Program
}

// NewPoisonPolicy compiles expr. An empty expr yields DefaultPoisonExpr.
func NewPoisonPolicy(expr string) (*PoisonPolicy, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		expr = DefaultPoisonExpr
	}
	env, err := cel.NewEnv(
		cel.Variable("dequeue_count", cel.IntType),
		cel.Variable("size", cel.IntType),
		cel.Variable("age_ms", cel.IntType),
		cel.Variable("queue", cel.StringType),
		cel.Variable("message_id", cel.StringType),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("poison policy %q: %w", expr, iss.Err())
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return nil, fmt.Errorf("poison policy %q: %w", expr, iss2.Err())
	}
	if !checked.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("poison policy %q: must evaluate to bool, got %s", expr, checked.OutputType())
	}
	prog, err := env.Program(checked)
	if err != nil {
		return nil, err
	}
	return &PoisonPolicy{expr: expr, prog: prog}, nil
}

// MustPoisonPolicy is NewPoisonPolicy that panics on error.
func MustPoisonPolicy(expr string) *PoisonPolicy {
	p, err := NewPoisonPolicy(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the source expression.
func (p *PoisonPolicy) String() string { return p.expr }

// IsPoison evaluates the policy for m. If evaluation fails the default
// dequeue-count threshold applies.
func (p *PoisonPolicy) IsPoison(queue string, m *workqueue.Message, now time.Time) bool {
	out, _, err := p.prog.Eval(map[string]any{
		"dequeue_count": int64(m.DequeueCount),
		"size":          int64(len(m.Payload)),
		"age_ms":        now.Sub(m.InsertedAt).Milliseconds(),
		"queue":         queue,
		"message_id":    m.ID.String(),
	})
	if err != nil {
		return m.DequeueCount > DefaultMaxDequeueCount
	}
	b, ok := out.Value().(bool)
	return ok && b
}
