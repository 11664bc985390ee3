package consumer

import (
	"context"

	logpkg "github.com/rzbill/maestro/pkg/log"
	"golang.org/x/sync/errgroup"
)

// Pool runs a fixed number of loops per queue, all sharing one gate.
type Pool struct {
	loops  []*Loop
	logger logpkg.Logger
}

// NewPool returns an empty pool.
func NewPool(logger logpkg.Logger) *Pool {
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	return &Pool{logger: logger.With(logpkg.Component("consumer-pool"))}
}

// Add registers consumers loops over q. opts apply to each of them.
func (p *Pool) Add(q Queue, gate Gate, d Dispatcher, consumers int, opts ...Option) {
	if consumers <= 0 {
		consumers = 1
	}
	for i := 0; i < consumers; i++ {
		loopOpts := append([]Option{WithLogger(p.logger), WithSlot(i)}, opts...)
		p.loops = append(p.loops, NewLoop(q, gate, d, loopOpts...))
	}
	p.logger.Info("consumers registered", logpkg.Str("queue", q.Name()), logpkg.Int("consumers", consumers))
}

// Size returns the number of loops.
func (p *Pool) Size() int { return len(p.loops) }

// Run starts every loop and blocks until all of them have returned, which
// happens once ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range p.loops {
		g.Go(func() error { return l.Run(gctx) })
	}
	return g.Wait()
}
