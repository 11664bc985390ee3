package journal

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rzbill/maestro/internal/lifecycle"
	logpkg "github.com/rzbill/maestro/pkg/log"
)

const (
	// DefaultRetention is how long transitions are kept.
	DefaultRetention = 7 * 24 * time.Hour
	// TrimInterval is how often the recorder applies retention.
	TrimInterval = time.Hour

	bufferSize = 256
)

// Recorder appends lifecycle transitions to a Journal. Notify is safe to use
// as a lifecycle observer; Run does the writes.
type Recorder struct {
	j         *Journal
	ch        chan Entry
	dropped   atomic.Int64
	reported  int64
	retention time.Duration
	logger    logpkg.Logger
	now       func() time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithRetention sets how long entries are kept. Zero keeps them forever.
func WithRetention(d time.Duration) RecorderOption {
	return func(r *Recorder) { r.retention = d }
}

// WithLogger sets the recorder logger.
func WithLogger(l logpkg.Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder returns a recorder for j.
func NewRecorder(j *Journal, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		j:         j,
		ch:        make(chan Entry, bufferSize),
		retention: DefaultRetention,
		logger:    logpkg.NewNopLogger(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	r.logger = r.logger.With(logpkg.Component("journal"))
	return r
}

// Notify queues a transition. It never blocks; when the buffer is full the
// transition is counted as dropped.
func (r *Recorder) Notify(from, to lifecycle.State) {
	select {
	case r.ch <- Entry{From: from, To: to, At: r.now()}:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns how many transitions were not recorded.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Run writes queued transitions until ctx is cancelled, then flushes what is
// left. Retention is applied on start and every TrimInterval.
func (r *Recorder) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if r.retention > 0 {
		t := time.NewTicker(TrimInterval)
		defer t.Stop()
		tick = t.C
		r.trim(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			r.flush(context.WithoutCancel(ctx))
			r.reportDropped()
			return nil
		case e := <-r.ch:
			r.write(ctx, e)
			r.reportDropped()
		case <-tick:
			r.trim(ctx)
		}
	}
}

func (r *Recorder) flush(ctx context.Context) {
	for {
		select {
		case e := <-r.ch:
			r.write(ctx, e)
		default:
			return
		}
	}
}

// reportDropped logs drops seen since the last report. Only Run calls it.
func (r *Recorder) reportDropped() {
	d := r.dropped.Load()
	if d == r.reported {
		return
	}
	r.logger.Warn("journal buffer full, transitions dropped",
		logpkg.Int64("dropped", d-r.reported), logpkg.Int64("total", d))
	r.reported = d
}

func (r *Recorder) write(ctx context.Context, e Entry) {
	if _, err := r.j.Append(ctx, e); err != nil {
		r.logger.Warn("failed to record transition",
			logpkg.Str("from", e.From.String()), logpkg.Str("to", e.To.String()), logpkg.Err(err))
	}
}

func (r *Recorder) trim(ctx context.Context) {
	n, err := r.j.TrimOlderThan(ctx, r.now().Add(-r.retention), 0)
	if err != nil {
		r.logger.Warn("journal trim failed", logpkg.Err(err))
		return
	}
	if n > 0 {
		r.logger.Debug("journal trimmed", logpkg.Int("deleted", n))
	}
}
