package runtime

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rzbill/maestro/internal/config"
	"github.com/rzbill/maestro/internal/consumer"
	"github.com/rzbill/maestro/internal/health"
	"github.com/rzbill/maestro/internal/journal"
	"github.com/rzbill/maestro/internal/lifecycle"
	"github.com/rzbill/maestro/internal/metrics"
	"github.com/rzbill/maestro/internal/replicastate"
	"github.com/rzbill/maestro/internal/statestore"
	azurestore "github.com/rzbill/maestro/internal/statestore/azure"
	s3store "github.com/rzbill/maestro/internal/statestore/s3"
	pebblestore "github.com/rzbill/maestro/internal/storage/pebble"
	"github.com/rzbill/maestro/internal/workitem"
	"github.com/rzbill/maestro/internal/workqueue"
	logpkg "github.com/rzbill/maestro/pkg/log"
)

var timeNow = time.Now

// Options for building the Runtime.
type Options struct {
	Config config.Config
	Logger logpkg.Logger
	// Store overrides the configured state store backend.
	Store statestore.Store
	// NowMs overrides the queue clock.
	NowMs func() int64
}

// Runtime wires storage, queues, the lifecycle manager and state publishing
// for one replica.
type Runtime struct {
	db       *pebblestore.DB
	config   config.Config
	logger   logpkg.Logger
	metrics  *metrics.Metrics
	manager  *lifecycle.Manager
	store    statestore.Store
	pub      *replicastate.Publisher
	reader   *replicastate.Reader
	probe    *health.Probe
	journal  *journal.Journal
	recorder *journal.Recorder
	registry *workitem.Registry
	poison   *consumer.PoisonPolicy
	queues   map[string]*workqueue.WorkQueue
}

// ParseFsync maps the configured fsync name to a pebble mode.
func ParseFsync(s string) (pebblestore.FsyncMode, error) {
	switch s {
	case "always":
		return pebblestore.FsyncModeAlways, nil
	case "interval", "":
		return pebblestore.FsyncModeInterval, nil
	case "never":
		return pebblestore.FsyncModeNever, nil
	default:
		return pebblestore.FsyncModeUnspecified, fmt.Errorf("unknown fsync mode %q", s)
	}
}

// Open initializes storage and every component. The manager starts in
// Initializing, or Stopped when the config asks for it.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	fsync, err := ParseFsync(cfg.Fsync)
	if err != nil {
		return nil, err
	}
	poison, err := consumer.NewPoisonPolicy(cfg.PoisonPolicy)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: cfg.DataDir, Fsync: fsync, Metrics: m})
	if err != nil {
		return nil, err
	}
	r := &Runtime{
		db:       db,
		config:   cfg,
		logger:   logger,
		metrics:  m,
		poison:   poison,
		registry: workitem.NewRegistry(logger),
		queues:   make(map[string]*workqueue.WorkQueue),
	}
	if err := workitem.RegisterBuiltins(r.registry, logger); err != nil {
		_ = db.Close()
		return nil, err
	}

	for _, qc := range cfg.Queues {
		q, err := workqueue.OpenQueue(db, qc.Name, workqueue.Options{VisibilityTimeout: qc.VisibilityTimeout, NowMs: opts.NowMs})
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		r.queues[qc.Name] = q
	}

	r.store = opts.Store
	if r.store == nil {
		if r.store, err = openStore(ctx, cfg.StateStore, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	if r.journal, err = journal.Open(db, cfg.Replica); err != nil {
		_ = db.Close()
		return nil, err
	}
	r.recorder = journal.NewRecorder(r.journal,
		journal.WithRetention(cfg.JournalRetention),
		journal.WithLogger(logger),
	)

	initial := lifecycle.Initializing
	if cfg.StartStopped {
		initial = lifecycle.Stopped
	}
	r.manager = lifecycle.NewManager(
		lifecycle.WithLogger(logger),
		lifecycle.WithInitialState(initial),
		lifecycle.WithObserver(m.ObserveTransition),
		lifecycle.WithObserver(r.recorder.Notify),
	)
	m.SetState(initial)
	m.TrackInFlight(r.manager.InFlight)
	m.TrackJournalDropped(r.recorder.Dropped)

	r.pub = replicastate.NewPublisher(r.store, r.manager, cfg.Replica,
		replicastate.WithPrefix(cfg.StateStore.Prefix),
		replicastate.WithInterval(cfg.StateStore.PublishInterval),
		replicastate.WithLogger(logger),
		replicastate.WithMetrics(m),
	)
	r.manager.AddObserver(r.pub.Notify)
	r.reader = replicastate.NewReader(r.store, cfg.StateStore.Prefix)
	r.probe = health.NewProbe(r.reader, cfg.Replica)

	logger.Info("runtime opened",
		logpkg.Str("replica", cfg.Replica),
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Str("state_backend", cfg.StateStore.Backend),
		logpkg.Int("queues", len(r.queues)),
		logpkg.Str("poison_policy", poison.String()))
	return r, nil
}

func openStore(ctx context.Context, sc config.StateStoreConfig, db *pebblestore.DB) (statestore.Store, error) {
	switch sc.Backend {
	case "memory":
		return statestore.NewMemory(), nil
	case "pebble", "":
		return statestore.NewPebble(db), nil
	case "s3":
		return s3store.New(s3store.Config{
			Endpoint:       sc.S3.Endpoint,
			Region:         sc.S3.Region,
			Bucket:         sc.S3.Bucket,
			Prefix:         sc.S3.Prefix,
			AccessKey:      sc.S3.AccessKey,
			SecretKey:      sc.S3.SecretKey,
			Insecure:       sc.S3.Insecure,
			ForcePathStyle: sc.S3.ForcePathStyle,
		})
	case "azure":
		return azurestore.New(ctx, azurestore.Config{
			Account:    sc.Azure.Account,
			AccountKey: sc.Azure.AccountKey,
			Endpoint:   sc.Azure.Endpoint,
			SASToken:   sc.Azure.SASToken,
			Container:  sc.Azure.Container,
			Prefix:     sc.Azure.Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown state store backend %q", sc.Backend)
	}
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth verifies the local database is usable.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.Ping()
}

// NewPool builds the consumer pool for every configured queue.
func (r *Runtime) NewPool() *consumer.Pool {
	pool := consumer.NewPool(r.logger)
	for _, qc := range r.config.Queues {
		pool.Add(r.queues[qc.Name], r.manager, r.registry, qc.Consumers,
			consumer.WithPollInterval(qc.PollInterval),
			consumer.WithPoisonPolicy(r.poison),
			consumer.WithMetrics(r.metrics),
		)
	}
	return pool
}

// Status is the local snapshot plus the fleet view from the state store.
type Status struct {
	Replica  string                 `json:"replica"`
	Local    lifecycle.Snapshot     `json:"local"`
	Fleet    replicastate.Summary   `json:"fleet"`
	Replicas []replicastate.Entry   `json:"replicas"`
	Queues   map[string]QueueStatus `json:"queues,omitempty"`
}

// QueueStatus reports a queue's message counts.
type QueueStatus struct {
	Visible   int `json:"visible"`
	Invisible int `json:"invisible"`
}

// Status gathers the local and fleet state.
func (r *Runtime) Status(ctx context.Context) (Status, error) {
	entries, err := r.reader.List(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("list replicas: %w", err)
	}
	st := Status{
		Replica:  r.config.Replica,
		Local:    r.manager.Snapshot(),
		Fleet:    replicastate.Summarize(entries, timeNow(), r.config.StateStore.StaleAfter),
		Replicas: entries,
		Queues:   make(map[string]QueueStatus, len(r.queues)),
	}
	for name, q := range r.queues {
		s, err := q.Stats(ctx)
		if err != nil {
			return Status{}, fmt.Errorf("queue %s stats: %w", name, err)
		}
		st.Queues[name] = QueueStatus{Visible: s.Visible, Invisible: s.Invisible}
	}
	return st, nil
}

// Queue returns the named queue.
func (r *Runtime) Queue(name string) (*workqueue.WorkQueue, bool) {
	q, ok := r.queues[name]
	return q, ok
}

// QueueNames returns the configured queue names in order.
func (r *Runtime) QueueNames() []string {
	names := make([]string, 0, len(r.queues))
	for n := range r.queues {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Config returns the runtime configuration.
func (r *Runtime) Config() config.Config { return r.config }

// Manager returns the replica's lifecycle manager.
func (r *Runtime) Manager() *lifecycle.Manager { return r.manager }

// Publisher returns the replica state publisher. Its Run loop is started by
// the server.
func (r *Runtime) Publisher() *replicastate.Publisher { return r.pub }

// Probe returns the health probe for this replica.
func (r *Runtime) Probe() *health.Probe { return r.probe }

// Journal returns the replica's transition history.
func (r *Runtime) Journal() *journal.Journal { return r.journal }

// Recorder returns the journal recorder. Its Run loop is started by the
// server.
func (r *Runtime) Recorder() *journal.Recorder { return r.recorder }

// Registry returns the work-item registry; processors are registered on it
// before the pool starts.
func (r *Runtime) Registry() *workitem.Registry { return r.registry }

// Metrics returns the service's collectors.
func (r *Runtime) Metrics() *metrics.Metrics { return r.metrics }

// Logger returns the runtime logger.
func (r *Runtime) Logger() logpkg.Logger { return r.logger }
