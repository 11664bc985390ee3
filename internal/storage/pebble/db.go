package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

// ErrClosed is returned by operations on a closed DB.
var ErrClosed = errors.New("pebblestore: closed")

// DefaultSyncInterval is the group-commit window used by FsyncModeInterval
// when none is configured.
const DefaultSyncInterval = 5 * time.Millisecond

// FsyncMode selects when committed writes reach stable storage.
type FsyncMode int

const (
	// FsyncModeUnspecified behaves like FsyncModeInterval.
	FsyncModeUnspecified FsyncMode = iota
	// FsyncModeAlways syncs the WAL on every commit.
	FsyncModeAlways
	// FsyncModeInterval lets Pebble coalesce WAL syncs within FsyncInterval.
	FsyncModeInterval
	// FsyncModeNever leaves syncing to Pebble. Acknowledged writes may be
	// lost on a crash; meant for tests and scratch replicas.
	FsyncModeNever
)

func (m FsyncMode) String() string {
	switch m {
	case FsyncModeAlways:
		return "always"
	case FsyncModeInterval, FsyncModeUnspecified:
		return "interval"
	case FsyncModeNever:
		return "never"
	}
	return fmt.Sprintf("FsyncMode(%d)", int(m))
}

// Options configures Open.
type Options struct {
	// DataDir holds the database files. Required.
	DataDir string
	Fsync   FsyncMode
	// FsyncInterval applies to FsyncModeInterval only.
	FsyncInterval time.Duration
	// Tuning is passed through to pebble.Open. Nil uses Pebble's defaults.
	Tuning *pebble.Options
	// Metrics observes reads, writes and batch commits. Optional.
	Metrics MetricsHook
}

// MetricsHook receives storage latency and size observations.
type MetricsHook interface {
	ObserveWrite(elapsed time.Duration, bytes int)
	ObserveRead(elapsed time.Duration, bytes int)
	ObserveBatchCommit(elapsed time.Duration, numOps int, bytes int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveWrite(time.Duration, int)            {}
func (noopMetrics) ObserveRead(time.Duration, int)             {}
func (noopMetrics) ObserveBatchCommit(time.Duration, int, int) {}

// DB is the replica-local key/value store shared by the work queues, the
// transition journal and the pebble-backed state store. Close may race
// with readers such as health checks; they see ErrClosed afterwards.
type DB struct {
	mu      sync.RWMutex
	closed  bool
	pdb     *pebble.DB
	commit  *pebble.WriteOptions
	metrics MetricsHook
}

// Open opens or creates the database in opts.DataDir.
func Open(opts Options) (*DB, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebblestore: data dir is required")
	}
	po := opts.Tuning
	if po == nil {
		po = &pebble.Options{}
	}

	commit := pebble.NoSync
	switch opts.Fsync {
	case FsyncModeAlways:
		commit = pebble.Sync
	case FsyncModeNever:
	default:
		window := opts.FsyncInterval
		if window <= 0 {
			window = DefaultSyncInterval
		}
		po.WALMinSyncInterval = func() time.Duration { return window }
	}

	pdb, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, fmt.Errorf("pebblestore: open %s: %w", opts.DataDir, err)
	}
	hook := opts.Metrics
	if hook == nil {
		hook = noopMetrics{}
	}
	return &DB{pdb: pdb, commit: commit, metrics: hook}, nil
}

// Close is safe on a nil or already closed DB.
func (db *DB) Close() error {
	if db == nil {
		return nil
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	return db.pdb.Close()
}

// acquire holds the read lock until release is called, or fails with
// ErrClosed.
func (db *DB) acquire() (release func(), err error) {
	if db == nil {
		return nil, ErrClosed
	}
	db.mu.RLock()
	if db.closed {
		db.mu.RUnlock()
		return nil, ErrClosed
	}
	return db.mu.RUnlock, nil
}

// Ping reports whether the database can still serve reads.
func (db *DB) Ping() error {
	release, err := db.acquire()
	if err != nil {
		return err
	}
	defer release()
	it, err := db.pdb.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	return it.Close()
}

func (db *DB) NewBatch() *pebble.Batch { return db.pdb.NewBatch() }

// CommitBatch applies b atomically under the configured fsync mode. The
// caller still owns b and must Close it.
func (db *DB) CommitBatch(ctx context.Context, b *pebble.Batch) error {
	if b == nil {
		return errors.New("pebblestore: nil batch")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	release, err := db.acquire()
	if err != nil {
		return err
	}
	defer release()
	began := time.Now()
	n, size := int(b.Count()), b.Len()
	err = b.Commit(db.commit)
	db.metrics.ObserveBatchCommit(time.Since(began), n, size)
	return err
}

// Set writes a single key.
func (db *DB) Set(key, value []byte) error {
	release, err := db.acquire()
	if err != nil {
		return err
	}
	defer release()
	began := time.Now()
	if err := db.pdb.Set(key, value, db.commit); err != nil {
		return err
	}
	db.metrics.ObserveWrite(time.Since(began), len(key)+len(value))
	return nil
}

// Get returns a copy of the value stored at key. A missing key yields an
// error for which IsNotFound is true.
func (db *DB) Get(key []byte) ([]byte, error) {
	release, err := db.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	began := time.Now()
	v, closer, err := db.pdb.Get(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(v))
	copy(out, v)
	_ = closer.Close()
	db.metrics.ObserveRead(time.Since(began), len(out))
	return out, nil
}

// NewIter does not hold the DB open; callers must close the iterator before
// closing the DB.
func (db *DB) NewIter(opts *pebble.IterOptions) (*pebble.Iterator, error) {
	release, err := db.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return db.pdb.NewIter(opts)
}

// ScanPrefix visits every key under prefix in order. key and value are only
// valid during fn. A non-nil error from fn stops the scan and is returned.
func (db *DB) ScanPrefix(prefix []byte, fn func(key, value []byte) error) error {
	release, err := db.acquire()
	if err != nil {
		return err
	}
	defer release()
	it, err := db.pdb.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: PrefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	for valid := it.First(); valid; valid = it.Next() {
		if err := fn(it.Key(), it.Value()); err != nil {
			_ = it.Close()
			return err
		}
	}
	if err := it.Error(); err != nil {
		_ = it.Close()
		return err
	}
	return it.Close()
}

// PrefixUpperBound is the exclusive upper bound of the keys sharing prefix.
// It is nil when prefix is empty or all 0xff.
func PrefixUpperBound(prefix []byte) []byte {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] != 0xff {
			end := make([]byte, i+1)
			copy(end, prefix)
			end[i]++
			return end
		}
	}
	return nil
}

// IsNotFound reports whether err means the key does not exist.
func IsNotFound(err error) bool { return errors.Is(err, pebble.ErrNotFound) }
