package workqueue

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	pebblestore "github.com/rzbill/maestro/internal/storage/pebble"
	"github.com/rzbill/maestro/pkg/id"
)

var (
	// ErrNotFound is returned when the message no longer exists.
	ErrNotFound = errors.New("workqueue: message not found")
	// ErrReceiptMismatch is returned by Delete when the message has been
	// received again since the caller's copy was handed out.
	ErrReceiptMismatch = errors.New("workqueue: pop receipt mismatch")
	// ErrInvalidName is returned by OpenQueue for names outside [a-z0-9._-]{1,64}.
	ErrInvalidName = errors.New("workqueue: invalid queue name")
)

var nameRe = regexp.MustCompile(`^[a-z0-9._-]{1,64}$`)

// ValidName reports whether name is acceptable to OpenQueue.
func ValidName(name string) bool { return nameRe.MatchString(name) }

// DefaultVisibilityTimeout hides a received message for this long unless the
// queue is opened with a different value.
const DefaultVisibilityTimeout = 30 * time.Second

// Message is one queued payload as seen by a receiver.
type Message struct {
	ID            id.ID
	PopReceipt    string
	DequeueCount  int
	Payload       []byte
	InsertedAt    time.Time
	NextVisibleAt time.Time
}

// Options tunes a WorkQueue.
type Options struct {
	// VisibilityTimeout is how long a received message stays hidden before it
	// is redelivered. Zero means DefaultVisibilityTimeout.
	VisibilityTimeout time.Duration
	// NowMs overrides the clock, in Unix milliseconds. Used by tests.
	NowMs func() int64
}

// Stats summarizes a queue at one instant.
type Stats struct {
	Visible   int `json:"visible"`
	Invisible int `json:"invisible"`
}

// WorkQueue is a durable queue with visibility-timeout redelivery: a received
// message becomes visible again after VisibilityTimeout unless it is deleted,
// and every receive bumps its dequeue count and issues a new pop receipt.
type WorkQueue struct {
	db   *pebblestore.DB
	name string
	vt   time.Duration
	now  func() int64
	ids  *id.Generator

	mu sync.Mutex
}

// OpenQueue returns the named queue backed by db.
func OpenQueue(db *pebblestore.DB, name string, opts Options) (*WorkQueue, error) {
	if db == nil {
		return nil, errors.New("workqueue: nil db")
	}
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	q := &WorkQueue{db: db, name: name, vt: opts.VisibilityTimeout, now: opts.NowMs}
	if q.vt <= 0 {
		q.vt = DefaultVisibilityTimeout
	}
	if q.now == nil {
		q.now = func() int64 { return time.Now().UnixMilli() }
	}
	q.ids = id.NewGenerator(q.now)
	return q, nil
}

// Name returns the queue name.
func (q *WorkQueue) Name() string { return q.name }

// VisibilityTimeout returns the configured visibility timeout.
func (q *WorkQueue) VisibilityTimeout() time.Duration { return q.vt }

// Enqueue stores payload. It becomes visible after delay (zero for now).
func (q *WorkQueue) Enqueue(ctx context.Context, payload []byte, delay time.Duration) (Message, error) {
	if delay < 0 {
		delay = 0
	}
	nowMs := q.now()
	visibleAt := nowMs + delay.Milliseconds()

	q.mu.Lock()
	defer q.mu.Unlock()

	m := Message{
		ID:            q.ids.Next(),
		Payload:       append([]byte(nil), payload...),
		InsertedAt:    time.UnixMilli(nowMs),
		NextVisibleAt: time.UnixMilli(visibleAt),
	}
	b := q.db.NewBatch()
	defer b.Close()
	if err := b.Set(MsgKey(q.name, m.ID), encodeRecord(m, uuid.Nil), nil); err != nil {
		return Message{}, err
	}
	if err := b.Set(VisKey(q.name, uint64(visibleAt), m.ID), nil, nil); err != nil {
		return Message{}, err
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Receive returns the earliest visible message, or nil when none is visible.
// The message is hidden for the visibility timeout and must be deleted with
// the returned copy to be acknowledged.
func (q *WorkQueue) Receive(ctx context.Context) (*Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	nowMs := q.now()
	prefix := VisPrefix(q.name)
	upper := VisKey(q.name, uint64(nowMs)+1, id.ID{})
	iter, err := q.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	b := q.db.NewBatch()
	defer b.Close()
	for ok := iter.First(); ok; ok = iter.Next() {
		visKey := append([]byte(nil), iter.Key()...)
		_, mid, valid := parseVisKey(prefix, visKey)
		if !valid {
			_ = b.Delete(visKey, nil)
			continue
		}
		m, err := q.load(mid)
		if errors.Is(err, ErrNotFound) {
			// dangling index entry or corrupt record
			_ = b.Delete(visKey, nil)
			_ = b.Delete(MsgKey(q.name, mid), nil)
			continue
		}
		if err != nil {
			return nil, err
		}

		receipt := uuid.New()
		m.DequeueCount++
		m.PopReceipt = receipt.String()
		m.NextVisibleAt = time.UnixMilli(nowMs + q.vt.Milliseconds())
		if err := b.Delete(visKey, nil); err != nil {
			return nil, err
		}
		if err := b.Set(VisKey(q.name, uint64(m.NextVisibleAt.UnixMilli()), mid), nil, nil); err != nil {
			return nil, err
		}
		if err := b.Set(MsgKey(q.name, mid), encodeRecord(*m, receipt), nil); err != nil {
			return nil, err
		}
		if err := q.db.CommitBatch(ctx, b); err != nil {
			return nil, err
		}
		return m, nil
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	if b.Count() > 0 {
		if err := q.db.CommitBatch(ctx, b); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// Delete acknowledges msg. It fails with ErrReceiptMismatch if the message
// was received again after msg was handed out.
func (q *WorkQueue) Delete(ctx context.Context, msg *Message) error {
	if msg == nil {
		return errors.New("workqueue: nil message")
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	cur, err := q.load(msg.ID)
	if err != nil {
		return err
	}
	if cur.PopReceipt != msg.PopReceipt {
		return fmt.Errorf("%w: message %s", ErrReceiptMismatch, msg.ID)
	}
	b := q.db.NewBatch()
	defer b.Close()
	if err := b.Delete(MsgKey(q.name, msg.ID), nil); err != nil {
		return err
	}
	if err := b.Delete(VisKey(q.name, uint64(cur.NextVisibleAt.UnixMilli()), msg.ID), nil); err != nil {
		return err
	}
	return q.db.CommitBatch(ctx, b)
}

// Get returns the stored state of a message without receiving it.
func (q *WorkQueue) Get(_ context.Context, mid id.ID) (*Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(mid)
}

// Stats counts visible and hidden messages.
func (q *WorkQueue) Stats(_ context.Context) (Stats, error) {
	nowMs := uint64(q.now())
	prefix := VisPrefix(q.name)
	var st Stats
	err := q.db.ScanPrefix(prefix, func(k, _ []byte) error {
		at, _, ok := parseVisKey(prefix, k)
		if !ok {
			return nil
		}
		if at <= nowMs {
			st.Visible++
		} else {
			st.Invisible++
		}
		return nil
	})
	return st, err
}

func (q *WorkQueue) load(mid id.ID) (*Message, error) {
	raw, err := q.db.Get(MsgKey(q.name, mid))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, mid)
		}
		return nil, err
	}
	m, ok := decodeRecord(mid, raw)
	if !ok {
		// corrupt records are treated as gone
		return nil, fmt.Errorf("%w: %s (corrupt record)", ErrNotFound, mid)
	}
	return m, nil
}
