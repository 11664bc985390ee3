package workqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	pebblestore "github.com/rzbill/maestro/internal/storage/pebble"
)

type fakeClock struct {
	mu sync.Mutex
	ms int64
}

func (c *fakeClock) now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ms
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.ms += d.Milliseconds()
	c.mu.Unlock()
}

func openTestQueue(t *testing.T) (*WorkQueue, *fakeClock, *pebblestore.DB) {
	t.Helper()
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	clock := &fakeClock{ms: 1_000_000}
	q, err := OpenQueue(db, "jobs", Options{VisibilityTimeout: 30 * time.Second, NowMs: clock.now})
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	return q, clock, db
}

func TestReceiveEmpty(t *testing.T) {
	q, _, _ := openTestQueue(t)
	m, err := q.Receive(context.Background())
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if m != nil {
		t.Fatalf("expected no message, got %v", m.ID)
	}
}

func TestEnqueueReceiveDelete(t *testing.T) {
	q, _, _ := openTestQueue(t)
	ctx := context.Background()
	sent, err := q.Enqueue(ctx, []byte(`{"type":"ping"}`), 0)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := q.Receive(ctx)
	if err != nil || got == nil {
		t.Fatalf("receive: %v %v", got, err)
	}
	if got.ID != sent.ID || string(got.Payload) != `{"type":"ping"}` {
		t.Fatalf("unexpected message %s %q", got.ID, got.Payload)
	}
	if got.DequeueCount != 1 || got.PopReceipt == "" {
		t.Fatalf("want dequeue count 1 and a receipt, got %d %q", got.DequeueCount, got.PopReceipt)
	}

	// hidden while being processed
	again, err := q.Receive(ctx)
	if err != nil || again != nil {
		t.Fatalf("message visible during visibility timeout: %v %v", again, err)
	}

	if err := q.Delete(ctx, got); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := q.Get(ctx, got.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound after delete, got %v", err)
	}
	if err := q.Delete(ctx, got); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: want ErrNotFound, got %v", err)
	}
}

func TestRedeliveryAfterVisibilityTimeout(t *testing.T) {
	q, clock, _ := openTestQueue(t)
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, []byte("x"), 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	first, _ := q.Receive(ctx)
	if first == nil {
		t.Fatalf("expected first delivery")
	}

	clock.advance(29 * time.Second)
	if m, _ := q.Receive(ctx); m != nil {
		t.Fatalf("redelivered before timeout")
	}

	clock.advance(time.Second)
	second, err := q.Receive(ctx)
	if err != nil || second == nil {
		t.Fatalf("expected redelivery: %v", err)
	}
	if second.ID != first.ID || second.DequeueCount != 2 {
		t.Fatalf("redelivery id=%s count=%d", second.ID, second.DequeueCount)
	}
	if second.PopReceipt == first.PopReceipt {
		t.Fatalf("redelivery must issue a new receipt")
	}

	// the stale copy can no longer acknowledge
	if err := q.Delete(ctx, first); !errors.Is(err, ErrReceiptMismatch) {
		t.Fatalf("want ErrReceiptMismatch, got %v", err)
	}
	if err := q.Delete(ctx, second); err != nil {
		t.Fatalf("delete current: %v", err)
	}
}

func TestDelayedEnqueue(t *testing.T) {
	q, clock, _ := openTestQueue(t)
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, []byte("later"), 5*time.Second); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if m, _ := q.Receive(ctx); m != nil {
		t.Fatalf("delayed message visible early")
	}
	st, _ := q.Stats(ctx)
	if st.Visible != 0 || st.Invisible != 1 {
		t.Fatalf("stats before due: %+v", st)
	}
	clock.advance(5 * time.Second)
	if m, _ := q.Receive(ctx); m == nil {
		t.Fatalf("delayed message not visible when due")
	}
}

func TestReceiveOrdersByVisibility(t *testing.T) {
	q, clock, _ := openTestQueue(t)
	ctx := context.Background()
	a, _ := q.Enqueue(ctx, []byte("a"), 0)
	clock.advance(time.Millisecond)
	b, _ := q.Enqueue(ctx, []byte("b"), 0)

	m1, _ := q.Receive(ctx)
	m2, _ := q.Receive(ctx)
	if m1 == nil || m2 == nil || m1.ID != a.ID || m2.ID != b.ID {
		t.Fatalf("want a then b")
	}
}

func TestCorruptRecordIsDropped(t *testing.T) {
	q, _, db := openTestQueue(t)
	ctx := context.Background()
	m, _ := q.Enqueue(ctx, []byte("fine"), 0)
	if err := db.Set(MsgKey("jobs", m.ID), []byte("garbage")); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	got, err := q.Receive(ctx)
	if err != nil || got != nil {
		t.Fatalf("corrupt record should be skipped: %v %v", got, err)
	}
	st, _ := q.Stats(ctx)
	if st.Visible+st.Invisible != 0 {
		t.Fatalf("corrupt record index not cleaned: %+v", st)
	}
}

func TestQueuesAreIsolated(t *testing.T) {
	q, clock, db := openTestQueue(t)
	other, err := OpenQueue(db, "jobs-2", Options{NowMs: clock.now})
	if err != nil {
		t.Fatalf("open other: %v", err)
	}
	ctx := context.Background()
	_, _ = other.Enqueue(ctx, []byte("o"), 0)
	if m, _ := q.Receive(ctx); m != nil {
		t.Fatalf("received message from another queue")
	}
}

func TestOpenQueueRejectsBadNames(t *testing.T) {
	_, _, db := openTestQueue(t)
	for _, name := range []string{"", "a/b", "UPPER", "white space"} {
		if _, err := OpenQueue(db, name, Options{}); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("name %q: want ErrInvalidName, got %v", name, err)
		}
	}
}

func TestConcurrentReceiversGetDistinctMessages(t *testing.T) {
	q, _, _ := openTestQueue(t)
	ctx := context.Background()
	const n = 50
	for i := 0; i < n; i++ {
		if _, err := q.Enqueue(ctx, []byte{byte(i)}, 0); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	var mu sync.Mutex
	seen := map[string]bool{}
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				m, err := q.Receive(ctx)
				if err != nil || m == nil {
					return
				}
				mu.Lock()
				if seen[m.ID.String()] {
					t.Errorf("message %s delivered twice", m.ID)
				}
				seen[m.ID.String()] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != n {
		t.Fatalf("want %d distinct deliveries, got %d", n, len(seen))
	}
}
