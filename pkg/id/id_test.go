package id

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

func fixedClock(ms *int64) func() int64 { return func() int64 { return *ms } }

func TestNextIsStrictlyIncreasing(t *testing.T) {
	now := int64(1000)
	g := NewGenerator(fixedClock(&now))

	a := g.Next()
	b := g.Next()
	if !a.Less(b) || b.Seq() != 1 {
		t.Fatalf("expected a<b within one ms, got %s %s", a, b)
	}
	now = 1001
	c := g.Next()
	if !b.Less(c) || c.Seq() != 0 || c.Time().UnixMilli() != 1001 {
		t.Fatalf("new millisecond should reset the sequence: %s", c)
	}
}

func TestClockRegressionGuard(t *testing.T) {
	now := int64(1000)
	g := NewGenerator(fixedClock(&now))

	a := g.Next()
	now = 900
	b := g.Next()
	if !a.Less(b) {
		t.Fatalf("expected b>a despite clock regression")
	}
	if b.Time().UnixMilli() != 1000 {
		t.Fatalf("regressed clock should keep the last ms, got %d", b.Time().UnixMilli())
	}
}

func TestSequenceOverflowBorrowsNextMs(t *testing.T) {
	now := int64(2000)
	g := NewGenerator(fixedClock(&now))
	g.lastMs = 2000
	g.seq = math.MaxUint64

	next := g.Next()
	if next.Time().UnixMilli() != 2001 || next.Seq() != 0 {
		t.Fatalf("expected (2001, 0), got (%d, %d)", next.Time().UnixMilli(), next.Seq())
	}
	// the real clock catching up must not reuse 2001/0
	now = 2001
	if after := g.Next(); !next.Less(after) {
		t.Fatalf("expected %s < %s", next, after)
	}
}

func TestParseRoundTrip(t *testing.T) {
	orig := Make(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli(), 42)
	got, err := Parse(orig.String())
	if err != nil || got != orig {
		t.Fatalf("parse: %v %s", err, got)
	}
	if _, err := Parse("abc"); err == nil {
		t.Fatalf("expected length error")
	}
	if _, err := Parse("zz" + orig.String()[2:]); err == nil {
		t.Fatalf("expected hex error")
	}
	if _, err := FromBytes([]byte{1, 2}); err == nil {
		t.Fatalf("expected size error")
	}
}

func TestJSONUsesHex(t *testing.T) {
	v := struct {
		ID ID `json:"id"`
	}{ID: Make(1, 2)}
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"id":"00000000000000010000000000000002"}` {
		t.Fatalf("unexpected json %s", b)
	}
	var back struct {
		ID ID `json:"id"`
	}
	if err := json.Unmarshal(b, &back); err != nil || back.ID != v.ID {
		t.Fatalf("unmarshal: %v %s", err, back.ID)
	}
}
