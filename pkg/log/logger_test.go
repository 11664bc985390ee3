package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func newBufferLogger(t *testing.T, level Level, f Formatter, opts ...Option) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	all := append([]Option{WithLevel(level), WithFormatter(f), WithOutput(NewWriterOutput(&buf))}, opts...)
	return NewLogger(all...), &buf
}

func TestTextFormatterIncludesFields(t *testing.T) {
	l, buf := newBufferLogger(t, DebugLevel, &TextFormatter{DisableTimestamp: true})
	l.With(Component("consumer")).Info("received", Str("queue", "jobs"), Int("dequeue_count", 2))

	got := buf.String()
	want := "INFO  received component=consumer dequeue_count=2 queue=jobs\n"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newBufferLogger(t, WarnLevel, &TextFormatter{DisableTimestamp: true})
	l.Debug("d")
	l.Info("i")
	l.Warn("w")
	l.Error("e")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("want 2 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "WARN") || !strings.HasPrefix(lines[1], "ERROR") {
		t.Fatalf("unexpected lines: %q", lines)
	}
}

func TestJSONFormatter(t *testing.T) {
	l, buf := newBufferLogger(t, InfoLevel, &JSONFormatter{})
	l.Error("process failed", Err(errors.New("boom")), Str("type", "ping"))

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v (%q)", err, buf.String())
	}
	if out["level"] != "error" || out["msg"] != "process failed" {
		t.Fatalf("unexpected envelope: %v", out)
	}
	if out["error"] != "boom" || out["type"] != "ping" {
		t.Fatalf("unexpected fields: %v", out)
	}
}

func TestWithDoesNotLeakIntoParent(t *testing.T) {
	l, buf := newBufferLogger(t, InfoLevel, &TextFormatter{DisableTimestamp: true})
	_ = l.With(Str("replica", "r1"))
	l.Info("parent")
	if strings.Contains(buf.String(), "replica") {
		t.Fatalf("child field leaked into parent: %q", buf.String())
	}
}

func TestRedaction(t *testing.T) {
	l, buf := newBufferLogger(t, InfoLevel, &TextFormatter{DisableTimestamp: true}, WithRedaction("secret"))
	l.Info("cfg", Str("secret", "hunter2"))
	if strings.Contains(buf.String(), "hunter2") || !strings.Contains(buf.String(), "[REDACTED]") {
		t.Fatalf("secret not redacted: %q", buf.String())
	}
}

func TestSampling(t *testing.T) {
	l, buf := newBufferLogger(t, InfoLevel, &TextFormatter{DisableTimestamp: true}, WithSampling(1, 3))
	for i := 0; i < 7; i++ {
		l.Info("queue empty")
	}
	// first one, then every third of the remaining six
	if n := strings.Count(buf.String(), "queue empty"); n != 3 {
		t.Fatalf("want 3 sampled lines, got %d", n)
	}
}

func TestSamplingKeepsErrors(t *testing.T) {
	l, buf := newBufferLogger(t, InfoLevel, &TextFormatter{DisableTimestamp: true}, WithSampling(1, 100))
	for i := 0; i < 5; i++ {
		l.Error("store unreachable")
	}
	if n := strings.Count(buf.String(), "store unreachable"); n != 5 {
		t.Fatalf("want every error line, got %d", n)
	}
}

func TestSamplingCountsResetEachWindow(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := newSampler(1, 100)
	s.now = func() time.Time { return now }

	if !s.keep(InfoLevel, "poll") {
		t.Fatal("first entry dropped")
	}
	if s.keep(InfoLevel, "poll") {
		t.Fatal("second entry in the same window kept")
	}
	now = now.Add(sampleWindow)
	if !s.keep(InfoLevel, "poll") {
		t.Fatal("first entry of a new window dropped")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"debug": DebugLevel, "INFO": InfoLevel, "warning": WarnLevel, "error": ErrorLevel}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestApplyConfig(t *testing.T) {
	l, err := ApplyConfig(&Config{Level: "error", Format: "json", Outputs: []OutputConfig{{Type: "null"}}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if l.GetLevel() != ErrorLevel {
		t.Fatalf("level = %v", l.GetLevel())
	}
	if _, err := ApplyConfig(&Config{Format: "xml"}); err == nil {
		t.Fatalf("expected error for unknown format")
	}
	if _, err := ApplyConfig(&Config{Outputs: []OutputConfig{{Type: "file"}}}); err == nil {
		t.Fatalf("expected error for file output without path")
	}
}

func TestStdLoggerBridge(t *testing.T) {
	l, buf := newBufferLogger(t, InfoLevel, &TextFormatter{DisableTimestamp: true})
	std := ToStdLogger(l, WarnLevel)
	std.Print("compaction stalled")
	if got := buf.String(); got != "WARN  compaction stalled\n" {
		t.Fatalf("got %q", got)
	}
}

func TestChildSharesLevel(t *testing.T) {
	l, buf := newBufferLogger(t, InfoLevel, &TextFormatter{DisableTimestamp: true})
	child := l.WithComponent("journal")
	l.SetLevel(DebugLevel)
	child.Debug("trimmed", Int("removed", 3))
	if got := buf.String(); got != "DEBUG trimmed component=journal removed=3\n" {
		t.Fatalf("got %q", got)
	}
}

func TestSlogSharesPipeline(t *testing.T) {
	l, buf := newBufferLogger(t, InfoLevel, &TextFormatter{DisableTimestamp: true})
	sl := l.(*BaseLogger).With(Str("replica", "r1")).(*BaseLogger).Slog()
	sl.WithGroup("db").Info("compaction", "level", 2)
	sl.Debug("hidden")
	if got := buf.String(); got != "INFO  compaction db.level=2 replica=r1\n" {
		t.Fatalf("got %q", got)
	}
}
