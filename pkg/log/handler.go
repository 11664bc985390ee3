package log

import (
	"context"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"time"
)

const redactedValue = "[REDACTED]"

// levelFatal is above slog.LevelError so fatal entries keep their level.
const levelFatal = slog.LevelError + 4

// pipeline is the formatter and outputs shared by a logger tree.
type pipeline struct {
	formatter Formatter
	outputs   []Output
	redact    map[string]struct{}
	sampler   *sampler
}

func (p *pipeline) write(e *Entry) error {
	if p.sampler != nil && !p.sampler.keep(e.Level, e.Message) {
		return nil
	}
	for k := range e.Fields {
		if _, ok := p.redact[k]; ok {
			e.Fields[k] = redactedValue
		}
	}
	b, err := p.formatter.Format(e)
	if err != nil {
		return err
	}
	var firstErr error
	for _, out := range p.outputs {
		if err := out.Write(e, b); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *pipeline) close() {
	for _, out := range p.outputs {
		_ = out.Close()
	}
}

// handler adapts the pipeline to slog.Handler so BaseLogger and slog users
// share one rendering path.
type handler struct {
	p      *pipeline
	level  *slog.LevelVar
	attrs  []slog.Attr
	prefix string
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	fields := make(Fields, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		fields[a.Key] = a.Value.Resolve().Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		fields[h.prefix+a.Key] = a.Value.Resolve().Any()
		return true
	})
	return h.p.write(&Entry{
		Level:     fromSlogLevel(r.Level),
		Message:   r.Message,
		Fields:    fields,
		Timestamp: r.Time,
		Caller:    callerOf(r.PC),
	})
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	nh := *h
	nh.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	nh.attrs = append(nh.attrs, h.attrs...)
	for _, a := range attrs {
		nh.attrs = append(nh.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return &nh
}

// WithGroup flattens groups into dotted key prefixes.
func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	nh.prefix = h.prefix + name + "."
	return &nh
}

func callerOf(pc uintptr) string {
	if pc == 0 {
		return ""
	}
	f, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	if f.File == "" {
		return ""
	}
	return f.File + ":" + strconv.Itoa(f.Line)
}

// sampleWindow is how long sampler counts live before starting over.
const sampleWindow = time.Second

// sampler keeps the first head entries per level+message in each window,
// then every nth. Error and fatal entries are never dropped.
type sampler struct {
	mu    sync.Mutex
	head  uint64
	nth   uint64
	seen  map[string]uint64
	reset time.Time
	now   func() time.Time
}

func newSampler(head, nth int) *sampler {
	if head < 0 {
		head = 0
	}
	if nth < 1 {
		nth = 1
	}
	return &sampler{head: uint64(head), nth: uint64(nth), seen: make(map[string]uint64), now: time.Now}
}

func (s *sampler) keep(level Level, msg string) bool {
	if level >= ErrorLevel {
		return true
	}
	key := level.String() + "|" + msg
	s.mu.Lock()
	if now := s.now(); !now.Before(s.reset) {
		clear(s.seen)
		s.reset = now.Add(sampleWindow)
	}
	n := s.seen[key]
	s.seen[key] = n + 1
	s.mu.Unlock()
	if n < s.head {
		return true
	}
	return (n-s.head)%s.nth == 0
}

func toSlogLevel(l Level) slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	case FatalLevel:
		return levelFatal
	}
	return slog.LevelInfo
}

func fromSlogLevel(l slog.Level) Level {
	switch {
	case l >= levelFatal:
		return FatalLevel
	case l >= slog.LevelError:
		return ErrorLevel
	case l >= slog.LevelWarn:
		return WarnLevel
	case l >= slog.LevelInfo:
		return InfoLevel
	}
	return DebugLevel
}

func fieldAttrs(fields []Field) []slog.Attr {
	if len(fields) == 0 {
		return nil
	}
	attrs := make([]slog.Attr, len(fields))
	for i, f := range fields {
		attrs[i] = slog.Any(f.Key, f.Value)
	}
	return attrs
}
