package log

import (
	"log/slog"
	"time"
)

// Level is the severity of an entry.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

func (l Level) String() string {
	if l < DebugLevel || int(l) >= len(levelNames) {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ComponentKey is the field key set by Component and WithComponent.
const ComponentKey = "component"

// Fields is the flattened set of key/values carried by an Entry.
type Fields map[string]interface{}

// Entry is what formatters render.
type Entry struct {
	Level     Level
	Message   string
	Fields    Fields
	Timestamp time.Time
	Caller    string
}

// Logger is the logging facade used throughout maestro.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	// Fatal logs and exits the process with status 1.
	Fatal(msg string, fields ...Field)

	// With returns a child carrying fields on every entry.
	With(fields ...Field) Logger
	WithFields(fields Fields) Logger
	WithComponent(component string) Logger

	// SetLevel changes the threshold of this logger and every child derived
	// from it.
	SetLevel(level Level)
	GetLevel() Level
}

// Formatter renders an entry into bytes.
type Formatter interface {
	Format(entry *Entry) ([]byte, error)
}

// Output receives formatted entries.
type Output interface {
	Write(entry *Entry, formatted []byte) error
	Close() error
}

// Option configures NewLogger.
type Option func(*settings)

type settings struct {
	level      Level
	formatter  Formatter
	outputs    []Output
	redact     []string
	sampleHead int
	sampleNth  int
}

// NewLogger builds a logger. Without options it writes JSON lines at info
// level to stdout.
func NewLogger(opts ...Option) Logger {
	s := settings{level: InfoLevel, formatter: &JSONFormatter{}}
	for _, opt := range opts {
		opt(&s)
	}
	if len(s.outputs) == 0 {
		s.outputs = []Output{NewConsoleOutput()}
	}

	p := &pipeline{formatter: s.formatter, outputs: s.outputs}
	if len(s.redact) > 0 {
		p.redact = make(map[string]struct{}, len(s.redact))
		for _, k := range s.redact {
			p.redact[k] = struct{}{}
		}
	}
	if s.sampleNth > 0 {
		p.sampler = newSampler(s.sampleHead, s.sampleNth)
	}

	lv := new(slog.LevelVar)
	lv.Set(toSlogLevel(s.level))
	return newBaseLogger(p, lv, nil)
}

// WithLevel sets the minimum level.
func WithLevel(level Level) Option {
	return func(s *settings) { s.level = level }
}

// WithFormatter replaces the default JSON formatter.
func WithFormatter(f Formatter) Option {
	return func(s *settings) { s.formatter = f }
}

// WithOutput adds an output. Repeat for fan-out.
func WithOutput(out Output) Option {
	return func(s *settings) { s.outputs = append(s.outputs, out) }
}

// WithRedaction masks the values of the given keys.
func WithRedaction(keys ...string) Option {
	return func(s *settings) { s.redact = append(s.redact, keys...) }
}

// WithSampling keeps the first head entries of each distinct level+message
// per second and then one in every nth. Error and fatal entries are always
// kept.
func WithSampling(head, nth int) Option {
	return func(s *settings) {
		s.sampleHead = head
		s.sampleNth = nth
	}
}
