package log

import (
	"fmt"
	stdlog "log"
	"strings"
)

// Config declares a logger: level, format and where entries go.
type Config struct {
	Level   string         `json:"level" yaml:"level" mapstructure:"level"`
	Format  string         `json:"format" yaml:"format" mapstructure:"format"`
	Outputs []OutputConfig `json:"outputs,omitempty" yaml:"outputs,omitempty" mapstructure:"outputs"`
	// ShowCaller appends the file:line of the call site.
	ShowCaller bool `json:"showCaller,omitempty" yaml:"showCaller,omitempty" mapstructure:"showCaller"`
	// Redact lists field keys whose values are replaced with [REDACTED].
	Redact []string `json:"redact,omitempty" yaml:"redact,omitempty" mapstructure:"redact"`
	// SampleInitial and SampleThereafter enable per-message sampling when
	// SampleThereafter > 0.
	SampleInitial    int `json:"sampleInitial,omitempty" yaml:"sampleInitial,omitempty" mapstructure:"sampleInitial"`
	SampleThereafter int `json:"sampleThereafter,omitempty" yaml:"sampleThereafter,omitempty" mapstructure:"sampleThereafter"`
}

// OutputConfig selects one output. Type is console, stderr, file or null.
type OutputConfig struct {
	Type string `json:"type" yaml:"type" mapstructure:"type"`
	Path string `json:"path,omitempty" yaml:"path,omitempty" mapstructure:"path"`
}

// ParseLevel parses debug|info|warn|warning|error|fatal (case-insensitive).
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("log: unknown level %q", s)
	}
}

// ApplyConfig builds a Logger from cfg. Empty level and format default to
// info and text.
func ApplyConfig(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	level := InfoLevel
	if cfg.Level != "" {
		l, err := ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		level = l
	}

	var formatter Formatter
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		formatter = &TextFormatter{ShowCaller: cfg.ShowCaller}
	case "json":
		formatter = &JSONFormatter{ShowCaller: cfg.ShowCaller}
	default:
		return nil, fmt.Errorf("log: unknown format %q", cfg.Format)
	}

	opts := []Option{WithLevel(level), WithFormatter(formatter)}
	for _, oc := range cfg.Outputs {
		out, err := buildOutput(oc)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithOutput(out))
	}
	if len(cfg.Redact) > 0 {
		opts = append(opts, WithRedaction(cfg.Redact...))
	}
	if cfg.SampleThereafter > 0 {
		opts = append(opts, WithSampling(cfg.SampleInitial, cfg.SampleThereafter))
	}
	return NewLogger(opts...), nil
}

func buildOutput(oc OutputConfig) (Output, error) {
	switch strings.ToLower(oc.Type) {
	case "", "console", "stdout":
		return NewConsoleOutput(), nil
	case "stderr":
		return &ConsoleOutput{UseStderr: true}, nil
	case "file":
		if oc.Path == "" {
			return nil, fmt.Errorf("log: file output requires a path")
		}
		return NewFileOutput(oc.Path)
	case "null", "none":
		return NullOutput{}, nil
	default:
		return nil, fmt.Errorf("log: unknown output type %q", oc.Type)
	}
}

// stdLogWriter adapts a Logger to io.Writer for the standard library logger.
type stdLogWriter struct {
	logger Logger
	level  Level
}

func (w *stdLogWriter) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\r\n")
	switch w.level {
	case DebugLevel:
		w.logger.Debug(msg)
	case WarnLevel:
		w.logger.Warn(msg)
	case ErrorLevel, FatalLevel:
		w.logger.Error(msg)
	default:
		w.logger.Info(msg)
	}
	return len(p), nil
}

// ToStdLogger returns a *log.Logger that writes through logger at level.
func ToStdLogger(logger Logger, level Level) *stdlog.Logger {
	return stdlog.New(&stdLogWriter{logger: logger, level: level}, "", 0)
}

// RedirectStdLog routes the standard library's default logger through logger
// at InfoLevel.
func RedirectStdLog(logger Logger) {
	stdlog.SetFlags(0)
	stdlog.SetPrefix("")
	stdlog.SetOutput(&stdLogWriter{logger: logger.WithComponent("stdlog"), level: InfoLevel})
}
