package log

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// BaseLogger is the Logger returned by NewLogger. Children created by With
// share the parent's pipeline and level.
type BaseLogger struct {
	p      *pipeline
	level  *slog.LevelVar
	fields []Field
	h      *handler
}

func newBaseLogger(p *pipeline, level *slog.LevelVar, fields []Field) *BaseLogger {
	return &BaseLogger{
		p:      p,
		level:  level,
		fields: fields,
		h:      &handler{p: p, level: level, attrs: fieldAttrs(fields)},
	}
}

func (l *BaseLogger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields) }
func (l *BaseLogger) Info(msg string, fields ...Field)  { l.log(InfoLevel, msg, fields) }
func (l *BaseLogger) Warn(msg string, fields ...Field)  { l.log(WarnLevel, msg, fields) }
func (l *BaseLogger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields) }

// Fatal logs, closes every output and exits with status 1.
func (l *BaseLogger) Fatal(msg string, fields ...Field) {
	l.log(FatalLevel, msg, fields)
	l.p.close()
	os.Exit(1)
}

func (l *BaseLogger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return newBaseLogger(l.p, l.level, merged)
}

func (l *BaseLogger) WithFields(fields Fields) Logger {
	fs := make([]Field, 0, len(fields))
	for k, v := range fields {
		fs = append(fs, F(k, v))
	}
	return l.With(fs...)
}

func (l *BaseLogger) WithComponent(component string) Logger {
	return l.With(Component(component))
}

func (l *BaseLogger) SetLevel(level Level) { l.level.Set(toSlogLevel(level)) }

func (l *BaseLogger) GetLevel() Level { return fromSlogLevel(l.level.Level()) }

// Slog returns a *slog.Logger writing through the same formatter and outputs,
// for libraries that accept one.
func (l *BaseLogger) Slog() *slog.Logger { return slog.New(l.h) }

func (l *BaseLogger) log(level Level, msg string, fields []Field) {
	sl := toSlogLevel(level)
	if sl < l.level.Level() {
		return
	}
	var pcs [1]uintptr
	// runtime.Callers, log, exported method
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), sl, msg, pcs[0])
	r.AddAttrs(fieldAttrs(fields)...)
	_ = l.h.Handle(context.Background(), r)
}
