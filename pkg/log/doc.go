// Package log is maestro's structured logger.
//
// A Logger carries Fields and writes Entries through a Formatter (text or
// JSON) to one or more Outputs. Children made with With share their parent's
// outputs and level, so raising the level on the root affects the whole tree:
//
//	logger := log.NewLogger(log.WithFormatter(&log.TextFormatter{}))
//	qlog := logger.With(log.Component("consumer"), log.Str("queue", "jobs"))
//	qlog.Info("message evicted", log.Int("dequeue_count", 6))
//
// ApplyConfig builds a logger from the log section of the service config,
// including key redaction and per-message sampling. Libraries that log through
// the standard library or slog are routed into the same pipeline with
// RedirectStdLog, ToStdLogger and (*BaseLogger).Slog.
package log
