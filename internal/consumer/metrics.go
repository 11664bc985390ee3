package consumer

import "time"

// Metrics receives one observation per loop iteration that touched a message.
// itemType is empty when the payload was never decoded.
type Metrics interface {
	ObserveOutcome(queue, itemType string, outcome Outcome, elapsed time.Duration)
}

// NoopMetrics is used when no metrics sink is configured.
type NoopMetrics struct{}

func (NoopMetrics) ObserveOutcome(string, string, Outcome, time.Duration) {}
