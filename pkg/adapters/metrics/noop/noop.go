// Package noop provides a MetricsCollector that discards every signal.
// Useful in tests and in wiring paths where metrics are disabled.
package noop

import "time"

// Collector discards all metrics.
type Collector struct{}

// NewCollector returns a no-op collector.
func NewCollector() *Collector { return &Collector{} }

func (*Collector) RecordRunSubmitted(string)                          {}
func (*Collector) RecordRunCompleted(string, time.Duration)           {}
func (*Collector) RecordAgentExecution(string, string, time.Duration) {}
func (*Collector) RecordRetry(string)                                 {}
func (*Collector) RecordPhaseDuration(string, time.Duration)          {}
func (*Collector) RecordStoreWrite(string, string, time.Duration)     {}
func (*Collector) RecordDeadLetter(string)                            {}
func (*Collector) SetAgentsInFlight(int)                              {}
