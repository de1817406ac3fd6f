package ratelimit

import "time"

// NoOpMetrics discards every observation. DomainLimiter uses it when no
// registry is wired.
type NoOpMetrics struct{}

func NewNoOpMetrics() *NoOpMetrics { return &NoOpMetrics{} }

func (*NoOpMetrics) RecordAllowed(string)          {}
func (*NoOpMetrics) RecordDenied(string)           {}
func (*NoOpMetrics) RecordWait(string, time.Duration) {}
func (*NoOpMetrics) SetActiveRequests(string, int) {}
