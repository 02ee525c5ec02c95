package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike AlertType = "login_failure_spike"
	AlertRateLimitSpike    AlertType = "rate_limit_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// slidingCounter counts events in a trailing window and fires once per
// threshold crossing.
type slidingCounter struct {
	events    []time.Time
	window    time.Duration
	threshold int
}

func (c *slidingCounter) add(now time.Time) (count int, fired bool) {
	c.events = append(c.events, now)
	c.events = trimWindow(c.events, now, c.window)
	count = len(c.events)
	if count >= c.threshold {
		c.events = c.events[:0]
		return count, true
	}
	return count, false
}

// metricsCollector tracks sliding window counters for anomaly detection.
type metricsCollector struct {
	mu sync.Mutex

	loginFailures slidingCounter
	rateLimited   slidingCounter

	alertFn AlertFunc
	now     func() time.Time
}

const (
	defaultLoginFailureWindow    = 1 * time.Minute
	defaultLoginFailureThreshold = 50
	defaultRateLimitWindow       = 5 * time.Minute
	defaultRateLimitThreshold    = 20
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		loginFailures: slidingCounter{window: defaultLoginFailureWindow, threshold: defaultLoginFailureThreshold},
		rateLimited:   slidingCounter{window: defaultRateLimitWindow, threshold: defaultRateLimitThreshold},
		alertFn:       alertFn,
		now:           time.Now,
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	switch event {
	case AuditLoginFailure:
		m.record(&m.loginFailures, AlertLoginFailureSpike, "login callback failure rate exceeds threshold")
	case AuditRegisterRateLimited:
		m.record(&m.rateLimited, AlertRateLimitSpike, "account flow rate limiting exceeds threshold")
	}
}

func (m *metricsCollector) record(c *slidingCounter, typ AlertType, msg string) {
	m.mu.Lock()
	now := m.now()
	count, fired := c.add(now)
	threshold := c.threshold
	m.mu.Unlock()

	if fired {
		m.alertFn(AlertEvent{
			Type:      typ,
			Message:   msg,
			Count:     count,
			Threshold: threshold,
			Timestamp: now,
		})
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
