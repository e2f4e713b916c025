// Package observability provides metrics collection and tracing for refresh activity.
package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/slotwatch/slotwatch/internal/adapter"
)

// RequestMetrics holds timing and status information for a single upstream request.
type RequestMetrics struct {
	Method     string
	URL        string
	StatusCode int
	Duration   time.Duration
	Error      error
}

// FetchMetrics holds the outcome of one adapter call.
type FetchMetrics struct {
	CenterID string
	Outcome  adapter.Outcome
	Duration time.Duration
}

// SessionMetrics aggregates metrics for a whole run.
type SessionMetrics struct {
	StartTime         time.Time
	EndTime           time.Time
	TotalFetches      int
	Succeeded         int
	TemporaryFailures int
	PermanentFailures int
	Timeouts          int
	TotalRequests     int
	FailedRequests    int
	Cycles            int
	ManualRefreshes   int
	TotalLatency      time.Duration
}

// SessionCollector accumulates metrics across a run.
// It is safe for concurrent use and uses counters instead of unbounded slices.
type SessionCollector struct {
	mu sync.Mutex

	startTime         time.Time
	totalFetches      int
	succeeded         int
	temporaryFailures int
	permanentFailures int
	timeouts          int
	totalRequests     int
	failedRequests    int
	cycles            int
	manualRefreshes   int
	totalLatency      time.Duration
}

// NewSessionCollector creates a new SessionCollector.
func NewSessionCollector() *SessionCollector {
	return &SessionCollector{
		startTime: time.Now(),
	}
}

// RecordFetch records one settled adapter call.
func (c *SessionCollector) RecordFetch(m FetchMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalFetches++
	c.totalLatency += m.Duration
	switch m.Outcome.Kind {
	case adapter.KindSuccess:
		c.succeeded++
	case adapter.KindPermanent:
		c.permanentFailures++
	default:
		c.temporaryFailures++
	}
	if m.Outcome.Err != nil && m.Outcome.Err.Code == adapter.CodeUpstreamTimeout {
		c.timeouts++
	}
}

// RecordRequest records metrics for an upstream HTTP request.
func (c *SessionCollector) RecordRequest(m RequestMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
	if m.Error != nil || m.StatusCode >= 400 {
		c.failedRequests++
	}
}

// RecordCycle records one refresh round.
func (c *SessionCollector) RecordCycle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cycles++
}

// RecordManualRefresh records an accepted manual refresh request.
func (c *SessionCollector) RecordManualRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.manualRefreshes++
}

// Summary returns aggregated metrics for the session.
func (c *SessionCollector) Summary() SessionMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	return SessionMetrics{
		StartTime:         c.startTime,
		EndTime:           time.Now(),
		TotalFetches:      c.totalFetches,
		Succeeded:         c.succeeded,
		TemporaryFailures: c.temporaryFailures,
		PermanentFailures: c.permanentFailures,
		Timeouts:          c.timeouts,
		TotalRequests:     c.totalRequests,
		FailedRequests:    c.failedRequests,
		Cycles:            c.cycles,
		ManualRefreshes:   c.manualRefreshes,
		TotalLatency:      c.totalLatency,
	}
}

// Reset clears all collected metrics and resets the start time.
func (c *SessionCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.startTime = time.Now()
	c.totalFetches = 0
	c.succeeded = 0
	c.temporaryFailures = 0
	c.permanentFailures = 0
	c.timeouts = 0
	c.totalRequests = 0
	c.failedRequests = 0
	c.cycles = 0
	c.manualRefreshes = 0
	c.totalLatency = 0
}

// ToMap converts the metrics to the map form carried in response meta.
func (m SessionMetrics) ToMap() map[string]any {
	return map[string]any{
		"fetches":          m.TotalFetches,
		"succeeded":        m.Succeeded,
		"temporary":        m.TemporaryFailures,
		"permanent":        m.PermanentFailures,
		"timeouts":         m.Timeouts,
		"requests":         m.TotalRequests,
		"failed_requests":  m.FailedRequests,
		"cycles":           m.Cycles,
		"manual_refreshes": m.ManualRefreshes,
		"latency_ms":       m.TotalLatency.Milliseconds(),
		"elapsed_ms":       m.EndTime.Sub(m.StartTime).Milliseconds(),
	}
}

// SessionMetricsFromMap is the inverse of ToMap. It accepts the numeric
// types produced both by ToMap and by a JSON round trip.
func SessionMetricsFromMap(m map[string]any) SessionMetrics {
	num := func(key string) int64 {
		switch v := m[key].(type) {
		case int:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		default:
			return 0
		}
	}
	start := time.Time{}
	return SessionMetrics{
		StartTime:         start,
		EndTime:           start.Add(time.Duration(num("elapsed_ms")) * time.Millisecond),
		TotalFetches:      int(num("fetches")),
		Succeeded:         int(num("succeeded")),
		TemporaryFailures: int(num("temporary")),
		PermanentFailures: int(num("permanent")),
		Timeouts:          int(num("timeouts")),
		TotalRequests:     int(num("requests")),
		FailedRequests:    int(num("failed_requests")),
		Cycles:            int(num("cycles")),
		ManualRefreshes:   int(num("manual_refreshes")),
		TotalLatency:      time.Duration(num("latency_ms")) * time.Millisecond,
	}
}

// FormatParts returns the non-zero metrics as short phrases for a stats line.
func (m SessionMetrics) FormatParts() []string {
	var parts []string
	if m.TotalFetches > 0 {
		parts = append(parts, fmt.Sprintf("%d fetches (%d ok)", m.TotalFetches, m.Succeeded))
	}
	if failed := m.TemporaryFailures + m.PermanentFailures; failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", failed))
	}
	if m.Timeouts > 0 {
		parts = append(parts, fmt.Sprintf("%d timed out", m.Timeouts))
	}
	if m.TotalRequests > 0 {
		parts = append(parts, fmt.Sprintf("%d requests", m.TotalRequests))
	}
	if m.ManualRefreshes > 0 {
		parts = append(parts, fmt.Sprintf("%d manual", m.ManualRefreshes))
	}
	if m.TotalFetches > 0 {
		avg := m.TotalLatency / time.Duration(m.TotalFetches)
		parts = append(parts, fmt.Sprintf("avg %dms", avg.Milliseconds()))
	}
	if elapsed := m.EndTime.Sub(m.StartTime); elapsed > 0 {
		parts = append(parts, fmt.Sprintf("%dms total", elapsed.Milliseconds()))
	}
	return parts
}
