package observability

import (
	"context"
	"sync"
	"time"

	"github.com/slotwatch/slotwatch/internal/adapter"
	"github.com/slotwatch/slotwatch/internal/fetchpool"
	"github.com/slotwatch/slotwatch/internal/scheduler"
)

// Verify CLIHooks implements the observer interfaces at compile time.
var (
	_ fetchpool.Observer      = (*CLIHooks)(nil)
	_ adapter.RequestObserver = (*CLIHooks)(nil)
	_ scheduler.Hooks         = (*CLIHooks)(nil)
)

// CLIHooks observes refresh activity.
// It supports configurable verbosity levels:
//   - 0: Silent (collect stats only, no output)
//   - 1: Refresh rounds and per-center outcomes
//   - 2: Rounds, outcomes and upstream HTTP requests
type CLIHooks struct {
	mu        sync.Mutex
	level     int
	collector *SessionCollector
	writer    *TraceWriter
	metrics   *Metrics
}

// NewCLIHooks creates a new CLIHooks with the given verbosity level.
// If collector is nil, metrics are not collected.
// If writer is nil, no trace output is produced.
func NewCLIHooks(level int, collector *SessionCollector, writer *TraceWriter) *CLIHooks {
	return &CLIHooks{
		level:     level,
		collector: collector,
		writer:    writer,
	}
}

// SetLevel changes the verbosity level at runtime.
func (h *CLIHooks) SetLevel(level int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.level = level
}

// Level returns the current verbosity level.
func (h *CLIHooks) Level() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level
}

// SetMetrics forwards fetch outcomes to Prometheus metrics as well.
func (h *CLIHooks) SetMetrics(m *Metrics) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metrics = m
}

func (h *CLIHooks) snapshot() (int, *SessionCollector, *TraceWriter, *Metrics) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level, h.collector, h.writer, h.metrics
}

// OnFetchStart is called when an adapter call takes a pool slot.
func (h *CLIHooks) OnFetchStart(context.Context, string) {}

// OnFetchEnd is called when an adapter call settles.
func (h *CLIHooks) OnFetchEnd(_ context.Context, centerID string, out adapter.Outcome, duration time.Duration) {
	level, collector, writer, metrics := h.snapshot()

	if collector != nil {
		collector.RecordFetch(FetchMetrics{CenterID: centerID, Outcome: out, Duration: duration})
	}
	if metrics != nil {
		metrics.ObserveFetch(centerID, out, duration)
	}
	if level >= 1 && writer != nil {
		writer.WriteFetchEnd(centerID, out, duration)
	}
}

// OnRequestStart is called before an upstream HTTP request is sent.
func (h *CLIHooks) OnRequestStart(_ context.Context, method, url string) {
	level, _, writer, _ := h.snapshot()
	if level >= 2 && writer != nil {
		writer.WriteRequestStart(method, url)
	}
}

// OnRequestEnd is called after an upstream HTTP request completes.
func (h *CLIHooks) OnRequestEnd(_ context.Context, method, url string, status int, duration time.Duration, err error) {
	level, collector, writer, _ := h.snapshot()

	if collector != nil {
		collector.RecordRequest(RequestMetrics{
			Method:     method,
			URL:        url,
			StatusCode: status,
			Duration:   duration,
			Error:      err,
		})
	}
	if level >= 2 && writer != nil {
		writer.WriteRequestEnd(status, duration, err)
	}
}

// OnCycleStart is called when a refresh round hands centers to the pool.
func (h *CLIHooks) OnCycleStart(_ context.Context, ids []string) {
	level, _, writer, _ := h.snapshot()
	if level >= 1 && writer != nil {
		writer.WriteCycleStart(ids)
	}
}

// OnCycleEnd is called when every center of a round has settled.
func (h *CLIHooks) OnCycleEnd(_ context.Context, settled int, duration time.Duration) {
	level, collector, writer, _ := h.snapshot()

	if collector != nil {
		collector.RecordCycle()
	}
	if level >= 1 && writer != nil {
		writer.WriteCycleEnd(settled, duration)
	}
}

// OnRefreshRequest is called for every manual refresh request.
func (h *CLIHooks) OnRefreshRequest(centerID string, status scheduler.RefreshStatus) {
	level, collector, writer, _ := h.snapshot()

	if collector != nil && status == scheduler.Accepted {
		collector.RecordManualRefresh()
	}
	if level >= 1 && writer != nil {
		writer.WriteRefreshRequest(centerID, status.String())
	}
}
