package observability

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/slotwatch/slotwatch/internal/adapter"
)

// sensitiveParams are query parameter names that should be scrubbed from trace output.
var sensitiveParams = map[string]bool{
	"access_token":  true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"key":           true,
	"password":      true,
	"secret":        true,
	"client_secret": true,
	"session":       true,
	"licence":       true, // driving licence numbers in booking URLs
	"license":       true,
}

// TraceWriter outputs human-readable trace information to stderr.
// It formats output with timestamps relative to session start.
type TraceWriter struct {
	mu        sync.Mutex
	writer    io.Writer
	startTime time.Time
}

// NewTraceWriter creates a new TraceWriter that writes to stderr.
func NewTraceWriter() *TraceWriter {
	return NewTraceWriterTo(os.Stderr)
}

// NewTraceWriterTo creates a new TraceWriter that writes to the given writer.
func NewTraceWriterTo(w io.Writer) *TraceWriter {
	return &TraceWriter{
		writer:    w,
		startTime: time.Now(),
	}
}

func (t *TraceWriter) line(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	elapsed := time.Since(t.startTime).Seconds()
	fmt.Fprintf(t.writer, "[%.3fs] "+format+"\n", append([]any{elapsed}, args...)...)
}

// WriteCycleStart writes a refresh round start line.
// Format: [0.002s] Refreshing 3 centers
func (t *TraceWriter) WriteCycleStart(ids []string) {
	noun := "centers"
	if len(ids) == 1 {
		noun = "center"
	}
	t.line("Refreshing %d %s", len(ids), noun)
}

// WriteCycleEnd writes a refresh round completion line.
// Format: [0.412s] Refreshed 3 centers (410ms)
func (t *TraceWriter) WriteCycleEnd(settled int, duration time.Duration) {
	t.line("Refreshed %d centers (%dms)", settled, duration.Milliseconds())
}

// WriteFetchEnd writes one center's outcome.
// Format: [0.234s] Completed leeds (120ms) or [0.234s] Failed york upstream_timeout: ...
func (t *TraceWriter) WriteFetchEnd(centerID string, out adapter.Outcome, duration time.Duration) {
	if out.OK() {
		t.line("Completed %s (%dms)", centerID, duration.Milliseconds())
		return
	}
	msg := out.Kind.String()
	if out.Err != nil {
		msg = out.Err.Error()
	}
	t.line("Failed %s %s (%dms)", centerID, msg, duration.Milliseconds())
}

// WriteRefreshRequest writes a manual refresh decision.
// Format: [1.020s] Manual refresh leeds: coalesced
func (t *TraceWriter) WriteRefreshRequest(centerID, status string) {
	t.line("Manual refresh %s: %s", centerID, status)
}

// WriteRequestStart writes a request start trace line.
// Format: [0.234s]   -> GET https://example.test/slots
// Sensitive query parameters are redacted.
func (t *TraceWriter) WriteRequestStart(method, rawURL string) {
	t.line("  -> %s %s", method, scrubURL(rawURL))
}

// WriteRequestEnd writes a request completion trace line.
// Format: [0.234s]   <- 200 (45ms)
func (t *TraceWriter) WriteRequestEnd(status int, duration time.Duration, err error) {
	if err != nil {
		t.line("  <- ERROR: %v", err)
		return
	}
	t.line("  <- %d (%dms)", status, duration.Milliseconds())
}

// Reset resets the start time for relative timestamps.
func (t *TraceWriter) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startTime = time.Now()
}

// scrubURL redacts sensitive query parameters from a URL for safe logging.
// Returns a safe placeholder if the URL cannot be parsed.
func scrubURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		// Don't leak potentially sensitive malformed URLs
		return "[unparseable URL]"
	}

	query := u.Query()
	modified := false
	for key := range query {
		if sensitiveParams[strings.ToLower(key)] {
			query.Set(key, "[REDACTED]")
			modified = true
		}
	}

	if !modified {
		return rawURL
	}

	u.RawQuery = query.Encode()
	return u.String()
}
