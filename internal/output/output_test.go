package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// Exit Codes and Errors
// =============================================================================

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{CodeUsage, ExitUsage},
		{CodeNotFound, ExitNotFound},
		{CodeConfig, ExitConfig},
		{CodeNetwork, ExitNetwork},
		{CodeInternal, ExitInternal},
		{"unknown_code", ExitInternal},
		{"", ExitInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := ExitCodeFor(tt.code); got != tt.expected {
				t.Errorf("ExitCodeFor(%q) = %d, want %d", tt.code, got, tt.expected)
			}
		})
	}
}

func TestErrorInterface(t *testing.T) {
	e := ErrUsageHint("bad flag", "use --help")
	if e.Error() != "bad flag: use --help" {
		t.Errorf("unexpected message: %q", e.Error())
	}
	if ErrUsage("bad flag").Error() != "bad flag" {
		t.Error("expected message without hint")
	}
	if e.ExitCode() != ExitUsage {
		t.Errorf("expected exit %d, got %d", ExitUsage, e.ExitCode())
	}
}

func TestErrNotFound(t *testing.T) {
	e := ErrNotFoundHint("center", "leeds", "Run: slotwatch centers list")
	if e.Code != CodeNotFound {
		t.Errorf("expected not_found, got %q", e.Code)
	}
	if e.Message != "center not found: leeds" {
		t.Errorf("unexpected message: %q", e.Message)
	}
	if e.Hint == "" {
		t.Error("expected hint")
	}
}

func TestErrConfig(t *testing.T) {
	cause := errors.New("center \"a\": duplicate id")
	e := ErrConfig(cause)
	if e.ExitCode() != ExitConfig {
		t.Errorf("expected exit %d, got %d", ExitConfig, e.ExitCode())
	}
	if !errors.Is(e, cause) {
		t.Error("expected cause to unwrap")
	}
	if e.Hint != cause.Error() {
		t.Errorf("expected hint to carry cause, got %q", e.Hint)
	}
}

func TestErrNetwork(t *testing.T) {
	e := ErrNetwork(errors.New("dial tcp: refused"))
	if !e.Retryable || e.Code != CodeNetwork {
		t.Errorf("unexpected error: %+v", e)
	}
}

func TestAsError(t *testing.T) {
	orig := ErrNotFound("center", "x")
	if got := AsError(orig); got != orig {
		t.Error("expected the same *Error back")
	}

	wrapped := AsError(errors.Join(errors.New("ctx"), orig))
	if wrapped.Code != CodeNotFound {
		t.Errorf("expected wrapped not_found, got %q", wrapped.Code)
	}

	plain := AsError(errors.New("boom"))
	if plain.Code != CodeInternal || plain.Message != "boom" {
		t.Errorf("unexpected conversion: %+v", plain)
	}
}

// =============================================================================
// Envelope
// =============================================================================

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{
		"":         FormatAuto,
		"json":     FormatJSON,
		"JSON":     FormatJSON,
		"md":       FormatMarkdown,
		"markdown": FormatMarkdown,
		"styled":   FormatStyled,
		"quiet":    FormatQuiet,
		"ids":      FormatIDs,
		"count":    FormatCount,
	}
	for in, want := range tests {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %v, %v; want %v", in, got, err, want)
		}
	}

	_, err := ParseFormat("yaml")
	if AsError(err).Code != CodeUsage {
		t.Errorf("expected usage error, got %v", err)
	}
}

func TestWriterOK(t *testing.T) {
	var buf bytes.Buffer
	w := New(Options{Format: FormatJSON, Writer: &buf})

	err := w.OK(map[string]any{"id": "leeds"},
		WithSummary("1 center"),
		WithBreadcrumbs(Breadcrumb{Action: "show", Cmd: "slotwatch centers show leeds"}),
		WithContext("generation", 7),
	)
	if err != nil {
		t.Fatalf("OK failed: %v", err)
	}

	var resp Response
	if err := json.Unmarshal(buf.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if !resp.OK || resp.Summary != "1 center" || len(resp.Breadcrumbs) != 1 {
		t.Errorf("unexpected envelope: %+v", resp)
	}
	if resp.Context["generation"] != float64(7) {
		t.Errorf("expected context generation 7, got %v", resp.Context["generation"])
	}
}

func TestWriterErr(t *testing.T) {
	var buf bytes.Buffer
	w := New(Options{Format: FormatJSON, Writer: &buf})

	if err := w.Err(ErrNetwork(errors.New("connection reset"))); err != nil {
		t.Fatalf("Err failed: %v", err)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(buf.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.OK || resp.Code != CodeNetwork || !resp.Retryable {
		t.Errorf("unexpected error envelope: %+v", resp)
	}
}

func TestWriterAutoIsJSONWhenNotTTY(t *testing.T) {
	var buf bytes.Buffer
	w := New(Options{Writer: &buf})

	if w.Format() != FormatJSON {
		t.Errorf("expected JSON for a buffer, got %v", w.Format())
	}
}

func TestWriterQuietFormat(t *testing.T) {
	var buf bytes.Buffer
	w := New(Options{Format: FormatQuiet, Writer: &buf})

	_ = w.OK([]string{"a", "b"}, WithSummary("ignored"))

	if strings.Contains(buf.String(), "ignored") || strings.Contains(buf.String(), `"ok"`) {
		t.Errorf("quiet output should contain data only: %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"a"`) {
		t.Errorf("expected data in output: %s", buf.String())
	}
}

func TestWriterIDsFormat(t *testing.T) {
	var buf bytes.Buffer
	w := New(Options{Format: FormatIDs, Writer: &buf})

	type view struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	_ = w.OK([]view{{"leeds", "Leeds"}, {"york", "York"}})

	if buf.String() != "leeds\nyork\n" {
		t.Errorf("unexpected ids output: %q", buf.String())
	}
}

func TestWriterCountFormat(t *testing.T) {
	tests := []struct {
		name string
		data any
		want string
	}{
		{"slice", []map[string]any{{"id": "a"}, {"id": "b"}}, "2\n"},
		{"empty", []map[string]any{}, "0\n"},
		{"object", map[string]any{"id": "a"}, "1\n"},
		{"nil", nil, "0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			_ = New(Options{Format: FormatCount, Writer: &buf}).OK(tt.data)
			if buf.String() != tt.want {
				t.Errorf("got %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestWriterJQ(t *testing.T) {
	data := []map[string]any{
		{"id": "leeds", "freshness": "fresh"},
		{"id": "york", "freshness": "stale"},
	}

	t.Run("strings raw", func(t *testing.T) {
		var buf bytes.Buffer
		w := New(Options{Format: FormatStyled, Writer: &buf, JQ: `.data[] | select(.freshness == "stale") | .id`})
		if err := w.OK(data); err != nil {
			t.Fatal(err)
		}
		if buf.String() != "york\n" {
			t.Errorf("unexpected output: %q", buf.String())
		}
	})

	t.Run("values as JSON", func(t *testing.T) {
		var buf bytes.Buffer
		w := New(Options{Writer: &buf, JQ: `.data | length`})
		if err := w.OK(data); err != nil {
			t.Fatal(err)
		}
		if buf.String() != "2\n" {
			t.Errorf("unexpected output: %q", buf.String())
		}
	})

	t.Run("error envelope", func(t *testing.T) {
		var buf bytes.Buffer
		w := New(Options{Writer: &buf, JQ: `.code`})
		if err := w.Err(ErrNotFound("center", "x")); err != nil {
			t.Fatal(err)
		}
		if buf.String() != "not_found\n" {
			t.Errorf("unexpected output: %q", buf.String())
		}
	})

	t.Run("invalid filter", func(t *testing.T) {
		var buf bytes.Buffer
		w := New(Options{Writer: &buf, JQ: `.data[`})
		err := w.OK(data)
		if AsError(err).Code != CodeUsage {
			t.Errorf("expected usage error, got %v", err)
		}
	})
}

func TestNormalizeData(t *testing.T) {
	type view struct {
		ID string `json:"id"`
	}

	if d, ok := NormalizeData([]view{{"a"}}).([]map[string]any); !ok || d[0]["id"] != "a" {
		t.Errorf("expected struct slice to normalize, got %#v", d)
	}
	if d, ok := NormalizeData(view{"a"}).(map[string]any); !ok || d["id"] != "a" {
		t.Errorf("expected struct to normalize, got %#v", d)
	}
	if d, ok := NormalizeData(json.RawMessage(`[{"id":"a"}]`)).([]map[string]any); !ok || len(d) != 1 {
		t.Errorf("expected raw message to normalize, got %#v", d)
	}
	if d, ok := NormalizeData([]string{}).([]map[string]any); !ok || len(d) != 0 {
		t.Errorf("expected empty slice to normalize, got %#v", d)
	}
	if NormalizeData(nil) != nil {
		t.Error("expected nil to stay nil")
	}
}

// =============================================================================
// Rendering
// =============================================================================

func TestFormatCell(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"short", "short"},
		{true, "yes"},
		{false, "no"},
		{float64(3), "3"},
		{53.8008, "53.8008"},
		{[]any{"a", float64(2)}, "a, 2"},
	}
	for _, tt := range tests {
		if got := formatCell(tt.in); got != tt.want {
			t.Errorf("formatCell(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}

	long := strings.Repeat("é", 60)
	got := formatCell(long)
	if !strings.HasSuffix(got, "…") || len([]rune(got)) != maxCellWidth {
		t.Errorf("expected rune-safe truncation to %d, got %q", maxCellWidth, got)
	}
}

func TestFormatValue(t *testing.T) {
	fixed := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	now = func() time.Time { return fixed }
	t.Cleanup(func() { now = time.Now })

	slot := "2026-11-02T09:30:00Z"
	want, _ := time.Parse(time.RFC3339, slot)
	if got := formatValue("latest_slot", slot); got != want.Local().Format("Mon 2 Jan 2006 15:04") {
		t.Errorf("unexpected slot format: %q", got)
	}
	if got := formatValue("latest_slot", nil); got != "none" {
		t.Errorf("expected none for missing slot, got %q", got)
	}

	tests := map[string]string{
		"2026-10-19T11:59:30Z": "just now",
		"2026-10-19T11:59:00Z": "1 minute ago",
		"2026-10-19T11:15:00Z": "45 minutes ago",
		"2026-10-19T09:00:00Z": "3 hours ago",
		"2026-10-17T12:00:00Z": "2 days ago",
	}
	for in, want := range tests {
		if got := formatValue("observed_at", in); got != want {
			t.Errorf("formatValue(observed_at, %s) = %q, want %q", in, got, want)
		}
	}

	list := []any{slot, "2026-11-03T09:30:00Z", "2026-11-04T09:30:00Z"}
	if got := formatValue("available_slots", list); !strings.HasSuffix(got, "(+2 more)") {
		t.Errorf("unexpected slot list: %q", got)
	}
	if got := formatValue("pass_rate", 72.44); got != "72.4%" {
		t.Errorf("unexpected pass rate: %q", got)
	}
}

func TestFormatHeader(t *testing.T) {
	tests := map[string]string{
		"id":                   "Id",
		"latest_slot":          "Latest Slot",
		"observed_at":          "Observed",
		"consecutive_failures": "Consecutive Failures",
	}
	for in, want := range tests {
		if got := formatHeader(in); got != want {
			t.Errorf("formatHeader(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDetectColumns(t *testing.T) {
	data := []map[string]any{{
		"version":         float64(2),
		"freshness":       "fresh",
		"name":            "Leeds",
		"id":              "leeds",
		"available_slots": []any{},
		"latitude":        53.8,
		"latest_slot":     nil,
	}}

	cols := detectColumns(data)
	var keys []string
	for _, c := range cols {
		keys = append(keys, c.key)
	}
	if got := strings.Join(keys, ","); got != "id,name,latest_slot,freshness" {
		t.Errorf("unexpected columns: %s", got)
	}
}

func TestSelectColumnsDropsLowPriority(t *testing.T) {
	r := &Renderer{width: 30}
	data := []map[string]any{{"id": "leeds", "name": "Leeds Harehills", "freshness": "fresh", "last_error": "upstream_timeout"}}

	cols := r.selectColumns(detectColumns(data), data)
	if len(cols) == 0 || cols[0].key != "id" {
		t.Fatalf("expected id to survive, got %+v", cols)
	}
	for _, c := range cols {
		if c.key == "last_error" {
			t.Error("expected last_error to be dropped on a narrow terminal")
		}
	}
}

func TestWriterMarkdownTable(t *testing.T) {
	var buf bytes.Buffer
	w := New(Options{Format: FormatMarkdown, Writer: &buf})

	_ = w.OK([]map[string]any{
		{"id": "leeds", "name": "Leeds | North", "freshness": "fresh"},
	}, WithSummary("1 center"), WithBreadcrumbs(Breadcrumb{Cmd: "slotwatch centers show leeds", Description: "Details"}))

	out := buf.String()
	for _, want := range []string{
		"## 1 center",
		"| Id | Name | Freshness |",
		"| --- | --- | --- |",
		`| leeds | Leeds \| North | fresh |`,
		"### Next",
		"- `slotwatch centers show leeds`: Details",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("markdown output should not contain ANSI escapes")
	}
}

func TestWriterMarkdownObject(t *testing.T) {
	var buf bytes.Buffer
	w := New(Options{Format: FormatMarkdown, Writer: &buf})

	_ = w.OK(map[string]any{"name": "Leeds", "id": "leeds", "consecutive_failures": float64(0)})

	out := buf.String()
	idIdx := strings.Index(out, "**Id:**")
	nameIdx := strings.Index(out, "**Name:**")
	if idIdx < 0 || nameIdx < 0 || idIdx > nameIdx {
		t.Errorf("expected id before name:\n%s", out)
	}
	if !strings.Contains(out, "- **Consecutive Failures:** 0") {
		t.Errorf("expected failure count:\n%s", out)
	}
}

func TestWriterMarkdownError(t *testing.T) {
	var buf bytes.Buffer
	w := New(Options{Format: FormatMarkdown, Writer: &buf})

	_ = w.Err(ErrNotFoundHint("center", "nowhere", "Run: slotwatch centers list"))

	if !strings.Contains(buf.String(), "**Error:** center not found: nowhere") {
		t.Errorf("unexpected output: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "*Hint: Run: slotwatch centers list*") {
		t.Errorf("expected hint: %s", buf.String())
	}
}

func TestWriterMarkdownStats(t *testing.T) {
	var buf bytes.Buffer
	w := New(Options{Format: FormatMarkdown, Writer: &buf})

	_ = w.OK(nil, WithStats(map[string]any{"fetches": 2, "succeeded": 2}))

	if !strings.Contains(buf.String(), "*Stats: 2 fetches (2 ok) | avg 0ms*") {
		t.Errorf("expected stats footer: %s", buf.String())
	}
}

func TestWriterStyledEmitsANSI(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	var buf bytes.Buffer
	w := New(Options{Format: FormatStyled, Writer: &buf})

	_ = w.OK([]map[string]any{{"id": "leeds", "freshness": "stale"}}, WithSummary("Centers"))

	out := buf.String()
	if !strings.Contains(out, "\x1b[") {
		t.Errorf("expected ANSI escapes in styled output: %q", out)
	}
	if !strings.Contains(out, "leeds") || !strings.Contains(out, "stale") {
		t.Errorf("expected cell values: %q", out)
	}
}

func TestWriterStyledRespectsNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	var buf bytes.Buffer
	w := New(Options{Format: FormatStyled, Writer: &buf})

	_ = w.Err(ErrUsage("bad"))

	if strings.Contains(buf.String(), "\x1b[") {
		t.Errorf("expected plain output with NO_COLOR: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "Error: bad") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}
