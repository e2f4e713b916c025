package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/x/ansi"
	"github.com/charmbracelet/x/term"
	"github.com/muesli/termenv"

	"github.com/slotwatch/slotwatch/internal/observability"
)

// Palette colors, ANSI 256.
const (
	colorPrimary = lipgloss.Color("39")
	colorText    = lipgloss.Color("252")
	colorMuted   = lipgloss.Color("244")
	colorError   = lipgloss.Color("203")
	colorWarning = lipgloss.Color("214")
	colorSuccess = lipgloss.Color("78")
)

const maxCellWidth = 40

// now is replaced in tests.
var now = time.Now

// Renderer handles styled terminal output.
type Renderer struct {
	width  int
	styled bool

	Summary lipgloss.Style
	Muted   lipgloss.Style
	Data    lipgloss.Style
	Error   lipgloss.Style
	Hint    lipgloss.Style
	Warning lipgloss.Style
	Success lipgloss.Style

	Header    lipgloss.Style
	Cell      lipgloss.Style
	CellMuted lipgloss.Style
}

// NewRenderer creates a renderer. Styling is enabled when writing to a TTY,
// or when forceStyled is true, unless NO_COLOR is set.
func NewRenderer(w io.Writer, forceStyled bool) *Renderer {
	width, tty := terminalInfo(w)
	styled := (tty || forceStyled) && os.Getenv("NO_COLOR") == ""

	// lipgloss v1 ignores per-renderer profiles for table output, so the
	// global profile is set instead.
	if styled {
		lipgloss.SetColorProfile(termenv.ANSI256)
	} else {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	r := &Renderer{width: width, styled: styled}
	plain := lipgloss.NewStyle()
	if !styled {
		r.Summary, r.Muted, r.Data, r.Error, r.Hint = plain, plain, plain, plain, plain
		r.Warning, r.Success, r.Header, r.Cell, r.CellMuted = plain, plain, plain, plain, plain
		return r
	}

	r.Summary = plain.Foreground(colorPrimary).Bold(true)
	r.Muted = plain.Foreground(colorMuted)
	r.Data = plain.Foreground(colorText)
	r.Error = plain.Foreground(colorError).Bold(true)
	r.Hint = plain.Foreground(colorMuted).Italic(true)
	r.Warning = plain.Foreground(colorWarning)
	r.Success = plain.Foreground(colorSuccess)
	r.Header = plain.Foreground(colorText).Bold(true)
	r.Cell = plain.Foreground(colorText)
	r.CellMuted = plain.Foreground(colorMuted)
	return r
}

// terminalInfo returns the terminal width and whether the writer is a TTY.
func terminalInfo(w io.Writer) (width int, isTTY bool) {
	width = 80

	if f, ok := w.(*os.File); ok {
		if cols, _, err := term.GetSize(f.Fd()); err == nil && cols >= 40 {
			width = cols
		}
		isTTY = term.IsTerminal(f.Fd())
	}
	return width, isTTY
}

// RenderResponse renders a success response to the writer.
func (r *Renderer) RenderResponse(w io.Writer, resp *Response) error {
	var b strings.Builder

	if resp.Summary != "" {
		b.WriteString(r.Summary.Render(resp.Summary))
		b.WriteString("\n\n")
	}

	r.renderData(&b, NormalizeData(resp.Data))

	if len(resp.Breadcrumbs) > 0 {
		b.WriteString("\n")
		r.renderBreadcrumbs(&b, resp.Breadcrumbs)
	}

	if parts := statsParts(resp.Meta); len(parts) > 0 {
		b.WriteString("\n")
		b.WriteString(r.Muted.Render("Stats: " + strings.Join(parts, " | ")))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// RenderError renders an error response to the writer.
func (r *Renderer) RenderError(w io.Writer, resp *ErrorResponse) error {
	var b strings.Builder

	b.WriteString(r.Error.Render("Error: " + resp.Error))
	b.WriteString("\n")
	if resp.Hint != "" {
		b.WriteString(r.Hint.Render("Hint: " + resp.Hint))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func (r *Renderer) renderData(b *strings.Builder, data any) {
	switch d := data.(type) {
	case []map[string]any:
		if len(d) == 0 {
			b.WriteString(r.Muted.Render("(no results)"))
			b.WriteString("\n")
			return
		}
		r.renderTable(b, d)
	case map[string]any:
		r.renderObject(b, d)
	case []any:
		if len(d) == 0 {
			b.WriteString(r.Muted.Render("(no results)"))
			b.WriteString("\n")
			return
		}
		for _, item := range d {
			b.WriteString(r.Data.Render("• " + formatCell(item)))
			b.WriteString("\n")
		}
	case string:
		b.WriteString(r.Data.Render(d))
		b.WriteString("\n")
	case nil:
		b.WriteString(r.Muted.Render("(no data)"))
		b.WriteString("\n")
	default:
		b.WriteString(r.Data.Render(fmt.Sprintf("%v", data)))
		b.WriteString("\n")
	}
}

// Column priority for table and object rendering (lower = higher priority).
// Unlisted keys sort after these.
var columnPriority = map[string]int{
	"id":                   1,
	"name":                 2,
	"latest_slot":          3,
	"freshness":            4,
	"observed_at":          5,
	"consecutive_failures": 6,
	"last_error":           7,
	"pass_rate":            8,
	"low_data":             9,
	"status":               10,
	"address":              11,
	"refresh_interval":     12,
	"next_due":             13,
	"version":              20,
	"generation":           21,
	"center_generation":    22,
}

var mutedColumns = map[string]bool{
	"id":                true,
	"version":           true,
	"generation":        true,
	"center_generation": true,
}

// Fields that only make sense in single-object output.
var skipTableColumns = map[string]bool{
	"available_slots":   true,
	"address":           true,
	"latitude":          true,
	"longitude":         true,
	"unconfirmed":       true,
	"version":           true,
	"generation":        true,
	"passes":            true,
	"failures":          true,
	"center_generation": true,
}

type column struct {
	key      string
	header   string
	priority int
	width    int
}

func priorityOf(key string) int {
	if p, ok := columnPriority[key]; ok {
		return p
	}
	return 50
}

// detectColumns lists the scalar keys of the first row in priority order.
func detectColumns(data []map[string]any) []column {
	if len(data) == 0 {
		return nil
	}

	var cols []column
	for key, val := range data[0] {
		if skipTableColumns[key] {
			continue
		}
		switch val.(type) {
		case map[string]any, []map[string]any, []any:
			continue
		}
		cols = append(cols, column{key: key, header: formatHeader(key), priority: priorityOf(key)})
	}

	sort.Slice(cols, func(i, j int) bool {
		if cols[i].priority != cols[j].priority {
			return cols[i].priority < cols[j].priority
		}
		return cols[i].key < cols[j].key
	})
	return cols
}

// objectFields lists the renderable keys of an object in priority order.
func objectFields(data map[string]any) []string {
	var keys []string
	for k, v := range data {
		if _, nested := v.(map[string]any); nested {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		pi, pj := priorityOf(keys[i]), priorityOf(keys[j])
		if pi != pj {
			return pi < pj
		}
		return keys[i] < keys[j]
	})
	return keys
}

func (r *Renderer) renderTable(b *strings.Builder, data []map[string]any) {
	columns := r.selectColumns(detectColumns(data), data)
	if len(columns) == 0 {
		return
	}

	t := table.New().
		Border(lipgloss.HiddenBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return r.Header
			}
			if col >= len(columns) {
				return r.Cell
			}
			key := columns[col].key
			if key == "freshness" && row >= 0 && row < len(data) {
				return r.freshnessStyle(data[row][key])
			}
			if mutedColumns[key] {
				return r.CellMuted
			}
			return r.Cell
		})

	headers := make([]string, len(columns))
	for i, col := range columns {
		headers[i] = col.header
	}
	t.Headers(headers...)

	for _, item := range data {
		row := make([]string, len(columns))
		for i, col := range columns {
			row[i] = formatValue(col.key, item[col.key])
		}
		t.Row(row...)
	}

	b.WriteString(t.String())
	b.WriteString("\n")
}

// selectColumns drops the lowest priority columns until the table fits.
func (r *Renderer) selectColumns(cols []column, data []map[string]any) []column {
	const padding = 2

	total := 0
	for i := range cols {
		cols[i].width = lipgloss.Width(cols[i].header)
		for _, row := range data {
			cols[i].width = max(cols[i].width, lipgloss.Width(formatValue(cols[i].key, row[cols[i].key])))
		}
		cols[i].width = min(cols[i].width, maxCellWidth)
		total += cols[i].width + padding
	}

	for len(cols) > 1 && total > r.width {
		last := cols[len(cols)-1]
		total -= last.width + padding
		cols = cols[:len(cols)-1]
	}
	return cols
}

func (r *Renderer) freshnessStyle(v any) lipgloss.Style {
	switch v {
	case "fresh":
		return r.Success
	case "stale":
		return r.Warning
	case "failed":
		return r.Error
	default:
		return r.CellMuted
	}
}

func (r *Renderer) renderObject(b *strings.Builder, data map[string]any) {
	keys := objectFields(data)
	if len(keys) == 0 {
		b.WriteString(r.Muted.Render("(no data)"))
		b.WriteString("\n")
		return
	}

	width := 0
	for _, k := range keys {
		width = max(width, len(formatHeader(k)))
	}

	for _, k := range keys {
		label := r.Muted.Render(fmt.Sprintf("%-*s: ", width, formatHeader(k)))
		style := r.Data
		switch {
		case k == "freshness":
			style = r.freshnessStyle(data[k])
		case mutedColumns[k]:
			style = r.CellMuted
		}
		b.WriteString(label + style.Render(formatValue(k, data[k])) + "\n")
	}
}

func (r *Renderer) renderBreadcrumbs(b *strings.Builder, crumbs []Breadcrumb) {
	b.WriteString(r.Muted.Render("Next:"))
	b.WriteString("\n")
	for _, bc := range crumbs {
		line := r.Muted.Render("  " + bc.Cmd)
		if bc.Description != "" {
			line += r.Muted.Render("  # " + bc.Description)
		}
		b.WriteString(line + "\n")
	}
}

// statsParts formats the session statistics carried in meta.stats.
func statsParts(meta map[string]any) []string {
	stats, _ := meta["stats"].(map[string]any)
	if stats == nil {
		return nil
	}
	return observability.SessionMetricsFromMap(stats).FormatParts()
}

func formatHeader(key string) string {
	key = strings.ReplaceAll(key, "_", " ")
	key = strings.TrimSuffix(key, " at")
	words := strings.Fields(key)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func formatCell(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return ansi.Truncate(v, maxCellWidth, "…")
	case bool:
		if v {
			return "yes"
		}
		return "no"
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%.4f", v)
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			items = append(items, formatCell(item))
		}
		return ansi.Truncate(strings.Join(items, ", "), maxCellWidth, "…")
	default:
		return fmt.Sprintf("%v", v)
	}
}

// formatValue formats a cell by key. Slot times are shown as absolute local
// times, observation times relative to now.
func formatValue(key string, val any) string {
	if rate, ok := val.(float64); ok && key == "pass_rate" {
		return fmt.Sprintf("%.1f%%", rate)
	}
	str, ok := val.(string)
	if !ok || str == "" {
		if key == "latest_slot" && val == nil {
			return "none"
		}
		if key == "available_slots" {
			return formatSlotList(val)
		}
		return formatCell(val)
	}

	switch {
	case key == "latest_slot" || strings.HasSuffix(key, "_slot") || key == "next_due":
		if t, err := time.Parse(time.RFC3339, str); err == nil {
			return t.Local().Format("Mon 2 Jan 2006 15:04")
		}
	case strings.HasSuffix(key, "_at"):
		if t, err := time.Parse(time.RFC3339, str); err == nil {
			return relativeTime(t)
		}
	}
	return formatCell(val)
}

func formatSlotList(val any) string {
	slots, _ := val.([]any)
	if len(slots) == 0 {
		return ""
	}
	first := formatValue("latest_slot", slots[0])
	if len(slots) == 1 {
		return first
	}
	return fmt.Sprintf("%s (+%d more)", first, len(slots)-1)
}

func relativeTime(t time.Time) string {
	diff := now().Sub(t)
	switch {
	case diff < 0:
		return t.Local().Format("Jan 2, 2006 15:04")
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day") + " ago"
	default:
		return t.Local().Format("Jan 2, 2006")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// MarkdownRenderer outputs literal Markdown syntax.
type MarkdownRenderer struct {
	width int
}

// NewMarkdownRenderer creates a renderer for literal Markdown output.
func NewMarkdownRenderer(w io.Writer) *MarkdownRenderer {
	width, _ := terminalInfo(w)
	return &MarkdownRenderer{width: width}
}

// RenderResponse renders a success response as literal Markdown.
func (r *MarkdownRenderer) RenderResponse(w io.Writer, resp *Response) error {
	var b strings.Builder

	if resp.Summary != "" {
		b.WriteString("## " + resp.Summary + "\n\n")
	}

	switch d := NormalizeData(resp.Data).(type) {
	case []map[string]any:
		if len(d) == 0 {
			b.WriteString("*No results*\n")
		} else {
			r.renderTable(&b, d)
		}
	case map[string]any:
		for _, k := range objectFields(d) {
			b.WriteString("- **" + formatHeader(k) + ":** " + formatValue(k, d[k]) + "\n")
		}
	case []any:
		for _, item := range d {
			b.WriteString("- " + formatCell(item) + "\n")
		}
	case nil:
		b.WriteString("*No data*\n")
	default:
		fmt.Fprintf(&b, "%v\n", d)
	}

	if len(resp.Breadcrumbs) > 0 {
		b.WriteString("\n### Next\n\n")
		for _, bc := range resp.Breadcrumbs {
			line := "- `" + bc.Cmd + "`"
			if bc.Description != "" {
				line += ": " + bc.Description
			}
			b.WriteString(line + "\n")
		}
	}

	if parts := statsParts(resp.Meta); len(parts) > 0 {
		b.WriteString("\n*Stats: " + strings.Join(parts, " | ") + "*\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// RenderError renders an error response as literal Markdown.
func (r *MarkdownRenderer) RenderError(w io.Writer, resp *ErrorResponse) error {
	var b strings.Builder

	b.WriteString("**Error:** " + resp.Error + "\n")
	if resp.Hint != "" {
		b.WriteString("\n*Hint: " + resp.Hint + "*\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func (r *MarkdownRenderer) renderTable(b *strings.Builder, data []map[string]any) {
	cols := detectColumns(data)
	if len(cols) == 0 {
		return
	}

	headers := make([]string, len(cols))
	seps := make([]string, len(cols))
	for i, col := range cols {
		headers[i] = col.header
		seps[i] = "---"
	}
	b.WriteString("| " + strings.Join(headers, " | ") + " |\n")
	b.WriteString("| " + strings.Join(seps, " | ") + " |\n")

	for _, item := range data {
		cells := make([]string, len(cols))
		for i, col := range cols {
			cells[i] = strings.ReplaceAll(formatValue(col.key, item[col.key]), "|", "\\|")
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
}
