// Package commands implements the CLI commands.
package commands

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/slotwatch/slotwatch/internal/appctx"
	"github.com/slotwatch/slotwatch/internal/config"
	"github.com/slotwatch/slotwatch/internal/output"
	"github.com/slotwatch/slotwatch/internal/snapshot"
	"github.com/slotwatch/slotwatch/internal/version"
)

// Check represents a single diagnostic check result.
type Check struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "pass", "fail", "skip", "warn"
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// DoctorResult holds the complete diagnostic results.
type DoctorResult struct {
	Checks  []Check `json:"checks"`
	Passed  int     `json:"passed"`
	Failed  int     `json:"failed"`
	Warned  int     `json:"warned"`
	Skipped int     `json:"skipped"`
}

// Summary returns a human-readable summary of the results.
func (r *DoctorResult) Summary() string {
	if r.Failed == 0 && r.Warned == 0 && r.Passed > 0 {
		if r.Skipped > 0 {
			return fmt.Sprintf("All %d checks passed, %d skipped", r.Passed, r.Skipped)
		}
		return fmt.Sprintf("All %d checks passed", r.Passed)
	}
	parts := []string{}
	if r.Passed > 0 {
		parts = append(parts, fmt.Sprintf("%d passed", r.Passed))
	}
	if r.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", r.Failed))
	}
	if r.Warned > 0 {
		parts = append(parts, fmt.Sprintf("%d %s", r.Warned, pluralize(r.Warned, "warning", "warnings")))
	}
	if r.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", r.Skipped))
	}
	return strings.Join(parts, ", ")
}

// NewDoctorCmd creates the doctor command.
func NewDoctorCmd() *cobra.Command {
	var verbose, offline bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and centers",
		Long: `Run diagnostic checks on configuration and upstream reachability.

The doctor command checks:
  - Configuration files (existence and validity)
  - Refresh settings
  - Center definitions and their adapters
  - Export path and metrics address
  - One refresh of every center (skipped with --offline)

Examples:
  slotwatch doctor              # Run all diagnostic checks
  slotwatch doctor --json       # Output results as JSON
  slotwatch doctor --offline    # Skip fetching from upstreams`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}

			checks := runDoctorChecks(cmd.Context(), app, verbose, offline)
			result := summarizeChecks(checks)

			// For styled output, render a human-friendly format
			if app.Output.Format() == output.FormatStyled && app.Flags.JQ == "" {
				renderDoctorStyled(cmd.OutOrStdout(), result)
				return nil
			}

			opts := []output.ResponseOption{
				output.WithSummary(result.Summary()),
			}
			if breadcrumbs := buildDoctorBreadcrumbs(checks); len(breadcrumbs) > 0 {
				opts = append(opts, output.WithBreadcrumbs(breadcrumbs...))
			}
			return app.OK(result, opts...)
		},
	}

	cmd.Flags().BoolVar(&verbose, "verbose", false, "Show additional debug information")
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip the upstream refresh check")

	return cmd
}

// runDoctorChecks executes all diagnostic checks.
func runDoctorChecks(ctx context.Context, app *appctx.App, verbose, offline bool) []Check {
	checks := []Check{checkVersion(verbose)}
	if verbose {
		checks = append(checks, checkRuntime())
	}

	checks = append(checks, checkConfigFiles(verbose)...)
	checks = append(checks, checkSettings(app.Config))

	centers := checkCenters(app)
	checks = append(checks, centers)

	checks = append(checks, checkExportPath(app.Config.ExportPath))
	checks = append(checks, checkMetricsAddr(app.Config.MetricsAddr))

	switch {
	case offline:
		checks = append(checks, Check{Name: "Upstreams", Status: "skip", Message: "Skipped (--offline)"})
	case centers.Status != "pass":
		checks = append(checks, Check{Name: "Upstreams", Status: "skip", Message: "Skipped (no valid centers)"})
	default:
		checks = append(checks, checkUpstreams(ctx, app, verbose))
	}

	return checks
}

func checkVersion(verbose bool) Check {
	check := Check{
		Name:    "Version",
		Status:  "pass",
		Message: version.Version,
	}
	if version.IsDev() {
		check.Message = "dev (built from source)"
	}
	if verbose {
		check.Message += fmt.Sprintf(" [commit: %s, date: %s]", version.Commit, version.Date)
	}
	return check
}

// checkRuntime returns Go runtime information.
func checkRuntime() Check {
	return Check{
		Name:    "Runtime",
		Status:  "pass",
		Message: fmt.Sprintf("Go %s (%s/%s)", runtime.Version(), runtime.GOOS, runtime.GOARCH),
	}
}

var layerNames = map[config.Source]string{
	config.SourceSystem: "System Config",
	config.SourceGlobal: "Global Config",
	config.SourceLocal:  "Local Config",
}

// checkConfigFiles checks that each config file present parses as YAML.
func checkConfigFiles(verbose bool) []Check {
	var checks []Check
	found := false
	for _, l := range config.Layers() {
		name := layerNames[l.Source]
		if _, err := os.Stat(l.Path); err != nil {
			if verbose {
				checks = append(checks, Check{Name: name, Status: "skip", Message: "Not found: " + l.Path})
			}
			continue
		}
		found = true
		checks = append(checks, validateConfigFile(l.Path, name, verbose))
	}
	if !found {
		checks = append(checks, Check{
			Name:    "Config Files",
			Status:  "warn",
			Message: "None found (using defaults)",
			Hint:    "Run: slotwatch config init",
		})
	}
	return checks
}

func validateConfigFile(path, name string, verbose bool) Check {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from trusted config locations
	if err != nil {
		return Check{
			Name:    name,
			Status:  "fail",
			Message: fmt.Sprintf("Cannot read: %s", path),
			Hint:    fmt.Sprintf("Check file permissions: %v", err),
		}
	}

	var cfg map[string]any
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Check{
			Name:    name,
			Status:  "fail",
			Message: fmt.Sprintf("Invalid YAML: %s", path),
			Hint:    fmt.Sprintf("YAML error: %v", err),
		}
	}

	msg := path
	if verbose {
		msg = fmt.Sprintf("%s (%d keys)", path, len(cfg))
	}
	return Check{Name: name, Status: "pass", Message: msg}
}

func checkSettings(cfg *config.Config) Check {
	if err := cfg.Validate(); err != nil {
		return Check{
			Name:    "Settings",
			Status:  "fail",
			Message: strings.ReplaceAll(err.Error(), "\n", "; "),
			Hint:    "Run: slotwatch config show",
		}
	}
	return Check{
		Name:   "Settings",
		Status: "pass",
		Message: fmt.Sprintf("refresh %s, %d concurrent, timeout %s",
			cfg.RefreshInterval, cfg.MaxConcurrency, cfg.FetchTimeout),
	}
}

func checkCenters(app *appctx.App) Check {
	rt, err := app.Runtime()
	if err != nil {
		e := output.AsError(err)
		msg := e.Hint
		if msg == "" {
			msg = e.Message
		}
		return Check{
			Name:    "Centers",
			Status:  "fail",
			Message: strings.ReplaceAll(msg, "\n", "; "),
			Hint:    "Add centers to .slotwatch/config.yaml or pass --centers <file>",
		}
	}
	return Check{
		Name:    "Centers",
		Status:  "pass",
		Message: app.Locale.FormatCount(rt.Registry.Len(), "center") + " configured",
	}
}

func checkExportPath(path string) Check {
	if path == "" {
		return Check{Name: "Export", Status: "skip", Message: "Not configured"}
	}
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		return Check{Name: "Export", Status: "warn", Message: "Directory will be created: " + dir}
	case err != nil:
		return Check{Name: "Export", Status: "fail", Message: err.Error()}
	case !info.IsDir():
		return Check{Name: "Export", Status: "fail", Message: "Not a directory: " + dir}
	}
	return Check{Name: "Export", Status: "pass", Message: path}
}

func checkMetricsAddr(addr string) Check {
	if addr == "" {
		return Check{Name: "Metrics", Status: "skip", Message: "Not configured"}
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return Check{
			Name:    "Metrics",
			Status:  "fail",
			Message: fmt.Sprintf("Invalid address %q", addr),
			Hint:    "Use host:port, e.g. 127.0.0.1:9464",
		}
	}
	return Check{Name: "Metrics", Status: "pass", Message: addr}
}

// checkUpstreams refreshes every center once and grades the result by
// the worst freshness seen.
func checkUpstreams(ctx context.Context, app *appctx.App, verbose bool) Check {
	rt, err := app.Runtime()
	if err != nil {
		return Check{Name: "Upstreams", Status: "skip", Message: "Skipped (no valid centers)"}
	}
	if err := rt.Scheduler.RefreshNow(ctx); err != nil {
		return Check{Name: "Upstreams", Status: "skip", Message: "Interrupted"}
	}

	views := rt.Query.List()
	counts := freshnessCounts(views)
	check := Check{Name: "Upstreams", Status: "pass", Message: listSummary(app.Locale, views)}

	var failing []string
	for _, v := range views {
		if v.Freshness != snapshot.Fresh {
			failing = append(failing, fmt.Sprintf("%s (%s)", v.ID, v.LastError))
		}
	}
	switch {
	case counts[snapshot.Fresh] == 0:
		check.Status = "fail"
	case len(failing) > 0:
		check.Status = "warn"
	}
	if len(failing) > 0 {
		check.Hint = "Failing: " + strings.Join(failing, ", ")
		if verbose {
			check.Hint += "; rerun with -vv to trace requests"
		}
	}
	return check
}

func summarizeChecks(checks []Check) *DoctorResult {
	result := &DoctorResult{Checks: checks}
	for _, c := range checks {
		switch c.Status {
		case "pass":
			result.Passed++
		case "fail":
			result.Failed++
		case "warn":
			result.Warned++
		case "skip":
			result.Skipped++
		}
	}
	return result
}

func buildDoctorBreadcrumbs(checks []Check) []output.Breadcrumb {
	var breadcrumbs []output.Breadcrumb

	for _, c := range checks {
		if c.Status != "fail" && c.Status != "warn" {
			continue
		}

		switch c.Name {
		case "Config Files":
			breadcrumbs = append(breadcrumbs, output.Breadcrumb{
				Action:      "init",
				Cmd:         "slotwatch config init",
				Description: "Create a local config file",
			})
		case "Settings", "Centers", "System Config", "Global Config", "Local Config":
			breadcrumbs = append(breadcrumbs, output.Breadcrumb{
				Action:      "config",
				Cmd:         "slotwatch config show",
				Description: "Review configuration",
			})
		case "Upstreams":
			breadcrumbs = append(breadcrumbs, output.Breadcrumb{
				Action:      "centers",
				Cmd:         "slotwatch centers -vv",
				Description: "Trace upstream requests",
			})
		}
	}

	// Deduplicate breadcrumbs
	seen := make(map[string]bool)
	unique := []output.Breadcrumb{}
	for _, b := range breadcrumbs {
		if !seen[b.Cmd] {
			seen[b.Cmd] = true
			unique = append(unique, b)
		}
	}

	return unique
}

// pluralize returns singular or plural form based on count.
func pluralize(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}

func renderDoctorStyled(w io.Writer, result *DoctorResult) {
	r := output.NewRenderer(w, false)

	nameStyle := lipgloss.NewStyle().Bold(true)

	statusIcon := map[string]string{
		"pass": r.Success.Render("✓"),
		"fail": r.Error.Render("✗"),
		"warn": r.Warning.Render("!"),
		"skip": r.Muted.Render("○"),
	}

	statusMsg := map[string]lipgloss.Style{
		"pass": r.Success,
		"fail": r.Error,
		"warn": r.Warning,
		"skip": r.Muted,
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, r.Summary.Render("slotwatch doctor"))
	fmt.Fprintln(w)

	for _, check := range result.Checks {
		fmt.Fprintf(w, "  %s %s %s\n",
			statusIcon[check.Status],
			nameStyle.Render(check.Name),
			statusMsg[check.Status].Render(check.Message),
		)

		if check.Hint != "" && (check.Status == "fail" || check.Status == "warn") {
			fmt.Fprintf(w, "      %s\n", r.Hint.Render("↳ "+check.Hint))
		}
	}

	fmt.Fprintln(w)

	var summaryParts []string
	if result.Passed > 0 {
		summaryParts = append(summaryParts, r.Success.Render(fmt.Sprintf("%d passed", result.Passed)))
	}
	if result.Failed > 0 {
		summaryParts = append(summaryParts, r.Error.Render(fmt.Sprintf("%d failed", result.Failed)))
	}
	if result.Warned > 0 {
		summaryParts = append(summaryParts, r.Warning.Render(fmt.Sprintf("%d %s", result.Warned, pluralize(result.Warned, "warning", "warnings"))))
	}
	if result.Skipped > 0 {
		summaryParts = append(summaryParts, r.Muted.Render(fmt.Sprintf("%d skipped", result.Skipped)))
	}

	fmt.Fprintf(w, "  %s\n", strings.Join(summaryParts, "  "))
	fmt.Fprintln(w)
}
