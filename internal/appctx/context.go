// Package appctx provides application context helpers.
package appctx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/slotwatch/slotwatch/internal/adapter"
	"github.com/slotwatch/slotwatch/internal/config"
	"github.com/slotwatch/slotwatch/internal/fetchpool"
	"github.com/slotwatch/slotwatch/internal/observability"
	"github.com/slotwatch/slotwatch/internal/output"
	"github.com/slotwatch/slotwatch/internal/presenter"
	"github.com/slotwatch/slotwatch/internal/query"
	"github.com/slotwatch/slotwatch/internal/registry"
	"github.com/slotwatch/slotwatch/internal/resilience"
	"github.com/slotwatch/slotwatch/internal/scheduler"
	"github.com/slotwatch/slotwatch/internal/snapshot"
)

// contextKey is a private type for context keys.
type contextKey string

const appKey contextKey = "app"

// App holds the shared application context for all commands.
type App struct {
	Config *config.Config
	Output *output.Writer
	Locale presenter.Locale
	Logger *slog.Logger

	// Observability
	Collector *observability.SessionCollector
	Hooks     *observability.CLIHooks
	Metrics   *observability.Metrics

	// Flags holds the global flag values
	Flags GlobalFlags

	// Stderr receives trace and stats output; os.Stderr unless replaced.
	Stderr io.Writer

	initOnce sync.Once
	initErr  error
	runtime  *Runtime
}

// Runtime is the refresh machinery, built on first use so that commands
// that never fetch do not require a valid center list.
type Runtime struct {
	Registry  *registry.Registry
	Cache     *snapshot.Cache
	Pool      *fetchpool.Pool
	Scheduler *scheduler.Scheduler
	Query     *query.Service
}

// GlobalFlags holds values for global CLI flags.
type GlobalFlags struct {
	// Output format flags
	JSON    bool
	Quiet   bool
	MD      bool
	Styled  bool
	IDsOnly bool
	Count   bool
	JQ      string

	// Config flags
	ConfigFile  string
	CentersFile string

	// Behavior flags
	Verbose int // 0=off, 1=refreshes, 2=refreshes+requests
	Stats   bool
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config) *App {
	// The collector always runs; the hooks level decides what is traced.
	collector := observability.NewSessionCollector()
	hooks := observability.NewCLIHooks(0, collector, observability.NewTraceWriter())

	format, err := output.ParseFormat(cfg.Format)
	if err != nil {
		format = output.FormatAuto
	}

	return &App{
		Config:    cfg,
		Collector: collector,
		Hooks:     hooks,
		Locale:    presenter.DetectLocale(),
		Logger:    newLogger(os.Stderr, 0),
		Stderr:    os.Stderr,
		Output: output.New(output.Options{
			Format: format,
			Writer: os.Stdout,
		}),
	}
}

func newLogger(w io.Writer, verbose int) *slog.Logger {
	level := slog.LevelWarn
	if verbose > 0 {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// ApplyFlags applies global flag values to the app configuration.
func (a *App) ApplyFlags() {
	format := output.FormatAuto
	if f, err := output.ParseFormat(a.Config.Format); err == nil {
		format = f
	}
	switch {
	case a.Flags.IDsOnly:
		format = output.FormatIDs
	case a.Flags.Count:
		format = output.FormatCount
	case a.Flags.Quiet:
		format = output.FormatQuiet
	case a.Flags.JSON:
		format = output.FormatJSON
	case a.Flags.Styled:
		format = output.FormatStyled
	case a.Flags.MD:
		format = output.FormatMarkdown
	}
	a.Output = output.New(output.Options{
		Format: format,
		Writer: os.Stdout,
		JQ:     a.Flags.JQ,
	})

	level := max(a.Flags.Verbose, a.Config.Verbose)
	if debug := os.Getenv(config.EnvPrefix + "DEBUG"); debug != "" {
		if n, err := strconv.Atoi(debug); err == nil {
			level = max(level, n)
		} else if debug == "true" {
			level = 2
		}
	}

	if a.Hooks != nil {
		a.Hooks.SetLevel(level)
	}
	a.Logger = newLogger(a.Stderr, level)
}

// Runtime builds the registry, cache, pool, scheduler and query service.
// Center configuration errors are reported as config errors.
func (a *App) Runtime() (*Runtime, error) {
	a.initOnce.Do(func() {
		a.runtime, a.initErr = a.buildRuntime()
	})
	return a.runtime, a.initErr
}

func (a *App) buildRuntime() (*Runtime, error) {
	cfg := a.Config
	if err := cfg.Validate(); err != nil {
		return nil, output.ErrConfig(err)
	}

	httpClient, err := adapter.NewHTTPClient()
	if err != nil {
		return nil, output.ErrInternal(fmt.Sprintf("http client: %v", err))
	}
	limiter := resilience.NewRateLimiter(resilience.RateLimiterConfig{
		MaxTokens:  float64(cfg.RateLimit.MaxTokens),
		RefillRate: cfg.RateLimit.RefillRate,
	})

	reg, err := registry.Load(cfg, adapter.DefaultRegistry(), adapter.Deps{
		HTTPClient: httpClient,
		Limiter:    limiter,
		Observer:   a.Hooks,
	})
	if err != nil {
		return nil, output.ErrConfig(err)
	}

	cache := snapshot.New(reg.IDs(), snapshot.Options{FailureThreshold: cfg.FailureThreshold})
	pool := fetchpool.New(fetchpool.Options{
		MaxConcurrency: cfg.MaxConcurrency,
		Timeout:        cfg.FetchTimeout,
		Observer:       a.Hooks,
	})
	sched := scheduler.New(reg, pool, cache, scheduler.Options{
		TickInterval: cfg.TickInterval,
		BackoffBase:  cfg.BackoffBase,
		BackoffCap:   cfg.BackoffCap,
		JitterRange:  cfg.JitterRange,
		GracePeriod:  cfg.GracePeriod,
		Hooks:        a.Hooks,
		OnApply: func(id string, out adapter.Outcome) {
			if out.OK() {
				a.Logger.Debug("center refreshed", "center", id)
			} else {
				a.Logger.Info("center refresh failed", "center", id, "outcome", out.Label(), "error", out.Err)
			}
			if a.Metrics != nil {
				if snap, ok := cache.Read(id); ok {
					a.Metrics.ObserveFreshness(id, snap.Freshness)
				}
			}
		},
	})

	a.Logger.Debug("runtime ready", "centers", reg.Len(), "max_concurrency", pool.Limit())

	return &Runtime{
		Registry:  reg,
		Cache:     cache,
		Pool:      pool,
		Scheduler: sched,
		Query:     query.New(reg, cache, sched),
	}, nil
}

// EnableMetrics creates the Prometheus metric set and attaches it to the
// hooks. Must be called before Runtime to track freshness from the start.
func (a *App) EnableMetrics() *observability.Metrics {
	if a.Metrics == nil {
		a.Metrics = observability.NewMetrics()
		a.Hooks.SetMetrics(a.Metrics)
	}
	return a.Metrics
}

// OK outputs a success response, including stats if --stats is set.
func (a *App) OK(data any, opts ...output.ResponseOption) error {
	if a.Flags.Stats && a.Collector != nil {
		opts = append(opts, output.WithStats(a.Collector.Summary().ToMap()))
	}
	return a.Output.OK(data, opts...)
}

// Err outputs an error response, printing stats to stderr if --stats is set.
func (a *App) Err(err error) error {
	if outputErr := a.Output.Err(err); outputErr != nil {
		return outputErr
	}

	// Machine-readable modes keep stderr clean.
	if a.Flags.Stats && a.Collector != nil && !a.isMachineOutput() {
		if parts := a.Collector.Summary().FormatParts(); len(parts) > 0 {
			fmt.Fprintf(a.Stderr, "\nStats: %s\n", strings.Join(parts, " | "))
		}
	}
	return nil
}

// isMachineOutput returns true if the output mode is intended for programs.
func (a *App) isMachineOutput() bool {
	if a.Flags.Quiet || a.Flags.IDsOnly || a.Flags.Count || a.Flags.JQ != "" {
		return true
	}
	return a.Config != nil && a.Config.Format == "quiet"
}

// WithApp stores the app in the context.
func WithApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appKey, app)
}

// FromContext retrieves the app from the context.
func FromContext(ctx context.Context) *App {
	app, _ := ctx.Value(appKey).(*App)
	return app
}
