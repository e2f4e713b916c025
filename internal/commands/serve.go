package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/slotwatch/slotwatch/internal/appctx"
	"github.com/slotwatch/slotwatch/internal/export"
	"github.com/slotwatch/slotwatch/internal/output"
)

// ServeResult is reported when serve shuts down.
type ServeResult struct {
	Centers    int    `json:"centers"`
	Generation uint64 `json:"generation"`
	Cycles     int    `json:"cycles"`
	Fetches    int    `json:"fetches"`
	ExportPath string `json:"export_path,omitempty"`
}

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	var exportPath, metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Refresh centers continuously",
		Long: `Keep every center's snapshot fresh until interrupted.

Each center is refreshed on its own interval, with exponential backoff
after failures. Fetches still running at shutdown get grace_period to
finish.

With --export the aggregate view is rewritten atomically after every
change, for "slotwatch watch" or any other reader. With --metrics-addr
Prometheus metrics are served at /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}

			var ln net.Listener
			if addr := app.Config.MetricsAddr; addr != "" {
				app.EnableMetrics()
				ln, err = net.Listen("tcp", addr)
				if err != nil {
					return output.ErrNetwork(fmt.Errorf("metrics_addr: %w", err))
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, app, ln)
		},
	}

	// Read through the config overrides so their source shows as "flag".
	cmd.Flags().StringVar(&exportPath, "export", "", "Write the aggregate view to this JSON file")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	return cmd
}

// runServe runs the scheduler, and the metrics server and exporter when
// configured, until ctx is done. ln may be nil.
func runServe(ctx context.Context, app *appctx.App, ln net.Listener) error {
	rt, err := app.Runtime()
	if err != nil {
		if ln != nil {
			_ = ln.Close()
		}
		return err
	}

	app.Logger.Info("serving",
		"centers", rt.Registry.Len(),
		"max_concurrency", rt.Pool.Limit(),
		"export", app.Config.ExportPath,
		"metrics", app.Config.MetricsAddr)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rt.Scheduler.Run(gctx)
	})

	if ln != nil {
		metrics := app.EnableMetrics()
		metrics.TrackInFlight(rt.Pool.Running)
		metrics.TrackGeneration(rt.Cache.Generation)

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), app.Config.GracePeriod)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if path := app.Config.ExportPath; path != "" {
		exp := export.New(path)
		g.Go(func() error {
			export.Follow(gctx, exp, rt.Query, rt.Cache, func(err error) {
				app.Logger.Warn("export failed", "path", path, "error", err)
			})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	// One last write so the file reflects the settled state.
	if path := app.Config.ExportPath; path != "" {
		if _, err := export.New(path).Export(rt.Query); err != nil {
			app.Logger.Warn("export failed", "path", path, "error", err)
		}
	}

	summary := app.Collector.Summary()
	result := ServeResult{
		Centers:    rt.Registry.Len(),
		Generation: rt.Query.Generation(),
		Cycles:     summary.Cycles,
		Fetches:    summary.TotalFetches,
		ExportPath: app.Config.ExportPath,
	}
	return app.OK(result,
		output.WithSummary(fmt.Sprintf("Stopped after %s (%s)",
			app.Locale.FormatCount(result.Cycles, "refresh cycle"),
			app.Locale.FormatCount(result.Fetches, "fetch attempt"))),
	)
}
