package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/slotwatch/slotwatch/internal/output"
	"github.com/slotwatch/slotwatch/internal/scheduler"
)

// NewCentersCmd creates the centers command.
func NewCentersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "centers",
		Aliases: []string{"center"},
		Short:   "List test centers and their earliest slots",
		Long: `Refresh every configured center once, then list each center with its
earliest known slot and freshness.

Centers whose refresh failed are still listed, with their last known slot
and the error that was seen.`,
		Args: cobra.NoArgs,
		RunE: runCentersList,
	}

	cmd.AddCommand(
		newCentersListCmd(),
		newCentersShowCmd(),
		newCentersRefreshCmd(),
	)
	return cmd
}

func newCentersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all centers",
		Args:    cobra.NoArgs,
		RunE:    runCentersList,
	}
}

func runCentersList(cmd *cobra.Command, args []string) error {
	app, rt, err := runtimeFrom(cmd)
	if err != nil {
		return err
	}

	if err := rt.Scheduler.RefreshNow(cmd.Context()); err != nil {
		return fmt.Errorf("refresh interrupted: %w", err)
	}

	views := rt.Query.List()
	return app.OK(views,
		output.WithSummary(listSummary(app.Locale, views)),
		output.WithContext("generation", rt.Query.Generation()),
		output.WithBreadcrumbs(
			output.Breadcrumb{
				Action:      "show",
				Cmd:         "slotwatch centers show <id>",
				Description: "Show one center",
			},
			output.Breadcrumb{
				Action:      "earliest",
				Cmd:         "slotwatch earliest --before <date>",
				Description: "Find slots before a date",
			},
		),
	)
}

func newCentersShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one center",
		Long:  "Refresh one center, then show its available slots and freshness.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, rt, err := runtimeFrom(cmd)
			if err != nil {
				return err
			}
			id := args[0]

			// Unknown centers fail before anything is fetched.
			if _, err := rt.Query.Get(id); err != nil {
				return err
			}
			if err := rt.Scheduler.RefreshNow(cmd.Context(), id); err != nil {
				return fmt.Errorf("refresh interrupted: %w", err)
			}

			view, err := rt.Query.Get(id)
			if err != nil {
				return err
			}
			opts := []output.ResponseOption{
				output.WithSummary(centerSummary(app.Locale, view)),
				output.WithBreadcrumbs(centerBreadcrumbs(id)...),
			}
			if interval, ok := rt.Scheduler.EffectiveInterval(id); ok {
				opts = append(opts, output.WithContext("refresh_interval", interval.String()))
			}
			if due, ok := rt.Scheduler.NextDue(id); ok {
				opts = append(opts, output.WithContext("next_refresh", due.UTC().Format(time.RFC3339)))
			}
			return app.OK(view, opts...)
		},
	}
}

func newCentersRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <id>",
		Short: "Request an immediate refresh of one center",
		Long: `Request a manual refresh of one center and show the result.

A refresh already in flight for the center is joined rather than repeated;
the response context reports "coalesced" in that case.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, rt, err := runtimeFrom(cmd)
			if err != nil {
				return err
			}
			id := args[0]

			status, err := rt.Query.RequestRefresh(id)
			if err != nil {
				return err
			}
			if status == scheduler.Accepted {
				if err := rt.Scheduler.RefreshNow(cmd.Context(), id); err != nil {
					return fmt.Errorf("refresh interrupted: %w", err)
				}
			}

			view, err := rt.Query.Get(id)
			if err != nil {
				return err
			}
			return app.OK(view,
				output.WithSummary(fmt.Sprintf("Refresh %s. %s", status, centerSummary(app.Locale, view))),
				output.WithContext("refresh", status.String()),
				output.WithBreadcrumbs(centerBreadcrumbs(id)...),
			)
		},
	}
}
