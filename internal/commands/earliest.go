package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/slotwatch/slotwatch/internal/dateparse"
	"github.com/slotwatch/slotwatch/internal/output"
	"github.com/slotwatch/slotwatch/internal/query"
)

// now is replaced in tests.
var now = time.Now

// NewEarliestCmd creates the earliest command.
func NewEarliestCmd() *cobra.Command {
	var before string

	cmd := &cobra.Command{
		Use:   "earliest [center-id...]",
		Short: "Find centers with a slot before a date",
		Long: `Refresh the given centers (or all of them), then list those whose earliest
slot falls on or before the --before date, soonest first.

Dates may be absolute (2030-03-04, 04/03/2030) or relative (tomorrow,
friday, next week, eom, +14, in 3 weeks). Without --before every center
with a known slot is listed.`,
		Example: `  slotwatch earliest --before "next friday"
  slotwatch earliest --before 2030-03-31 north south`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, rt, err := runtimeFrom(cmd)
			if err != nil {
				return err
			}

			var day, bound time.Time
			if before != "" {
				day, err = dateparse.ParseFrom(before, now())
				if err != nil {
					return output.ErrUsageHint(err.Error(),
						"Try: tomorrow, friday, next week, eom, +14, 2030-03-04")
				}
				bound = dateparse.EndOf(day)
			}

			for _, id := range args {
				if _, err := rt.Query.Get(id); err != nil {
					return err
				}
			}

			if err := rt.Scheduler.RefreshNow(cmd.Context(), args...); err != nil {
				return fmt.Errorf("refresh interrupted: %w", err)
			}

			views := rt.Query.FindBefore(bound, args)
			if views == nil {
				views = []query.CenterView{}
			}

			var summary string
			switch {
			case len(views) == 0 && before != "":
				summary = "No slots on or before " + app.Locale.FormatDate(day)
			case len(views) == 0:
				summary = "No slots available"
			default:
				first := views[0]
				summary = fmt.Sprintf("%s, earliest %s at %s",
					app.Locale.FormatCount(len(views), "center"),
					app.Locale.FormatSlot(*first.LatestSlot), first.Name)
			}

			opts := []output.ResponseOption{
				output.WithSummary(summary),
				output.WithContext("generation", rt.Query.Generation()),
			}
			if before != "" {
				opts = append(opts, output.WithContext("before", day.Format(time.DateOnly)))
			}
			if len(views) > 0 {
				opts = append(opts, output.WithBreadcrumbs(centerBreadcrumbs(views[0].ID)[0]))
			}
			return app.OK(views, opts...)
		},
	}

	cmd.Flags().StringVarP(&before, "before", "b", "", "Latest acceptable day (inclusive)")
	return cmd
}
