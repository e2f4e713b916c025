package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/slotwatch/slotwatch/internal/appctx"
	"github.com/slotwatch/slotwatch/internal/output"
	"github.com/slotwatch/slotwatch/internal/presenter"
	"github.com/slotwatch/slotwatch/internal/query"
	"github.com/slotwatch/slotwatch/internal/snapshot"
)

// appFrom returns the app stored on the command context.
func appFrom(cmd *cobra.Command) (*appctx.App, error) {
	app := appctx.FromContext(cmd.Context())
	if app == nil {
		return nil, output.ErrInternal("app not initialized")
	}
	return app, nil
}

// runtimeFrom returns the app and its refresh runtime, building it on
// first use.
func runtimeFrom(cmd *cobra.Command) (*appctx.App, *appctx.Runtime, error) {
	app, err := appFrom(cmd)
	if err != nil {
		return nil, nil, err
	}
	rt, err := app.Runtime()
	if err != nil {
		return nil, nil, err
	}
	return app, rt, nil
}

// freshnessCounts tallies views by freshness.
func freshnessCounts(views []query.CenterView) map[snapshot.Freshness]int {
	counts := make(map[snapshot.Freshness]int, 4)
	for _, v := range views {
		counts[v.Freshness]++
	}
	return counts
}

// listSummary describes a center listing, e.g. "3 centers (2 fresh, 1 failed)".
func listSummary(loc presenter.Locale, views []query.CenterView) string {
	summary := loc.FormatCount(len(views), "center")
	counts := freshnessCounts(views)

	var parts []string
	for _, f := range []snapshot.Freshness{snapshot.Fresh, snapshot.Stale, snapshot.Failed, snapshot.Pending} {
		if n := counts[f]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, f))
		}
	}
	if len(parts) > 0 {
		summary += " (" + strings.Join(parts, ", ") + ")"
	}
	return summary
}

// centerSummary describes one center's availability.
func centerSummary(loc presenter.Locale, v query.CenterView) string {
	name := v.Name
	if name == "" {
		name = v.ID
	}
	if !v.HasSlot() {
		if v.LastError != "" {
			return fmt.Sprintf("%s: no slot known (%s: %s)", name, v.Freshness, v.LastError)
		}
		return fmt.Sprintf("%s: no slot available (%s)", name, v.Freshness)
	}
	return fmt.Sprintf("%s: earliest %s (%s)", name, loc.FormatSlot(*v.LatestSlot), v.Freshness)
}

func centerBreadcrumbs(id string) []output.Breadcrumb {
	return []output.Breadcrumb{
		{
			Action:      "refresh",
			Cmd:         "slotwatch centers refresh " + id,
			Description: "Refresh this center now",
		},
		{
			Action:      "earliest",
			Cmd:         "slotwatch earliest --before <date> " + id,
			Description: "Check for a slot before a date",
		},
	}
}
