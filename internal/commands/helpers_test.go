package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slotwatch/slotwatch/internal/appctx"
	"github.com/slotwatch/slotwatch/internal/config"
	"github.com/slotwatch/slotwatch/internal/models"
	"github.com/slotwatch/slotwatch/internal/output"
	"github.com/slotwatch/slotwatch/internal/presenter"
	"github.com/slotwatch/slotwatch/internal/query"
	"github.com/slotwatch/slotwatch/internal/snapshot"
)

func staticCenter(id string, slots ...string) config.CenterConfig {
	return config.CenterConfig{
		ID:   id,
		Name: id + " centre",
		Adapter: models.AdapterSpec{
			Kind:    "static",
			Options: map[string]any{"available": slots},
		},
	}
}

func closedCenter(id string) config.CenterConfig {
	return config.CenterConfig{
		ID:   id,
		Name: id + " centre",
		Adapter: models.AdapterSpec{
			Kind:    "closed",
			Options: map[string]any{"reason": "refurbishment"},
		},
	}
}

// setupTestApp creates an app over the given centers that writes JSON to
// the returned buffer.
func setupTestApp(t *testing.T, centers ...config.CenterConfig) (*appctx.App, *bytes.Buffer) {
	t.Helper()

	cfg := config.Default()
	cfg.Centers = centers
	cfg.JitterRange = 0
	cfg.TickInterval = 10 * time.Millisecond
	cfg.GracePeriod = time.Second

	buf := &bytes.Buffer{}
	app := appctx.NewApp(cfg)
	app.Locale = presenter.NewLocale("en-GB")
	app.Stderr = &bytes.Buffer{}
	app.Output = output.New(output.Options{
		Format: output.FormatJSON,
		Writer: buf,
	})
	return app, buf
}

// executeCommand executes a cobra command with the given args.
func executeCommand(cmd *cobra.Command, app *appctx.App, args ...string) error {
	return executeCommandContext(context.Background(), cmd, app, args...)
}

func executeCommandContext(ctx context.Context, cmd *cobra.Command, app *appctx.App, args ...string) error {
	cmd.SetArgs(args)
	cmd.SetContext(appctx.WithApp(ctx, app))

	// Suppress output during tests
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	return cmd.Execute()
}

// testResponse is the JSON envelope with data left raw.
type testResponse struct {
	OK          bool                `json:"ok"`
	Data        json.RawMessage     `json:"data"`
	Summary     string              `json:"summary"`
	Breadcrumbs []output.Breadcrumb `json:"breadcrumbs"`
	Context     map[string]any      `json:"context"`
}

func decodeResponse(t *testing.T, buf *bytes.Buffer, data any) testResponse {
	t.Helper()
	var resp testResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp), buf.String())
	require.True(t, resp.OK)
	if data != nil {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return resp
}

func TestListSummary(t *testing.T) {
	loc := presenter.NewLocale("en-GB")
	views := []query.CenterView{
		{ID: "a", Freshness: snapshot.Fresh},
		{ID: "b", Freshness: snapshot.Fresh},
		{ID: "c", Freshness: snapshot.Failed},
	}
	assert.Equal(t, "3 centers (2 fresh, 1 failed)", listSummary(loc, views))
	assert.Equal(t, "0 centers", listSummary(loc, nil))
	assert.Equal(t, "1 center (1 pending)", listSummary(loc, []query.CenterView{{ID: "x"}}))
}

func TestCenterSummary(t *testing.T) {
	loc := presenter.NewLocale("en-GB")
	slot := time.Date(2031, 3, 3, 9, 30, 0, 0, time.Local)

	assert.Equal(t, "North: earliest "+loc.FormatSlot(slot)+" (fresh)",
		centerSummary(loc, query.CenterView{ID: "north", Name: "North", LatestSlot: &slot, Freshness: snapshot.Fresh}))
	assert.Equal(t, "north: no slot available (fresh)",
		centerSummary(loc, query.CenterView{ID: "north", Freshness: snapshot.Fresh}))
	assert.Equal(t, "North: no slot known (failed: closed)",
		centerSummary(loc, query.CenterView{ID: "north", Name: "North", Freshness: snapshot.Failed, LastError: "closed"}))
}

func TestAppFromMissing(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	_, err := appFrom(cmd)
	var e *output.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, output.CodeInternal, e.Code)
}
