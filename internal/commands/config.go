package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/slotwatch/slotwatch/internal/config"
	"github.com/slotwatch/slotwatch/internal/models"
	"github.com/slotwatch/slotwatch/internal/output"
)

// NewConfigCmd creates the config command.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create configuration",
		Long: `Show the effective slotwatch configuration.

Configuration is loaded from multiple sources with the following precedence:
  flags > env > --config file > local > global > system > defaults

Config locations:
  - System: /etc/slotwatch/config.yaml
  - Global: ~/.config/slotwatch/config.yaml
  - Local:  .slotwatch/config.yaml

Every key can also be set from the environment as SLOTWATCH_<KEY>,
e.g. SLOTWATCH_REFRESH_INTERVAL=5m.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd)
		},
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigInitCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long:  "Display the current effective configuration with source information.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd)
		},
	}
}

func runConfigShow(cmd *cobra.Command) error {
	app, err := appFrom(cmd)
	if err != nil {
		return err
	}

	settings := app.Config.Settings()
	summary := "Effective configuration"
	if err := app.Config.Validate(); err != nil {
		summary += " (invalid: " + err.Error() + ")"
	}

	return app.OK(settings,
		output.WithSummary(summary),
		output.WithBreadcrumbs(
			output.Breadcrumb{
				Action:      "init",
				Cmd:         "slotwatch config init",
				Description: "Create a local config file",
			},
			output.Breadcrumb{
				Action:      "doctor",
				Cmd:         "slotwatch doctor",
				Description: "Check configuration and centers",
			},
		),
	)
}

// initFile is the starter config written by config init.
type initFile struct {
	RefreshInterval  string                `yaml:"refresh_interval"`
	FetchTimeout     string                `yaml:"fetch_timeout"`
	MaxConcurrency   int                   `yaml:"max_concurrency"`
	FailureThreshold int                   `yaml:"failure_threshold"`
	Centers          []config.CenterConfig `yaml:"centers"`
}

func starterConfig() initFile {
	d := config.Default()
	return initFile{
		RefreshInterval:  d.RefreshInterval.String(),
		FetchTimeout:     d.FetchTimeout.String(),
		MaxConcurrency:   d.MaxConcurrency,
		FailureThreshold: d.FailureThreshold,
		Centers: []config.CenterConfig{{
			ID:        "example",
			Name:      "Example Test Centre",
			Latitude:  51.5072,
			Longitude: -0.1276,
			Adapter: models.AdapterSpec{
				Kind: "static",
				Options: map[string]any{
					"available":   []string{"03/03/2031 09:30", "05/03/2031 14:10"},
					"time_layout": "02/01/2006 15:04",
					"location":    "Europe/London",
				},
			},
		}},
	}
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize local config file",
		Long:  "Create .slotwatch/config.yaml in the current directory with the default settings and one example center.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}

			configFile := filepath.Join(".slotwatch", "config.yaml")

			if _, err := os.Stat(configFile); err == nil && !force {
				return app.OK(map[string]any{
					"exists": true,
					"path":   configFile,
				}, output.WithSummary(fmt.Sprintf("Config file already exists: %s", configFile)))
			}

			data, err := yaml.Marshal(starterConfig())
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			if err := os.MkdirAll(filepath.Dir(configFile), 0700); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			if err := atomicWriteFile(configFile, data); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}

			return app.OK(map[string]any{
				"created": true,
				"path":    configFile,
			},
				output.WithSummary(fmt.Sprintf("Created: %s", configFile)),
				output.WithBreadcrumbs(
					output.Breadcrumb{
						Action:      "centers",
						Cmd:         "slotwatch centers",
						Description: "List centers",
					},
				),
			)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

// atomicWriteFile writes data to a temp file in the same directory, then
// renames it over path.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	// Unix: rename atomically replaces the destination.
	// Windows: rename fails when the destination exists.
	if err := os.Rename(tmpPath, path); err != nil && runtime.GOOS == "windows" {
		_ = os.Remove(path)
		return os.Rename(tmpPath, path)
	} else { //nolint:revive // else-with-return kept for clarity of the two-branch pattern
		return err
	}
}
