package cli

import (
	"errors"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/slotwatch/slotwatch/internal/appctx"
	"github.com/slotwatch/slotwatch/internal/commands"
	"github.com/slotwatch/slotwatch/internal/config"
	"github.com/slotwatch/slotwatch/internal/output"
	"github.com/slotwatch/slotwatch/internal/version"
)

// NewRootCmd creates the root cobra command.
func NewRootCmd() *cobra.Command {
	var flags appctx.GlobalFlags
	var format string

	cmd := &cobra.Command{
		Use:   "slotwatch",
		Short: "Driving-test slot availability across test centers",
		Long: `slotwatch keeps the earliest available driving-test slot for a set of
test centers fresh, and answers queries from that snapshot.

Run "slotwatch serve" to refresh continuously, or query once with
"slotwatch centers" and "slotwatch earliest".`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip setup for help and version commands
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}

			cfg, err := config.Load(config.FlagOverrides{
				ConfigFile:  flags.ConfigFile,
				Format:      format,
				CentersFile: flags.CentersFile,
				ExportPath:  stringFlag(cmd.Flags(), "export"),
				MetricsAddr: stringFlag(cmd.Flags(), "metrics-addr"),
			})
			if err != nil {
				return output.ErrConfig(err)
			}
			if _, err := output.ParseFormat(cfg.Format); err != nil {
				return err
			}

			app := appctx.NewApp(cfg)
			app.Flags = flags
			app.ApplyFlags()

			cmd.SetContext(appctx.WithApp(cmd.Context(), app))
			return nil
		},
	}

	// Allow flags anywhere in the command line
	cmd.Flags().SetInterspersed(true)
	cmd.PersistentFlags().SetInterspersed(true)

	// Output format flags
	cmd.PersistentFlags().BoolVarP(&flags.JSON, "json", "j", false, "Output as JSON")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Output data only, no envelope")
	cmd.PersistentFlags().BoolVarP(&flags.MD, "md", "m", false, "Output as Markdown (portable)")
	cmd.PersistentFlags().BoolVar(&flags.MD, "markdown", false, "Output as Markdown (portable)")
	cmd.PersistentFlags().BoolVar(&flags.Styled, "styled", false, "Force styled output (ANSI colors)")
	cmd.PersistentFlags().BoolVar(&flags.IDsOnly, "ids-only", false, "Output only IDs")
	cmd.PersistentFlags().BoolVar(&flags.Count, "count", false, "Output only count")
	cmd.PersistentFlags().StringVar(&flags.JQ, "jq", "", "Filter the JSON envelope with a jq expression")
	cmd.PersistentFlags().StringVar(&format, "format", "", "Output format (auto, json, markdown, styled, quiet, ids, count)")

	// Config flags
	cmd.PersistentFlags().StringVar(&flags.ConfigFile, "config", "", "Config file (YAML)")
	cmd.PersistentFlags().StringVar(&flags.CentersFile, "centers", "", "Center list file (JSON or YAML)")

	// Behavior flags
	cmd.PersistentFlags().CountVarP(&flags.Verbose, "verbose", "v", "Verbose output (-v for refreshes, -vv for requests)")
	cmd.PersistentFlags().BoolVar(&flags.Stats, "stats", false, "Show session statistics")

	return cmd
}

// NewCLI returns the root command with every subcommand attached.
func NewCLI() *cobra.Command {
	cmd := NewRootCmd()
	cmd.AddCommand(commands.NewServeCmd())
	cmd.AddCommand(commands.NewCentersCmd())
	cmd.AddCommand(commands.NewEarliestCmd())
	cmd.AddCommand(commands.NewWatchCmd())
	cmd.AddCommand(commands.NewConfigCmd())
	cmd.AddCommand(commands.NewDoctorCmd())
	cmd.AddCommand(commands.NewCommandsCmd())
	cmd.AddCommand(commands.NewVersionCmd())
	return cmd
}

// Execute runs the root command and exits with the mapped exit code.
func Execute() {
	os.Exit(run(NewCLI()))
}

func run(cmd *cobra.Command) int {
	// Use ExecuteC to get the executed command (for correct context access)
	executedCmd, err := cmd.ExecuteC()
	if err == nil {
		return output.ExitOK
	}

	err = transformCobraError(err)
	apiErr := output.AsError(err)

	// Try to use app.Err() if app is available (for --stats support)
	if executedCmd != nil && executedCmd.Context() != nil {
		if app := appctx.FromContext(executedCmd.Context()); app != nil {
			_ = app.Err(err)
			return apiErr.ExitCode()
		}
	}

	// Fallback: output error directly (app not available, e.g., during setup)
	writer := output.New(output.Options{
		Format: fallbackFormat(cmd.PersistentFlags()),
		Writer: cmd.OutOrStdout(),
	})
	_ = writer.Err(err)

	return apiErr.ExitCode()
}

// fallbackFormat picks an output format from raw flag values when the
// app could not be built.
func fallbackFormat(pf *pflag.FlagSet) output.Format {
	quiet, _ := pf.GetBool("quiet")
	idsOnly, _ := pf.GetBool("ids-only")
	count, _ := pf.GetBool("count")
	styled, _ := pf.GetBool("styled")
	md, _ := pf.GetBool("md")
	jsonFlag, _ := pf.GetBool("json")

	switch {
	case quiet:
		return output.FormatQuiet
	case idsOnly:
		return output.FormatIDs
	case count:
		return output.FormatCount
	case styled:
		return output.FormatStyled
	case md:
		return output.FormatMarkdown
	case jsonFlag:
		return output.FormatJSON
	}
	return output.FormatAuto
}

// stringFlag returns a command-local string flag value, or "" when the
// command has no such flag.
func stringFlag(fs *pflag.FlagSet, name string) string {
	f := fs.Lookup(name)
	if f == nil || !f.Changed {
		return ""
	}
	return f.Value.String()
}

var shorthandFlagRe = regexp.MustCompile(`unknown shorthand flag: '.' in (-\w)`)

// transformCobraError turns cobra's argument and flag errors into usage
// errors so they map to exit code 1.
func transformCobraError(err error) error {
	var e *output.Error
	if errors.As(err, &e) {
		return err
	}
	msg := err.Error()

	if strings.HasPrefix(msg, "flag needs an argument: ") {
		flag := strings.TrimPrefix(msg, "flag needs an argument: ")
		return output.ErrUsage(flag + " requires a value")
	}

	if strings.HasPrefix(msg, "unknown flag: ") {
		flag := strings.TrimPrefix(msg, "unknown flag: ")
		return output.ErrUsage("Unknown option: " + flag)
	}

	if strings.HasPrefix(msg, "unknown shorthand flag: ") {
		if matches := shorthandFlagRe.FindStringSubmatch(msg); len(matches) > 1 {
			return output.ErrUsage("Unknown option: " + matches[1])
		}
	}

	if strings.HasPrefix(msg, "unknown command ") {
		return output.ErrUsageHint(msg, "Run: slotwatch --help")
	}

	if strings.Contains(msg, "invalid argument") {
		return output.ErrUsage(msg)
	}

	if strings.Contains(msg, "arg(s), received 0") || strings.Contains(msg, "requires at least") {
		return output.ErrUsageHint("Center ID required", "Run: slotwatch centers list")
	}

	if strings.Contains(msg, "arg(s), received") {
		return output.ErrUsage(msg)
	}

	return err
}
