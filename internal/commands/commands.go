package commands

import (
	"github.com/spf13/cobra"

	"github.com/slotwatch/slotwatch/internal/output"
)

// CommandInfo describes a CLI command.
type CommandInfo struct {
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Actions     []string `json:"actions,omitempty"`
}

// CommandCategory groups commands by category.
type CommandCategory struct {
	Name     string        `json:"name"`
	Commands []CommandInfo `json:"commands"`
}

// commandCategories returns all command categories for the catalog.
func commandCategories() []CommandCategory {
	return []CommandCategory{
		{
			Name: "Availability",
			Commands: []CommandInfo{
				{Name: "centers", Category: "availability", Description: "List test centers and their earliest slots", Actions: []string{"list", "show", "refresh"}},
				{Name: "earliest", Category: "availability", Description: "Find centers with a slot before a date"},
			},
		},
		{
			Name: "Service",
			Commands: []CommandInfo{
				{Name: "serve", Category: "service", Description: "Refresh centers continuously"},
				{Name: "watch", Category: "service", Description: "Follow the view exported by serve"},
			},
		},
		{
			Name: "Setup",
			Commands: []CommandInfo{
				{Name: "config", Category: "setup", Description: "Show or create configuration", Actions: []string{"show", "init"}},
				{Name: "doctor", Category: "setup", Description: "Check configuration and centers"},
			},
		},
		{
			Name: "Additional Commands",
			Commands: []CommandInfo{
				{Name: "commands", Category: "additional", Description: "List all commands"},
				{Name: "help", Category: "additional", Description: "Show help"},
				{Name: "version", Category: "additional", Description: "Show version"},
			},
		},
	}
}

// CatalogCommandNames returns all command names from the catalog.
// Used by tests to verify catalog matches registered commands.
func CatalogCommandNames() []string {
	categories := commandCategories()
	total := 0
	for _, cat := range categories {
		total += len(cat.Commands)
	}
	names := make([]string, 0, total)
	for _, cat := range categories {
		for _, cmd := range cat.Commands {
			names = append(names, cmd.Name)
		}
	}
	return names
}

// NewCommandsCmd creates the commands listing command.
func NewCommandsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "commands",
		Aliases: []string{"cmds"},
		Short:   "List all available commands",
		Long:    "List all available slotwatch commands organized by category.",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}

			return app.OK(commandCategories(),
				output.WithSummary("All available slotwatch commands"),
				output.WithBreadcrumbs(
					output.Breadcrumb{
						Action:      "help",
						Cmd:         "slotwatch --help",
						Description: "View help",
					},
				),
			)
		},
	}
}
