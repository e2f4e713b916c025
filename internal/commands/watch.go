package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/slotwatch/slotwatch/internal/appctx"
	"github.com/slotwatch/slotwatch/internal/export"
	"github.com/slotwatch/slotwatch/internal/output"
)

// NewWatchCmd creates the watch command.
func NewWatchCmd() *cobra.Command {
	var exportPath string
	var once bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the view exported by serve",
		Long: `Print the aggregate view written by "slotwatch serve --export", and print it
again each time serve writes a newer generation.

Nothing is fetched: watch only reads the export file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			path := app.Config.ExportPath
			if path == "" {
				return output.ErrUsageHint("No export file to watch",
					"Pass --export <path> or set export_path to the file serve writes")
			}

			if once {
				doc, err := readExport(path)
				if err != nil {
					return err
				}
				return writeDocument(app, doc)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watchExport(ctx, app, path)
		},
	}

	cmd.Flags().StringVar(&exportPath, "export", "", "Export file written by serve")
	cmd.Flags().BoolVar(&once, "once", false, "Print the current file and exit")

	return cmd
}

func readExport(path string) (export.Document, error) {
	doc, err := export.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, output.ErrNotFoundHint("export file", path, "Start: slotwatch serve --export "+path)
	}
	if err != nil {
		return doc, output.ErrUsage(err.Error())
	}
	return doc, nil
}

func writeDocument(app *appctx.App, doc export.Document) error {
	return app.OK(doc.Centers,
		output.WithSummary(fmt.Sprintf("%s at generation %d",
			listSummary(app.Locale, doc.Centers), doc.Generation)),
		output.WithContext("generation", doc.Generation),
		output.WithContext("exported_at", doc.ExportedAt),
	)
}

// watchExport prints the document at path and then every newer generation
// until ctx is done. The directory is watched because the file is replaced
// by rename on every write.
func watchExport(ctx context.Context, app *appctx.App, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return output.ErrNotFoundHint("directory", dir, "Create it or point --export at the file serve writes")
	}

	target := filepath.Clean(path)
	var last uint64
	printed := false

	show := func() error {
		doc, err := export.Read(path)
		if err != nil {
			// Missing or mid-replace; the next event retries.
			app.Logger.Debug("export not readable", "path", path, "error", err)
			return nil
		}
		if printed && doc.Generation <= last {
			return nil
		}
		last, printed = doc.Generation, true
		return writeDocument(app, doc)
	}

	if err := show(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if err := show(); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			app.Logger.Warn("watch error", "path", path, "error", err)
		}
	}
}
