package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/mpaktrust/mpak-scanner/internal/core"
	"github.com/mpaktrust/mpak-scanner/internal/logging"
)

const watchDebounce = 1 * time.Second

// NewWatchCommand returns the command re-scanning a bundle whenever it changes.
func NewWatchCommand(app *App) *cobra.Command {
	var f scanFlags

	cmd := &cobra.Command{
		Use:   "watch BUNDLE",
		Short: "Re-scan a bundle every time it is rebuilt",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bundle := args[0]
			ui := app.NewUI(f.nonInteractive())
			scan := func(ctx context.Context) {
				err := runScan(ctx, cmd, app, bundle, f)
				switch {
				case err == nil:
				case IsReported(err):
				case core.IsPolicyFailure(err):
					ui.ShowWarning("Policy", err.Error())
				default:
					ui.ShowError("Scan Failed", err.Error())
				}
			}

			if _, err := os.Stat(bundle); err == nil {
				scan(ctx)
			}

			w := &bundleWatcher{path: bundle, delay: watchDebounce, log: app.Log}
			fmt.Fprintf(cmd.ErrOrStderr(), "Watching for changes to %s...\nPress Ctrl+C to stop\n", bundle)
			err := w.Run(ctx, scan)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&f.json, "json", false, "print the JSON report on stdout")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "print a single summary line")
	cmd.Flags().BoolVarP(&f.yes, "yes", "y", false, "overwrite the report without asking")
	cmd.Flags().IntVar(&f.level, "level", 0, "minimum compliance level (0-4) required to pass")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "write the JSON report to this file")
	cmd.Flags().StringSliceVar(&f.controls, "controls", nil, "run only these control ids (comma separated)")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "controls run concurrently (default from config)")
	return cmd
}

// bundleWatcher calls onChange once per burst of writes to path. The parent
// directory is watched as well so a bundle that is deleted and rebuilt keeps
// being tracked.
type bundleWatcher struct {
	path  string
	delay time.Duration
	log   logging.Logger
}

// Run blocks until ctx is done or the watcher fails. onChange runs on the
// calling goroutine, so scans never overlap.
func (w *bundleWatcher) Run(ctx context.Context, onChange func(context.Context)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	target, err := filepath.Abs(w.path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(target)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	trigger := make(chan struct{}, 1)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(w.delay, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})

		case <-trigger:
			if _, err := os.Stat(target); err != nil {
				w.log.Warnf("Bundle %s is no longer accessible: %v", w.path, err)
				continue
			}
			w.log.Infof("Detected change to %s", filepath.Base(target))
			onChange(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warnf("Watch error: %v", err)
		}
	}
}
