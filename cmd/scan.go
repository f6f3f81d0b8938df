package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mpaktrust/mpak-scanner/internal/controls"
	"github.com/mpaktrust/mpak-scanner/internal/core"
	"github.com/mpaktrust/mpak-scanner/internal/tui"
	"github.com/mpaktrust/mpak-scanner/internal/types"
)

const reportSuffix = ".security-report.json"

type scanFlags struct {
	json     bool
	quiet    bool
	yes      bool
	level    int
	output   string
	controls []string
	workers  int
}

func (f scanFlags) nonInteractive() core.NonInteractiveFlags {
	return core.NonInteractiveFlags{Yes: f.yes, Mode: core.ResolveOutputMode(f.json, f.quiet)}
}

// NewScanCommand returns the scan command.
func NewScanCommand(app *App) *cobra.Command {
	var f scanFlags

	cmd := &cobra.Command{
		Use:   "scan BUNDLE",
		Short: "Scan an MCP bundle and report its compliance level and risk",
		Long: `Scan extracts the bundle, runs every control of the catalogue and prints
the compliance level and risk score.

Unless --json or -o is given, the JSON report is also written next to the
bundle as <name>.security-report.json.

The command exits 1 when the bundle is below --level or its risk score is
CRITICAL or HIGH.`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runScan(ctx, cmd, app, args[0], f)
		},
	}

	cmd.Flags().BoolVar(&f.json, "json", false, "print the JSON report on stdout")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "print a single summary line")
	cmd.Flags().BoolVarP(&f.yes, "yes", "y", false, "overwrite an existing report without asking")
	cmd.Flags().IntVar(&f.level, "level", 0, "minimum compliance level (0-4) required to pass")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "write the JSON report to this file")
	cmd.Flags().StringSliceVar(&f.controls, "controls", nil, "run only these control ids (comma separated)")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "controls run concurrently (default from config)")

	return cmd
}

func runScan(ctx context.Context, cmd *cobra.Command, app *App, bundle string, f scanFlags) error {
	flags := f.nonInteractive()
	ui := app.NewUI(flags)
	out := cmd.OutOrStdout()

	fail := func(err error) error {
		if flags.Mode == core.OutputJSON {
			return failJSON(out, err)
		}
		return err
	}

	f.controls = normalizeControlIDs(f.controls)
	if err := validateScanFlags(f); err != nil {
		return fail(err)
	}

	progress := app.NewProgress(flags.Mode, "Scanning "+filepath.Base(bundle))
	engine := app.NewEngine(progress, f.workers)
	report, err := engine.Scan(ctx, bundle, core.ScanOptions{ControlIDs: f.controls})
	if err != nil {
		return fail(err)
	}

	data, err := types.MarshalReport(report)
	if err != nil {
		return fail(err)
	}

	reportPath := f.output
	if reportPath == "" && flags.Mode != core.OutputJSON {
		reportPath = defaultReportPath(bundle)
		if !confirmOverwrite(ui, flags, reportPath) {
			ui.ShowWarning("Report Not Saved", reportPath+" already exists")
			reportPath = ""
		}
	}

	if flags.Mode == core.OutputJSON && reportPath == "" {
		if _, err := fmt.Fprintln(out, string(data)); err != nil {
			return err
		}
	} else {
		ui.ShowReport(report)
	}

	if reportPath != "" {
		if err := os.WriteFile(reportPath, append(data, '\n'), 0o644); err != nil {
			return fail(fmt.Errorf("write report: %w", err))
		}
		ui.ShowSuccess("Report saved to: " + reportPath)
	}

	if err := checkPolicy(report, types.ComplianceLevel(f.level)); err != nil {
		if flags.Mode == core.OutputNormal {
			return err
		}
		// JSON and quiet output already carry level and risk.
		return &reportedError{err: err}
	}
	return nil
}

func validateScanFlags(f scanFlags) error {
	if f.level < int(types.LevelNone) || f.level > int(types.LevelAttested) {
		return &core.InvalidArgumentsError{Message: fmt.Sprintf("--level must be between 0 and 4, got %d", f.level)}
	}
	if f.workers < 0 {
		return &core.InvalidArgumentsError{Message: fmt.Sprintf("--workers must be >= 0, got %d", f.workers)}
	}
	if len(f.controls) > 0 {
		catalogue := controls.NewRegistry(controls.Deps{})
		var unknown []string
		for _, id := range f.controls {
			if _, ok := catalogue.Get(id); !ok {
				unknown = append(unknown, id)
			}
		}
		if len(unknown) > 0 {
			sort.Strings(unknown)
			return &core.InvalidArgumentsError{Message: "unknown control id(s): " + strings.Join(unknown, ", ")}
		}
	}
	return nil
}

func normalizeControlIDs(ids []string) []string {
	var out []string
	for _, id := range ids {
		if id = strings.ToUpper(strings.TrimSpace(id)); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// checkPolicy returns a PolicyError when the report fails the gate.
func checkPolicy(report *types.SecurityReport, minLevel types.ComplianceLevel) error {
	level := report.ComplianceLevel()
	if level < minLevel {
		return &core.PolicyError{
			Reason: core.ErrLevelNotMet,
			Detail: fmt.Sprintf("level %d (%s) is below required level %d (%s)", level, level.Name(), minLevel, minLevel.Name()),
		}
	}
	if risk := report.RiskScore(); risk.Blocking() {
		return &core.PolicyError{
			Reason: core.ErrRiskTooHigh,
			Detail: fmt.Sprintf("risk score is %s", risk),
		}
	}
	return nil
}

func defaultReportPath(bundle string) string {
	base := filepath.Base(bundle)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(bundle), stem+reportSuffix)
}

// confirmOverwrite asks before replacing an existing report. Scripted runs
// replace it without asking.
func confirmOverwrite(ui tui.UI, flags core.NonInteractiveFlags, path string) bool {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return true
	}
	if _, interactive := ui.(*tui.TUICallback); !interactive || !flags.Interactive() {
		return true
	}
	return ui.AskConfirmation("Overwrite Report", path+" already exists. Overwrite it?")
}
