package tui

import (
	"fmt"
	"io"
	"os"

	"github.com/mpaktrust/mpak-scanner/internal/core"
	"github.com/mpaktrust/mpak-scanner/internal/types"
)

// NonInteractiveTUICallback serves pipes, CI and scripted runs. In JSON mode
// stdout belongs to the caller's machine-readable output, so nothing else is
// written there.
type NonInteractiveTUICallback struct {
	flags  core.NonInteractiveFlags
	stdout io.Writer
	stderr io.Writer
}

// NewNonInteractiveTUICallback creates a new non-interactive callback
func NewNonInteractiveTUICallback(flags core.NonInteractiveFlags) *NonInteractiveTUICallback {
	return NewWriterTUICallback(flags, os.Stdout, os.Stderr)
}

// NewWriterTUICallback is NewNonInteractiveTUICallback with explicit streams.
func NewWriterTUICallback(flags core.NonInteractiveFlags, stdout, stderr io.Writer) *NonInteractiveTUICallback {
	return &NonInteractiveTUICallback{flags: flags, stdout: stdout, stderr: stderr}
}

// ShowError writes the error to stderr unless quiet.
func (n *NonInteractiveTUICallback) ShowError(title, message string) {
	if n.flags.Mode == core.OutputQuiet {
		return
	}
	fmt.Fprintf(n.stderr, "Error: %s - %s\n", title, message)
}

// ShowSuccess displays a success message in normal mode.
func (n *NonInteractiveTUICallback) ShowSuccess(message string) {
	switch n.flags.Mode {
	case core.OutputNormal:
		fmt.Fprintln(n.stdout, message)
	case core.OutputJSON:
		fmt.Fprintln(n.stderr, message)
	}
}

// ShowWarning writes the warning to stderr unless quiet.
func (n *NonInteractiveTUICallback) ShowWarning(title, message string) {
	if n.flags.Mode == core.OutputQuiet {
		return
	}
	fmt.Fprintf(n.stderr, "Warning: %s - %s\n", title, message)
}

// ShowReport prints the plain report, or a single line when quiet. JSON
// callers write the wire report themselves.
func (n *NonInteractiveTUICallback) ShowReport(report *types.SecurityReport) {
	switch n.flags.Mode {
	case core.OutputNormal:
		fmt.Fprint(n.stdout, RenderReport(report))
	case core.OutputQuiet:
		fmt.Fprintln(n.stdout, SummaryLine(report))
	}
}

// AskConfirmation handles confirmation prompts
func (n *NonInteractiveTUICallback) AskConfirmation(title, message string) bool {
	if n.flags.Yes {
		return true // Auto-approve
	}
	// In non-interactive mode without --yes, fail for safety
	n.ShowError("Interactive Prompt Required",
		fmt.Sprintf("%s: %s\nUse --yes to auto-approve", title, message))
	return false
}

// GetOutputMode returns the configured output mode
func (n *NonInteractiveTUICallback) GetOutputMode() core.OutputMode {
	return n.flags.Mode
}

// IsAutoApprove returns whether --yes flag was set
func (n *NonInteractiveTUICallback) IsAutoApprove() bool {
	return n.flags.Yes
}
