package tui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"

	"github.com/mpaktrust/mpak-scanner/internal/core"
	"github.com/mpaktrust/mpak-scanner/internal/types"
)

// UI is how commands talk to the person or pipe on the other end.
type UI interface {
	ShowError(title, message string)
	ShowSuccess(message string)
	ShowWarning(title, message string)
	ShowReport(report *types.SecurityReport)
	AskConfirmation(title, message string) bool
	GetOutputMode() core.OutputMode
	IsAutoApprove() bool
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// New picks the interactive UI when stdout is a terminal and no flag asks
// for scripted behavior.
func New(flags core.NonInteractiveFlags) UI {
	if flags.Interactive() && IsTerminal(os.Stdout) && IsTerminal(os.Stdin) {
		return NewTUICallback()
	}
	return NewNonInteractiveTUICallback(flags)
}

// TUICallback is the interactive terminal UI with styled output.
//
//nolint:revive // Name TUICallback is intentional and descriptive
type TUICallback struct{}

// NewTUICallback creates a new interactive terminal UI callback.
func NewTUICallback() *TUICallback {
	return &TUICallback{}
}

// ShowError displays an error message.
func (t *TUICallback) ShowError(title, message string) {
	PrintError(title, message)
}

// ShowSuccess displays a success message with styled output.
func (t *TUICallback) ShowSuccess(message string) {
	PrintSuccess(message)
}

// ShowWarning displays a warning message with styled output.
func (t *TUICallback) ShowWarning(title, message string) {
	PrintWarning(title, message)
}

// ShowReport prints the styled report.
func (t *TUICallback) ShowReport(report *types.SecurityReport) {
	fmt.Print(RenderReport(report))
}

// AskConfirmation prompts the user for yes/no confirmation.
func (t *TUICallback) AskConfirmation(title, message string) bool {
	var confirm bool
	err := huh.NewConfirm().
		Title(title).
		Description(message).
		Value(&confirm).
		Affirmative("Yes").
		Negative("No").
		Run()
	if err != nil {
		return false
	}
	return confirm
}

// GetOutputMode returns the output mode (normal for interactive TUI)
func (t *TUICallback) GetOutputMode() core.OutputMode {
	return core.OutputNormal
}

// IsAutoApprove returns whether auto-approve is enabled (always false for interactive mode)
func (t *TUICallback) IsAutoApprove() bool {
	return false
}
