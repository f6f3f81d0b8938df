// Package tui renders scan results and status messages for terminals and
// pipes, and asks the few questions the CLI needs.
package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/mpaktrust/mpak-scanner/internal/types"
)

var (
	styleTitle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	styleErr     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFA500"))
	styleDim     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	styleCard    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1).BorderForeground(lipgloss.Color("238"))
)

var severityStyles = map[types.Severity]lipgloss.Style{
	types.SeverityCritical: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF0000")),
	types.SeverityHigh:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFA500")),
	types.SeverityMedium:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD700")),
	types.SeverityLow:      lipgloss.NewStyle().Foreground(lipgloss.Color("#5FAFFF")),
	types.SeverityInfo:     styleDim,
}

var riskStyles = map[types.RiskScore]lipgloss.Style{
	types.RiskCritical: severityStyles[types.SeverityCritical],
	types.RiskHigh:     severityStyles[types.SeverityHigh],
	types.RiskMedium:   severityStyles[types.SeverityMedium],
	types.RiskLow:      severityStyles[types.SeverityLow],
	types.RiskNone:     styleSuccess,
}

var statusStyles = map[types.ControlStatus]lipgloss.Style{
	types.StatusPass:  styleSuccess,
	types.StatusFail:  styleErr,
	types.StatusError: styleWarn,
	types.StatusSkip:  styleDim,
}

// PrintError displays an error message with styling to the terminal.
func PrintError(title, msg string) { fmt.Println(styleErr.Render("✖ " + title)); fmt.Println(msg) }

// PrintSuccess displays a success message with styling to the terminal.
func PrintSuccess(msg string) { fmt.Println(styleSuccess.Render("✔ " + msg)) }

// PrintInfo displays an informational message to the terminal.
func PrintInfo(msg string) {
	fmt.Println(lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(msg))
}

// PrintWarning displays a warning message with styling to the terminal.
func PrintWarning(title, msg string) { fmt.Println(styleWarn.Render("! " + title)); fmt.Println(msg) }

// StyleTitle applies title styling to the given text string.
func StyleTitle(text string) string { return styleTitle.Render(text) }
