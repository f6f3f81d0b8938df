package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mpaktrust/mpak-scanner/internal/types"
)

// maxFindingsShown caps each severity section of the human report.
const maxFindingsShown = 5

// RenderReport formats a report for humans. lipgloss drops the colors when
// the output is not a terminal.
func RenderReport(r *types.SecurityReport) string {
	var b strings.Builder

	header := strings.Join([]string{
		styleTitle.Render("mpak Security Report: " + r.BundleName),
		"Version:  " + r.BundleVersion,
		"Scanned:  " + r.ScanTimestamp,
		fmt.Sprintf("Duration: %dms", r.DurationMS),
	}, "\n")
	b.WriteString(styleCard.Render(header))
	b.WriteString("\n\n")

	level := r.ComplianceLevel()
	risk := r.RiskScore()
	fmt.Fprintf(&b, "Compliance Level: %d (%s)\n", level, level.Name())
	fmt.Fprintf(&b, "Risk Score: %s\n", riskStyles[risk].Render(string(risk)))
	fmt.Fprintf(&b, "Controls: %d/%d passed\n", r.ControlsPassed(), r.ControlsTotal())
	if r.SBOMComponentCount > 0 {
		fmt.Fprintf(&b, "SBOM: %d components (%s)\n", r.SBOMComponentCount, r.SBOMFormat)
	}
	b.WriteString("\n")

	for _, name := range r.DomainNames() {
		domain := r.Domains[name]
		if len(domain.Controls) == 0 {
			continue
		}
		b.WriteString(styleTitle.Render(domainTitle(name)))
		b.WriteString("\n")
		ids := make([]string, 0, len(domain.Controls))
		for id := range domain.Controls {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			c := domain.Controls[id]
			status := statusStyles[c.Status].Render(fmt.Sprintf("%-5s", strings.ToUpper(string(c.Status))))
			fmt.Fprintf(&b, "  %-6s %s  %s\n", id, status, c.ControlName)
		}
		b.WriteString("\n")
	}

	findings := r.AllFindings()
	for _, sev := range []types.Severity{types.SeverityCritical, types.SeverityHigh} {
		var selected []types.Finding
		for _, f := range findings {
			if f.Severity == sev {
				selected = append(selected, f)
			}
		}
		if len(selected) == 0 {
			continue
		}
		b.WriteString(severityStyles[sev].Render(strings.ToUpper(string(sev)) + " FINDINGS:"))
		b.WriteString("\n")
		for i, f := range selected {
			if i == maxFindingsShown {
				fmt.Fprintf(&b, "  ... and %d more\n", len(selected)-maxFindingsShown)
				break
			}
			fmt.Fprintf(&b, "  [%s] %s\n", f.Control, f.Title)
			if f.File != "" {
				fmt.Fprintf(&b, "           File: %s\n", f.File)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// SummaryLine is the one-line result used in quiet mode.
func SummaryLine(r *types.SecurityReport) string {
	level := r.ComplianceLevel()
	return fmt.Sprintf("%s %s: level %d (%s), risk %s, %d/%d controls passed",
		r.BundleName, r.BundleVersion, level, level.Name(), r.RiskScore(),
		r.ControlsPassed(), r.ControlsTotal())
}

func domainTitle(domain string) string {
	words := strings.Split(domain, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
