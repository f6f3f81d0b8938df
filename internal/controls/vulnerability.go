package controls

import (
	"context"
	"strings"

	"github.com/mpaktrust/mpak-scanner/internal/core"
	"github.com/mpaktrust/mpak-scanner/internal/lockfile"
	"github.com/mpaktrust/mpak-scanner/internal/logging"
	"github.com/mpaktrust/mpak-scanner/internal/types"
	"github.com/mpaktrust/mpak-scanner/internal/vuln"
)

// maxVulnDescription bounds the advisory summary copied into a finding.
const maxVulnDescription = 150

type vulnerabilityScan struct {
	info
	source VulnSource
	log    logging.Logger
}

func newVulnerabilityScan(source VulnSource, log logging.Logger) *vulnerabilityScan {
	return &vulnerabilityScan{
		info: info{
			ID:          types.ControlVulnerabilityScan,
			Name:        "Vulnerability Scan",
			Domain:      types.DomainSupplyChain,
			Level:       types.LevelStandard,
			Enforcement: core.EnforcedByScanner,
			Description: "Scan for CVE vulnerabilities with EPSS/KEV enrichment",
		},
		source: source,
		log:    log,
	}
}

func (c *vulnerabilityScan) Run(ctx context.Context, b *core.Bundle) *types.ControlResult {
	if c.source == nil {
		return core.Skip(c.Info(), "Vulnerability scanning disabled (offline mode)")
	}

	inv, err := lockfile.Scan(b.Dir)
	if err != nil {
		c.log.Warnf("Scanning partial lockfile inventory: %v", err)
	}
	pkgs := inv.Packages()

	res, err := c.source.Scan(ctx, pkgs)
	if err != nil {
		return core.Errorf(c.Info(), "vulnerability lookup failed: %v", err)
	}

	found := newFindings(c.ID, 0)
	blocking := false
	matches := make([]map[string]any, 0, len(res.Matches))
	for _, m := range res.Matches {
		f := matchFinding(m)
		found.add(f)
		blocking = blocking || m.Blocking
		matches = append(matches, f.Metadata)
	}

	r := core.NewResult(c.Info(), statusIf(blocking), found.list())
	r.RawOutput = map[string]any{
		"matches":          matches,
		"packages_queried": res.PackagesQueried,
		"enrichment": map[string]any{
			"kev_catalog_size":    res.KEVCatalogSize,
			"epss_scores_fetched": res.EPSSScoresFetched,
			"kev_matches":         res.KEVMatches(),
		},
	}
	return r
}

func matchFinding(m vuln.Match) types.Finding {
	desc := truncateRunes(strings.TrimSpace(m.Summary), maxVulnDescription)
	if desc == "" {
		desc = "No description available"
	}
	if m.Reason != "" {
		desc += " [" + m.Reason + "]"
	}

	var remediation string
	if len(m.FixVersions) > 0 {
		remediation = "Upgrade to version " + strings.Join(m.FixVersions, ", ")
	}

	fixes := m.FixVersions
	if fixes == nil {
		fixes = []string{}
	}
	meta := map[string]any{
		"cve":              m.DisplayID(),
		"osv_id":           m.ID,
		"package":          m.Package.Name,
		"version":          m.Package.Version,
		"ecosystem":        string(m.Package.Ecosystem),
		"fix_versions":     fixes,
		"cvss_score":       nil,
		"epss_score":       nil,
		types.MetaInKEV:    m.InKEV,
		types.MetaBlocking: m.Blocking,
		"blocking_reason":  m.Reason,
	}
	if m.CVSS != nil {
		meta["cvss_score"] = *m.CVSS
	}
	if m.EPSS != nil {
		meta["epss_score"] = *m.EPSS
	}

	return types.Finding{
		Severity:    m.Severity,
		Title:       m.DisplayID() + ": " + m.Package.Name,
		Description: desc,
		File:        m.Package.Lockfile,
		Remediation: remediation,
		InDeps:      true,
		Metadata:    meta,
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
