package controls

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/gobwas/glob"

	"github.com/mpaktrust/mpak-scanner/internal/core"
	"github.com/mpaktrust/mpak-scanner/internal/lockfile"
	"github.com/mpaktrust/mpak-scanner/internal/types"
)

// lineMatch is one rule hit on one line.
type lineMatch struct {
	file  bundleFile
	line  int // 1-based
	rule  *Rule
	value string
}

// matchFile runs rules over every line of f. Lines for which skip returns
// true are not checked.
func matchFile(f bundleFile, rules []*Rule, skip func(line string) bool) ([]lineMatch, error) {
	name := path.Base(f.Rel)
	var applicable []*Rule
	for _, r := range rules {
		if r.AppliesTo(name) {
			applicable = append(applicable, r)
		}
	}
	if len(applicable) == 0 {
		return nil, nil
	}

	lines, err := readLines(f)
	if err != nil {
		return nil, err
	}
	var out []lineMatch
	for i, line := range lines {
		if skip != nil && skip(line) {
			continue
		}
		for _, r := range applicable {
			if v, ok := r.Find(line); ok {
				out = append(out, lineMatch{file: f, line: i + 1, rule: r, value: v})
			}
		}
	}
	return out, nil
}

// serverSourceFiles lists Python and JavaScript outside dependency
// directories, excluding tests.
func serverSourceFiles(ctx context.Context, root string) ([]bundleFile, error) {
	files, err := sourceFiles(ctx, root, false)
	if err != nil {
		return nil, err
	}
	out := files[:0]
	for _, f := range files {
		if !isTestPath(f.Rel) {
			out = append(out, f)
		}
	}
	return out, nil
}

// ============================================================================
// CQ-01 No Embedded Secrets
// ============================================================================

// secretFalsePositiveGlob matches paths whose secrets are almost always
// sample values. Matched against "/" + the relative path.
var secretFalsePositiveGlob = glob.MustCompile("*{networks.py,_urls.py,url.py,url_attributes.py,/test,/tests/,example}*")

type embeddedSecrets struct {
	info
	rules *RuleSet
}

func newEmbeddedSecrets() *embeddedSecrets {
	return &embeddedSecrets{
		info: info{
			ID:          types.ControlEmbeddedSecrets,
			Name:        "No Embedded Secrets",
			Domain:      types.DomainCodeQuality,
			Level:       types.LevelBasic,
			Enforcement: core.EnforcedByScanner,
			Description: "Bundle does not contain credentials, API keys or private keys",
		},
		rules: secretRules,
	}
}

func (c *embeddedSecrets) Run(ctx context.Context, b *core.Bundle) *types.ControlResult {
	files, err := walkBundle(ctx, b.Dir, walkOptions{skipCache: true})
	if err != nil {
		return core.Errorf(c.Info(), "walk bundle: %v", err)
	}

	found := newFindings(c.ID, 0)
	seen := seenSet{}
	scanned := 0
	for _, f := range files {
		if secretFalsePositiveGlob.Match("/" + f.Rel) {
			continue
		}
		scanned++
		matches, err := matchFile(f, c.rules.Any, nil)
		if err != nil {
			continue
		}
		for _, m := range matches {
			if !seen.first(location(f.Rel, m.line), m.value) {
				continue
			}
			found.add(secretFinding(m))
		}
	}

	fail := found.any(func(f types.Finding) bool {
		return f.MetaBool(types.MetaVerified) || !f.InDeps
	})
	r := core.NewResult(c.Info(), statusIf(fail), found.list())
	r.RawOutput = map[string]any{"files_scanned": scanned, "detectors": c.rules.Len()}
	return r
}

func secretFinding(m lineMatch) types.Finding {
	verified := m.rule.SelfVerifying
	sev, desc := types.SeverityHigh, "Potential secret found"
	if verified {
		sev, desc = types.SeverityCritical, "Verified secret found"
	}
	return types.Finding{
		Severity:    sev,
		Title:       "Secret detected: " + m.rule.ID,
		Description: fmt.Sprintf("%s (%s)", desc, m.rule.Description),
		File:        m.file.Rel,
		Line:        m.line,
		InDeps:      m.file.InDeps,
		Remediation: "Remove the secret and rotate the credential immediately",
		Metadata: map[string]any{
			"detector":         m.rule.ID,
			types.MetaVerified: verified,
			"redacted_value":   redact(m.value),
			"fingerprint":      fingerprint(m.value),
		},
	}
}

// redact keeps the first ten characters of a secret.
func redact(v string) string {
	r := []rune(v)
	if len(r) > 10 {
		r = r[:10]
	}
	return string(r) + "..."
}

// ============================================================================
// CQ-02 No Malicious Patterns
// ============================================================================

// Package ecosystems as reported in CQ-02 raw output.
const (
	ecosystemPyPI = "pypi"
	ecosystemNPM  = "npm"
)

type maliciousPatterns struct {
	info
	rules *RuleSet
}

func newMaliciousPatterns() *maliciousPatterns {
	return &maliciousPatterns{
		info: info{
			ID:          types.ControlMaliciousPatterns,
			Name:        "No Malicious Patterns",
			Domain:      types.DomainCodeQuality,
			Level:       types.LevelBasic,
			Enforcement: core.EnforcedByScanner,
			Description: "Bundle code shows no known malicious package behaviour",
		},
		rules: maliciousRules,
	}
}

func (c *maliciousPatterns) Run(ctx context.Context, b *core.Bundle) *types.ControlResult {
	files, err := walkBundle(ctx, b.Dir, walkOptions{
		skipCache: true,
		match: func(rel string) bool {
			_, ok := languageOf(rel)
			return ok || path.Base(rel) == "package.json"
		},
	})
	if err != nil {
		return core.Errorf(c.Info(), "walk bundle: %v", err)
	}

	eco := detectEcosystem(b.Dir, files)
	found := newFindings(c.ID, 0)
	if eco == "" {
		found.add(types.Finding{
			Severity:    types.SeverityInfo,
			Title:       "No source code found",
			Description: "Bundle contains no Python or JavaScript code to analyze",
		})
		return core.NewResult(c.Info(), types.StatusPass, found.list())
	}

	seen := seenSet{}
	for _, f := range files {
		lang, _ := languageOf(f.Rel)
		matches, err := matchFile(f, c.rules.For(lang), nil)
		if err != nil {
			continue
		}
		for _, m := range matches {
			if !seen.first(m.rule.ID, location(f.Rel, m.line)) {
				continue
			}
			found.add(maliciousFinding(m, eco))
		}
	}

	r := core.NewResult(c.Info(), statusIf(found.any(atLeast(types.SeverityCritical))), found.list())
	r.RawOutput = map[string]any{"ecosystem": eco}
	return r
}

func maliciousFinding(m lineMatch, eco string) types.Finding {
	sev := m.rule.SeverityLevel()
	switch {
	case m.file.InDeps:
		sev = types.SeverityInfo
	case m.rule.HighFalsePositive:
		sev = types.SeverityMedium
	}
	return types.Finding{
		Severity:    sev,
		Title:       "Malicious pattern: " + m.rule.ID,
		Description: m.rule.Description,
		File:        m.file.Rel,
		Line:        m.line,
		InDeps:      m.file.InDeps,
		Remediation: "Review the code and remove malicious patterns",
		Metadata:    map[string]any{"rule": m.rule.ID, "ecosystem": eco},
	}
}

// detectEcosystem picks the package ecosystem of the bundle. Python wins
// when both are present.
func detectEcosystem(dir string, files []bundleFile) string {
	var py, js bool
	for _, f := range files {
		switch lang, _ := languageOf(f.Rel); {
		case lang == langPython:
			py = true
		case lang == langJavaScript, path.Base(f.Rel) == "package.json":
			js = true
		}
	}
	if !py && !js {
		inv, _ := lockfile.Scan(dir)
		for _, eco := range inv.Ecosystems() {
			switch eco {
			case lockfile.EcosystemPyPI:
				py = true
			case lockfile.EcosystemNPM:
				js = true
			}
		}
	}
	switch {
	case py:
		return ecosystemPyPI
	case js:
		return ecosystemNPM
	}
	return ""
}

// ============================================================================
// CQ-03 Static Analysis Clean
// ============================================================================

// staticSeverity maps an issue severity and confidence pair to a finding
// severity.
var staticSeverity = map[[2]string]types.Severity{
	{"high", "high"}:     types.SeverityHigh,
	{"high", "medium"}:   types.SeverityMedium,
	{"high", "low"}:      types.SeverityMedium,
	{"medium", "high"}:   types.SeverityMedium,
	{"medium", "medium"}: types.SeverityLow,
	{"medium", "low"}:    types.SeverityLow,
	{"low", "high"}:      types.SeverityLow,
	{"low", "medium"}:    types.SeverityInfo,
	{"low", "low"}:       types.SeverityInfo,
}

func mapStaticSeverity(severity, confidence string) types.Severity {
	if s, ok := staticSeverity[[2]string{strings.ToLower(severity), strings.ToLower(confidence)}]; ok {
		return s
	}
	return types.SeverityInfo
}

type staticAnalysis struct {
	info
	rules *RuleSet
}

func newStaticAnalysis() *staticAnalysis {
	return &staticAnalysis{
		info: info{
			ID:          "CQ-03",
			Name:        "Static Analysis Clean",
			Domain:      types.DomainCodeQuality,
			Level:       types.LevelStandard,
			Enforcement: core.EnforcedByScanner,
			Description: "Server code passes static security analysis",
		},
		rules: staticRules,
	}
}

func (c *staticAnalysis) Run(ctx context.Context, b *core.Bundle) *types.ControlResult {
	files, err := serverSourceFiles(ctx, b.Dir)
	if err != nil {
		return core.Errorf(c.Info(), "walk bundle: %v", err)
	}

	found := newFindings(c.ID, 1)
	if len(files) == 0 {
		found.prepend(types.Finding{
			Severity:    types.SeverityInfo,
			Title:       "No server code found",
			Description: "No Python or JavaScript files to analyze (excluding dependencies)",
		})
		return core.NewResult(c.Info(), types.StatusPass, found.list())
	}

	for _, f := range files {
		lang, _ := languageOf(f.Rel)
		matches, err := matchFile(f, c.rules.For(lang), isNosec)
		if err != nil {
			continue
		}
		for _, m := range matches {
			found.add(types.Finding{
				Severity:    mapStaticSeverity(m.rule.Severity, m.rule.Confidence),
				Title:       m.rule.ID + ": " + m.rule.Description,
				Description: m.rule.Description,
				File:        f.Rel,
				Line:        m.line,
				Metadata: map[string]any{
					"test_id":    m.rule.ID,
					"test_name":  m.rule.Name,
					"severity":   strings.ToUpper(m.rule.Severity),
					"confidence": strings.ToUpper(m.rule.Confidence),
				},
			})
		}
	}

	r := core.NewResult(c.Info(), statusIf(found.any(func(f types.Finding) bool {
		return !f.InDeps && f.Severity == types.SeverityHigh
	})), found.list())
	r.RawOutput = map[string]any{"files_scanned": len(files), "rules": c.rules.Len()}
	return r
}

// ============================================================================
// CQ-05 Safe Execution Patterns
// ============================================================================

// nosecPatterns mark a line as reviewed.
var nosecPatterns = []*regexp.Regexp{
	regexp.MustCompile(`#\s*nosec`),
	regexp.MustCompile(`//\s*nosec`),
	regexp.MustCompile(`/\*\s*nosec`),
	regexp.MustCompile(`#\s*Safe:`),
}

func isNosec(line string) bool {
	for _, re := range nosecPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

type safeExecution struct {
	info
	rules *RuleSet
}

func newSafeExecution() *safeExecution {
	return &safeExecution{
		info: info{
			ID:          "CQ-05",
			Name:        "Safe Execution Patterns",
			Domain:      types.DomainCodeQuality,
			Level:       types.LevelVerified,
			Enforcement: core.EnforcedByScanner,
			Description: "Detect unsafe code execution patterns (shell injection, eval, etc.)",
		},
		rules: unsafeExecRules,
	}
}

func (c *safeExecution) Run(ctx context.Context, b *core.Bundle) *types.ControlResult {
	files, err := serverSourceFiles(ctx, b.Dir)
	if err != nil {
		return core.Errorf(c.Info(), "walk bundle: %v", err)
	}

	found := newFindings(c.ID, 1)
	for _, f := range files {
		lang, _ := languageOf(f.Rel)
		matches, err := matchFile(f, c.rules.For(lang), isNosec)
		if err != nil {
			continue
		}
		for _, m := range matches {
			found.add(types.Finding{
				Severity:    m.rule.SeverityLevel(),
				Title:       m.rule.Name,
				Description: m.rule.Description,
				File:        f.Rel,
				Line:        m.line,
				InDeps:      f.InDeps,
				Remediation: m.rule.Remediation,
				Metadata:    map[string]any{"pattern_id": m.rule.ID},
			})
		}
	}

	fail := found.any(atLeastOutsideDeps(types.SeverityHigh))
	if found.len() == 0 {
		found.prepend(types.Finding{
			Severity:    types.SeverityInfo,
			Title:       "No unsafe execution patterns detected",
			Description: "Server code passed safe execution pattern analysis",
		})
	}
	return core.NewResult(c.Info(), statusIf(fail), found.list())
}

// ============================================================================
// CQ-04 and CQ-06 not yet evaluated
// ============================================================================

func newInputValidation() *skipControl {
	return &skipControl{
		info: info{
			ID:          "CQ-04",
			Name:        "Input Validation",
			Domain:      types.DomainCodeQuality,
			Level:       types.LevelVerified,
			Enforcement: core.EnforcedByScanner,
			Description: "Tool inputs are validated before use",
		},
		reason: "Not yet implemented. Requires AST analysis for validation library detection.",
	}
}

func newBehavioralAnalysis() *skipControl {
	return &skipControl{
		info: info{
			ID:          types.ControlBehavioralAnalysis,
			Name:        "Behavioral Analysis",
			Domain:      types.DomainCodeQuality,
			Level:       types.LevelAttested,
			MCPSpecific: true,
			Enforcement: core.EnforcedByBoth,
			Description: "Server behaviour at runtime matches its declarations",
		},
		reason: "Not yet implemented. Requires runtime sandbox infrastructure with seccomp filtering.",
	}
}
