package controls

import (
	"bytes"
	"embed"
	"fmt"
	"regexp"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/mpaktrust/mpak-scanner/internal/types"
)

//go:embed rules/*.yaml
var ruleFiles embed.FS

// Rule is one line-oriented detection pattern.
type Rule struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Severity    string `yaml:"severity"`
	Confidence  string `yaml:"confidence,omitempty"`
	Description string `yaml:"description"`
	Remediation string `yaml:"remediation,omitempty"`
	// Exclude suppresses a match when it also matches the line.
	Exclude string `yaml:"exclude,omitempty"`
	// HighFalsePositive rules are reported at reduced severity.
	HighFalsePositive bool `yaml:"high_false_positive,omitempty"`
	// SelfVerifying rules match values whose shape proves they are live
	// credentials, such as private key blocks.
	SelfVerifying bool `yaml:"self_verifying,omitempty"`
	// CaseSensitive disables the default case-insensitive matching.
	CaseSensitive bool `yaml:"case_sensitive,omitempty"`
	// Files restricts the rule to file names matching this glob.
	Files string `yaml:"files,omitempty"`

	re      *regexp.Regexp
	exclude *regexp.Regexp
	files   glob.Glob
	sev     types.Severity
}

// RuleSet is a rule table grouped by language. Rules under "any" apply to
// every text file the control reads.
type RuleSet struct {
	Python     []*Rule `yaml:"python"`
	JavaScript []*Rule `yaml:"javascript"`
	Any        []*Rule `yaml:"any"`
}

// For returns the rules for a language followed by the language-neutral
// ones.
func (rs *RuleSet) For(lang language) []*Rule {
	var out []*Rule
	switch lang {
	case langPython:
		out = append(out, rs.Python...)
	case langJavaScript:
		out = append(out, rs.JavaScript...)
	}
	return append(out, rs.Any...)
}

// Len is the total number of rules.
func (rs *RuleSet) Len() int {
	return len(rs.Python) + len(rs.JavaScript) + len(rs.Any)
}

// Find returns the first submatch of the rule on line, or "" when the rule
// does not match or the line is excluded.
func (r *Rule) Find(line string) (string, bool) {
	loc := r.re.FindStringSubmatchIndex(line)
	if loc == nil {
		return "", false
	}
	if r.exclude != nil && r.exclude.MatchString(line) {
		return "", false
	}
	// Prefer the first capture group when the pattern has one
	if len(loc) >= 4 && loc[2] >= 0 {
		return line[loc[2]:loc[3]], true
	}
	return line[loc[0]:loc[1]], true
}

// AppliesTo reports whether the rule checks files with this base name.
func (r *Rule) AppliesTo(name string) bool {
	return r.files == nil || r.files.Match(name)
}

// SeverityLevel is the parsed severity of the rule.
func (r *Rule) SeverityLevel() types.Severity {
	return r.sev
}

func (r *Rule) compile() error {
	if r.ID == "" {
		return fmt.Errorf("rule without id")
	}
	sev, err := types.ParseSeverity(r.Severity)
	if err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}
	r.sev = sev

	pattern := r.Pattern
	if !r.CaseSensitive {
		pattern = "(?i)" + pattern
	}
	if r.re, err = regexp.Compile(pattern); err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}
	if r.Exclude != "" {
		if r.exclude, err = regexp.Compile("(?i)" + r.Exclude); err != nil {
			return fmt.Errorf("rule %s exclude: %w", r.ID, err)
		}
	}
	if r.Files != "" {
		if r.files, err = glob.Compile(r.Files); err != nil {
			return fmt.Errorf("rule %s files: %w", r.ID, err)
		}
	}
	return nil
}

// ParseRules decodes and compiles a YAML rule table.
func ParseRules(data []byte) (*RuleSet, error) {
	var rs RuleSet
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&rs); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	seen := make(map[string]bool)
	for _, group := range [][]*Rule{rs.Python, rs.JavaScript, rs.Any} {
		for _, r := range group {
			if err := r.compile(); err != nil {
				return nil, err
			}
			if seen[r.ID] {
				return nil, fmt.Errorf("duplicate rule id %s", r.ID)
			}
			seen[r.ID] = true
		}
	}
	return &rs, nil
}

// loadRules reads an embedded rule table.
func loadRules(name string) (*RuleSet, error) {
	data, err := ruleFiles.ReadFile("rules/" + name)
	if err != nil {
		return nil, err
	}
	rs, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return rs, nil
}

// mustLoadRules panics on an invalid embedded table. The tables ship with
// the binary, so this fails on the first test run.
func mustLoadRules(name string) *RuleSet {
	rs, err := loadRules(name)
	if err != nil {
		panic(err)
	}
	return rs
}

// Embedded rule tables.
var (
	secretRules     = mustLoadRules("secrets.yaml")
	maliciousRules  = mustLoadRules("malicious.yaml")
	staticRules     = mustLoadRules("static-analysis.yaml")
	unsafeExecRules = mustLoadRules("unsafe-exec.yaml")
)

// ruleFileNames lists the embedded tables, for tests.
var ruleFileNames = []string{"secrets.yaml", "malicious.yaml", "static-analysis.yaml", "unsafe-exec.yaml"}
