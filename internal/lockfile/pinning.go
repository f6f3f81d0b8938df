package lockfile

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"
	"github.com/tidwall/gjson"
)

// Dependency is a declared (not resolved) dependency from a requirements
// file, pyproject.toml or package.json.
type Dependency struct {
	Name      string
	Specifier string
	Ecosystem Ecosystem
	File      string
	Line      int // 1-based, zero when unknown
}

// Floating specifier operators, checked in order.
var unpinnedPatterns = []struct {
	re   *regexp.Regexp
	name string
}{
	{regexp.MustCompile(`>=`), "Greater than or equal"},
	{regexp.MustCompile(`<=`), "Less than or equal"},
	{regexp.MustCompile(`>[^=]|>$`), "Greater than"},
	{regexp.MustCompile(`<[^=]|<$`), "Less than"},
	{regexp.MustCompile(`\^`), "Caret range"},
	{regexp.MustCompile(`~[^=]|~$`), "Tilde range"},
	{regexp.MustCompile(`~=`), "Compatible release"},
	{regexp.MustCompile(`\*`), "Wildcard"},
	{regexp.MustCompile(`latest`), "Latest tag"},
}

// UnpinnedReason describes why spec does not select exactly one release, or
// returns "" when it does. Non-registry references (URLs, git, local paths,
// workspaces) are not version ranges and return "".
func UnpinnedReason(eco Ecosystem, spec string) string {
	s := strings.TrimSpace(spec)
	if s == "" {
		return "No version specifier"
	}
	if isReference(s) {
		return ""
	}
	for _, p := range unpinnedPatterns {
		if p.re.MatchString(s) {
			return p.name
		}
	}

	switch eco {
	case EcosystemNPM:
		if s == "x" || strings.Contains(s, ".x") || strings.Contains(s, "||") || strings.Contains(s, " - ") {
			return "Version range"
		}
		if _, err := semver.StrictNewVersion(strings.TrimPrefix(strings.TrimPrefix(s, "="), "v")); err != nil {
			return "Not an exact version"
		}
	case EcosystemPyPI:
		if !strings.Contains(s, "==") {
			return "Exclusion only"
		}
	}
	return ""
}

// IsPinned reports whether spec selects exactly one release.
func IsPinned(eco Ecosystem, spec string) bool {
	return UnpinnedReason(eco, spec) == ""
}

func isReference(s string) bool {
	for _, prefix := range []string{"@", "git+", "git:", "http://", "https://", "file:", "link:", "workspace:", "npm:", "github:"} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return strings.Contains(s, "://")
}

// requirementName matches the distribution name at the start of a PEP 508
// requirement.
var requirementName = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)`)

// ParseRequirement splits one PEP 508 requirement into name and specifier.
// Extras and environment markers are dropped.
func ParseRequirement(req string) (name, spec string, ok bool) {
	req = strings.TrimSpace(req)
	if i := strings.Index(req, ";"); i >= 0 {
		req = req[:i]
	}
	m := requirementName.FindString(req)
	if m == "" {
		return "", "", false
	}
	rest := strings.TrimSpace(req[len(m):])
	if strings.HasPrefix(rest, "[") {
		if end := strings.Index(rest, "]"); end >= 0 {
			rest = strings.TrimSpace(rest[end+1:])
		}
	}
	rest = strings.TrimSpace(strings.Trim(rest, "()"))
	return m, rest, true
}

// ParseRequirements reads a pip requirements file. Options (-r, -e, --hash)
// and comments are skipped.
func ParseRequirements(file string, data []byte) []Dependency {
	var deps []Dependency
	sc := bufio.NewScanner(bytes.NewReader(data))
	lineNum := 0
	for sc.Scan() {
		lineNum++
		line := sc.Text()
		if i := strings.Index(line, " #"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line), "\\"))
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		// Inline hash options
		if i := strings.Index(line, " --"); i >= 0 {
			line = line[:i]
		}
		name, spec, ok := ParseRequirement(line)
		if !ok {
			continue
		}
		deps = append(deps, Dependency{
			Name:      name,
			Specifier: spec,
			Ecosystem: EcosystemPyPI,
			File:      file,
			Line:      lineNum,
		})
	}
	return deps
}

type pyproject struct {
	Project struct {
		Dependencies         []string            `toml:"dependencies"`
		OptionalDependencies map[string][]string `toml:"optional-dependencies"`
	} `toml:"project"`
	DependencyGroups map[string][]any `toml:"dependency-groups"`
	Tool             struct {
		Poetry struct {
			Dependencies    map[string]any `toml:"dependencies"`
			DevDependencies map[string]any `toml:"dev-dependencies"`
		} `toml:"poetry"`
	} `toml:"tool"`
}

// ParsePyproject reads PEP 621 project dependencies, optional dependencies,
// PEP 735 dependency groups and Poetry dependency tables. The python
// interpreter constraint is not a dependency.
func ParsePyproject(file string, data []byte) ([]Dependency, error) {
	var doc pyproject
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}

	var deps []Dependency
	addReq := func(req string) {
		name, spec, ok := ParseRequirement(req)
		if !ok {
			return
		}
		deps = append(deps, Dependency{
			Name: name, Specifier: spec, Ecosystem: EcosystemPyPI,
			File: file, Line: lineOf(data, req),
		})
	}

	for _, req := range doc.Project.Dependencies {
		addReq(req)
	}
	for _, group := range sortedKeys(doc.Project.OptionalDependencies) {
		for _, req := range doc.Project.OptionalDependencies[group] {
			addReq(req)
		}
	}
	for _, group := range sortedKeys(doc.DependencyGroups) {
		for _, item := range doc.DependencyGroups[group] {
			// {include-group = "..."} entries are not requirements
			if req, ok := item.(string); ok {
				addReq(req)
			}
		}
	}

	for _, table := range []map[string]any{doc.Tool.Poetry.Dependencies, doc.Tool.Poetry.DevDependencies} {
		for _, name := range sortedKeys(table) {
			if strings.EqualFold(name, "python") {
				continue
			}
			var spec string
			switch v := table[name].(type) {
			case string:
				spec = v
			case map[string]any:
				if ver, ok := v["version"].(string); ok {
					spec = ver
				} else {
					// git/path/url dependency
					continue
				}
			default:
				continue
			}
			deps = append(deps, Dependency{
				Name: name, Specifier: poetrySpec(spec), Ecosystem: EcosystemPyPI,
				File: file, Line: lineOf(data, name+" ="),
			})
		}
	}
	return deps, nil
}

// poetrySpec maps a bare Poetry version ("1.2.3") to its exact PEP 440 form.
func poetrySpec(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "<>=!~^*,") {
		return s
	}
	return "==" + s
}

// ParsePackageJSON reads dependencies, devDependencies and peerDependencies.
func ParsePackageJSON(file string, data []byte) ([]Dependency, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("parse %s: %w", file, errInvalidJSON)
	}

	var deps []Dependency
	for _, section := range []string{"dependencies", "devDependencies", "peerDependencies"} {
		gjson.GetBytes(data, section).ForEach(func(key, value gjson.Result) bool {
			if value.Type != gjson.String {
				return true
			}
			deps = append(deps, Dependency{
				Name:      key.String(),
				Specifier: value.String(),
				Ecosystem: EcosystemNPM,
				File:      file,
				Line:      lineOf(data, `"`+key.String()+`"`),
			})
			return true
		})
	}
	return deps, nil
}

// lineOf returns the 1-based line of the first occurrence of needle.
func lineOf(data []byte, needle string) int {
	i := bytes.Index(data, []byte(needle))
	if i < 0 {
		return 0
	}
	return bytes.Count(data[:i], []byte("\n")) + 1
}
