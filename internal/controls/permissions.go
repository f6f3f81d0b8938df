package controls

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/mpaktrust/mpak-scanner/internal/core"
	"github.com/mpaktrust/mpak-scanner/internal/types"
)

// ============================================================================
// CD-02 Permission Scope
// ============================================================================

// Permission categories and the values each accepts.
const (
	permFilesystem  = "filesystem"
	permNetwork     = "network"
	permEnvironment = "environment"
	permSubprocess  = "subprocess"
	permNative      = "native"
)

var permissionCategories = []string{permFilesystem, permNetwork, permEnvironment, permSubprocess, permNative}

var permissionValues = map[string][]string{
	permFilesystem:  {"full", "none", "read", "write"},
	permNetwork:     {"full", "inbound", "none", "outbound"},
	permEnvironment: {"none", "read", "write"},
	permSubprocess:  {"full", "none", "restricted"},
	permNative:      {"none", "required"},
}

// undeclaredSeverity is the severity of using a category declared as none.
var undeclaredSeverity = map[string]types.Severity{
	permNative:      types.SeverityCritical,
	permSubprocess:  types.SeverityCritical,
	permFilesystem:  types.SeverityMedium,
	permNetwork:     types.SeverityInfo,
	permEnvironment: types.SeverityInfo,
}

func mustCompileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// capabilityIndicators are the usage patterns that mark a file as using a
// permission category.
var capabilityIndicators = map[language]map[string][]*regexp.Regexp{
	langPython: {
		permFilesystem: mustCompileAll(`\bopen\s*\(`, `Path\s*\(`, `pathlib\.`,
			`os\.(path|walk|listdir|remove|mkdir|rmdir|rename|chmod)`, `shutil\.`, `with\s+open\s*\(`),
		permNetwork: mustCompileAll(`\brequests\.`, `\bhttpx\.`, `\burllib`, `\baiohttp\.`, `\bsocket\.`,
			`http\.client`, `websocket`),
		permEnvironment: mustCompileAll(`os\.environ`, `os\.getenv`, `dotenv`, `environ\[`),
		permSubprocess: mustCompileAll(`subprocess\.`, `os\.system\s*\(`, `os\.popen\s*\(`, `os\.exec`,
			`os\.spawn`, `Popen\s*\(`),
		permNative: mustCompileAll(`ctypes\.`, `cffi\.`, `\.so\b`, `\.dll\b`, `\.dylib\b`, `ffi\.`),
	},
	langJavaScript: {
		permFilesystem: mustCompileAll(`\bfs\.`, `fs/promises`, `\breadFile`, `\bwriteFile`, `\breaddir`,
			`\bmkdir`, `\brmdir`, `\bunlink`, `fs\.promises`, `createReadStream`, `createWriteStream`),
		permNetwork: mustCompileAll(`\bfetch\s*\(`, `\baxios\.`, `node-fetch`, `http\.request`, `https\.request`,
			`http\.get`, `https\.get`, `\.get\s*\(\s*['"]http`, `\.post\s*\(`, `\bWebSocket\b`, `net\.connect`,
			`net\.createConnection`, `got\s*\(`, `superagent`),
		permEnvironment: mustCompileAll(`process\.env`, `\bdotenv\b`, `\.env\b`),
		permSubprocess: mustCompileAll(`child_process`, `\.exec\s*\(`, `\.execSync\s*\(`, `\.spawn\s*\(`,
			`\.spawnSync\s*\(`, `\.execFile\s*\(`, `\.fork\s*\(`),
		permNative: mustCompileAll(`\.node\b`, `ffi-napi`, `node-gyp`, `node-addon-api`,
			`require\s*\(\s*['"]bindings['"]`, `napi`),
	},
}

// secretEnvPattern matches reads of environment variables that usually hold
// credentials. The first group is the variable name.
var secretEnvPattern = regexp.MustCompile(`(?i)(?:os\.(?:environ|getenv)|process\.env)[.\[(]\s*['"]?(` + strings.Join([]string{
	`AWS_ACCESS_KEY[A-Za-z0-9_]*`, `AWS_SECRET[A-Za-z0-9_]*`, `AWS_SESSION_TOKEN`,
	`AZURE_[A-Za-z0-9_]*_KEY`, `AZURE_[A-Za-z0-9_]*_SECRET`,
	`GCP_[A-Za-z0-9_]*_KEY`, `GOOGLE_[A-Za-z0-9_]*_KEY`, `GOOGLE_APPLICATION_CREDENTIALS`,
	`[A-Za-z0-9_]*_API_KEY`, `[A-Za-z0-9_]*_SECRET_KEY`, `[A-Za-z0-9_]*_PRIVATE_KEY`,
	`[A-Za-z0-9_]*_TOKEN`, `[A-Za-z0-9_]*_PASSWORD`, `[A-Za-z0-9_]*_CREDENTIALS`,
	`DATABASE_URL`, `MONGO[A-Za-z0-9_]*_URI`, `REDIS_URL`,
	`GITHUB_TOKEN`, `GITLAB_TOKEN`, `NPM_TOKEN`, `PYPI_TOKEN`, `DOCKER_[A-Za-z0-9_]*_TOKEN`, `SLACK_TOKEN`,
	`STRIPE_[A-Za-z0-9_]*_KEY`, `TWILIO_[A-Za-z0-9_]*_KEY`, `SENDGRID_[A-Za-z0-9_]*_KEY`,
	`OPENAI_API_KEY`, `ANTHROPIC_API_KEY`,
}, "|") + `)\b`)

// sensitivePathPattern matches literals naming credential stores and
// system account files.
var sensitivePathPattern = regexp.MustCompile(strings.Join([]string{
	`~?/\.ssh\b`, `~?/\.aws\b`, `~?/\.gcp\b`, `~?/\.azure\b`, `~?/\.config/gcloud`, `~?/\.kube\b`,
	`~?/\.docker\b`, `~?/\.gnupg\b`, `~?/\.gitconfig\b`, `~?/\.npmrc\b`, `~?/\.pypirc\b`, `~?/\.netrc\b`,
	`/etc/passwd\b`, `/etc/shadow\b`, `/etc/sudoers\b`,
	`\bid_rsa\b`, `\bid_ed25519\b`, `\bid_ecdsa\b`,
	`[\w.-]+\.(?:pem|key)['"]`,
	`\bcredentials\.json\b`, `\bservice[_-]?account[\w.-]*\.json\b`,
}, "|"))

type permissionScope struct{ info }

func newPermissionScope() *permissionScope {
	return &permissionScope{info{
		ID:          "CD-02",
		Name:        "Permission Scope",
		Domain:      types.DomainCapabilityDeclaration,
		Level:       types.LevelStandard,
		MCPSpecific: true,
		Enforcement: core.EnforcedByScanner,
		Description: "Verify declared permissions match actual code capabilities",
	}}
}

// capabilityScan is what the server code was observed to do.
type capabilityScan struct {
	detected    map[string][]string // category -> files, in walk order
	secretEnv   map[string]string   // variable -> first location
	secretOrder []string
	paths       map[string]string // path literal -> first location
	pathOrder   []string
	network     []networkUse
}

type networkUse struct {
	file     string
	line     int
	atImport bool
}

func (c *permissionScope) Run(ctx context.Context, b *core.Bundle) *types.ControlResult {
	found := newFindings(c.ID, 1)
	declared, hasBlock := declaredPermissions(b.Manifest)

	if !hasBlock {
		found.add(types.Finding{
			Severity:    types.SeverityLow,
			Title:       "No permissions declared",
			Description: "manifest.json does not include a 'permissions' field (required for L2+)",
			File:        "manifest.json",
			Remediation: "Add 'permissions' field declaring filesystem, network, environment, subprocess, native access",
		})
	} else {
		for _, cat := range permissionCategories {
			value, ok := declared[cat]
			valid := permissionValues[cat]
			switch {
			case !ok:
				found.add(types.Finding{
					Severity:    types.SeverityLow,
					Title:       "Missing permission: " + cat,
					Description: fmt.Sprintf("Permission category '%s' is not declared", cat),
					File:        "manifest.json",
					Remediation: fmt.Sprintf("Declare permissions.%s (one of: %s)", cat, strings.Join(valid, ", ")),
				})
			case !contains(valid, value):
				found.add(types.Finding{
					Severity:    types.SeverityMedium,
					Title:       fmt.Sprintf("Invalid permission value: %s=%s", cat, value),
					Description: fmt.Sprintf("'%s' is not a valid value for %s. Valid: %s", value, cat, strings.Join(valid, ", ")),
					File:        "manifest.json",
					Remediation: fmt.Sprintf("Set permissions.%s to one of: %s", cat, strings.Join(valid, ", ")),
				})
			}
		}
	}

	files, err := serverSourceFiles(ctx, b.Dir)
	if err != nil {
		return core.Errorf(c.Info(), "walk bundle: %v", err)
	}
	scan, err := scanCapabilities(files)
	if err != nil {
		return core.Errorf(c.Info(), "read source: %v", err)
	}

	declaresNone := func(cat string) bool {
		v, ok := declared[cat]
		return !ok || v == "none"
	}
	declaredEnv := declaredEnvVars(b.Manifest)

	if declaresNone(permEnvironment) {
		for _, v := range scan.secretOrder {
			if declaredEnv[v] {
				continue
			}
			found.add(types.Finding{
				Severity:    types.SeverityHigh,
				Title:       "Secret environment variable access: " + v,
				Description: fmt.Sprintf("Code reads %s at %s but environment access is not declared", v, scan.secretEnv[v]),
				File:        locationFile(scan.secretEnv[v]),
				Remediation: "Declare permissions.environment and list the variable in mcp_config.env",
				Metadata:    map[string]any{"env_var": v, "category": "secret_env"},
			})
		}
	}
	if declaresNone(permFilesystem) {
		for _, p := range scan.pathOrder {
			found.add(types.Finding{
				Severity:    types.SeverityHigh,
				Title:       "Sensitive path access: " + p,
				Description: fmt.Sprintf("Code references %s at %s but filesystem access is not declared", p, scan.paths[p]),
				File:        locationFile(scan.paths[p]),
				Remediation: "Remove access to credential stores or declare permissions.filesystem",
				Metadata:    map[string]any{"path": p, "category": "sensitive_path"},
			})
		}
	}
	if declaresNone(permNetwork) {
		for _, n := range scan.network {
			f := types.Finding{
				File:        n.file,
				Line:        n.line,
				Remediation: "Declare permissions.network",
				Metadata:    map[string]any{"context": "runtime", "category": "network_timing"},
			}
			if n.atImport {
				f.Severity = types.SeverityHigh
				f.Title = "Undeclared init-time network access"
				f.Description = "Network call runs at module import time without a network permission"
				f.Metadata["context"] = "init"
			} else {
				f.Severity = types.SeverityMedium
				f.Title = "Undeclared runtime network access"
				f.Description = "Network call runs inside a function without a network permission"
			}
			found.add(f)
		}
	}

	undeclaredCritical := false
	for _, cat := range permissionCategories {
		files := scan.detected[cat]
		if len(files) == 0 || !declaresNone(cat) {
			continue
		}
		sev := undeclaredSeverity[cat]
		if sev == types.SeverityCritical {
			undeclaredCritical = true
		}
		found.add(types.Finding{
			Severity:    sev,
			Title:       fmt.Sprintf("Undeclared %s permission", cat),
			Description: fmt.Sprintf("Code uses %s capabilities but declares 'none'. Found in: %s", cat, summarizeNames(files, 3)),
			File:        files[0],
			Remediation: fmt.Sprintf("Declare the %s permission in manifest.json", cat),
			Metadata:    map[string]any{"files": files},
		})
	}

	fail := !hasBlock || undeclaredCritical || found.any(atLeast(types.SeverityHigh))
	if hasBlock {
		pairs := make([]string, 0, len(declared))
		for _, k := range sortedKeys(toAnyMap(declared)) {
			pairs = append(pairs, k+"="+declared[k])
		}
		found.prepend(types.Finding{
			Severity:    types.SeverityInfo,
			Title:       "Permissions declared",
			Description: strings.Join(pairs, ", "),
			File:        "manifest.json",
		})
	}

	counts := make(map[string]int, len(permissionCategories))
	for _, cat := range permissionCategories {
		counts[cat] = len(scan.detected[cat])
	}
	r := core.NewResult(c.Info(), statusIf(fail), found.list())
	r.RawOutput = map[string]any{"declared": declared, "detected": counts}
	return r
}

// declaredPermissions reads the permissions block from the top level or the
// MTF extension. Non-string values are rendered with %v so they are reported
// as invalid.
func declaredPermissions(m types.Manifest) (map[string]string, bool) {
	block := m.Object("permissions")
	if block == nil {
		block = m.Object("_meta", types.MTFNamespace, "permissions")
	}
	if block == nil {
		return map[string]string{}, false
	}
	out := make(map[string]string, len(block))
	for k, v := range block {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprint(v)
		}
	}
	return out, true
}

// declaredEnvVars returns the environment variable names configured for the
// server process.
func declaredEnvVars(m types.Manifest) map[string]bool {
	out := make(map[string]bool)
	for _, env := range []map[string]any{m.Object("server", "mcp_config", "env"), m.Object("mcp_config", "env")} {
		for k := range env {
			out[k] = true
		}
	}
	return out
}

func scanCapabilities(files []bundleFile) (*capabilityScan, error) {
	scan := &capabilityScan{
		detected:  make(map[string][]string),
		secretEnv: make(map[string]string),
		paths:     make(map[string]string),
	}
	for _, f := range files {
		lang, ok := languageOf(f.Rel)
		if !ok {
			continue
		}
		lines, err := readLines(f)
		if err != nil {
			return nil, err
		}
		if lines == nil {
			continue
		}
		text := strings.Join(lines, "\n")

		for _, cat := range permissionCategories {
			for _, re := range capabilityIndicators[lang][cat] {
				if re.MatchString(text) {
					scan.detected[cat] = append(scan.detected[cat], f.Rel)
					break
				}
			}
		}

		for i, line := range lines {
			for _, m := range secretEnvPattern.FindAllStringSubmatch(line, -1) {
				v := strings.ToUpper(m[1])
				if _, seen := scan.secretEnv[v]; !seen {
					scan.secretEnv[v] = location(f.Rel, i+1)
					scan.secretOrder = append(scan.secretOrder, v)
				}
			}
			for _, p := range sensitivePathPattern.FindAllString(line, -1) {
				p = strings.TrimRight(p, `'"`)
				if _, seen := scan.paths[p]; !seen {
					scan.paths[p] = location(f.Rel, i+1)
					scan.pathOrder = append(scan.pathOrder, p)
				}
			}
		}

		if lang == langPython {
			for _, re := range capabilityIndicators[langPython][permNetwork] {
				for i, line := range lines {
					if !isCodeLine(line) || !re.MatchString(line) {
						continue
					}
					scan.network = append(scan.network, networkUse{file: f.Rel, line: i + 1, atImport: runsAtImport(lines, i)})
					break
				}
			}
		}
	}
	sort.SliceStable(scan.network, func(i, j int) bool {
		if scan.network[i].file != scan.network[j].file {
			return scan.network[i].file < scan.network[j].file
		}
		return scan.network[i].line < scan.network[j].line
	})
	return scan, nil
}

// locationFile strips the line suffix from a location string.
func locationFile(loc string) string {
	if i := strings.LastIndexByte(loc, ':'); i > 0 {
		return loc[:i]
	}
	return loc
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func toAnyMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
