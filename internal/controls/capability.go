package controls

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/mpaktrust/mpak-scanner/internal/core"
	"github.com/mpaktrust/mpak-scanner/internal/types"
)

// manifestTools returns the declared tools. Entries that are not objects are
// kept as nil so indices still line up with the manifest.
func manifestTools(m types.Manifest) []map[string]any {
	list := m.List("tools")
	tools := make([]map[string]any, len(list))
	for i, t := range list {
		tools[i], _ = types.AsObject(t)
	}
	return tools
}

// manifestCredentials returns the credentials object, preferring the
// top-level field over the MTF extension.
func manifestCredentials(m types.Manifest) map[string]any {
	if c := m.Object("credentials"); len(c) > 0 {
		return c
	}
	return m.Object("_meta", types.MTFNamespace, "credentials")
}

// sortedKeys returns the keys of an object in order, since JSON object order
// is not preserved.
func sortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ============================================================================
// CD-01 Tool Declaration
// ============================================================================

var genericToolNames = map[string]bool{
	"tool": true, "action": true, "do": true, "run": true, "execute": true, "func": true,
}

type toolDeclaration struct{ info }

func newToolDeclaration() *toolDeclaration {
	return &toolDeclaration{info{
		ID:          "CD-01",
		Name:        "Tool Declaration",
		Domain:      types.DomainCapabilityDeclaration,
		Level:       types.LevelBasic,
		MCPSpecific: true,
		Enforcement: core.EnforcedByScanner,
		Description: "Validate that all tools are declared with descriptions",
	}}
}

func (c *toolDeclaration) Run(_ context.Context, b *core.Bundle) *types.ControlResult {
	found := newFindings(c.ID, 1)
	tools := manifestTools(b.Manifest)

	if len(tools) == 0 {
		found.add(types.Finding{
			Severity:    types.SeverityLow,
			Title:       "No tools declared in manifest",
			Description: "Tools are not listed in manifest.json. They may be discoverable at runtime.",
			File:        "manifest.json",
			Remediation: "Add a 'tools' array to manifest.json listing all available tools",
		})
	}

	for i, tool := range tools {
		name, _ := tool["name"].(string)
		label := name
		if label == "" {
			label = fmt.Sprintf("tool_%d", i)
		}

		if name == "" {
			found.add(types.Finding{
				Severity:    types.SeverityMedium,
				Title:       "Tool missing name",
				Description: fmt.Sprintf("Tool at index %d does not have a 'name' field", i),
				File:        "manifest.json",
				Remediation: "Add a 'name' field to the tool declaration",
			})
		}
		if desc, _ := tool["description"].(string); desc == "" {
			found.add(types.Finding{
				Severity:    types.SeverityMedium,
				Title:       fmt.Sprintf("Tool '%s' missing description", label),
				Description: "Tool declarations should include human-readable descriptions",
				File:        "manifest.json",
				Remediation: fmt.Sprintf("Add a 'description' field to the '%s' tool", label),
			})
		}
		if genericToolNames[strings.ToLower(name)] {
			found.add(types.Finding{
				Severity:    types.SeverityLow,
				Title:       fmt.Sprintf("Tool '%s' has generic name", label),
				Description: "Tool names should be descriptive and unambiguous",
				File:        "manifest.json",
				Remediation: "Use a more specific name that describes what the tool does",
			})
		}
	}

	return core.NewResult(c.Info(), statusIf(found.any(atLeast(types.SeverityMedium))), found.list())
}

// ============================================================================
// CD-03 Tool Description Safety
// ============================================================================

// descriptionPattern is one detection applied to a whole tool description.
type descriptionPattern struct {
	re       *regexp.Regexp
	severity types.Severity
	category string
}

func descPattern(expr string, sev types.Severity, category string) descriptionPattern {
	return descriptionPattern{re: regexp.MustCompile("(?i)" + expr), severity: sev, category: category}
}

// Instructions that manipulate model behaviour.
var injectionPatterns = []descriptionPattern{
	descPattern(`(ignore|disregard|forget)\s+(previous|above|prior|all)\s+(instruction|context|rule)`, types.SeverityCritical, "prompt_injection"),
	descPattern(`(you\s+must|always|never)\s+(first|before|after)`, types.SeverityHigh, "behavioral_directive"),
	descPattern(`(override|bypass)\s+(security|safety|restriction|rule)`, types.SeverityCritical, "security_bypass"),
	descPattern(`(secretly|silently|quietly|without\s+telling)`, types.SeverityCritical, "hidden_action"),
	descPattern(`(do\s+not|don't)\s+(tell|inform|notify|mention)`, types.SeverityHigh, "concealment"),
	descPattern(`(you\s+are\s+now|act\s+as|pretend\s+to\s+be|role\s*:)`, types.SeverityHigh, "role_manipulation"),
	descPattern(`(new\s+instruction|system\s*:)`, types.SeverityHigh, "instruction_injection"),
}

// Instructions to read or send sensitive data.
var exfiltrationPatterns = []descriptionPattern{
	descPattern(`(read|get|fetch|retrieve|include|output|print)\s+.{0,30}(/\.ssh|\.aws|\.env|\.git|credential|secret|key|password|token)`, types.SeverityCritical, "credential_exfil"),
	descPattern(`(read|get|cat|open)\s+.{0,20}(id_rsa|id_ed25519|known_hosts|config)`, types.SeverityCritical, "ssh_key_access"),
	descPattern(`(read|include)\s+.{0,30}(\.bashrc|\.bash_profile|\.zshrc|\.profile)`, types.SeverityHigh, "shell_config_access"),
	descPattern(`(read|access)\s+.{0,20}(/etc/passwd|/etc/shadow)`, types.SeverityCritical, "system_file_access"),
	descPattern(`(send|post|transmit|upload|exfiltrate)\s+.{0,30}(data|content|file|secret|credential)`, types.SeverityCritical, "data_exfil"),
	descPattern(`(include|embed|add|append)\s+.{0,30}(in|to)\s+(response|output|result)`, types.SeverityHigh, "data_inclusion"),
	descPattern(`(access|read|get|dump)\s+.{0,20}(environment|env\s*var|os\.environ)`, types.SeverityHigh, "env_access"),
}

// Encodings that hide content from a reviewer. Matched case-sensitively.
var obfuscationPatterns = []struct {
	re   *regexp.Regexp
	kind string
}{
	{regexp.MustCompile(`[A-Za-z0-9+/]{50,}={0,2}`), "base64_long"},
	{regexp.MustCompile(`\\x[0-9a-fA-F]{2}(\\x[0-9a-fA-F]{2}){3,}`), "hex_escape"},
	{regexp.MustCompile(`&#x?[0-9a-fA-F]+;(&#x?[0-9a-fA-F]+;){3,}`), "html_entity"},
	{regexp.MustCompile(`\\u[0-9a-fA-F]{4}(\\u[0-9a-fA-F]{4}){3,}`), "unicode_escape"},
}

var (
	descriptionURLPattern = regexp.MustCompile(`(?i)https?://[^\s<>"]+`)
	base64CandidatePattern = regexp.MustCompile(`[A-Za-z0-9+/]{20,}={0,2}`)
)

// allowedURLFragments mark documentation and well-known API URLs.
var allowedURLFragments = []string{
	"api.", "docs.", "www.", "github.com", "gitlab.com", "bitbucket.org", "npmjs.com", "pypi.org", "wikipedia.org",
}

// suspiciousDecodedKeywords flag base64 payloads that decode to code.
var suspiciousDecodedKeywords = []string{"exec", "eval", "import", "subprocess", "os.", "http", "ssh", "credential"}

type toolDescriptionSafety struct{ info }

func newToolDescriptionSafety() *toolDescriptionSafety {
	return &toolDescriptionSafety{info{
		ID:          types.ControlToolDescriptionSafety,
		Name:        "Tool Description Safety",
		Domain:      types.DomainCapabilityDeclaration,
		Level:       types.LevelStandard,
		MCPSpecific: true,
		Enforcement: core.EnforcedByScanner,
		Description: "Detect prompt injection and malicious content in tool descriptions",
	}}
}

func (c *toolDescriptionSafety) Run(_ context.Context, b *core.Bundle) *types.ControlResult {
	found := newFindings(c.ID, 1)
	tools := manifestTools(b.Manifest)

	if len(tools) == 0 {
		found.add(types.Finding{
			Severity:    types.SeverityInfo,
			Title:       "No tools to check",
			Description: "manifest.json does not declare any tools",
			File:        "manifest.json",
		})
		return core.NewResult(c.Info(), types.StatusPass, found.list())
	}

	checked := 0
	for _, tool := range tools {
		if tool == nil {
			continue
		}
		name, _ := tool["name"].(string)
		if name == "" {
			name = fmt.Sprintf("tool_%d", checked)
		}
		checked++
		desc, _ := tool["description"].(string)
		if desc == "" {
			continue
		}
		checkDescription(name, desc, found)
	}

	fail := found.any(atLeast(types.SeverityHigh))
	if !found.any(atLeast(types.SeverityLow)) {
		found.prepend(types.Finding{
			Severity:    types.SeverityInfo,
			Title:       "Tool descriptions are safe",
			Description: fmt.Sprintf("Checked %d tool descriptions, no injection patterns found", checked),
		})
	}

	r := core.NewResult(c.Info(), statusIf(fail), found.list())
	r.RawOutput = map[string]any{"tools_checked": checked, "findings_count": found.len()}
	return r
}

func checkDescription(tool, desc string, found *findings) {
	for _, p := range injectionPatterns {
		if p.re.MatchString(desc) {
			found.add(types.Finding{
				Severity:    p.severity,
				Title:       fmt.Sprintf("Prompt injection in tool '%s'", tool),
				Description: fmt.Sprintf("Tool description contains %s pattern", humanize(p.category)),
				File:        "manifest.json",
				Remediation: "Remove manipulative instructions from tool description",
				Metadata:    map[string]any{"tool": tool, "category": p.category, "pattern": p.re.String()},
			})
		}
	}

	for _, p := range exfiltrationPatterns {
		if p.re.MatchString(desc) {
			found.add(types.Finding{
				Severity:    p.severity,
				Title:       fmt.Sprintf("Exfiltration directive in tool '%s'", tool),
				Description: fmt.Sprintf("Tool description instructs %s", humanize(p.category)),
				File:        "manifest.json",
				Remediation: "Remove data access instructions from tool description",
				Metadata:    map[string]any{"tool": tool, "category": p.category},
			})
		}
	}

	for _, u := range descriptionURLPattern.FindAllString(desc, -1) {
		if !isSuspiciousURL(u) {
			continue
		}
		found.add(types.Finding{
			Severity:    types.SeverityMedium,
			Title:       fmt.Sprintf("Suspicious URL in tool '%s'", tool),
			Description: fmt.Sprintf("Tool description contains undeclared URL: %s...", truncateRunes(u, 50)),
			File:        "manifest.json",
			Remediation: "Remove or declare external URLs in tool description",
			Metadata:    map[string]any{"tool": tool, "url": u},
		})
	}

	for _, p := range obfuscationPatterns {
		if p.re.MatchString(desc) {
			found.add(types.Finding{
				Severity:    types.SeverityHigh,
				Title:       fmt.Sprintf("Obfuscated content in tool '%s'", tool),
				Description: fmt.Sprintf("Tool description contains %s encoding", humanize(p.kind)),
				File:        "manifest.json",
				Remediation: "Remove obfuscated/encoded content from tool description",
				Metadata:    map[string]any{"tool": tool, "obfuscation_type": p.kind},
			})
		}
	}

	for _, hit := range suspiciousBase64(desc) {
		found.add(types.Finding{
			Severity:    types.SeverityCritical,
			Title:       fmt.Sprintf("Hidden code in tool '%s'", tool),
			Description: "Base64 content decodes to suspicious code: " + hit.decoded,
			File:        "manifest.json",
			Remediation: "Remove encoded content from tool description",
			Metadata:    map[string]any{"tool": tool, "encoded": hit.encoded, "decoded": hit.decoded},
		})
	}

	if reason := semanticMismatch(tool, desc); reason != "" {
		found.add(types.Finding{
			Severity:    types.SeverityMedium,
			Title:       fmt.Sprintf("Semantic mismatch in tool '%s'", tool),
			Description: reason,
			File:        "manifest.json",
			Remediation: "Ensure tool description matches its stated purpose",
			Metadata:    map[string]any{"tool": tool},
		})
	}
}

func humanize(category string) string {
	return strings.ReplaceAll(category, "_", " ")
}

func isSuspiciousURL(u string) bool {
	lower := strings.ToLower(u)
	for _, allowed := range allowedURLFragments {
		if strings.Contains(lower, allowed) {
			return false
		}
	}
	return true
}

type base64Hit struct {
	encoded string
	decoded string
}

// suspiciousBase64 decodes base64-looking runs and keeps those whose
// plaintext mentions code execution or credentials.
func suspiciousBase64(text string) []base64Hit {
	var hits []base64Hit
	for _, enc := range base64CandidatePattern.FindAllString(text, -1) {
		raw, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			// Unpadded runs are common in prose; retry without padding rules
			raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(enc, "="))
			if err != nil {
				continue
			}
		}
		decoded := strings.ToValidUTF8(string(raw), "")
		lower := strings.ToLower(decoded)
		for _, kw := range suspiciousDecodedKeywords {
			if strings.Contains(lower, kw) {
				hits = append(hits, base64Hit{
					encoded: truncateRunes(enc, 30) + "...",
					decoded: truncateRunes(decoded, 50),
				})
				break
			}
		}
	}
	return hits
}

var (
	fileKeywords       = []string{"read", "write", "open", "save", "delete", "file", "directory", "path"}
	credentialKeywords = []string{"password", "secret", "key", "token", "credential", "auth"}
)

// semanticMismatch returns a reason when a benign-sounding tool name has a
// description that mentions file or credential operations.
func semanticMismatch(tool, desc string) string {
	name := strings.ToLower(tool)
	d := strings.ToLower(desc)

	if containsAny(name, "weather", "time", "date") {
		if containsAny(d, fileKeywords...) {
			return "Tool name suggests data retrieval but description mentions file operations"
		}
		if containsAny(d, credentialKeywords...) {
			return "Tool name suggests benign operation but description mentions credentials"
		}
	}
	if containsAny(name, "display", "show", "render") && containsAny(d, "write", "delete", "remove") {
		return "Tool name suggests display but description mentions write/delete operations"
	}
	return ""
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ============================================================================
// CD-04 Credential Scope Declaration
// ============================================================================

var (
	wildcardScopePattern = regexp.MustCompile(`(?i)^(\*|all|.*[:./]\*|full[_-]?access)$`)
	adminScopePattern    = regexp.MustCompile(`(?i)(admin|root|owner|superuser|sudo)`)
	elevatedScopePattern = regexp.MustCompile(`(?i)(write|delete|manage|modify)`)
)

type credentialScope struct{ info }

func newCredentialScope() *credentialScope {
	return &credentialScope{info{
		ID:          types.ControlCredentialScope,
		Name:        "Credential Scope Declaration",
		Domain:      types.DomainCapabilityDeclaration,
		Level:       types.LevelVerified,
		MCPSpecific: true,
		Enforcement: core.EnforcedByScanner,
		Description: "Verify OAuth/API scopes are declared with justifications",
	}}
}

func (c *credentialScope) Run(_ context.Context, b *core.Bundle) *types.ControlResult {
	found := newFindings(c.ID, 1)
	creds := manifestCredentials(b.Manifest)

	if len(creds) == 0 {
		found.add(types.Finding{
			Severity:    types.SeverityInfo,
			Title:       "No credentials declared",
			Description: "manifest.json does not declare any credentials requiring scopes",
			File:        "manifest.json",
		})
		return core.NewResult(c.Info(), types.StatusPass, found.list())
	}

	checked := 0
	declared := make(map[string][]string)
	for _, name := range sortedKeys(creds) {
		cfg, ok := creds[name].(map[string]any)
		if !ok {
			continue
		}
		checked++

		scopes, valid := scopeList(cfg["scopes"])
		if !valid || len(scopes) == 0 {
			found.add(types.Finding{
				Severity:    types.SeverityMedium,
				Title:       fmt.Sprintf("Missing scopes for '%s'", name),
				Description: fmt.Sprintf("Credential '%s' does not declare the scopes it requests", name),
				File:        "manifest.json",
				Remediation: fmt.Sprintf("Add a 'scopes' array to credentials.%s", name),
				Metadata:    map[string]any{"credential": name},
			})
			continue
		}
		declared[name] = scopes

		justified := false
		if j, _ := cfg["scope_justification"].(string); strings.TrimSpace(j) != "" {
			justified = true
		}
		for _, scope := range scopes {
			if f, ok := classifyScope(name, scope, justified); ok {
				found.add(f)
			}
		}
	}

	if checked == 0 {
		found.prepend(types.Finding{
			Severity:    types.SeverityInfo,
			Title:       "No valid credential entries",
			Description: "No credential entries with valid format found in manifest",
			File:        "manifest.json",
		})
	}

	r := core.NewResult(c.Info(), statusIf(found.any(atLeast(types.SeverityHigh))), found.list())
	r.RawOutput = map[string]any{"credentials_checked": checked, "scopes": declared}
	return r
}

func scopeList(v any) ([]string, bool) {
	switch s := v.(type) {
	case string:
		return strings.Fields(s), true
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}

func classifyScope(cred, scope string, justified bool) (types.Finding, bool) {
	f := types.Finding{
		File:     "manifest.json",
		Metadata: map[string]any{"credential": cred, "scope": scope, "justified": justified},
	}
	switch {
	case wildcardScopePattern.MatchString(scope):
		f.Severity = types.SeverityHigh
		f.Title = fmt.Sprintf("Wildcard scope for '%s': %s", cred, scope)
		f.Description = "Wildcard scopes grant every permission the provider offers"
		f.Remediation = "Request only the specific scopes the server needs"
	case adminScopePattern.MatchString(scope):
		f.Severity = types.SeverityHigh
		if justified {
			f.Severity = types.SeverityLow
		}
		f.Title = fmt.Sprintf("Administrative scope for '%s': %s", cred, scope)
		f.Description = "Administrative scopes allow account-wide changes"
		f.Remediation = fmt.Sprintf("Drop the scope or add 'scope_justification' to credentials.%s", cred)
	case elevatedScopePattern.MatchString(scope):
		f.Severity = types.SeverityMedium
		if justified {
			f.Severity = types.SeverityInfo
		}
		f.Title = fmt.Sprintf("Elevated scope for '%s': %s", cred, scope)
		f.Description = "Write or delete scopes should be justified"
		f.Remediation = fmt.Sprintf("Add 'scope_justification' to credentials.%s", cred)
	default:
		return f, false
	}
	return f, true
}

// ============================================================================
// CD-05 Token Lifetime Declaration
// ============================================================================

var validTokenLifetimes = []string{"offline", "persistent", "session"}

// lifetimeRisk is the severity recorded for an accepted lifetime.
var lifetimeRisk = map[string]types.Severity{
	"session":    types.SeverityInfo,
	"persistent": types.SeverityLow,
}

type tokenLifetime struct{ info }

func newTokenLifetime() *tokenLifetime {
	return &tokenLifetime{info{
		ID:          types.ControlTokenLifetime,
		Name:        "Token Lifetime Declaration",
		Domain:      types.DomainCapabilityDeclaration,
		Level:       types.LevelVerified,
		MCPSpecific: true,
		Enforcement: core.EnforcedByScanner,
		Description: "Verify token lifetimes are declared for credentials",
	}}
}

func (c *tokenLifetime) Run(_ context.Context, b *core.Bundle) *types.ControlResult {
	found := newFindings(c.ID, 1)
	creds := manifestCredentials(b.Manifest)

	if len(creds) == 0 {
		found.add(types.Finding{
			Severity:    types.SeverityInfo,
			Title:       "No credentials declared",
			Description: "manifest.json does not declare any credentials requiring tokens",
			File:        "manifest.json",
		})
		return core.NewResult(c.Info(), types.StatusPass, found.list())
	}

	checked := 0
	blocking := false
	valid := strings.Join(validTokenLifetimes, ", ")
	for _, name := range sortedKeys(creds) {
		cfg, ok := creds[name].(map[string]any)
		if !ok {
			continue
		}
		checked++

		raw, present := cfg["token_lifetime"]
		if !present || raw == nil {
			blocking = true
			found.add(types.Finding{
				Severity:    types.SeverityHigh,
				Title:       fmt.Sprintf("Missing token_lifetime for '%s'", name),
				Description: fmt.Sprintf("Credential '%s' does not declare token_lifetime. Users cannot assess token persistence risk.", name),
				File:        "manifest.json",
				Remediation: fmt.Sprintf("Add 'token_lifetime' to credentials.%s (valid: session, persistent, offline)", name),
				Metadata:    map[string]any{"credential": name, types.MetaBlocking: true},
			})
			continue
		}

		lifetime, _ := raw.(string)
		if !isValidLifetime(lifetime) {
			found.add(types.Finding{
				Severity:    types.SeverityMedium,
				Title:       fmt.Sprintf("Invalid token_lifetime for '%s'", name),
				Description: fmt.Sprintf("Credential '%s' has token_lifetime='%v' which is not a valid value. Valid: %s", name, raw, valid),
				File:        "manifest.json",
				Remediation: "Set token_lifetime to one of: " + valid,
				Metadata:    map[string]any{"credential": name, "value": raw},
			})
			continue
		}

		if lifetime == "offline" {
			justification, _ := cfg["offline_justification"].(string)
			if justification == "" {
				blocking = true
				found.add(types.Finding{
					Severity:    types.SeverityHigh,
					Title:       fmt.Sprintf("Offline access without justification for '%s'", name),
					Description: fmt.Sprintf("Credential '%s' requests offline access (refresh tokens) but does not provide justification. Offline tokens have elevated risk.", name),
					File:        "manifest.json",
					Remediation: fmt.Sprintf("Add 'offline_justification' to credentials.%s explaining why offline access is needed", name),
					Metadata:    map[string]any{"credential": name, "token_lifetime": lifetime, types.MetaBlocking: true},
				})
				continue
			}
			summary := truncateRunes(justification, 100)
			if summary != justification {
				summary += "..."
			}
			found.add(types.Finding{
				Severity:    types.SeverityLow,
				Title:       fmt.Sprintf("Offline access declared for '%s'", name),
				Description: fmt.Sprintf("Credential '%s' uses offline tokens. Justification: %s", name, summary),
				File:        "manifest.json",
				Metadata:    map[string]any{"credential": name, "token_lifetime": lifetime, "justification": justification},
			})
			continue
		}

		found.add(types.Finding{
			Severity:    lifetimeRisk[lifetime],
			Title:       fmt.Sprintf("Token lifetime declared for '%s'", name),
			Description: fmt.Sprintf("Credential '%s' uses %s tokens", name, lifetime),
			File:        "manifest.json",
			Metadata:    map[string]any{"credential": name, "token_lifetime": lifetime},
		})
	}

	if checked == 0 {
		found.prepend(types.Finding{
			Severity:    types.SeverityInfo,
			Title:       "No valid credential entries",
			Description: "No credential entries with valid format found in manifest",
			File:        "manifest.json",
		})
	}

	r := core.NewResult(c.Info(), statusIf(blocking), found.list())
	r.RawOutput = map[string]any{"credentials_checked": checked, "findings_count": found.len()}
	return r
}

func isValidLifetime(s string) bool {
	for _, v := range validTokenLifetimes {
		if s == v {
			return true
		}
	}
	return false
}
