package controls

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"

	"github.com/mpaktrust/mpak-scanner/internal/core"
	"github.com/mpaktrust/mpak-scanner/internal/lockfile"
	"github.com/mpaktrust/mpak-scanner/internal/types"
)

// ============================================================================
// AI-01 Manifest Validation
// ============================================================================

// manifestRequiredFields are the MCPB fields every manifest must carry.
var manifestRequiredFields = []string{"name", "version", "description", "author", "server"}

type manifestValidation struct{ info }

func newManifestValidation() *manifestValidation {
	return &manifestValidation{info{
		ID:          "AI-01",
		Name:        "Valid Manifest",
		Domain:      types.DomainArtifactIntegrity,
		Level:       types.LevelBasic,
		Enforcement: core.EnforcedByScanner,
		Description: "Bundle contains a valid manifest.json with the required MCPB fields",
	}}
}

func (c *manifestValidation) Run(_ context.Context, b *core.Bundle) *types.ControlResult {
	found := newFindings(c.ID, 1)

	if !fileExists(b.Dir, "manifest.json") {
		found.addID(1, types.Finding{
			Severity:    types.SeverityCritical,
			Title:       "Missing manifest.json",
			Description: "Bundle does not contain a manifest.json file",
			Remediation: "Create a manifest.json file at the bundle root",
		})
		return core.NewResult(c.Info(), types.StatusFail, found.list())
	}

	if len(b.Manifest) == 0 {
		found.addID(2, types.Finding{
			Severity:    types.SeverityCritical,
			Title:       "Empty or invalid manifest",
			Description: "manifest.json is empty or is not a JSON object",
			Remediation: "Ensure manifest.json contains a JSON object with the required fields",
			File:        "manifest.json",
		})
		return core.NewResult(c.Info(), types.StatusFail, found.list())
	}

	for _, field := range manifestRequiredFields {
		if b.Manifest.Has(field) {
			continue
		}
		found.add(types.Finding{
			Severity:    types.SeverityHigh,
			Title:       "Schema validation: " + field,
			Description: "Missing required field: " + field,
			Remediation: "Add '" + field + "' field to manifest.json",
			File:        "manifest.json",
		})
	}

	for _, field := range []string{"name", "version", "description"} {
		if v, ok := b.Manifest[field]; ok {
			if _, isString := v.(string); !isString {
				found.add(types.Finding{
					Severity:    types.SeverityMedium,
					Title:       "Schema validation: " + field,
					Description: "Field '" + field + "' must be a string",
					Remediation: "Set '" + field + "' to a string value",
					File:        "manifest.json",
				})
			}
		}
	}
	if v, ok := b.Manifest["server"]; ok {
		if _, isObject := v.(map[string]any); !isObject {
			found.add(types.Finding{
				Severity:    types.SeverityHigh,
				Title:       "Schema validation: server",
				Description: "Field 'server' must be an object",
				Remediation: "Describe the server as an object with type and entry_point",
				File:        "manifest.json",
			})
		}
	}

	switch b.Manifest.Get("_meta", types.MTFNamespace).(type) {
	case nil:
		found.add(types.Finding{
			Severity:    types.SeverityInfo,
			Title:       "No MTF extensions",
			Description: "Manifest does not include _meta[\"" + types.MTFNamespace + "\"] extensions",
			Remediation: "Add MTF extensions for enhanced security metadata",
			File:        "manifest.json",
		})
	case map[string]any:
	default:
		found.add(types.Finding{
			Severity:    types.SeverityLow,
			Title:       "Invalid MTF extensions",
			Description: "_meta[\"" + types.MTFNamespace + "\"] must be an object",
			Remediation: "Replace the MTF extension value with an object",
			File:        "manifest.json",
		})
	}

	if found.any(atLeast(types.SeverityHigh)) {
		return core.NewResult(c.Info(), types.StatusFail, found.list())
	}
	found.prepend(types.Finding{
		Severity:    types.SeverityInfo,
		Title:       "Manifest valid",
		Description: "manifest.json validates against MCPB schema",
	})
	return core.NewResult(c.Info(), types.StatusPass, found.list())
}

// ============================================================================
// AI-02..AI-04 reserved and not yet evaluated
// ============================================================================

func newContentHashes() *skipControl {
	return &skipControl{
		info: info{
			ID:          "AI-02",
			Name:        "Content Hashes",
			Domain:      types.DomainArtifactIntegrity,
			Level:       types.LevelStandard,
			Enforcement: core.EnforcedByRegistry,
			Description: "Bundle content digests are recorded and verified",
		},
		reason: "AI-02 (Content Hashes) is reserved. Bundle integrity is verified via RG-07 (Bundle Digest) at the registry layer.",
	}
}

func newBundleSignature() *skipControl {
	return &skipControl{
		info: info{
			ID:          "AI-03",
			Name:        "Bundle Signature",
			Domain:      types.DomainArtifactIntegrity,
			Level:       types.LevelVerified,
			Enforcement: core.EnforcedByBoth,
			Description: "Bundle is signed and the signature verifies",
		},
		reason: "Not yet implemented. Requires cosign or similar signature verification.",
	}
}

func newReproducibleBuild() *skipControl {
	return &skipControl{
		info: info{
			ID:          "AI-04",
			Name:        "Reproducible Build",
			Domain:      types.DomainArtifactIntegrity,
			Level:       types.LevelAttested,
			Enforcement: core.EnforcedByRegistry,
			Description: "Bundle can be rebuilt bit-for-bit from source",
		},
		reason: "Not yet implemented. Requires rebuild infrastructure and content comparison.",
	}
}

// ============================================================================
// AI-05 Bundle Completeness
// ============================================================================

var (
	executableGlob  = glob.MustCompile("*.{py,js,ts,mjs,cjs,go,rs,sh,bash,zsh,exe,dll,so,dylib}")
	binaryGlob      = glob.MustCompile("*.{exe,dll,so,dylib}")
	shellGlob       = glob.MustCompile("*.{sh,bash,zsh}")
	installHookGlob = glob.MustCompile("{postinstall,preinstall}*")
)

// alwaysAllowedGlob matches documentation and metadata file names.
var alwaysAllowedGlob = glob.MustCompile("{manifest,readme,license,changelog}*")

// alwaysAllowedNames are exact file names that are never flagged.
var alwaysAllowedNames = map[string]bool{
	"manifest.json":  true,
	".gitignore":     true,
	".gitattributes": true,
}

type bundleCompleteness struct{ info }

func newBundleCompleteness() *bundleCompleteness {
	return &bundleCompleteness{info{
		ID:          "AI-05",
		Name:        "Bundle Completeness",
		Domain:      types.DomainArtifactIntegrity,
		Level:       types.LevelStandard,
		Enforcement: core.EnforcedByScanner,
		Description: "Verify bundle contains no unexpected executable files",
	}}
}

func (c *bundleCompleteness) Run(ctx context.Context, b *core.Bundle) *types.ControlResult {
	referenced := referencedFiles(b)
	lockfiles := make(map[string]bool, len(lockfile.Names)+1)
	for _, n := range lockfile.Names {
		lockfiles[n] = true
	}
	lockfiles["requirements.txt"] = true

	files, err := walkBundle(ctx, b.Dir, walkOptions{skipDeps: true})
	if err != nil {
		return core.Errorf(c.Info(), "walk bundle: %v", err)
	}

	found := newFindings(c.ID, 1)
	for _, f := range files {
		name := path.Base(f.Rel)
		lower := strings.ToLower(name)

		if isAlwaysAllowed(f.Rel) || lockfiles[name] || referenced[f.Rel] {
			continue
		}

		switch {
		case installHookGlob.Match(lower):
			found.add(types.Finding{
				Severity:    types.SeverityCritical,
				Title:       "Unexpected install hook: " + f.Rel,
				Description: "Install hooks can execute arbitrary code during installation. This file is not referenced by the manifest.",
				File:        f.Rel,
				Remediation: "Remove the install hook or reference it in the manifest.",
			})
		case binaryGlob.Match(lower):
			found.add(types.Finding{
				Severity:    types.SeverityCritical,
				Title:       "Unexpected binary: " + f.Rel,
				Description: "Binary files can contain arbitrary native code. This file is not referenced by the manifest.",
				File:        f.Rel,
				Remediation: "Remove the binary or reference it in the manifest.",
			})
		case shellGlob.Match(lower):
			found.add(types.Finding{
				Severity:    types.SeverityCritical,
				Title:       "Unexpected shell script: " + f.Rel,
				Description: "Shell scripts can execute arbitrary commands. This file is not referenced by the manifest.",
				File:        f.Rel,
				Remediation: "Remove the shell script or reference it in the manifest.",
			})
		case executableGlob.Match(lower):
			found.add(types.Finding{
				Severity:    types.SeverityHigh,
				Title:       "Unexpected executable: " + f.Rel,
				Description: "Executable code file not referenced by the manifest entry point or mcp_config args.",
				File:        f.Rel,
				Remediation: "Remove the file or reference it via server.entry_point or mcp_config.args.",
			})
		}
	}

	return core.NewResult(c.Info(), statusIf(found.len() > 0), found.list())
}

func isAlwaysAllowed(rel string) bool {
	name := path.Base(rel)
	if alwaysAllowedNames[name] {
		return true
	}
	if alwaysAllowedGlob.Match(strings.ToLower(name)) {
		return true
	}
	if path.Ext(name) == ".sig" {
		return true
	}
	for _, seg := range strings.Split(path.Dir(rel), "/") {
		if seg == ".sigstore" {
			return true
		}
	}
	return false
}

// referencedFiles collects the bundle-relative paths the manifest points at.
func referencedFiles(b *core.Bundle) map[string]bool {
	refs := make(map[string]bool)
	add := func(p string) {
		p = strings.TrimPrefix(path.Clean(filepath.ToSlash(p)), "./")
		refs[p] = true
	}

	entry := b.Manifest.String("server", "entry_point")
	if entry != "" {
		add(entry)
	}

	for _, args := range [][]any{b.Manifest.List("mcp_config", "args"), b.Manifest.List("server", "mcp_config", "args")} {
		for i, a := range args {
			arg, ok := a.(string)
			if !ok {
				continue
			}
			if arg == "-m" && i+1 < len(args) {
				if module, ok := args[i+1].(string); ok {
					addTree(b.Dir, pythonPackageDirs(module), add)
				}
				continue
			}
			if looksLikeFile(arg) {
				add(strings.ReplaceAll(arg, "${__dirname}/", ""))
			}
		}
	}

	// Compiled node servers import siblings of the entry point
	if b.Manifest.String("server", "type") == "node" && entry != "" {
		if dir := path.Dir(strings.ReplaceAll(entry, "${__dirname}/", "")); dir != "." && dir != "/" {
			addTree(b.Dir, []string{dir}, add)
		}
	}
	return refs
}

func looksLikeFile(arg string) bool {
	return !strings.HasPrefix(arg, "-") && strings.ContainsAny(arg, "./")
}

// pythonPackageDirs returns the candidate directories of the top-level
// package of a dotted module name.
func pythonPackageDirs(module string) []string {
	root, _, _ := strings.Cut(module, ".")
	if root == "" {
		return nil
	}
	return []string{root, "src/" + root, "lib/" + root}
}

// addTree adds every regular file under the given bundle-relative dirs.
func addTree(bundleDir string, dirs []string, add func(string)) {
	for _, dir := range dirs {
		abs := filepath.Join(bundleDir, filepath.FromSlash(dir))
		if fi, err := os.Stat(abs); err != nil || !fi.IsDir() {
			continue
		}
		_ = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
			if err != nil || !d.Type().IsRegular() {
				return nil
			}
			if rel, err := filepath.Rel(bundleDir, p); err == nil {
				add(rel)
			}
			return nil
		})
	}
}
