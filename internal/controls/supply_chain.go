package controls

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	cdx "github.com/CycloneDX/cyclonedx-go"

	"github.com/mpaktrust/mpak-scanner/internal/core"
	"github.com/mpaktrust/mpak-scanner/internal/lockfile"
	"github.com/mpaktrust/mpak-scanner/internal/logging"
	"github.com/mpaktrust/mpak-scanner/internal/sbom"
	"github.com/mpaktrust/mpak-scanner/internal/types"
)

// SubjectFromManifest describes the bundle for SBOM generation.
func SubjectFromManifest(m types.Manifest) sbom.Subject {
	repo, _ := repositoryURL(m)
	var author string
	if authors := manifestAuthors(m); len(authors) > 0 {
		author = authors[0].display()
	}
	return sbom.Subject{
		Name:          m.String("name"),
		Version:       m.String("version"),
		Author:        author,
		RepositoryURL: repo,
	}
}

// ============================================================================
// SC-01 SBOM Generation
// ============================================================================

type sbomGeneration struct {
	info
	gen *sbom.Generator
	log logging.Logger
}

func newSBOMGeneration(gen *sbom.Generator, log logging.Logger) *sbomGeneration {
	return &sbomGeneration{
		info: info{
			ID:          types.ControlSBOMGeneration,
			Name:        "SBOM Generation",
			Domain:      types.DomainSupplyChain,
			Level:       types.LevelBasic,
			Enforcement: core.EnforcedByScanner,
			Description: "Generate a CycloneDX SBOM from the bundle's lockfiles",
		},
		gen: gen,
		log: log,
	}
}

func (c *sbomGeneration) Run(_ context.Context, b *core.Bundle) *types.ControlResult {
	inv, err := lockfile.Scan(b.Dir)
	if err != nil {
		// Unparseable lockfiles are reported by SC-04
		c.log.Warnf("SBOM built from partial lockfile inventory: %v", err)
	}

	bom := c.gen.CycloneDX(SubjectFromManifest(b.Manifest), inv.Packages())
	raw, err := sbom.ToMap(bom)
	if err != nil {
		return core.Errorf(c.Info(), "encode SBOM: %v", err)
	}

	found := newFindings(c.ID, 0)
	if bom.Components != nil {
		for _, comp := range *bom.Components {
			found.add(componentFinding(comp))
		}
	}

	r := core.NewResult(c.Info(), types.StatusPass, found.list())
	r.RawOutput = raw
	return r
}

func componentFinding(comp cdx.Component) types.Finding {
	return types.Finding{
		Severity:    types.SeverityInfo,
		Title:       "Component: " + comp.Name,
		Description: "Version " + comp.Version,
		Metadata: map[string]any{
			"name":    comp.Name,
			"version": comp.Version,
			"purl":    comp.PackageURL,
			"type":    string(comp.Type),
		},
	}
}

// ============================================================================
// SC-03 Dependency Pinning
// ============================================================================

type dependencyPinning struct{ info }

func newDependencyPinning() *dependencyPinning {
	return &dependencyPinning{info{
		ID:          "SC-03",
		Name:        "Dependency Pinning",
		Domain:      types.DomainSupplyChain,
		Level:       types.LevelStandard,
		Enforcement: core.EnforcedByScanner,
		Description: "Dependencies are pinned to exact versions or locked",
	}}
}

func (c *dependencyPinning) Run(_ context.Context, b *core.Bundle) *types.ControlResult {
	var rootLocks []string
	for _, name := range lockfile.Names {
		if fileExists(b.Dir, name) {
			rootLocks = append(rootLocks, name)
		}
	}

	decl, err := lockfile.FindDeclarations(b.Dir)
	if decl == nil {
		return core.Errorf(c.Info(), "read dependency declarations: %v", err)
	}

	found := newFindings(c.ID, 1)
	for _, d := range decl.Requirements {
		reason := lockfile.UnpinnedReason(d.Ecosystem, d.Specifier)
		if reason == "" {
			continue
		}
		found.add(types.Finding{
			Severity:    types.SeverityHigh,
			Title:       "Unpinned dependency: " + d.Name,
			Description: fmt.Sprintf("Uses %s version specifier", strings.ToLower(reason)),
			File:        d.File,
			Line:        d.Line,
			Remediation: "Pin to exact version (e.g., package==1.2.3)",
			Metadata:    map[string]any{"package": d.Name, "specifier": d.Specifier},
		})
	}
	for _, d := range decl.Pyproject {
		reason := lockfile.UnpinnedReason(d.Ecosystem, d.Specifier)
		if reason == "" {
			continue
		}
		found.add(types.Finding{
			Severity:    types.SeverityLow,
			Title:       "Unpinned dependency in pyproject.toml: " + d.Name,
			Description: fmt.Sprintf("Uses %s version specifier (required for L2+)", strings.ToLower(reason)),
			File:        d.File,
			Line:        d.Line,
			Remediation: "Pin to exact version or use a lock file",
			Metadata:    map[string]any{"package": d.Name, "specifier": d.Specifier},
		})
	}
	for _, d := range decl.PackageJSON {
		reason := lockfile.UnpinnedReason(d.Ecosystem, d.Specifier)
		if reason == "" {
			continue
		}
		found.add(types.Finding{
			Severity:    types.SeverityLow,
			Title:       "Unpinned dependency: " + d.Name,
			Description: fmt.Sprintf("Version '%s' uses %s (required for L2+)", d.Specifier, strings.ToLower(reason)),
			File:        d.File,
			Line:        d.Line,
			Remediation: "Pin to exact version or ensure package-lock.json is present",
			Metadata:    map[string]any{"package": d.Name, "specifier": d.Specifier},
		})
	}

	hasLock := len(rootLocks) > 0
	if hasLock {
		found.prepend(types.Finding{
			Severity:    types.SeverityInfo,
			Title:       "Lock file found: " + strings.Join(rootLocks, ", "),
			Description: "Dependencies are pinned via lock file",
		})
	}

	r := core.NewResult(c.Info(), statusIf(!hasLock && found.any(atLeast(types.SeverityHigh))), found.list())
	if err != nil {
		r.RawOutput = map[string]any{"warnings": strings.Split(err.Error(), "; ")}
	}
	return r
}

// ============================================================================
// SC-04 Lockfile Integrity
// ============================================================================

// integrityHint describes a lockfile format whose packages should all carry
// a hash.
type integrityHint struct {
	title       string
	description string
	remediation string
}

var noIntegrityHints = map[string]integrityHint{
	lockfile.UVLock:      {"No hashes found in uv.lock", "uv.lock should contain SHA256 hashes for wheels", "Regenerate lockfile with 'uv lock'"},
	lockfile.PoetryLock:  {"No hashes found in poetry.lock", "poetry.lock should contain hashes for package files", "Regenerate lockfile with 'poetry lock'"},
	lockfile.PDMLock:     {"No hashes found in pdm.lock", "pdm.lock should contain hashes for package files", "Regenerate lockfile with 'pdm lock'"},
	lockfile.CargoLock:   {"No checksums found in Cargo.lock", "Cargo.lock should contain checksums for packages", "Regenerate lockfile with 'cargo update'"},
	lockfile.YarnLock:    {"No integrity hashes found in yarn.lock", "yarn.lock should contain integrity hashes", "Regenerate lockfile with 'yarn install'"},
	lockfile.PNPMLock:    {"No integrity hashes found in pnpm-lock.yaml", "pnpm-lock.yaml should contain integrity hashes", "Regenerate lockfile with 'pnpm install'"},
	lockfile.GemfileLock: {"No checksums found in Gemfile.lock", "Gemfile.lock has no CHECKSUMS section", "Run 'bundle lock --add-checksums'"},
}

// partialIntegrityRemediation is used for formats checked per package.
var partialIntegrityRemediation = map[string]string{
	lockfile.PackageLockJSON: "Run 'npm install' to regenerate lockfile with integrity hashes",
	lockfile.PipfileLock:     "Run 'pipenv lock' to regenerate lockfile with hashes",
}

type lockfileIntegrity struct{ info }

func newLockfileIntegrity() *lockfileIntegrity {
	return &lockfileIntegrity{info{
		ID:          "SC-04",
		Name:        "Lockfile Integrity",
		Domain:      types.DomainSupplyChain,
		Level:       types.LevelStandard,
		Enforcement: core.EnforcedByClient,
		Description: "Lockfiles carry integrity hashes for client-side verification",
	}}
}

func (c *lockfileIntegrity) Run(_ context.Context, b *core.Bundle) *types.ControlResult {
	inv, _ := lockfile.Scan(b.Dir)
	found := newFindings(c.ID, 1)

	if !inv.HasLockfile() {
		found.add(types.Finding{
			Severity:    types.SeverityInfo,
			Title:       "No lockfile found",
			Description: "Bundle does not contain a lockfile. Lockfiles enable client-side integrity verification.",
			Remediation: "Add a lockfile (uv.lock, package-lock.json, etc.) to the bundle",
		})
		return core.NewResult(c.Info(), types.StatusPass, found.list())
	}

	parsed := make(map[string]*lockfile.Lockfile, len(inv.Lockfiles))
	for _, lf := range inv.Lockfiles {
		parsed[lf.Path] = lf
	}

	for _, rel := range inv.Found {
		lf, ok := parsed[rel]
		if !ok {
			c.unparsed(b.Dir, rel, found)
			continue
		}
		checkLockfileIntegrity(lf, found)
	}

	found.prepend(types.Finding{
		Severity:    types.SeverityInfo,
		Title:       "Lockfile found: " + strings.Join(inv.Found, ", "),
		Description: "Lockfile(s) present for client-side integrity verification",
	})
	return core.NewResult(c.Info(), types.StatusPass, found.list())
}

// unparsed reports a lockfile that is present but could not be read.
func (c *lockfileIntegrity) unparsed(dir, rel string, found *findings) {
	_, err := lockfile.ParseFile(dir, rel)
	if err == nil {
		return
	}
	title := "Could not read lockfile: " + rel
	var pe *lockfile.ParseError
	if errors.As(err, &pe) {
		title = "Invalid lockfile: " + rel
	}
	found.add(types.Finding{
		Severity:    types.SeverityLow,
		Title:       title,
		Description: err.Error(),
		File:        rel,
	})
}

func checkLockfileIntegrity(lf *lockfile.Lockfile, found *findings) {
	if len(lf.Packages) == 0 {
		return
	}

	if lf.Name == lockfile.PackageLockJSON && lf.FormatVersion > 0 && lf.FormatVersion < 2 {
		found.add(types.Finding{
			Severity:    types.SeverityLow,
			Title:       "Old lockfile version",
			Description: fmt.Sprintf("%s uses lockfileVersion %d. Version 2+ records integrity for every package.", lf.Path, lf.FormatVersion),
			File:        lf.Path,
			Remediation: "Run 'npm install' with npm 7+ to upgrade lockfile",
		})
	}

	var missing []string
	for _, p := range lf.Packages {
		if p.Integrity == "" && !isLocalSource(p.Source) {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) == 0 {
		return
	}

	if remediation, ok := partialIntegrityRemediation[lf.Name]; ok {
		noun := "integrity hashes"
		if lf.Name == lockfile.PipfileLock {
			noun = "hashes"
		}
		found.add(types.Finding{
			Severity:    types.SeverityLow,
			Title:       fmt.Sprintf("%d packages missing %s", len(missing), noun),
			Description: "Packages without " + strings.TrimSuffix(noun, " hashes") + ": " + summarizeNames(missing, 5),
			File:        lf.Path,
			Remediation: remediation,
		})
		return
	}

	hint, ok := noIntegrityHints[lf.Name]
	if !ok || len(missing) < len(lf.Packages) {
		return
	}
	found.add(types.Finding{
		Severity:    types.SeverityLow,
		Title:       hint.title,
		Description: hint.description,
		File:        lf.Path,
		Remediation: hint.remediation,
	})
}

// summarizeNames lists the first n names and counts the rest.
func summarizeNames(names []string, n int) string {
	if len(names) <= n {
		return strings.Join(names, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(names[:n], ", "), len(names)-n)
}

// isLocalSource reports whether a package resolves from the bundle itself or
// a VCS checkout, where no registry hash exists.
func isLocalSource(src string) bool {
	for _, prefix := range []string{"file:", "link:", "portal:", "workspace:", "git+", "git:", "github:"} {
		if strings.HasPrefix(src, prefix) {
			return true
		}
	}
	return false
}

// ============================================================================
// SC-05 Trusted Sources
// ============================================================================

// canonicalRegistries are the default registry hosts of each ecosystem.
var canonicalRegistries = map[lockfile.Ecosystem][]string{
	lockfile.EcosystemNPM:      {"registry.npmjs.org", "registry.yarnpkg.com"},
	lockfile.EcosystemPyPI:     {"pypi.org", "files.pythonhosted.org"},
	lockfile.EcosystemCargo:    {"crates.io", "static.crates.io", "index.crates.io", "github.com/rust-lang/crates.io-index"},
	lockfile.EcosystemGo:       {"proxy.golang.org"},
	lockfile.EcosystemRubyGems: {"rubygems.org", "index.rubygems.org"},
}

type trustedSources struct{ info }

func newTrustedSources() *trustedSources {
	return &trustedSources{info{
		ID:          "SC-05",
		Name:        "Trusted Sources",
		Domain:      types.DomainSupplyChain,
		Level:       types.LevelVerified,
		Enforcement: core.EnforcedByScanner,
		Description: "Resolved packages come from their ecosystem's canonical registry",
	}}
}

func (c *trustedSources) Run(_ context.Context, b *core.Bundle) *types.ControlResult {
	inv, _ := lockfile.Scan(b.Dir)
	pkgs := inv.Packages()

	found := newFindings(c.ID, 1)
	for _, p := range pkgs {
		if f, ok := checkSource(p); ok {
			found.add(f)
		}
	}

	r := core.NewResult(c.Info(), statusIf(found.any(atLeast(types.SeverityHigh))), found.list())
	r.RawOutput = map[string]any{"packages_checked": len(pkgs)}
	return r
}

// checkSource returns a finding when p resolves from outside its canonical
// registry.
func checkSource(p lockfile.Package) (types.Finding, bool) {
	src := strings.TrimSpace(p.Source)
	f := types.Finding{
		File:     p.Lockfile,
		InDeps:   true,
		Metadata: map[string]any{"package": p.Name, "version": p.Version, "source": src},
	}
	if src == "" {
		return f, false
	}

	switch {
	case strings.HasPrefix(src, "git+"), strings.HasPrefix(src, "git:"), strings.HasPrefix(src, "github:"):
		f.Severity = types.SeverityMedium
		f.Title = "Git dependency: " + p.Name
		f.Description = "Resolved from a git repository instead of a registry: " + src
		f.Remediation = "Publish the dependency to a registry or pin the commit"
		return f, true
	case isLocalSource(src):
		f.Severity = types.SeverityMedium
		f.Title = "Local path dependency: " + p.Name
		f.Description = "Resolved from a local path: " + src
		f.Remediation = "Depend on a published release instead of a local path"
		return f, true
	}

	// Cargo prefixes index URLs with the protocol
	u, err := url.Parse(strings.TrimPrefix(src, "sparse+"))
	if err != nil || u.Host == "" {
		f.Severity = types.SeverityMedium
		f.Title = "Non-registry source: " + p.Name
		f.Description = "Unrecognised package source: " + src
		f.Remediation = "Resolve the dependency from the ecosystem registry"
		return f, true
	}

	if u.Scheme != "https" {
		f.Severity = types.SeverityHigh
		f.Title = "Insecure package source: " + p.Name
		f.Description = fmt.Sprintf("Resolved over %s from %s", u.Scheme, u.Host)
		f.Remediation = "Use an https registry URL"
		return f, true
	}

	if !isCanonicalRegistry(p.Ecosystem, u) {
		f.Severity = types.SeverityMedium
		f.Title = "Unknown registry: " + p.Name
		f.Description = fmt.Sprintf("Resolved from %s, not the %s registry", u.Host, p.Ecosystem)
		f.Remediation = "Resolve the dependency from the ecosystem registry"
		return f, true
	}
	return f, false
}

func isCanonicalRegistry(eco lockfile.Ecosystem, u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	hostPath := path.Join(host, strings.TrimSuffix(u.Path, "/"))
	for _, allowed := range canonicalRegistries[eco] {
		if strings.Contains(allowed, "/") {
			if strings.HasPrefix(hostPath, allowed) {
				return true
			}
			continue
		}
		if host == allowed {
			return true
		}
	}
	return false
}
