// Package controls implements the MTF control catalogue: 26 checks across
// artifact integrity, supply chain, code quality, capability declaration and
// provenance. Controls only read the extracted bundle; collaborators that
// reach the network are injected through Deps.
package controls

import (
	"context"

	"github.com/mpaktrust/mpak-scanner/internal/core"
	"github.com/mpaktrust/mpak-scanner/internal/lockfile"
	"github.com/mpaktrust/mpak-scanner/internal/logging"
	"github.com/mpaktrust/mpak-scanner/internal/sbom"
	"github.com/mpaktrust/mpak-scanner/internal/types"
	"github.com/mpaktrust/mpak-scanner/internal/vuln"
)

// VulnSource looks up known vulnerabilities for resolved packages.
// vuln.Scanner is the production implementation.
//
//go:generate mockgen -source=controls.go -destination=controls_mock_test.go -package=controls
type VulnSource interface {
	Scan(ctx context.Context, pkgs []lockfile.Package) (*vuln.Result, error)
}

// RemoteRef is one reference advertised by a remote repository.
type RemoteRef struct {
	Name string // short name, e.g. "v1.2.0"
	Tag  bool
	Hash string // commit the reference points at, peeled for annotated tags
}

// RemoteLister lists the references of a remote repository without cloning it.
type RemoteLister interface {
	ListRefs(ctx context.Context, repoURL string) ([]RemoteRef, error)
}

// Deps are the collaborators shared by the catalogue.
type Deps struct {
	// Vulns is nil in offline mode; SC-02 then skips.
	Vulns VulnSource
	// Remote is nil unless remote provenance verification is enabled; PR-04
	// then skips.
	Remote RemoteLister
	// SBOM builds the SC-01 document. A default generator is used when nil.
	SBOM   *sbom.Generator
	Logger logging.Logger
}

func (d Deps) withDefaults() Deps {
	if d.SBOM == nil {
		d.SBOM = sbom.NewGenerator()
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	return d
}

// All returns a fresh instance of every control in the catalogue.
func All(deps Deps) []core.Control {
	deps = deps.withDefaults()
	return []core.Control{
		// Artifact integrity
		newManifestValidation(),
		newContentHashes(),
		newBundleSignature(),
		newReproducibleBuild(),
		newBundleCompleteness(),

		// Supply chain
		newSBOMGeneration(deps.SBOM, deps.Logger),
		newVulnerabilityScan(deps.Vulns, deps.Logger),
		newDependencyPinning(),
		newLockfileIntegrity(),
		newTrustedSources(),

		// Code quality
		newEmbeddedSecrets(),
		newMaliciousPatterns(),
		newStaticAnalysis(),
		newInputValidation(),
		newSafeExecution(),
		newBehavioralAnalysis(),

		// Capability declaration
		newToolDeclaration(),
		newPermissionScope(),
		newToolDescriptionSafety(),
		newCredentialScope(),
		newTokenLifetime(),

		// Provenance
		newSourceRepository(),
		newAuthorIdentity(),
		newBuildAttestation(),
		newCommitLinkage(deps.Remote, deps.Logger),
		newRepositoryHealth(),
	}
}

// Register adds the full catalogue to reg.
func Register(reg *core.Registry, deps Deps) {
	reg.Register(All(deps)...)
}

// NewRegistry returns a registry holding the full catalogue.
func NewRegistry(deps Deps) *core.Registry {
	reg := core.NewRegistry()
	Register(reg, deps)
	return reg
}

// info is embedded by every control to provide Info().
type info core.ControlInfo

func (i info) Info() core.ControlInfo { return core.ControlInfo(i) }

// skipControl is a catalogue entry that is defined but not evaluated by the
// scanner.
type skipControl struct {
	info
	reason string
}

func (c *skipControl) Run(context.Context, *core.Bundle) *types.ControlResult {
	return core.Skip(c.Info(), c.reason)
}

// findings accumulates the findings of one control run and numbers them.
type findings struct {
	control string
	next    int
	items   []types.Finding
}

// newFindings starts numbering at first. Controls that reserve -0000 for a
// summary start at 1.
func newFindings(control string, first int) *findings {
	return &findings{control: control, next: first}
}

// add assigns the next id and appends f.
func (fs *findings) add(f types.Finding) {
	f.ID = core.FindingID(fs.control, fs.next)
	f.Control = fs.control
	fs.next++
	fs.items = append(fs.items, f)
}

// addID appends f under a fixed finding number.
func (fs *findings) addID(n int, f types.Finding) {
	f.ID = core.FindingID(fs.control, n)
	f.Control = fs.control
	fs.items = append(fs.items, f)
}

// prepend inserts f with the -0000 id before all other findings.
func (fs *findings) prepend(f types.Finding) {
	f.ID = core.FindingID(fs.control, 0)
	f.Control = fs.control
	fs.items = append([]types.Finding{f}, fs.items...)
}

func (fs *findings) len() int { return len(fs.items) }

// any reports whether some finding satisfies pred.
func (fs *findings) any(pred func(types.Finding) bool) bool {
	for _, f := range fs.items {
		if pred(f) {
			return true
		}
	}
	return false
}

// list returns the findings, never nil.
func (fs *findings) list() []types.Finding {
	if fs.items == nil {
		return []types.Finding{}
	}
	return fs.items
}

func atLeast(sev types.Severity) func(types.Finding) bool {
	return func(f types.Finding) bool { return f.Severity.AtLeast(sev) }
}

func atLeastOutsideDeps(sev types.Severity) func(types.Finding) bool {
	return func(f types.Finding) bool { return !f.InDeps && f.Severity.AtLeast(sev) }
}

// statusIf returns FAIL when fail is true and PASS otherwise.
func statusIf(fail bool) types.ControlStatus {
	if fail {
		return types.StatusFail
	}
	return types.StatusPass
}
