package sbom

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/google/uuid"
	"github.com/spdx/tools-golang/spdx"
	"github.com/spdx/tools-golang/spdx/v2/common"
	spdx23 "github.com/spdx/tools-golang/spdx/v2/v2_3"

	"github.com/mpaktrust/mpak-scanner/internal/lockfile"
	"github.com/mpaktrust/mpak-scanner/internal/version"
)

// Format represents supported SBOM output formats
type Format string

const (
	// FormatCycloneDX is the CycloneDX JSON format
	FormatCycloneDX Format = "cyclonedx"
	// FormatSPDX is the SPDX 2.3 JSON format
	FormatSPDX Format = "spdx"
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCycloneDX, FormatSPDX:
		return f, nil
	case "":
		return FormatCycloneDX, nil
	default:
		return "", fmt.Errorf("unknown SBOM format %q (want cyclonedx or spdx)", s)
	}
}

// Property names attached to CycloneDX components.
const (
	PropEcosystem = "mpak:ecosystem"
	PropLockfile  = "mpak:lockfile"
	PropSource    = "mpak:source"
	PropIntegrity = "mpak:integrity"
)

// Subject describes the bundle an SBOM is generated for.
type Subject struct {
	Name          string
	Version       string
	Author        string
	RepositoryURL string
}

// Generator builds SBOM documents from resolved lockfile packages.
type Generator struct {
	now         func() time.Time
	newID       func() string
	toolVersion string
	namespace   string
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock replaces time.Now for document timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithIDSource replaces the random UUID source used for serial numbers and
// SPDX namespaces.
func WithIDSource(newID func() string) Option {
	return func(g *Generator) { g.newID = newID }
}

// WithSPDXNamespace sets the base URL of SPDX document namespaces.
func WithSPDXNamespace(base string) Option {
	return func(g *Generator) { g.namespace = base }
}

// NewGenerator creates a Generator.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
		toolVersion: version.ScannerVersion(),
		namespace:   DefaultSPDXNamespace,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate creates an SBOM in the specified format
func (g *Generator) Generate(format Format, subject Subject, pkgs []lockfile.Package) ([]byte, error) {
	switch format {
	case FormatCycloneDX:
		return EncodeCycloneDX(g.CycloneDX(subject, pkgs))
	case FormatSPDX:
		return EncodeSPDX(g.SPDX(subject, pkgs))
	default:
		return nil, fmt.Errorf("unknown format: %s", format)
	}
}

// CycloneDX creates a CycloneDX BOM with one library component per package.
func (g *Generator) CycloneDX(subject Subject, pkgs []lockfile.Package) *cdx.BOM {
	bom := cdx.NewBOM()
	bom.SerialNumber = "urn:uuid:" + g.newID()
	bom.Version = 1

	root := &cdx.Component{
		Type:    cdx.ComponentTypeApplication,
		BOMRef:  "bundle:" + ValidateProjectName(subject.Name),
		Name:    ValidateProjectName(subject.Name),
		Version: subject.Version,
		Author:  subject.Author,
	}
	if s := ExtractSupplier(subject.RepositoryURL); s != nil {
		root.Supplier = &cdx.OrganizationalEntity{Name: s.Name, URL: &[]string{s.URL}}
		root.ExternalReferences = &[]cdx.ExternalReference{{Type: cdx.ERTypeVCS, URL: s.URL}}
	}

	bom.Metadata = &cdx.Metadata{
		Timestamp: g.now().UTC().Format(time.RFC3339),
		Tools: &cdx.ToolsChoice{
			Tools: &[]cdx.Tool{
				{
					Vendor:  "mpaktrust",
					Name:    "mpak-scanner",
					Version: g.toolVersion,
				},
			},
		},
		Component: root,
	}

	components := make([]cdx.Component, 0, len(pkgs))
	refs := make([]string, 0, len(pkgs))
	seen := make(map[string]bool, len(pkgs))
	for _, p := range pkgs {
		c := buildCycloneDXComponent(p)
		// The same package can be locked by more than one file
		if seen[c.BOMRef] {
			continue
		}
		seen[c.BOMRef] = true
		components = append(components, c)
		refs = append(refs, c.BOMRef)
	}
	bom.Components = &components
	bom.Dependencies = &[]cdx.Dependency{{Ref: root.BOMRef, Dependencies: &refs}}

	return bom
}

// buildCycloneDXComponent creates a CycloneDX component from a lockfile package
func buildCycloneDXComponent(p lockfile.Package) cdx.Component {
	id := IdentityOf(p)
	component := cdx.Component{
		Type:       cdx.ComponentTypeLibrary,
		BOMRef:     GenerateBOMRef(id),
		Name:       p.Name,
		Version:    p.Version,
		PackageURL: id.PURL(),
	}
	if p.Dev {
		component.Scope = cdx.ScopeOptional
	}

	if h, ok := ParseIntegrity(p.Integrity); ok {
		component.Hashes = &[]cdx.Hash{h}
	}

	if ref := sourceReference(p.Source); ref != nil {
		component.ExternalReferences = &[]cdx.ExternalReference{*ref}
	}

	properties := []cdx.Property{
		{Name: PropEcosystem, Value: string(p.Ecosystem)},
	}
	if p.Lockfile != "" {
		properties = append(properties, cdx.Property{Name: PropLockfile, Value: p.Lockfile})
	}
	if p.Source != "" {
		properties = append(properties, cdx.Property{Name: PropSource, Value: p.Source})
	}
	if p.Integrity != "" && component.Hashes == nil {
		properties = append(properties, cdx.Property{Name: PropIntegrity, Value: p.Integrity})
	}
	component.Properties = &properties

	return component
}

func sourceReference(source string) *cdx.ExternalReference {
	switch {
	case source == "":
		return nil
	case strings.HasPrefix(source, "git+"):
		return &cdx.ExternalReference{Type: cdx.ERTypeVCS, URL: strings.TrimPrefix(source, "git+")}
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return &cdx.ExternalReference{Type: cdx.ERTypeDistribution, URL: source}
	default:
		return nil
	}
}

// EncodeCycloneDX encodes a BOM as indented JSON.
func EncodeCycloneDX(bom *cdx.BOM) ([]byte, error) {
	var buf bytes.Buffer
	encoder := cdx.NewBOMEncoder(&buf, cdx.BOMFileFormatJSON)
	encoder.SetPretty(true)
	if err := encoder.Encode(bom); err != nil {
		return nil, fmt.Errorf("encode CycloneDX: %w", err)
	}
	return buf.Bytes(), nil
}

// ToMap returns the BOM's JSON object form, as stored in a control's raw
// output.
func ToMap(bom *cdx.BOM) (map[string]any, error) {
	data, err := EncodeCycloneDX(bom)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode CycloneDX: %w", err)
	}
	if _, ok := m["components"]; !ok {
		m["components"] = []any{}
	}
	return m, nil
}

// SPDX creates an SPDX 2.3 document describing the bundle and its packages.
func (g *Generator) SPDX(subject Subject, pkgs []lockfile.Package) *spdx23.Document {
	name := ValidateProjectName(subject.Name)
	id := g.newID()

	doc := &spdx23.Document{
		SPDXVersion:       spdx.Version,
		DataLicense:       spdx.DataLicense,
		SPDXIdentifier:    common.ElementID(SPDXDocumentID),
		DocumentName:      name + "-sbom",
		DocumentNamespace: BuildSPDXNamespace(g.namespace, name, id),
		CreationInfo: &spdx23.CreationInfo{
			Created: g.now().UTC().Format(time.RFC3339),
			Creators: []common.Creator{
				{CreatorType: "Tool", Creator: "mpak-scanner-" + g.toolVersion},
			},
		},
	}

	rootID := common.ElementID("Package-bundle-" + SanitizeSPDXID(name))
	root := &spdx23.Package{
		PackageName:             name,
		PackageSPDXIdentifier:   rootID,
		PackageVersion:          subject.Version,
		PackageDownloadLocation: "NOASSERTION",
		FilesAnalyzed:           false,
		PackageLicenseDeclared:  "NOASSERTION",
		PackageLicenseConcluded: "NOASSERTION",
		PackageCopyrightText:    "NOASSERTION",
	}
	if s := ExtractSupplier(subject.RepositoryURL); s != nil {
		root.PackageDownloadLocation = "git+" + s.URL
	}

	packages := []*spdx23.Package{root}
	relationships := []*spdx23.Relationship{{
		RefA:         common.MakeDocElementID("", SPDXDocumentID),
		RefB:         common.MakeDocElementID("", string(rootID)),
		Relationship: "DESCRIBES",
	}}

	seen := make(map[common.ElementID]bool, len(pkgs))
	for _, p := range pkgs {
		pkg := buildSPDXPackage(p)
		if seen[pkg.PackageSPDXIdentifier] {
			continue
		}
		seen[pkg.PackageSPDXIdentifier] = true
		packages = append(packages, pkg)

		// RefB must match the package's SPDXID exactly
		relationships = append(relationships, &spdx23.Relationship{
			RefA:         common.MakeDocElementID("", string(rootID)),
			RefB:         common.MakeDocElementID("", string(pkg.PackageSPDXIdentifier)),
			Relationship: "DEPENDS_ON",
		})
	}

	doc.Packages = packages
	doc.Relationships = relationships
	return doc
}

// buildSPDXPackage creates an SPDX package from a lockfile package
func buildSPDXPackage(p lockfile.Package) *spdx23.Package {
	id := IdentityOf(p)

	pkg := &spdx23.Package{
		PackageName:             p.Name,
		PackageSPDXIdentifier:   common.ElementID(GenerateSPDXID(id)),
		PackageVersion:          p.Version,
		PackageDownloadLocation: "NOASSERTION",
		FilesAnalyzed:           false,
		PackageLicenseDeclared:  "NOASSERTION",
		PackageLicenseConcluded: "NOASSERTION",
		PackageCopyrightText:    "NOASSERTION",
		PackageComment:          MetadataComment(p.Lockfile, p.Source, p.Dev),
	}
	if ref := sourceReference(p.Source); ref != nil {
		pkg.PackageDownloadLocation = p.Source
	}

	if h, ok := ParseIntegrity(p.Integrity); ok {
		pkg.PackageChecksums = []common.Checksum{{
			Algorithm: spdxAlgorithm(h.Algorithm),
			Value:     h.Value,
		}}
	}

	if locator := id.PURL(); locator != "" {
		pkg.PackageExternalReferences = []*spdx23.PackageExternalReference{
			{
				Category: common.CategoryPackageManager,
				RefType:  "purl",
				Locator:  locator,
			},
		}
	}

	return pkg
}

func spdxAlgorithm(a cdx.HashAlgorithm) common.ChecksumAlgorithm {
	switch a {
	case cdx.HashAlgoSHA1:
		return common.SHA1
	case cdx.HashAlgoSHA384:
		return common.SHA384
	case cdx.HashAlgoSHA512:
		return common.SHA512
	default:
		return common.SHA256
	}
}

// spdxJSON is the JSON representation of an SPDX document
// Using explicit struct to ensure proper JSON field names per SPDX 2.3
type spdxJSON struct {
	SPDXVersion       string                 `json:"spdxVersion"`
	DataLicense       string                 `json:"dataLicense"`
	SPDXID            string                 `json:"SPDXID"`
	Name              string                 `json:"name"`
	DocumentNamespace string                 `json:"documentNamespace"`
	CreationInfo      spdxCreationInfoJSON   `json:"creationInfo"`
	Packages          []spdxPackageJSON      `json:"packages"`
	Relationships     []spdxRelationshipJSON `json:"relationships"`
}

type spdxCreationInfoJSON struct {
	Created  string   `json:"created"`
	Creators []string `json:"creators"`
}

type spdxPackageJSON struct {
	SPDXID           string                `json:"SPDXID"`
	Name             string                `json:"name"`
	VersionInfo      string                `json:"versionInfo,omitempty"`
	DownloadLocation string                `json:"downloadLocation"`
	LicenseDeclared  string                `json:"licenseDeclared"`
	LicenseConcluded string                `json:"licenseConcluded"`
	CopyrightText    string                `json:"copyrightText"`
	FilesAnalyzed    bool                  `json:"filesAnalyzed"`
	Checksums        []spdxChecksumJSON    `json:"checksums,omitempty"`
	ExternalRefs     []spdxExternalRefJSON `json:"externalRefs,omitempty"`
	Comment          string                `json:"comment,omitempty"`
}

type spdxChecksumJSON struct {
	Algorithm     string `json:"algorithm"`
	ChecksumValue string `json:"checksumValue"`
}

type spdxExternalRefJSON struct {
	ReferenceCategory string `json:"referenceCategory"`
	ReferenceType     string `json:"referenceType"`
	ReferenceLocator  string `json:"referenceLocator"`
}

type spdxRelationshipJSON struct {
	SPDXElementID      string `json:"spdxElementId"`
	RelationshipType   string `json:"relationshipType"`
	RelatedSPDXElement string `json:"relatedSpdxElement"`
}

// EncodeSPDX converts an SPDX document to indented JSON.
func EncodeSPDX(doc *spdx23.Document) ([]byte, error) {
	creators := make([]string, 0, len(doc.CreationInfo.Creators))
	for _, c := range doc.CreationInfo.Creators {
		creators = append(creators, fmt.Sprintf("%s: %s", c.CreatorType, c.Creator))
	}

	packages := make([]spdxPackageJSON, 0, len(doc.Packages))
	for _, pkg := range doc.Packages {
		p := spdxPackageJSON{
			SPDXID:           FormatSPDXRef(string(pkg.PackageSPDXIdentifier)),
			Name:             pkg.PackageName,
			VersionInfo:      pkg.PackageVersion,
			DownloadLocation: pkg.PackageDownloadLocation,
			LicenseDeclared:  pkg.PackageLicenseDeclared,
			LicenseConcluded: pkg.PackageLicenseConcluded,
			CopyrightText:    pkg.PackageCopyrightText,
			FilesAnalyzed:    pkg.FilesAnalyzed,
			Comment:          pkg.PackageComment,
		}
		for _, cs := range pkg.PackageChecksums {
			p.Checksums = append(p.Checksums, spdxChecksumJSON{
				Algorithm:     string(cs.Algorithm),
				ChecksumValue: cs.Value,
			})
		}
		for _, ref := range pkg.PackageExternalReferences {
			p.ExternalRefs = append(p.ExternalRefs, spdxExternalRefJSON{
				ReferenceCategory: string(ref.Category),
				ReferenceType:     ref.RefType,
				ReferenceLocator:  ref.Locator,
			})
		}
		packages = append(packages, p)
	}

	relationships := make([]spdxRelationshipJSON, 0, len(doc.Relationships))
	for _, rel := range doc.Relationships {
		relationships = append(relationships, spdxRelationshipJSON{
			SPDXElementID:      FormatSPDXRef(string(rel.RefA.ElementRefID)),
			RelationshipType:   rel.Relationship,
			RelatedSPDXElement: FormatSPDXRef(string(rel.RefB.ElementRefID)),
		})
	}

	out := spdxJSON{
		SPDXVersion:       doc.SPDXVersion,
		DataLicense:       doc.DataLicense,
		SPDXID:            FormatSPDXRef(string(doc.SPDXIdentifier)),
		Name:              doc.DocumentName,
		DocumentNamespace: doc.DocumentNamespace,
		CreationInfo: spdxCreationInfoJSON{
			Created:  doc.CreationInfo.Created,
			Creators: creators,
		},
		Packages:      packages,
		Relationships: relationships,
	}
	return json.MarshalIndent(out, "", "  ")
}
