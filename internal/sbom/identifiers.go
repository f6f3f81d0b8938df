// Package sbom builds Software Bill of Materials documents for the packages
// resolved from a bundle's lockfiles. The identifier helpers here are shared
// by the CycloneDX and SPDX writers.
package sbom

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	cdx "github.com/CycloneDX/cyclonedx-go"

	"github.com/mpaktrust/mpak-scanner/internal/hostdetect"
	"github.com/mpaktrust/mpak-scanner/internal/lockfile"
	"github.com/mpaktrust/mpak-scanner/internal/purl"
)

// ComponentIdentity is the identity of one resolved package.
type ComponentIdentity struct {
	Name      string
	Version   string
	Ecosystem string
}

// IdentityOf returns the identity of a lockfile package.
func IdentityOf(p lockfile.Package) ComponentIdentity {
	return ComponentIdentity{Name: p.Name, Version: p.Version, Ecosystem: string(p.Ecosystem)}
}

// PURL returns the package URL for the component, or "" when it has no name.
func (c ComponentIdentity) PURL() string {
	if c.Name == "" {
		return ""
	}
	return purl.ForPackage(c.Ecosystem, c.Name, c.Version).String()
}

// GenerateBOMRef creates a CycloneDX BOM reference for a component.
// The package URL is used when one can be built, otherwise {name}@{version}.
func GenerateBOMRef(c ComponentIdentity) string {
	if p := c.PURL(); p != "" {
		return p
	}
	if c.Version == "" {
		return c.Name
	}
	return fmt.Sprintf("%s@%s", c.Name, c.Version)
}

// GenerateSPDXID creates an SPDX identifier for a package.
// Format: Package-{ecosystem}-{name}-{version}, sanitized.
// Returns the ID without the "SPDXRef-" prefix (that's added during JSON serialization).
func GenerateSPDXID(c ComponentIdentity) string {
	parts := []string{"Package"}
	if c.Ecosystem != "" {
		parts = append(parts, SanitizeSPDXID(c.Ecosystem))
	}
	parts = append(parts, SanitizeSPDXID(c.Name))
	if c.Version != "" {
		parts = append(parts, SanitizeSPDXID(c.Version))
	}
	return strings.Join(parts, "-")
}

// SanitizeSPDXID converts a string to a valid SPDX identifier component.
// SPDX IDs must match the pattern [a-zA-Z0-9.-]+
// Invalid characters are replaced with hyphens.
// Empty input returns "unknown" to prevent invalid IDs.
func SanitizeSPDXID(s string) string {
	if s == "" {
		return "unknown"
	}

	var result strings.Builder
	result.Grow(len(s))

	for _, r := range s {
		if isValidSPDXChar(r) {
			result.WriteRune(r)
		} else {
			result.WriteRune('-')
		}
	}

	return result.String()
}

// isValidSPDXChar returns true if the rune is valid in an SPDX identifier.
func isValidSPDXChar(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') ||
		r == '.' ||
		r == '-'
}

// SPDXDocumentID is the standard SPDX document identifier.
const SPDXDocumentID = "DOCUMENT"

// FormatSPDXRef formats an SPDX element ID with the required "SPDXRef-" prefix.
func FormatSPDXRef(elementID string) string {
	return "SPDXRef-" + elementID
}

// SupplierInfo holds supplier information extracted from a repository URL.
type SupplierInfo struct {
	Name string // Owner/org name
	URL  string // Normalized repository URL
}

// ExtractSupplier extracts supplier information from a repository URL.
// Returns nil if the URL is empty or not a recognisable repository URL.
func ExtractSupplier(repoURL string) *SupplierInfo {
	info := hostdetect.FromURL(repoURL)
	if info == nil || info.Owner == "" {
		return nil
	}
	return &SupplierInfo{Name: info.Owner, URL: info.URL}
}

// MetadataComment builds a structured comment from lockfile metadata.
// Only includes fields that have values, avoiding empty placeholders.
func MetadataComment(lockfilePath, source string, dev bool) string {
	var parts []string

	if lockfilePath != "" {
		parts = append(parts, fmt.Sprintf("lockfile=%s", lockfilePath))
	}
	if source != "" {
		parts = append(parts, fmt.Sprintf("source=%s", source))
	}
	if dev {
		parts = append(parts, "scope=dev")
	}

	return strings.Join(parts, ", ")
}

// DefaultProjectName returns a fallback project name when none is provided.
const DefaultProjectName = "unknown-bundle"

// ValidateProjectName ensures a project name is valid for use in SBOMs.
// Returns the original name if valid, or DefaultProjectName if empty.
func ValidateProjectName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultProjectName
	}
	return name
}

// DefaultSPDXNamespace is the default domain for SPDX document namespaces.
const DefaultSPDXNamespace = "https://mpaktrust.org/spdx"

// BuildSPDXNamespace constructs a unique SPDX document namespace.
// Format: {baseURL}/{projectName}/{uuid}
func BuildSPDXNamespace(baseURL, projectName, uuid string) string {
	if baseURL == "" {
		baseURL = DefaultSPDXNamespace
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(baseURL, "/"), SanitizeSPDXID(projectName), uuid)
}

var (
	hexPattern      = regexp.MustCompile(`^[0-9a-fA-F]+$`)
	yarnCachePrefix = regexp.MustCompile(`^[0-9]+c?[0-9]*/`)
)

// ParseIntegrity converts a lockfile integrity value into a CycloneDX hash.
//
// Recognised forms:
//   - "sha512-<base64>" (npm, pnpm, yarn classic subresource integrity)
//   - "sha256:<hex>" (uv, poetry, pdm, Pipfile)
//   - "sha256=<hex>" (Gemfile.lock CHECKSUMS)
//   - "10c0/<hex>" (yarn berry cache checksum, sha512)
//   - bare 64-character hex (Cargo)
//
// go.sum "h1:" tree hashes are not file digests and are not converted.
func ParseIntegrity(value string) (cdx.Hash, bool) {
	value = strings.TrimSpace(value)
	if value == "" || strings.HasPrefix(value, "h1:") {
		return cdx.Hash{}, false
	}

	if algo, digest, ok := strings.Cut(value, "-"); ok {
		if a, known := hashAlgorithm(algo); known {
			raw, err := base64.StdEncoding.DecodeString(digest)
			if err != nil {
				return cdx.Hash{}, false
			}
			return cdx.Hash{Algorithm: a, Value: hex.EncodeToString(raw)}, true
		}
	}

	for _, sep := range []string{":", "="} {
		if algo, digest, ok := strings.Cut(value, sep); ok {
			if a, known := hashAlgorithm(algo); known && hexPattern.MatchString(digest) {
				return cdx.Hash{Algorithm: a, Value: strings.ToLower(digest)}, true
			}
		}
	}

	if loc := yarnCachePrefix.FindStringIndex(value); loc != nil {
		digest := value[loc[1]:]
		if len(digest) == 128 && hexPattern.MatchString(digest) {
			return cdx.Hash{Algorithm: cdx.HashAlgoSHA512, Value: strings.ToLower(digest)}, true
		}
	}

	if len(value) == 64 && hexPattern.MatchString(value) {
		return cdx.Hash{Algorithm: cdx.HashAlgoSHA256, Value: strings.ToLower(value)}, true
	}
	return cdx.Hash{}, false
}

func hashAlgorithm(name string) (cdx.HashAlgorithm, bool) {
	switch strings.ToLower(name) {
	case "sha1":
		return cdx.HashAlgoSHA1, true
	case "sha256":
		return cdx.HashAlgoSHA256, true
	case "sha384":
		return cdx.HashAlgoSHA384, true
	case "sha512":
		return cdx.HashAlgoSHA512, true
	}
	return "", false
}
