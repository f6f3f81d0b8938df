// Package purl builds Package URLs for dependency components and source
// repositories. See https://github.com/package-url/purl-spec.
package purl

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/package-url/packageurl-go"

	"github.com/mpaktrust/mpak-scanner/internal/hostdetect"
)

// PURL types the scanner produces.
var (
	TypePyPI      = packageurl.TypePyPi
	TypeNPM       = packageurl.TypeNPM
	TypeCargo     = packageurl.TypeCargo
	TypeGolang    = packageurl.TypeGolang
	TypeGem       = packageurl.TypeGem
	TypeGitHub    = packageurl.TypeGithub
	TypeBitbucket = packageurl.TypeBitbucket
	TypeGitLab    = "gitlab"
	TypeGeneric   = packageurl.TypeGeneric
)

// OSV ecosystem names mapped to PURL types.
var ecosystemTypes = map[string]string{
	"PyPI":      TypePyPI,
	"npm":       TypeNPM,
	"crates.io": TypeCargo,
	"Go":        TypeGolang,
	"RubyGems":  TypeGem,
}

// PURL is a package URL.
type PURL struct {
	Type       string
	Namespace  string
	Name       string
	Version    string
	Qualifiers map[string]string
	Subpath    string
}

// String formats the PURL in canonical form. Qualifiers are sorted by key.
func (p *PURL) String() string {
	if p == nil || p.Type == "" || p.Name == "" {
		return ""
	}
	q := make(map[string]string, len(p.Qualifiers))
	for k, v := range p.Qualifiers {
		// Empty values are invalid qualifiers
		if v != "" {
			q[k] = v
		}
	}
	out := packageurl.PackageURL{
		Type:       p.Type,
		Namespace:  p.Namespace,
		Name:       p.Name,
		Version:    p.Version,
		Qualifiers: packageurl.QualifiersFromMap(q),
		Subpath:    p.Subpath,
	}
	return (&out).String()
}

// Parse decodes a PURL string.
func Parse(s string) (*PURL, error) {
	p, err := packageurl.FromString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode PURL string %q: %w", s, err)
	}
	return &PURL{
		Type:       p.Type,
		Namespace:  p.Namespace,
		Name:       p.Name,
		Version:    p.Version,
		Qualifiers: p.Qualifiers.Map(),
		Subpath:    p.Subpath,
	}, nil
}

var pypiSeparators = regexp.MustCompile(`[-_.]+`)

// ForPackage builds the PURL of a registry package in an OSV ecosystem.
// Unknown ecosystems yield a generic PURL.
func ForPackage(ecosystem, name, version string) *PURL {
	typ, ok := ecosystemTypes[ecosystem]
	if !ok {
		return &PURL{Type: TypeGeneric, Name: name, Version: version}
	}

	p := &PURL{Type: typ, Name: name, Version: version}
	switch typ {
	case TypePyPI:
		// PEP 503 normalization
		p.Name = pypiSeparators.ReplaceAllString(strings.ToLower(name), "-")
	case TypeNPM:
		if strings.HasPrefix(name, "@") {
			if scope, rest, found := strings.Cut(name, "/"); found {
				p.Namespace, p.Name = scope, rest
			}
		}
	case TypeGolang:
		if idx := strings.LastIndex(name, "/"); idx > 0 {
			p.Namespace, p.Name = name[:idx], name[idx+1:]
		}
	}
	return p
}

// Ecosystem returns the OSV ecosystem of the PURL type, or "" when the type
// has no vulnerability database.
func (p *PURL) Ecosystem() string {
	for eco, typ := range ecosystemTypes {
		if typ == p.Type {
			return eco
		}
	}
	return ""
}

// PackageName reverses ForPackage: the registry name including any
// namespace.
func (p *PURL) PackageName() string {
	switch {
	case p.Namespace == "":
		return p.Name
	default:
		return p.Namespace + "/" + p.Name
	}
}

// FromGitURL creates a PURL for a source repository at a version or commit.
// Returns nil for URLs hostdetect cannot parse.
func FromGitURL(repoURL, version string) *PURL {
	info := hostdetect.FromURL(repoURL)
	if info == nil {
		return nil
	}

	return &PURL{
		Type:      providerToType(info.Provider),
		Namespace: info.Owner,
		Name:      info.Repo,
		Version:   version,
	}
}

// providerToType converts a hostdetect.Provider to a PURL type.
func providerToType(p hostdetect.Provider) string {
	switch p {
	case hostdetect.ProviderGitHub:
		return TypeGitHub
	case hostdetect.ProviderGitLab:
		return TypeGitLab
	case hostdetect.ProviderBitbucket:
		return TypeBitbucket
	default:
		return TypeGeneric
	}
}
