// Package lockfile parses dependency lockfiles and dependency manifests found
// in MCP bundles. Parsers are native: no package manager is invoked.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Ecosystem is an OSV ecosystem name.
type Ecosystem string

// Supported ecosystems.
const (
	EcosystemPyPI     Ecosystem = "PyPI"
	EcosystemNPM      Ecosystem = "npm"
	EcosystemCargo    Ecosystem = "crates.io"
	EcosystemGo       Ecosystem = "Go"
	EcosystemRubyGems Ecosystem = "RubyGems"
)

// Lockfile names, in detection order.
const (
	UVLock          = "uv.lock"
	PoetryLock      = "poetry.lock"
	PipfileLock     = "Pipfile.lock"
	PDMLock         = "pdm.lock"
	PackageLockJSON = "package-lock.json"
	YarnLock        = "yarn.lock"
	PNPMLock        = "pnpm-lock.yaml"
	CargoLock       = "Cargo.lock"
	GoSum           = "go.sum"
	GemfileLock     = "Gemfile.lock"
)

// Names lists every recognised lockfile name.
var Names = []string{
	UVLock, PoetryLock, PipfileLock, PDMLock,
	PackageLockJSON, YarnLock, PNPMLock,
	CargoLock, GoSum, GemfileLock,
}

// ErrUnsupported is returned by Parse for an unrecognised file name.
var ErrUnsupported = errors.New("unsupported lockfile")

// Package is one resolved dependency.
type Package struct {
	Name      string
	Version   string
	Ecosystem Ecosystem
	// Source is where the package resolves from: a registry or tarball URL,
	// "git+<url>" or "file:<path>". Empty means the ecosystem default registry.
	Source string
	// Integrity is the recorded hash or checksum. Empty when the lockfile
	// carries none for this package.
	Integrity string
	Dev       bool
	// Lockfile is the bundle-relative path of the file the package came from.
	Lockfile string
}

// Key identifies a package independently of the lockfile it came from.
func (p Package) Key() string {
	return fmt.Sprintf("%s|%s|%s", p.Ecosystem, p.Name, p.Version)
}

// Lockfile is a parsed lockfile.
type Lockfile struct {
	// Path is relative to the bundle root, e.g. "deps/uv.lock".
	Path      string
	Name      string
	Ecosystem Ecosystem
	// FormatVersion is the lockfile format version when the file records one
	// (npm lockfileVersion, Cargo/uv version); zero otherwise.
	FormatVersion int
	Packages      []Package
}

// ParseError reports a lockfile that exists but could not be decoded.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type parserFunc func(data []byte) (*Lockfile, error)

var parsers = map[string]struct {
	eco   Ecosystem
	parse parserFunc
}{
	UVLock:          {EcosystemPyPI, parseUVLock},
	PoetryLock:      {EcosystemPyPI, parsePoetryLock},
	PipfileLock:     {EcosystemPyPI, parsePipfileLock},
	PDMLock:         {EcosystemPyPI, parsePDMLock},
	PackageLockJSON: {EcosystemNPM, parsePackageLock},
	YarnLock:        {EcosystemNPM, parseYarnLock},
	PNPMLock:        {EcosystemNPM, parsePNPMLock},
	CargoLock:       {EcosystemCargo, parseCargoLock},
	GoSum:           {EcosystemGo, parseGoSum},
	GemfileLock:     {EcosystemRubyGems, parseGemfileLock},
}

// EcosystemFor returns the ecosystem of a lockfile name.
func EcosystemFor(name string) (Ecosystem, bool) {
	p, ok := parsers[name]
	return p.eco, ok
}

// Parse decodes a lockfile from data. name selects the format and relPath is
// recorded on the result and every package.
func Parse(name, relPath string, data []byte) (*Lockfile, error) {
	p, ok := parsers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, name)
	}

	lf, err := p.parse(data)
	if err != nil {
		return nil, &ParseError{Path: relPath, Err: err}
	}
	lf.Path = relPath
	lf.Name = name
	lf.Ecosystem = p.eco
	for i := range lf.Packages {
		lf.Packages[i].Ecosystem = p.eco
		lf.Packages[i].Lockfile = relPath
	}
	sort.SliceStable(lf.Packages, func(i, j int) bool {
		if lf.Packages[i].Name != lf.Packages[j].Name {
			return lf.Packages[i].Name < lf.Packages[j].Name
		}
		return lf.Packages[i].Version < lf.Packages[j].Version
	})
	return lf, nil
}

// ParseFile reads and parses the lockfile at root/relPath.
func ParseFile(root, relPath string) (*Lockfile, error) {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(relPath)))
	if err != nil {
		return nil, err
	}
	return Parse(filepath.Base(relPath), relPath, data)
}
