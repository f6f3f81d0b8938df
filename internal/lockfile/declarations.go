package lockfile

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gobwas/glob"
	"go.uber.org/multierr"
)

var requirementsGlob = glob.MustCompile("requirements*.txt")

// Directories never searched for requirements files.
var skipDirs = map[string]bool{
	"node_modules": true, ".venv": true, "venv": true,
	"__pycache__": true, ".git": true, "site-packages": true,
}

// Declarations holds declared dependencies grouped by source file kind.
type Declarations struct {
	Requirements []Dependency // requirements*.txt anywhere in the bundle
	Pyproject    []Dependency // root pyproject.toml
	PackageJSON  []Dependency // root package.json
}

// FindDeclarations collects declared dependencies from the bundle. Unreadable
// or undecodable files are skipped and reported in the returned error.
func FindDeclarations(root string) (*Declarations, error) {
	decl := &Declarations{}
	var errs error

	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			errs = multierr.Append(errs, err)
			return nil
		}
		if d.IsDir() {
			if p != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !requirementsGlob.Match(d.Name()) {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			errs = multierr.Append(errs, err)
			return nil
		}
		rel, _ := filepath.Rel(root, p)
		decl.Requirements = append(decl.Requirements, ParseRequirements(filepath.ToSlash(rel), data)...)
		return nil
	})
	errs = multierr.Append(errs, walkErr)

	if data, err := readOptional(filepath.Join(root, "pyproject.toml")); err != nil {
		errs = multierr.Append(errs, err)
	} else if data != nil {
		deps, err := ParsePyproject("pyproject.toml", data)
		errs = multierr.Append(errs, err)
		decl.Pyproject = deps
	}

	if data, err := readOptional(filepath.Join(root, "package.json")); err != nil {
		errs = multierr.Append(errs, err)
	} else if data != nil {
		deps, err := ParsePackageJSON("package.json", data)
		errs = multierr.Append(errs, err)
		decl.PackageJSON = deps
	}
	return decl, errs
}

func readOptional(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}
