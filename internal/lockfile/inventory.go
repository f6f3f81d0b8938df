package lockfile

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"go.uber.org/multierr"
)

// searchDirs are the bundle-relative directories checked for lockfiles.
var searchDirs = []string{".", "deps"}

// Inventory is every lockfile found in a bundle.
type Inventory struct {
	// Found lists the bundle-relative paths of all lockfiles present,
	// including ones that failed to parse.
	Found     []string
	Lockfiles []*Lockfile
}

// Scan locates and parses the lockfiles at the bundle root and in deps/.
// A lockfile that fails to parse is still listed in Found; its error is
// combined into the returned error, which never prevents the inventory of
// the remaining files from being returned.
func Scan(root string) (*Inventory, error) {
	inv := &Inventory{}
	var errs error

	for _, dir := range searchDirs {
		for _, name := range Names {
			rel := path.Join(dir, name)
			info, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
			if err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					errs = multierr.Append(errs, err)
				}
				continue
			}
			if info.IsDir() {
				continue
			}

			inv.Found = append(inv.Found, rel)
			lf, err := ParseFile(root, rel)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			inv.Lockfiles = append(inv.Lockfiles, lf)
		}
	}
	return inv, errs
}

// HasLockfile reports whether any lockfile was found.
func (inv *Inventory) HasLockfile() bool {
	return len(inv.Found) > 0
}

// RootNames lists the names of lockfiles found at the bundle root.
func (inv *Inventory) RootNames() []string {
	var names []string
	for _, rel := range inv.Found {
		if path.Dir(rel) == "." {
			names = append(names, rel)
		}
	}
	return names
}

// Packages returns all packages, deduplicated by ecosystem, name and version.
// The first occurrence wins, so root lockfiles take precedence over deps/.
func (inv *Inventory) Packages() []Package {
	seen := make(map[string]bool)
	var out []Package
	for _, lf := range inv.Lockfiles {
		for _, p := range lf.Packages {
			if seen[p.Key()] {
				continue
			}
			seen[p.Key()] = true
			out = append(out, p)
		}
	}
	return out
}

// Ecosystems returns the sorted set of ecosystems with at least one package.
func (inv *Inventory) Ecosystems() []Ecosystem {
	set := make(map[Ecosystem]bool)
	for _, lf := range inv.Lockfiles {
		if len(lf.Packages) > 0 {
			set[lf.Ecosystem] = true
		}
	}
	out := make([]Ecosystem, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
