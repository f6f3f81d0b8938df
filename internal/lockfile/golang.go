package lockfile

import (
	"bufio"
	"bytes"
	"strings"

	"golang.org/x/mod/module"
	"golang.org/x/mod/semver"
)

// parseGoSum lists modules whose content hash is recorded. Entries that only
// carry a go.mod hash were needed for the module graph but never downloaded.
func parseGoSum(data []byte) (*Lockfile, error) {
	lf := &Lockfile{}
	seen := make(map[module.Version]bool)

	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 3 {
			continue
		}
		mod := module.Version{Path: fields[0], Version: fields[1]}
		if strings.HasSuffix(mod.Version, "/go.mod") {
			continue
		}
		if !semver.IsValid(mod.Version) || module.CheckPath(mod.Path) != nil || seen[mod] {
			continue
		}
		seen[mod] = true
		lf.Packages = append(lf.Packages, Package{
			Name:      mod.Path,
			Version:   mod.Version,
			Integrity: fields[2],
		})
	}
	return lf, sc.Err()
}
