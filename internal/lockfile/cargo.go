package lockfile

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

type cargoLock struct {
	Version  int `toml:"version"`
	Packages []struct {
		Name     string `toml:"name"`
		Version  string `toml:"version"`
		Source   string `toml:"source"`
		Checksum string `toml:"checksum"`
	} `toml:"package"`
	// Format v1 stores checksums as
	// "checksum <name> <version> (<source>)" = "<sha256>".
	Metadata map[string]string `toml:"metadata"`
}

// parseCargoLock skips workspace members, which have no source.
func parseCargoLock(data []byte) (*Lockfile, error) {
	var doc cargoLock
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	lf := &Lockfile{FormatVersion: doc.Version}
	for _, p := range doc.Packages {
		if p.Source == "" {
			continue
		}
		sum := p.Checksum
		if sum == "" {
			sum = doc.Metadata[fmt.Sprintf("checksum %s %s (%s)", p.Name, p.Version, p.Source)]
		}
		lf.Packages = append(lf.Packages, Package{
			Name:      p.Name,
			Version:   p.Version,
			Source:    strings.TrimPrefix(p.Source, "registry+"),
			Integrity: sum,
		})
	}
	return lf, nil
}
