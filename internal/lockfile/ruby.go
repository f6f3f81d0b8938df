package lockfile

import (
	"bufio"
	"bytes"
	"strings"
)

// parseGemfileLock reads the GEM and GIT sections and, when present, the
// CHECKSUMS section written by Bundler 2.5+. PATH gems rooted at the bundle
// itself are the project and are skipped.
func parseGemfileLock(data []byte) (*Lockfile, error) {
	lf := &Lockfile{}
	checksums := make(map[string]string)

	var section, remote string
	var inSpecs bool

	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !strings.HasPrefix(line, " ") {
			section, remote, inSpecs = strings.TrimSpace(line), "", false
			continue
		}

		trimmed := strings.TrimSpace(line)
		indent := len(line) - len(strings.TrimLeft(line, " "))

		if section == "CHECKSUMS" && indent == 2 {
			// rack (3.0.8) sha256=...
			if spec, sum, ok := strings.Cut(trimmed, ") "); ok {
				checksums[spec+")"] = sum
			}
			continue
		}

		switch {
		case indent == 2 && strings.HasPrefix(trimmed, "remote:"):
			remote = strings.TrimSpace(strings.TrimPrefix(trimmed, "remote:"))
		case indent == 2 && trimmed == "specs:":
			inSpecs = true
		case indent == 4 && inSpecs:
			name, version, ok := gemSpec(trimmed)
			if !ok {
				continue
			}
			pkg := Package{Name: name, Version: version}
			switch section {
			case "GEM":
				pkg.Source = remote
			case "GIT":
				pkg.Source = "git+" + remote
			case "PATH":
				if remote == "." {
					continue
				}
				pkg.Source = "file:" + remote
			default:
				continue
			}
			lf.Packages = append(lf.Packages, pkg)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	for i := range lf.Packages {
		p := &lf.Packages[i]
		p.Integrity = checksums[p.Name+" ("+p.Version+")"]
	}
	return lf, nil
}

// gemSpec parses "name (version)"; platform suffixes stay on the version.
func gemSpec(s string) (string, string, bool) {
	name, rest, ok := strings.Cut(s, " (")
	if !ok || !strings.HasSuffix(rest, ")") {
		return "", "", false
	}
	return name, strings.TrimSuffix(rest, ")"), true
}
