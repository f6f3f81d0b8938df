package lockfile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

var errInvalidJSON = errors.New("invalid JSON")

// parsePackageLock handles package-lock.json versions 1 through 3.
func parsePackageLock(data []byte) (*Lockfile, error) {
	if !gjson.ValidBytes(data) {
		return nil, errInvalidJSON
	}

	lf := &Lockfile{FormatVersion: int(gjson.GetBytes(data, "lockfileVersion").Int())}

	if pkgs := gjson.GetBytes(data, "packages"); pkgs.IsObject() {
		pkgs.ForEach(func(key, value gjson.Result) bool {
			k := key.String()
			idx := strings.LastIndex(k, "node_modules/")
			// The root project ("") and workspace folders are not dependencies
			if idx < 0 || value.Get("link").Bool() {
				return true
			}
			name := value.Get("name").String()
			if name == "" {
				name = k[idx+len("node_modules/"):]
			}
			lf.Packages = append(lf.Packages, Package{
				Name:      name,
				Version:   value.Get("version").String(),
				Source:    value.Get("resolved").String(),
				Integrity: value.Get("integrity").String(),
				Dev:       value.Get("dev").Bool(),
			})
			return true
		})
		return lf, nil
	}

	// lockfileVersion 1 nests dependencies recursively
	var walk func(deps gjson.Result)
	walk = func(deps gjson.Result) {
		deps.ForEach(func(key, value gjson.Result) bool {
			lf.Packages = append(lf.Packages, Package{
				Name:      key.String(),
				Version:   value.Get("version").String(),
				Source:    value.Get("resolved").String(),
				Integrity: value.Get("integrity").String(),
				Dev:       value.Get("dev").Bool(),
			})
			if nested := value.Get("dependencies"); nested.IsObject() {
				walk(nested)
			}
			return true
		})
	}
	walk(gjson.GetBytes(data, "dependencies"))
	return lf, nil
}

// parseYarnLock handles classic (v1) and berry yarn.lock files. Both are
// read line by line since the classic format is not YAML.
func parseYarnLock(data []byte) (*Lockfile, error) {
	lf := &Lockfile{}

	var cur *Package
	var skip bool
	flush := func() {
		if cur != nil && !skip && cur.Version != "" {
			lf.Packages = append(lf.Packages, *cur)
		}
		cur, skip = nil, false
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		if !strings.HasPrefix(line, " ") {
			flush()
			header := strings.TrimSuffix(trimmed, ":")
			if header == "__metadata" {
				skip = true
				cur = &Package{}
				continue
			}
			cur = &Package{Name: yarnEntryName(header)}
			continue
		}
		if cur == nil || strings.HasPrefix(line, "    ") {
			continue
		}

		key, value := yarnField(trimmed)
		switch key {
		case "version":
			cur.Version = value
		case "resolved":
			cur.Source = value
		case "resolution":
			// berry: "name@npm:1.2.3", "name@workspace:." ...
			if _, protocol, ok := strings.Cut(strings.TrimPrefix(value, "@"), "@"); ok {
				switch {
				case strings.HasPrefix(protocol, "workspace:"), strings.HasPrefix(protocol, "link:"),
					strings.HasPrefix(protocol, "portal:"):
					skip = true
				case !strings.HasPrefix(protocol, "npm:"):
					cur.Source = protocol
				}
			}
		case "integrity", "checksum":
			cur.Integrity = value
		case "linkType":
			if value == "soft" {
				skip = true
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	flush()
	return lf, nil
}

// yarnEntryName extracts the package name from an entry header such as
// `"@babel/core@^7.0.0", "@babel/core@^7.1.0"` or `lodash@npm:^4.17.21`.
func yarnEntryName(header string) string {
	first, _, _ := strings.Cut(header, ",")
	first = strings.Trim(strings.TrimSpace(first), `"`)
	at := strings.LastIndex(first, "@")
	if at <= 0 {
		return first
	}
	name := first[:at]
	// berry aliases carry the protocol on the name side for npm: ranges
	if i := strings.Index(name, "@npm:"); i > 0 {
		name = name[:i]
	}
	return name
}

// yarnField splits `key "value"` (classic) or `key: value` (berry).
func yarnField(s string) (string, string) {
	var key, value string
	if k, v, ok := strings.Cut(s, ":"); ok && !strings.Contains(k, " ") {
		key, value = k, v
	} else {
		key, value, _ = strings.Cut(s, " ")
	}
	value = strings.TrimSpace(value)
	if unq, err := strconv.Unquote(value); err == nil {
		value = unq
	}
	return strings.Trim(key, `"`), strings.Trim(value, `"`)
}

type pnpmLock struct {
	LockfileVersion any                    `yaml:"lockfileVersion"`
	Packages        map[string]pnpmPackage `yaml:"packages"`
}

type pnpmPackage struct {
	Name       string `yaml:"name"`
	Version    string `yaml:"version"`
	Dev        bool   `yaml:"dev"`
	Resolution struct {
		Integrity string `yaml:"integrity"`
		Tarball   string `yaml:"tarball"`
		Repo      string `yaml:"repo"`
		Commit    string `yaml:"commit"`
		Directory string `yaml:"directory"`
	} `yaml:"resolution"`
}

// parsePNPMLock handles pnpm-lock.yaml v5 through v9 package keys:
// "/name/1.0.0", "/name@1.0.0" and "name@1.0.0(peer@2.0.0)".
func parsePNPMLock(data []byte) (*Lockfile, error) {
	var doc pnpmLock
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	lf := &Lockfile{FormatVersion: pnpmMajor(doc.LockfileVersion)}
	for key, p := range doc.Packages {
		name, version := splitPNPMKey(key)
		if p.Name != "" {
			name = p.Name
		}
		if p.Version != "" {
			version = p.Version
		}
		if name == "" {
			continue
		}

		pkg := Package{
			Name:      name,
			Version:   version,
			Integrity: p.Resolution.Integrity,
			Dev:       p.Dev,
		}
		switch {
		case p.Resolution.Tarball != "":
			pkg.Source = p.Resolution.Tarball
		case p.Resolution.Repo != "":
			pkg.Source = "git+" + p.Resolution.Repo
			if p.Resolution.Commit != "" {
				pkg.Source += "#" + p.Resolution.Commit
			}
		case p.Resolution.Directory != "":
			pkg.Source = "file:" + p.Resolution.Directory
		}
		lf.Packages = append(lf.Packages, pkg)
	}
	return lf, nil
}

func splitPNPMKey(key string) (string, string) {
	key = strings.TrimPrefix(key, "/")
	if i := strings.Index(key, "("); i > 0 {
		key = key[:i]
	}
	if at := strings.LastIndex(key, "@"); at > 0 {
		return key[:at], key[at+1:]
	}
	// v5: name/version, scoped names keep their first slash
	if slash := strings.LastIndex(key, "/"); slash > 0 {
		return key[:slash], key[slash+1:]
	}
	return key, ""
}

func pnpmMajor(v any) int {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case int:
		return t
	case float64:
		return int(t)
	default:
		s = fmt.Sprint(t)
	}
	major, _, _ := strings.Cut(s, ".")
	n, _ := strconv.Atoi(major)
	return n
}
