package lockfile

import (
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/gjson"
)

type uvLock struct {
	Version  int         `toml:"version"`
	Packages []uvPackage `toml:"package"`
}

type uvPackage struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Source  struct {
		Registry  string `toml:"registry"`
		Git       string `toml:"git"`
		URL       string `toml:"url"`
		Path      string `toml:"path"`
		Directory string `toml:"directory"`
		Editable  string `toml:"editable"`
		Virtual   string `toml:"virtual"`
	} `toml:"source"`
	Sdist  *uvArtifact  `toml:"sdist"`
	Wheels []uvArtifact `toml:"wheels"`
}

type uvArtifact struct {
	URL  string `toml:"url"`
	Hash string `toml:"hash"`
}

func parseUVLock(data []byte) (*Lockfile, error) {
	var doc uvLock
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	lf := &Lockfile{FormatVersion: doc.Version}
	for _, p := range doc.Packages {
		src := p.Source
		// The project itself
		if src.Editable != "" || src.Virtual != "" {
			continue
		}

		pkg := Package{Name: p.Name, Version: p.Version}
		switch {
		case src.Registry != "":
			pkg.Source = src.Registry
		case src.Git != "":
			pkg.Source = "git+" + src.Git
		case src.URL != "":
			pkg.Source = src.URL
		case src.Path != "":
			pkg.Source = "file:" + src.Path
		case src.Directory != "":
			pkg.Source = "file:" + src.Directory
		}
		if p.Sdist != nil && p.Sdist.Hash != "" {
			pkg.Integrity = p.Sdist.Hash
		} else {
			for _, w := range p.Wheels {
				if w.Hash != "" {
					pkg.Integrity = w.Hash
					break
				}
			}
		}
		lf.Packages = append(lf.Packages, pkg)
	}
	return lf, nil
}

type poetryLock struct {
	Packages []struct {
		Name     string       `toml:"name"`
		Version  string       `toml:"version"`
		Category string       `toml:"category"`
		Files    []poetryFile `toml:"files"`
		Source   *struct {
			Type              string `toml:"type"`
			URL               string `toml:"url"`
			ResolvedReference string `toml:"resolved_reference"`
		} `toml:"source"`
	} `toml:"package"`
	Metadata struct {
		// poetry < 1.2 keeps hashes here
		Files map[string][]poetryFile `toml:"files"`
	} `toml:"metadata"`
}

type poetryFile struct {
	File string `toml:"file"`
	Hash string `toml:"hash"`
}

func parsePoetryLock(data []byte) (*Lockfile, error) {
	var doc poetryLock
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	lf := &Lockfile{}
	for _, p := range doc.Packages {
		pkg := Package{Name: p.Name, Version: p.Version, Dev: p.Category == "dev"}

		files := p.Files
		if len(files) == 0 {
			files = doc.Metadata.Files[p.Name]
		}
		for _, f := range files {
			if f.Hash != "" {
				pkg.Integrity = f.Hash
				break
			}
		}

		if s := p.Source; s != nil {
			switch s.Type {
			case "git":
				pkg.Source = "git+" + s.URL
				if s.ResolvedReference != "" {
					pkg.Source += "#" + s.ResolvedReference
				}
			case "directory", "file":
				pkg.Source = "file:" + s.URL
			default:
				pkg.Source = s.URL
			}
		}
		lf.Packages = append(lf.Packages, pkg)
	}
	return lf, nil
}

type pdmLock struct {
	Packages []struct {
		Name     string       `toml:"name"`
		Version  string       `toml:"version"`
		Files    []poetryFile `toml:"files"`
		Git      string       `toml:"git"`
		Revision string       `toml:"revision"`
		URL      string       `toml:"url"`
		Path     string       `toml:"path"`
		Editable bool         `toml:"editable"`
	} `toml:"package"`
}

func parsePDMLock(data []byte) (*Lockfile, error) {
	var doc pdmLock
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	lf := &Lockfile{}
	for _, p := range doc.Packages {
		if p.Editable {
			continue
		}
		pkg := Package{Name: p.Name, Version: p.Version}
		switch {
		case p.Git != "":
			pkg.Source = "git+" + p.Git
			if p.Revision != "" {
				pkg.Source += "#" + p.Revision
			}
		case p.URL != "":
			pkg.Source = p.URL
		case p.Path != "":
			pkg.Source = "file:" + p.Path
		}
		for _, f := range p.Files {
			if f.Hash != "" {
				pkg.Integrity = f.Hash
				break
			}
		}
		lf.Packages = append(lf.Packages, pkg)
	}
	return lf, nil
}

// parsePipfileLock reads the default and develop groups. Index names are
// resolved against _meta.sources.
func parsePipfileLock(data []byte) (*Lockfile, error) {
	if !gjson.ValidBytes(data) {
		return nil, errInvalidJSON
	}

	indexes := make(map[string]string)
	gjson.GetBytes(data, "_meta.sources").ForEach(func(_, s gjson.Result) bool {
		indexes[s.Get("name").String()] = s.Get("url").String()
		return true
	})

	lf := &Lockfile{}
	for _, group := range []string{"default", "develop"} {
		gjson.GetBytes(data, group).ForEach(func(key, value gjson.Result) bool {
			if value.Get("editable").Bool() {
				return true
			}
			pkg := Package{
				Name:    key.String(),
				Version: strings.TrimPrefix(value.Get("version").String(), "=="),
				Dev:     group == "develop",
			}
			if hashes := value.Get("hashes").Array(); len(hashes) > 0 {
				pkg.Integrity = hashes[0].String()
			}
			switch {
			case value.Get("git").Exists():
				pkg.Source = "git+" + value.Get("git").String()
				if ref := value.Get("ref").String(); ref != "" {
					pkg.Source += "#" + ref
				}
			case value.Get("file").Exists():
				pkg.Source = value.Get("file").String()
			case value.Get("path").Exists():
				pkg.Source = "file:" + value.Get("path").String()
			case value.Get("index").Exists():
				pkg.Source = indexes[value.Get("index").String()]
			}
			lf.Packages = append(lf.Packages, pkg)
			return true
		})
	}
	return lf, nil
}
