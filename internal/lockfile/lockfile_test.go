package lockfile

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/mpaktrust/mpak-scanner/internal/testutil"
)

// ============================================================================
// Parser Tests
// ============================================================================

const packageLockV3 = `{
  "name": "weather",
  "lockfileVersion": 3,
  "packages": {
    "": {"name": "weather", "version": "1.0.0"},
    "node_modules/@modelcontextprotocol/sdk": {
      "version": "1.0.0",
      "resolved": "https://registry.npmjs.org/@modelcontextprotocol/sdk/-/sdk-1.0.0.tgz",
      "integrity": "sha512-aaa"
    },
    "node_modules/zod": {"version": "3.23.8", "resolved": "https://registry.npmjs.org/zod/-/zod-3.23.8.tgz"},
    "node_modules/typescript": {"version": "5.4.5", "dev": true, "integrity": "sha512-bbb"},
    "node_modules/local": {"resolved": "packages/local", "link": true}
  }
}`

const packageLockV1 = `{
  "lockfileVersion": 1,
  "dependencies": {
    "express": {
      "version": "4.18.2",
      "integrity": "sha512-ccc",
      "dependencies": {"debug": {"version": "2.6.9", "integrity": "sha512-ddd"}}
    }
  }
}`

const yarnClassic = `# yarn lockfile v1

"@babel/code-frame@^7.0.0", "@babel/code-frame@^7.10.4":
  version "7.12.13"
  resolved "https://registry.yarnpkg.com/@babel/code-frame/-/code-frame-7.12.13.tgz#dcfc826b"
  integrity sha512-eee
  dependencies:
    "@babel/highlight" "^7.10.4"

lodash@^4.17.21:
  version "4.17.21"
  resolved "https://registry.yarnpkg.com/lodash/-/lodash-4.17.21.tgz"
`

const yarnBerry = `__metadata:
  version: 6
  cacheKey: 8

"lodash@npm:^4.17.21":
  version: 4.17.21
  resolution: "lodash@npm:4.17.21"
  checksum: 10c0/abc
  languageName: node
  linkType: hard

"weather@workspace:.":
  version: 0.0.0-use.local
  resolution: "weather@workspace:."
  languageName: unknown
  linkType: soft
`

const pnpmV9 = `lockfileVersion: '9.0'
packages:
  zod@3.23.8:
    resolution: {integrity: sha512-fff}
  '@types/node@20.12.7':
    resolution: {integrity: sha512-ggg}
  react-dom@18.3.1(react@18.3.1):
    resolution: {integrity: sha512-hhh}
  tarball-only@1.0.0:
    resolution: {tarball: https://example.com/tarball-only-1.0.0.tgz}
`

const uvLockDoc = `version = 1

[[package]]
name = "weather"
version = "0.1.0"
source = { editable = "." }

[[package]]
name = "anyio"
version = "4.4.0"
source = { registry = "https://pypi.org/simple" }
sdist = { url = "https://files.pythonhosted.org/anyio-4.4.0.tar.gz", hash = "sha256:111" }

[[package]]
name = "mcp"
version = "1.2.0"
source = { git = "https://github.com/modelcontextprotocol/python-sdk?rev=v1.2.0#abc" }
`

const poetryLockDoc = `[[package]]
name = "httpx"
version = "0.27.0"
category = "main"
files = [
    {file = "httpx-0.27.0-py3-none-any.whl", hash = "sha256:222"},
]

[[package]]
name = "pytest"
version = "8.2.0"
category = "dev"

[package.source]
type = "git"
url = "https://github.com/pytest-dev/pytest.git"
resolved_reference = "deadbeef"
`

const pdmLockDoc = `[[package]]
name = "click"
version = "8.1.7"
files = [
    {file = "click-8.1.7.tar.gz", hash = "sha256:333"},
]
`

const pipfileLockDoc = `{
  "_meta": {"sources": [{"name": "pypi", "url": "https://pypi.org/simple"}]},
  "default": {
    "requests": {"hashes": ["sha256:444"], "index": "pypi", "version": "==2.32.3"},
    "local": {"editable": true, "path": "."}
  },
  "develop": {
    "black": {"version": "==24.4.2"}
  }
}`

const cargoLockDoc = `version = 3

[[package]]
name = "server"
version = "0.1.0"

[[package]]
name = "serde"
version = "1.0.200"
source = "registry+https://github.com/rust-lang/crates.io-index"
checksum = "555"
`

const goSumDoc = `github.com/spf13/cobra v1.9.1 h1:abc=
github.com/spf13/cobra v1.9.1/go.mod h1:def=
golang.org/x/sys v0.30.0/go.mod h1:ghi=
not a valid line
`

const gemfileLockDoc = `GEM
  remote: https://rubygems.org/
  specs:
    rack (3.0.8)
    rails (7.1.0)
      rack (>= 2.2.4)

GIT
  remote: https://github.com/example/foo.git
  revision: abc123
  specs:
    foo (1.0.0)

PATH
  remote: .
  specs:
    weather (0.1.0)

CHECKSUMS
  rack (3.0.8) sha256=666
`

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		file        string
		data        string
		wantVersion int
		want        []Package
	}{
		{
			name: "package-lock v3", file: PackageLockJSON, data: packageLockV3, wantVersion: 3,
			want: []Package{
				{Name: "@modelcontextprotocol/sdk", Version: "1.0.0", Source: "https://registry.npmjs.org/@modelcontextprotocol/sdk/-/sdk-1.0.0.tgz", Integrity: "sha512-aaa"},
				{Name: "typescript", Version: "5.4.5", Integrity: "sha512-bbb", Dev: true},
				{Name: "zod", Version: "3.23.8", Source: "https://registry.npmjs.org/zod/-/zod-3.23.8.tgz"},
			},
		},
		{
			name: "package-lock v1 nested", file: PackageLockJSON, data: packageLockV1, wantVersion: 1,
			want: []Package{
				{Name: "debug", Version: "2.6.9", Integrity: "sha512-ddd"},
				{Name: "express", Version: "4.18.2", Integrity: "sha512-ccc"},
			},
		},
		{
			name: "yarn classic", file: YarnLock, data: yarnClassic,
			want: []Package{
				{Name: "@babel/code-frame", Version: "7.12.13", Source: "https://registry.yarnpkg.com/@babel/code-frame/-/code-frame-7.12.13.tgz#dcfc826b", Integrity: "sha512-eee"},
				{Name: "lodash", Version: "4.17.21", Source: "https://registry.yarnpkg.com/lodash/-/lodash-4.17.21.tgz"},
			},
		},
		{
			name: "yarn berry skips workspace", file: YarnLock, data: yarnBerry,
			want: []Package{
				{Name: "lodash", Version: "4.17.21", Integrity: "10c0/abc"},
			},
		},
		{
			name: "pnpm v9", file: PNPMLock, data: pnpmV9, wantVersion: 9,
			want: []Package{
				{Name: "@types/node", Version: "20.12.7", Integrity: "sha512-ggg"},
				{Name: "react-dom", Version: "18.3.1", Integrity: "sha512-hhh"},
				{Name: "tarball-only", Version: "1.0.0", Source: "https://example.com/tarball-only-1.0.0.tgz"},
				{Name: "zod", Version: "3.23.8", Integrity: "sha512-fff"},
			},
		},
		{
			name: "uv skips editable project", file: UVLock, data: uvLockDoc, wantVersion: 1,
			want: []Package{
				{Name: "anyio", Version: "4.4.0", Source: "https://pypi.org/simple", Integrity: "sha256:111"},
				{Name: "mcp", Version: "1.2.0", Source: "git+https://github.com/modelcontextprotocol/python-sdk?rev=v1.2.0#abc"},
			},
		},
		{
			name: "poetry", file: PoetryLock, data: poetryLockDoc,
			want: []Package{
				{Name: "httpx", Version: "0.27.0", Integrity: "sha256:222"},
				{Name: "pytest", Version: "8.2.0", Source: "git+https://github.com/pytest-dev/pytest.git#deadbeef", Dev: true},
			},
		},
		{
			name: "pdm", file: PDMLock, data: pdmLockDoc,
			want: []Package{{Name: "click", Version: "8.1.7", Integrity: "sha256:333"}},
		},
		{
			name: "Pipfile", file: PipfileLock, data: pipfileLockDoc,
			want: []Package{
				{Name: "black", Version: "24.4.2", Dev: true},
				{Name: "requests", Version: "2.32.3", Source: "https://pypi.org/simple", Integrity: "sha256:444"},
			},
		},
		{
			name: "Cargo skips workspace members", file: CargoLock, data: cargoLockDoc, wantVersion: 3,
			want: []Package{
				{Name: "serde", Version: "1.0.200", Source: "https://github.com/rust-lang/crates.io-index", Integrity: "555"},
			},
		},
		{
			name: "go.sum", file: GoSum, data: goSumDoc,
			want: []Package{{Name: "github.com/spf13/cobra", Version: "v1.9.1", Integrity: "h1:abc="}},
		},
		{
			name: "Gemfile", file: GemfileLock, data: gemfileLockDoc,
			want: []Package{
				{Name: "foo", Version: "1.0.0", Source: "git+https://github.com/example/foo.git"},
				{Name: "rack", Version: "3.0.8", Source: "https://rubygems.org/", Integrity: "sha256=666"},
				{Name: "rails", Version: "7.1.0", Source: "https://rubygems.org/"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lf, err := Parse(tt.file, tt.file, []byte(tt.data))
			testutil.AssertNoError(t, err, "Parse")

			if lf.FormatVersion != tt.wantVersion {
				t.Errorf("FormatVersion = %d, want %d", lf.FormatVersion, tt.wantVersion)
			}
			eco, _ := EcosystemFor(tt.file)
			for _, p := range lf.Packages {
				if p.Ecosystem != eco || p.Lockfile != tt.file {
					t.Errorf("package %s: ecosystem=%q lockfile=%q", p.Name, p.Ecosystem, p.Lockfile)
				}
			}
			ignore := cmpopts.IgnoreFields(Package{}, "Ecosystem", "Lockfile")
			if diff := cmp.Diff(tt.want, lf.Packages, ignore); diff != "" {
				t.Errorf("packages mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		data string
	}{
		{"invalid package-lock", PackageLockJSON, "{not json"},
		{"invalid Pipfile.lock", PipfileLock, "[1,"},
		{"invalid uv.lock", UVLock, "[[package]\nname ="},
		{"invalid pnpm", PNPMLock, "packages: [unterminated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.file, "deps/"+tt.file, []byte(tt.data))
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("error = %v, want *ParseError", err)
			}
			if perr.Path != "deps/"+tt.file {
				t.Errorf("Path = %q", perr.Path)
			}
		})
	}

	if _, err := Parse("requirements.txt", "requirements.txt", nil); !errors.Is(err, ErrUnsupported) {
		t.Errorf("error = %v, want ErrUnsupported", err)
	}
}

// ============================================================================
// Inventory Tests
// ============================================================================

func TestScan(t *testing.T) {
	root := testutil.WriteTree(t, map[string]string{
		"uv.lock":                uvLockDoc,
		"deps/uv.lock":           uvLockDoc,
		"deps/package-lock.json": "{broken",
		"server/Cargo.lock":      cargoLockDoc, // not a search directory
	})

	inv, err := Scan(root)
	if err == nil {
		t.Fatal("expected parse error for deps/package-lock.json")
	}

	if diff := cmp.Diff([]string{"uv.lock", "deps/uv.lock", "deps/package-lock.json"}, inv.Found); diff != "" {
		t.Errorf("Found mismatch (-want +got):\n%s", diff)
	}
	if len(inv.Lockfiles) != 2 {
		t.Fatalf("parsed %d lockfiles, want 2", len(inv.Lockfiles))
	}
	if got := inv.RootNames(); len(got) != 1 || got[0] != "uv.lock" {
		t.Errorf("RootNames() = %v", got)
	}

	pkgs := inv.Packages()
	if len(pkgs) != 2 {
		t.Fatalf("Packages() = %d, want 2 after dedupe", len(pkgs))
	}
	if pkgs[0].Lockfile != "uv.lock" {
		t.Errorf("root lockfile should win dedupe, got %s", pkgs[0].Lockfile)
	}
	if eco := inv.Ecosystems(); len(eco) != 1 || eco[0] != EcosystemPyPI {
		t.Errorf("Ecosystems() = %v", eco)
	}
}

func TestScan_Empty(t *testing.T) {
	inv, err := Scan(t.TempDir())
	testutil.AssertNoError(t, err, "Scan")
	if inv.HasLockfile() || len(inv.Packages()) != 0 {
		t.Errorf("empty bundle should have no lockfiles: %+v", inv)
	}
}
