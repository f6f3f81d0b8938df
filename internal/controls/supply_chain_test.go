package controls

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mpaktrust/mpak-scanner/internal/lockfile"
	"github.com/mpaktrust/mpak-scanner/internal/logging"
	"github.com/mpaktrust/mpak-scanner/internal/sbom"
	"github.com/mpaktrust/mpak-scanner/internal/types"
)

const lockWithSources = `{
  "name": "weather",
  "lockfileVersion": 3,
  "packages": {
    "": {"name": "weather", "version": "1.0.0"},
    "node_modules/express": {
      "version": "4.19.2",
      "resolved": "https://registry.npmjs.org/express/-/express-4.19.2.tgz",
      "integrity": "sha512-aaa"
    },
    "node_modules/evil": {
      "version": "0.0.1",
      "resolved": "http://registry.npmjs.org/evil/-/evil-0.0.1.tgz",
      "integrity": "sha512-bbb"
    },
    "node_modules/forked": {"version": "1.0.0", "resolved": "git+https://github.com/acme/forked.git#abc123"},
    "node_modules/mirror": {
      "version": "2.0.0",
      "resolved": "https://npm.example.com/mirror/-/mirror-2.0.0.tgz",
      "integrity": "sha512-ccc"
    },
    "node_modules/local": {"resolved": "packages/local", "link": true}
  }
}`

const lockV1 = `{
  "lockfileVersion": 1,
  "dependencies": {
    "zod": {"version": "3.23.8", "resolved": "https://registry.npmjs.org/zod/-/zod-3.23.8.tgz", "integrity": "sha512-ddd"}
  }
}`

const lockMissingIntegrity = `{
  "lockfileVersion": 3,
  "packages": {
    "node_modules/zod": {"version": "3.23.8", "resolved": "https://registry.npmjs.org/zod/-/zod-3.23.8.tgz"},
    "node_modules/ws": {"version": "8.17.0", "resolved": "https://registry.npmjs.org/ws/-/ws-8.17.0.tgz", "integrity": "sha512-eee"}
  }
}`

// ============================================================================
// SC-01 Tests
// ============================================================================

func TestSBOMGeneration(t *testing.T) {
	r := runControl(t, newSBOMGeneration(sbom.NewGenerator(), logging.Discard()), map[string]string{
		"manifest.json":     `{"name": "weather", "version": "1.0.0"}`,
		"package-lock.json": lockV1,
	})
	assertStatus(t, r, types.StatusPass)

	if diff := cmp.Diff([]string{"Component: zod"}, titles(r)); diff != "" {
		t.Errorf("titles mismatch (-want +got):\n%s", diff)
	}
	f := r.Findings[0]
	if f.ID != "SC-01-0000" {
		t.Errorf("ID = %s, want SC-01-0000", f.ID)
	}
	if purl, _ := f.Metadata["purl"].(string); purl != "pkg:npm/zod@3.23.8" {
		t.Errorf("purl = %q", purl)
	}
	if r.RawOutput["bomFormat"] != "CycloneDX" {
		t.Errorf("raw_output is not a CycloneDX document: %v", r.RawOutput["bomFormat"])
	}
}

func TestSubjectFromManifest(t *testing.T) {
	m := types.Manifest{
		"name":       "weather",
		"version":    "1.0.0",
		"author":     "Ada <ada@example.org>",
		"repository": map[string]any{"type": "git", "url": "https://github.com/acme/weather"},
	}
	want := sbom.Subject{
		Name:          "weather",
		Version:       "1.0.0",
		Author:        "Ada <ada@example.org>",
		RepositoryURL: "https://github.com/acme/weather",
	}
	if diff := cmp.Diff(want, SubjectFromManifest(m)); diff != "" {
		t.Errorf("SubjectFromManifest mismatch (-want +got):\n%s", diff)
	}
}

// ============================================================================
// SC-03 Tests
// ============================================================================

func TestDependencyPinning(t *testing.T) {
	tests := []struct {
		name       string
		files      map[string]string
		wantStatus types.ControlStatus
		wantTitles []string
	}{
		{
			name:       "nothing declared",
			files:      map[string]string{},
			wantStatus: types.StatusPass,
			wantTitles: []string{},
		},
		{
			name:       "unpinned requirement without lock",
			files:      map[string]string{"requirements.txt": "requests>=2.0\nmcp==1.0.0\n"},
			wantStatus: types.StatusFail,
			wantTitles: []string{"Unpinned dependency: requests"},
		},
		{
			name: "lockfile excuses unpinned requirement",
			files: map[string]string{
				"requirements.txt": "requests>=2.0\n",
				"uv.lock":          "version = 1\n",
			},
			wantStatus: types.StatusPass,
			wantTitles: []string{"Lock file found: uv.lock", "Unpinned dependency: requests"},
		},
		{
			name:       "package.json ranges are low",
			files:      map[string]string{"package.json": `{"dependencies": {"zod": "^3.23.0", "ws": "8.17.0"}}`},
			wantStatus: types.StatusPass,
			wantTitles: []string{"Unpinned dependency: zod"},
		},
		{
			name:       "pyproject ranges are low",
			files:      map[string]string{"pyproject.toml": "[project]\nname = \"w\"\ndependencies = [\"httpx>=0.27\"]\n"},
			wantStatus: types.StatusPass,
			wantTitles: []string{"Unpinned dependency in pyproject.toml: httpx"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := runControl(t, newDependencyPinning(), tt.files)
			assertStatus(t, r, tt.wantStatus)
			if diff := cmp.Diff(tt.wantTitles, titles(r)); diff != "" {
				t.Errorf("titles mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDependencyPinning_Description(t *testing.T) {
	r := runControl(t, newDependencyPinning(), map[string]string{"requirements.txt": "requests~=2.31\n"})
	f, ok := findTitle(r, "Unpinned dependency: requests")
	if !ok {
		t.Fatalf("finding missing: %v", titles(r))
	}
	if f.Severity != types.SeverityHigh || f.Line != 1 || f.File != "requirements.txt" {
		t.Errorf("finding = %+v", f)
	}
	if f.Description != "Uses compatible release version specifier" {
		t.Errorf("Description = %q", f.Description)
	}
}

// ============================================================================
// SC-04 Tests
// ============================================================================

func TestLockfileIntegrity(t *testing.T) {
	tests := []struct {
		name       string
		files      map[string]string
		wantTitles []string
	}{
		{
			name:       "no lockfile",
			files:      map[string]string{},
			wantTitles: []string{"No lockfile found"},
		},
		{
			name:       "all hashed",
			files:      map[string]string{"package-lock.json": lockWithSources},
			wantTitles: []string{"Lockfile found: package-lock.json"},
		},
		{
			name:       "missing integrity",
			files:      map[string]string{"package-lock.json": lockMissingIntegrity},
			wantTitles: []string{"Lockfile found: package-lock.json", "1 packages missing integrity hashes"},
		},
		{
			name:       "old npm lockfile",
			files:      map[string]string{"package-lock.json": lockV1},
			wantTitles: []string{"Lockfile found: package-lock.json", "Old lockfile version"},
		},
		{
			name:       "invalid lockfile",
			files:      map[string]string{"package-lock.json": "{"},
			wantTitles: []string{"Lockfile found: package-lock.json", "Invalid lockfile: package-lock.json"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := runControl(t, newLockfileIntegrity(), tt.files)
			assertStatus(t, r, types.StatusPass)
			if diff := cmp.Diff(tt.wantTitles, titles(r)); diff != "" {
				t.Errorf("titles mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLockfileIntegrity_MissingNames(t *testing.T) {
	r := runControl(t, newLockfileIntegrity(), map[string]string{"package-lock.json": lockMissingIntegrity})
	f, ok := findTitle(r, "1 packages missing integrity hashes")
	if !ok {
		t.Fatalf("finding missing: %v", titles(r))
	}
	if f.Description != "Packages without integrity: zod" {
		t.Errorf("Description = %q", f.Description)
	}
	if f.ID != "SC-04-0001" {
		t.Errorf("ID = %s", f.ID)
	}
}

func TestSummarizeNames(t *testing.T) {
	names := []string{"a", "b", "c", "d", "e", "f", "g"}
	if got := summarizeNames(names, 5); got != "a, b, c, d, e and 2 more" {
		t.Errorf("summarizeNames = %q", got)
	}
	if got := summarizeNames(names[:2], 5); got != "a, b" {
		t.Errorf("summarizeNames = %q", got)
	}
}

// ============================================================================
// SC-05 Tests
// ============================================================================

func TestTrustedSources(t *testing.T) {
	r := runControl(t, newTrustedSources(), map[string]string{"package-lock.json": lockWithSources})
	assertStatus(t, r, types.StatusFail)

	want := []string{
		"Insecure package source: evil",
		"Git dependency: forked",
		"Unknown registry: mirror",
	}
	if diff := cmp.Diff(want, titles(r)); diff != "" {
		t.Errorf("titles mismatch (-want +got):\n%s", diff)
	}
	if got := r.RawOutput["packages_checked"]; got != 4 {
		t.Errorf("packages_checked = %v, want 4", got)
	}
	for _, f := range r.Findings {
		if !f.InDeps {
			t.Errorf("%s: InDeps = false", f.Title)
		}
	}
}

func TestCheckSource_Registries(t *testing.T) {
	tests := []struct {
		eco      lockfile.Ecosystem
		src      string
		wantFlag bool
	}{
		{lockfile.EcosystemNPM, "https://registry.npmjs.org/zod/-/zod-1.0.0.tgz", false},
		{lockfile.EcosystemNPM, "https://registry.yarnpkg.com/zod/-/zod-1.0.0.tgz", false},
		{lockfile.EcosystemPyPI, "https://files.pythonhosted.org/packages/x.whl", false},
		{lockfile.EcosystemCargo, "https://github.com/rust-lang/crates.io-index", false},
		{lockfile.EcosystemCargo, "sparse+https://index.crates.io/", false},
		{lockfile.EcosystemCargo, "https://github.com/acme/crates", true},
		{lockfile.EcosystemNPM, "https://pypi.org/simple", true},
		{lockfile.EcosystemNPM, "", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.eco)+" "+tt.src, func(t *testing.T) {
			p := lockfile.Package{Name: "x", Version: "1.0.0", Ecosystem: tt.eco, Source: tt.src}
			if _, flagged := checkSource(p); flagged != tt.wantFlag {
				t.Errorf("checkSource flagged = %v, want %v", flagged, tt.wantFlag)
			}
		})
	}
}

func TestIsLocalSource(t *testing.T) {
	for _, src := range []string{"file:../x", "link:./pkg", "workspace:*", "git+https://x", "github:a/b"} {
		if !isLocalSource(src) {
			t.Errorf("isLocalSource(%q) = false", src)
		}
	}
	if isLocalSource("https://registry.npmjs.org/x.tgz") {
		t.Error("registry URL treated as local")
	}
}
