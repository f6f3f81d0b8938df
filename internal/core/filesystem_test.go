package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mpaktrust/mpak-scanner/internal/testutil"
)

// ============================================================================
// ValidateDestPath Tests
// ============================================================================

func TestValidateDestPath(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		wantError bool
	}{
		// Valid relative paths
		{"simple file", "manifest.json", false},
		{"nested path", "server/lib/util.py", false},
		{"dotfile", ".npmrc", false},
		{"with spaces", "my docs/file.txt", false},
		{"inner dotdot that stays inside", "a/b/../c.txt", false},
		{"dot only", ".", false},

		// Invalid: absolute paths
		{"absolute unix", "/etc/passwd", true},
		{"absolute windows", "C:\\Windows\\System32", true},
		{"windows forward slash", "C:/Windows/System32", true},
		{"backslash root", "\\evil", true},

		// Invalid: parent directory references
		{"parent ref simple", "../file.txt", true},
		{"classic traversal", "../../etc/passwd", true},
		{"parent ref in middle", "valid/../../bad/file.txt", true},
		{"backslash traversal", "..\\..\\evil.txt", true},
		{"double dot only", "..", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDestPath(tt.path)

			if tt.wantError && err == nil {
				t.Errorf("ValidateDestPath(%q) expected error, got nil", tt.path)
			}
			if !tt.wantError && err != nil {
				t.Errorf("ValidateDestPath(%q) expected no error, got %v", tt.path, err)
			}
		})
	}
}

// ============================================================================
// ExtractBundle Tests
// ============================================================================

func TestExtractBundle_Success(t *testing.T) {
	archive := testutil.WriteZip(t, "ok.mcpb", []testutil.ZipEntry{
		{Name: "manifest.json", Body: `{"name":"demo"}`},
		{Name: "server/", Mode: os.ModeDir | 0o755},
		{Name: "server/main.py", Body: "print('hi')"},
		{Name: "bin/run", Body: "#!/bin/sh", Mode: 0o755},
	})
	dest := t.TempDir()

	testutil.AssertNoError(t, ExtractBundle(archive, dest), "ExtractBundle")

	data, err := os.ReadFile(filepath.Join(dest, "server", "main.py"))
	testutil.AssertNoError(t, err, "read extracted file")
	testutil.AssertEqual(t, string(data), "print('hi')", "extracted content")

	info, err := os.Stat(filepath.Join(dest, "bin", "run"))
	testutil.AssertNoError(t, err, "stat executable")
	if info.Mode().Perm()&0o100 == 0 {
		t.Errorf("executable bit lost: %v", info.Mode())
	}
}

func TestExtractBundle_RejectsTraversal(t *testing.T) {
	tests := []struct {
		name  string
		entry testutil.ZipEntry
	}{
		{"dotdot", testutil.ZipEntry{Name: "../../etc/passwd", Body: "root:x:0:0"}},
		{"absolute", testutil.ZipEntry{Name: "/tmp/evil", Body: "x"}},
		{"symlink", testutil.ZipEntry{Name: "link", Body: "/etc/passwd", Mode: os.ModeSymlink | 0o777}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// The unsafe entry comes last so a write-as-you-go extractor
			// would already have written the first file.
			archive := testutil.WriteZip(t, "evil.mcpb", []testutil.ZipEntry{
				{Name: "manifest.json", Body: "{}"},
				tt.entry,
			})
			parent := t.TempDir()
			dest := filepath.Join(parent, "bundle")
			testutil.AssertNoError(t, os.MkdirAll(dest, 0o755), "mkdir")

			err := ExtractBundle(archive, dest)
			if !IsPathTraversal(err) {
				t.Fatalf("ExtractBundle() error = %v, want path traversal", err)
			}

			entries, _ := os.ReadDir(dest)
			if len(entries) != 0 {
				t.Errorf("no file may be written on rejection, found %d", len(entries))
			}
			if _, statErr := os.Stat(filepath.Join(parent, "etc", "passwd")); statErr == nil {
				t.Error("traversal entry was written outside the destination")
			}
		})
	}
}

func TestExtractBundle_NotAZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.mcpb")
	testutil.AssertNoError(t, os.WriteFile(path, []byte("not a zip"), 0o644), "write")

	err := ExtractBundle(path, t.TempDir())
	if !IsExtractionError(err) {
		t.Fatalf("error = %v, want ExtractionError", err)
	}
	if !strings.Contains(err.Error(), "Fix:") {
		t.Errorf("error should carry a fix hint: %v", err)
	}
}

// ============================================================================
// Hash and Manifest Tests
// ============================================================================

func TestComputeBundleHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.mcpb")
	testutil.AssertNoError(t, os.WriteFile(path, []byte("abc"), 0o644), "write")

	got, err := ComputeBundleHash(path)
	testutil.AssertNoError(t, err, "ComputeBundleHash")
	testutil.AssertEqual(t, got, "sha256:ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", "hash")

	_, err = ComputeBundleHash(filepath.Join(t.TempDir(), "missing"))
	if !IsHashError(err) {
		t.Errorf("missing file error = %v, want HashError", err)
	}
}

func TestLoadManifest(t *testing.T) {
	tests := []struct {
		name     string
		files    map[string]string
		wantName string
		wantLen  int
	}{
		{"valid", map[string]string{"manifest.json": `{"name":"demo","version":"1.0.0"}`}, "demo", 2},
		{"missing", map[string]string{"README.md": "x"}, "", 0},
		{"invalid json", map[string]string{"manifest.json": `{nope`}, "", 0},
		{"array", map[string]string{"manifest.json": `[1,2]`}, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := testutil.WriteTree(t, tt.files)
			m := LoadManifest(dir)
			if m == nil {
				t.Fatal("LoadManifest must never return nil")
			}
			testutil.AssertEqual(t, m.String("name"), tt.wantName, "name")
			testutil.AssertEqual(t, len(m), tt.wantLen, "key count")
		})
	}
}
