// Package testutil provides shared test utilities for the mpak-scanner project:
// pointer helpers, serialization round-trip assertions and zip bundle fixtures.
package testutil

import (
	"archive/zip"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

// ============================================================================
// Pointer Helpers
// ============================================================================

// StrPtr creates a pointer to a string - useful for optional fields in tests.
func StrPtr(s string) *string {
	return &s
}

// IntPtr creates a pointer to an int - useful for optional fields in tests.
func IntPtr(i int) *int {
	return &i
}

// ============================================================================
// Bundle Fixtures
// ============================================================================

// ZipEntry is a single archive member. Names are written verbatim, so
// fixtures can carry hostile names such as "../../etc/passwd".
type ZipEntry struct {
	Name string
	Body string
	Mode os.FileMode // zero means a regular 0644 file
}

// WriteZip writes entries into a new zip archive under t.TempDir() and
// returns its path.
func WriteZip(t *testing.T, name string, entries []ZipEntry) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.Name, Method: zip.Deflate}
		mode := e.Mode
		if mode == 0 {
			mode = 0o644
		}
		hdr.SetMode(mode)

		w, err := zw.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("create entry %s: %v", e.Name, err)
		}
		if _, err := w.Write([]byte(e.Body)); err != nil {
			t.Fatalf("write entry %s: %v", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close archive: %v", err)
	}
	return path
}

// WriteBundle writes a .mcpb archive from a path -> content map. Entries are
// written in sorted order so fixtures are deterministic.
func WriteBundle(t *testing.T, files map[string]string) string {
	t.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]ZipEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, ZipEntry{Name: name, Body: files[name]})
	}
	return WriteZip(t, "bundle.mcpb", entries)
}

// WriteTree writes a path -> content map under a fresh directory and returns
// the directory. Useful for running a single control without an archive.
func WriteTree(t *testing.T, files map[string]string) string {
	t.Helper()

	root := t.TempDir()
	for name, body := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", name, err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return root
}

// MustJSON marshals v or fails the test.
func MustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}

// ============================================================================
// Round-Trip Assertions
// ============================================================================

// AssertYAMLRoundTrip marshals v to YAML and unmarshals back, failing if not equal.
func AssertYAMLRoundTrip[T any](t *testing.T, original T) {
	t.Helper()
	data, err := yaml.Marshal(original)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var parsed T
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if !reflect.DeepEqual(original, parsed) {
		t.Errorf("round-trip mismatch:\noriginal: %+v\nparsed:   %+v", original, parsed)
	}
}

// AssertJSONRoundTrip marshals v to JSON and unmarshals back, failing if not equal.
func AssertJSONRoundTrip[T any](t *testing.T, original T) {
	t.Helper()
	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var parsed T
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if diff := cmp.Diff(original, parsed); diff != "" {
		t.Errorf("round-trip mismatch (-original +parsed):\n%s", diff)
	}
}

// AssertJSONOmitsField verifies a field is not present in marshalled JSON output.
func AssertJSONOmitsField(t *testing.T, v any, fieldName string) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	if strings.Contains(string(data), `"`+fieldName+`"`) {
		t.Errorf("expected field %q to be omitted from JSON output, got:\n%s", fieldName, string(data))
	}
}

// AssertJSONContainsField verifies a field is present in marshalled JSON output.
func AssertJSONContainsField(t *testing.T, v any, fieldName string) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	if !strings.Contains(string(data), `"`+fieldName+`"`) {
		t.Errorf("expected field %q to be present in JSON output, got:\n%s", fieldName, string(data))
	}
}

// ============================================================================
// Error and Equality Assertions
// ============================================================================

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: expected no error, got: %v", msg, err)
	}
}

// AssertEqual fails the test with a diff if got and want differ.
func AssertEqual[T any](t *testing.T, got, want T, msg string) {
	t.Helper()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("%s (-want +got):\n%s", msg, diff)
	}
}
