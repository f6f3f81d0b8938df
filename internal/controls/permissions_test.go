package controls

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mpaktrust/mpak-scanner/internal/types"
)

const noPermissions = `{"permissions": {"filesystem": "none", "network": "none", "environment": "none", "subprocess": "none", "native": "none"}}`

func TestPermissionScope(t *testing.T) {
	tests := []struct {
		name       string
		files      map[string]string
		wantStatus types.ControlStatus
		wantTitles []string
	}{
		{
			name:       "no permissions block",
			files:      map[string]string{"manifest.json": `{}`},
			wantStatus: types.StatusFail,
			wantTitles: []string{"No permissions declared"},
		},
		{
			name:       "everything none and no code",
			files:      map[string]string{"manifest.json": noPermissions},
			wantStatus: types.StatusPass,
			wantTitles: []string{"Permissions declared"},
		},
		{
			name: "block in MTF extension",
			files: map[string]string{"manifest.json": `{"_meta": {"org.mpaktrust": {"permissions": {
				"filesystem": "read", "network": "outbound", "environment": "none", "subprocess": "none", "native": "none"
			}}}}`},
			wantStatus: types.StatusPass,
			wantTitles: []string{"Permissions declared"},
		},
		{
			name:       "missing and invalid values",
			files:      map[string]string{"manifest.json": `{"permissions": {"filesystem": "read", "network": "everywhere"}}`},
			wantStatus: types.StatusPass,
			wantTitles: []string{
				"Permissions declared",
				"Invalid permission value: network=everywhere",
				"Missing permission: environment",
				"Missing permission: subprocess",
				"Missing permission: native",
			},
		},
		{
			name: "undeclared subprocess",
			files: map[string]string{
				"manifest.json": noPermissions,
				"server.py":     "import subprocess\n\n\ndef ls():\n    return subprocess.run(['ls'])\n",
			},
			wantStatus: types.StatusFail,
			wantTitles: []string{"Permissions declared", "Undeclared subprocess permission"},
		},
		{
			name: "network at import time",
			files: map[string]string{
				"manifest.json": noPermissions,
				"server.py":     "import requests\nCONFIG = requests.get('https://config.example.com').json()\n",
			},
			wantStatus: types.StatusFail,
			wantTitles: []string{"Permissions declared", "Undeclared init-time network access", "Undeclared network permission"},
		},
		{
			name: "network at runtime",
			files: map[string]string{
				"manifest.json": noPermissions,
				"server.py":     "import requests\n\n\ndef fetch():\n    return requests.get('https://api.example.com')\n",
			},
			wantStatus: types.StatusPass,
			wantTitles: []string{"Permissions declared", "Undeclared runtime network access", "Undeclared network permission"},
		},
		{
			name: "secret environment variable",
			files: map[string]string{
				"manifest.json": noPermissions,
				"server.py":     "import os\nTOKEN = os.environ['GITHUB_TOKEN']\n",
			},
			wantStatus: types.StatusFail,
			wantTitles: []string{
				"Permissions declared",
				"Secret environment variable access: GITHUB_TOKEN",
				"Undeclared environment permission",
			},
		},
		{
			name: "secret variable configured for the server",
			files: map[string]string{
				"manifest.json": `{
					"server": {"mcp_config": {"env": {"GITHUB_TOKEN": "${user_config.token}"}}},
					"permissions": {"filesystem": "none", "network": "none", "environment": "none", "subprocess": "none", "native": "none"}
				}`,
				"server.py": "import os\nTOKEN = os.environ['GITHUB_TOKEN']\n",
			},
			wantStatus: types.StatusPass,
			wantTitles: []string{"Permissions declared", "Undeclared environment permission"},
		},
		{
			name: "sensitive path",
			files: map[string]string{
				"manifest.json": noPermissions,
				"server.py":     "CREDS = '~/.aws/credentials'\n",
			},
			wantStatus: types.StatusFail,
			wantTitles: []string{"Permissions declared", "Sensitive path access: ~/.aws"},
		},
		{
			name: "test code is not scanned",
			files: map[string]string{
				"manifest.json":   noPermissions,
				"tests/test_x.py": "import subprocess\nsubprocess.run(['ls'])\n",
			},
			wantStatus: types.StatusPass,
			wantTitles: []string{"Permissions declared"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := runControl(t, newPermissionScope(), tt.files)
			assertStatus(t, r, tt.wantStatus)
			if diff := cmp.Diff(tt.wantTitles, titles(r)); diff != "" {
				t.Errorf("titles mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPermissionScope_RawOutput(t *testing.T) {
	r := runControl(t, newPermissionScope(), map[string]string{
		"manifest.json": noPermissions,
		"index.js":      "const fs = require('fs');\nfs.readFileSync(p);\n",
		"server.py":     "subprocess.call(['ls'])\n",
	})

	want := map[string]int{
		permFilesystem:  1,
		permNetwork:     0,
		permEnvironment: 0,
		permSubprocess:  1,
		permNative:      0,
	}
	if diff := cmp.Diff(want, r.RawOutput["detected"]); diff != "" {
		t.Errorf("detected mismatch (-want +got):\n%s", diff)
	}
	f, ok := findTitle(r, "Permissions declared")
	if !ok {
		t.Fatalf("summary missing: %v", titles(r))
	}
	if f.ID != "CD-02-0000" {
		t.Errorf("summary ID = %s", f.ID)
	}
	if want := "environment=none, filesystem=none, native=none, network=none, subprocess=none"; f.Description != want {
		t.Errorf("summary = %q, want %q", f.Description, want)
	}
}

// ============================================================================
// Python Scope Tests
// ============================================================================

func TestRunsAtImport(t *testing.T) {
	lines := []string{
		"import requests",
		"requests.get(x)",
		"",
		"class Client:",
		"    session = requests.Session()",
		"",
		"    def fetch(self):",
		"        # cached",
		"        if True:",
		"            return requests.get(x)",
		"async def run():",
		"\treturn requests.get(x)",
		"if __name__ == '__main__':",
		"    requests.get(x)",
	}
	tests := []struct {
		idx  int
		want bool
	}{
		{1, true},
		{4, true},
		{9, false},
		{11, false},
		{13, true},
		{-1, false},
		{len(lines), false},
	}
	for _, tt := range tests {
		if got := runsAtImport(lines, tt.idx); got != tt.want {
			t.Errorf("runsAtImport(%d) = %v, want %v", tt.idx, got, tt.want)
		}
	}
}

func TestIndentOf(t *testing.T) {
	tests := []struct {
		line string
		want int
	}{
		{"x", 0},
		{"    x", 4},
		{"\tx", 8},
		{"  \tx", 8},
		{"\t  x", 10},
		{"   ", 3},
	}
	for _, tt := range tests {
		if got := indentOf(tt.line); got != tt.want {
			t.Errorf("indentOf(%q) = %d, want %d", tt.line, got, tt.want)
		}
	}
}
