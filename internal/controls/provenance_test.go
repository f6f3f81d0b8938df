package controls

import (
	"context"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/google/go-cmp/cmp"

	"github.com/mpaktrust/mpak-scanner/internal/core"
	"github.com/mpaktrust/mpak-scanner/internal/logging"
	"github.com/mpaktrust/mpak-scanner/internal/types"
)

// ============================================================================
// PR-01 Tests
// ============================================================================

func TestSourceRepository(t *testing.T) {
	tests := []struct {
		name       string
		manifest   string
		wantStatus types.ControlStatus
		wantTitles []string
	}{
		{
			name:       "missing",
			manifest:   `{}`,
			wantStatus: types.StatusFail,
			wantTitles: []string{"No repository declared"},
		},
		{
			name:       "object without url",
			manifest:   `{"repository": {"type": "git"}}`,
			wantStatus: types.StatusFail,
			wantTitles: []string{"Invalid repository format"},
		},
		{
			name:       "not a url",
			manifest:   `{"repository": "acme/weather"}`,
			wantStatus: types.StatusFail,
			wantTitles: []string{"Invalid repository URL"},
		},
		{
			name:       "known host",
			manifest:   `{"repository": {"type": "git", "url": "https://github.com/acme/weather.git"}}`,
			wantStatus: types.StatusPass,
			wantTitles: []string{"Repository on github.com"},
		},
		{
			name:       "plain http",
			manifest:   `{"repository": "http://gitlab.com/acme/weather"}`,
			wantStatus: types.StatusFail,
			wantTitles: []string{"Repository on gitlab.com", "Repository URL not HTTPS"},
		},
		{
			name:       "unknown host",
			manifest:   `{"repository": "https://git.acme.io/tools/weather"}`,
			wantStatus: types.StatusPass,
			wantTitles: []string{"Repository on unknown host"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := runControl(t, newSourceRepository(), map[string]string{"manifest.json": tt.manifest})
			assertStatus(t, r, tt.wantStatus)
			if diff := cmp.Diff(tt.wantTitles, titles(r)); diff != "" {
				t.Errorf("titles mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSourceRepository_RawOutput(t *testing.T) {
	r := runControl(t, newSourceRepository(), map[string]string{
		"manifest.json": `{"repository": " https://github.com/acme/weather.git/ "}`,
	})
	if got := r.RawOutput["repository_url"]; got != "https://github.com/acme/weather" {
		t.Errorf("repository_url = %v", got)
	}
	if got := r.Findings[0].Metadata["provider"]; got != "github" {
		t.Errorf("provider = %v", got)
	}
}

// ============================================================================
// PR-02 Tests
// ============================================================================

func TestAuthorIdentity(t *testing.T) {
	tests := []struct {
		name       string
		manifest   string
		wantStatus types.ControlStatus
		wantTitles []string
	}{
		{
			name:       "missing",
			manifest:   `{}`,
			wantStatus: types.StatusFail,
			wantTitles: []string{"No author identity declared"},
		},
		{
			name:       "personal email",
			manifest:   `{"author": "Ada Lovelace <ada@gmail.com>"}`,
			wantStatus: types.StatusPass,
			wantTitles: []string{"Found 1 author(s)"},
		},
		{
			name:       "organizational email",
			manifest:   `{"author": {"name": "Acme Tools", "email": "dev@Acme.io"}}`,
			wantStatus: types.StatusPass,
			wantTitles: []string{"Found 1 author(s)", "Organizational email: acme.io"},
		},
		{
			name:       "name only",
			manifest:   `{"author": "Ada Lovelace"}`,
			wantStatus: types.StatusPass,
			wantTitles: []string{"Found 1 author(s)", "Author without email"},
		},
		{
			name:       "invalid email",
			manifest:   `{"author": {"name": "Ada", "email": "ada-at-example"}}`,
			wantStatus: types.StatusFail,
			wantTitles: []string{"Invalid email format"},
		},
		{
			name:       "empty entry",
			manifest:   `{"author": {}}`,
			wantStatus: types.StatusFail,
			wantTitles: []string{"Empty author entry"},
		},
		{
			name:       "authors list and maintainer objects",
			manifest:   `{"authors": ["ada@gmail.com"], "maintainers": ["bob", {"name": "Bob", "email": "bob@proton.me"}]}`,
			wantStatus: types.StatusPass,
			wantTitles: []string{"Found 2 author(s)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := runControl(t, newAuthorIdentity(), map[string]string{"manifest.json": tt.manifest})
			assertStatus(t, r, tt.wantStatus)
			if diff := cmp.Diff(tt.wantTitles, titles(r)); diff != "" {
				t.Errorf("titles mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseAuthor(t *testing.T) {
	tests := []struct {
		in     string
		want   author
		wantOK bool
	}{
		{"Ada Lovelace <ada@example.org>", author{Name: "Ada Lovelace", Email: "ada@example.org"}, true},
		{"ada@example.org", author{Email: "ada@example.org"}, true},
		{"  Ada  ", author{Name: "Ada"}, true},
		{"", author{}, false},
	}
	for _, tt := range tests {
		got, ok := parseAuthor(tt.in)
		if ok != tt.wantOK {
			t.Errorf("parseAuthor(%q) ok = %v, want %v", tt.in, ok, tt.wantOK)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("parseAuthor(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestAuthorDisplay(t *testing.T) {
	if got := (author{Name: "Ada", Email: "ada@example.org"}).display(); got != "Ada <ada@example.org>" {
		t.Errorf("display = %q", got)
	}
	if got := (author{Email: "ada@example.org"}).display(); got != "ada@example.org" {
		t.Errorf("display = %q", got)
	}
}

// ============================================================================
// PR-04 Tests
// ============================================================================

const (
	tagCommit  = "8f14e45fceea167a5a36dedd4bea2543e1e6a6b0"
	bareCommit = "c9f0f895fb98ab9159f51fd0297e236d5c1f5c3e"
)

var weatherRefs = []RemoteRef{
	{Name: "1.2.0", Tag: true, Hash: bareCommit},
	{Name: "main", Hash: tagCommit},
	{Name: "v1.2.0", Tag: true, Hash: tagCommit},
}

func TestCommitLinkage(t *testing.T) {
	tests := []struct {
		name       string
		manifest   string
		refs       []RemoteRef
		listErr    error
		wantCall   bool
		wantStatus types.ControlStatus
		wantTitles []string
	}{
		{
			name:       "missing version",
			manifest:   `{"repository": "https://github.com/acme/weather"}`,
			wantStatus: types.StatusFail,
			wantTitles: []string{"Cannot link bundle to source"},
		},
		{
			name:       "prefixed tag preferred",
			manifest:   `{"version": "1.2.0", "repository": "https://github.com/acme/weather.git"}`,
			refs:       weatherRefs,
			wantCall:   true,
			wantStatus: types.StatusPass,
			wantTitles: []string{"Release tag v1.2.0 found"},
		},
		{
			name:       "bare tag",
			manifest:   `{"version": "1.2.0", "repository": "https://github.com/acme/weather"}`,
			refs:       weatherRefs[:1],
			wantCall:   true,
			wantStatus: types.StatusPass,
			wantTitles: []string{"Release tag 1.2.0 found"},
		},
		{
			name:       "branch with version name is not a tag",
			manifest:   `{"version": "1.3.0", "repository": "https://github.com/acme/weather"}`,
			refs:       []RemoteRef{{Name: "v1.3.0", Hash: tagCommit}},
			wantCall:   true,
			wantStatus: types.StatusFail,
			wantTitles: []string{"No release tag for version 1.3.0"},
		},
		{
			name: "declared commit matches",
			manifest: `{"version": "1.2.0", "repository": "https://github.com/acme/weather",
				"_meta": {"org.mpaktrust": {"source_commit": "8F14E45FCEEA167A5A36DEDD4BEA2543E1E6A6B0"}}}`,
			refs:       weatherRefs,
			wantCall:   true,
			wantStatus: types.StatusPass,
			wantTitles: []string{"Release tag v1.2.0 found"},
		},
		{
			name: "declared commit differs",
			manifest: `{"version": "1.2.0", "repository": "https://github.com/acme/weather",
				"_meta": {"org.mpaktrust": {"source_commit": "` + bareCommit + `"}}}`,
			refs:       weatherRefs,
			wantCall:   true,
			wantStatus: types.StatusFail,
			wantTitles: []string{"Source commit does not match tag v1.2.0"},
		},
		{
			name:       "remote unreachable",
			manifest:   `{"version": "1.2.0", "repository": "https://github.com/acme/weather"}`,
			listErr:    errors.New("authentication required"),
			wantCall:   true,
			wantStatus: types.StatusError,
			wantTitles: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			remote := NewMockRemoteLister(ctrl)
			if tt.wantCall {
				remote.EXPECT().
					ListRefs(gomock.Any(), "https://github.com/acme/weather").
					Return(tt.refs, tt.listErr)
			}

			r := runControl(t, newCommitLinkage(remote, logging.Discard()), map[string]string{"manifest.json": tt.manifest})
			assertStatus(t, r, tt.wantStatus)
			if diff := cmp.Diff(tt.wantTitles, titles(r)); diff != "" {
				t.Errorf("titles mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCommitLinkage_RawOutput(t *testing.T) {
	ctrl := gomock.NewController(t)
	remote := NewMockRemoteLister(ctrl)
	remote.EXPECT().ListRefs(gomock.Any(), gomock.Any()).Return(weatherRefs, nil)

	r := runControl(t, newCommitLinkage(remote, logging.Discard()), map[string]string{
		"manifest.json": `{"version": "1.2.0", "repository": "https://github.com/acme/weather"}`,
	})
	want := map[string]any{
		"repository": "https://github.com/acme/weather",
		"tag":        "v1.2.0",
		"commit":     tagCommit,
	}
	if diff := cmp.Diff(want, r.RawOutput); diff != "" {
		t.Errorf("raw_output mismatch (-want +got):\n%s", diff)
	}
}

func TestCommitLinkage_RemoteDisabled(t *testing.T) {
	c := newCommitLinkage(nil, logging.Discard())
	r := c.Run(context.Background(), &core.Bundle{Dir: t.TempDir(), Manifest: types.Manifest{}})
	assertStatus(t, r, types.StatusSkip)
	if r.Error == "" {
		t.Error("skip without reason")
	}
}

func TestFindVersionTag(t *testing.T) {
	if ref, ok := findVersionTag(weatherRefs, "1.2.0"); !ok || ref.Name != "v1.2.0" {
		t.Errorf("findVersionTag = %+v, %v; want v1.2.0", ref, ok)
	}
	if _, ok := findVersionTag(weatherRefs, "2.0.0"); ok {
		t.Error("findVersionTag found a tag for an unreleased version")
	}
	if _, ok := findVersionTag(nil, "1.2.0"); ok {
		t.Error("findVersionTag found a tag in an empty list")
	}
}
