// Package hostdetect identifies the source hosting platform behind a
// repository URL declared in a bundle manifest.
package hostdetect

import (
	"net/url"
	"strings"
)

// Provider represents a source hosting platform.
type Provider string

// Provider constants for the hosting platforms the scanner recognizes.
const (
	ProviderGitHub    Provider = "github"
	ProviderGitLab    Provider = "gitlab"
	ProviderBitbucket Provider = "bitbucket"
	ProviderCodeberg  Provider = "codeberg"
	ProviderSourceHut Provider = "sourcehut"
	ProviderGitea     Provider = "gitea"
	ProviderUnknown   Provider = "unknown"
)

// wellKnownHosts maps public hosting domains to their provider.
var wellKnownHosts = map[string]Provider{
	"github.com":    ProviderGitHub,
	"gitlab.com":    ProviderGitLab,
	"bitbucket.org": ProviderBitbucket,
	"codeberg.org":  ProviderCodeberg,
	"sr.ht":         ProviderSourceHut,
	"git.sr.ht":     ProviderSourceHut,
	"gitea.com":     ProviderGitea,
}

// Info contains information extracted from a repository URL.
type Info struct {
	Provider Provider
	Scheme   string
	Host     string // lower-cased, port kept
	Owner    string // may include nested groups for GitLab, "~user" for SourceHut
	Repo     string
	URL      string // normalized: no trailing slash, no .git suffix
}

// HTTPS reports whether the URL uses https.
func (i *Info) HTTPS() bool {
	return i.Scheme == "https"
}

// Normalize trims surrounding space, trailing slashes and a ".git" suffix.
func Normalize(repoURL string) string {
	u := strings.TrimRight(strings.TrimSpace(repoURL), "/")
	return strings.TrimSuffix(u, ".git")
}

// FromURL extracts provider information from a repository URL.
// Returns nil if the URL is empty, has no scheme or host, or has fewer than
// two path components.
//
// Supported URL formats:
//   - https://github.com/owner/repo
//   - https://github.com/owner/repo.git
//   - https://gitlab.com/group/subgroup/repo
//   - https://git.sr.ht/~owner/repo
//   - https://gitlab.internal.corp:8443/team/project
func FromURL(repoURL string) *Info {
	normalized := Normalize(repoURL)
	if normalized == "" {
		return nil
	}

	u, err := url.Parse(normalized)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" {
		return nil
	}

	host := strings.ToLower(u.Host)
	provider := DetectProvider(host)

	var owner, repo string
	if len(parts) > 2 && provider != ProviderGitHub {
		// GitLab nested groups: group/subgroup/repo
		owner = strings.Join(parts[:len(parts)-1], "/")
		repo = parts[len(parts)-1]
	} else {
		// GitHub paths beyond owner/repo are tree/blob views
		owner = parts[0]
		repo = parts[1]
	}

	return &Info{
		Provider: provider,
		Scheme:   strings.ToLower(u.Scheme),
		Host:     host,
		Owner:    owner,
		Repo:     strings.TrimSuffix(repo, ".git"),
		URL:      normalized,
	}
}

// DetectProvider determines the provider from a hostname.
//
// Exact matches on public hosts come first, then subdomains of them
// (e.g. "enterprise.github.com"), then self-hosted instances that carry the
// product name in the hostname (e.g. "gitlab.internal.corp").
func DetectProvider(host string) Provider {
	host = stripPort(strings.ToLower(host))

	if p, ok := wellKnownHosts[host]; ok {
		return p
	}

	for known, p := range wellKnownHosts {
		if strings.HasSuffix(host, "."+known) {
			return p
		}
	}

	switch {
	case strings.Contains(host, "github"):
		return ProviderGitHub
	case strings.Contains(host, "gitlab"):
		return ProviderGitLab
	case strings.Contains(host, "bitbucket"):
		return ProviderBitbucket
	case strings.Contains(host, "gitea"):
		return ProviderGitea
	}

	return ProviderUnknown
}

// IsKnownHost reports whether host is, or is a subdomain of, a well-known
// public hosting platform. Self-hosted instances are not "known".
func IsKnownHost(host string) bool {
	host = stripPort(strings.ToLower(host))
	if _, ok := wellKnownHosts[host]; ok {
		return true
	}
	for known := range wellKnownHosts {
		if strings.HasSuffix(host, "."+known) {
			return true
		}
	}
	return false
}

// IsKnownProvider returns true if the provider is a recognized platform.
func IsKnownProvider(p Provider) bool {
	return p != ProviderUnknown
}

func stripPort(host string) string {
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		return host[:idx]
	}
	return host
}
