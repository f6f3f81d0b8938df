package controls

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/mpaktrust/mpak-scanner/internal/core"
	"github.com/mpaktrust/mpak-scanner/internal/hostdetect"
	"github.com/mpaktrust/mpak-scanner/internal/logging"
	"github.com/mpaktrust/mpak-scanner/internal/types"
)

// repositoryURL extracts the repository URL from the string or {url} form.
// The second result reports whether the field is present at all.
func repositoryURL(m types.Manifest) (string, bool) {
	raw, ok := m["repository"]
	if !ok || raw == nil || raw == "" {
		return "", false
	}
	switch r := raw.(type) {
	case string:
		return strings.TrimSpace(r), true
	case map[string]any:
		u, _ := r["url"].(string)
		return strings.TrimSpace(u), true
	}
	return "", true
}

// author is one identity declared in the manifest.
type author struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (a author) display() string {
	switch {
	case a.Name != "" && a.Email != "":
		return a.Name + " <" + a.Email + ">"
	case a.Name != "":
		return a.Name
	}
	return a.Email
}

var (
	emailPattern        = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	authorStringPattern = regexp.MustCompile(`^(.+?)\s*<([^>]+)>$`)
)

// freeEmailDomains are consumer mail providers. Any other domain suggests an
// organizational affiliation.
var freeEmailDomains = map[string]bool{
	"gmail.com": true, "yahoo.com": true, "hotmail.com": true, "outlook.com": true,
	"live.com": true, "aol.com": true, "icloud.com": true, "protonmail.com": true,
	"proton.me": true, "mail.com": true, "yandex.com": true, "gmx.com": true,
}

// manifestAuthors collects author, authors, maintainers and publisher
// entries in that order.
func manifestAuthors(m types.Manifest) []author {
	var out []author
	addOne := func(v any, allowString bool) {
		switch a := v.(type) {
		case string:
			if allowString {
				if parsed, ok := parseAuthor(a); ok {
					out = append(out, parsed)
				}
			}
		case map[string]any:
			name, _ := a["name"].(string)
			email, _ := a["email"].(string)
			out = append(out, author{Name: name, Email: email})
		}
	}

	addOne(m["author"], true)
	for _, a := range m.List("authors") {
		addOne(a, true)
	}
	for _, a := range m.List("maintainers") {
		addOne(a, false)
	}
	addOne(m["publisher"], true)
	return out
}

// parseAuthor reads "Name <email>", a bare email or a bare name.
func parseAuthor(s string) (author, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return author{}, false
	}
	if m := authorStringPattern.FindStringSubmatch(s); m != nil {
		return author{Name: strings.TrimSpace(m[1]), Email: strings.TrimSpace(m[2])}, true
	}
	if emailPattern.MatchString(s) {
		return author{Email: s}, true
	}
	return author{Name: s}, true
}

// ============================================================================
// PR-01 Source Repository
// ============================================================================

type sourceRepository struct{ info }

func newSourceRepository() *sourceRepository {
	return &sourceRepository{info{
		ID:          "PR-01",
		Name:        "Source Repository",
		Domain:      types.DomainProvenance,
		Level:       types.LevelStandard,
		Enforcement: core.EnforcedByScanner,
		Description: "Verify source repository is declared and valid",
	}}
}

func (c *sourceRepository) Run(_ context.Context, b *core.Bundle) *types.ControlResult {
	found := newFindings(c.ID, 1)

	raw, present := repositoryURL(b.Manifest)
	if !present {
		found.add(types.Finding{
			Severity:    types.SeverityLow,
			Title:       "No repository declared",
			Description: "manifest.json does not include a 'repository' field (required for L2+)",
			File:        "manifest.json",
			Remediation: "Add 'repository' field with URL to source code",
		})
		return core.NewResult(c.Info(), types.StatusFail, found.list())
	}
	if raw == "" {
		found.add(types.Finding{
			Severity:    types.SeverityMedium,
			Title:       "Invalid repository format",
			Description: "Repository field exists but URL could not be extracted",
			File:        "manifest.json",
			Remediation: `Use format: {"repository": {"type": "git", "url": "https://..."}}`,
		})
		return core.NewResult(c.Info(), types.StatusFail, found.list())
	}

	repo := hostdetect.Normalize(raw)
	u, err := url.Parse(repo)
	if err != nil || u.Scheme == "" || u.Host == "" {
		found.add(types.Finding{
			Severity:    types.SeverityMedium,
			Title:       "Invalid repository URL",
			Description: "Repository URL is not valid: " + repo,
			File:        "manifest.json",
			Remediation: "Use a valid HTTPS URL",
		})
		return core.NewResult(c.Info(), types.StatusFail, found.list())
	}

	if scheme := strings.ToLower(u.Scheme); scheme != "https" {
		found.add(types.Finding{
			Severity:    types.SeverityMedium,
			Title:       "Repository URL not HTTPS",
			Description: fmt.Sprintf("Repository URL uses %s instead of https", scheme),
			File:        "manifest.json",
			Remediation: "Use HTTPS URL for repository",
		})
	}

	host := strings.ToLower(u.Host)
	meta := map[string]any{"url": repo, "host": host, "provider": string(hostdetect.DetectProvider(host))}
	if hostdetect.IsKnownHost(host) {
		found.prepend(types.Finding{
			Severity:    types.SeverityInfo,
			Title:       "Repository on " + host,
			Description: "Source repository: " + repo,
			Metadata:    meta,
		})
	} else {
		found.add(types.Finding{
			Severity:    types.SeverityLow,
			Title:       "Repository on unknown host",
			Description: fmt.Sprintf("Repository host '%s' is not a well-known platform", host),
			File:        "manifest.json",
			Metadata:    meta,
		})
	}

	fail := found.any(func(f types.Finding) bool {
		return f.Severity.AtLeast(types.SeverityMedium) && strings.Contains(strings.ToLower(f.Title), "repository")
	})
	r := core.NewResult(c.Info(), statusIf(fail), found.list())
	r.RawOutput = map[string]any{"repository_url": repo}
	return r
}

// ============================================================================
// PR-02 Author Identity
// ============================================================================

type authorIdentity struct{ info }

func newAuthorIdentity() *authorIdentity {
	return &authorIdentity{info{
		ID:          "PR-02",
		Name:        "Author Identity",
		Domain:      types.DomainProvenance,
		Level:       types.LevelStandard,
		Enforcement: core.EnforcedByBoth,
		Description: "Verify author identity is declared",
	}}
}

func (c *authorIdentity) Run(_ context.Context, b *core.Bundle) *types.ControlResult {
	found := newFindings(c.ID, 1)
	authors := manifestAuthors(b.Manifest)

	if len(authors) == 0 {
		found.add(types.Finding{
			Severity:    types.SeverityHigh,
			Title:       "No author identity declared",
			Description: "manifest.json does not include author information",
			File:        "manifest.json",
			Remediation: "Add 'author' or 'authors' field with name and email",
		})
		return core.NewResult(c.Info(), types.StatusFail, found.list())
	}

	valid := make([]author, 0, len(authors))
	for i, a := range authors {
		switch {
		case a.Name == "" && a.Email == "":
			found.add(types.Finding{
				Severity:    types.SeverityMedium,
				Title:       "Empty author entry",
				Description: fmt.Sprintf("Author entry %d has no name or email", i+1),
				File:        "manifest.json",
			})
		case a.Email != "" && !emailPattern.MatchString(a.Email):
			found.add(types.Finding{
				Severity:    types.SeverityMedium,
				Title:       "Invalid email format",
				Description: fmt.Sprintf("Author email '%s' is not valid", a.Email),
				File:        "manifest.json",
			})
		case a.Email != "":
			valid = append(valid, a)
			domain := strings.ToLower(a.Email[strings.LastIndexByte(a.Email, '@')+1:])
			if !freeEmailDomains[domain] {
				who := a.Name
				if who == "" {
					who = a.Email
				}
				found.add(types.Finding{
					Severity:    types.SeverityInfo,
					Title:       "Organizational email: " + domain,
					Description: fmt.Sprintf("Author %s uses organizational email", who),
					Metadata:    map[string]any{"domain": domain, "is_org": true},
				})
			}
		default:
			valid = append(valid, a)
			found.add(types.Finding{
				Severity:    types.SeverityLow,
				Title:       "Author without email",
				Description: fmt.Sprintf("Author '%s' has no email for verification", a.Name),
				File:        "manifest.json",
				Remediation: "Add email for author identity verification",
			})
		}
	}

	status := types.StatusFail
	if len(valid) > 0 {
		names := make([]string, len(valid))
		for i, a := range valid {
			names[i] = a.Name
			if names[i] == "" {
				names[i] = a.Email
			}
		}
		found.prepend(types.Finding{
			Severity:    types.SeverityInfo,
			Title:       fmt.Sprintf("Found %d author(s)", len(valid)),
			Description: strings.Join(names, ", "),
		})
		status = types.StatusPass
	}

	r := core.NewResult(c.Info(), status, found.list())
	r.RawOutput = map[string]any{"authors": valid}
	return r
}

// ============================================================================
// PR-03, PR-05 not evaluated by the scanner
// ============================================================================

func newBuildAttestation() *skipControl {
	return &skipControl{
		info: info{
			ID:          "PR-03",
			Name:        "Build Attestation",
			Domain:      types.DomainProvenance,
			Level:       types.LevelVerified,
			Enforcement: core.EnforcedByRegistry,
			Description: "Verify SLSA build provenance attestation",
		},
		reason: "Not yet implemented. Requires SLSA provenance verification via slsa-verifier.",
	}
}

func newRepositoryHealth() *skipControl {
	return &skipControl{
		info: info{
			ID:          "PR-05",
			Name:        "Repository Health",
			Domain:      types.DomainProvenance,
			Level:       types.LevelVerified,
			Enforcement: core.EnforcedByRegistry,
			Description: "Verify source repository passes OpenSSF Scorecard",
		},
		reason: "Not yet implemented. Requires scorecard CLI integration.",
	}
}

// ============================================================================
// PR-04 Commit Linkage
// ============================================================================

type commitLinkage struct {
	info
	remote RemoteLister
	log    logging.Logger
}

func newCommitLinkage(remote RemoteLister, log logging.Logger) *commitLinkage {
	return &commitLinkage{
		info: info{
			ID:          "PR-04",
			Name:        "Commit Linkage",
			Domain:      types.DomainProvenance,
			Level:       types.LevelAttested,
			Enforcement: core.EnforcedByBoth,
			Description: "Verify bundle links to exact source commit",
		},
		remote: remote,
		log:    log,
	}
}

func (c *commitLinkage) Run(ctx context.Context, b *core.Bundle) *types.ControlResult {
	if c.remote == nil {
		return core.Skip(c.Info(), "Remote verification disabled. Enable provenance.verify_remote to check tag and commit linkage.")
	}

	found := newFindings(c.ID, 1)
	repo, _ := repositoryURL(b.Manifest)
	version := b.Manifest.String("version")
	if repo == "" || version == "" {
		found.add(types.Finding{
			Severity:    types.SeverityMedium,
			Title:       "Cannot link bundle to source",
			Description: "manifest.json must declare both 'repository' and 'version' to verify commit linkage",
			File:        "manifest.json",
			Remediation: "Declare the source repository and bundle version",
		})
		return core.NewResult(c.Info(), types.StatusFail, found.list())
	}
	repo = hostdetect.Normalize(repo)

	c.log.WithField("repository", repo).Debugf("Listing remote references")
	refs, err := c.remote.ListRefs(ctx, repo)
	if err != nil {
		return core.Errorf(c.Info(), "list remote refs: %v", err)
	}

	tag, ok := findVersionTag(refs, version)
	if !ok {
		found.add(types.Finding{
			Severity:    types.SeverityHigh,
			Title:       "No release tag for version " + version,
			Description: fmt.Sprintf("Repository %s has no tag v%s or %s", repo, version, version),
			File:        "manifest.json",
			Remediation: "Tag the release commit with the bundle version and push the tag",
			Metadata:    map[string]any{"repository": repo, "version": version},
		})
		return core.NewResult(c.Info(), types.StatusFail, found.list())
	}

	meta := map[string]any{"repository": repo, "tag": tag.Name, "commit": tag.Hash}
	declared, _ := b.Manifest.MTF()["source_commit"].(string)
	if declared != "" && !strings.EqualFold(declared, tag.Hash) {
		meta["source_commit"] = declared
		found.add(types.Finding{
			Severity:    types.SeverityHigh,
			Title:       "Source commit does not match tag " + tag.Name,
			Description: fmt.Sprintf("Manifest declares commit %s but tag %s points at %s", declared, tag.Name, tag.Hash),
			File:        "manifest.json",
			Remediation: "Rebuild the bundle from the tagged commit",
			Metadata:    meta,
		})
		return core.NewResult(c.Info(), types.StatusFail, found.list())
	}

	found.prepend(types.Finding{
		Severity:    types.SeverityInfo,
		Title:       "Release tag " + tag.Name + " found",
		Description: fmt.Sprintf("Version %s resolves to commit %s", version, tag.Hash),
		Metadata:    meta,
	})
	r := core.NewResult(c.Info(), types.StatusPass, found.list())
	r.RawOutput = meta
	return r
}

// findVersionTag prefers "v<version>" over a bare "<version>" tag.
func findVersionTag(refs []RemoteRef, version string) (RemoteRef, bool) {
	var bare RemoteRef
	haveBare := false
	for _, ref := range refs {
		if !ref.Tag {
			continue
		}
		switch ref.Name {
		case "v" + version:
			return ref, true
		case version:
			bare, haveBare = ref, true
		}
	}
	return bare, haveBare
}
