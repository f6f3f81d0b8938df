package vuln

import (
	"context"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	osvpb "github.com/ossf/osv-schema/bindings/go/osvschema"

	"github.com/mpaktrust/mpak-scanner/internal/lockfile"
	"github.com/mpaktrust/mpak-scanner/internal/logging"
)

// Match is one vulnerability affecting one package, with its enrichment and
// assessment.
type Match struct {
	Package     lockfile.Package
	ID          string // OSV id, e.g. GHSA-xxxx or PYSEC-xxxx
	CVE         string // empty when the record has no CVE alias
	Summary     string
	Label       string
	CVSS        *float64
	EPSS        *float64
	InKEV       bool
	FixVersions []string
	Assessment
}

// DisplayID is the CVE when known, else the OSV id.
func (m Match) DisplayID() string {
	if m.CVE != "" {
		return m.CVE
	}
	return m.ID
}

// Result is the outcome of scanning a package set.
type Result struct {
	Matches           []Match
	PackagesQueried   int
	KEVCatalogSize    int
	EPSSScoresFetched int
}

// KEVMatches counts matches present in the KEV catalog.
func (r *Result) KEVMatches() int {
	n := 0
	for _, m := range r.Matches {
		if m.InKEV {
			n++
		}
	}
	return n
}

// Scanner runs the OSV lookup, enrichment and assessment pipeline.
type Scanner struct {
	osv   *OSVClient
	feeds *FeedClient
	log   logging.Logger
}

// NewScanner creates a scanner.
func NewScanner(osv *OSVClient, feeds *FeedClient, log logging.Logger) *Scanner {
	if log == nil {
		log = logging.Discard()
	}
	return &Scanner{osv: osv, feeds: feeds, log: log}
}

// Scan looks up every package with a version. OSV failures are returned as
// errors; enrichment failures only remove data.
func (s *Scanner) Scan(ctx context.Context, pkgs []lockfile.Package) (*Result, error) {
	var queried []lockfile.Package
	var queries []Query
	for _, p := range pkgs {
		if p.Name == "" || p.Version == "" || p.Ecosystem == "" {
			continue
		}
		queried = append(queried, p)
		queries = append(queries, Query{Ecosystem: string(p.Ecosystem), Name: p.Name, Version: p.Version})
	}

	res := &Result{PackagesQueried: len(queries)}
	if len(queries) == 0 {
		return res, nil
	}

	s.log.Infof("Querying OSV.dev for %d packages", len(queries))
	idsPerQuery, err := s.osv.QueryBatch(ctx, queries)
	if err != nil {
		return nil, err
	}

	var ids []string
	seen := make(map[string]bool)
	for _, list := range idsPerQuery {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return res, nil
	}

	records, err := s.osv.Hydrate(ctx, ids)
	if err != nil {
		return nil, err
	}

	var cves []string
	for _, v := range records {
		if cve := CVEID(v); cve != "" {
			cves = append(cves, cve)
		}
	}
	sort.Strings(cves)
	enrichment := s.feeds.Enrich(ctx, cves)
	res.KEVCatalogSize = len(enrichment.KEV)
	res.EPSSScoresFetched = len(enrichment.EPSS)

	for i, list := range idsPerQuery {
		pkg := queried[i]
		for _, id := range list {
			v := records[id]
			if v == nil {
				continue
			}
			res.Matches = append(res.Matches, buildMatch(pkg, v, enrichment))
		}
	}
	res.Matches = mergeAliases(res.Matches)
	return res, nil
}

// mergeAliases collapses records that describe the same vulnerability for the
// same package, such as a GHSA and a PYSEC advisory sharing a CVE. The most
// severe assessment is kept and fix versions are combined. Order of first
// appearance is preserved.
func mergeAliases(matches []Match) []Match {
	index := make(map[string]int, len(matches))
	out := matches[:0:0]
	for _, m := range matches {
		key := strings.Join([]string{string(m.Package.Ecosystem), m.Package.Name, m.Package.Version, m.DisplayID()}, "\x00")
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, m)
			continue
		}
		kept := &out[i]
		fixes := append(append([]string(nil), kept.FixVersions...), m.FixVersions...)
		if moreSevere(m, *kept) {
			*kept = m
		}
		kept.FixVersions = sortVersions(dedupeStrings(fixes))
	}
	return out
}

func moreSevere(a, b Match) bool {
	if a.Blocking != b.Blocking {
		return a.Blocking
	}
	return a.Severity.Rank() > b.Severity.Rank()
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func buildMatch(pkg lockfile.Package, v *osvpb.Vulnerability, e Enrichment) Match {
	m := Match{
		Package:     pkg,
		ID:          v.GetId(),
		CVE:         CVEID(v),
		Summary:     v.GetSummary(),
		Label:       AdvisoryLabel(v),
		FixVersions: FixVersions(v, pkg),
	}
	if m.Summary == "" {
		m.Summary = v.GetDetails()
	}
	if score, ok := BestScore(v); ok {
		m.CVSS = &score
	}
	if m.CVE != "" {
		if score, ok := e.EPSS[m.CVE]; ok {
			m.EPSS = &score
		}
		m.InKEV = e.KEV[m.CVE]
	}
	m.Assessment = Assess(m.Label, m.CVSS, m.EPSS, m.InKEV)
	return m
}

// FixVersions lists the versions that fix v for pkg, lowest first.
func FixVersions(v *osvpb.Vulnerability, pkg lockfile.Package) []string {
	seen := make(map[string]bool)
	var fixes []string
	for _, a := range v.GetAffected() {
		ap := a.GetPackage()
		if ap != nil && ap.GetName() != "" && !strings.EqualFold(ap.GetName(), pkg.Name) {
			continue
		}
		for _, r := range a.GetRanges() {
			for _, ev := range r.GetEvents() {
				if f := ev.GetFixed(); f != "" && !seen[f] {
					seen[f] = true
					fixes = append(fixes, f)
				}
			}
		}
	}

	return sortVersions(fixes)
}

// sortVersions orders versions lowest first, falling back to string order
// for anything semver cannot parse.
func sortVersions(versions []string) []string {
	sort.SliceStable(versions, func(i, j int) bool {
		vi, erri := semver.NewVersion(versions[i])
		vj, errj := semver.NewVersion(versions[j])
		if erri != nil || errj != nil {
			return versions[i] < versions[j]
		}
		return vi.LessThan(vj)
	})
	return versions
}
