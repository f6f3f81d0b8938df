package vuln

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeOSV serves /v1/querybatch from byName and /v1/vulns/{id} from records.
// A query for a package named "paged" returns two pages.
type fakeOSV struct {
	byName  map[string][]string
	records map[string]string

	batchCalls atomic.Int32
	vulnCalls  atomic.Int32
	fail       atomic.Bool
}

func (f *fakeOSV) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.fail.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/querybatch":
			f.batchCalls.Add(1)
			var req osvBatchRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			type vuln struct {
				ID string `json:"id"`
			}
			type result struct {
				Vulns         []vuln `json:"vulns,omitempty"`
				NextPageToken string `json:"next_page_token,omitempty"`
			}
			var out struct {
				Results []result `json:"results"`
			}
			for _, q := range req.Queries {
				var res result
				if q.Package.Name == "paged" {
					if q.PageToken == "" {
						res = result{Vulns: []vuln{{ID: "GHSA-P1"}}, NextPageToken: "page2"}
					} else {
						res = result{Vulns: []vuln{{ID: "GHSA-P2"}}}
					}
				}
				for _, id := range f.byName[q.Package.Name] {
					res.Vulns = append(res.Vulns, vuln{ID: id})
				}
				out.Results = append(out.Results, res)
			}
			_ = json.NewEncoder(w).Encode(out)
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/vulns/"):
			f.vulnCalls.Add(1)
			rec, ok := f.records[strings.TrimPrefix(r.URL.Path, "/v1/vulns/")]
			if !ok {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write([]byte(rec))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// recordingObserver counts feed fetch outcomes.
type recordingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *recordingObserver) FeedFetched(feed string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = make(map[string]int)
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	o.counts[feed+"/"+outcome]++
}

func (o *recordingObserver) count(key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[key]
}

// manualClock is advanced explicitly by tests.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const recordHigh = `{
  "id": "GHSA-1111",
  "summary": "Header injection in requests",
  "aliases": ["CVE-2024-0001"],
  "severity": [{"type": "CVSS_V3", "score": "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:N/I:N/A:H"}],
  "affected": [{
    "package": {"ecosystem": "PyPI", "name": "requests"},
    "ranges": [{"type": "ECOSYSTEM", "events": [{"introduced": "0"}, {"fixed": "2.32.0"}, {"introduced": "3.0.0"}, {"fixed": "3.0.1"}]}]
  }],
  "database_specific": {"severity": "HIGH", "github_reviewed": true},
  "unknown_field": 1
}`

const recordKEV = `{
  "id": "GHSA-2222",
  "summary": "Template sandbox escape",
  "aliases": ["CVE-2024-0002"],
  "database_specific": {"severity": "MODERATE"},
  "affected": [{"package": {"ecosystem": "PyPI", "name": "jinja2"}, "ranges": [{"type": "ECOSYSTEM", "events": [{"introduced": "0"}, {"fixed": "3.1.4"}]}]}]
}`

const recordNoCVE = `{
  "id": "PYSEC-3333",
  "details": "Moderate issue without a CVE",
  "database_specific": {"severity": "moderate"}
}`

const recordKEVAlias = `{
  "id": "PYSEC-4444",
  "summary": "Sandbox escape in jinja2",
  "aliases": ["CVE-2024-0002"],
  "database_specific": {"severity": "LOW"},
  "affected": [{"package": {"ecosystem": "PyPI", "name": "jinja2"}, "ranges": [{"type": "ECOSYSTEM", "events": [{"introduced": "0"}, {"fixed": "3.1.5"}]}]}]
}`
