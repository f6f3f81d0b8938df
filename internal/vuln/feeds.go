package vuln

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/mpaktrust/mpak-scanner/internal/logging"
	"github.com/mpaktrust/mpak-scanner/internal/version"
)

// Feed endpoints.
const (
	DefaultEPSSURL = "https://api.first.org/data/v1/epss"
	DefaultKEVURL  = "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json"

	epssBatchSize  = 100 // keeps the query string short
	defaultFeedTTL = 6 * time.Hour
	kevCacheKey    = "catalog"
)

// Enrichment is the external risk data for a set of CVEs. Missing entries
// mean no data.
type Enrichment struct {
	EPSS map[string]float64
	KEV  map[string]bool
}

// FeedClient fetches EPSS scores and the KEV catalog. Both are best effort:
// any failure yields no data and is never cached.
type FeedClient struct {
	client    *http.Client
	epssURL   string
	kevURL    string
	userAgent string
	log       logging.Logger
	observer  FeedObserver

	epss *ttlCache[float64]
	kev  *ttlCache[map[string]bool]
}

// FeedOption configures a FeedClient.
type FeedOption func(*feedConfig)

type feedConfig struct {
	client   *http.Client
	epssURL  string
	kevURL   string
	ttl      time.Duration
	now      func() time.Time
	log      logging.Logger
	observer FeedObserver
}

// WithFeedURLs overrides the EPSS and KEV endpoints.
func WithFeedURLs(epssURL, kevURL string) FeedOption {
	return func(c *feedConfig) {
		c.epssURL = epssURL
		c.kevURL = kevURL
	}
}

// WithFeedHTTPClient replaces the HTTP client.
func WithFeedHTTPClient(hc *http.Client) FeedOption {
	return func(c *feedConfig) { c.client = hc }
}

// WithFeedTTL sets how long fetched data is reused.
func WithFeedTTL(ttl time.Duration) FeedOption {
	return func(c *feedConfig) { c.ttl = ttl }
}

// WithFeedClock replaces time.Now for cache expiry.
func WithFeedClock(now func() time.Time) FeedOption {
	return func(c *feedConfig) { c.now = now }
}

// WithFeedLogger sets the logger.
func WithFeedLogger(l logging.Logger) FeedOption {
	return func(c *feedConfig) { c.log = l }
}

// WithFeedObserver reports every fetch outcome.
func WithFeedObserver(o FeedObserver) FeedOption {
	return func(c *feedConfig) { c.observer = o }
}

// NewFeedClient creates a feed client.
func NewFeedClient(opts ...FeedOption) *FeedClient {
	cfg := feedConfig{
		client:  &http.Client{Timeout: 30 * time.Second},
		epssURL: DefaultEPSSURL,
		kevURL:  DefaultKEVURL,
		ttl:     defaultFeedTTL,
		now:     time.Now,
		log:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &FeedClient{
		client:    cfg.client,
		epssURL:   cfg.epssURL,
		kevURL:    cfg.kevURL,
		userAgent: version.UserAgent(),
		log:       cfg.log,
		observer:  cfg.observer,
		epss:      newTTLCache[float64](cfg.ttl, cfg.now),
		kev:       newTTLCache[map[string]bool](cfg.ttl, cfg.now),
	}
}

// Enrich fetches EPSS scores for cves and the KEV catalog concurrently.
func (f *FeedClient) Enrich(ctx context.Context, cves []string) Enrichment {
	var e Enrichment

	var g errgroup.Group
	g.Go(func() error {
		e.EPSS = f.EPSS(ctx, cves)
		return nil
	})
	g.Go(func() error {
		e.KEV = f.KEV(ctx)
		return nil
	})
	_ = g.Wait()
	return e
}

// EPSS returns the exploit probability of each CVE the feed knows about.
func (f *FeedClient) EPSS(ctx context.Context, cves []string) map[string]float64 {
	scores := make(map[string]float64)

	var missing []string
	seen := make(map[string]bool)
	for _, cve := range cves {
		if cve == "" || seen[cve] {
			continue
		}
		seen[cve] = true
		if s, ok := f.epss.get(cve); ok {
			scores[cve] = s
			continue
		}
		missing = append(missing, cve)
	}

	for start := 0; start < len(missing); start += epssBatchSize {
		batch := missing[start:min(start+epssBatchSize, len(missing))]

		body, err := f.get(ctx, f.epssURL+"?cve="+url.QueryEscape(strings.Join(batch, ",")))
		f.observe("epss", err)
		if err != nil {
			f.log.Warnf("EPSS fetch failed, continuing without scores: %v", err)
			continue
		}

		gjson.GetBytes(body, "data").ForEach(func(_, entry gjson.Result) bool {
			cve := entry.Get("cve").String()
			// the API encodes scores as strings
			score, err := strconv.ParseFloat(entry.Get("epss").String(), 64)
			if cve == "" || err != nil {
				return true
			}
			scores[cve] = score
			f.epss.set(cve, score)
			return true
		})
	}
	return scores
}

// KEV returns the set of CVE ids in the CISA known-exploited catalog.
func (f *FeedClient) KEV(ctx context.Context) map[string]bool {
	if catalog, ok := f.kev.get(kevCacheKey); ok {
		return catalog
	}

	body, err := f.get(ctx, f.kevURL)
	if err == nil && !gjson.ValidBytes(body) {
		err = fmt.Errorf("KEV catalog is not valid JSON")
	}
	f.observe("kev", err)
	if err != nil {
		f.log.Warnf("KEV fetch failed, continuing without catalog: %v", err)
		return map[string]bool{}
	}

	catalog := make(map[string]bool)
	for _, id := range gjson.GetBytes(body, "vulnerabilities.#.cveID").Array() {
		catalog[id.String()] = true
	}
	f.kev.set(kevCacheKey, catalog)
	return catalog
}

func (f *FeedClient) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: HTTP %d", u, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (f *FeedClient) observe(feed string, err error) {
	if f.observer != nil {
		f.observer.FeedFetched(feed, err)
	}
}
