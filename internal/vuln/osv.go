// Package vuln finds known vulnerabilities in resolved dependencies using
// OSV.dev and rates them with CVSS, EPSS and the CISA KEV catalog.
package vuln

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	osvpb "github.com/ossf/osv-schema/bindings/go/osvschema"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/mpaktrust/mpak-scanner/internal/logging"
	"github.com/mpaktrust/mpak-scanner/internal/version"
)

const (
	// DefaultOSVURL is the OSV.dev API root.
	DefaultOSVURL = "https://api.osv.dev"

	defaultCacheTTL       = 24 * time.Hour
	maxBatchSize          = 1000 // OSV.dev batch limit
	maxPages              = 10
	defaultHydrateWorkers = 8
)

// ErrRateLimited is returned when OSV.dev answers 429.
var ErrRateLimited = errors.New("rate limited by OSV.dev")

// Query identifies one package version.
type Query struct {
	Ecosystem string
	Name      string
	Version   string
}

func (q Query) key() string {
	return q.Ecosystem + "|" + q.Name + "|" + q.Version
}

// FeedObserver is told about every outbound feed fetch.
type FeedObserver interface {
	FeedFetched(feed string, err error)
}

// OSVClient queries the OSV.dev v1 API. Responses are cached in an optional
// Store; when the network fails, expired entries are used as a fallback.
type OSVClient struct {
	baseURL   string
	client    *http.Client
	limiter   *rate.Limiter
	store     Store
	ttl       time.Duration
	now       func() time.Time
	userAgent string
	log       logging.Logger
	observer  FeedObserver
	workers   int
}

// OSVOption configures an OSVClient.
type OSVOption func(*OSVClient)

// WithOSVBaseURL points the client at another API root.
func WithOSVBaseURL(u string) OSVOption {
	return func(c *OSVClient) { c.baseURL = u }
}

// WithOSVHTTPClient replaces the HTTP client.
func WithOSVHTTPClient(hc *http.Client) OSVOption {
	return func(c *OSVClient) { c.client = hc }
}

// WithStore enables response caching with the given freshness window.
func WithStore(s Store, ttl time.Duration) OSVOption {
	return func(c *OSVClient) {
		c.store = s
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithRateLimit bounds record fetches to r per second with the given burst.
func WithRateLimit(r rate.Limit, burst int) OSVOption {
	return func(c *OSVClient) { c.limiter = rate.NewLimiter(r, burst) }
}

// WithOSVLogger sets the logger.
func WithOSVLogger(l logging.Logger) OSVOption {
	return func(c *OSVClient) { c.log = l }
}

// WithOSVObserver reports every API call outcome.
func WithOSVObserver(o FeedObserver) OSVOption {
	return func(c *OSVClient) { c.observer = o }
}

// WithOSVClock replaces time.Now for cache freshness.
func WithOSVClock(now func() time.Time) OSVOption {
	return func(c *OSVClient) { c.now = now }
}

// NewOSVClient creates a client with a 30s HTTP timeout, 20 requests per
// second and no cache.
func NewOSVClient(opts ...OSVOption) *OSVClient {
	c := &OSVClient{
		baseURL:   DefaultOSVURL,
		client:    &http.Client{Timeout: 30 * time.Second},
		limiter:   rate.NewLimiter(rate.Limit(20), 20),
		ttl:       defaultCacheTTL,
		now:       time.Now,
		userAgent: version.UserAgent(),
		log:       logging.Discard(),
		workers:   defaultHydrateWorkers,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type osvPackage struct {
	Name      string `json:"name"`
	Ecosystem string `json:"ecosystem"`
}

type osvQuery struct {
	Package   osvPackage `json:"package"`
	Version   string     `json:"version"`
	PageToken string     `json:"page_token,omitempty"`
}

type osvBatchRequest struct {
	Queries []osvQuery `json:"queries"`
}

type osvBatchResponse struct {
	Results []struct {
		Vulns []struct {
			ID string `json:"id"`
		} `json:"vulns"`
		NextPageToken string `json:"next_page_token"`
	} `json:"results"`
}

// QueryBatch returns, for each query, the ids of the vulnerabilities that
// affect it. Results line up with queries by index.
func (c *OSVClient) QueryBatch(ctx context.Context, queries []Query) ([][]string, error) {
	results := make([][]string, len(queries))

	var pending []int
	for i, q := range queries {
		if ids, ok := c.cachedIDs(q, false); ok {
			results[i] = ids
			continue
		}
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		return results, nil
	}

	for start := 0; start < len(pending); start += maxBatchSize {
		end := min(start+maxBatchSize, len(pending))
		batch := pending[start:end]

		err := c.queryPages(ctx, queries, batch, results)
		c.observe("osv", err)
		if err == nil {
			for _, i := range batch {
				c.storeIDs(queries[i], results[i])
			}
			continue
		}

		// Network trouble: fall back to expired cache entries for every
		// query of the batch, or fail the whole call.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		for _, i := range batch {
			ids, ok := c.cachedIDs(queries[i], true)
			if !ok {
				return nil, fmt.Errorf("query OSV for %s %s@%s: %w", queries[i].Ecosystem, queries[i].Name, queries[i].Version, err)
			}
			results[i] = ids
		}
		c.log.Warnf("OSV.dev unavailable, using cached results: %v", err)
	}
	return results, nil
}

// queryPages runs one batch, following next_page_token for the queries that
// have more results.
func (c *OSVClient) queryPages(ctx context.Context, queries []Query, batch []int, results [][]string) error {
	tokens := make(map[int]string, len(batch))
	for _, i := range batch {
		tokens[i] = ""
		results[i] = []string{}
	}

	active := batch
	for page := 0; len(active) > 0 && page < maxPages; page++ {
		req := osvBatchRequest{Queries: make([]osvQuery, 0, len(active))}
		for _, i := range active {
			q := queries[i]
			req.Queries = append(req.Queries, osvQuery{
				Package:   osvPackage{Name: q.Name, Ecosystem: q.Ecosystem},
				Version:   q.Version,
				PageToken: tokens[i],
			})
		}

		var resp osvBatchResponse
		if err := c.postJSON(ctx, "/v1/querybatch", req, &resp); err != nil {
			return err
		}
		if len(resp.Results) != len(active) {
			return fmt.Errorf("OSV batch returned %d results for %d queries", len(resp.Results), len(active))
		}

		var next []int
		for j, r := range resp.Results {
			i := active[j]
			for _, v := range r.Vulns {
				results[i] = append(results[i], v.ID)
			}
			if r.NextPageToken != "" {
				tokens[i] = r.NextPageToken
				next = append(next, i)
			}
		}
		active = next
	}
	return nil
}

// Get returns the full OSV record for id.
func (c *OSVClient) Get(ctx context.Context, id string) (*osvpb.Vulnerability, error) {
	if data, ok := c.cached(bucketVulns, id, false); ok {
		if v, err := decodeVuln(data); err == nil {
			return v, nil
		}
	}

	data, err := c.fetchVuln(ctx, id)
	c.observe("osv", err)
	if err != nil {
		if ctx.Err() == nil {
			if stale, ok := c.cached(bucketVulns, id, true); ok {
				c.log.Warnf("Using cached record for %s: %v", id, err)
				return decodeVuln(stale)
			}
		}
		return nil, err
	}

	v, err := decodeVuln(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	c.put(bucketVulns, id, data)
	return v, nil
}

// Hydrate fetches the records for ids concurrently. Any failure fails the
// whole call.
func (c *OSVClient) Hydrate(ctx context.Context, ids []string) (map[string]*osvpb.Vulnerability, error) {
	records := make([]*osvpb.Vulnerability, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, id := range ids {
		g.Go(func() error {
			// another fetch already failed
			if gctx.Err() != nil {
				return nil //nolint:nilerr // result is discarded by g.Wait
			}
			v, err := c.Get(gctx, id)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", id, err)
			}
			records[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]*osvpb.Vulnerability, len(ids))
	for i, id := range ids {
		out[id] = records[i]
	}
	return out, nil
}

func (c *OSVClient) fetchVuln(ctx context.Context, id string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/vulns/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

func (c *OSVClient) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w, retry after %s", ErrRateLimited, resp.Header.Get("Retry-After"))
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("OSV API error: %d - %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}

func decodeVuln(data []byte) (*osvpb.Vulnerability, error) {
	v := &osvpb.Vulnerability{}
	if err := (protojson.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(data, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (c *OSVClient) cachedIDs(q Query, allowStale bool) ([]string, bool) {
	data, ok := c.cached(bucketQueries, q.key(), allowStale)
	if !ok {
		return nil, false
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, false
	}
	return ids, true
}

func (c *OSVClient) storeIDs(q Query, ids []string) {
	data, err := json.Marshal(ids)
	if err != nil {
		return
	}
	c.put(bucketQueries, q.key(), data)
}

func (c *OSVClient) cached(bucket, key string, allowStale bool) ([]byte, bool) {
	if c.store == nil {
		return nil, false
	}
	data, storedAt, ok := c.store.Get(bucket, key)
	if !ok {
		return nil, false
	}
	if !allowStale && c.now().Sub(storedAt) > c.ttl {
		return nil, false
	}
	return data, true
}

func (c *OSVClient) put(bucket, key string, data []byte) {
	if c.store == nil {
		return
	}
	if err := c.store.Put(bucket, key, data, c.now()); err != nil {
		c.log.Warnf("Failed to cache %s: %v", key, err)
	}
}

func (c *OSVClient) observe(feed string, err error) {
	if c.observer != nil {
		c.observer.FeedFetched(feed, err)
	}
}
