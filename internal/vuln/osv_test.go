package vuln

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/time/rate"

	"github.com/mpaktrust/mpak-scanner/internal/testutil"
)

// ============================================================================
// OSV Client Tests
// ============================================================================

func TestOSVClient_QueryBatch(t *testing.T) {
	fake := &fakeOSV{byName: map[string][]string{"requests": {"GHSA-1111"}}}
	srv := fake.server(t)
	c := NewOSVClient(WithOSVBaseURL(srv.URL))

	got, err := c.QueryBatch(context.Background(), []Query{
		{Ecosystem: "PyPI", Name: "requests", Version: "2.31.0"},
		{Ecosystem: "PyPI", Name: "clean", Version: "1.0.0"},
		{Ecosystem: "npm", Name: "paged", Version: "1.0.0"},
	})
	testutil.AssertNoError(t, err, "QueryBatch")

	want := [][]string{{"GHSA-1111"}, {}, {"GHSA-P1", "GHSA-P2"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("QueryBatch mismatch (-want +got):\n%s", diff)
	}
	if calls := fake.batchCalls.Load(); calls != 2 {
		t.Errorf("batch calls = %d, want 2 (one page follow-up)", calls)
	}
}

func TestOSVClient_CacheAndStaleFallback(t *testing.T) {
	fake := &fakeOSV{byName: map[string][]string{"requests": {"GHSA-1111"}}}
	srv := fake.server(t)
	clock := newManualClock()

	store, err := OpenBoltStore(filepath.Join(t.TempDir(), "cache", "osv.db"))
	testutil.AssertNoError(t, err, "OpenBoltStore")
	defer store.Close()

	obs := &recordingObserver{}
	c := NewOSVClient(
		WithOSVBaseURL(srv.URL),
		WithStore(store, time.Hour),
		WithOSVClock(clock.Now),
		WithOSVObserver(obs),
	)
	q := []Query{{Ecosystem: "PyPI", Name: "requests", Version: "2.31.0"}}

	first, err := c.QueryBatch(context.Background(), q)
	testutil.AssertNoError(t, err, "first query")

	// Fresh entry: no network
	second, err := c.QueryBatch(context.Background(), q)
	testutil.AssertNoError(t, err, "second query")
	if fake.batchCalls.Load() != 1 {
		t.Errorf("batch calls = %d, want 1 while cache is fresh", fake.batchCalls.Load())
	}
	testutil.AssertEqual(t, second, first, "cached ids")

	// Expired and offline: stale entry is used
	clock.Advance(2 * time.Hour)
	fake.fail.Store(true)
	stale, err := c.QueryBatch(context.Background(), q)
	testutil.AssertNoError(t, err, "stale query")
	testutil.AssertEqual(t, stale, first, "stale ids")
	if obs.count("osv/error") != 1 {
		t.Errorf("osv errors observed = %d, want 1", obs.count("osv/error"))
	}

	// Offline with nothing cached fails
	_, err = c.QueryBatch(context.Background(), []Query{{Ecosystem: "PyPI", Name: "other", Version: "1"}})
	if err == nil {
		t.Fatal("expected error for uncached query while offline")
	}
}

func TestOSVClient_Get(t *testing.T) {
	fake := &fakeOSV{records: map[string]string{"GHSA-1111": recordHigh}}
	srv := fake.server(t)

	store, err := OpenBoltStore(filepath.Join(t.TempDir(), "osv.db"))
	testutil.AssertNoError(t, err, "OpenBoltStore")
	defer store.Close()

	c := NewOSVClient(WithOSVBaseURL(srv.URL), WithStore(store, time.Hour), WithRateLimit(rate.Inf, 1))

	v, err := c.Get(context.Background(), "GHSA-1111")
	testutil.AssertNoError(t, err, "Get")
	if v.GetId() != "GHSA-1111" || CVEID(v) != "CVE-2024-0001" {
		t.Errorf("decoded record = %s / %s", v.GetId(), CVEID(v))
	}
	if AdvisoryLabel(v) != "high" {
		t.Errorf("AdvisoryLabel = %q, want high", AdvisoryLabel(v))
	}

	if _, err := c.Get(context.Background(), "GHSA-1111"); err != nil {
		t.Fatalf("cached Get: %v", err)
	}
	if fake.vulnCalls.Load() != 1 {
		t.Errorf("vuln calls = %d, want 1", fake.vulnCalls.Load())
	}

	if _, err := c.Get(context.Background(), "GHSA-missing"); err == nil {
		t.Error("expected error for unknown id")
	}
}

func TestOSVClient_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewOSVClient(WithOSVBaseURL(srv.URL))
	_, err := c.QueryBatch(context.Background(), []Query{{Ecosystem: "npm", Name: "a", Version: "1.0.0"}})
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("error = %v, want ErrRateLimited", err)
	}
}

func TestOSVClient_Hydrate(t *testing.T) {
	fake := &fakeOSV{records: map[string]string{
		"GHSA-1111":  recordHigh,
		"GHSA-2222":  recordKEV,
		"PYSEC-3333": recordNoCVE,
	}}
	srv := fake.server(t)
	c := NewOSVClient(WithOSVBaseURL(srv.URL))

	records, err := c.Hydrate(context.Background(), []string{"GHSA-1111", "GHSA-2222", "PYSEC-3333"})
	testutil.AssertNoError(t, err, "Hydrate")
	if len(records) != 3 || records["PYSEC-3333"].GetDetails() == "" {
		t.Errorf("records = %v", records)
	}

	if _, err := c.Hydrate(context.Background(), []string{"GHSA-1111", "GHSA-nope"}); err == nil {
		t.Error("expected hydrate failure for a missing record")
	}
}
