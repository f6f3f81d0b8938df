// Package metrics records control and scan metrics on a private prometheus
// registry that can be written out as a node-exporter textfile.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mpaktrust/mpak-scanner/internal/types"
)

const namespace = "mpak_scanner"

// Collector holds the scanner's metric vectors.
type Collector struct {
	registry *prometheus.Registry

	controlRuns     *prometheus.CounterVec
	controlDuration *prometheus.HistogramVec
	findings        *prometheus.CounterVec
	scans           *prometheus.CounterVec
	scanDuration    prometheus.Histogram
	feedFetches     *prometheus.CounterVec

	mu       sync.Mutex
	lastScan time.Time
}

// NewCollector creates a collector on a fresh registry. Runtime collectors
// are added when withRuntime is true.
func NewCollector(withRuntime bool) *Collector {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		reg.MustRegister(collectors.NewGoCollector())
	}

	c := &Collector{
		registry: reg,
		controlRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_runs_total",
			Help:      "Control executions by control id and status.",
		}, []string{"control", "status"}),
		controlDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "control_duration_seconds",
			Help:      "Wall-clock duration of a single control run.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"control"}),
		findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "findings_total",
			Help:      "Findings reported by severity and domain.",
		}, []string{"domain", "severity"}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Completed scans by risk score and compliance level.",
		}, []string{"risk", "level"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Total scan duration including extraction.",
			Buckets:   prometheus.DefBuckets,
		}),
		feedFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_fetches_total",
			Help:      "Enrichment feed fetches by feed and outcome.",
		}, []string{"feed", "outcome"}),
	}

	reg.MustRegister(c.controlRuns, c.controlDuration, c.findings, c.scans, c.scanDuration, c.feedFetches)
	return c
}

// Registry exposes the underlying registry for gathering.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// AfterControlRun records one finished control.
func (c *Collector) AfterControlRun(domain string, result *types.ControlResult) {
	c.controlRuns.WithLabelValues(result.ControlID, string(result.Status)).Inc()
	c.controlDuration.WithLabelValues(result.ControlID).Observe(float64(result.DurationMS) / 1000)
	for _, f := range result.Findings {
		c.findings.WithLabelValues(domain, string(f.Severity)).Inc()
	}
}

// AfterScan records a finished scan.
func (c *Collector) AfterScan(report *types.SecurityReport, elapsed time.Duration) {
	c.scans.WithLabelValues(string(report.RiskScore()), report.ComplianceLevel().Name()).Inc()
	c.scanDuration.Observe(elapsed.Seconds())

	c.mu.Lock()
	c.lastScan = time.Now()
	c.mu.Unlock()
}

// FeedFetched records an enrichment feed fetch outcome.
func (c *Collector) FeedFetched(feed string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.feedFetches.WithLabelValues(feed, outcome).Inc()
}

// WriteTextfile writes all metrics in the prometheus text format to path.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}
