package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/mpaktrust/mpak-scanner/internal/logging"
	"github.com/mpaktrust/mpak-scanner/internal/types"
	"github.com/mpaktrust/mpak-scanner/internal/version"
)

// bundleSubdir is where the archive is unpacked inside the work directory.
const bundleSubdir = "bundle"

// Collector observes control runs and finished scans.
type Collector interface {
	AfterControlRun(domain string, result *types.ControlResult)
	AfterScan(report *types.SecurityReport, elapsed time.Duration)
}

// ScanOptions selects the work directory and control subset of one scan.
type ScanOptions struct {
	// WorkDir is owned by the caller when set; otherwise a temporary
	// directory is created and removed when Scan returns.
	WorkDir string
	// ControlIDs restricts the scan; unknown ids are dropped. Empty runs all.
	ControlIDs []string
}

// Engine extracts bundles and runs registered controls against them.
// An Engine keeps no state between scans and may be shared.
type Engine struct {
	registry       *Registry
	log            logging.Logger
	collector      Collector
	progress       ProgressTracker
	workers        int
	controlTimeout time.Duration
	now            func() time.Time
	scannerVersion string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithCollector sets the metrics collector.
func WithCollector(c Collector) Option {
	return func(e *Engine) { e.collector = c }
}

// WithProgress sets the progress tracker.
func WithProgress(p ProgressTracker) Option {
	return func(e *Engine) { e.progress = p }
}

// WithWorkers runs up to n controls concurrently. n <= 1 is sequential.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithControlTimeout bounds each control run. Zero disables the bound.
func WithControlTimeout(d time.Duration) Option {
	return func(e *Engine) { e.controlTimeout = d }
}

// WithClock replaces time.Now for timestamps and durations.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithScannerVersion overrides the version stamped on reports.
func WithScannerVersion(v string) Option {
	return func(e *Engine) { e.scannerVersion = v }
}

// NewEngine creates an engine over reg.
func NewEngine(reg *Registry, opts ...Option) *Engine {
	e := &Engine{
		registry:       reg,
		log:            logging.Discard(),
		progress:       noopProgress{},
		workers:        1,
		now:            time.Now,
		scannerVersion: version.ScannerVersion(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.workers < 1 {
		e.workers = 1
	}
	return e
}

// Scan hashes, extracts and scans the bundle at archivePath.
//
// Only failures before any control runs are returned as errors: a missing
// or unreadable archive, an unsafe entry, or an extraction failure. Control
// failures are recorded in the report.
func (e *Engine) Scan(ctx context.Context, archivePath string, opts ScanOptions) (report *types.SecurityReport, err error) {
	start := e.now()

	if _, statErr := os.Stat(archivePath); statErr != nil {
		if errors.Is(statErr, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrBundleNotFound, archivePath)
		}
		return nil, &HashError{Path: archivePath, Err: statErr}
	}

	hash, err := ComputeBundleHash(archivePath)
	if err != nil {
		return nil, err
	}

	workDir := opts.WorkDir
	if workDir == "" {
		tmp, tmpErr := os.MkdirTemp("", "mpak-scan-")
		if tmpErr != nil {
			return nil, fmt.Errorf("create work directory: %w", tmpErr)
		}
		workDir = tmp
		defer func() {
			if rmErr := os.RemoveAll(tmp); rmErr != nil {
				if err != nil {
					err = multierr.Append(err, rmErr)
				} else {
					e.log.Warnf("Failed to remove work directory %s: %v", tmp, rmErr)
				}
			}
		}()
	}

	bundleDir := filepath.Join(workDir, bundleSubdir)
	if err := os.MkdirAll(bundleDir, 0o755); err != nil {
		return nil, NewExtractionError(archivePath, err)
	}

	e.log.Infof("Extracting bundle to %s", bundleDir)
	if err := ExtractBundle(archivePath, bundleDir); err != nil {
		e.progress.Fail(err)
		return nil, err
	}

	bundle := &Bundle{Dir: bundleDir, Manifest: LoadManifest(bundleDir)}

	report = types.NewSecurityReport(bundleName(bundle.Manifest, archivePath), bundleVersion(bundle.Manifest), hash)
	report.ScanTimestamp = start.UTC().Format(time.RFC3339)
	report.ScannerVersion = e.scannerVersion

	controls := e.registry.Resolve(opts.ControlIDs)
	e.progress.SetTotal(len(controls))

	var mu sync.Mutex
	record := func(o ControlOutcome) {
		domain := o.Control.Info().Domain

		mu.Lock()
		report.AddResult(domain, o.Result)
		mu.Unlock()

		if e.collector != nil {
			e.collector.AfterControlRun(domain, o.Result)
		}
		e.progress.Increment(fmt.Sprintf("%s %s", o.Result.ControlID, o.Result.Status))
	}

	executor := NewParallelExecutor(e.workers)
	executor.Execute(ctx, controls, func(ctx context.Context, c Control) *types.ControlResult {
		return e.runControl(ctx, c, bundle)
	}, record)

	report.SBOMComponentCount = sbomComponentCount(report)

	elapsed := e.now().Sub(start)
	report.DurationMS = elapsed.Milliseconds()

	e.log.Infof("Scan complete. Level: %s, Risk: %s, Duration: %dms",
		report.ComplianceLevel().Name(), report.RiskScore(), report.DurationMS)

	if e.collector != nil {
		e.collector.AfterScan(report, elapsed)
	}
	e.progress.Complete()
	return report, nil
}

// runControl runs one control, converting a panic, a missing result or a
// timeout into an ERROR result. Duration is recorded on every path.
func (e *Engine) runControl(ctx context.Context, c Control, bundle *Bundle) (result *types.ControlResult) {
	info := c.Info()
	start := e.now()
	log := e.log.WithField("control", info.ID)

	defer func() {
		if result == nil {
			result = Errorf(info, "control returned no result")
		}
		// Results are filed under the registered id, whatever the control reports.
		result.ControlID = info.ID
		if result.ControlName == "" {
			result.ControlName = info.Name
		}
		if result.Findings == nil {
			result.Findings = []types.Finding{}
		}
		result.DurationMS = e.now().Sub(start).Milliseconds()
		if result.Status == types.StatusError {
			log.Warnf("%s error: %s", info.ID, result.Error)
		}
	}()

	runCtx := ctx
	if e.controlTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.controlTimeout)
		defer cancel()
	}

	log.Infof("Running %s: %s", info.ID, info.Name)

	done := make(chan *types.ControlResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("Control %s panicked: %v", info.ID, r)
				done <- Errorf(info, "%v", r)
			}
		}()
		done <- c.Run(runCtx, bundle)
	}()

	select {
	case r := <-done:
		return r
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return Errorf(info, "control timed out after %s", e.controlTimeout)
		}
		return Errorf(info, "scan cancelled: %v", runCtx.Err())
	}
}

// sbomComponentCount reads the component list SC-01 leaves in its raw output.
func sbomComponentCount(report *types.SecurityReport) int {
	for _, d := range report.Domains {
		r, ok := d.Controls[types.ControlSBOMGeneration]
		if !ok || r.RawOutput == nil {
			continue
		}
		switch components := r.RawOutput["components"].(type) {
		case []any:
			return len(components)
		case []map[string]any:
			return len(components)
		}
	}
	return 0
}

func bundleName(m types.Manifest, archivePath string) string {
	if name := m.String("name"); name != "" {
		return name
	}
	base := filepath.Base(archivePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func bundleVersion(m types.Manifest) string {
	if v := m.String("version"); v != "" {
		return v
	}
	return "unknown"
}
