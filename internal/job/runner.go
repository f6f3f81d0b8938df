package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/mpaktrust/mpak-scanner/internal/core"
	"github.com/mpaktrust/mpak-scanner/internal/logging"
	"github.com/mpaktrust/mpak-scanner/internal/types"
)

//go:generate mockgen -source=runner.go -destination=runner_mock_test.go -package=job

// BundleScanner scans an archive on local disk. *core.Engine implements it.
type BundleScanner interface {
	Scan(ctx context.Context, archivePath string, opts core.ScanOptions) (*types.SecurityReport, error)
}

// Runner executes one job.
type Runner struct {
	store    BlobStore
	scanner  BundleScanner
	log      logging.Logger
	tempRoot string
	newNotif func(url, secret string) *Notifier
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTempRoot sets the parent of the per-job scratch directory.
func WithTempRoot(dir string) RunnerOption {
	return func(r *Runner) { r.tempRoot = dir }
}

// WithNotifierFactory replaces how callback notifiers are built.
func WithNotifierFactory(f func(url, secret string) *Notifier) RunnerOption {
	return func(r *Runner) { r.newNotif = f }
}

// NewRunner returns a Runner.
func NewRunner(store BlobStore, scanner BundleScanner, log logging.Logger, opts ...RunnerOption) *Runner {
	if log == nil {
		log = logging.Discard()
	}
	r := &Runner{
		store:   store,
		scanner: scanner,
		log:     log,
		newNotif: func(url, secret string) *Notifier {
			return NewNotifier(url, secret, nil)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run downloads, scans, uploads and reports back. On failure a "failed"
// callback is attempted and its delivery error, if any, is combined with the
// original one.
func (r *Runner) Run(ctx context.Context, env Env) error {
	log := r.log.WithField("scan_id", env.ScanID)
	notifier := r.newNotif(env.CallbackURL, env.CallbackSecret)
	log.Infof("Starting scan job %s for %s", env.ScanID, env.BundleKey)

	err := r.run(ctx, env, notifier, log)
	if err == nil {
		log.Infof("Scan job %s completed successfully", env.ScanID)
		return nil
	}

	log.Errorf("Scan job %s failed: %v", env.ScanID, err)
	status, cbErr := notifier.Send(ctx, FailedPayload{
		ScanID: env.ScanID,
		Status: StatusFailed,
		Error:  err.Error(),
	})
	if cbErr != nil {
		log.Errorf("Failed to send failure callback: %v", cbErr)
		return multierr.Append(err, fmt.Errorf("failure callback: %w", cbErr))
	}
	log.Infof("Failure callback response: %d", status)
	return err
}

func (r *Runner) run(ctx context.Context, env Env, notifier *Notifier, log logging.Logger) (err error) {
	tmp, err := os.MkdirTemp(r.tempRoot, "mpak-job-")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer multierr.AppendInvoke(&err, multierr.Invoke(func() error { return os.RemoveAll(tmp) }))

	name := path.Base(env.BundleKey)
	if name == "." || name == "/" {
		return errors.New("bundle key has no file name")
	}
	local := filepath.Join(tmp, name)

	log.Infof("Downloading s3://%s/%s", env.BundleBucket, env.BundleKey)
	if err := r.store.Download(ctx, env.BundleBucket, env.BundleKey, local); err != nil {
		return err
	}

	log.Infof("Scanning %s", name)
	report, err := r.scanner.Scan(ctx, local, core.ScanOptions{WorkDir: filepath.Join(tmp, "extract")})
	if err != nil {
		return err
	}

	wire := report.ToWire()
	body, err := json.MarshalIndent(wire, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	uri := env.ReportURI()
	log.Infof("Uploading report to %s", uri)
	if err := r.store.Upload(ctx, env.ResultBucket, env.ReportKey(), body, "application/json"); err != nil {
		return err
	}

	log.Infof("Sending callback to %s", env.CallbackURL)
	status, err := notifier.Send(ctx, CompletedPayload{
		ScanID:      env.ScanID,
		Status:      StatusCompleted,
		RiskScore:   report.RiskScore(),
		Report:      wire,
		ReportS3URI: uri,
	})
	if err != nil {
		return err
	}
	log.Infof("Callback response: %d", status)
	return nil
}
