// Package cmd provides the mpak-scanner subcommands.
package cmd

import (
	"io"
	"net/http"

	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/mpaktrust/mpak-scanner/internal/config"
	"github.com/mpaktrust/mpak-scanner/internal/controls"
	"github.com/mpaktrust/mpak-scanner/internal/core"
	"github.com/mpaktrust/mpak-scanner/internal/logging"
	"github.com/mpaktrust/mpak-scanner/internal/metrics"
	"github.com/mpaktrust/mpak-scanner/internal/tui"
	"github.com/mpaktrust/mpak-scanner/internal/vuln"
)

// App holds the configuration and collaborators shared by every command.
// Setup runs once from the root command's PersistentPreRunE.
type App struct {
	Viper   *viper.Viper
	Config  config.Config
	Log     logging.Logger
	Metrics *metrics.Collector

	// NewUI and NewProgress are replaced in tests.
	NewUI       func(core.NonInteractiveFlags) tui.UI
	NewProgress func(mode core.OutputMode, label string) core.ProgressTracker

	closers []io.Closer
}

// NewApp returns an App reading configuration from v.
func NewApp(v *viper.Viper) *App {
	return &App{
		Viper:       v,
		Log:         logging.Discard(),
		NewUI:       tui.New,
		NewProgress: tui.NewProgressTracker,
	}
}

// Setup reads the config file and environment, validates the result and
// builds the logger and metrics collector. defaults replace the built-in
// default of individual keys for the running command.
func (a *App) Setup(cfgFile string, defaults map[string]string) error {
	if err := config.Init(a.Viper, cfgFile); err != nil {
		return &core.ConfigError{Err: err}
	}
	for key, value := range defaults {
		a.Viper.SetDefault(key, value)
	}
	cfg, err := config.Load(a.Viper)
	if err != nil {
		return &core.ConfigError{Err: err}
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return &core.ConfigError{Err: err}
	}
	a.Config = cfg
	a.Log = log
	a.Metrics = metrics.NewCollector(false)
	if used := a.Viper.ConfigFileUsed(); used != "" {
		log.Debugf("Using config file: %s", used)
	}
	return nil
}

// Deps builds the network-facing collaborators of the control catalogue.
// Offline mode leaves Vulns nil; remote provenance is opt-in.
func (a *App) Deps() controls.Deps {
	deps := controls.Deps{Logger: a.Log}

	if !a.Config.OSV.Offline {
		hc := &http.Client{Timeout: a.Config.HTTPTimeout}
		osvOpts := []vuln.OSVOption{
			vuln.WithOSVBaseURL(a.Config.OSV.Endpoint),
			vuln.WithOSVHTTPClient(hc),
			vuln.WithOSVLogger(a.Log),
		}
		feedOpts := []vuln.FeedOption{
			vuln.WithFeedURLs(a.Config.Enrich.EPSSURL, a.Config.Enrich.KEVURL),
			vuln.WithFeedHTTPClient(hc),
			vuln.WithFeedTTL(a.Config.Enrich.TTL),
			vuln.WithFeedLogger(a.Log),
		}
		if a.Metrics != nil {
			osvOpts = append(osvOpts, vuln.WithOSVObserver(a.Metrics))
			feedOpts = append(feedOpts, vuln.WithFeedObserver(a.Metrics))
		}
		if path := a.Config.StorePath(); path != "" {
			store, err := vuln.OpenBoltStore(path)
			if err != nil {
				a.Log.Warnf("OSV response cache disabled: %v", err)
			} else {
				a.closers = append(a.closers, store)
				osvOpts = append(osvOpts, vuln.WithStore(store, a.Config.CacheTTL))
			}
		}
		deps.Vulns = vuln.NewScanner(vuln.NewOSVClient(osvOpts...), vuln.NewFeedClient(feedOpts...), a.Log)
	}

	if a.Config.Provenance.VerifyRemote {
		deps.Remote = controls.NewGitRemoteLister()
	}
	return deps
}

// NewEngine builds an engine over the full catalogue. workers overrides the
// configured worker count when positive.
func (a *App) NewEngine(progress core.ProgressTracker, workers int) *core.Engine {
	if workers <= 0 {
		workers = a.Config.Workers
	}
	opts := []core.Option{
		core.WithLogger(a.Log),
		core.WithWorkers(workers),
		core.WithControlTimeout(a.Config.ControlTimeout),
	}
	if progress != nil {
		opts = append(opts, core.WithProgress(progress))
	}
	if a.Metrics != nil {
		opts = append(opts, core.WithCollector(a.Metrics))
	}
	return core.NewEngine(controls.NewRegistry(a.Deps()), opts...)
}

// Close releases caches and writes the metrics textfile when configured.
func (a *App) Close() error {
	var err error
	for _, c := range a.closers {
		err = multierr.Append(err, c.Close())
	}
	a.closers = nil
	if a.Metrics != nil && a.Config.MetricsFile != "" {
		err = multierr.Append(err, a.Metrics.WriteTextfile(a.Config.MetricsFile))
	}
	return err
}
