// Package config loads the scanner configuration through viper.
//
// Precedence is flags, then MPAK_SCANNER_* environment variables, then the
// config file, then the defaults registered by SetDefaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mpaktrust/mpak-scanner/internal/logging"
	"github.com/mpaktrust/mpak-scanner/internal/vuln"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "MPAK_SCANNER"

// Config is the typed scanner configuration.
type Config struct {
	Logging logging.Config `mapstructure:",squash"`

	// Workers is the number of controls run concurrently; 0 runs them
	// sequentially.
	Workers        int           `mapstructure:"workers"`
	CacheDir       string        `mapstructure:"cache_dir"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	HTTPTimeout    time.Duration `mapstructure:"http_timeout"`
	ControlTimeout time.Duration `mapstructure:"control_timeout"`
	MetricsFile    string        `mapstructure:"metrics_file"`

	OSV        OSVConfig        `mapstructure:"osv"`
	Enrich     EnrichConfig     `mapstructure:"enrich"`
	Provenance ProvenanceConfig `mapstructure:"provenance"`
}

// OSVConfig selects the vulnerability database endpoint.
type OSVConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	// Offline disables every outbound vulnerability lookup; SC-02 skips.
	Offline bool `mapstructure:"offline"`
}

// EnrichConfig configures the EPSS and KEV feeds.
type EnrichConfig struct {
	EPSSURL string        `mapstructure:"epss_url"`
	KEVURL  string        `mapstructure:"kev_url"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// ProvenanceConfig configures the provenance controls.
type ProvenanceConfig struct {
	// VerifyRemote lets PR-04 list the declared repository's refs.
	VerifyRemote bool `mapstructure:"verify_remote"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("log_file", "")
	v.SetDefault("log_max_size_mb", 50)
	v.SetDefault("log_max_backups", 3)
	v.SetDefault("log_max_age_days", 28)
	v.SetDefault("log_compress", false)

	v.SetDefault("workers", 0)
	v.SetDefault("cache_dir", defaultCacheDir())
	v.SetDefault("cache_ttl", "24h")
	v.SetDefault("http_timeout", "30s")
	v.SetDefault("control_timeout", "5m")
	v.SetDefault("metrics_file", "")

	v.SetDefault("osv.endpoint", vuln.DefaultOSVURL)
	v.SetDefault("osv.offline", false)
	v.SetDefault("enrich.epss_url", vuln.DefaultEPSSURL)
	v.SetDefault("enrich.kev_url", vuln.DefaultKEVURL)
	v.SetDefault("enrich.ttl", "12h")
	v.SetDefault("provenance.verify_remote", false)
}

// Init wires environment overrides and reads the config file into v. An
// explicit cfgFile must exist; otherwise the standard locations are searched
// and a missing file is not an error.
func Init(v *viper.Viper, cfgFile string) error {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".mpak-scanner"))
		}
		v.AddConfigPath("/etc/mpak-scanner/")
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and endpoint URLs.
func (c Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	for _, d := range []struct {
		key   string
		value time.Duration
	}{
		{"cache_ttl", c.CacheTTL},
		{"http_timeout", c.HTTPTimeout},
		{"control_timeout", c.ControlTimeout},
		{"enrich.ttl", c.Enrich.TTL},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be a positive duration, got %s", d.key, d.value)
		}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.Logging.Format)
	}
	if c.OSV.Offline {
		return nil
	}
	for key, raw := range map[string]string{
		"osv.endpoint":    c.OSV.Endpoint,
		"enrich.epss_url": c.Enrich.EPSSURL,
		"enrich.kev_url":  c.Enrich.KEVURL,
	} {
		if err := checkURL(raw); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// StorePath is the bbolt response cache location.
func (c Config) StorePath() string {
	if c.CacheDir == "" {
		return ""
	}
	return filepath.Join(c.CacheDir, "osv.db")
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q is not an http(s) URL", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "mpak-scanner")
	}
	return filepath.Join(dir, "mpak-scanner")
}
