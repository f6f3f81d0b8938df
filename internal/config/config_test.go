package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/viper"

	"github.com/mpaktrust/mpak-scanner/internal/logging"
	"github.com/mpaktrust/mpak-scanner/internal/vuln"
)

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	// An explicit empty file keeps the search away from the developer's home.
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Init(v, path); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return v
}

// ============================================================================
// Defaults
// ============================================================================

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newViper(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := Config{
		Logging: logging.Config{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Workers:        0,
		CacheDir:       defaultCacheDir(),
		CacheTTL:       24 * time.Hour,
		HTTPTimeout:    30 * time.Second,
		ControlTimeout: 5 * time.Minute,
		OSV:            OSVConfig{Endpoint: vuln.DefaultOSVURL},
		Enrich: EnrichConfig{
			EPSSURL: vuln.DefaultEPSSURL,
			KEVURL:  vuln.DefaultKEVURL,
			TTL:     12 * time.Hour,
		},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
	if got := cfg.StorePath(); got != filepath.Join(defaultCacheDir(), "osv.db") {
		t.Errorf("StorePath = %q", got)
	}
}

// ============================================================================
// Overrides
// ============================================================================

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanner.yaml")
	content := `
log_level: debug
log_format: json
workers: 4
cache_ttl: 2h
osv:
  offline: true
provenance:
  verify_remote: true
enrich:
  ttl: 30m
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	v := viper.New()
	if err := Init(v, path); err != nil {
		t.Fatalf("Init: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Workers != 4 || cfg.CacheTTL != 2*time.Hour || cfg.Enrich.TTL != 30*time.Minute {
		t.Errorf("workers=%d cache_ttl=%s enrich.ttl=%s", cfg.Workers, cfg.CacheTTL, cfg.Enrich.TTL)
	}
	if !cfg.OSV.Offline || !cfg.Provenance.VerifyRemote {
		t.Errorf("osv=%+v provenance=%+v", cfg.OSV, cfg.Provenance)
	}
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("workers: 2\nosv:\n  endpoint: https://osv.internal\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MPAK_SCANNER_WORKERS", "8")
	t.Setenv("MPAK_SCANNER_OSV_ENDPOINT", "https://osv.mirror.example")

	v := viper.New()
	if err := Init(v, path); err != nil {
		t.Fatalf("Init: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workers != 8 {
		t.Errorf("Workers = %d, want 8", cfg.Workers)
	}
	if cfg.OSV.Endpoint != "https://osv.mirror.example" {
		t.Errorf("Endpoint = %q", cfg.OSV.Endpoint)
	}
}

func TestInit_MissingExplicitFile(t *testing.T) {
	err := Init(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected an error for a missing explicit config file")
	}
}

// ============================================================================
// Validation
// ============================================================================

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   any
		wantErr string
	}{
		{"negative workers", "workers", -1, "workers must be >= 0"},
		{"zero timeout", "http_timeout", "0s", "http_timeout must be a positive duration"},
		{"negative control timeout", "control_timeout", "-1m", "control_timeout must be a positive duration"},
		{"unparsable duration", "cache_ttl", "soon", "decode config"},
		{"bad log format", "log_format", "xml", "log_format must be text or json"},
		{"endpoint scheme", "osv.endpoint", "ftp://osv.dev", "osv.endpoint"},
		{"endpoint host", "enrich.kev_url", "https://", "enrich.kev_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper(t)
			v.Set(tt.key, tt.value)
			_, err := Load(v)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_OfflineSkipsEndpoints(t *testing.T) {
	v := newViper(t)
	v.Set("osv.offline", true)
	v.Set("osv.endpoint", "not a url")
	if _, err := Load(v); err != nil {
		t.Fatalf("Load: %v", err)
	}
}
