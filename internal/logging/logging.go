// Package logging builds the scanner's logrus logger and the small Logger
// interface the rest of the module depends on.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the logging surface accepted by every package.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	WithField(key string, value interface{}) Logger
}

// Config controls log level, format and the optional rotating file sink.
type Config struct {
	Level      string `mapstructure:"log_level"`
	Format     string `mapstructure:"log_format"` // "text" or "json"
	File       string `mapstructure:"log_file"`
	MaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	MaxBackups int    `mapstructure:"log_max_backups"`
	MaxAgeDays int    `mapstructure:"log_max_age_days"`
	Compress   bool   `mapstructure:"log_compress"`
}

type entry struct {
	*logrus.Entry
}

func (e entry) WithField(key string, value interface{}) Logger {
	return entry{e.Entry.WithField(key, value)}
}

// New returns a logrus-backed Logger writing to stderr and, when cfg.File is
// set, to a lumberjack-rotated file as well.
func New(cfg Config) (Logger, error) {
	l, err := NewLogrus(cfg, os.Stderr)
	if err != nil {
		return nil, err
	}
	return entry{logrus.NewEntry(l)}, nil
}

// NewLogrus builds the underlying *logrus.Logger writing to console.
func NewLogrus(cfg Config, console io.Writer) (*logrus.Logger, error) {
	cfg = normalize(cfg)

	l := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	l.SetLevel(level)

	switch cfg.Format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "severity",
				logrus.FieldKeyMsg:   "message",
			},
		})
	case "text":
		l.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
			DisableColors:   cfg.File != "",
		})
	default:
		return nil, fmt.Errorf("invalid log format %q (want text or json)", cfg.Format)
	}

	writers := []io.Writer{console}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    max(1, cfg.MaxSizeMB),
			MaxBackups: max(0, cfg.MaxBackups),
			MaxAge:     max(0, cfg.MaxAgeDays),
			Compress:   cfg.Compress,
		})
	}
	l.SetOutput(io.MultiWriter(writers...))
	return l, nil
}

// Wrap adapts an existing logrus logger.
func Wrap(l *logrus.Logger) Logger {
	return entry{logrus.NewEntry(l)}
}

// Discard returns a Logger that drops everything.
func Discard() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return entry{logrus.NewEntry(l)}
}

func normalize(c Config) Config {
	c.Level = strings.ToLower(strings.TrimSpace(c.Level))
	if c.Level == "" {
		c.Level = "info"
	}
	c.Format = strings.ToLower(strings.TrimSpace(c.Format))
	if c.Format == "" {
		c.Format = "text"
	}
	if c.MaxSizeMB == 0 {
		c.MaxSizeMB = 50
	}
	return c
}
