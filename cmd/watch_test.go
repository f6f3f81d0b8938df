package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mpaktrust/mpak-scanner/internal/logging"
)

func TestBundleWatcher_DebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	bundle := filepath.Join(dir, "weather.mcpb")
	if err := os.WriteFile(bundle, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	changed := make(chan struct{}, 4)
	w := &bundleWatcher{path: bundle, delay: 50 * time.Millisecond, log: logging.Discard()}
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(context.Context) {
			calls.Add(1)
			changed <- struct{}{}
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(bundle, []byte{byte('a' + i)}, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("onChange was not called")
	}

	// Writes to other files in the directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "weather.security-report.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)

	if got := calls.Load(); got != 1 {
		t.Errorf("onChange called %d times, want 1", got)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestBundleWatcher_MissingDirectory(t *testing.T) {
	w := &bundleWatcher{
		path:  filepath.Join(t.TempDir(), "gone", "weather.mcpb"),
		delay: time.Millisecond,
		log:   logging.Discard(),
	}
	if err := w.Run(context.Background(), func(context.Context) {}); err == nil {
		t.Fatal("expected error watching a missing directory")
	}
}
