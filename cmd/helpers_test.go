package cmd

import (
	"bytes"
	"testing"

	"github.com/spf13/viper"

	"github.com/mpaktrust/mpak-scanner/internal/core"
	"github.com/mpaktrust/mpak-scanner/internal/testutil"
	"github.com/mpaktrust/mpak-scanner/internal/tui"
)

// ============================================================================
// Test Helpers
// ============================================================================

const validManifest = `{
  "name": "weather",
  "version": "1.0.0",
  "description": "Weather lookups",
  "author": {"name": "Ada"},
  "server": {"type": "python", "entry_point": "server/main.py"}
}`

// newTestApp returns an App isolated from the developer's config and the
// network: HOME points at a temp dir and the vulnerability lookup is off.
func newTestApp(t *testing.T) *App {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("MPAK_SCANNER_OSV_OFFLINE", "true")
	t.Setenv("MPAK_SCANNER_CACHE_DIR", t.TempDir())
	return NewApp(viper.New())
}

// execute runs the command tree with args and captures everything written to
// stdout and stderr, including UI output.
func execute(t *testing.T, app *App, args ...string) (stdout, stderr string, err error) {
	t.Helper()

	var out, errOut bytes.Buffer
	app.NewUI = func(flags core.NonInteractiveFlags) tui.UI {
		return tui.NewWriterTUICallback(flags, &out, &errOut)
	}
	app.NewProgress = func(core.OutputMode, string) core.ProgressTracker {
		return tui.NewNoOpProgressTracker()
	}

	root := NewRootCommand(app)
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err = root.Execute()
	if closeErr := app.Close(); closeErr != nil {
		t.Errorf("close app: %v", closeErr)
	}
	return out.String(), errOut.String(), err
}

func validBundle(t *testing.T) string {
	t.Helper()
	return testutil.WriteBundle(t, map[string]string{
		"manifest.json":  validManifest,
		"server/main.py": "print('hello')\n",
	})
}
