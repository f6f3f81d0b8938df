package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/mpaktrust/mpak-scanner/internal/controls"
	"github.com/mpaktrust/mpak-scanner/internal/core"
	"github.com/mpaktrust/mpak-scanner/internal/lockfile"
	"github.com/mpaktrust/mpak-scanner/internal/sbom"
)

// NewSBOMCommand returns the command exporting a bundle's SBOM.
func NewSBOMCommand(app *App) *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "sbom BUNDLE",
		Short: "Generate a CycloneDX or SPDX SBOM for a bundle",
		Long: `Generate an SBOM from the lockfiles inside a bundle. BUNDLE is either a
bundle archive or an already extracted bundle directory.`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := sbom.ParseFormat(format)
			if err != nil {
				return &core.InvalidArgumentsError{Message: err.Error()}
			}
			data, err := generateSBOM(app, args[0], f)
			if err != nil {
				return err
			}
			if output == "" {
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			if err := os.WriteFile(output, append(data, '\n'), 0o644); err != nil {
				return fmt.Errorf("write SBOM: %w", err)
			}
			app.Log.Infof("SBOM written to %s", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", string(sbom.FormatCycloneDX), "SBOM format (cyclonedx, spdx)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the SBOM to this file instead of stdout")
	return cmd
}

func generateSBOM(app *App, bundle string, format sbom.Format) (data []byte, err error) {
	info, err := os.Stat(bundle)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", core.ErrBundleNotFound, bundle)
		}
		return nil, err
	}

	dir := bundle
	if !info.IsDir() {
		dir, err = os.MkdirTemp("", "mpak-sbom-")
		if err != nil {
			return nil, err
		}
		defer multierr.AppendInvoke(&err, multierr.Invoke(func() error { return os.RemoveAll(dir) }))

		app.Log.Debugf("Extracting bundle to %s", dir)
		if err := core.ExtractBundle(bundle, dir); err != nil {
			return nil, err
		}
	}

	inv, scanErr := lockfile.Scan(dir)
	if scanErr != nil {
		app.Log.Warnf("Some lockfiles could not be parsed: %v", scanErr)
	}
	if !inv.HasLockfile() {
		app.Log.Warnf("No lockfile found in %s; the SBOM lists no components", bundle)
	}

	subject := controls.SubjectFromManifest(core.LoadManifest(dir))
	return sbom.NewGenerator().Generate(format, subject, inv.Packages())
}
