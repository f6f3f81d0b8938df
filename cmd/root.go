package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mpaktrust/mpak-scanner/internal/version"
)

// NewRootCommand builds the command tree around app. Configuration is loaded
// once, before any subcommand runs; the caller closes app afterwards.
func NewRootCommand(app *App) *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "mpak-scanner",
		Short: "MCP bundle security scanner",
		Long: `mpak-scanner checks MCP server bundles against the mpak Trust Framework.
It extracts a bundle, runs the control catalogue across five security domains
and reports the compliance level (0-4) and risk score the bundle achieves.`,
		Version:       version.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.Setup(cfgFile, cmd.Annotations)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (default is $HOME/.mpak-scanner/config.yaml)")
	pf.StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "text", "log format (text, json)")
	pf.String("log-file", "", "log file path")
	pf.Bool("offline", false, "skip the vulnerability lookup (SC-02 is skipped)")
	pf.Bool("verify-remote", false, "verify source tags against the remote repository (PR-04)")

	_ = app.Viper.BindPFlag("log_level", pf.Lookup("log-level"))
	_ = app.Viper.BindPFlag("log_format", pf.Lookup("log-format"))
	_ = app.Viper.BindPFlag("log_file", pf.Lookup("log-file"))
	_ = app.Viper.BindPFlag("osv.offline", pf.Lookup("offline"))
	_ = app.Viper.BindPFlag("provenance.verify_remote", pf.Lookup("verify-remote"))

	root.AddCommand(NewScanCommand(app))
	root.AddCommand(NewJobCommand(app))
	root.AddCommand(NewControlsCommand())
	root.AddCommand(NewSBOMCommand(app))
	root.AddCommand(NewWatchCommand(app))
	root.AddCommand(NewVersionCommand())
	root.AddCommand(NewCompletionCommand())

	root.SetFlagErrorFunc(flagError)
	root.SetVersionTemplate("mpak-scanner {{.Version}}\n")
	return root
}
