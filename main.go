// Package main implements mpak-scanner, the security scanner for MCP server
// bundles.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/mpaktrust/mpak-scanner/cmd"
)

// Version information is managed in internal/version package
// GoReleaser injects version info directly via ldflags

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	app := cmd.NewApp(viper.New())
	root := cmd.NewRootCommand(app)
	root.SetArgs(args)

	err := root.Execute()
	if closeErr := app.Close(); closeErr != nil {
		app.Log.Warnf("Shutdown: %v", closeErr)
	}
	if err == nil {
		return 0
	}
	if !cmd.IsReported(err) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return cmd.ExitCode(err)
}
