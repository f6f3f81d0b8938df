package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Shells the completion command can generate scripts for.
var completionShells = []string{"bash", "zsh", "fish", "powershell"}

// NewCompletionCommand returns the shell completion command.
func NewCompletionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate the autocompletion script for the specified shell",
		Long: `To load completions:

Bash:
  $ source <(mpak-scanner completion bash)
  # To load automatically on new shells, run:
  $ mpak-scanner completion bash > /etc/bash_completion.d/mpak-scanner

Zsh:
  $ mpak-scanner completion zsh > "${fpath[1]}/_mpak-scanner"

Fish:
  $ mpak-scanner completion fish | source

PowerShell:
  PS> mpak-scanner completion powershell | Out-String | Invoke-Expression
`,
		ValidArgs:             completionShells,
		Args:                  usageArgs(cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs)),
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			root := cmd.Root()
			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(out, true)
			case "zsh":
				return root.GenZshCompletion(out)
			case "fish":
				return root.GenFishCompletion(out, true)
			case "powershell":
				return root.GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell %q", args[0])
			}
		},
	}
}
