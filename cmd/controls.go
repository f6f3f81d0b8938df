package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mpaktrust/mpak-scanner/internal/controls"
	"github.com/mpaktrust/mpak-scanner/internal/core"
	"github.com/mpaktrust/mpak-scanner/internal/types"
)

// controlEntry is one row of `controls --json`.
type controlEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Domain      string `json:"domain"`
	Level       int    `json:"level"`
	MCPSpecific bool   `json:"mcp_specific"`
	Enforcement string `json:"enforcement,omitempty"`
	Description string `json:"description,omitempty"`
}

// NewControlsCommand returns the command listing the control catalogue.
func NewControlsCommand() *cobra.Command {
	var (
		domain   string
		jsonFlag bool
	)

	cmd := &cobra.Command{
		Use:   "controls",
		Short: "List the controls in the catalogue",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			entries, err := listControls(domain)
			if err != nil {
				if jsonFlag {
					return failJSON(out, err)
				}
				return err
			}
			if jsonFlag {
				return core.WriteCLISuccess(out, entries)
			}
			return printControls(out, entries)
		},
	}

	cmd.Flags().StringVar(&domain, "domain", "", "only list controls of this domain")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "output as JSON")
	return cmd
}

func listControls(domain string) ([]controlEntry, error) {
	reg := controls.NewRegistry(controls.Deps{})

	var selected []core.Control
	if domain == "" {
		selected = reg.All()
	} else {
		if !knownDomain(domain) {
			return nil, &core.InvalidArgumentsError{Message: fmt.Sprintf("unknown domain %q", domain)}
		}
		selected = reg.ByDomain(domain)
	}

	entries := make([]controlEntry, 0, len(selected))
	for _, c := range selected {
		info := c.Info()
		entries = append(entries, controlEntry{
			ID:          info.ID,
			Name:        info.Name,
			Domain:      info.Domain,
			Level:       int(info.Level),
			MCPSpecific: info.MCPSpecific,
			Enforcement: string(info.Enforcement),
			Description: info.Description,
		})
	}
	return entries, nil
}

func knownDomain(domain string) bool {
	for _, d := range types.Domains {
		if d == domain {
			return true
		}
	}
	return false
}

func printControls(w io.Writer, entries []controlEntry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLEVEL\tDOMAIN\tNAME")
	for _, e := range entries {
		name := e.Name
		if e.MCPSpecific {
			name += " (MCP)"
		}
		fmt.Fprintf(tw, "%s\tL%d\t%s\t%s\n", e.ID, e.Level, e.Domain, name)
	}
	return tw.Flush()
}
