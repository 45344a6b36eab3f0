// Package nodes implements the "nodes" CLI subcommand (spec 4.G): lists
// the registered step-executor node types.
package nodes

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/skitsanos/ironflow/internal/commands/cliutil"
)

// NewCommand builds the "nodes" subcommand.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List the registered step-executor node types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := cliutil.DefaultLogger(false)
			reg := cliutil.DefaultRegistry(logger)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NODE TYPE\tDESCRIPTION")
			for _, info := range reg.List() {
				fmt.Fprintf(tw, "%s\t%s\n", info.NodeType, info.Description)
			}
			return tw.Flush()
		},
	}

	return cmd
}
