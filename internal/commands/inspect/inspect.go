// Package inspect implements the "inspect" CLI subcommand (spec 4.G):
// prints the full recorded RunInfo for one run id.
package inspect

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skitsanos/ironflow/internal/commands/cliutil"
)

// NewCommand builds the "inspect" subcommand.
func NewCommand() *cobra.Command {
	var storeDir string

	cmd := &cobra.Command{
		Use:   "inspect <run_id>",
		Short: "Show the full recorded state of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st := cliutil.OpenStore(storeDir)
			info, err := st.GetRunInfo(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get run info: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		},
	}

	cmd.Flags().StringVar(&storeDir, "store-dir", "./ironflow-runs", "directory for run state files")

	return cmd
}
