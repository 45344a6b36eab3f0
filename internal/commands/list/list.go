// Package list implements the "list" CLI subcommand (spec 4.G): prints
// recorded runs, optionally filtered by status, as a table or as JSON.
package list

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/skitsanos/ironflow/internal/commands/cliutil"
	"github.com/skitsanos/ironflow/internal/store"
)

// NewCommand builds the "list" subcommand.
func NewCommand() *cobra.Command {
	var statusFilter string
	var storeDir string
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded flow runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := cliutil.OpenStore(storeDir)

			var filter *store.RunStatus
			if statusFilter != "" {
				s := store.RunStatus(statusFilter)
				filter = &s
			}

			runs, err := st.ListRuns(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			if format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STATUS\tRUN ID\tFLOW\tSTARTED")
			for _, info := range runs {
				fmt.Fprintf(tw, "%s %s\t%s\t%s\t%s\n",
					cliutil.StatusIcon(string(info.Status)), info.Status, info.ID, info.FlowName, info.Started.Format("2006-01-02T15:04:05Z07:00"))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&statusFilter, "status", "s", "", "filter by run status")
	cmd.Flags().StringVar(&storeDir, "store-dir", "./ironflow-runs", "directory for run state files")
	cmd.Flags().StringVar(&format, "format", "table", "output format: table|json")

	return cmd
}
