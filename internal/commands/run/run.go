// Package run implements the "run" CLI subcommand (spec 4.G): executes a
// flow file to completion and prints a per-step summary.
package run

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/skitsanos/ironflow/internal/commands/cliutil"
	"github.com/skitsanos/ironflow/internal/engine"
	"github.com/skitsanos/ironflow/internal/flow"
)

// NewCommand builds the "run" subcommand.
func NewCommand() *cobra.Command {
	var contextJSON string
	var verbose bool
	var storeDir string

	cmd := &cobra.Command{
		Use:   "run <flow.path>",
		Short: "Execute a flow definition to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flowPath := args[0]

			def, err := flow.Load(flowPath)
			if err != nil {
				return fmt.Errorf("load flow: %w", err)
			}
			if errs := flow.Validate(def); len(errs) > 0 {
				for _, e := range errs {
					fmt.Fprintf(cmd.ErrOrStderr(), "validation error: %s\n", e)
				}
				return fmt.Errorf("flow failed validation")
			}

			flowDir, err := filepath.Abs(filepath.Dir(flowPath))
			if err == nil {
				flowDir, err = filepath.EvalSymlinks(flowDir)
			}
			if err != nil {
				return fmt.Errorf("resolve flow directory: %w", err)
			}
			initialCtx := map[string]any{
				"_flow_dir": flowDir,
			}
			if contextJSON != "" {
				var userCtx map[string]any
				if err := json.Unmarshal([]byte(contextJSON), &userCtx); err != nil {
					return fmt.Errorf("parse --context: %w", err)
				}
				for k, v := range userCtx {
					initialCtx[k] = v
				}
			}

			logger := cliutil.DefaultLogger(verbose)
			reg := cliutil.DefaultRegistry(logger)
			st := cliutil.OpenStore(storeDir)
			eng := engine.New(reg, st, logger, 0)

			runID, err := eng.Execute(cmd.Context(), def, initialCtx)
			if err != nil {
				return fmt.Errorf("execute flow: %w", err)
			}

			info, err := st.GetRunInfo(cmd.Context(), runID)
			if err != nil {
				return fmt.Errorf("read run info: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "run %s: %s %s\n", runID, cliutil.StatusIcon(string(info.Status)), info.Status)
			for _, step := range def.Steps {
				task := info.Tasks[step.Name]
				fmt.Fprintf(cmd.OutOrStdout(), "  %s %-20s %s\n", cliutil.StatusIcon(string(task.Status)), step.Name, task.Status)
				if verbose && task.Error != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "      error: %s\n", task.Error)
				}
				if verbose && task.Started != nil && task.Finished != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "      duration: %s\n", task.Finished.Sub(*task.Started))
				}
				if verbose && len(task.Output) > 0 {
					if out, err := json.Marshal(task.Output); err == nil {
						fmt.Fprintf(cmd.OutOrStdout(), "      output: %s\n", out)
					}
				}
			}

			if info.Status != "success" {
				return fmt.Errorf("run %s", info.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&contextJSON, "context", "c", "", "initial context as a JSON object")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print step errors and debug logging")
	cmd.Flags().StringVar(&storeDir, "store-dir", "./ironflow-runs", "directory for run state files")

	return cmd
}
