// Package validate implements the "validate" CLI subcommand (spec 4.G):
// runs the static validator against a flow file without executing it.
package validate

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skitsanos/ironflow/internal/commands/cliutil"
	"github.com/skitsanos/ironflow/internal/flow"
)

// NewCommand builds the "validate" subcommand.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <flow.path>",
		Short: "Validate a flow definition without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := flow.Load(args[0])
			if err != nil {
				return fmt.Errorf("load flow: %w", err)
			}

			errs := flow.Validate(def)
			logger := cliutil.DefaultLogger(false)
			reg := cliutil.DefaultRegistry(logger)
			for _, step := range def.Steps {
				if !reg.Has(step.NodeType) {
					errs = append(errs, fmt.Sprintf("step %q references unknown node type %q", step.Name, step.NodeType))
				}
			}

			if len(errs) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid (%d steps)\n", def.Name, len(def.Steps))
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✗ %s failed validation:\n", def.Name)
			for _, e := range errs {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", e)
			}
			return fmt.Errorf("%d validation error(s)", len(errs))
		},
	}

	return cmd
}
