// Package commands wires the cobra root command and its subcommands.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/skitsanos/ironflow/internal/commands/inspect"
	"github.com/skitsanos/ironflow/internal/commands/list"
	"github.com/skitsanos/ironflow/internal/commands/nodes"
	"github.com/skitsanos/ironflow/internal/commands/run"
	"github.com/skitsanos/ironflow/internal/commands/serve"
	"github.com/skitsanos/ironflow/internal/commands/validate"
	"github.com/skitsanos/ironflow/internal/config"
)

// NewRootCommand builds the "ironflow" root command with every
// subcommand attached.
func NewRootCommand() *cobra.Command {
	var dotenvPath string

	root := &cobra.Command{
		Use:          "ironflow",
		Short:        "IronFlow: a DAG-based workflow execution engine",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if dotenvPath == "" {
				dotenvPath = ".env"
			}
			return config.LoadDotenv(dotenvPath)
		},
	}

	root.PersistentFlags().StringVar(&dotenvPath, "dotenv", "", "path to a .env file (default: .env in the working directory)")

	root.AddCommand(run.NewCommand())
	root.AddCommand(validate.NewCommand())
	root.AddCommand(list.NewCommand())
	root.AddCommand(inspect.NewCommand())
	root.AddCommand(nodes.NewCommand())
	root.AddCommand(serve.NewCommand())

	return root
}
