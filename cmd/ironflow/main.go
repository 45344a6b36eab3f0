// Command ironflow is the entrypoint for the IronFlow CLI and HTTP
// server.
package main

import (
	"fmt"
	"os"

	"github.com/skitsanos/ironflow/internal/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
