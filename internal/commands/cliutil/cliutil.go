// Package cliutil holds small helpers shared across CLI subcommands:
// status iconography and the default registry/store wiring.
package cliutil

import (
	"log/slog"

	ironlog "github.com/skitsanos/ironflow/internal/log"

	"github.com/skitsanos/ironflow/internal/executors"
	"github.com/skitsanos/ironflow/internal/registry"
	"github.com/skitsanos/ironflow/internal/store"
)

// DefaultLogger builds the process logger from the environment, raising
// the level to debug when verbose is requested from the CLI.
func DefaultLogger(verbose bool) *slog.Logger {
	cfg := ironlog.FromEnv()
	if verbose {
		cfg.Level = slog.LevelDebug
	}
	return ironlog.New(cfg)
}

// StatusIcon renders a run or task status as a single glyph for table
// output, extending the teacher's checkmark-only convention with the
// full status vocabulary this engine needs.
func StatusIcon(status string) string {
	switch status {
	case "success":
		return "✓"
	case "failed":
		return "✗"
	case "skipped":
		return "⊘"
	case "running":
		return "…"
	case "pending":
		return "…"
	default:
		return "?"
	}
}

// DefaultRegistry builds the registry of built-in test-fixture executors
// used by the CLI and server commands.
func DefaultRegistry(logger *slog.Logger) *registry.Registry {
	return executors.DefaultRegistry(logger)
}

// OpenStore opens a FileStore rooted at dir.
func OpenStore(dir string) store.Store {
	return store.NewFileStore(dir)
}
