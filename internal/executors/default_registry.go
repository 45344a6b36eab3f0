package executors

import (
	"log/slog"

	"github.com/skitsanos/ironflow/internal/registry"
)

// DefaultRegistry builds the registry of built-in test-fixture executors
// described in spec 4.B. Real deployments are expected to register
// additional executors (HTTP, file, DB, LLM, etc.) supplied by an
// external collaborator satisfying the same contract.
func DefaultRegistry(logger *slog.Logger) *registry.Registry {
	r := registry.New()

	r.Register(&LogExecutor{Logger: logger})
	r.Register(&NoopExecutor{})
	r.Register(&SetExecutor{})
	r.Register(&FailExecutor{})
	r.Register(&DelayExecutor{})
	r.Register(&SubworkflowExecutor{Parent: r})

	return r
}
