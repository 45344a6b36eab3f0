package executors

import (
	"context"
	"fmt"

	"github.com/skitsanos/ironflow/internal/engine"
	"github.com/skitsanos/ironflow/internal/flow"
	"github.com/skitsanos/ironflow/internal/registry"
	"github.com/skitsanos/ironflow/internal/store"
	"github.com/skitsanos/ironflow/internal/stepconfig"
)

// SubworkflowExecutor loads a nested flow document and executes it
// against a registry snapshot (extended with this executor itself, so
// the child flow can in turn nest further subworkflows) and a fresh
// in-memory store. It demonstrates the registry-snapshot primitive from
// spec 4.B/9 end-to-end: the composite executor needs access to a
// registry that includes itself, resolved by cloning the parent registry
// rather than self-referencing it.
type SubworkflowExecutor struct {
	Parent *registry.Registry
}

func (e *SubworkflowExecutor) NodeType() string { return "subworkflow" }

func (e *SubworkflowExecutor) Description() string {
	return "executes a nested flow document against a snapshotted registry and an in-memory store"
}

func (e *SubworkflowExecutor) Execute(ctx context.Context, config map[string]any, ctxSnapshot map[string]any) (map[string]any, error) {
	source := stepconfig.GetString(config, "source")
	path := stepconfig.GetString(config, "file")

	var def *flow.Definition
	var err error
	switch {
	case source != "":
		def, err = flow.Parse([]byte(source))
	case path != "":
		def, err = flow.Load(path)
	default:
		return nil, fmt.Errorf("subworkflow requires either 'source' or 'file' in config")
	}
	if err != nil {
		return nil, fmt.Errorf("load nested flow: %w", err)
	}

	childRegistry := e.Parent.Snapshot()
	childRegistry.Register(e)

	childStore := store.NewMemoryStore()
	childEngine := engine.New(childRegistry, childStore, nil, 0)

	inputs := stepconfig.GetMap(config, "inputs")
	initial := make(map[string]any, len(ctxSnapshot)+len(inputs))
	for k, v := range ctxSnapshot {
		initial[k] = v
	}
	for k, v := range inputs {
		initial[k] = v
	}

	runID, err := childEngine.Execute(ctx, def, initial)
	if err != nil {
		return nil, fmt.Errorf("execute nested flow: %w", err)
	}

	info, err := childStore.GetRunInfo(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("read nested run info: %w", err)
	}

	return map[string]any{
		"subworkflow_run_id": runID,
		"subworkflow_status": string(info.Status),
		"subworkflow_ctx":    info.Ctx,
	}, nil
}
