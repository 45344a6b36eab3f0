// Package registry implements the Step-Executor registry (spec 4.B): a
// case-sensitive name -> Executor map, immutable after construction.
package registry

import (
	"context"
	"sort"
)

// Executor is the Step-Executor contract consumed by the engine. Built-in
// implementations are black boxes satisfying this interface; the real
// built-in library (HTTP, file, DB, LLM, etc.) is out of scope, only its
// contract shape matters here.
type Executor interface {
	NodeType() string
	Description() string
	Execute(ctx context.Context, config map[string]any, ctxSnapshot map[string]any) (map[string]any, error)
}

// Info describes one registered executor for listing purposes.
type Info struct {
	NodeType    string `json:"node_type"`
	Description string `json:"description"`
}

// Registry is a read-only-after-construction name -> Executor map.
type Registry struct {
	entries map[string]Executor
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Executor)}
}

// Register adds or replaces an executor under its own NodeType(). It is
// intended to be called only during process/registry construction; the
// registry is treated as immutable once handed to an engine.
func (r *Registry) Register(e Executor) {
	r.entries[e.NodeType()] = e
}

// Get resolves an executor by node type. The bool reports whether it was
// found.
func (r *Registry) Get(nodeType string) (Executor, bool) {
	e, ok := r.entries[nodeType]
	return e, ok
}

// Has reports whether nodeType is registered.
func (r *Registry) Has(nodeType string) bool {
	_, ok := r.entries[nodeType]
	return ok
}

// List returns every registered executor's Info, sorted by node type.
func (r *Registry) List() []Info {
	out := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, Info{NodeType: e.NodeType(), Description: e.Description()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeType < out[j].NodeType })
	return out
}

// Snapshot returns an independent copy of the registry. Composite
// executors that need to make themselves available to a nested flow
// (e.g. the subworkflow executor) clone the registry, register themselves
// into the clone, and hand the clone to the child run — this avoids a
// self-referential registry construction while keeping the parent
// registry immutable during use.
func (r *Registry) Snapshot() *Registry {
	clone := New()
	for k, v := range r.entries {
		clone.entries[k] = v
	}
	return clone
}
