// Package flow provides the flow definition model and its validation:
// entities, invariants, and the static checks (missing dependency, unknown
// on_error target, error-only step used as a dependency, cycle detection)
// required before execution. Node types are not checked here, since this
// package does not see the executor registry; the validate command and
// POST /flows/validate check them against the registry.
//
// Flow definitions are authored as YAML documents. The version field is
// optional and defaults to "1.0".
package flow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RetryPolicy controls per-step retry/backoff behavior.
type RetryPolicy struct {
	MaxRetries int     `yaml:"max_retries" json:"max_retries"`
	BackoffS   float64 `yaml:"backoff_s" json:"backoff_s"`
}

// DefaultRetryPolicy is applied when a step omits retry entirely: zero
// retries, backoff irrelevant at that point.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 0, BackoffS: 1}
}

// StepDefinition is one node in the flow, immutable after load.
type StepDefinition struct {
	Name         string         `yaml:"name" json:"name"`
	NodeType     string         `yaml:"node_type" json:"node_type"`
	Config       map[string]any `yaml:"config" json:"config"`
	Dependencies []string       `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Retry        *RetryPolicy   `yaml:"retry,omitempty" json:"retry,omitempty"`
	TimeoutS     *float64       `yaml:"timeout_s,omitempty" json:"timeout_s,omitempty"`
	Route        string         `yaml:"route,omitempty" json:"route,omitempty"`
	RouteExpr    string         `yaml:"route_expr,omitempty" json:"route_expr,omitempty"`
	OnError      string         `yaml:"on_error,omitempty" json:"on_error,omitempty"`
}

// EffectiveRetry returns the step's retry policy, defaulting when unset.
func (s StepDefinition) EffectiveRetry() RetryPolicy {
	if s.Retry == nil {
		return DefaultRetryPolicy()
	}
	return *s.Retry
}

// Definition represents a YAML-based flow definition: a named set of
// steps with dependencies, retry/timeout policy, conditional routing, and
// error handlers.
type Definition struct {
	Name    string           `yaml:"name" json:"name"`
	Version string           `yaml:"version" json:"version"`
	Steps   []StepDefinition `yaml:"steps" json:"steps"`
}

// Load reads and parses a flow definition from path.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flow file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a flow definition from YAML source. Duplicate step names
// are a loader-level decode concern (enforced here); every other
// invariant is re-verified by Validate.
func Parse(source []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(source, &def); err != nil {
		return nil, fmt.Errorf("parse flow: %w", err)
	}
	if def.Version == "" {
		def.Version = "1.0"
	}

	seen := make(map[string]bool, len(def.Steps))
	for _, s := range def.Steps {
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate step name %q", s.Name)
		}
		seen[s.Name] = true
	}

	return &def, nil
}

// StepByName returns the step with the given name, if present.
func (d *Definition) StepByName(name string) (StepDefinition, bool) {
	for _, s := range d.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepDefinition{}, false
}
