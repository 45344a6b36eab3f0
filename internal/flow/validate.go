package flow

import (
	"fmt"
	"sort"
)

// Validate returns a (possibly empty) list of string errors. Validation
// is pure and never short-circuits after the first problem found.
func Validate(def *Definition) []string {
	var errs []string

	names := make(map[string]bool, len(def.Steps))
	for _, s := range def.Steps {
		names[s.Name] = true
	}

	// Unknown dependency references.
	for _, s := range def.Steps {
		for _, dep := range s.Dependencies {
			if !names[dep] {
				errs = append(errs, fmt.Sprintf("step %q depends on unknown step %q", s.Name, dep))
			}
		}
	}

	// Unknown on_error targets.
	errorOnly := make(map[string]bool)
	for _, s := range def.Steps {
		if s.OnError == "" {
			continue
		}
		if !names[s.OnError] {
			errs = append(errs, fmt.Sprintf("step %q has unknown on_error target %q", s.Name, s.OnError))
			continue
		}
		errorOnly[s.OnError] = true
	}

	// An error-only step must not also be a normal dependency target.
	dependencyTargets := make(map[string]bool)
	for _, s := range def.Steps {
		for _, dep := range s.Dependencies {
			dependencyTargets[dep] = true
		}
	}
	for name := range errorOnly {
		if dependencyTargets[name] {
			errs = append(errs, fmt.Sprintf("step %q is both an on_error handler and a normal dependency target", name))
		}
	}

	// Cycle detection via Kahn's algorithm.
	if cycle := detectCycle(def); len(cycle) > 0 {
		sort.Strings(cycle)
		errs = append(errs, fmt.Sprintf("cycle detected among steps: %v", cycle))
	}

	return errs
}

// detectCycle runs Kahn's algorithm and returns the names of any steps
// remaining after every reachable in-degree-0 node has been peeled off.
// An empty result means the graph is acyclic.
func detectCycle(def *Definition) []string {
	inDegree := make(map[string]int, len(def.Steps))
	dependents := make(map[string][]string, len(def.Steps))

	for _, s := range def.Steps {
		if _, ok := inDegree[s.Name]; !ok {
			inDegree[s.Name] = 0
		}
		for _, dep := range s.Dependencies {
			// Unknown dependencies are reported separately; skip them here
			// so a dangling reference doesn't distort degree counts.
			found := false
			for _, other := range def.Steps {
				if other.Name == dep {
					found = true
					break
				}
			}
			if !found {
				continue
			}
			inDegree[s.Name]++
			dependents[dep] = append(dependents[dep], s.Name)
		}
	}

	remaining := make(map[string]bool, len(inDegree))
	for name := range inDegree {
		remaining[name] = true
	}

	for {
		var ready []string
		for name := range remaining {
			if inDegree[name] == 0 {
				ready = append(ready, name)
			}
		}
		if len(ready) == 0 {
			break
		}
		for _, name := range ready {
			delete(remaining, name)
			for _, dep := range dependents[name] {
				inDegree[dep]--
			}
		}
	}

	out := make([]string, 0, len(remaining))
	for name := range remaining {
		out = append(out, name)
	}
	return out
}

// Phases computes the execution phases by Kahn's algorithm: each phase is
// a batch of step names with all dependencies already satisfied by
// earlier phases. Callers must run Validate first; Phases assumes an
// acyclic graph and returns a partial result (never empty-looping) if
// called on a cyclic one.
func Phases(def *Definition) [][]string {
	inDegree := make(map[string]int, len(def.Steps))
	dependents := make(map[string][]string, len(def.Steps))

	for _, s := range def.Steps {
		if _, ok := inDegree[s.Name]; !ok {
			inDegree[s.Name] = 0
		}
	}
	for _, s := range def.Steps {
		for _, dep := range s.Dependencies {
			inDegree[s.Name]++
			dependents[dep] = append(dependents[dep], s.Name)
		}
	}

	remaining := make(map[string]bool, len(inDegree))
	for name := range inDegree {
		remaining[name] = true
	}

	var phases [][]string
	for len(remaining) > 0 {
		var ready []string
		for name := range remaining {
			if inDegree[name] == 0 {
				ready = append(ready, name)
			}
		}
		if len(ready) == 0 {
			// Cyclic; stop rather than loop forever. Validate() should have
			// already rejected this flow.
			break
		}
		sort.Strings(ready)
		phases = append(phases, ready)
		for _, name := range ready {
			delete(remaining, name)
			for _, dep := range dependents[name] {
				inDegree[dep]--
			}
		}
	}

	return phases
}
