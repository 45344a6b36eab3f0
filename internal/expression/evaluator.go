// Package expression wraps github.com/expr-lang/expr for route_expr
// evaluation: an additive, expression-based generalization of the
// engine's simple route string-equality check.
package expression

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	ironerrors "github.com/skitsanos/ironflow/pkg/errors"
)

// Evaluator evaluates boolean route_expr expressions against a run
// Context snapshot, caching compiled programs for repeated evaluation
// across phases.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// New creates an empty Evaluator.
func New() *Evaluator {
	return &Evaluator{cache: make(map[string]*vm.Program)}
}

// Evaluate compiles (or reuses a cached compile of) expression and runs
// it against env, requiring a boolean result.
func (e *Evaluator) Evaluate(expression string, env map[string]any) (bool, error) {
	if expression == "" {
		return true, nil
	}

	program, err := e.compile(expression)
	if err != nil {
		return false, &ironerrors.ValidationError{
			Field:      "route_expr",
			Message:    fmt.Sprintf("failed to compile expression: %s", err.Error()),
			Suggestion: "check expression syntax and ensure referenced context keys exist",
		}
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, &ironerrors.ValidationError{
			Field:   "route_expr",
			Message: fmt.Sprintf("expression evaluation failed: %s", err.Error()),
		}
	}

	boolResult, ok := result.(bool)
	if !ok {
		return false, &ironerrors.ValidationError{
			Field:   "route_expr",
			Message: fmt.Sprintf("route_expr must return boolean, got %T", result),
		}
	}
	return boolResult, nil
}

func (e *Evaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if p, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return p, nil
	}
	e.mu.RUnlock()

	program, err := expr.Compile(expression, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = program
	e.mu.Unlock()

	return program, nil
}
