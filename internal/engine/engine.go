// Package engine implements the run executor (spec 4.E): the core DAG
// scheduler that drives a validated flow to a terminal status against a
// pool of concurrent workers, grounded directly on the reference
// engine's executor.rs phase-disposition algorithm.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skitsanos/ironflow/internal/ctxmap"
	"github.com/skitsanos/ironflow/internal/expression"
	"github.com/skitsanos/ironflow/internal/flow"
	"github.com/skitsanos/ironflow/internal/registry"
	"github.com/skitsanos/ironflow/internal/store"
	ironerrors "github.com/skitsanos/ironflow/pkg/errors"
)

// Engine drives flow executions against a registry and a store.
type Engine struct {
	Registry   *registry.Registry
	Store      store.Store
	Logger     *slog.Logger
	Expr       *expression.Evaluator
	Concurrent int // 0 means "resolve from env/CPU count"
}

// New builds an Engine. concurrentOverride, if > 0, takes precedence over
// IRONFLOW_MAX_CONCURRENT_TASKS and the CPU-count default.
func New(reg *registry.Registry, st store.Store, logger *slog.Logger, concurrentOverride int) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Registry:   reg,
		Store:      st,
		Logger:     logger,
		Expr:       expression.New(),
		Concurrent: concurrentOverride,
	}
}

// resolveMaxConcurrentTasks implements the precedence in spec 4.E:
// caller-supplied override, else IRONFLOW_MAX_CONCURRENT_TASKS if
// parseable as a positive integer, else runtime.NumCPU().
func (e *Engine) resolveMaxConcurrentTasks() int {
	if e.Concurrent > 0 {
		return e.Concurrent
	}
	if v := os.Getenv("IRONFLOW_MAX_CONCURRENT_TASKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return 1
}

// runState holds the mutable bookkeeping for one in-flight Execute call.
type runState struct {
	runID        string
	def          *flow.Definition
	ctx          *ctxmap.Map
	sem          chan struct{}
	mu           sync.Mutex
	completed    map[string]bool
	failed       map[string]bool
	errorHandled map[string]bool
	errorOnly    map[string]bool
	stepByName   map[string]flow.StepDefinition
}

// Execute runs def to completion and returns its run id. On validation
// failure it returns an error without touching the store (fail fast
// before any store mutation).
func (e *Engine) Execute(ctx context.Context, def *flow.Definition, initialCtx map[string]any) (string, error) {
	if errs := flow.Validate(def); len(errs) > 0 {
		return "", &ironerrors.ValidationError{Field: "flow", Message: fmt.Sprintf("%v", errs)}
	}

	phases := flow.Phases(def)

	errorOnly := make(map[string]bool)
	stepByName := make(map[string]flow.StepDefinition, len(def.Steps))
	for _, s := range def.Steps {
		stepByName[s.Name] = s
		if s.OnError != "" {
			errorOnly[s.OnError] = true
		}
	}

	runID := uuid.NewString()

	if err := e.Store.InitRun(ctx, runID, def.Name, initialCtx); err != nil {
		return "", &ironerrors.InternalError{Operation: "init_run", Cause: err}
	}
	if err := e.Store.SetRunStatus(ctx, runID, store.RunRunning); err != nil {
		return "", &ironerrors.InternalError{Operation: "set_run_status", Cause: err}
	}
	for _, s := range def.Steps {
		task := store.TaskState{Name: s.Name, NodeType: s.NodeType, Status: store.TaskPending, Attempt: 0}
		if err := e.Store.UpsertTask(ctx, runID, task); err != nil {
			return runID, &ironerrors.InternalError{Operation: "upsert_task", Cause: err}
		}
	}

	rs := &runState{
		runID:        runID,
		def:          def,
		ctx:          ctxmap.New(initialCtx),
		sem:          make(chan struct{}, e.resolveMaxConcurrentTasks()),
		completed:    make(map[string]bool),
		failed:       make(map[string]bool),
		errorHandled: make(map[string]bool),
		errorOnly:    errorOnly,
		stepByName:   stepByName,
	}

	for _, phase := range phases {
		e.runPhase(ctx, rs, phase)
	}

	finalStatus := store.RunSuccess
	if len(rs.failed) > 0 {
		finalStatus = store.RunFailed
	}

	if err := e.Store.UpdateCtx(ctx, runID, rs.ctx.Snapshot()); err != nil {
		return runID, &ironerrors.InternalError{Operation: "update_ctx", Cause: err}
	}
	if err := e.Store.SetRunStatus(ctx, runID, finalStatus); err != nil {
		return runID, &ironerrors.InternalError{Operation: "set_run_status", Cause: err}
	}

	return runID, nil
}

// runPhase spawns workers for every step in phase per the 4-step
// disposition order and waits for all of them before returning (the
// phase barrier).
func (e *Engine) runPhase(ctx context.Context, rs *runState, phase []string) {
	var wg sync.WaitGroup

	for _, name := range phase {
		step := rs.stepByName[name]

		rs.mu.Lock()
		isErrorOnly := rs.errorOnly[name]
		handled := rs.errorHandled[name]
		rs.mu.Unlock()

		// 1. Error-only steps never participate in normal scheduling.
		if isErrorOnly {
			if handled {
				rs.mu.Lock()
				rs.completed[name] = true
				rs.mu.Unlock()
			}
			continue
		}

		// 2. Propagate skip if any dependency failed.
		if e.anyDependencyFailed(rs, step) {
			e.markSkipped(ctx, rs, step)
			continue
		}

		// 3. Route-mismatch skip.
		if step.Route != "" || step.RouteExpr != "" {
			ok, err := e.routeMatches(rs, step)
			if err != nil || !ok {
				rs.mu.Lock()
				rs.completed[name] = true
				rs.mu.Unlock()
				e.upsertTaskStatus(ctx, rs.runID, step, store.TaskSkipped, 0, nil, "")
				continue
			}
		}

		// 4. Spawn a worker.
		wg.Add(1)
		go func(s flow.StepDefinition) {
			defer wg.Done()
			e.runStepWithSemaphore(ctx, rs, s)
		}(step)
	}

	wg.Wait()
}

func (e *Engine) anyDependencyFailed(rs *runState, step flow.StepDefinition) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, dep := range step.Dependencies {
		if rs.failed[dep] {
			return true
		}
	}
	return false
}

func (e *Engine) markSkipped(ctx context.Context, rs *runState, step flow.StepDefinition) {
	rs.mu.Lock()
	rs.failed[step.Name] = true
	rs.mu.Unlock()
	e.upsertTaskStatus(ctx, rs.runID, step, store.TaskSkipped, 0, nil, "")
}

// routeMatches evaluates a step's route or route_expr condition against
// the current Context snapshot.
func (e *Engine) routeMatches(rs *runState, step flow.StepDefinition) (bool, error) {
	snapshot := rs.ctx.Snapshot()

	if step.RouteExpr != "" {
		return e.Expr.Evaluate(step.RouteExpr, map[string]any{"ctx": snapshot})
	}

	for _, dep := range step.Dependencies {
		key := "_route_" + dep
		if v, ok := snapshot[key]; ok {
			if s, ok := v.(string); ok && s == step.Route {
				return true, nil
			}
		}
	}
	return false, nil
}

func (e *Engine) upsertTaskStatus(ctx context.Context, runID string, step flow.StepDefinition, status store.TaskStatus, attempt int, output map[string]any, errMsg string) {
	task := store.TaskState{
		Name:     step.Name,
		NodeType: step.NodeType,
		Status:   status,
		Attempt:  attempt,
		Output:   output,
		Error:    errMsg,
	}
	if status == store.TaskRunning {
		now := time.Now().UTC()
		task.Started = &now
	}
	if status == store.TaskSuccess || status == store.TaskFailed || status == store.TaskSkipped {
		now := time.Now().UTC()
		task.Finished = &now
	}
	if status == store.TaskSuccess || status == store.TaskFailed {
		// Keep the start time recorded by this attempt's Running upsert.
		if info, err := e.Store.GetRunInfo(ctx, runID); err == nil {
			task.Started = info.Tasks[step.Name].Started
		}
	}
	if err := e.Store.UpsertTask(ctx, runID, task); err != nil {
		e.Logger.Error("upsert_task failed", slog.String("step", step.Name), slog.Any("error", err))
	}
}

// runStepWithSemaphore acquires one permit before running the step and
// releases it on every exit path.
func (e *Engine) runStepWithSemaphore(ctx context.Context, rs *runState, step flow.StepDefinition) {
	rs.sem <- struct{}{}
	defer func() { <-rs.sem }()

	e.runStepWithRetry(ctx, rs, step)
}

// runStepWithRetry implements the per-step worker (spec 4.E step 3-5).
// The on_error handler re-enters this same logic via runHandler, which
// is the one-level-deep re-entry described in spec 4.E step 4.
func (e *Engine) runStepWithRetry(ctx context.Context, rs *runState, step flow.StepDefinition) {
	executor, ok := e.Registry.Get(step.NodeType)
	if !ok {
		e.upsertTaskStatus(ctx, rs.runID, step, store.TaskFailed, 1, nil, fmt.Sprintf("unknown node type %q", step.NodeType))
		e.onStepTerminalFailure(ctx, rs, step)
		return
	}

	retry := step.EffectiveRetry()
	maxAttempts := retry.MaxRetries + 1

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		e.upsertTaskStatus(ctx, rs.runID, step, store.TaskRunning, attempt, nil, "")

		snapshot := rs.ctx.Snapshot()
		output, err := e.invokeWithTimeout(ctx, executor, step, snapshot)

		if err == nil {
			rs.ctx.Merge(output)
			e.upsertTaskStatus(ctx, rs.runID, step, store.TaskSuccess, attempt, output, "")
			rs.mu.Lock()
			rs.completed[step.Name] = true
			rs.mu.Unlock()
			return
		}

		stepErr := &ironerrors.StepError{Step: step.Name, Attempt: attempt, Cause: err}
		e.upsertTaskStatus(ctx, rs.runID, step, store.TaskFailed, attempt, nil, stepErr.Error())

		if attempt < maxAttempts {
			backoff := time.Duration(retry.BackoffS*float64(uint(1)<<uint(attempt-1)) * float64(time.Second))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				rs.mu.Lock()
				rs.failed[step.Name] = true
				rs.mu.Unlock()
				return
			}
		}
	}

	e.onStepTerminalFailure(ctx, rs, step)
}

// invokeWithTimeout races the executor invocation against step.TimeoutS,
// if set.
func (e *Engine) invokeWithTimeout(ctx context.Context, executor registry.Executor, step flow.StepDefinition, snapshot map[string]any) (map[string]any, error) {
	config := configWithStepName(step)

	if step.TimeoutS == nil {
		return executor.Execute(ctx, config, snapshot)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(*step.TimeoutS*float64(time.Second)))
	defer cancel()

	type result struct {
		output map[string]any
		err    error
	}
	resultCh := make(chan result, 1)

	go func() {
		out, err := executor.Execute(timeoutCtx, config, snapshot)
		resultCh <- result{out, err}
	}()

	select {
	case r := <-resultCh:
		return r.output, r.err
	case <-timeoutCtx.Done():
		return nil, &ironerrors.TimeoutError{Step: step.Name, Duration: fmt.Sprintf("%.3fs", *step.TimeoutS)}
	}
}

// onStepTerminalFailure implements failure post-processing (spec 4.E
// step 4): invoking the on_error handler one level deep, or else marking
// the step failed.
func (e *Engine) onStepTerminalFailure(ctx context.Context, rs *runState, step flow.StepDefinition) {
	if step.OnError == "" {
		rs.mu.Lock()
		rs.failed[step.Name] = true
		rs.mu.Unlock()
		return
	}

	handler, ok := rs.stepByName[step.OnError]
	if !ok {
		// Validator should have rejected this; defensive fallback.
		rs.mu.Lock()
		rs.failed[step.Name] = true
		rs.mu.Unlock()
		return
	}

	rs.ctx.Merge(map[string]any{
		"_error_message":   e.lastTaskError(ctx, rs.runID, step.Name),
		"_error_step":      step.Name,
		"_error_node_type": step.NodeType,
	})

	handlerRS := &runState{
		runID:        rs.runID,
		def:          rs.def,
		ctx:          rs.ctx,
		sem:          rs.sem,
		completed:    rs.completed,
		failed:       rs.failed,
		errorHandled: rs.errorHandled,
		errorOnly:    rs.errorOnly,
		stepByName:   rs.stepByName,
	}
	handlerSucceeded := e.runHandler(ctx, handlerRS, handler)

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if handlerSucceeded {
		rs.completed[step.Name] = true
		rs.completed[handler.Name] = true
		rs.errorHandled[handler.Name] = true
	} else {
		rs.failed[step.Name] = true
	}
}

// runHandler runs the on_error handler's own retry/timeout policy
// (one level deep — a failing handler does not recurse into its own
// on_error) and reports whether it ultimately succeeded.
func (e *Engine) runHandler(ctx context.Context, rs *runState, handler flow.StepDefinition) bool {
	executor, ok := e.Registry.Get(handler.NodeType)
	if !ok {
		e.upsertTaskStatus(ctx, rs.runID, handler, store.TaskFailed, 1, nil, fmt.Sprintf("unknown node type %q", handler.NodeType))
		return false
	}

	retry := handler.EffectiveRetry()
	maxAttempts := retry.MaxRetries + 1

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		e.upsertTaskStatus(ctx, rs.runID, handler, store.TaskRunning, attempt, nil, "")

		snapshot := rs.ctx.Snapshot()
		output, err := e.invokeWithTimeout(ctx, executor, handler, snapshot)

		if err == nil {
			rs.ctx.Merge(output)
			e.upsertTaskStatus(ctx, rs.runID, handler, store.TaskSuccess, attempt, output, "")
			return true
		}

		handlerErr := &ironerrors.StepError{Step: handler.Name, Attempt: attempt, Cause: err}
		e.upsertTaskStatus(ctx, rs.runID, handler, store.TaskFailed, attempt, nil, handlerErr.Error())

		if attempt < maxAttempts {
			backoff := time.Duration(retry.BackoffS*float64(uint(1)<<uint(attempt-1)) * float64(time.Second))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return false
			}
		}
	}

	return false
}

// configWithStepName returns a copy of step.Config with _step_name set,
// the injected key conditional executors (if_node, switch_node, etc.) use
// to know which _route_<step_name> key to write (spec 6).
func configWithStepName(step flow.StepDefinition) map[string]any {
	out := make(map[string]any, len(step.Config)+1)
	for k, v := range step.Config {
		out[k] = v
	}
	out["_step_name"] = step.Name
	return out
}

// lastTaskError reads back the just-recorded failure message for step so
// it can be injected as _error_message.
func (e *Engine) lastTaskError(ctx context.Context, runID, stepName string) string {
	info, err := e.Store.GetRunInfo(ctx, runID)
	if err != nil {
		return ""
	}
	if t, ok := info.Tasks[stepName]; ok {
		return t.Error
	}
	return ""
}
