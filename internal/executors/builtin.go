// Package executors provides a handful of trivial Step-Executor
// implementations used as test fixtures and minimal working examples.
// They are not a product surface: the real built-in library (HTTP, file,
// DB, LLM, etc.) is explicitly out of the core engine's scope (spec §1),
// and is expected to be supplied by an external collaborator that
// satisfies the same Step-Executor contract.
package executors

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/skitsanos/ironflow/internal/stepconfig"
)

// LogExecutor writes config["message"] to the structured logger and
// returns no output. Useful as a no-op placeholder in example flows.
type LogExecutor struct {
	Logger *slog.Logger
}

func (e *LogExecutor) NodeType() string    { return "log" }
func (e *LogExecutor) Description() string { return "writes a message to the structured logger" }

func (e *LogExecutor) Execute(_ context.Context, config map[string]any, _ map[string]any) (map[string]any, error) {
	msg := stepconfig.GetString(config, "message")
	if e.Logger != nil {
		e.Logger.Info(msg, slog.String("event", "log_step"))
	}
	return nil, nil
}

// NoopExecutor returns its config unchanged as output.
type NoopExecutor struct{}

func (e *NoopExecutor) NodeType() string    { return "noop" }
func (e *NoopExecutor) Description() string { return "returns its config unchanged as output" }

func (e *NoopExecutor) Execute(_ context.Context, config map[string]any, _ map[string]any) (map[string]any, error) {
	return config, nil
}

// SetExecutor returns config["output"] as the step's output map,
// simulating a step that produces fixed results — used in tests and
// examples to seed Context values deterministically.
type SetExecutor struct{}

func (e *SetExecutor) NodeType() string    { return "set" }
func (e *SetExecutor) Description() string { return "returns a fixed map of output keys from config" }

func (e *SetExecutor) Execute(_ context.Context, config map[string]any, _ map[string]any) (map[string]any, error) {
	out := stepconfig.GetMap(config, "output")
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// FailExecutor always returns an error. Used in tests to exercise retry
// and on_error paths.
type FailExecutor struct{}

func (e *FailExecutor) NodeType() string    { return "fail" }
func (e *FailExecutor) Description() string { return "always fails; used to exercise retry/on_error paths" }

func (e *FailExecutor) Execute(_ context.Context, config map[string]any, _ map[string]any) (map[string]any, error) {
	msg := stepconfig.GetString(config, "message")
	if msg == "" {
		msg = "fail step invoked"
	}
	return nil, fmt.Errorf("%s", msg)
}

// DelayExecutor sleeps for config["seconds"] (default 0), honoring
// context cancellation. Used to exercise timeouts.
type DelayExecutor struct{}

func (e *DelayExecutor) NodeType() string    { return "delay" }
func (e *DelayExecutor) Description() string { return "sleeps for a configured duration, honoring cancellation" }

func (e *DelayExecutor) Execute(ctx context.Context, config map[string]any, _ map[string]any) (map[string]any, error) {
	seconds := stepconfig.GetFloatOr(config, "seconds", 0)
	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()

	select {
	case <-timer.C:
		return map[string]any{"slept_s": seconds}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
