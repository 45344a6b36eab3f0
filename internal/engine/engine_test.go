package engine_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skitsanos/ironflow/internal/engine"
	"github.com/skitsanos/ironflow/internal/flow"
	"github.com/skitsanos/ironflow/internal/registry"
	"github.com/skitsanos/ironflow/internal/store"
)

// countingExecutor records how many times it was invoked and, on a
// configurable attempt, starts succeeding.
type countingExecutor struct {
	nodeType   string
	failUntil  int32
	calls      int32
	timestamps []time.Time
	mu         sync.Mutex
}

func (e *countingExecutor) NodeType() string    { return e.nodeType }
func (e *countingExecutor) Description() string { return "test fixture" }

func (e *countingExecutor) Execute(_ context.Context, _ map[string]any, _ map[string]any) (map[string]any, error) {
	n := atomic.AddInt32(&e.calls, 1)
	e.mu.Lock()
	e.timestamps = append(e.timestamps, time.Now())
	e.mu.Unlock()
	if n <= e.failUntil {
		return nil, fmt.Errorf("fail attempt %d", n)
	}
	return map[string]any{"ok": true}, nil
}

type setExecutor struct {
	nodeType string
	output   map[string]any
}

func (e *setExecutor) NodeType() string    { return e.nodeType }
func (e *setExecutor) Description() string { return "test fixture" }
func (e *setExecutor) Execute(_ context.Context, _ map[string]any, _ map[string]any) (map[string]any, error) {
	return e.output, nil
}

type failExecutor struct{ nodeType string }

func (e *failExecutor) NodeType() string    { return e.nodeType }
func (e *failExecutor) Description() string { return "test fixture" }
func (e *failExecutor) Execute(_ context.Context, _ map[string]any, _ map[string]any) (map[string]any, error) {
	return nil, fmt.Errorf("always fails")
}

func newEngine(t *testing.T, reg *registry.Registry) (*engine.Engine, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	return engine.New(reg, st, nil, 4), st
}

func step(name, nodeType string, deps ...string) flow.StepDefinition {
	return flow.StepDefinition{Name: name, NodeType: nodeType, Dependencies: deps}
}

func TestLinearSuccess(t *testing.T) {
	reg := registry.New()
	reg.Register(&setExecutor{nodeType: "ok", output: map[string]any{"x": 1}})

	def := &flow.Definition{Name: "linear", Steps: []flow.StepDefinition{
		step("a", "ok"),
		step("b", "ok", "a"),
		step("c", "ok", "b"),
	}}

	e, st := newEngine(t, reg)
	runID, err := e.Execute(context.Background(), def, nil)
	require.NoError(t, err)

	info, err := st.GetRunInfo(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunSuccess, info.Status)
	for _, name := range []string{"a", "b", "c"} {
		assert.Equal(t, store.TaskSuccess, info.Tasks[name].Status)
	}
}

func TestDiamondRunsConcurrentBranches(t *testing.T) {
	reg := registry.New()
	reg.Register(&setExecutor{nodeType: "ok", output: map[string]any{}})

	def := &flow.Definition{Name: "diamond", Steps: []flow.StepDefinition{
		step("a", "ok"),
		step("b", "ok", "a"),
		step("c", "ok", "a"),
		step("d", "ok", "b", "c"),
	}}

	e, st := newEngine(t, reg)
	runID, err := e.Execute(context.Background(), def, nil)
	require.NoError(t, err)

	info, err := st.GetRunInfo(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunSuccess, info.Status)
	assert.Equal(t, store.TaskSuccess, info.Tasks["d"].Status)
}

// concurrencyTrackingExecutor records the maximum number of overlapping
// Execute calls it ever observes, to verify the engine's semaphore
// actually bounds in-flight steps rather than just shaping the DAG.
type concurrencyTrackingExecutor struct {
	nodeType string
	inFlight int32
	maxSeen  int32
}

func (e *concurrencyTrackingExecutor) NodeType() string    { return e.nodeType }
func (e *concurrencyTrackingExecutor) Description() string { return "test fixture" }

func (e *concurrencyTrackingExecutor) Execute(_ context.Context, _ map[string]any, _ map[string]any) (map[string]any, error) {
	n := atomic.AddInt32(&e.inFlight, 1)
	for {
		max := atomic.LoadInt32(&e.maxSeen)
		if n <= max || atomic.CompareAndSwapInt32(&e.maxSeen, max, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	atomic.AddInt32(&e.inFlight, -1)
	return map[string]any{}, nil
}

func TestMaxConcurrentTasksBoundsInFlightSteps(t *testing.T) {
	reg := registry.New()
	tracking := &concurrencyTrackingExecutor{nodeType: "track"}
	reg.Register(tracking)

	steps := make([]flow.StepDefinition, 0, 10)
	for i := 0; i < 10; i++ {
		steps = append(steps, step(fmt.Sprintf("s%d", i), "track"))
	}
	def := &flow.Definition{Name: "fanout", Steps: steps}

	st := store.NewMemoryStore()
	const limit = 3
	e := engine.New(reg, st, nil, limit)
	runID, err := e.Execute(context.Background(), def, nil)
	require.NoError(t, err)

	info, err := st.GetRunInfo(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunSuccess, info.Status)
	assert.LessOrEqual(t, int(atomic.LoadInt32(&tracking.maxSeen)), limit)
}

func TestRetryThenSucceed(t *testing.T) {
	reg := registry.New()
	counting := &countingExecutor{nodeType: "flaky", failUntil: 1}
	reg.Register(counting)

	def := &flow.Definition{Name: "retry", Steps: []flow.StepDefinition{
		{Name: "a", NodeType: "flaky", Retry: &flow.RetryPolicy{MaxRetries: 2, BackoffS: 0.01}},
	}}

	e, st := newEngine(t, reg)
	runID, err := e.Execute(context.Background(), def, nil)
	require.NoError(t, err)

	info, err := st.GetRunInfo(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunSuccess, info.Status)
	assert.Equal(t, store.TaskSuccess, info.Tasks["a"].Status)
	assert.Equal(t, 2, info.Tasks["a"].Attempt)

	counting.mu.Lock()
	defer counting.mu.Unlock()
	require.Len(t, counting.timestamps, 2)
	assert.GreaterOrEqual(t, counting.timestamps[1].Sub(counting.timestamps[0]), 10*time.Millisecond)
}

func TestPoisoningSkipsDownstream(t *testing.T) {
	reg := registry.New()
	reg.Register(&failExecutor{nodeType: "bad"})
	reg.Register(&setExecutor{nodeType: "ok", output: map[string]any{}})

	def := &flow.Definition{Name: "poison", Steps: []flow.StepDefinition{
		{Name: "bad", NodeType: "bad"},
		step("after", "ok", "bad"),
	}}

	e, st := newEngine(t, reg)
	runID, err := e.Execute(context.Background(), def, nil)
	require.NoError(t, err)

	info, err := st.GetRunInfo(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, info.Status)
	assert.Equal(t, store.TaskFailed, info.Tasks["bad"].Status)
	assert.Equal(t, store.TaskSkipped, info.Tasks["after"].Status)
}

type handlerExecutor struct{}

func (e *handlerExecutor) NodeType() string    { return "handler" }
func (e *handlerExecutor) Description() string { return "test fixture" }
func (e *handlerExecutor) Execute(_ context.Context, _ map[string]any, _ map[string]any) (map[string]any, error) {
	return map[string]any{"caught": true}, nil
}

func TestErrorHandlerRecoversRun(t *testing.T) {
	reg := registry.New()
	reg.Register(&failExecutor{nodeType: "risky"})
	reg.Register(&handlerExecutor{})

	def := &flow.Definition{Name: "handled", Steps: []flow.StepDefinition{
		{Name: "risky", NodeType: "risky", OnError: "handler"},
		{Name: "handler", NodeType: "handler"},
	}}

	e, st := newEngine(t, reg)
	runID, err := e.Execute(context.Background(), def, nil)
	require.NoError(t, err)

	info, err := st.GetRunInfo(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunSuccess, info.Status)
	assert.Equal(t, true, info.Ctx["caught"])
	assert.Equal(t, "risky", info.Ctx["_error_step"])
}

type routeExecutor struct{ route string }

func (e *routeExecutor) NodeType() string    { return "check" }
func (e *routeExecutor) Description() string { return "test fixture" }
func (e *routeExecutor) Execute(_ context.Context, _ map[string]any, ctx map[string]any) (map[string]any, error) {
	amount, _ := ctx["amount"].(float64)
	route := "low"
	if amount > 100 {
		route = "high"
	}
	return map[string]any{"_route_check": route}, nil
}

func TestConditionalRouting(t *testing.T) {
	reg := registry.New()
	reg.Register(&routeExecutor{})
	reg.Register(&setExecutor{nodeType: "branch", output: map[string]any{}})

	def := &flow.Definition{Name: "routing", Steps: []flow.StepDefinition{
		{Name: "check", NodeType: "check"},
		{Name: "high_branch", NodeType: "branch", Dependencies: []string{"check"}, Route: "high"},
		{Name: "low_branch", NodeType: "branch", Dependencies: []string{"check"}, Route: "low"},
	}}

	e, st := newEngine(t, reg)
	runID, err := e.Execute(context.Background(), def, map[string]any{"amount": float64(200)})
	require.NoError(t, err)

	info, err := st.GetRunInfo(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunSuccess, info.Status)
	assert.Equal(t, store.TaskSuccess, info.Tasks["high_branch"].Status)
	assert.Equal(t, store.TaskSkipped, info.Tasks["low_branch"].Status)
}

func TestEmptyFlowSucceedsImmediately(t *testing.T) {
	reg := registry.New()
	def := &flow.Definition{Name: "empty"}

	e, st := newEngine(t, reg)
	runID, err := e.Execute(context.Background(), def, nil)
	require.NoError(t, err)

	info, err := st.GetRunInfo(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunSuccess, info.Status)
	assert.Empty(t, info.Tasks)
}

func TestCycleRejectedBeforeStoreMutation(t *testing.T) {
	reg := registry.New()
	def := &flow.Definition{Name: "cyclic", Steps: []flow.StepDefinition{
		step("a", "ok", "b"),
		step("b", "ok", "a"),
	}}

	e, st := newEngine(t, reg)
	_, err := e.Execute(context.Background(), def, nil)
	require.Error(t, err)

	runs, err := st.ListRuns(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestMaxRetriesZeroRunsExactlyOnce(t *testing.T) {
	reg := registry.New()
	reg.Register(&failExecutor{nodeType: "bad"})

	def := &flow.Definition{Name: "zero-retry", Steps: []flow.StepDefinition{
		{Name: "a", NodeType: "bad", Retry: &flow.RetryPolicy{MaxRetries: 0, BackoffS: 0.01}},
	}}

	e, st := newEngine(t, reg)
	runID, err := e.Execute(context.Background(), def, nil)
	require.NoError(t, err)

	info, err := st.GetRunInfo(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, info.Status)
	assert.Equal(t, 1, info.Tasks["a"].Attempt)
}

type neverRespondsExecutor struct{}

func (e *neverRespondsExecutor) NodeType() string    { return "stuck" }
func (e *neverRespondsExecutor) Description() string { return "test fixture" }
func (e *neverRespondsExecutor) Execute(ctx context.Context, _ map[string]any, _ map[string]any) (map[string]any, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestTimeoutSmallerThanExecutorDurationFailsThenRetries(t *testing.T) {
	reg := registry.New()
	reg.Register(&neverRespondsExecutor{})

	timeout := 0.01
	def := &flow.Definition{Name: "timeout", Steps: []flow.StepDefinition{
		{Name: "a", NodeType: "stuck", TimeoutS: &timeout, Retry: &flow.RetryPolicy{MaxRetries: 1, BackoffS: 0.01}},
	}}

	e, st := newEngine(t, reg)
	runID, err := e.Execute(context.Background(), def, nil)
	require.NoError(t, err)

	info, err := st.GetRunInfo(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, info.Status)
	assert.Contains(t, info.Tasks["a"].Error, "timed out")
}
