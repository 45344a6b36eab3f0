package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	return map[string]Store{
		"file":   NewFileStore(filepath.Join(t.TempDir(), "runs")),
		"memory": NewMemoryStore(),
	}
}

func TestInitRunRoundTripsContext(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.InitRun(ctx, "r1", "flow", map[string]any{"a": float64(1)}))

			info, err := s.GetRunInfo(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, RunPending, info.Status)
			assert.Equal(t, map[string]any{"a": float64(1)}, info.Ctx)
			assert.Empty(t, info.Tasks)
		})
	}
}

func TestUpsertTaskIsIdempotent(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.InitRun(ctx, "r1", "flow", nil))

			task := TaskState{Name: "a", NodeType: "noop", Status: TaskSuccess, Attempt: 1}
			require.NoError(t, s.UpsertTask(ctx, "r1", task))
			require.NoError(t, s.UpsertTask(ctx, "r1", task))

			info, err := s.GetRunInfo(ctx, "r1")
			require.NoError(t, err)
			require.Len(t, info.Tasks, 1)
			assert.Equal(t, task, info.Tasks["a"])
		})
	}
}

func TestSetRunStatusSetsFinishedOnlyOnTerminal(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.InitRun(ctx, "r1", "flow", nil))
			require.NoError(t, s.SetRunStatus(ctx, "r1", RunRunning))

			info, err := s.GetRunInfo(ctx, "r1")
			require.NoError(t, err)
			assert.Nil(t, info.Finished)

			require.NoError(t, s.SetRunStatus(ctx, "r1", RunSuccess))
			info, err = s.GetRunInfo(ctx, "r1")
			require.NoError(t, err)
			require.NotNil(t, info.Finished)
		})
	}
}

func TestUpdateCtxMergesWithoutDroppingOtherKeys(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.InitRun(ctx, "r1", "flow", map[string]any{"a": float64(1)}))
			require.NoError(t, s.UpdateCtx(ctx, "r1", map[string]any{"b": float64(2)}))

			got, err := s.GetCtx(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"a": float64(1), "b": float64(2)}, got)
		})
	}
}

func TestGetRunInfoNotFound(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetRunInfo(context.Background(), "missing")
			assert.Error(t, err)
		})
	}
}

func TestListRunsSortedByStartedDescendingAndFiltered(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.InitRun(ctx, "r1", "flow", nil))
			require.NoError(t, s.SetRunStatus(ctx, "r1", RunFailed))
			require.NoError(t, s.InitRun(ctx, "r2", "flow", nil))
			require.NoError(t, s.SetRunStatus(ctx, "r2", RunSuccess))

			all, err := s.ListRuns(ctx, nil)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "r2", all[0].ID)
			assert.Equal(t, "r1", all[1].ID)

			success := RunSuccess
			filtered, err := s.ListRuns(ctx, &success)
			require.NoError(t, err)
			require.Len(t, filtered, 1)
			assert.Equal(t, "r2", filtered[0].ID)
		})
	}
}

func TestDeleteRun(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.InitRun(ctx, "r1", "flow", nil))
			require.NoError(t, s.DeleteRun(ctx, "r1"))

			_, err := s.GetRunInfo(ctx, "r1")
			assert.Error(t, err)
		})
	}
}
