package store

import "context"

// Store is the state store contract. All operations are fallible and
// context-aware; a durable backend and an in-memory backend both satisfy
// it.
type Store interface {
	InitRun(ctx context.Context, runID, flowName string, initialCtx map[string]any) error
	SetRunStatus(ctx context.Context, runID string, status RunStatus) error
	UpsertTask(ctx context.Context, runID string, task TaskState) error
	GetCtx(ctx context.Context, runID string) (map[string]any, error)
	UpdateCtx(ctx context.Context, runID string, patch map[string]any) error
	GetRunInfo(ctx context.Context, runID string) (RunInfo, error)
	ListRuns(ctx context.Context, statusFilter *RunStatus) ([]RunInfo, error)
	DeleteRun(ctx context.Context, runID string) error
}
