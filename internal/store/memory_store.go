package store

import (
	"context"
	"sort"
	"sync"
	"time"

	ironerrors "github.com/skitsanos/ironflow/pkg/errors"
)

// MemoryStore is the in-memory ephemeral backend: used for nested/child
// flows whose persistence is unnecessary. ListRuns only ever returns runs
// created in this instance's lifetime, never reads a directory.
//
// Mutators are serialized with a single mutex, the in-memory equivalent
// of the file backend's temp-file + rename atomicity.
type MemoryStore struct {
	mu   sync.Mutex
	runs map[string]RunInfo
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]RunInfo)}
}

// copyRunInfo deep-copies the mutable fields of a RunInfo so that callers
// holding a returned value cannot mutate the store's internal state.
func copyRunInfo(info RunInfo) RunInfo {
	out := info
	out.Ctx = make(map[string]any, len(info.Ctx))
	for k, v := range info.Ctx {
		out.Ctx[k] = v
	}
	out.Tasks = make(map[string]TaskState, len(info.Tasks))
	for k, v := range info.Tasks {
		out.Tasks[k] = v
	}
	return out
}

func (s *MemoryStore) InitRun(_ context.Context, runID, flowName string, initialCtx map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := RunInfo{
		ID:       runID,
		FlowName: flowName,
		Status:   RunPending,
		Started:  time.Now().UTC(),
		Ctx:      initialCtx,
		Tasks:    make(map[string]TaskState),
	}
	s.runs[runID] = copyRunInfo(info)
	return nil
}

func (s *MemoryStore) SetRunStatus(_ context.Context, runID string, status RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.runs[runID]
	if !ok {
		return &ironerrors.NotFoundError{Resource: "run", ID: runID}
	}
	info.Status = status
	if status.IsTerminal() {
		now := time.Now().UTC()
		info.Finished = &now
	}
	s.runs[runID] = info
	return nil
}

func (s *MemoryStore) UpsertTask(_ context.Context, runID string, task TaskState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.runs[runID]
	if !ok {
		return &ironerrors.NotFoundError{Resource: "run", ID: runID}
	}
	if info.Tasks == nil {
		info.Tasks = make(map[string]TaskState)
	}
	info.Tasks[task.Name] = task
	s.runs[runID] = info
	return nil
}

func (s *MemoryStore) GetCtx(_ context.Context, runID string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.runs[runID]
	if !ok {
		return nil, &ironerrors.NotFoundError{Resource: "run", ID: runID}
	}
	out := make(map[string]any, len(info.Ctx))
	for k, v := range info.Ctx {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) UpdateCtx(_ context.Context, runID string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.runs[runID]
	if !ok {
		return &ironerrors.NotFoundError{Resource: "run", ID: runID}
	}
	if info.Ctx == nil {
		info.Ctx = make(map[string]any)
	}
	for k, v := range patch {
		info.Ctx[k] = v
	}
	s.runs[runID] = info
	return nil
}

func (s *MemoryStore) GetRunInfo(_ context.Context, runID string) (RunInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.runs[runID]
	if !ok {
		return RunInfo{}, &ironerrors.NotFoundError{Resource: "run", ID: runID}
	}
	return copyRunInfo(info), nil
}

func (s *MemoryStore) ListRuns(_ context.Context, statusFilter *RunStatus) ([]RunInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs := make([]RunInfo, 0, len(s.runs))
	for _, info := range s.runs {
		if statusFilter != nil && info.Status != *statusFilter {
			continue
		}
		runs = append(runs, copyRunInfo(info))
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Started.After(runs[j].Started) })
	return runs, nil
}

func (s *MemoryStore) DeleteRun(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
	return nil
}

var _ Store = (*MemoryStore)(nil)
