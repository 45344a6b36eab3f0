package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	ironerrors "github.com/skitsanos/ironflow/pkg/errors"
)

// FileStore is the durable file-based backend: one JSON document per run,
// written via temp-file + rename. A single writer lock serializes
// mutators; readers take a shared lock — the same discipline as
// json_store.rs's RwLock<()> guard.
type FileStore struct {
	mu  sync.RWMutex
	dir string
}

// NewFileStore returns a FileStore rooted at dir. The directory is
// created lazily on first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) runPath(runID string) string {
	return filepath.Join(s.dir, runID+".json")
}

func (s *FileStore) readRunLocked(runID string) (RunInfo, error) {
	data, err := os.ReadFile(s.runPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return RunInfo{}, &ironerrors.NotFoundError{Resource: "run", ID: runID}
		}
		return RunInfo{}, &ironerrors.InternalError{Operation: "read run", Cause: err}
	}
	var info RunInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return RunInfo{}, &ironerrors.InternalError{Operation: "parse run", Cause: err}
	}
	return info, nil
}

// writeRunLocked serializes info and writes it via temp-file + rename:
// the canonical atomic-replace technique on POSIX and on Windows (NTFS
// rename).
func (s *FileStore) writeRunLocked(info RunInfo) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return &ironerrors.InternalError{Operation: "create store dir", Cause: err}
	}

	path := s.runPath(info.ID)
	tmpPath := path + ".tmp"

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return &ironerrors.InternalError{Operation: "marshal run", Cause: err}
	}

	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return &ironerrors.InternalError{Operation: "write run tmp file", Cause: err}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &ironerrors.InternalError{Operation: "rename run file", Cause: err}
	}

	return nil
}

func (s *FileStore) InitRun(_ context.Context, runID, flowName string, initialCtx map[string]any) error {
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
	return s.writeRunLocked(info)
}

func (s *FileStore) SetRunStatus(_ context.Context, runID string, status RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := s.readRunLocked(runID)
	if err != nil {
		return err
	}
	info.Status = status
	if status.IsTerminal() {
		now := time.Now().UTC()
		info.Finished = &now
	}
	return s.writeRunLocked(info)
}

func (s *FileStore) UpsertTask(_ context.Context, runID string, task TaskState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := s.readRunLocked(runID)
	if err != nil {
		return err
	}
	if info.Tasks == nil {
		info.Tasks = make(map[string]TaskState)
	}
	info.Tasks[task.Name] = task
	return s.writeRunLocked(info)
}

func (s *FileStore) GetCtx(_ context.Context, runID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, err := s.readRunLocked(runID)
	if err != nil {
		return nil, err
	}
	return info.Ctx, nil
}

func (s *FileStore) UpdateCtx(_ context.Context, runID string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := s.readRunLocked(runID)
	if err != nil {
		return err
	}
	if info.Ctx == nil {
		info.Ctx = make(map[string]any)
	}
	for k, v := range patch {
		info.Ctx[k] = v
	}
	return s.writeRunLocked(info)
}

func (s *FileStore) GetRunInfo(_ context.Context, runID string) (RunInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readRunLocked(runID)
}

func (s *FileStore) ListRuns(_ context.Context, statusFilter *RunStatus) ([]RunInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunInfo{}, nil
		}
		return nil, &ironerrors.InternalError{Operation: "list run dir", Cause: err}
	}

	var runs []RunInfo
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		var info RunInfo
		if err := json.Unmarshal(data, &info); err != nil {
			// A corrupt entry is treated as absent rather than aborting the
			// whole listing.
			continue
		}
		if statusFilter != nil && info.Status != *statusFilter {
			continue
		}
		runs = append(runs, info)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].Started.After(runs[j].Started) })
	if runs == nil {
		runs = []RunInfo{}
	}
	return runs, nil
}

func (s *FileStore) DeleteRun(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.runPath(runID)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &ironerrors.InternalError{Operation: "stat run file", Cause: err}
	}
	if err := os.Remove(path); err != nil {
		return &ironerrors.InternalError{Operation: "delete run file", Cause: err}
	}
	return nil
}

var _ Store = (*FileStore)(nil)
