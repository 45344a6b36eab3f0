// Package store implements the persistent state store contract (spec
// 4.C): the atomic-update semantics the run executor relies on for
// crash-resilient visibility of run and task state.
package store

import "time"

// RunStatus is the terminal/non-terminal status of one run.
type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
	RunStalled RunStatus = "stalled"
)

// TaskStatus is the status of one (run, step) pair.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskSuccess TaskStatus = "success"
	TaskFailed  TaskStatus = "failed"
	TaskSkipped TaskStatus = "skipped"
)

// TaskState is the per (run, step) record.
type TaskState struct {
	Name     string         `json:"name"`
	NodeType string         `json:"node_type"`
	Status   TaskStatus     `json:"status"`
	Attempt  int            `json:"attempt"`
	Started  *time.Time     `json:"started,omitempty"`
	Finished *time.Time     `json:"finished,omitempty"`
	Output   map[string]any `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// RunInfo is the full persisted record for one run.
type RunInfo struct {
	ID       string               `json:"id"`
	FlowName string               `json:"flow_name"`
	Status   RunStatus            `json:"status"`
	Started  time.Time            `json:"started"`
	Finished *time.Time           `json:"finished,omitempty"`
	Ctx      map[string]any       `json:"ctx"`
	Tasks    map[string]TaskState `json:"tasks"`
}

// IsTerminal reports whether status is one that sets RunInfo.Finished.
func (s RunStatus) IsTerminal() bool {
	return s == RunSuccess || s == RunFailed || s == RunStalled
}
