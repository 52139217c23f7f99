package workflow

import (
	"time"

	"github.com/vietddude/triage/internal/core/domain"
	"github.com/vietddude/triage/internal/core/runstate"
)

// InstanceStatus is the coarse lifecycle of a run as reported to clients.
type InstanceStatus string

const (
	StatusQueued   InstanceStatus = "queued"
	StatusRunning  InstanceStatus = "running"
	StatusComplete InstanceStatus = "complete"
	StatusErrored  InstanceStatus = "errored"
)

// instanceStatus maps a persisted run state to its client facing status.
func instanceStatus(s domain.RunState) InstanceStatus {
	switch s {
	case domain.RunStatePendingPurge:
		return StatusQueued
	case domain.RunStateCompleted:
		return StatusComplete
	case domain.RunStateFailed:
		return StatusErrored
	default:
		return StatusRunning
	}
}

// Progress reports how far a run is through its snapshot. Throughput is only
// known for runs executing in this process.
type Progress struct {
	Cursor         int     `json:"cursor"`
	Total          int     `json:"total"`
	Processed      int     `json:"processed"`
	Failed         int     `json:"failed"`
	ItemsPerSecond float64 `json:"itemsPerSecond,omitempty"`
	AverageItemMs  int64   `json:"averageItemMs,omitempty"`
}

// Status describes one run instance.
type Status struct {
	ID          string            `json:"id"`
	Status      InstanceStatus    `json:"status"`
	State       domain.RunState   `json:"state"`
	Description string            `json:"description"`
	TriggeredBy string            `json:"triggeredBy"`
	Progress    Progress          `json:"progress"`
	Error       string            `json:"error,omitempty"`
	Output      *domain.RunResult `json:"output,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

func newStatus(run *domain.Run) *Status {
	return &Status{
		ID:          run.ID,
		Status:      instanceStatus(run.State),
		State:       run.State,
		Description: runstate.StateDescription(run.State),
		TriggeredBy: run.TriggeredBy,
		Progress: Progress{
			Cursor:    run.Cursor,
			Total:     run.Total,
			Processed: run.Processed,
			Failed:    run.Failed,
		},
		Error:     run.Error,
		CreatedAt: run.CreatedAt,
		UpdatedAt: run.UpdatedAt,
	}
}

// withThroughput fills the rate fields from in-process metrics.
func (s *Status) withThroughput(m runstate.Metrics) *Status {
	s.Progress.ItemsPerSecond = m.ItemsPerSecond
	s.Progress.AverageItemMs = m.AverageItemTime.Milliseconds()
	return s
}
