package domain

import "time"

// RunState is the persisted position of a classification run in its state machine.
type RunState string

const (
	RunStatePendingPurge RunState = "pending_purge"
	RunStateSnapshotting RunState = "snapshotting"
	RunStateProcessing   RunState = "processing"
	RunStateCompleted    RunState = "completed"
	RunStateFailed       RunState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s RunState) Terminal() bool {
	return s == RunStateCompleted || s == RunStateFailed
}

// Run is one batch classification pass over the feedback table.
// Cursor is the snapshot position of the next item to process.
type Run struct {
	ID          string
	TriggeredBy string
	State       RunState
	Cursor      int
	Total       int
	Processed   int
	Failed      int
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

type ItemStatus string

const (
	ItemStatusPending ItemStatus = "pending"
	ItemStatusDone    ItemStatus = "done"
	ItemStatusFailed  ItemStatus = "failed"
)

// RunItem is one entry of a run's persisted snapshot.
type RunItem struct {
	Seq        int
	FeedbackID int64
	Source     string
	Text       string
	Status     ItemStatus
	Attempts   int
	Error      string
}

// RunResult is the completion report of a finished run.
type RunResult struct {
	Success     bool      `json:"success"`
	Processed   int       `json:"processed"`
	Failed      int       `json:"failed,omitempty"`
	FailedItems []int64   `json:"failedItems,omitempty"`
	TriggeredBy string    `json:"triggeredBy"`
	CompletedAt time.Time `json:"completedAt"`
}
