// Package runstate tracks the persisted progress of classification runs.
//
// # Purpose
//
// A run moves through a fixed sequence of steps. Each step boundary is
// written to storage before the next step starts, so a process restart
// resumes the run where it stopped instead of starting over:
//
//	pending_purge → snapshotting → processing(cursor) → completed
//	      └──────────────┴───────────────┴──────────→ failed
//
// While processing, the cursor is the snapshot position of the next item.
// It only moves forward, and it moves in the same transaction that stores
// the item's analysis, so an item is never recorded twice.
//
// # Quick Start
//
//	manager := runstate.NewManager(runRepo)
//
//	run, _ := manager.Create(ctx, "dashboard")
//	manager.SetState(ctx, run.ID, runstate.StateSnapshotting, "purge done")
//	manager.RecordSnapshot(ctx, run.ID, items)
//
//	// Items must be recorded in order
//	manager.Advance(ctx, run.ID, 0, analysis, attempts)  // ✓ OK
//	manager.Advance(ctx, run.ID, 2, analysis, attempts)  // ✗ ErrCursorGap
//
//	manager.SetState(ctx, run.ID, runstate.StateCompleted, "all items done")
//
// # Package Structure
//
//   - state.go   - State machine definitions and valid transitions
//   - manager.go - Manager implementation with cursor validation
//   - metrics.go - Throughput metrics and state history
package runstate

import (
	"github.com/vietddude/triage/internal/core/domain"
	"github.com/vietddude/triage/internal/infra/storage"
)

// Run is a classification run with its persisted cursor.
type Run = domain.Run

// State constants re-exported for convenience.
const (
	StatePendingPurge = domain.RunStatePendingPurge
	StateSnapshotting = domain.RunStateSnapshotting
	StateProcessing   = domain.RunStateProcessing
	StateCompleted    = domain.RunStateCompleted
	StateFailed       = domain.RunStateFailed
)

// NewManager creates a new run state manager with the given repository.
func NewManager(repo storage.RunRepository) *DefaultManager {
	return &DefaultManager{
		repo:        repo,
		itemHistory: make(map[string]*MetricsCollector),
	}
}

// NewMetricsCollector creates a new metrics collector with the given window size.
func NewMetricsCollector(windowSize int) *MetricsCollector {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &MetricsCollector{
		windowSize: windowSize,
		itemTimes:  make([]itemRecord, 0, windowSize),
	}
}
