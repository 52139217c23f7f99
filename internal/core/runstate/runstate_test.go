package runstate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/triage/internal/core/domain"
	"github.com/vietddude/triage/internal/infra/storage/memory"
)

func newTestManager() *DefaultManager {
	return NewManager(memory.NewRunRepo(memory.NewMemoryStorage()))
}

func snapshotItems(n int) []domain.RunItem {
	items := make([]domain.RunItem, n)
	for i := range items {
		items[i] = domain.RunItem{FeedbackID: int64(i + 1), Source: "discord", Text: "text"}
	}
	return items
}

func analysisFor(id int64) *domain.Analysis {
	return &domain.Analysis{
		FeedbackID: id,
		Category:   domain.CategoryDocs,
		Sentiment:  domain.SentimentNeutral,
		Urgency:    domain.UrgencyLow,
	}
}

// =============================================================================
// State Transition Tests
// =============================================================================

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name     string
		from     State
		to       State
		expected bool
	}{
		{"purge to snapshot", StatePendingPurge, StateSnapshotting, true},
		{"snapshot to processing", StateSnapshotting, StateProcessing, true},
		{"processing to completed", StateProcessing, StateCompleted, true},
		{"processing to failed", StateProcessing, StateFailed, true},
		{"purge to failed", StatePendingPurge, StateFailed, true},
		{"purge to processing", StatePendingPurge, StateProcessing, false},
		{"snapshot to completed", StateSnapshotting, StateCompleted, false},
		{"completed is terminal", StateCompleted, StateFailed, false},
		{"failed is terminal", StateFailed, StatePendingPurge, false},
		{"unknown state", State("bogus"), StateFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.expected {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.expected)
			}
		})
	}
}

func TestTransition_IsValid(t *testing.T) {
	if !NewTransition(StateProcessing, StateCompleted, "done").IsValid() {
		t.Error("processing -> completed should be valid")
	}
	if NewTransition(StateCompleted, StateProcessing, "again").IsValid() {
		t.Error("completed -> processing should be invalid")
	}
}

func TestStateDescription(t *testing.T) {
	for state := range ValidTransitions {
		if StateDescription(state) == "Unknown state" {
			t.Errorf("missing description for %s", state)
		}
	}
}

// =============================================================================
// Manager Tests
// =============================================================================

func TestManager_FullLifecycle(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	var transitions []Transition
	m.SetStateChangeCallback(func(runID string, tr Transition) {
		transitions = append(transitions, tr)
	})

	run, err := m.Create(ctx, "tester")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if run.State != StatePendingPurge {
		t.Errorf("initial state = %s, want %s", run.State, StatePendingPurge)
	}

	if err := m.SetState(ctx, run.ID, StateSnapshotting, "purged"); err != nil {
		t.Fatalf("SetState failed: %v", err)
	}
	if err := m.RecordSnapshot(ctx, run.ID, snapshotItems(3)); err != nil {
		t.Fatalf("RecordSnapshot failed: %v", err)
	}

	for seq := 0; seq < 3; seq++ {
		if err := m.Advance(ctx, run.ID, seq, analysisFor(int64(seq+1)), 1); err != nil {
			t.Fatalf("Advance(%d) failed: %v", seq, err)
		}
	}

	if err := m.SetState(ctx, run.ID, StateCompleted, "done"); err != nil {
		t.Fatalf("SetState(completed) failed: %v", err)
	}

	got, err := m.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Cursor != 3 || got.Processed != 3 || got.Total != 3 {
		t.Errorf("run = cursor %d processed %d total %d, want 3/3/3", got.Cursor, got.Processed, got.Total)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
	if len(transitions) != 3 {
		t.Errorf("got %d transitions, want 3", len(transitions))
	}
}

func TestManager_InvalidTransition(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	run, _ := m.Create(ctx, "tester")

	err := m.SetState(ctx, run.ID, StateCompleted, "skip ahead")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("SetState error = %v, want ErrInvalidTransition", err)
	}

	err = m.RecordSnapshot(ctx, run.ID, snapshotItems(1))
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("RecordSnapshot error = %v, want ErrInvalidTransition", err)
	}
}

func TestManager_AdvanceGapAndIdempotency(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	run, _ := m.Create(ctx, "tester")
	_ = m.SetState(ctx, run.ID, StateSnapshotting, "purged")
	_ = m.RecordSnapshot(ctx, run.ID, snapshotItems(3))

	if err := m.Advance(ctx, run.ID, 2, analysisFor(3), 1); !errors.Is(err, ErrCursorGap) {
		t.Errorf("Advance out of order error = %v, want ErrCursorGap", err)
	}

	if err := m.Advance(ctx, run.ID, 0, analysisFor(1), 1); err != nil {
		t.Fatalf("Advance(0) failed: %v", err)
	}
	// Replaying an item already recorded is a no-op.
	if err := m.Advance(ctx, run.ID, 0, analysisFor(1), 2); err != nil {
		t.Errorf("replayed Advance(0) error = %v, want nil", err)
	}

	got, _ := m.Get(ctx, run.ID)
	if got.Cursor != 1 || got.Processed != 1 {
		t.Errorf("cursor %d processed %d, want 1/1", got.Cursor, got.Processed)
	}
}

func TestManager_SkipAndFail(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	run, _ := m.Create(ctx, "tester")
	_ = m.SetState(ctx, run.ID, StateSnapshotting, "purged")
	_ = m.RecordSnapshot(ctx, run.ID, snapshotItems(2))

	if err := m.Skip(ctx, run.ID, 0, 5, errors.New("exhausted")); err != nil {
		t.Fatalf("Skip failed: %v", err)
	}

	items, _ := m.Items(ctx, run.ID)
	if items[0].Status != domain.ItemStatusFailed || items[0].Attempts != 5 {
		t.Errorf("item 0 = %+v, want failed after 5 attempts", items[0])
	}

	if err := m.Fail(ctx, run.ID, errors.New("operator abort")); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	got, _ := m.Get(ctx, run.ID)
	if got.State != StateFailed || got.Error != "operator abort" || got.Failed != 1 {
		t.Errorf("run = %+v, want failed with error and one failed item", got)
	}

	if err := m.Advance(ctx, run.ID, 1, analysisFor(2), 1); !errors.Is(err, ErrRunNotActive) {
		t.Errorf("Advance on failed run error = %v, want ErrRunNotActive", err)
	}
}

func TestManager_MetricsAndActive(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	run, _ := m.Create(ctx, "tester")
	_ = m.SetState(ctx, run.ID, StateSnapshotting, "purged")
	_ = m.RecordSnapshot(ctx, run.ID, snapshotItems(2))
	_ = m.Advance(ctx, run.ID, 0, analysisFor(1), 1)

	m.mu.RLock()
	collector, tracked := m.itemHistory[run.ID]
	var recorded int
	if tracked {
		recorded = len(collector.itemTimes)
	}
	m.mu.RUnlock()
	if !tracked || recorded != 1 {
		t.Errorf("tracked = %v with %d items, want one recorded item", tracked, recorded)
	}

	active, err := m.Active(ctx)
	if err != nil || len(active) != 1 {
		t.Fatalf("Active() = %v, %v; want one run", active, err)
	}

	_ = m.Fail(ctx, run.ID, nil)
	active, _ = m.Active(ctx)
	if len(active) != 0 {
		t.Errorf("Active() after fail = %d runs, want 0", len(active))
	}
	m.mu.RLock()
	_, tracked = m.itemHistory[run.ID]
	m.mu.RUnlock()
	if tracked {
		t.Error("metrics should be released for terminal runs")
	}
	if got := m.GetMetrics(run.ID); got != (Metrics{}) {
		t.Errorf("GetMetrics() after fail = %+v, want zero", got)
	}
}

func TestMetricsCollector(t *testing.T) {
	mc := NewMetricsCollector(3)
	if got := mc.GetMetrics(); got != (Metrics{}) {
		t.Errorf("empty collector metrics = %+v, want zero", got)
	}

	base := time.Unix(1700000000, 0)
	for i := 0; i < 5; i++ {
		mc.RecordItem(i, base.Add(2*time.Second*time.Duration(i)))
	}
	if len(mc.itemTimes) != 3 {
		t.Errorf("window holds %d items, want 3", len(mc.itemTimes))
	}
	m := mc.GetMetrics()
	if m.AverageItemTime != 2*time.Second {
		t.Errorf("AverageItemTime = %v, want 2s", m.AverageItemTime)
	}
	if m.ItemsPerSecond != 0.5 {
		t.Errorf("ItemsPerSecond = %v, want 0.5", m.ItemsPerSecond)
	}
}
