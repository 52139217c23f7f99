package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/triage/internal/core/domain"
	"github.com/vietddude/triage/internal/infra/storage"
)

type MemoryStorage struct {
	feedback []*domain.Feedback
	analyses []*domain.Analysis
	runs     map[string]*domain.Run
	items    map[string][]domain.RunItem
	nextID   int64
	mu       sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		runs:   make(map[string]*domain.Run),
		items:  make(map[string][]domain.RunItem),
		nextID: 1,
	}
}

// -----------------------------------------------------------------------------
// Feedback Repository
// -----------------------------------------------------------------------------

type FeedbackRepo struct {
	store *MemoryStorage
}

func NewFeedbackRepo(store *MemoryStorage) *FeedbackRepo {
	return &FeedbackRepo{store: store}
}

func (r *FeedbackRepo) Create(ctx context.Context, source, text string) (*domain.Feedback, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	f := &domain.Feedback{
		ID:        r.store.nextID,
		Source:    source,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	r.store.nextID++
	r.store.feedback = append(r.store.feedback, f)
	c := *f
	return &c, nil
}

func (r *FeedbackRepo) List(ctx context.Context, filter storage.FeedbackFilter) ([]*domain.Feedback, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.Feedback
	for _, f := range r.store.feedback {
		if filter.Source != "" && f.Source != filter.Source {
			continue
		}
		c := *f
		for _, a := range r.store.analyses {
			if a.FeedbackID == f.ID {
				ac := *a
				c.Analysis = &ac
				break
			}
		}
		out = append(out, &c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *FeedbackRepo) Snapshot(ctx context.Context) ([]domain.RunItem, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	items := make([]domain.RunItem, 0, len(r.store.feedback))
	for _, f := range r.store.feedback {
		items = append(items, domain.RunItem{FeedbackID: f.ID, Source: f.Source, Text: f.Text})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].FeedbackID < items[j].FeedbackID })
	return items, nil
}

func (r *FeedbackRepo) Stats(ctx context.Context) (*domain.Stats, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	sources := make(map[string]int)
	for _, f := range r.store.feedback {
		sources[f.Source]++
	}
	categories := make(map[string]int)
	sentiments := make(map[string]int)
	urgencies := make(map[string]int)
	for _, a := range r.store.analyses {
		categories[string(a.Category)]++
		sentiments[string(a.Sentiment)]++
		urgencies[string(a.Urgency)]++
	}

	return &domain.Stats{
		Sources:    byCountDesc(sources),
		Categories: byCountDesc(categories),
		Sentiments: domain.OrderCounts(toCounts(sentiments), domain.Sentiments),
		Urgencies:  domain.OrderCounts(toCounts(urgencies), domain.Urgencies),
	}, nil
}

func toCounts(m map[string]int) []domain.Count {
	out := make([]domain.Count, 0, len(m))
	for name, n := range m {
		out = append(out, domain.Count{Name: name, Count: n})
	}
	return out
}

func byCountDesc(m map[string]int) []domain.Count {
	out := toCounts(m)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// -----------------------------------------------------------------------------
// Analysis Repository
// -----------------------------------------------------------------------------

type AnalysisRepo struct {
	store *MemoryStorage
}

func NewAnalysisRepo(store *MemoryStorage) *AnalysisRepo {
	return &AnalysisRepo{store: store}
}

func (r *AnalysisRepo) Purge(ctx context.Context) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	n := int64(len(r.store.analyses))
	r.store.analyses = nil
	return n, nil
}

func (r *AnalysisRepo) List(ctx context.Context) ([]*domain.Analysis, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.Analysis, 0, len(r.store.analyses))
	for _, a := range r.store.analyses {
		c := *a
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FeedbackID < out[j].FeedbackID })
	return out, nil
}

// -----------------------------------------------------------------------------
// Run Repository
// -----------------------------------------------------------------------------

type RunRepo struct {
	store *MemoryStorage
}

func NewRunRepo(store *MemoryStorage) *RunRepo {
	return &RunRepo{store: store}
}

func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.runs[run.ID]; ok {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	c := *run
	r.store.runs[run.ID] = &c
	return nil
}

func (r *RunRepo) Get(ctx context.Context, id string) (*domain.Run, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	run, ok := r.store.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrRunNotFound, id)
	}
	c := *run
	return &c, nil
}

func (r *RunRepo) List(ctx context.Context, limit int) ([]*domain.Run, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.Run, 0, len(r.store.runs))
	for _, run := range r.store.runs {
		c := *run
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *RunRepo) ListActive(ctx context.Context) ([]*domain.Run, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.Run
	for _, run := range r.store.runs {
		if !run.State.Terminal() {
			c := *run
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *RunRepo) UpdateState(ctx context.Context, id string, from, to domain.RunState, lastError string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	run, ok := r.store.runs[id]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrRunNotFound, id)
	}
	if run.State != from {
		return fmt.Errorf("%w: run %s is %s, expected %s", storage.ErrStateConflict, id, run.State, from)
	}
	now := time.Now()
	run.State = to
	run.UpdatedAt = now
	if lastError != "" {
		run.Error = lastError
	}
	if to.Terminal() {
		run.CompletedAt = &now
	}
	return nil
}

func (r *RunRepo) SaveSnapshot(ctx context.Context, id string, items []domain.RunItem) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	run, ok := r.store.runs[id]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrRunNotFound, id)
	}
	if run.State != domain.RunStateSnapshotting {
		return fmt.Errorf("%w: run %s is %s", storage.ErrStateConflict, id, run.State)
	}
	r.store.items[id] = append([]domain.RunItem(nil), items...)
	run.Total = len(items)
	run.Cursor = 0
	run.State = domain.RunStateProcessing
	run.UpdatedAt = time.Now()
	return nil
}

func (r *RunRepo) Items(ctx context.Context, id string) ([]domain.RunItem, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if _, ok := r.store.runs[id]; !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrRunNotFound, id)
	}
	return append([]domain.RunItem(nil), r.store.items[id]...), nil
}

func (r *RunRepo) CompleteItem(ctx context.Context, id string, seq int, analysis *domain.Analysis, attempts int) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	run, err := r.advanceable(id, seq)
	if err != nil {
		return err
	}
	a := *analysis
	a.LabeledAt = time.Now().UTC()
	r.store.analyses = append(r.store.analyses, &a)

	item := &r.store.items[id][seq]
	item.Status = domain.ItemStatusDone
	item.Attempts = attempts
	item.Error = ""
	run.Cursor = seq + 1
	run.Processed++
	run.UpdatedAt = time.Now()
	return nil
}

func (r *RunRepo) FailItem(ctx context.Context, id string, seq int, attempts int, lastError string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	run, err := r.advanceable(id, seq)
	if err != nil {
		return err
	}
	item := &r.store.items[id][seq]
	item.Status = domain.ItemStatusFailed
	item.Attempts = attempts
	item.Error = lastError
	run.Cursor = seq + 1
	run.Failed++
	run.UpdatedAt = time.Now()
	return nil
}

// advanceable must be called with mu held.
func (r *RunRepo) advanceable(id string, seq int) (*domain.Run, error) {
	run, ok := r.store.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrRunNotFound, id)
	}
	if run.State != domain.RunStateProcessing || run.Cursor != seq || seq >= len(r.store.items[id]) {
		return nil, fmt.Errorf("%w: run %s at %d in %s, got item %d",
			storage.ErrStateConflict, id, run.Cursor, run.State, seq)
	}
	return run, nil
}

func (r *RunRepo) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for id, run := range r.store.runs {
		if run.State.Terminal() && run.CompletedAt != nil && run.CompletedAt.Before(before) {
			delete(r.store.runs, id)
			delete(r.store.items, id)
			n++
		}
	}
	return n, nil
}
