package control

import (
	"context"

	"github.com/vietddude/triage/internal/core/config"
	"github.com/vietddude/triage/internal/core/runstate"
	"github.com/vietddude/triage/internal/workflow"
)

// Admin gives one-shot commands access to stored runs and feedback without
// building a classifier or HTTP server.
type Admin struct {
	Store *Store
	Host  *workflow.Host
}

// OpenAdmin opens the configured store. The returned host can report and
// abandon runs but never executes them.
func OpenAdmin(ctx context.Context, cfg *config.AppConfig) (*Admin, error) {
	store, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	runs := runstate.NewManager(store.Runs)
	runner := workflow.NewRunner(workflow.RunnerConfig{
		Runs:     runs,
		Feedback: store.Feedback,
		Analysis: store.Analysis,
		Policy:   cfg.Workflow.Retry,
	})
	return &Admin{
		Store: store,
		Host:  workflow.NewHost(runner, runs, workflow.HostConfig{}),
	}, nil
}

// Close releases the store.
func (a *Admin) Close() error {
	_ = a.Host.Stop(context.Background())
	return a.Store.Close()
}
