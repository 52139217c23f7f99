// Package control wires storage, the classifier, the workflow host and the
// HTTP API into one application.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vietddude/triage/internal/api"
	"github.com/vietddude/triage/internal/classifier"
	"github.com/vietddude/triage/internal/core/config"
	"github.com/vietddude/triage/internal/core/runstate"
	"github.com/vietddude/triage/internal/core/worker"
	"github.com/vietddude/triage/internal/health"
	redisclient "github.com/vietddude/triage/internal/infra/redis"
	"github.com/vietddude/triage/internal/infra/storage"
	"github.com/vietddude/triage/internal/workflow"
)

const (
	runLockName = "workflow"
	runLockTTL  = 2 * time.Minute
)

// App is the main application struct that manages the service lifecycle.
type App struct {
	cfg      *config.AppConfig
	store    *Store
	feedback storage.FeedbackRepository
	redis    *redisclient.Client
	runs     *runstate.DefaultManager
	host     *workflow.Host
	monitor  *health.Monitor
	server   *api.Server
	pruner   *worker.Pruner
	cancel   context.CancelFunc
	log      *slog.Logger
}

// Options overrides pieces of the wiring.
type Options struct {
	// Classifier replaces the provider built from configuration.
	Classifier classifier.Provider
}

// New creates an App with all dependencies initialized.
func New(ctx context.Context, cfg *config.AppConfig, opts Options) (*App, error) {
	onFailure, err := workflow.ParseFailurePolicy(cfg.Workflow.OnItemFailure)
	if err != nil {
		return nil, err
	}

	// 1. Storage
	store, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	// 2. Redis (optional)
	var redisClient *redisclient.Client
	if cfg.Redis.URL != "" {
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Failed to connect to Redis, stats cache and shared run lock disabled", "error", err)
			redisClient = nil
		}
	}

	feedback := store.Feedback
	var cache *redisclient.CachedFeedbackRepo
	if redisClient != nil {
		cache = redisclient.NewCachedFeedbackRepo(store.Feedback, redisClient, cfg.Workflow.StatsCacheTTL)
		feedback = cache
	}

	// 3. Run state
	runs := runstate.NewManager(store.Runs)
	runs.SetStateChangeCallback(func(runID string, t runstate.Transition) {
		slog.Info("Run state changed", "run", runID, "from", t.From, "to", t.To, "reason", t.Reason)
		if cache != nil {
			// Purge and completion both change the aggregates.
			cache.Invalidate(context.Background())
		}
	})

	// 4. Classifier
	provider := opts.Classifier
	if provider == nil {
		provider, err = classifier.NewFactory(cfg.Classifier).CreateProvider(ctx)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to create classifier: %w", err)
		}
	}

	// 5. Workflow
	runner := workflow.NewRunner(workflow.RunnerConfig{
		Runs:       runs,
		Feedback:   feedback,
		Analysis:   store.Analysis,
		Classifier: provider,
		Policy:     cfg.Workflow.Retry,
		OnFailure:  onFailure,
	})

	var lock workflow.Lock
	if cfg.Workflow.SerializeRuns {
		if redisClient != nil {
			lock = redisclient.NewLock(redisClient, runLockName, runLockTTL)
		} else {
			lock = workflow.NewLocalLock()
		}
	}
	host := workflow.NewHost(runner, runs, workflow.HostConfig{
		ResumeOnStart: cfg.Workflow.ShouldResume() && store.Persistent(),
		Lock:          lock,
	})

	// 6. Health
	components := []health.Component{
		{Name: "database", Pinger: health.PingerFunc(store.Health), Critical: true},
	}
	if redisClient != nil {
		components = append(components, health.Component{
			Name:   "redis",
			Pinger: health.PingerFunc(redisClient.Ping),
		})
	}
	monitor := health.NewMonitor(runs, cfg.Workflow.StallAfter, components...)
	monitor.SetRunCounter(host)

	// 7. HTTP API
	server := api.NewServer(cfg.Server, feedback, host, monitor)

	return &App{
		cfg:      cfg,
		store:    store,
		feedback: feedback,
		redis:    redisClient,
		runs:     runs,
		host:     host,
		monitor:  monitor,
		server:   server,
		pruner:   worker.NewPruner(cfg.Workflow.RunRetention, store.Runs),
		log:      slog.Default(),
	}, nil
}

// Host returns the workflow host.
func (a *App) Host() *workflow.Host {
	return a.host
}

// Feedback returns the feedback repository used by the API.
func (a *App) Feedback() storage.FeedbackRepository {
	return a.feedback
}

// Handler returns the HTTP handler without starting a listener.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Start starts background workers and the HTTP server.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if err := a.host.Start(ctx); err != nil {
		return fmt.Errorf("failed to resume runs: %w", err)
	}

	a.store.StartMetricsCollector(ctx)

	if a.cfg.Workflow.RunRetention > 0 {
		a.log.Info("Starting pruner", "retention", a.cfg.Workflow.RunRetention)
		go a.pruner.Start(ctx)
	}

	go func() {
		a.log.Info("HTTP server listening", "port", a.cfg.Server.Port)
		if err := a.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("HTTP server failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts down the server, waits for in-flight runs to pause, and
// releases connections.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping service...")

	var errs []error
	if err := a.server.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := a.host.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("workflow host: %w", err))
	}
	if a.cancel != nil {
		a.cancel()
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	return errors.Join(errs...)
}

// Close releases connections without touching the server. Used by one-shot
// commands that never call Start.
func (a *App) Close() error {
	_ = a.host.Stop(context.Background())
	if a.redis != nil {
		_ = a.redis.Close()
	}
	return a.store.Close()
}
