package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/triage/internal/core/domain"
)

// Pinger is a dependency that can report whether it is reachable.
type Pinger interface {
	Health(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Health(ctx context.Context) error { return f(ctx) }

// RunLister reads recent and active runs.
type RunLister interface {
	List(ctx context.Context, limit int) ([]*domain.Run, error)
	Active(ctx context.Context) ([]*domain.Run, error)
}

// RunCounter reports how many runs are executing in this process.
type RunCounter interface {
	Running() int
}

// Component is a named dependency. Critical components make the whole system
// critical when they fail; others only degrade it.
type Component struct {
	Name     string
	Pinger   Pinger
	Critical bool
}

// Monitor aggregates health status from various system components.
type Monitor struct {
	components []Component
	runs       RunLister
	counter    RunCounter
	stallAfter time.Duration
	cacheFor   time.Duration
	lastCheck  time.Time
	lastReport *HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor. A non-terminal run that has not
// been updated for stallAfter counts as stalled.
func NewMonitor(runs RunLister, stallAfter time.Duration, components ...Component) *Monitor {
	if stallAfter <= 0 {
		stallAfter = 30 * time.Minute
	}
	return &Monitor{
		components: components,
		runs:       runs,
		stallAfter: stallAfter,
		cacheFor:   10 * time.Second,
	}
}

// SetRunCounter reports executions local to this process alongside the
// persisted active runs.
func (m *Monitor) SetRunCounter(c RunCounter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter = c
}

// CheckHealth performs a health check of every component and the workflow.
func (m *Monitor) CheckHealth(ctx context.Context) *HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Rate limit checks (max once per 10s) to avoid hammering dependencies
	if m.lastReport != nil && time.Since(m.lastCheck) < m.cacheFor {
		return m.lastReport
	}

	report := &HealthReport{
		SystemStatus: StatusHealthy,
		Components:   make([]ComponentHealth, 0, len(m.components)),
		CheckedAt:    time.Now(),
	}

	for _, c := range m.components {
		ch := ComponentHealth{Name: c.Name, Status: StatusHealthy}
		start := time.Now()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := c.Pinger.Health(pingCtx)
		cancel()
		ch.Latency = time.Since(start)
		if err != nil {
			ch.Error = err.Error()
			ch.Status = StatusDegraded
			if c.Critical {
				ch.Status = StatusCritical
			}
		}
		report.SystemStatus = worse(report.SystemStatus, ch.Status)
		report.Components = append(report.Components, ch)
	}

	if m.runs != nil {
		report.Workflow = m.checkWorkflow(ctx)
		report.SystemStatus = worse(report.SystemStatus, report.Workflow.Status)
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}

// checkWorkflow degrades when the latest run failed or an active run stopped
// making progress.
func (m *Monitor) checkWorkflow(ctx context.Context) WorkflowHealth {
	wh := WorkflowHealth{Status: StatusHealthy}
	if m.counter != nil {
		wh.RunningHere = m.counter.Running()
	}

	latest, err := m.runs.List(ctx, 1)
	if err != nil {
		wh.Status = StatusDegraded
		wh.LastRunError = err.Error()
		return wh
	}
	if len(latest) > 0 {
		run := latest[0]
		wh.LastRunID = run.ID
		wh.LastRunState = string(run.State)
		if run.State == domain.RunStateFailed {
			wh.Status = StatusDegraded
			wh.LastRunError = run.Error
		}
	}

	active, err := m.runs.Active(ctx)
	if err != nil {
		wh.Status = StatusDegraded
		return wh
	}
	wh.ActiveRuns = len(active)
	for _, run := range active {
		if time.Since(run.UpdatedAt) > m.stallAfter {
			wh.StalledRuns++
		}
	}
	if wh.StalledRuns > 0 {
		wh.Status = StatusDegraded
	}
	return wh
}
