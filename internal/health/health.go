// Package health provides system health monitoring and status reporting.
package health

import "time"

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ComponentHealth is the state of one dependency.
type ComponentHealth struct {
	Name    string        `json:"name"`
	Status  SystemStatus  `json:"status"`
	Latency time.Duration `json:"latency_ns"`
	Error   string        `json:"error,omitempty"`
}

// WorkflowHealth summarizes the most recent classification runs.
type WorkflowHealth struct {
	Status       SystemStatus `json:"status"`
	ActiveRuns   int          `json:"active_runs"`
	RunningHere  int          `json:"running_here"`
	LastRunID    string       `json:"last_run_id,omitempty"`
	LastRunState string       `json:"last_run_state,omitempty"`
	LastRunError string       `json:"last_run_error,omitempty"`
	StalledRuns  int          `json:"stalled_runs"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus      `json:"system_status"`
	Components   []ComponentHealth `json:"components"`
	Workflow     WorkflowHealth    `json:"workflow"`
	CheckedAt    time.Time         `json:"checked_at"`
}

// worse returns the more severe of two statuses.
func worse(a, b SystemStatus) SystemStatus {
	rank := func(s SystemStatus) int {
		switch s {
		case StatusCritical:
			return 2
		case StatusDegraded:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}
