package config

import (
	"time"

	"github.com/vietddude/triage/internal/api"
	"github.com/vietddude/triage/internal/classifier"
	"github.com/vietddude/triage/internal/core/retry"
	redisclient "github.com/vietddude/triage/internal/infra/redis"
	"github.com/vietddude/triage/internal/infra/storage/sqlstore"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     api.Config         `yaml:"server"`
	Database   sqlstore.Config    `yaml:"database"`
	Redis      redisclient.Config `yaml:"redis"`
	Logging    LoggingConfig      `yaml:"logging"`
	Classifier classifier.Config  `yaml:"classifier"`
	Workflow   WorkflowConfig     `yaml:"workflow"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// WorkflowConfig holds settings for classification runs.
type WorkflowConfig struct {
	Retry         retry.Policy `yaml:"retry"`
	OnItemFailure string       `yaml:"on_item_failure"` // abort, skip
	ResumeOnStart *bool        `yaml:"resume_on_start"`
	// SerializeRuns rejects a trigger while another run holds the lock.
	SerializeRuns bool          `yaml:"serialize_runs"`
	RunRetention  time.Duration `yaml:"run_retention"` // 0 = keep forever
	StallAfter    time.Duration `yaml:"stall_after"`
	StatsCacheTTL time.Duration `yaml:"stats_cache_ttl"`
}

// ShouldResume reports whether unfinished runs resume on start (default true).
func (c WorkflowConfig) ShouldResume() bool {
	return c.ResumeOnStart == nil || *c.ResumeOnStart
}
