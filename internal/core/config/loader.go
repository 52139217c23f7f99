package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/triage/internal/core/retry"
	"github.com/vietddude/triage/internal/workflow"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, expanding environment variables and
// filling defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Workflow.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow.retry: %w", err)
	}
	if _, err := workflow.ParseFailurePolicy(cfg.Workflow.OnItemFailure); err != nil {
		return nil, fmt.Errorf("invalid workflow.on_item_failure: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	// Unset retry fields fall back individually.
	def := retry.DefaultPolicy()
	r := &cfg.Workflow.Retry
	if r.MaxAttempts == 0 {
		r.MaxAttempts = def.MaxAttempts
	}
	if r.InitialDelay == 0 {
		r.InitialDelay = def.InitialDelay
	}
	if r.Multiplier == 0 {
		r.Multiplier = def.Multiplier
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = def.MaxDelay
	}
	if r.Timeout == 0 {
		r.Timeout = def.Timeout
	}

	if cfg.Workflow.OnItemFailure == "" {
		cfg.Workflow.OnItemFailure = string(workflow.FailureAbort)
	}
	if cfg.Workflow.StallAfter == 0 {
		cfg.Workflow.StallAfter = 30 * time.Minute
	}
	if cfg.Workflow.StatsCacheTTL == 0 {
		cfg.Workflow.StatsCacheTTL = 30 * time.Second
	}
	if cfg.Classifier.Timeout == 0 {
		cfg.Classifier.Timeout = 60 * time.Second
	}
}
