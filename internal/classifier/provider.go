// Package classifier turns one feedback item into category, sentiment and
// urgency labels using a hosted or self-hosted language model.
package classifier

import (
	"context"
	"time"
)

// Provider classifies a single feedback item.
type Provider interface {
	// Classify returns the raw model output for one item.
	// Use Normalize to validate it into labels.
	Classify(ctx context.Context, source, text string) (Output, error)

	// Name returns the provider name (for logging and metrics)
	Name() string
}

// Config holds classifier configuration. Fields not used by the selected
// provider are ignored.
type Config struct {
	Provider    string        `yaml:"provider"` // workersai, openai, ollama, bedrock
	Model       string        `yaml:"model"`
	AccountID   string        `yaml:"account_id"` // workersai
	APIToken    string        `yaml:"api_token"`  // workersai, openai
	BaseURL     string        `yaml:"base_url"`   // overrides the provider endpoint
	Region      string        `yaml:"region"`     // bedrock
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"` // per HTTP call
}
