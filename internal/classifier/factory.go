package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Factory creates classifier providers based on configuration
type Factory struct {
	config Config
}

// NewFactory creates a new provider factory
func NewFactory(config Config) *Factory {
	return &Factory{config: config}
}

// CreateProvider creates the configured provider wrapped with metrics.
func (f *Factory) CreateProvider(ctx context.Context) (Provider, error) {
	cfg := f.config
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	client := &http.Client{Timeout: cfg.Timeout}

	var p Provider
	switch cfg.Provider {
	case "", "workersai", "workers-ai", "cloudflare":
		if cfg.BaseURL == "" && (cfg.AccountID == "" || cfg.APIToken == "") {
			return nil, fmt.Errorf("workers AI account id and api token not configured")
		}
		wp := NewWorkersAIProvider(cfg.AccountID, cfg.APIToken, cfg.Model, cfg.BaseURL, client)
		wp.temperature = cfg.Temperature
		wp.maxTokens = cfg.MaxTokens
		p = wp

	case "openai":
		if cfg.APIToken == "" {
			return nil, fmt.Errorf("openAI API key not configured")
		}
		op := NewOpenAIProvider(cfg.APIToken, cfg.Model, cfg.BaseURL, client)
		op.temperature = cfg.Temperature
		op.maxTokens = cfg.MaxTokens
		p = op

	case "ollama":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("ollama URL not configured")
		}
		olp := NewOllamaProvider(cfg.BaseURL, cfg.Model, client)
		olp.temperature = cfg.Temperature
		p = olp

	case "bedrock", "aws":
		bp, err := NewBedrockProvider(ctx, cfg.Region, cfg.Model)
		if err != nil {
			return nil, err
		}
		bp.temperature = cfg.Temperature
		if cfg.MaxTokens > 0 {
			bp.maxTokens = cfg.MaxTokens
		}
		p = bp

	default:
		return nil, fmt.Errorf("unknown classifier provider: %s (supported: workersai, openai, ollama, bedrock)", cfg.Provider)
	}

	slog.Info("Using classifier provider", "provider", p.Name(), "model", cfg.Model)
	return Instrument(p), nil
}
