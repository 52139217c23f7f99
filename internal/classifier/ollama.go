package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// OllamaProvider implements Provider for self-hosted models served by Ollama.
type OllamaProvider struct {
	baseURL     string
	model       string
	temperature float64
	client      *http.Client
}

// NewOllamaProvider creates a new Ollama provider
func NewOllamaProvider(baseURL, model string, client *http.Client) *OllamaProvider {
	if model == "" {
		model = "llama3.1" // Default model
	}
	return &OllamaProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  client,
	}
}

// Name returns the provider name
func (p *OllamaProvider) Name() string {
	return "ollama"
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system"`
	Prompt  string         `json:"prompt"`
	Format  map[string]any `json:"format"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

// Classify calls /api/generate. Ollama replies with the model text in a
// "response" field, so the result is always a Wrapped output.
func (p *OllamaProvider) Classify(ctx context.Context, source, text string) (Output, error) {
	req := ollamaRequest{
		Model:  p.model,
		System: SystemPrompt(),
		Prompt: UserPrompt(source, text),
		Format: ResponseSchema(),
		Stream: false,
	}
	if p.temperature > 0 {
		req.Options = map[string]any{"temperature": p.temperature}
	}

	var raw json.RawMessage
	if err := postJSON(ctx, p.client, "Ollama", p.baseURL+"/api/generate", nil, req, &raw); err != nil {
		return nil, err
	}

	out, err := DecodeOutput(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to read Ollama reply: %w", err)
	}
	return out, nil
}
