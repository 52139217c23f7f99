package classifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/vietddude/triage/internal/core/domain"
)

const defaultOpenAIURL = "https://api.openai.com/v1"

// OpenAIProvider implements Provider using an OpenAI compatible chat completions API.
type OpenAIProvider struct {
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
	client      *http.Client
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey, model, baseURL string, client *http.Client) *OpenAIProvider {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if baseURL == "" {
		baseURL = defaultOpenAIURL
	}
	return &OpenAIProvider{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	ResponseFormat map[string]any  `json:"response_format,omitempty"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Classify asks the model for the labels in JSON mode.
func (p *OpenAIProvider) Classify(ctx context.Context, source, text string) (Output, error) {
	req := openAIRequest{
		Model: p.model,
		Messages: []openAIMessage{
			{Role: "system", Content: SystemPrompt()},
			{Role: "user", Content: UserPrompt(source, text)},
		},
		ResponseFormat: map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "feedback_labels",
				"schema": ResponseSchema(),
			},
		},
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	}

	var resp openAIResponse
	headers := map[string]string{"Authorization": "Bearer " + p.apiKey}
	if err := postJSON(ctx, p.client, "OpenAI", p.baseURL+"/chat/completions", headers, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: OpenAI returned no choices", domain.ErrMalformedClassifierOutput)
	}
	return Text(resp.Choices[0].Message.Content), nil
}
