package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/vietddude/triage/internal/core/domain"
)

const (
	workersAIEndpoint     = "https://api.cloudflare.com/client/v4/accounts/%s/ai/run/%s"
	defaultWorkersAIModel = "@cf/meta/llama-3.1-8b-instruct"
)

// WorkersAIProvider calls a text generation model on Cloudflare Workers AI.
type WorkersAIProvider struct {
	url         string
	token       string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
}

// NewWorkersAIProvider creates a Workers AI provider. baseURL, when set,
// replaces the account endpoint and the model is appended to it.
func NewWorkersAIProvider(accountID, token, model, baseURL string, client *http.Client) *WorkersAIProvider {
	if model == "" {
		model = defaultWorkersAIModel
	}
	url := fmt.Sprintf(workersAIEndpoint, accountID, model)
	if baseURL != "" {
		url = strings.TrimRight(baseURL, "/") + "/" + model
	}
	return &WorkersAIProvider{
		url:    url,
		token:  token,
		model:  model,
		client: client,
	}
}

// Name returns the provider name
func (p *WorkersAIProvider) Name() string {
	return "workersai"
}

type workersAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type workersAIRequest struct {
	Messages       []workersAIMessage `json:"messages"`
	ResponseFormat map[string]any     `json:"response_format,omitempty"`
	Temperature    float64            `json:"temperature,omitempty"`
	MaxTokens      int                `json:"max_tokens,omitempty"`
}

type workersAIEnvelope struct {
	Result  json.RawMessage `json:"result"`
	Success bool            `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Classify runs the model with a JSON schema response format. The result is
// either the labels object or a {"response": ...} wrapper.
func (p *WorkersAIProvider) Classify(ctx context.Context, source, text string) (Output, error) {
	req := workersAIRequest{
		Messages: []workersAIMessage{
			{Role: "system", Content: SystemPrompt()},
			{Role: "user", Content: UserPrompt(source, text)},
		},
		ResponseFormat: map[string]any{
			"type":        "json_schema",
			"json_schema": ResponseSchema(),
		},
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	}

	headers := map[string]string{}
	if p.token != "" {
		headers["Authorization"] = "Bearer " + p.token
	}

	var env workersAIEnvelope
	if err := postJSON(ctx, p.client, "Workers AI", p.url, headers, req, &env); err != nil {
		return nil, err
	}
	if !env.Success && len(env.Errors) > 0 {
		return nil, fmt.Errorf("workers AI error %d: %s", env.Errors[0].Code, env.Errors[0].Message)
	}
	if len(env.Result) == 0 {
		return nil, fmt.Errorf("%w: workers AI returned no result", domain.ErrMalformedClassifierOutput)
	}
	return DecodeOutput(env.Result)
}
