package classifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/vietddude/triage/internal/core/domain"
)

// BedrockInvoker is the subset of the Bedrock runtime client used here.
type BedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockProvider implements Provider for Claude models on AWS Bedrock.
type BedrockProvider struct {
	client      BedrockInvoker
	model       string
	temperature float64
	maxTokens   int
}

// NewBedrockProvider creates a new AWS Bedrock provider using the default
// credential chain (environment, shared config or IAM role).
func NewBedrockProvider(ctx context.Context, region, model string) (*BedrockProvider, error) {
	if region == "" {
		region = "us-east-1" // Default region
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewBedrockProviderWithClient(bedrockruntime.NewFromConfig(cfg), model), nil
}

// NewBedrockProviderWithClient creates a provider around an existing client.
func NewBedrockProviderWithClient(client BedrockInvoker, model string) *BedrockProvider {
	if model == "" {
		model = "anthropic.claude-3-5-haiku-20241022-v1:0"
	}
	return &BedrockProvider{client: client, model: model, maxTokens: 256}
}

// Name returns the provider name
func (p *BedrockProvider) Name() string {
	return "bedrock"
}

// Bedrock request/response structures (using Claude's format on Bedrock)
type bedrockClaudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockClaudeRequest struct {
	System           string                 `json:"system,omitempty"`
	Messages         []bedrockClaudeMessage `json:"messages"`
	MaxTokens        int                    `json:"max_tokens"`
	Temperature      float64                `json:"temperature"`
	AnthropicVersion string                 `json:"anthropic_version"`
}

type bedrockClaudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Classify invokes the model and returns its text reply.
func (p *BedrockProvider) Classify(ctx context.Context, source, text string) (Output, error) {
	body, err := json.Marshal(bedrockClaudeRequest{
		System: SystemPrompt(),
		Messages: []bedrockClaudeMessage{
			{Role: "user", Content: UserPrompt(source, text)},
		},
		MaxTokens:        p.maxTokens,
		Temperature:      p.temperature,
		AnthropicVersion: "bedrock-2023-05-31",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call Bedrock API: %w", err)
	}

	var out bedrockClaudeResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("%w: failed to decode Bedrock response: %w", domain.ErrMalformedClassifierOutput, err)
	}
	if len(out.Content) == 0 {
		return nil, fmt.Errorf("%w: Bedrock returned no content", domain.ErrMalformedClassifierOutput)
	}
	return Text(out.Content[0].Text), nil
}
