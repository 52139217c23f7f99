package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/triage/internal/core/domain"
	"github.com/vietddude/triage/internal/core/retry"
)

var docsNegativeHigh = domain.Labels{
	Category:  domain.CategoryDocs,
	Sentiment: domain.SentimentNegative,
	Urgency:   domain.UrgencyHigh,
}

func TestNormalize_EquivalentShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"direct object", `{"category":"docs","sentiment":"negative","urgency":"high"}`},
		{"wrapped string", `{"response":"{\"category\":\"docs\",\"sentiment\":\"negative\",\"urgency\":\"high\"}"}`},
		{"wrapped object", `{"response":{"category":"docs","sentiment":"negative","urgency":"high"}}`},
		{"case and spacing", `{"category":" Docs ","sentiment":"NEGATIVE","urgency":"high"}`},
		{"fenced text", `"` + "```json\\n{\\\"category\\\":\\\"docs\\\",\\\"sentiment\\\":\\\"negative\\\",\\\"urgency\\\":\\\"high\\\"}\\n```" + `"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := DecodeOutput([]byte(tt.body))
			require.NoError(t, err)
			labels, err := Normalize(out)
			require.NoError(t, err)
			assert.Equal(t, docsNegativeHigh, labels)
		})
	}
}

func TestNormalize_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ``},
		{"not json", `category: docs`},
		{"array", `[1,2,3]`},
		{"unrelated object", `{"answer":"docs"}`},
		{"missing urgency", `{"category":"docs","sentiment":"negative"}`},
		{"unknown category", `{"category":"billing","sentiment":"negative","urgency":"high"}`},
		{"empty sentiment", `{"category":"docs","sentiment":"","urgency":"high"}`},
		{"numeric label", `{"category":"docs","sentiment":"negative","urgency":3}`},
		{"wrapped garbage", `{"response":"I think this is about docs"}`},
		{"wrapped null", `{"response":null}`},
		{"double wrapped", `{"response":{"response":{"category":"docs","sentiment":"negative","urgency":"high"}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := DecodeOutput([]byte(tt.body))
			if err == nil {
				_, err = Normalize(out)
			}
			if !errors.Is(err, domain.ErrMalformedClassifierOutput) {
				t.Errorf("error = %v, want ErrMalformedClassifierOutput", err)
			}
		})
	}
}

func TestNormalize_NilOutput(t *testing.T) {
	_, err := Normalize(nil)
	assert.ErrorIs(t, err, domain.ErrMalformedClassifierOutput)
}

func TestSystemPrompt_ListsEveryLabel(t *testing.T) {
	prompt := SystemPrompt()
	for _, c := range domain.Categories {
		assert.Contains(t, prompt, string(c))
	}
	for _, u := range domain.Urgencies {
		assert.Contains(t, prompt, string(u))
	}
	assert.Equal(t, `Analyze this feedback from discord: "Docs are confusing"`, UserPrompt("discord", "Docs are confusing"))
}

func TestWorkersAIProvider_Classify(t *testing.T) {
	var gotAuth string
	var gotReq workersAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.True(t, strings.HasSuffix(r.URL.Path, "/@cf/meta/llama-3.1-8b-instruct"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotReq)
		_, _ = w.Write([]byte(`{"success":true,"result":{"response":"{\"category\":\"docs\",\"sentiment\":\"negative\",\"urgency\":\"high\"}"}}`))
	}))
	defer srv.Close()

	p := NewWorkersAIProvider("acct", "secret", "", srv.URL, srv.Client())
	out, err := p.Classify(context.Background(), "discord", "Docs are confusing")
	require.NoError(t, err)
	assert.IsType(t, Wrapped{}, out)

	labels, err := Normalize(out)
	require.NoError(t, err)
	assert.Equal(t, docsNegativeHigh, labels)

	assert.Equal(t, "Bearer secret", gotAuth)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Equal(t, "json_schema", gotReq.ResponseFormat["type"])
}

func TestWorkersAIProvider_StatusErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{"bad request is permanent", http.StatusBadRequest, true},
		{"unauthorized is permanent", http.StatusUnauthorized, true},
		{"rate limited is retried", http.StatusTooManyRequests, false},
		{"timeout is retried", http.StatusRequestTimeout, false},
		{"server error is retried", http.StatusBadGateway, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			p := NewWorkersAIProvider("acct", "secret", "", srv.URL, srv.Client())
			_, err := p.Classify(context.Background(), "discord", "x")
			require.Error(t, err)

			var statusErr *StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, tt.status, statusErr.StatusCode)
			assert.Equal(t, tt.permanent, retry.IsPermanent(err))
		})
	}
}

func TestOllamaProvider_Classify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		_, _ = w.Write([]byte(`{"model":"llama3.1","response":"{\"category\":\"d1\",\"sentiment\":\"neutral\",\"urgency\":\"low\"}","done":true}`))
	}))
	defer srv.Close()

	out, err := NewOllamaProvider(srv.URL, "", srv.Client()).Classify(context.Background(), "github", "D1 question")
	require.NoError(t, err)
	labels, err := Normalize(out)
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryD1, labels.Category)
}

func TestOpenAIProvider_Classify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"category\":\"workflows\",\"sentiment\":\"positive\",\"urgency\":\"medium\"}"}}]}`))
	}))
	defer srv.Close()

	out, err := NewOpenAIProvider("key", "", srv.URL, srv.Client()).Classify(context.Background(), "email", "Workflows are great")
	require.NoError(t, err)
	labels, err := Normalize(out)
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryWorkflows, labels.Category)
	assert.Equal(t, domain.SentimentPositive, labels.Sentiment)
}

type fakeBedrock struct {
	body []byte
	err  error
}

func (f *fakeBedrock) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: f.body}, nil
}

func TestBedrockProvider_Classify(t *testing.T) {
	client := &fakeBedrock{body: []byte(`{"content":[{"type":"text","text":"{\"category\":\"other\",\"sentiment\":\"neutral\",\"urgency\":\"low\"}"}]}`)}
	out, err := NewBedrockProviderWithClient(client, "").Classify(context.Background(), "x", "y")
	require.NoError(t, err)
	labels, err := Normalize(out)
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryOther, labels.Category)

	client.body = []byte(`{"content":[]}`)
	_, err = NewBedrockProviderWithClient(client, "").Classify(context.Background(), "x", "y")
	assert.ErrorIs(t, err, domain.ErrMalformedClassifierOutput)
}

func TestFactory_CreateProvider(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{"default is workers ai", Config{AccountID: "a", APIToken: "t"}, "workersai", false},
		{"workers ai needs credentials", Config{Provider: "workersai"}, "", true},
		{"openai", Config{Provider: "openai", APIToken: "k"}, "openai", false},
		{"openai needs key", Config{Provider: "openai"}, "", true},
		{"ollama", Config{Provider: "ollama", BaseURL: "http://localhost:11434"}, "ollama", false},
		{"ollama needs url", Config{Provider: "ollama"}, "", true},
		{"unknown", Config{Provider: "gemini"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewFactory(tt.cfg).CreateProvider(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Name())
		})
	}
}
