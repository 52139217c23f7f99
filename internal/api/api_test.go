package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/triage/internal/classifier"
	"github.com/vietddude/triage/internal/core/domain"
	"github.com/vietddude/triage/internal/core/retry"
	"github.com/vietddude/triage/internal/core/runstate"
	"github.com/vietddude/triage/internal/infra/storage"
	"github.com/vietddude/triage/internal/infra/storage/memory"
	"github.com/vietddude/triage/internal/workflow"
)

type staticClassifier struct {
	labels map[string]classifier.Structured
}

func (c *staticClassifier) Name() string { return "static" }

func (c *staticClassifier) Classify(ctx context.Context, source, text string) (classifier.Output, error) {
	return c.labels[text], nil
}

type testEnv struct {
	feedback *memory.FeedbackRepo
	host     *workflow.Host
	handler  http.Handler
}

func newTestEnv(t *testing.T, cfg Config, labels map[string]classifier.Structured) *testEnv {
	t.Helper()
	store := memory.NewMemoryStorage()
	feedback := memory.NewFeedbackRepo(store)
	runs := runstate.NewManager(memory.NewRunRepo(store))
	runner := workflow.NewRunner(workflow.RunnerConfig{
		Runs:       runs,
		Feedback:   feedback,
		Analysis:   memory.NewAnalysisRepo(store),
		Classifier: &staticClassifier{labels: labels},
		Policy:     retry.Policy{MaxAttempts: 1, Timeout: time.Minute},
	})
	host := workflow.NewHost(runner, runs, workflow.HostConfig{})
	t.Cleanup(func() { _ = host.Stop(context.Background()) })

	return &testEnv{
		feedback: feedback,
		host:     host,
		handler:  NewServer(cfg, feedback, host, nil).Handler(),
	}
}

func (e *testEnv) do(t *testing.T, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestTriggerAndStatus_EndToEnd(t *testing.T) {
	env := newTestEnv(t, Config{}, map[string]classifier.Structured{
		"crashes on save": {Category: "workers_runtime", Sentiment: "negative", Urgency: "high"},
	})
	fb, err := env.feedback.Create(context.Background(), "discord", "crashes on save")
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/trigger", `{"triggeredBy":"dashboard"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	trig := decode[triggerResponse](t, rec)
	assert.True(t, trig.Success)
	require.NotEmpty(t, trig.InstanceID)
	assert.Equal(t, trig.InstanceID, trig.Status.ID)

	_, err = env.host.Wait(context.Background(), trig.InstanceID)
	require.NoError(t, err)

	rec = env.do(t, http.MethodGet, "/status?instanceId="+trig.InstanceID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[statusResponse](t, rec)
	assert.Equal(t, workflow.StatusComplete, st.Status.Status)
	require.NotNil(t, st.Status.Output)
	assert.True(t, st.Status.Output.Success)
	assert.Equal(t, 1, st.Status.Output.Processed)
	assert.Equal(t, "dashboard", st.Status.Output.TriggeredBy)

	rec = env.do(t, http.MethodGet, "/api/feedback", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[feedbackResponse](t, rec)
	require.Len(t, list.Feedback, 1)
	assert.Equal(t, fb.ID, list.Feedback[0].ID)
	require.NotNil(t, list.Feedback[0].Analysis)
	assert.Equal(t, domain.CategoryWorkersRuntime, list.Feedback[0].Analysis.Category)
	assert.Equal(t, domain.SentimentNegative, list.Feedback[0].Analysis.Sentiment)
	assert.Equal(t, domain.UrgencyHigh, list.Feedback[0].Analysis.Urgency)
}

func TestTrigger_EmptyBodyAndBadJSON(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	rec := env.do(t, http.MethodPost, "/trigger", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/trigger", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrigger_BearerToken(t *testing.T) {
	env := newTestEnv(t, Config{TriggerToken: "s3cret"}, nil)

	rec := env.do(t, http.MethodPost, "/trigger", `{}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/trigger", `{}`, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/trigger", `{}`, "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatus_Errors(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	rec := env.do(t, http.MethodGet, "/status", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "instanceId required", decode[errorResponse](t, rec).Error)

	rec = env.do(t, http.MethodGet, "/status?instanceId=nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownRoutes(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/nope"},
		{http.MethodGet, "/trigger"},
		{http.MethodDelete, "/api/feedback"},
	} {
		rec := env.do(t, tc.method, tc.path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, "%s %s", tc.method, tc.path)
		assert.Equal(t, "Not found", decode[errorResponse](t, rec).Error)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, Config{CORSOrigin: "https://dash.example.com"}, nil)

	rec := env.do(t, http.MethodOptions, "/api/stats", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://dash.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestListFeedback_SourceFilter(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()
	for _, src := range []string{"docs", "discord", "docs"} {
		_, err := env.feedback.Create(ctx, src, "text from "+src)
		require.NoError(t, err)
	}

	rec := env.do(t, http.MethodGet, "/api/feedback?source=docs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[feedbackResponse](t, rec)
	require.Len(t, list.Feedback, 2)
	for _, f := range list.Feedback {
		assert.Equal(t, "docs", f.Source)
		assert.Nil(t, f.Analysis)
	}

	rec = env.do(t, http.MethodGet, "/api/feedback?source=email", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"feedback":[]`)
}

func TestStats_SentimentOrder(t *testing.T) {
	env := newTestEnv(t, Config{}, map[string]classifier.Structured{
		"a": {Category: "docs", Sentiment: "negative", Urgency: "low"},
		"b": {Category: "docs", Sentiment: "positive", Urgency: "low"},
		"c": {Category: "d1", Sentiment: "positive", Urgency: "high"},
	})
	ctx := context.Background()
	for _, text := range []string{"a", "b", "c"} {
		_, err := env.feedback.Create(ctx, "github", text)
		require.NoError(t, err)
	}
	st, err := env.host.Trigger(ctx, "test")
	require.NoError(t, err)
	_, err = env.host.Wait(ctx, st.ID)
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[statsResponse](t, rec)
	assert.True(t, stats.Success)
	assert.Equal(t, []domain.Count{{Name: "positive", Count: 2}, {Name: "negative", Count: 1}}, stats.Sentiments)
	assert.Equal(t, []domain.Count{{Name: "high", Count: 1}, {Name: "low", Count: 2}}, stats.Urgencies)
	assert.Equal(t, []domain.Count{{Name: "docs", Count: 2}, {Name: "d1", Count: 1}}, stats.Categories)
	assert.Equal(t, []domain.Count{{Name: "github", Count: 3}}, stats.Sources)
}

type failingReader struct{}

func (failingReader) List(context.Context, storage.FeedbackFilter) ([]*domain.Feedback, error) {
	return nil, errors.Join(domain.ErrStoreUnavailable, errors.New("connection refused"))
}

func (failingReader) Stats(context.Context) (*domain.Stats, error) {
	return nil, domain.ErrStoreUnavailable
}

func TestReadErrors_Return500(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	handler := NewServer(Config{}, failingReader{}, env.host, nil).Handler()

	for _, path := range []string{"/api/feedback", "/api/stats"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code, path)
		body := decode[errorResponse](t, rec)
		assert.NotEmpty(t, body.Error)
		assert.Contains(t, body.Details, "store unavailable")
	}
}

// captureLogs routes the default slog logger into a buffer for one test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func requestLogs(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &entry))
		if entry["msg"] == "HTTP request" {
			out = append(out, entry)
		}
	}
	return out
}

func TestRequestLogging_UsesSlog(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	buf := captureLogs(t)

	rec := env.do(t, http.MethodGet, "/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	entries := requestLogs(t, buf)
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "GET", entry["method"])
	assert.Equal(t, "/nope", entry["path"])
	assert.Equal(t, float64(http.StatusNotFound), entry["status"])
	assert.NotEmpty(t, entry["request_id"])
}

func TestRequestLogging_ServerErrorsAtErrorLevel(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	handler := NewServer(Config{}, failingReader{}, env.host, nil).Handler()
	buf := captureLogs(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var found bool
	for _, entry := range requestLogs(t, buf) {
		if entry["path"] == "/api/stats" {
			found = true
			assert.Equal(t, "ERROR", entry["level"])
			assert.Equal(t, float64(http.StatusInternalServerError), entry["status"])
		}
	}
	assert.True(t, found, "no request log line for /api/stats")
}
