package e2e

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/triage/internal/classifier"
	"github.com/vietddude/triage/internal/control"
	"github.com/vietddude/triage/internal/core/config"
	"github.com/vietddude/triage/internal/infra/storage/sqlstore"
	"github.com/vietddude/triage/internal/workflow"
)

// recordingClassifier labels every item and counts calls per text. When
// stallOn is set, classifying that text blocks until the run is cancelled.
type recordingClassifier struct {
	mu      sync.Mutex
	calls   map[string]int
	stallOn string
}

func (c *recordingClassifier) Name() string { return "recording" }

func (c *recordingClassifier) Classify(ctx context.Context, source, text string) (classifier.Output, error) {
	c.mu.Lock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[text]++
	stall := text == c.stallOn
	c.mu.Unlock()

	if stall {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return classifier.Structured{Category: "docs", Sentiment: "neutral", Urgency: "low"}, nil
}

func (c *recordingClassifier) count(text string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[text]
}

func newConfig(t *testing.T, db sqlstore.Config) *config.AppConfig {
	t.Helper()
	cfg, err := config.Parse([]byte("workflow:\n  retry:\n    initial_delay: 1ms\n"))
	require.NoError(t, err)
	cfg.Database = db

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg.Server.Port = l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return cfg
}

func getStatus(t *testing.T, h http.Handler, id string) *workflow.Status {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status?instanceId="+id, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Status *workflow.Status `json:"status"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Status
}

func TestRunResumesAfterRestart(t *testing.T) {
	db := sqlstore.Config{Driver: "sqlite", URL: filepath.Join(t.TempDir(), "triage.db")}
	ctx := context.Background()

	// First process: classifies "one", then stalls on "two" until shutdown.
	first := &recordingClassifier{stallOn: "two"}
	app1, err := control.New(ctx, newConfig(t, db), control.Options{Classifier: first})
	require.NoError(t, err)
	for _, text := range []string{"one", "two", "three"} {
		_, err := app1.Feedback().Create(ctx, "github", text)
		require.NoError(t, err)
	}
	require.NoError(t, app1.Start(ctx))

	rec := httptest.NewRecorder()
	app1.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/trigger", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var trig struct {
		InstanceID string `json:"instanceId"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&trig))

	require.Eventually(t, func() bool {
		return getStatus(t, app1.Handler(), trig.InstanceID).Progress.Cursor == 1 && first.count("two") > 0
	}, 5*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, app1.Stop(stopCtx))

	// Second process: resumes at the cursor without re-classifying "one".
	second := &recordingClassifier{}
	app2, err := control.New(ctx, newConfig(t, db), control.Options{Classifier: second})
	require.NoError(t, err)
	require.NoError(t, app2.Start(ctx))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app2.Stop(stopCtx)
	})

	var final *workflow.Status
	require.Eventually(t, func() bool {
		final = getStatus(t, app2.Handler(), trig.InstanceID)
		return final.Status == workflow.StatusComplete
	}, 5*time.Second, 10*time.Millisecond)

	require.NotNil(t, final.Output)
	assert.True(t, final.Output.Success)
	assert.Equal(t, 3, final.Output.Processed)
	assert.Zero(t, second.count("one"))
	assert.Equal(t, 1, second.count("two"))
	assert.Equal(t, 1, second.count("three"))
}

func TestPostgresRun(t *testing.T) {
	url := os.Getenv("TRIAGE_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("TRIAGE_TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()

	app, err := control.New(ctx, newConfig(t, sqlstore.Config{Driver: "pgx", URL: url}), control.Options{
		Classifier: &recordingClassifier{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	_, err = app.Feedback().Create(ctx, "email", "please add dark mode")
	require.NoError(t, err)

	st, err := app.Host().Trigger(ctx, "e2e")
	require.NoError(t, err)
	final, err := app.Host().Wait(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusComplete, final.Status)
}
