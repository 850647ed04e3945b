package scoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealradar/internal/config"
	"github.com/sells-group/dealradar/internal/model"
	"github.com/sells-group/dealradar/internal/resilience"
)

func newTestWebhookScorer(url string) *WebhookScorer {
	s := NewWebhookScorer(config.ScoringConfig{WebhookURL: url, TimeoutSecs: 5})
	s.retry = resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	return s
}

func TestWebhookScorer_Score(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body webhookRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "A1", body.Listing.AdID)
		assert.Equal(t, GenericPrompt().System, body.Prompt.System)
		assert.Contains(t, body.Message, "Title: ThinkPad")

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"score": 8.5, "reasoning": "good", "notification_message": "Nice"}]`)) //nolint:errcheck
	}))
	defer ts.Close()

	s := newTestWebhookScorer(ts.URL)
	res, err := s.Score(context.Background(), model.Post{AdID: "A1", Title: "ThinkPad"}, GenericPrompt())
	require.NoError(t, err)
	assert.InDelta(t, 8.5, res.Score, 0.001)
	assert.Equal(t, "Nice", res.NotificationMessage)
}

func TestWebhookScorer_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"score": 6, "reasoning": "fair"}`)) //nolint:errcheck
	}))
	defer ts.Close()

	s := newTestWebhookScorer(ts.URL)
	res, err := s.Score(context.Background(), model.Post{AdID: "A1"}, GenericPrompt())
	require.NoError(t, err)
	assert.InDelta(t, 6.0, res.Score, 0.001)
	assert.Equal(t, int32(2), calls.Load())
}

func TestWebhookScorer_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	s := newTestWebhookScorer(ts.URL)
	_, err := s.Score(context.Background(), model.Post{AdID: "A1"}, GenericPrompt())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook for A1")
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebhookScorer_UnparseableBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`Workflow was started`)) //nolint:errcheck
	}))
	defer ts.Close()

	s := newTestWebhookScorer(ts.URL)
	_, err := s.Score(context.Background(), model.Post{AdID: "A1"}, GenericPrompt())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no JSON")
}
