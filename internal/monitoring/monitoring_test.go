package monitoring

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealradar/internal/config"
	"github.com/sells-group/dealradar/internal/model"
	"github.com/sells-group/dealradar/internal/notify"
	"github.com/sells-group/dealradar/internal/store"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type sink struct {
	mu   sync.Mutex
	sent []notify.Message
	fail map[model.Channel]error
}

func (s *sink) Send(_ context.Context, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[msg.Channel]; err != nil {
		return err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "monitoring.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// seed stores four posts: two scored, one failed, one untouched, plus one
// live request and one lapsed request.
func seed(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()
	for _, id := range []string{"A", "B", "C", "D"} {
		_, err := st.UpsertPost(ctx, &model.Post{AdID: id, Title: "Post " + id, DiscoveredAt: now})
		require.NoError(t, err)
	}
	for id, score := range map[string]float64{"A": 9, "B": 4} {
		ev := model.CompletedEvaluation(id, score, "ok", now)
		require.NoError(t, st.UpsertEvaluation(ctx, &ev))
	}
	failed := model.FailedEvaluation("C", errors.New("scorer timeout"), now)
	require.NoError(t, st.UpsertEvaluation(ctx, &failed))

	require.NoError(t, st.CreateRequest(ctx, &model.DealRequest{
		Title: "Live", Category: "5021", Approved: true,
		CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(24 * time.Hour),
	}))
	require.NoError(t, st.CreateRequest(ctx, &model.DealRequest{
		Title: "Lapsed", Category: "5021", Approved: true,
		CreatedAt: now.Add(-200 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}))
}

func TestCollector_Collect(t *testing.T) {
	st := newTestStore(t)
	seed(t, st)

	c := NewCollector(st, 8)
	c.now = func() time.Time { return now }

	snap, err := c.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, snap.TotalPosts)
	assert.Equal(t, 2, snap.EvaluatedPosts)
	assert.Equal(t, 1, snap.FailedEvaluations)
	assert.Equal(t, 1, snap.PendingEvaluations)
	assert.Equal(t, 1, snap.HighValueDeals)
	assert.InDelta(t, 1.0/3.0, snap.EvalFailRate, 0.001)
	require.NotNil(t, snap.AvgScore)
	assert.InDelta(t, 6.5, *snap.AvgScore, 0.001)
	assert.Equal(t, 1, snap.ActiveRequests)
	assert.Equal(t, 1, snap.LapsedRequests)
	assert.Equal(t, now, snap.CollectedAt)
}

func TestCollector_EmptyStore(t *testing.T) {
	st := newTestStore(t)

	snap, err := NewCollector(st, 8).Collect(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snap.TotalPosts)
	assert.Zero(t, snap.EvalFailRate)
	assert.Zero(t, snap.LapsedRequests)
}

func TestAlerter_Evaluate(t *testing.T) {
	cfg := config.MonitoringConfig{FailureRateThreshold: 0.25, MinEvaluations: 5, BacklogThreshold: 10}

	tests := []struct {
		name string
		snap MetricsSnapshot
		want []AlertType
	}{
		{
			name: "healthy",
			snap: MetricsSnapshot{EvaluatedPosts: 20, FailedEvaluations: 1, EvalFailRate: 1.0 / 21},
		},
		{
			name: "failure rate above threshold",
			snap: MetricsSnapshot{EvaluatedPosts: 6, FailedEvaluations: 4, EvalFailRate: 0.4},
			want: []AlertType{AlertEvalFailureRate},
		},
		{
			name: "too few evaluations to judge",
			snap: MetricsSnapshot{EvaluatedPosts: 1, FailedEvaluations: 2, EvalFailRate: 2.0 / 3},
		},
		{
			name: "backlog",
			snap: MetricsSnapshot{PendingEvaluations: 11},
			want: []AlertType{AlertEvalBacklog},
		},
		{
			name: "lapsed requests",
			snap: MetricsSnapshot{LapsedRequests: 2},
			want: []AlertType{AlertLapsedRequests},
		},
		{
			name: "everything",
			snap: MetricsSnapshot{EvaluatedPosts: 5, FailedEvaluations: 5, EvalFailRate: 0.5, PendingEvaluations: 50, LapsedRequests: 1},
			want: []AlertType{AlertEvalFailureRate, AlertEvalBacklog, AlertLapsedRequests},
		},
	}

	a := NewAlerter(cfg, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := a.Evaluate(&tt.snap)
			var got []AlertType
			for _, al := range alerts {
				got = append(got, al.Type)
				assert.NotEmpty(t, al.Message)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAlerter_DisabledThresholds(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{}, nil)
	alerts := a.Evaluate(&MetricsSnapshot{EvaluatedPosts: 10, FailedEvaluations: 10, EvalFailRate: 0.5, PendingEvaluations: 1000})
	assert.Empty(t, alerts)
}

func TestAlerter_SendAlerts(t *testing.T) {
	s := &sink{}
	a := NewAlerter(config.MonitoringConfig{
		Channels:   []string{"email", "slack"},
		Recipients: []string{"ops@example.com", "oncall@example.com"},
	}, s)

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertEvalBacklog, Severity: "medium", Message: "backlog"},
	})
	assert.Equal(t, 1, sent)
	require.Len(t, s.sent, 3)
	assert.Equal(t, "ops@example.com", s.sent[0].Recipient)
	assert.Equal(t, "oncall@example.com", s.sent[1].Recipient)
	assert.Equal(t, model.ChannelSlack, s.sent[2].Channel)
	assert.Equal(t, "[dealradar medium] evaluation_backlog", s.sent[2].Subject)
	assert.Equal(t, "backlog", s.sent[2].Body)
}

func TestAlerter_SendAlerts_PartialFailure(t *testing.T) {
	s := &sink{fail: map[model.Channel]error{model.ChannelSlack: errors.New("webhook down")}}
	a := NewAlerter(config.MonitoringConfig{Channels: []string{"slack", "telegram", "sms"}}, s)

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertLapsedRequests, Severity: "medium", Message: "lapsed"}})
	assert.Equal(t, 1, sent)
	require.Len(t, s.sent, 1)
	assert.Equal(t, model.ChannelTelegram, s.sent[0].Channel)
}

func TestAlerter_SendAlerts_NoChannels(t *testing.T) {
	s := &sink{}
	a := NewAlerter(config.MonitoringConfig{}, s)
	assert.Zero(t, a.SendAlerts(context.Background(), []Alert{{Type: AlertEvalBacklog}}))
	assert.Empty(t, s.sent)
}

func TestChecker_Check(t *testing.T) {
	st := newTestStore(t)
	seed(t, st)

	s := &sink{}
	collector := NewCollector(st, 8)
	collector.now = func() time.Time { return now }
	alerter := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.25,
		MinEvaluations:       3,
		BacklogThreshold:     200,
		Channels:             []string{"slack"},
	}, s)

	report, err := NewChecker(collector, alerter).Check(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Alerts, 2)
	assert.Equal(t, AlertEvalFailureRate, report.Alerts[0].Type)
	assert.Equal(t, AlertLapsedRequests, report.Alerts[1].Type)
	assert.Equal(t, 2, report.Sent)
	assert.Len(t, s.sent, 2)
}

func TestChecker_Healthy(t *testing.T) {
	st := newTestStore(t)
	s := &sink{}

	report, err := NewChecker(NewCollector(st, 8), NewAlerter(config.MonitoringConfig{Channels: []string{"slack"}}, s)).
		Check(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Alerts)
	assert.Zero(t, report.Sent)
	assert.Empty(t, s.sent)
}
