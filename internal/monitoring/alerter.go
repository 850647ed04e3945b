package monitoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/dealradar/internal/config"
	"github.com/sells-group/dealradar/internal/model"
	"github.com/sells-group/dealradar/internal/notify"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertEvalFailureRate AlertType = "evaluation_failure_rate"
	AlertEvalBacklog     AlertType = "evaluation_backlog"
	AlertLapsedRequests  AlertType = "lapsed_requests"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds and
// sends alerts through the notification dispatcher.
type Alerter struct {
	cfg      config.MonitoringConfig
	notifier notify.Dispatcher
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig, notifier notify.Dispatcher) *Alerter {
	return &Alerter{cfg: cfg, notifier: notifier}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.EvaluatedPosts + snap.FailedEvaluations
	minEvals := a.cfg.MinEvaluations
	if minEvals <= 0 {
		minEvals = 5
	}
	if finished >= minEvals && a.cfg.FailureRateThreshold > 0 && snap.EvalFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertEvalFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Evaluation failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished)",
				snap.EvalFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.FailedEvaluations, finished,
			),
			Details: map[string]any{
				"failure_rate": snap.EvalFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.FailedEvaluations,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.BacklogThreshold > 0 && snap.PendingEvaluations > a.cfg.BacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertEvalBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d posts waiting for evaluation (threshold %d)",
				snap.PendingEvaluations, a.cfg.BacklogThreshold,
			),
			Details: map[string]any{
				"pending":   snap.PendingEvaluations,
				"threshold": a.cfg.BacklogThreshold,
			},
			Timestamp: now,
		})
	}

	// Lapsed requests mean the expiry sweep has not run since they expired.
	if snap.LapsedRequests > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertLapsedRequests,
			Severity: "medium",
			Message:  fmt.Sprintf("%d deal request(s) past expiry are still active", snap.LapsedRequests),
			Details: map[string]any{
				"lapsed": snap.LapsedRequests,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers each alert to every configured channel. Email alerts
// go to each configured recipient. Returns the number of alerts delivered
// on at least one channel.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.notifier == nil || len(a.cfg.Channels) == 0 || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		delivered := false
		for _, name := range a.cfg.Channels {
			ch, err := model.ParseChannel(strings.TrimSpace(name))
			if err != nil {
				zap.L().Warn("monitoring: skipping channel", zap.Error(err))
				continue
			}
			for _, to := range a.recipients(ch) {
				msg := notify.Message{
					Channel:   ch,
					Recipient: to,
					Subject:   fmt.Sprintf("[dealradar %s] %s", alert.Severity, alert.Type),
					Body:      alert.Message,
				}
				if err := a.notifier.Send(ctx, msg); err != nil {
					zap.L().Error("monitoring: failed to send alert",
						zap.String("type", string(alert.Type)),
						zap.String("channel", string(ch)),
						zap.Error(err),
					)
					continue
				}
				delivered = true
			}
		}
		if delivered {
			zap.L().Info("monitoring: alert sent",
				zap.String("type", string(alert.Type)),
				zap.String("severity", alert.Severity),
			)
			sent++
		}
	}
	return sent
}

func (a *Alerter) recipients(ch model.Channel) []string {
	if ch == model.ChannelEmail {
		return a.cfg.Recipients
	}
	return []string{""}
}
