package monitoring

import (
	"context"

	"go.uber.org/zap"
)

// Report is the outcome of one health check.
type Report struct {
	Snapshot *MetricsSnapshot `json:"snapshot"`
	Alerts   []Alert          `json:"alerts"`
	Sent     int              `json:"sent"`
}

// Checker collects metrics, evaluates them and sends alerts.
type Checker struct {
	collector *Collector
	alerter   *Alerter
}

// NewChecker creates a health checker.
func NewChecker(collector *Collector, alerter *Alerter) *Checker {
	return &Checker{collector: collector, alerter: alerter}
}

// Check runs one collect, evaluate and send pass.
func (c *Checker) Check(ctx context.Context) (*Report, error) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))

	snap, err := c.collector.Collect(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{Snapshot: snap, Alerts: c.alerter.Evaluate(snap)}
	if len(report.Alerts) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return report, nil
	}

	report.Sent = c.alerter.SendAlerts(ctx, report.Alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(report.Alerts)),
		zap.Int("alerts_sent", report.Sent),
	)
	return report, nil
}
