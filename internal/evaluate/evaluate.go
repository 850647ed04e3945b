// Package evaluate scores newly discovered posts with the generic deal
// rubric and alerts configured recipients about high-value deals.
package evaluate

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dealradar/internal/config"
	"github.com/sells-group/dealradar/internal/model"
	"github.com/sells-group/dealradar/internal/notify"
	"github.com/sells-group/dealradar/internal/scoring"
	"github.com/sells-group/dealradar/internal/store"
)

// DefaultHighValueThreshold is the minimum score for a high-value alert.
const DefaultHighValueThreshold = 8.0

// Config tunes the evaluation engine.
type Config struct {
	BatchLimit         int
	Concurrency        int
	HighValueThreshold float64
	Channels           []model.Channel
	Recipients         []string
}

// ConfigFrom converts application config to engine config.
func ConfigFrom(cfg *config.Config) (Config, error) {
	out := Config{
		BatchLimit:         cfg.Evaluation.BatchLimit,
		Concurrency:        cfg.Evaluation.Concurrency,
		HighValueThreshold: cfg.Evaluation.HighValueThreshold,
		Recipients:         cfg.Notify.HighValueRecipients,
	}
	for _, name := range cfg.Notify.Channels {
		ch, err := model.ParseChannel(strings.TrimSpace(name))
		if err != nil {
			return Config{}, eris.Wrap(err, "evaluate: config")
		}
		out.Channels = append(out.Channels, ch)
	}
	return out, nil
}

func (c Config) withDefaults() Config {
	if c.BatchLimit <= 0 {
		c.BatchLimit = 10
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.HighValueThreshold <= 0 {
		c.HighValueThreshold = DefaultHighValueThreshold
	}
	return c
}

// Engine evaluates posts and dispatches high-value alerts.
type Engine struct {
	store    store.Store
	scorer   scoring.Scorer
	notifier notify.Dispatcher
	cfg      Config
	now      func() time.Time
}

// New creates an evaluation Engine.
func New(st store.Store, scorer scoring.Scorer, notifier notify.Dispatcher, cfg Config) *Engine {
	return &Engine{
		store:    st,
		scorer:   scorer,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Result summarizes an evaluation batch.
type Result struct {
	Selected  int `json:"selected"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Evaluate scores up to limit posts that have no evaluation yet, newest
// first. limit <= 0 uses the configured batch limit. Each post is marked
// pending before scoring so an interrupted batch is picked up again.
func (e *Engine) Evaluate(ctx context.Context, limit int) (*Result, error) {
	if limit <= 0 {
		limit = e.cfg.BatchLimit
	}
	log := zap.L().With(zap.String("component", "evaluate"))

	posts, err := e.store.PostsForEvaluation(ctx, limit)
	if err != nil {
		return &Result{}, eris.Wrap(err, "evaluate: select posts")
	}
	res := &Result{Selected: len(posts)}
	if len(posts) == 0 {
		log.Debug("nothing to evaluate")
		return res, nil
	}

	prompt := scoring.GenericPrompt()
	var completed, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Concurrency)
	for _, post := range posts {
		g.Go(func() error {
			if e.evaluatePost(ctx, log.With(zap.String("ad_id", post.AdID)), post, prompt) {
				completed.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Completed = int(completed.Load())
	res.Failed = int(failed.Load())
	log.Info("evaluation batch complete",
		zap.Int("selected", res.Selected),
		zap.Int("completed", res.Completed),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

func (e *Engine) evaluatePost(ctx context.Context, log *zap.Logger, post model.Post, prompt scoring.Prompt) bool {
	pending := model.Evaluation{AdID: post.AdID, Status: model.EvaluationPending}
	if err := e.store.UpsertEvaluation(ctx, &pending); err != nil {
		log.Error("mark pending failed", zap.Error(err))
		return false
	}

	result, err := e.scorer.Score(ctx, post, prompt)
	if err != nil {
		log.Warn("scoring failed", zap.Error(err))
		ev := model.FailedEvaluation(post.AdID, err, e.now())
		if uerr := e.store.UpsertEvaluation(ctx, &ev); uerr != nil {
			log.Error("persist failed evaluation", zap.Error(uerr))
		}
		return false
	}

	ev := result.Evaluation(post.AdID, e.now())
	if err := e.store.UpsertEvaluation(ctx, &ev); err != nil {
		log.Error("persist evaluation", zap.Error(err))
		return false
	}
	log.Debug("post evaluated", zap.Float64("score", result.Score))
	return true
}

// NotifyResult summarizes a high-value alert run.
type NotifyResult struct {
	Deals  int `json:"deals"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// NotifyHighValue alerts every configured channel about completed deals
// scoring at or above the high-value threshold that the channel has not
// been told about. A notification row is written only after delivery, so a
// failed delivery is retried on the next run.
func (e *Engine) NotifyHighValue(ctx context.Context, limit int) (*NotifyResult, error) {
	log := zap.L().With(zap.String("component", "alerts"))
	res := &NotifyResult{}

	for _, ch := range e.cfg.Channels {
		deals, err := e.store.PendingNotifications(ctx, ch, e.cfg.HighValueThreshold, limit)
		if err != nil {
			return res, eris.Wrapf(err, "evaluate: pending notifications for %s", ch)
		}
		res.Deals += len(deals)

		for _, deal := range deals {
			dlog := log.With(zap.String("channel", string(ch)), zap.String("ad_id", deal.Post.AdID))
			msg := notify.HighValueMessage(deal.Post, deal.Evaluation)
			msg.Channel = ch

			if !e.deliver(ctx, dlog, msg) {
				res.Failed++
				continue
			}

			_, err := e.store.InsertNotification(ctx, &model.Notification{
				AdID:    deal.Post.AdID,
				Channel: ch,
				Message: msg.Subject + "\n\n" + msg.Body,
				SentAt:  e.now(),
			})
			if err != nil {
				dlog.Error("record notification failed", zap.Error(err))
				res.Failed++
				continue
			}
			res.Sent++
		}
	}

	log.Info("high-value alerts complete",
		zap.Int("deals", res.Deals),
		zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// deliver sends msg to every recipient of its channel. Email goes to each
// configured recipient; chat channels have a fixed destination.
func (e *Engine) deliver(ctx context.Context, log *zap.Logger, msg notify.Message) bool {
	if msg.Channel != model.ChannelEmail {
		if err := e.notifier.Send(ctx, msg); err != nil {
			log.Warn("alert failed", zap.Error(err))
			return false
		}
		return true
	}

	if len(e.cfg.Recipients) == 0 {
		log.Warn("no high-value recipients configured for email")
		return false
	}
	ok := true
	for _, to := range e.cfg.Recipients {
		msg.Recipient = to
		if err := e.notifier.Send(ctx, msg); err != nil {
			log.Warn("alert failed", zap.String("email", to), zap.Error(err))
			ok = false
		}
	}
	return ok
}
