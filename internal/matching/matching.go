// Package matching runs deal requests against fresh marketplace listings.
//
// A cycle selects every eligible request, oldest first, fetches candidate
// listings from the request's category, filters them by budget and by
// previous matches, scores the rest and records a match for every listing
// scoring at or above the qualification threshold. Subscribers get one
// notification per match, and a request with at least one match is
// fulfilled. The expiry sweep closes requests that outlived their TTL
// without a match.
//
// Every step is idempotent against the store's unique constraints, so a
// cycle may be re-run or overlap with another without duplicating matches.
package matching

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dealradar/internal/config"
	"github.com/sells-group/dealradar/internal/ingest"
	"github.com/sells-group/dealradar/internal/model"
	"github.com/sells-group/dealradar/internal/notify"
	"github.com/sells-group/dealradar/internal/price"
	"github.com/sells-group/dealradar/internal/scoring"
	"github.com/sells-group/dealradar/internal/store"
	"github.com/sells-group/dealradar/pkg/blocket"
)

// DefaultQualifyThreshold is the minimum score for a listing to match a
// request.
const DefaultQualifyThreshold = 9.0

// Config tunes the matching engine.
type Config struct {
	CandidateLimit     int
	Concurrency        int
	QualifyThreshold   float64
	UnknownPricePolicy price.UnknownPolicy
}

// ConfigFrom converts application config to engine config.
func ConfigFrom(cfg config.MatchingConfig) (Config, error) {
	policy, err := price.ParsePolicy(cfg.UnknownPricePolicy)
	if err != nil {
		return Config{}, eris.Wrap(err, "matching: config")
	}
	return Config{
		CandidateLimit:     cfg.CandidateLimit,
		Concurrency:        cfg.Concurrency,
		QualifyThreshold:   cfg.QualifyThreshold,
		UnknownPricePolicy: policy,
	}, nil
}

func (c Config) withDefaults() Config {
	if c.CandidateLimit <= 0 {
		c.CandidateLimit = 20
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.QualifyThreshold <= 0 {
		c.QualifyThreshold = DefaultQualifyThreshold
	}
	if c.UnknownPricePolicy == "" {
		c.UnknownPricePolicy = price.IncludeUnknown
	}
	return c
}

// Engine runs matching cycles and expiry sweeps.
type Engine struct {
	store    store.Store
	source   blocket.Client
	ingest   *ingest.Engine
	scorer   scoring.Scorer
	notifier notify.Dispatcher
	cfg      Config
	now      func() time.Time
}

// New creates a matching Engine.
func New(st store.Store, source blocket.Client, scorer scoring.Scorer, notifier notify.Dispatcher, cfg Config) *Engine {
	return &Engine{
		store:    st,
		source:   source,
		ingest:   ingest.New(st, source),
		scorer:   scorer,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CycleResult summarizes one matching cycle.
type CycleResult struct {
	CycleID        string `json:"cycle_id"`
	Requests       int    `json:"requests"`
	SourceErrors   int    `json:"source_errors"`
	Candidates     int    `json:"candidates"`
	OverBudget     int    `json:"over_budget"`
	AlreadyMatched int    `json:"already_matched"`
	Scored         int    `json:"scored"`
	ScoreErrors    int    `json:"score_errors"`
	Matches        int    `json:"matches"`
	Notified       int    `json:"notified"`
	NotifyErrors   int    `json:"notify_errors"`
	Fulfilled      int    `json:"fulfilled"`
	Expired        int    `json:"expired"`
}

// tally accumulates per-candidate counters from concurrent workers.
type tally struct {
	scored, scoreErrors, matches, notified, notifyErrors atomic.Int64
}

// RunCycle matches every eligible request and then runs the expiry sweep.
func (e *Engine) RunCycle(ctx context.Context) (*CycleResult, error) {
	res, err := e.MatchRequests(ctx)
	if err != nil {
		return res, err
	}
	sweep, err := e.ExpireSweep(ctx)
	if err != nil {
		return res, err
	}
	res.Expired = sweep.Expired
	res.Fulfilled += sweep.Fulfilled
	res.Notified += sweep.Notified
	res.NotifyErrors += sweep.NotifyErrors
	return res, nil
}

// MatchRequests runs the matching steps for every eligible request. Failures
// on one request or candidate are logged and do not stop the others.
func (e *Engine) MatchRequests(ctx context.Context) (*CycleResult, error) {
	res := &CycleResult{CycleID: uuid.NewString()}
	log := zap.L().With(zap.String("component", "matching"), zap.String("cycle_id", res.CycleID))

	reqs, err := e.store.ListEligibleRequests(ctx, e.now())
	if err != nil {
		return res, eris.Wrap(err, "matching: list eligible requests")
	}
	res.Requests = len(reqs)
	log.Info("matching cycle started", zap.Int("requests", len(reqs)))

	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "matching: cycle interrupted")
		}
		e.matchRequest(ctx, log.With(zap.Int64("request_id", req.ID)), req, res)
	}

	log.Info("matching cycle complete",
		zap.Int("requests", res.Requests),
		zap.Int("candidates", res.Candidates),
		zap.Int("scored", res.Scored),
		zap.Int("score_errors", res.ScoreErrors),
		zap.Int("matches", res.Matches),
		zap.Int("notified", res.Notified),
		zap.Int("fulfilled", res.Fulfilled),
	)
	return res, nil
}

func (e *Engine) matchRequest(ctx context.Context, log *zap.Logger, req model.DealRequest, res *CycleResult) {
	// A request that already has a match only needs closing; fetching more
	// candidates for it would be wasted work.
	n, err := e.store.CountMatches(ctx, req.ID)
	if err != nil {
		log.Error("count matches failed", zap.Error(err))
		return
	}
	if n > 0 {
		e.fulfill(ctx, log, req, res)
		return
	}

	sr, err := e.source.Search(ctx, req.Category, e.cfg.CandidateLimit)
	if err != nil || sr == nil || !sr.Success {
		log.Warn("listing source unavailable", zap.String("category", req.Category), zap.Error(err))
		res.SourceErrors++
		return
	}

	ingested := e.ingest.Ingest(ctx, sr.Listings, &req.ID)
	candidates := e.filterCandidates(ctx, log, req, ingested.Posts, res)
	res.Candidates += len(candidates)
	if len(candidates) == 0 {
		log.Debug("no new candidates")
		return
	}

	subs, err := e.store.ListSubscriptions(ctx, req.ID)
	if err != nil {
		// Matches are still recorded; subscribers are notified only for
		// matches found while the subscription list is readable.
		log.Error("list subscriptions failed", zap.Error(err))
	}

	prompt := scoring.RequestPrompt(req)
	var t tally
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Concurrency)
	for _, post := range candidates {
		g.Go(func() error {
			e.evaluateCandidate(ctx, log.With(zap.String("ad_id", post.AdID)), req, post, prompt, subs, &t)
			return nil
		})
	}
	_ = g.Wait()

	res.Scored += int(t.scored.Load())
	res.ScoreErrors += int(t.scoreErrors.Load())
	res.Matches += int(t.matches.Load())
	res.Notified += int(t.notified.Load())
	res.NotifyErrors += int(t.notifyErrors.Load())

	if n, err := e.store.CountMatches(ctx, req.ID); err != nil {
		log.Error("count matches failed", zap.Error(err))
	} else if n > 0 {
		e.fulfill(ctx, log, req, res)
	}
}

// filterCandidates drops posts above the request's budget and posts already
// matched to it.
func (e *Engine) filterCandidates(ctx context.Context, log *zap.Logger, req model.DealRequest, posts []model.Post, res *CycleResult) []model.Post {
	out := make([]model.Post, 0, len(posts))
	for _, p := range posts {
		if !price.WithinBudget(p.Price, req.MaxBudget, e.cfg.UnknownPricePolicy) {
			res.OverBudget++
			continue
		}
		exists, err := e.store.MatchExists(ctx, req.ID, p.AdID)
		if err != nil {
			log.Error("match lookup failed", zap.String("ad_id", p.AdID), zap.Error(err))
			continue
		}
		if exists {
			res.AlreadyMatched++
			continue
		}
		out = append(out, p)
	}
	return out
}

func (e *Engine) evaluateCandidate(ctx context.Context, log *zap.Logger, req model.DealRequest, post model.Post, prompt scoring.Prompt, subs []model.RequestSubscription, t *tally) {
	result, err := e.scorer.Score(ctx, post, prompt)
	if err != nil {
		t.scoreErrors.Add(1)
		log.Warn("scoring failed", zap.Error(err))
		ev := model.FailedEvaluation(post.AdID, err, e.now())
		if uerr := e.store.UpsertEvaluation(ctx, &ev); uerr != nil {
			log.Error("persist failed evaluation", zap.Error(uerr))
		}
		return
	}
	t.scored.Add(1)

	ev := result.Evaluation(post.AdID, e.now())
	if err := e.store.UpsertEvaluation(ctx, &ev); err != nil {
		log.Error("persist evaluation", zap.Error(err))
	}
	if result.MatchesRequirements != nil && !*result.MatchesRequirements {
		log.Debug("scorer reports requirements unmet", zap.Float64("score", result.Score))
	}
	if result.Score < e.cfg.QualifyThreshold {
		return
	}

	inserted, err := e.store.InsertMatch(ctx, req.ID, post.AdID, e.now())
	if err != nil {
		log.Error("insert match failed", zap.Error(err))
		return
	}
	if !inserted {
		return
	}
	t.matches.Add(1)
	log.Info("listing matched request", zap.Float64("score", result.Score))

	msg := notify.MatchMessage(req, post, ev)
	msg.Channel = model.ChannelEmail
	for _, sub := range subs {
		msg.Recipient = sub.Email
		if err := e.notifier.Send(ctx, msg); err != nil {
			t.notifyErrors.Add(1)
			log.Warn("match notification failed", zap.String("email", sub.Email), zap.Error(err))
			continue
		}
		t.notified.Add(1)
	}
}

func (e *Engine) fulfill(ctx context.Context, log *zap.Logger, req model.DealRequest, res *CycleResult) {
	ok, err := e.store.FulfillRequest(ctx, req.ID, e.now())
	if err != nil {
		log.Error("fulfill request failed", zap.Error(err))
		return
	}
	if ok {
		res.Fulfilled++
		log.Info("request fulfilled")
	}
}

// SweepResult summarizes an expiry sweep.
type SweepResult struct {
	Lapsed       int `json:"lapsed"`
	Expired      int `json:"expired"`
	Fulfilled    int `json:"fulfilled"`
	Notified     int `json:"notified"`
	NotifyErrors int `json:"notify_errors"`
}

// ExpireSweep closes active requests whose expiry has passed. A request with
// a match is fulfilled; one without is expired and its subscribers are told
// once that nothing was found.
func (e *Engine) ExpireSweep(ctx context.Context) (*SweepResult, error) {
	log := zap.L().With(zap.String("component", "expiry"))
	now := e.now()

	lapsed, err := e.store.ListLapsedRequests(ctx, now)
	if err != nil {
		return &SweepResult{}, eris.Wrap(err, "matching: list lapsed requests")
	}
	res := &SweepResult{Lapsed: len(lapsed)}

	for _, ar := range lapsed {
		rlog := log.With(zap.Int64("request_id", ar.ID))
		if ar.MatchCount > 0 {
			if ok, err := e.store.FulfillRequest(ctx, ar.ID, now); err != nil {
				rlog.Error("fulfill lapsed request failed", zap.Error(err))
			} else if ok {
				res.Fulfilled++
			}
			continue
		}

		expired, err := e.store.ExpireRequest(ctx, ar.ID, now)
		if err != nil {
			rlog.Error("expire request failed", zap.Error(err))
			continue
		}
		if !expired {
			// Matched or closed since it was listed.
			continue
		}
		res.Expired++
		rlog.Info("request expired without match")

		subs, err := e.store.ListSubscriptions(ctx, ar.ID)
		if err != nil {
			rlog.Error("list subscriptions failed", zap.Error(err))
			continue
		}
		req := ar.DealRequest
		req.Status = model.RequestExpired
		msg := notify.NoMatchMessage(req)
		msg.Channel = model.ChannelEmail
		for _, sub := range subs {
			msg.Recipient = sub.Email
			if err := e.notifier.Send(ctx, msg); err != nil {
				res.NotifyErrors++
				rlog.Warn("no-match notification failed", zap.String("email", sub.Email), zap.Error(err))
				continue
			}
			res.Notified++
		}
	}

	log.Info("expiry sweep complete",
		zap.Int("lapsed", res.Lapsed),
		zap.Int("expired", res.Expired),
		zap.Int("fulfilled", res.Fulfilled),
		zap.Int("notified", res.Notified),
	)
	return res, nil
}
