package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealradar/internal/evaluate"
	"github.com/sells-group/dealradar/internal/ingest"
	"github.com/sells-group/dealradar/internal/matching"
	"github.com/sells-group/dealradar/internal/model"
	"github.com/sells-group/dealradar/internal/monitoring"
	"github.com/sells-group/dealradar/internal/notify"
	"github.com/sells-group/dealradar/internal/scoring"
	"github.com/sells-group/dealradar/internal/store"
	"github.com/sells-group/dealradar/pkg/blocket"
)

// appEnv holds the store and clients shared by the engine commands.
type appEnv struct {
	Store  store.Store
	Source blocket.Client
	Scorer scoring.Scorer // nil unless requested
	Router *notify.Router // nil unless requested
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

type envNeeds struct {
	scorer bool
	router bool
}

func initStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, cfg.Store)
}

// openStore opens and migrates the configured store.
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initSource() blocket.Client {
	b := cfg.Blocket
	opts := []blocket.Option{
		blocket.WithBatching(b.BatchSize, time.Duration(b.BatchDelayMs)*time.Millisecond),
		blocket.WithRateLimit(b.RequestsPerSecond),
	}
	if b.SiteURL != "" {
		opts = append(opts, blocket.WithSiteURL(b.SiteURL))
	}
	if b.APIURL != "" {
		opts = append(opts, blocket.WithAPIURL(b.APIURL))
	}
	if b.UserAgent != "" {
		opts = append(opts, blocket.WithUserAgent(b.UserAgent))
	}
	if b.TimeoutSecs > 0 {
		opts = append(opts, blocket.WithHTTPClient(&http.Client{Timeout: time.Duration(b.TimeoutSecs) * time.Second}))
	}
	return blocket.NewClient(opts...)
}

// initRouter builds the notification router. Email is registered whenever
// SMTP is configured since request matches are always delivered by email.
func initRouter() (*notify.Router, error) {
	r, err := notify.FromConfig(cfg.Notify)
	if err != nil {
		return nil, err
	}
	if cfg.Notify.SMTP.Host != "" {
		r.Register(model.ChannelEmail, notify.NewEmailSender(cfg.Notify.SMTP))
	}
	if len(r.Channels()) == 0 {
		zap.L().Warn("no notification channels configured")
	}
	return r, nil
}

// initEnv validates config for mode and builds the environment. Callers
// should defer env.Close().
func initEnv(ctx context.Context, mode string, needs envNeeds) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st, Source: initSource()}

	if needs.scorer {
		env.Scorer, err = scoring.New(cfg)
		if err != nil {
			env.Close()
			return nil, err
		}
	}
	if needs.router {
		env.Router, err = initRouter()
		if err != nil {
			env.Close()
			return nil, err
		}
	}
	return env, nil
}

func (e *appEnv) ingestEngine() *ingest.Engine {
	return ingest.New(e.Store, e.Source)
}

func (e *appEnv) evaluateEngine() (*evaluate.Engine, error) {
	ecfg, err := evaluate.ConfigFrom(cfg)
	if err != nil {
		return nil, err
	}
	return evaluate.New(e.Store, e.Scorer, e.Router, ecfg), nil
}

func (e *appEnv) matchingEngine() (*matching.Engine, error) {
	mcfg, err := matching.ConfigFrom(cfg.Matching)
	if err != nil {
		return nil, err
	}
	return matching.New(e.Store, e.Source, e.Scorer, e.Router, mcfg), nil
}

// monitorChecker builds a health checker whose alerts go to the
// monitoring channels, using the notify section for channel credentials.
func (e *appEnv) monitorChecker() (*monitoring.Checker, error) {
	ncfg := cfg.Notify
	ncfg.Channels = cfg.Monitoring.Channels
	router, err := notify.FromConfig(ncfg)
	if err != nil {
		return nil, err
	}
	collector := monitoring.NewCollector(e.Store, cfg.Evaluation.HighValueThreshold)
	return monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring, router)), nil
}
