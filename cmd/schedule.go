package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dealradar/internal/scheduler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the ingest, evaluate, notify, match, expire and monitor jobs on cron schedules",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "schedule", envNeeds{scorer: true, router: true})
		if err != nil {
			return err
		}
		defer env.Close()

		sched, cleanup, err := initScheduler(ctx, env)
		if err != nil {
			return err
		}
		defer cleanup()

		sched.Start(ctx)
		return nil
	},
}

// initScheduler builds a scheduler with every configured job. Jobs lock
// through redis when schedule.redis_url is set.
func initScheduler(ctx context.Context, env *appEnv) (*scheduler.Scheduler, func(), error) {
	var (
		locker  scheduler.Locker = scheduler.NopLocker{}
		cleanup                  = func() {}
	)
	if cfg.Schedule.RedisURL != "" {
		rdb, err := scheduler.NewRedisClient(ctx, cfg.Schedule.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		locker = scheduler.NewRedisLocker(rdb)
		cleanup = func() { _ = rdb.Close() }
		zap.L().Info("scheduler using redis job locks")
	}

	jobs, err := buildJobs(env)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	sched := scheduler.New(locker, time.Duration(cfg.Schedule.LockTTLMinutes)*time.Minute)
	for _, job := range jobs {
		if err := sched.Add(job); err != nil {
			cleanup()
			return nil, nil, err
		}
	}
	return sched, cleanup, nil
}

// buildJobs binds the engines to their configured cron specs.
func buildJobs(env *appEnv) ([]scheduler.Job, error) {
	evalEng, err := env.evaluateEngine()
	if err != nil {
		return nil, err
	}
	matchEng, err := env.matchingEngine()
	if err != nil {
		return nil, err
	}
	checker, err := env.monitorChecker()
	if err != nil {
		return nil, err
	}
	ingestEng := env.ingestEngine()
	s := cfg.Schedule

	return []scheduler.Job{
		{Name: "ingest", Spec: s.Ingest, Run: func(ctx context.Context) error {
			var errs []error
			for _, name := range s.Categories {
				category := cfg.ResolveCategory(name)
				if _, err := ingestEng.IngestCategory(ctx, category, s.IngestLimit); err != nil {
					errs = append(errs, eris.Wrapf(err, "ingest %s", category))
				}
			}
			return errors.Join(errs...)
		}},
		{Name: "evaluate", Spec: s.Evaluate, Run: func(ctx context.Context) error {
			_, err := evalEng.Evaluate(ctx, 0)
			return err
		}},
		{Name: "notify", Spec: s.Notify, Run: func(ctx context.Context) error {
			_, err := evalEng.NotifyHighValue(ctx, 0)
			return err
		}},
		{Name: "match", Spec: s.Match, Run: func(ctx context.Context) error {
			_, err := matchEng.MatchRequests(ctx)
			return err
		}},
		{Name: "expire", Spec: s.Expire, Run: func(ctx context.Context) error {
			_, err := matchEng.ExpireSweep(ctx)
			return err
		}},
		{Name: "monitor", Spec: s.Monitor, Run: func(ctx context.Context) error {
			_, err := checker.Check(ctx)
			return err
		}},
	}, nil
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}
