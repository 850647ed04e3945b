// Package scheduler runs the recurring ingest, evaluation, alert, matching
// and expiry jobs on cron schedules.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultLockTTL bounds how long a crashed holder blocks a job.
const DefaultLockTTL = 30 * time.Minute

// Job is a named unit of recurring work.
type Job struct {
	Name string
	Spec string // cron spec or descriptor such as "@every 1h"; empty disables the job
	Run  func(ctx context.Context) error
}

// Scheduler runs jobs on their cron specs. A job never overlaps itself: runs
// are skipped while a previous run is in progress in this process, or while
// another process holds the job lock.
type Scheduler struct {
	cron    *cron.Cron
	locker  Locker
	lockTTL time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
	names   []string
}

// New creates a Scheduler. A nil locker disables cross-process locking.
func New(locker Locker, lockTTL time.Duration) *Scheduler {
	if locker == nil {
		locker = NopLocker{}
	}
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	logger := cronLogger{log: zap.L().With(zap.String("component", "scheduler")).Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		locker:  locker,
		lockTTL: lockTTL,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add registers job. Jobs with an empty spec are skipped.
func (s *Scheduler) Add(job Job) error {
	if job.Spec == "" {
		zap.L().Info("scheduler: job disabled", zap.String("job", job.Name))
		return nil
	}
	if job.Run == nil {
		return eris.Errorf("scheduler: job %s has no run func", job.Name)
	}
	_, err := s.cron.AddFunc(job.Spec, func() { s.runJob(s.ctx, job) })
	if err != nil {
		return eris.Wrapf(err, "scheduler: add job %s (%q)", job.Name, job.Spec)
	}
	s.names = append(s.names, job.Name)
	return nil
}

// Jobs returns the names of registered jobs.
func (s *Scheduler) Jobs() []string {
	return append([]string(nil), s.names...)
}

// Start runs the scheduler until ctx is cancelled, then waits for running
// jobs to finish.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	zap.L().Info("scheduler started", zap.Strings("jobs", s.names))

	<-ctx.Done()
	s.Stop()
}

// Stop halts scheduling, cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	s.cancel()
	<-done.Done()
	zap.L().Info("scheduler stopped")
}

// runJob executes job under its lock. It returns false when the run was
// skipped or failed.
func (s *Scheduler) runJob(ctx context.Context, job Job) bool {
	log := zap.L().With(zap.String("job", job.Name))

	release, ok, err := s.locker.Acquire(ctx, job.Name, s.lockTTL)
	if err != nil {
		log.Error("lock failed", zap.Error(err))
		return false
	}
	if !ok {
		log.Info("job locked by another instance, skipping")
		return false
	}
	defer release(context.WithoutCancel(ctx))

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		log.Error("job failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return false
	}
	log.Info("job complete", zap.Duration("elapsed", time.Since(start)))
	return true
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
