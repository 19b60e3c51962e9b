// ABOUTME: Scheduled sweeps that expire stale task assignments and evict idle sessions
// ABOUTME: Runs on a robfig/cron schedule with overlapping runs skipped

package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Expirer fails tasks assigned longer than timeout without progress.
type Expirer interface {
	ExpireStale(ctx context.Context, timeout time.Duration) int
}

// Evictor removes member-less sessions.
type Evictor interface {
	Now() time.Time
	EvictSessions(idleCutoff time.Time, maxSessions int) []string
}

// Config controls what a sweep does. Zero durations or counts disable that part of the sweep.
type Config struct {
	Interval          time.Duration
	AssignmentTimeout time.Duration
	IdleTTL           time.Duration
	MaxSessions       int
}

// Result summarizes one sweep.
type Result struct {
	Expired int
	Evicted []string
}

// Janitor owns the sweep schedule.
type Janitor struct {
	cfg     Config
	tasks   Expirer
	store   Evictor
	logger  *slog.Logger
	cron    *cron.Cron
	started bool
}

// New creates a Janitor. Call Run to start the schedule.
func New(cfg Config, tasks Expirer, store Evictor, logger *slog.Logger) *Janitor {
	logger = logger.With("component", "janitor")
	return &Janitor{
		cfg:    cfg,
		tasks:  tasks,
		store:  store,
		logger: logger,
		cron: cron.New(
			cron.WithLogger(cronLogger{logger}),
			cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger})),
		),
	}
}

// Sweep runs one maintenance pass immediately.
func (j *Janitor) Sweep(ctx context.Context) Result {
	var res Result
	if j.cfg.AssignmentTimeout > 0 {
		res.Expired = j.tasks.ExpireStale(ctx, j.cfg.AssignmentTimeout)
	}

	var cutoff time.Time
	if j.cfg.IdleTTL > 0 {
		cutoff = j.store.Now().Add(-j.cfg.IdleTTL)
	}
	if !cutoff.IsZero() || j.cfg.MaxSessions > 0 {
		res.Evicted = j.store.EvictSessions(cutoff, j.cfg.MaxSessions)
	}

	if res.Expired > 0 || len(res.Evicted) > 0 {
		j.logger.Info("sweep finished", "expired_tasks", res.Expired, "evicted_sessions", len(res.Evicted))
	}
	return res
}

// Run schedules sweeps every cfg.Interval and blocks until ctx is done. A sweep in progress
// when ctx ends is allowed to finish.
func (j *Janitor) Run(ctx context.Context) error {
	if j.cfg.Interval <= 0 {
		return fmt.Errorf("janitor interval must be positive, got %v", j.cfg.Interval)
	}
	if j.started {
		return fmt.Errorf("janitor already running")
	}
	j.started = true

	j.cron.Schedule(cron.Every(j.cfg.Interval), cron.FuncJob(func() {
		j.Sweep(ctx)
	}))
	j.cron.Start()
	j.logger.Debug("janitor started", "interval", j.cfg.Interval)

	<-ctx.Done()
	<-j.cron.Stop().Done()
	j.logger.Debug("janitor stopped")
	return nil
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
