package refresh

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "planner/internal/log"
)

// cronLogger routes cron's own logging through appLog.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}

// Scheduler runs a job on a standard five-field cron spec (or a descriptor
// such as "@every 15m"). A run still in progress when the next one is due
// is skipped.
type Scheduler struct {
	spec     string
	schedule cron.Schedule
	job      func(context.Context)
	loc      *time.Location
}

// NewScheduler validates spec. Schedules are evaluated in loc.
func NewScheduler(spec string, loc *time.Location, job func(context.Context)) (*Scheduler, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("refresh schedule %q: %w", spec, err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{spec: spec, schedule: sched, job: job, loc: loc}, nil
}

// Next returns the first activation after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.loc))
}

// ForRefresher schedules r.Run.
func ForRefresher(spec string, loc *time.Location, r *Refresher) (*Scheduler, error) {
	return NewScheduler(spec, loc, func(ctx context.Context) {
		// Run logs its own failures.
		_, _ = r.Run(ctx)
	})
}

// Run blocks until ctx is done, then waits for a running job to return.
func (s *Scheduler) Run(ctx context.Context) {
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() { s.job(ctx) }))
	c.Start()
	appLog.Info("refresh scheduler started", "schedule", s.spec, "next", s.Next(time.Now()).Format(time.RFC3339))

	<-ctx.Done()
	<-c.Stop().Done()
	appLog.Info("refresh scheduler stopped")
}
