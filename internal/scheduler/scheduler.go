// Package scheduler triggers the notification pass on a cron schedule.
// A tick that fires while the previous pass is still running is skipped.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Task is the work run on every tick. Errors are logged, never fatal.
type Task func(ctx context.Context) error

// Scheduler runs a Task on a standard five-field cron expression evaluated
// in a fixed timezone.
type Scheduler struct {
	spec   string
	loc    *time.Location
	task   Task
	logger *slog.Logger
	cron   *cron.Cron
}

// New validates spec and prepares a scheduler. loc defaults to time.Local.
func New(spec string, loc *time.Location, task Task, logger *slog.Logger) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parse cron schedule %q: %w", spec, err)
	}

	cl := cronLogger{logger}
	return &Scheduler{
		spec:   spec,
		loc:    loc,
		task:   task,
		logger: logger,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}, nil
}

// Start runs the schedule. Blocks until ctx is cancelled and the running
// task, if any, has returned. Intended to be called with `go`.
func (s *Scheduler) Start(ctx context.Context) error {
	id, err := s.cron.AddFunc(s.spec, func() { s.run(ctx) })
	if err != nil {
		return fmt.Errorf("schedule %q: %w", s.spec, err)
	}

	s.cron.Start()
	s.logger.Info("Notification scheduler started",
		"schedule", s.spec, "timezone", s.loc.String(), "next", s.cron.Entry(id).Next)

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("Notification scheduler stopped")
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	s.logger.Info("Scheduled notification pass starting")
	if err := s.task(ctx); err != nil {
		s.logger.Error("Scheduled notification pass failed",
			"duration", time.Since(start).Round(time.Millisecond), "error", err)
		return
	}
	s.logger.Info("Scheduled notification pass finished",
		"duration", time.Since(start).Round(time.Millisecond))
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
