// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package schedule runs a job on a cron expression. A tick that arrives
// while the previous run is still going is skipped.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pdiddy/consequence-pipeline/pkg/types"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Scheduler wraps a cron instance bound to a time zone.
type Scheduler struct {
	cron   *cron.Cron
	loc    *time.Location
	spec   string
	logger *slog.Logger
}

// New parses cfg.Timezone and prepares a scheduler for cfg.Cron.
func New(cfg types.ScheduleConfig, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "schedule")

	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	if _, err := cron.ParseStandard(cfg.Cron); err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", cfg.Cron, err)
	}

	cl := cronLogger{logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		loc:    loc,
		spec:   cfg.Cron,
		logger: logger,
	}, nil
}

// Run registers job and blocks until ctx is cancelled. On return any run
// in progress has finished.
func (s *Scheduler) Run(ctx context.Context, job Job) error {
	id, err := s.cron.AddJob(s.spec, s.wrap(ctx, job))
	if err != nil {
		return fmt.Errorf("add cron job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "cron", s.spec, "timezone", s.loc.String(), "next", s.cron.Entry(id).Next)

	<-ctx.Done()
	s.logger.Info("scheduler stopping")
	<-s.cron.Stop().Done()
	return nil
}

// Next reports when the schedule fires after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	sched, err := cron.ParseStandard(s.spec)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(t.In(s.loc))
}

func (s *Scheduler) wrap(ctx context.Context, job Job) cron.Job {
	return cron.FuncJob(func() {
		start := time.Now()
		if err := job(ctx); err != nil {
			s.logger.Error("scheduled run failed", "error", err, "duration", time.Since(start))
			return
		}
		s.logger.Info("scheduled run finished", "duration", time.Since(start))
	})
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
