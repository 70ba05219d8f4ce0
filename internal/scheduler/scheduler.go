// Package scheduler runs the periodic generation of next week's calendar.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Generator fills the coming week with classes. It must be safe to call
// repeatedly.
type Generator interface {
	GenerateNextWeek(ctx context.Context) (int, error)
}

// Scheduler triggers a Generator on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	gen      Generator
	log      *slog.Logger
	timeout  time.Duration
}

// New parses spec, a standard five-field cron expression evaluated in loc.
func New(spec string, loc *time.Location, gen Generator, log *slog.Logger) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	s := &Scheduler{
		cron:     cron.New(cron.WithLocation(loc)),
		schedule: schedule,
		gen:      gen,
		log:      log,
		timeout:  time.Minute,
	}
	return s, nil
}

// Next returns the first run time after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// RunOnce generates next week's calendar and logs the result.
func (s *Scheduler) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.gen.GenerateNextWeek(ctx)
	if err != nil {
		s.log.Error("scheduled generation failed", "err", err)
		return
	}
	s.log.Info("scheduled generation done", "created", n)
}

// Run schedules the job and blocks until ctx is done. Jobs already running
// are waited for before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Schedule(s.schedule, cron.FuncJob(func() { s.RunOnce(ctx) }))
	s.cron.Start()
	s.log.Info("scheduler started", "next", s.Next(time.Now().In(s.cron.Location())))

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
	return nil
}
