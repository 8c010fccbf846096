package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type CycleRunner interface {
	RunCycle(ctx context.Context) (CycleReport, error)
}

// Scheduler runs one cycle at start and then one per cron tick. Cycles run
// on the calling goroutine, so they never overlap; a tick that passes while
// a cycle is still running is skipped.
type Scheduler struct {
	Runner   CycleRunner
	Schedule cron.Schedule
	Location *time.Location
	Log      *zap.SugaredLogger

	// After defaults to time.After.
	After func(time.Duration) <-chan time.Time
}

// ErrScheduleNeverFires is returned by Run when the schedule has no next
// activation time.
var ErrScheduleNeverFires = errors.New("schedule has no next activation")

// Run blocks until ctx is cancelled and returns ctx.Err(). It returns
// ErrScheduleNeverFires instead of looping when the schedule cannot fire.
func (s *Scheduler) Run(ctx context.Context) error {
	loc := s.Location
	if loc == nil {
		loc = time.Local
	}
	after := s.After
	if after == nil {
		after = time.After
	}

	s.runOnce(ctx)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := time.Now().In(loc)
		next := s.Schedule.Next(now)
		if next.IsZero() {
			s.Log.Errorw("schedule never fires, stopping scheduler")
			return ErrScheduleNeverFires
		}
		s.Log.Infow("next cycle scheduled", "at", next.Format(time.RFC3339), "in", next.Sub(now).Round(time.Second))

		select {
		case <-ctx.Done():
			s.Log.Infow("scheduler stopped")
			return ctx.Err()
		case <-after(next.Sub(now)):
		}
		s.runOnce(ctx)
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	report, err := s.Runner.RunCycle(ctx)
	if err != nil {
		s.Log.Warnw("cycle ended with error", "cycle", shortID(report.ID), "error", err)
	}
}
