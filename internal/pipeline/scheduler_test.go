package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookforge/internal/config"
	"bookforge/internal/logging"
)

type countingRunner struct {
	calls    int
	stopAt   int
	cancel   context.CancelFunc
	failWith error
}

func (r *countingRunner) RunCycle(ctx context.Context) (CycleReport, error) {
	r.calls++
	if r.calls == r.stopAt {
		r.cancel()
	}
	return CycleReport{ID: "cycle"}, r.failWith
}

func immediately(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func TestSchedulerRunsImmediatelyThenOnTicks(t *testing.T) {
	sched, err := config.ParseSchedule("0 */3 * * *")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &countingRunner{stopAt: 3, cancel: cancel, failWith: errors.New("boom")}
	s := &Scheduler{Runner: runner, Schedule: sched, Location: time.UTC, Log: logging.Nop(), After: immediately}

	err = s.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, runner.calls)
}

func TestSchedulerStopsWhileWaiting(t *testing.T) {
	sched, err := config.ParseSchedule("0 */3 * * *")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())

	var waited time.Duration
	runner := &countingRunner{stopAt: -1, cancel: cancel}
	s := &Scheduler{
		Runner:   runner,
		Schedule: sched,
		Location: time.UTC,
		Log:      logging.Nop(),
		After: func(d time.Duration) <-chan time.Time {
			waited = d
			cancel()
			return make(chan time.Time)
		},
	}

	err = s.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, runner.calls)
	assert.Greater(t, waited, time.Duration(0))
	assert.LessOrEqual(t, waited, 3*time.Hour)
}

func TestSchedulerStopsWhenScheduleNeverFires(t *testing.T) {
	sched, err := config.ParseSchedule("0 0 30 2 *")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runner := &countingRunner{stopAt: -1, cancel: cancel}
	waits := 0
	s := &Scheduler{
		Runner:   runner,
		Schedule: sched,
		Location: time.UTC,
		Log:      logging.Nop(),
		After: func(time.Duration) <-chan time.Time {
			waits++
			return immediately(0)
		},
	}

	err = s.Run(ctx)

	assert.ErrorIs(t, err, ErrScheduleNeverFires)
	assert.Equal(t, 1, runner.calls)
	assert.Zero(t, waits)
}
