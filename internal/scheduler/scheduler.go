package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// PassFunc is invoked for every scheduled monitoring pass.
type PassFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval        time.Duration
	AlignToInterval bool
	StartupDelay    time.Duration
}

// Scheduler triggers monitoring passes at a fixed interval. Passes are
// expected to finish well within the interval; the scheduler never
// starts a pass while the previous one is still running.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the pass function at each interval until ctx is
// cancelled. A failing pass is logged and does not stop the loop.
func (s *Scheduler) Run(ctx context.Context, pass PassFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := wait(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	next := s.nextTick(time.Now())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.nextTick(time.Now())
			delay = time.Until(next)
		}

		s.logger.Debug().Time("next_pass", next).Msg("waiting for next pass")
		if err := wait(ctx, delay); err != nil {
			return err
		}

		started := time.Now()
		s.logger.Info().Time("at", started).Msg("executing scheduled pass")
		if err := pass(ctx, started); err != nil {
			s.logger.Error().Err(err).Time("at", started).Msg("pass execution failed")
		}

		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToInterval {
		return now.Add(s.opts.Interval)
	}
	tick := now.Truncate(s.opts.Interval)
	if !tick.After(now) {
		tick = tick.Add(s.opts.Interval)
	}
	return tick
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
