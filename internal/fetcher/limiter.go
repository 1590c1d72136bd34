package fetcher

import (
	"context"
	"time"
)

// Gate enforces a fixed delay between consecutive upstream requests.
// It is the sole pacing mechanism within a monitoring pass; keeping it
// a separate component lets a concurrent fetch path reuse it later
// without touching the decision engine.
type Gate struct {
	delay time.Duration
	last  time.Time
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewGate builds a fixed-delay gate. A non-positive delay disables it.
func NewGate(delay time.Duration) *Gate {
	return &Gate{
		delay: delay,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// Wait blocks until the configured delay since the previous request has
// elapsed, or ctx is cancelled. The first call never waits.
func (g *Gate) Wait(ctx context.Context) error {
	if g.delay <= 0 {
		return ctx.Err()
	}

	now := g.now()
	if !g.last.IsZero() {
		if remaining := g.delay - now.Sub(g.last); remaining > 0 {
			if err := g.sleep(ctx, remaining); err != nil {
				return err
			}
		}
	}
	g.last = g.now()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
