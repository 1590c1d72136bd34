package alerting

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"isin-monitor/internal/evaluator"
	"isin-monitor/internal/storage"
)

// Decline reasons reported by Decide. Declining is the expected
// steady-state outcome of most cycles, not an error.
const (
	ReasonFired        = "fired"
	ReasonBelowTarget  = "below_target"
	ReasonMarketClosed = "market_closed"
	ReasonCooldown     = "cooldown"
)

// EngineOptions tune the notification decision engine.
type EngineOptions struct {
	Cooldown        time.Duration
	BucketStep      decimal.Decimal
	MarketHoursOnly bool
	MarketOpenMin   int
	MarketCloseMin  int
}

// Decision is the outcome of one evaluation for one ticker.
type Decision struct {
	Fire     bool
	Reason   string
	Snapshot evaluator.Snapshot
	Bucket   int64
}

// Engine decides whether a discount event warrants a notification. It
// owns the per-ticker notification state and applies the target
// threshold, market-hours gate, and leaky-bucket cooldown. There is no
// terminal "already notified" state; once the cooldown lapses or the
// discount moves to a different bucket the same ticker can fire again.
type Engine struct {
	opts   EngineOptions
	states map[string]storage.NotificationState
	store  storage.StateStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewEngine constructs a decision engine. The state store may be nil,
// in which case cooldown state lives only for the process lifetime.
func NewEngine(opts EngineOptions, store storage.StateStore, logger zerolog.Logger) *Engine {
	return &Engine{
		opts:   opts,
		states: make(map[string]storage.NotificationState),
		store:  store,
		logger: logger.With().Str("component", "decision_engine").Logger(),
		now:    time.Now,
	}
}

// Restore loads checkpointed notification state for cross-run cooldown.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	states, err := e.store.LoadStates(ctx)
	if err != nil {
		return err
	}
	e.states = states
	return nil
}

// Decide applies the firing rule to the snapshots of one ticker. On a
// firing decision the notification state is updated immediately, before
// delivery is attempted: a failed delivery is not retried and must not
// re-arm the engine (at-most-once per qualifying event).
func (e *Engine) Decide(ctx context.Context, ticker string, target decimal.Decimal, snapshots []evaluator.Snapshot) Decision {
	qualifying := snapshots[:0:0]
	for _, snap := range snapshots {
		if snap.DiscountRatio.Sign() < 0 {
			continue
		}
		if snap.DiscountRatio.GreaterThanOrEqual(target) {
			qualifying = append(qualifying, snap)
		}
	}
	if len(qualifying) == 0 {
		return Decision{Reason: ReasonBelowTarget}
	}

	now := e.now()
	if e.opts.MarketHoursOnly && !e.WithinMarketHours(now) {
		return Decision{Reason: ReasonMarketClosed}
	}

	best, _ := evaluator.MostSevere(qualifying)
	bucket := e.bucketFor(best.DiscountRatio)

	if state, seen := e.states[ticker]; seen {
		elapsed := now.Sub(state.LastNotifiedAt)
		if elapsed < e.opts.Cooldown && bucket == state.LastBucket {
			return Decision{Reason: ReasonCooldown, Snapshot: best, Bucket: bucket}
		}
	}

	state := storage.NotificationState{LastBucket: bucket, LastNotifiedAt: now}
	e.states[ticker] = state
	if e.store != nil {
		if err := e.store.SaveState(ctx, ticker, state); err != nil {
			e.logger.Error().Err(err).Str("ticker", ticker).Msg("failed to checkpoint notification state")
		}
	}

	return Decision{Fire: true, Reason: ReasonFired, Snapshot: best, Bucket: bucket}
}

// WithinMarketHours reports whether t falls inside the configured
// trading window (inclusive at both ends).
func (e *Engine) WithinMarketHours(t time.Time) bool {
	if !e.opts.MarketHoursOnly {
		return true
	}
	minutes := t.Hour()*60 + t.Minute()
	return minutes >= e.opts.MarketOpenMin && minutes <= e.opts.MarketCloseMin
}

func (e *Engine) bucketFor(ratio decimal.Decimal) int64 {
	return ratio.Div(e.opts.BucketStep).IntPart()
}
