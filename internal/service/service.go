package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"isin-monitor/internal/alerting"
	"isin-monitor/internal/chart"
	"isin-monitor/internal/evaluator"
	"isin-monitor/internal/fetcher"
	"isin-monitor/internal/storage"
)

// referenceDays are the ages of the historical closes shown in captions.
var referenceDays = []int{1, 7, 30, 90, 365}

// Options parameterise the monitoring service.
type Options struct {
	LookbackDays   []int
	RequestTimeout time.Duration
}

// Service orchestrates one monitoring pass: fetch, record, evaluate,
// decide, notify. It holds no cross-ticker state of its own; everything
// durable lives in the price store and the decision engine.
type Service struct {
	opts     Options
	prices   storage.PriceStore
	meta     storage.MetadataStore
	source   fetcher.PriceFetcher
	gate     *fetcher.Gate
	engine   *alerting.Engine
	notifier alerting.Notifier
	charts   *chart.Renderer
	logger   zerolog.Logger
	now      func() time.Time
}

// New constructs the monitoring service. The notifier and chart
// renderer may be nil, disabling delivery and chart generation.
func New(opts Options, prices storage.PriceStore, meta storage.MetadataStore, source fetcher.PriceFetcher, gate *fetcher.Gate, engine *alerting.Engine, notifier alerting.Notifier, charts *chart.Renderer, logger zerolog.Logger) *Service {
	return &Service{
		opts:     opts,
		prices:   prices,
		meta:     meta,
		source:   source,
		gate:     gate,
		engine:   engine,
		notifier: notifier,
		charts:   charts,
		logger:   logger.With().Str("component", "service").Logger(),
		now:      time.Now,
	}
}

// RunPass executes one full pass over the configured universe.
func (s *Service) RunPass(ctx context.Context) error {
	securities, err := s.meta.ListSecurities(ctx)
	if err != nil {
		return fmt.Errorf("list securities: %w", err)
	}
	if len(securities) == 0 {
		s.logger.Warn().Msg("no securities configured")
		return nil
	}

	checked, fired := 0, 0
	for _, sec := range securities {
		if err := ctx.Err(); err != nil {
			return err
		}
		didFire, err := s.checkSecurity(ctx, sec, sec.TargetDiscount)
		if err != nil {
			return err
		}
		checked++
		if didFire {
			fired++
		}
	}

	s.flush(ctx)
	s.logger.Info().Int("checked", checked).Int("fired", fired).Msg("monitoring pass completed")
	return nil
}

// RunTestPass checks only the first configured security with the target
// discount forced to zero, so any series with a current price at or
// below its historical max produces a notification.
func (s *Service) RunTestPass(ctx context.Context) error {
	securities, err := s.meta.ListSecurities(ctx)
	if err != nil {
		return fmt.Errorf("list securities: %w", err)
	}
	if len(securities) == 0 {
		return errors.New("no securities configured")
	}

	sec := securities[0]
	s.logger.Info().Str("ticker", sec.Ticker).Msg("test mode: forcing target_discount to 0")
	if _, err := s.checkSecurity(ctx, sec, decimal.Zero); err != nil {
		return err
	}

	s.flush(ctx)
	return nil
}

// checkSecurity processes one ticker. Fetch and per-ticker storage
// failures are logged and swallowed so one ticker cannot abort the
// pass; only context cancellation propagates.
func (s *Service) checkSecurity(ctx context.Context, sec storage.Security, target decimal.Decimal) (bool, error) {
	if s.gate != nil {
		if err := s.gate.Wait(ctx); err != nil {
			return false, err
		}
	}

	quote, err := s.fetchQuote(ctx, sec)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		s.logger.Warn().Err(err).Str("ticker", sec.Ticker).Msg("quote fetch failed, skipping ticker")
		return false, nil
	}

	if quote.CompanyName != "" && quote.CompanyName != sec.CompanyName {
		if err := s.meta.SetCompanyName(ctx, sec.Ticker, quote.CompanyName); err != nil {
			s.logger.Debug().Err(err).Str("ticker", sec.Ticker).Msg("failed to cache company name")
		} else {
			sec.CompanyName = quote.CompanyName
		}
	}

	result, err := s.prices.Record(ctx, sec.Ticker, quote.ObservedAt, quote.Price)
	if err != nil {
		s.logger.Error().Err(err).Str("ticker", sec.Ticker).Msg("failed to record observation")
		return false, nil
	}

	if result == storage.Unchanged && target.Sign() > 0 {
		s.logger.Debug().Str("ticker", sec.Ticker).Str("price", quote.Price.String()).Msg("price unchanged, skipping evaluation")
		return false, nil
	}
	if result == storage.Changed {
		s.logger.Info().Str("ticker", sec.Ticker).Str("price", quote.Price.String()).Msg("price recorded")
	}

	history, err := s.prices.History(ctx, sec.Ticker, time.Time{})
	if err != nil {
		s.logger.Error().Err(err).Str("ticker", sec.Ticker).Msg("failed to load history")
		return false, nil
	}

	snapshots := evaluator.Evaluate(sec.Ticker, history, s.opts.LookbackDays, s.now())
	if len(snapshots) == 0 {
		s.logger.Debug().Str("ticker", sec.Ticker).Int("points", len(history)).Msg("insufficient history, nothing to evaluate")
		return false, nil
	}

	decision := s.engine.Decide(ctx, sec.Ticker, target, snapshots)
	if !decision.Fire {
		s.logger.Debug().Str("ticker", sec.Ticker).Str("reason", decision.Reason).Msg("no notification")
		return false, nil
	}

	s.logger.Info().Str("ticker", sec.Ticker).
		Str("discount", decision.Snapshot.DiscountRatio.StringFixed(4)).
		Int("lookback_days", decision.Snapshot.LookbackDays).
		Int64("bucket", decision.Bucket).
		Msg("discount threshold crossed")

	s.dispatch(ctx, sec, decision, history)
	return true, nil
}

func (s *Service) fetchQuote(ctx context.Context, sec storage.Security) (fetcher.Quote, error) {
	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}
	return s.source.Fetch(ctx, sec)
}

// dispatch builds the payload and hands it to the collaborators. A
// delivery failure is logged, not retried: the decision engine already
// advanced its state, so the event is at-most-once by design.
func (s *Service) dispatch(ctx context.Context, sec storage.Security, decision alerting.Decision, history []storage.PricePoint) {
	if s.notifier == nil {
		s.logger.Debug().Str("ticker", sec.Ticker).Msg("no notifier configured, dropping event")
		return
	}

	snap := decision.Snapshot
	note := alerting.Notification{
		Ticker:         sec.Ticker,
		ISIN:           sec.ISIN,
		CompanyName:    sec.DisplayName(),
		CurrentPrice:   snap.CurrentPrice,
		ReferenceMax:   snap.ReferenceMax,
		DiscountRatio:  snap.DiscountRatio,
		TargetDiscount: sec.TargetDiscount,
		LookbackDays:   snap.LookbackDays,
		ObservedAt:     s.now(),
		ReferenceRows:  s.referenceRows(history, snap.CurrentPrice),
	}

	if s.charts != nil {
		rendered, err := s.charts.RenderEvent(sec, history, snap)
		if err != nil {
			s.logger.Warn().Err(err).Str("ticker", sec.Ticker).Msg("chart rendering failed, sending without chart")
		} else {
			note.Chart = rendered
		}
	}

	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("ticker", sec.Ticker).Msg("failed to deliver notification")
	}
}

// referenceRows derives the caption table: previous observation, the
// day's opening price, and historical closes at fixed ages.
func (s *Service) referenceRows(history []storage.PricePoint, current decimal.Decimal) []alerting.ReferenceRow {
	rows := make([]alerting.ReferenceRow, 0, 2+len(referenceDays))
	now := s.now()

	if len(history) >= 2 {
		if row, ok := alerting.NewReferenceRow("Prev", current, history[len(history)-2].Price); ok {
			rows = append(rows, row)
		}
	}

	if open, found := openingPriceOn(history, now); found && !open.Equal(current) {
		if row, ok := alerting.NewReferenceRow("Open", current, open); ok {
			rows = append(rows, row)
		}
	}

	for _, days := range referenceDays {
		target := now.AddDate(0, 0, -days)
		if closing, found := closingPriceOn(history, target); found {
			if row, ok := alerting.NewReferenceRow(fmt.Sprintf("%dd", days), current, closing); ok {
				rows = append(rows, row)
			}
		}
	}

	return rows
}

func (s *Service) flush(ctx context.Context) {
	flusher, ok := s.prices.(storage.Flusher)
	if !ok {
		return
	}
	if err := flusher.Flush(ctx); err != nil {
		s.logger.Error().Err(err).Msg("failed to flush price store")
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// openingPriceOn returns the first observation recorded on day.
func openingPriceOn(history []storage.PricePoint, day time.Time) (decimal.Decimal, bool) {
	for _, point := range history {
		if sameDay(point.Timestamp, day) {
			return point.Price, true
		}
	}
	return decimal.Decimal{}, false
}

// closingPriceOn returns the last observation recorded on day.
func closingPriceOn(history []storage.PricePoint, day time.Time) (decimal.Decimal, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if sameDay(history[i].Timestamp, day) {
			return history[i].Price, true
		}
	}
	return decimal.Decimal{}, false
}
