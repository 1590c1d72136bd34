// Package evaluator computes discount metrics for a price series
// against rolling maxima over configurable lookback windows.
package evaluator

import (
	"time"

	"github.com/shopspring/decimal"

	"isin-monitor/internal/storage"
)

// Snapshot is a transient view of one (ticker, lookback window) pair.
type Snapshot struct {
	Ticker        string
	LookbackDays  int
	ReferenceMax  decimal.Decimal
	CurrentPrice  decimal.Decimal
	DiscountRatio decimal.Decimal
}

// Evaluate computes one snapshot per lookback window. A series with
// fewer than two points yields no snapshots: a single seeded
// observation is not enough to talk about a discount. A window with no
// observations falls back to the entire available series.
func Evaluate(ticker string, history []storage.PricePoint, lookbackDays []int, now time.Time) []Snapshot {
	if len(history) < 2 {
		return nil
	}

	current := history[len(history)-1].Price
	if current.Sign() <= 0 {
		return nil
	}

	snapshots := make([]Snapshot, 0, len(lookbackDays))
	for _, days := range lookbackDays {
		cutoff := now.AddDate(0, 0, -days)
		max, found := maxSince(history, cutoff)
		if !found {
			max, _ = maxSince(history, time.Time{})
		}
		if max.Sign() <= 0 {
			continue
		}

		snapshots = append(snapshots, Snapshot{
			Ticker:        ticker,
			LookbackDays:  days,
			ReferenceMax:  max,
			CurrentPrice:  current,
			DiscountRatio: max.Sub(current).Div(max),
		})
	}

	return snapshots
}

// MostSevere returns the snapshot with the highest discount ratio.
func MostSevere(snapshots []Snapshot) (Snapshot, bool) {
	if len(snapshots) == 0 {
		return Snapshot{}, false
	}

	best := snapshots[0]
	for _, snap := range snapshots[1:] {
		if snap.DiscountRatio.GreaterThan(best.DiscountRatio) {
			best = snap
		}
	}
	return best, true
}

func maxSince(history []storage.PricePoint, cutoff time.Time) (decimal.Decimal, bool) {
	var max decimal.Decimal
	found := false
	for _, point := range history {
		if !cutoff.IsZero() && point.Timestamp.Before(cutoff) {
			continue
		}
		if !found || point.Price.GreaterThan(max) {
			max = point.Price
			found = true
		}
	}
	return max, found
}
