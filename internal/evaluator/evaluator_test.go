package evaluator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"isin-monitor/internal/storage"
)

func point(daysAgo int, price float64, now time.Time) storage.PricePoint {
	return storage.PricePoint{
		Timestamp: now.AddDate(0, 0, -daysAgo),
		Price:     decimal.NewFromFloat(price),
	}
}

func TestEvaluateSinglePointYieldsNothing(t *testing.T) {
	now := time.Now()
	history := []storage.PricePoint{point(0, 100, now)}

	snapshots := Evaluate("ENI.MI", history, []int{30, 7}, now)
	if len(snapshots) != 0 {
		t.Fatalf("single-point series should yield no snapshots, got %d", len(snapshots))
	}

	if got := Evaluate("ENI.MI", nil, []int{30}, now); len(got) != 0 {
		t.Fatalf("empty series should yield no snapshots, got %d", len(got))
	}
}

func TestEvaluateDiscountBoundary(t *testing.T) {
	now := time.Now()
	history := []storage.PricePoint{
		point(20, 100, now),
		point(10, 100, now),
		point(0, 98, now),
	}

	snapshots := Evaluate("ENI.MI", history, []int{30}, now)
	if len(snapshots) != 1 {
		t.Fatalf("expected one snapshot, got %d", len(snapshots))
	}

	snap := snapshots[0]
	if !snap.ReferenceMax.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("reference max should be 100, got %s", snap.ReferenceMax)
	}
	if !snap.DiscountRatio.Equal(decimal.RequireFromString("0.02")) {
		t.Fatalf("discount ratio should be exactly 0.02, got %s", snap.DiscountRatio)
	}
}

func TestEvaluatePriceAboveMaxYieldsNonPositiveRatio(t *testing.T) {
	now := time.Now()
	history := []storage.PricePoint{
		point(5, 100, now),
		point(0, 105, now),
	}

	snapshots := Evaluate("ENI.MI", history, []int{30, 7}, now)
	if len(snapshots) != 2 {
		t.Fatalf("expected two snapshots, got %d", len(snapshots))
	}
	for _, snap := range snapshots {
		if snap.DiscountRatio.Sign() > 0 {
			t.Fatalf("ratio must be <= 0 when price exceeds the max, got %s for %dd", snap.DiscountRatio, snap.LookbackDays)
		}
	}
}

func TestEvaluateEmptyWindowFallsBackToFullSeries(t *testing.T) {
	now := time.Now()
	history := []storage.PricePoint{
		point(60, 120, now),
		point(45, 110, now),
	}

	snapshots := Evaluate("ENI.MI", history, []int{7}, now)
	if len(snapshots) != 1 {
		t.Fatalf("expected one snapshot, got %d", len(snapshots))
	}
	if !snapshots[0].ReferenceMax.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("empty window should fall back to full-series max 120, got %s", snapshots[0].ReferenceMax)
	}
}

func TestEvaluateWindowsAreIndependent(t *testing.T) {
	now := time.Now()
	history := []storage.PricePoint{
		point(25, 110, now), // only inside the 30d window
		point(5, 100, now),
		point(0, 99, now),
	}

	snapshots := Evaluate("ENI.MI", history, []int{30, 7}, now)
	if len(snapshots) != 2 {
		t.Fatalf("expected two snapshots, got %d", len(snapshots))
	}

	byDays := map[int]Snapshot{}
	for _, snap := range snapshots {
		byDays[snap.LookbackDays] = snap
	}
	if !byDays[30].ReferenceMax.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("30d max should be 110, got %s", byDays[30].ReferenceMax)
	}
	if !byDays[7].ReferenceMax.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("7d max should be 100, got %s", byDays[7].ReferenceMax)
	}
}

func TestMostSevere(t *testing.T) {
	if _, ok := MostSevere(nil); ok {
		t.Fatal("MostSevere of no snapshots should report ok=false")
	}

	snapshots := []Snapshot{
		{LookbackDays: 7, DiscountRatio: decimal.RequireFromString("0.01")},
		{LookbackDays: 30, DiscountRatio: decimal.RequireFromString("0.05")},
		{LookbackDays: 90, DiscountRatio: decimal.RequireFromString("0.03")},
	}
	best, ok := MostSevere(snapshots)
	if !ok {
		t.Fatal("expected a snapshot")
	}
	if best.LookbackDays != 30 {
		t.Fatalf("most severe should be the 30d snapshot, got %dd", best.LookbackDays)
	}
}
