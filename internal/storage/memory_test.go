package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestMemoryStoreRecordDedup(t *testing.T) {
	store := NewMemoryStore(decimal.RequireFromString("0.0001"))
	ctx := context.Background()
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	result, err := store.Record(ctx, "ENI.MI", base, decimal.RequireFromString("13.50"))
	if err != nil {
		t.Fatalf("first record: %v", err)
	}
	if result != Changed {
		t.Fatalf("first observation must be Changed, got %s", result)
	}

	// Same price again, and within epsilon of it.
	for _, price := range []string{"13.50", "13.50005"} {
		result, err = store.Record(ctx, "ENI.MI", base.Add(time.Hour), decimal.RequireFromString(price))
		if err != nil {
			t.Fatalf("record %s: %v", price, err)
		}
		if result != Unchanged {
			t.Fatalf("price %s within epsilon must be Unchanged, got %s", price, result)
		}
	}

	result, err = store.Record(ctx, "ENI.MI", base.Add(2*time.Hour), decimal.RequireFromString("13.51"))
	if err != nil {
		t.Fatalf("record changed price: %v", err)
	}
	if result != Changed {
		t.Fatalf("moved price must be Changed, got %s", result)
	}

	history, err := store.History(ctx, "ENI.MI", time.Time{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 stored points after dedup, got %d", len(history))
	}
}

func TestMemoryStoreHistoryUnknownTicker(t *testing.T) {
	store := NewMemoryStore(decimal.Zero)

	_, err := store.History(context.Background(), "MISSING.MI", time.Time{})
	if !errors.Is(err, ErrUnknownTicker) {
		t.Fatalf("expected ErrUnknownTicker, got %v", err)
	}

	// A ticker with metadata but no observations yields an empty series.
	if err := store.PutSecurity(Security{Ticker: "ENI.MI", ISIN: "IT0003132476"}); err != nil {
		t.Fatalf("put security: %v", err)
	}
	history, err := store.History(context.Background(), "ENI.MI", time.Time{})
	if err != nil {
		t.Fatalf("history for configured ticker: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d points", len(history))
	}
}

func TestMemoryStoreHistorySinceFilter(t *testing.T) {
	store := NewMemoryStore(decimal.Zero)
	ctx := context.Background()
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	for i, price := range []string{"10", "11", "12"} {
		if _, err := store.Record(ctx, "ENI.MI", base.AddDate(0, 0, i), decimal.RequireFromString(price)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	history, err := store.History(ctx, "ENI.MI", base.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("since filter should keep 2 points, got %d", len(history))
	}
	if !history[0].Price.Equal(decimal.RequireFromString("11")) {
		t.Fatalf("first kept point should be 11, got %s", history[0].Price)
	}
}

func TestMemoryStoreLastPrice(t *testing.T) {
	store := NewMemoryStore(decimal.Zero)
	ctx := context.Background()

	if _, found, err := store.LastPrice(ctx, "ENI.MI"); err != nil || found {
		t.Fatalf("empty store should report found=false, got found=%v err=%v", found, err)
	}

	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	_, _ = store.Record(ctx, "ENI.MI", base, decimal.RequireFromString("13.50"))
	_, _ = store.Record(ctx, "ENI.MI", base.Add(time.Hour), decimal.RequireFromString("13.60"))

	last, found, err := store.LastPrice(ctx, "ENI.MI")
	if err != nil || !found {
		t.Fatalf("expected a last price, got found=%v err=%v", found, err)
	}
	if !last.Price.Equal(decimal.RequireFromString("13.60")) {
		t.Fatalf("last price should be 13.60, got %s", last.Price)
	}
}

func TestMemoryStoreListSecuritiesKeepsOrder(t *testing.T) {
	store := NewMemoryStore(decimal.Zero)

	tickers := []string{"UCG.MI", "ENI.MI", "ISP.MI"}
	for _, ticker := range tickers {
		if err := store.PutSecurity(Security{Ticker: ticker, ISIN: "X", TargetDiscount: decimal.RequireFromString("0.05")}); err != nil {
			t.Fatalf("put %s: %v", ticker, err)
		}
	}

	securities, err := store.ListSecurities(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for i, sec := range securities {
		if sec.Ticker != tickers[i] {
			t.Fatalf("position %d: expected %s, got %s", i, tickers[i], sec.Ticker)
		}
	}
}

func TestMemoryStorePutSecurityRejectsBadTarget(t *testing.T) {
	store := NewMemoryStore(decimal.Zero)

	err := store.PutSecurity(Security{Ticker: "ENI.MI", TargetDiscount: decimal.RequireFromString("1.5")})
	if err == nil {
		t.Fatal("target discount above 1 must be rejected")
	}
}

func TestMemoryStoreSetCompanyName(t *testing.T) {
	store := NewMemoryStore(decimal.Zero)
	ctx := context.Background()

	if err := store.SetCompanyName(ctx, "ENI.MI", "Eni"); !errors.Is(err, ErrUnknownTicker) {
		t.Fatalf("expected ErrUnknownTicker, got %v", err)
	}

	_ = store.PutSecurity(Security{Ticker: "ENI.MI", ISIN: "IT0003132476"})
	if err := store.SetCompanyName(ctx, "ENI.MI", "Eni"); err != nil {
		t.Fatalf("set company name: %v", err)
	}
	sec, err := store.GetSecurity(ctx, "ENI.MI")
	if err != nil {
		t.Fatalf("get security: %v", err)
	}
	if sec.CompanyName != "Eni" {
		t.Fatalf("company name not cached, got %q", sec.CompanyName)
	}
}

func TestMemoryStoreStateRoundTrip(t *testing.T) {
	store := NewMemoryStore(decimal.Zero)
	ctx := context.Background()

	state := NotificationState{LastBucket: 3, LastNotifiedAt: time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)}
	if err := store.SaveState(ctx, "ENI.MI", state); err != nil {
		t.Fatalf("save state: %v", err)
	}

	states, err := store.LoadStates(ctx)
	if err != nil {
		t.Fatalf("load states: %v", err)
	}
	got, ok := states["ENI.MI"]
	if !ok || got.LastBucket != 3 || !got.LastNotifiedAt.Equal(state.LastNotifiedAt) {
		t.Fatalf("state round trip mismatch: %+v", got)
	}

	// The returned map is a copy; mutating it must not touch the store.
	states["ENI.MI"] = NotificationState{LastBucket: 99}
	reread, _ := store.LoadStates(ctx)
	if reread["ENI.MI"].LastBucket != 3 {
		t.Fatal("LoadStates must return a copy")
	}
}
