package fetcher

import (
	"context"
	"testing"
	"time"
)

func TestGateFirstCallNeverWaits(t *testing.T) {
	gate := NewGate(500 * time.Millisecond)
	gate.sleep = func(ctx context.Context, d time.Duration) error {
		t.Fatalf("first call must not sleep, asked for %s", d)
		return nil
	}

	if err := gate.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestGateEnforcesDelay(t *testing.T) {
	gate := NewGate(500 * time.Millisecond)

	current := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	gate.now = func() time.Time { return current }

	var slept time.Duration
	gate.sleep = func(ctx context.Context, d time.Duration) error {
		slept += d
		current = current.Add(d)
		return nil
	}

	if err := gate.Wait(context.Background()); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	// 200ms later: 300ms of the delay still outstanding.
	current = current.Add(200 * time.Millisecond)
	if err := gate.Wait(context.Background()); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if slept != 300*time.Millisecond {
		t.Fatalf("expected 300ms of sleep, got %s", slept)
	}

	// Past the delay already: no further sleep.
	current = current.Add(time.Second)
	if err := gate.Wait(context.Background()); err != nil {
		t.Fatalf("third wait: %v", err)
	}
	if slept != 300*time.Millisecond {
		t.Fatalf("no extra sleep expected, got %s", slept)
	}
}

func TestGateDisabledAndCancelled(t *testing.T) {
	gate := NewGate(0)
	if err := gate.Wait(context.Background()); err != nil {
		t.Fatalf("disabled gate must not error: %v", err)
	}

	gate = NewGate(time.Hour)
	_ = gate.Wait(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := gate.Wait(ctx); err == nil {
		t.Fatal("cancelled context must abort the wait")
	}
}
