package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load with defaults: %v", err)
	}

	if cfg.Data.Backend != BackendFile {
		t.Fatalf("default backend should be %q, got %q", BackendFile, cfg.Data.Backend)
	}
	if cfg.Monitoring.Cooldown() != 4*time.Hour {
		t.Fatalf("default cooldown should be 4h, got %s", cfg.Monitoring.Cooldown())
	}
	if got := cfg.Monitoring.PriceComparisonDays; len(got) != 2 || got[0] != 30 || got[1] != 7 {
		t.Fatalf("default lookback windows should be [30 7], got %v", got)
	}
	if cfg.Monitoring.DiscountBucketStep != 0.01 {
		t.Fatalf("default bucket step should be 0.01, got %v", cfg.Monitoring.DiscountBucketStep)
	}
	if cfg.API.RateLimitDelay != 500*time.Millisecond {
		t.Fatalf("default rate limit delay should be 500ms, got %s", cfg.API.RateLimitDelay)
	}
	if cfg.Scheduler.Interval != 5*time.Minute {
		t.Fatalf("default interval should be 5m, got %s", cfg.Scheduler.Interval)
	}
	if cfg.Telegram.Enabled {
		t.Fatal("telegram should be disabled by default")
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
data:
  backend: file
  metadata_file: meta.csv
  price_history_file: prices.csv
monitoring:
  notification_cooldown_hours: 2.5
  price_comparison_days: [90, 30, 7]
telegram:
  enabled: true
  bot_token: token
  chat_id: "12345"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Monitoring.Cooldown() != 2*time.Hour+30*time.Minute {
		t.Fatalf("cooldown should be 2h30m, got %s", cfg.Monitoring.Cooldown())
	}
	if got := cfg.Monitoring.PriceComparisonDays; len(got) != 3 || got[0] != 90 {
		t.Fatalf("lookback windows should be [90 30 7], got %v", got)
	}
	if !cfg.Telegram.Enabled || cfg.Telegram.ChatID != "12345" {
		t.Fatalf("telegram settings not applied: %+v", cfg.Telegram)
	}
	// Untouched keys keep their defaults.
	if cfg.Monitoring.MarketOpenTime != "08:55" {
		t.Fatalf("market open default lost, got %q", cfg.Monitoring.MarketOpenTime)
	}
}

func TestValidateFailures(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:    "unknown backend",
			mutate:  func(cfg *Config) { cfg.Data.Backend = "sqlite" },
			wantErr: "data.backend",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(cfg *Config) { cfg.Data.Backend = BackendPostgres },
			wantErr: "database.dsn",
		},
		{
			name: "telegram without token",
			mutate: func(cfg *Config) {
				cfg.Telegram.Enabled = true
				cfg.Telegram.ChatID = "12345"
			},
			wantErr: "telegram.bot_token",
		},
		{
			name:    "no lookback windows",
			mutate:  func(cfg *Config) { cfg.Monitoring.PriceComparisonDays = nil },
			wantErr: "price_comparison_days",
		},
		{
			name:    "negative lookback window",
			mutate:  func(cfg *Config) { cfg.Monitoring.PriceComparisonDays = []int{30, -7} },
			wantErr: "must be positive",
		},
		{
			name:    "zero bucket step",
			mutate:  func(cfg *Config) { cfg.Monitoring.DiscountBucketStep = 0 },
			wantErr: "discount_bucket_step",
		},
		{
			name:    "bad market open time",
			mutate:  func(cfg *Config) { cfg.Monitoring.MarketOpenTime = "8h55" },
			wantErr: "market_open_time",
		},
		{
			name:    "zero interval",
			mutate:  func(cfg *Config) { cfg.Scheduler.Interval = 0 },
			wantErr: "scheduler.interval",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("load defaults: %v", err)
			}
			tc.mutate(cfg)
			err = cfg.Validate()
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %v should mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestParseClock(t *testing.T) {
	minutes, err := ParseClock("08:55")
	if err != nil {
		t.Fatalf("parse 08:55: %v", err)
	}
	if minutes != 8*60+55 {
		t.Fatalf("08:55 should be %d minutes, got %d", 8*60+55, minutes)
	}

	if _, err := ParseClock("25:00"); err == nil {
		t.Fatal("25:00 must be rejected")
	}
	if _, err := ParseClock("noon"); err == nil {
		t.Fatal("non-clock strings must be rejected")
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 1000}}
	if got := cfg.ResolveMaxPoints(0); got != 1000 {
		t.Fatalf("zero override should fall back to config, got %d", got)
	}
	if got := cfg.ResolveMaxPoints(50); got != 50 {
		t.Fatalf("positive override should win, got %d", got)
	}
}
