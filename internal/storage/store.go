package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"isin-monitor/internal/config"
)

var (
	// ErrUnknownTicker indicates a ticker with no stored series and no metadata.
	ErrUnknownTicker = errors.New("storage: unknown ticker")
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

// PriceStore persists per-ticker price series.
type PriceStore interface {
	// Record appends the observation unless the price equals the most
	// recent stored price for the ticker (within the store's epsilon).
	Record(ctx context.Context, ticker string, ts time.Time, price decimal.Decimal) (RecordResult, error)
	// History returns the ordered series for a ticker bounded by since.
	// A zero since returns everything on record.
	History(ctx context.Context, ticker string, since time.Time) ([]PricePoint, error)
	// LastPrice returns the most recent observation, ok=false for an empty series.
	LastPrice(ctx context.Context, ticker string) (PricePoint, bool, error)
}

// MetadataStore exposes the static security registry.
type MetadataStore interface {
	ListSecurities(ctx context.Context) ([]Security, error)
	GetSecurity(ctx context.Context, ticker string) (Security, error)
	// SetCompanyName caches a resolved display name for a ticker.
	SetCompanyName(ctx context.Context, ticker, name string) error
}

// StateStore checkpoints notification state for cross-run cooldown.
type StateStore interface {
	LoadStates(ctx context.Context) (map[string]NotificationState, error)
	SaveState(ctx context.Context, ticker string, state NotificationState) error
}

// Flusher is implemented by backends that buffer writes in memory.
type Flusher interface {
	Flush(ctx context.Context) error
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// ValidateTarget checks a target discount is a ratio in [0, 1].
func ValidateTarget(ticker string, target decimal.Decimal) error {
	if target.IsNegative() || target.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("security %s: target_discount %s outside [0, 1]", ticker, target.String())
	}
	return nil
}
