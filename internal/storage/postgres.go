package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	selectLastPriceSQL = `SELECT ts, price
    FROM prices
    WHERE ticker = $1
    ORDER BY ts DESC
    LIMIT 1;`

	insertPriceSQL = `INSERT INTO prices (ticker, ts, price)
    VALUES ($1, $2, $3)
    ON CONFLICT (ticker, ts) DO NOTHING;`

	listHistorySQL = `SELECT ts, price
    FROM prices
    WHERE ticker = $1
      AND ts >= $2
    ORDER BY ts;`

	countTickerPricesSQL = `SELECT COUNT(*) FROM prices WHERE ticker = $1;`

	listSecuritiesSQL = `SELECT ticker, isin, company_name, target_discount
    FROM securities
    ORDER BY ticker;`

	selectSecuritySQL = `SELECT ticker, isin, company_name, target_discount
    FROM securities
    WHERE ticker = $1;`

	updateCompanyNameSQL = `UPDATE securities
    SET company_name = $2
    WHERE ticker = $1;`

	loadStatesSQL = `SELECT ticker, last_bucket, last_notified_at
    FROM notification_state;`

	upsertStateSQL = `INSERT INTO notification_state (ticker, last_bucket, last_notified_at)
    VALUES ($1, $2, $3)
    ON CONFLICT (ticker) DO UPDATE
    SET last_bucket      = EXCLUDED.last_bucket,
        last_notified_at = EXCLUDED.last_notified_at;`
)

// PostgresStore persists prices, metadata, and notification state in PostgreSQL.
type PostgresStore struct {
	pool    *pgxpool.Pool
	epsilon decimal.Decimal
}

// NewPostgresStore wires a pgx pool into a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, epsilon decimal.Decimal) *PostgresStore {
	return &PostgresStore{pool: pool, epsilon: epsilon}
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Record appends a price observation unless it matches the last stored price.
func (s *PostgresStore) Record(ctx context.Context, ticker string, ts time.Time, price decimal.Decimal) (RecordResult, error) {
	pool, err := s.getPool()
	if err != nil {
		return Unchanged, err
	}

	var lastTS time.Time
	var lastStr string
	scanErr := pool.QueryRow(ctx, selectLastPriceSQL, ticker).Scan(&lastTS, &lastStr)
	switch {
	case scanErr == nil:
		last, convErr := decimal.NewFromString(lastStr)
		if convErr != nil {
			return Unchanged, fmt.Errorf("parse stored price: %w", convErr)
		}
		if price.Sub(last).Abs().LessThanOrEqual(s.epsilon) {
			return Unchanged, nil
		}
	case errors.Is(scanErr, pgx.ErrNoRows):
		// first-ever observation seeds the series
	default:
		return Unchanged, fmt.Errorf("select last price: %w", scanErr)
	}

	if _, execErr := pool.Exec(ctx, insertPriceSQL, ticker, ts, price.String()); execErr != nil {
		return Unchanged, fmt.Errorf("insert price: %w", execErr)
	}
	return Changed, nil
}

// History lists the ordered series for a ticker bounded by since.
func (s *PostgresStore) History(ctx context.Context, ticker string, since time.Time) ([]PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listHistorySQL, ticker, since)
	if queryErr != nil {
		return nil, fmt.Errorf("list history: %w", queryErr)
	}
	defer rows.Close()

	points := make([]PricePoint, 0)
	for rows.Next() {
		point, scanErr := scanPricePoint(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		points = append(points, point)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	if len(points) == 0 {
		var count int64
		if scanErr := pool.QueryRow(ctx, countTickerPricesSQL, ticker).Scan(&count); scanErr != nil {
			return nil, fmt.Errorf("count ticker prices: %w", scanErr)
		}
		if count == 0 {
			if _, getErr := s.GetSecurity(ctx, ticker); getErr != nil {
				return nil, fmt.Errorf("%w: %s", ErrUnknownTicker, ticker)
			}
		}
	}

	return points, nil
}

// LastPrice returns the most recent observation for a ticker.
func (s *PostgresStore) LastPrice(ctx context.Context, ticker string) (PricePoint, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return PricePoint{}, false, err
	}

	var ts time.Time
	var priceStr string
	scanErr := pool.QueryRow(ctx, selectLastPriceSQL, ticker).Scan(&ts, &priceStr)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return PricePoint{}, false, nil
	}
	if scanErr != nil {
		return PricePoint{}, false, fmt.Errorf("select last price: %w", scanErr)
	}

	price, convErr := decimal.NewFromString(priceStr)
	if convErr != nil {
		return PricePoint{}, false, fmt.Errorf("parse stored price: %w", convErr)
	}
	return PricePoint{Timestamp: ts, Price: price}, true, nil
}

// ListSecurities returns the monitored universe ordered by ticker.
func (s *PostgresStore) ListSecurities(ctx context.Context) ([]Security, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSecuritiesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list securities: %w", queryErr)
	}
	defer rows.Close()

	securities := make([]Security, 0)
	for rows.Next() {
		sec, scanErr := scanSecurity(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		securities = append(securities, sec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return securities, nil
}

// GetSecurity returns metadata for one ticker.
func (s *PostgresStore) GetSecurity(ctx context.Context, ticker string) (Security, error) {
	pool, err := s.getPool()
	if err != nil {
		return Security{}, err
	}

	rows, queryErr := pool.Query(ctx, selectSecuritySQL, ticker)
	if queryErr != nil {
		return Security{}, fmt.Errorf("select security: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return Security{}, rows.Err()
		}
		return Security{}, fmt.Errorf("%w: %s", ErrUnknownTicker, ticker)
	}
	return scanSecurity(rows)
}

// SetCompanyName caches a resolved display name for a ticker.
func (s *PostgresStore) SetCompanyName(ctx context.Context, ticker, name string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, updateCompanyNameSQL, ticker, name); execErr != nil {
		return fmt.Errorf("update company name: %w", execErr)
	}
	return nil
}

// LoadStates reads all checkpointed notification states.
func (s *PostgresStore) LoadStates(ctx context.Context) (map[string]NotificationState, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, loadStatesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("load notification states: %w", queryErr)
	}
	defer rows.Close()

	states := make(map[string]NotificationState)
	for rows.Next() {
		var ticker string
		var state NotificationState
		if scanErr := rows.Scan(&ticker, &state.LastBucket, &state.LastNotifiedAt); scanErr != nil {
			return nil, scanErr
		}
		states[ticker] = state
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return states, nil
}

// SaveState checkpoints the notification state for a ticker.
func (s *PostgresStore) SaveState(ctx context.Context, ticker string, state NotificationState) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, upsertStateSQL, ticker, state.LastBucket, state.LastNotifiedAt); execErr != nil {
		return fmt.Errorf("upsert notification state: %w", execErr)
	}
	return nil
}

func scanPricePoint(rows pgx.Rows) (PricePoint, error) {
	var ts time.Time
	var priceStr string
	if err := rows.Scan(&ts, &priceStr); err != nil {
		return PricePoint{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return PricePoint{}, fmt.Errorf("parse stored price: %w", err)
	}
	return PricePoint{Timestamp: ts, Price: price}, nil
}

func scanSecurity(rows pgx.Rows) (Security, error) {
	var sec Security
	var targetStr string
	if err := rows.Scan(&sec.Ticker, &sec.ISIN, &sec.CompanyName, &targetStr); err != nil {
		return Security{}, err
	}

	target, err := decimal.NewFromString(targetStr)
	if err != nil {
		return Security{}, fmt.Errorf("parse target discount: %w", err)
	}
	sec.TargetDiscount = target

	if err := ValidateTarget(sec.Ticker, sec.TargetDiscount); err != nil {
		return Security{}, err
	}
	return sec, nil
}

var (
	_ PriceStore    = (*PostgresStore)(nil)
	_ MetadataStore = (*PostgresStore)(nil)
	_ StateStore    = (*PostgresStore)(nil)
)
