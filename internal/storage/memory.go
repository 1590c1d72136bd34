package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore keeps prices, metadata, and notification state in memory.
// It backs tests and dry runs, and is embedded by the file store.
type MemoryStore struct {
	mu       sync.Mutex
	epsilon  decimal.Decimal
	series   map[string][]PricePoint
	metadata map[string]Security
	order    []string
	states   map[string]NotificationState
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore(epsilon decimal.Decimal) *MemoryStore {
	return &MemoryStore{
		epsilon:  epsilon,
		series:   make(map[string][]PricePoint),
		metadata: make(map[string]Security),
		states:   make(map[string]NotificationState),
	}
}

// PutSecurity registers metadata for a ticker.
func (m *MemoryStore) PutSecurity(sec Security) error {
	if err := ValidateTarget(sec.Ticker, sec.TargetDiscount); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.metadata[sec.Ticker]; !exists {
		m.order = append(m.order, sec.Ticker)
	}
	m.metadata[sec.Ticker] = sec
	return nil
}

// Record appends a price observation unless it matches the last stored price.
func (m *MemoryStore) Record(_ context.Context, ticker string, ts time.Time, price decimal.Decimal) (RecordResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	points := m.series[ticker]
	if len(points) > 0 {
		last := points[len(points)-1]
		if price.Sub(last.Price).Abs().LessThanOrEqual(m.epsilon) {
			return Unchanged, nil
		}
	}

	m.series[ticker] = append(points, PricePoint{Timestamp: ts, Price: price})
	return Changed, nil
}

// History returns the ordered series for a ticker bounded by since.
func (m *MemoryStore) History(_ context.Context, ticker string, since time.Time) ([]PricePoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	points, known := m.series[ticker]
	if !known {
		if _, hasMeta := m.metadata[ticker]; !hasMeta {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTicker, ticker)
		}
	}

	result := make([]PricePoint, 0, len(points))
	for _, point := range points {
		if !since.IsZero() && point.Timestamp.Before(since) {
			continue
		}
		result = append(result, point)
	}
	return result, nil
}

// LastPrice returns the most recent observation for a ticker.
func (m *MemoryStore) LastPrice(_ context.Context, ticker string) (PricePoint, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	points := m.series[ticker]
	if len(points) == 0 {
		return PricePoint{}, false, nil
	}
	return points[len(points)-1], true, nil
}

// ListSecurities returns the registered universe in registration order.
func (m *MemoryStore) ListSecurities(_ context.Context) ([]Security, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	securities := make([]Security, 0, len(m.order))
	for _, ticker := range m.order {
		securities = append(securities, m.metadata[ticker])
	}
	return securities, nil
}

// GetSecurity returns metadata for one ticker.
func (m *MemoryStore) GetSecurity(_ context.Context, ticker string) (Security, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sec, ok := m.metadata[ticker]
	if !ok {
		return Security{}, fmt.Errorf("%w: %s", ErrUnknownTicker, ticker)
	}
	return sec, nil
}

// SetCompanyName caches a resolved display name for a ticker.
func (m *MemoryStore) SetCompanyName(_ context.Context, ticker, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sec, ok := m.metadata[ticker]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTicker, ticker)
	}
	sec.CompanyName = name
	m.metadata[ticker] = sec
	return nil
}

// LoadStates returns a copy of all notification states.
func (m *MemoryStore) LoadStates(_ context.Context) (map[string]NotificationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := make(map[string]NotificationState, len(m.states))
	for ticker, state := range m.states {
		states[ticker] = state
	}
	return states, nil
}

// SaveState checkpoints the notification state for a ticker.
func (m *MemoryStore) SaveState(_ context.Context, ticker string, state NotificationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[ticker] = state
	return nil
}

// Tickers returns every ticker with at least one stored observation.
func (m *MemoryStore) Tickers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	tickers := make([]string, 0, len(m.series))
	for ticker := range m.series {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)
	return tickers
}

// dropBefore removes observations older than cutoff across all tickers.
func (m *MemoryStore) dropBefore(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	for ticker, points := range m.series {
		idx := sort.Search(len(points), func(i int) bool {
			return !points[i].Timestamp.Before(cutoff)
		})
		if idx > 0 {
			dropped += idx
			m.series[ticker] = append([]PricePoint(nil), points[idx:]...)
		}
	}
	return dropped
}

var (
	_ PriceStore    = (*MemoryStore)(nil)
	_ MetadataStore = (*MemoryStore)(nil)
	_ StateStore    = (*MemoryStore)(nil)
)
