package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint is one stored observation for a ticker.
type PricePoint struct {
	Timestamp time.Time
	Price     decimal.Decimal
}

// Security describes one monitored listing. Immutable after load,
// except for CompanyName which may be filled in lazily from quotes.
type Security struct {
	Ticker         string
	ISIN           string
	CompanyName    string
	TargetDiscount decimal.Decimal
}

// DisplayName returns the company name, falling back to the ticker.
func (s Security) DisplayName() string {
	if s.CompanyName != "" {
		return s.CompanyName
	}
	return s.Ticker
}

// NotificationState records the last notification emitted for a ticker.
type NotificationState struct {
	LastBucket     int64
	LastNotifiedAt time.Time
}

// RecordResult reports whether Record appended a new observation.
type RecordResult int

const (
	// Unchanged means the observation matched the last stored price and was skipped.
	Unchanged RecordResult = iota
	// Changed means a new observation was appended.
	Changed
)

func (r RecordResult) String() string {
	if r == Changed {
		return "changed"
	}
	return "unchanged"
}
