package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"isin-monitor/internal/storage"
)

// ErrPriceNotFound indicates the upstream page yielded no usable price.
var ErrPriceNotFound = errors.New("fetcher: price not found")

// Quote is one fresh observation from the market-data source.
type Quote struct {
	Price       decimal.Decimal
	CompanyName string
	ObservedAt  time.Time
}

// PriceFetcher retrieves the current quote for a security.
type PriceFetcher interface {
	Fetch(ctx context.Context, sec storage.Security) (Quote, error)
}
