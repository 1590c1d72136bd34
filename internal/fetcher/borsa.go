package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"isin-monitor/internal/storage"
)

const (
	domesticPathFmt = "/borsa/azioni/scheda/%s.html"
	globalPathFmt   = "/borsa/azioni/global-equity-market/scheda/%s.html"
)

var (
	formatPricePattern = regexp.MustCompile(`(?i)-formatPrice[^>]*>\s*<strong[^>]*>([^<]+)</strong>`)
	strongPricePattern = regexp.MustCompile(`<strong[^>]*>([0-9]+[,\.][0-9]+)</strong>`)

	companyNamePattern    = regexp.MustCompile(`(?i)<h1[^>]*class="[^"]*t-text[^"]*-flola-bold[^"]*-size-xlg[^"]*-inherit[^"]*"[^>]*>\s*<a[^>]*>([^<]+)</a>\s*</h1>`)
	companyNameAltPattern = regexp.MustCompile(`(?i)class="[^"]*t-text[^"]*-flola-bold[^"]*-size-xlg[^"]*-inherit[^"]*"[^>]*>([^<]+)<`)
	pageTitlePattern      = regexp.MustCompile(`(?i)<title>Azioni\s+([^:]+):\s*quotazioni`)

	nonNumericPattern = regexp.MustCompile(`[^\d,.]`)

	// Plausibility bounds for scraped prices.
	minPrice = decimal.NewFromFloat(0.001)
	maxPrice = decimal.NewFromInt(100000)
)

// BorsaOptions parameterise the Borsa Italiana scraper.
type BorsaOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Borsa fetches quotes from the Borsa Italiana listing pages. The site
// exposes no quote API; price and company name are extracted from the
// HTML of the security detail page, trying the domestic market first
// and the global equity market as fallback.
type Borsa struct {
	opts    BorsaOptions
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// NewBorsa constructs a Borsa Italiana fetcher.
func NewBorsa(opts BorsaOptions, logger zerolog.Logger) *Borsa {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://www.borsaitaliana.it"
	}

	return &Borsa{
		opts:    opts,
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		logger:  logger.With().Str("component", "borsa_fetcher").Logger(),
	}
}

// Fetch retrieves the current price and company name for a security.
func (b *Borsa) Fetch(ctx context.Context, sec storage.Security) (Quote, error) {
	if sec.ISIN == "" {
		return Quote{}, fmt.Errorf("security %s has no ISIN", sec.Ticker)
	}

	paths := []string{
		fmt.Sprintf(domesticPathFmt, sec.ISIN),
		fmt.Sprintf(globalPathFmt, sec.ISIN),
	}

	var lastErr error
	for _, path := range paths {
		quote, err := b.fetchPage(ctx, b.baseURL+path)
		if err == nil {
			b.logger.Debug().Str("ticker", sec.Ticker).Str("price", quote.Price.String()).Msg("quote extracted")
			return quote, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return Quote{}, ctx.Err()
		}
	}

	return Quote{}, fmt.Errorf("fetch %s (%s): %w", sec.Ticker, sec.ISIN, lastErr)
}

func (b *Borsa) fetchPage(ctx context.Context, url string) (Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("create request: %w", err)
	}
	if ua := strings.TrimSpace(b.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("request listing page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("listing page status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Quote{}, fmt.Errorf("read listing page: %w", err)
	}
	html := string(body)

	price, ok := extractPrice(html)
	if !ok {
		return Quote{}, ErrPriceNotFound
	}

	return Quote{
		Price:       price,
		CompanyName: extractCompanyName(html),
		ObservedAt:  time.Now(),
	}, nil
}

func extractPrice(html string) (decimal.Decimal, bool) {
	if match := formatPricePattern.FindStringSubmatch(html); match != nil {
		if price, ok := parsePriceString(match[1]); ok {
			return price, true
		}
	}

	// Fallback: any bold numeric cell with a plausible price.
	for _, match := range strongPricePattern.FindAllStringSubmatch(html, -1) {
		if price, ok := parsePriceString(match[1]); ok {
			return price, true
		}
	}

	return decimal.Decimal{}, false
}

func extractCompanyName(html string) string {
	for _, pattern := range []*regexp.Regexp{companyNamePattern, companyNameAltPattern, pageTitlePattern} {
		if match := pattern.FindStringSubmatch(html); match != nil {
			name := strings.TrimSpace(match[1])
			if len(name) > 2 {
				return name
			}
		}
	}
	return ""
}

// parsePriceString converts a price in Italian ("1.234,56") or US
// ("1,234.56") notation into a decimal, rejecting implausible values.
func parsePriceString(raw string) (decimal.Decimal, bool) {
	cleaned := nonNumericPattern.ReplaceAllString(strings.TrimSpace(raw), "")
	if cleaned == "" {
		return decimal.Decimal{}, false
	}

	hasComma := strings.Contains(cleaned, ",")
	hasDot := strings.Contains(cleaned, ".")
	switch {
	case hasComma && !hasDot:
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	case hasComma && hasDot:
		if strings.LastIndex(cleaned, ",") > strings.LastIndex(cleaned, ".") {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.ReplaceAll(cleaned, ",", ".")
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	}

	price, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, false
	}
	if price.LessThan(minPrice) || price.GreaterThan(maxPrice) {
		return decimal.Decimal{}, false
	}
	return price, true
}

var _ PriceFetcher = (*Borsa)(nil)
