package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"isin-monitor/internal/storage"
)

const listingPage = `
<html>
<head><title>Azioni Eni: quotazioni in tempo reale | IT0003132476</title></head>
<body>
<h1 class="t-text -flola-bold -size-xlg -inherit"><a href="/x">Eni</a></h1>
<span class="t-text -formatPrice"><strong>13,505</strong></span>
</body>
</html>`

func TestFetchExtractsQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "IT0003132476") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(listingPage))
	}))
	defer srv.Close()

	borsa := NewBorsa(BorsaOptions{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())

	quote, err := borsa.Fetch(context.Background(), storage.Security{Ticker: "ENI.MI", ISIN: "IT0003132476"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !quote.Price.Equal(decimal.RequireFromString("13.505")) {
		t.Fatalf("expected price 13.505, got %s", quote.Price)
	}
	if quote.CompanyName != "Eni" {
		t.Fatalf("expected company Eni, got %q", quote.CompanyName)
	}
}

func TestFetchFallsBackToGlobalMarket(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if !strings.Contains(r.URL.Path, "global-equity-market") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(listingPage))
	}))
	defer srv.Close()

	borsa := NewBorsa(BorsaOptions{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())

	quote, err := borsa.Fetch(context.Background(), storage.Security{Ticker: "AAPL", ISIN: "US0378331005"})
	if err != nil {
		t.Fatalf("fetch via fallback: %v", err)
	}
	if quote.Price.IsZero() {
		t.Fatal("fallback quote has no price")
	}
	if len(paths) != 2 {
		t.Fatalf("expected domestic then global request, got %v", paths)
	}
}

func TestFetchRequiresISIN(t *testing.T) {
	borsa := NewBorsa(BorsaOptions{BaseURL: "http://unused", Timeout: time.Second}, zerolog.Nop())

	_, err := borsa.Fetch(context.Background(), storage.Security{Ticker: "ENI.MI"})
	if err == nil || !strings.Contains(err.Error(), "no ISIN") {
		t.Fatalf("expected a missing-ISIN error, got %v", err)
	}
}

func TestFetchPriceNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>no quote here</body></html>"))
	}))
	defer srv.Close()

	borsa := NewBorsa(BorsaOptions{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())

	_, err := borsa.Fetch(context.Background(), storage.Security{Ticker: "ENI.MI", ISIN: "IT0003132476"})
	if !errors.Is(err, ErrPriceNotFound) {
		t.Fatalf("expected ErrPriceNotFound, got %v", err)
	}
}

func TestFetchSetsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(listingPage))
	}))
	defer srv.Close()

	borsa := NewBorsa(BorsaOptions{BaseURL: srv.URL, Timeout: time.Second, UserAgent: "isin-monitor/1.0"}, zerolog.Nop())

	if _, err := borsa.Fetch(context.Background(), storage.Security{Ticker: "ENI.MI", ISIN: "IT0003132476"}); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotUA != "isin-monitor/1.0" {
		t.Fatalf("expected configured user agent, got %q", gotUA)
	}
}

func TestParsePriceString(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"13,505", "13.505", true},
		{"1.234,56", "1234.56", true},
		{"1,234.56", "1234.56", true},
		{"13.505", "13.505", true},
		{" 2,41 ", "2.41", true},
		{"€ 13,50", "13.5", true},
		{"0.0001", "", false}, // below plausibility floor
		{"9999999", "", false},
		{"n/a", "", false},
		{"", "", false},
	}

	for _, tc := range cases {
		got, ok := parsePriceString(tc.raw)
		if ok != tc.ok {
			t.Fatalf("parsePriceString(%q): ok=%v, want %v", tc.raw, ok, tc.ok)
		}
		if ok && !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("parsePriceString(%q) = %s, want %s", tc.raw, got, tc.want)
		}
	}
}

func TestExtractCompanyNameFallsBackToTitle(t *testing.T) {
	html := `<html><head><title>Azioni Intesa Sanpaolo: quotazioni in tempo reale</title></head><body></body></html>`
	if name := extractCompanyName(html); name != "Intesa Sanpaolo" {
		t.Fatalf("expected title fallback, got %q", name)
	}
	if name := extractCompanyName("<html></html>"); name != "" {
		t.Fatalf("expected empty name, got %q", name)
	}
}
