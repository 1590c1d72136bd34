package alerting

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ReferenceRow is one line of the reference-price table attached to a
// notification: how the current price compares to an earlier one.
type ReferenceRow struct {
	Label      string
	Price      decimal.Decimal
	Variation  decimal.Decimal // percent vs the reference price
	Difference decimal.Decimal
}

// NewReferenceRow derives variation and difference from the prices.
func NewReferenceRow(label string, current, reference decimal.Decimal) (ReferenceRow, bool) {
	if reference.Sign() <= 0 || current.Sign() <= 0 {
		return ReferenceRow{}, false
	}
	diff := current.Sub(reference)
	return ReferenceRow{
		Label:      label,
		Price:      reference,
		Variation:  diff.Div(reference).Mul(decimal.NewFromInt(100)),
		Difference: diff,
	}, true
}

// renderCaption builds the HTML caption: company header with broker
// links, then a monospace table of reference prices.
func renderCaption(note Notification) string {
	name := note.CompanyName
	if name == "" {
		name = note.Ticker
	}

	finecoURL := fmt.Sprintf("https://finecobank.com/pvt/trading/snapshot/%s.AFF", note.ISIN)
	borsaURL := fmt.Sprintf("https://www.borsaitaliana.it/borsa/azioni/scheda/%s.html", note.ISIN)

	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf(`%s, €%s (<a href="%s">Fineco</a> | <a href="%s">Borsa IT</a>)`,
		name, formatNumber(note.CurrentPrice), finecoURL, borsaURL))
	builder.WriteString(fmt.Sprintf("\n-%s%% vs max %dd (€%s)",
		note.DiscountRatio.Mul(decimal.NewFromInt(100)).StringFixed(2),
		note.LookbackDays,
		formatNumber(note.ReferenceMax)))

	if len(note.ReferenceRows) > 0 {
		builder.WriteString("\n\n<code>")
		for _, row := range note.ReferenceRows {
			builder.WriteString(fmt.Sprintf("%s: €%s (%s%% %s) %s\n",
				row.Label,
				formatNumber(row.Price),
				signedFixed(row.Variation, 3),
				trendMarker(row.Variation),
				signedFixed(row.Difference, 3)))
		}
		builder.WriteString("</code>")
	}

	return builder.String()
}

// TestCaption is the probe message used by the test-telegram command.
func TestCaption() string {
	return "ISIN Monitor test OK"
}

// formatNumber trims trailing zeros down to at most four decimals.
func formatNumber(value decimal.Decimal) string {
	if value.IsZero() {
		return "0"
	}
	formatted := value.Round(4).StringFixed(4)
	formatted = strings.TrimRight(formatted, "0")
	formatted = strings.TrimRight(formatted, ".")
	return formatted
}

func signedFixed(value decimal.Decimal, places int32) string {
	s := value.StringFixed(places)
	if value.Sign() >= 0 && !strings.HasPrefix(s, "+") {
		return "+" + s
	}
	return s
}

func trendMarker(variation decimal.Decimal) string {
	switch variation.Sign() {
	case 1:
		return "↑"
	case -1:
		return "↓"
	default:
		return "·"
	}
}
