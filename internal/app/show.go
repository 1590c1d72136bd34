package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"isin-monitor/internal/evaluator"
)

// Show prints the latest observation and discount metrics per ticker.
func (a *App) Show(ctx context.Context) error {
	st, closeStores, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer closeStores()

	securities, err := st.meta.ListSecurities(ctx)
	if err != nil {
		return err
	}
	if len(securities) == 0 {
		fmt.Fprintln(os.Stdout, "no securities configured")
		return nil
	}

	lookbacks := a.Config.Monitoring.PriceComparisonDays
	now := time.Now()

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	header := "Ticker\tCompany\tTarget%\tLast\tUpdated"
	for _, days := range lookbacks {
		header += fmt.Sprintf("\tMax%dd\tDisc%dd%%", days, days)
	}
	fmt.Fprintln(writer, header)

	for _, sec := range securities {
		last, found, err := st.prices.LastPrice(ctx, sec.Ticker)
		if err != nil {
			return err
		}
		if !found {
			fmt.Fprintf(writer, "%s\t%s\t%s\t-\t-\n", sec.Ticker, sec.DisplayName(), percent(sec.TargetDiscount))
			continue
		}

		row := fmt.Sprintf("%s\t%s\t%s\t%s\t%s",
			sec.Ticker,
			sec.DisplayName(),
			percent(sec.TargetDiscount),
			last.Price.StringFixed(4),
			last.Timestamp.Format("2006-01-02 15:04"),
		)

		history, err := st.prices.History(ctx, sec.Ticker, time.Time{})
		if err != nil {
			return err
		}
		snapshots := evaluator.Evaluate(sec.Ticker, history, lookbacks, now)
		byDays := make(map[int]evaluator.Snapshot, len(snapshots))
		for _, snap := range snapshots {
			byDays[snap.LookbackDays] = snap
		}
		for _, days := range lookbacks {
			if snap, ok := byDays[days]; ok {
				row += fmt.Sprintf("\t%s\t%s", snap.ReferenceMax.StringFixed(4), percent(snap.DiscountRatio))
			} else {
				row += "\t-\t-"
			}
		}

		fmt.Fprintln(writer, row)
	}

	return writer.Flush()
}
