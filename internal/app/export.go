package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"isin-monitor/internal/chart"
	"isin-monitor/internal/storage"
)

// Export renders one ticker's history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.Ticker == "" {
		return errors.New("--ticker must be provided")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	st, closeStores, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer closeStores()

	sec, err := st.meta.GetSecurity(ctx, opts.Ticker)
	if err != nil {
		return err
	}

	since := time.Time{}
	if opts.From != nil {
		since = *opts.From
	}

	points, err := st.prices.History(ctx, sec.Ticker, since)
	if err != nil {
		return err
	}
	if opts.To != nil {
		bounded := points[:0:0]
		for _, point := range points {
			if point.Timestamp.After(*opts.To) {
				continue
			}
			bounded = append(bounded, point)
		}
		points = bounded
	}
	if len(points) == 0 {
		a.Logger.Info().Str("ticker", sec.Ticker).Msg("no observations in export window")
		return nil
	}

	downsampled := downsamplePoints(points, opts.MaxPoints)
	a.Logger.Info().Int("total", len(points)).Int("exported", len(downsampled)).
		Str("ticker", sec.Ticker).Msg("exporting history")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, sec.Ticker, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		title := fmt.Sprintf("%s price history", sec.DisplayName())
		rendered, err := chart.NewRenderer().RenderSeries(title, downsampled)
		if err != nil {
			return err
		}
		if err := writeFile(opts.PNGPath, rendered); err != nil {
			return err
		}
	}

	return nil
}

func downsamplePoints(points []storage.PricePoint, max int) []storage.PricePoint {
	if max <= 0 || len(points) <= max {
		return points
	}

	result := make([]storage.PricePoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writeHistoryCSV(path, ticker string, points []storage.PricePoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"timestamp", "ticker", "price"}); err != nil {
		return err
	}
	for _, point := range points {
		record := []string{
			point.Timestamp.Format(time.RFC3339),
			ticker,
			point.Price.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeFile(path string, data []byte) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func percent(ratio decimal.Decimal) string {
	return ratio.Mul(decimal.NewFromInt(100)).StringFixed(2)
}
