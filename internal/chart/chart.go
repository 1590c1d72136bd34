// Package chart renders notification and export charts with go-chart.
package chart

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"isin-monitor/internal/evaluator"
	"isin-monitor/internal/storage"
)

var hundred = decimal.NewFromInt(100)

// ErrNotEnoughPoints indicates the series is too short to plot.
var ErrNotEnoughPoints = errors.New("chart: need at least two points")

// Renderer builds PNG charts for a ticker's price series.
type Renderer struct {
	width  int
	height int
}

// NewRenderer constructs a Renderer with default dimensions.
func NewRenderer() *Renderer {
	return &Renderer{width: 1280, height: 720}
}

// RenderEvent plots the series behind a firing snapshot: the recorded
// prices over the winning lookback window with the reference maximum
// drawn as a flat line.
func (r *Renderer) RenderEvent(sec storage.Security, points []storage.PricePoint, snap evaluator.Snapshot) ([]byte, error) {
	cutoff := time.Now().AddDate(0, 0, -snap.LookbackDays)
	windowed := make([]storage.PricePoint, 0, len(points))
	for _, point := range points {
		if point.Timestamp.Before(cutoff) {
			continue
		}
		windowed = append(windowed, point)
	}
	if len(windowed) < 2 {
		windowed = points
	}
	if len(windowed) < 2 {
		return nil, ErrNotEnoughPoints
	}

	x := make([]time.Time, len(windowed))
	y := make([]float64, len(windowed))
	maxLine := make([]float64, len(windowed))
	refMax := snap.ReferenceMax.InexactFloat64()
	for i, point := range windowed {
		x[i] = point.Timestamp
		y[i] = point.Price.InexactFloat64()
		maxLine[i] = refMax
	}

	title := fmt.Sprintf("%s - €%s (-%s%% vs max %dd)",
		sec.DisplayName(),
		snap.CurrentPrice.String(),
		snap.DiscountRatio.Mul(hundred).StringFixed(2),
		snap.LookbackDays)

	graph := r.baseChart(title)
	graph.Series = []chart.Series{
		chart.TimeSeries{
			Name:    "Price",
			XValues: x,
			YValues: y,
		},
		chart.TimeSeries{
			Name:    fmt.Sprintf("Max %dd", snap.LookbackDays),
			XValues: x,
			YValues: maxLine,
			Style: chart.Style{
				StrokeColor:     drawing.ColorRed,
				StrokeDashArray: []float64{5.0, 5.0},
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return renderPNG(graph)
}

// RenderSeries plots a plain price series, used by the export command.
func (r *Renderer) RenderSeries(title string, points []storage.PricePoint) ([]byte, error) {
	if len(points) < 2 {
		return nil, ErrNotEnoughPoints
	}

	x := make([]time.Time, len(points))
	y := make([]float64, len(points))
	for i, point := range points {
		x[i] = point.Timestamp
		y[i] = point.Price.InexactFloat64()
	}

	graph := r.baseChart(title)
	graph.Series = []chart.Series{
		chart.TimeSeries{
			Name:    "Price",
			XValues: x,
			YValues: y,
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return renderPNG(graph)
}

func (r *Renderer) baseChart(title string) chart.Chart {
	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	return chart.Chart{
		Title:  title,
		Width:  r.width,
		Height: r.height,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (EUR)",
			ValueFormatter: priceFormatter,
		},
	}
}

func renderPNG(graph chart.Chart) ([]byte, error) {
	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render chart: %w", err)
	}
	return buf.Bytes(), nil
}
