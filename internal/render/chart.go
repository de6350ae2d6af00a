package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/SeanSwan/reportflow/internal/models"
)

// ErrNoChartData marks a capture attempted before any incident counter was
// recorded. It is a transient condition: the pipeline retries on the next
// qualifying change.
var ErrNoChartData = errors.New("no incident counts to chart")

// ChartRenderer rasterizes the weekly incident bar chart from the metrics
// counters, styled by the theme.
type ChartRenderer struct {
	Width  int
	Height int
}

// NewChartRenderer returns a renderer at the preview's native chart size.
func NewChartRenderer() *ChartRenderer {
	return &ChartRenderer{Width: 640, Height: 320}
}

// Render draws one bar per incident category, summed across the week.
func (r *ChartRenderer) Render(ctx context.Context, doc models.Document) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	accent := drawingColor(doc.Theme.Color("accent", DefaultAccent), DefaultAccent)
	background := drawingColor(doc.Theme.Color("background", DefaultBackground), DefaultBackground)
	text := drawingColor(doc.Theme.Color("text", DefaultText), DefaultText)

	bars := make([]chart.Value, 0, 6)
	maxCount := 0
	for _, cat := range models.Categories() {
		total := doc.Metrics.CategoryTotal(cat)
		if total > maxCount {
			maxCount = total
		}
		bars = append(bars, chart.Value{
			Label: categoryLabel(cat),
			Value: float64(total),
			Style: chart.Style{FillColor: accent, StrokeColor: accent},
		})
	}
	if maxCount == 0 {
		return nil, ErrNoChartData
	}

	bc := chart.BarChart{
		Title:    "Weekly Incident Summary",
		Width:    r.Width,
		Height:   r.Height,
		BarWidth: 56,
		Background: chart.Style{
			FillColor: background,
			Padding:   chart.Box{Top: 44, Left: 12, Right: 12, Bottom: 12},
		},
		Canvas: chart.Style{FillColor: background},
		XAxis:  chart.Style{FontSize: 9, FontColor: text},
		YAxis: chart.YAxis{
			Style: chart.Style{FontColor: text},
			Range: &chart.ContinuousRange{Min: 0, Max: float64(maxCount)*1.15 + 1},
		},
		Bars: bars,
	}

	var buf bytes.Buffer
	if err := bc.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("failed to render incident chart: %w", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode chart png: %w", err)
	}
	return toRGBA(img), nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}
