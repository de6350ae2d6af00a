package export

import (
	"fmt"
	"math"
)

// PaperForm names a supported page size.
type PaperForm string

const (
	FormA4     PaperForm = "A4"
	FormLetter PaperForm = "Letter"
)

const (
	// DefaultDPI is the raster density used when slicing pixels onto
	// point-sized pages.
	DefaultDPI = 150.0
	// DefaultMarginPt is half an inch on every edge.
	DefaultMarginPt = 36.0
)

// PageGeometry fixes the page dimensions an export is sliced against.
// Dimensions are PDF points (1/72 inch); pixel equivalents are derived at
// the configured DPI.
type PageGeometry struct {
	Form     PaperForm
	WidthPt  float64
	HeightPt float64
	MarginPt float64
	DPI      float64
}

// NewGeometry returns the named paper form with default margins at dpi.
// dpi <= 0 selects DefaultDPI.
func NewGeometry(form PaperForm, dpi float64) (PageGeometry, error) {
	g := PageGeometry{Form: form, MarginPt: DefaultMarginPt, DPI: dpi}
	if g.DPI <= 0 {
		g.DPI = DefaultDPI
	}
	switch form {
	case FormA4:
		g.WidthPt, g.HeightPt = 595.28, 841.89
	case FormLetter:
		g.WidthPt, g.HeightPt = 612, 792
	default:
		return PageGeometry{}, fmt.Errorf("unknown paper form %q", form)
	}
	return g, nil
}

// ContentWidthPt is the printable width between the margins.
func (g PageGeometry) ContentWidthPt() float64 { return g.WidthPt - 2*g.MarginPt }

// ContentHeightPt is the printable height between the margins.
func (g PageGeometry) ContentHeightPt() float64 { return g.HeightPt - 2*g.MarginPt }

// ContentWidthPx is the printable width in pixels at the geometry's DPI.
// Renderers should produce rasters of exactly this width so pages place
// pixels one-to-one, without stretching.
func (g PageGeometry) ContentWidthPx() int {
	return int(math.Round(g.ContentWidthPt() * g.DPI / 72))
}

// ContentHeightPx is the page content height in pixels, the slice height
// pagination cuts the source raster into.
func (g PageGeometry) ContentHeightPx() int {
	return int(math.Round(g.ContentHeightPt() * g.DPI / 72))
}

// PxToPt converts a pixel length at the geometry's DPI back to points.
func (g PageGeometry) PxToPt(px int) float64 {
	return float64(px) * 72 / g.DPI
}

// Validate rejects degenerate geometry.
func (g PageGeometry) Validate() error {
	if g.WidthPt <= 0 || g.HeightPt <= 0 {
		return fmt.Errorf("page dimensions must be positive, got %gx%g pt", g.WidthPt, g.HeightPt)
	}
	if g.DPI <= 0 {
		return fmt.Errorf("dpi must be positive, got %g", g.DPI)
	}
	if g.MarginPt < 0 || 2*g.MarginPt >= g.WidthPt || 2*g.MarginPt >= g.HeightPt {
		return fmt.Errorf("margin %gpt leaves no printable area on a %gx%gpt page",
			g.MarginPt, g.WidthPt, g.HeightPt)
	}
	return nil
}
