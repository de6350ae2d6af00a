package render

import (
	"context"
	"fmt"
	"image"
	"math"
	"strings"
	"sync"

	"github.com/fogleman/gg"

	"github.com/SeanSwan/reportflow/internal/models"
)

// DefaultPreviewWidth is the raster width in pixels, sized for an A4 page
// at 150 DPI.
const DefaultPreviewWidth = 1240

const (
	previewMargin = 56.0
	lineHeight    = 18.0
	sectionGap    = 30.0
	headerBandH   = 110.0
	overlayBandH  = 42.0
	mediaCellW    = 256.0
	mediaCellH    = 160.0
	mediaGap      = 18.0
	minPreviewH   = 480
)

// PreviewRenderer composes the full report preview as a single tall raster.
// It renders in two passes over the same layout: a measuring pass to learn
// the total height, then a paint pass onto a canvas of exactly that height.
// The bitmap face bundled with gg keeps the renderer free of font assets.
type PreviewRenderer struct {
	Width int

	mu             sync.Mutex
	overlaysHidden bool
}

// NewPreviewRenderer returns a renderer at the default page width.
func NewPreviewRenderer() *PreviewRenderer {
	return &PreviewRenderer{Width: DefaultPreviewWidth}
}

// WithOverlaysHidden runs fn with the screen-only overlays suppressed, then
// restores the previous setting, also when fn fails. The export path uses
// this so draft banners never reach a delivered document.
func (r *PreviewRenderer) WithOverlaysHidden(fn func() error) error {
	r.mu.Lock()
	prev := r.overlaysHidden
	r.overlaysHidden = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.overlaysHidden = prev
		r.mu.Unlock()
	}()
	return fn()
}

// Render lays out the document and returns the finished raster. A nil
// chartRaster leaves the chart slot out; a nil client renders a placeholder
// header so the preview stays usable from the very first stage.
func (r *PreviewRenderer) Render(ctx context.Context, doc models.Document, chartRaster image.Image) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	showOverlay := !r.overlaysHidden
	r.mu.Unlock()

	width := r.Width
	if width <= 0 {
		width = DefaultPreviewWidth
	}

	measure := gg.NewContext(width, 1)
	height := int(math.Ceil(r.compose(measure, doc, chartRaster, showOverlay, false)))
	if height < minPreviewH {
		height = minPreviewH
	}

	dc := gg.NewContext(width, height)
	dc.SetHexColor(doc.Theme.Color("background", DefaultBackground))
	dc.Clear()
	r.compose(dc, doc, chartRaster, showOverlay, true)
	return toRGBA(dc.Image()), nil
}

// compose walks the layout top to bottom and returns the final height in
// pixels. When paint is false no pixel is touched; both passes must take
// identical measurements, so every draw call sits behind the paint guard
// while every cursor advance does not.
func (r *PreviewRenderer) compose(dc *gg.Context, doc models.Document, chartRaster image.Image, showOverlay, paint bool) float64 {
	width := float64(dc.Width())
	contentW := width - 2*previewMargin
	y := 0.0

	primary := drawingColor(doc.Theme.Color("primary", DefaultPrimary), DefaultPrimary)
	accent := drawingColor(doc.Theme.Color("accent", DefaultAccent), DefaultAccent)
	textHex := doc.Theme.Color("text", DefaultText)
	alpha := int(doc.Theme.Opacity(1.0) * 255)

	// Header band.
	if paint {
		dc.SetRGBA255(int(primary.R), int(primary.G), int(primary.B), alpha)
		dc.DrawRectangle(0, 0, width, headerBandH)
		dc.Fill()
		dc.SetHexColor("#ffffff")
		name := "No client selected"
		site := ""
		if doc.Client != nil {
			name = doc.Client.Name
			site = doc.Client.SiteName
		}
		dc.DrawString("WEEKLY SECURITY REPORT", previewMargin, 32)
		dc.DrawString(name, previewMargin, 56)
		if site != "" {
			dc.DrawString(site, previewMargin, 76)
		}
		if !doc.DateRange.IsZero() {
			span := doc.DateRange.Start.Format("Jan 2, 2006") + " to " + doc.DateRange.End.Format("Jan 2, 2006")
			dc.DrawString(span, previewMargin, 96)
		}
		if letterhead := doc.Theme.Header(); letterhead != "" {
			dc.DrawStringAnchored("Letterhead: "+baseName(letterhead), width-previewMargin, 96, 1, 0)
		}
	}
	y += headerBandH

	if showOverlay {
		if paint {
			dc.SetRGBA255(int(accent.R), int(accent.G), int(accent.B), 255)
			dc.DrawRectangle(0, y, width, overlayBandH)
			dc.Fill()
			dc.SetHexColor("#ffffff")
			dc.DrawStringAnchored("PREVIEW - NOT FOR DISTRIBUTION", width/2, y+overlayBandH/2, 0.5, 0.35)
		}
		y += overlayBandH
	}
	y += sectionGap

	// Fleet summary.
	if doc.Metrics.CameraTotal() > 0 {
		if paint {
			dc.SetHexColor(textHex)
			line := fmt.Sprintf("Cameras online: %d of %d", doc.Metrics.OnlineTotal(), doc.Metrics.CameraTotal())
			dc.DrawString(line, previewMargin, y+13)
		}
		y += lineHeight + sectionGap/2
	}

	// Incident chart.
	if chartRaster != nil {
		h := float64(chartRaster.Bounds().Dy())
		if paint {
			dc.DrawImageAnchored(chartRaster, int(width/2), int(y+h/2), 0.5, 0.5)
		}
		y += h + sectionGap
	}

	// Daily activity.
	y = r.sectionTitle(dc, "Daily Activity", y, textHex, paint)
	entries := doc.DailyEntries.Normalize()
	for _, key := range models.WeekdayKeys() {
		entry := entries[key]
		heading := titleCase(key)
		if entry.Status != models.DayStatusNormal {
			heading += "  [" + strings.ToUpper(string(entry.Status)) + "]"
		}
		if paint {
			if entry.Status == models.DayStatusIncident {
				dc.SetRGBA255(int(accent.R), int(accent.G), int(accent.B), 255)
			} else {
				dc.SetHexColor(textHex)
			}
			dc.DrawString(heading, previewMargin, y+13)
		}
		y += lineHeight

		summary := entry.Summary
		if summary == "" {
			summary = "No activity recorded."
		}
		for _, line := range dc.WordWrap(summary, contentW) {
			if paint {
				dc.SetHexColor(textHex)
				dc.DrawString(line, previewMargin+16, y+13)
			}
			y += lineHeight
		}
		if entry.Status == models.DayStatusIncident {
			if paint {
				dc.SetHexColor(textHex)
				dc.DrawString("Severity: "+string(entry.Severity), previewMargin+16, y+13)
			}
			y += lineHeight
		}
		y += 10
	}
	y += sectionGap / 2

	// Operator notes.
	if doc.Notes != "" {
		y = r.sectionTitle(dc, "Operator Notes", y, textHex, paint)
		for _, line := range dc.WordWrap(doc.Notes, contentW) {
			if paint {
				dc.SetHexColor(textHex)
				dc.DrawString(line, previewMargin, y+13)
			}
			y += lineHeight
		}
		y += sectionGap / 2
	}

	// Media attachments.
	if len(doc.MediaSet) > 0 {
		y = r.sectionTitle(dc, "Media Attachments", y, textHex, paint)
		cols := int((contentW + mediaGap) / (mediaCellW + mediaGap))
		if cols < 1 {
			cols = 1
		}
		for i, item := range doc.MediaSet {
			col := i % cols
			row := i / cols
			x := previewMargin + float64(col)*(mediaCellW+mediaGap)
			cy := y + float64(row)*(mediaCellH+mediaGap)
			if paint {
				dc.SetRGBA255(235, 235, 235, 255)
				dc.DrawRectangle(x, cy, mediaCellW, mediaCellH)
				dc.Fill()
				dc.SetHexColor(textHex)
				dc.SetLineWidth(1)
				dc.DrawRectangle(x, cy, mediaCellW, mediaCellH)
				dc.Stroke()
				dc.DrawString(strings.ToUpper(string(item.Kind)), x+10, cy+22)
				caption := item.Caption
				if caption == "" {
					caption = baseName(item.ObjectURI)
				}
				lines := dc.WordWrap(caption, mediaCellW-20)
				if len(lines) > 2 {
					lines = lines[:2]
				}
				for j, line := range lines {
					dc.DrawString(line, x+10, cy+mediaCellH-28+float64(j)*lineHeight)
				}
			}
		}
		rows := (len(doc.MediaSet) + cols - 1) / cols
		y += float64(rows)*(mediaCellH+mediaGap) + sectionGap/2
	}

	// Footer.
	if paint {
		dc.SetRGBA255(int(accent.R), int(accent.G), int(accent.B), 255)
		dc.SetLineWidth(2)
		dc.DrawLine(previewMargin, y, width-previewMargin, y)
		dc.Stroke()
	}
	y += 14
	if doc.Signature != "" {
		if paint {
			dc.SetHexColor(textHex)
			dc.DrawString("Prepared by: "+doc.Signature, previewMargin, y+13)
		}
		y += lineHeight
	}
	if doc.ContactChannel.Value != "" {
		if paint {
			dc.SetHexColor(textHex)
			line := "Contact: " + doc.ContactChannel.Value
			if doc.ContactChannel.Kind != "" {
				line += " (" + string(doc.ContactChannel.Kind) + ")"
			}
			dc.DrawString(line, previewMargin, y+13)
		}
		y += lineHeight
	}

	return y + previewMargin
}

func (r *PreviewRenderer) sectionTitle(dc *gg.Context, title string, y float64, textHex string, paint bool) float64 {
	if paint {
		dc.SetHexColor(textHex)
		dc.DrawString(strings.ToUpper(title), previewMargin, y+13)
	}
	return y + lineHeight + 8
}

func titleCase(k string) string {
	if k == "" {
		return k
	}
	return strings.ToUpper(k[:1]) + k[1:]
}

func baseName(uri string) string {
	if i := strings.LastIndexByte(uri, '/'); i >= 0 {
		return uri[i+1:]
	}
	return uri
}
