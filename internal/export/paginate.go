package export

import (
	"errors"
	"fmt"
	"image"
)

// ErrZeroHeightRaster marks an export attempted against an empty source
// raster. This is a contract violation by the caller, not a runtime
// condition: the pipeline never hands over an empty READY raster.
var ErrZeroHeightRaster = errors.New("source raster has no pixels to paginate")

// ExportedDocument is a source raster cut into page-content slices.
type ExportedDocument struct {
	Geometry     PageGeometry
	Pages        []*image.RGBA
	SourceWidth  int
	SourceHeight int
}

// PageCount returns the number of pages the source was cut into.
func (d *ExportedDocument) PageCount() int { return len(d.Pages) }

// Paginate cuts src into ceil(height / contentHeight) vertical slices. Page
// boundaries are contiguous: page i holds the source rows starting at
// i*contentHeight, and the final page carries whatever remains, leaving its
// trailing area blank on the assembled page. A source shorter than one page
// yields exactly one page.
func Paginate(src *image.RGBA, geo PageGeometry) (*ExportedDocument, error) {
	if err := geo.Validate(); err != nil {
		return nil, fmt.Errorf("invalid page geometry: %w", err)
	}
	if src == nil {
		return nil, ErrZeroHeightRaster
	}
	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, ErrZeroHeightRaster
	}

	sliceH := geo.ContentHeightPx()
	pageCount := (height + sliceH - 1) / sliceH

	pages := make([]*image.RGBA, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		top := bounds.Min.Y + i*sliceH
		bottom := top + sliceH
		if limit := bounds.Min.Y + height; bottom > limit {
			bottom = limit
		}
		rect := image.Rect(bounds.Min.X, top, bounds.Min.X+width, bottom)
		page, ok := src.SubImage(rect).(*image.RGBA)
		if !ok {
			return nil, fmt.Errorf("page %d: subimage is not RGBA", i)
		}
		pages = append(pages, page)
	}

	return &ExportedDocument{
		Geometry:     geo,
		Pages:        pages,
		SourceWidth:  width,
		SourceHeight: height,
	}, nil
}
