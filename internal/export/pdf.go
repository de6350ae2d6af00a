package export

import (
	"bytes"
	"fmt"
	"image/png"
	"os"
	"path/filepath"

	"github.com/go-pdf/fpdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// AssemblePDF places every page slice at the margin box of a page-sized
// canvas and returns the optimized PDF bytes. Slices keep their pixel
// dimensions converted to points at the geometry's DPI, so nothing is
// stretched and the final page's trailing area stays blank.
func AssemblePDF(doc *ExportedDocument, title string) ([]byte, error) {
	if doc == nil || len(doc.Pages) == 0 {
		return nil, ErrZeroHeightRaster
	}
	geo := doc.Geometry
	if doc.SourceWidth > geo.ContentWidthPx() {
		return nil, fmt.Errorf("raster is %dpx wide but the content box fits %dpx at %g dpi",
			doc.SourceWidth, geo.ContentWidthPx(), geo.DPI)
	}

	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           fpdf.SizeType{Wd: geo.WidthPt, Ht: geo.HeightPt},
	})
	pdf.SetTitle(title, true)
	pdf.SetAutoPageBreak(false, 0)

	for i, page := range doc.Pages {
		var buf bytes.Buffer
		if err := png.Encode(&buf, page); err != nil {
			return nil, fmt.Errorf("failed to encode page %d: %w", i+1, err)
		}
		name := fmt.Sprintf("page-%d", i+1)
		opts := fpdf.ImageOptions{ImageType: "PNG"}
		pdf.RegisterImageOptionsReader(name, opts, &buf)
		pdf.AddPage()
		b := page.Bounds()
		pdf.ImageOptions(name, geo.MarginPt, geo.MarginPt,
			geo.PxToPt(b.Dx()), geo.PxToPt(b.Dy()), false, opts, 0, "")
	}
	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("pdf assembly failed: %w", err)
	}

	var raw bytes.Buffer
	if err := pdf.Output(&raw); err != nil {
		return nil, fmt.Errorf("failed to serialize pdf: %w", err)
	}
	return optimizePDF(raw.Bytes(), len(doc.Pages))
}

// optimizePDF round-trips the assembled bytes through pdfcpu with relaxed
// validation and verifies the page count survived assembly.
func optimizePDF(raw []byte, wantPages int) ([]byte, error) {
	tempDir, err := os.MkdirTemp("", "report-export-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	rawPath := filepath.Join(tempDir, "assembled.pdf")
	optimizedPath := filepath.Join(tempDir, "optimized.pdf")
	if err := os.WriteFile(rawPath, raw, 0o644); err != nil {
		return nil, fmt.Errorf("failed to stage pdf for optimization: %w", err)
	}

	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.OptimizeFile(rawPath, optimizedPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to validate/optimize pdf: %w", err)
	}

	pageCount, err := api.PageCountFile(optimizedPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}
	if pageCount != wantPages {
		return nil, fmt.Errorf("assembled pdf has %d pages, expected %d", pageCount, wantPages)
	}

	out, err := os.ReadFile(optimizedPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read optimized pdf: %w", err)
	}
	return out, nil
}

// SplitIntoPages cuts an assembled PDF into single-page documents, in page
// order. Per-page delivery uploads use it.
func SplitIntoPages(pdfBytes []byte) ([][]byte, error) {
	tempDir, err := os.MkdirTemp("", "report-split-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	path := filepath.Join(tempDir, "report.pdf")
	if err := os.WriteFile(path, pdfBytes, 0o644); err != nil {
		return nil, fmt.Errorf("failed to stage pdf for splitting: %w", err)
	}

	pageCount, err := api.PageCountFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}
	if err := api.SplitFile(path, tempDir, 1, nil); err != nil {
		return nil, fmt.Errorf("failed to split pdf: %w", err)
	}

	pages := make([][]byte, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		page, err := os.ReadFile(filepath.Join(tempDir, fmt.Sprintf("report_%d.pdf", i)))
		if err != nil {
			return nil, fmt.Errorf("failed to read split page %d: %w", i, err)
		}
		pages = append(pages, page)
	}
	return pages, nil
}
