// Package export slices the finished preview raster across fixed-height
// pages and assembles the delivery PDF. It never reads live state: callers
// hand it a document snapshot and a READY raster.
package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"

	"github.com/SeanSwan/reportflow/internal/models"
)

// ErrExportPrecondition marks an export rejected before any expensive work
// started.
var ErrExportPrecondition = errors.New("export preconditions not met")

// Result is a finished export ready for delivery.
type Result struct {
	Filename string
	PDF      []byte
	Document *ExportedDocument
}

// PageCount returns the number of pages in the assembled PDF.
func (r *Result) PageCount() int { return r.Document.PageCount() }

// Exporter turns a document snapshot plus its preview raster into a named,
// paginated PDF.
type Exporter struct {
	logger *slog.Logger
}

// NewExporter returns an exporter. A nil logger falls back to slog.Default.
func NewExporter(logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{logger: logger}
}

// Export checks preconditions synchronously, then paginates and assembles.
// A rejected export returns a typed reason and zero pages.
func (e *Exporter) Export(ctx context.Context, doc models.Document, raster *image.RGBA, geo PageGeometry) (*Result, error) {
	if err := Preflight(doc); err != nil {
		return nil, err
	}
	if raster == nil || raster.Bounds().Empty() {
		return nil, fmt.Errorf("%w: preview raster is not ready", ErrExportPrecondition)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	exported, err := Paginate(raster, geo)
	if err != nil {
		return nil, err
	}

	filename := Filename(doc)
	pdfBytes, err := AssemblePDF(exported, strings.TrimSuffix(filename, ".pdf"))
	if err != nil {
		return nil, fmt.Errorf("failed to assemble %s: %w", filename, err)
	}

	e.logger.Info("report exported",
		"filename", filename,
		"pages", exported.PageCount(),
		"bytes", len(pdfBytes))
	return &Result{Filename: filename, PDF: pdfBytes, Document: exported}, nil
}

// Preflight runs the document-level precondition checks without needing the
// raster, so callers can reject an export before rendering anything.
func Preflight(doc models.Document) error {
	if doc.Client == nil {
		return fmt.Errorf("%w: no client selected", ErrExportPrecondition)
	}
	if !doc.DailyEntries.HasContent() {
		return fmt.Errorf("%w: daily log has no entries", ErrExportPrecondition)
	}
	if len(doc.MediaSet) == 0 {
		return fmt.Errorf("%w: media set is empty", ErrExportPrecondition)
	}
	if err := doc.DateRange.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrExportPrecondition, err)
	}
	return nil
}

// Filename derives the delivery name from the client identity and the
// reporting period, so repeated exports of the same state collide onto one
// object instead of accumulating counters.
func Filename(doc models.Document) string {
	slug := "report"
	if doc.Client != nil {
		slug = slugify(doc.Client.Name)
	}
	return fmt.Sprintf("%s_%s_%s.pdf", slug,
		doc.DateRange.Start.Format("2006-01-02"),
		doc.DateRange.End.Format("2006-01-02"))
}

func slugify(s string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(s) {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !isAlnum {
			pendingDash = b.Len() > 0
			continue
		}
		if pendingDash {
			b.WriteByte('-')
			pendingDash = false
		}
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return "report"
	}
	return b.String()
}
