// Package state holds the canonical document state: the single authoritative
// copy of every report field. Stages, renderers, and the exporter all read
// and write through this package; no component keeps a separate mutable copy
// it reconciles later. Every field is backed by a persistent store slot, and
// every successful write is announced on the change notification bus.
package state

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	opts "github.com/goliatone/go-options/layering"

	"github.com/SeanSwan/reportflow/internal/bus"
	"github.com/SeanSwan/reportflow/internal/models"
	"github.com/SeanSwan/reportflow/internal/store"
)

// clone returns a detached deep copy of v, so callers can never mutate the
// canonical maps and slices behind a getter's back.
func clone[T any](v T) T { return opts.MergeLayers(v) }

// ReportState is the canonical document state for one editing session.
type ReportState struct {
	bus    *bus.Bus
	logger *slog.Logger
	now    func() time.Time

	client    *store.Field[*models.ClientRef]
	metrics   *store.Field[models.Metrics]
	daily     *store.Field[models.DailyLog]
	notes     *store.Field[string]
	signature *store.Field[string]
	contact   *store.Field[models.ContactChannel]
	theme     *store.Field[models.Theme]
	media     *store.Field[[]models.MediaItem]
	dates     *store.Field[models.DateRange]

	// writeMu serializes read-merge-write cycles across setters.
	writeMu sync.Mutex

	// The chart raster is the one derived value kept on the document, held in
	// memory only: cheap to regenerate, expensive to serialize.
	rasterMu    sync.RWMutex
	chartRaster image.Image
	chartStamp  string
}

// Option adjusts a ReportState under construction.
type Option func(*ReportState)

// WithClock substitutes the wall clock, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *ReportState) { s.now = now }
}

// New rehydrates every field from st's backend, falling back to the defaults
// of a fresh document. Construction never fails: malformed or unreachable
// durable entries degrade to defaults with a warning.
func New(ctx context.Context, st *store.Store, b *bus.Bus, logger *slog.Logger, options ...Option) *ReportState {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ReportState{bus: b, logger: logger, now: time.Now}
	for _, o := range options {
		o(s)
	}

	def := models.DefaultDocument(s.now())
	s.client = store.Register[*models.ClientRef](ctx, st, string(models.FieldClient), nil)
	s.metrics = store.Register(ctx, st, string(models.FieldMetrics), def.Metrics)
	s.daily = store.Register(ctx, st, string(models.FieldDailyEntries), def.DailyEntries)
	s.notes = store.Register(ctx, st, string(models.FieldNotes), "")
	s.signature = store.Register(ctx, st, string(models.FieldSignature), "")
	s.contact = store.Register(ctx, st, string(models.FieldContactChannel), models.ContactChannel{})
	s.theme = store.Register(ctx, st, string(models.FieldTheme), models.Theme{})
	s.media = store.Register(ctx, st, string(models.FieldMediaSet), def.MediaSet)
	s.dates = store.Register(ctx, st, string(models.FieldDateRange), def.DateRange)
	return s
}

func (s *ReportState) publish(field models.FieldName) {
	s.bus.Publish(bus.TopicFieldChanged(field), models.FieldChanged{Field: field, At: s.now()})
}

// Client returns the selected client, nil when none is chosen.
func (s *ReportState) Client() *models.ClientRef {
	c := s.client.Get()
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// SetClient selects the report's client. Switching to a different client
// re-seeds every other field with fresh defaults: the previous client's
// document is discarded, not carried over.
func (s *ReportState) SetClient(ref *models.ClientRef) error {
	if ref != nil && ref.ID == "" {
		return fmt.Errorf("client reference requires an id")
	}

	s.writeMu.Lock()
	prev := s.client.Get()
	reseed := prev != nil && ref != nil && prev.ID != ref.ID
	var cp *models.ClientRef
	if ref != nil {
		c := *ref
		cp = &c
	}
	s.client.Set(cp)
	if reseed {
		def := models.DefaultDocument(s.now())
		s.metrics.Set(def.Metrics)
		s.daily.Set(def.DailyEntries)
		s.notes.Set("")
		s.signature.Set("")
		s.contact.Set(models.ContactChannel{})
		s.theme.Set(models.Theme{})
		s.media.Set(def.MediaSet)
		s.dates.Set(def.DateRange)
	}
	s.writeMu.Unlock()

	if reseed {
		s.rasterMu.Lock()
		s.chartRaster = nil
		s.chartStamp = ""
		s.rasterMu.Unlock()
		s.logger.Info("document re-seeded for new client", "clientId", ref.ID)
		for _, f := range models.DocumentFields() {
			s.publish(f)
		}
		return nil
	}
	s.publish(models.FieldClient)
	return nil
}

// Metrics returns a snapshot of the camera and incident counters.
func (s *ReportState) Metrics() models.Metrics {
	return clone(s.metrics.Get())
}

// SetMetrics merges a partial patch into the current metrics: set pointers
// override, absent ones keep their value, counter maps merge per day and
// category. Two stages patching disjoint sub-fields never clobber each other.
func (s *ReportState) SetMetrics(patch models.Metrics) error {
	if err := patch.Validate(); err != nil {
		return fmt.Errorf("rejected metrics patch: %w", err)
	}
	s.writeMu.Lock()
	s.metrics.Set(opts.MergeLayers(patch, s.metrics.Get()))
	s.writeMu.Unlock()
	s.publish(models.FieldMetrics)
	return nil
}

// DailyEntries returns the normalized seven-day narrative log.
func (s *ReportState) DailyEntries() models.DailyLog {
	return s.daily.Get().Normalize()
}

// SetDailyEntry replaces one day's narrative record.
func (s *ReportState) SetDailyEntry(day string, entry models.DailyEntry) error {
	if !models.IsWeekdayKey(day) {
		return fmt.Errorf("unknown day key %q", day)
	}
	s.writeMu.Lock()
	log := s.daily.Get().Normalize()
	log[day] = entry
	s.daily.Set(log.Normalize())
	s.writeMu.Unlock()
	s.publish(models.FieldDailyEntries)
	return nil
}

// SetDailyEntries replaces the whole narrative log. Unknown day keys are
// rejected rather than silently dropped.
func (s *ReportState) SetDailyEntries(log models.DailyLog) error {
	for day := range log {
		if !models.IsWeekdayKey(day) {
			return fmt.Errorf("unknown day key %q", day)
		}
	}
	s.writeMu.Lock()
	s.daily.Set(log.Normalize())
	s.writeMu.Unlock()
	s.publish(models.FieldDailyEntries)
	return nil
}

// Notes returns the free-form report notes.
func (s *ReportState) Notes() string { return s.notes.Get() }

// SetNotes replaces the report notes.
func (s *ReportState) SetNotes(text string) {
	s.notes.Set(text)
	s.publish(models.FieldNotes)
}

// Signature returns the sign-off line.
func (s *ReportState) Signature() string { return s.signature.Get() }

// SetSignature replaces the sign-off line.
func (s *ReportState) SetSignature(text string) {
	s.signature.Set(text)
	s.publish(models.FieldSignature)
}

// Contact returns the client-facing contact channel.
func (s *ReportState) Contact() models.ContactChannel { return s.contact.Get() }

// SetContact replaces the contact channel.
func (s *ReportState) SetContact(c models.ContactChannel) error {
	switch c.Kind {
	case "", models.ContactEmail, models.ContactPhone, models.ContactPortal:
	default:
		return fmt.Errorf("unknown contact kind %q", c.Kind)
	}
	s.contact.Set(c)
	s.publish(models.FieldContactChannel)
	return nil
}

// Theme returns a snapshot of the visual theme.
func (s *ReportState) Theme() models.Theme {
	return clone(s.theme.Get())
}

// SetTheme merges a partial theme patch into the current theme.
func (s *ReportState) SetTheme(patch models.Theme) error {
	if err := patch.Validate(); err != nil {
		return fmt.Errorf("rejected theme patch: %w", err)
	}
	s.writeMu.Lock()
	s.theme.Set(opts.MergeLayers(patch, s.theme.Get()))
	s.writeMu.Unlock()
	s.publish(models.FieldTheme)
	return nil
}

// MediaSet returns a copy of the ordered attachment list.
func (s *ReportState) MediaSet() []models.MediaItem {
	return append([]models.MediaItem(nil), s.media.Get()...)
}

// AddMedia appends one attachment and returns it with its assigned ID.
func (s *ReportState) AddMedia(item models.MediaItem) (models.MediaItem, error) {
	if item.ObjectURI == "" {
		return models.MediaItem{}, fmt.Errorf("media item requires an objectUri")
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Kind == "" {
		item.Kind = models.MediaImage
	}
	s.writeMu.Lock()
	s.media.Set(append(s.MediaSet(), item))
	s.writeMu.Unlock()
	s.publish(models.FieldMediaSet)
	return item, nil
}

// RemoveMedia drops the attachment with the given ID.
func (s *ReportState) RemoveMedia(id string) error {
	s.writeMu.Lock()
	items := s.MediaSet()
	kept := items[:0]
	for _, it := range items {
		if it.ID != id {
			kept = append(kept, it)
		}
	}
	if len(kept) == len(items) {
		s.writeMu.Unlock()
		return fmt.Errorf("no media item with id %q", id)
	}
	s.media.Set(kept)
	s.writeMu.Unlock()
	s.publish(models.FieldMediaSet)
	return nil
}

// SetMediaSet replaces the whole attachment list.
func (s *ReportState) SetMediaSet(items []models.MediaItem) error {
	for i, it := range items {
		if it.ObjectURI == "" {
			return fmt.Errorf("media item %d requires an objectUri", i)
		}
	}
	s.writeMu.Lock()
	s.media.Set(append([]models.MediaItem(nil), items...))
	s.writeMu.Unlock()
	s.publish(models.FieldMediaSet)
	return nil
}

// DateRange returns the reporting period.
func (s *ReportState) DateRange() models.DateRange { return s.dates.Get() }

// SetDateRange replaces the reporting period, rejecting an inverted range.
func (s *ReportState) SetDateRange(r models.DateRange) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("rejected date range: %w", err)
	}
	s.dates.Set(r)
	s.publish(models.FieldDateRange)
	return nil
}

// ChartRaster returns the in-memory chart image and the fingerprint stamp it
// was generated from. Nil until the pipeline first stores one.
func (s *ReportState) ChartRaster() (image.Image, string) {
	s.rasterMu.RLock()
	defer s.rasterMu.RUnlock()
	return s.chartRaster, s.chartStamp
}

// SetChartRaster stores the chart image produced by the artifact pipeline.
func (s *ReportState) SetChartRaster(img image.Image, stamp string) {
	s.rasterMu.Lock()
	s.chartRaster = img
	s.chartStamp = stamp
	s.rasterMu.Unlock()
	s.publish(models.FieldChartRaster)
}

// Snapshot assembles a point-in-time copy of the whole document.
func (s *ReportState) Snapshot() models.Document {
	return models.Document{
		Client:         s.Client(),
		Metrics:        s.Metrics(),
		DailyEntries:   s.DailyEntries(),
		Notes:          s.Notes(),
		Signature:      s.Signature(),
		ContactChannel: s.Contact(),
		Theme:          s.Theme(),
		MediaSet:       s.MediaSet(),
		DateRange:      s.DateRange(),
	}
}

// InputValue returns the fingerprint-relevant value of one field. The chart
// raster contributes the stamp it was generated from, not its pixels.
func (s *ReportState) InputValue(f models.FieldName) any {
	switch f {
	case models.FieldClient:
		return s.Client()
	case models.FieldMetrics:
		return s.Metrics()
	case models.FieldDailyEntries:
		return s.DailyEntries()
	case models.FieldNotes:
		return s.Notes()
	case models.FieldSignature:
		return s.Signature()
	case models.FieldContactChannel:
		return s.Contact()
	case models.FieldTheme:
		return s.Theme()
	case models.FieldMediaSet:
		return s.MediaSet()
	case models.FieldDateRange:
		return s.DateRange()
	case models.FieldChartRaster:
		_, stamp := s.ChartRaster()
		return stamp
	default:
		return nil
	}
}

// FieldComplete reports whether one field satisfies its stage prerequisite.
// Completeness only ever grows as data is added, so stage predicates built on
// it are monotone.
func (s *ReportState) FieldComplete(f models.FieldName) bool {
	switch f {
	case models.FieldClient:
		return s.client.Get() != nil
	case models.FieldMetrics:
		m := s.metrics.Get()
		return m.CameraTotal() > 0 || m.HasCounts()
	case models.FieldDailyEntries:
		return s.daily.Get().HasContent()
	case models.FieldNotes:
		return s.notes.Get() != ""
	case models.FieldSignature:
		return s.signature.Get() != ""
	case models.FieldContactChannel:
		return s.contact.Get().Value != ""
	case models.FieldTheme:
		return !s.theme.Get().IsZero()
	case models.FieldMediaSet:
		return len(s.media.Get()) > 0
	case models.FieldDateRange:
		r := s.dates.Get()
		return !r.IsZero() && r.Validate() == nil
	case models.FieldChartRaster:
		img, _ := s.ChartRaster()
		return img != nil
	default:
		return false
	}
}

// Completeness evaluates FieldComplete over every authored field.
func (s *ReportState) Completeness() map[models.FieldName]bool {
	out := make(map[models.FieldName]bool, 9)
	for _, f := range models.DocumentFields() {
		out[f] = s.FieldComplete(f)
	}
	return out
}
