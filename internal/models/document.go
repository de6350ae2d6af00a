package models

import (
	"fmt"
	"time"
)

// FieldName identifies one top-level slot of the report document. Bus topics,
// durable-store keys, and stage prerequisites are all keyed by these names.
type FieldName string

const (
	FieldClient         FieldName = "client"
	FieldMetrics        FieldName = "metrics"
	FieldDailyEntries   FieldName = "dailyEntries"
	FieldNotes          FieldName = "notes"
	FieldSignature      FieldName = "signature"
	FieldContactChannel FieldName = "contactChannel"
	FieldTheme          FieldName = "theme"
	FieldMediaSet       FieldName = "mediaSet"
	FieldDateRange      FieldName = "dateRange"

	// Virtual fields published on the bus when a derived raster changes.
	// They are never persisted.
	FieldChartRaster   FieldName = "chartRaster"
	FieldPreviewRaster FieldName = "previewRaster"
)

// DocumentFields lists the authored (persisted) fields in a stable order.
func DocumentFields() []FieldName {
	return []FieldName{
		FieldClient, FieldMetrics, FieldDailyEntries, FieldNotes,
		FieldSignature, FieldContactChannel, FieldTheme, FieldMediaSet,
		FieldDateRange,
	}
}

// IncidentCategory is the fixed vocabulary of incident counters tracked per day.
type IncidentCategory string

const (
	CategoryWeapon            IncidentCategory = "weapon"
	CategoryViolence          IncidentCategory = "violence"
	CategoryTrespassing       IncidentCategory = "trespassing"
	CategoryVandalism         IncidentCategory = "vandalism"
	CategoryTransientActivity IncidentCategory = "transient_activity"
	CategoryPackageTheft      IncidentCategory = "package_theft"
)

// Categories returns the incident vocabulary in report display order.
func Categories() []IncidentCategory {
	return []IncidentCategory{
		CategoryWeapon, CategoryViolence, CategoryTrespassing,
		CategoryVandalism, CategoryTransientActivity, CategoryPackageTheft,
	}
}

// DayStatus summarizes a monitored day.
type DayStatus string

const (
	DayStatusNormal    DayStatus = "normal"
	DayStatusAttention DayStatus = "attention"
	DayStatusIncident  DayStatus = "incident"
)

// Severity grades the worst event of a day.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaClip  MediaKind = "clip"
)

type ContactKind string

const (
	ContactEmail  ContactKind = "email"
	ContactPhone  ContactKind = "phone"
	ContactPortal ContactKind = "portal"
)

// ClientRef identifies the client a report is being assembled for.
type ClientRef struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SiteName     string `json:"siteName,omitempty"`
	ContactEmail string `json:"contactEmail,omitempty"`
}

// DayCounts holds the per-category incident counters of one day.
type DayCounts map[IncidentCategory]int

// Metrics carries the camera fleet numbers and the weekly incident counters,
// keyed by lowercase day-of-week name. Scalar fields are pointers so a patch
// can distinguish "set to zero" from "not provided".
type Metrics struct {
	TotalCameras  *int                 `json:"totalCameras,omitempty"`
	CamerasOnline *int                 `json:"camerasOnline,omitempty"`
	Counters      map[string]DayCounts `json:"counters,omitempty"`
}

// CameraTotal returns the camera count, zero when unset.
func (m Metrics) CameraTotal() int {
	if m.TotalCameras == nil {
		return 0
	}
	return *m.TotalCameras
}

// OnlineTotal returns the online camera count, zero when unset.
func (m Metrics) OnlineTotal() int {
	if m.CamerasOnline == nil {
		return 0
	}
	return *m.CamerasOnline
}

// CategoryTotal sums one category's counter across the week.
func (m Metrics) CategoryTotal(cat IncidentCategory) int {
	total := 0
	for _, day := range m.Counters {
		total += day[cat]
	}
	return total
}

// HasCounts reports whether any incident counter is above zero.
func (m Metrics) HasCounts() bool {
	for _, day := range m.Counters {
		for _, n := range day {
			if n > 0 {
				return true
			}
		}
	}
	return false
}

// Validate rejects negative counters, unknown categories, and unknown day keys.
func (m Metrics) Validate() error {
	if m.TotalCameras != nil && *m.TotalCameras < 0 {
		return fmt.Errorf("totalCameras must be non-negative, got %d", *m.TotalCameras)
	}
	if m.CamerasOnline != nil && *m.CamerasOnline < 0 {
		return fmt.Errorf("camerasOnline must be non-negative, got %d", *m.CamerasOnline)
	}
	known := make(map[IncidentCategory]bool, 6)
	for _, c := range Categories() {
		known[c] = true
	}
	for day, counts := range m.Counters {
		if !IsWeekdayKey(day) {
			return fmt.Errorf("unknown day key %q in metrics counters", day)
		}
		for cat, n := range counts {
			if !known[cat] {
				return fmt.Errorf("unknown incident category %q", cat)
			}
			if n < 0 {
				return fmt.Errorf("counter %s/%s must be non-negative, got %d", day, cat, n)
			}
		}
	}
	return nil
}

// DailyEntry is one day's narrative record.
type DailyEntry struct {
	Summary  string    `json:"summary"`
	Status   DayStatus `json:"status"`
	Severity Severity  `json:"severity"`
}

// DailyLog maps lowercase day-of-week names to their narrative entries.
// A normalized log always holds exactly seven entries.
type DailyLog map[string]DailyEntry

// WeekdayKeys returns the seven day keys in report order, Monday first.
func WeekdayKeys() []string {
	return []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}
}

// IsWeekdayKey reports whether k is one of the seven day keys.
func IsWeekdayKey(k string) bool {
	for _, d := range WeekdayKeys() {
		if d == k {
			return true
		}
	}
	return false
}

// Normalize returns a copy holding exactly one entry per day of week:
// missing days are filled with a quiet default, unknown keys are dropped.
func (l DailyLog) Normalize() DailyLog {
	out := make(DailyLog, 7)
	for _, day := range WeekdayKeys() {
		entry, ok := l[day]
		if !ok {
			entry = DailyEntry{Status: DayStatusNormal, Severity: SeverityLow}
		}
		if entry.Status == "" {
			entry.Status = DayStatusNormal
		}
		if entry.Severity == "" {
			entry.Severity = SeverityLow
		}
		out[day] = entry
	}
	return out
}

// HasContent reports whether at least one day carries a non-blank summary.
func (l DailyLog) HasContent() bool {
	for _, e := range l {
		if e.Summary != "" {
			return true
		}
	}
	return false
}

// ContactChannel is the client-facing channel printed in the report footer.
type ContactChannel struct {
	Kind  ContactKind `json:"kind,omitempty"`
	Value string      `json:"value,omitempty"`
}

// Theme holds the visual styling knobs of the rendered report. Every member
// is pointer- or map-shaped so a partial patch can only override what it
// explicitly sets: absent entries keep their current value on merge.
// Color slots in use: "primary", "accent", "background", "text".
type Theme struct {
	Colors            map[string]string `json:"colors,omitempty"`
	FontFamily        *string           `json:"fontFamily,omitempty"`
	BackgroundOpacity *float64          `json:"backgroundOpacity,omitempty"`
	HeaderImage       *string           `json:"headerImage,omitempty"`
}

// Color returns the named color slot, or fallback when unset.
func (t Theme) Color(name, fallback string) string {
	if c, ok := t.Colors[name]; ok && c != "" {
		return c
	}
	return fallback
}

// Font returns the font family, or fallback when unset.
func (t Theme) Font(fallback string) string {
	if t.FontFamily == nil || *t.FontFamily == "" {
		return fallback
	}
	return *t.FontFamily
}

// Opacity returns the background opacity, or fallback when unset.
func (t Theme) Opacity(fallback float64) float64 {
	if t.BackgroundOpacity == nil {
		return fallback
	}
	return *t.BackgroundOpacity
}

// Header returns the header image URI, empty when unset.
func (t Theme) Header() string {
	if t.HeaderImage == nil {
		return ""
	}
	return *t.HeaderImage
}

// IsZero reports whether no styling knob has been touched.
func (t Theme) IsZero() bool {
	return len(t.Colors) == 0 && t.FontFamily == nil &&
		t.BackgroundOpacity == nil && t.HeaderImage == nil
}

// Validate rejects an out-of-range opacity.
func (t Theme) Validate() error {
	if t.BackgroundOpacity != nil && (*t.BackgroundOpacity < 0 || *t.BackgroundOpacity > 1) {
		return fmt.Errorf("backgroundOpacity must be within [0,1], got %v", *t.BackgroundOpacity)
	}
	return nil
}

// MediaItem is one attachment shown in the report's media section.
type MediaItem struct {
	ID         string    `json:"id"`
	Kind       MediaKind `json:"kind"`
	ObjectURI  string    `json:"objectUri"`
	Caption    string    `json:"caption,omitempty"`
	CapturedAt time.Time `json:"capturedAt,omitempty"`
}

// DateRange bounds the reporting period. Start must not be after End.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Validate rejects an inverted range.
func (r DateRange) Validate() error {
	if r.Start.After(r.End) {
		return fmt.Errorf("dateRange start %s is after end %s",
			r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"))
	}
	return nil
}

// IsZero reports whether neither bound has been set.
func (r DateRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// CurrentWeek returns the Monday-to-Sunday range containing now.
func CurrentWeek(now time.Time) DateRange {
	day := now
	for day.Weekday() != time.Monday {
		day = day.AddDate(0, 0, -1)
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, now.Location())
	return DateRange{Start: start, End: start.AddDate(0, 0, 6)}
}

// Document is the full report being assembled across the wizard stages.
type Document struct {
	Client         *ClientRef     `json:"client,omitempty"`
	Metrics        Metrics        `json:"metrics"`
	DailyEntries   DailyLog       `json:"dailyEntries"`
	Notes          string         `json:"notes,omitempty"`
	Signature      string         `json:"signature,omitempty"`
	ContactChannel ContactChannel `json:"contactChannel"`
	Theme          Theme          `json:"theme"`
	MediaSet       []MediaItem    `json:"mediaSet"`
	DateRange      DateRange      `json:"dateRange"`
}

// DefaultDocument seeds a fresh report: empty media, zero counters, a
// normalized seven-day log, and the current week as the reporting period.
func DefaultDocument(now time.Time) Document {
	return Document{
		Metrics:      Metrics{Counters: map[string]DayCounts{}},
		DailyEntries: DailyLog{}.Normalize(),
		MediaSet:     []MediaItem{},
		DateRange:    CurrentWeek(now),
	}
}

// IntPtr returns a pointer to v, for building partial patches.
func IntPtr(v int) *int { return &v }

// StringPtr returns a pointer to v, for building partial patches.
func StringPtr(v string) *string { return &v }

// Float64Ptr returns a pointer to v, for building partial patches.
func Float64Ptr(v float64) *float64 { return &v }
