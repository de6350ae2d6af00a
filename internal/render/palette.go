// Package render turns the canonical document into rasters: the weekly
// incident chart and the full report preview. These are the expensive
// captures the artifact pipeline caches by fingerprint.
package render

import (
	"strings"

	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/SeanSwan/reportflow/internal/models"
)

// Default palette, overridable per report through the theme's color slots.
const (
	DefaultPrimary    = "#1f2a44"
	DefaultAccent     = "#c8a962"
	DefaultBackground = "#ffffff"
	DefaultText       = "#222222"
)

func drawingColor(hex, fallback string) drawing.Color {
	c := drawing.ColorFromHex(strings.TrimPrefix(hex, "#"))
	if c.IsZero() {
		c = drawing.ColorFromHex(strings.TrimPrefix(fallback, "#"))
	}
	return c
}

// categoryLabel maps the incident vocabulary to chart axis labels.
func categoryLabel(cat models.IncidentCategory) string {
	switch cat {
	case models.CategoryWeapon:
		return "Weapon"
	case models.CategoryViolence:
		return "Violence"
	case models.CategoryTrespassing:
		return "Trespass"
	case models.CategoryVandalism:
		return "Vandalism"
	case models.CategoryTransientActivity:
		return "Transient"
	case models.CategoryPackageTheft:
		return "Pkg Theft"
	default:
		return string(cat)
	}
}
