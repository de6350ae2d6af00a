// Package stages orders the wizard's editing stages and gates navigation on
// document completeness.
package stages

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/SeanSwan/reportflow/internal/models"
)

// Stage is one step of the wizard. Requires lists the document fields that
// must be complete before the stage becomes reachable. Predicates are
// presence-only, so adding data never re-locks an unlocked stage.
type Stage struct {
	ID       models.StageID
	Title    string
	Requires []models.FieldName
}

// DefaultRoster returns the built-in stage order.
func DefaultRoster() []Stage {
	client := []models.FieldName{models.FieldClient}
	return []Stage{
		{ID: models.StageClient, Title: "Client"},
		{ID: models.StageMetrics, Title: "Metrics", Requires: client},
		{ID: models.StageNarrative, Title: "Daily Narrative", Requires: client},
		{ID: models.StageMedia, Title: "Media", Requires: client},
		{ID: models.StageTheme, Title: "Theme", Requires: client},
		{ID: models.StageDelivery, Title: "Delivery", Requires: client},
		{ID: models.StagePreview, Title: "Preview", Requires: client},
		{ID: models.StageExport, Title: "Export", Requires: []models.FieldName{
			models.FieldClient, models.FieldDailyEntries, models.FieldMediaSet,
		}},
	}
}

var knownStageIDs = map[models.StageID]bool{
	models.StageClient: true, models.StageMetrics: true, models.StageNarrative: true,
	models.StageMedia: true, models.StageTheme: true, models.StageDelivery: true,
	models.StagePreview: true, models.StageExport: true,
}

// ValidateRoster rejects rosters the sequencer cannot safely run: duplicate
// or unknown stage IDs, unknown required fields, or an export stage that is
// not terminal.
func ValidateRoster(roster []Stage) error {
	if len(roster) == 0 {
		return fmt.Errorf("stage roster is empty")
	}
	knownFields := map[models.FieldName]bool{}
	for _, f := range models.DocumentFields() {
		knownFields[f] = true
	}
	seen := map[models.StageID]bool{}
	for i, st := range roster {
		if !knownStageIDs[st.ID] {
			return fmt.Errorf("unknown stage id %q", st.ID)
		}
		if seen[st.ID] {
			return fmt.Errorf("duplicate stage id %q", st.ID)
		}
		seen[st.ID] = true
		for _, f := range st.Requires {
			if !knownFields[f] {
				return fmt.Errorf("stage %q requires unknown field %q", st.ID, f)
			}
		}
		if st.ID == models.StageExport && i != len(roster)-1 {
			return fmt.Errorf("export stage must be terminal, found at position %d", i)
		}
	}
	return nil
}

type rosterFile struct {
	Stages []stageSpec `yaml:"stages"`
}

type stageSpec struct {
	ID       string   `yaml:"id"`
	Title    string   `yaml:"title"`
	Requires []string `yaml:"requires"`
}

// LoadRosterFile reads a YAML roster overlay. Unknown YAML keys are rejected
// so a typoed overlay fails loudly instead of silently dropping a gate.
func LoadRosterFile(path string) ([]Stage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read stage roster %s: %w", path, err)
	}

	var file rosterFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse stage roster %s: %w", path, err)
	}

	roster := make([]Stage, 0, len(file.Stages))
	for _, spec := range file.Stages {
		st := Stage{ID: models.StageID(spec.ID), Title: spec.Title}
		for _, f := range spec.Requires {
			st.Requires = append(st.Requires, models.FieldName(f))
		}
		if st.Title == "" {
			st.Title = spec.ID
		}
		roster = append(roster, st)
	}
	if err := ValidateRoster(roster); err != nil {
		return nil, fmt.Errorf("invalid stage roster %s: %w", path, err)
	}
	return roster, nil
}
