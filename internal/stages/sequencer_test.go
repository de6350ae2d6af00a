package stages

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SeanSwan/reportflow/internal/bus"
	"github.com/SeanSwan/reportflow/internal/models"
	"github.com/SeanSwan/reportflow/internal/state"
	"github.com/SeanSwan/reportflow/internal/store"
)

type fakeView map[models.FieldName]bool

func (v fakeView) FieldComplete(f models.FieldName) bool { return v[f] }

func TestSequencerStartsAtFirstStage(t *testing.T) {
	seq, err := NewSequencer(DefaultRoster(), fakeView{}, bus.New(nil), nil)
	require.NoError(t, err)
	assert.Equal(t, models.StageClient, seq.Current().ID)
}

func TestAdvanceGatedOnClientSelection(t *testing.T) {
	view := fakeView{}
	b := bus.New(nil)
	seq, err := NewSequencer(DefaultRoster(), view, b, nil)
	require.NoError(t, err)

	navEvents := 0
	b.Subscribe(bus.TopicNavigation, func(bus.Event) { navEvents++ })

	require.False(t, seq.CanAdvance())
	err = seq.Advance()
	var navErr *NavigationError
	require.ErrorAs(t, err, &navErr)
	require.ErrorIs(t, err, ErrStageLocked)
	assert.Equal(t, models.StageClient, navErr.From)
	assert.Equal(t, models.StageMetrics, navErr.To)
	assert.Contains(t, navErr.Reason, "client")

	// Strict no-op: stage unchanged and nothing was published.
	assert.Equal(t, models.StageClient, seq.Current().ID)
	assert.Zero(t, navEvents)

	view[models.FieldClient] = true
	require.True(t, seq.CanAdvance())
	require.NoError(t, seq.Advance())
	assert.Equal(t, models.StageMetrics, seq.Current().ID)
	assert.Equal(t, 1, navEvents)
}

func TestAdvanceAtFinalStageIsRejected(t *testing.T) {
	seq, err := NewSequencer([]Stage{{ID: models.StageClient, Title: "Client"}}, fakeView{}, bus.New(nil), nil)
	require.NoError(t, err)

	err = seq.Advance()
	var navErr *NavigationError
	require.ErrorAs(t, err, &navErr)
	assert.NotErrorIs(t, err, ErrStageLocked, "a roster edge is not a locked stage")
	assert.Contains(t, navErr.Reason, "final stage")
}

func TestRetreatAlwaysAllowedAboveFirstStage(t *testing.T) {
	view := fakeView{models.FieldClient: true}
	b := bus.New(nil)
	seq, err := NewSequencer(DefaultRoster(), view, b, nil)
	require.NoError(t, err)

	navEvents := 0
	b.Subscribe(bus.TopicNavigation, func(bus.Event) { navEvents++ })

	require.Error(t, seq.Retreat()) // already at first

	require.NoError(t, seq.Advance())
	// Un-complete the client: retreat must still work, gates are forward-only.
	delete(view, models.FieldClient)
	require.NoError(t, seq.Retreat())
	assert.Equal(t, models.StageClient, seq.Current().ID)
	assert.Equal(t, 2, navEvents) // one advance, one retreat, both flushed
}

func TestJumpToChecksTargetPredicate(t *testing.T) {
	view := fakeView{models.FieldClient: true}
	seq, err := NewSequencer(DefaultRoster(), view, bus.New(nil), nil)
	require.NoError(t, err)

	err = seq.JumpTo(models.StageExport)
	var navErr *NavigationError
	require.ErrorAs(t, err, &navErr)
	require.ErrorIs(t, err, ErrStageLocked)
	assert.Contains(t, navErr.Reason, string(models.FieldDailyEntries))
	assert.Contains(t, navErr.Reason, string(models.FieldMediaSet))

	view[models.FieldDailyEntries] = true
	view[models.FieldMediaSet] = true
	require.NoError(t, seq.JumpTo(models.StageExport))
	assert.Equal(t, models.StageExport, seq.Current().ID)

	// Jumping backward needs only the target's own predicate.
	require.NoError(t, seq.JumpTo(models.StageTheme))
	assert.Equal(t, models.StageTheme, seq.Current().ID)

	require.Error(t, seq.JumpTo(models.StageID("mystery")))
	require.NoError(t, seq.JumpTo(models.StageTheme)) // jump to current: no-op
}

func TestExportPrerequisitesEnforcedEvenWhenRosterOmitsThem(t *testing.T) {
	roster := []Stage{
		{ID: models.StageClient, Title: "Client"},
		{ID: models.StageExport, Title: "Export"}, // no Requires declared
	}
	view := fakeView{models.FieldClient: true}
	seq, err := NewSequencer(roster, view, bus.New(nil), nil)
	require.NoError(t, err)

	err = seq.Advance()
	var navErr *NavigationError
	require.ErrorAs(t, err, &navErr)
	require.ErrorIs(t, err, ErrStageLocked)
	assert.Contains(t, navErr.Reason, string(models.FieldDailyEntries))
}

func TestUncommittedEditIsFlushedBeforeTransitionCommits(t *testing.T) {
	ctx := context.Background()
	b := bus.New(nil)
	st := store.NewStore(store.NewMemoryBackend(), "sess", time.Minute, nil)
	rs := state.New(ctx, st, b, nil)
	require.NoError(t, rs.SetClient(&models.ClientRef{ID: "c1", Name: "Harbor Lofts"}))

	seq, err := NewSequencer(DefaultRoster(), rs, b, nil)
	require.NoError(t, err)
	require.NoError(t, seq.Advance()) // client -> metrics
	require.NoError(t, seq.Advance()) // metrics -> narrative

	// The narrative widget holds an edit it has not written to state yet.
	pending := "suspicious vehicle parked 40 minutes by dock 3"
	b.Subscribe(bus.TopicNavigation, func(bus.Event) {
		// The transition must not be visible until the flush completes.
		assert.Equal(t, models.StageNarrative, seq.Current().ID)
		require.NoError(t, rs.SetDailyEntry("wednesday", models.DailyEntry{
			Summary: pending, Status: models.DayStatusAttention, Severity: models.SeverityMedium,
		}))
	})

	require.NoError(t, seq.Advance()) // narrative -> media
	assert.Equal(t, models.StageMedia, seq.Current().ID)
	assert.Equal(t, pending, rs.DailyEntries()["wednesday"].Summary)
}

func TestValidateRoster(t *testing.T) {
	cases := []struct {
		name   string
		roster []Stage
		ok     bool
	}{
		{"default", DefaultRoster(), true},
		{"empty", nil, false},
		{"duplicate", []Stage{{ID: models.StageClient}, {ID: models.StageClient}}, false},
		{"unknown stage", []Stage{{ID: models.StageID("lobby")}}, false},
		{"unknown field", []Stage{{ID: models.StageClient, Requires: []models.FieldName{"vibes"}}}, false},
		{"export not last", []Stage{{ID: models.StageExport}, {ID: models.StageClient}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRoster(tc.roster)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestLoadRosterFile(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "roster.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
stages:
  - id: client
    title: Choose Client
  - id: narrative
    title: Daily Log
    requires: [client]
  - id: export
    requires: [client]
`), 0o644))

	roster, err := LoadRosterFile(good)
	require.NoError(t, err)
	require.Len(t, roster, 3)
	assert.Equal(t, "Daily Log", roster[1].Title)
	assert.Equal(t, []models.FieldName{models.FieldClient}, roster[1].Requires)
	assert.Equal(t, "export", roster[2].Title) // falls back to the id

	bad := filepath.Join(dir, "typo.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`
stages:
  - id: client
    colour: red
`), 0o644))
	_, err = LoadRosterFile(bad)
	require.Error(t, err)

	_, err = LoadRosterFile(filepath.Join(dir, "absent.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
