package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SeanSwan/reportflow/internal/bus"
	"github.com/SeanSwan/reportflow/internal/models"
	"github.com/SeanSwan/reportflow/internal/store"
)

func newTestState(t *testing.T) (*ReportState, *bus.Bus, *store.MemoryBackend, *store.Store) {
	t.Helper()
	backend := store.NewMemoryBackend()
	st := store.NewStore(backend, "test-session", time.Minute, nil)
	b := bus.New(nil)
	rs := New(context.Background(), st, b, nil)
	return rs, b, backend, st
}

func TestSetIsVisibleToNextGet(t *testing.T) {
	rs, _, _, _ := newTestState(t)

	require.NoError(t, rs.SetMetrics(models.Metrics{TotalCameras: models.IntPtr(12)}))
	assert.Equal(t, 12, rs.Metrics().CameraTotal())

	rs.SetNotes("fence line inspected")
	assert.Equal(t, "fence line inspected", rs.Notes())
}

func TestMetricsPatchMergesDisjointSubfields(t *testing.T) {
	rs, _, _, _ := newTestState(t)

	require.NoError(t, rs.SetMetrics(models.Metrics{TotalCameras: models.IntPtr(12)}))
	require.NoError(t, rs.SetMetrics(models.Metrics{
		Counters: map[string]models.DayCounts{"monday": {models.CategoryTrespassing: 2}},
	}))
	require.NoError(t, rs.SetMetrics(models.Metrics{
		CamerasOnline: models.IntPtr(11),
		Counters:      map[string]models.DayCounts{"monday": {models.CategoryVandalism: 1}},
	}))

	m := rs.Metrics()
	assert.Equal(t, 12, m.CameraTotal())
	assert.Equal(t, 11, m.OnlineTotal())
	assert.Equal(t, 2, m.Counters["monday"][models.CategoryTrespassing])
	assert.Equal(t, 1, m.Counters["monday"][models.CategoryVandalism])
}

func TestMetricsPatchRejectionLeavesStateUntouched(t *testing.T) {
	rs, b, _, _ := newTestState(t)
	require.NoError(t, rs.SetMetrics(models.Metrics{TotalCameras: models.IntPtr(8)}))

	published := 0
	b.Subscribe(bus.TopicFieldChanged(models.FieldMetrics), func(bus.Event) { published++ })

	err := rs.SetMetrics(models.Metrics{TotalCameras: models.IntPtr(-2)})
	require.Error(t, err)
	assert.Equal(t, 8, rs.Metrics().CameraTotal())
	assert.Zero(t, published)
}

func TestThemePatchKeepsUntouchedSlots(t *testing.T) {
	rs, _, _, _ := newTestState(t)

	require.NoError(t, rs.SetTheme(models.Theme{
		Colors:     map[string]string{"primary": "#202b3d", "accent": "#c8a962"},
		FontFamily: models.StringPtr("Georgia"),
	}))
	require.NoError(t, rs.SetTheme(models.Theme{
		Colors: map[string]string{"accent": "#ff6b35"},
	}))

	th := rs.Theme()
	assert.Equal(t, "#202b3d", th.Color("primary", ""))
	assert.Equal(t, "#ff6b35", th.Color("accent", ""))
	assert.Equal(t, "Georgia", th.Font(""))

	assert.Error(t, rs.SetTheme(models.Theme{BackgroundOpacity: models.Float64Ptr(2)}))
}

func TestSetDailyEntryTouchesOneDayOnly(t *testing.T) {
	rs, _, _, _ := newTestState(t)

	require.NoError(t, rs.SetDailyEntry("tuesday", models.DailyEntry{
		Summary: "loiterer moved along", Status: models.DayStatusAttention, Severity: models.SeverityMedium,
	}))
	require.NoError(t, rs.SetDailyEntry("friday", models.DailyEntry{Summary: "quiet shift"}))

	log := rs.DailyEntries()
	require.Len(t, log, 7)
	assert.Equal(t, "loiterer moved along", log["tuesday"].Summary)
	assert.Equal(t, "quiet shift", log["friday"].Summary)
	assert.Equal(t, models.DayStatusNormal, log["friday"].Status)
	assert.Empty(t, log["monday"].Summary)

	assert.Error(t, rs.SetDailyEntry("humpday", models.DailyEntry{}))
	assert.Error(t, rs.SetDailyEntries(models.DailyLog{"humpday": {}}))
}

func TestSetClientReseedsOnSwitch(t *testing.T) {
	rs, _, _, _ := newTestState(t)

	require.NoError(t, rs.SetClient(&models.ClientRef{ID: "c1", Name: "Harbor Lofts"}))
	require.NoError(t, rs.SetMetrics(models.Metrics{TotalCameras: models.IntPtr(9)}))
	require.NoError(t, rs.SetDailyEntry("monday", models.DailyEntry{Summary: "gate tampering"}))
	rs.SetNotes("carryover notes")

	// Same client: refresh the reference, keep the document.
	require.NoError(t, rs.SetClient(&models.ClientRef{ID: "c1", Name: "Harbor Lofts LLC"}))
	assert.Equal(t, 9, rs.Metrics().CameraTotal())
	assert.Equal(t, "Harbor Lofts LLC", rs.Client().Name)

	// Different client: the document is re-seeded with defaults.
	require.NoError(t, rs.SetClient(&models.ClientRef{ID: "c2", Name: "Mesa Storage"}))
	assert.Equal(t, 0, rs.Metrics().CameraTotal())
	assert.False(t, rs.DailyEntries().HasContent())
	assert.Empty(t, rs.Notes())
	assert.Equal(t, "c2", rs.Client().ID)

	img, stamp := rs.ChartRaster()
	assert.Nil(t, img)
	assert.Empty(t, stamp)
}

func TestMediaAddRemove(t *testing.T) {
	rs, _, _, _ := newTestState(t)

	added, err := rs.AddMedia(models.MediaItem{ObjectURI: "gs://media/cam4.png", Caption: "north gate"})
	require.NoError(t, err)
	assert.NotEmpty(t, added.ID)
	assert.Equal(t, models.MediaImage, added.Kind)

	_, err = rs.AddMedia(models.MediaItem{Caption: "no uri"})
	require.Error(t, err)

	require.NoError(t, rs.RemoveMedia(added.ID))
	assert.Empty(t, rs.MediaSet())
	assert.Error(t, rs.RemoveMedia(added.ID))
}

func TestSetDateRangeRejectsInvertedRange(t *testing.T) {
	rs, _, _, _ := newTestState(t)
	start := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, rs.SetDateRange(models.DateRange{Start: start, End: start.AddDate(0, 0, 6)}))
	before := rs.DateRange()

	require.Error(t, rs.SetDateRange(models.DateRange{Start: start, End: start.AddDate(0, 0, -3)}))
	assert.Equal(t, before, rs.DateRange())
}

func TestSettersPublishFieldChanged(t *testing.T) {
	rs, b, _, _ := newTestState(t)

	var seen []models.FieldName
	for _, f := range models.DocumentFields() {
		field := f
		b.Subscribe(bus.TopicFieldChanged(field), func(e bus.Event) {
			payload, ok := e.Payload.(models.FieldChanged)
			require.True(t, ok)
			seen = append(seen, payload.Field)
		})
	}

	rs.SetNotes("n")
	rs.SetSignature("Officer Vargas")
	require.NoError(t, rs.SetContact(models.ContactChannel{Kind: models.ContactEmail, Value: "ops@example.com"}))

	assert.Equal(t, []models.FieldName{models.FieldNotes, models.FieldSignature, models.FieldContactChannel}, seen)
}

func TestSnapshotIsDetached(t *testing.T) {
	rs, _, _, _ := newTestState(t)
	require.NoError(t, rs.SetMetrics(models.Metrics{
		Counters: map[string]models.DayCounts{"monday": {models.CategoryWeapon: 1}},
	}))

	snap := rs.Snapshot()
	snap.Metrics.Counters["monday"][models.CategoryWeapon] = 99
	snap.DailyEntries["monday"] = models.DailyEntry{Summary: "tampered"}

	assert.Equal(t, 1, rs.Metrics().Counters["monday"][models.CategoryWeapon])
	assert.Empty(t, rs.DailyEntries()["monday"].Summary)
}

func TestStateRehydratesFromDurableStore(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemoryBackend()

	st1 := store.NewStore(backend, "sess-1", time.Minute, nil)
	rs1 := New(ctx, st1, bus.New(nil), nil)
	require.NoError(t, rs1.SetClient(&models.ClientRef{ID: "c9", Name: "Pinewood Plaza"}))
	require.NoError(t, rs1.SetMetrics(models.Metrics{TotalCameras: models.IntPtr(16)}))
	rs1.SetNotes("rehydrate me")
	require.NoError(t, st1.FlushAll(ctx))

	st2 := store.NewStore(backend, "sess-1", time.Minute, nil)
	rs2 := New(ctx, st2, bus.New(nil), nil)
	require.NotNil(t, rs2.Client())
	assert.Equal(t, "c9", rs2.Client().ID)
	assert.Equal(t, 16, rs2.Metrics().CameraTotal())
	assert.Equal(t, "rehydrate me", rs2.Notes())
}

func TestSetContactRejectsUnknownKind(t *testing.T) {
	rs, _, _, _ := newTestState(t)
	assert.Error(t, rs.SetContact(models.ContactChannel{Kind: "carrier-pigeon", Value: "coo"}))
}

func TestCompletenessTracksContent(t *testing.T) {
	rs, _, _, _ := newTestState(t)

	assert.False(t, rs.FieldComplete(models.FieldClient))
	assert.False(t, rs.FieldComplete(models.FieldDailyEntries))
	assert.True(t, rs.FieldComplete(models.FieldDateRange)) // seeded with current week

	require.NoError(t, rs.SetClient(&models.ClientRef{ID: "c1", Name: "A"}))
	require.NoError(t, rs.SetDailyEntry("monday", models.DailyEntry{Summary: "x"}))
	_, err := rs.AddMedia(models.MediaItem{ObjectURI: "gs://m/1.png"})
	require.NoError(t, err)

	done := rs.Completeness()
	assert.True(t, done[models.FieldClient])
	assert.True(t, done[models.FieldDailyEntries])
	assert.True(t, done[models.FieldMediaSet])
	assert.False(t, done[models.FieldNotes])
}
