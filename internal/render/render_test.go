package render

import (
	"context"
	"errors"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SeanSwan/reportflow/internal/models"
)

func testNow() time.Time {
	return time.Date(2026, time.January, 8, 9, 0, 0, 0, time.UTC)
}

func chartedDoc() models.Document {
	doc := models.DefaultDocument(testNow())
	doc.Metrics = models.Metrics{
		TotalCameras:  models.IntPtr(12),
		CamerasOnline: models.IntPtr(11),
		Counters: map[string]models.DayCounts{
			"monday":  {models.CategoryTrespassing: 2},
			"tuesday": {models.CategoryVandalism: 1},
		},
	}
	return doc
}

func TestChartRendererProducesRasterAtConfiguredSize(t *testing.T) {
	r := NewChartRenderer()

	img, err := r.Render(context.Background(), chartedDoc())

	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, r.Width, img.Bounds().Dx())
	assert.Equal(t, r.Height, img.Bounds().Dy())
}

func TestChartRendererRejectsAllZeroCounters(t *testing.T) {
	r := NewChartRenderer()
	doc := models.DefaultDocument(testNow())
	doc.Metrics = models.Metrics{TotalCameras: models.IntPtr(12)}

	img, err := r.Render(context.Background(), doc)

	require.ErrorIs(t, err, ErrNoChartData)
	assert.Nil(t, img)
}

func TestChartRendererHonorsCancelledContext(t *testing.T) {
	r := NewChartRenderer()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Render(ctx, chartedDoc())

	require.ErrorIs(t, err, context.Canceled)
}

func TestPreviewRendererPaintsHeaderInThemePrimary(t *testing.T) {
	r := NewPreviewRenderer()
	doc := models.DefaultDocument(testNow())
	doc.Client = &models.ClientRef{ID: "c1", Name: "Northgate Plaza"}

	img, err := r.Render(context.Background(), doc, nil)

	require.NoError(t, err)
	require.Equal(t, DefaultPreviewWidth, img.Bounds().Dx())
	// The default primary is #1f2a44 and default opacity is opaque.
	assert.Equal(t, color.RGBA{R: 0x1f, G: 0x2a, B: 0x44, A: 0xff}, img.RGBAAt(5, 5))
}

func TestPreviewRendererAppliesThemeColorOverride(t *testing.T) {
	r := NewPreviewRenderer()
	doc := models.DefaultDocument(testNow())
	doc.Client = &models.ClientRef{ID: "c1", Name: "Northgate Plaza"}
	doc.Theme = models.Theme{Colors: map[string]string{"primary": "#102030"}}

	img, err := r.Render(context.Background(), doc, nil)

	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 0x10, G: 0x20, B: 0x30, A: 0xff}, img.RGBAAt(5, 5))
}

func TestPreviewRendererOverlayBandAddsHeight(t *testing.T) {
	r := NewPreviewRenderer()
	doc := chartedDoc()
	doc.Client = &models.ClientRef{ID: "c1", Name: "Northgate Plaza"}
	doc.Notes = "Quiet week across the property with routine patrols on schedule."

	withOverlay, err := r.Render(context.Background(), doc, nil)
	require.NoError(t, err)

	var withoutOverlay int
	err = r.WithOverlaysHidden(func() error {
		img, renderErr := r.Render(context.Background(), doc, nil)
		if renderErr != nil {
			return renderErr
		}
		withoutOverlay = img.Bounds().Dy()
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, withOverlay.Bounds().Dy()-int(overlayBandH), withoutOverlay)
}

func TestWithOverlaysHiddenRestoresPreviousSettingOnFailure(t *testing.T) {
	r := NewPreviewRenderer()
	doc := chartedDoc()
	doc.Client = &models.ClientRef{ID: "c1", Name: "Northgate Plaza"}
	doc.Notes = "Quiet week across the property with routine patrols on schedule."

	before, err := r.Render(context.Background(), doc, nil)
	require.NoError(t, err)

	boom := errors.New("capture failed")
	err = r.WithOverlaysHidden(func() error { return boom })
	require.ErrorIs(t, err, boom)

	after, err := r.Render(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, before.Bounds().Dy(), after.Bounds().Dy(),
		"overlay band should be back after the scoped call fails")
}

func TestPreviewRendererEmbedsChartRaster(t *testing.T) {
	chartRenderer := NewChartRenderer()
	chartImg, err := chartRenderer.Render(context.Background(), chartedDoc())
	require.NoError(t, err)

	r := NewPreviewRenderer()
	doc := chartedDoc()
	doc.Client = &models.ClientRef{ID: "c1", Name: "Northgate Plaza"}

	bare, err := r.Render(context.Background(), doc, nil)
	require.NoError(t, err)
	withChart, err := r.Render(context.Background(), doc, chartImg)
	require.NoError(t, err)

	expected := bare.Bounds().Dy() + chartImg.Bounds().Dy() + int(sectionGap)
	assert.Equal(t, expected, withChart.Bounds().Dy())
}

func TestPreviewRendererGrowsWithContent(t *testing.T) {
	r := NewPreviewRenderer()
	doc := chartedDoc()
	doc.Client = &models.ClientRef{ID: "c1", Name: "Northgate Plaza"}

	short, err := r.Render(context.Background(), doc, nil)
	require.NoError(t, err)

	doc.MediaSet = []models.MediaItem{
		{ID: "m1", Kind: models.MediaImage, ObjectURI: "gs://b/lot.png", Caption: "North lot"},
		{ID: "m2", Kind: models.MediaClip, ObjectURI: "gs://b/gate.mp4", Caption: "Gate cam"},
	}
	doc.Signature = "J. Alvarez"
	doc.ContactChannel = models.ContactChannel{Kind: models.ContactEmail, Value: "ops@example.com"}

	long, err := r.Render(context.Background(), doc, nil)
	require.NoError(t, err)

	assert.Greater(t, long.Bounds().Dy(), short.Bounds().Dy())
}

func TestPreviewRendererToleratesMissingClient(t *testing.T) {
	r := NewPreviewRenderer()

	img, err := r.Render(context.Background(), models.DefaultDocument(testNow()), nil)

	require.NoError(t, err)
	require.NotNil(t, img)
}
