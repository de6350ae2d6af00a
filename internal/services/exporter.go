package services

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"time"

	"github.com/SeanSwan/reportflow/internal/bus"
	"github.com/SeanSwan/reportflow/internal/delivery"
	"github.com/SeanSwan/reportflow/internal/export"
	"github.com/SeanSwan/reportflow/internal/gcp"
	"github.com/SeanSwan/reportflow/internal/models"
	"github.com/SeanSwan/reportflow/internal/pipeline"
	"github.com/SeanSwan/reportflow/internal/render"
	"github.com/SeanSwan/reportflow/internal/state"
	"github.com/SeanSwan/reportflow/internal/store"
)

// Headless sessions have no edit bursts to coalesce, so regeneration passes
// run almost immediately.
const workerSettleDelay = 25 * time.Millisecond

// WorkerConfig holds configuration for the report-exporter service.
type WorkerConfig struct {
	StateBackend        string
	ProjectID           string
	FirestoreCollection string
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	PaperForm           export.PaperForm
	ExportDPI           float64
	ReportBucket        string
	WorkflowID          string
	WorkflowLocation    string
}

// ExportWorkerFunction renders and delivers a report for a stored session
// without any interactive wizard attached. Each request rehydrates the
// session's fields from the durable backend, regenerates the chart, renders
// the document, and hands the PDF to delivery.
type ExportWorkerFunction struct {
	backend   store.Backend
	publisher *delivery.Publisher
	geometry  export.PageGeometry
	config    WorkerConfig
}

// NewExportWorker creates a new ExportWorkerFunction instance.
func NewExportWorker(ctx context.Context) (*ExportWorkerFunction, error) {
	config := WorkerConfig{
		StateBackend:        gcp.GetEnv("STATE_BACKEND", "firestore"),
		ProjectID:           gcp.GetEnv("PROJECT_ID", ""),
		FirestoreCollection: gcp.GetEnv("FIRESTORE_COLLECTION", "report-sessions"),
		RedisAddr:           gcp.GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       gcp.GetEnv("REDIS_PASSWORD", ""),
		PaperForm:           export.PaperForm(gcp.GetEnv("PAPER_FORM", string(export.FormA4))),
		ReportBucket:        gcp.GetEnv("REPORT_BUCKET", ""),
		WorkflowID:          gcp.GetEnv("WORKFLOW_ID", ""),
		WorkflowLocation:    gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
	}
	if config.ReportBucket == "" {
		return nil, fmt.Errorf("REPORT_BUCKET environment variable must be set")
	}

	redisDB, err := strconv.Atoi(gcp.GetEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("REDIS_DB must be an integer: %w", err)
	}
	config.RedisDB = redisDB

	dpi, err := strconv.ParseFloat(gcp.GetEnv("EXPORT_DPI", "150"), 64)
	if err != nil {
		return nil, fmt.Errorf("EXPORT_DPI must be a number: %w", err)
	}
	config.ExportDPI = dpi

	geometry, err := export.NewGeometry(config.PaperForm, config.ExportDPI)
	if err != nil {
		return nil, err
	}

	backend, err := newBackend(ctx, BuilderConfig{
		StateBackend:        config.StateBackend,
		ProjectID:           config.ProjectID,
		FirestoreCollection: config.FirestoreCollection,
		RedisAddr:           config.RedisAddr,
		RedisPassword:       config.RedisPassword,
		RedisDB:             config.RedisDB,
	})
	if err != nil {
		return nil, err
	}

	publisher, err := delivery.NewPublisher(ctx, delivery.Config{
		ProjectID:        config.ProjectID,
		ReportBucket:     config.ReportBucket,
		WorkflowID:       config.WorkflowID,
		WorkflowLocation: config.WorkflowLocation,
	})
	if err != nil {
		backend.Close()
		return nil, err
	}

	return &ExportWorkerFunction{
		backend:   backend,
		publisher: publisher,
		geometry:  geometry,
		config:    config,
	}, nil
}

// Process handles one export request end to end.
func (f *ExportWorkerFunction) Process(ctx context.Context, req *models.ExportRequest) (*models.ExportResult, error) {
	if req.SessionID == "" {
		return nil, fmt.Errorf("export request is missing sessionId")
	}
	logCtx := slog.With("sessionId", req.SessionID)
	logCtx.Info("Starting headless export.")

	doc, chartImg, err := f.rehydrate(ctx, req.SessionID)
	if err != nil {
		logCtx.Error("Failed to rehydrate session.", "error", err)
		return nil, err
	}

	if err := export.Preflight(doc); err != nil {
		logCtx.Warn("Export rejected by preconditions.", "error", err)
		return nil, err
	}

	renderer := render.NewPreviewRenderer()
	renderer.Width = f.geometry.ContentWidthPx()
	var raster *image.RGBA
	err = renderer.WithOverlaysHidden(func() error {
		rendered, err := renderer.Render(ctx, doc, chartImg)
		if err != nil {
			return err
		}
		raster = rendered
		return nil
	})
	if err != nil {
		logCtx.Error("Failed to render export raster.", "error", err)
		return nil, fmt.Errorf("failed to render export raster: %w", err)
	}

	result, err := export.NewExporter(logCtx).Export(ctx, doc, raster, f.geometry)
	if err != nil {
		logCtx.Error("Export failed.", "error", err)
		return nil, err
	}

	delivered, err := f.publisher.Deliver(ctx, result, delivery.DeliverOptions{
		SplitPages: req.SplitPages,
		Bucket:     req.DeliveryBucket,
	})
	if err != nil {
		return nil, err
	}
	logCtx.Info("Headless export delivered.",
		"filename", delivered.Filename, "objectUri", delivered.ObjectURI)
	return delivered, nil
}

// rehydrate loads the session's fields from the durable backend and runs the
// chart through a short-lived pipeline so the rendered document carries a
// fresh chart. A chart that cannot be generated (for example a week with no
// incident counts) is logged and left out rather than failing the export.
func (f *ExportWorkerFunction) rehydrate(ctx context.Context, sessionID string) (models.Document, image.Image, error) {
	logger := slog.Default().With("sessionId", sessionID)

	st := store.NewStore(f.backend, sessionID, time.Second, logger)
	b := bus.New(logger)
	rs := state.New(ctx, st, b, logger)

	pipe := pipeline.New(ctx, rs, b, logger, pipeline.WithSettleDelay(workerSettleDelay))
	chartRenderer := render.NewChartRenderer()
	if err := pipe.Register(pipeline.Artifact{
		ID:     models.ArtifactChart,
		Inputs: []models.FieldName{models.FieldMetrics, models.FieldTheme},
		Capture: func(ctx context.Context, s *state.ReportState) (*image.RGBA, error) {
			return chartRenderer.Render(ctx, s.Snapshot())
		},
		Store: rs.SetChartRaster,
	}); err != nil {
		return models.Document{}, nil, err
	}
	defer pipe.Close()

	pipe.RegenerateAll()
	var chartImg image.Image
	if err := pipe.AwaitReady(ctx, models.ArtifactChart); err != nil {
		if ctx.Err() != nil {
			return models.Document{}, nil, ctx.Err()
		}
		logger.Warn("Chart unavailable for export, rendering without it.", "error", err)
	} else if img, _, ok := pipe.Raster(models.ArtifactChart); ok {
		chartImg = img
	}

	return rs.Snapshot(), chartImg, nil
}

// Close releases the shared backend and delivery clients.
func (f *ExportWorkerFunction) Close() error {
	backendErr := f.backend.Close()
	publisherErr := f.publisher.Close()
	if backendErr != nil {
		return backendErr
	}
	return publisherErr
}
