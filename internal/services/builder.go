package services

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SeanSwan/reportflow/internal/bus"
	"github.com/SeanSwan/reportflow/internal/delivery"
	"github.com/SeanSwan/reportflow/internal/export"
	"github.com/SeanSwan/reportflow/internal/gcp"
	"github.com/SeanSwan/reportflow/internal/models"
	"github.com/SeanSwan/reportflow/internal/pipeline"
	"github.com/SeanSwan/reportflow/internal/render"
	"github.com/SeanSwan/reportflow/internal/stages"
	"github.com/SeanSwan/reportflow/internal/state"
	"github.com/SeanSwan/reportflow/internal/store"
)

// BuilderConfig holds configuration for the report-builder service.
type BuilderConfig struct {
	SessionID           string
	StateBackend        string
	ProjectID           string
	FirestoreCollection string
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	FlushWindow         time.Duration
	SettleDelay         time.Duration
	RosterPath          string
	PaperForm           export.PaperForm
	ExportDPI           float64
	ReportBucket        string
	WorkflowID          string
	WorkflowLocation    string
}

// ReportBuilderFunction hosts one wizard session: canonical document state,
// the stage sequencer, and the artifact pipeline, wired over a shared bus.
type ReportBuilderFunction struct {
	config    BuilderConfig
	store     *store.Store
	bus       *bus.Bus
	state     *state.ReportState
	sequencer *stages.Sequencer
	pipeline  *pipeline.Pipeline
	preview   *render.PreviewRenderer
	geometry  export.PageGeometry
	exporter  *export.Exporter
	publisher *delivery.Publisher

	exportMu sync.Mutex
}

// NewReportBuilder creates a fully wired builder from the environment.
func NewReportBuilder(ctx context.Context) (*ReportBuilderFunction, error) {
	config, err := builderConfigFromEnv()
	if err != nil {
		return nil, err
	}

	backend, err := newBackend(ctx, config)
	if err != nil {
		return nil, err
	}

	var publisher *delivery.Publisher
	if config.ReportBucket != "" {
		publisher, err = delivery.NewPublisher(ctx, delivery.Config{
			ProjectID:        config.ProjectID,
			ReportBucket:     config.ReportBucket,
			WorkflowID:       config.WorkflowID,
			WorkflowLocation: config.WorkflowLocation,
		})
		if err != nil {
			backend.Close()
			return nil, err
		}
	}

	f, err := newReportBuilder(ctx, config, backend, publisher)
	if err != nil {
		backend.Close()
		if publisher != nil {
			publisher.Close()
		}
		return nil, err
	}
	return f, nil
}

func builderConfigFromEnv() (BuilderConfig, error) {
	config := BuilderConfig{
		SessionID:           gcp.GetEnv("SESSION_ID", ""),
		StateBackend:        gcp.GetEnv("STATE_BACKEND", "memory"),
		ProjectID:           gcp.GetEnv("PROJECT_ID", ""),
		FirestoreCollection: gcp.GetEnv("FIRESTORE_COLLECTION", "report-sessions"),
		RedisAddr:           gcp.GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       gcp.GetEnv("REDIS_PASSWORD", ""),
		RosterPath:          gcp.GetEnv("STAGE_ROSTER_PATH", ""),
		PaperForm:           export.PaperForm(gcp.GetEnv("PAPER_FORM", string(export.FormA4))),
		ReportBucket:        gcp.GetEnv("REPORT_BUCKET", ""),
		WorkflowID:          gcp.GetEnv("WORKFLOW_ID", ""),
		WorkflowLocation:    gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
	}
	if config.SessionID == "" {
		config.SessionID = uuid.NewString()
	}

	redisDB, err := strconv.Atoi(gcp.GetEnv("REDIS_DB", "0"))
	if err != nil {
		return config, fmt.Errorf("REDIS_DB must be an integer: %w", err)
	}
	config.RedisDB = redisDB

	flushMs, err := strconv.Atoi(gcp.GetEnv("FLUSH_WINDOW_MS", "500"))
	if err != nil {
		return config, fmt.Errorf("FLUSH_WINDOW_MS must be an integer: %w", err)
	}
	config.FlushWindow = time.Duration(flushMs) * time.Millisecond

	settleMs, err := strconv.Atoi(gcp.GetEnv("SETTLE_DELAY_MS", "300"))
	if err != nil {
		return config, fmt.Errorf("SETTLE_DELAY_MS must be an integer: %w", err)
	}
	config.SettleDelay = time.Duration(settleMs) * time.Millisecond

	dpi, err := strconv.ParseFloat(gcp.GetEnv("EXPORT_DPI", "150"), 64)
	if err != nil {
		return config, fmt.Errorf("EXPORT_DPI must be a number: %w", err)
	}
	config.ExportDPI = dpi

	return config, nil
}

// newBackend picks the durable store named by STATE_BACKEND.
func newBackend(ctx context.Context, config BuilderConfig) (store.Backend, error) {
	switch config.StateBackend {
	case "memory":
		return store.NewMemoryBackend(), nil
	case "redis":
		return store.NewRedisBackend(ctx, config.RedisAddr, config.RedisPassword, config.RedisDB)
	case "firestore":
		if config.ProjectID == "" {
			return nil, fmt.Errorf("PROJECT_ID environment variable must be set for the firestore backend")
		}
		client, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
		if err != nil {
			return nil, err
		}
		return store.NewFirestoreBackend(client, config.FirestoreCollection), nil
	default:
		return nil, fmt.Errorf("unknown STATE_BACKEND %q (want memory, redis, or firestore)", config.StateBackend)
	}
}

// newReportBuilder wires the session graph onto an already constructed
// backend. The publisher may be nil, leaving exports local to the response.
func newReportBuilder(ctx context.Context, config BuilderConfig, backend store.Backend, publisher *delivery.Publisher) (*ReportBuilderFunction, error) {
	logger := slog.Default().With("sessionId", config.SessionID)

	roster := stages.DefaultRoster()
	if config.RosterPath != "" {
		loaded, err := stages.LoadRosterFile(config.RosterPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load stage roster: %w", err)
		}
		roster = loaded
	}

	geometry, err := export.NewGeometry(config.PaperForm, config.ExportDPI)
	if err != nil {
		return nil, err
	}

	st := store.NewStore(backend, config.SessionID, config.FlushWindow, logger)
	b := bus.New(logger)
	rs := state.New(ctx, st, b, logger)

	sequencer, err := stages.NewSequencer(roster, rs, b, logger)
	if err != nil {
		return nil, err
	}

	chartRenderer := render.NewChartRenderer()
	previewRenderer := render.NewPreviewRenderer()
	previewRenderer.Width = geometry.ContentWidthPx()

	pipe := pipeline.New(ctx, rs, b, logger, pipeline.WithSettleDelay(config.SettleDelay))
	if err := pipe.Register(pipeline.Artifact{
		ID:     models.ArtifactChart,
		Inputs: []models.FieldName{models.FieldMetrics, models.FieldTheme},
		Capture: func(ctx context.Context, s *state.ReportState) (*image.RGBA, error) {
			return chartRenderer.Render(ctx, s.Snapshot())
		},
		Store: rs.SetChartRaster,
	}); err != nil {
		return nil, err
	}
	if err := pipe.Register(pipeline.Artifact{
		ID:       models.ArtifactPreview,
		Inputs:   append(models.DocumentFields(), models.FieldChartRaster),
		Announce: models.FieldPreviewRaster,
		Capture: func(ctx context.Context, s *state.ReportState) (*image.RGBA, error) {
			chartImg, _ := s.ChartRaster()
			return previewRenderer.Render(ctx, s.Snapshot(), chartImg)
		},
	}); err != nil {
		return nil, err
	}

	f := &ReportBuilderFunction{
		config:    config,
		store:     st,
		bus:       b,
		state:     rs,
		sequencer: sequencer,
		pipeline:  pipe,
		preview:   previewRenderer,
		geometry:  geometry,
		exporter:  export.NewExporter(logger),
		publisher: publisher,
	}

	// Rehydrated sessions start with their artifacts already queued.
	pipe.RegenerateAll()
	logger.Info("Report builder initialized.",
		"backend", config.StateBackend,
		"stage", sequencer.Current().ID,
		"paperForm", config.PaperForm,
	)
	return f, nil
}

// ApplyPatch routes one field update into canonical state and returns the
// refreshed session status.
func (f *ReportBuilderFunction) ApplyPatch(ctx context.Context, req *models.PatchRequest) (*models.SessionStatus, error) {
	if err := f.applyPatch(req); err != nil {
		slog.Warn("Patch rejected.", "field", req.Field, "error", err)
		return nil, err
	}
	return f.Status(ctx), nil
}

func (f *ReportBuilderFunction) applyPatch(req *models.PatchRequest) error {
	switch req.Field {
	case models.FieldClient:
		return f.state.SetClient(req.Client)
	case models.FieldMetrics:
		if req.Metrics == nil {
			return fmt.Errorf("metrics patch is missing its payload")
		}
		return f.state.SetMetrics(*req.Metrics)
	case models.FieldDailyEntries:
		if req.Entry != nil {
			return f.state.SetDailyEntry(req.Day, *req.Entry)
		}
		return fmt.Errorf("dailyEntries patch needs day and entry")
	case models.FieldNotes:
		if req.Notes == nil {
			return fmt.Errorf("notes patch is missing its payload")
		}
		f.state.SetNotes(*req.Notes)
		return nil
	case models.FieldSignature:
		if req.Signature == nil {
			return fmt.Errorf("signature patch is missing its payload")
		}
		f.state.SetSignature(*req.Signature)
		return nil
	case models.FieldContactChannel:
		if req.Contact == nil {
			return fmt.Errorf("contactChannel patch is missing its payload")
		}
		return f.state.SetContact(*req.Contact)
	case models.FieldTheme:
		if req.Theme == nil {
			return fmt.Errorf("theme patch is missing its payload")
		}
		return f.state.SetTheme(*req.Theme)
	case models.FieldMediaSet:
		switch {
		case req.Media != nil:
			_, err := f.state.AddMedia(*req.Media)
			return err
		case req.RemoveMediaID != "":
			return f.state.RemoveMedia(req.RemoveMediaID)
		case req.MediaSet != nil:
			return f.state.SetMediaSet(req.MediaSet)
		default:
			return fmt.Errorf("mediaSet patch needs media, removeMediaId, or mediaSet")
		}
	case models.FieldDateRange:
		if req.DateRange == nil {
			return fmt.Errorf("dateRange patch is missing its payload")
		}
		return f.state.SetDateRange(*req.DateRange)
	default:
		return fmt.Errorf("unknown field %q", req.Field)
	}
}

// Navigate drives the stage sequencer. A *stages.NavigationError reports a
// refused transition; the session is unchanged in that case.
func (f *ReportBuilderFunction) Navigate(ctx context.Context, req *models.NavigateRequest) (*models.SessionStatus, error) {
	var err error
	switch req.Action {
	case "advance":
		err = f.sequencer.Advance()
	case "retreat":
		err = f.sequencer.Retreat()
	case "jump":
		err = f.sequencer.JumpTo(req.Target)
	default:
		err = fmt.Errorf("unknown navigation action %q", req.Action)
	}
	if err != nil {
		return nil, err
	}
	return f.Status(ctx), nil
}

// Status reports the full session view the wizard UI renders from.
func (f *ReportBuilderFunction) Status(ctx context.Context) *models.SessionStatus {
	current := f.sequencer.Current()
	roster := f.sequencer.Roster()

	stageStatuses := make([]models.StageStatus, 0, len(roster))
	for _, st := range roster {
		stageStatuses = append(stageStatuses, models.StageStatus{
			ID:        st.ID,
			Title:     st.Title,
			Current:   st.ID == current.ID,
			Reachable: f.sequencer.Reachable(st.ID),
		})
	}

	doc := f.state.Snapshot()
	return &models.SessionStatus{
		SessionID:  f.store.Session(),
		Stage:      current.ID,
		CanAdvance: f.sequencer.CanAdvance(),
		Stages:     stageStatuses,
		Fields:     f.state.Completeness(),
		Artifacts:  f.pipeline.Statuses(),
		Document:   &doc,
	}
}

// RetryArtifact re-queues a FAILED artifact.
func (f *ReportBuilderFunction) RetryArtifact(id models.ArtifactID) error {
	return f.pipeline.Retry(id)
}

// Export flushes pending edits, renders the document without screen overlays,
// assembles the PDF, and delivers it when a publisher is configured. The
// returned result always carries the filename and page count; the object URIs
// are present only after delivery.
func (f *ReportBuilderFunction) Export(ctx context.Context, req *models.ExportRequest) (*models.ExportResult, error) {
	f.exportMu.Lock()
	defer f.exportMu.Unlock()

	if err := f.store.FlushAll(ctx); err != nil {
		slog.Warn("Flush before export failed, proceeding with in-memory state.", "error", err)
	}

	doc := f.state.Snapshot()
	if err := export.Preflight(doc); err != nil {
		return nil, err
	}

	// The pipeline's preview carries the draft banner; exports re-render
	// clean through the same renderer.
	var raster *image.RGBA
	err := f.preview.WithOverlaysHidden(func() error {
		chartImg, _ := f.state.ChartRaster()
		rendered, err := f.preview.Render(ctx, doc, chartImg)
		if err != nil {
			return err
		}
		raster = rendered
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render export raster: %w", err)
	}

	result, err := f.exporter.Export(ctx, doc, raster, f.geometry)
	if err != nil {
		return nil, err
	}

	if f.publisher == nil {
		return &models.ExportResult{
			Filename:  result.Filename,
			PageCount: result.PageCount(),
		}, nil
	}
	return f.publisher.Deliver(ctx, result, delivery.DeliverOptions{
		SplitPages: req.SplitPages,
		Bucket:     req.DeliveryBucket,
	})
}

// Close flushes outstanding edits and releases every underlying resource.
func (f *ReportBuilderFunction) Close(ctx context.Context) error {
	f.pipeline.Close()
	flushErr := f.store.FlushAll(ctx)
	closeErr := f.store.Close()
	if f.publisher != nil {
		if err := f.publisher.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
	}
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
