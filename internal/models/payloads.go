package models

import "time"

// These structs define the payloads carried on the in-process bus and the
// JSON bodies exchanged with the report-builder and report-exporter functions.

// ArtifactID names one derived raster managed by the artifact pipeline.
type ArtifactID string

const (
	ArtifactChart   ArtifactID = "chart"
	ArtifactPreview ArtifactID = "preview"
)

// ArtifactState is the lifecycle state of a derived raster.
type ArtifactState string

const (
	ArtifactMissing    ArtifactState = "MISSING"
	ArtifactGenerating ArtifactState = "GENERATING"
	ArtifactReady      ArtifactState = "READY"
	ArtifactStale      ArtifactState = "STALE"
	ArtifactFailed     ArtifactState = "FAILED"
)

// StageID names one step of the editing wizard.
type StageID string

const (
	StageClient    StageID = "client"
	StageMetrics   StageID = "metrics"
	StageNarrative StageID = "narrative"
	StageMedia     StageID = "media"
	StageTheme     StageID = "theme"
	StageDelivery  StageID = "delivery"
	StagePreview   StageID = "preview"
	StageExport    StageID = "export"
)

// FieldChanged announces that one document field holds a new value.
type FieldChanged struct {
	Field FieldName `json:"field"`
	At    time.Time `json:"at"`
}

// NavigationRequested is published before a stage transition commits, giving
// subscribers one synchronous turn to flush pending edits into state.
type NavigationRequested struct {
	From StageID `json:"from"`
	To   StageID `json:"to"`
}

// RegenerateRequest asks the pipeline for a fresh pass over one artifact,
// or over all artifacts when Artifact is empty.
type RegenerateRequest struct {
	Artifact ArtifactID `json:"artifact,omitempty"`
}

// ArtifactChanged reports a lifecycle transition of one derived raster.
type ArtifactChanged struct {
	Artifact    ArtifactID    `json:"artifact"`
	State       ArtifactState `json:"state"`
	Fingerprint string        `json:"fingerprint,omitempty"`
	Err         string        `json:"error,omitempty"`
}

// PatchRequest is the body of the apply-patch endpoint. Field selects which
// member carries the update.
type PatchRequest struct {
	Field         FieldName       `json:"field"`
	Client        *ClientRef      `json:"client,omitempty"`
	Metrics       *Metrics        `json:"metrics,omitempty"`
	Day           string          `json:"day,omitempty"`
	Entry         *DailyEntry     `json:"entry,omitempty"`
	Notes         *string         `json:"notes,omitempty"`
	Signature     *string         `json:"signature,omitempty"`
	Contact       *ContactChannel `json:"contact,omitempty"`
	Theme         *Theme          `json:"theme,omitempty"`
	Media         *MediaItem      `json:"media,omitempty"`
	RemoveMediaID string          `json:"removeMediaId,omitempty"`
	MediaSet      []MediaItem     `json:"mediaSet,omitempty"`
	DateRange     *DateRange      `json:"dateRange,omitempty"`
}

// NavigateRequest drives the stage sequencer.
type NavigateRequest struct {
	Action string  `json:"action"` // "advance", "retreat", or "jump"
	Target StageID `json:"target,omitempty"`
}

// StageStatus is one roster entry in a status response.
type StageStatus struct {
	ID        StageID `json:"id"`
	Title     string  `json:"title"`
	Current   bool    `json:"current"`
	Reachable bool    `json:"reachable"`
}

// ArtifactStatus is one pipeline entry in a status response.
type ArtifactStatus struct {
	Artifact    ArtifactID    `json:"artifact"`
	State       ArtifactState `json:"state"`
	Fingerprint string        `json:"fingerprint,omitempty"`
	Attempts    int           `json:"attempts"`
	Err         string        `json:"error,omitempty"`
}

// SessionStatus is the response of the status endpoint.
type SessionStatus struct {
	SessionID  string              `json:"sessionId"`
	Stage      StageID             `json:"stage"`
	CanAdvance bool                `json:"canAdvance"`
	Stages     []StageStatus       `json:"stages"`
	Fields     map[FieldName]bool  `json:"fields"`
	Artifacts  []ArtifactStatus    `json:"artifacts"`
	Document   *Document           `json:"document,omitempty"`
}

// ExportRequest is the input of the report-exporter function and of the
// builder's export endpoint.
type ExportRequest struct {
	SessionID      string `json:"sessionId"`
	DeliveryBucket string `json:"deliveryBucket,omitempty"`
	SplitPages     bool   `json:"splitPages,omitempty"`
}

// ExportResult reports a completed export.
type ExportResult struct {
	Filename  string   `json:"filename"`
	PageCount int      `json:"pageCount"`
	ObjectURI string   `json:"objectUri,omitempty"`
	PageURIs  []string `json:"pageUris,omitempty"`
}
