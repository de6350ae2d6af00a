package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/SeanSwan/reportflow/internal/export"
	"github.com/SeanSwan/reportflow/internal/gcp"
	"github.com/SeanSwan/reportflow/internal/models"
	"github.com/SeanSwan/reportflow/internal/services"
	"github.com/SeanSwan/reportflow/internal/stages"
)

var (
	builderInstance *services.ReportBuilderFunction
	once            sync.Once
	initErr         error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("ReportBuilder", handleReportBuilder)
}

func main() {
	port := gcp.GetEnv("PORT", "8080")
	if err := funcframework.Start(port); err != nil {
		slog.Error("Functions framework failed to start", "error", err)
		os.Exit(1)
	}
}

// handleReportBuilder routes the session API. One wizard session lives in
// this process; the deployment platform pins each active session to its own
// instance.
func handleReportBuilder(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		builderInstance, initErr = services.NewReportBuilder(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Report builder initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	switch r.URL.Path {
	case "/status":
		writeJSON(w, builderInstance.Status(r.Context()))
	case "/patch":
		handlePatch(w, r)
	case "/navigate":
		handleNavigate(w, r)
	case "/artifacts/retry":
		handleRetry(w, r)
	case "/export":
		handleExport(w, r)
	default:
		http.Error(w, "Not Found", http.StatusNotFound)
	}
}

func handlePatch(w http.ResponseWriter, r *http.Request) {
	var req models.PatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status, err := builderInstance.ApplyPatch(r.Context(), &req)
	if err != nil {
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, status)
}

func handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req models.NavigateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status, err := builderInstance.Navigate(r.Context(), &req)
	if err != nil {
		var navErr *stages.NavigationError
		if errors.As(err, &navErr) {
			http.Error(w, navErr.Error(), http.StatusConflict)
			return
		}
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, status)
}

func handleRetry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Artifact models.ArtifactID `json:"artifact"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := builderInstance.RetryArtifact(req.Artifact); err != nil {
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, builderInstance.Status(r.Context()))
}

func handleExport(w http.ResponseWriter, r *http.Request) {
	var req models.ExportRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := builderInstance.Export(r.Context(), &req)
	if err != nil {
		if errors.Is(err, export.ErrExportPrecondition) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		// Error is already logged with context in the Export method.
		http.Error(w, "Internal Server Error: export failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, result)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		slog.Warn("Could not decode request body", "error", err, "path", r.URL.Path)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
		http.Error(w, "Internal Server Error: failed to encode response", http.StatusInternalServerError)
	}
}
