// Package v0 provides the REST API handlers for sync control and run history.
package v0

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hirepath/jobsync-server/internal/model"
	"github.com/hirepath/jobsync-server/internal/store"
	syncmgr "github.com/hirepath/jobsync-server/internal/sync"
	"github.com/hirepath/jobsync-server/internal/versions"
)

const defaultRunListLimit = 20

// SyncRequest is the optional body for a manual sync trigger
type SyncRequest struct {
	Mode string `json:"mode,omitempty"`
}

// RunResponse represents an import run in API responses
type RunResponse struct {
	ID         string           `json:"id"`
	Trigger    string           `json:"trigger"`
	Mode       string           `json:"mode"`
	Status     string           `json:"status"`
	Created    int              `json:"created"`
	Updated    int              `json:"updated"`
	Expired    int              `json:"expired"`
	Skipped    int              `json:"skipped"`
	Errored    int              `json:"errored"`
	Errors     []model.RunError `json:"errors,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// Routes defines the routes for the sync API with dependency injection
type Routes struct {
	manager syncmgr.Manager
	runs    store.RunStore
}

// NewRoutes creates a new Routes instance with the provided dependencies
func NewRoutes(manager syncmgr.Manager, runs store.RunStore) *Routes {
	return &Routes{
		manager: manager,
		runs:    runs,
	}
}

// Router creates a new router for the sync API
func Router(manager syncmgr.Manager, runs store.RunStore) http.Handler {
	routes := NewRoutes(manager, runs)

	r := chi.NewRouter()

	r.Post("/sync", routes.triggerSync)
	r.Get("/runs", routes.listRuns)
	r.Get("/runs/latest", routes.getLatestRun)
	r.Get("/runs/{id}", routes.getRun)

	return r
}

// triggerSync handles POST /api/v0/sync. The run executes synchronously and
// the response carries the finalized run summary. A second trigger while a
// run is in progress gets 409 with the holder's run ID.
func (rr *Routes) triggerSync(w http.ResponseWriter, r *http.Request) {
	mode, ok := rr.requestedMode(w, r)
	if !ok {
		return
	}

	run, err := rr.manager.RunSync(r.Context(), mode, model.TriggerManual)
	if err != nil {
		var held *store.LockHeldError
		if errors.As(err, &held) {
			rr.writeErrorResponse(w,
				"Sync already in progress, held by run "+held.HolderRunID.String(),
				http.StatusConflict)
			return
		}
		slog.Error("Manual sync failed to start", "error", err)
		rr.writeErrorResponse(w, "Failed to start sync", http.StatusInternalServerError)
		return
	}

	rr.writeJSONResponse(w, toRunResponse(run))
}

// requestedMode parses the optional mode override from the request body.
// An empty body means "use the configured default", signalled by empty mode.
func (rr *Routes) requestedMode(w http.ResponseWriter, r *http.Request) (model.SyncMode, bool) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		rr.writeErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return "", false
	}

	switch req.Mode {
	case "", string(model.SyncModeFull):
		return model.SyncModeFull, true
	case string(model.SyncModeIncremental):
		return model.SyncModeIncremental, true
	default:
		rr.writeErrorResponse(w, "Invalid sync mode: "+req.Mode, http.StatusBadRequest)
		return "", false
	}
}

// listRuns handles GET /api/v0/runs
func (rr *Routes) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			rr.writeErrorResponse(w, "Invalid limit: "+raw, http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	runs, err := rr.runs.ListRuns(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list runs", "error", err)
		rr.writeErrorResponse(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}

	responses := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		responses = append(responses, toRunResponse(run))
	}

	rr.writeJSONResponse(w, responses)
}

// getLatestRun handles GET /api/v0/runs/latest
func (rr *Routes) getLatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := rr.runs.LatestRun(r.Context())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			rr.writeErrorResponse(w, "No sync run recorded yet", http.StatusNotFound)
			return
		}
		slog.Error("Failed to get latest run", "error", err)
		rr.writeErrorResponse(w, "Failed to get latest run", http.StatusInternalServerError)
		return
	}

	rr.writeJSONResponse(w, toRunResponse(run))
}

// getRun handles GET /api/v0/runs/{id}
func (rr *Routes) getRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		rr.writeErrorResponse(w, "Invalid run ID", http.StatusBadRequest)
		return
	}

	run, err := rr.runs.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			rr.writeErrorResponse(w, "Run not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to get run", "run_id", id, "error", err)
		rr.writeErrorResponse(w, "Failed to get run", http.StatusInternalServerError)
		return
	}

	rr.writeJSONResponse(w, toRunResponse(run))
}

func toRunResponse(run *model.ImportRun) RunResponse {
	return RunResponse{
		ID:         run.ID.String(),
		Trigger:    string(run.Trigger),
		Mode:       string(run.Mode),
		Status:     string(run.Status),
		Created:    run.Counts.Created,
		Updated:    run.Counts.Updated,
		Expired:    run.Counts.Expired,
		Skipped:    run.Counts.Skipped,
		Errored:    run.Counts.Errored,
		Errors:     run.Errors,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	}
}

// HealthRouter creates a router for health check endpoints
func HealthRouter(runs store.RunStore) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	r.Get("/readiness", readinessHandler(runs))
	r.Get("/version", versionHandler)

	return r
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// readinessHandler handles readiness check requests. The service is ready
// once the run store answers queries.
func readinessHandler(runs store.RunStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := runs.ListRuns(r.Context(), 1); err != nil {
			errorResp := ErrorResponse{
				Error: "Store not ready: " + err.Error(),
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			if encodeErr := json.NewEncoder(w).Encode(errorResp); encodeErr != nil {
				slog.Error("Failed to encode readiness error response", "error", encodeErr)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	}
}

// versionHandler handles version information requests
func versionHandler(w http.ResponseWriter, _ *http.Request) {
	info := versions.GetVersionInfo()

	response := map[string]string{
		"version":    info.Version,
		"commit":     info.Commit,
		"build_date": info.BuildDate,
		"go_version": info.GoVersion,
		"platform":   info.Platform,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to encode version info", "error", err)
	}
}

// writeJSONResponse writes a JSON response with the given data
func (*Routes) writeJSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// writeErrorResponse writes a standardized error response
func (*Routes) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	errorResp := ErrorResponse{
		Error: message,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(errorResp); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}
