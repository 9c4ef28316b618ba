package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"adlens/internal/analysis"
	"adlens/internal/database"
	"adlens/internal/dataset"
	"adlens/internal/exposure"
	"adlens/internal/pipeline"
)

func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

type App struct {
	Pipeline *pipeline.Pipeline
	Runs     *database.RunRepository
	Logger   *zap.Logger
}

// AnalyzeRunHandler kicks off a full analysis of one scraped run and blocks
// until the report is written. Query params: top_n, sort_by, and mode
// (local or ngrok) override the configured defaults.
func (app *App) AnalyzeRunHandler(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if runID == "" {
		app.respondError(w, http.StatusBadRequest, "", "run id is required")
		return
	}

	params := pipeline.RunParams{RunID: runID}
	if raw := r.URL.Query().Get("top_n"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			app.respondError(w, http.StatusBadRequest, runID, "top_n must be a positive integer")
			return
		}
		params.TopN = n
	}
	if sortBy := r.URL.Query().Get("sort_by"); sortBy != "" {
		params.SortKey = sortBy
	}
	switch mode := r.URL.Query().Get("mode"); mode {
	case "":
	case "local":
		tunnel := false
		params.Tunnel = &tunnel
	case "ngrok":
		tunnel := true
		params.Tunnel = &tunnel
	default:
		app.respondError(w, http.StatusBadRequest, runID, "mode must be local or ngrok")
		return
	}

	rep, err := app.Pipeline.Run(r.Context(), params)
	if err != nil {
		app.respondJSON(w, analysisErrorStatus(err), pipeline.Failure(runID, err))
		return
	}
	app.respondJSON(w, http.StatusOK, rep)
}

// ListReportsHandler returns the most recent analysis runs from the index.
func (app *App) ListReportsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	runs, err := app.Runs.ListRecent(r.Context(), limit)
	if err != nil {
		app.Logger.Error("failed to list analysis runs", zap.Error(err))
		app.respondError(w, http.StatusInternalServerError, "", "failed to list reports")
		return
	}
	if runs == nil {
		runs = []database.AnalysisRun{}
	}
	app.respondJSON(w, http.StatusOK, runs)
}

// GetReportHandler serves the most recent report written for a run, straight
// from the report file on disk.
func (app *App) GetReportHandler(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := app.Runs.LatestByRunID(r.Context(), runID)
	if err != nil {
		app.Logger.Error("failed to look up analysis run", zap.Error(err))
		app.respondError(w, http.StatusInternalServerError, runID, "failed to look up report")
		return
	}
	if run == nil || run.ReportPath == "" {
		app.respondError(w, http.StatusNotFound, runID, "no report found for run")
		return
	}

	data, err := os.ReadFile(run.ReportPath)
	if err != nil {
		app.respondError(w, http.StatusNotFound, runID, "report file is missing")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func analysisErrorStatus(err error) int {
	switch {
	case errors.Is(err, dataset.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, analysis.ErrProvider):
		return http.StatusBadGateway
	case errors.Is(err, exposure.ErrExposure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (app *App) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		app.Logger.Error("failed to encode response", zap.Error(err))
	}
}

func (app *App) respondError(w http.ResponseWriter, status int, runID, message string) {
	app.respondJSON(w, status, map[string]string{
		"status":  "error",
		"run_id":  runID,
		"message": message,
	})
}
