// Package api provides HTTP API handlers for reviewing and starting runs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ayusman/handkp/internal/app"
	"github.com/ayusman/handkp/internal/capture"
	"github.com/ayusman/handkp/internal/keypoints"
	"github.com/ayusman/handkp/internal/store"
)

// Runner is the part of app.App the handlers need.
type Runner interface {
	History(limit int) ([]*store.Run, error)
	Lookup(id string) (*store.Run, *keypoints.Document, error)
	Preview(runID, filename string) ([]byte, error)
	Start(ctx context.Context) (string, error)
	Busy() bool
}

// RunsHandler handles HTTP requests for run resources.
type RunsHandler struct {
	runner Runner
	// ctx bounds runs started through the API.
	ctx context.Context
}

// NewRunsHandler creates a new RunsHandler. Runs started by POST use ctx
// rather than the request context.
func NewRunsHandler(ctx context.Context, r Runner) *RunsHandler {
	return &RunsHandler{runner: r, ctx: ctx}
}

// ServeHTTP routes /api/runs, /api/runs/{id} and
// /api/runs/{id}/preview/{filename}.
func (h *RunsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/runs")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		// Collection endpoint: /api/runs
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodPost:
			h.start(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, rest, _ := strings.Cut(path, "/")
	switch {
	case rest == "":
		h.get(w, r, id)
	case strings.HasPrefix(rest, "preview/") && len(rest) > len("preview/"):
		h.preview(w, r, id, strings.TrimPrefix(rest, "preview/"))
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

// Request and response types

type runResponse struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Status     string `json:"status"`
	InputDir   string `json:"input_dir"`
	OutputDir  string `json:"output_dir,omitempty"`
	Artifact   string `json:"artifact"`
	Images     int    `json:"images"`
	Hands      int    `json:"hands"`
	Skipped    int    `json:"skipped"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
}

type listRunsResponse struct {
	Runs []runResponse `json:"runs"`
}

type runDetailResponse struct {
	Run      runResponse         `json:"run"`
	Document *keypoints.Document `json:"document"`
}

type startRunResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// toResponse converts a store.Run to a runResponse.
func toResponse(run *store.Run) runResponse {
	resp := runResponse{
		ID:        run.ID,
		Kind:      string(run.Kind),
		Status:    string(run.Status),
		InputDir:  run.InputDir,
		OutputDir: run.OutputDir,
		Artifact:  run.Artifact,
		Images:    run.Images,
		Hands:     run.Hands,
		Skipped:   run.Skipped,
		Error:     run.Error,
		StartedAt: run.StartedAt.Format(time.RFC3339),
	}
	if run.FinishedAt != nil {
		resp.FinishedAt = run.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// statusFor maps lookup errors to HTTP status codes.
func statusFor(err error) int {
	var loadErr *capture.LoadError
	var validationErr *keypoints.ValidationError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, app.ErrUnknownImage), errors.As(err, &loadErr):
		return http.StatusNotFound
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrNoHistory):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// list handles GET /api/runs and returns recorded runs, newest first.
func (h *RunsHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := h.runner.History(limit)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	response := listRunsResponse{
		Runs: make([]runResponse, 0, len(runs)),
	}
	for _, run := range runs {
		response.Runs = append(response.Runs, toResponse(run))
	}

	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/runs/{id} and returns the run with its document.
func (h *RunsHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	run, doc, err := h.runner.Lookup(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Run not found")
			return
		}
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, runDetailResponse{Run: toResponse(run), Document: doc})
}

// preview handles GET /api/runs/{id}/preview/{filename} and returns the
// annotated image as PNG.
func (h *RunsHandler) preview(w http.ResponseWriter, r *http.Request, id, filename string) {
	data, err := h.runner.Preview(id, filename)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// start handles POST /api/runs and begins a combined run in the background.
func (h *RunsHandler) start(w http.ResponseWriter, r *http.Request) {
	id, err := h.runner.Start(h.ctx)
	if err != nil {
		if errors.Is(err, app.ErrBusy) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Location", "/api/runs/"+id)
	writeJSON(w, http.StatusAccepted, startRunResponse{ID: id})
}
