// Package server exposes the per-session analysis record and diagnostic
// report over HTTP for the inspection UI and automation collaborators.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/dshills/calltriage/internal/logger"
	"github.com/dshills/calltriage/internal/pipeline"
	"github.com/dshills/calltriage/internal/trace"
	"github.com/dshills/calltriage/internal/truth"
)

// Handler serves the analysis API.
type Handler struct {
	pipe *pipeline.Pipeline
	log  *logger.Logger
}

// NewHandler builds the API handler.
func NewHandler(pipe *pipeline.Pipeline, log *logger.Logger) *Handler {
	return &Handler{pipe: pipe, log: log}
}

// Router assembles the chi route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Route("/api/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/analysis", h.getAnalysis)
		r.Post("/diagnosis", h.postDiagnosis)
		r.Post("/experts/{expertName}", h.postExpert)
	})
	return r
}

// getAnalysis returns the session's analysis record, recomputing when
// ?refresh=true. Partial pipeline failures still return a record; only an
// unknown session or an auth failure yield an error status.
func (h *Handler) getAnalysis(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	force := r.URL.Query().Get("refresh") == "true"

	rec, err := h.pipe.Analyze(r.Context(), sessionID, force)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// diagnosisRequest optionally pins the failure timestamp used for deploy
// correlation.
type diagnosisRequest struct {
	FailedAt *time.Time `json:"failed_at,omitempty"`
}

func (h *Handler) postDiagnosis(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req diagnosisRequest
	if r.Body != nil {
		// An empty or malformed body simply means no pinned timestamp.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	report, err := h.pipe.Diagnose(r.Context(), sessionID, req.FailedAt)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// postExpert invokes a single expert directly, bypassing routing. Supported
// for manual troubleshooting.
func (h *Handler) postExpert(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	expertName := chi.URLParam(r, "expertName")

	result, err := h.pipe.RunExpert(r.Context(), sessionID, expertName)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeError maps the fatal error taxonomy onto HTTP statuses: unknown
// session is the 404-equivalent, auth failures are 502s because the fault is
// an upstream credential, everything else is a 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	entry := h.log.WithRequest(r).WithField("error", err.Error())
	switch {
	case errors.Is(err, trace.ErrSessionNotFound):
		entry.Info("session not found")
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
	case errors.Is(err, trace.ErrAuthFailed), errors.Is(err, truth.ErrAuthFailed):
		entry.Error("external authentication failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "external authentication failed"})
	default:
		entry.Error("analysis failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}
