package orchestrator

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

const formatsContentType = "text/plain; charset=utf-8"

// Handler exposes read-only job status endpoints using go-chi.
type Handler struct {
	svc *Service
	log *slog.Logger
}

// NewHandler returns a Handler that uses the given Service and Logger.
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// Routes mounts the job endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/jobs", h.ListJobs)
	r.Route("/jobs/{job_id}", func(r chi.Router) {
		r.Get("/", h.GetJob)
		r.Get("/formats", h.GetFormats)
	})
}

// ListJobs handles GET /jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.svc.Jobs())
}

// GetJob handles GET /jobs/{job_id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := JobID(chi.URLParam(r, "job_id"))
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	job, ok := h.svc.Job(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h.writeJSON(w, job)
}

// GetFormats handles GET /jobs/{job_id}/formats and returns the resolved
// renditions as a text table.
func (h *Handler) GetFormats(w http.ResponseWriter, r *http.Request) {
	id := JobID(chi.URLParam(r, "job_id"))
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	job, ok := h.svc.Job(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", formatsContentType)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(FormatTable(job.Formats)))
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		h.log.Error("encode response failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
