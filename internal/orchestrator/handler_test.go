package orchestrator

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"hls-archiver/internal/hls"

	"github.com/go-chi/chi/v5"
)

func newTestHandler(t *testing.T) (*Handler, *InMemoryRepository) {
	t.Helper()
	repo := NewInMemoryRepository()
	svc := NewService(repo, nil, Options{Dir: t.TempDir()}, testLogger())
	return NewHandler(svc, testLogger()), repo
}

func newTestRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func TestHandler_ListJobs(t *testing.T) {
	h, repo := newTestHandler(t)
	r := newTestRouter(h)

	t.Run("empty", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
		if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
			t.Errorf("expected empty array, got %q", got)
		}
	})

	repo.CreateJob("a", "https://example.com/a.m3u8")
	repo.CreateJob("b", "https://example.com/b.m3u8")

	t.Run("jobs", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %q", ct)
		}
		var jobs []Job
		if err := json.Unmarshal(rec.Body.Bytes(), &jobs); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(jobs) != 2 || jobs[0].Name != "a" || jobs[1].Name != "b" {
			t.Errorf("unexpected jobs %+v", jobs)
		}
	})
}

func TestHandler_GetJob(t *testing.T) {
	h, repo := newTestHandler(t)
	r := newTestRouter(h)
	job := repo.CreateJob("a", "https://example.com/a.m3u8")
	repo.UpdateJob(job.ID, func(j *Job) {
		j.Status = StatusFailed
		j.Error = "boom"
	})

	t.Run("found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/jobs/"+string(job.ID), nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var got Job
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.ID != job.ID || got.Status != StatusFailed || got.Error != "boom" {
			t.Errorf("unexpected job %+v", got)
		}
		if got.FinishedAt == nil {
			t.Error("expected finished_at in response")
		}
	})

	t.Run("not_found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/jobs/missing", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}

func TestHandler_GetFormats(t *testing.T) {
	h, repo := newTestHandler(t)
	r := newTestRouter(h)
	job := repo.CreateJob("a", "")
	repo.UpdateJob(job.ID, func(j *Job) {
		j.Formats = []hls.Rendition{{
			Media:  hls.Media{Name: "Source"},
			Format: hls.Format{Bandwidth: 6000000, Resolution: "1920x1080"},
		}}
	})

	t.Run("table", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/jobs/"+string(job.ID)+"/formats", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != formatsContentType {
			t.Errorf("expected %q, got %q", formatsContentType, ct)
		}
		body := rec.Body.String()
		if !strings.HasPrefix(body, "NAME") {
			t.Errorf("expected table header, got %q", body)
		}
		if !strings.Contains(body, "1920x1080") || !strings.Contains(body, "6000k") {
			t.Errorf("expected rendition row, got %q", body)
		}
	})

	t.Run("not_found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/jobs/missing/formats", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}
