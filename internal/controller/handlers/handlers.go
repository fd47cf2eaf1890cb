// Package handlers contains HTTP handlers for the scraperd API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"scraperd/internal/logstream"
	"scraperd/internal/orchestrator"
	"scraperd/internal/store"
	"scraperd/pkg/api"
)

// Orchestrator is the job control surface the handlers depend on.
type Orchestrator interface {
	Submit(ctx context.Context, scraperName, scraperType, createdBy string) (*store.Job, error)
	Approve(ctx context.Context, id string) (*store.Job, error)
	Cancel(ctx context.Context, id string) (*store.Job, error)
	GetStatus(ctx context.Context, id string) (*store.Job, error)
	ListByStatus(ctx context.Context, status store.JobStatus) ([]*store.Job, error)
	History(ctx context.Context, filter store.ListFilter) ([]*store.Job, int64, error)
	Statistics(ctx context.Context) (map[store.JobStatus]int64, error)
	AttachLogs(ctx context.Context, id string) (*logstream.Subscription, error)
}

// Trigger submits the full catalog as pending jobs, which still need
// approval like any other request. Implemented by the scheduler.
type Trigger interface {
	Trigger(ctx context.Context) []*store.Job
}

// Pinger reports database health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	orch    Orchestrator
	trigger Trigger
	db      Pinger
	logger  *slog.Logger
}

// New creates a new Handlers instance.
func New(orch Orchestrator, trigger Trigger, db Pinger, logger *slog.Logger) *Handlers {
	return &Handlers{orch: orch, trigger: trigger, db: db, logger: logger}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// orchestratorError maps orchestrator errors onto HTTP status codes.
func (h *Handlers) orchestratorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrNotFound):
		h.httpError(w, "Job not found", http.StatusNotFound)
	case errors.Is(err, orchestrator.ErrInvalidTransition):
		h.httpError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, orchestrator.ErrInvalidScraper):
		h.httpError(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("request failed", "error", err)
		h.httpError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func toJobResponse(j *store.Job) api.JobResponse {
	resp := api.JobResponse{
		ID:               j.ID,
		ScraperName:      j.ScraperName,
		ScraperType:      j.ScraperType,
		Status:           string(j.Status),
		RequestedAt:      j.RequestedAt,
		ApprovedAt:       j.ApprovedAt,
		StartedAt:        j.StartedAt,
		CompletedAt:      j.CompletedAt,
		ErrorMessage:     j.ErrorMessage,
		RecordsProcessed: j.RecordsProcessed,
		CreatedBy:        j.CreatedBy,
	}
	if j.StartedAt != nil && j.CompletedAt != nil {
		d := j.CompletedAt.Sub(*j.StartedAt).Seconds()
		resp.DurationSeconds = &d
	}
	return resp
}

func toJobResponses(jobs []*store.Job) []api.JobResponse {
	out := make([]api.JobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobResponse(j))
	}
	return out
}
