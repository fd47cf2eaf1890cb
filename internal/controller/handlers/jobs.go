package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"scraperd/internal/store"
	"scraperd/pkg/api"
)

// SubmitJob handles POST /api/scraper/request.
// Creates a job in pending state; it will not run until approved.
func (h *Handlers) SubmitJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ScraperName == "" {
		h.httpError(w, "scraper_name is required", http.StatusBadRequest)
		return
	}

	job, err := h.orch.Submit(ctx, req.ScraperName, req.ScraperType, req.RequestedBy)
	if err != nil {
		h.orchestratorError(w, err)
		return
	}
	h.respondJson(w, http.StatusOK, toJobResponse(job))
}

// ListPending handles GET /api/scraper/pending.
func (h *Handlers) ListPending(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.orch.ListByStatus(r.Context(), store.JobStatusPending)
	if err != nil {
		h.orchestratorError(w, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.JobListResponse{Jobs: toJobResponses(jobs)})
}

// ListRunning handles GET /api/scraper/running.
func (h *Handlers) ListRunning(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.orch.ListByStatus(r.Context(), store.JobStatusRunning)
	if err != nil {
		h.orchestratorError(w, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.JobListResponse{Jobs: toJobResponses(jobs)})
}

// ApproveJob handles POST /api/scraper/approve/{id}.
// Approved jobs enter the admission queue and start when a slot frees up.
func (h *Handlers) ApproveJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.orch.Approve(r.Context(), r.PathValue("id"))
	if err != nil {
		h.orchestratorError(w, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.JobActionResponse{
		Status: "approved",
		Job:    toJobResponse(job),
	})
}

// DismissJob handles POST /api/scraper/dismiss/{id}.
// Cancels a pending, approved or running job.
func (h *Handlers) DismissJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.orch.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		h.orchestratorError(w, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.JobActionResponse{
		Status: "cancelled",
		Job:    toJobResponse(job),
	})
}

// GetJob handles GET /api/scraper/job/{id}.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.orch.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		h.orchestratorError(w, err)
		return
	}
	h.respondJson(w, http.StatusOK, toJobResponse(job))
}

// History handles GET /api/scraper/history with optional
// scraper_name, status, page and limit query parameters.
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.ListFilter{
		ScraperName: q.Get("scraper_name"),
		Page:        1,
		Limit:       20,
	}
	if s := q.Get("status"); s != "" {
		status := store.JobStatus(s)
		if !status.Valid() {
			h.httpError(w, "Invalid status filter", http.StatusBadRequest)
			return
		}
		filter.Status = status
	}
	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		filter.Page = p
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= 100 {
		filter.Limit = l
	}

	jobs, total, err := h.orch.History(r.Context(), filter)
	if err != nil {
		h.orchestratorError(w, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.HistoryResponse{
		Jobs:  toJobResponses(jobs),
		Total: int(total),
		Page:  filter.Page,
		Limit: filter.Limit,
	})
}

// Statistics handles GET /api/scraper/statistics.
func (h *Handlers) Statistics(w http.ResponseWriter, r *http.Request) {
	counts, err := h.orch.Statistics(r.Context())
	if err != nil {
		h.orchestratorError(w, err)
		return
	}

	resp := api.StatisticsResponse{ByStatus: make(map[string]int64)}
	for _, s := range store.AllStatuses {
		resp.ByStatus[string(s)] = counts[s]
		resp.Total += counts[s]
	}
	h.respondJson(w, http.StatusOK, resp)
}

// TriggerCron handles POST /api/cron/trigger.
// Submits every catalog scraper immediately, skipping approval.
func (h *Handlers) TriggerCron(w http.ResponseWriter, r *http.Request) {
	jobs := h.trigger.Trigger(r.Context())
	h.respondJson(w, http.StatusOK, api.TriggerResponse{
		Submitted: toJobResponses(jobs),
	})
}
