// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and the daemon.
package api

import "time"

// SubmitJobRequest is the request body for requesting a scraper run.
type SubmitJobRequest struct {
	ScraperName string `json:"scraper_name"`
	ScraperType string `json:"scraper_type"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// JobResponse represents a job in API responses.
type JobResponse struct {
	ID               string     `json:"id"`
	ScraperName      string     `json:"scraper_name"`
	ScraperType      string     `json:"scraper_type"`
	Status           string     `json:"status"`
	RequestedAt      time.Time  `json:"requested_at"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	RecordsProcessed *int64     `json:"records_processed,omitempty"`
	CreatedBy        string     `json:"created_by"`
	// DurationSeconds is set once the job has both started and completed.
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
}

// JobActionResponse is returned by approve and cancel endpoints.
type JobActionResponse struct {
	Status string      `json:"status"`
	Job    JobResponse `json:"job"`
}

// ScraperInfo describes one entry of the scraper catalog.
type ScraperInfo struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

// ScraperListResponse is the catalog listing response.
type ScraperListResponse struct {
	Scrapers []ScraperInfo `json:"scrapers"`
}

// JobListResponse wraps a plain list of jobs (pending, running).
type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// HistoryResponse is the paginated job history response.
type HistoryResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Total int           `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

// StatisticsResponse aggregates job counts by status.
type StatisticsResponse struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"by_status"`
}

// TriggerResponse is returned by the manual cron trigger endpoint.
type TriggerResponse struct {
	Submitted []JobResponse `json:"submitted"`
}

// LogEvent is one server-sent event on the log stream.
type LogEvent struct {
	JobID string `json:"job_id"`
	Line  string `json:"line"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
