// Package store contains the persistence layer for scraperd.
package store

import "time"

// JobStatus represents the lifecycle state of a scraper job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusApproved  JobStatus = "approved"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// AllStatuses lists every job status in lifecycle order.
var AllStatuses = []JobStatus{
	JobStatusPending, JobStatusApproved, JobStatusRunning,
	JobStatusCompleted, JobStatusFailed, JobStatusCancelled,
}

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusApproved, JobStatusRunning,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal status. No transition
// leaves a terminal status.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job represents a single requested execution of one scraper.
type Job struct {
	ID          string
	ScraperName string // display name, e.g. "FairHealth Physician"
	ScraperType string // module name, e.g. "Fair_Health_Physicians"
	Status      JobStatus

	RequestedAt time.Time
	ApprovedAt  *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	ContainerID      *string
	ErrorMessage     *string
	RecordsProcessed *int64

	CreatedBy string
	UpdatedAt time.Time
}

// JobUpdate is a partial update applied to a stored job. Nil fields are
// left untouched. ClearContainerID removes the container reference once
// the container has been reclaimed.
type JobUpdate struct {
	Status           *JobStatus
	ApprovedAt       *time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
	ContainerID      *string
	ClearContainerID bool
	ErrorMessage     *string
	RecordsProcessed *int64
}

// ListFilter narrows and pages job history queries.
type ListFilter struct {
	ScraperName string
	Status      JobStatus
	Page        int // 1-based
	Limit       int
}
