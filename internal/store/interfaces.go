package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no job exists with the requested id.
var ErrNotFound = errors.New("job not found")

// JobStore handles the persistence of scraper jobs. It is the single
// source of truth for job state: a status transition is visible to
// readers only after Update has returned successfully.
type JobStore interface {
	// Create inserts a new job record.
	Create(ctx context.Context, job *Job) error

	// Get returns a job by its id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Job, error)

	// Update applies a partial update to a job and returns the updated
	// record. Returns ErrNotFound if the job does not exist.
	Update(ctx context.Context, id string, patch JobUpdate) (*Job, error)

	// ListByStatus returns all jobs with the given status, ordered for
	// admission: approved_at first, then id as tie-breaker.
	ListByStatus(ctx context.Context, status JobStatus) ([]*Job, error)

	// List returns a page of jobs matching the filter, newest first,
	// along with the total match count.
	List(ctx context.Context, filter ListFilter) ([]*Job, int64, error)

	// CountByStatus returns the number of jobs per status.
	CountByStatus(ctx context.Context) (map[JobStatus]int64, error)
}
