package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"scraperd/internal/store"

	"github.com/lib/pq"
)

const jobColumns = `id, scraper_name, scraper_type, status, requested_at, approved_at,
	started_at, completed_at, container_id, error_message, records_processed,
	created_by, updated_at`

// Create inserts a new job row.
func (s *Store) Create(ctx context.Context, job *store.Job) error {
	query := `
		INSERT INTO scraper_jobs
			(id, scraper_name, scraper_type, status, requested_at, created_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.ScraperName,
		job.ScraperType,
		job.Status,
		job.RequestedAt,
		job.CreatedBy,
		time.Now().UTC(),
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
		return fmt.Errorf("job %s already exists: %w", job.ID, err)
	}
	return err
}

// Get returns a job by id, or store.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*store.Job, error) {
	query := "SELECT " + jobColumns + " FROM scraper_jobs WHERE id = $1"

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Update applies a partial update and returns the updated row.
// The patch is applied in a single UPDATE so concurrent readers never
// observe a half-applied transition.
func (s *Store) Update(ctx context.Context, id string, patch store.JobUpdate) (*store.Job, error) {
	sets := []string{"updated_at = now()"}
	args := []interface{}{id}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if patch.Status != nil {
		sets = append(sets, "status = "+arg(*patch.Status))
	}
	if patch.ApprovedAt != nil {
		sets = append(sets, "approved_at = "+arg(*patch.ApprovedAt))
	}
	if patch.StartedAt != nil {
		sets = append(sets, "started_at = "+arg(*patch.StartedAt))
	}
	if patch.CompletedAt != nil {
		sets = append(sets, "completed_at = "+arg(*patch.CompletedAt))
	}
	if patch.ClearContainerID {
		sets = append(sets, "container_id = NULL")
	} else if patch.ContainerID != nil {
		sets = append(sets, "container_id = "+arg(*patch.ContainerID))
	}
	if patch.ErrorMessage != nil {
		sets = append(sets, "error_message = "+arg(*patch.ErrorMessage))
	}
	if patch.RecordsProcessed != nil {
		sets = append(sets, "records_processed = "+arg(*patch.RecordsProcessed))
	}

	query := fmt.Sprintf(
		"UPDATE scraper_jobs SET %s WHERE id = $1 RETURNING %s",
		strings.Join(sets, ", "), jobColumns,
	)

	job, err := scanJob(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListByStatus returns all jobs with the given status in admission
// order: earliest approval first, job id as tie-breaker.
func (s *Store) ListByStatus(ctx context.Context, status store.JobStatus) ([]*store.Job, error) {
	query := "SELECT " + jobColumns + ` FROM scraper_jobs
		WHERE status = $1
		ORDER BY approved_at ASC NULLS LAST, id ASC`

	rows, err := s.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*store.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// List returns a page of job history, newest request first.
func (s *Store) List(ctx context.Context, filter store.ListFilter) ([]*store.Job, int64, error) {
	where := []string{"1=1"}
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.ScraperName != "" {
		where = append(where, "scraper_name = "+arg(filter.ScraperName))
	}
	if filter.Status != "" {
		where = append(where, "status = "+arg(filter.Status))
	}
	cond := strings.Join(where, " AND ")

	var total int64
	countQuery := "SELECT COUNT(*) FROM scraper_jobs WHERE " + cond
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	query := fmt.Sprintf(
		"SELECT %s FROM scraper_jobs WHERE %s ORDER BY requested_at DESC LIMIT %s OFFSET %s",
		jobColumns, cond, arg(limit), arg(offset),
	)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var jobs []*store.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}
	return jobs, total, rows.Err()
}

// CountByStatus returns the number of jobs per status.
func (s *Store) CountByStatus(ctx context.Context) (map[store.JobStatus]int64, error) {
	query := "SELECT status, COUNT(*) FROM scraper_jobs GROUP BY status"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[store.JobStatus]int64)
	for rows.Next() {
		var status store.JobStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(r rowScanner) (*store.Job, error) {
	var job store.Job
	var approvedAt, startedAt, completedAt sql.NullTime
	var containerID, errorMessage sql.NullString
	var records sql.NullInt64

	err := r.Scan(
		&job.ID,
		&job.ScraperName,
		&job.ScraperType,
		&job.Status,
		&job.RequestedAt,
		&approvedAt,
		&startedAt,
		&completedAt,
		&containerID,
		&errorMessage,
		&records,
		&job.CreatedBy,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if approvedAt.Valid {
		job.ApprovedAt = &approvedAt.Time
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	if containerID.Valid {
		job.ContainerID = &containerID.String
	}
	if errorMessage.Valid {
		job.ErrorMessage = &errorMessage.String
	}
	if records.Valid {
		job.RecordsProcessed = &records.Int64
	}
	return &job, nil
}
