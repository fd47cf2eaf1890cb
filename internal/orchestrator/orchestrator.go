// Package orchestrator owns the job lifecycle: approval gating, the
// bounded execution pool, container supervision, timeout enforcement
// and cleanup.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"scraperd/internal/catalog"
	"scraperd/internal/logstream"
	"scraperd/internal/runtime"
	"scraperd/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Config holds orchestrator tuning.
type Config struct {
	// MaxConcurrentJobs bounds the number of running containers.
	MaxConcurrentJobs int
	// JobTimeout is the per-job wall clock limit.
	JobTimeout time.Duration
	// StopGrace is how long a container gets to exit after a graceful
	// stop request before it is killed.
	StopGrace time.Duration
	// DrainGrace bounds how long completion waits for the log stream
	// to flush before recording the result.
	DrainGrace time.Duration
}

// Orchestrator coordinates jobs, slots, containers and log streams.
type Orchestrator struct {
	store   store.JobStore
	runtime runtime.Runtime
	mux     *logstream.Mux
	pool    *SlotPool
	cfg     Config
	log     *slog.Logger
	tracer  trace.Tracer

	mu       sync.Mutex
	jobLocks map[string]*sync.Mutex
	running  map[string]*runningJob

	admitMu sync.Mutex    // serializes admission ordering
	admitCh chan struct{} // wakes the admission loop

	wg sync.WaitGroup
}

// runningJob is the control block for one supervised container.
type runningJob struct {
	cancelOnce sync.Once
	cancelCh   chan struct{}
	done       chan struct{}
}

func (r *runningJob) cancel() {
	r.cancelOnce.Do(func() { close(r.cancelCh) })
}

// New creates an orchestrator. Call Run to start admission.
func New(s store.JobStore, rt runtime.Runtime, mux *logstream.Mux, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.MaxConcurrentJobs < 1 {
		cfg.MaxConcurrentJobs = 1
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = time.Hour
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 10 * time.Second
	}
	if cfg.DrainGrace <= 0 {
		cfg.DrainGrace = 5 * time.Second
	}
	return &Orchestrator{
		store:    s,
		runtime:  rt,
		mux:      mux,
		pool:     NewSlotPool(cfg.MaxConcurrentJobs),
		cfg:      cfg,
		log:      logger,
		tracer:   otel.Tracer("scraperd-orchestrator"),
		jobLocks: make(map[string]*sync.Mutex),
		running:  make(map[string]*runningJob),
		admitCh:  make(chan struct{}, 1),
	}
}

// newJobID generates a job id in the form job-<utc timestamp>-<short uuid>.
func newJobID() string {
	ts := time.Now().UTC().Format("20060102150405")
	return fmt.Sprintf("job-%s-%s", ts, uuid.NewString()[:8])
}

// jobLock returns the mutex serializing state transitions for one job.
func (o *Orchestrator) jobLock(id string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.jobLocks[id]
	if !ok {
		l = &sync.Mutex{}
		o.jobLocks[id] = l
	}
	return l
}

// Pool exposes the slot pool for capacity metrics.
func (o *Orchestrator) Pool() *SlotPool {
	return o.pool
}

// Run drives the admission loop until ctx is cancelled, then waits for
// in-flight jobs to reach a terminal state.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.log.Info("orchestrator stopping, waiting for running jobs")
			o.wg.Wait()
			return ctx.Err()
		case <-o.admitCh:
		case <-ticker.C:
		}

		for o.admitNext() {
		}
	}
}

func (o *Orchestrator) kickAdmission() {
	select {
	case o.admitCh <- struct{}{}:
	default:
	}
}

// Submit creates a job in pending. No approval is implied.
func (o *Orchestrator) Submit(ctx context.Context, scraperName, scraperType, createdBy string) (*store.Job, error) {
	ctx, span := o.tracer.Start(ctx, "submit_job",
		trace.WithAttributes(attribute.String("scraper.name", scraperName)))
	defer span.End()

	sc, ok := catalog.ByName(scraperName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidScraper, scraperName)
	}
	if scraperType != "" && scraperType != sc.Type {
		return nil, fmt.Errorf("%w: type %s does not match %s", ErrInvalidScraper, scraperType, scraperName)
	}
	if createdBy == "" {
		createdBy = "system"
	}

	job := &store.Job{
		ID:          newJobID(),
		ScraperName: sc.Name,
		ScraperType: sc.Type,
		Status:      store.JobStatusPending,
		RequestedAt: time.Now().UTC(),
		CreatedBy:   createdBy,
	}
	if err := o.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	span.SetAttributes(attribute.String("job.id", job.ID))
	o.log.Info("job submitted", "job_id", job.ID, "scraper", sc.Name, "created_by", createdBy)
	return job, nil
}

// Approve moves a pending job to approved and attempts immediate
// admission. The returned job reflects whatever state resulted.
func (o *Orchestrator) Approve(ctx context.Context, id string) (*store.Job, error) {
	ctx, span := o.tracer.Start(ctx, "approve_job",
		trace.WithAttributes(attribute.String("job.id", id)))
	defer span.End()

	l := o.jobLock(id)
	l.Lock()
	job, err := o.store.Get(ctx, id)
	if err != nil {
		l.Unlock()
		return nil, err
	}
	if job.Status != store.JobStatusPending {
		l.Unlock()
		return nil, fmt.Errorf("%w: cannot approve job in status %s", ErrInvalidTransition, job.Status)
	}

	now := time.Now().UTC()
	status := store.JobStatusApproved
	job, err = o.store.Update(ctx, id, store.JobUpdate{Status: &status, ApprovedAt: &now})
	l.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to persist approval: %w", err)
	}

	o.log.Info("job approved", "job_id", id)
	o.kickAdmission()

	// Attempt immediate admission unless an admission is already in
	// flight, in which case the loop picks this job up.
	if o.admitMu.TryLock() {
		o.admitLocked()
		o.admitMu.Unlock()
	}

	return o.store.Get(ctx, id)
}

// Cancel aborts a job. Running jobs have their container terminated
// before the cancellation is recorded.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (*store.Job, error) {
	ctx, span := o.tracer.Start(ctx, "cancel_job",
		trace.WithAttributes(attribute.String("job.id", id)))
	defer span.End()

	l := o.jobLock(id)
	l.Lock()
	job, err := o.store.Get(ctx, id)
	if err != nil {
		l.Unlock()
		return nil, err
	}

	switch job.Status {
	case store.JobStatusPending, store.JobStatusApproved:
		now := time.Now().UTC()
		status := store.JobStatusCancelled
		job, err = o.store.Update(ctx, id, store.JobUpdate{Status: &status, CompletedAt: &now})
		l.Unlock()
		if err != nil {
			return nil, fmt.Errorf("failed to persist cancellation: %w", err)
		}
		o.log.Info("job cancelled", "job_id", id)
		return job, nil

	case store.JobStatusRunning:
		o.mu.Lock()
		rj := o.running[id]
		o.mu.Unlock()
		l.Unlock()
		if rj == nil {
			// Status and the running map are kept consistent under the
			// job lock, so this only happens on a stale read.
			return nil, fmt.Errorf("%w: job %s is not supervised", ErrInvalidTransition, id)
		}

		rj.cancel()
		select {
		case <-rj.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		job, err = o.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status != store.JobStatusCancelled {
			// The container finished before the cancel took effect.
			return nil, fmt.Errorf("%w: job %s already reached %s", ErrInvalidTransition, id, job.Status)
		}
		return job, nil

	default:
		l.Unlock()
		return nil, fmt.Errorf("%w: cannot cancel job in status %s", ErrInvalidTransition, job.Status)
	}
}

// GetStatus returns a job by id.
func (o *Orchestrator) GetStatus(ctx context.Context, id string) (*store.Job, error) {
	return o.store.Get(ctx, id)
}

// ListByStatus returns all jobs in the given status.
func (o *Orchestrator) ListByStatus(ctx context.Context, status store.JobStatus) ([]*store.Job, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("unknown status %q", status)
	}
	return o.store.ListByStatus(ctx, status)
}

// History returns a page of jobs matching the filter.
func (o *Orchestrator) History(ctx context.Context, filter store.ListFilter) ([]*store.Job, int64, error) {
	return o.store.List(ctx, filter)
}

// Statistics returns job counts per status.
func (o *Orchestrator) Statistics(ctx context.Context) (map[store.JobStatus]int64, error) {
	return o.store.CountByStatus(ctx)
}

// AttachLogs returns a live subscription to a job's log stream. The
// subscription serves the buffered recent lines first, then live lines;
// for a finished job it serves the buffer and ends.
func (o *Orchestrator) AttachLogs(ctx context.Context, id string) (*logstream.Subscription, error) {
	job, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.StartedAt == nil {
		return nil, fmt.Errorf("%w: job %s never started", ErrNotFound, id)
	}
	sub, err := o.mux.Subscribe(id)
	if err != nil {
		return nil, fmt.Errorf("%w: no log stream for job %s", ErrNotFound, id)
	}
	return sub, nil
}

// admitNext admits the longest-approved job if a slot is free. Returns
// true if a job was admitted, so the caller can immediately try again.
func (o *Orchestrator) admitNext() bool {
	o.admitMu.Lock()
	defer o.admitMu.Unlock()
	return o.admitLocked()
}

// admitLocked requires admitMu. Jobs are admitted in first-approved-
// first-admitted order; ListByStatus orders by approved_at then id.
// Admission side effects outlive the request that triggered them: the
// container and its log stream must not die with an HTTP request, so
// everything past the approval write runs on a background context.
func (o *Orchestrator) admitLocked() bool {
	ctx := context.Background()

	approved, err := o.store.ListByStatus(ctx, store.JobStatusApproved)
	if err != nil {
		o.log.Error("failed to list approved jobs", "error", err)
		return false
	}
	if len(approved) == 0 {
		return false
	}
	if !o.pool.TryAcquire() {
		return false
	}
	o.admit(ctx, approved[0])
	return true
}

// admit starts a container for an approved job. The caller has already
// acquired a slot; admit owns it from here and guarantees its release
// through every path.
func (o *Orchestrator) admit(ctx context.Context, job *store.Job) {
	l := o.jobLock(job.ID)

	l.Lock()
	cur, err := o.store.Get(ctx, job.ID)
	if err != nil || cur.Status != store.JobStatusApproved {
		// Cancelled (or lost) between selection and admission.
		l.Unlock()
		o.pool.Release()
		return
	}
	l.Unlock()

	// Runtime calls happen outside any lock: the runtime can be slow or
	// hang, and state is only updated with its result.
	handle, err := o.runtime.Start(ctx, runtime.StartOptions{
		JobID:       job.ID,
		ScraperType: cur.ScraperType,
	})
	if err != nil {
		rerr := &RuntimeError{Op: "create", Err: err}
		o.log.Error("admission failed", "job_id", job.ID, "error", rerr)

		l.Lock()
		if cur, gerr := o.store.Get(ctx, job.ID); gerr == nil && cur.Status == store.JobStatusApproved {
			now := time.Now().UTC()
			status := store.JobStatusFailed
			msg := rerr.Error()
			if _, uerr := o.store.Update(ctx, job.ID, store.JobUpdate{
				Status: &status, CompletedAt: &now, ErrorMessage: &msg,
			}); uerr != nil {
				o.log.Error("failed to record admission failure", "job_id", job.ID, "error", uerr)
			}
		}
		l.Unlock()
		o.pool.Release()
		return
	}

	rc, err := handle.StreamLogs(ctx)
	if err != nil {
		// A dead log stream is not fatal to the job itself.
		o.log.Warn("failed to attach log stream", "job_id", job.ID,
			"error", &RuntimeError{Op: "stream", Err: err})
		rc = io.NopCloser(strings.NewReader(""))
	}
	o.mux.Open(job.ID, rc)

	l.Lock()
	cur, err = o.store.Get(ctx, job.ID)
	if err != nil || cur.Status != store.JobStatusApproved {
		// Cancelled while the container was starting: tear it down.
		l.Unlock()
		o.terminate(ctx, job.ID, handle)
		o.reclaim(ctx, job.ID, handle)
		o.pool.Release()
		return
	}

	now := time.Now().UTC()
	status := store.JobStatusRunning
	cid := handle.ID()
	if _, err := o.store.Update(ctx, job.ID, store.JobUpdate{
		Status: &status, StartedAt: &now, ContainerID: &cid,
	}); err != nil {
		o.log.Error("failed to record job start", "job_id", job.ID, "error", err)
		l.Unlock()
		o.terminate(ctx, job.ID, handle)
		o.reclaim(ctx, job.ID, handle)
		o.pool.Release()
		return
	}

	rj := &runningJob{cancelCh: make(chan struct{}), done: make(chan struct{})}
	o.mu.Lock()
	o.running[job.ID] = rj
	o.mu.Unlock()
	l.Unlock()

	o.log.Info("job admitted", "job_id", job.ID, "container_id", cid)

	o.wg.Add(1)
	go o.watch(job.ID, handle, rj)
}

// watch supervises one running container. Container exit, timeout and
// cancellation all fan into this single join point, which emits exactly
// one terminal transition and then reclaims the slot and container.
func (o *Orchestrator) watch(jobID string, handle runtime.Handle, rj *runningJob) {
	defer o.wg.Done()
	defer close(rj.done)

	// The watcher outlives request contexts; shutdown lets running
	// jobs finish their terminal path.
	ctx := context.Background()

	waitCtx, cancelWait := context.WithCancel(ctx)
	defer cancelWait()
	exitCh := make(chan runtime.ExitResult, 1)
	go func() {
		res, _ := handle.Wait(waitCtx)
		exitCh <- res
	}()

	timer := time.NewTimer(o.cfg.JobTimeout)
	defer timer.Stop()

	var status store.JobStatus
	var errMsg *string
	var records *int64

	select {
	case res := <-exitCh:
		if res.ExitCode == 0 && res.Error == nil {
			status = store.JobStatusCompleted
			o.awaitDrain(jobID)
			records = extractRecords(o.mux.Tail(jobID))
		} else {
			status = store.JobStatusFailed
			msg := fmt.Sprintf("container exited with code %d", res.ExitCode)
			if res.Error != nil {
				msg = fmt.Sprintf("%s: %v", msg, res.Error)
			}
			errMsg = &msg
		}

	case <-timer.C:
		o.log.Warn("job timed out", "job_id", jobID, "timeout", o.cfg.JobTimeout)
		o.terminate(ctx, jobID, handle)
		status = store.JobStatusFailed
		msg := timeoutMessage
		errMsg = &msg

	case <-rj.cancelCh:
		o.log.Info("terminating cancelled job", "job_id", jobID)
		o.terminate(ctx, jobID, handle)
		status = store.JobStatusCancelled
	}

	l := o.jobLock(jobID)
	l.Lock()
	now := time.Now().UTC()
	if _, err := o.store.Update(ctx, jobID, store.JobUpdate{
		Status:           &status,
		CompletedAt:      &now,
		ErrorMessage:     errMsg,
		RecordsProcessed: records,
	}); err != nil {
		o.log.Error("failed to record terminal status", "job_id", jobID, "error", err)
	}
	o.mu.Lock()
	delete(o.running, jobID)
	o.mu.Unlock()
	l.Unlock()

	o.log.Info("job finished", "job_id", jobID, "status", string(status))

	o.reclaim(ctx, jobID, handle)
	o.pool.Release()
	o.kickAdmission()
}

// awaitDrain gives the log stream a bounded window to flush after the
// container exits, so completion sees the final output lines.
func (o *Orchestrator) awaitDrain(jobID string) {
	select {
	case <-o.mux.Drained(jobID):
	case <-time.After(o.cfg.DrainGrace):
	}
}

// terminate stops a container gracefully, escalating to a kill.
func (o *Orchestrator) terminate(ctx context.Context, jobID string, handle runtime.Handle) {
	if err := handle.Stop(ctx, o.cfg.StopGrace); err != nil {
		o.log.Warn("graceful stop failed, killing container", "job_id", jobID,
			"error", &RuntimeError{Op: "stop", Err: err})
		if err := handle.Kill(ctx); err != nil {
			o.log.Error("failed to kill container", "job_id", jobID,
				"error", &RuntimeError{Op: "stop", Err: err})
		}
	}
}

// reclaim removes the container and closes the log stream. Cleanup
// failures are logged, never propagated to the job's status.
func (o *Orchestrator) reclaim(ctx context.Context, jobID string, handle runtime.Handle) {
	if err := handle.Remove(ctx); err != nil {
		o.log.Warn("failed to remove container", "job_id", jobID,
			"error", &RuntimeError{Op: "remove", Err: err})
	}
	o.mux.Close(jobID)

	if _, err := o.store.Update(ctx, jobID, store.JobUpdate{ClearContainerID: true}); err != nil && err != store.ErrNotFound {
		o.log.Warn("failed to clear container reference", "job_id", jobID, "error", err)
	}
}
