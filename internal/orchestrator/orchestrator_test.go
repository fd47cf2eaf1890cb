package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"scraperd/internal/logstream"
	"scraperd/internal/runtime"
	"scraperd/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory JobStore with the same ordering semantics as
// the postgres implementation.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*store.Job
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*store.Job)}
}

func copyJob(j *store.Job) *store.Job {
	c := *j
	return &c
}

func (m *memStore) Create(ctx context.Context, job *store.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	m.jobs[job.ID] = copyJob(job)
	return nil
}

func (m *memStore) Get(ctx context.Context, id string) (*store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyJob(j), nil
}

func (m *memStore) Update(ctx context.Context, id string, patch store.JobUpdate) (*store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if patch.Status != nil {
		j.Status = *patch.Status
	}
	if patch.ApprovedAt != nil {
		j.ApprovedAt = patch.ApprovedAt
	}
	if patch.StartedAt != nil {
		j.StartedAt = patch.StartedAt
	}
	if patch.CompletedAt != nil {
		j.CompletedAt = patch.CompletedAt
	}
	if patch.ClearContainerID {
		j.ContainerID = nil
	} else if patch.ContainerID != nil {
		j.ContainerID = patch.ContainerID
	}
	if patch.ErrorMessage != nil {
		j.ErrorMessage = patch.ErrorMessage
	}
	if patch.RecordsProcessed != nil {
		j.RecordsProcessed = patch.RecordsProcessed
	}
	j.UpdatedAt = time.Now().UTC()
	return copyJob(j), nil
}

func (m *memStore) ListByStatus(ctx context.Context, status store.JobStatus) ([]*store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var jobs []*store.Job
	for _, j := range m.jobs {
		if j.Status == status {
			jobs = append(jobs, copyJob(j))
		}
	}
	sort.Slice(jobs, func(a, b int) bool {
		ja, jb := jobs[a], jobs[b]
		switch {
		case ja.ApprovedAt == nil && jb.ApprovedAt == nil:
			return ja.ID < jb.ID
		case ja.ApprovedAt == nil:
			return false
		case jb.ApprovedAt == nil:
			return true
		case ja.ApprovedAt.Equal(*jb.ApprovedAt):
			return ja.ID < jb.ID
		default:
			return ja.ApprovedAt.Before(*jb.ApprovedAt)
		}
	})
	return jobs, nil
}

func (m *memStore) List(ctx context.Context, filter store.ListFilter) ([]*store.Job, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var jobs []*store.Job
	for _, j := range m.jobs {
		if filter.ScraperName != "" && j.ScraperName != filter.ScraperName {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		jobs = append(jobs, copyJob(j))
	}
	sort.Slice(jobs, func(a, b int) bool {
		return jobs[a].RequestedAt.After(jobs[b].RequestedAt)
	})
	return jobs, int64(len(jobs)), nil
}

func (m *memStore) CountByStatus(ctx context.Context) (map[store.JobStatus]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[store.JobStatus]int64)
	for _, j := range m.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

// fakeHandle is a controllable container. Tests drive its exit; Stop
// and Kill behave like a real container dying on signal.
type fakeHandle struct {
	id         string
	exitCh     chan runtime.ExitResult
	logR       *io.PipeReader
	logW       *io.PipeWriter
	streamDone chan struct{}

	exitOnce sync.Once
	onExit   func()

	mu      sync.Mutex
	stopped bool
	removed bool
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Wait(ctx context.Context) (runtime.ExitResult, error) {
	select {
	case res := <-h.exitCh:
		return res, nil
	case <-ctx.Done():
		return runtime.ExitResult{}, ctx.Err()
	}
}

func (h *fakeHandle) Stop(ctx context.Context, grace time.Duration) error {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
	h.exit(runtime.ExitResult{ExitCode: 137})
	return nil
}

func (h *fakeHandle) Kill(ctx context.Context) error {
	h.exit(runtime.ExitResult{ExitCode: 137})
	return nil
}

func (h *fakeHandle) Remove(ctx context.Context) error {
	h.mu.Lock()
	h.removed = true
	h.mu.Unlock()
	return nil
}

// StreamLogs follows the SDK contract: the returned stream is bound to
// ctx and collapses the moment ctx is cancelled.
func (h *fakeHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	go func() {
		select {
		case <-ctx.Done():
			h.logR.CloseWithError(ctx.Err())
		case <-h.streamDone:
		}
	}()
	return h.logR, nil
}

func (h *fakeHandle) exit(res runtime.ExitResult) {
	h.exitOnce.Do(func() {
		h.logW.Close()
		close(h.streamDone)
		h.exitCh <- res
		if h.onExit != nil {
			h.onExit()
		}
	})
}

// finish writes the given log lines, closes the stream and reports the
// exit code, in the order a real container would.
func (h *fakeHandle) finish(exitCode int, lines ...string) {
	for _, line := range lines {
		h.logW.Write([]byte(line + "\n"))
	}
	h.exit(runtime.ExitResult{ExitCode: exitCode})
}

func (h *fakeHandle) wasStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

func (h *fakeHandle) wasRemoved() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removed
}

type fakeRuntime struct {
	mu       sync.Mutex
	handles  map[string]*fakeHandle
	order    []string
	active   int
	peak     int
	startErr error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{handles: make(map[string]*fakeHandle)}
}

func (r *fakeRuntime) Start(ctx context.Context, opts runtime.StartOptions) (runtime.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return nil, r.startErr
	}

	pr, pw := io.Pipe()
	h := &fakeHandle{
		id:         "ctr-" + opts.JobID,
		exitCh:     make(chan runtime.ExitResult, 1),
		logR:       pr,
		logW:       pw,
		streamDone: make(chan struct{}),
	}
	h.onExit = func() {
		r.mu.Lock()
		r.active--
		r.mu.Unlock()
	}

	r.handles[opts.JobID] = h
	r.order = append(r.order, opts.JobID)
	r.active++
	if r.active > r.peak {
		r.peak = r.active
	}
	return h, nil
}

func (r *fakeRuntime) handle(jobID string) *fakeHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[jobID]
}

func (r *fakeRuntime) startedOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func (r *fakeRuntime) peakActive() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peak
}

// finishAll force-exits every container still running, so tests that
// leave jobs mid-flight can always drain the orchestrator.
func (r *fakeRuntime) finishAll() {
	r.mu.Lock()
	handles := make([]*fakeHandle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()
	for _, h := range handles {
		h.exit(runtime.ExitResult{ExitCode: 0})
	}
}

type harness struct {
	store *memStore
	rt    *fakeRuntime
	mux   *logstream.Mux
	orch  *Orchestrator
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	st := newMemStore()
	rt := newFakeRuntime()
	mux := logstream.NewMux(50, 50, testLogger())
	orch := New(st, rt, mux, cfg, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		orch.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("orchestrator did not shut down")
		}
	})

	return &harness{store: st, rt: rt, mux: mux, orch: orch}
}

func (h *harness) waitStatus(t *testing.T, jobID string, status store.JobStatus) *store.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := h.store.Get(context.Background(), jobID)
		if err != nil {
			t.Fatalf("Get(%s) failed: %v", jobID, err)
		}
		if job.Status == status {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := h.store.Get(context.Background(), jobID)
	t.Fatalf("job %s never reached %s, stuck at %s", jobID, status, job.Status)
	return nil
}

func (h *harness) waitHandle(t *testing.T, jobID string) *fakeHandle {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if handle := h.rt.handle(jobID); handle != nil {
			return handle
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no container was started for job %s", jobID)
	return nil
}

func (h *harness) submitApproved(t *testing.T, scraperName string) *store.Job {
	t.Helper()
	ctx := context.Background()
	job, err := h.orch.Submit(ctx, scraperName, "", "tester")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := h.orch.Approve(ctx, job.ID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	return job
}

func TestSubmit_CreatesPendingJob(t *testing.T) {
	h := newHarness(t, Config{MaxConcurrentJobs: 1, JobTimeout: time.Minute})

	job, err := h.orch.Submit(context.Background(), "FairHealth Physician", "", "alice")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if job.Status != store.JobStatusPending {
		t.Errorf("got status %s, want pending", job.Status)
	}
	if job.ScraperType != "Fair_Health_Physicians" {
		t.Errorf("got type %s, want Fair_Health_Physicians", job.ScraperType)
	}
	if job.CreatedBy != "alice" {
		t.Errorf("got created_by %s, want alice", job.CreatedBy)
	}
	if !strings.HasPrefix(job.ID, "job-") {
		t.Errorf("unexpected job id format: %s", job.ID)
	}
}

func TestSubmit_UnknownScraper(t *testing.T) {
	h := newHarness(t, Config{MaxConcurrentJobs: 1, JobTimeout: time.Minute})

	if _, err := h.orch.Submit(context.Background(), "No Such Scraper", "", ""); !errors.Is(err, ErrInvalidScraper) {
		t.Errorf("got %v, want ErrInvalidScraper", err)
	}
}

func TestSubmit_TypeMismatch(t *testing.T) {
	h := newHarness(t, Config{MaxConcurrentJobs: 1, JobTimeout: time.Minute})

	_, err := h.orch.Submit(context.Background(), "FairHealth Physician", "Novitas", "")
	if !errors.Is(err, ErrInvalidScraper) {
		t.Errorf("got %v, want ErrInvalidScraper", err)
	}
}

func TestApprove_RunsToCompletion(t *testing.T) {
	h := newHarness(t, Config{MaxConcurrentJobs: 1, JobTimeout: time.Minute})

	job := h.submitApproved(t, "FairHealth Physician")
	running := h.waitStatus(t, job.ID, store.JobStatusRunning)
	if running.StartedAt == nil {
		t.Error("running job has no StartedAt")
	}
	if running.ContainerID == nil || *running.ContainerID != "ctr-"+job.ID {
		t.Errorf("unexpected container id: %v", running.ContainerID)
	}

	handle := h.waitHandle(t, job.ID)
	handle.finish(0, "fetching pages", "Records processed: 321")

	final := h.waitStatus(t, job.ID, store.JobStatusCompleted)
	if final.RecordsProcessed == nil || *final.RecordsProcessed != 321 {
		t.Errorf("got records %v, want 321", final.RecordsProcessed)
	}
	if final.ErrorMessage != nil {
		t.Errorf("completed job has error message %q", *final.ErrorMessage)
	}
	if final.CompletedAt == nil {
		t.Error("completed job has no CompletedAt")
	}

	// Container reference is cleared once the container is reclaimed.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		j, _ := h.store.Get(context.Background(), job.ID)
		if j.ContainerID == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	j, _ := h.store.Get(context.Background(), job.ID)
	if j.ContainerID != nil {
		t.Errorf("container id not cleared after reclaim: %v", *j.ContainerID)
	}
	if !handle.wasRemoved() {
		t.Error("container was not removed after completion")
	}
}

func TestApprove_Unknown(t *testing.T) {
	h := newHarness(t, Config{MaxConcurrentJobs: 1, JobTimeout: time.Minute})

	if _, err := h.orch.Approve(context.Background(), "job-missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestApprove_NonPending(t *testing.T) {
	h := newHarness(t, Config{MaxConcurrentJobs: 1, JobTimeout: time.Minute})

	job := h.submitApproved(t, "FairHealth Physician")
	h.waitStatus(t, job.ID, store.JobStatusRunning)

	if _, err := h.orch.Approve(context.Background(), job.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("got %v, want ErrInvalidTransition", err)
	}

	// The failed approval must not have disturbed the job.
	j, _ := h.store.Get(context.Background(), job.ID)
	if j.Status != store.JobStatusRunning {
		t.Errorf("job status changed to %s after rejected approval", j.Status)
	}

	h.waitHandle(t, job.ID).finish(0)
	h.waitStatus(t, job.ID, store.JobStatusCompleted)
}

func TestApprove_RequestContextCancelKeepsLogsAlive(t *testing.T) {
	h := newHarness(t, Config{MaxConcurrentJobs: 1, JobTimeout: time.Minute})

	job, err := h.orch.Submit(context.Background(), "FairHealth Physician", "", "")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// Approve with a request-scoped context and cancel it right after
	// the call returns, the way an HTTP handler's context dies once the
	// response is written. The container and its log stream must not be
	// bound to it.
	reqCtx, cancelReq := context.WithCancel(context.Background())
	if _, err := h.orch.Approve(reqCtx, job.ID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	h.waitStatus(t, job.ID, store.JobStatusRunning)
	cancelReq()

	sub, err := h.orch.AttachLogs(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("AttachLogs failed: %v", err)
	}
	defer sub.Close()

	handle := h.waitHandle(t, job.ID)
	handle.finish(0, "still fetching", "Records processed: 7")

	var lines []string
	for line := range sub.Lines {
		lines = append(lines, line)
	}
	if len(lines) != 2 || lines[0] != "still fetching" {
		t.Errorf("live lines lost after request context cancel, got %v", lines)
	}

	final := h.waitStatus(t, job.ID, store.JobStatusCompleted)
	if final.RecordsProcessed == nil || *final.RecordsProcessed != 7 {
		t.Errorf("got records %v, want 7", final.RecordsProcessed)
	}
}

func TestAdmission_FirstApprovedFirstAdmitted(t *testing.T) {
	h := newHarness(t, Config{MaxConcurrentJobs: 1, JobTimeout: time.Minute})
	ctx := context.Background()

	jobA, err := h.orch.Submit(ctx, "FairHealth Physician", "", "")
	if err != nil {
		t.Fatalf("Submit A failed: %v", err)
	}
	jobB, err := h.orch.Submit(ctx, "Medicare Lab", "", "")
	if err != nil {
		t.Fatalf("Submit B failed: %v", err)
	}

	if _, err := h.orch.Approve(ctx, jobA.ID); err != nil {
		t.Fatalf("Approve A failed: %v", err)
	}
	h.waitStatus(t, jobA.ID, store.JobStatusRunning)

	if _, err := h.orch.Approve(ctx, jobB.ID); err != nil {
		t.Fatalf("Approve B failed: %v", err)
	}

	// B stays approved while A holds the only slot.
	time.Sleep(50 * time.Millisecond)
	j, _ := h.store.Get(ctx, jobB.ID)
	if j.Status != store.JobStatusApproved {
		t.Fatalf("job B should wait for a slot, got %s", j.Status)
	}

	h.waitHandle(t, jobA.ID).finish(0)
	h.waitStatus(t, jobA.ID, store.JobStatusCompleted)
	h.waitStatus(t, jobB.ID, store.JobStatusRunning)

	order := h.rt.startedOrder()
	if len(order) != 2 || order[0] != jobA.ID || order[1] != jobB.ID {
		t.Errorf("got start order %v, want [%s, %s]", order, jobA.ID, jobB.ID)
	}

	h.waitHandle(t, jobB.ID).finish(0)
	h.waitStatus(t, jobB.ID, store.JobStatusCompleted)
}

func TestCancel_Pending(t *testing.T) {
	h := newHarness(t, Config{MaxConcurrentJobs: 1, JobTimeout: time.Minute})
	ctx := context.Background()

	job, err := h.orch.Submit(ctx, "NJ PIP", "", "")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	cancelled, err := h.orch.Cancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != store.JobStatusCancelled {
		t.Errorf("got status %s, want cancelled", cancelled.Status)
	}
	if cancelled.CompletedAt == nil {
		t.Error("cancelled job has no CompletedAt")
	}
	if cancelled.ErrorMessage != nil {
		t.Errorf("cancelled job has error message %q", *cancelled.ErrorMessage)
	}
}

func TestCancel_Running_TerminatesAndFreesSlot(t *testing.T) {
	h := newHarness(t, Config{MaxConcurrentJobs: 1, JobTimeout: time.Minute})
	ctx := context.Background()

	job := h.submitApproved(t, "FairHealth ASC")
	h.waitStatus(t, job.ID, store.JobStatusRunning)
	handle := h.waitHandle(t, job.ID)

	cancelled, err := h.orch.Cancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != store.JobStatusCancelled {
		t.Errorf("got status %s, want cancelled", cancelled.Status)
	}
	if !handle.wasStopped() {
		t.Error("running container was not stopped on cancel")
	}

	// The freed slot must be usable by the next job.
	next := h.submitApproved(t, "Medicare Facility")
	h.waitStatus(t, next.ID, store.JobStatusRunning)
	h.waitHandle(t, next.ID).finish(0)
	h.waitStatus(t, next.ID, store.JobStatusCompleted)
}

func TestCancel_Terminal(t *testing.T) {
	h := newHarness(t, Config{MaxConcurrentJobs: 1, JobTimeout: time.Minute})

	job := h.submitApproved(t, "FairHealth Physician")
	h.waitStatus(t, job.ID, store.JobStatusRunning)
	h.waitHandle(t, job.ID).finish(0)
	h.waitStatus(t, job.ID, store.JobStatusCompleted)

	if _, err := h.orch.Cancel(context.Background(), job.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("got %v, want ErrInvalidTransition", err)
	}
}

func TestTimeout_FailsJob(t *testing.T) {
	h := newHarness(t, Config{MaxConcurrentJobs: 1, JobTimeout: 50 * time.Millisecond})

	job := h.submitApproved(t, "Novitas OBL")
	h.waitStatus(t, job.ID, store.JobStatusRunning)

	// The container never exits on its own; the deadline must kill it.
	final := h.waitStatus(t, job.ID, store.JobStatusFailed)
	if final.ErrorMessage == nil || *final.ErrorMessage != "timeout exceeded" {
		t.Errorf("got error message %v, want %q", final.ErrorMessage, "timeout exceeded")
	}
	if !h.waitHandle(t, job.ID).wasStopped() {
		t.Error("timed out container was not stopped")
	}
}

func TestNonZeroExit_FailsJob(t *testing.T) {
	h := newHarness(t, Config{MaxConcurrentJobs: 1, JobTimeout: time.Minute})

	job := h.submitApproved(t, "Medicare Lab")
	h.waitStatus(t, job.ID, store.JobStatusRunning)
	h.waitHandle(t, job.ID).finish(3, "Traceback (most recent call last):")

	final := h.waitStatus(t, job.ID, store.JobStatusFailed)
	if final.ErrorMessage == nil || !strings.Contains(*final.ErrorMessage, "exited with code 3") {
		t.Errorf("got error message %v, want exit code 3 mention", final.ErrorMessage)
	}
	if final.RecordsProcessed != nil {
		t.Errorf("failed job has records count %d", *final.RecordsProcessed)
	}
}

func TestRuntimeStartFailure_FailsJobAndFreesSlot(t *testing.T) {
	h := newHarness(t, Config{MaxConcurrentJobs: 1, JobTimeout: time.Minute})
	h.rt.mu.Lock()
	h.rt.startErr = errors.New("image pull backoff")
	h.rt.mu.Unlock()

	job := h.submitApproved(t, "FairHealth Physician")
	final := h.waitStatus(t, job.ID, store.JobStatusFailed)
	if final.ErrorMessage == nil || !strings.Contains(*final.ErrorMessage, "image pull backoff") {
		t.Errorf("got error message %v, want runtime error", final.ErrorMessage)
	}

	// The slot must come back even though no container ever ran.
	h.rt.mu.Lock()
	h.rt.startErr = nil
	h.rt.mu.Unlock()

	next := h.submitApproved(t, "NJ PIP")
	h.waitStatus(t, next.ID, store.JobStatusRunning)
	h.waitHandle(t, next.ID).finish(0)
	h.waitStatus(t, next.ID, store.JobStatusCompleted)
}

func TestConcurrency_NeverExceedsCapacity(t *testing.T) {
	const capacity = 2
	h := newHarness(t, Config{MaxConcurrentJobs: capacity, JobTimeout: time.Minute})

	scrapers := []string{
		"FairHealth Physician", "FairHealth ASC", "Medicare Lab",
		"Medicare Facility", "Novitas OBL", "NJ PIP",
	}
	var jobs []*store.Job
	for _, name := range scrapers {
		jobs = append(jobs, h.submitApproved(t, name))
	}

	for _, job := range jobs {
		handle := h.waitHandle(t, job.ID)
		handle.finish(0)
		h.waitStatus(t, job.ID, store.JobStatusCompleted)
	}

	if peak := h.rt.peakActive(); peak > capacity {
		t.Errorf("peak concurrency %d exceeded capacity %d", peak, capacity)
	}
	if h.orch.Pool().InUse() != 0 {
		t.Errorf("slots still held after all jobs finished: %d", h.orch.Pool().InUse())
	}
}

// TestTransitionTable drives every status through both lifecycle events
// and checks the allowed transitions against the state machine:
// approve only from pending; cancel from pending, approved and running.
func TestTransitionTable(t *testing.T) {
	type event struct {
		name  string
		apply func(h *harness, jobID string) error
	}
	events := []event{
		{"approve", func(h *harness, jobID string) error {
			_, err := h.orch.Approve(context.Background(), jobID)
			return err
		}},
		{"cancel", func(h *harness, jobID string) error {
			_, err := h.orch.Cancel(context.Background(), jobID)
			return err
		}},
	}

	// seed brings a fresh job to the given status. A filler job pins the
	// single slot where the target must sit in approved without running.
	seed := func(t *testing.T, h *harness, status store.JobStatus) *store.Job {
		t.Helper()
		ctx := context.Background()

		if status == store.JobStatusApproved {
			filler := h.submitApproved(t, "Medicare Lab")
			h.waitStatus(t, filler.ID, store.JobStatusRunning)
		}

		job, err := h.orch.Submit(ctx, "FairHealth Physician", "", "")
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}

		switch status {
		case store.JobStatusPending:
		case store.JobStatusApproved:
			if _, err := h.orch.Approve(ctx, job.ID); err != nil {
				t.Fatalf("Approve failed: %v", err)
			}
			h.waitStatus(t, job.ID, store.JobStatusApproved)
		case store.JobStatusRunning:
			if _, err := h.orch.Approve(ctx, job.ID); err != nil {
				t.Fatalf("Approve failed: %v", err)
			}
			h.waitStatus(t, job.ID, store.JobStatusRunning)
		case store.JobStatusCompleted:
			if _, err := h.orch.Approve(ctx, job.ID); err != nil {
				t.Fatalf("Approve failed: %v", err)
			}
			h.waitStatus(t, job.ID, store.JobStatusRunning)
			h.waitHandle(t, job.ID).finish(0)
			h.waitStatus(t, job.ID, store.JobStatusCompleted)
		case store.JobStatusFailed:
			if _, err := h.orch.Approve(ctx, job.ID); err != nil {
				t.Fatalf("Approve failed: %v", err)
			}
			h.waitStatus(t, job.ID, store.JobStatusRunning)
			h.waitHandle(t, job.ID).finish(2)
			h.waitStatus(t, job.ID, store.JobStatusFailed)
		case store.JobStatusCancelled:
			if _, err := h.orch.Cancel(ctx, job.ID); err != nil {
				t.Fatalf("Cancel failed: %v", err)
			}
		}
		return job
	}

	allowed := map[string]map[store.JobStatus]store.JobStatus{
		"approve": {
			store.JobStatusPending: store.JobStatusRunning,
		},
		"cancel": {
			store.JobStatusPending:  store.JobStatusCancelled,
			store.JobStatusApproved: store.JobStatusCancelled,
			store.JobStatusRunning:  store.JobStatusCancelled,
		},
	}

	for _, status := range store.AllStatuses {
		for _, ev := range events {
			t.Run(string(status)+"_"+ev.name, func(t *testing.T) {
				h := newHarness(t, Config{MaxConcurrentJobs: 1, JobTimeout: time.Minute})
				t.Cleanup(func() { h.rt.finishAll() })

				job := seed(t, h, status)
				err := ev.apply(h, job.ID)

				want, ok := allowed[ev.name][status]
				if !ok {
					if !errors.Is(err, ErrInvalidTransition) {
						t.Fatalf("%s on %s: got %v, want ErrInvalidTransition", ev.name, status, err)
					}
					// A rejected event never mutates the job.
					j, _ := h.store.Get(context.Background(), job.ID)
					if j.Status != status {
						t.Errorf("rejected %s moved job from %s to %s", ev.name, status, j.Status)
					}
					return
				}

				if err != nil {
					t.Fatalf("%s on %s failed: %v", ev.name, status, err)
				}
				h.waitStatus(t, job.ID, want)
			})
		}
	}
}

func TestSlotReuse_ManySequentialJobs(t *testing.T) {
	h := newHarness(t, Config{MaxConcurrentJobs: 1, JobTimeout: time.Minute})

	iterations := 1000
	if testing.Short() {
		iterations = 100
	}
	for i := 0; i < iterations; i++ {
		job := h.submitApproved(t, "FairHealth Physician")
		h.waitStatus(t, job.ID, store.JobStatusRunning)
		h.waitHandle(t, job.ID).finish(0)
		h.waitStatus(t, job.ID, store.JobStatusCompleted)
	}

	if h.orch.Pool().InUse() != 0 {
		t.Errorf("slot leaked after sequential churn: %d in use", h.orch.Pool().InUse())
	}
}

func TestAttachLogs(t *testing.T) {
	h := newHarness(t, Config{MaxConcurrentJobs: 1, JobTimeout: time.Minute})
	ctx := context.Background()

	// Before start there is nothing to attach to.
	pending, err := h.orch.Submit(ctx, "FairHealth Physician", "", "")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := h.orch.AttachLogs(ctx, pending.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound for never-started job", err)
	}
	if _, err := h.orch.AttachLogs(ctx, "job-missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound for unknown job", err)
	}

	if _, err := h.orch.Approve(ctx, pending.ID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	h.waitStatus(t, pending.ID, store.JobStatusRunning)

	sub, err := h.orch.AttachLogs(ctx, pending.ID)
	if err != nil {
		t.Fatalf("AttachLogs failed: %v", err)
	}
	defer sub.Close()

	handle := h.waitHandle(t, pending.ID)
	handle.finish(0, "line one", "line two")
	h.waitStatus(t, pending.ID, store.JobStatusCompleted)

	var lines []string
	for line := range sub.Lines {
		lines = append(lines, line)
	}
	if len(lines) != 2 || lines[0] != "line one" || lines[1] != "line two" {
		t.Errorf("got lines %v, want [line one, line two]", lines)
	}

	// After completion the buffered tail is still served.
	late, err := h.orch.AttachLogs(ctx, pending.ID)
	if err != nil {
		t.Fatalf("AttachLogs after completion failed: %v", err)
	}
	defer late.Close()
	var replay []string
	for line := range late.Lines {
		replay = append(replay, line)
	}
	if len(replay) != 2 {
		t.Errorf("late subscriber got %v, want the 2 buffered lines", replay)
	}
}

func TestListByStatus_RejectsUnknownStatus(t *testing.T) {
	h := newHarness(t, Config{MaxConcurrentJobs: 1, JobTimeout: time.Minute})

	if _, err := h.orch.ListByStatus(context.Background(), "bogus"); err == nil {
		t.Error("expected error for unknown status")
	}
}
