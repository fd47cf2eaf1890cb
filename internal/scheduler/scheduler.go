// Package scheduler fires the recurring calendar trigger that submits
// every catalog scraper for a scheduled run.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"scraperd/internal/catalog"
	"scraperd/internal/store"

	"github.com/robfig/cron/v3"
)

// CreatedBy tags jobs submitted by the scheduler.
const CreatedBy = "scheduler"

// Submitter is the slice of the orchestrator the scheduler uses. The
// scheduler is just another caller of Submit: scheduled jobs go through
// the same manual approval gate as everything else.
type Submitter interface {
	Submit(ctx context.Context, scraperName, scraperType, createdBy string) (*store.Job, error)
}

// Config selects the single yearly trigger. The calendar fields mirror
// the original deployment's annual scrape window.
type Config struct {
	Enabled  bool
	Month    int
	Day      int
	Hour     int
	Minute   int
	Timezone string
}

// Validate checks the calendar fields.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Month < 1 || c.Month > 12 {
		return fmt.Errorf("cron month must be 1-12, got %d", c.Month)
	}
	if c.Day < 1 || c.Day > 31 {
		return fmt.Errorf("cron day must be 1-31, got %d", c.Day)
	}
	if c.Hour < 0 || c.Hour > 23 {
		return fmt.Errorf("cron hour must be 0-23, got %d", c.Hour)
	}
	if c.Minute < 0 || c.Minute > 59 {
		return fmt.Errorf("cron minute must be 0-59, got %d", c.Minute)
	}
	return nil
}

// Spec renders the trigger as a cron expression.
func (c Config) Spec() string {
	return fmt.Sprintf("%d %d %d %d *", c.Minute, c.Hour, c.Day, c.Month)
}

// Scheduler owns the cron trigger. Missed firings while the process was
// down are not backfilled.
type Scheduler struct {
	cron      *cron.Cron
	submitter Submitter
	cfg       Config
	log       *slog.Logger
}

// New builds a scheduler. Returns an error on invalid calendar fields
// or an unknown timezone.
func New(cfg Config, submitter Submitter, logger *slog.Logger) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	loc := time.Local
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid cron timezone %q: %w", cfg.Timezone, err)
		}
	}

	s := &Scheduler{
		cron:      cron.New(cron.WithLocation(loc)),
		submitter: submitter,
		cfg:       cfg,
		log:       logger,
	}

	if cfg.Enabled {
		if _, err := s.cron.AddFunc(cfg.Spec(), s.fire); err != nil {
			return nil, fmt.Errorf("failed to register cron trigger: %w", err)
		}
	}
	return s, nil
}

// Start arms the trigger. No-op when disabled.
func (s *Scheduler) Start() {
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return
	}
	s.cron.Start()
	if entries := s.cron.Entries(); len(entries) > 0 {
		s.log.Info("scheduler armed",
			"spec", s.cfg.Spec(),
			"next_fire", s.cron.Entry(entries[0].ID).Next)
	}
}

// Stop disarms the trigger and waits for an in-flight firing to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) fire() {
	s.log.Info("scheduled trigger fired")
	s.Trigger(context.Background())
}

// Trigger submits every catalog scraper as the scheduler. Jobs land in
// pending and still need approval. Also used by the manual trigger
// endpoint. Returns the submitted jobs.
func (s *Scheduler) Trigger(ctx context.Context) []*store.Job {
	var jobs []*store.Job
	for _, sc := range catalog.All() {
		job, err := s.submitter.Submit(ctx, sc.Name, sc.Type, CreatedBy)
		if err != nil {
			s.log.Error("scheduled submit failed", "scraper", sc.Name, "error", err)
			continue
		}
		jobs = append(jobs, job)
		s.log.Info("scheduled job submitted", "job_id", job.ID, "scraper", sc.Name)
	}
	s.log.Info("scheduled trigger done", "submitted", len(jobs))
	return jobs
}
