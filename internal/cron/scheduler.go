package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nanobot-run/nanobot/internal/bus"
	"github.com/nanobot-run/nanobot/pkg/models"
)

// SystemHandler executes a system_event job payload (spec §4.9 "dispatch to
// a named system handler, e.g. auto_memory_integrate, memory_maintenance").
type SystemHandler func(ctx context.Context) (string, error)

// Scheduler is the Scheduler (C9, spec §4.9): it ticks, fires due jobs,
// persists outcomes, and periodically reconciles its in-memory view with
// the cron_jobs table so UI-driven edits take effect without a restart.
type Scheduler struct {
	Repo       *Repository
	Bus        *bus.Bus
	Logger     *slog.Logger
	TickPeriod time.Duration
	SyncPeriod time.Duration

	mu       sync.Mutex
	jobs     map[string]models.Job
	handlers map[string]SystemHandler
	inFlight map[string]bool // max_instances=1 per job id
}

// NewScheduler builds a Scheduler bound to repo.
func NewScheduler(repo *Repository, b *bus.Bus, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		Repo: repo, Bus: b, Logger: logger,
		TickPeriod: time.Second,
		SyncPeriod: 10 * time.Second,
		jobs:       make(map[string]models.Job),
		handlers:   make(map[string]SystemHandler),
		inFlight:   make(map[string]bool),
	}
}

// RegisterHandler binds name (e.g. "auto_memory_integrate") to a
// system_event handler.
func (s *Scheduler) RegisterHandler(name string, handler SystemHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = handler
}

// SeedSystemJobs inserts the default system jobs on first start if they do
// not already exist (spec §4.9 "System jobs ... are seeded on first
// start").
func (s *Scheduler) SeedSystemJobs(ctx context.Context, autoMemoryIntervalMin, maintenanceTickMin int) error {
	defaults := []models.Job{
		{
			ID: "system:memory_auto_integrate", Name: "Auto memory integration", Enabled: true, IsSystem: true,
			Trigger:       models.TriggerEvery,
			TriggerParams: models.TriggerParams{IntervalSec: int64(autoMemoryIntervalMin) * 60},
			Payload:       models.JobPayload{Kind: models.PayloadSystemEvent, Message: "auto_memory_integrate"},
		},
		{
			ID: "system:memory_maintenance", Name: "Memory maintenance", Enabled: true, IsSystem: true,
			Trigger:       models.TriggerEvery,
			TriggerParams: models.TriggerParams{IntervalSec: int64(maintenanceTickMin) * 60},
			Payload:       models.JobPayload{Kind: models.PayloadSystemEvent, Message: "memory_maintenance"},
		},
	}
	for _, job := range defaults {
		_, exists, err := s.Repo.Get(ctx, job.ID)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		next, ok, err := NextFire(job, time.Now())
		if err != nil {
			return err
		}
		if ok {
			job.NextRunAtMs = next.UnixMilli()
		}
		if err := s.Repo.Upsert(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// Run ticks until ctx is cancelled, firing due jobs and periodically
// resyncing from the database.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.syncFromDB(ctx); err != nil {
		return fmt.Errorf("initial cron sync: %w", err)
	}

	tick := time.NewTicker(s.TickPeriod)
	defer tick.Stop()
	resync := time.NewTicker(s.SyncPeriod)
	defer resync.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			s.fireDue(ctx)
		case <-resync.C:
			if err := s.syncFromDB(ctx); err != nil {
				s.Logger.Warn("cron syncFromDb failed", "error", err)
			}
		}
	}
}

// syncFromDB reconciles the in-memory job set with the table (spec §4.9
// "Hot state sync").
func (s *Scheduler) syncFromDB(ctx context.Context) error {
	jobs, err := s.Repo.ListAll(ctx)
	if err != nil {
		return err
	}
	fresh := make(map[string]models.Job, len(jobs))
	for _, j := range jobs {
		fresh[j.ID] = j
	}
	s.mu.Lock()
	s.jobs = fresh
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) fireDue(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	due := make([]models.Job, 0)
	for _, job := range s.jobs {
		if !job.Enabled {
			continue
		}
		if job.NextRunAtMs == 0 || job.NextRunAtMs > now.UnixMilli() {
			continue
		}
		if s.inFlight[job.ID] {
			continue // max_instances=1: skip overlapping fire
		}
		s.inFlight[job.ID] = true
		due = append(due, job)
	}
	s.mu.Unlock()

	for _, job := range due {
		go s.fire(ctx, job)
	}
}

func (s *Scheduler) fire(ctx context.Context, job models.Job) {
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, job.ID)
		s.mu.Unlock()
	}()

	result, err := s.dispatch(ctx, job)

	now := time.Now()
	job.LastRunAtMs = now.UnixMilli()
	if err != nil {
		job.LastStatus = "error"
		job.LastError = err.Error()
		s.Logger.Warn("cron job failed", "job", job.ID, "error", err)
	} else {
		job.LastStatus = "ok"
		job.LastError = ""
	}

	if job.Payload.Deliver && job.Payload.Channel != "" && job.Payload.To != "" && result != "" {
		s.Bus.PublishOutbound(models.OutboundMessage{Channel: job.Payload.Channel, ChatID: job.Payload.To, Content: result})
	}

	next, ok, nextErr := NextFire(job, now)
	if nextErr != nil {
		s.Logger.Warn("cron job next-fire computation failed", "job", job.ID, "error", nextErr)
	}
	if !ok {
		// One-shot "at" trigger exhausted: disable or delete per
		// deleteAfterRun (spec §4.9 "disable (or delete ...) afterwards",
		// §8 invariant 6).
		if job.DeleteAfterRun {
			if err := s.Repo.Delete(ctx, job.ID); err != nil {
				s.Logger.Warn("cron job delete-after-run failed", "job", job.ID, "error", err)
			}
			s.mu.Lock()
			delete(s.jobs, job.ID)
			s.mu.Unlock()
			return
		}
		job.Enabled = false
	} else {
		job.NextRunAtMs = next.UnixMilli()
	}

	if err := s.Repo.Upsert(ctx, job); err != nil {
		s.Logger.Warn("cron job persist failed", "job", job.ID, "error", err)
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
}

// RunNow dispatches job immediately, bypassing its trigger, and returns the
// handler's result without touching next-fire scheduling. Used by the
// "cron run" CLI command for manual invocation.
func (s *Scheduler) RunNow(ctx context.Context, jobID string) (string, error) {
	job, ok, err := s.Repo.Get(ctx, jobID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("no cron job %q", jobID)
	}
	return s.dispatch(ctx, job)
}

// dispatch implements onJob(job) -> responseText? (spec §4.9): agent_turn
// payloads become a synthetic InboundMessage on the bus; system_event
// payloads invoke the named handler.
func (s *Scheduler) dispatch(ctx context.Context, job models.Job) (string, error) {
	switch job.Payload.Kind {
	case models.PayloadAgentTurn, models.PayloadCalendarReminder:
		s.Bus.PublishInbound(models.InboundMessage{
			Channel: models.SystemChannel,
			ChatID:  fmt.Sprintf("%s:%s", jobOriginChannel(job), jobOriginChatID(job)),
			Content: job.Payload.Message,
		})
		return "", nil

	case models.PayloadSystemEvent:
		s.mu.Lock()
		handler, ok := s.handlers[job.Payload.Message]
		s.mu.Unlock()
		if !ok {
			return "", fmt.Errorf("no system handler registered for %q", job.Payload.Message)
		}
		return handler(ctx)

	default:
		return "", fmt.Errorf("unknown job payload kind %q", job.Payload.Kind)
	}
}

func jobOriginChannel(job models.Job) string {
	if job.Payload.Channel != "" {
		return job.Payload.Channel
	}
	return "cli"
}

func jobOriginChatID(job models.Job) string {
	if job.Payload.To != "" {
		return job.Payload.To
	}
	return "direct"
}
