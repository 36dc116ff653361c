package cron

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nanobot-run/nanobot/pkg/models"
)

// CalendarEvent is the minimal shape the calendar adapter needs: an id, a
// start time, and the reminder offsets (in minutes before start) to lower
// into cron jobs (spec §4.9 "Calendar adapter").
type CalendarEvent struct {
	ID        string
	Title     string
	Start     time.Time
	Reminders []int // minutes before Start
	Channel   string
	ChatID    string
}

// calendarPrefix returns the synthetic id prefix for event's reminder jobs.
func calendarPrefix(eventID string) string {
	return fmt.Sprintf("cal:%s:", eventID)
}

func calendarJobID(eventID string, reminderMinutes int) string {
	return fmt.Sprintf("cal:%s:%d", eventID, reminderMinutes)
}

// SyncCalendarEvent lowers event into one cron job per (event, reminder),
// deleting and recreating all of the event's existing reminder jobs first
// so an update can't leave stale reminders behind (spec §4.9 "Updating the
// event deletes all such jobs and recreates them").
func (s *Scheduler) SyncCalendarEvent(ctx context.Context, event CalendarEvent) error {
	if err := s.Repo.DeleteByPrefix(ctx, calendarPrefix(event.ID)); err != nil {
		return err
	}
	s.mu.Lock()
	for id := range s.jobs {
		if strings.HasPrefix(id, calendarPrefix(event.ID)) {
			delete(s.jobs, id)
		}
	}
	s.mu.Unlock()

	for _, minutes := range event.Reminders {
		triggerTime := event.Start.Add(-time.Duration(minutes) * time.Minute)
		endDate := event.Start.AddDate(0, 0, calendarMaxReminderDays)
		cronExpr := fmt.Sprintf("%d %d * * *", triggerTime.Minute(), triggerTime.Hour())

		message := fmt.Sprintf("Event \"%s\" starts in %d minutes.", event.Title, minutes)
		if minutes == 0 {
			message = fmt.Sprintf("Event \"%s\" is starting now.", event.Title)
		}

		job := models.Job{
			ID:      calendarJobID(event.ID, minutes),
			Name:    fmt.Sprintf("[calendar] %s", event.Title),
			Enabled: true,
			Trigger: models.TriggerCron,
			TriggerParams: models.TriggerParams{
				CronExpr:  cronExpr,
				Timezone:  "",
				EndDateMs: endDate.UnixMilli(),
			},
			Payload: models.JobPayload{
				Kind:    models.PayloadCalendarReminder,
				Message: message,
				Deliver: event.Channel != "" && event.ChatID != "",
				Channel: event.Channel,
				To:      event.ChatID,
			},
			DeleteAfterRun: false,
			Source:         "calendar",
		}
		next, ok, err := NextFire(job, time.Now())
		if err != nil {
			return fmt.Errorf("compute next fire for calendar reminder %s: %w", job.ID, err)
		}
		if ok {
			job.NextRunAtMs = next.UnixMilli()
		}
		if err := s.Repo.Upsert(ctx, job); err != nil {
			return fmt.Errorf("sync calendar reminder %s: %w", job.ID, err)
		}
		s.mu.Lock()
		s.jobs[job.ID] = job
		s.mu.Unlock()
	}
	return nil
}

// calendarMaxReminderDays bounds how long a calendar reminder's recurring
// cron trigger stays active (spec §4.9 "endDate = eventStart + 365 days").
const calendarMaxReminderDays = 365
