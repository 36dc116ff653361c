// Package cron implements the Scheduler (C9, spec §4.9): persistent
// trigger semantics (at/every/cron), hot sync with the cron_jobs table, and
// the system-job/calendar-reminder bindings layered on top of it.
package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nanobot-run/nanobot/pkg/models"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NextFire computes the next fire time for job's trigger after now,
// returning ok=false if the trigger will never fire again (spec §4.9).
func NextFire(job models.Job, now time.Time) (time.Time, bool, error) {
	switch job.Trigger {
	case models.TriggerAt:
		at := time.UnixMilli(job.TriggerParams.AtMs)
		if now.After(at) {
			return time.Time{}, false, nil
		}
		return at, true, nil

	case models.TriggerEvery:
		interval := time.Duration(job.TriggerParams.IntervalSec) * time.Second
		if interval <= 0 {
			return time.Time{}, false, fmt.Errorf("every trigger missing interval_sec")
		}
		// Coalesce missed fires: jump forward from the last scheduled time
		// by whole intervals rather than drifting one interval at a time
		// (spec §4.9 "coalescing missed fires", default coalesce=true).
		base := time.UnixMilli(job.NextRunAtMs)
		if job.NextRunAtMs == 0 || base.After(now) {
			base = now
		}
		next := base.Add(interval)
		for next.Before(now) {
			next = next.Add(interval)
		}
		return next, true, nil

	case models.TriggerCron:
		expr := job.TriggerParams.CronExpr
		if expr == "" {
			return time.Time{}, false, fmt.Errorf("cron trigger missing cron_expr")
		}
		loc := now.Location()
		if tz := job.TriggerParams.Timezone; tz != "" {
			if l, err := time.LoadLocation(tz); err == nil {
				loc = l
			}
		}
		schedule, err := cronParser.Parse(expr)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parse cron expression %q: %w", expr, err)
		}
		next := schedule.Next(now.In(loc))
		if next.IsZero() {
			return time.Time{}, false, nil
		}
		if endMs := job.TriggerParams.EndDateMs; endMs > 0 && next.After(time.UnixMilli(endMs)) {
			return time.Time{}, false, nil
		}
		return next, true, nil

	default:
		return time.Time{}, false, fmt.Errorf("unknown trigger kind %q", job.Trigger)
	}
}
