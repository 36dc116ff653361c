package cron

import (
	"testing"
	"time"

	"github.com/nanobot-run/nanobot/pkg/models"
)

func TestNextFireAtTriggerInFuture(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	at := now.Add(time.Hour)
	job := models.Job{Trigger: models.TriggerAt, TriggerParams: models.TriggerParams{AtMs: at.UnixMilli()}}

	next, ok, err := NextFire(job, now)
	if err != nil {
		t.Fatalf("NextFire error: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true for a future at-trigger")
	}
	if !next.Equal(at) {
		t.Errorf("next = %v, want %v", next, at)
	}
}

func TestNextFireAtTriggerInPast(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	job := models.Job{Trigger: models.TriggerAt, TriggerParams: models.TriggerParams{AtMs: now.Add(-time.Hour).UnixMilli()}}

	_, ok, err := NextFire(job, now)
	if err != nil {
		t.Fatalf("NextFire error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for an exhausted at-trigger")
	}
}

func TestNextFireEveryCoalescesMissedFires(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	job := models.Job{
		Trigger:       models.TriggerEvery,
		TriggerParams: models.TriggerParams{IntervalSec: 60},
		NextRunAtMs:   now.Add(-10 * time.Minute).UnixMilli(),
	}

	next, ok, err := NextFire(job, now)
	if err != nil {
		t.Fatalf("NextFire error: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true for every-trigger")
	}
	if next.Before(now) {
		t.Errorf("next = %v, want a time at or after now (%v)", next, now)
	}
}

func TestNextFireEveryMissingInterval(t *testing.T) {
	job := models.Job{Trigger: models.TriggerEvery}
	_, _, err := NextFire(job, time.Now())
	if err == nil {
		t.Fatal("expected error for every-trigger with no interval")
	}
}

func TestNextFireCronExpression(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	job := models.Job{Trigger: models.TriggerCron, TriggerParams: models.TriggerParams{CronExpr: "0 13 * * *"}}

	next, ok, err := NextFire(job, now)
	if err != nil {
		t.Fatalf("NextFire error: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}
	if next.Hour() != 13 || next.Minute() != 0 {
		t.Errorf("next = %v, want 13:00", next)
	}
}

func TestNextFireCronPastEndDate(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	job := models.Job{
		Trigger: models.TriggerCron,
		TriggerParams: models.TriggerParams{
			CronExpr:  "0 13 * * *",
			EndDateMs: now.UnixMilli(),
		},
	}

	_, ok, err := NextFire(job, now)
	if err != nil {
		t.Fatalf("NextFire error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false once end_date has passed")
	}
}

func TestNextFireUnknownTrigger(t *testing.T) {
	job := models.Job{Trigger: models.TriggerKind("bogus")}
	_, _, err := NextFire(job, time.Now())
	if err == nil {
		t.Fatal("expected error for unknown trigger kind")
	}
}
