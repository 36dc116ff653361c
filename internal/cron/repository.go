package cron

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/nanobot-run/nanobot/pkg/models"
)

// Repository persists Job rows in the cron_jobs table (spec §4.9
// "Persistent jobs stored in the cron_jobs table").
type Repository struct {
	db *sql.DB
}

// NewRepository wraps an open database handle.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Upsert inserts or replaces job.
func (r *Repository) Upsert(ctx context.Context, job models.Job) error {
	triggerParams, err := json.Marshal(job.TriggerParams)
	if err != nil {
		return fmt.Errorf("marshal trigger_params: %w", err)
	}
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO cron_jobs
			(id, name, enabled, is_system, trigger, trigger_params, payload,
			 next_run_at_ms, last_run_at_ms, last_status, last_error, delete_after_run, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.Enabled, job.IsSystem, string(job.Trigger), string(triggerParams), string(payload),
		job.NextRunAtMs, job.LastRunAtMs, job.LastStatus, job.LastError, job.DeleteAfterRun, job.Source,
	)
	if err != nil {
		return fmt.Errorf("upsert cron job %s: %w", job.ID, err)
	}
	return nil
}

// Delete removes a job by id.
func (r *Repository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM cron_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete cron job %s: %w", id, err)
	}
	return nil
}

// Get fetches one job by id.
func (r *Repository) Get(ctx context.Context, id string) (models.Job, bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM cron_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, err
	}
	return job, true, nil
}

// ListAll returns every job row, used by syncFromDb to reconcile runtime
// state with UI-driven edits (spec §4.9 "Hot state sync").
func (r *Repository) ListAll(ctx context.Context) ([]models.Job, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM cron_jobs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list cron jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// DeleteByPrefix removes every job whose id starts with prefix, used to
// recreate a calendar event's reminder jobs (spec §4.9 "Calendar adapter").
func (r *Repository) DeleteByPrefix(ctx context.Context, prefix string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM cron_jobs WHERE id LIKE ?`, prefix+"%")
	if err != nil {
		return fmt.Errorf("delete cron jobs with prefix %s: %w", prefix, err)
	}
	return nil
}

const jobColumns = `id, name, enabled, is_system, trigger, trigger_params, payload,
	next_run_at_ms, last_run_at_ms, last_status, last_error, delete_after_run, source`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (models.Job, error) {
	var job models.Job
	var trigger string
	var triggerParams, payload string
	var lastRunAtMs sql.NullInt64
	var lastStatus, lastError, source sql.NullString

	err := row.Scan(
		&job.ID, &job.Name, &job.Enabled, &job.IsSystem, &trigger, &triggerParams, &payload,
		&job.NextRunAtMs, &lastRunAtMs, &lastStatus, &lastError, &job.DeleteAfterRun, &source,
	)
	if err != nil {
		return models.Job{}, err
	}

	job.Trigger = models.TriggerKind(trigger)
	job.LastRunAtMs = lastRunAtMs.Int64
	job.LastStatus = lastStatus.String
	job.LastError = lastError.String
	job.Source = source.String

	if err := json.Unmarshal([]byte(triggerParams), &job.TriggerParams); err != nil {
		return models.Job{}, fmt.Errorf("decode trigger_params for job %s: %w", job.ID, err)
	}
	if err := json.Unmarshal([]byte(payload), &job.Payload); err != nil {
		return models.Job{}, fmt.Errorf("decode payload for job %s: %w", job.ID, err)
	}
	return job, nil
}
