package models

// TriggerKind selects the scheduling semantics of a job (spec §4.9).
type TriggerKind string

const (
	TriggerAt    TriggerKind = "at"
	TriggerEvery TriggerKind = "every"
	TriggerCron  TriggerKind = "cron"
)

// PayloadKind selects what firing the job does.
type PayloadKind string

const (
	PayloadAgentTurn       PayloadKind = "agent_turn"
	PayloadSystemEvent     PayloadKind = "system_event"
	PayloadCalendarReminder PayloadKind = "calendar_reminder"
)

// TriggerParams holds the trigger-kind-specific scheduling parameters.
// Exactly the fields relevant to TriggerKind are populated.
type TriggerParams struct {
	AtMs           int64  `json:"at_ms,omitempty"`
	IntervalSec    int64  `json:"interval_sec,omitempty"`
	CronExpr       string `json:"cron_expr,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
	EndDateMs      int64  `json:"end_date_ms,omitempty"`
}

// JobPayload describes what firing the job does.
type JobPayload struct {
	Kind    PayloadKind `json:"kind"`
	Message string      `json:"message"`
	Deliver bool        `json:"deliver,omitempty"`
	Channel string      `json:"channel,omitempty"`
	To      string      `json:"to,omitempty"`
}

// Job is one persisted scheduler row.
type Job struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Enabled         bool          `json:"enabled"`
	IsSystem        bool          `json:"is_system"`
	Trigger         TriggerKind   `json:"trigger"`
	TriggerParams   TriggerParams `json:"trigger_params"`
	Payload         JobPayload    `json:"payload"`
	NextRunAtMs     int64         `json:"next_run_at_ms"`
	LastRunAtMs     int64         `json:"last_run_at_ms,omitempty"`
	LastStatus      string        `json:"last_status,omitempty"`
	LastError       string        `json:"last_error,omitempty"`
	DeleteAfterRun  bool          `json:"delete_after_run,omitempty"`
	Source          string        `json:"source,omitempty"`
}
