package models

import "time"

// Memory scopes named explicitly by the data model; additional agent-scoped
// values are permitted.
const (
	ScopeGlobal     = "global"
	ScopeMirrorWu    = "mirror-wu"
	ScopeMirrorBian  = "mirror-bian"
	ScopeMirrorShang = "mirror-shang"
)

// MemoryEntry is one long-term-memory row.
type MemoryEntry struct {
	ID         int64     `json:"id"`
	AgentID    string    `json:"agent_id,omitempty"`
	Scope      string    `json:"scope"`
	Content    string    `json:"content"`
	EntryDate  string    `json:"entry_date"` // YYYY-MM-DD
	EntryTime  string    `json:"entry_time"` // HH:MM:SS
	SourceType string    `json:"source_type,omitempty"`
	SourceID   string    `json:"source_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// DailyNote is one append-only daily note row, unique per (scope, agentId, date).
type DailyNote struct {
	ID          int64      `json:"id"`
	AgentID     string     `json:"agent_id,omitempty"`
	Scope       string     `json:"scope"`
	Date        string     `json:"date"` // YYYY-MM-DD
	Content     string     `json:"content"`
	Processed   bool       `json:"processed"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// MemoryWriteCapEntries and MemoryWriteCapBytes bound a single
// (agentId, scope) long-term memory partition (spec §3).
const (
	MemoryWriteCapEntries = 100
	MemoryWriteCapBytes   = 30 * 1024
)

// MemoryReadCapEntries and MemoryReadCapBytes decide whether prompt
// composition returns the full partition or a head+tail truncation.
const (
	MemoryReadCapEntries = 80
	MemoryReadCapBytes   = 25 * 1024
	MemoryReadHead       = 30
	MemoryReadTail       = 50
)

// MirrorProfile backs the mirror/debate attack-level feature: a per-scope
// running profile of a debate persona, supplementing the named mirror-*
// memory scopes (SPEC_FULL "Mirror auxiliary tables").
type MirrorProfile struct {
	ID        int64     `json:"id"`
	AgentID   string    `json:"agent_id,omitempty"`
	Scope     string    `json:"scope"`
	Name      string    `json:"name"`
	Summary   string    `json:"summary"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MirrorRecord is one logged exchange ("shang record") within a mirror
// debate scope, kept for later profile snapshotting.
type MirrorRecord struct {
	ID        int64     `json:"id"`
	AgentID   string    `json:"agent_id,omitempty"`
	Scope     string    `json:"scope"`
	Round     int       `json:"round"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
