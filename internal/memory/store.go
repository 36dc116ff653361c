// Package memory implements nanobot's Memory Store (spec §4.3): long-term
// memory entries, daily notes, full-text search with substring fallback,
// size-bounded writes, and head+tail-truncated reads for prompt inclusion.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/nanobot-run/nanobot/pkg/models"
)

// Store is the public Memory Store contract (spec §4.3).
type Store interface {
	AppendMemory(ctx context.Context, e models.MemoryEntry) error
	AppendMemories(ctx context.Context, agentID, scope string, entries []models.MemoryEntry) error
	GetMemories(ctx context.Context, scope, agentID string, limit, offset int) ([]models.MemoryEntry, error)
	ReplaceMemories(ctx context.Context, agentID, scope string, entries []models.MemoryEntry) error
	Search(ctx context.Context, query, scope string, limit int) ([]models.MemoryEntry, error)
	AppendDailyNote(ctx context.Context, agentID, scope, date, line string) error
	GetDailyNote(ctx context.Context, agentID, scope, date string) (*models.DailyNote, error)
	GetUnprocessedDailyNotes(ctx context.Context, beforeDate string) ([]models.DailyNote, error)
	MarkDailyNoteProcessed(ctx context.Context, id int64) error
	// ComposeForPrompt renders the head+tail-truncated reading composition
	// described in spec §3 for inclusion in the Context Builder's memory
	// section.
	ComposeForPrompt(ctx context.Context, scope, agentID string, thresholds Thresholds) (string, error)
}

// Thresholds mirrors config.MemoryThresholds without importing the config
// package (keeps memory decoupled from config per spec §9).
type Thresholds struct {
	MaxEntries, MaxBytes     int
	ReadEntries, ReadBytes   int
	ReadHeadCount, ReadTailCount int
}

// DefaultThresholds returns the spec §3 default caps.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxEntries: models.MemoryWriteCapEntries, MaxBytes: models.MemoryWriteCapBytes,
		ReadEntries: models.MemoryReadCapEntries, ReadBytes: models.MemoryReadCapBytes,
		ReadHeadCount: models.MemoryReadHead, ReadTailCount: models.MemoryReadTail,
	}
}

// SQLiteStore is the durable Store implementation.
type SQLiteStore struct {
	db         *sql.DB
	logger     *slog.Logger
	thresholds Thresholds
	ftsOK      bool
}

// NewSQLiteStore probes FTS5 availability once at construction time; if the
// probe fails, Search falls back to a substring LIKE query (spec §4.3).
func NewSQLiteStore(db *sql.DB, logger *slog.Logger, thresholds Thresholds) *SQLiteStore {
	s := &SQLiteStore{db: db, logger: logger, thresholds: thresholds}
	if _, err := db.Exec(`SELECT count(*) FROM memory_entries_fts`); err == nil {
		s.ftsOK = true
	} else {
		logger.Warn("memory FTS5 index unavailable, falling back to substring search", "error", err)
	}
	return s
}

// AppendMemory appends a single entry, enforcing the write caps for its
// (agentId, scope) partition.
func (s *SQLiteStore) AppendMemory(ctx context.Context, e models.MemoryEntry) error {
	return s.AppendMemories(ctx, e.AgentID, e.Scope, []models.MemoryEntry{e})
}

// AppendMemories inserts entries transactionally and then evicts the oldest
// rows in the partition until both count <= MaxEntries and size <= MaxBytes
// hold (spec §3, §4.3).
func (s *SQLiteStore) AppendMemories(ctx context.Context, agentID, scope string, entries []models.MemoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append memories tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO memory_entries (agent_id, scope, content, entry_date, entry_time, source_type, source_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare memory insert: %w", err)
	}
	defer stmt.Close()

	now := storageNow()
	for _, e := range entries {
		date, etime := e.EntryDate, e.EntryTime
		if date == "" {
			date = now.Format("2006-01-02")
		}
		if etime == "" {
			etime = now.Format("15:04:05")
		}
		if _, err := stmt.ExecContext(ctx, agentID, scope, e.Content, date, etime, e.SourceType, e.SourceID, now); err != nil {
			return fmt.Errorf("insert memory entry: %w", err)
		}
	}

	if err := evictOverCap(ctx, tx, agentID, scope, s.thresholds); err != nil {
		return err
	}
	return tx.Commit()
}

func evictOverCap(ctx context.Context, tx *sql.Tx, agentID, scope string, t Thresholds) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, length(content) FROM memory_entries
		WHERE agent_id = ? AND scope = ? ORDER BY id ASC
	`, agentID, scope)
	if err != nil {
		return fmt.Errorf("query partition for eviction: %w", err)
	}
	type row struct {
		id   int64
		size int
	}
	var all []row
	totalSize := 0
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.size); err != nil {
			rows.Close()
			return err
		}
		all = append(all, r)
		totalSize += r.size
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	i := 0
	for (len(all)-i) > t.MaxEntries || totalSize > t.MaxBytes {
		if i >= len(all) {
			break
		}
		totalSize -= all[i].size
		i++
	}
	if i == 0 {
		return nil
	}
	ids := make([]any, 0, i)
	placeholders := make([]string, 0, i)
	for _, r := range all[:i] {
		ids = append(ids, r.id)
		placeholders = append(placeholders, "?")
	}
	query := fmt.Sprintf(`DELETE FROM memory_entries WHERE id IN (%s)`, strings.Join(placeholders, ","))
	_, err = tx.ExecContext(ctx, query, ids...)
	return err
}

// GetMemories returns raw partition entries in insertion order with
// pagination, for admin/inspection use (distinct from ComposeForPrompt's
// head+tail reading policy).
func (s *SQLiteStore) GetMemories(ctx context.Context, scope, agentID string, limit, offset int) ([]models.MemoryEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, scope, content, entry_date, entry_time, source_type, source_id, created_at
		FROM memory_entries WHERE agent_id = ? AND scope = ?
		ORDER BY id ASC LIMIT ? OFFSET ?
	`, agentID, scope, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()
	return scanMemoryEntries(rows)
}

// ReplaceMemories atomically replaces an entire (agentId, scope) partition,
// used by the maintenance summarization job (spec §4.10).
func (s *SQLiteStore) ReplaceMemories(ctx context.Context, agentID, scope string, entries []models.MemoryEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace memories tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_entries WHERE agent_id = ? AND scope = ?`, agentID, scope); err != nil {
		return fmt.Errorf("clear partition: %w", err)
	}

	now := storageNow()
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO memory_entries (agent_id, scope, content, entry_date, entry_time, source_type, source_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare replace insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		date, etime := e.EntryDate, e.EntryTime
		if date == "" {
			date = now.Format("2006-01-02")
		}
		if etime == "" {
			etime = now.Format("15:04:05")
		}
		if _, err := stmt.ExecContext(ctx, agentID, scope, e.Content, date, etime, e.SourceType, e.SourceID, now); err != nil {
			return fmt.Errorf("insert replaced entry: %w", err)
		}
	}
	return tx.Commit()
}

// Search queries memory_entries via FTS5 when available, falling back to a
// substring LIKE scan (spec §4.3).
func (s *SQLiteStore) Search(ctx context.Context, query, scope string, limit int) ([]models.MemoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if s.ftsOK {
		sqlQuery := `
			SELECT e.id, e.agent_id, e.scope, e.content, e.entry_date, e.entry_time, e.source_type, e.source_id, e.created_at
			FROM memory_entries_fts f JOIN memory_entries e ON e.id = f.rowid
			WHERE memory_entries_fts MATCH ?`
		args := []any{query}
		if scope != "" {
			sqlQuery += ` AND e.scope = ?`
			args = append(args, scope)
		}
		sqlQuery += ` ORDER BY e.id DESC LIMIT ?`
		args = append(args, limit)
		rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
		if err == nil {
			defer rows.Close()
			return scanMemoryEntries(rows)
		}
		s.logger.Debug("fts query failed, falling back to substring search", "error", err)
	}

	sqlQuery := `
		SELECT id, agent_id, scope, content, entry_date, entry_time, source_type, source_id, created_at
		FROM memory_entries WHERE content LIKE ?`
	args := []any{"%" + query + "%"}
	if scope != "" {
		sqlQuery += ` AND scope = ?`
		args = append(args, scope)
	}
	sqlQuery += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("substring search: %w", err)
	}
	defer rows.Close()
	return scanMemoryEntries(rows)
}

func scanMemoryEntries(rows *sql.Rows) ([]models.MemoryEntry, error) {
	var out []models.MemoryEntry
	for rows.Next() {
		var e models.MemoryEntry
		var sourceType, sourceID sql.NullString
		if err := rows.Scan(&e.ID, &e.AgentID, &e.Scope, &e.Content, &e.EntryDate, &e.EntryTime, &sourceType, &sourceID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory entry: %w", err)
		}
		e.SourceType, e.SourceID = sourceType.String, sourceID.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// AppendDailyNote appends line to today's (scope, agentId, date) note,
// creating the row on first write (spec §3 "append-only within a day").
func (s *SQLiteStore) AppendDailyNote(ctx context.Context, agentID, scope, date, line string) error {
	var existing string
	err := s.db.QueryRowContext(ctx, `
		SELECT content FROM daily_notes WHERE agent_id = ? AND scope = ? AND date = ?
	`, agentID, scope, date).Scan(&existing)
	if err == sql.ErrNoRows {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO daily_notes (agent_id, scope, date, content, processed) VALUES (?, ?, ?, ?, 0)
		`, agentID, scope, date, line)
		if err != nil {
			return fmt.Errorf("insert daily note: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("load daily note: %w", err)
	}
	updated := existing
	if updated != "" {
		updated += "\n"
	}
	updated += line
	_, err = s.db.ExecContext(ctx, `
		UPDATE daily_notes SET content = ? WHERE agent_id = ? AND scope = ? AND date = ?
	`, updated, agentID, scope, date)
	if err != nil {
		return fmt.Errorf("append daily note: %w", err)
	}
	return nil
}

// GetDailyNote returns the note for (agentId, scope, date), or nil if none.
func (s *SQLiteStore) GetDailyNote(ctx context.Context, agentID, scope, date string) (*models.DailyNote, error) {
	var n models.DailyNote
	var processed int
	var processedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, scope, date, content, processed, processed_at
		FROM daily_notes WHERE agent_id = ? AND scope = ? AND date = ?
	`, agentID, scope, date).Scan(&n.ID, &n.AgentID, &n.Scope, &n.Date, &n.Content, &processed, &processedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get daily note: %w", err)
	}
	n.Processed = processed != 0
	if processedAt.Valid {
		n.ProcessedAt = &processedAt.Time
	}
	return &n, nil
}

// GetUnprocessedDailyNotes returns all unprocessed notes strictly before
// beforeDate, used by the maintenance job's daily-fold step (spec §4.10).
func (s *SQLiteStore) GetUnprocessedDailyNotes(ctx context.Context, beforeDate string) ([]models.DailyNote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, scope, date, content, processed, processed_at
		FROM daily_notes WHERE processed = 0 AND date < ? ORDER BY date ASC
	`, beforeDate)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed daily notes: %w", err)
	}
	defer rows.Close()

	var out []models.DailyNote
	for rows.Next() {
		var n models.DailyNote
		var processed int
		var processedAt sql.NullTime
		if err := rows.Scan(&n.ID, &n.AgentID, &n.Scope, &n.Date, &n.Content, &processed, &processedAt); err != nil {
			return nil, err
		}
		n.Processed = processed != 0
		if processedAt.Valid {
			n.ProcessedAt = &processedAt.Time
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkDailyNoteProcessed marks a note processed so the maintenance job
// never folds it twice (spec §9 open question (ii)).
func (s *SQLiteStore) MarkDailyNoteProcessed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE daily_notes SET processed = 1, processed_at = ? WHERE id = ?
	`, storageNow(), id)
	if err != nil {
		return fmt.Errorf("mark daily note processed: %w", err)
	}
	return nil
}

// ComposeForPrompt renders the spec §3 head+tail read composition: if the
// partition has <= ReadEntries entries and <= ReadBytes total size, return
// everything; otherwise the ReadHeadCount oldest concatenated with the
// ReadTailCount newest.
func (s *SQLiteStore) ComposeForPrompt(ctx context.Context, scope, agentID string, t Thresholds) (string, error) {
	entries, err := s.GetMemories(ctx, scope, agentID, 100000, 0)
	if err != nil {
		return "", err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	totalBytes := 0
	for _, e := range entries {
		totalBytes += len(e.Content)
	}

	var selected []models.MemoryEntry
	if len(entries) <= t.ReadEntries && totalBytes <= t.ReadBytes {
		selected = entries
	} else {
		head := entries
		if len(head) > t.ReadHeadCount {
			head = head[:t.ReadHeadCount]
		}
		tail := entries
		if len(tail) > t.ReadTailCount {
			tail = tail[len(tail)-t.ReadTailCount:]
		}
		selected = dedupeByID(append(append([]models.MemoryEntry{}, head...), tail...))
	}

	lines := make([]string, 0, len(selected))
	for _, e := range selected {
		lines = append(lines, fmt.Sprintf("[%s %s] %s", e.EntryDate, e.EntryTime, e.Content))
	}
	return strings.Join(lines, "\n"), nil
}

func dedupeByID(entries []models.MemoryEntry) []models.MemoryEntry {
	seen := make(map[int64]bool, len(entries))
	out := make([]models.MemoryEntry, 0, len(entries))
	for _, e := range entries {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		out = append(out, e)
	}
	return out
}

var storageNow = time.Now
