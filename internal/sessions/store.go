// Package sessions implements nanobot's Session Store (spec §4.2): durable
// conversation + tool-step history keyed by SessionKey, guarded by per-key
// locks, accelerated by a bounded LRU cache, saved atomically per turn.
package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nanobot-run/nanobot/pkg/models"
)

// Store is the public Session Store contract (spec §4.2).
type Store interface {
	GetOrCreate(ctx context.Context, key string) (*models.Session, error)
	Get(ctx context.Context, key string) (*models.Session, error)
	Delete(ctx context.Context, key string) error
	Save(ctx context.Context, session *models.Session) error
	ListSessions(ctx context.Context) ([]string, error)
	GetMessages(ctx context.Context, key string, limit int, beforeSequence *int) ([]models.Message, error)
}

// SQLiteStore is the durable Store implementation backed by the shared
// chat.db database (spec §6).
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	cache  *lruCache
	locks  *locker
}

// NewSQLiteStore wraps db with the spec's LRU cache and per-key locking.
func NewSQLiteStore(db *sql.DB, logger *slog.Logger) *SQLiteStore {
	return &SQLiteStore{
		db:     db,
		logger: logger,
		cache:  newLRUCache(DefaultCacheSize),
		locks:  newLocker(),
	}
}

// extras is the JSON shape persisted alongside a message for everything
// beyond role/content/sequence/tool_call_id.
type extras struct {
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`
	ToolSteps []models.ToolStep `json:"tool_steps,omitempty"`
	Usage     *models.Usage     `json:"usage,omitempty"`
}

// GetOrCreate returns the cached/stored session for key, creating an empty
// one lazily if none exists yet (spec §3 "Sessions are created lazily").
func (s *SQLiteStore) GetOrCreate(ctx context.Context, key string) (*models.Session, error) {
	unlock := s.locks.lock(key)
	defer unlock()

	if cached, ok := s.cache.get(key); ok {
		return cloneSession(cached), nil
	}

	session, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if session == nil {
		now := storageNow()
		session = &models.Session{Key: key, CreatedAt: now, UpdatedAt: now}
		if err := s.persist(ctx, session); err != nil {
			return nil, err
		}
	}
	s.cache.put(key, session)
	return cloneSession(session), nil
}

// Get returns the session for key, or nil if it does not exist.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*models.Session, error) {
	unlock := s.locks.lock(key)
	defer unlock()

	if cached, ok := s.cache.get(key); ok {
		return cloneSession(cached), nil
	}
	session, err := s.load(ctx, key)
	if err != nil || session == nil {
		return nil, err
	}
	s.cache.put(key, session)
	return cloneSession(session), nil
}

// Delete removes a session and its messages (FK cascade) and drops it from
// the cache.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	unlock := s.locks.lock(key)
	defer unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete session %s: %w", key, err)
	}
	s.cache.remove(key)
	return nil
}

// Save replaces the stored message log for session.Key in a single
// transaction: INSERT OR REPLACE on the session row, DELETE + INSERT on its
// messages, so a concurrent reader sees either the prior or the new state,
// never a mix (spec §4.2, invariant (iii)).
func (s *SQLiteStore) Save(ctx context.Context, session *models.Session) error {
	unlock := s.locks.lock(session.Key)
	defer unlock()

	session.UpdatedAt = storageNow()
	if err := s.persist(ctx, session); err != nil {
		return err
	}
	s.cache.put(session.Key, session)
	return nil
}

func (s *SQLiteStore) persist(ctx context.Context, session *models.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer tx.Rollback()

	metaJSON, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("marshal session metadata: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO chat_sessions (key, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, session.Key, string(metaJSON), session.CreatedAt, session.UpdatedAt); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_key = ?`, session.Key); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chat_messages (session_key, sequence, role, content, tool_call_id, extras, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare message insert: %w", err)
	}
	defer stmt.Close()

	for _, msg := range session.Messages {
		extrasJSON, err := json.Marshal(extras{ToolCalls: msg.ToolCalls, ToolSteps: msg.ToolSteps, Usage: msg.Usage})
		if err != nil {
			return fmt.Errorf("marshal message extras: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, session.Key, msg.Sequence, string(msg.Role), msg.Content,
			nullable(msg.ToolCallID), string(extrasJSON), msg.CreatedAt); err != nil {
			return fmt.Errorf("insert message seq=%d: %w", msg.Sequence, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) load(ctx context.Context, key string) (*models.Session, error) {
	var metaJSON string
	var createdAt, updatedAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT metadata, created_at, updated_at FROM chat_sessions WHERE key = ?
	`, key).Scan(&metaJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", key, err)
	}

	session := &models.Session{Key: key, CreatedAt: createdAt, UpdatedAt: updatedAt}
	if err := json.Unmarshal([]byte(metaJSON), &session.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal session metadata: %w", err)
	}

	msgs, err := s.queryMessages(ctx, key, 0, nil, true)
	if err != nil {
		return nil, err
	}
	session.Messages = msgs
	return session, nil
}

// GetMessages returns messages in ascending sequence; if beforeSequence is
// supplied, it returns the limit messages with sequence strictly less than
// it (backward scroll pagination, spec §4.2).
func (s *SQLiteStore) GetMessages(ctx context.Context, key string, limit int, beforeSequence *int) ([]models.Message, error) {
	return s.queryMessages(ctx, key, limit, beforeSequence, limit <= 0)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, key string, limit int, beforeSequence *int, all bool) ([]models.Message, error) {
	// A bounded beforeSequence query is backward-scroll pagination: we want
	// the limit messages immediately preceding the cursor, i.e. the highest
	// sequences below it, not the oldest ones. Order DESC to grab that
	// window, then reverse below so the page still comes back ascending.
	paginating := beforeSequence != nil && !all && limit > 0

	query := `SELECT sequence, role, content, tool_call_id, extras, created_at FROM chat_messages WHERE session_key = ?`
	args := []any{key}
	if beforeSequence != nil {
		query += ` AND sequence < ?`
		args = append(args, *beforeSequence)
	}
	if paginating {
		query += ` ORDER BY sequence DESC LIMIT ?`
		args = append(args, limit)
	} else {
		query += ` ORDER BY sequence ASC`
		if !all && limit > 0 {
			query += ` LIMIT ?`
			args = append(args, limit)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		var toolCallID sql.NullString
		var extrasJSON string
		var role string
		if err := rows.Scan(&m.Sequence, &role, &m.Content, &toolCallID, &extrasJSON, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = models.Role(role)
		m.ToolCallID = toolCallID.String
		var ex extras
		if err := json.Unmarshal([]byte(extrasJSON), &ex); err != nil {
			return nil, fmt.Errorf("unmarshal message extras: %w", err)
		}
		m.ToolCalls = ex.ToolCalls
		m.ToolSteps = ex.ToolSteps
		m.Usage = ex.Usage
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if paginating {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

// ListSessions returns every known SessionKey.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM chat_sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func cloneSession(s *models.Session) *models.Session {
	cp := *s
	cp.Messages = append([]models.Message(nil), s.Messages...)
	return &cp
}

var storageNow = time.Now
