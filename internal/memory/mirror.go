package memory

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nanobot-run/nanobot/pkg/models"
)

// MirrorStore backs the mirror/debate auxiliary tables (SPEC_FULL
// "Mirror auxiliary tables"): a running per-scope profile plus a log of
// exchange records, supplementing the mirror-* memory scopes named in
// spec §3 without inventing new long-term-memory invariants.
type MirrorStore struct {
	db *sql.DB
}

// NewMirrorStore wraps db for mirror-table access.
func NewMirrorStore(db *sql.DB) *MirrorStore { return &MirrorStore{db: db} }

// GetProfile returns the running profile for (agentId, scope), or nil.
func (m *MirrorStore) GetProfile(ctx context.Context, agentID, scope string) (*models.MirrorProfile, error) {
	var p models.MirrorProfile
	err := m.db.QueryRowContext(ctx, `
		SELECT id, agent_id, scope, name, summary, updated_at
		FROM mirror_profiles WHERE agent_id = ? AND scope = ?
	`, agentID, scope).Scan(&p.ID, &p.AgentID, &p.Scope, &p.Name, &p.Summary, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mirror profile: %w", err)
	}
	return &p, nil
}

// UpsertProfile writes the current profile summary, snapshotting the prior
// version into mirror_profile_snapshots for later inspection.
func (m *MirrorStore) UpsertProfile(ctx context.Context, p models.MirrorProfile) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert profile tx: %w", err)
	}
	defer tx.Rollback()

	var existingID int64
	var existingSummary string
	err = tx.QueryRowContext(ctx, `
		SELECT id, summary FROM mirror_profiles WHERE agent_id = ? AND scope = ?
	`, p.AgentID, p.Scope).Scan(&existingID, &existingSummary)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO mirror_profiles (agent_id, scope, name, summary, updated_at) VALUES (?, ?, ?, ?, ?)
		`, p.AgentID, p.Scope, p.Name, p.Summary, p.UpdatedAt); err != nil {
			return fmt.Errorf("insert mirror profile: %w", err)
		}
	case err != nil:
		return fmt.Errorf("load mirror profile: %w", err)
	default:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO mirror_profile_snapshots (profile_id, summary, created_at) VALUES (?, ?, ?)
		`, existingID, existingSummary, p.UpdatedAt); err != nil {
			return fmt.Errorf("snapshot mirror profile: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE mirror_profiles SET name = ?, summary = ?, updated_at = ? WHERE id = ?
		`, p.Name, p.Summary, p.UpdatedAt, existingID); err != nil {
			return fmt.Errorf("update mirror profile: %w", err)
		}
	}
	return tx.Commit()
}

// AppendRecord logs one mirror-debate exchange round.
func (m *MirrorStore) AppendRecord(ctx context.Context, r models.MirrorRecord) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO mirror_shang_records (agent_id, scope, round, content, created_at) VALUES (?, ?, ?, ?, ?)
	`, r.AgentID, r.Scope, r.Round, r.Content, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("append mirror record: %w", err)
	}
	return nil
}
