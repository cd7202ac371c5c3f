package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TURN LOG
// ═══════════════════════════════════════════════════════════════════════════════

// Turn is the audit record of one finished conversation turn.
type Turn struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"session_id"`
	Persona    string        `json:"persona"`
	Capability string        `json:"capability,omitempty"`
	Query      string        `json:"query"`
	Response   string        `json:"response"`
	Path       string        `json:"path"`
	Fallback   bool          `json:"fallback"`
	Failed     bool          `json:"failed"`
	RemoteAddr string        `json:"remote_addr,omitempty"`
	Duration   time.Duration `json:"duration"`
	CreatedAt  time.Time     `json:"created_at"`
}

// RecordTurn appends a turn to the log. A missing ID is generated.
func (s *Store) RecordTurn(ctx context.Context, t *Turn) error {
	if t.SessionID == "" {
		return fmt.Errorf("turn session ID cannot be empty")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (
			id, session_id, persona, capability, query, response,
			path, fallback, failed, remote_addr, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.SessionID, t.Persona, t.Capability, t.Query, t.Response,
		t.Path, t.Fallback, t.Failed, nullString(t.RemoteAddr), t.Duration.Milliseconds(), t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// SessionTurns returns a session's newest limit turns, oldest first. A limit
// <= 0 means all.
func (s *Store) SessionTurns(ctx context.Context, sessionID string, limit int) ([]*Turn, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, persona, capability, query, response,
		       path, fallback, failed, remote_addr, duration_ms, created_at
		FROM (
			SELECT *, rowid AS seq FROM turns WHERE session_id = ?
			ORDER BY created_at DESC, rowid DESC
			LIMIT ?
		)
		ORDER BY created_at, seq
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query session turns: %w", err)
	}
	defer rows.Close()
	return scanTurns(rows)
}

// RecentTurns returns the newest turns across all sessions, newest first.
func (s *Store) RecentTurns(ctx context.Context, limit int) ([]*Turn, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, persona, capability, query, response,
		       path, fallback, failed, remote_addr, duration_ms, created_at
		FROM turns
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()
	return scanTurns(rows)
}

// PersonaCounts returns the number of logged turns per persona.
func (s *Store) PersonaCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT persona, COUNT(*) FROM turns GROUP BY persona`)
	if err != nil {
		return nil, fmt.Errorf("count turns: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var persona string
		var n int
		if err := rows.Scan(&persona, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[persona] = n
	}
	return counts, rows.Err()
}

func scanTurns(rows *sql.Rows) ([]*Turn, error) {
	var out []*Turn
	for rows.Next() {
		var t Turn
		var remote sql.NullString
		var durationMS int64
		err := rows.Scan(
			&t.ID, &t.SessionID, &t.Persona, &t.Capability, &t.Query, &t.Response,
			&t.Path, &t.Fallback, &t.Failed, &remote, &durationMS, &t.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.RemoteAddr = remote.String
		t.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, &t)
	}
	return out, rows.Err()
}
