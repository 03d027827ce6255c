package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/recurrence"
)

// SessionState is a stored study session. Pattern and Status hold the stored
// text so that one corrupt row can be reported without failing a whole listing.
type SessionState struct {
	ID       int64
	Key      string
	Title    string
	Pattern  string
	Window   recurrence.Window
	Status   string
	Version  int64
	SourceID sql.NullInt64
}

const sessionColumns = `id, key, title, pattern, start_at, end_at, status, version, source_id`

func (db *DB) scanSession(row scanner) (*SessionState, error) {
	var s SessionState
	var start, end string
	if err := row.Scan(&s.ID, &s.Key, &s.Title, &s.Pattern, &start, &end, &s.Status, &s.Version, &s.SourceID); err != nil {
		return nil, err
	}
	var err error
	if s.Window.Start, err = db.parseTime(start); err != nil {
		return nil, fmt.Errorf("session %d start_at: %w", s.ID, err)
	}
	if s.Window.End, err = db.parseTime(end); err != nil {
		return nil, fmt.Errorf("session %d end_at: %w", s.ID, err)
	}
	return &s, nil
}

// InsertSession stores a new session with status upcoming and returns its ID.
func (db *DB) InsertSession(ctx context.Context, s domain.Session, sourceID int64) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO sessions (key, title, pattern, start_at, end_at, status, source_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		s.Key,
		s.Title,
		s.Pattern.Anchored(s.Window.Start).String(),
		formatTime(s.Window.Start),
		formatTime(s.Window.End),
		recurrence.Upcoming.String(),
		sourceID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert session %s: %w", s.Key, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for session %s: %w", s.Key, err)
	}
	return id, nil
}

// FindSession retrieves a session by ID.
func (db *DB) FindSession(ctx context.Context, id int64) (*SessionState, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	s, err := db.scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Session not found
		}
		return nil, fmt.Errorf("failed to find session %d: %w", id, err)
	}
	return s, nil
}

// FindSessionByKey retrieves a session by its content key.
func (db *DB) FindSessionByKey(ctx context.Context, key string) (*SessionState, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE key = ?`, key)
	s, err := db.scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Session not found
		}
		return nil, fmt.Errorf("failed to find session by key %s: %w", key, err)
	}
	return s, nil
}

// GetAllSessions lists every session ordered by next start.
func (db *DB) GetAllSessions(ctx context.Context) ([]SessionState, error) {
	return db.querySessions(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY start_at ASC, id ASC`)
}

// GetRecurringSessionIDs lists the IDs of sessions whose pattern is not 'none'.
func (db *DB) GetRecurringSessionIDs(ctx context.Context) ([]int64, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id FROM sessions WHERE pattern <> 'none' ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list recurring sessions: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetSessionsBySourceID lists the sessions a source provided.
func (db *DB) GetSessionsBySourceID(ctx context.Context, sourceID int64) ([]SessionState, error) {
	sessions, err := db.querySessions(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE source_id = ?`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sessions for source ID %d: %w", sourceID, err)
	}
	return sessions, nil
}

func (db *DB) querySessions(ctx context.Context, query string, args ...any) ([]SessionState, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionState
	for rows.Next() {
		s, err := db.scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// UpdateSession writes the window and status of s if its stored version still
// equals s.Version, then bumps s.Version. It returns ErrConflict when another
// writer got there first.
func (db *DB) UpdateSession(ctx context.Context, s *SessionState) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE sessions
		SET start_at = ?, end_at = ?, status = ?, version = version + 1
		WHERE id = ? AND version = ?
	`,
		formatTime(s.Window.Start),
		formatTime(s.Window.End),
		s.Status,
		s.ID,
		s.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update session %d: %w", s.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update session %d: %w", s.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("session %d at version %d: %w", s.ID, s.Version, ErrConflict)
	}
	s.Version++
	return nil
}

// DeleteSessionByKey removes a session by its content key.
func (db *DB) DeleteSessionByKey(ctx context.Context, key string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete session with key %s: %w", key, err)
	}
	return nil
}
