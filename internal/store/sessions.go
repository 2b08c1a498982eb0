package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"stock-sync/internal/models"
)

const sessionColumns = `id, platform, status, total_items, success_count, error_count,
	started_at, finished_at, duration_seconds, triggered_by, triggered_by_user, error_message, owner`

// CreateSession inserts a new running session
func (s *Store) CreateSession(ctx context.Context, session *models.SyncSession) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO sync_sessions (id, platform, status, total_items, started_at, triggered_by, triggered_by_user, owner)
		VALUES (:id, :platform, :status, :total_items, :started_at, :triggered_by, :triggered_by_user, :owner)`,
		session)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// SetSessionTotal records the number of items the session will attempt
func (s *Store) SetSessionTotal(ctx context.Context, id string, total int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sync_sessions SET total_items = $1 WHERE id = $2 AND status = $3",
		total, id, models.SessionStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to set session total: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionClosed
	}
	return nil
}

// AppendDetails inserts details and bumps the session counters in one
// transaction. Writes to a session that is no longer running are refused.
func (s *Store) AppendDetails(ctx context.Context, sessionID string, details []models.SyncDetail) error {
	if len(details) == 0 {
		return nil
	}

	success, failed := 0, 0
	for i := range details {
		details[i].SessionID = sessionID
		if details[i].Status == models.DetailStatusSuccess {
			success++
		} else {
			failed++
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE sync_sessions
		SET success_count = success_count + $1, error_count = error_count + $2
		WHERE id = $3 AND status = $4`,
		success, failed, sessionID, models.SessionStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to update session counters: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionClosed
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO sync_details (session_id, platform, barcode, status, quantity_sent, error_message, raw_response, sent_at, response_at)
		VALUES (:session_id, :platform, :barcode, :status, :quantity_sent, :error_message, :raw_response, :sent_at, :response_at)`,
		details)
	if err != nil {
		return fmt.Errorf("failed to insert details: %w", err)
	}

	return tx.Commit()
}

// FinishSession moves a running session to a terminal status. It reports
// false when the session had already left the running state.
func (s *Store) FinishSession(ctx context.Context, id string, status models.SessionStatus, errMsg string, finishedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_sessions
		SET status = $1, error_message = $2, finished_at = $3,
			duration_seconds = GREATEST(EXTRACT(EPOCH FROM ($3 - started_at)), 0)
		WHERE id = $4 AND status = $5`,
		status, errMsg, finishedAt, id, models.SessionStatusRunning)
	if err != nil {
		return false, fmt.Errorf("failed to finish session: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetSession retrieves a session by ID
func (s *Store) GetSession(ctx context.Context, id string) (*models.SyncSession, error) {
	var session models.SyncSession
	err := s.db.GetContext(ctx, &session, "SELECT "+sessionColumns+" FROM sync_sessions WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSessionDetails retrieves all details of a session in insertion order
func (s *Store) GetSessionDetails(ctx context.Context, id string) ([]models.SyncDetail, error) {
	var details []models.SyncDetail
	err := s.db.SelectContext(ctx, &details, `
		SELECT id, session_id, platform, barcode, status, quantity_sent, error_message, raw_response, sent_at, response_at
		FROM sync_details WHERE session_id = $1 ORDER BY id`, id)
	return details, err
}

// ListSessions returns the most recent sessions, optionally for one platform
func (s *Store) ListSessions(ctx context.Context, platform string, limit int) ([]models.SyncSession, error) {
	var sessions []models.SyncSession
	var err error
	if platform == "" {
		err = s.db.SelectContext(ctx, &sessions,
			"SELECT "+sessionColumns+" FROM sync_sessions ORDER BY started_at DESC LIMIT $1", limit)
	} else {
		err = s.db.SelectContext(ctx, &sessions,
			"SELECT "+sessionColumns+" FROM sync_sessions WHERE platform = $1 ORDER BY started_at DESC LIMIT $2",
			platform, limit)
	}
	return sessions, err
}

// ListRunningSessions returns every session still in the running state
func (s *Store) ListRunningSessions(ctx context.Context) ([]models.SyncSession, error) {
	var sessions []models.SyncSession
	err := s.db.SelectContext(ctx, &sessions,
		"SELECT "+sessionColumns+" FROM sync_sessions WHERE status = $1 ORDER BY started_at", models.SessionStatusRunning)
	return sessions, err
}

// DeleteSession removes a session and its details
func (s *Store) DeleteSession(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sync_sessions WHERE id = $1", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteSessionsBefore removes finished sessions started before the cutoff
func (s *Store) DeleteSessionsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM sync_sessions WHERE started_at < $1 AND status <> $2",
		before, models.SessionStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions: %w", err)
	}
	return res.RowsAffected()
}
