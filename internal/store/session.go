package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/companionkit/memoryengine/internal/model"
)

// SaveSession upserts an upload session's current state.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess *model.UploadSession) error {
	files, err := json.Marshal(sess.Files)
	if err != nil {
		return fmt.Errorf("marshal session files: %w", err)
	}
	var completedAt *string
	if sess.CompletedAt != nil {
		str := sess.CompletedAt.UTC().Format(time.RFC3339Nano)
		completedAt = &str
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO upload_sessions (session_id, owner_id, companion_id, status,
			files, total_chunks, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			status = excluded.status,
			files = excluded.files,
			total_chunks = excluded.total_chunks,
			completed_at = excluded.completed_at`,
		sess.SessionID, sess.Namespace.OwnerID, sess.Namespace.CompanionID, string(sess.Status),
		string(files), sess.TotalChunksCreated,
		sess.StartedAt.UTC().Format(time.RFC3339Nano), completedAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetSession loads one upload session, or ErrNotFound.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*model.UploadSession, error) {
	var sess *model.UploadSession
	err := s.withReadRetry(ctx, func() error {
		row := s.db.QueryRowContext(ctx, `
			SELECT session_id, owner_id, companion_id, status, files, total_chunks, started_at, completed_at
			FROM upload_sessions WHERE session_id = ?`, sessionID)

		var got model.UploadSession
		var status, files, startedAt string
		var completedAt sql.NullString
		err := row.Scan(&got.SessionID, &got.Namespace.OwnerID, &got.Namespace.CompanionID,
			&status, &files, &got.TotalChunksCreated, &startedAt, &completedAt)
		if err == sql.ErrNoRows {
			return model.ErrNotFound
		}
		if err != nil {
			return err
		}

		got.Status = model.SessionStatus(status)
		if err := json.Unmarshal([]byte(files), &got.Files); err != nil {
			return fmt.Errorf("unmarshal session files: %w", err)
		}
		got.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return fmt.Errorf("parse started_at: %w", err)
		}
		if completedAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, completedAt.String)
			if err != nil {
				return fmt.Errorf("parse completed_at: %w", err)
			}
			got.CompletedAt = &t
		}
		sess = &got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// DeleteSessionsBefore garbage-collects terminal sessions completed
// before the cutoff. Returns the number removed.
func (s *SQLiteStore) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM upload_sessions
		WHERE completed_at IS NOT NULL AND completed_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
