package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/italolelis/appstore_downloader/internal/storage"
)

// timeLayout is fixed width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const selectColumns = `SELECT session_id, url, status, local_path, error, bytes_total, started_at, finished_at FROM sessions`

// SessionRepository implements storage.SessionRepository on SQLite.
type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(dbConn *sql.DB) *SessionRepository {
	return &SessionRepository{db: dbConn}
}

var _ storage.SessionRepository = (*SessionRepository)(nil)

func (r *SessionRepository) TrackSession(ctx context.Context, id, url string, startedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, url, status, started_at) VALUES (?, ?, ?, ?)`,
		id, url, storage.StatusInProgress, startedAt.UTC().Format(timeLayout),
	)

	return err
}

// FinishSession stores the terminal outcome of a session and stamps finished_at.
func (r *SessionRepository) FinishSession(ctx context.Context, id, status, localPath, errMsg string, bytesTotal int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, local_path = ?, error = ?, bytes_total = ?, finished_at = ? WHERE session_id = ?`,
		status, localPath, errMsg, bytesTotal, time.Now().UTC().Format(timeLayout), id,
	)
	if err != nil {
		return err
	}

	return expectOneRow(res)
}

// UpdateSessionStatus changes only the status, e.g. when a completed session is acknowledged.
func (r *SessionRepository) UpdateSessionStatus(ctx context.Context, id, status string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE sessions SET status = ? WHERE session_id = ?`, status, id)
	if err != nil {
		return err
	}

	return expectOneRow(res)
}

// GetSessions returns the most recent sessions first.
func (r *SessionRepository) GetSessions(ctx context.Context, limit int) ([]storage.SessionRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSessions(rows)
}

func (r *SessionRepository) GetSession(ctx context.Context, id string) (storage.SessionRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` WHERE session_id = ?`, id)
	if err != nil {
		return storage.SessionRecord{}, err
	}
	defer rows.Close()

	records, err := scanSessions(rows)
	if err != nil {
		return storage.SessionRecord{}, err
	}

	if len(records) == 0 {
		return storage.SessionRecord{}, storage.ErrSessionNotFound
	}

	return records[0], nil
}

// GetFinishedBefore returns sessions in status that finished before the given time.
func (r *SessionRepository) GetFinishedBefore(ctx context.Context, status string, before time.Time) ([]storage.SessionRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		selectColumns+` WHERE status = ? AND finished_at IS NOT NULL AND finished_at < ? ORDER BY finished_at`,
		status, before.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSessions(rows)
}

func scanSessions(rows *sql.Rows) ([]storage.SessionRecord, error) {
	var sessions []storage.SessionRecord

	for rows.Next() {
		var (
			record     storage.SessionRecord
			startedAt  string
			finishedAt sql.NullString
		)

		if err := rows.Scan(&record.ID, &record.URL, &record.Status, &record.LocalPath,
			&record.Error, &record.BytesTotal, &startedAt, &finishedAt); err != nil {
			return nil, err
		}

		var err error

		record.StartedAt, err = time.Parse(timeLayout, startedAt)
		if err != nil {
			return nil, fmt.Errorf("invalid started_at for session %s: %w", record.ID, err)
		}

		if finishedAt.Valid {
			record.FinishedAt, err = time.Parse(timeLayout, finishedAt.String)
			if err != nil {
				return nil, fmt.Errorf("invalid finished_at for session %s: %w", record.ID, err)
			}
		}

		sessions = append(sessions, record)
	}

	return sessions, rows.Err()
}

func expectOneRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return storage.ErrSessionNotFound
	}

	return nil
}
