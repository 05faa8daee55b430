package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/appstore_downloader/internal/storage"
	"github.com/italolelis/appstore_downloader/internal/telemetry"
)

// InstrumentedSessionRepository wraps SessionRepository with telemetry.
type InstrumentedSessionRepository struct {
	repo      *SessionRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedSessionRepository creates a new instrumented session repository.
func NewInstrumentedSessionRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedSessionRepository {
	return &InstrumentedSessionRepository{
		repo:      NewSessionRepository(dbConn),
		telemetry: tel,
	}
}

var _ storage.SessionRepository = (*InstrumentedSessionRepository)(nil)

func (r *InstrumentedSessionRepository) TrackSession(ctx context.Context, id, url string, startedAt time.Time) error {
	return r.telemetry.InstrumentDBOperation(ctx, "track_session", func(ctx context.Context) error {
		return r.repo.TrackSession(ctx, id, url, startedAt)
	})
}

func (r *InstrumentedSessionRepository) FinishSession(ctx context.Context, id, status, localPath, errMsg string, bytesTotal int64) error {
	return r.telemetry.InstrumentDBOperation(ctx, "finish_session", func(ctx context.Context) error {
		return r.repo.FinishSession(ctx, id, status, localPath, errMsg, bytesTotal)
	})
}

func (r *InstrumentedSessionRepository) UpdateSessionStatus(ctx context.Context, id, status string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "update_session_status", func(ctx context.Context) error {
		return r.repo.UpdateSessionStatus(ctx, id, status)
	})
}

func (r *InstrumentedSessionRepository) GetSessions(ctx context.Context, limit int) ([]storage.SessionRecord, error) {
	var result []storage.SessionRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_sessions", func(ctx context.Context) error {
		var err error
		result, err = r.repo.GetSessions(ctx, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *InstrumentedSessionRepository) GetSession(ctx context.Context, id string) (storage.SessionRecord, error) {
	var result storage.SessionRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_session", func(ctx context.Context) error {
		var err error
		result, err = r.repo.GetSession(ctx, id)

		return err
	})

	return result, err
}

func (r *InstrumentedSessionRepository) GetFinishedBefore(ctx context.Context, status string, before time.Time) ([]storage.SessionRecord, error) {
	var result []storage.SessionRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_finished_before", func(ctx context.Context) error {
		var err error
		result, err = r.repo.GetFinishedBefore(ctx, status, before)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
