package storage

import (
	"context"
	"errors"
	"time"
)

// Session statuses as persisted in the history table.
const (
	StatusInProgress   = "in_progress"
	StatusCompleted    = "completed"
	StatusFailed       = "failed"
	StatusCancelled    = "cancelled"
	StatusSuperseded   = "superseded"
	StatusInstalled    = "install_requested"
	StatusAcknowledged = "acknowledged"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionRecord is one download session as kept in the history.
type SessionRecord struct {
	ID         string
	URL        string
	Status     string
	LocalPath  string
	Error      string
	BytesTotal int64
	StartedAt  time.Time
	FinishedAt time.Time // zero while the session is running
}

type SessionReadRepository interface {
	GetSessions(ctx context.Context, limit int) ([]SessionRecord, error)
	GetSession(ctx context.Context, id string) (SessionRecord, error)
	GetFinishedBefore(ctx context.Context, status string, before time.Time) ([]SessionRecord, error)
}

type SessionWriteRepository interface {
	TrackSession(ctx context.Context, id, url string, startedAt time.Time) error
	FinishSession(ctx context.Context, id, status, localPath, errMsg string, bytesTotal int64) error
	UpdateSessionStatus(ctx context.Context, id, status string) error
}

// SessionRepository is the full history store.
type SessionRepository interface {
	SessionReadRepository
	SessionWriteRepository
}
