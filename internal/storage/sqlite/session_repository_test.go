package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/appstore_downloader/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *InstrumentedSessionRepository {
	t.Helper()

	db, err := InitDB(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return NewInstrumentedSessionRepository(db, nil)
}

func TestInitDB_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")

	db, err := InitDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = InitDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestSessionRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	started := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.TrackSession(ctx, "s-1", "http://x/app.apk", started))

	record, err := repo.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusInProgress, record.Status)
	assert.Equal(t, "http://x/app.apk", record.URL)
	assert.True(t, started.Equal(record.StartedAt))
	assert.True(t, record.FinishedAt.IsZero())

	require.NoError(t, repo.FinishSession(ctx, "s-1", storage.StatusCompleted, "/data/app.apk", "", 200))

	record, err = repo.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, record.Status)
	assert.Equal(t, "/data/app.apk", record.LocalPath)
	assert.EqualValues(t, 200, record.BytesTotal)
	assert.False(t, record.FinishedAt.IsZero())

	require.NoError(t, repo.UpdateSessionStatus(ctx, "s-1", storage.StatusAcknowledged))

	record, err = repo.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusAcknowledged, record.Status)
	assert.Equal(t, "/data/app.apk", record.LocalPath, "status update keeps the outcome")
}

func TestSessionRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	_, err := repo.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)

	assert.ErrorIs(t, repo.UpdateSessionStatus(ctx, "missing", storage.StatusCancelled), storage.ErrSessionNotFound)
	assert.ErrorIs(t, repo.FinishSession(ctx, "missing", storage.StatusFailed, "", "boom", 0), storage.ErrSessionNotFound)
}

func TestSessionRepository_DuplicateID(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	require.NoError(t, repo.TrackSession(ctx, "s-1", "http://x/a.apk", time.Now()))
	assert.Error(t, repo.TrackSession(ctx, "s-1", "http://x/b.apk", time.Now()))
}

func TestSessionRepository_GetSessionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"s-1", "s-2", "s-3"} {
		require.NoError(t, repo.TrackSession(ctx, id, "http://x/"+id, base.Add(time.Duration(i)*time.Minute)))
	}

	sessions, err := repo.GetSessions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "s-3", sessions[0].ID)
	assert.Equal(t, "s-2", sessions[1].ID)
}

func TestSessionRepository_GetFinishedBefore(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	require.NoError(t, repo.TrackSession(ctx, "done", "http://x/a", time.Now()))
	require.NoError(t, repo.FinishSession(ctx, "done", storage.StatusCompleted, "/data/app.apk", "", 10))

	require.NoError(t, repo.TrackSession(ctx, "failed", "http://x/b", time.Now()))
	require.NoError(t, repo.FinishSession(ctx, "failed", storage.StatusFailed, "", "boom", 0))

	require.NoError(t, repo.TrackSession(ctx, "running", "http://x/c", time.Now()))

	old, err := repo.GetFinishedBefore(ctx, storage.StatusCompleted, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, old)

	finished, err := repo.GetFinishedBefore(ctx, storage.StatusCompleted, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, finished, 1)
	assert.Equal(t, "done", finished[0].ID)
}
