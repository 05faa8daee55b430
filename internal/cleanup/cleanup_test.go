package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/appstore_downloader/internal/storage"
	"github.com/italolelis/appstore_downloader/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, age time.Duration) {
	t.Helper()

	require.NoError(t, os.WriteFile(path, []byte("apk"), 0o600))

	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestDeleteExpiredFiles(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.apk")
	fresh := filepath.Join(dir, "fresh.apk")

	writeFile(t, old, 48*time.Hour)
	writeFile(t, fresh, time.Minute)

	records := []storage.SessionRecord{
		{ID: "1", LocalPath: old},
		{ID: "2", LocalPath: old},
		{ID: "3", LocalPath: fresh},
		{ID: "4", LocalPath: filepath.Join(dir, "gone.apk")},
		{ID: "5"},
	}

	require.NoError(t, DeleteExpiredFiles(context.Background(), records, 24*time.Hour, nil))

	assert.False(t, exists(old))
	assert.True(t, exists(fresh), "a file rewritten by a newer session is kept")
}

func TestPass(t *testing.T) {
	ctx := context.Background()

	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := sqlite.NewSessionRepository(db)

	artifact := filepath.Join(t.TempDir(), "app.apk")
	writeFile(t, artifact, 2*time.Hour)

	require.NoError(t, repo.TrackSession(ctx, "s-1", "http://x/app.apk", time.Now().Add(-3*time.Hour)))
	require.NoError(t, repo.FinishSession(ctx, "s-1", storage.StatusCompleted, artifact, "", 3))
	require.NoError(t, repo.UpdateSessionStatus(ctx, "s-1", storage.StatusAcknowledged))

	require.NoError(t, Pass(ctx, repo, time.Hour*24, nil))
	assert.True(t, exists(artifact), "finished too recently")

	// a session finished just now with a keep window of one nanosecond counts as expired
	time.Sleep(time.Millisecond)
	require.NoError(t, Pass(ctx, repo, time.Nanosecond, nil))
	assert.False(t, exists(artifact))
}

func TestRun_SkipsWhileBusy(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := sqlite.NewSessionRepository(db)

	artifact := filepath.Join(t.TempDir(), "app.apk")
	writeFile(t, artifact, time.Hour)

	require.NoError(t, repo.TrackSession(ctx, "s-1", "http://x/app.apk", time.Now().Add(-2*time.Hour)))
	require.NoError(t, repo.FinishSession(ctx, "s-1", storage.StatusCompleted, artifact, "", 3))
	time.Sleep(time.Millisecond)

	busy := make(chan bool, 1)
	busy <- true

	var checks int

	done := make(chan error, 1)

	go func() {
		done <- Run(ctx, repo, 5*time.Millisecond, time.Nanosecond, func(remove func() error) (bool, error) {
			checks++

			select {
			case <-busy:
				return false, nil
			default:
				return true, remove()
			}
		})
	}()

	assert.Eventually(t, func() bool { return !exists(artifact) }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.GreaterOrEqual(t, checks, 2)
}

func TestDeleteExpiredFiles_GuardRefuses(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.apk")
	second := filepath.Join(dir, "second.apk")

	writeFile(t, first, 48*time.Hour)
	writeFile(t, second, 48*time.Hour)

	records := []storage.SessionRecord{
		{ID: "1", LocalPath: first},
		{ID: "2", LocalPath: second},
	}

	var calls int

	guard := func(remove func() error) (bool, error) {
		calls++
		if calls > 1 {
			return false, nil
		}

		return true, remove()
	}

	require.NoError(t, DeleteExpiredFiles(context.Background(), records, 24*time.Hour, guard))

	assert.False(t, exists(first))
	assert.True(t, exists(second), "nothing is removed once a session owns the destination")
	assert.Equal(t, 2, calls)
}

func TestDeleteExpiredFiles_RechecksModTimeUnderGuard(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "app.apk")
	writeFile(t, artifact, 48*time.Hour)

	records := []storage.SessionRecord{{ID: "1", LocalPath: artifact}}

	// a new download rewrites the file right before the guarded removal
	guard := func(remove func() error) (bool, error) {
		writeFile(t, artifact, 0)

		return true, remove()
	}

	require.NoError(t, DeleteExpiredFiles(context.Background(), records, 24*time.Hour, guard))
	assert.True(t, exists(artifact))
}
