package cleanup

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/italolelis/appstore_downloader/internal/logctx"
	"github.com/italolelis/appstore_downloader/internal/storage"
)

// statuses of sessions that left an artifact on disk.
var artifactStatuses = []string{
	storage.StatusCompleted,
	storage.StatusAcknowledged,
	storage.StatusInstalled,
}

// Guard runs remove while no session can touch the destination. It reports
// false without calling remove when a session owns it.
type Guard func(remove func() error) (bool, error)

// DeleteExpiredFiles deletes the artifacts of the given records when the file
// on disk was not modified for keepDuration. Every session writes to the same
// destination, so the file mod time, not the record, decides whether a newer
// download reused the path. Each check and removal runs inside guard; a nil
// guard runs them unprotected.
func DeleteExpiredFiles(ctx context.Context, records []storage.SessionRecord, keepDuration time.Duration, guard Guard) error {
	logger := logctx.LoggerFromContext(ctx)
	seen := make(map[string]bool)

	if guard == nil {
		guard = func(remove func() error) (bool, error) { return true, remove() }
	}

	for _, rec := range records {
		if rec.LocalPath == "" || seen[rec.LocalPath] {
			continue
		}

		seen[rec.LocalPath] = true

		var deleted bool

		ran, err := guard(func() error {
			var err error
			deleted, err = removeIfExpired(rec.LocalPath, keepDuration)

			return err
		})
		if err != nil {
			logger.Error("failed to delete expired artifact", "file", rec.LocalPath, "err", err)

			return err
		}

		if !ran {
			logger.Debug("stopping cleanup, a session owns the destination")

			return nil
		}

		if deleted {
			logger.Info("deleted expired artifact", "file", rec.LocalPath, "session_id", rec.ID)
		}
	}

	return nil
}

func removeIfExpired(path string, keepDuration time.Duration) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil // already deleted
		}

		return false, err
	}

	if time.Since(info.ModTime()) <= keepDuration {
		return false, nil
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}

	return true, nil
}

// Run deletes expired artifacts every interval until ctx is done.
func Run(ctx context.Context, repo storage.SessionReadRepository, interval, keepDuration time.Duration, guard Guard) error {
	logger := logctx.LoggerFromContext(ctx).With("component", "cleanup")
	ctx = logctx.WithLogger(ctx, logger)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down cleanup")

			return nil
		case <-ticker.C:
			if err := Pass(ctx, repo, keepDuration, guard); err != nil {
				logger.Error("cleanup pass failed", "err", err)
			}
		}
	}
}

// Pass runs a single cleanup over every finished session older than keepDuration.
func Pass(ctx context.Context, repo storage.SessionReadRepository, keepDuration time.Duration, guard Guard) error {
	cutoff := time.Now().Add(-keepDuration)

	var records []storage.SessionRecord

	for _, status := range artifactStatuses {
		recs, err := repo.GetFinishedBefore(ctx, status, cutoff)
		if err != nil {
			return err
		}

		records = append(records, recs...)
	}

	return DeleteExpiredFiles(ctx, records, keepDuration, guard)
}
