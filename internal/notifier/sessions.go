package notifier

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/appstore_downloader/internal/downloader"
	"github.com/italolelis/appstore_downloader/internal/logctx"
)

// WatchSessions sends a notification for every session that completes or
// fails, until ctx is done or events is closed.
func WatchSessions(ctx context.Context, events <-chan downloader.Event, n Notifier) error {
	logger := logctx.LoggerFromContext(ctx).With("component", "session_notifier")

	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "shutting down session notifier")

			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}

			content, notify := sessionMessage(e)
			if !notify {
				continue
			}

			if err := n.Notify(ctx, content); err != nil {
				logger.ErrorContext(ctx, "failed to send notification", "session_id", e.Session.ID, "err", err)
			}
		}
	}
}

func sessionMessage(e downloader.Event) (string, bool) {
	if e.Kind != downloader.EventState {
		return "", false
	}

	s := e.Session

	switch s.State {
	case downloader.StateCompleted:
		return fmt.Sprintf("Download completed: %s (%s) saved to %s",
			s.TargetURL, humanize.Bytes(uint64(s.BytesWritten)), s.LocalPath), true
	case downloader.StateFailed:
		return fmt.Sprintf("Download failed: %s at %s: %s",
			s.TargetURL, humanize.FtoaWithDigits(s.Progress*100, 1)+"%", s.Err), true
	default:
		return "", false
	}
}
