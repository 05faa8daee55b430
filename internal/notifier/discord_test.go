package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/italolelis/appstore_downloader/internal/downloader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordNotifier_Notify(t *testing.T) {
	var got map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordNotifier(srv.URL).Notify(context.Background(), "hello"))
	assert.Equal(t, map[string]string{"content": "hello"}, got)
}

func TestDiscordNotifier_Errors(t *testing.T) {
	assert.ErrorIs(t, NewDiscordNotifier("").Notify(context.Background(), "x"), ErrWebhookNotSet)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordNotifier(srv.URL).Notify(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingNotifier) Notify(_ context.Context, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = append(r.messages, content)

	return nil
}

func (r *recordingNotifier) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.messages...)
}

func TestWatchSessions(t *testing.T) {
	events := make(chan downloader.Event, 8)
	events <- downloader.Event{Kind: downloader.EventState, Session: downloader.Session{State: downloader.StateInProgress, TargetURL: "http://x/a.apk"}}
	events <- downloader.Event{Kind: downloader.EventProgress, Session: downloader.Session{State: downloader.StateInProgress, Progress: 0.5}}
	events <- downloader.Event{Kind: downloader.EventState, Session: downloader.Session{
		State: downloader.StateCompleted, TargetURL: "http://x/a.apk", BytesWritten: 2048, LocalPath: "/data/app.apk",
	}}
	events <- downloader.Event{Kind: downloader.EventState, Session: downloader.Session{State: downloader.StateCancelled}}
	events <- downloader.Event{Kind: downloader.EventState, Session: downloader.Session{
		State: downloader.StateFailed, TargetURL: "http://x/b.apk", Progress: 0.05, Err: "connection reset",
	}}
	close(events)

	n := &recordingNotifier{}

	done := make(chan error, 1)
	go func() { done <- WatchSessions(context.Background(), events, n) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not return after the stream closed")
	}

	assert.Equal(t, []string{
		"Download completed: http://x/a.apk (2.0 kB) saved to /data/app.apk",
		"Download failed: http://x/b.apk at 5%: connection reset",
	}, n.all())
}

func TestWatchSessions_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, WatchSessions(ctx, make(chan downloader.Event), &recordingNotifier{}))
}
