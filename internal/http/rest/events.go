package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/italolelis/appstore_downloader/internal/downloader"
	"github.com/italolelis/appstore_downloader/internal/logctx"
)

const keepAliveInterval = 15 * time.Second

// HandleEvents streams session events as Server-Sent Events. The stream
// starts with the current snapshot so a client never has to poll first.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)
	rc := http.NewResponseController(w)

	events, unsubscribe := h.manager.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	initial := downloader.Event{Kind: downloader.EventState, Session: h.manager.Snapshot()}
	if err := writeEvent(w, rc, initial); err != nil {
		logger.Debug("event stream closed", "err", err)

		return
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}

			if err := writeEvent(w, rc, e); err != nil {
				logger.Debug("event stream closed", "err", err)

				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}

			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, e downloader.Event) error {
	data, err := json.Marshal(newSessionResponse(e.Session))
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, data); err != nil {
		return err
	}

	return rc.Flush()
}
