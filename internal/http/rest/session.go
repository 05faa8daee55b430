package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/appstore_downloader/internal/downloader"
	"github.com/italolelis/appstore_downloader/internal/installer"
	"github.com/italolelis/appstore_downloader/internal/logctx"
	"github.com/italolelis/appstore_downloader/internal/storage"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

type startRequest struct {
	URL string `json:"url"`
}

type sessionResponse struct {
	downloader.Session
	Downloaded string `json:"downloaded"`
	Total      string `json:"total,omitempty"`
}

func newSessionResponse(s downloader.Session) sessionResponse {
	resp := sessionResponse{Session: s, Downloaded: humanize.Bytes(uint64(s.BytesWritten))}
	if s.BytesExpected > 0 {
		resp.Total = humanize.Bytes(uint64(s.BytesExpected))
	}

	return resp
}

type ackResponse struct {
	Path    string `json:"path"`
	Install string `json:"install"`
	Error   string `json:"error,omitempty"`
}

type cancelResponse struct {
	Cancelled bool   `json:"cancelled"`
	Error     string `json:"error"`
}

type dismissResponse struct {
	Error string `json:"error"`
}

type historyEntry struct {
	ID         string     `json:"id"`
	URL        string     `json:"url"`
	Status     string     `json:"status"`
	LocalPath  string     `json:"local_path,omitempty"`
	Error      string     `json:"error,omitempty"`
	Size       string     `json:"size,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, newSessionResponse(h.manager.Snapshot()))
}

// HandleStartSession starts downloading the requested artifact, superseding
// any session that is still running.
func (h *Handler) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Debug("failed to decode request", "err", err)
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	if req.URL == "" {
		writeError(w, http.StatusBadRequest, downloader.ErrEmptyURL.Error())

		return
	}

	if u, err := url.Parse(req.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeError(w, http.StatusBadRequest, "url must be an absolute http(s) url")

		return
	}

	handle, err := h.manager.Start(r.Context(), req.URL)
	if err != nil {
		logger.Error("failed to start download", "url", req.URL, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())

		return
	}

	w.Header().Set("Location", "/session")
	writeJSON(w, r, http.StatusAccepted, newSessionResponse(handle.Snapshot()))
}

// HandleCancelSession cancels the running session. The slot is idle afterwards
// even when recording the cancellation failed; that error is returned in the body.
func (h *Handler) HandleCancelSession(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Cancel(r.Context()); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("cancellation was not recorded", "err", err)
		writeJSON(w, r, http.StatusOK, cancelResponse{Cancelled: true, Error: err.Error()})

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleAcknowledge consumes a completed session and hands the artifact to the installer.
func (h *Handler) HandleAcknowledge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	session, err := h.manager.AcknowledgeCompletedSession(ctx)
	if err != nil {
		writeStateError(w, r, err)

		return
	}

	path := session.LocalPath
	resp := ackResponse{Path: path, Install: "started"}

	switch err := h.installer.Install(ctx, path); {
	case err == nil:
		if h.history != nil {
			if err := h.history.UpdateSessionStatus(ctx, session.ID, storage.StatusInstalled); err != nil {
				logger.Error("failed to record install handoff", "session_id", session.ID, "err", err)
			}
		}
	case errors.Is(err, installer.ErrUnsupportedPlatform):
		resp.Install = "unsupported"
		resp.Error = err.Error()
	default:
		logger.Error("install handoff failed", "path", path, "err", err)

		resp.Install = "failed"
		resp.Error = err.Error()
	}

	writeJSON(w, r, http.StatusOK, resp)
}

// HandleDismiss consumes a failed session and returns its error description.
func (h *Handler) HandleDismiss(w http.ResponseWriter, r *http.Request) {
	msg, err := h.manager.AcknowledgeFailure(r.Context())
	if err != nil {
		writeStateError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusOK, dismissResponse{Error: msg})
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, r, http.StatusOK, []historyEntry{})

		return
	}

	limit := defaultHistoryLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")

			return
		}

		limit = min(n, maxHistoryLimit)
	}

	records, err := h.history.GetSessions(r.Context(), limit)
	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to load session history", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load session history")

		return
	}

	entries := make([]historyEntry, 0, len(records))

	for _, rec := range records {
		entry := historyEntry{
			ID:        rec.ID,
			URL:       rec.URL,
			Status:    rec.Status,
			LocalPath: rec.LocalPath,
			Error:     rec.Error,
			StartedAt: rec.StartedAt,
		}

		if rec.BytesTotal > 0 {
			entry.Size = humanize.Bytes(uint64(rec.BytesTotal))
		}

		if !rec.FinishedAt.IsZero() {
			finished := rec.FinishedAt
			entry.FinishedAt = &finished
		}

		entries = append(entries, entry)
	}

	writeJSON(w, r, http.StatusOK, entries)
}

func writeStateError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, downloader.ErrInvalidState) {
		writeError(w, http.StatusConflict, err.Error())

		return
	}

	logctx.LoggerFromContext(r.Context()).Error("session operation failed", "err", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}
