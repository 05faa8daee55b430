package rest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/appstore_downloader/internal/catalog"
	"github.com/italolelis/appstore_downloader/internal/downloader"
	"github.com/italolelis/appstore_downloader/internal/installer"
	"github.com/italolelis/appstore_downloader/internal/logctx"
	"github.com/italolelis/appstore_downloader/internal/storage"
)

// SessionManager is the download slot driven by the API.
type SessionManager interface {
	Start(ctx context.Context, url string) (*downloader.Handle, error)
	Cancel(ctx context.Context) error
	AcknowledgeCompletedSession(ctx context.Context) (downloader.Session, error)
	AcknowledgeFailure(ctx context.Context) (string, error)
	Snapshot() downloader.Session
	Subscribe() (<-chan downloader.Event, func())
}

type Catalog interface {
	Items() []catalog.Item
	Status() (time.Time, error)
}

type History interface {
	GetSessions(ctx context.Context, limit int) ([]storage.SessionRecord, error)
	UpdateSessionStatus(ctx context.Context, id, status string) error
}

// Credentials enable basic auth on every route when Username is set.
type Credentials struct {
	Username string
	Password string
}

type Handler struct {
	manager      SessionManager
	catalog      Catalog
	installer    installer.Installer
	history      History
	imageBaseURL string
	credentials  Credentials
}

func NewHandler(manager SessionManager, cat Catalog, inst installer.Installer, history History, imageBaseURL string, creds Credentials) *Handler {
	return &Handler{
		manager:      manager,
		catalog:      cat,
		installer:    inst,
		history:      history,
		imageBaseURL: imageBaseURL,
		credentials:  creds,
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.basicAuthMiddleware)

	r.Get("/catalog", h.HandleCatalog)

	r.Route("/session", func(r chi.Router) {
		r.Get("/", h.HandleGetSession)
		r.Post("/", h.HandleStartSession)
		r.Delete("/", h.HandleCancelSession)
		r.Post("/ack", h.HandleAcknowledge)
		r.Post("/dismiss", h.HandleDismiss)
		r.Get("/events", h.HandleEvents)
	})

	r.Get("/sessions", h.HandleHistory)

	return r
}

func (h *Handler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.credentials.Username == "" {
			next.ServeHTTP(w, r)

			return
		}

		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="appstore"`)
			writeError(w, http.StatusUnauthorized, "invalid authorization format")

			return
		}

		userOK := subtle.ConstantTimeCompare([]byte(username), []byte(h.credentials.Username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(h.credentials.Password)) == 1

		if !userOK || !passOK {
			writeError(w, http.StatusUnauthorized, "invalid username or password")

			return
		}

		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}
