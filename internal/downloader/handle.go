package downloader

import "context"

// Handle observes one session started by Manager.Start. It stays valid after
// the manager moved on to another session or back to idle.
type Handle struct {
	manager *Manager
	session *session
}

func (h *Handle) ID() string {
	return h.session.id
}

func (h *Handle) URL() string {
	return h.session.url
}

// Progress returns the session's progress stream. It is closed when the
// session reaches a terminal state. Reports are dropped for a reader that
// falls behind; fractions never decrease.
func (h *Handle) Progress() <-chan Progress {
	return h.session.progress
}

// Done is closed when the session is completed, failed or cancelled.
func (h *Handle) Done() <-chan struct{} {
	return h.session.ended
}

// Wait blocks until the session ends and returns its final snapshot.
func (h *Handle) Wait(ctx context.Context) (Session, error) {
	select {
	case <-h.session.ended:
	case <-ctx.Done():
		return Session{}, ctx.Err()
	}

	return h.Snapshot(), nil
}

// Snapshot returns the state of this session, independent of the manager's current one.
func (h *Handle) Snapshot() Session {
	h.manager.mu.Lock()
	defer h.manager.mu.Unlock()

	return h.session.snapshot()
}
