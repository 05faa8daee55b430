package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/italolelis/appstore_downloader/internal/downloader/progress"
	"github.com/italolelis/appstore_downloader/internal/logctx"
	"github.com/italolelis/appstore_downloader/internal/storage"
	"github.com/italolelis/appstore_downloader/internal/telemetry"
	"github.com/italolelis/appstore_downloader/internal/transfer"
)

const (
	dirPerm = 0755

	progressBuffer   = 64
	subscriberBuffer = 64
)

// session is the mutable state behind a Handle. All fields except the
// immutable ones (id, url, startedAt, channels) are guarded by Manager.mu.
type session struct {
	id        string
	url       string
	startedAt time.Time

	state      State
	written    int64
	expected   int64
	fraction   float64
	localPath  string
	errMsg     string
	lastDecile int

	cancel   context.CancelFunc
	progress chan Progress
	ended    chan struct{} // closed when the session reaches a terminal state
	released chan struct{} // closed when the worker has let go of the destination file
	recorded chan struct{} // closed when the worker has written the outcome to the history
}

// Manager owns the single download slot. Every artifact is written to the
// same destination path, so at most one session is non-idle at any time.
//
// Starting a new download while another one is in progress supersedes it:
// the running transfer is cancelled and the new worker waits for the old one
// to release the destination file before truncating it.
type Manager struct {
	destination string
	fetcher     transfer.Fetcher
	repo        storage.SessionWriteRepository
	telemetry   *telemetry.Telemetry

	mu          sync.Mutex
	current     *session
	lastWorker  <-chan struct{} // released channel of the most recently started worker
	subscribers map[int]chan Event
	nextSubID   int
}

// NewManager creates a manager writing artifacts to destination. repo and tel may be nil.
func NewManager(destination string, fetcher transfer.Fetcher, repo storage.SessionWriteRepository, tel *telemetry.Telemetry) *Manager {
	return &Manager{
		destination: destination,
		fetcher:     fetcher,
		repo:        repo,
		telemetry:   tel,
		subscribers: make(map[int]chan Event),
	}
}

// Destination returns the fixed local path every artifact is written to.
func (m *Manager) Destination() string {
	return m.destination
}

// Start begins downloading url in the background and returns immediately.
// ctx only provides values (logger, trace); cancelling it does not stop the
// transfer, use Cancel for that.
func (m *Manager) Start(ctx context.Context, url string) (*Handle, error) {
	if url == "" {
		return nil, ErrEmptyURL
	}

	s := &session{
		id:        uuid.NewString(),
		url:       url,
		startedAt: time.Now(),
		state:     StateInProgress,
		progress:  make(chan Progress, progressBuffer),
		ended:     make(chan struct{}),
		released:  make(chan struct{}),
		recorded:  make(chan struct{}),
	}

	workerCtx, cancel := context.WithCancel(logctx.WithSessionID(context.WithoutCancel(ctx), s.id))
	s.cancel = cancel

	logger := logctx.LoggerFromContext(workerCtx)

	m.mu.Lock()

	prev := m.current
	prevReleased := m.lastWorker

	var superseded *session

	if prev != nil && prev.state == StateInProgress {
		m.endLocked(prev, StateCancelled)
		prev.cancel()

		superseded = prev
	}

	m.current = s
	m.lastWorker = s.released
	m.publishLocked(EventState, s)

	m.mu.Unlock()

	if superseded != nil {
		logger.InfoContext(workerCtx, "superseding running download", "previous_session_id", superseded.id, "previous_url", superseded.url)
		m.recordEnd(workerCtx, superseded, storage.StatusSuperseded)
	}

	m.telemetry.RecordSessionStarted()

	if m.repo != nil {
		if err := m.repo.TrackSession(workerCtx, s.id, s.url, s.startedAt); err != nil {
			logger.ErrorContext(workerCtx, "failed to track session", "err", err)
		}
	}

	logger.InfoContext(workerCtx, "download started", "url", url, "target", m.destination)

	go m.run(workerCtx, s, prevReleased)

	return &Handle{manager: m, session: s}, nil
}

// Cancel stops the running transfer and resets the manager to idle. It returns
// without waiting for the transfer to release the destination file. Calling it
// while idle is a no-op. A finished but unacknowledged session is discarded.
//
// The returned error only reports a failure to record the cancellation; the
// manager is idle regardless.
func (m *Manager) Cancel(ctx context.Context) error {
	m.mu.Lock()

	s := m.current
	if s == nil {
		m.mu.Unlock()

		return nil
	}

	wasRunning := !s.state.Terminal()
	if wasRunning {
		m.endLocked(s, StateCancelled)
		s.cancel()
	}

	m.current = nil
	m.publishIdleLocked()

	m.mu.Unlock()

	ctx = logctx.WithSessionID(ctx, s.id)
	logctx.LoggerFromContext(ctx).InfoContext(ctx, "download cancelled", "url", s.url, "was_running", wasRunning)

	if !wasRunning {
		return nil
	}

	if err := m.recordEnd(ctx, s, storage.StatusCancelled); err != nil {
		return fmt.Errorf("failed to record cancellation: %w", err)
	}

	return nil
}

// AcknowledgeCompletion returns the local path of a completed download and
// resets the manager to idle.
func (m *Manager) AcknowledgeCompletion(ctx context.Context) (string, error) {
	s, err := m.AcknowledgeCompletedSession(ctx)
	if err != nil {
		return "", err
	}

	return s.LocalPath, nil
}

// AcknowledgeCompletedSession is AcknowledgeCompletion returning the whole
// consumed session, so callers can refer to it after the slot moved on.
func (m *Manager) AcknowledgeCompletedSession(ctx context.Context) (Session, error) {
	s, snap, err := m.acknowledge(StateCompleted, "acknowledge completion")
	if err != nil {
		return Session{}, err
	}

	m.recordStatus(ctx, s, storage.StatusAcknowledged)

	return snap, nil
}

// AcknowledgeFailure returns the error description of a failed download and
// resets the manager to idle.
func (m *Manager) AcknowledgeFailure(ctx context.Context) (string, error) {
	s, snap, err := m.acknowledge(StateFailed, "acknowledge failure")
	if err != nil {
		return "", err
	}

	m.recordStatus(ctx, s, storage.StatusAcknowledged)

	return snap.Err, nil
}

// Snapshot returns the current session, or an idle session when there is none.
func (m *Manager) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return Session{State: StateIdle}
	}

	return m.current.snapshot()
}

// Subscribe returns a stream of manager events and a function to stop it.
// Delivery never blocks the manager: a subscriber that falls behind misses
// events, so Snapshot stays the source of truth.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSubID
	m.nextSubID++

	ch := make(chan Event, subscriberBuffer)
	m.subscribers[id] = ch

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()

			delete(m.subscribers, id)
			close(ch)
		})
	}
}

// Shutdown cancels the running transfer and waits until its worker exits or ctx is done.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()

	if s == nil {
		return nil
	}

	if err := m.Cancel(ctx); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to cancel download on shutdown", "err", err)
	}

	select {
	case <-s.released:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WhileIdle runs fn while no session is current and no worker holds the
// destination file. Starting a session blocks until fn returns. It reports
// false without calling fn when the destination is in use.
func (m *Manager) WhileIdle(fn func() error) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return false, nil
	}

	if m.lastWorker != nil {
		select {
		case <-m.lastWorker:
		default:
			return false, nil
		}
	}

	return true, fn()
}

func (m *Manager) acknowledge(want State, operation string) (*session, Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.current
	if s == nil || s.state != want {
		state := StateIdle
		if s != nil {
			state = s.state
		}

		return nil, Session{}, &InvalidStateError{Operation: operation, State: state}
	}

	m.current = nil
	m.publishIdleLocked()

	return s, s.snapshot(), nil
}

// run is the transfer worker of one session.
func (m *Manager) run(ctx context.Context, s *session, prevReleased <-chan struct{}) {
	defer close(s.released)
	defer close(s.recorded)

	logger := logctx.LoggerFromContext(ctx)

	if prevReleased != nil {
		select {
		case <-prevReleased:
		case <-ctx.Done():
			return
		}
	}

	written, err := m.download(ctx, s)

	switch {
	case err == nil:
		if m.finish(s, StateCompleted, m.destination, "", written) {
			logger.InfoContext(ctx, "download completed", "target", m.destination, "size", humanize.Bytes(uint64(written)))
			m.recordEnd(ctx, s, storage.StatusCompleted)

			return
		}

		logger.DebugContext(ctx, "download cancelled after the last byte")
		m.removePartial(ctx)
	case ctx.Err() != nil:
		logger.DebugContext(ctx, "download worker stopped", "reason", ctx.Err())
	default:
		if m.finish(s, StateFailed, "", err.Error(), written) {
			logger.ErrorContext(ctx, "download failed", "url", s.url, "err", err)
			m.telemetry.RecordSystemError("downloader", failureType(err))
			m.recordEnd(ctx, s, storage.StatusFailed)
		}
	}
}

// removePartial deletes an incomplete artifact. Only the worker that created
// the file calls it, before releasing the destination.
func (m *Manager) removePartial(ctx context.Context) {
	if err := os.Remove(m.destination); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to remove partial artifact", "target", m.destination, "err", err)
	}
}

// download streams the artifact into the destination file and returns the number of bytes written.
func (m *Manager) download(ctx context.Context, s *session) (int64, error) {
	artifact, err := m.fetcher.Fetch(ctx, s.url)
	if err != nil {
		return 0, err
	}

	defer artifact.Body.Close()

	m.setExpected(s, artifact.Size)

	if err := os.MkdirAll(filepath.Dir(m.destination), dirPerm); err != nil {
		return 0, &transfer.FileError{Path: m.destination, Op: "create", Err: err}
	}

	out, err := os.Create(m.destination)
	if err != nil {
		return 0, &transfer.FileError{Path: m.destination, Op: "create", Err: err}
	}

	logctx.LoggerFromContext(ctx).DebugContext(ctx, "downloading artifact",
		"target", m.destination, "size", humanize.Bytes(uint64(artifact.Size)))

	pr := progress.NewReader(artifact.Body, artifact.Size, 0, func(written, total int64) {
		m.report(ctx, s, written, total)
	})

	_, copyErr := io.Copy(out, pr)
	closeErr := out.Close()

	if copyErr != nil || closeErr != nil {
		m.removePartial(ctx)
	}

	switch {
	case copyErr != nil:
		var pathErr *fs.PathError
		if errors.As(copyErr, &pathErr) {
			return pr.Written(), &transfer.FileError{Path: m.destination, Op: "write", Err: copyErr}
		}

		return pr.Written(), &transfer.NetworkError{
			Operation:  "copy_artifact",
			URL:        s.url,
			APIMessage: copyErr.Error(),
			Err:        copyErr,
		}
	case closeErr != nil:
		return pr.Written(), &transfer.FileError{Path: m.destination, Op: "write", Err: closeErr}
	}

	return pr.Written(), nil
}

func (m *Manager) setExpected(s *session, expected int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !s.state.Terminal() && expected > 0 {
		s.expected = expected
	}
}

// report applies a progress report from the worker. Reports for a session
// that already left InProgress are dropped.
func (m *Manager) report(ctx context.Context, s *session, written, total int64) {
	m.mu.Lock()

	if s.state.Terminal() {
		m.mu.Unlock()

		return
	}

	delta := written - s.written
	if delta > 0 {
		s.written = written
	}

	if total > 0 {
		s.expected = total
	}

	if f := progress.Fraction(s.written, s.expected); f > s.fraction {
		s.fraction = f
	}

	p := Progress{SessionID: s.id, BytesWritten: s.written, BytesExpected: s.expected, Fraction: s.fraction}

	select {
	case s.progress <- p:
	default:
	}

	m.publishLocked(EventProgress, s)

	decile := int(s.fraction * 10)
	logDecile := decile > s.lastDecile
	if logDecile {
		s.lastDecile = decile
	}

	m.mu.Unlock()

	m.telemetry.RecordBytesDownloaded(delta)

	if logDecile {
		logctx.LoggerFromContext(ctx).DebugContext(ctx, "download progress",
			"downloaded", humanize.Bytes(uint64(p.BytesWritten)),
			"total", humanize.Bytes(uint64(p.BytesExpected)),
			"percent", humanize.FtoaWithDigits(p.Fraction*100, 2))
	}
}

// finish moves s to a terminal state if it is still in progress. It reports
// whether this call won; a cancel that got there first makes it a no-op.
func (m *Manager) finish(s *session, state State, localPath, errMsg string, written int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.state.Terminal() {
		return false
	}

	if written > s.written {
		s.written = written
	}

	s.localPath = localPath
	s.errMsg = errMsg

	if state == StateCompleted {
		s.fraction = 1
	}

	m.endLocked(s, state)

	return true
}

// endLocked sets a terminal state and closes the per-session channels.
func (m *Manager) endLocked(s *session, state State) {
	s.state = state

	close(s.progress)
	close(s.ended)

	if m.current == s {
		m.publishLocked(EventState, s)
	}
}

func (m *Manager) publishIdleLocked() {
	m.broadcastLocked(Event{Kind: EventState, Session: Session{State: StateIdle}})
}

func (m *Manager) publishLocked(kind EventKind, s *session) {
	m.broadcastLocked(Event{Kind: kind, Session: s.snapshot()})
}

func (m *Manager) broadcastLocked(e Event) {
	for _, ch := range m.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

// recordEnd stores the outcome of s in the history and in metrics.
func (m *Manager) recordEnd(ctx context.Context, s *session, status string) error {
	m.telemetry.RecordSessionFinished(outcomeOf(status), time.Since(s.startedAt))

	if m.repo == nil {
		return nil
	}

	m.mu.Lock()
	snap := s.snapshot()
	m.mu.Unlock()

	err := m.repo.FinishSession(ctx, s.id, status, snap.LocalPath, snap.Err, snap.BytesWritten)
	if err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to record session outcome", "status", status, "err", err)
	}

	return err
}

// recordStatus updates the history status of s once the worker wrote its
// outcome, so a late outcome never overwrites it.
func (m *Manager) recordStatus(ctx context.Context, s *session, status string) {
	if m.repo == nil {
		return
	}

	ctx = logctx.WithSessionID(ctx, s.id)

	select {
	case <-s.recorded:
	case <-ctx.Done():
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "session status not updated, outcome still pending", "status", status, "err", ctx.Err())

		return
	}

	if err := m.repo.UpdateSessionStatus(ctx, s.id, status); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to update session status", "status", status, "err", err)
	}
}

func (s *session) snapshot() Session {
	return Session{
		ID:            s.id,
		TargetURL:     s.url,
		State:         s.state,
		BytesWritten:  s.written,
		BytesExpected: s.expected,
		Progress:      s.fraction,
		LocalPath:     s.localPath,
		Err:           s.errMsg,
		StartedAt:     s.startedAt,
	}
}

func outcomeOf(status string) string {
	switch status {
	case storage.StatusCompleted:
		return "completed"
	case storage.StatusFailed:
		return "failed"
	default:
		return "cancelled"
	}
}

func failureType(err error) string {
	var fileErr *transfer.FileError
	if errors.As(err, &fileErr) {
		return "file"
	}

	return "network"
}
