package downloader

import (
	"errors"
	"fmt"
	"time"
)

// State of a download session.
type State int

const (
	StateIdle State = iota
	StateInProgress
	StateCompleted
	StateCancelled
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:       "idle",
	StateInProgress: "in_progress",
	StateCompleted:  "completed",
	StateCancelled:  "cancelled",
	StateFailed:     "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state

			return nil
		}
	}

	return fmt.Errorf("unknown session state %q", text)
}

// Terminal reports whether no further transfer events can change the state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Session is a point-in-time copy of a download session.
type Session struct {
	ID            string    `json:"id,omitempty"`
	TargetURL     string    `json:"target_url,omitempty"`
	State         State     `json:"state"`
	BytesWritten  int64     `json:"bytes_written"`
	BytesExpected int64     `json:"bytes_expected"`
	Progress      float64   `json:"progress"`
	LocalPath     string    `json:"local_path,omitempty"`
	Err           string    `json:"error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
}

// Progress is one progress notification of a session.
type Progress struct {
	SessionID     string  `json:"session_id"`
	BytesWritten  int64   `json:"bytes_written"`
	BytesExpected int64   `json:"bytes_expected"`
	Fraction      float64 `json:"fraction"`
}

type EventKind string

const (
	EventProgress EventKind = "progress"
	EventState    EventKind = "state"
)

// Event is published to manager subscribers on every progress report and
// every state transition, including the reset to idle.
type Event struct {
	Kind    EventKind `json:"kind"`
	Session Session   `json:"session"`
}

var (
	// ErrInvalidState matches any *InvalidStateError with errors.Is.
	ErrInvalidState = errors.New("invalid session state")
	ErrEmptyURL     = errors.New("artifact url is empty")
)

// InvalidStateError is returned when an operation is not allowed in the current state.
type InvalidStateError struct {
	Operation string
	State     State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s while session is %s", e.Operation, e.State)
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}
