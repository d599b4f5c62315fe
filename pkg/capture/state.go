package capture

import (
	"github.com/aryan-ct/memedin/pkg/session"
	"github.com/pkg/errors"
)

// Phase of the capture machine
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseAwaitingDevice Phase = "awaiting-device"
	PhaseLive           Phase = "live"
	PhaseCounting       Phase = "counting"
	PhaseCaptured       Phase = "captured"
	PhaseSaving         Phase = "saving"
	PhaseError          Phase = "error"
)

// User-facing messages carried in State.Reason
const (
	MsgDeviceAccess  = "Failed to access camera. Please grant camera permissions."
	MsgLoadFailed    = "Failed to load employee data"
	MsgCaptureFailed = "Failed to capture picture. Please try again."
	MsgPersist       = "Failed to save picture. Please try again."
	MsgSaved         = "Picture saved! ✅ Check the host page to see your meme!"
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed in the current phase
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrPersist is returned by Commit when the record update fails
	ErrPersist = errors.New("failed to persist capture")
	// ErrSuperseded is returned when a deactivation or a newer activation
	// overtook the operation; its result was discarded
	ErrSuperseded = errors.New("activation superseded")
)

// PersistError carries the record store failure behind a failed Commit. It
// matches ErrPersist and unwraps to the store's error.
type PersistError struct {
	Err error
}

func (e *PersistError) Error() string {
	return ErrPersist.Error() + ": " + e.Err.Error()
}

func (e *PersistError) Is(target error) bool {
	return target == ErrPersist
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// State is an immutable snapshot of the machine
type State struct {
	Phase       Phase  `json:"phase"`
	Participant string `json:"participant,omitempty"`
	// Remaining is the countdown value while counting
	Remaining int `json:"remaining,omitempty"`
	// Artifact is the pending capture while captured or saving
	Artifact *session.Artifact `json:"artifact,omitempty"`
	// LastCommitted survives until the next activation
	LastCommitted *session.Artifact `json:"lastCommitted,omitempty"`
	Reason        string            `json:"reason,omitempty"`
}

func (s State) clone() State {
	if s.Artifact != nil {
		a := *s.Artifact
		s.Artifact = &a
	}
	if s.LastCommitted != nil {
		a := *s.LastCommitted
		s.LastCommitted = &a
	}
	return s
}

func canTransition(current, next Phase) bool {
	switch current {
	case PhaseIdle:
		return next == PhaseAwaitingDevice
	case PhaseAwaitingDevice:
		return next == PhaseLive || next == PhaseError
	case PhaseLive:
		return next == PhaseCounting
	case PhaseCounting:
		return next == PhaseCaptured || next == PhaseLive
	case PhaseCaptured:
		return next == PhaseLive || next == PhaseSaving
	case PhaseSaving:
		return next == PhaseLive || next == PhaseCaptured
	case PhaseError:
		return false
	default:
		return false
	}
}
