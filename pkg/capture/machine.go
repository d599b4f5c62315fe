// Package capture drives the participant side of a capture: camera
// activation, the countdown, the snapshot, and committing the result.
//
// The machine is guarded by a single mutex. Timer ticks and save results
// re-enter under that lock and are discarded when the activation epoch they
// started in is no longer current.
package capture

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/aryan-ct/memedin/pkg/camera"
	"github.com/aryan-ct/memedin/pkg/records"
	"github.com/aryan-ct/memedin/pkg/session"
	"github.com/dropbox/godropbox/time2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultCountdown = 3
	DefaultInterval  = time.Second

	snapshotTimeout = 5 * time.Second
	dataURIPrefix   = "data:image/jpeg;base64,"
)

// Records is the slice of the record store the machine needs
type Records interface {
	Get(ctx context.Context, id string) (records.Record, error)
	Update(ctx context.Context, id string, patch records.Patch) (records.Record, error)
}

// Publisher announces a committed artifact
type Publisher interface {
	PublishArtifact(ctx context.Context, artifact session.Artifact) error
}

// Config holds the machine's collaborators
type Config struct {
	Opener    camera.Opener
	Records   Records
	Publisher Publisher // optional
	Clock     time2.Clock

	Countdown int
	Interval  time.Duration
}

// Machine is the participant-side capture state machine
type Machine struct {
	opener    camera.Opener
	records   Records
	publisher Publisher
	clock     time2.Clock
	countdown int
	interval  time.Duration

	mu            sync.Mutex
	state         State
	epoch         uint64
	handle        camera.Handle
	stopCountdown chan struct{}
	// cancelActivation aborts a record load or camera open in flight
	cancelActivation context.CancelFunc

	obsMu     sync.Mutex
	observers map[uint64]func(State)
	nextObsID uint64
}

// New creates a machine in the idle phase
func New(cfg Config) *Machine {
	m := &Machine{
		opener:    cfg.Opener,
		records:   cfg.Records,
		publisher: cfg.Publisher,
		clock:     cfg.Clock,
		countdown: cfg.Countdown,
		interval:  cfg.Interval,
		state:     State{Phase: PhaseIdle},
		observers: make(map[uint64]func(State)),
	}
	if m.clock == nil {
		m.clock = time2.DefaultClock
	}
	if m.countdown <= 0 {
		m.countdown = DefaultCountdown
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	return m
}

// State returns a snapshot of the current state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Frames returns the open camera's frame channel, or nil while no camera is open
func (m *Machine) Frames() <-chan []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle == nil {
		return nil
	}
	return m.handle.Frames()
}

// OnChange registers fn for every state change and returns its unregister
// function. fn runs outside the machine lock and may call back into it.
func (m *Machine) OnChange(fn func(State)) func() {
	m.obsMu.Lock()
	m.nextObsID++
	id := m.nextObsID
	m.observers[id] = fn
	m.obsMu.Unlock()

	return func() {
		m.obsMu.Lock()
		delete(m.observers, id)
		m.obsMu.Unlock()
	}
}

func (m *Machine) notify(state State) {
	m.obsMu.Lock()
	fns := make([]func(State), 0, len(m.observers))
	for _, fn := range m.observers {
		fns = append(fns, fn)
	}
	m.obsMu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

// Activate loads the participant's record and opens the camera. Activating
// a different participant tears down the current activation first;
// re-activating the live participant is a no-op. Deactivate cancels an
// activation that is still loading or opening.
func (m *Machine) Activate(ctx context.Context, participantID string) error {
	m.mu.Lock()
	if m.state.Participant == participantID && m.state.Phase != PhaseIdle && m.state.Phase != PhaseError {
		m.mu.Unlock()
		return nil
	}

	var old camera.Handle
	if m.state.Phase != PhaseIdle {
		old = m.teardownLocked()
	}
	m.epoch++
	epoch := m.epoch

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.cancelActivation = cancel

	m.state = State{Phase: PhaseAwaitingDevice, Participant: participantID}
	awaiting := m.state.clone()
	m.mu.Unlock()

	if old != nil {
		closeHandle(old)
	}
	m.notify(awaiting)

	if _, err := m.records.Get(ctx, participantID); err != nil {
		m.mu.Lock()
		if m.epoch != epoch {
			m.mu.Unlock()
			return ErrSuperseded
		}
		m.cancelActivation = nil
		m.state = State{Phase: PhaseIdle, Reason: MsgLoadFailed}
		idle := m.state.clone()
		m.mu.Unlock()

		log.Warn().Err(err).Str("participant", participantID).Msg("Activation aborted")
		m.notify(idle)
		return errors.Wrapf(err, "failed to load participant %s", participantID)
	}

	handle, err := m.opener.Open(ctx)

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		if handle != nil {
			closeHandle(handle)
		}
		return ErrSuperseded
	}
	m.cancelActivation = nil
	if err != nil {
		m.state = State{Phase: PhaseError, Participant: participantID, Reason: MsgDeviceAccess}
		failed := m.state.clone()
		m.mu.Unlock()
		m.notify(failed)
		return errors.Wrap(err, "failed to open camera")
	}

	m.handle = handle
	m.state = State{Phase: PhaseLive, Participant: participantID}
	live := m.state.clone()
	m.mu.Unlock()

	log.Info().Str("participant", participantID).Msg("Camera live")
	m.notify(live)
	return nil
}

// Arm starts the countdown. It reports false without changing anything
// unless the machine is live.
func (m *Machine) Arm() bool {
	m.mu.Lock()
	if !canTransition(m.state.Phase, PhaseCounting) {
		m.mu.Unlock()
		return false
	}

	stop := make(chan struct{})
	m.stopCountdown = stop
	m.state.Phase = PhaseCounting
	m.state.Remaining = m.countdown
	m.state.Reason = ""
	epoch := m.epoch
	counting := m.state.clone()
	m.mu.Unlock()

	m.notify(counting)
	go m.runCountdown(epoch, stop)
	return true
}

func (m *Machine) runCountdown(epoch uint64, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-m.clock.After(m.interval):
		}

		m.mu.Lock()
		if m.epoch != epoch || m.stopCountdown != stop || m.state.Phase != PhaseCounting {
			m.mu.Unlock()
			return
		}

		m.state.Remaining--
		if m.state.Remaining > 0 {
			counting := m.state.clone()
			m.mu.Unlock()
			m.notify(counting)
			continue
		}

		m.stopCountdown = nil
		handle := m.handle
		m.mu.Unlock()

		m.capture(epoch, handle)
		return
	}
}

// capture takes the snapshot at the end of the countdown
func (m *Machine) capture(epoch uint64, handle camera.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	frame, err := handle.Snapshot(ctx)

	m.mu.Lock()
	if m.epoch != epoch || m.state.Phase != PhaseCounting {
		m.mu.Unlock()
		return
	}

	if err != nil {
		log.Error().Err(err).Str("participant", m.state.Participant).Msg("Snapshot failed")
		m.state.Phase = PhaseLive
		m.state.Remaining = 0
		m.state.Reason = MsgCaptureFailed
	} else {
		m.state.Phase = PhaseCaptured
		m.state.Remaining = 0
		m.state.Artifact = &session.Artifact{
			ParticipantID: m.state.Participant,
			ImageData:     dataURIPrefix + base64.StdEncoding.EncodeToString(frame),
			CapturedAt:    m.clock.Now(),
		}
	}
	next := m.state.clone()
	m.mu.Unlock()

	m.notify(next)
}

// Retry discards the captured image and returns to live
func (m *Machine) Retry() error {
	m.mu.Lock()
	if m.state.Phase != PhaseCaptured {
		phase := m.state.Phase
		m.mu.Unlock()
		return errors.Wrapf(ErrInvalidTransition, "retry from %s", phase)
	}

	m.state.Phase = PhaseLive
	m.state.Artifact = nil
	m.state.Reason = ""
	live := m.state.clone()
	m.mu.Unlock()

	m.notify(live)
	return nil
}

// Commit writes the captured image to the participant's record and
// publishes it. On failure the capture is kept so the user can commit again
// or retry.
func (m *Machine) Commit(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Phase != PhaseCaptured || m.state.Artifact == nil {
		phase := m.state.Phase
		m.mu.Unlock()
		return errors.Wrapf(ErrInvalidTransition, "commit from %s", phase)
	}

	artifact := *m.state.Artifact
	epoch := m.epoch
	m.state.Phase = PhaseSaving
	m.state.Reason = ""
	saving := m.state.clone()
	m.mu.Unlock()
	m.notify(saving)

	_, err := m.records.Update(ctx, artifact.ParticipantID, records.Patch{ImageURL: records.String(artifact.ImageData)})
	if err == nil && m.publisher != nil {
		if perr := m.publisher.PublishArtifact(ctx, artifact); perr != nil {
			log.Warn().Err(perr).Str("participant", artifact.ParticipantID).Msg("Failed to publish artifact")
		}
	}

	m.mu.Lock()
	if m.epoch != epoch || m.state.Phase != PhaseSaving {
		m.mu.Unlock()
		return ErrSuperseded
	}

	if err != nil {
		m.state.Phase = PhaseCaptured
		m.state.Reason = MsgPersist
		captured := m.state.clone()
		m.mu.Unlock()

		log.Error().Err(err).Str("participant", artifact.ParticipantID).Msg("Failed to save picture")
		m.notify(captured)
		return &PersistError{Err: err}
	}

	m.state.Phase = PhaseLive
	m.state.Artifact = nil
	m.state.LastCommitted = &artifact
	m.state.Reason = MsgSaved
	live := m.state.clone()
	m.mu.Unlock()

	log.Info().Str("participant", artifact.ParticipantID).Msg("Picture saved")
	m.notify(live)
	return nil
}

// Deactivate cancels any countdown, releases the camera and returns to idle.
// An in-flight commit finishes but its result is not applied.
func (m *Machine) Deactivate() {
	m.mu.Lock()
	if m.state.Phase == PhaseIdle {
		m.mu.Unlock()
		return
	}
	handle := m.teardownLocked()
	idle := m.state.clone()
	m.mu.Unlock()

	if handle != nil {
		closeHandle(handle)
	}
	m.notify(idle)
}

// teardownLocked is the single teardown path. The caller closes the
// returned handle after releasing the lock.
func (m *Machine) teardownLocked() camera.Handle {
	m.epoch++
	if m.cancelActivation != nil {
		m.cancelActivation()
		m.cancelActivation = nil
	}
	if m.stopCountdown != nil {
		close(m.stopCountdown)
		m.stopCountdown = nil
	}
	handle := m.handle
	m.handle = nil
	m.state = State{Phase: PhaseIdle}
	return handle
}

func closeHandle(h camera.Handle) {
	if err := h.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close camera")
	}
}
