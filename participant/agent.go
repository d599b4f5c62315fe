package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aryan-ct/memedin/client"
	"github.com/aryan-ct/memedin/pkg/capture"
	"github.com/aryan-ct/memedin/pkg/session"
	"github.com/aryan-ct/memedin/pkg/signal"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const commitTimeout = 15 * time.Second

// relayPublisher announces committed captures through the relay
type relayPublisher struct {
	client *client.Client
}

func (p relayPublisher) PublishArtifact(_ context.Context, artifact session.Artifact) error {
	return p.client.PublishArtifact(artifact)
}

// Agent runs the capture machine on a participant device. It follows the
// session selection, answers capture requests and streams the preview while
// the camera is open.
type Agent struct {
	client  *client.Client
	machine *capture.Machine
	preview *client.PreviewPublisher
	out     io.Writer

	// pinned restricts the device to one participant; empty follows every selection
	pinned string

	syncCh chan string

	mu        sync.Mutex
	streaming bool
}

// NewAgent registers the agent's handlers on c. Call before c.Connect so the
// session-state snapshot sent on join is not missed.
func NewAgent(c *client.Client, machine *capture.Machine, pinned string, out io.Writer) *Agent {
	if out == nil {
		out = io.Discard
	}
	a := &Agent{
		client:  c,
		machine: machine,
		pinned:  pinned,
		out:     out,
		syncCh:  make(chan string, 1),
	}
	a.preview = client.NewPreviewPublisher(c, machine.Frames)

	c.OnMessage(signal.TypeSessionState, a.handleSelection)
	c.OnMessage(signal.TypeEmployeeSelected, a.handleSelection)
	c.OnMessage(signal.TypeCaptureRequest, a.handleCaptureRequest)
	machine.OnChange(a.handleState)

	return a
}

// Run applies selections until ctx is done, then releases the camera
func (a *Agent) Run(ctx context.Context) {
	defer func() {
		a.machine.Deactivate()
		a.preview.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case hint := <-a.syncCh:
			a.sync(ctx, hint)
		}
	}
}

// handleSelection queues a re-read of the session. Only the latest hint is
// kept. A hint away from the active participant releases the camera at once,
// without waiting behind an activation in progress.
func (a *Agent) handleSelection(msg signal.Message) {
	if state := a.machine.State(); state.Phase != capture.PhaseIdle && a.leaves(state.Participant, msg.ParticipantID) {
		a.machine.Deactivate()
	}

	for {
		select {
		case a.syncCh <- msg.ParticipantID:
			return
		default:
		}
		select {
		case <-a.syncCh:
		default:
		}
	}
}

func (a *Agent) leaves(current, hint string) bool {
	if hint == "" || hint != current {
		return true
	}
	return a.pinned != "" && hint != a.pinned
}

// sync reads the authoritative selection and activates or deactivates the
// machine. The relay hint is used only when the read fails.
func (a *Agent) sync(ctx context.Context, hint string) {
	selected := hint
	snap, err := a.client.FetchSession(ctx)
	if err != nil {
		log.Warn().Err(err).Str("hint", hint).Msg("Session read failed, using relay hint")
	} else {
		selected = snap.ParticipantID
	}

	if a.pinned != "" && selected != a.pinned {
		selected = ""
	}

	if selected == "" {
		a.machine.Deactivate()
		return
	}

	if err := a.machine.Activate(ctx, selected); errors.Is(err, capture.ErrSuperseded) {
		log.Debug().Str("participant", selected).Msg("Activation superseded")
	} else if err != nil {
		log.Warn().Err(err).Str("participant", selected).Msg("Activation failed")
	}
}

func (a *Agent) handleCaptureRequest(msg signal.Message) {
	state := a.machine.State()
	if msg.ParticipantID != "" && msg.ParticipantID != state.Participant {
		log.Debug().Str("participant", msg.ParticipantID).Msg("Capture request for another participant")
		return
	}
	if !a.machine.Arm() {
		log.Info().Str("phase", string(state.Phase)).Msg("Capture request ignored")
	}
}

func (a *Agent) handleState(state capture.State) {
	live := state.Phase != capture.PhaseIdle && state.Phase != capture.PhaseError && state.Phase != capture.PhaseAwaitingDevice

	a.mu.Lock()
	changed := live != a.streaming
	a.streaming = live
	a.mu.Unlock()

	if changed {
		var err error
		if live {
			err = a.client.StreamStarted(state.Participant)
		} else {
			err = a.client.StreamEnded()
		}
		if err != nil {
			log.Warn().Err(err).Msg("Failed to announce stream")
		}
	}

	a.print(state)
}

func (a *Agent) print(state capture.State) {
	switch state.Phase {
	case capture.PhaseCounting:
		fmt.Fprintf(a.out, "%d...\n", state.Remaining)
	case capture.PhaseCaptured:
		fmt.Fprintln(a.out, "Captured. Type 'commit' to save or 'retry' to take another.")
	default:
		fmt.Fprintf(a.out, "[%s] %s\n", state.Phase, state.Participant)
	}
	if state.Reason != "" {
		fmt.Fprintln(a.out, state.Reason)
	}
}

// Command runs one console command and reports whether the agent should stop
func (a *Agent) Command(ctx context.Context, line string) (bool, error) {
	switch strings.TrimSpace(line) {
	case "":
		return false, nil
	case "arm":
		if !a.machine.Arm() {
			return false, fmt.Errorf("cannot start countdown while %s", a.machine.State().Phase)
		}
	case "retry":
		return false, a.machine.Retry()
	case "commit":
		ctx, cancel := context.WithTimeout(ctx, commitTimeout)
		defer cancel()
		return false, a.machine.Commit(ctx)
	case "status":
		state := a.machine.State()
		fmt.Fprintf(a.out, "phase=%s participant=%s\n", state.Phase, state.Participant)
		if state.LastCommitted != nil {
			fmt.Fprintf(a.out, "last saved at %s\n", state.LastCommitted.CapturedAt.Format(time.Kitchen))
		}
	case "quit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q (arm, retry, commit, status, quit)", line)
	}
	return false, nil
}
