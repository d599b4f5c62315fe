package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aryan-ct/memedin/client"
	"github.com/aryan-ct/memedin/pkg/camera"
	"github.com/aryan-ct/memedin/pkg/capture"
	"github.com/aryan-ct/memedin/pkg/records"
	"github.com/aryan-ct/memedin/pkg/relay"
	"github.com/aryan-ct/memedin/pkg/session"
	"github.com/aryan-ct/memedin/pkg/signal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryRecords struct {
	mu      sync.Mutex
	records map[string]records.Record
}

func newMemoryRecords(ids ...string) *memoryRecords {
	m := &memoryRecords{records: make(map[string]records.Record)}
	for _, id := range ids {
		m.records[id] = records.Record{ID: id, Name: id, Caption: "caption"}
	}
	return m
}

func (m *memoryRecords) Get(_ context.Context, id string) (records.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return records.Record{}, records.ErrNotFound
	}
	return r, nil
}

func (m *memoryRecords) Update(_ context.Context, id string, patch records.Patch) (records.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return records.Record{}, records.ErrNotFound
	}
	r = patch.Apply(r)
	m.records[id] = r
	return r, nil
}

func (m *memoryRecords) imageURL(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id].ImageURL
}

type harness struct {
	wsURL   string
	records *memoryRecords
}

func newHarness(t *testing.T, ids ...string) *harness {
	t.Helper()
	store, err := session.New(context.Background(), session.NewMemoryBackend())
	require.NoError(t, err)
	hub := relay.NewHub(store)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.HandleFunc("/api/session", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(store.Snapshot())
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
		store.Close()
	})

	return &harness{
		wsURL:   "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		records: newMemoryRecords(ids...),
	}
}

func (h *harness) startAgent(t *testing.T, pinned string) (*Agent, *capture.Machine) {
	t.Helper()
	return h.startAgentWith(t, pinned, camera.PatternOpener{Width: 64, Height: 48, Interval: 20 * time.Millisecond})
}

func (h *harness) startAgentWith(t *testing.T, pinned string, opener camera.Opener) (*Agent, *capture.Machine) {
	t.Helper()
	c := client.NewClient(h.wsURL, signal.RoleParticipant)
	c.ParticipantID = pinned

	machine := capture.New(capture.Config{
		Opener:    opener,
		Records:   h.records,
		Publisher: relayPublisher{client: c},
		Countdown: 2,
		Interval:  10 * time.Millisecond,
	})
	agent := NewAgent(c, machine, pinned, io.Discard)

	require.NoError(t, c.Connect(context.Background()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		agent.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		c.Disconnect()
	})
	return agent, machine
}

func (h *harness) host(t *testing.T, types ...signal.Type) (*client.Client, chan signal.Message) {
	t.Helper()
	msgs := make(chan signal.Message, 16)
	c := client.NewClient(h.wsURL, signal.RoleHost)
	for _, typ := range types {
		c.OnMessage(typ, func(msg signal.Message) { msgs <- msg })
	}
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Disconnect() })
	return c, msgs
}

// stalledOpener never delivers a camera; Open returns once its context ends
type stalledOpener struct {
	mu       sync.Mutex
	opens    int
	canceled int
}

func (o *stalledOpener) Open(ctx context.Context) (camera.Handle, error) {
	o.mu.Lock()
	o.opens++
	o.mu.Unlock()

	<-ctx.Done()

	o.mu.Lock()
	o.canceled++
	o.mu.Unlock()
	return nil, camera.ErrDeviceAccess
}

func (o *stalledOpener) counts() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens, o.canceled
}

func waitPhase(t *testing.T, m *capture.Machine, phase capture.Phase) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.State().Phase == phase
	}, 3*time.Second, 5*time.Millisecond, "waiting for %s", phase)
}

func expect(t *testing.T, msgs chan signal.Message, typ signal.Type) signal.Message {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg := <-msgs:
			if msg.Type == typ {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
			return signal.Message{}
		}
	}
}

func TestAgent_CaptureFlow(t *testing.T) {
	h := newHarness(t, "emp-1")
	agent, machine := h.startAgent(t, "")
	host, msgs := h.host(t, signal.TypeStreamAvailable, signal.TypePictureSaved, signal.TypeStreamEnded)

	require.NoError(t, host.SelectParticipant("emp-1"))
	waitPhase(t, machine, capture.PhaseLive)
	assert.NotNil(t, machine.Frames())
	assert.Equal(t, "emp-1", expect(t, msgs, signal.TypeStreamAvailable).ParticipantID)

	require.NoError(t, host.RequestCapture("emp-1"))
	waitPhase(t, machine, capture.PhaseCaptured)

	quit, err := agent.Command(context.Background(), "commit")
	require.NoError(t, err)
	assert.False(t, quit)
	assert.Equal(t, capture.PhaseLive, machine.State().Phase)
	assert.True(t, strings.HasPrefix(h.records.imageURL("emp-1"), "data:image/jpeg;base64,"))

	saved := expect(t, msgs, signal.TypePictureSaved)
	require.NotNil(t, saved.Artifact)
	assert.Equal(t, "emp-1", saved.Artifact.ParticipantID)

	require.NoError(t, host.ClearSelection())
	waitPhase(t, machine, capture.PhaseIdle)
	expect(t, msgs, signal.TypeStreamEnded)
}

func TestAgent_PinnedIgnoresOthers(t *testing.T) {
	h := newHarness(t, "emp-1", "emp-2")
	_, machine := h.startAgent(t, "emp-2")
	host, _ := h.host(t)

	require.NoError(t, host.SelectParticipant("emp-1"))
	assert.Never(t, func() bool {
		return machine.State().Phase != capture.PhaseIdle
	}, 200*time.Millisecond, 10*time.Millisecond)

	require.NoError(t, host.SelectParticipant("emp-2"))
	waitPhase(t, machine, capture.PhaseLive)
	assert.Equal(t, "emp-2", machine.State().Participant)
}

func TestAgent_CaptureRequestForOtherParticipant(t *testing.T) {
	h := newHarness(t, "emp-1")
	_, machine := h.startAgent(t, "")
	host, _ := h.host(t)

	require.NoError(t, host.SelectParticipant("emp-1"))
	waitPhase(t, machine, capture.PhaseLive)

	require.NoError(t, host.RequestCapture("emp-9"))
	assert.Never(t, func() bool {
		return machine.State().Phase != capture.PhaseLive
	}, 200*time.Millisecond, 10*time.Millisecond)
}

func TestAgent_UnknownParticipantStaysIdle(t *testing.T) {
	h := newHarness(t)
	_, machine := h.startAgent(t, "")
	host, _ := h.host(t)

	require.NoError(t, host.SelectParticipant("ghost"))
	require.Eventually(t, func() bool {
		return machine.State().Reason == capture.MsgLoadFailed
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, capture.PhaseIdle, machine.State().Phase)
}

func TestAgent_ClearReleasesStalledCamera(t *testing.T) {
	h := newHarness(t, "emp-1", "emp-2")
	opener := &stalledOpener{}
	_, machine := h.startAgentWith(t, "", opener)
	host, _ := h.host(t)

	require.NoError(t, host.SelectParticipant("emp-1"))
	waitPhase(t, machine, capture.PhaseAwaitingDevice)
	require.Eventually(t, func() bool {
		opens, _ := opener.counts()
		return opens == 1
	}, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, host.ClearSelection())
	waitPhase(t, machine, capture.PhaseIdle)
	require.Eventually(t, func() bool {
		_, canceled := opener.counts()
		return canceled == 1
	}, 3*time.Second, 5*time.Millisecond)

	assert.Never(t, func() bool {
		return machine.State().Phase != capture.PhaseIdle
	}, 200*time.Millisecond, 10*time.Millisecond)
}

func TestAgent_SwitchWhileCameraStalled(t *testing.T) {
	h := newHarness(t, "emp-1", "emp-2")
	opener := &stalledOpener{}
	_, machine := h.startAgentWith(t, "", opener)
	host, _ := h.host(t)

	require.NoError(t, host.SelectParticipant("emp-1"))
	waitPhase(t, machine, capture.PhaseAwaitingDevice)

	require.NoError(t, host.SelectParticipant("emp-2"))
	require.Eventually(t, func() bool {
		state := machine.State()
		return state.Participant == "emp-2" && state.Phase == capture.PhaseAwaitingDevice
	}, 3*time.Second, 5*time.Millisecond)

	_, canceled := opener.counts()
	assert.Equal(t, 1, canceled)
}

func TestAgent_Commands(t *testing.T) {
	h := newHarness(t)
	agent, _ := h.startAgent(t, "")
	ctx := context.Background()

	tests := []struct {
		line     string
		wantQuit bool
		wantErr  bool
	}{
		{"", false, false},
		{"status", false, false},
		{"arm", false, true},
		{"retry", false, true},
		{"commit", false, true},
		{"dance", false, true},
		{"quit", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			quit, err := agent.Command(ctx, tt.line)
			assert.Equal(t, tt.wantQuit, quit)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
