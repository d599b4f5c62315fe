package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aryan-ct/memedin/client"
	"github.com/aryan-ct/memedin/pkg/records"
	"github.com/aryan-ct/memedin/pkg/signal"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const refetchTimeout = 10 * time.Second

// ErrNoSelection is returned by commands that need a live participant
var ErrNoSelection = errors.New("no participant selected")

// Console is the host's control surface: it selects participants, triggers
// captures and watches the saved pictures arrive.
type Console struct {
	client  *client.Client
	records records.Repository
	viewer  *client.PreviewViewer
	settle  time.Duration

	outMu sync.Mutex
	out   io.Writer

	mu       sync.Mutex
	selected string
	frames   map[string]int
}

// NewConsole registers the console's handlers on c. settle delays the
// record re-read after a picture-saved notice.
func NewConsole(c *client.Client, repo records.Repository, settle time.Duration, out io.Writer) *Console {
	if out == nil {
		out = io.Discard
	}
	h := &Console{
		client:  c,
		records: repo,
		settle:  settle,
		out:     out,
		frames:  make(map[string]int),
	}
	h.viewer = client.NewPreviewViewer(c, h.handleFrame)

	c.OnMessage(signal.TypeSessionState, h.handleSelection)
	c.OnMessage(signal.TypeEmployeeSelected, h.handleSelection)
	c.OnMessage(signal.TypeStreamAvailable, h.handleStreamAvailable)
	c.OnMessage(signal.TypeStreamEnded, h.handleStreamEnded)
	c.OnMessage(signal.TypePictureSaved, h.handlePictureSaved)

	return h
}

// Selected returns the participant the relay last reported as selected
func (h *Console) Selected() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.selected
}

func (h *Console) printf(format string, args ...any) {
	h.outMu.Lock()
	defer h.outMu.Unlock()
	fmt.Fprintf(h.out, format, args...)
}

func (h *Console) handleSelection(msg signal.Message) {
	h.mu.Lock()
	h.selected = msg.ParticipantID
	h.mu.Unlock()

	if msg.ParticipantID == "" {
		h.printf("No participant selected\n")
		return
	}
	h.printf("Selected %s\n", msg.ParticipantID)
}

func (h *Console) handleStreamAvailable(msg signal.Message) {
	log.Info().Str("endpoint", msg.From).Str("participant", msg.ParticipantID).Msg("Opening preview")
	if err := h.viewer.Open(msg.From); err != nil {
		log.Error().Err(err).Str("endpoint", msg.From).Msg("Failed to open preview")
	}
}

func (h *Console) handleStreamEnded(msg signal.Message) {
	h.viewer.CloseFor(msg.From)

	h.mu.Lock()
	n := h.frames[msg.From]
	delete(h.frames, msg.From)
	h.mu.Unlock()

	if n > 0 {
		log.Info().Str("endpoint", msg.From).Int("frames", n).Msg("Preview ended")
	}
}

func (h *Console) handleFrame(remoteID string, frame []byte) {
	h.mu.Lock()
	h.frames[remoteID]++
	n := h.frames[remoteID]
	h.mu.Unlock()

	if n == 1 || n%100 == 0 {
		log.Debug().Str("endpoint", remoteID).Int("frames", n).Int("bytes", len(frame)).Msg("Preview frame")
	}
}

// handlePictureSaved re-reads the record once the write has had time to land
func (h *Console) handlePictureSaved(msg signal.Message) {
	if msg.Artifact == nil {
		return
	}
	id := msg.Artifact.ParticipantID
	h.printf("Picture captured for %s\n", id)

	time.AfterFunc(h.settle, func() {
		ctx, cancel := context.WithTimeout(context.Background(), refetchTimeout)
		defer cancel()

		r, err := h.records.Get(ctx, id)
		if err != nil {
			log.Error().Err(err).Str("participant", id).Msg("Failed to refetch record")
			return
		}
		h.printf("%s: %s (image %d bytes)\n", r.Name, r.Caption, len(r.ImageURL))
	})
}

// Command runs one console command and reports whether the host should stop
func (h *Console) Command(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	switch fields[0] {
	case "list":
		return false, h.list(ctx)
	case "select":
		if len(fields) != 2 {
			return false, errors.New("usage: select <id>")
		}
		if _, err := h.records.Get(ctx, fields[1]); err != nil {
			return false, errors.Wrapf(err, "select %s", fields[1])
		}
		return false, h.client.SelectParticipant(fields[1])
	case "clear":
		return false, h.client.ClearSelection()
	case "capture":
		selected := h.Selected()
		if selected == "" {
			return false, ErrNoSelection
		}
		return false, h.client.RequestCapture(selected)
	case "reset":
		if len(fields) != 2 {
			return false, errors.New("usage: reset <id>")
		}
		_, err := h.records.Update(ctx, fields[1], records.Patch{ImageURL: records.String("")})
		return false, errors.Wrapf(err, "reset %s", fields[1])
	case "quit":
		return true, nil
	default:
		return false, errors.Errorf("unknown command %q (list, select <id>, clear, capture, reset <id>, quit)", fields[0])
	}
}

func (h *Console) list(ctx context.Context) error {
	list, err := h.records.List(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		h.printf("No participants yet\n")
		return nil
	}

	selected := h.Selected()
	for _, r := range list {
		marker := " "
		if r.ID == selected {
			marker = "*"
		}
		image := "-"
		if r.ImageURL != "" {
			image = "saved"
		}
		h.printf("%s %s\t%s\t%s\t%s\n", marker, r.ID, r.Name, r.Caption, image)
	}
	return nil
}

// Close tears down open previews
func (h *Console) Close() {
	h.viewer.Close()
}
