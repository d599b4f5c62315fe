// Package client connects a device to the relay: signaling over websocket,
// authoritative session reads over HTTP, and the camera preview over WebRTC.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aryan-ct/memedin/pkg/session"
	"github.com/aryan-ct/memedin/pkg/signal"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const welcomeTimeout = 10 * time.Second

// ErrNotConnected is returned when sending before Connect
var ErrNotConnected = errors.New("not connected")

// Handler is called for every inbound message of the type it was registered for
type Handler func(msg signal.Message)

// Client represents one device's connection to the relay
type Client struct {
	ServerURL     string
	Role          signal.Role
	ParticipantID string

	id         string
	iceServers []string
	conn       *websocket.Conn
	httpClient *http.Client
	handlers   map[signal.Type][]Handler
	mu         sync.Mutex
	writeMu    sync.Mutex // separate mutex for WebSocket writes
	connected  bool
	done       chan struct{}
}

// NewClient creates a client for the relay at serverURL (ws:// or wss://)
func NewClient(serverURL string, role signal.Role) *Client {
	return &Client{
		ServerURL:  serverURL,
		Role:       role,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		handlers:   make(map[signal.Type][]Handler),
		done:       make(chan struct{}),
	}
}

// ID returns the endpoint id assigned by the relay
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// ICEServers returns the ICE servers announced by the relay
func (c *Client) ICEServers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.iceServers
}

// OnMessage registers fn for messages of type t. Handlers run on the read
// loop in arrival order.
func (c *Client) OnMessage(t signal.Type, fn Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[t] = append(c.handlers[t], fn)
}

// Connect dials the relay, joins and waits for the welcome message. The
// session-state snapshot that follows is delivered to handlers.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return errors.New("already connected")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.ServerURL, nil)
	if err != nil {
		return errors.Wrap(err, "websocket dial failed")
	}

	join := signal.Message{Type: signal.TypeJoin, Role: c.Role, ParticipantID: c.ParticipantID}
	if err := conn.WriteJSON(join); err != nil {
		conn.Close()
		return errors.Wrap(err, "failed to send join")
	}

	conn.SetReadDeadline(time.Now().Add(welcomeTimeout))
	var welcome signal.Message
	if err := conn.ReadJSON(&welcome); err != nil {
		conn.Close()
		return errors.Wrap(err, "failed to read welcome")
	}
	conn.SetReadDeadline(time.Time{})

	if welcome.Type != signal.TypeWelcome {
		conn.Close()
		return errors.Errorf("expected welcome, got %s: %s", welcome.Type, welcome.Error)
	}

	c.conn = conn
	c.id = welcome.From
	c.iceServers = welcome.ICEServers
	c.connected = true

	go c.handleMessages()

	log.Info().Str("endpoint", c.id).Str("role", string(c.Role)).Msg("Connected to relay")
	return nil
}

// Done is closed when the connection ends
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) handleMessages() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		close(c.done)
	}()

	for {
		var msg signal.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			log.Debug().Err(err).Str("endpoint", c.ID()).Msg("Read error")
			return
		}

		if msg.Type == signal.TypeError {
			log.Warn().Str("endpoint", c.ID()).Str("error", msg.Error).Msg("Relay rejected a message")
		}

		c.mu.Lock()
		handlers := append([]Handler(nil), c.handlers[msg.Type]...)
		c.mu.Unlock()

		for _, fn := range handlers {
			fn(msg)
		}
	}
}

// Send writes msg to the relay
func (c *Client) Send(msg signal.Message) error {
	c.mu.Lock()
	conn, connected := c.conn, c.connected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(msg); err != nil {
		return errors.Wrapf(err, "failed to send %s", msg.Type)
	}
	return nil
}

// SelectParticipant asks the relay to make id the live participant
func (c *Client) SelectParticipant(id string) error {
	return c.Send(signal.Message{Type: signal.TypeSelectEmployee, ParticipantID: id})
}

// ClearSelection deactivates whoever is live
func (c *Client) ClearSelection() error {
	return c.SelectParticipant("")
}

// RequestCapture asks the participant's device to start its countdown
func (c *Client) RequestCapture(participantID string) error {
	return c.Send(signal.Message{Type: signal.TypeCapturePicture, ParticipantID: participantID})
}

// PublishArtifact announces a committed capture
func (c *Client) PublishArtifact(artifact session.Artifact) error {
	return c.Send(signal.Message{Type: signal.TypePictureCaptured, Artifact: &artifact})
}

// StreamStarted announces that this device's preview can be opened
func (c *Client) StreamStarted(participantID string) error {
	return c.Send(signal.Message{Type: signal.TypeStreamStarted, ParticipantID: participantID})
}

// StreamEnded announces that the preview stopped
func (c *Client) StreamEnded() error {
	return c.Send(signal.Message{Type: signal.TypeStreamEnded})
}

// Signal sends a negotiation message to one endpoint
func (c *Client) Signal(to string, t signal.Type, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal payload")
	}
	return c.Send(signal.Message{Type: t, To: to, Payload: data})
}

// FetchSession reads the authoritative session state over HTTP
func (c *Client) FetchSession(ctx context.Context) (session.Snapshot, error) {
	var snap session.Snapshot

	base, err := HTTPBase(c.ServerURL)
	if err != nil {
		return snap, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/session", nil)
	if err != nil {
		return snap, errors.Wrap(err, "failed to create request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return snap, errors.Wrap(err, "failed to fetch session")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return snap, fmt.Errorf("session API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, errors.Wrap(err, "failed to decode session")
	}
	return snap, nil
}

// Disconnect closes the connection
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	err := conn.Close()
	log.Info().Str("endpoint", c.ID()).Msg("Disconnected")
	return err
}

// HTTPBase derives the server's HTTP origin from its websocket URL
func HTTPBase(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", errors.Wrap(err, "invalid server url")
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", errors.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = ""
	u.RawQuery = ""
	return strings.TrimRight(u.String(), "/"), nil
}
