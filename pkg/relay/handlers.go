package relay

import (
	"context"
	"net/http"

	"github.com/aryan-ct/memedin/pkg/signal"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and runs the endpoint's read loop until the
// connection closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	ctx := r.Context()
	var endpoint *Endpoint

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Msg("WebSocket read error")
			if endpoint != nil {
				h.handleDisconnect(endpoint)
			}
			return
		}

		msg, err := signal.Decode(data)
		if err != nil {
			droppedCounter.WithLabelValues(dropInvalid).Inc()
			log.Warn().Err(err).Msg("Dropping undecodable message")
			continue
		}

		if endpoint == nil {
			if msg.Type != signal.TypeJoin {
				conn.WriteJSON(signal.Message{Type: signal.TypeError, Error: "join required"})
				continue
			}
			endpoint = h.handleJoin(conn, msg)
			if endpoint == nil {
				return
			}
			continue
		}

		h.dispatch(ctx, endpoint, msg)
	}
}

// handleJoin registers the endpoint and sends welcome plus the session snapshot
func (h *Hub) handleJoin(conn *websocket.Conn, msg signal.Message) *Endpoint {
	if err := msg.Validate(); err != nil {
		conn.WriteJSON(signal.Message{Type: signal.TypeError, Error: err.Error()})
		return nil
	}

	endpoint := newEndpoint(uuid.NewString(), conn, msg, h.queueSize)
	h.Add(endpoint)
	go endpoint.writePump()

	log.Info().
		Str("endpoint", endpoint.ID).
		Str("role", string(endpoint.Role)).
		Str("participant", endpoint.ParticipantID).
		Msg("Endpoint joined")

	endpoint.Enqueue(signal.Message{
		Type:       signal.TypeWelcome,
		From:       endpoint.ID,
		ICEServers: h.iceServers,
	})
	endpoint.Enqueue(h.Snapshot())
	return endpoint
}

// dispatch routes one inbound message from endpoint
func (h *Hub) dispatch(ctx context.Context, endpoint *Endpoint, msg signal.Message) {
	if err := msg.Validate(); err != nil {
		droppedCounter.WithLabelValues(dropInvalid).Inc()
		endpoint.Enqueue(signal.Message{Type: signal.TypeError, Error: err.Error()})
		return
	}
	relayedCounter.WithLabelValues(string(msg.Type)).Inc()

	switch msg.Type {
	case signal.TypeSelectEmployee:
		// the store observer broadcasts employee-selected
		if err := h.store.SetSelection(ctx, msg.ParticipantID); err != nil {
			log.Error().Err(err).Str("endpoint", endpoint.ID).Msg("Failed to persist selection")
			endpoint.Enqueue(signal.Message{Type: signal.TypeError, Error: "failed to persist selection"})
		}

	case signal.TypeOffer, signal.TypeAnswer, signal.TypeICECandidate:
		msg.From = endpoint.ID
		h.Forward(msg, msg.To)

	case signal.TypeStreamStarted:
		h.Broadcast(endpoint.ID, signal.Message{
			Type:          signal.TypeStreamAvailable,
			From:          endpoint.ID,
			ParticipantID: firstNonEmpty(msg.ParticipantID, endpoint.ParticipantID),
		})

	case signal.TypeStreamEnded:
		h.Broadcast(endpoint.ID, signal.Message{Type: signal.TypeStreamEnded, From: endpoint.ID})

	case signal.TypeCapturePicture:
		h.Broadcast(endpoint.ID, signal.Message{
			Type:          signal.TypeCaptureRequest,
			From:          endpoint.ID,
			ParticipantID: msg.ParticipantID,
		})

	case signal.TypePictureCaptured:
		// the store observer broadcasts picture-saved
		if err := h.store.PublishArtifact(ctx, *msg.Artifact); err != nil {
			log.Error().Err(err).Str("endpoint", endpoint.ID).Msg("Failed to persist artifact")
			endpoint.Enqueue(signal.Message{Type: signal.TypeError, Error: "failed to persist artifact"})
		}

	case signal.TypeJoin:
		endpoint.Enqueue(signal.Message{Type: signal.TypeError, Error: "already joined"})
	}
}

// handleDisconnect removes the endpoint and tells the others its stream is gone
func (h *Hub) handleDisconnect(endpoint *Endpoint) {
	endpoint.close()
	if !h.Remove(endpoint.ID) {
		return
	}
	h.Broadcast(endpoint.ID, signal.Message{Type: signal.TypeStreamEnded, From: endpoint.ID})
	log.Info().Str("endpoint", endpoint.ID).Msg("Endpoint disconnected")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
