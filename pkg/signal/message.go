// Package signal defines the JSON messages exchanged between endpoints and
// the relay.
package signal

import (
	"encoding/json"

	"github.com/aryan-ct/memedin/pkg/session"
	"github.com/pkg/errors"
)

// Type tags a Message
type Type string

const (
	TypeJoin    Type = "join"
	TypeWelcome Type = "welcome"
	TypeError   Type = "error"

	// TypeSessionState carries the store snapshot sent after welcome
	TypeSessionState Type = "session-state"

	TypeSelectEmployee   Type = "select-employee"
	TypeEmployeeSelected Type = "employee-selected"

	TypeOffer        Type = "offer"
	TypeAnswer       Type = "answer"
	TypeICECandidate Type = "ice-candidate"

	TypeStreamStarted   Type = "stream-started"
	TypeStreamAvailable Type = "stream-available"
	TypeStreamEnded     Type = "stream-ended"

	TypeCapturePicture  Type = "capture-picture"
	TypeCaptureRequest  Type = "capture-request"
	TypePictureCaptured Type = "picture-captured"
	TypePictureSaved    Type = "picture-saved"
)

// Role of a connected endpoint
type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
)

// Message represents a signaling message between an endpoint and the relay.
// It is never persisted.
type Message struct {
	Type          Type              `json:"type"`
	From          string            `json:"from,omitempty"`
	To            string            `json:"to,omitempty"`
	Role          Role              `json:"role,omitempty"`
	ParticipantID string            `json:"participantId,omitempty"`
	Payload       json.RawMessage   `json:"payload,omitempty"` // SDP or ICE candidate, opaque to the relay
	Artifact      *session.Artifact `json:"artifact,omitempty"`
	ICEServers    []string          `json:"iceServers,omitempty"`
	Error         string            `json:"error,omitempty"`
}

var (
	// ErrUnknownType is returned for messages the relay does not route
	ErrUnknownType = errors.New("unknown message type")
	// ErrMissingField is returned when a routed message lacks a required field
	ErrMissingField = errors.New("missing required field")
)

// Validate checks the fields an inbound message needs to be routed
func (m Message) Validate() error {
	switch m.Type {
	case TypeJoin:
		if m.Role != RoleHost && m.Role != RoleParticipant {
			return errors.Wrapf(ErrMissingField, "join: role %q", m.Role)
		}
	case TypeOffer, TypeAnswer, TypeICECandidate:
		if m.To == "" {
			return errors.Wrapf(ErrMissingField, "%s: to", m.Type)
		}
		if len(m.Payload) == 0 {
			return errors.Wrapf(ErrMissingField, "%s: payload", m.Type)
		}
	case TypeCapturePicture:
		if m.ParticipantID == "" {
			return errors.Wrapf(ErrMissingField, "%s: participantId", m.Type)
		}
	case TypePictureCaptured:
		if m.Artifact == nil || m.Artifact.ParticipantID == "" || m.Artifact.ImageData == "" {
			return errors.Wrapf(ErrMissingField, "%s: artifact", m.Type)
		}
	case TypeSelectEmployee, TypeStreamStarted, TypeStreamEnded:
		// an empty participantId on select-employee clears the selection
	default:
		return errors.Wrapf(ErrUnknownType, "%q", m.Type)
	}
	return nil
}

// Decode parses a raw websocket frame
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, errors.Wrap(err, "failed to unmarshal message")
	}
	return msg, nil
}
