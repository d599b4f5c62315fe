package session

import "time"

// Key names a durable session value
type Key string

const (
	// KeySelection holds the id of the currently activated participant
	KeySelection Key = "selected-participant"
	// KeyArtifact holds the most recently saved capture
	KeyArtifact Key = "saved-image"
)

// Artifact is a captured image produced by a successful capture-and-commit cycle.
// It is never mutated after creation.
type Artifact struct {
	ParticipantID string    `json:"participantId"`
	ImageData     string    `json:"imageData"` // data URI, e.g. data:image/jpeg;base64,...
	CapturedAt    time.Time `json:"capturedAt"`
}

// Change is delivered to observers after every selection or artifact write
type Change struct {
	Key       Key
	Selection string    // valid when Key == KeySelection; empty means no selection
	Artifact  *Artifact // valid when Key == KeyArtifact
	Remote    bool      // true when the write came from another context
}

// Observer is called for every change
type Observer func(Change)

// Snapshot is the authoritative session view handed to late attachers
type Snapshot struct {
	ParticipantID string    `json:"participantId"`
	Artifact      *Artifact `json:"artifact,omitempty"`
}
