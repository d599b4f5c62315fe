// Package relay routes signaling messages between connected endpoints. It
// holds no durable state: selections and artifacts go through the session
// store, whose change notifications the hub fans out.
package relay

import (
	"sync"

	"github.com/aryan-ct/memedin/pkg/session"
	"github.com/aryan-ct/memedin/pkg/signal"
	"github.com/rs/zerolog/log"
)

// DefaultICEServers are handed to endpoints in the welcome message
var DefaultICEServers = []string{"stun:stun.l.google.com:19302"}

const defaultQueueSize = 64

// Hub holds all connected endpoints of the session scope
type Hub struct {
	store      *session.Store
	iceServers []string
	queueSize  int

	mu        sync.RWMutex
	endpoints map[string]*Endpoint

	unsubscribe func()
}

// Option configures a Hub
type Option func(*Hub)

// WithICEServers overrides the ICE servers sent to endpoints
func WithICEServers(urls []string) Option {
	return func(h *Hub) { h.iceServers = urls }
}

// WithQueueSize sets the per-endpoint write queue length
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// NewHub creates a hub bound to store
func NewHub(store *session.Store, opts ...Option) *Hub {
	ensureMetrics()

	h := &Hub{
		store:      store,
		iceServers: DefaultICEServers,
		queueSize:  defaultQueueSize,
		endpoints:  make(map[string]*Endpoint),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.unsubscribe = store.OnChange(h.onStoreChange)
	return h
}

// Close detaches the hub from the store and disconnects every endpoint
func (h *Hub) Close() {
	h.unsubscribe()

	h.mu.Lock()
	endpoints := h.endpoints
	h.endpoints = make(map[string]*Endpoint)
	h.mu.Unlock()

	for _, e := range endpoints {
		e.close()
	}
	endpointsGauge.Set(0)
}

// Add registers an endpoint
func (h *Hub) Add(e *Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.endpoints[e.ID] = e
	endpointsGauge.Set(float64(len(h.endpoints)))
}

// Remove unregisters an endpoint and reports whether it was present
func (h *Hub) Remove(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.endpoints[id]; !ok {
		return false
	}
	delete(h.endpoints, id)
	endpointsGauge.Set(float64(len(h.endpoints)))
	return true
}

// Get returns the endpoint with the given ID
func (h *Hub) Get(id string) *Endpoint {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.endpoints[id]
}

// Count returns the number of connected endpoints
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.endpoints)
}

// Broadcast queues msg for every endpoint except the one with excludeID.
// An empty excludeID reaches everyone. It returns the number of endpoints
// the message was queued for.
func (h *Hub) Broadcast(excludeID string, msg signal.Message) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for id, e := range h.endpoints {
		if id == excludeID {
			continue
		}
		if e.Enqueue(msg) {
			sent++
		}
	}
	return sent
}

// Forward queues msg for the endpoint named to. A missing target drops the
// message and returns false.
func (h *Hub) Forward(msg signal.Message, to string) bool {
	target := h.Get(to)
	if target == nil {
		droppedCounter.WithLabelValues(dropNoTarget).Inc()
		log.Debug().Str("from", msg.From).Str("to", to).Str("type", string(msg.Type)).Msg("Target endpoint not found, dropping")
		return false
	}
	return target.Enqueue(msg)
}

// Snapshot builds the session-state message for a newly joined endpoint
func (h *Hub) Snapshot() signal.Message {
	snap := h.store.Snapshot()
	return signal.Message{
		Type:          signal.TypeSessionState,
		ParticipantID: snap.ParticipantID,
		Artifact:      snap.Artifact,
	}
}

// onStoreChange turns store writes, local or remote, into broadcasts
func (h *Hub) onStoreChange(change session.Change) {
	switch change.Key {
	case session.KeySelection:
		h.Broadcast("", signal.Message{
			Type:          signal.TypeEmployeeSelected,
			ParticipantID: change.Selection,
		})
	case session.KeyArtifact:
		if change.Artifact == nil {
			return
		}
		h.Broadcast("", signal.Message{
			Type:          signal.TypePictureSaved,
			ParticipantID: change.Artifact.ParticipantID,
			Artifact:      change.Artifact,
		})
	}
}
