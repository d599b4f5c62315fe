package relay

import (
	"sync"
	"time"

	"github.com/aryan-ct/memedin/pkg/signal"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 10 * time.Second

// Endpoint represents a connected device
type Endpoint struct {
	ID            string
	Role          signal.Role
	ParticipantID string

	conn      *websocket.Conn
	send      chan signal.Message
	done      chan struct{}
	closeOnce sync.Once
}

func newEndpoint(id string, conn *websocket.Conn, join signal.Message, queueSize int) *Endpoint {
	return &Endpoint{
		ID:            id,
		Role:          join.Role,
		ParticipantID: join.ParticipantID,
		conn:          conn,
		send:          make(chan signal.Message, queueSize),
		done:          make(chan struct{}),
	}
}

// Enqueue queues msg for the endpoint's writer without blocking.
// It returns false if the queue is full or the endpoint is closed.
func (e *Endpoint) Enqueue(msg signal.Message) bool {
	select {
	case <-e.done:
		return false
	default:
	}

	select {
	case e.send <- msg:
		return true
	default:
		droppedCounter.WithLabelValues(dropQueueFull).Inc()
		log.Warn().Str("endpoint", e.ID).Str("type", string(msg.Type)).Msg("Write queue full, dropping message")
		return false
	}
}

// writePump owns all writes to the connection
func (e *Endpoint) writePump() {
	for {
		select {
		case <-e.done:
			return
		case msg := <-e.send:
			e.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := e.conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Str("endpoint", e.ID).Msg("WebSocket write error")
				e.close()
				return
			}
		}
	}
}

func (e *Endpoint) close() {
	e.closeOnce.Do(func() {
		close(e.done)
		e.conn.Close()
	})
}
