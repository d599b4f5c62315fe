package session

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// WatchFunc receives raw envelopes written by any context sharing the backend
type WatchFunc func(key Key, raw []byte)

// Backend persists the last value per key and notifies watchers of writes.
type Backend interface {
	// Load returns the persisted envelope, or nil when nothing was written yet
	Load(ctx context.Context, key Key) ([]byte, error)

	// Save replaces the persisted envelope and notifies watchers
	Save(ctx context.Context, key Key, raw []byte) error

	// Watch registers fn for subsequent writes until ctx is done.
	// Writes from the same context may be delivered as well.
	Watch(ctx context.Context, fn WatchFunc) error

	// Close releases backend resources
	Close() error
}

// envelope wraps every stored value with the id of the store that wrote it,
// so a store can skip its own writes when they come back through Watch.
type envelope struct {
	Origin string          `json:"origin"`
	Value  json.RawMessage `json:"value"`
}

func encode(origin string, value any) ([]byte, error) {
	v, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal value")
	}
	data, err := json.Marshal(envelope{Origin: origin, Value: v})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal envelope")
	}
	return data, nil
}

func decode(raw []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, errors.Wrap(err, "failed to unmarshal envelope")
	}
	return env, nil
}
