// Package session holds the shared session state: which participant is live and
// the last saved capture. Values are kept in memory for non-blocking reads and
// written through a Backend, which makes them durable for late attachers and
// visible to every other Store sharing that backend.
package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrInvalidArtifact is returned when an artifact has no participant or image
var ErrInvalidArtifact = errors.New("artifact requires participant id and image data")

type observerEntry struct {
	id uint64
	fn Observer
}

// Store is the single source of truth for "who is live".
// Concurrent SetSelection calls race and the last one to complete wins.
type Store struct {
	id      string
	backend Backend
	cancel  context.CancelFunc

	mu        sync.RWMutex
	selection string
	artifact  *Artifact

	obsMu     sync.Mutex
	observers []observerEntry
	nextObsID uint64
}

// New attaches a Store to backend. The persisted selection and artifact are
// loaded before New returns, so a fresh store sees the last write even if it
// never observed the notification.
func New(ctx context.Context, backend Backend) (*Store, error) {
	s := &Store{
		id:      uuid.NewString(),
		backend: backend,
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := backend.Watch(watchCtx, s.applyRemote); err != nil {
		cancel()
		return nil, errors.Wrap(err, "failed to watch session backend")
	}
	s.cancel = cancel

	if err := s.load(ctx); err != nil {
		cancel()
		return nil, err
	}

	return s, nil
}

// ID identifies this store as a writer on the shared backend
func (s *Store) ID() string {
	return s.id
}

func (s *Store) load(ctx context.Context) error {
	raw, err := s.backend.Load(ctx, KeySelection)
	if err != nil {
		return errors.Wrap(err, "failed to load selection")
	}
	if raw != nil {
		var selection string
		if err := unwrap(raw, &selection); err != nil {
			return err
		}
		s.mu.Lock()
		s.selection = selection
		s.mu.Unlock()
	}

	raw, err = s.backend.Load(ctx, KeyArtifact)
	if err != nil {
		return errors.Wrap(err, "failed to load artifact")
	}
	if raw != nil {
		var artifact *Artifact
		if err := unwrap(raw, &artifact); err != nil {
			return err
		}
		s.mu.Lock()
		s.artifact = artifact
		s.mu.Unlock()
	}

	return nil
}

// SetSelection records participantID as the live participant; an empty id
// clears the selection. Local observers are notified before it returns.
func (s *Store) SetSelection(ctx context.Context, participantID string) error {
	raw, err := encode(s.id, participantID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.selection = participantID
	s.mu.Unlock()

	s.notify(Change{Key: KeySelection, Selection: participantID})

	if err := s.backend.Save(ctx, KeySelection, raw); err != nil {
		return errors.Wrap(err, "failed to persist selection")
	}
	return nil
}

// Selection returns the current selection, or "" when nobody is live
func (s *Store) Selection() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selection
}

// PublishArtifact replaces the last saved artifact; superseded artifacts are dropped
func (s *Store) PublishArtifact(ctx context.Context, artifact Artifact) error {
	if artifact.ParticipantID == "" || artifact.ImageData == "" {
		return ErrInvalidArtifact
	}

	raw, err := encode(s.id, artifact)
	if err != nil {
		return err
	}

	stored := artifact
	s.mu.Lock()
	s.artifact = &stored
	s.mu.Unlock()

	s.notify(Change{Key: KeyArtifact, Artifact: &artifact})

	if err := s.backend.Save(ctx, KeyArtifact, raw); err != nil {
		return errors.Wrap(err, "failed to persist artifact")
	}
	return nil
}

// Artifact returns a copy of the last saved artifact
func (s *Store) Artifact() (Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.artifact == nil {
		return Artifact{}, false
	}
	return *s.artifact, true
}

// Snapshot returns the current selection and artifact together
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{ParticipantID: s.selection}
	if s.artifact != nil {
		a := *s.artifact
		snap.Artifact = &a
	}
	return snap
}

// OnChange registers fn for every subsequent change. The returned function
// unregisters it and may be called any number of times.
func (s *Store) OnChange(fn Observer) func() {
	s.obsMu.Lock()
	s.nextObsID++
	id := s.nextObsID
	s.observers = append(s.observers, observerEntry{id: id, fn: fn})
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		for i, entry := range s.observers {
			if entry.id == id {
				s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
				return
			}
		}
	}
}

// Close stops watching the backend. The backend itself stays open.
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// applyRemote folds a write from another context into the local view
func (s *Store) applyRemote(key Key, raw []byte) {
	env, err := decode(raw)
	if err != nil {
		log.Warn().Err(err).Str("key", string(key)).Msg("Dropping malformed session update")
		return
	}
	if env.Origin == s.id {
		return
	}

	switch key {
	case KeySelection:
		var selection string
		if err := json.Unmarshal(env.Value, &selection); err != nil {
			log.Warn().Err(err).Msg("Dropping malformed selection update")
			return
		}
		s.mu.Lock()
		s.selection = selection
		s.mu.Unlock()
		s.notify(Change{Key: KeySelection, Selection: selection, Remote: true})

	case KeyArtifact:
		var artifact *Artifact
		if err := json.Unmarshal(env.Value, &artifact); err != nil {
			log.Warn().Err(err).Msg("Dropping malformed artifact update")
			return
		}
		s.mu.Lock()
		s.artifact = artifact
		s.mu.Unlock()
		s.notify(Change{Key: KeyArtifact, Artifact: artifact, Remote: true})
	}
}

func (s *Store) notify(change Change) {
	s.obsMu.Lock()
	observers := make([]observerEntry, len(s.observers))
	copy(observers, s.observers)
	s.obsMu.Unlock()

	for _, entry := range observers {
		entry.fn(change)
	}
}

func unwrap(raw []byte, target any) error {
	env, err := decode(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(env.Value, target); err != nil {
		return errors.Wrap(err, "failed to unmarshal session value")
	}
	return nil
}
