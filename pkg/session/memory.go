package session

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrBackendClosed is returned by operations on a closed backend
var ErrBackendClosed = errors.New("session backend closed")

type memoryEvent struct {
	key Key
	raw []byte
}

// memoryWatcher delivers events in write order on its own goroutine, so a slow
// observer never blocks the writer.
type memoryWatcher struct {
	fn      WatchFunc
	mu      sync.Mutex
	pending []memoryEvent
	wake    chan struct{}
}

func (w *memoryWatcher) push(ev memoryEvent) {
	w.mu.Lock()
	w.pending = append(w.pending, ev)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *memoryWatcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		}

		w.mu.Lock()
		batch := w.pending
		w.pending = nil
		w.mu.Unlock()

		for _, ev := range batch {
			w.fn(ev.key, ev.raw)
		}
	}
}

// MemoryBackend shares session values between stores in the same process
type MemoryBackend struct {
	mu       sync.Mutex
	values   map[Key][]byte
	watchers map[uint64]*memoryWatcher
	nextID   uint64
	closed   bool
}

// NewMemoryBackend creates an empty process-local backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		values:   make(map[Key][]byte),
		watchers: make(map[uint64]*memoryWatcher),
	}
}

// Load returns the last saved envelope for key
func (b *MemoryBackend) Load(_ context.Context, key Key) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBackendClosed
	}
	raw, ok := b.values[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

// Save stores raw and queues it for every watcher
func (b *MemoryBackend) Save(_ context.Context, key Key, raw []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBackendClosed
	}

	stored := make([]byte, len(raw))
	copy(stored, raw)
	b.values[key] = stored

	for _, w := range b.watchers {
		w.push(memoryEvent{key: key, raw: stored})
	}
	return nil
}

// Watch registers fn until ctx is done
func (b *MemoryBackend) Watch(ctx context.Context, fn WatchFunc) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBackendClosed
	}
	b.nextID++
	id := b.nextID
	w := &memoryWatcher{fn: fn, wake: make(chan struct{}, 1)}
	b.watchers[id] = w
	b.mu.Unlock()

	go w.run(ctx)
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.watchers, id)
		b.mu.Unlock()
	}()

	return nil
}

// Close drops all values and watchers
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.watchers = make(map[uint64]*memoryWatcher)
	return nil
}
