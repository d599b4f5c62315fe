// Package camera provides exclusive handles on a frame source: a V4L2 device
// streamed through ffmpeg, or a synthetic test pattern.
package camera

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

var (
	// ErrDeviceAccess is returned when the device is missing, denied or silent
	ErrDeviceAccess = errors.New("camera device not accessible")
	// ErrClosed is returned by a handle after Close
	ErrClosed = errors.New("camera closed")
)

// Handle is an open camera. It holds the device until Close.
type Handle interface {
	// Snapshot returns the most recent JPEG frame at native resolution,
	// waiting for the first one if none arrived yet
	Snapshot(ctx context.Context) ([]byte, error)

	// Frames delivers live JPEG frames; slow readers only see the newest.
	// The channel is closed by Close.
	Frames() <-chan []byte

	// Close releases the device. It is safe to call more than once.
	Close() error
}

// Opener acquires a camera
type Opener interface {
	Open(ctx context.Context) (Handle, error)
}

// stream is the frame fan-out shared by every Handle implementation
type stream struct {
	mu     sync.Mutex
	latest []byte
	frames chan []byte
	closed bool

	first     chan struct{}
	firstOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
	stop      func() error
}

func newStream(stop func() error) *stream {
	return &stream{
		frames: make(chan []byte, 1),
		first:  make(chan struct{}),
		done:   make(chan struct{}),
		stop:   stop,
	}
}

// publish records frame as the latest and offers it to Frames,
// replacing an unread older frame
func (s *stream) publish(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.latest = frame
	s.firstOnce.Do(func() { close(s.first) })

	select {
	case s.frames <- frame:
	default:
		select {
		case <-s.frames:
		default:
		}
		s.frames <- frame
	}
}

func (s *stream) Snapshot(ctx context.Context) ([]byte, error) {
	select {
	case <-s.first:
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	frame := make([]byte, len(s.latest))
	copy(frame, s.latest)
	return frame, nil
}

func (s *stream) Frames() <-chan []byte {
	return s.frames
}

func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.frames)
		s.mu.Unlock()

		close(s.done)
		if s.stop != nil {
			err = s.stop()
		}
	})
	return err
}

// waitFirst blocks until the first frame, the context or the stream ends
func (s *stream) waitFirst(ctx context.Context) error {
	select {
	case <-s.first:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
