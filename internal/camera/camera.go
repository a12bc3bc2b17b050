// Package camera acquires live video streams and guarantees their release.
package camera

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAcquisition is returned when a camera cannot be opened (permission
// denied, device busy or absent).
var ErrAcquisition = errors.New("camera acquisition failed")

// Frame is one encoded (JPEG) video frame.
type Frame struct {
	Data   []byte
	Width  int
	Height int
	Seq    uint64
	At     time.Time
}

// Source opens camera streams.
type Source interface {
	// Open acquires a stream at the requested size. It blocks until the
	// device answers or ctx ends.
	Open(ctx context.Context, width, height int) (Stream, error)
}

// Stream is an exclusively owned live video stream.
type Stream interface {
	// Playing is closed once the first frame is available.
	Playing() <-chan struct{}
	// Frame returns the latest frame, or false before the first one.
	Frame() (Frame, bool)
	// Stop releases the device. Safe to call any number of times.
	Stop()
	// Stops reports how many times the underlying tracks were actually stopped.
	Stops() int
}

// latest holds the most recent frame of a stream and signals the first one.
type latest struct {
	mu      sync.RWMutex
	frame   Frame
	seq     uint64
	has     bool
	playing chan struct{}
	once    sync.Once
}

func newLatest() *latest {
	return &latest{playing: make(chan struct{})}
}

func (l *latest) publish(data []byte, width, height int) {
	l.mu.Lock()
	l.seq++
	l.frame = Frame{Data: data, Width: width, Height: height, Seq: l.seq, At: time.Now()}
	l.has = true
	l.mu.Unlock()

	l.once.Do(func() { close(l.playing) })
}

func (l *latest) Playing() <-chan struct{} {
	return l.playing
}

func (l *latest) Frame() (Frame, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.frame, l.has
}

// stopper runs a release function exactly once.
type stopper struct {
	once  sync.Once
	mu    sync.Mutex
	stops int
}

func (s *stopper) stop(release func()) {
	s.once.Do(func() {
		if release != nil {
			release()
		}
		s.mu.Lock()
		s.stops++
		s.mu.Unlock()
	})
}

func (s *stopper) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}
