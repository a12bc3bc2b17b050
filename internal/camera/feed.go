package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// FeedSource is a camera driven by a remote client, typically a browser
// pushing JPEG frames over a websocket.
//
// The client first announces the outcome of its own camera acquisition with
// Announce or Fail, then pushes frames with Push.
type FeedSource struct {
	mu        sync.Mutex
	announced chan struct{}
	once      sync.Once
	width     int
	height    int
	err       error
	current   *Feed
	onStop    func()
}

// NewFeedSource creates a feed source. onStop, if set, is called once for
// each stream that gets stopped, so the client can release its tracks.
func NewFeedSource(onStop func()) *FeedSource {
	return &FeedSource{
		announced: make(chan struct{}),
		onStop:    onStop,
	}
}

// Announce reports that the client camera is open at the given size.
func (s *FeedSource) Announce(width, height int) {
	s.once.Do(func() {
		s.mu.Lock()
		s.width, s.height = width, height
		s.mu.Unlock()
		close(s.announced)
	})
}

// Fail reports that the client could not open its camera.
func (s *FeedSource) Fail(message string) {
	s.once.Do(func() {
		s.mu.Lock()
		if message == "" {
			message = "camera unavailable"
		}
		s.err = fmt.Errorf("%w: %s", ErrAcquisition, message)
		s.mu.Unlock()
		close(s.announced)
	})
}

// Close fails any pending Open and stops the current stream.
func (s *FeedSource) Close() {
	s.Fail("camera disconnected")

	s.mu.Lock()
	feed := s.current
	s.mu.Unlock()
	if feed != nil {
		feed.Stop()
	}
}

// Open waits for the client's announcement and returns a stream of its frames.
func (s *FeedSource) Open(ctx context.Context, width, height int) (Stream, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.announced:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.width > 0 && s.height > 0 {
		width, height = s.width, s.height
	}
	feed := &Feed{latest: newLatest(), width: width, height: height, onStop: s.onStop}
	s.current = feed
	return feed, nil
}

// Push delivers a frame to the currently open stream. Frames that arrive
// with no open stream are dropped.
func (s *FeedSource) Push(data []byte) error {
	s.mu.Lock()
	feed := s.current
	s.mu.Unlock()
	if feed == nil {
		return errNoStream
	}
	return feed.push(data)
}

var errNoStream = errors.New("no open stream")

// Feed is a Stream backed by frames pushed through a FeedSource.
type Feed struct {
	*latest
	stopper
	width   int
	height  int
	onStop  func()
	mu      sync.Mutex
	stopped bool
}

func (f *Feed) push(data []byte) error {
	f.mu.Lock()
	stopped := f.stopped
	f.mu.Unlock()
	if stopped {
		return errNoStream
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	f.publish(frame, f.width, f.height)
	return nil
}

// Stop stops the feed; later frames are dropped.
func (f *Feed) Stop() {
	f.stop(func() {
		f.mu.Lock()
		f.stopped = true
		f.mu.Unlock()
		if f.onStop != nil {
			f.onStop()
		}
	})
}
