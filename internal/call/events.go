package call

import (
	"sync"

	"github.com/kozaktomas/wasl-gate/internal/constants"
)

// Event types pushed to flow listeners.
const (
	EventState        = "state"
	EventVerification = "verification"
	EventClosed       = "closed"
)

// Event is one update from a call flow.
type Event struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Broadcaster provides listener management and event fan-out for a flow.
type Broadcaster struct {
	listeners []chan Event
	closed    bool
	mu        sync.RWMutex
}

// AddListener adds an event listener. Listeners added after Close get a closed channel.
func (b *Broadcaster) AddListener() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, constants.EventChannelBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *Broadcaster) RemoveListener(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// Send sends an event to all listeners.
func (b *Broadcaster) Send(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Close sends a final closed event and closes every listener.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, listener := range b.listeners {
		select {
		case listener <- Event{Type: EventClosed}:
		default:
		}
		close(listener)
	}
	b.listeners = nil
}
