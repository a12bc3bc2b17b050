// Package rtc is a thin client for the real-time meeting SDK's signaling
// endpoint. Media transport belongs to the SDK; this package only initialises
// a session with a participant token and relays room lifecycle events.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kozaktomas/wasl-gate/internal/logging"
)

// ErrInit is returned when a session cannot be initialised.
var ErrInit = errors.New("failed to initialize meeting")

// Event names emitted by a Session.
const (
	EventRoomJoined           = "roomJoined"
	EventRoomLeft             = "roomLeft"
	EventRoomConnectionFailed = "roomConnectionFailed"
)

const (
	writeWait     = 10 * time.Second
	handshakeWait = 15 * time.Second
)

// MediaDefaults controls whether audio and video start enabled.
type MediaDefaults struct {
	Audio bool `json:"audio"`
	Video bool `json:"video"`
}

// Modules toggles SDK feature modules.
type Modules struct {
	Audio        bool `json:"audio"`
	Video        bool `json:"video"`
	ScreenShare  bool `json:"screenShare"`
	Chat         bool `json:"chat"`
	Polls        bool `json:"polls"`
	Participants bool `json:"participants"`
}

// ICEServer is a STUN or TURN server.
type ICEServer struct {
	URLs []string `json:"urls"`
}

// Config is everything the SDK needs to start a session.
type Config struct {
	AuthToken            string        `json:"-"`
	MediaDefaults        MediaDefaults `json:"defaults"`
	Modules              Modules       `json:"modules"`
	ICEServers           []ICEServer   `json:"iceServers"`
	ICECandidatePoolSize int           `json:"iceCandidatePoolSize"`
}

// message is the signaling envelope in both directions
type message struct {
	Type      string  `json:"type"`
	Config    *Config `json:"config,omitempty"`
	SessionID string  `json:"sessionId,omitempty"`
	Event     string  `json:"event,omitempty"`
	Message   string  `json:"message,omitempty"`
}

// Client dials the signaling endpoint.
type Client struct {
	signalURL string
	dialer    *websocket.Dialer
	log       *slog.Logger
}

// NewClient creates a client for the given ws:// or wss:// URL.
func NewClient(signalURL string, log *slog.Logger) *Client {
	return &Client{
		signalURL: signalURL,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeWait,
		},
		log: logging.OrNop(log),
	}
}

// Init opens a session with cfg. Any failure wraps ErrInit.
func (c *Client) Init(ctx context.Context, cfg Config) (*Session, error) {
	if strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, fmt.Errorf("%w: missing auth token", ErrInit)
	}
	if c.signalURL == "" {
		return nil, fmt.Errorf("%w: no signaling url configured", ErrInit)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.AuthToken)
	conn, resp, err := c.dialer.DialContext(ctx, c.signalURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: signaling handshake failed with status %d", ErrInit, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %w", ErrInit, err)
	}

	fail := func(err error) (*Session, error) {
		conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrInit, err)
	}

	deadline := time.Now().Add(handshakeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(message{Type: "init", Config: &cfg}); err != nil {
		return fail(err)
	}

	_ = conn.SetReadDeadline(deadline)
	var reply message
	if err := conn.ReadJSON(&reply); err != nil {
		return fail(err)
	}
	switch reply.Type {
	case "init_ok":
	case "error":
		return fail(errors.New(reply.Message))
	default:
		return fail(fmt.Errorf("unexpected reply %q", reply.Type))
	}
	_ = conn.SetReadDeadline(time.Time{})

	s := &Session{
		id:       reply.SessionID,
		conn:     conn,
		log:      c.log.With("session", reply.SessionID),
		handlers: make(map[string][]func(error)),
		closed:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Session is an initialised meeting session.
type Session struct {
	id   string
	conn *websocket.Conn
	log  *slog.Logger

	writeMu  sync.Mutex
	mu       sync.Mutex
	handlers map[string][]func(error)
	leaving  bool
	left     bool

	closeOnce sync.Once
	closed    chan struct{}
}

// ID returns the session id assigned by the SDK.
func (s *Session) ID() string {
	return s.id
}

// On registers a handler for a room event. The error is set for roomConnectionFailed.
func (s *Session) On(event string, handler func(error)) {
	s.mu.Lock()
	s.handlers[event] = append(s.handlers[event], handler)
	s.mu.Unlock()
}

// JoinRoom asks the SDK to join the room; roomJoined follows on success.
func (s *Session) JoinRoom(ctx context.Context) error {
	if err := s.send(ctx, message{Type: "join"}); err != nil {
		return fmt.Errorf("could not join room: %w", err)
	}
	return nil
}

// LeaveRoom leaves the room and closes the session.
func (s *Session) LeaveRoom() error {
	s.mu.Lock()
	if s.leaving {
		s.mu.Unlock()
		return nil
	}
	s.leaving = true
	s.mu.Unlock()

	err := s.send(context.Background(), message{Type: "leave"})
	s.close()
	s.emit(EventRoomLeft, nil)
	if err != nil {
		return fmt.Errorf("could not leave room: %w", err)
	}
	return nil
}

// Done is closed once the session connection is gone.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

func (s *Session) send(ctx context.Context, m message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetWriteDeadline(deadline)
	return s.conn.WriteJSON(m)
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		s.conn.Close()
		close(s.closed)
	})
}

func (s *Session) readLoop() {
	for {
		var m message
		if err := s.conn.ReadJSON(&m); err != nil {
			s.mu.Lock()
			expected := s.leaving
			s.mu.Unlock()
			s.close()
			if !expected {
				s.log.Error("signaling connection lost", "error", err)
				s.emit(EventRoomConnectionFailed, err)
			}
			return
		}

		switch m.Type {
		case "event":
			var err error
			if m.Event == EventRoomConnectionFailed {
				err = errors.New(m.Message)
			}
			s.emit(m.Event, err)
		case "error":
			s.log.Warn("signaling error", "message", m.Message)
		default:
			s.log.Debug("ignoring signaling message", "type", m.Type)
		}
	}
}

func (s *Session) emit(event string, err error) {
	s.mu.Lock()
	if event == EventRoomLeft {
		if s.left {
			s.mu.Unlock()
			return
		}
		s.left = true
	}
	handlers := append([]func(error){}, s.handlers[event]...)
	s.mu.Unlock()

	for _, h := range handlers {
		h(err)
	}
}
