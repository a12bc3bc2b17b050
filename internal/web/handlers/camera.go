package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/kozaktomas/wasl-gate/internal/call"
	"github.com/kozaktomas/wasl-gate/internal/camera"
	"github.com/kozaktomas/wasl-gate/internal/constants"
	"github.com/kozaktomas/wasl-gate/internal/verification"
)

const socketWriteWait = 5 * time.Second

// Camera socket message types.
const (
	msgCamera      = "camera"
	msgCameraError = "camera_error"
	msgOverlay     = "overlay"
	msgClear       = "clear"
	msgState       = "state"
	msgView        = "view"
	msgStop        = "stop"
	msgError       = "error"
)

// clientMessage is a text frame from the browser.
type clientMessage struct {
	Type    string `json:"type"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Message string `json:"message,omitempty"`
}

// serverMessage is a text frame to the browser.
type serverMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// CameraHandler mounts face verification on a camera the browser streams
// over a websocket. Binary frames are JPEG images; text frames announce the
// camera or report that it could not be opened.
type CameraHandler struct {
	calls    *call.Manager
	upgrader websocket.Upgrader
}

// NewCameraHandler creates a camera handler. checkOrigin decides which
// browser origins may open the socket; nil allows same-origin requests only.
func NewCameraHandler(calls *call.Manager, checkOrigin func(*http.Request) bool) *CameraHandler {
	return &CameraHandler{
		calls: calls,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 16 << 10,
			CheckOrigin:     checkOrigin,
		},
	}
}

// socket serializes writes to a websocket connection.
type socket struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *socket) send(m serverMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	if err := s.conn.WriteJSON(m); err != nil {
		log.Printf("camera socket: write %s: %v", m.Type, err)
	}
}

// socketOverlay draws verification annotations on the browser's canvas.
type socketOverlay struct {
	out *socket
}

func (o socketOverlay) Clear() {
	o.out.send(serverMessage{Type: msgClear})
}

func (o socketOverlay) Draw(a verification.Annotations) {
	o.out.send(serverMessage{Type: msgOverlay, Data: a})
}

// Serve upgrades the request and runs verification until the socket closes.
func (h *CameraHandler) Serve(w http.ResponseWriter, r *http.Request) {
	flow := findFlow(w, r, h.calls)
	if flow == nil {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		log.Printf("camera socket: upgrade: %v", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(constants.MaxFrameSize)

	out := &socket{conn: conn}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	source := camera.NewFeedSource(func() { out.send(serverMessage{Type: msgStop}) })
	defer source.Close()

	events := flow.AddListener()
	defer flow.RemoveListener(events)
	go forwardEvents(ctx, flow, events, out)

	if err := flow.MountCamera(ctx, source, socketOverlay{out: out}); err != nil {
		out.send(serverMessage{Type: msgError, Message: err.Error()})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "verification not available"),
			time.Now().Add(socketWriteWait))
		return
	}
	defer flow.UnmountCamera()

	readFrames(conn, source)
}

// readFrames feeds the source until the connection closes.
func readFrames(conn *websocket.Conn, source *camera.FeedSource) {
	limiter := rate.NewLimiter(rate.Limit(constants.MaxFramesPerSecond), constants.MaxFramesPerSecond)
	var dropped int

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("camera socket: read: %v", err)
			}
			if dropped > 0 {
				log.Printf("camera socket: dropped %d frames over the rate limit", dropped)
			}
			return
		}

		switch kind {
		case websocket.BinaryMessage:
			if !limiter.Allow() {
				dropped++
				continue
			}
			// Frames before the stream opens are expected and dropped.
			_ = source.Push(data)
		case websocket.TextMessage:
			var m clientMessage
			if err := json.Unmarshal(data, &m); err != nil {
				log.Printf("camera socket: bad message: %v", err)
				continue
			}
			switch m.Type {
			case msgCamera:
				source.Announce(m.Width, m.Height)
			case msgCameraError:
				source.Fail(m.Message)
			}
		}
	}
}

// forwardEvents relays flow events to the socket until ctx ends.
func forwardEvents(ctx context.Context, flow *call.Flow, events <-chan call.Event, out *socket) {
	out.send(serverMessage{Type: msgView, Data: flow.State()})
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case call.EventVerification:
				out.send(serverMessage{Type: msgState, Message: ev.Message, Data: ev.Data})
			case call.EventState:
				out.send(serverMessage{Type: msgView, Data: ev.Data})
			}
		}
	}
}
