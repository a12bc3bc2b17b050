package rtc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signalServer is a minimal stand-in for the SDK's signaling endpoint.
func signalServer(t *testing.T, dropAfterJoin bool) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "forbidden" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var init message
		if err := conn.ReadJSON(&init); err != nil || init.Type != "init" || init.Config == nil {
			return
		}
		if token == "expired" {
			_ = conn.WriteJSON(message{Type: "error", Message: "token expired"})
			return
		}
		if init.Config.ICECandidatePoolSize != 10 || len(init.Config.ICEServers) != 2 {
			_ = conn.WriteJSON(message{Type: "error", Message: "bad rtc configuration"})
			return
		}
		_ = conn.WriteJSON(message{Type: "init_ok", SessionID: "s-1"})

		for {
			var m message
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			switch m.Type {
			case "join":
				_ = conn.WriteJSON(message{Type: "event", Event: EventRoomJoined})
				if dropAfterJoin {
					return
				}
			case "leave":
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testConfig(token string) Config {
	return Config{
		AuthToken: token,
		Modules:   Modules{Audio: true, Video: true, ScreenShare: true, Chat: true, Polls: true, Participants: true},
		ICEServers: []ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
			{URLs: []string{"stun:stun1.l.google.com:19302"}},
		},
		ICECandidatePoolSize: 10,
	}
}

func TestInit_JoinAndLeave(t *testing.T) {
	server := signalServer(t, false)
	defer server.Close()

	session, err := NewClient(wsURL(server), nil).Init(context.Background(), testConfig("tok"))
	require.NoError(t, err)
	assert.Equal(t, "s-1", session.ID())

	joined := make(chan struct{}, 1)
	left := make(chan struct{}, 2)
	failed := make(chan error, 1)
	session.On(EventRoomJoined, func(error) { joined <- struct{}{} })
	session.On(EventRoomLeft, func(error) { left <- struct{}{} })
	session.On(EventRoomConnectionFailed, func(err error) { failed <- err })

	require.NoError(t, session.JoinRoom(context.Background()))
	select {
	case <-joined:
	case <-time.After(2 * time.Second):
		t.Fatal("roomJoined not received")
	}

	require.NoError(t, session.LeaveRoom())
	require.NoError(t, session.LeaveRoom())
	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session not closed after leave")
	}
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, left, 1, "roomLeft fires once")
	assert.Empty(t, failed, "leaving is not a connection failure")
}

func TestInit_Failures(t *testing.T) {
	server := signalServer(t, false)
	defer server.Close()

	tests := []struct {
		name    string
		url     string
		cfg     Config
		wantMsg string
	}{
		{"missing token", wsURL(server), testConfig(""), "missing auth token"},
		{"handshake rejected", wsURL(server), testConfig("forbidden"), "status 403"},
		{"sdk refuses token", wsURL(server), testConfig("expired"), "token expired"},
		{"no signaling url", "", testConfig("tok"), "no signaling url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.url, nil).Init(context.Background(), tt.cfg)
			require.ErrorIs(t, err, ErrInit)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestSession_ConnectionLost(t *testing.T) {
	server := signalServer(t, true)
	defer server.Close()

	session, err := NewClient(wsURL(server), nil).Init(context.Background(), testConfig("tok"))
	require.NoError(t, err)

	failed := make(chan error, 1)
	session.On(EventRoomConnectionFailed, func(err error) { failed <- err })
	require.NoError(t, session.JoinRoom(context.Background()))

	select {
	case err := <-failed:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("roomConnectionFailed not emitted")
	}
	<-session.Done()
	assert.False(t, errors.Is(session.LeaveRoom(), ErrInit))
}
