package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/wasl-gate/internal/broker"
	"github.com/kozaktomas/wasl-gate/internal/call"
	"github.com/kozaktomas/wasl-gate/internal/config"
	"github.com/kozaktomas/wasl-gate/internal/detector"
	"github.com/kozaktomas/wasl-gate/internal/records"
	"github.com/kozaktomas/wasl-gate/internal/rtc"
	"github.com/kozaktomas/wasl-gate/internal/shell"
	"github.com/kozaktomas/wasl-gate/internal/verification"
)

// testConfig creates a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Engine: config.EngineConfig{
			DescriptorLength: 128,
			Models:           []string{"tinyFaceDetector", "faceLandmark68Net", "faceRecognitionNet"},
		},
		Camera: config.CameraConfig{Width: 640, Height: 480},
		Verification: config.VerificationConfig{
			Threshold:    0.6,
			PollInterval: 100 * time.Millisecond,
			GracePeriod:  1500 * time.Millisecond,
		},
		RTC: config.RTCConfig{
			ICEServers: []config.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
			Modules:    config.Modules{Audio: true, Video: true, ScreenShare: true, Chat: true, Polls: true, Participants: true},
		},
	}
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%v'", expectedMessage, result["error"])
	}
}

// fakeBroker grants every request with the same token.
type fakeBroker struct {
	mu    sync.Mutex
	err   error
	ended []string
}

func (b *fakeBroker) CreateMeeting(_ context.Context, name, _ string) (*broker.Grant, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &broker.Grant{MeetingID: "m-" + name, AuthToken: "tok-" + name}, nil
}

func (b *fakeBroker) JoinMeeting(_ context.Context, name, meetingID string) (*broker.Grant, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &broker.Grant{MeetingID: meetingID, AuthToken: "tok-" + name}, nil
}

func (b *fakeBroker) EndSession(_ context.Context, sessionID string) error {
	b.mu.Lock()
	b.ended = append(b.ended, sessionID)
	b.mu.Unlock()
	return nil
}

// fakeSession joins immediately.
type fakeSession struct {
	mu       sync.Mutex
	handlers map[string][]func(error)
}

func (s *fakeSession) ID() string { return "session-1" }

func (s *fakeSession) On(event string, handler func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		s.handlers = make(map[string][]func(error))
	}
	s.handlers[event] = append(s.handlers[event], handler)
}

func (s *fakeSession) JoinRoom(context.Context) error {
	s.mu.Lock()
	handlers := append([]func(error){}, s.handlers[rtc.EventRoomJoined]...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(nil)
	}
	return nil
}

func (s *fakeSession) LeaveRoom() error { return nil }

func connectOK(context.Context, rtc.Config) (call.Session, error) {
	return &fakeSession{}, nil
}

type staticRecords map[string]*records.Participant

func (r staticRecords) GetParticipant(_ context.Context, id string) (*records.Participant, error) {
	p, ok := r[id]
	if !ok {
		return nil, &records.APIError{Status: http.StatusNotFound, Message: "Prisoner not found"}
	}
	return p, nil
}

type okLoader struct{}

func (okLoader) Load(context.Context) error { return nil }

// matchingEngine reports one face whose descriptor is all 0.1.
type matchingEngine struct{}

func (matchingEngine) Ready(context.Context) error                     { return nil }
func (matchingEngine) LoadModel(context.Context, detector.Model) error { return nil }
func (matchingEngine) Detect(context.Context, []byte) ([]detector.Detection, error) {
	return []detector.Detection{{Box: detector.Box{X1: 10, Y1: 20, X2: 110, Y2: 140}, Descriptor: uniform(0.1)}}, nil
}

func uniform(v float32) []float32 {
	out := make([]float32, 128)
	for i := range out {
		out[i] = v
	}
	return out
}

// testRecords holds an enrolled participant p1 and an unenrolled p2.
func testRecords(t *testing.T) staticRecords {
	t.Helper()
	raw, err := json.Marshal(uniform(0.1))
	if err != nil {
		t.Fatalf("marshal descriptor: %v", err)
	}
	return staticRecords{
		"p1": {ID: "p1", Name: "Karim", FaceDescriptor: raw},
		"p2": {ID: "p2", Name: "Nadia"},
	}
}

// newTestManager creates a call manager backed by fakes.
func newTestManager(t *testing.T, b *fakeBroker) *call.Manager {
	t.Helper()
	m := call.NewManager(call.Options{
		Broker:  b,
		Connect: connectOK,
		Shell: shell.Options{
			Records: testRecords(t),
			Loop: verification.Options{
				Loader:           okLoader{},
				Engine:           matchingEngine{},
				DescriptorLength: 128,
				PollInterval:     5 * time.Millisecond,
			},
			GracePeriod: 20 * time.Millisecond,
		},
	})
	t.Cleanup(func() { m.Close(context.Background()) })
	return m
}

// newTestRouter wires the call routes the way the server does.
func newTestRouter(m *call.Manager) *chi.Mux {
	calls := NewCallsHandler(m)
	cam := NewCameraHandler(m, func(*http.Request) bool { return true })

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/calls/{id}/events", calls.Events)
		r.Get("/calls/{id}/camera", cam.Serve)
		r.Post("/calls", calls.Create)
		r.Get("/calls/{id}", calls.Get)
		r.Delete("/calls/{id}", calls.Delete)
		r.Post("/calls/{id}/view", calls.SetView)
		r.Post("/calls/{id}/meeting", calls.CreateMeeting)
		r.Post("/calls/{id}/join", calls.JoinMeeting)
		r.Post("/calls/{id}/leave", calls.Leave)
		r.Post("/calls/{id}/verification/retry", calls.RetryVerification)
	})
	return r
}
