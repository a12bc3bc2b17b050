// Package call drives one visitor through the client's views: home, join,
// face verification and the meeting itself. It obtains participant tokens
// from the broker, gates flagged participants behind the verification shell
// and hands the token to the real-time SDK adapter.
package call

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/kozaktomas/wasl-gate/internal/broker"
	"github.com/kozaktomas/wasl-gate/internal/camera"
	"github.com/kozaktomas/wasl-gate/internal/logging"
	"github.com/kozaktomas/wasl-gate/internal/rtc"
	"github.com/kozaktomas/wasl-gate/internal/shell"
	"github.com/kozaktomas/wasl-gate/internal/verification"
)

// View is the screen the visitor is on.
type View string

const (
	ViewHome             View = "home"
	ViewJoin             View = "join"
	ViewFaceVerification View = "faceVerification"
	ViewMeeting          View = "meeting"
)

// User-facing messages.
const (
	msgNameRequired         = "Please enter your name"
	msgNameAndIDRequired    = "Please enter your name and meeting ID"
	msgServerUnreachable    = "Failed to connect to server. Make sure backend is running."
	msgInitFailed           = "Failed to initialize meeting: "
	msgRoomConnectionFailed = "Failed to connect to meeting room."
)

var (
	// ErrValidation is returned when required input is missing.
	ErrValidation = errors.New("invalid input")
	// ErrWrongView is returned when an operation does not apply to the current view.
	ErrWrongView = errors.New("operation not available in the current view")
	// ErrClosed is returned once the flow has been closed.
	ErrClosed = errors.New("call flow closed")
)

// Broker issues meeting tokens; broker.Client implements it.
type Broker interface {
	CreateMeeting(ctx context.Context, name, title string) (*broker.Grant, error)
	JoinMeeting(ctx context.Context, name, meetingID string) (*broker.Grant, error)
	EndSession(ctx context.Context, sessionID string) error
}

// Session is an initialised real-time session; *rtc.Session implements it.
type Session interface {
	ID() string
	On(event string, handler func(error))
	JoinRoom(ctx context.Context) error
	LeaveRoom() error
}

// Connector initialises a real-time session.
type Connector func(ctx context.Context, cfg rtc.Config) (Session, error)

// RTCConnector adapts an rtc.Client to a Connector.
func RTCConnector(c *rtc.Client) Connector {
	return func(ctx context.Context, cfg rtc.Config) (Session, error) {
		s, err := c.Init(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Entry carries the URL parameters a visitor arrives with.
type Entry struct {
	AuthToken  string `json:"authToken"`
	PrisonerID string `json:"prisonerId"`
}

// Options configures a Flow.
type Options struct {
	Broker  Broker
	Connect Connector
	// RTC is the session template; AuthToken is filled per meeting.
	RTC rtc.Config
	// Shell is the verification template; OnStatus and OnProceed are set by the flow.
	Shell shell.Options
	Log   *slog.Logger
}

// State is the externally visible flow state.
type State struct {
	ID           string          `json:"id"`
	View         View            `json:"view"`
	UserName     string          `json:"userName,omitempty"`
	MeetingID    string          `json:"meetingId,omitempty"`
	PrisonerID   string          `json:"prisonerId,omitempty"`
	Error        string          `json:"error,omitempty"`
	Loading      bool            `json:"loading"`
	HasToken     bool            `json:"hasToken"`
	InRoom       bool            `json:"inRoom"`
	FaceVerified bool            `json:"faceVerified"`
	Verification *shell.Snapshot `json:"verification,omitempty"`
}

// Flow is the view state machine for one visitor.
type Flow struct {
	Broadcaster

	id   string
	opts Options
	log  *slog.Logger

	mu           sync.Mutex
	view         View
	userName     string
	meetingID    string
	prisonerID   string
	authToken    string
	errMsg       string
	loading      bool
	inRoom       bool
	faceVerified bool
	shell        *shell.Shell
	session      Session
	// epoch changes whenever the flow leaves a meeting or verification, so
	// callbacks from the previous one are ignored.
	epoch  int
	closed bool
}

// NewFlow creates a flow on the home view.
func NewFlow(id string, opts Options) *Flow {
	return &Flow{
		id:   id,
		opts: opts,
		log:  logging.OrNop(opts.Log).With("call", id),
		view: ViewHome,
	}
}

// ID returns the flow id.
func (f *Flow) ID() string {
	return f.id
}

// Start applies the entry parameters. A token with a prisoner id goes through
// face verification first; a token alone goes straight to the meeting.
func (f *Flow) Start(ctx context.Context, entry Entry) error {
	token := strings.TrimSpace(entry.AuthToken)
	pid := strings.TrimSpace(entry.PrisonerID)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	if f.view != ViewHome || f.authToken != "" {
		f.mu.Unlock()
		return ErrWrongView
	}
	if token == "" {
		f.mu.Unlock()
		return nil
	}
	f.authToken = token
	if pid == "" {
		f.mu.Unlock()
		return f.enterMeeting(ctx)
	}

	f.prisonerID = pid
	f.view = ViewFaceVerification
	f.errMsg = ""
	sh := f.newShellLocked()
	f.mu.Unlock()
	f.publish()

	if err := sh.Fetch(ctx, pid); err != nil && !errors.Is(err, shell.ErrClosed) {
		f.log.Warn("participant not ready for verification", "participant", pid, "error", err)
	}
	return nil
}

func (f *Flow) newShellLocked() *shell.Shell {
	if f.shell != nil {
		f.shell.Close()
	}
	epoch := f.epoch
	opts := f.opts.Shell
	opts.Log = f.log
	opts.OnStatus = func(snap shell.Snapshot) {
		f.Send(Event{Type: EventVerification, Message: snap.Message, Data: snap})
	}
	opts.OnProceed = func() { f.onFaceVerified(epoch) }
	f.shell = shell.New(opts)
	return f.shell
}

// OpenJoin switches from home to the join view.
func (f *Flow) OpenJoin() error {
	return f.switchView(ViewHome, ViewJoin)
}

// Back returns from the join view to home and clears the error.
func (f *Flow) Back() error {
	return f.switchView(ViewJoin, ViewHome)
}

func (f *Flow) switchView(from, to View) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	if f.view != from {
		f.mu.Unlock()
		return ErrWrongView
	}
	f.view = to
	f.errMsg = ""
	f.mu.Unlock()
	f.publish()
	return nil
}

// CreateMeeting creates a meeting as name and enters it.
func (f *Flow) CreateMeeting(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if err := f.beginRequest(ViewHome, name, "", name != "", msgNameRequired); err != nil {
		return err
	}
	grant, err := f.opts.Broker.CreateMeeting(ctx, name, broker.DefaultTitle)
	return f.finishRequest(ctx, grant, err)
}

// JoinMeeting joins meetingID as name.
func (f *Flow) JoinMeeting(ctx context.Context, name, meetingID string) error {
	name = strings.TrimSpace(name)
	meetingID = strings.TrimSpace(meetingID)
	if err := f.beginRequest(ViewJoin, name, meetingID, name != "" && meetingID != "", msgNameAndIDRequired); err != nil {
		return err
	}
	grant, err := f.opts.Broker.JoinMeeting(ctx, name, meetingID)
	return f.finishRequest(ctx, grant, err)
}

func (f *Flow) beginRequest(view View, name, meetingID string, valid bool, invalidMsg string) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	if f.view != view || f.loading {
		f.mu.Unlock()
		return ErrWrongView
	}
	f.userName = name
	if meetingID != "" {
		f.meetingID = meetingID
	}
	if !valid {
		f.errMsg = invalidMsg
		f.mu.Unlock()
		f.publish()
		return ErrValidation
	}
	f.loading = true
	f.errMsg = ""
	f.mu.Unlock()
	f.publish()
	return nil
}

func (f *Flow) finishRequest(ctx context.Context, grant *broker.Grant, err error) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	f.loading = false
	if err != nil {
		if errors.Is(err, broker.ErrRejected) {
			f.errMsg = broker.Message(err)
		} else {
			f.errMsg = msgServerUnreachable
		}
		f.mu.Unlock()
		f.log.Error("error requesting meeting token", "error", err)
		f.publish()
		return err
	}
	if grant.MeetingID != "" {
		f.meetingID = grant.MeetingID
	}
	f.authToken = grant.AuthToken
	f.mu.Unlock()
	return f.enterMeeting(ctx)
}

// enterMeeting initialises the SDK with the current token and joins the room.
func (f *Flow) enterMeeting(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	f.view = ViewMeeting
	f.loading = true
	f.errMsg = ""
	epoch := f.epoch
	cfg := f.opts.RTC
	cfg.AuthToken = f.authToken
	f.mu.Unlock()
	f.publish()

	session, err := f.opts.Connect(ctx, cfg)

	f.mu.Lock()
	if f.closed || epoch != f.epoch {
		f.mu.Unlock()
		if session != nil {
			_ = session.LeaveRoom()
		}
		return ErrClosed
	}
	if err != nil {
		f.view = ViewHome
		f.authToken = ""
		f.loading = false
		f.errMsg = msgInitFailed + initMessage(err)
		f.mu.Unlock()
		f.log.Error("error initializing meeting", "error", err)
		f.publish()
		return err
	}
	f.session = session
	f.mu.Unlock()

	session.On(rtc.EventRoomJoined, func(error) { f.onRoomJoined(epoch) })
	session.On(rtc.EventRoomLeft, func(error) { f.log.Info("room left", "session", session.ID()) })
	session.On(rtc.EventRoomConnectionFailed, func(err error) { f.onRoomFailed(epoch, err) })

	if err := session.JoinRoom(ctx); err != nil {
		f.onRoomFailed(epoch, err)
		return err
	}
	f.log.Info("meeting initialized", "session", session.ID())
	return nil
}

func initMessage(err error) string {
	msg := strings.TrimPrefix(err.Error(), rtc.ErrInit.Error()+": ")
	if msg == "" {
		return err.Error()
	}
	return msg
}

func (f *Flow) onRoomJoined(epoch int) {
	f.mu.Lock()
	if f.closed || epoch != f.epoch {
		f.mu.Unlock()
		return
	}
	f.loading = false
	f.inRoom = true
	f.mu.Unlock()
	f.log.Info("room joined")
	f.publish()
}

func (f *Flow) onRoomFailed(epoch int, err error) {
	f.mu.Lock()
	if f.closed || epoch != f.epoch {
		f.mu.Unlock()
		return
	}
	f.loading = false
	f.inRoom = false
	f.errMsg = msgRoomConnectionFailed
	f.mu.Unlock()
	f.log.Error("room connection failed", "error", err)
	f.publish()
}

func (f *Flow) onFaceVerified(epoch int) {
	f.mu.Lock()
	if f.closed || epoch != f.epoch || f.view != ViewFaceVerification {
		f.mu.Unlock()
		return
	}
	f.faceVerified = true
	f.mu.Unlock()

	if err := f.enterMeeting(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
		f.log.Error("could not enter meeting after verification", "error", err)
	}
}

// MountCamera starts face verification on source.
func (f *Flow) MountCamera(ctx context.Context, source camera.Source, overlay verification.Overlay) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	sh := f.shell
	view := f.view
	f.mu.Unlock()
	if view != ViewFaceVerification || sh == nil {
		return ErrWrongView
	}
	return sh.Mount(ctx, source, overlay)
}

// UnmountCamera stops verification on the current camera.
func (f *Flow) UnmountCamera() {
	f.mu.Lock()
	sh := f.shell
	f.mu.Unlock()
	if sh != nil {
		sh.Unmount()
	}
}

// RetryVerification refetches the participant record after a failure.
func (f *Flow) RetryVerification(ctx context.Context) error {
	f.mu.Lock()
	sh := f.shell
	view := f.view
	f.mu.Unlock()
	if view != ViewFaceVerification || sh == nil {
		return ErrWrongView
	}
	return sh.Retry(ctx)
}

// Leave leaves the room, discards the token and resets to home.
func (f *Flow) Leave(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	session, sh := f.resetLocked()
	f.mu.Unlock()

	f.release(ctx, session, sh)
	f.publish()
	return nil
}

func (f *Flow) resetLocked() (Session, *shell.Shell) {
	session, sh := f.session, f.shell
	f.epoch++
	f.session = nil
	f.shell = nil
	f.view = ViewHome
	f.meetingID = ""
	f.errMsg = ""
	f.prisonerID = ""
	f.authToken = ""
	f.loading = false
	f.inRoom = false
	f.faceVerified = false
	return session, sh
}

func (f *Flow) release(ctx context.Context, session Session, sh *shell.Shell) {
	if sh != nil {
		sh.Close()
	}
	if session == nil {
		return
	}
	if err := session.LeaveRoom(); err != nil {
		f.log.Warn("error leaving room", "error", err)
	}
	if f.opts.Broker == nil {
		return
	}
	if err := f.opts.Broker.EndSession(ctx, session.ID()); err != nil {
		f.log.Warn("error ending session", "session", session.ID(), "error", err)
	}
}

// Close releases everything and closes all listeners.
func (f *Flow) Close(ctx context.Context) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	session, sh := f.resetLocked()
	f.closed = true
	f.mu.Unlock()

	f.release(ctx, session, sh)
	f.Broadcaster.Close()
}

// State returns the current flow state.
func (f *Flow) State() State {
	f.mu.Lock()
	st := State{
		ID:           f.id,
		View:         f.view,
		UserName:     f.userName,
		MeetingID:    f.meetingID,
		PrisonerID:   f.prisonerID,
		Error:        f.errMsg,
		Loading:      f.loading,
		HasToken:     f.authToken != "",
		InRoom:       f.inRoom,
		FaceVerified: f.faceVerified,
	}
	sh := f.shell
	f.mu.Unlock()

	if sh != nil {
		snap := sh.Snapshot()
		st.Verification = &snap
	}
	return st
}

func (f *Flow) publish() {
	f.Send(Event{Type: EventState, Data: f.State()})
}
