// Package shell hosts a verification attempt for one participant: it fetches
// the participant's record, mounts the verification loop with the enrolled
// descriptor, and signals the caller to proceed once the face is verified and
// the confirmation has had time to render.
package shell

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kozaktomas/wasl-gate/internal/camera"
	"github.com/kozaktomas/wasl-gate/internal/constants"
	"github.com/kozaktomas/wasl-gate/internal/logging"
	"github.com/kozaktomas/wasl-gate/internal/records"
	"github.com/kozaktomas/wasl-gate/internal/verification"
)

// Status is what the verification panel shows.
type Status string

const (
	StatusIdle          Status = "idle"
	StatusLoadingRecord Status = "loading_record"
	StatusRecordError   Status = "record_error"
	StatusNotEnrolled   Status = "not_enrolled"
	StatusReady         Status = "ready"
	StatusVerifying     Status = "verifying"
	StatusCameraError   Status = "camera_error"
	StatusVerified      Status = "verified"
)

var (
	// ErrNotEnrolled is returned by Fetch when the record has no descriptor.
	ErrNotEnrolled = errors.New("participant face not enrolled")
	// ErrNotRetryable is returned by Retry outside the record error state.
	ErrNotRetryable = errors.New("nothing to retry")
	// ErrNotReady is returned by Mount before an enrolled record is loaded.
	ErrNotReady = errors.New("participant record not ready for verification")
	// ErrClosed is returned once the shell has been closed.
	ErrClosed = errors.New("verification shell closed")
)

// Records fetches participant records; records.Client implements it.
type Records interface {
	GetParticipant(ctx context.Context, id string) (*records.Participant, error)
}

// Options configures a Shell.
type Options struct {
	Records Records
	// Loop is the template for every loop the shell mounts. Source, Overlay,
	// Reference and the callbacks are filled in by the shell.
	Loop        verification.Options
	GracePeriod time.Duration

	// OnStatus fires after every status change.
	OnStatus func(Snapshot)
	// OnProceed fires once, a grace period after verification.
	OnProceed func()

	Log *slog.Logger
}

// Snapshot is the externally visible shell state.
type Snapshot struct {
	Status      Status             `json:"status"`
	Message     string             `json:"message"`
	Participant string             `json:"participant,omitempty"`
	LoopState   verification.State `json:"loopState"`
	Retryable   bool               `json:"retryable"`
	Error       string             `json:"error,omitempty"`
}

// Shell is the verification host for one participant.
type Shell struct {
	opts Options
	log  *slog.Logger

	mu            sync.Mutex
	participantID string
	participant   *records.Participant
	status        Status
	loopState     verification.State
	err           error
	loop          *verification.Loop
	grace         *time.Timer
	closed        bool
	proceeded     bool
	fetches       int
}

// New creates an idle shell.
func New(opts Options) *Shell {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = constants.VerifiedGracePeriod
	}
	return &Shell{
		opts:   opts,
		log:    logging.OrNop(opts.Log),
		status: StatusIdle,
	}
}

// Fetch loads the participant record and decides whether verification can start.
func (s *Shell) Fetch(ctx context.Context, participantID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.participantID = participantID
	s.participant = nil
	s.status = StatusLoadingRecord
	s.err = nil
	s.fetches++
	seq := s.fetches
	s.mu.Unlock()
	s.notify()

	p, err := s.opts.Records.GetParticipant(ctx, participantID)

	s.mu.Lock()
	if s.closed || seq != s.fetches {
		s.mu.Unlock()
		return ErrClosed
	}
	switch {
	case err != nil:
		s.status = StatusRecordError
		s.err = err
		s.log.Error("error fetching participant record", "participant", participantID, "error", err)
	case !p.Enrolled():
		s.participant = p
		s.status = StatusNotEnrolled
		s.err = ErrNotEnrolled
		err = ErrNotEnrolled
		s.log.Warn("participant has no enrolled face", "participant", participantID)
	default:
		s.participant = p
		s.status = StatusReady
		s.log.Info("participant record loaded", "participant", participantID)
	}
	s.mu.Unlock()
	s.notify()
	return err
}

// Retry refetches the record after a record error.
func (s *Shell) Retry(ctx context.Context) error {
	s.mu.Lock()
	status, id := s.status, s.participantID
	s.mu.Unlock()
	if status != StatusRecordError {
		return ErrNotRetryable
	}
	return s.Fetch(ctx, id)
}

// Mount starts a verification loop on source. It is allowed once the record
// is ready, and again after a camera error.
func (s *Shell) Mount(ctx context.Context, source camera.Source, overlay verification.Overlay) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.status != StatusReady && s.status != StatusCameraError {
		s.mu.Unlock()
		return ErrNotReady
	}
	previous := s.loop

	opts := s.opts.Loop
	opts.Source = source
	opts.Overlay = overlay
	opts.Reference = s.participant.FaceDescriptor
	if opts.Log == nil {
		opts.Log = s.log
	}
	var loop *verification.Loop
	opts.OnState = func(state verification.State, err error) { s.onLoopState(loop, state, err) }
	opts.OnVerify = func(ok bool) { s.onVerified(loop, ok) }
	loop = verification.New(opts)

	s.loop = loop
	s.status = StatusVerifying
	s.loopState = verification.StateIdle
	s.err = nil
	s.mu.Unlock()

	if previous != nil {
		previous.Unmount()
	}
	s.notify()

	if err := loop.Mount(ctx); err != nil {
		s.mu.Lock()
		s.status = StatusCameraError
		s.err = err
		s.mu.Unlock()
		s.notify()
		return err
	}
	return nil
}

func (s *Shell) onLoopState(loop *verification.Loop, state verification.State, err error) {
	s.mu.Lock()
	if s.closed || s.loop != loop || s.status != StatusVerifying {
		s.mu.Unlock()
		return
	}
	s.loopState = state
	if state == verification.StateError {
		s.status = StatusCameraError
		s.err = err
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Shell) onVerified(loop *verification.Loop, ok bool) {
	if !ok {
		return
	}
	s.mu.Lock()
	if s.closed || s.loop != loop || s.status == StatusVerified {
		s.mu.Unlock()
		return
	}
	s.status = StatusVerified
	s.loopState = verification.StateVerified
	s.grace = time.AfterFunc(s.opts.GracePeriod, s.proceed)
	s.mu.Unlock()

	s.log.Info("face verified, proceeding after grace period", "participant", s.participantID, "grace", s.opts.GracePeriod)
	s.notify()
}

func (s *Shell) proceed() {
	s.mu.Lock()
	if s.closed || s.proceeded {
		s.mu.Unlock()
		return
	}
	s.proceeded = true
	s.mu.Unlock()

	if s.opts.OnProceed != nil {
		s.opts.OnProceed()
	}
}

// Unmount stops the mounted loop, for example when the camera goes away.
// An unfinished attempt goes back to ready so it can be mounted again.
func (s *Shell) Unmount() {
	s.mu.Lock()
	if s.closed || s.loop == nil {
		s.mu.Unlock()
		return
	}
	loop := s.loop
	changed := s.status == StatusVerifying || s.status == StatusCameraError
	if changed {
		s.status = StatusReady
		s.loopState = verification.StateIdle
		s.err = nil
	}
	s.mu.Unlock()

	loop.Unmount()
	if changed {
		s.notify()
	}
}

// Close unmounts the loop and cancels a pending proceed.
func (s *Shell) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	loop := s.loop
	if s.grace != nil {
		s.grace.Stop()
	}
	s.mu.Unlock()

	if loop != nil {
		loop.Unmount()
	}
}

// Loop returns the currently mounted loop, if any.
func (s *Shell) Loop() *verification.Loop {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loop
}

// Proceeded reports whether OnProceed has fired.
func (s *Shell) Proceeded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proceeded
}

// Snapshot returns the current state.
func (s *Shell) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Shell) snapshotLocked() Snapshot {
	snap := Snapshot{
		Status:    s.status,
		LoopState: s.loopState,
		Retryable: s.status == StatusRecordError,
		Message:   message(s.status, s.loopState),
	}
	if s.participant != nil {
		snap.Participant = s.participant.Name
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	return snap
}

func (s *Shell) notify() {
	if s.opts.OnStatus == nil {
		return
	}
	s.opts.OnStatus(s.Snapshot())
}

func message(status Status, loop verification.State) string {
	switch status {
	case StatusLoadingRecord:
		return "Loading prisoner data..."
	case StatusRecordError:
		return "Failed to load prisoner information. Please try again."
	case StatusNotEnrolled:
		return "Prisoner face not enrolled. Cannot verify identity."
	case StatusReady:
		return "Please position your face clearly in front of the camera for verification."
	case StatusVerifying:
		if loop == verification.StateReady {
			return "Please position your face clearly in front of the camera for verification."
		}
		return "Loading face recognition models..."
	case StatusCameraError:
		return "Error loading models or accessing camera. Please check camera permissions."
	case StatusVerified:
		return "Face Verified Successfully"
	default:
		return ""
	}
}
