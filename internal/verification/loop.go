// Package verification runs the live face-verification loop.
//
// A Loop acquires the detection engine and a camera stream, then polls the
// stream on a fixed interval, compares every detected face against the
// reference descriptor and commits the Verified state the first time a face
// is closer than the match threshold. Verified and Error are terminal.
//
// Unmount is the cancellation signal: once it is called no further transition
// is committed, no host callback fires, and the camera stream is released by
// the loop goroutine on its way out.
package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/wasl-gate/internal/camera"
	"github.com/kozaktomas/wasl-gate/internal/constants"
	"github.com/kozaktomas/wasl-gate/internal/descriptor"
	"github.com/kozaktomas/wasl-gate/internal/detector"
	"github.com/kozaktomas/wasl-gate/internal/logging"
)

var (
	// ErrAlreadyMounted is returned by a second Mount on the same Loop.
	ErrAlreadyMounted = errors.New("verification loop already mounted")
	// ErrUnmounted is returned by Mount after Unmount.
	ErrUnmounted = errors.New("verification loop unmounted")
	// ErrTimeout is the error of a loop whose optional attempt timeout expired.
	ErrTimeout = errors.New("verification timed out")
)

// Loader prepares the detection engine; detector.Bootstrap implements it.
type Loader interface {
	Load(ctx context.Context) error
}

// Options configures a Loop.
type Options struct {
	Loader  Loader
	Engine  detector.Engine
	Source  camera.Source
	Overlay Overlay

	// Reference is the enrolled descriptor; nil keeps the loop display-only.
	Reference        json.RawMessage
	DescriptorLength int

	Threshold    float64
	PollInterval time.Duration
	// Timeout bounds the whole attempt; zero polls until match or unmount.
	Timeout time.Duration
	Width   int
	Height  int

	// OnVerify fires exactly once, with true, when the loop verifies.
	OnVerify func(bool)
	// OnState fires on every committed transition.
	OnState func(State, error)

	Log *slog.Logger
}

// Stats counts ticks for diagnostics.
type Stats struct {
	Ticks   int64
	Skipped int64
	Failed  int64
}

// Loop is one verification attempt.
type Loop struct {
	opts Options
	log  *slog.Logger

	mu        sync.Mutex
	state     State
	err       error
	reference descriptor.Descriptor
	refErr    error
	mounted   bool
	cancel    context.CancelFunc

	notifyMu  sync.Mutex
	drawMu    sync.Mutex
	unmounted atomic.Bool
	ticking   atomic.Bool
	ticks     sync.WaitGroup
	verified  chan struct{}
	done      chan struct{}

	ticksRun     atomic.Int64
	ticksSkipped atomic.Int64
	ticksFailed  atomic.Int64
}

// New creates an idle loop.
func New(opts Options) *Loop {
	if opts.Threshold <= 0 {
		opts.Threshold = constants.MatchThreshold
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = constants.PollInterval
	}
	if opts.Timeout < 0 {
		opts.Timeout = 0
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = constants.CameraWidth, constants.CameraHeight
	}
	if opts.Overlay == nil {
		opts.Overlay = nopOverlay{}
	}

	l := &Loop{
		opts:     opts,
		log:      logging.OrNop(opts.Log),
		verified: make(chan struct{}),
		done:     make(chan struct{}),
	}
	l.SetReference(opts.Reference)
	return l
}

// SetReference replaces the reference descriptor. An empty value puts the
// loop back into display-only mode; an undecodable one is logged and treated
// the same way until a valid descriptor arrives.
func (l *Loop) SetReference(raw json.RawMessage) {
	var (
		ref descriptor.Descriptor
		err error
	)
	if !descriptor.IsEmpty(raw) {
		ref, err = descriptor.NormalizeLength(raw, l.opts.DescriptorLength)
		if err != nil {
			l.log.Error("reference descriptor decode failed", "error", err, "encoding", descriptor.Detect(raw).String())
			ref = nil
		}
	}

	l.mu.Lock()
	l.reference = ref
	l.refErr = err
	l.mu.Unlock()
}

// State returns the current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Err returns the error that moved the loop to StateError, if any.
func (l *Loop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Done is closed when the loop goroutine has exited and the stream is released.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Stats returns tick counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Ticks:   l.ticksRun.Load(),
		Skipped: l.ticksSkipped.Load(),
		Failed:  l.ticksFailed.Load(),
	}
}

// Mount starts the attempt: Idle to Loading, then acquisition in the background.
func (l *Loop) Mount(ctx context.Context) error {
	if l.opts.Loader == nil || l.opts.Engine == nil || l.opts.Source == nil {
		return fmt.Errorf("verification loop needs a loader, an engine and a camera source")
	}

	l.mu.Lock()
	if l.unmounted.Load() {
		l.mu.Unlock()
		return ErrUnmounted
	}
	if l.mounted {
		l.mu.Unlock()
		return ErrAlreadyMounted
	}
	l.mounted = true
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.mu.Unlock()

	l.commit(StateLoading, nil)
	go l.run(runCtx)
	return nil
}

// Unmount cancels the attempt. It is safe to call more than once and from
// inside host callbacks; wait on Done to know the stream has been released.
func (l *Loop) Unmount() {
	if l.unmounted.Swap(true) {
		return
	}
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	} else {
		close(l.done)
	}
}

// commit moves to a new state unless the loop is unmounted or already terminal.
func (l *Loop) commit(to State, err error) bool {
	l.mu.Lock()
	if l.unmounted.Load() || l.state.Terminal() {
		l.mu.Unlock()
		return false
	}
	from := l.state
	l.state = to
	l.err = err
	l.mu.Unlock()

	l.log.Debug("verification state changed", "from", from.String(), "to", to.String())
	l.notify(to, err)
	return true
}

func (l *Loop) notify(to State, err error) {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()
	if l.unmounted.Load() {
		return
	}
	if l.opts.OnState != nil {
		l.opts.OnState(to, err)
	}
	if to == StateVerified && l.opts.OnVerify != nil {
		l.opts.OnVerify(true)
	}
}

// live reports whether results of asynchronous work may still be applied.
func (l *Loop) live(ctx context.Context) bool {
	return ctx.Err() == nil && !l.unmounted.Load()
}

func (l *Loop) run(ctx context.Context) {
	var stream camera.Stream
	defer close(l.done)
	defer l.ticks.Wait()
	defer func() {
		// Covers every exit path, including a stream that resolved after unmount.
		if stream != nil {
			stream.Stop()
		}
	}()

	attemptCtx := ctx
	if l.opts.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeoutCause(ctx, l.opts.Timeout, ErrTimeout)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(attemptCtx)
	g.Go(func() error {
		return l.opts.Loader.Load(gctx)
	})
	g.Go(func() error {
		s, err := l.opts.Source.Open(gctx, l.opts.Width, l.opts.Height)
		if err != nil {
			return err
		}
		stream = s
		return nil
	})
	err := g.Wait()

	if !l.live(ctx) {
		l.log.Debug("loading finished after unmount")
		return
	}
	if err != nil {
		if cause := context.Cause(attemptCtx); errors.Is(cause, ErrTimeout) {
			err = ErrTimeout
		}
		l.log.Error("error loading models or accessing camera", "error", err)
		l.commit(StateError, err)
		return
	}

	select {
	case <-attemptCtx.Done():
		l.expire(ctx)
		return
	case <-stream.Playing():
	}

	if !l.commit(StateReady, nil) {
		return
	}
	l.log.Info("verification loop ready", "interval", l.opts.PollInterval, "threshold", l.opts.Threshold)

	ticker := time.NewTicker(l.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-attemptCtx.Done():
			l.expire(ctx)
			return
		case <-l.verified:
			return
		case <-ticker.C:
			if !l.ticking.CompareAndSwap(false, true) {
				l.ticksSkipped.Add(1)
				continue
			}
			// The previous tick released the guard only after committing, so this check is exact.
			select {
			case <-l.verified:
				l.ticking.Store(false)
				return
			default:
			}
			l.ticks.Add(1)
			go l.tick(attemptCtx, stream)
		}
	}
}

// expire commits the timeout error if the attempt ended on its own deadline.
func (l *Loop) expire(ctx context.Context) {
	if !l.live(ctx) {
		return
	}
	l.log.Warn("verification attempt timed out", "timeout", l.opts.Timeout)
	l.commit(StateError, ErrTimeout)
}

func (l *Loop) tick(ctx context.Context, stream camera.Stream) {
	defer l.ticks.Done()
	defer l.ticking.Store(false)
	defer func() {
		if r := recover(); r != nil {
			l.ticksFailed.Add(1)
			l.log.Error("verification tick panicked", "panic", r)
		}
	}()

	frame, ok := stream.Frame()
	if !ok {
		return
	}

	l.mu.Lock()
	reference, refErr, state := l.reference, l.refErr, l.state
	l.mu.Unlock()
	if state != StateReady {
		return
	}
	l.ticksRun.Add(1)

	detections, err := l.opts.Engine.Detect(ctx, frame.Data)
	if err != nil {
		if l.live(ctx) {
			l.ticksFailed.Add(1)
			l.log.Warn("detection error", "error", err, "frame", frame.Seq)
		}
		return
	}

	ann := Annotations{Frame: frame.Seq, Width: frame.Width, Height: frame.Height}
	matched := -1
	if reference == nil {
		if refErr != nil {
			l.log.Debug("comparison skipped, reference descriptor unusable", "error", refErr)
		}
		for _, d := range detections {
			ann.Items = append(ann.Items, raw(d))
		}
	} else {
		for i, d := range detections {
			distance := detector.Distance(d.Descriptor, reference)
			match := detector.IsMatch(distance, l.opts.Threshold)
			if match && matched < 0 {
				matched = i
			}
			ann.Items = append(ann.Items, labelled(d, distance, match))
		}
	}

	l.mu.Lock()
	if !l.live(ctx) || l.state != StateReady {
		l.mu.Unlock()
		return
	}
	if matched >= 0 {
		l.state = StateVerified
	}
	l.mu.Unlock()

	// Overlays may block on a slow client, so they draw outside l.mu.
	l.drawMu.Lock()
	if l.live(ctx) {
		l.opts.Overlay.Clear()
		if len(ann.Items) > 0 {
			l.opts.Overlay.Draw(ann)
		}
	}
	l.drawMu.Unlock()

	if matched < 0 {
		return
	}
	close(l.verified)
	l.log.Info("face verified", "distance", ann.Items[matched].Distance, "faces", len(detections))
	l.notify(StateVerified, nil)
}
