package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kozaktomas/wasl-gate/internal/constants"
	"github.com/kozaktomas/wasl-gate/internal/logging"
)

// ErrBootstrap is returned when the engine or any required model fails to load.
var ErrBootstrap = errors.New("detector bootstrap failed")

// Bootstrap loads the engine runtime and its models once per process.
//
// Concurrent callers share a single in-flight load. A caller whose context
// ends stops waiting but does not cancel the load for the others. Success is
// remembered; failure is not, so the next Load starts over.
type Bootstrap struct {
	engine  Engine
	models  []Model
	timeout time.Duration
	log     *slog.Logger

	loaded   atomic.Bool
	attempts atomic.Int64
	group    singleflight.Group
}

// NewBootstrap creates a bootstrap for the given engine and model set.
func NewBootstrap(engine Engine, models []Model, log *slog.Logger) *Bootstrap {
	return &Bootstrap{
		engine:  engine,
		models:  models,
		timeout: constants.BootstrapTimeout,
		log:     logging.OrNop(log),
	}
}

// Engine returns the engine the bootstrap prepares.
func (b *Bootstrap) Engine() Engine {
	return b.engine
}

// Loaded reports whether a load has completed successfully.
func (b *Bootstrap) Loaded() bool {
	return b.loaded.Load()
}

// Attempts returns how many loads have actually been started.
func (b *Bootstrap) Attempts() int64 {
	return b.attempts.Load()
}

// Load makes sure the engine and every model are ready.
func (b *Bootstrap) Load(ctx context.Context) error {
	if b.loaded.Load() {
		return nil
	}

	ch := b.group.DoChan("load", func() (any, error) {
		if b.loaded.Load() {
			return nil, nil
		}
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
		defer cancel()

		if err := b.load(loadCtx); err != nil {
			return nil, err
		}
		b.loaded.Store(true)
		return nil, nil
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (b *Bootstrap) load(ctx context.Context) error {
	b.attempts.Add(1)
	start := time.Now()
	b.log.Info("loading face recognition models", "models", len(b.models))

	if err := b.engine.Ready(ctx); err != nil {
		b.log.Error("detection engine unavailable", "error", err)
		return fmt.Errorf("%w: engine not ready: %w", ErrBootstrap, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range b.models {
		g.Go(func() error {
			return b.engine.LoadModel(gctx, m)
		})
	}
	if err := g.Wait(); err != nil {
		b.log.Error("model load failed", "error", err)
		return fmt.Errorf("%w: %w", ErrBootstrap, err)
	}

	b.log.Info("models loaded", "models", len(b.models), "duration", time.Since(start))
	return nil
}
