//go:build !linux

package camera

import (
	"context"
	"fmt"
	"log/slog"
)

// WebcamSource is only available on Linux.
type WebcamSource struct {
	Device string
	Log    *slog.Logger
}

// Open always fails outside Linux.
func (s *WebcamSource) Open(ctx context.Context, width, height int) (Stream, error) {
	return nil, fmt.Errorf("%w: local cameras are only supported on linux", ErrAcquisition)
}
