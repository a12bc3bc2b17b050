//go:build linux

package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/blackjack/webcam"

	"github.com/kozaktomas/wasl-gate/internal/constants"
	"github.com/kozaktomas/wasl-gate/internal/logging"
)

// WebcamSource opens a local V4L2 device streaming MJPEG.
type WebcamSource struct {
	Device string
	Log    *slog.Logger
}

// Open opens the device, negotiates MJPEG at the requested size and starts streaming.
func (s *WebcamSource) Open(ctx context.Context, width, height int) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cam, err := webcam.Open(s.Device)
	if err != nil {
		return nil, fmt.Errorf("%w: could not open %s: %w", ErrAcquisition, s.Device, err)
	}

	format, ok := mjpegFormat(cam.GetSupportedFormats())
	if !ok {
		cam.Close()
		return nil, fmt.Errorf("%w: %s does not support MJPEG", ErrAcquisition, s.Device)
	}

	_, w, h, err := cam.SetImageFormat(format, uint32(width), uint32(height))
	if err != nil {
		cam.Close()
		return nil, fmt.Errorf("%w: could not set image format: %w", ErrAcquisition, err)
	}

	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return nil, fmt.Errorf("%w: could not start streaming: %w", ErrAcquisition, err)
	}

	stream := &Webcam{
		latest: newLatest(),
		cam:    cam,
		width:  int(w),
		height: int(h),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		log:    logging.OrNop(s.Log).With("device", s.Device),
	}
	go stream.run()
	return stream, nil
}

func mjpegFormat(formats map[webcam.PixelFormat]string) (webcam.PixelFormat, bool) {
	for f, desc := range formats {
		d := strings.ToLower(desc)
		if strings.Contains(d, "mjpeg") || strings.Contains(d, "motion-jpeg") {
			return f, true
		}
	}
	return 0, false
}

// Webcam is a Stream reading from a V4L2 device.
type Webcam struct {
	*latest
	stopper
	cam    *webcam.Webcam
	width  int
	height int
	done   chan struct{}
	exited chan struct{}
	log    *slog.Logger
}

func (c *Webcam) run() {
	defer close(c.exited)
	for {
		select {
		case <-c.done:
			return
		default:
		}

		err := c.cam.WaitForFrame(constants.CameraFrameTimeout)
		var timeout *webcam.Timeout
		switch {
		case err == nil:
		case errors.As(err, &timeout):
			continue
		default:
			c.log.Error("camera read failed", "error", err)
			return
		}

		frame, err := c.cam.ReadFrame()
		if err != nil {
			c.log.Error("camera read failed", "error", err)
			return
		}
		if len(frame) == 0 {
			continue
		}
		data := make([]byte, len(frame))
		copy(data, frame)
		c.publish(data, c.width, c.height)
	}
}

// Stop halts streaming and closes the device once.
func (c *Webcam) Stop() {
	c.stop(func() {
		close(c.done)
		<-c.exited
		if err := c.cam.StopStreaming(); err != nil {
			c.log.Warn("could not stop streaming", "error", err)
		}
		if err := c.cam.Close(); err != nil {
			c.log.Warn("could not close camera", "error", err)
		}
	})
}
