package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kozaktomas/wasl-gate/internal/config"
	"github.com/kozaktomas/wasl-gate/internal/detector"
	"github.com/kozaktomas/wasl-gate/internal/logging"
	"github.com/kozaktomas/wasl-gate/internal/rtc"
	"github.com/kozaktomas/wasl-gate/internal/verification"
)

// signalContext returns a context cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// newLogger builds the process logger; --log-level wins over LOG_LEVEL.
func newLogger(cfg *config.Config) *slog.Logger {
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	return logging.New(level, cfg.Log.Format)
}

// newBootstrap wires the detection engine client and its model set.
func newBootstrap(cfg *config.Config, log *slog.Logger) *detector.Bootstrap {
	engine := detector.NewClient(cfg.Engine.URL, max(cfg.Camera.Width, cfg.Camera.Height))
	models := detector.Models(cfg.Engine.ModelBaseURI, cfg.Engine.Models)
	return detector.NewBootstrap(engine, models, log.With("component", "detector"))
}

// loopTemplate is the verification loop configuration shared by every mount.
func loopTemplate(cfg *config.Config, boot *detector.Bootstrap, log *slog.Logger) verification.Options {
	return verification.Options{
		Loader:           boot,
		Engine:           boot.Engine(),
		DescriptorLength: cfg.Engine.DescriptorLength,
		Threshold:        cfg.Verification.Threshold,
		PollInterval:     cfg.Verification.PollInterval,
		Timeout:          cfg.Verification.Timeout,
		Width:            cfg.Camera.Width,
		Height:           cfg.Camera.Height,
		Log:              log.With("component", "verification"),
	}
}

// rtcTemplate converts the SDK settings into a session template.
func rtcTemplate(cfg *config.Config) rtc.Config {
	servers := make([]rtc.ICEServer, 0, len(cfg.RTC.ICEServers))
	for _, s := range cfg.RTC.ICEServers {
		servers = append(servers, rtc.ICEServer{URLs: s.URLs})
	}
	m := cfg.RTC.Modules
	return rtc.Config{
		MediaDefaults: rtc.MediaDefaults{
			Audio: cfg.RTC.MediaDefaults.Audio,
			Video: cfg.RTC.MediaDefaults.Video,
		},
		Modules: rtc.Modules{
			Audio:        m.Audio,
			Video:        m.Video,
			ScreenShare:  m.ScreenShare,
			Chat:         m.Chat,
			Polls:        m.Polls,
			Participants: m.Participants,
		},
		ICEServers:           servers,
		ICECandidatePoolSize: cfg.RTC.ICECandidatePoolSize,
	}
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}
