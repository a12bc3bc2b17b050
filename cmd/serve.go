package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/wasl-gate/internal/broker"
	"github.com/kozaktomas/wasl-gate/internal/call"
	"github.com/kozaktomas/wasl-gate/internal/config"
	"github.com/kozaktomas/wasl-gate/internal/records"
	"github.com/kozaktomas/wasl-gate/internal/rtc"
	"github.com/kozaktomas/wasl-gate/internal/shell"
	"github.com/kozaktomas/wasl-gate/internal/web"
	"github.com/kozaktomas/wasl-gate/internal/web/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Wasl Gate web server.
The server hosts the browser client, tracks one call flow per visitor and
runs face verification on the camera frames the browser streams to it.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().String("allowed-origins", "", "Comma-separated browser origins allowed to call the API (localhost is always allowed)")
	serveCmd.Flags().Bool("preload-models", false, "Load detection models at startup instead of on first verification")
}

// resolveServeHostPort resolves port, host and origins from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")
	origins := mustGetString(cmd, "allowed-origins")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		if p, err := strconv.Atoi(envPort); err == nil {
			port = p
		}
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	if origins == "" {
		origins = os.Getenv("WEB_ALLOWED_ORIGINS")
	}
	return port, host, origins
}

// newCallManager wires the upstream clients into the per-visitor flow template.
func newCallManager(cfg *config.Config, cmd *cobra.Command) (*call.Manager, error) {
	log := newLogger(cfg)

	recs, err := records.NewClient(cfg.Records.URL)
	if err != nil {
		return nil, fmt.Errorf("record store: %w", err)
	}
	meetings, err := broker.NewClient(cfg.Broker.URL)
	if err != nil {
		return nil, fmt.Errorf("meeting broker: %w", err)
	}
	if cfg.RTC.SignalURL == "" {
		return nil, errors.New("RTC_SIGNAL_URL environment variable is required")
	}

	boot := newBootstrap(cfg, log)
	if mustGetBool(cmd, "preload-models") {
		fmt.Println("Loading detection models...")
		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		err := boot.Load(ctx)
		cancel()
		if err != nil {
			// Verification retries the load on the next mount.
			fmt.Printf("Warning: %v\n", err)
		} else {
			fmt.Printf("Loaded %d detection models\n", len(cfg.Engine.Models))
		}
	}

	return call.NewManager(call.Options{
		Broker:  meetings,
		Connect: call.RTCConnector(rtc.NewClient(cfg.RTC.SignalURL, log.With("component", "rtc"))),
		RTC:     rtcTemplate(cfg),
		Shell: shell.Options{
			Records:     recs,
			Loop:        loopTemplate(cfg, boot, log),
			GracePeriod: cfg.Verification.GracePeriod,
			Log:         log.With("component", "shell"),
		},
		Log: log.With("component", "call"),
	}), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	port, host, allowed := resolveServeHostPort(cmd)

	ctx, stop := signalContext()
	defer stop()
	cmd.SetContext(ctx)

	calls, err := newCallManager(cfg, cmd)
	if err != nil {
		return err
	}

	server := web.NewServer(cfg, calls, middleware.ParseOrigins(allowed), port, host)

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Wasl Gate on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	<-done
	return nil
}
