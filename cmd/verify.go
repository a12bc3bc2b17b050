package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/wasl-gate/internal/camera"
	"github.com/kozaktomas/wasl-gate/internal/config"
	"github.com/kozaktomas/wasl-gate/internal/records"
	"github.com/kozaktomas/wasl-gate/internal/shell"
	"github.com/kozaktomas/wasl-gate/internal/verification"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <prisoner-id>",
	Short: "Verify a participant's face with a local webcam",
	Long: `Fetch the participant's record, open a local V4L2 webcam and run the
same verification loop the web client uses until the face matches.

Examples:
  # Verify against the default camera (/dev/video0)
  wasl-gate verify 42

  # Use another device and give up after 30 seconds
  wasl-gate verify 42 --device /dev/video2 --timeout 30s`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().String("device", "", "Camera device (overrides CAMERA_DEVICE)")
	verifyCmd.Flags().Duration("timeout", 0, "Give up after this long (0 = wait until Ctrl+C)")
}

// spinnerOverlay shows the latest face label on a terminal spinner.
type spinnerOverlay struct {
	bar *progressbar.ProgressBar
}

func (o spinnerOverlay) Clear() {
	o.bar.Describe("Looking for a face...")
	_ = o.bar.Add(1)
}

func (o spinnerOverlay) Draw(a verification.Annotations) {
	label := fmt.Sprintf("%d faces", len(a.Items))
	if len(a.Items) == 1 {
		label = a.Items[0].Label
	}
	o.bar.Describe(label)
	_ = o.bar.Add(1)
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	log := newLogger(cfg)
	participantID := args[0]

	device := mustGetString(cmd, "device")
	if device == "" {
		device = cfg.Camera.Device
	}
	if timeout := mustGetDuration(cmd, "timeout"); timeout > 0 {
		cfg.Verification.Timeout = timeout
	}

	ctx, stop := signalContext()
	defer stop()

	recs, err := records.NewClient(cfg.Records.URL)
	if err != nil {
		return fmt.Errorf("record store: %w", err)
	}

	changed := make(chan struct{}, 1)
	proceed := make(chan struct{})
	sh := shell.New(shell.Options{
		Records:     recs,
		Loop:        loopTemplate(cfg, newBootstrap(cfg, log), log),
		GracePeriod: cfg.Verification.GracePeriod,
		OnStatus: func(shell.Snapshot) {
			select {
			case changed <- struct{}{}:
			default:
			}
		},
		OnProceed: func() { close(proceed) },
		Log:       log,
	})
	defer sh.Close()

	fmt.Printf("Fetching record for %s...\n", participantID)
	if err := sh.Fetch(ctx, participantID); err != nil {
		if errors.Is(err, shell.ErrNotEnrolled) {
			return fmt.Errorf("participant %s has no enrolled face", participantID)
		}
		return fmt.Errorf("fetching participant record: %w", err)
	}

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("Starting camera..."),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionClearOnFinish(),
	)

	started := time.Now()
	source := &camera.WebcamSource{Device: device, Log: log}
	if err := sh.Mount(ctx, source, spinnerOverlay{bar: bar}); err != nil {
		_ = bar.Finish()
		return fmt.Errorf("starting verification: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = bar.Finish()
			return errors.New("verification cancelled")
		case <-proceed:
			_ = bar.Finish()
			fmt.Printf("Verified %s in %s\n", participantID, time.Since(started).Round(time.Millisecond))
			return nil
		case <-changed:
			if snap := sh.Snapshot(); snap.Status == shell.StatusCameraError {
				_ = bar.Finish()
				return fmt.Errorf("%s (%s)", snap.Message, snap.Error)
			}
		}
	}
}
