package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"MEETING_BROKER_URL", "RECORDS_URL", "ENGINE_URL", "ENGINE_MODELS",
		"DESCRIPTOR_LENGTH", "MATCH_THRESHOLD", "POLL_INTERVAL_MS", "GRACE_PERIOD_MS",
		"VERIFY_TIMEOUT_MS", "CAMERA_WIDTH", "CAMERA_HEIGHT",
	} {
		os.Unsetenv(key)
	}

	cfg := Load()

	if cfg.Broker.URL != "http://localhost:3014" {
		t.Errorf("expected default broker URL, got '%s'", cfg.Broker.URL)
	}
	if cfg.Records.URL != "http://localhost:3004" {
		t.Errorf("expected default records URL, got '%s'", cfg.Records.URL)
	}
	if cfg.Engine.DescriptorLength != 128 {
		t.Errorf("expected descriptor length 128, got %d", cfg.Engine.DescriptorLength)
	}
	if cfg.Verification.Threshold != 0.6 {
		t.Errorf("expected threshold 0.6, got %f", cfg.Verification.Threshold)
	}
	if cfg.Verification.PollInterval != 100*time.Millisecond {
		t.Errorf("expected poll interval 100ms, got %v", cfg.Verification.PollInterval)
	}
	if cfg.Verification.GracePeriod != 1500*time.Millisecond {
		t.Errorf("expected grace period 1500ms, got %v", cfg.Verification.GracePeriod)
	}
	if cfg.Verification.Timeout != 0 {
		t.Errorf("expected no attempt timeout by default, got %v", cfg.Verification.Timeout)
	}
	if cfg.Camera.Width != 640 || cfg.Camera.Height != 480 {
		t.Errorf("expected 640x480 camera, got %dx%d", cfg.Camera.Width, cfg.Camera.Height)
	}
}

func TestLoad_EmbeddedDefaults(t *testing.T) {
	os.Unsetenv("ENGINE_MODELS")
	os.Unsetenv("ENGINE_MODEL_URI")

	cfg := Load()

	expectedModels := []string{"tinyFaceDetector", "faceLandmark68Net", "faceRecognitionNet", "ssdMobilenetv1"}
	if len(cfg.Engine.Models) != len(expectedModels) {
		t.Fatalf("expected %d models, got %v", len(expectedModels), cfg.Engine.Models)
	}
	for i, model := range expectedModels {
		if cfg.Engine.Models[i] != model {
			t.Errorf("expected model %d to be '%s', got '%s'", i, model, cfg.Engine.Models[i])
		}
	}
	if cfg.Engine.ModelBaseURI == "" {
		t.Error("expected model base URI from embedded defaults")
	}

	if len(cfg.RTC.ICEServers) != 2 {
		t.Fatalf("expected 2 ICE servers, got %d", len(cfg.RTC.ICEServers))
	}
	if cfg.RTC.ICEServers[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Errorf("unexpected first ICE server: %v", cfg.RTC.ICEServers[0].URLs)
	}
	if cfg.RTC.ICECandidatePoolSize != 10 {
		t.Errorf("expected ICE candidate pool size 10, got %d", cfg.RTC.ICECandidatePoolSize)
	}
	if cfg.RTC.MediaDefaults.Audio || cfg.RTC.MediaDefaults.Video {
		t.Error("expected audio and video off by default")
	}
	if !cfg.RTC.Modules.ScreenShare || !cfg.RTC.Modules.Participants {
		t.Errorf("expected all modules enabled, got %+v", cfg.RTC.Modules)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MEETING_BROKER_URL", "http://broker.test")
	t.Setenv("RECORDS_URL", "http://records.test")
	t.Setenv("ENGINE_MODELS", "tinyFaceDetector, faceRecognitionNet ,")
	t.Setenv("MATCH_THRESHOLD", "0.45")
	t.Setenv("POLL_INTERVAL_MS", "250")
	t.Setenv("VERIFY_TIMEOUT_MS", "60000")

	cfg := Load()

	if cfg.Broker.URL != "http://broker.test" {
		t.Errorf("expected broker URL override, got '%s'", cfg.Broker.URL)
	}
	if cfg.Records.URL != "http://records.test" {
		t.Errorf("expected records URL override, got '%s'", cfg.Records.URL)
	}
	if len(cfg.Engine.Models) != 2 || cfg.Engine.Models[1] != "faceRecognitionNet" {
		t.Errorf("expected trimmed model list, got %v", cfg.Engine.Models)
	}
	if cfg.Verification.Threshold != 0.45 {
		t.Errorf("expected threshold 0.45, got %f", cfg.Verification.Threshold)
	}
	if cfg.Verification.PollInterval != 250*time.Millisecond {
		t.Errorf("expected poll interval 250ms, got %v", cfg.Verification.PollInterval)
	}
	if cfg.Verification.Timeout != time.Minute {
		t.Errorf("expected timeout 1m, got %v", cfg.Verification.Timeout)
	}
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	t.Setenv("DESCRIPTOR_LENGTH", "-1")
	t.Setenv("MATCH_THRESHOLD", "abc")
	t.Setenv("POLL_INTERVAL_MS", "-20")

	cfg := Load()

	if cfg.Engine.DescriptorLength != 128 {
		t.Errorf("expected default descriptor length for negative input, got %d", cfg.Engine.DescriptorLength)
	}
	if cfg.Verification.Threshold != 0.6 {
		t.Errorf("expected default threshold for invalid input, got %f", cfg.Verification.Threshold)
	}
	if cfg.Verification.PollInterval != 100*time.Millisecond {
		t.Errorf("expected default poll interval for negative input, got %v", cfg.Verification.PollInterval)
	}
}
