package handlers

import (
	"net/http"

	"github.com/kozaktomas/wasl-gate/internal/config"
)

// ConfigHandler handles configuration endpoints
type ConfigHandler struct {
	config *config.Config
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
	}
}

// ConfigResponse is what the browser client needs to set up its views.
type ConfigResponse struct {
	MatchThreshold   float64              `json:"match_threshold"`
	PollIntervalMs   int64                `json:"poll_interval_ms"`
	GracePeriodMs    int64                `json:"grace_period_ms"`
	DescriptorLength int                  `json:"descriptor_length"`
	Camera           CameraInfo           `json:"camera"`
	Models           []string             `json:"models"`
	ICEServers       []config.ICEServer   `json:"ice_servers"`
	MediaDefaults    config.MediaDefaults `json:"media_defaults"`
	Modules          config.Modules       `json:"modules"`
}

// CameraInfo is the requested capture size.
type CameraInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Get returns the client configuration
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	cfg := h.config
	respondJSON(w, http.StatusOK, ConfigResponse{
		MatchThreshold:   cfg.Verification.Threshold,
		PollIntervalMs:   cfg.Verification.PollInterval.Milliseconds(),
		GracePeriodMs:    cfg.Verification.GracePeriod.Milliseconds(),
		DescriptorLength: cfg.Engine.DescriptorLength,
		Camera:           CameraInfo{Width: cfg.Camera.Width, Height: cfg.Camera.Height},
		Models:           cfg.Engine.Models,
		ICEServers:       cfg.RTC.ICEServers,
		MediaDefaults:    cfg.RTC.MediaDefaults,
		Modules:          cfg.RTC.Modules,
	})
}
