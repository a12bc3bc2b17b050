package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/wasl-gate/internal/constants"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Broker       BrokerConfig
	Records      RecordsConfig
	Engine       EngineConfig
	Camera       CameraConfig
	Verification VerificationConfig
	RTC          RTCConfig
	Log          LogConfig
}

type BrokerConfig struct {
	URL string // meeting broker base URL (defaults to http://localhost:3014)
}

type RecordsConfig struct {
	URL string // record store base URL (defaults to http://localhost:3004)
}

type EngineConfig struct {
	URL              string   // detection engine URL (defaults to http://localhost:8000)
	ModelBaseURI     string   `yaml:"model_base_uri"`
	Models           []string `yaml:"models"`
	DescriptorLength int      // expected descriptor length (default 128)
}

type CameraConfig struct {
	Device string // V4L2 device for local verification (defaults to /dev/video0)
	Width  int
	Height int
}

type VerificationConfig struct {
	Threshold    float64       // match iff distance < Threshold
	PollInterval time.Duration // loop tick interval
	GracePeriod  time.Duration // delay between verified and entering the call
	Timeout      time.Duration // 0 means the attempt polls until match, error or unmount
}

type RTCConfig struct {
	SignalURL            string        // real-time SDK signaling websocket URL
	ICEServers           []ICEServer   `yaml:"ice_servers"`
	ICECandidatePoolSize int           `yaml:"ice_candidate_pool_size"`
	MediaDefaults        MediaDefaults `yaml:"media_defaults"`
	Modules              Modules       `yaml:"modules"`
}

type ICEServer struct {
	URLs []string `yaml:"urls" json:"urls"`
}

type MediaDefaults struct {
	Audio bool `yaml:"audio" json:"audio"`
	Video bool `yaml:"video" json:"video"`
}

type Modules struct {
	Audio        bool `yaml:"audio" json:"audio"`
	Video        bool `yaml:"video" json:"video"`
	ScreenShare  bool `yaml:"screen_share" json:"screenShare"`
	Chat         bool `yaml:"chat" json:"chat"`
	Polls        bool `yaml:"polls" json:"polls"`
	Participants bool `yaml:"participants" json:"participants"`
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

// defaults mirrors the layout of defaults.yaml.
type defaults struct {
	Engine EngineConfig `yaml:"engine"`
	RTC    RTCConfig    `yaml:"rtc"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a positive float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envMillis reads a millisecond count from the environment as a duration.
// Zero is accepted so optional timeouts can be switched off explicitly.
func envMillis(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return time.Duration(n) * time.Millisecond
	}
	return defaultVal
}

// envString returns the env var or the default when it is unset or empty.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList splits a comma-separated env var, falling back to the default.
func envList(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	var out []string
	for item := range strings.SplitSeq(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

func Load() *Config {
	var def defaults
	if err := yaml.Unmarshal(defaultsYAML, &def); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	return &Config{
		Broker: BrokerConfig{
			URL: envString("MEETING_BROKER_URL", "http://localhost:3014"),
		},
		Records: RecordsConfig{
			URL: envString("RECORDS_URL", "http://localhost:3004"),
		},
		Engine: EngineConfig{
			URL:              envString("ENGINE_URL", "http://localhost:8000"),
			ModelBaseURI:     envString("ENGINE_MODEL_URI", def.Engine.ModelBaseURI),
			Models:           envList("ENGINE_MODELS", def.Engine.Models),
			DescriptorLength: envInt("DESCRIPTOR_LENGTH", constants.DescriptorLength),
		},
		Camera: CameraConfig{
			Device: envString("CAMERA_DEVICE", "/dev/video0"),
			Width:  envInt("CAMERA_WIDTH", constants.CameraWidth),
			Height: envInt("CAMERA_HEIGHT", constants.CameraHeight),
		},
		Verification: VerificationConfig{
			Threshold:    envFloat("MATCH_THRESHOLD", constants.MatchThreshold),
			PollInterval: envMillis("POLL_INTERVAL_MS", constants.PollInterval),
			GracePeriod:  envMillis("GRACE_PERIOD_MS", constants.VerifiedGracePeriod),
			Timeout:      envMillis("VERIFY_TIMEOUT_MS", 0),
		},
		RTC: RTCConfig{
			SignalURL:            os.Getenv("RTC_SIGNAL_URL"),
			ICEServers:           def.RTC.ICEServers,
			ICECandidatePoolSize: envInt("RTC_ICE_CANDIDATE_POOL_SIZE", def.RTC.ICECandidatePoolSize),
			MediaDefaults:        def.RTC.MediaDefaults,
			Modules:              def.RTC.Modules,
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "text"),
		},
	}
}
