package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// STT engines accepted by PITCH_STT_ENGINE.
const (
	EngineDeepgram = "deepgram"
	EngineWhisper  = "whisper"
	EngineNone     = "none"
)

// Views accepted by PITCH_VIEW.
const (
	ViewTUI     = "tui"
	ViewConsole = "console"
)

type ClientConfig struct {
	BaseURL        string
	WSPath         string
	ReconnectDelay time.Duration
	CaptureGrace   time.Duration
	Locale         string
	STTEngine      string
	DeepgramAPIKey string
	OpenAIAPIKey   string
	WhisperModel   string
	SampleRate     int
	MaxUtterance   time.Duration
	SilenceWindow  time.Duration
	View           string
	Mute           bool
	LogLevel       string
	LogJSON        bool
	LogFile        string
}

type SimulatorConfig struct {
	Addr           string
	AvatarImageURL string
	AudioFile      string
	LogLevel       string
	LogJSON        bool
}

// LoadEnv reads a .env file if present. A missing file is not an error.
func LoadEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "load .env")
	}
	return nil
}

func LoadClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:        getenvDefault("PITCH_BASE_URL", "http://localhost:8000"),
		WSPath:         getenvDefault("PITCH_WS_PATH", "/ws"),
		ReconnectDelay: time.Duration(getenvIntDefault("PITCH_RECONNECT_DELAY_MS", 2000)) * time.Millisecond,
		CaptureGrace:   time.Duration(getenvIntDefault("PITCH_CAPTURE_GRACE_MS", 100)) * time.Millisecond,
		Locale:         getenvDefault("PITCH_LOCALE", "en-US"),
		STTEngine:      strings.ToLower(getenvDefault("PITCH_STT_ENGINE", EngineDeepgram)),
		DeepgramAPIKey: os.Getenv("DEEPGRAM_API_KEY"),
		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
		WhisperModel:   getenvDefault("PITCH_WHISPER_MODEL", "whisper-1"),
		SampleRate:     getenvIntDefault("PITCH_SAMPLE_RATE", 16000),
		MaxUtterance:   time.Duration(getenvIntDefault("PITCH_MAX_UTTERANCE_SECONDS", 30)) * time.Second,
		SilenceWindow:  time.Duration(getenvIntDefault("PITCH_SILENCE_MS", 1200)) * time.Millisecond,
		View:           strings.ToLower(getenvDefault("PITCH_VIEW", ViewTUI)),
		Mute:           getenvBoolDefault("PITCH_MUTE", false),
		LogLevel:       getenvDefault("PITCH_LOG_LEVEL", "info"),
		LogJSON:        getenvBoolDefault("PITCH_LOG_JSON", false),
		LogFile:        getenvDefault("PITCH_LOG_FILE", "pitch-client.log"),
	}
}

func LoadSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		Addr:           getenvDefault("PITCH_SIM_ADDR", ":8000"),
		AvatarImageURL: getenvDefault("PITCH_AVATAR_IMAGE_URL", "https://i.imgur.com/vP1dRIg.png"),
		AudioFile:      os.Getenv("PITCH_SIM_AUDIO_FILE"),
		LogLevel:       getenvDefault("PITCH_LOG_LEVEL", "info"),
		LogJSON:        getenvBoolDefault("PITCH_LOG_JSON", false),
	}
}

// Validate returns an error listing every invalid value.
func (c ClientConfig) Validate() error {
	var problems []string

	if _, err := Endpoint(c.BaseURL, c.WSPath); err != nil {
		problems = append(problems, err.Error())
	}
	if c.ReconnectDelay <= 0 {
		problems = append(problems, fmt.Sprintf("reconnect delay must be positive, got %s", c.ReconnectDelay))
	}
	if c.CaptureGrace < 0 {
		problems = append(problems, fmt.Sprintf("capture grace must not be negative, got %s", c.CaptureGrace))
	}
	switch c.STTEngine {
	case EngineDeepgram, EngineWhisper, EngineNone:
	default:
		problems = append(problems, fmt.Sprintf("stt engine must be deepgram, whisper or none, got %q", c.STTEngine))
	}
	switch c.View {
	case ViewTUI, ViewConsole:
	default:
		problems = append(problems, fmt.Sprintf("view must be tui or console, got %q", c.View))
	}
	if c.SampleRate < 8000 || c.SampleRate > 48000 {
		problems = append(problems, fmt.Sprintf("sample rate must be 8000-48000, got %d", c.SampleRate))
	}

	if len(problems) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Endpoint derives the agent socket URL from the page origin: the scheme is
// wss when the origin is https and ws otherwise, on the same host and port.
func Endpoint(baseURL, path string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", errors.Wrapf(err, "invalid base url %q", baseURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base url %q has no host", baseURL)
	}

	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("base url %q must use http or https", baseURL)
	}

	if path == "" {
		path = "/ws"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = path
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

func getenvDefault(key, val string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return val
}

func getenvIntDefault(key string, val int) int {
	v := os.Getenv(key)
	if v == "" {
		return val
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return val
	}
	return n
}

func getenvBoolDefault(key string, val bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return val
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return val
	}
	return b
}
