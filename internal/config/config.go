package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultEndpoint      = "http://localhost:8000/api/upload"
	DefaultField         = "file"
	defaultStatusTail    = 10
	defaultChunkBytes    = 16 * 1024
	defaultStateDirLinux = ".local/state/murmur"
	defaultConfigDir     = ".config/murmur"
)

// Config holds user configuration loaded from TOML.
type Config struct {
	Capture struct {
		Backend        string `toml:"backend"` // ffmpeg, portaudio
		DeviceName     string `toml:"device_name"`
		FFmpegPath     string `toml:"ffmpeg_path"`
		InputFormat    string `toml:"input_format"` // pulse, alsa, avfoundation, dshow
		ExtraArgs      string `toml:"extra_args"`
		Codec          string `toml:"codec"`
		BitrateKbps    int    `toml:"bitrate_kbps"`
		SampleRate     int    `toml:"sample_rate"`
		Channels       int    `toml:"channels"`
		FrameMS        int    `toml:"frame_ms"`
		ChunkBytes     int    `toml:"chunk_bytes"`
		StartTimeoutMS int    `toml:"start_timeout_ms"`
		StopTimeoutMS  int    `toml:"stop_timeout_ms"`
	} `toml:"capture"`

	VAD struct {
		Enabled        bool `toml:"enabled"`
		Aggressiveness int  `toml:"aggressiveness"`
		SilenceMS      int  `toml:"silence_ms"`
		MinSpeechMS    int  `toml:"min_speech_ms"`
	} `toml:"vad"`

	Upload struct {
		Provider     string `toml:"provider"` // endpoint, openai
		Endpoint     string `toml:"endpoint"`
		Field        string `toml:"field"`
		OpenAIModel  string `toml:"openai_model"`
		OpenAIAPIKey string `toml:"-"`
		QueueSize    int    `toml:"queue_size"`
	} `toml:"upload"`

	Hook struct {
		Command    string            `toml:"command"`
		Args       []string          `toml:"args"`
		Prefix     string            `toml:"prefix"`
		TimeoutSec float64           `toml:"timeout_sec"`
		Env        map[string]string `toml:"env"`
		RedactPII  bool              `toml:"redact_pii"`
	} `toml:"hook"`

	Logging struct {
		Level  string `toml:"level"`  // debug, info, warn, error
		Format string `toml:"format"` // text, json
		Stdout bool   `toml:"stdout"`
	} `toml:"logging"`

	Paths struct {
		StateDir       string `toml:"state_dir"`
		LogPath        string `toml:"log_path"`
		TranscriptPath string `toml:"transcript_path"`
		SocketPath     string `toml:"socket_path"`
		PidPath        string `toml:"pid_path"`
		EnvPath        string `toml:"env_path"`
		ConfigPath     string `toml:"-"`
	} `toml:"paths"`

	UI struct {
		StatusTail int `toml:"status_tail"`
	} `toml:"ui"`

	Metrics struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
	} `toml:"metrics"`

	Transcripts struct {
		Enabled bool `toml:"enabled"`
	} `toml:"transcripts"`
}

// Default returns Config populated with defaults.
func Default() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	stateDir := filepath.Join(home, defaultStateDirLinux)
	// macOS prefers ~/Library/Application Support/murmur for state/logs
	if isMac() {
		stateDir = filepath.Join(home, "Library", "Application Support", "murmur")
	}

	cfg := &Config{}

	cfg.Capture.Backend = "ffmpeg"
	cfg.Capture.FFmpegPath = "ffmpeg"
	cfg.Capture.InputFormat = defaultInputFormat()
	cfg.Capture.Codec = "libopus"
	cfg.Capture.BitrateKbps = 32
	cfg.Capture.SampleRate = 48000
	cfg.Capture.Channels = 1
	cfg.Capture.FrameMS = 20
	cfg.Capture.ChunkBytes = defaultChunkBytes
	cfg.Capture.StartTimeoutMS = 1500
	cfg.Capture.StopTimeoutMS = 5000

	cfg.VAD.Enabled = false
	cfg.VAD.Aggressiveness = 2
	cfg.VAD.SilenceMS = 2000
	cfg.VAD.MinSpeechMS = 300

	cfg.Upload.Provider = "endpoint"
	cfg.Upload.Endpoint = DefaultEndpoint
	cfg.Upload.Field = DefaultField
	cfg.Upload.OpenAIModel = "whisper-1"
	cfg.Upload.QueueSize = 4

	cfg.Hook.Args = []string{}
	cfg.Hook.TimeoutSec = 5
	cfg.Hook.Env = map[string]string{}

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	cfg.Paths.StateDir = stateDir
	cfg.Paths.LogPath = filepath.Join(stateDir, "murmur.log")
	cfg.Paths.TranscriptPath = filepath.Join(stateDir, "transcripts.log")
	cfg.Paths.SocketPath = filepath.Join(stateDir, "murmur.sock")
	cfg.Paths.PidPath = filepath.Join(stateDir, "murmur.pid")
	cfg.Paths.EnvPath = filepath.Join(home, defaultConfigDir, ".env")

	cfg.UI.StatusTail = defaultStatusTail

	cfg.Metrics.Enabled = false
	cfg.Metrics.Addr = "127.0.0.1:9318"

	cfg.Transcripts.Enabled = true

	return cfg, nil
}

// Load loads config from file, applying defaults.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if path == "" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, defaultConfigDir, "config.toml")
	}

	// Read if exists; otherwise write template.
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		if err := Save(cfg, path); err != nil {
			return nil, err
		}
	} else if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Paths.ConfigPath = path
	if err := loadDotEnv(cfg.Paths.EnvPath, ".env"); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Save writes cfg to path.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}

func isMac() bool {
	return runtime.GOOS == "darwin"
}

func defaultInputFormat() string {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation"
	case "windows":
		return "dshow"
	default:
		return "pulse"
	}
}

// MustStatePaths ensures state dirs exist.
func MustStatePaths(cfg *Config) error {
	for _, p := range []string{cfg.Paths.StateDir, filepath.Dir(cfg.Paths.LogPath), filepath.Dir(cfg.Paths.TranscriptPath)} {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(p, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// loadDotEnv loads the first env files that exist. Variables already set in
// the process environment win.
func loadDotEnv(paths ...string) error {
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MURMUR_ENDPOINT"); v != "" {
		cfg.Upload.Endpoint = v
	}
	if v := os.Getenv("MURMUR_UPLOAD_PROVIDER"); v != "" {
		cfg.Upload.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("MURMUR_CAPTURE_BACKEND"); v != "" {
		cfg.Capture.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("MURMUR_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
		cfg.Metrics.Enabled = true
	}
	if v := os.Getenv("MURMUR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MURMUR_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("MURMUR_TRANSCRIPTS_ENABLED"); v != "" {
		cfg.Transcripts.Enabled = v != "0" && strings.ToLower(v) != "false"
	}
	if v := os.Getenv("MURMUR_REDACT_PII"); v != "" {
		cfg.Hook.RedactPII = v != "0" && strings.ToLower(v) != "false"
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Upload.OpenAIAPIKey = v
	}
}

// StartTimeout is the capture start window as a duration.
func (c *Config) StartTimeout() time.Duration {
	return time.Duration(c.Capture.StartTimeoutMS) * time.Millisecond
}

// StopTimeout bounds how long a capture device may take to flush after stop.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Capture.StopTimeoutMS) * time.Millisecond
}
