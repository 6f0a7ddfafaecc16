package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

const appName = "whisper-listen"

type Config struct {
	LogLevel string         `yaml:"log_level"`
	Audio    AudioConfig    `yaml:"audio"`
	VAD      VADConfig      `yaml:"vad"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Whisper  WhisperConfig  `yaml:"whisper"`
	Store    StoreConfig    `yaml:"store"`
	HTTP     HTTPConfig     `yaml:"http"`
}

type AudioConfig struct {
	DeviceID   string `yaml:"device_id"`
	SampleRate int    `yaml:"sample_rate"`
	FrameSize  int    `yaml:"frame_size"` // samples per frame, 512 ≈ 32 ms at 16 kHz
	Channels   int    `yaml:"channels"`
}

type VADConfig struct {
	SpeechThreshold    float32 `yaml:"speech_threshold"`
	SilenceDurationSec float64 `yaml:"silence_duration_sec"`
	MaxSegmentSec      float64 `yaml:"max_segment_sec"`
	PreBufferSec       float64 `yaml:"pre_buffer_sec"`
	MinSegmentSec      float64 `yaml:"min_segment_sec"`
	// RMS levels mapped to probability 0 and 1 by the energy classifier
	EnergyFloor   float64 `yaml:"energy_floor"`
	EnergyCeiling float64 `yaml:"energy_ceiling"`
}

type PipelineConfig struct {
	QueueSize       int           `yaml:"queue_size"`
	PopTimeout      time.Duration `yaml:"pop_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type WhisperConfig struct {
	Backend  string `yaml:"backend"`  // "native" or "openai"
	Model    string `yaml:"model"`    // "base.en", "small", "whisper-1", etc.
	Language string `yaml:"language"` // "auto", "en", etc.
	Threads  int    `yaml:"threads"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
}

type StoreConfig struct {
	Dir string `yaml:"dir"`
}

// HTTPConfig controls the optional status listener started by listen.
type HTTPConfig struct {
	Addr    string `yaml:"addr"`    // empty disables the listener
	Metrics bool   `yaml:"metrics"` // serve Prometheus metrics on /metrics
	Live    bool   `yaml:"live"`    // stream transcriptions over WebSocket on /live
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			DeviceID:   "",
			SampleRate: 16000,
			FrameSize:  512,
			Channels:   1,
		},
		VAD: VADConfig{
			SpeechThreshold:    0.5,
			SilenceDurationSec: 1.5,
			MaxSegmentSec:      60,
			PreBufferSec:       0.3,
			MinSegmentSec:      0.5,
			EnergyFloor:        0.005,
			EnergyCeiling:      0.05,
		},
		Pipeline: PipelineConfig{
			QueueSize:       10,
			PopTimeout:      time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Whisper: WhisperConfig{
			Backend:  "native",
			Model:    "base.en",
			Language: "auto",
			Threads:  0, // Auto-detect
		},
		Store: StoreConfig{
			Dir: filepath.Join(dataDir(), "history"),
		},
		HTTP: HTTPConfig{
			Metrics: true,
			Live:    true,
		},
	}
}

// Load reads the config from disk or returns defaults
func Load() (*Config, error) {
	return LoadFrom(Path())
}

// LoadFrom overlays the YAML file at path onto the defaults. A missing file
// is not an error.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	return c.SaveTo(Path())
}

// SaveTo writes the config as YAML to path, creating parent directories.
func (c *Config) SaveTo(path string) error {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate reports every incoherent value at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", c.LogLevel))
	}
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate))
	}
	if c.Audio.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size must be positive, got %d", c.Audio.FrameSize))
	}
	if c.VAD.SpeechThreshold < 0 || c.VAD.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad.speech_threshold must be within [0, 1], got %g", c.VAD.SpeechThreshold))
	}
	if c.VAD.SilenceDurationSec <= 0 {
		errs = append(errs, fmt.Errorf("vad.silence_duration_sec must be positive, got %g", c.VAD.SilenceDurationSec))
	}
	if c.VAD.MaxSegmentSec <= 0 {
		errs = append(errs, fmt.Errorf("vad.max_segment_sec must be positive, got %g", c.VAD.MaxSegmentSec))
	}
	if c.VAD.PreBufferSec < 0 {
		errs = append(errs, fmt.Errorf("vad.pre_buffer_sec must not be negative, got %g", c.VAD.PreBufferSec))
	}
	if c.VAD.EnergyCeiling <= c.VAD.EnergyFloor {
		errs = append(errs, fmt.Errorf("vad.energy_ceiling (%g) must exceed vad.energy_floor (%g)", c.VAD.EnergyCeiling, c.VAD.EnergyFloor))
	}
	if c.Pipeline.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("pipeline.queue_size must not be negative, got %d", c.Pipeline.QueueSize))
	}
	if c.Pipeline.PopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.pop_timeout must be positive, got %v", c.Pipeline.PopTimeout))
	}
	switch c.Whisper.Backend {
	case "native", "openai":
	default:
		errs = append(errs, fmt.Errorf("whisper.backend %q is invalid; valid values: native, openai", c.Whisper.Backend))
	}

	return errors.Join(errs...)
}

// LanguageHint returns the configured language, or "" for auto-detection.
func (w WhisperConfig) LanguageHint() string {
	if w.Language == "auto" {
		return ""
	}
	return w.Language
}

// Path returns the platform-specific config file path
func Path() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, appName, "config.yaml")
}

func dataDir() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/share"
		}
	}

	return filepath.Join(base, appName)
}

// ModelsPath returns the platform-specific models directory path
func ModelsPath() string {
	return filepath.Join(dataDir(), "models")
}
