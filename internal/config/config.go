// Package config loads settings from defaults, an optional YAML file, a
// .env file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/satriahrh/sahayak/domain/entities"
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Live       LiveConfig       `yaml:"live"`
	Chat       ChatConfig       `yaml:"chat"`
	Audio      AudioConfig      `yaml:"audio"`
	Auth       AuthConfig       `yaml:"auth"`
	Credential CredentialConfig `yaml:"credential"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LiveConfig contains live session configuration
type LiveConfig struct {
	Model    string `yaml:"model"`
	Voice    string `yaml:"voice"`
	UserName string `yaml:"user_name"`
}

// ChatConfig contains text chat configuration
type ChatConfig struct {
	Model          string  `yaml:"model"`
	Temperature    float32 `yaml:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// AudioConfig contains device and format parameters
type AudioConfig struct {
	CaptureSampleRate  int    `yaml:"capture_sample_rate"`
	CaptureFrameSize   int    `yaml:"capture_frame_size"`
	PlaybackSampleRate int    `yaml:"playback_sample_rate"`
	MicFormat          string `yaml:"mic_format"`
	MicDevice          string `yaml:"mic_device"`
	FFmpegPath         string `yaml:"ffmpeg_path"`
	FFplayPath         string `yaml:"ffplay_path"`
	NoSpeaker          bool   `yaml:"no_speaker"`
}

// AuthConfig contains UI token configuration
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// CredentialConfig locates the API key override file
type CredentialConfig struct {
	OverridePath string `yaml:"override_path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080, ShutdownTimeout: 10 * time.Second},
		Live: LiveConfig{
			Model: "gemini-2.5-flash-native-audio-preview-12-2025",
			Voice: entities.DefaultVoice,
		},
		Chat: ChatConfig{
			Model:          "gemini-3-pro-preview",
			Temperature:    0.8,
			TimeoutSeconds: 60,
		},
		Audio: AudioConfig{
			CaptureSampleRate:  16000,
			CaptureFrameSize:   4096,
			PlaybackSampleRate: 24000,
		},
		Auth:    AuthConfig{TokenTTL: 7 * 24 * time.Hour},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration. path may be empty; a missing .env file is
// not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("SAHAYAK_NO_SPEAKER"); ok && v != "" {
		noSpeaker, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid SAHAYAK_NO_SPEAKER %q: %w", v, err)
		}
		c.Audio.NoSpeaker = noSpeaker
	}

	str("SAHAYAK_MODEL", &c.Live.Model)
	str("SAHAYAK_VOICE", &c.Live.Voice)
	str("SAHAYAK_USER_NAME", &c.Live.UserName)
	str("SAHAYAK_JWT_SECRET", &c.Auth.JWTSecret)
	str("SAHAYAK_LOG_LEVEL", &c.Logging.Level)
	str("SAHAYAK_MIC_FORMAT", &c.Audio.MicFormat)
	str("SAHAYAK_MIC_DEVICE", &c.Audio.MicDevice)
	return nil
}

// Validate performs validation of the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if err := c.Live.Validate(); err != nil {
		return fmt.Errorf("live config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if c.Chat.Temperature < 0 || c.Chat.Temperature > 2 {
		return fmt.Errorf("chat temperature must be between 0 and 2, got %f", c.Chat.Temperature)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates live session configuration
func (l *LiveConfig) Validate() error {
	if l.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	return entities.Profile{UserName: l.UserName, Voice: l.Voice}.Normalize().Validate()
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.CaptureSampleRate <= 0 {
		return fmt.Errorf("capture_sample_rate must be positive, got %d", a.CaptureSampleRate)
	}
	if a.CaptureFrameSize <= 0 {
		return fmt.Errorf("capture_frame_size must be positive, got %d", a.CaptureFrameSize)
	}
	if a.PlaybackSampleRate <= 0 {
		return fmt.Errorf("playback_sample_rate must be positive, got %d", a.PlaybackSampleRate)
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", l.Level)
	}
	switch l.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format %q", l.Format)
	}
	return nil
}
