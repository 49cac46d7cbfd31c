package config

import (
	"os"
	"path/filepath"
	"testing"
)

func lookupFrom(values map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := values[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}

	if cfg.Audio.CaptureSampleRate != 16000 || cfg.Audio.CaptureFrameSize != 4096 || cfg.Audio.PlaybackSampleRate != 24000 {
		t.Errorf("Unexpected audio defaults %+v", cfg.Audio)
	}
	if cfg.Live.Voice != "Kore" || cfg.Chat.Temperature != 0.8 {
		t.Errorf("Unexpected defaults %+v %+v", cfg.Live, cfg.Chat)
	}
}

func clearEnv(t *testing.T) {
	for _, key := range []string{"PORT", "SAHAYAK_MODEL", "SAHAYAK_VOICE", "SAHAYAK_USER_NAME", "SAHAYAK_NO_SPEAKER", "SAHAYAK_LOG_LEVEL"} {
		t.Setenv(key, "")
	}
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "sahayak.yaml")
	os.WriteFile(path, []byte("server:\n  port: 9090\nlive:\n  voice: Puck\n  user_name: Asha\naudio:\n  no_speaker: true\n"), 0o600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Live.Voice != "Puck" || cfg.Live.UserName != "Asha" || !cfg.Audio.NoSpeaker {
		t.Errorf("YAML values not applied: %+v", cfg)
	}
	if cfg.Audio.CaptureFrameSize != 4096 {
		t.Error("Unset YAML values should keep defaults")
	}
}

func TestLoadRejectsBadFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("live:\n  voice: Robot\n"), 0o600)
	if _, err := Load(path); err == nil {
		t.Error("Expected validation error for unknown voice")
	}
}

func TestEnvOverrides(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(lookupFrom(map[string]string{
		"PORT":               "3000",
		"SAHAYAK_VOICE":      " Fenrir ",
		"SAHAYAK_NO_SPEAKER": "true",
		"SAHAYAK_LOG_LEVEL":  "debug",
		"SAHAYAK_MODEL":      "",
	}))
	if err != nil {
		t.Fatalf("applyEnv failed: %v", err)
	}

	if cfg.Server.Port != 3000 || cfg.Live.Voice != "Fenrir" || !cfg.Audio.NoSpeaker || cfg.Logging.Level != "debug" {
		t.Errorf("Overrides not applied: %+v", cfg)
	}
	if cfg.Live.Model == "" {
		t.Error("Empty env value should not clear the model")
	}

	if err := Default().applyEnv(lookupFrom(map[string]string{"PORT": "eighty"})); err == nil {
		t.Error("Expected error for invalid port")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"frame size", func(c *Config) { c.Audio.CaptureFrameSize = 0 }},
		{"playback rate", func(c *Config) { c.Audio.PlaybackSampleRate = -1 }},
		{"model", func(c *Config) { c.Live.Model = "" }},
		{"temperature", func(c *Config) { c.Chat.Temperature = 3 }},
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := NewLogger(LoggingConfig{Level: "debug", Format: "console"}); err != nil {
		t.Errorf("NewLogger failed: %v", err)
	}
	if _, err := NewLogger(LoggingConfig{Level: "loud"}); err == nil {
		t.Error("Expected error for unknown level")
	}
}
