package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/satriahrh/sahayak/adapters/audio"
	"github.com/satriahrh/sahayak/adapters/credential"
	"github.com/satriahrh/sahayak/adapters/gemini"
	"github.com/satriahrh/sahayak/domain/entities"
	"github.com/satriahrh/sahayak/internal/capture"
	"github.com/satriahrh/sahayak/internal/config"
	"github.com/satriahrh/sahayak/internal/live"
	"github.com/satriahrh/sahayak/internal/metrics"
	"github.com/satriahrh/sahayak/internal/playback"
)

// loadConfig loads the configuration and builds the logger from it.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return cfg, logger, nil
}

// components are the adapters shared by every entry point
type components struct {
	credentials *credential.Store
	clients     *gemini.Clients
	manager     *live.Manager
}

// buildComponents initializes the adapters and the session manager.
// reg may be nil, in which case no metrics are recorded.
func buildComponents(cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer, publish live.Publisher) (*components, error) {
	overridePath := cfg.Credential.OverridePath
	if overridePath == "" {
		overridePath = credential.DefaultPath()
	}
	creds, err := credential.NewStore(overridePath, logger)
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if reg != nil {
		m = metrics.NewMetrics(reg)
	}

	clients := gemini.NewClients(logger)
	mic := audio.NewFFmpegMicrophone(audio.MicrophoneConfig{
		FFmpegPath: cfg.Audio.FFmpegPath,
		Format:     cfg.Audio.MicFormat,
		Device:     cfg.Audio.MicDevice,
	}, logger)
	output := audio.NewOutput(audio.OutputConfig{
		FFplayPath: cfg.Audio.FFplayPath,
		Disabled:   cfg.Audio.NoSpeaker,
	}, logger)

	captureCfg := capture.DefaultConfig()
	captureCfg.SampleRate = cfg.Audio.CaptureSampleRate
	captureCfg.FrameSize = cfg.Audio.CaptureFrameSize

	playbackCfg := playback.DefaultConfig()
	playbackCfg.SampleRate = cfg.Audio.PlaybackSampleRate

	opts := []live.Option{live.WithConfig(live.Config{
		Model:    cfg.Live.Model,
		Capture:  captureCfg,
		Playback: playbackCfg,
		Profile:  entities.Profile{UserName: cfg.Live.UserName, Voice: cfg.Live.Voice},
	})}
	if publish != nil {
		opts = append(opts, live.WithPublisher(publish))
	}

	manager := live.NewManager(live.Dependencies{
		Credentials: creds,
		Microphone:  mic,
		Output:      output,
		Connector:   gemini.NewLiveConnector(clients, logger),
		Logger:      logger,
		Metrics:     m,
	}, opts...)

	return &components{credentials: creds, clients: clients, manager: manager}, nil
}

func (c *components) chatGenerator(cfg *config.Config, logger *zap.Logger) (*gemini.ChatGenerator, error) {
	return gemini.NewChatGenerator(c.clients, gemini.ChatConfig{
		Model:          cfg.Chat.Model,
		Temperature:    cfg.Chat.Temperature,
		TimeoutSeconds: cfg.Chat.TimeoutSeconds,
	}, logger)
}
