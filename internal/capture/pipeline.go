// Package capture reads fixed-size microphone frames, encodes them and
// hands them to a sink as fast as the device produces them.
package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/satriahrh/sahayak/domain"
	"github.com/satriahrh/sahayak/domain/entities"
	"github.com/satriahrh/sahayak/domain/repositories"
	"github.com/satriahrh/sahayak/internal/pcm"
)

const (
	DefaultSampleRate = 16000
	DefaultFrameSize  = 4096
)

// Config controls the requested microphone stream
type Config struct {
	SampleRate       int
	FrameSize        int
	EchoCancellation bool
	NoiseSuppression bool
}

// DefaultConfig returns 16 kHz mono, 4096-sample frames, with echo
// cancellation and noise suppression requested.
func DefaultConfig() Config {
	return Config{
		SampleRate:       DefaultSampleRate,
		FrameSize:        DefaultFrameSize,
		EchoCancellation: true,
		NoiseSuppression: true,
	}
}

// Sink receives every encoded frame. It must not block for long; the
// pipeline does not buffer beyond the current frame.
type Sink func(chunk entities.AudioChunk)

// Pipeline owns one acquired microphone track
type Pipeline struct {
	cfg    Config
	track  repositories.InputTrack
	logger *zap.Logger

	mu      sync.Mutex
	sink    Sink
	started bool
	stopped bool
	done    chan struct{}

	frames atomic.Int64
}

// Open acquires the microphone. Failures are reported as domain.ErrDevice.
func Open(ctx context.Context, mic repositories.Microphone, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = DefaultFrameSize
	}

	track, err := mic.Open(ctx, repositories.MicrophoneConstraints{
		SampleRate:       cfg.SampleRate,
		Channels:         1,
		EchoCancellation: cfg.EchoCancellation,
		NoiseSuppression: cfg.NoiseSuppression,
	})
	if err != nil {
		return nil, domain.NewDeviceError(err)
	}

	logger.Info("Microphone acquired",
		zap.Int("sampleRate", cfg.SampleRate),
		zap.Int("frameSize", cfg.FrameSize))

	return &Pipeline{
		cfg:    cfg,
		track:  track,
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

// Start begins delivering frames to sink. onError is called at most once
// if the device fails while running; it is not called after Stop.
func (p *Pipeline) Start(sink Sink, onError func(error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return errors.New("capture pipeline stopped")
	}
	if p.started {
		return errors.New("capture pipeline already started")
	}
	p.sink = sink
	p.started = true

	go p.run(onError)
	return nil
}

func (p *Pipeline) run(onError func(error)) {
	defer close(p.done)

	frame := make([]float32, p.cfg.FrameSize)
	for {
		if err := p.track.ReadFrame(frame); err != nil {
			p.mu.Lock()
			stopped := p.stopped
			p.mu.Unlock()
			if !stopped {
				p.logger.Error("Microphone read failed", zap.Error(err))
				if onError != nil {
					go onError(domain.NewDeviceError(err))
				}
			}
			return
		}

		chunk := entities.AudioChunk{
			Data:       pcm.EncodeFrame(frame),
			SampleRate: p.cfg.SampleRate,
			Channels:   1,
		}

		p.mu.Lock()
		sink := p.sink
		p.mu.Unlock()
		if sink == nil {
			return
		}

		p.frames.Add(1)
		sink(chunk)
	}
}

// SetMuted disables or enables the track. A muted track keeps producing
// silent frames so the remote side still sees a live stream.
func (p *Pipeline) SetMuted(muted bool) {
	p.track.SetEnabled(!muted)
	p.logger.Debug("Microphone mute toggled", zap.Bool("muted", muted))
}

// Muted reports whether the track is disabled.
func (p *Pipeline) Muted() bool {
	return !p.track.Enabled()
}

// Done is closed once the capture loop has exited.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// FramesProduced returns the number of frames handed to the sink.
func (p *Pipeline) FramesProduced() int64 {
	return p.frames.Load()
}

// Stop releases the track and detaches the sink. Safe to call more than once.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.sink = nil
	if !p.started {
		close(p.done)
	}
	p.mu.Unlock()

	if err := p.track.Stop(); err != nil {
		p.logger.Warn("Failed to stop microphone track", zap.Error(err))
	}
	p.logger.Info("Microphone released", zap.Int64("frames", p.frames.Load()))
}
