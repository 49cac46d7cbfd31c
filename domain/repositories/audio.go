package repositories

import (
	"context"

	"github.com/satriahrh/sahayak/domain/entities"
)

// MicrophoneConstraints describes the capture stream requested from the device.
type MicrophoneConstraints struct {
	SampleRate       int  `json:"sample_rate"`
	Channels         int  `json:"channels"`
	EchoCancellation bool `json:"echo_cancellation"`
	NoiseSuppression bool `json:"noise_suppression"`
}

// Microphone abstracts the default audio input device
type Microphone interface {
	// Open acquires the device. It may block on a permission prompt.
	Open(ctx context.Context, constraints MicrophoneConstraints) (InputTrack, error)
}

// InputTrack is an acquired microphone stream of float samples in [-1, 1].
type InputTrack interface {
	// ReadFrame fills frame completely or returns an error.
	ReadFrame(frame []float32) error
	// SetEnabled toggles the track. A disabled track keeps producing
	// frames, filled with silence.
	SetEnabled(enabled bool)
	Enabled() bool
	// Stop releases the device. Safe to call more than once.
	Stop() error
}

// AudioOutput abstracts the default speaker
type AudioOutput interface {
	// NewContext opens an output context running at the given rate.
	NewContext(ctx context.Context, sampleRate, channels int) (OutputContext, error)
}

// OutputContextState mirrors the lifecycle of an output context.
type OutputContextState string

const (
	OutputRunning   OutputContextState = "running"
	OutputSuspended OutputContextState = "suspended"
	OutputClosed    OutputContextState = "closed"
)

// OutputContext is a clocked speaker timeline on which buffers are scheduled.
type OutputContext interface {
	SampleRate() int
	// CurrentTime is the context clock in seconds.
	CurrentTime() float64
	State() OutputContextState
	Resume(ctx context.Context) error
	// Play schedules buf to start at the given context time.
	Play(buf entities.AudioBuffer, at float64) (PlaybackSource, error)
	// Close stops every source and releases the device. Safe to call more than once.
	Close() error
}

// PlaybackSource is one scheduled buffer.
type PlaybackSource interface {
	// Stop silences the source; it then counts as ended. Safe to call more than once.
	Stop()
	// Done is closed when the source finished playing or was stopped.
	Done() <-chan struct{}
}
