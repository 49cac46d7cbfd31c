// Package audio implements the microphone and speaker ports with ffmpeg
// and ffplay subprocesses.
package audio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/sahayak/domain/repositories"
)

const probeTimeout = 5 * time.Second

// MicrophoneConfig selects the ffmpeg input device
type MicrophoneConfig struct {
	FFmpegPath string `yaml:"ffmpeg_path"`
	Format     string `yaml:"format"`
	Device     string `yaml:"device"`
}

// DefaultMicrophoneConfig returns the default input of the current platform.
func DefaultMicrophoneConfig() MicrophoneConfig {
	cfg := MicrophoneConfig{FFmpegPath: "ffmpeg", Format: "pulse", Device: "default"}
	if runtime.GOOS == "darwin" {
		cfg.Format = "avfoundation"
		cfg.Device = ":0"
	}
	return cfg
}

// FFmpegMicrophone captures float samples from an ffmpeg child process.
type FFmpegMicrophone struct {
	cfg    MicrophoneConfig
	logger *zap.Logger
}

// NewFFmpegMicrophone creates a microphone; nothing is started until Open.
func NewFFmpegMicrophone(cfg MicrophoneConfig, logger *zap.Logger) *FFmpegMicrophone {
	def := DefaultMicrophoneConfig()
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = def.FFmpegPath
	}
	if cfg.Format == "" {
		cfg.Format = def.Format
	}
	if cfg.Device == "" {
		cfg.Device = def.Device
	}
	return &FFmpegMicrophone{cfg: cfg, logger: logger}
}

func captureArgs(cfg MicrophoneConfig, c repositories.MicrophoneConstraints) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", cfg.Format, "-i", cfg.Device,
	}
	if c.NoiseSuppression {
		args = append(args, "-af", "afftdn")
	}
	return append(args,
		"-ac", strconv.Itoa(c.Channels),
		"-ar", strconv.Itoa(c.SampleRate),
		"-f", "f32le", "-",
	)
}

// Open starts ffmpeg and waits until the first samples arrive, so a
// missing or denied device fails here rather than on the first read.
func (m *FFmpegMicrophone) Open(ctx context.Context, constraints repositories.MicrophoneConstraints) (repositories.InputTrack, error) {
	if constraints.Channels <= 0 {
		constraints.Channels = 1
	}
	if _, err := exec.LookPath(m.cfg.FFmpegPath); err != nil {
		return nil, errors.New("ffmpeg is required for microphone capture (install ffmpeg and ensure it is in PATH)")
	}

	args := captureArgs(m.cfg, constraints)
	cmd := exec.Command(m.cfg.FFmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg mic capture: %w", err)
	}

	track := &ffmpegTrack{
		cmd:      cmd,
		reader:   bufio.NewReaderSize(stdout, 64*1024),
		channels: constraints.Channels,
	}
	track.enabled.Store(true)

	if err := track.probe(ctx); err != nil {
		track.Stop()
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}

	if constraints.EchoCancellation {
		m.logger.Debug("Echo cancellation is not available with ffmpeg capture")
	}
	m.logger.Info("Microphone opened",
		zap.String("format", m.cfg.Format),
		zap.String("device", m.cfg.Device),
		zap.Int("sampleRate", constraints.SampleRate))
	return track, nil
}

type ffmpegTrack struct {
	cmd      *exec.Cmd
	reader   *bufio.Reader
	channels int
	buf      []byte
	enabled  atomic.Bool
	stopOnce sync.Once
}

func (t *ffmpegTrack) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		_, err := t.reader.Peek(4)
		result <- err
	}()

	select {
	case err := <-result:
		if err != nil {
			return errors.New("microphone produced no audio")
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for microphone: %w", ctx.Err())
	}
}

// ReadFrame reads len(frame) mono samples. A disabled track still reads
// from the device and returns silence.
func (t *ffmpegTrack) ReadFrame(frame []float32) error {
	n := len(frame) * 4 * t.channels
	if cap(t.buf) < n {
		t.buf = make([]byte, n)
	}
	buf := t.buf[:n]

	if _, err := io.ReadFull(t.reader, buf); err != nil {
		return err
	}

	if !t.enabled.Load() {
		for i := range frame {
			frame[i] = 0
		}
		return nil
	}

	stride := 4 * t.channels
	for i := range frame {
		frame[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*stride:]))
	}
	return nil
}

func (t *ffmpegTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

func (t *ffmpegTrack) Enabled() bool { return t.enabled.Load() }

func (t *ffmpegTrack) Stop() error {
	t.stopOnce.Do(func() {
		if t.cmd != nil && t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
			_ = t.cmd.Wait()
		}
	})
	return nil
}

// lockedBuffer collects ffmpeg's stderr while the process runs.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len() > 4096 {
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
