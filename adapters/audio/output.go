package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/sahayak/domain/entities"
	"github.com/satriahrh/sahayak/domain/repositories"
)

const defaultTick = 20 * time.Millisecond

var errContextClosed = errors.New("output context closed")

// OutputConfig selects the speaker
type OutputConfig struct {
	FFplayPath string        `yaml:"ffplay_path"`
	Disabled   bool          `yaml:"disabled"`
	Tick       time.Duration `yaml:"tick"`
}

// Output opens mixer contexts that render to ffplay, or to nowhere when
// the speaker is disabled.
type Output struct {
	cfg    OutputConfig
	logger *zap.Logger
}

func NewOutput(cfg OutputConfig, logger *zap.Logger) *Output {
	if cfg.FFplayPath == "" {
		cfg.FFplayPath = "ffplay"
	}
	if cfg.Tick <= 0 {
		cfg.Tick = defaultTick
	}
	return &Output{cfg: cfg, logger: logger}
}

// NewContext starts the speaker and the mixer clock.
func (o *Output) NewContext(ctx context.Context, sampleRate, channels int) (repositories.OutputContext, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid output format %d Hz x %d", sampleRate, channels)
	}

	var sink io.WriteCloser = nopSink{}
	if !o.cfg.Disabled {
		s, err := startFFplay(o.cfg.FFplayPath, sampleRate, channels)
		if err != nil {
			return nil, err
		}
		sink = s
	}

	c := newMixerContext(sink, sampleRate, channels, o.logger)
	go c.run(o.cfg.Tick)

	o.logger.Info("Speaker opened", zap.Int("sampleRate", sampleRate), zap.Bool("disabled", o.cfg.Disabled))
	return c, nil
}

// mixerContext is a software output timeline. Its clock is the number of
// frames rendered so far; sources are mixed in at their start frame.
type mixerContext struct {
	mu       sync.Mutex
	rate     int
	channels int
	frames   int64
	state    repositories.OutputContextState
	sources  []*mixerSource
	sink     io.WriteCloser
	logger   *zap.Logger

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	sinkErr   bool
}

func newMixerContext(sink io.WriteCloser, rate, channels int, logger *zap.Logger) *mixerContext {
	return &mixerContext{
		rate:     rate,
		channels: channels,
		state:    repositories.OutputRunning,
		sink:     sink,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (c *mixerContext) SampleRate() int { return c.rate }

func (c *mixerContext) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return float64(c.frames) / float64(c.rate)
}

func (c *mixerContext) State() repositories.OutputContextState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Suspend freezes the clock until Resume.
func (c *mixerContext) Suspend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == repositories.OutputRunning {
		c.state = repositories.OutputSuspended
	}
}

func (c *mixerContext) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case repositories.OutputClosed:
		return errContextClosed
	case repositories.OutputSuspended:
		c.state = repositories.OutputRunning
	}
	return nil
}

func (c *mixerContext) Play(buf entities.AudioBuffer, at float64) (repositories.PlaybackSource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == repositories.OutputClosed {
		return nil, errContextClosed
	}

	src := &mixerSource{
		buf:   buf,
		start: int64(math.Round(at * float64(c.rate))),
		done:  make(chan struct{}),
	}
	c.sources = append(c.sources, src)
	return src, nil
}

func (c *mixerContext) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = repositories.OutputClosed
		sources := c.sources
		c.sources = nil
		c.mu.Unlock()

		close(c.stop)
		for _, src := range sources {
			src.Stop()
		}
	})
	<-c.done
	return nil
}

func (c *mixerContext) run(tick time.Duration) {
	defer close(c.done)
	defer c.sink.Close()

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	framesPerTick := int(float64(c.rate) * tick.Seconds())
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.write(c.render(framesPerTick))
		}
	}
}

func (c *mixerContext) write(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	if _, err := c.sink.Write(pcm); err != nil && !c.sinkErr {
		c.sinkErr = true
		c.logger.Warn("Speaker write failed", zap.Error(err))
	}
}

// render mixes the next n frames into interleaved 16-bit PCM and advances
// the clock. A suspended or closed context renders nothing.
func (c *mixerContext) render(n int) []byte {
	c.mu.Lock()
	if c.state != repositories.OutputRunning || n <= 0 {
		c.mu.Unlock()
		return nil
	}

	from := c.frames
	to := from + int64(n)
	mix := make([]float32, n*c.channels)

	var finished []*mixerSource
	live := c.sources[:0]
	for _, src := range c.sources {
		if src.stopped() {
			continue
		}
		src.mixInto(mix, from, to, c.channels)
		if src.end() <= to {
			finished = append(finished, src)
			continue
		}
		live = append(live, src)
	}
	c.sources = live
	c.frames = to
	c.mu.Unlock()

	for _, src := range finished {
		src.Stop()
	}
	return encodeS16(mix)
}

func encodeS16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*math.MaxInt16)))
	}
	return out
}

type mixerSource struct {
	buf   entities.AudioBuffer
	start int64
	once  sync.Once
	done  chan struct{}
}

func (s *mixerSource) Stop() { s.once.Do(func() { close(s.done) }) }

func (s *mixerSource) Done() <-chan struct{} { return s.done }

func (s *mixerSource) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *mixerSource) end() int64 { return s.start + int64(s.buf.Length()) }

func (s *mixerSource) mixInto(mix []float32, from, to int64, channels int) {
	lo := max(from, s.start)
	hi := min(to, s.end())
	if lo >= hi || len(s.buf.Channels) == 0 {
		return
	}
	for f := lo; f < hi; f++ {
		idx := int(f - s.start)
		out := int(f-from) * channels
		for ch := 0; ch < channels; ch++ {
			src := s.buf.Channels[min(ch, len(s.buf.Channels)-1)]
			mix[out+ch] += src[idx]
		}
	}
}

type nopSink struct{}

func (nopSink) Write(p []byte) (int, error) { return len(p), nil }
func (nopSink) Close() error                { return nil }

// ffplaySink feeds interleaved 16-bit PCM to ffplay's stdin.
type ffplaySink struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func startFFplay(path string, sampleRate, channels int) (*ffplaySink, error) {
	if _, err := exec.LookPath(path); err != nil {
		return nil, errors.New("ffplay is required for playback (install ffmpeg/ffplay and ensure it is in PATH)")
	}

	// ffplay takes -ch_layout rather than -ac.
	layout := "mono"
	if channels == 2 {
		layout = "stereo"
	}
	cmd := exec.Command(path,
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-nodisp",
		"-f", "s16le",
		"-ch_layout", layout,
		"-ar", strconv.Itoa(sampleRate),
		"-i", "-",
	)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffplay stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("start ffplay: %w", err)
	}
	return &ffplaySink{cmd: cmd, stdin: stdin}, nil
}

func (s *ffplaySink) Write(p []byte) (int, error) { return s.stdin.Write(p) }

func (s *ffplaySink) Close() error {
	_ = s.stdin.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
	return nil
}
