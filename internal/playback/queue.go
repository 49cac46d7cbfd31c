// Package playback schedules decoded audio chunks back-to-back on an
// output context and supports cutting them off mid-stream.
package playback

import (
	"context"
	"errors"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/sahayak/domain"
	"github.com/satriahrh/sahayak/domain/entities"
	"github.com/satriahrh/sahayak/domain/repositories"
	"github.com/satriahrh/sahayak/internal/pcm"
)

const DefaultSampleRate = 24000

var (
	// ErrClosed is returned by Enqueue after Shutdown.
	ErrClosed = errors.New("playback queue closed")
	// ErrInterrupted is returned by Enqueue when an interruption arrived
	// while the chunk was being decoded; the chunk is dropped.
	ErrInterrupted = errors.New("playback interrupted")
)

// Config controls the output context
type Config struct {
	SampleRate int
	Channels   int
}

// DefaultConfig returns 24 kHz mono.
func DefaultConfig() Config {
	return Config{SampleRate: DefaultSampleRate, Channels: 1}
}

// Scheduled describes where a chunk landed on the output timeline.
type Scheduled struct {
	Start float64
	End   float64
}

// Queue keeps sources back-to-back in arrival order. nextStart never
// decreases except on Interrupt and Shutdown.
type Queue struct {
	cfg    Config
	out    repositories.OutputContext
	logger *zap.Logger

	mu        sync.Mutex
	nextStart float64
	sources   map[repositories.PlaybackSource]struct{}
	gen       uint64
	closed    bool
	onDrained func()
}

// Open creates the output context. Failures are reported as domain.ErrDevice.
func Open(ctx context.Context, output repositories.AudioOutput, cfg Config, logger *zap.Logger) (*Queue, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	out, err := output.NewContext(ctx, cfg.SampleRate, cfg.Channels)
	if err != nil {
		return nil, domain.NewDeviceError(err)
	}
	logger.Info("Output context opened", zap.Int("sampleRate", cfg.SampleRate))
	return New(out, cfg, logger), nil
}

// New wraps an already opened output context.
func New(out repositories.OutputContext, cfg Config, logger *zap.Logger) *Queue {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = out.SampleRate()
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	return &Queue{
		cfg:     cfg,
		out:     out,
		logger:  logger,
		sources: make(map[repositories.PlaybackSource]struct{}),
	}
}

// OnDrained registers fn to run, on its own goroutine, whenever the last
// tracked source finishes naturally.
func (q *Queue) OnDrained(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onDrained = fn
}

// Enqueue decodes chunk and schedules it at max(clock, nextStart).
func (q *Queue) Enqueue(ctx context.Context, chunk entities.AudioChunk) (Scheduled, error) {
	gen, err := q.generation()
	if err != nil {
		return Scheduled{}, err
	}
	return q.schedule(ctx, gen, q.decode(chunk))
}

// generation returns the interrupt generation a decode starts under.
func (q *Queue) generation() (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}
	return q.gen, nil
}

// decode runs without the lock; an Interrupt may land meanwhile.
func (q *Queue) decode(chunk entities.AudioChunk) entities.AudioBuffer {
	channels := chunk.Channels
	if channels <= 0 {
		channels = q.cfg.Channels
	}
	rate := chunk.SampleRate
	if rate <= 0 {
		rate = q.cfg.SampleRate
	}
	return pcm.Resample(pcm.DecodeFrame(chunk.Data, rate, channels), q.cfg.SampleRate)
}

// schedule plays buf unless the queue was interrupted or closed since gen.
func (q *Queue) schedule(ctx context.Context, gen uint64, buf entities.AudioBuffer) (Scheduled, error) {
	if buf.Length() == 0 {
		return Scheduled{}, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.out.State() == repositories.OutputClosed {
		return Scheduled{}, ErrClosed
	}
	if gen != q.gen {
		q.logger.Debug("Dropping chunk decoded across an interruption")
		return Scheduled{}, ErrInterrupted
	}
	if q.out.State() == repositories.OutputSuspended {
		if err := q.out.Resume(ctx); err != nil {
			return Scheduled{}, domain.NewDeviceError(err)
		}
	}

	start := math.Max(q.out.CurrentTime(), q.nextStart)
	src, err := q.out.Play(buf, start)
	if err != nil {
		return Scheduled{}, err
	}
	q.nextStart = start + buf.Duration()
	q.sources[src] = struct{}{}
	go q.watch(src)

	return Scheduled{Start: start, End: q.nextStart}, nil
}

func (q *Queue) watch(src repositories.PlaybackSource) {
	<-src.Done()

	q.mu.Lock()
	_, tracked := q.sources[src]
	delete(q.sources, src)
	drained := tracked && len(q.sources) == 0 && !q.closed
	onDrained := q.onDrained
	q.mu.Unlock()

	if drained && onDrained != nil {
		onDrained()
	}
}

// Interrupt stops every scheduled or playing source and rewinds the
// cursor so the next chunk starts at the current clock.
func (q *Queue) Interrupt() {
	q.mu.Lock()
	stopped := q.clearLocked()
	q.gen++
	q.mu.Unlock()

	for _, src := range stopped {
		src.Stop()
	}
	q.logger.Debug("Playback interrupted", zap.Int("stoppedSources", len(stopped)))
}

// Shutdown stops all sources and closes the output context. Safe to call
// more than once.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.gen++
	stopped := q.clearLocked()
	q.mu.Unlock()

	for _, src := range stopped {
		src.Stop()
	}
	if err := q.out.Close(); err != nil {
		q.logger.Warn("Failed to close output context", zap.Error(err))
	}
	q.logger.Info("Output context closed")
}

func (q *Queue) clearLocked() []repositories.PlaybackSource {
	stopped := make([]repositories.PlaybackSource, 0, len(q.sources))
	for src := range q.sources {
		stopped = append(stopped, src)
	}
	q.sources = make(map[repositories.PlaybackSource]struct{})
	q.nextStart = 0
	return stopped
}

// Speaking reports whether any source is scheduled or playing.
func (q *Queue) Speaking() bool {
	return q.Active() > 0
}

// Active returns the number of tracked sources.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.sources)
}

// NextStart returns the scheduling cursor in context seconds.
func (q *Queue) NextStart() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nextStart
}
