package live

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/satriahrh/sahayak/domain/entities"
	"github.com/satriahrh/sahayak/domain/repositories"
)

type fakeCredentials struct {
	mu       sync.Mutex
	env      string
	override string
}

func (c *fakeCredentials) Resolve() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.override != "" {
		return c.override
	}
	return c.env
}

func (c *fakeCredentials) SetOverride(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.override = key
	return nil
}

type fakeTrack struct {
	enabled  atomic.Bool
	stopOnce sync.Once
	stopped  chan struct{}
	fail     chan error
}

func newFakeTrack() *fakeTrack {
	t := &fakeTrack{stopped: make(chan struct{}), fail: make(chan error, 1)}
	t.enabled.Store(true)
	return t
}

func (t *fakeTrack) ReadFrame(frame []float32) error {
	select {
	case <-t.stopped:
		return errors.New("track stopped")
	case err := <-t.fail:
		return err
	}
}

func (t *fakeTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }
func (t *fakeTrack) Enabled() bool           { return t.enabled.Load() }

func (t *fakeTrack) Stop() error {
	t.stopOnce.Do(func() { close(t.stopped) })
	return nil
}

func (t *fakeTrack) isStopped() bool {
	select {
	case <-t.stopped:
		return true
	default:
		return false
	}
}

type fakeMicrophone struct {
	mu     sync.Mutex
	err    error
	tracks []*fakeTrack
}

func (m *fakeMicrophone) Open(ctx context.Context, constraints repositories.MicrophoneConstraints) (repositories.InputTrack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	t := newFakeTrack()
	m.tracks = append(m.tracks, t)
	return t, nil
}

func (m *fakeMicrophone) opened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracks)
}

func (m *fakeMicrophone) track(i int) *fakeTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracks[i]
}

type fakeSource struct {
	once sync.Once
	done chan struct{}
}

func (s *fakeSource) Stop()                 { s.once.Do(func() { close(s.done) }) }
func (s *fakeSource) Done() <-chan struct{} { return s.done }

type fakeContext struct {
	mu      sync.Mutex
	now     float64
	state   repositories.OutputContextState
	sources []*fakeSource
	ends    []float64
}

func (c *fakeContext) SampleRate() int { return 24000 }

func (c *fakeContext) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeContext) State() repositories.OutputContextState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeContext) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = repositories.OutputRunning
	return nil
}

func (c *fakeContext) Play(buf entities.AudioBuffer, at float64) (repositories.PlaybackSource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	src := &fakeSource{done: make(chan struct{})}
	c.sources = append(c.sources, src)
	c.ends = append(c.ends, at+buf.Duration())
	return src, nil
}

func (c *fakeContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = repositories.OutputClosed
	return nil
}

func (c *fakeContext) isClosed() bool { return c.State() == repositories.OutputClosed }

type fakeOutput struct {
	mu       sync.Mutex
	err      error
	contexts []*fakeContext
}

func (o *fakeOutput) NewContext(ctx context.Context, sampleRate, channels int) (repositories.OutputContext, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	c := &fakeContext{state: repositories.OutputRunning}
	o.contexts = append(o.contexts, c)
	return c, nil
}

func (o *fakeOutput) context(i int) *fakeContext {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.contexts[i]
}

type fakeConn struct {
	events    chan *repositories.LiveEvent
	errs      chan error
	closeOnce sync.Once
	closed    chan struct{}
	sent      atomic.Int64
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		events: make(chan *repositories.LiveEvent, 16),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) SendAudio(chunk entities.AudioChunk) error {
	c.sent.Add(1)
	return nil
}

func (c *fakeConn) Receive() (*repositories.LiveEvent, error) {
	select {
	case <-c.closed:
		return nil, errors.New("use of closed network connection")
	case err := <-c.errs:
		return nil, err
	case ev := <-c.events:
		return ev, nil
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type fakeConnector struct {
	mu      sync.Mutex
	err     error
	block   bool
	entered chan struct{}
	conns   []*fakeConn
	configs []repositories.LiveConfig
	creds   []string
}

func (f *fakeConnector) Connect(ctx context.Context, credential string, cfg repositories.LiveConfig) (repositories.LiveConnection, error) {
	f.mu.Lock()
	f.creds = append(f.creds, credential)
	f.configs = append(f.configs, cfg)
	block, err := f.block, f.err
	f.mu.Unlock()

	if block {
		close(f.entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	conn := newFakeConn()
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.mu.Unlock()
	return conn, nil
}

func (f *fakeConnector) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.configs)
}

func (f *fakeConnector) conn(i int) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[i]
}
