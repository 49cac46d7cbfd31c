// Package live implements the session lifecycle of a real-time voice
// conversation: it acquires the microphone and speaker, opens the remote
// session, dispatches inbound events and tears everything down again.
package live

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/sahayak/domain"
	"github.com/satriahrh/sahayak/domain/entities"
	"github.com/satriahrh/sahayak/domain/repositories"
	"github.com/satriahrh/sahayak/internal/capture"
	"github.com/satriahrh/sahayak/internal/metrics"
	"github.com/satriahrh/sahayak/internal/playback"
	"github.com/satriahrh/sahayak/internal/saga"
	"github.com/satriahrh/sahayak/internal/transcript"
)

const (
	DefaultModel = "gemini-2.5-flash-native-audio-preview-12-2025"

	responseModalityAudio = "AUDIO"
)

// Dependencies are the ports a Manager drives.
type Dependencies struct {
	Credentials repositories.CredentialStore
	Microphone  repositories.Microphone
	Output      repositories.AudioOutput
	Connector   repositories.LiveConnector
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

// Config shapes every session started by a Manager.
type Config struct {
	Model    string
	Capture  capture.Config
	Playback playback.Config
	Profile  entities.Profile
}

// DefaultConfig returns the default model, device formats and voice.
func DefaultConfig() Config {
	return Config{
		Model:    DefaultModel,
		Capture:  capture.DefaultConfig(),
		Playback: playback.DefaultConfig(),
		Profile:  entities.Profile{Voice: entities.DefaultVoice},
	}
}

// Publisher receives a snapshot after every observable change. Calls are
// serialized. A publisher must not call back into Manager commands.
type Publisher func(entities.LiveSnapshot)

// Option configures a Manager
type Option func(*Manager)

func WithConfig(cfg Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

func WithPublisher(fn Publisher) Option {
	return func(m *Manager) { m.publish = fn }
}

func WithTranscript(agg *transcript.Aggregator) Option {
	return func(m *Manager) { m.transcript = agg }
}

// Manager is the explicit state machine idle → connecting → connected →
// (error | idle). There is at most one session handle at a time.
//
// generation is bumped whenever the current session is replaced or torn
// down; asynchronous completions compare it with the generation they were
// started under and turn into no-ops when it moved on.
type Manager struct {
	deps       Dependencies
	cfg        Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
	sagas      *saga.Manager
	transcript *transcript.Aggregator
	publish    Publisher

	mu            sync.Mutex
	generation    uint64
	state         entities.LiveState
	handle        *sessionHandle
	sessionID     string
	speaking      bool
	muted         bool
	sessionErr    *domain.SessionError
	cancelPending context.CancelFunc

	publishMu sync.Mutex
}

// NewManager creates an idle manager
func NewManager(deps Dependencies, opts ...Option) *Manager {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	m := &Manager{
		deps:    deps,
		cfg:     DefaultConfig(),
		logger:  deps.Logger,
		metrics: deps.Metrics,
		sagas:   saga.NewManager(deps.Logger),
		state:   entities.LiveStateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.transcript == nil {
		m.transcript = transcript.NewAggregator()
	}
	m.cfg.Profile = m.cfg.Profile.Normalize()
	return m
}

// Start tears down any previous session, then acquires the microphone and
// speaker and opens the remote session. It returns once the session is
// connected or has failed. A Start superseded by Stop or by a newer Start
// releases what it acquired and returns domain.ErrSessionCanceled.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	prev := m.detachLocked()
	gen := m.generation
	credential := strings.TrimSpace(m.deps.Credentials.Resolve())
	cfg := m.cfg

	if credential == "" {
		m.mu.Unlock()
		m.release(prev)

		se := domain.NewMissingCredentialError()
		m.setError(gen, se)
		return se
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.cancelPending = cancel

	m.sessionID = uuid.New().String()
	m.state = entities.LiveStateConnecting
	m.speaking = false
	m.muted = false
	m.sessionErr = nil
	h := &sessionHandle{id: m.sessionID, gen: gen, logger: m.logger}
	m.mu.Unlock()

	m.release(prev)
	m.transcript.ResetPartials()
	m.notify()

	m.logger.Info("Starting live session", zap.String("sessionID", h.id), zap.String("model", cfg.Model), zap.String("voice", cfg.Profile.Voice))

	_, err := m.sagas.Run(ctx, "live-session-start", func() bool { return !m.current(gen) },
		saga.StepFunc{
			Name: "microphone",
			Do: func(ctx context.Context) (err error) {
				h.capture, err = capture.Open(ctx, m.deps.Microphone, cfg.Capture, m.logger)
				return err
			},
			Undo: func(ctx context.Context) error {
				h.capture.Stop()
				return nil
			},
		},
		saga.StepFunc{
			Name: "speaker",
			Do: func(ctx context.Context) (err error) {
				h.playback, err = playback.Open(ctx, m.deps.Output, cfg.Playback, m.logger)
				return err
			},
			Undo: func(ctx context.Context) error {
				h.playback.Shutdown()
				return nil
			},
		},
		saga.StepFunc{
			Name: "connect",
			Do: func(ctx context.Context) (err error) {
				h.conn, err = m.deps.Connector.Connect(ctx, credential, liveConfig(cfg))
				return err
			},
			Undo: func(ctx context.Context) error {
				return h.conn.Close()
			},
		},
	)
	if err != nil {
		if errors.Is(err, saga.ErrAborted) || !m.current(gen) {
			m.logger.Info("Live session start canceled", zap.String("sessionID", h.id))
			return domain.ErrSessionCanceled
		}
		se := domain.AsSessionError(err)
		m.setError(gen, se)
		return se
	}

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		h.teardown()
		return domain.ErrSessionCanceled
	}
	m.handle = h
	m.cancelPending = nil
	m.state = entities.LiveStateConnected
	m.mu.Unlock()

	m.metrics.SessionStarted()
	m.logger.Info("Live session connected", zap.String("sessionID", h.id))

	h.playback.OnDrained(func() { m.onDrained(h) })
	if err := h.capture.Start(func(chunk entities.AudioChunk) { m.sendFrame(h, chunk) }, func(err error) { m.fail(gen, err) }); err != nil {
		if !m.current(gen) {
			m.logger.Info("Live session start canceled", zap.String("sessionID", h.id))
			return domain.ErrSessionCanceled
		}
		se := domain.NewDeviceError(err)
		m.fail(gen, se)
		return se
	}
	go m.receiveLoop(h)

	if !m.current(gen) {
		return domain.ErrSessionCanceled
	}
	m.notify()
	return nil
}

// Stop tears down the current session, if any, and returns to idle. It is
// valid in every state and never fails.
func (m *Manager) Stop() {
	m.mu.Lock()
	h := m.detachLocked()
	gen := m.generation
	m.mu.Unlock()

	m.release(h)

	m.mu.Lock()
	if m.generation == gen {
		m.state = entities.LiveStateIdle
		m.speaking = false
		m.muted = false
		m.sessionErr = nil
	}
	m.mu.Unlock()

	if h != nil {
		m.logger.Info("Live session stopped", zap.String("sessionID", h.id))
	}
	m.notify()
}

// ToggleMute flips the microphone mute flag of the connected session and
// returns the new value.
func (m *Manager) ToggleMute() (bool, error) {
	m.mu.Lock()
	if m.state != entities.LiveStateConnected || m.handle == nil {
		m.mu.Unlock()
		return false, domain.ErrNotConnected
	}
	m.muted = !m.muted
	muted := m.muted
	m.handle.capture.SetMuted(muted)
	m.mu.Unlock()

	m.logger.Info("Microphone mute toggled", zap.Bool("muted", muted))
	m.notify()
	return muted, nil
}

// SelectCredential stores key as the local override and restarts the
// session with it.
func (m *Manager) SelectCredential(ctx context.Context, key string) error {
	if err := m.deps.Credentials.SetOverride(strings.TrimSpace(key)); err != nil {
		return err
	}
	return m.Start(ctx)
}

// SetProfile changes the user name and voice used by the next Start.
func (m *Manager) SetProfile(p entities.Profile) error {
	p = p.Normalize()
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.cfg.Profile = p
	m.mu.Unlock()
	return nil
}

// Profile returns the profile used for new sessions.
func (m *Manager) Profile() entities.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Profile
}

// Snapshot returns the current published state.
func (m *Manager) Snapshot() entities.LiveSnapshot {
	m.mu.Lock()
	snap := entities.LiveSnapshot{
		SessionID: m.sessionID,
		State:     m.state,
		Speaking:  m.speaking,
		Muted:     m.muted,
	}
	if m.sessionErr != nil {
		snap.ErrorKind = domain.KindName(m.sessionErr.Kind)
		snap.ErrorMessage = m.sessionErr.Message
	}
	m.mu.Unlock()

	snap.Transcript = m.transcript.Exchanges()
	snap.PartialInput, snap.PartialOutput = m.transcript.Partial()
	return snap
}

// Err returns the error that moved the manager to the error state.
func (m *Manager) Err() *domain.SessionError {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionErr
}

func liveConfig(cfg Config) repositories.LiveConfig {
	return repositories.LiveConfig{
		Model:                    cfg.Model,
		ResponseModality:         responseModalityAudio,
		InputAudioTranscription:  true,
		OutputAudioTranscription: true,
		Voice:                    cfg.Profile.Voice,
		SystemInstruction:        BuildSystemInstruction(cfg.Profile.UserName),
	}
}

// detachLocked invalidates the current generation and hands the current
// handle to the caller for release.
func (m *Manager) detachLocked() *sessionHandle {
	m.generation++
	if m.cancelPending != nil {
		m.cancelPending()
		m.cancelPending = nil
	}
	h := m.handle
	m.handle = nil
	m.speaking = false
	return h
}

func (m *Manager) release(h *sessionHandle) {
	if h == nil {
		return
	}
	h.teardown()
	m.metrics.SessionEnded()
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation == gen
}

func (m *Manager) setError(gen uint64, se *domain.SessionError) {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return
	}
	m.state = entities.LiveStateError
	m.sessionErr = se
	m.speaking = false
	m.muted = false
	m.mu.Unlock()

	m.metrics.SessionError(domain.KindName(se.Kind))
	m.logger.Error("Live session failed", zap.String("kind", domain.KindName(se.Kind)), zap.Error(se))
	m.notify()
}

// fail tears the session of generation gen down and then publishes the
// classified error.
func (m *Manager) fail(gen uint64, err error) {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return
	}
	h := m.detachLocked()
	next := m.generation
	m.mu.Unlock()

	m.release(h)
	m.setError(next, domain.AsSessionError(err))
}

// closed handles a normal remote close.
func (m *Manager) closed(gen uint64) {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return
	}
	h := m.detachLocked()
	next := m.generation
	m.mu.Unlock()

	m.release(h)

	m.mu.Lock()
	if m.generation == next && m.state != entities.LiveStateError {
		m.state = entities.LiveStateIdle
		m.muted = false
	}
	m.mu.Unlock()

	m.logger.Info("Live session closed by remote")
	m.notify()
}

func (m *Manager) sendFrame(h *sessionHandle, chunk entities.AudioChunk) {
	err := h.conn.SendAudio(chunk)
	m.metrics.FrameSent(err)
	if err != nil {
		m.logger.Debug("Dropped microphone frame", zap.String("sessionID", h.id), zap.Error(err))
	}
}

func (m *Manager) receiveLoop(h *sessionHandle) {
	for {
		event, err := h.conn.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				m.closed(h.gen)
			} else {
				m.fail(h.gen, err)
			}
			return
		}
		if !m.current(h.gen) {
			return
		}
		m.dispatch(h, event)
	}
}

// dispatch applies one server event. Fields are handled in a fixed order:
// transcriptions, turn completion, audio, interruption.
func (m *Manager) dispatch(h *sessionHandle, event *repositories.LiveEvent) {
	changed := false

	if event.InputTranscription != "" {
		m.transcript.AppendInput(event.InputTranscription)
		changed = true
	}
	if event.OutputTranscription != "" {
		m.transcript.AppendOutput(event.OutputTranscription)
		changed = true
	}
	if event.TurnComplete {
		exchange, ok := m.transcript.CompleteTurn()
		m.metrics.Turn(ok)
		if ok {
			m.logger.Debug("Turn completed", zap.String("sessionID", h.id), zap.String("exchangeID", exchange.ID))
		}
		changed = true
	}

	for _, chunk := range event.Audio {
		if m.enqueue(h, chunk) {
			changed = true
		}
	}

	if event.Interrupted {
		h.playback.Interrupt()
		m.metrics.Interrupted()
		m.mu.Lock()
		if m.generation == h.gen {
			m.speaking = false
		}
		m.mu.Unlock()
		m.logger.Debug("Playback interrupted by remote", zap.String("sessionID", h.id))
		changed = true
	}

	if changed && m.current(h.gen) {
		m.notify()
	}
}

func (m *Manager) enqueue(h *sessionHandle, chunk entities.AudioChunk) bool {
	scheduled, err := h.playback.Enqueue(context.Background(), chunk)
	switch {
	case errors.Is(err, playback.ErrInterrupted), errors.Is(err, playback.ErrClosed):
		return false
	case err != nil:
		m.fail(h.gen, err)
		return false
	}

	active := h.playback.Active()
	m.metrics.ChunkScheduled(active)
	m.logger.Debug("Audio chunk scheduled",
		zap.String("sessionID", h.id),
		zap.Float64("start", scheduled.Start),
		zap.Float64("end", scheduled.End))

	// speaking implies at least one scheduled source.
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != h.gen || h.playback.Active() == 0 {
		return false
	}
	m.speaking = true
	return true
}

// onDrained clears speaking once the queue of h is empty. A late callback
// that loses the race to a newer chunk finds sources active and does nothing.
func (m *Manager) onDrained(h *sessionHandle) {
	m.mu.Lock()
	if m.generation != h.gen || !m.speaking || h.playback.Active() > 0 {
		m.mu.Unlock()
		return
	}
	m.speaking = false
	m.mu.Unlock()

	m.metrics.QueueDepth(0)
	m.notify()
}

func (m *Manager) notify() {
	if m.publish == nil {
		return
	}
	m.publishMu.Lock()
	defer m.publishMu.Unlock()
	m.publish(m.Snapshot())
}
