package live

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/satriahrh/sahayak/domain"
	"github.com/satriahrh/sahayak/domain/entities"
	"github.com/satriahrh/sahayak/domain/repositories"
)

type harness struct {
	creds     *fakeCredentials
	mic       *fakeMicrophone
	output    *fakeOutput
	connector *fakeConnector
	manager   *Manager

	mu        sync.Mutex
	snapshots []entities.LiveSnapshot
}

func newHarness(t *testing.T, credential string, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		creds:     &fakeCredentials{env: credential},
		mic:       &fakeMicrophone{},
		output:    &fakeOutput{},
		connector: &fakeConnector{},
	}
	opts = append([]Option{WithPublisher(func(s entities.LiveSnapshot) {
		h.mu.Lock()
		h.snapshots = append(h.snapshots, s)
		h.mu.Unlock()
	})}, opts...)
	h.manager = NewManager(Dependencies{
		Credentials: h.creds,
		Microphone:  h.mic,
		Output:      h.output,
		Connector:   h.connector,
		Logger:      zap.NewNop(),
	}, opts...)
	t.Cleanup(h.manager.Stop)
	return h
}

func (h *harness) states() []entities.LiveState {
	h.mu.Lock()
	defer h.mu.Unlock()
	states := make([]entities.LiveState, 0, len(h.snapshots))
	for _, s := range h.snapshots {
		if len(states) == 0 || states[len(states)-1] != s.State {
			states = append(states, s.State)
		}
	}
	return states
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func halfSecondChunk() entities.AudioChunk {
	return entities.AudioChunk{Data: make([]byte, 24000), SampleRate: 24000, Channels: 1}
}

func TestStartWithoutCredential(t *testing.T) {
	h := newHarness(t, "  ")

	err := h.manager.Start(context.Background())
	if !errors.Is(err, domain.ErrMissingCredential) {
		t.Fatalf("Expected missing credential error, got %v", err)
	}

	snap := h.manager.Snapshot()
	if snap.State != entities.LiveStateError || snap.ErrorMessage != domain.MessageMissingCredential {
		t.Errorf("Unexpected snapshot %+v", snap)
	}

	if h.mic.opened() != 0 || h.connector.calls() != 0 || len(h.output.contexts) != 0 {
		t.Error("No device or connection should be acquired without a credential")
	}
}

func TestStartStreamPlayAndTranscribe(t *testing.T) {
	h := newHarness(t, "key")

	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if s := h.manager.Snapshot(); s.State != entities.LiveStateConnected || s.SessionID == "" {
		t.Fatalf("Expected connected session, got %+v", s)
	}

	want := []entities.LiveState{entities.LiveStateConnecting, entities.LiveStateConnected}
	if got := h.states(); len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Expected transitions %v, got %v", want, got)
	}

	conn := h.connector.conn(0)
	conn.events <- &repositories.LiveEvent{Audio: []entities.AudioChunk{halfSecondChunk()}}

	out := h.output.context(0)
	eventually(t, "scheduled source", func() bool {
		out.mu.Lock()
		defer out.mu.Unlock()
		return len(out.ends) == 1
	})
	if out.ends[0] != 0.5 {
		t.Errorf("Expected source ending at 0.5s, got %f", out.ends[0])
	}
	eventually(t, "speaking", func() bool { return h.manager.Snapshot().Speaking })

	conn.events <- &repositories.LiveEvent{InputTranscription: "Hi"}
	conn.events <- &repositories.LiveEvent{OutputTranscription: "Hello"}
	conn.events <- &repositories.LiveEvent{TurnComplete: true}

	eventually(t, "finalized exchange", func() bool { return len(h.manager.Snapshot().Transcript) == 1 })

	snap := h.manager.Snapshot()
	if snap.Transcript[0].Input != "Hi" || snap.Transcript[0].Output != "Hello" {
		t.Errorf("Unexpected exchange %+v", snap.Transcript[0])
	}
	if snap.PartialInput != "" || snap.PartialOutput != "" {
		t.Errorf("Partials should reset on turn complete, got %q %q", snap.PartialInput, snap.PartialOutput)
	}
}

func TestPartialsPublishedAndEmptyTurnDiscarded(t *testing.T) {
	h := newHarness(t, "key")
	h.manager.Start(context.Background())
	conn := h.connector.conn(0)

	conn.events <- &repositories.LiveEvent{InputTranscription: "Nam"}
	conn.events <- &repositories.LiveEvent{InputTranscription: "aste"}
	eventually(t, "running input", func() bool { return h.manager.Snapshot().PartialInput == "Namaste" })

	conn.events <- &repositories.LiveEvent{TurnComplete: true}
	conn.events <- &repositories.LiveEvent{InputTranscription: "  "}
	conn.events <- &repositories.LiveEvent{TurnComplete: true}

	eventually(t, "partials reset", func() bool {
		s := h.manager.Snapshot()
		return s.PartialInput == "" && len(s.Transcript) == 1
	})
	time.Sleep(20 * time.Millisecond)

	if n := len(h.manager.Snapshot().Transcript); n != 1 {
		t.Errorf("Blank turn should be discarded, got %d exchanges", n)
	}
}

func TestInterruptStopsPlayback(t *testing.T) {
	h := newHarness(t, "key")
	h.manager.Start(context.Background())
	conn := h.connector.conn(0)

	conn.events <- &repositories.LiveEvent{Audio: []entities.AudioChunk{halfSecondChunk(), halfSecondChunk()}}
	eventually(t, "speaking", func() bool { return h.manager.Snapshot().Speaking })

	conn.events <- &repositories.LiveEvent{Interrupted: true}
	eventually(t, "not speaking", func() bool { return !h.manager.Snapshot().Speaking })

	out := h.output.context(0)
	for i, src := range out.sources {
		select {
		case <-src.done:
		default:
			t.Errorf("Source %d still playing after interruption", i)
		}
	}
}

func TestSpeakingClearsWhenQueueDrains(t *testing.T) {
	h := newHarness(t, "key")
	h.manager.Start(context.Background())

	h.connector.conn(0).events <- &repositories.LiveEvent{Audio: []entities.AudioChunk{halfSecondChunk()}}
	eventually(t, "speaking", func() bool { return h.manager.Snapshot().Speaking })

	out := h.output.context(0)
	out.mu.Lock()
	src := out.sources[0]
	out.mu.Unlock()
	src.Stop()

	eventually(t, "drained", func() bool { return !h.manager.Snapshot().Speaking })
}

func TestLateDrainKeepsSpeakingWhileAudioQueued(t *testing.T) {
	h := newHarness(t, "key")
	h.manager.Start(context.Background())

	h.connector.conn(0).events <- &repositories.LiveEvent{Audio: []entities.AudioChunk{halfSecondChunk(), halfSecondChunk()}}
	out := h.output.context(0)
	eventually(t, "two scheduled sources", func() bool {
		out.mu.Lock()
		defer out.mu.Unlock()
		return len(out.ends) == 2
	})
	eventually(t, "speaking", func() bool { return h.manager.Snapshot().Speaking })

	h.manager.mu.Lock()
	handle := h.manager.handle
	h.manager.mu.Unlock()

	// A drain notification from an earlier burst arriving after new audio.
	h.manager.onDrained(handle)

	if !h.manager.Snapshot().Speaking {
		t.Fatalf("Speaking cleared with %d sources still queued", handle.playback.Active())
	}

	out.mu.Lock()
	sources := append([]*fakeSource(nil), out.sources...)
	out.mu.Unlock()
	for _, src := range sources {
		src.Stop()
	}
	eventually(t, "drained", func() bool { return !h.manager.Snapshot().Speaking })
}

func TestToggleMute(t *testing.T) {
	h := newHarness(t, "key")

	if _, err := h.manager.ToggleMute(); !errors.Is(err, domain.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected while idle, got %v", err)
	}

	h.manager.Start(context.Background())
	track := h.mic.track(0)

	muted, err := h.manager.ToggleMute()
	if err != nil || !muted {
		t.Fatalf("Expected muted, got %v %v", muted, err)
	}
	if track.Enabled() || track.isStopped() {
		t.Error("Muting should disable the track without stopping it")
	}
	if s := h.manager.Snapshot(); !s.Muted || s.State != entities.LiveStateConnected {
		t.Errorf("Unexpected snapshot %+v", s)
	}

	muted, _ = h.manager.ToggleMute()
	if muted || !track.Enabled() {
		t.Error("Second toggle should unmute")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, "key")

	h.manager.Stop()
	h.manager.Stop()
	if s := h.manager.Snapshot(); s.State != entities.LiveStateIdle {
		t.Errorf("Expected idle, got %s", s.State)
	}

	h.manager.Start(context.Background())
	h.manager.Stop()
	h.manager.Stop()

	if !h.mic.track(0).isStopped() || !h.connector.conn(0).isClosed() || !h.output.context(0).isClosed() {
		t.Error("Stop should release microphone, connection and output context")
	}
	if s := h.manager.Snapshot(); s.State != entities.LiveStateIdle || s.Speaking || s.Muted {
		t.Errorf("Unexpected snapshot %+v", s)
	}
}

func TestDeviceFailure(t *testing.T) {
	h := newHarness(t, "key")
	h.mic.err = errors.New("permission denied")

	err := h.manager.Start(context.Background())
	if !errors.Is(err, domain.ErrDevice) {
		t.Fatalf("Expected device error, got %v", err)
	}

	if h.connector.calls() != 0 {
		t.Error("Connection should not be attempted without a microphone")
	}

	s := h.manager.Snapshot()
	if s.State != entities.LiveStateError || s.ErrorKind != "device" || !strings.Contains(s.ErrorMessage, "permission denied") {
		t.Errorf("Unexpected snapshot %+v", s)
	}
}

func TestConnectFailureReleasesDevices(t *testing.T) {
	h := newHarness(t, "key")
	h.connector.err = domain.NewAccessDeniedError(errors.New("403 forbidden"))

	err := h.manager.Start(context.Background())
	if !errors.Is(err, domain.ErrAccessDenied) {
		t.Fatalf("Expected access denied, got %v", err)
	}

	if !h.mic.track(0).isStopped() || !h.output.context(0).isClosed() {
		t.Error("Acquired devices should be released when connect fails")
	}

	if s := h.manager.Snapshot(); s.ErrorMessage != domain.MessageAccessDenied {
		t.Errorf("Unexpected message %q", s.ErrorMessage)
	}
}

func TestTransportErrorTearsDownBeforePublishing(t *testing.T) {
	var (
		mu       sync.Mutex
		released bool
		seen     bool
		h        *harness
	)
	h = newHarness(t, "key", WithPublisher(func(s entities.LiveSnapshot) {
		if s.State != entities.LiveStateError {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		seen = true
		released = h.mic.track(0).isStopped() && h.connector.conn(0).isClosed() && h.output.context(0).isClosed()
	}))

	h.manager.Start(context.Background())
	h.connector.conn(0).errs <- errors.New("connection reset by peer")

	eventually(t, "error state", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen
	})

	mu.Lock()
	defer mu.Unlock()
	if !released {
		t.Error("Resources must be released before the error is published")
	}
	if s := h.manager.Snapshot(); s.ErrorKind != "transport" || s.ErrorMessage != "connection reset by peer" {
		t.Errorf("Unexpected snapshot %+v", s)
	}
}

func TestRemoteCloseGoesIdle(t *testing.T) {
	h := newHarness(t, "key")
	h.manager.Start(context.Background())

	h.connector.conn(0).errs <- io.EOF

	eventually(t, "idle", func() bool { return h.manager.Snapshot().State == entities.LiveStateIdle })
	if !h.mic.track(0).isStopped() {
		t.Error("Microphone should be released on remote close")
	}
	if h.manager.Err() != nil {
		t.Errorf("Remote close is not an error, got %v", h.manager.Err())
	}
}

func TestMicrophoneFailureWhileConnected(t *testing.T) {
	h := newHarness(t, "key")
	h.manager.Start(context.Background())

	h.mic.track(0).fail <- errors.New("device unplugged")

	eventually(t, "error state", func() bool { return h.manager.Snapshot().State == entities.LiveStateError })
	if !h.connector.conn(0).isClosed() {
		t.Error("Connection should close when the microphone fails")
	}
	if s := h.manager.Snapshot(); s.ErrorKind != "device" {
		t.Errorf("Expected device error, got %+v", s)
	}
}

func TestStopDuringConnectCancelsStart(t *testing.T) {
	h := newHarness(t, "key")
	h.connector.block = true
	h.connector.entered = make(chan struct{})

	result := make(chan error, 1)
	go func() { result <- h.manager.Start(context.Background()) }()

	<-h.connector.entered
	h.manager.Stop()

	select {
	case err := <-result:
		if !errors.Is(err, domain.ErrSessionCanceled) {
			t.Errorf("Expected ErrSessionCanceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}

	if !h.mic.track(0).isStopped() || !h.output.context(0).isClosed() {
		t.Error("Devices acquired before the stop should be released")
	}
	if s := h.manager.Snapshot(); s.State != entities.LiveStateIdle {
		t.Errorf("Expected idle after stop, got %s", s.State)
	}
}

func TestStopRightAfterConnectCancelsStart(t *testing.T) {
	var m *Manager
	var once sync.Once
	logger := zap.New(
		zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(io.Discard), zapcore.DebugLevel),
		zap.Hooks(func(e zapcore.Entry) error {
			if e.Message == "Live session connected" {
				once.Do(m.Stop)
			}
			return nil
		}),
	)

	mic := &fakeMicrophone{}
	output := &fakeOutput{}
	connector := &fakeConnector{}
	m = NewManager(Dependencies{
		Credentials: &fakeCredentials{env: "key"},
		Microphone:  mic,
		Output:      output,
		Connector:   connector,
		Logger:      logger,
	})
	t.Cleanup(m.Stop)

	if err := m.Start(context.Background()); !errors.Is(err, domain.ErrSessionCanceled) {
		t.Fatalf("Expected ErrSessionCanceled, got %v", err)
	}

	if !mic.track(0).isStopped() || !output.context(0).isClosed() || !connector.conn(0).isClosed() {
		t.Error("Session resources should be released after the stop")
	}
	s := m.Snapshot()
	if s.State != entities.LiveStateIdle || s.ErrorKind != "" {
		t.Errorf("Expected idle without error, got %s %q", s.State, s.ErrorKind)
	}
}

func TestStartReplacesPreviousSession(t *testing.T) {
	h := newHarness(t, "key")

	h.manager.Start(context.Background())
	h.manager.Start(context.Background())

	if !h.connector.conn(0).isClosed() || !h.mic.track(0).isStopped() {
		t.Error("First session should be torn down before the second starts")
	}
	if h.connector.conn(1).isClosed() {
		t.Error("Second session should stay open")
	}
	if s := h.manager.Snapshot(); s.State != entities.LiveStateConnected {
		t.Errorf("Expected connected, got %s", s.State)
	}
}

func TestSelectCredentialRestarts(t *testing.T) {
	h := newHarness(t, "")

	if err := h.manager.SelectCredential(context.Background(), "  paid-key "); err != nil {
		t.Fatalf("SelectCredential failed: %v", err)
	}

	if h.creds.override != "paid-key" {
		t.Errorf("Expected trimmed override, got %q", h.creds.override)
	}
	if h.connector.creds[0] != "paid-key" {
		t.Errorf("Expected connection with the new key, got %q", h.connector.creds[0])
	}
}

func TestProfileShapesConnection(t *testing.T) {
	h := newHarness(t, "key")

	if err := h.manager.SetProfile(entities.Profile{UserName: "Asha", Voice: "Robot"}); err == nil {
		t.Error("Unknown voice should be rejected")
	}
	if err := h.manager.SetProfile(entities.Profile{UserName: " Asha ", Voice: "Puck"}); err != nil {
		t.Fatalf("SetProfile failed: %v", err)
	}

	h.manager.Start(context.Background())
	cfg := h.connector.configs[0]

	if cfg.Voice != "Puck" || cfg.Model != DefaultModel || cfg.ResponseModality != "AUDIO" {
		t.Errorf("Unexpected config %+v", cfg)
	}
	if !cfg.InputAudioTranscription || !cfg.OutputAudioTranscription {
		t.Error("Transcription should be enabled both ways")
	}
	if !strings.Contains(cfg.SystemInstruction, "speaking to Asha.") {
		t.Error("System instruction should name the user")
	}
}

func TestBuildSystemInstruction(t *testing.T) {
	got := BuildSystemInstruction("")
	if !strings.Contains(got, "I am Sahayak, and I am made by Kunj.") || !strings.Contains(got, "speaking to a friend.") {
		t.Errorf("Unexpected instruction %q", got)
	}
}
