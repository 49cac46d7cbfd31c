package gemini

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/sahayak/domain/entities"
	"github.com/satriahrh/sahayak/domain/repositories"
	"github.com/satriahrh/sahayak/internal/pcm"
)

const outputSampleRate = 24000

var errConnectionClosed = errors.New("live connection closed")

// LiveConnector opens Gemini Live sessions
type LiveConnector struct {
	clients *Clients
	logger  *zap.Logger
}

// NewLiveConnector creates a connector backed by the shared client cache
func NewLiveConnector(clients *Clients, logger *zap.Logger) *LiveConnector {
	return &LiveConnector{clients: clients, logger: logger}
}

// Connect performs the handshake and sends the session configuration.
// Errors are classified into the domain taxonomy.
func (c *LiveConnector) Connect(ctx context.Context, credential string, cfg repositories.LiveConfig) (repositories.LiveConnection, error) {
	client, err := c.clients.Get(ctx, credential)
	if err != nil {
		return nil, ClassifyError(err)
	}

	session, err := client.Live.Connect(ctx, cfg.Model, buildConnectConfig(cfg))
	if err != nil {
		c.logger.Error("Failed to open live session", zap.String("model", cfg.Model), zap.Error(err))
		return nil, ClassifyError(err)
	}

	c.logger.Info("Live session opened", zap.String("model", cfg.Model), zap.String("voice", cfg.Voice))
	return &liveConnection{session: session, logger: c.logger}, nil
}

func buildConnectConfig(cfg repositories.LiveConfig) *genai.LiveConnectConfig {
	config := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.Modality(strings.ToUpper(cfg.ResponseModality))},
	}
	if cfg.Voice != "" {
		config.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.SystemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser)
	}
	if cfg.InputAudioTranscription {
		config.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if cfg.OutputAudioTranscription {
		config.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return config
}

type liveConnection struct {
	session *genai.Session
	logger  *zap.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (c *liveConnection) SendAudio(chunk entities.AudioChunk) error {
	if c.closed.Load() {
		return errConnectionClosed
	}
	return c.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: chunk.Data, MIMEType: chunk.MIMEType()},
	})
}

func (c *liveConnection) Receive() (*repositories.LiveEvent, error) {
	msg, err := c.session.Receive()
	if err != nil {
		if c.closed.Load() || isNormalClose(err) {
			return nil, io.EOF
		}
		return nil, ClassifyError(err)
	}
	if msg.GoAway != nil {
		c.logger.Warn("Live session going away", zap.Any("timeLeft", msg.GoAway.TimeLeft))
	}
	return toLiveEvent(msg), nil
}

func (c *liveConnection) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.session.Close()
	})
	return c.closeErr
}

// toLiveEvent flattens a server message into a LiveEvent.
func toLiveEvent(msg *genai.LiveServerMessage) *repositories.LiveEvent {
	event := &repositories.LiveEvent{}
	content := msg.ServerContent
	if content == nil {
		return event
	}

	if content.InputTranscription != nil {
		event.InputTranscription = content.InputTranscription.Text
	}
	if content.OutputTranscription != nil {
		event.OutputTranscription = content.OutputTranscription.Text
	}
	event.TurnComplete = content.TurnComplete
	event.Interrupted = content.Interrupted

	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			if !strings.HasPrefix(part.InlineData.MIMEType, "audio/") {
				continue
			}
			event.Audio = append(event.Audio, entities.AudioChunk{
				Data:       part.InlineData.Data,
				SampleRate: pcm.ParseRate(part.InlineData.MIMEType, outputSampleRate),
				Channels:   1,
			})
		}
	}

	return event
}
