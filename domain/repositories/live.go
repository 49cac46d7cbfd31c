package repositories

import (
	"context"

	"github.com/satriahrh/sahayak/domain/entities"
)

// LiveConfig is sent once when a live connection is opened.
type LiveConfig struct {
	Model                    string
	ResponseModality         string
	InputAudioTranscription  bool
	OutputAudioTranscription bool
	Voice                    string
	SystemInstruction        string
}

// LiveConnector opens bidirectional sessions with the remote service
type LiveConnector interface {
	// Connect performs the handshake and returns once the session is open.
	Connect(ctx context.Context, credential string, config LiveConfig) (LiveConnection, error)
}

// LiveConnection is one open bidirectional session.
type LiveConnection interface {
	// SendAudio streams one captured chunk.
	SendAudio(chunk entities.AudioChunk) error
	// Receive blocks for the next server event. It returns io.EOF once the
	// remote side closed the session normally.
	Receive() (*LiveEvent, error)
	// Close ends the session. Safe to call more than once.
	Close() error
}

// LiveEvent is one inbound server message. Fields are independent and may
// be set together.
type LiveEvent struct {
	InputTranscription  string
	OutputTranscription string
	Audio               []entities.AudioChunk
	TurnComplete        bool
	Interrupted         bool
}
