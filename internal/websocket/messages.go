package websocket

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/satriahrh/sahayak/domain/entities"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Inbound command types
const (
	MessageTypeStartSession     MessageType = "start_session"
	MessageTypeStopSession      MessageType = "stop_session"
	MessageTypeToggleMute       MessageType = "toggle_mute"
	MessageTypeSelectCredential MessageType = "select_credential"
	MessageTypeSetVoice         MessageType = "set_voice"
	MessageTypePing             MessageType = "ping"
)

// Outbound message types
const (
	MessageTypeSnapshot MessageType = "snapshot"
	MessageTypeMute     MessageType = "mute"
	MessageTypePong     MessageType = "pong"
	MessageTypeError    MessageType = "error"
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp"`
	MessageID string      `json:"message_id,omitempty"`
}

// StartSessionMessage starts a session, optionally under a new name
type StartSessionMessage struct {
	BaseMessage
	UserName string `json:"user_name,omitempty"`
}

// StopSessionMessage stops the current session
type StopSessionMessage struct {
	BaseMessage
}

// ToggleMuteMessage flips the microphone mute flag
type ToggleMuteMessage struct {
	BaseMessage
}

// SelectCredentialMessage stores an API key override and restarts
type SelectCredentialMessage struct {
	BaseMessage
	APIKey string `json:"api_key"`
}

// SetVoiceMessage changes the voice of the next session
type SetVoiceMessage struct {
	BaseMessage
	Voice string `json:"voice"`
}

// PingMessage represents a ping message for connection health check
type PingMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// SnapshotMessage carries the full live state
type SnapshotMessage struct {
	BaseMessage
	Snapshot entities.LiveSnapshot `json:"snapshot"`
}

// MuteMessage reports the mute flag after a toggle
type MuteMessage struct {
	BaseMessage
	Muted bool `json:"muted"`
}

// PongMessage represents a pong response
type PongMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// MessageValidator provides validation for WebSocket messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage validates an incoming message
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (interface{}, error) {
	// First parse as base message to get type
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch base.Type {
	case MessageTypeStartSession:
		var msg StartSessionMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid start message: %w", err)
		}
		return &msg, nil

	case MessageTypeStopSession:
		return &StopSessionMessage{BaseMessage: base}, nil

	case MessageTypeToggleMute:
		return &ToggleMuteMessage{BaseMessage: base}, nil

	case MessageTypeSelectCredential:
		var msg SelectCredentialMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid credential message: %w", err)
		}
		if strings.TrimSpace(msg.APIKey) == "" {
			return nil, fmt.Errorf("api_key is required")
		}
		return &msg, nil

	case MessageTypeSetVoice:
		var msg SetVoiceMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid voice message: %w", err)
		}
		if err := (entities.Profile{Voice: msg.Voice}).Validate(); err != nil {
			return nil, err
		}
		return &msg, nil

	case MessageTypePing:
		var msg PingMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid ping message: %w", err)
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

func newBase(t MessageType) BaseMessage {
	return BaseMessage{Type: t, Timestamp: time.Now().Format(time.RFC3339)}
}

// CreateSnapshotMessage wraps a snapshot for the UI
func CreateSnapshotMessage(snap entities.LiveSnapshot) *SnapshotMessage {
	if snap.Transcript == nil {
		snap.Transcript = []entities.TranscriptExchange{}
	}
	return &SnapshotMessage{BaseMessage: newBase(MessageTypeSnapshot), Snapshot: snap}
}

// CreateMuteMessage creates a mute state message
func CreateMuteMessage(muted bool) *MuteMessage {
	return &MuteMessage{BaseMessage: newBase(MessageTypeMute), Muted: muted}
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message, details string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: newBase(MessageTypeError),
		Code:        code,
		Message:     message,
		Details:     details,
	}
}

// CreatePongMessage creates a pong response message
func CreatePongMessage(data string) *PongMessage {
	return &PongMessage{BaseMessage: newBase(MessageTypePong), Data: data}
}
