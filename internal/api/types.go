package api

import (
	"time"

	"github.com/satriahrh/sahayak/domain/repositories"
)

// AuthRequest captures the user's name at sign-in
type AuthRequest struct {
	Name  string `json:"name" validate:"required"`
	Voice string `json:"voice,omitempty"`
}

// AuthResponse represents the response payload for sign-in. Token is empty
// when authentication is disabled.
type AuthResponse struct {
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	UserName  string     `json:"user_name"`
	Voice     string     `json:"voice"`
}

// VoiceRequest selects the voice of the next session
type VoiceRequest struct {
	Voice string `json:"voice" validate:"required"`
}

// CredentialRequest stores an API key override
type CredentialRequest struct {
	APIKey string `json:"api_key" validate:"required"`
}

// MuteResponse reports the mute flag after a toggle
type MuteResponse struct {
	Muted bool `json:"muted"`
}

// ChatRequest is one text chat turn
type ChatRequest struct {
	Message string                     `json:"message"`
	History []repositories.ChatMessage `json:"history"`
}

// ChatResponse carries the assistant's reply
type ChatResponse struct {
	Reply repositories.ChatMessage `json:"reply"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
