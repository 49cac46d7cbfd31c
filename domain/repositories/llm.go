package repositories

import "context"

// TextGenerator abstracts single-shot chat replies
type TextGenerator interface {
	// Generate returns the model's reply to message given the prior history
	Generate(ctx context.Context, credential string, request ChatRequest) (ChatMessage, error)
}

// ChatRequest is one chat turn with its history
type ChatRequest struct {
	UserName string        `json:"user_name"`
	Message  string        `json:"message"`
	History  []ChatMessage `json:"history"`
}

// ChatMessage represents a single message in a conversation
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role defines the type of message sender
type Role string

const (
	UserRole      Role = "user"
	AssistantRole Role = "assistant"
)
