package entities

import "time"

// MessageRole represents the role of a transcript line
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// TranscriptExchange is one finalized turn: what the user said and what the
// assistant answered.
type TranscriptExchange struct {
	ID          string    `json:"id"`
	Position    int       `json:"position"`
	Input       string    `json:"input"`
	Output      string    `json:"output"`
	CompletedAt time.Time `json:"completed_at"`
}

// TranscriptLine is a single rendered bubble.
type TranscriptLine struct {
	ID   string      `json:"id"`
	Role MessageRole `json:"role"`
	Text string      `json:"text"`
}

// Lines flattens the exchange into user/assistant lines, skipping empty sides.
func (e TranscriptExchange) Lines() []TranscriptLine {
	lines := make([]TranscriptLine, 0, 2)
	if e.Input != "" {
		lines = append(lines, TranscriptLine{ID: "u-" + e.ID, Role: MessageRoleUser, Text: e.Input})
	}
	if e.Output != "" {
		lines = append(lines, TranscriptLine{ID: "a-" + e.ID, Role: MessageRoleAssistant, Text: e.Output})
	}
	return lines
}
