package entities

import (
	"errors"
	"strings"
)

// LiveState represents the connection state of a live voice session
type LiveState string

const (
	LiveStateIdle       LiveState = "idle"
	LiveStateConnecting LiveState = "connecting"
	LiveStateConnected  LiveState = "connected"
	LiveStateError      LiveState = "error"
)

// Voices supported by the remote live service.
var Voices = []string{"Kore", "Zephyr", "Puck", "Charon", "Fenrir"}

// DefaultVoice is used when no voice was selected.
const DefaultVoice = "Kore"

// Profile holds the per-user settings that shape a live session.
type Profile struct {
	UserName string `json:"user_name"`
	Voice    string `json:"voice"`
}

// Normalize trims the profile and fills defaults.
func (p Profile) Normalize() Profile {
	p.UserName = strings.TrimSpace(p.UserName)
	p.Voice = strings.TrimSpace(p.Voice)
	if p.Voice == "" {
		p.Voice = DefaultVoice
	}
	return p
}

// Validate validates the profile data
func (p Profile) Validate() error {
	for _, v := range Voices {
		if v == p.Voice {
			return nil
		}
	}
	return errors.New("unsupported voice: " + p.Voice)
}

// LiveSnapshot is the read-only state published to the UI after every change.
type LiveSnapshot struct {
	SessionID     string               `json:"session_id,omitempty"`
	State         LiveState            `json:"state"`
	Speaking      bool                 `json:"speaking"`
	Muted         bool                 `json:"muted"`
	ErrorKind     string               `json:"error_kind,omitempty"`
	ErrorMessage  string               `json:"error_message,omitempty"`
	Transcript    []TranscriptExchange `json:"transcript"`
	PartialInput  string               `json:"partial_input"`
	PartialOutput string               `json:"partial_output"`
}

// Active reports whether a session is connecting or connected.
func (s LiveSnapshot) Active() bool {
	return s.State == LiveStateConnecting || s.State == LiveStateConnected
}
