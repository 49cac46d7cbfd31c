package domain

import (
	"errors"
	"strings"
)

// Error kinds of a live session. Every kind is terminal for the current
// session; the user has to start again.
var (
	ErrMissingCredential = errors.New("missing credential")
	ErrDevice            = errors.New("audio device unavailable")
	ErrAccessDenied      = errors.New("access denied")
	ErrConfiguration     = errors.New("configuration error")
	ErrTransport         = errors.New("transport error")
)

// ErrSessionCanceled is returned by Start when the session was stopped or
// replaced while it was still being set up.
var ErrSessionCanceled = errors.New("session canceled")

// ErrNotConnected is returned by commands that need a connected session.
var ErrNotConnected = errors.New("session not connected")

const (
	MessageMissingCredential = "No API Key detected. Please provide a key with billing enabled."
	MessageAccessDenied      = "Paid API Key Required: Gemini Live models do not support the Free Tier. Please ensure your project has billing enabled in Google AI Studio."
	MessageConfiguration     = "Model configuration error or invalid project. Please re-select your API key."
	MessageTransport         = "Neural link failure. Check your internet connection."
	MessageInvalidCredential = "Invalid API Key. Please update your settings."
	MessagePaidTierRequired  = "Paid Tier Required: This model requires an API key from a project with billing enabled in AI Studio."
	MessageChatTransport     = "Neural link interrupted. Please check your internet connection."
)

// SessionError is a classified failure carrying the message shown to the user.
type SessionError struct {
	Kind    error
	Message string
	Err     error
}

func (e *SessionError) Error() string {
	if e.Err != nil {
		return e.Kind.Error() + ": " + e.Err.Error()
	}
	return e.Kind.Error()
}

func (e *SessionError) Unwrap() error { return e.Err }

// Is matches the error kind, so errors.Is(err, ErrDevice) works.
func (e *SessionError) Is(target error) bool { return target == e.Kind }

// KindName returns a short label for the kind, used in logs and metrics.
func KindName(kind error) string {
	switch kind {
	case ErrMissingCredential:
		return "missing_credential"
	case ErrDevice:
		return "device"
	case ErrAccessDenied:
		return "access_denied"
	case ErrConfiguration:
		return "configuration"
	default:
		return "transport"
	}
}

// NewMissingCredentialError reports that no usable credential is configured.
func NewMissingCredentialError() *SessionError {
	return &SessionError{Kind: ErrMissingCredential, Message: MessageMissingCredential}
}

// NewDeviceError wraps a microphone or speaker acquisition failure.
func NewDeviceError(err error) *SessionError {
	msg := "Microphone unavailable"
	if err != nil {
		msg += ": " + err.Error()
	}
	return &SessionError{Kind: ErrDevice, Message: msg, Err: err}
}

// NewAccessDeniedError reports a permission, billing or forbidden condition.
func NewAccessDeniedError(err error) *SessionError {
	return &SessionError{Kind: ErrAccessDenied, Message: MessageAccessDenied, Err: err}
}

// NewInvalidCredentialError reports a key the remote service rejected outright.
func NewInvalidCredentialError(err error) *SessionError {
	return &SessionError{Kind: ErrAccessDenied, Message: MessageInvalidCredential, Err: err}
}

// NewConfigurationError reports an unknown model or project.
func NewConfigurationError(err error) *SessionError {
	return &SessionError{Kind: ErrConfiguration, Message: MessageConfiguration, Err: err}
}

// NewTransportError reports a generic network failure.
func NewTransportError(err error) *SessionError {
	msg := MessageTransport
	if err != nil && strings.TrimSpace(err.Error()) != "" {
		msg = err.Error()
	}
	return &SessionError{Kind: ErrTransport, Message: msg, Err: err}
}

// AsSessionError returns err as a *SessionError, classifying anything
// unknown as a transport failure.
func AsSessionError(err error) *SessionError {
	var se *SessionError
	if errors.As(err, &se) {
		return se
	}
	return NewTransportError(err)
}
