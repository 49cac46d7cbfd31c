package gemini

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/satriahrh/sahayak/domain"
)

const notFoundText = "requested entity was not found"

// ClassifyError maps a live transport failure onto the domain taxonomy.
// Structured signals (API status codes, websocket close codes) are
// consulted first; message text is only a fallback.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}

	var se *domain.SessionError
	if errors.As(err, &se) {
		return se
	}

	if code, status, ok := apiStatus(err); ok {
		switch {
		case code == http.StatusForbidden || code == http.StatusUnauthorized || status == "PERMISSION_DENIED" || status == "UNAUTHENTICATED":
			return domain.NewAccessDeniedError(err)
		case code == http.StatusNotFound || status == "NOT_FOUND":
			return domain.NewConfigurationError(err)
		}
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == websocket.ClosePolicyViolation {
		if strings.Contains(strings.ToLower(closeErr.Text), notFoundText) {
			return domain.NewConfigurationError(err)
		}
		return domain.NewAccessDeniedError(err)
	}

	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, notFoundText):
		return domain.NewConfigurationError(err)
	case containsAny(text, "403", "forbidden", "permission", "billing"):
		return domain.NewAccessDeniedError(err)
	}

	return domain.NewTransportError(err)
}

// ClassifyChatError classifies failures of the text endpoint, which has
// its own messages for rejected keys, billing and network problems.
func ClassifyChatError(err error) error {
	if err == nil {
		return nil
	}

	var se *domain.SessionError
	if errors.As(err, &se) {
		return se
	}

	code, status, structured := apiStatus(err)
	text := strings.ToLower(err.Error())

	switch {
	case structured && code == http.StatusUnauthorized,
		containsAny(text, "401", "key not found", "api key not valid"):
		return domain.NewInvalidCredentialError(err)
	case structured && (code == http.StatusForbidden || status == "PERMISSION_DENIED"),
		containsAny(text, "403", "permission", "billing"):
		return &domain.SessionError{Kind: domain.ErrAccessDenied, Message: domain.MessagePaidTierRequired, Err: err}
	case isNetworkError(err), containsAny(text, "network error", "failed to fetch"):
		return &domain.SessionError{Kind: domain.ErrTransport, Message: domain.MessageChatTransport, Err: err}
	}

	return ClassifyError(err)
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}

func apiStatus(err error) (int, string, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Status, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, apiErrPtr.Status, true
	}
	return 0, "", false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// isNormalClose reports whether err is the remote side ending the session
// cleanly.
func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
