package usecase

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/sahayak/domain"
	"github.com/satriahrh/sahayak/domain/repositories"
)

// maxHistory bounds the history forwarded with a chat turn.
const maxHistory = 50

// ErrInvalidRole is returned for history entries that are neither user nor
// assistant messages.
var ErrInvalidRole = errors.New("invalid history role")

// ChatService handles the text chat wrapper
type ChatService struct {
	generator   repositories.TextGenerator
	credentials repositories.CredentialStore
	logger      *zap.Logger
}

// NewChatService creates a new chat service
func NewChatService(generator repositories.TextGenerator, credentials repositories.CredentialStore, logger *zap.Logger) *ChatService {
	return &ChatService{generator: generator, credentials: credentials, logger: logger}
}

// Reply returns a single-shot reply to request. Errors are classified as
// *domain.SessionError.
func (s *ChatService) Reply(ctx context.Context, request repositories.ChatRequest) (repositories.ChatMessage, error) {
	credential := s.credentials.Resolve()
	if credential == "" {
		return repositories.ChatMessage{}, domain.NewMissingCredentialError()
	}

	history := make([]repositories.ChatMessage, 0, len(request.History))
	for _, msg := range request.History {
		if msg.Role != repositories.UserRole && msg.Role != repositories.AssistantRole {
			return repositories.ChatMessage{}, ErrInvalidRole
		}
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		history = append(history, msg)
	}
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	request.History = history

	reply, err := s.generator.Generate(ctx, credential, request)
	if err != nil {
		s.logger.Error("Chat reply failed", zap.Error(err))
		return repositories.ChatMessage{}, domain.AsSessionError(err)
	}
	return reply, nil
}
