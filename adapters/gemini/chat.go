package gemini

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/sahayak/domain"
	"github.com/satriahrh/sahayak/domain/repositories"
)

const (
	defaultChatModel      = "gemini-3-pro-preview"
	defaultTemperature    = 0.8
	defaultTimeoutSeconds = 60
)

const (
	chatInstructionTemplate = `Your name is 'Sahayak'. You are a high-performance personal AI assistant created by Kunj.

RULES:
1. Respond in Hindi if the user speaks Hindi, English if they speak English.
2. ALWAYS identify as being 'made by Kunj' (कुंज द्वारा बनाया गया) if greeted or asked who you are.
3. Be friendly and intelligent.
4. User Name: %s.`

	defaultMessage = "Hello!"
	emptyReply     = "No response received."
)

// ChatConfig holds the text chat settings
type ChatConfig struct {
	Model          string  `yaml:"model"`
	Temperature    float32 `yaml:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// ValidateChatConfig validates the ChatConfig
func ValidateChatConfig(config ChatConfig) error {
	if config.Temperature != 0 && (config.Temperature < 0 || config.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", config.Temperature)
	}
	if config.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must be positive, got %d", config.TimeoutSeconds)
	}
	return nil
}

// ChatGenerator implements repositories.TextGenerator with a single
// GenerateContent call per message. It does not retry.
type ChatGenerator struct {
	clients     *Clients
	logger      *zap.Logger
	model       string
	temperature float32
	timeout     time.Duration
}

// NewChatGenerator applies defaults to config and creates the generator
func NewChatGenerator(clients *Clients, config ChatConfig, logger *zap.Logger) (*ChatGenerator, error) {
	if err := ValidateChatConfig(config); err != nil {
		return nil, err
	}

	model := config.Model
	if model == "" {
		model = defaultChatModel
		logger.Info("Using default chat model", zap.String("model", model))
	}

	temperature := config.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}

	timeoutSeconds := config.TimeoutSeconds
	if timeoutSeconds == 0 {
		timeoutSeconds = defaultTimeoutSeconds
	}

	return &ChatGenerator{
		clients:     clients,
		logger:      logger,
		model:       model,
		temperature: temperature,
		timeout:     time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// Generate sends the history plus the new message and returns the reply.
func (g *ChatGenerator) Generate(ctx context.Context, credential string, request repositories.ChatRequest) (repositories.ChatMessage, error) {
	if strings.TrimSpace(credential) == "" {
		return repositories.ChatMessage{}, domain.NewMissingCredentialError()
	}

	client, err := g.clients.Get(ctx, credential)
	if err != nil {
		return repositories.ChatMessage{}, ClassifyChatError(err)
	}

	message := request.Message
	if strings.TrimSpace(message) == "" {
		message = defaultMessage
	}
	contents := convertHistory(request.History)
	contents = append(contents, genai.NewContentFromText(message, genai.RoleUser))

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(chatInstruction(request.UserName), genai.RoleUser),
		Temperature:       genai.Ptr(g.temperature),
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	response, err := client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		g.logger.Error("Failed to generate chat reply", zap.String("model", g.model), zap.Error(err))
		return repositories.ChatMessage{}, ClassifyChatError(err)
	}

	text := responseText(response)
	if text == "" {
		g.logger.Warn("Empty chat reply", zap.String("model", g.model))
		text = emptyReply
	}

	g.logger.Info("Chat message processed",
		zap.Int("historyLength", len(request.History)),
		zap.Int("replyLength", len(text)))

	return repositories.ChatMessage{Role: repositories.AssistantRole, Content: text}, nil
}

func chatInstruction(userName string) string {
	return fmt.Sprintf(chatInstructionTemplate, strings.TrimSpace(userName))
}

// responseText concatenates the text parts of the first candidate.
func responseText(response *genai.GenerateContentResponse) string {
	if response == nil || len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return ""
	}
	var text strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			text.WriteString(part.Text)
		}
	}
	return text.String()
}

// convertHistory converts chat messages to Gemini contents, skipping
// empty ones.
func convertHistory(messages []repositories.ChatMessage) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages)+1)
	for _, msg := range messages {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		var role genai.Role = genai.RoleUser
		if msg.Role == repositories.AssistantRole {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	return contents
}
