// Package gemini adapts the Gemini API to the live and chat ports.
package gemini

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Clients caches one genai client per API key. The key can change at
// runtime when the user selects another one.
type Clients struct {
	logger  *zap.Logger
	mu      sync.Mutex
	clients map[string]*genai.Client
}

// NewClients creates an empty client cache
func NewClients(logger *zap.Logger) *Clients {
	return &Clients{
		logger:  logger,
		clients: make(map[string]*genai.Client),
	}
}

// Get returns the client for apiKey, creating it on first use.
func (c *Clients) Get(ctx context.Context, apiKey string) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[apiKey]; ok {
		return client, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	c.clients[apiKey] = client
	c.logger.Info("Gemini client created", zap.Int("cachedClients", len(c.clients)))
	return client, nil
}
