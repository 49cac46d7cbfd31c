// Package credential resolves the API key from a local override file
// first and the process environment second.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// EnvKeys are consulted in order when no override is stored.
var EnvKeys = []string{"API_KEY", "GEMINI_API_KEY"}

type overrideFile struct {
	APIKey string `json:"api_key"`
}

// Store is a CredentialStore backed by a JSON file readable only by the
// current user.
type Store struct {
	mu       sync.RWMutex
	path     string
	override string
	getenv   func(string) string
	logger   *zap.Logger
}

// Option configures a Store
type Option func(*Store)

// WithGetenv replaces os.Getenv.
func WithGetenv(fn func(string) string) Option {
	return func(s *Store) { s.getenv = fn }
}

// NewStore loads the override at path, if any. An empty path keeps the
// override in memory only.
func NewStore(path string, logger *zap.Logger, opts ...Option) (*Store, error) {
	s := &Store{path: path, getenv: os.Getenv, logger: logger}
	for _, opt := range opts {
		opt(s)
	}

	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential override: %w", err)
	}

	var f overrideFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse credential override %s: %w", path, err)
	}
	s.override = strings.TrimSpace(f.APIKey)
	return s, nil
}

// DefaultPath returns the override location under the user config dir.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "sahayak", "credential.json")
}

// IsPlaceholder reports whether v carries no usable credential.
func IsPlaceholder(v string) bool {
	switch strings.TrimSpace(v) {
	case "", "undefined", "null":
		return true
	}
	return false
}

// Resolve returns the override, then the first usable environment value.
func (s *Store) Resolve() string {
	s.mu.RLock()
	override := s.override
	s.mu.RUnlock()

	if !IsPlaceholder(override) {
		return override
	}
	for _, key := range EnvKeys {
		if v := strings.TrimSpace(s.getenv(key)); !IsPlaceholder(v) {
			return v
		}
	}
	return ""
}

// HasOverride reports whether a usable override is stored.
func (s *Store) HasOverride() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !IsPlaceholder(s.override)
}

// SetOverride persists key. An empty key removes the override.
func (s *Store) SetOverride(key string) error {
	key = strings.TrimSpace(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path != "" {
		if err := s.persist(key); err != nil {
			return err
		}
	}
	s.override = key
	s.logger.Info("Credential override updated", zap.Bool("cleared", key == ""))
	return nil
}

func (s *Store) persist(key string) error {
	if key == "" {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove credential override: %w", err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}

	data, err := json.Marshal(overrideFile{APIKey: key})
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credential override: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to store credential override: %w", err)
	}
	return nil
}
