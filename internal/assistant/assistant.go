package assistant

import (
	"context"
	"fmt"
)

// Message is one chat turn sent to the language model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Assistant returns a single text completion for a message history.
// Its output is untrusted and must be validated by the caller.
type Assistant interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Config selects and configures a completion backend.
type Config struct {
	Backend     string // "openai" or "ollama"
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
}

// New returns the backend named by cfg.Backend.
func New(cfg Config) (Assistant, error) {
	switch cfg.Backend {
	case "", "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("assistant backend %q requires an API key", "openai")
		}
		c := NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.Temperature)
		if cfg.BaseURL != "" {
			c = c.WithBaseURL(cfg.BaseURL)
		}
		return c, nil
	case "ollama":
		return NewOllamaClient(cfg.BaseURL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown assistant backend %q", cfg.Backend)
	}
}
