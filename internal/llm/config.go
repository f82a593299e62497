package llm

import (
	"fmt"
	"strings"
	"time"
)

// Config selects a vision provider.
type Config struct {
	Provider  string
	Model     string
	BaseURL   string
	Timeout   time.Duration
	MaxTokens int
}

// NewVisionClient creates the provider client named by cfg.Provider.
func NewVisionClient(cfg Config) (VisionClient, error) {
	switch strings.ToLower(cfg.Provider) {
	case "gemini", "":
		return newGeminiClient(cfg), nil
	case "openai":
		return newOpenAIClient(cfg), nil
	case "anthropic":
		return newAnthropicClient(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported vision provider: %s", cfg.Provider)
	}
}
