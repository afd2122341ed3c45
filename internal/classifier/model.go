package classifier

import (
	"context"
	"fmt"
	"time"
)

// Model produces a completion for a prompt. Implementations wrap one LLM
// provider's HTTP API and translate transport failures into
// ErrModelUnavailable.
type Model interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// ModelConfig selects and configures the LLM provider.
type ModelConfig struct {
	Provider      string // "ollama", "gemini" or "none"
	OllamaBaseURL string
	OllamaModel   string
	GeminiAPIKey  string
	GeminiModel   string
	Timeout       time.Duration
}

// NewModel builds the configured provider. Provider "none" returns a nil
// Model, which makes the classifier keyword-only.
func NewModel(cfg ModelConfig) (Model, error) {
	switch cfg.Provider {
	case "ollama":
		return newOllama(cfg.OllamaBaseURL, cfg.OllamaModel, cfg.Timeout), nil
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("gemini provider requires an API key")
		}
		return newGemini(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.Timeout), nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
