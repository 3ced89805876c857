package models

import (
	"context"
	"fmt"
)

// NewCompleter returns a concrete Completer for the named provider.
func NewCompleter(ctx context.Context, provider, model string) (Completer, error) {
	switch provider {
	case "openai":
		return NewOpenAILLM(model), nil
	case "gemini", "google":
		return NewGeminiLLM(ctx, model)
	case "ollama":
		return NewOllamaLLM(model)
	case "anthropic", "claude":
		return NewAnthropicLLM(model), nil
	case "dummy", "":
		return NewDummyLLM(""), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", provider)
	}
}
