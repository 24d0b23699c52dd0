package embedder

import (
	"fmt"
	"os"

	"github.com/semdex/semdex/config"
)

// Endpoints for OpenAI-compatible providers selected by name.
const (
	openRouterEndpoint = "https://openrouter.ai/api/v1"
	lmStudioEndpoint   = "http://localhost:1234/v1"
)

// NewFromConfig builds the embedder a config section describes. The
// openrouter and lmstudio providers reuse the OpenAI client with their own
// endpoints and key sources.
func NewFromConfig(cfg config.EmbedderConfig) (Embedder, error) {
	switch cfg.Provider {
	case "ollama":
		opts := []OllamaOption{
			WithOllamaEndpoint(cfg.Endpoint),
			WithOllamaModel(cfg.Model),
		}
		if cfg.Dimensions != nil {
			opts = append(opts, WithOllamaDimensions(*cfg.Dimensions))
		}
		return NewOllamaEmbedder(opts...), nil

	case "openai":
		return newOpenAICompatible(cfg, "", cfg.APIKey)

	case "openrouter":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("OPENROUTER_API_KEY")
		}
		return newOpenAICompatible(cfg, openRouterEndpoint, key)

	case "lmstudio":
		// LM Studio serves locally and ignores auth, but the client
		// requires a key to be set.
		key := cfg.APIKey
		if key == "" {
			key = "lm-studio"
		}
		e, err := newOpenAICompatible(cfg, lmStudioEndpoint, key)
		if err != nil {
			return nil, err
		}
		return e, nil

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}

func newOpenAICompatible(cfg config.EmbedderConfig, defaultEndpoint, apiKey string) (Embedder, error) {
	opts := []OpenAIOption{
		WithOpenAIEndpoint(defaultEndpoint),
		WithOpenAIEndpoint(cfg.Endpoint),
		WithOpenAIModel(cfg.Model),
		WithOpenAIKey(apiKey),
		WithOpenAIParallelism(cfg.Parallelism),
	}
	if cfg.Dimensions != nil {
		opts = append(opts, WithOpenAIDimensions(*cfg.Dimensions))
	}
	return NewOpenAIEmbedder(opts...)
}
