package embedder

import (
	"testing"

	"github.com/semdex/semdex/config"
)

func TestNewFromConfig_Ollama(t *testing.T) {
	dim := 512
	e, err := NewFromConfig(config.EmbedderConfig{
		Provider:   "ollama",
		Model:      "nomic-embed-text",
		Endpoint:   "http://localhost:11434",
		Dimensions: &dim,
	})
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	if _, ok := e.(*OllamaEmbedder); !ok {
		t.Fatalf("expected *OllamaEmbedder, got %T", e)
	}
	if e.Dimensions() != 512 {
		t.Errorf("dimensions = %d, want 512", e.Dimensions())
	}
}

func TestNewFromConfig_OpenAI(t *testing.T) {
	e, err := NewFromConfig(config.EmbedderConfig{
		Provider: "openai",
		APIKey:   "sk-test",
	})
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	oa, ok := e.(*OpenAIEmbedder)
	if !ok {
		t.Fatalf("expected *OpenAIEmbedder, got %T", e)
	}
	if oa.endpoint != defaultOpenAIEndpoint {
		t.Errorf("endpoint = %s", oa.endpoint)
	}
}

func TestNewFromConfig_OpenRouterUsesItsEndpoint(t *testing.T) {
	e, err := NewFromConfig(config.EmbedderConfig{
		Provider: "openrouter",
		APIKey:   "sk-or-test",
	})
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	oa, ok := e.(*OpenAIEmbedder)
	if !ok {
		t.Fatalf("expected *OpenAIEmbedder, got %T", e)
	}
	if oa.endpoint != openRouterEndpoint {
		t.Errorf("endpoint = %s, want %s", oa.endpoint, openRouterEndpoint)
	}
}

func TestNewFromConfig_LMStudioNeedsNoKey(t *testing.T) {
	e, err := NewFromConfig(config.EmbedderConfig{Provider: "lmstudio"})
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	oa, ok := e.(*OpenAIEmbedder)
	if !ok {
		t.Fatalf("expected *OpenAIEmbedder, got %T", e)
	}
	if oa.endpoint != lmStudioEndpoint {
		t.Errorf("endpoint = %s, want %s", oa.endpoint, lmStudioEndpoint)
	}
}

func TestNewFromConfig_UnknownProvider(t *testing.T) {
	if _, err := NewFromConfig(config.EmbedderConfig{Provider: "bogus"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
