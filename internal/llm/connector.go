// Package llm adapts langchaingo models to the generation and embedding
// collaborators the autopilot and reactivation code depend on.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/cohere"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/leadpilot/internal/apperr"
	"github.com/leadpilot/internal/config"
)

// Provider represents an AI provider type
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderGoogleAI  Provider = "googleai"
	ProviderAnthropic Provider = "anthropic"
	ProviderCohere    Provider = "cohere"
	ProviderOllama    Provider = "ollama"
)

const defaultOllamaURL = "http://localhost:11434"

// Generator produces text from already formed prompts
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
}

// Embedder turns text into a vector for similarity search
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// LangchainGenerator is a Generator backed by any langchaingo model
type LangchainGenerator struct {
	model       llms.Model
	provider    Provider
	modelName   string
	maxTokens   int
	temperature float64
}

// NewGenerator creates a generator for the configured provider
func NewGenerator(ctx context.Context, cfg config.LLMConfig) (*LangchainGenerator, error) {
	model, err := newModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create model for provider %s: %w", cfg.Provider, err)
	}
	log.Debug().
		Str("provider", cfg.Provider).
		Str("model", cfg.Model).
		Int("max_tokens", cfg.MaxTokens).
		Msg("LLM generator ready")
	return NewGeneratorFromModel(model, Provider(cfg.Provider), cfg.Model, cfg.MaxTokens, cfg.Temperature), nil
}

// NewGeneratorFromModel wraps an existing langchaingo model
func NewGeneratorFromModel(model llms.Model, provider Provider, modelName string, maxTokens int, temperature float64) *LangchainGenerator {
	return &LangchainGenerator{
		model:       model,
		provider:    provider,
		modelName:   modelName,
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

// Generate sends the system and user prompt as one chat turn
func (g *LangchainGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = g.maxTokens
	}
	opts := []llms.CallOption{llms.WithTemperature(g.temperature)}
	if maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(maxTokens))
	}
	// googleai ignores the default model on some versions
	if g.provider == ProviderGoogleAI && g.modelName != "" {
		opts = append(opts, llms.WithModel(g.modelName))
	}

	msgs := make([]llms.MessageContent, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt))
	}
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, userPrompt))

	resp, err := g.model.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		return "", apperr.External("llm.generate", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", apperr.External("llm.generate", fmt.Errorf("empty response from %s", g.provider))
	}
	text := strings.TrimSpace(resp.Choices[0].Content)
	if text == "" {
		return "", apperr.External("llm.generate", fmt.Errorf("blank completion from %s", g.provider))
	}
	return text, nil
}

func newModel(ctx context.Context, cfg config.LLMConfig) (llms.Model, error) {
	switch Provider(cfg.Provider) {
	case ProviderOpenAI:
		opts := []openai.Option{
			openai.WithModel(cfg.Model),
			openai.WithToken(cfg.APIKey),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	case ProviderGoogleAI:
		opts := []googleai.Option{googleai.WithAPIKey(cfg.APIKey)}
		if cfg.Model != "" {
			opts = append(opts, googleai.WithDefaultModel(cfg.Model))
		}
		if cfg.MaxTokens > 0 {
			opts = append(opts, googleai.WithDefaultMaxTokens(cfg.MaxTokens))
		}
		return googleai.New(ctx, opts...)
	case ProviderAnthropic:
		return anthropic.New(
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithModel(cfg.Model),
		)
	case ProviderCohere:
		opts := []cohere.Option{
			cohere.WithToken(cfg.APIKey),
			cohere.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, cohere.WithBaseURL(cfg.BaseURL))
		}
		return cohere.New(opts...)
	case ProviderOllama:
		url := cfg.BaseURL
		if url == "" {
			url = defaultOllamaURL
		}
		return ollama.New(
			ollama.WithServerURL(url),
			ollama.WithModel(cfg.Model),
		)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// LangchainEmbedder is an Embedder backed by a langchaingo embedding client
type LangchainEmbedder struct {
	embedder embeddings.Embedder
}

// NewEmbedder creates an embedder. Only providers with an embedding endpoint are supported.
func NewEmbedder(cfg config.LLMConfig) (*LangchainEmbedder, error) {
	var client embeddings.EmbedderClient
	var err error
	switch Provider(cfg.Provider) {
	case ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithEmbeddingModel(cfg.EmbeddingModel),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		client, err = openai.New(opts...)
	case ProviderOllama:
		url := cfg.BaseURL
		if url == "" {
			url = defaultOllamaURL
		}
		client, err = ollama.New(
			ollama.WithServerURL(url),
			ollama.WithModel(cfg.EmbeddingModel),
		)
	default:
		return nil, fmt.Errorf("provider %s has no embedding support", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	e, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return &LangchainEmbedder{embedder: e}, nil
}

// Embed returns the vector for text
func (e *LangchainEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, apperr.External("llm.embed", err)
	}
	return v, nil
}
