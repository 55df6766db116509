// Package llm wraps chat-completion and embedding calls behind a single
// Client interface, selecting an implementation by
// internal/config.EmbeddingProvider. Calls retry with exponential backoff
// up to a configured cap.
package llm

import (
	"context"
	"time"
)

// Client is the provider-agnostic surface every LLM-backed component (pair
// verification, semantic resolution, extraction, categorization, term
// extraction, summarization) depends on.
type Client interface {
	// Embed returns one embedding vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Complete runs a single chat completion and returns the raw assistant
	// message content. Callers that need structured output parse the
	// result themselves via ParseJSONArrayLenient or ParseJSONObjectLenient.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Config is the subset of internal/config.Config an llm.Client needs.
type Config struct {
	Provider          string
	Dimension         int
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	AzureEmbeddingURL string
	AzureTenantID     string
	AzureClientID     string
	AzureClientSecret string
	Timeout           time.Duration
	MaxRetries        int
}

const (
	ProviderIntelli = "intelli"
	ProviderAzure   = "azure"
	ProviderNomic   = "nomic"
)

// embedder is the embedding-only surface the azure and nomic providers
// implement; neither serves chat completion.
type embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// splitClient routes Embed to the selected embedding provider and Complete
// to the intelli (OpenAI) chat client, so an azure or nomic deployment
// keeps the full chat-backed feature set.
type splitClient struct {
	embedder embedder
	chat     Client
}

func (s *splitClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return s.embedder.Embed(ctx, texts)
}

func (s *splitClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return s.chat.Complete(ctx, systemPrompt, userPrompt)
}

// New constructs the Client for cfg.Provider. Azure embeddings go through the
// OpenAI client with Azure AD auth, Nomic embeddings through a plain REST
// client for the Nomic Atlas API, so they get distinct constructors; chat
// completion always goes through the intelli
// (OpenAI) path — only embeddings are provider-selectable.
func New(cfg Config) (Client, error) {
	switch cfg.Provider {
	case ProviderAzure:
		emb, err := newAzureClient(cfg)
		if err != nil {
			return nil, err
		}
		chat, err := newIntelliClient(cfg)
		if err != nil {
			return nil, err
		}
		return &splitClient{embedder: emb, chat: chat}, nil
	case ProviderNomic:
		emb, err := newNomicClient(cfg)
		if err != nil {
			return nil, err
		}
		chat, err := newIntelliClient(cfg)
		if err != nil {
			return nil, err
		}
		return &splitClient{embedder: emb, chat: chat}, nil
	default:
		return newIntelliClient(cfg)
	}
}
